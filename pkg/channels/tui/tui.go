// Package tui implements the local terminal channel (spec.md §4.9's admin-group-creation
// fallback). The TUI client proper — the interactive terminal UI a human runs to talk to the
// host over HTTP — is named in spec.md's Non-goals, so this package only supplies the minimal
// local Channel the host itself can register when no messaging platform is configured yet
// (first-run admin workspace). The `pynchy tui` subcommand does not use this package; it is a
// separate HTTP/SSE client in cmd/pynchy.
package tui

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/crypdick/pynchy/pkg/models"
)

// ChatJID is the single, fixed chat identity of the local terminal channel — there is only
// ever one local operator, so there is no per-chat access model to configure.
const ChatJID = "local:tui"

// InboundHandler receives one line typed at the terminal as a chat message.
type InboundHandler func(models.Message)

// Channel is a minimal stdin/stdout ChannelCore: everything written via SendMessage goes to
// out, and every line read from in is delivered to the InboundHandler as a message from
// ChatJID.
type Channel struct {
	in     *bufio.Scanner
	out    io.Writer
	onRecv InboundHandler

	mu       sync.Mutex
	outSeq   int
	inSeq    int
}

// New builds a Channel reading lines from in and writing replies to out.
func New(in io.Reader, out io.Writer, onRecv InboundHandler) *Channel {
	return &Channel{in: bufio.NewScanner(in), out: out, onRecv: onRecv}
}

// Name implements outbound.ChannelCore.
func (c *Channel) Name() string { return "tui" }

// SendMessage implements outbound.ChannelCore.
func (c *Channel) SendMessage(ctx context.Context, chatJID, text string) (string, error) {
	c.mu.Lock()
	c.outSeq++
	id := fmt.Sprintf("tui-out-%d", c.outSeq)
	c.mu.Unlock()

	if _, err := fmt.Fprintf(c.out, "%s\n", text); err != nil {
		return "", fmt.Errorf("tui write: %w", err)
	}
	return id, nil
}

// OutboundAllowed implements outbound.ChannelCore: the local operator always receives
// everything addressed to them.
func (c *Channel) OutboundAllowed(chatJID string) bool { return chatJID == ChatJID }

// OwnsJID implements outbound.ChannelCore.
func (c *Channel) OwnsJID(chatJID string) bool { return chatJID == ChatJID }

// Run reads lines from stdin until ctx is cancelled or the input is exhausted, delivering
// each non-empty line to the InboundHandler.
func (c *Channel) Run(ctx context.Context) error {
	lines := make(chan string)
	go func() {
		defer close(lines)
		for c.in.Scan() {
			lines <- c.in.Text()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return c.in.Err()
			}
			line = strings.TrimSpace(line)
			if line == "" || c.onRecv == nil {
				continue
			}
			c.mu.Lock()
			c.inSeq++
			id := fmt.Sprintf("tui-in-%d", c.inSeq)
			c.mu.Unlock()
			c.onRecv(models.Message{
				ID: id, ChatJID: ChatJID, Sender: "operator",
				Content: line, Timestamp: time.Now().UTC(), MessageType: models.MessageTypeUser,
			})
		}
	}
}
