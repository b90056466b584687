// Package whatsapp adapts a single WhatsApp multi-device session to the
// outbound.ChannelCore surface (spec.md §4.3), backed by whatsmeow.
package whatsapp

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.mau.fi/whatsmeow"
	waProto "go.mau.fi/whatsmeow/binary/proto"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	waLog "go.mau.fi/whatsmeow/util/log"

	"github.com/crypdick/pynchy/pkg/config"
	"github.com/crypdick/pynchy/pkg/models"
	_ "modernc.org/sqlite" // registers the "sqlite" database/sql driver, shared with pkg/store
)

// slogAdapter routes whatsmeow's own logger interface through slog, matching every other
// package's logging idiom instead of whatsmeow's default stdlib logger.
type slogAdapter struct{ logger *slog.Logger }

func (l slogAdapter) Errorf(msg string, args ...interface{}) { l.logger.Error(fmt.Sprintf(msg, args...)) }
func (l slogAdapter) Warnf(msg string, args ...interface{})  { l.logger.Warn(fmt.Sprintf(msg, args...)) }
func (l slogAdapter) Infof(msg string, args ...interface{})  { l.logger.Info(fmt.Sprintf(msg, args...)) }
func (l slogAdapter) Debugf(msg string, args ...interface{}) { l.logger.Debug(fmt.Sprintf(msg, args...)) }
func (l slogAdapter) Sub(module string) waLog.Logger         { return slogAdapter{l.logger.With("module", module)} }

// Config holds one named [connections.whatsapp.<name>] connection.
type Config struct {
	Name       string
	AuthDBPath string
	Chats      map[string]config.ChatOverride
}

// InboundHandler receives one chat message observed from the WhatsApp event stream.
type InboundHandler func(models.Message)

// Channel is a live whatsmeow-backed WhatsApp connection.
type Channel struct {
	name   string
	client *whatsmeow.Client
	chats  map[string]config.ChatOverride
	onRecv InboundHandler
	logger *slog.Logger

	typingMu   sync.Mutex
	typingStop map[string]chan struct{}
}

func channelName(connectionName string) string {
	if connectionName == "" {
		return "whatsapp"
	}
	return "whatsapp:" + connectionName
}

// Connect opens (or creates) the persistent device store at cfg.AuthDBPath and returns a
// Channel ready to Run. The device must already be paired (see Pair); an unpaired store
// returns an error rather than blocking on a QR scan.
func Connect(ctx context.Context, cfg Config, onRecv InboundHandler) (*Channel, error) {
	logger := slog.Default().With("component", "channel-whatsapp", "connection", cfg.Name)

	if err := os.MkdirAll(filepath.Dir(cfg.AuthDBPath), 0o700); err != nil {
		return nil, fmt.Errorf("whatsapp auth db directory: %w", err)
	}

	container, err := sqlstore.New(ctx, "sqlite", "file:"+cfg.AuthDBPath+"?_foreign_keys=on", slogAdapter{logger})
	if err != nil {
		return nil, fmt.Errorf("whatsapp device store: %w", err)
	}
	device, err := container.GetFirstDevice(ctx)
	if err != nil {
		return nil, fmt.Errorf("whatsapp device: %w", err)
	}

	client := whatsmeow.NewClient(device, slogAdapter{logger})
	if client.Store.ID == nil {
		return nil, fmt.Errorf("whatsapp connection %q is not paired; run the pairing flow first", cfg.Name)
	}

	ch := &Channel{
		name: channelName(cfg.Name), client: client, chats: cfg.Chats, onRecv: onRecv,
		logger: logger, typingStop: make(map[string]chan struct{}),
	}
	client.AddEventHandler(ch.handleEvent)
	return ch, nil
}

// Run connects to WhatsApp and blocks until ctx is cancelled.
func (c *Channel) Run(ctx context.Context) error {
	if err := c.client.Connect(); err != nil {
		return fmt.Errorf("whatsapp connect: %w", err)
	}
	<-ctx.Done()
	c.stopAllTyping()
	c.client.Disconnect()
	return nil
}

// Name implements outbound.ChannelCore.
func (c *Channel) Name() string { return c.name }

// SendMessage implements outbound.ChannelCore.
func (c *Channel) SendMessage(ctx context.Context, chatJID, text string) (string, error) {
	recipient, err := types.ParseJID(chatJID)
	if err != nil {
		return "", fmt.Errorf("whatsapp invalid chat jid %s: %w", chatJID, err)
	}
	c.stopTyping(chatJID)

	msg := &waProto.Message{Conversation: &text}
	resp, err := c.client.SendMessage(ctx, recipient, msg)
	if err != nil {
		return "", fmt.Errorf("whatsapp send to %s: %w", chatJID, err)
	}
	return resp.ID, nil
}

// OutboundAllowed implements outbound.ChannelCore.
func (c *Channel) OutboundAllowed(chatJID string) bool {
	if o, ok := c.chats[chatJID]; ok {
		return o.Access != "none"
	}
	return true
}

// OwnsJID implements outbound.ChannelCore.
func (c *Channel) OwnsJID(chatJID string) bool {
	_, ok := c.chats[chatJID]
	return ok
}

// React implements outbound.Reactor.
func (c *Channel) React(ctx context.Context, chatJID, messageID, emoji string) error {
	recipient, err := types.ParseJID(chatJID)
	if err != nil {
		return fmt.Errorf("whatsapp invalid chat jid %s: %w", chatJID, err)
	}
	msg := c.client.BuildReaction(recipient, c.client.Store.ID.ToNonAD(), types.MessageID(messageID), emoji)
	if _, err := c.client.SendMessage(ctx, recipient, msg); err != nil {
		return fmt.Errorf("whatsapp react %s/%s: %w", chatJID, messageID, err)
	}
	return nil
}

func (c *Channel) handleEvent(evt interface{}) {
	switch v := evt.(type) {
	case *events.Connected, *events.PushNameSetting:
		if err := c.client.SendPresence(context.Background(), types.PresenceAvailable); err != nil {
			c.logger.Warn("failed to send available presence", "error", err)
		}
	case *events.Message:
		c.handleMessage(v)
	}
}

func (c *Channel) handleMessage(msg *events.Message) {
	if msg.Info.IsFromMe || c.onRecv == nil {
		return
	}
	content := messageText(msg)
	if content == "" {
		return
	}
	_ = c.client.MarkRead(context.Background(), []types.MessageID{msg.Info.ID}, msg.Info.Timestamp, msg.Info.Chat, msg.Info.Sender)
	c.startTyping(msg.Info.Chat)

	c.onRecv(models.Message{
		ID: msg.Info.ID, ChatJID: msg.Info.Chat.String(), Sender: msg.Info.Sender.User,
		Content: strings.TrimSpace(content), Timestamp: msg.Info.Timestamp,
		MessageType: models.MessageTypeUser,
	})
}

func messageText(msg *events.Message) string {
	if msg.Message.Conversation != nil {
		return *msg.Message.Conversation
	}
	if msg.Message.ExtendedTextMessage != nil && msg.Message.ExtendedTextMessage.Text != nil {
		return *msg.Message.ExtendedTextMessage.Text
	}
	return ""
}

// startTyping begins a continuous "composing" presence, auto-expiring after 5 minutes.
func (c *Channel) startTyping(jid types.JID) {
	key := jid.String()
	c.typingMu.Lock()
	if stop, ok := c.typingStop[key]; ok {
		close(stop)
	}
	stop := make(chan struct{})
	c.typingStop[key] = stop
	c.typingMu.Unlock()

	go func() {
		_ = c.client.SendChatPresence(context.Background(), jid, types.ChatPresenceComposing, types.ChatPresenceMediaText)
		ticker := time.NewTicker(8 * time.Second)
		defer ticker.Stop()
		timeout := time.NewTimer(5 * time.Minute)
		defer timeout.Stop()
		for {
			select {
			case <-stop:
				_ = c.client.SendChatPresence(context.Background(), jid, types.ChatPresencePaused, types.ChatPresenceMediaText)
				return
			case <-timeout.C:
				return
			case <-ticker.C:
				_ = c.client.SendChatPresence(context.Background(), jid, types.ChatPresenceComposing, types.ChatPresenceMediaText)
			}
		}
	}()
}

func (c *Channel) stopTyping(chatID string) {
	c.typingMu.Lock()
	defer c.typingMu.Unlock()
	if stop, ok := c.typingStop[chatID]; ok {
		close(stop)
		delete(c.typingStop, chatID)
	}
}

func (c *Channel) stopAllTyping() {
	c.typingMu.Lock()
	defer c.typingMu.Unlock()
	for _, stop := range c.typingStop {
		close(stop)
	}
	c.typingStop = make(map[string]chan struct{})
}
