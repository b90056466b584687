package outbound

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/crypdick/pynchy/pkg/models"
	"github.com/crypdick/pynchy/pkg/store"
	"github.com/google/uuid"
)

// AccessChecker reports whether outbound delivery to chatJID is currently allowed — wired to
// the cascaded workspace access mode, mirroring pkg/router's own access gate.
type AccessChecker func(chatJID string) bool

// Bus is the single call site every subsystem uses to send chat messages: Broadcast,
// BroadcastWithOptions, and FinalizeStreamOrBroadcast all fan out to every connected channel.
type Bus struct {
	store *store.Client

	mu       sync.RWMutex
	channels map[string]ChannelCore

	outboundAllowed AccessChecker
}

// New builds a Bus with no channels registered; call Register for each connected channel.
func New(cli *store.Client, outboundAllowed AccessChecker) *Bus {
	if outboundAllowed == nil {
		outboundAllowed = func(string) bool { return true }
	}
	return &Bus{store: cli, channels: make(map[string]ChannelCore), outboundAllowed: outboundAllowed}
}

// Register attaches a connected channel under its own name.
func (b *Bus) Register(ch ChannelCore) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.channels[ch.Name()] = ch
}

func (b *Bus) snapshotChannels() []ChannelCore {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]ChannelCore, 0, len(b.channels))
	for _, ch := range b.channels {
		out = append(out, ch)
	}
	return out
}

// BroadcastOptions customizes one Broadcast call.
type BroadcastOptions struct {
	SuppressErrors bool
	SkipChannel    string
	Source         string
}

// Broadcast implements router.OutboundBus: a plain 4-argument send with default options,
// source carried through as the ledger's Source column.
func (b *Bus) Broadcast(ctx context.Context, chatJID, text, source string) error {
	return b.BroadcastWithOptions(ctx, chatJID, text, BroadcastOptions{Source: source})
}

// BroadcastWithOptions implements the full bus contract (spec.md §4.3): for every connected
// channel (except SkipChannel), check outbound-allowed access, resolve the channel-native JID
// (alias, else canonical), send, and record to the ledger. If the ledger write itself fails,
// the send still goes out fire-and-forget rather than blocking delivery on logging.
func (b *Bus) BroadcastWithOptions(ctx context.Context, chatJID, text string, opts BroadcastOptions) error {
	entry := models.OutboundLedgerEntry{
		ID: uuid.NewString(), ChatJID: chatJID, Content: text,
		Timestamp: time.Now().UTC(), Source: opts.Source,
	}
	ledgerErr := b.store.InsertOutboundLedgerEntry(ctx, entry)
	if ledgerErr != nil {
		slog.Error("outbound ledger write failed; continuing fire-and-forget", "error", ledgerErr)
	}

	var firstErr error
	for _, ch := range b.snapshotChannels() {
		if ch.Name() == opts.SkipChannel {
			continue
		}
		if !b.outboundAllowed(chatJID) || !ch.OutboundAllowed(chatJID) {
			continue
		}
		target := b.resolveTarget(ctx, ch, chatJID)
		sendText := text
		if f, ok := ch.(Formatter); ok {
			sendText = f.FormatMarkup(text)
		}

		_, err := ch.SendMessage(ctx, target, sendText)
		if ledgerErr == nil {
			delivery := models.OutboundDelivery{LedgerID: entry.ID, ChannelName: ch.Name()}
			if err != nil {
				delivery.Error = err.Error()
			} else {
				now := time.Now().UTC()
				delivery.DeliveredAt = &now
			}
			if recErr := b.store.RecordDeliveryAttempt(ctx, delivery); recErr != nil {
				slog.Error("outbound delivery record failed", "error", recErr)
			}
		}
		if err != nil {
			slog.Error("outbound send failed", "channel", ch.Name(), "chat_jid", chatJID, "error", err)
			if !opts.SuppressErrors && firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// resolveTarget returns the chat-native JID ch should send to: the registered alias for this
// channel if one exists, else the channel's owns_jid fallback, else chatJID itself.
func (b *Bus) resolveTarget(ctx context.Context, ch ChannelCore, chatJID string) string {
	if alias, ok, err := b.store.AliasForChannel(ctx, chatJID, ch.Name()); err == nil && ok {
		return alias
	}
	if ch.OwnsJID(chatJID) {
		return chatJID
	}
	return chatJID
}

// FinalizeStreamOrBroadcast updates in-place any channel that was mid-stream (present in
// streamMessageIDs) via UpdateMessage, falling back to a fresh send on failure; every other
// connected channel gets the normal broadcast+ledger path. One ledger entry covers the whole
// call regardless of how many channels were mid-stream.
func (b *Bus) FinalizeStreamOrBroadcast(ctx context.Context, chatJID, text string, streamMessageIDs map[string]string, source string) error {
	entry := models.OutboundLedgerEntry{
		ID: uuid.NewString(), ChatJID: chatJID, Content: text,
		Timestamp: time.Now().UTC(), Source: source,
	}
	ledgerErr := b.store.InsertOutboundLedgerEntry(ctx, entry)
	if ledgerErr != nil {
		slog.Error("outbound ledger write failed; continuing fire-and-forget", "error", ledgerErr)
	}

	var firstErr error
	for _, ch := range b.snapshotChannels() {
		if !ch.OutboundAllowed(chatJID) {
			continue
		}
		target := b.resolveTarget(ctx, ch, chatJID)

		var sendErr error
		if msgID, streaming := streamMessageIDs[ch.Name()]; streaming {
			if updater, ok := ch.(StreamUpdater); ok {
				if sendErr = updater.UpdateMessage(ctx, target, msgID, text); sendErr != nil {
					slog.Error("stream finalize update failed; falling back to send", "channel", ch.Name(), "error", sendErr)
					_, sendErr = ch.SendMessage(ctx, target, text)
				}
			} else {
				_, sendErr = ch.SendMessage(ctx, target, text)
			}
		} else {
			_, sendErr = ch.SendMessage(ctx, target, text)
		}

		if ledgerErr == nil {
			delivery := models.OutboundDelivery{LedgerID: entry.ID, ChannelName: ch.Name()}
			if sendErr != nil {
				delivery.Error = sendErr.Error()
			} else {
				now := time.Now().UTC()
				delivery.DeliveredAt = &now
			}
			if recErr := b.store.RecordDeliveryAttempt(ctx, delivery); recErr != nil {
				slog.Error("outbound delivery record failed", "error", recErr)
			}
		}
		if sendErr != nil && firstErr == nil {
			firstErr = sendErr
		}
	}
	return firstErr
}

// React forwards an emoji reaction to every connected channel that supports it, best-effort.
func (b *Bus) React(ctx context.Context, chatJID, messageID, emoji string) error {
	var firstErr error
	for _, ch := range b.snapshotChannels() {
		r, ok := ch.(Reactor)
		if !ok {
			continue
		}
		target := b.resolveTarget(ctx, ch, chatJID)
		if err := r.React(ctx, target, messageID, emoji); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
