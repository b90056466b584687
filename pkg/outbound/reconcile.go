package outbound

import (
	"context"
	"log/slog"
	"time"

	"github.com/crypdick/pynchy/pkg/models"
)

// Reconcile runs the inbound-fetch and outbound-retry sweep (spec.md §4.3). It is run once at
// boot and then periodically from the message loop.
func (b *Bus) Reconcile(ctx context.Context) {
	b.reconcileInbound(ctx)
	b.reconcileOutboundRetries(ctx)
}

// reconcileInbound asks every channel that supports InboundFetcher for messages since its
// last cursor, for every registered workspace, merge-inserting the results (deduped by
// primary key, so a re-fetch across restarts is always safe) and advancing the cursor.
func (b *Bus) reconcileInbound(ctx context.Context) {
	workspaces, err := b.store.ListWorkspaces(ctx)
	if err != nil {
		slog.Error("reconcile: list workspaces failed", "error", err)
		return
	}

	for _, ch := range b.snapshotChannels() {
		fetcher, ok := ch.(InboundFetcher)
		if !ok {
			continue
		}
		for _, ws := range workspaces {
			b.reconcileOneChatInbound(ctx, fetcher, ch.Name(), ws.JID)
		}
	}
}

func (b *Bus) reconcileOneChatInbound(ctx context.Context, fetcher InboundFetcher, channelName, canonicalJID string) {
	target := canonicalJID
	if alias, ok, err := b.store.AliasForChannel(ctx, canonicalJID, channelName); err == nil && ok {
		target = alias
	}

	cursor, err := b.store.GetChannelCursor(ctx, channelName, canonicalJID, models.CursorInbound)
	if err != nil {
		slog.Error("reconcile: get cursor failed", "channel", channelName, "chat_jid", canonicalJID, "error", err)
		return
	}
	cursorValue := ""
	if cursor != nil {
		cursorValue = cursor.CursorValue
	}

	msgs, newCursor, err := fetcher.FetchInboundSince(ctx, target, cursorValue)
	if err != nil {
		slog.Error("reconcile: fetch inbound failed", "channel", channelName, "chat_jid", canonicalJID, "error", err)
		return
	}
	for _, m := range msgs {
		if err := b.store.InsertMessageIfNew(ctx, m); err != nil {
			slog.Error("reconcile: merge-insert message failed", "id", m.ID, "error", err)
		}
	}
	if newCursor == "" {
		return
	}
	if err := b.store.UpsertChannelCursor(ctx, models.ChannelCursor{
		ChannelName: channelName, ChatJID: canonicalJID, Direction: models.CursorInbound,
		CursorValue: newCursor, UpdatedAt: time.Now().UTC(),
	}); err != nil {
		slog.Error("reconcile: advance cursor failed", "channel", channelName, "chat_jid", canonicalJID, "error", err)
	}
}

// reconcileOutboundRetries re-attempts every delivery row that never succeeded, using the
// ledger's original raw text, and records the new outcome.
func (b *Bus) reconcileOutboundRetries(ctx context.Context) {
	pending, err := b.store.PendingDeliveries(ctx, time.Now().UTC())
	if err != nil {
		slog.Error("reconcile: list pending deliveries failed", "error", err)
		return
	}
	channels := b.snapshotChannels()

	for _, d := range pending {
		entry, err := b.store.GetOutboundLedgerEntry(ctx, d.LedgerID)
		if err != nil {
			slog.Error("reconcile: get ledger entry failed", "ledger_id", d.LedgerID, "error", err)
			continue
		}
		for _, ch := range channels {
			if ch.Name() != d.ChannelName {
				continue
			}
			target := b.resolveTarget(ctx, ch, entry.ChatJID)
			_, sendErr := ch.SendMessage(ctx, target, entry.Content)
			delivery := d
			if sendErr != nil {
				delivery.Error = sendErr.Error()
			} else {
				now := time.Now().UTC()
				delivery.DeliveredAt = &now
				delivery.Error = ""
			}
			if err := b.store.RecordDeliveryAttempt(ctx, delivery); err != nil {
				slog.Error("reconcile: record retry outcome failed", "error", err)
			}
		}
	}
}
