// Package outbound implements the Outbound Bus and channel reconciliation loop (spec.md §4.3):
// a single broadcast call site fanning out to every connected Channel, a delivery ledger, and
// periodic inbound/outbound reconciliation.
package outbound

import (
	"context"

	"github.com/crypdick/pynchy/pkg/models"
)

// ChannelCore is the required surface every channel adapter (Slack, WhatsApp, TUI) implements.
type ChannelCore interface {
	Name() string
	SendMessage(ctx context.Context, chatJID, text string) (messageID string, err error)
	OutboundAllowed(chatJID string) bool
	OwnsJID(chatJID string) bool
}

// Formatter is an optional capability: channels whose native markup differs from the agent's
// plain/Markdown output implement this to let BroadcastWithOptions convert it.
type Formatter interface {
	FormatMarkup(text string) string
}

// StreamUpdater is an optional capability for channels that can edit an already-sent message
// in place, used by FinalizeStreamOrBroadcast.
type StreamUpdater interface {
	UpdateMessage(ctx context.Context, chatJID, messageID, text string) error
}

// Reactor is an optional capability for channels that support emoji reactions.
type Reactor interface {
	React(ctx context.Context, chatJID, messageID, emoji string) error
}

// InboundFetcher is an optional capability for channels that can report messages received
// since a cursor, used by the reconciliation sweep.
type InboundFetcher interface {
	FetchInboundSince(ctx context.Context, chatJID, cursor string) (msgs []models.Message, newCursor string, err error)
}
