// Package slack adapts a Slack workspace connection to the outbound.ChannelCore surface
// (spec.md §4.3), using Socket Mode for inbound events and the Web API for outbound sends,
// reactions, and stream edits.
package slack

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	goslack "github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"
	"github.com/slack-go/slack/socketmode"

	"github.com/crypdick/pynchy/pkg/config"
	"github.com/crypdick/pynchy/pkg/models"
)

// InboundHandler receives one chat message observed over the Socket Mode event stream.
type InboundHandler func(models.Message)

// Channel is one named [connections.slack.<name>] connection.
type Channel struct {
	name   string
	api    *goslack.Client
	sm     *socketmode.Client
	chats  map[string]config.ChatOverride
	onRecv InboundHandler
	logger *slog.Logger
}

// Config holds one connection's resolved credentials and per-chat overrides.
type Config struct {
	Name     string
	BotToken string
	AppToken string
	Chats    map[string]config.ChatOverride
}

// New builds a Channel. onRecv may be nil if the caller only wants outbound delivery and
// relies on reconciliation (FetchInboundSince) for inbound traffic.
func New(cfg Config, onRecv InboundHandler) *Channel {
	api := goslack.New(cfg.BotToken, goslack.OptionAppLevelToken(cfg.AppToken))
	sm := socketmode.New(api)
	return &Channel{
		name:   channelName(cfg.Name),
		api:    api,
		sm:     sm,
		chats:  cfg.Chats,
		onRecv: onRecv,
		logger: slog.Default().With("component", "channel-slack", "connection", cfg.Name),
	}
}

func channelName(connectionName string) string {
	if connectionName == "" {
		return "slack"
	}
	return "slack:" + connectionName
}

// Name implements outbound.ChannelCore.
func (c *Channel) Name() string { return c.name }

// SendMessage implements outbound.ChannelCore, posting plain mrkdwn text.
func (c *Channel) SendMessage(ctx context.Context, chatJID, text string) (string, error) {
	_, ts, err := c.api.PostMessageContext(ctx, chatJID, goslack.MsgOptionText(text, false))
	if err != nil {
		return "", fmt.Errorf("slack post message to %s: %w", chatJID, err)
	}
	return ts, nil
}

// OutboundAllowed implements outbound.ChannelCore: a chat-level override of access=none
// blocks delivery; everything else defaults open (the workspace-level access gate is
// enforced upstream by pkg/router and the bus's own AccessChecker).
func (c *Channel) OutboundAllowed(chatJID string) bool {
	if o, ok := c.chats[chatJID]; ok {
		return o.Access != "none"
	}
	return true
}

// OwnsJID implements outbound.ChannelCore: true for any chat explicitly configured under
// this connection.
func (c *Channel) OwnsJID(chatJID string) bool {
	_, ok := c.chats[chatJID]
	return ok
}

// FormatMarkup implements outbound.Formatter, converting the agent's Markdown emphasis
// markers to Slack's mrkdwn equivalents.
func (c *Channel) FormatMarkup(text string) string {
	text = strings.ReplaceAll(text, "**", "*")
	text = strings.ReplaceAll(text, "__", "_")
	return text
}

// UpdateMessage implements outbound.StreamUpdater via chat.update.
func (c *Channel) UpdateMessage(ctx context.Context, chatJID, messageID, text string) error {
	_, _, _, err := c.api.UpdateMessageContext(ctx, chatJID, messageID, goslack.MsgOptionText(text, false))
	if err != nil {
		return fmt.Errorf("slack update message %s/%s: %w", chatJID, messageID, err)
	}
	return nil
}

// React implements outbound.Reactor via reactions.add.
func (c *Channel) React(ctx context.Context, chatJID, messageID, emoji string) error {
	ref := goslack.NewRefToMessage(chatJID, messageID)
	if err := c.api.AddReactionContext(ctx, emoji, ref); err != nil {
		return fmt.Errorf("slack react %s/%s: %w", chatJID, messageID, err)
	}
	return nil
}

// FetchInboundSince implements outbound.InboundFetcher, paging conversations.history from
// the given cursor (a Slack message timestamp, or empty for the beginning of history) and
// returning the newest timestamp seen as the advanced cursor.
func (c *Channel) FetchInboundSince(ctx context.Context, chatJID, cursor string) ([]models.Message, string, error) {
	params := &goslack.GetConversationHistoryParameters{ChannelID: chatJID, Oldest: cursor, Limit: 200}

	var out []models.Message
	newCursor := cursor
	for page := 0; page < 5; page++ {
		hist, err := c.api.GetConversationHistoryContext(ctx, params)
		if err != nil {
			return nil, "", fmt.Errorf("slack conversations.history %s: %w", chatJID, err)
		}
		for _, m := range hist.Messages {
			out = append(out, toModelMessage(chatJID, m))
			if m.Timestamp > newCursor {
				newCursor = m.Timestamp
			}
		}
		if !hist.HasMore || hist.ResponseMetaData.NextCursor == "" {
			break
		}
		params.Cursor = hist.ResponseMetaData.NextCursor
	}
	return out, newCursor, nil
}

func toModelMessage(chatJID string, m goslack.Message) models.Message {
	msgType := models.MessageTypeUser
	if m.BotID != "" {
		msgType = models.MessageTypeAssistant
	}
	return models.Message{
		ID:          m.Timestamp,
		ChatJID:     chatJID,
		Sender:      m.User,
		SenderName:  m.Username,
		Content:     m.Text,
		Timestamp:   slackTimestamp(m.Timestamp),
		IsFromMe:    m.BotID != "",
		MessageType: msgType,
	}
}

// Run drives the Socket Mode event loop until ctx is cancelled, dispatching plain channel
// messages to the configured InboundHandler.
func (c *Channel) Run(ctx context.Context) error {
	go c.dispatchLoop(ctx)
	return c.sm.RunContext(ctx)
}

func (c *Channel) dispatchLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-c.sm.Events:
			if !ok {
				return
			}
			c.handleEvent(evt)
		}
	}
}

func (c *Channel) handleEvent(evt socketmode.Event) {
	if evt.Type != socketmode.EventTypeEventsAPI {
		return
	}
	apiEvent, ok := evt.Data.(slackevents.EventsAPIEvent)
	if !ok {
		return
	}
	if evt.Request != nil {
		c.sm.Ack(*evt.Request)
	}
	if apiEvent.Type != slackevents.CallbackEvent {
		return
	}
	switch ev := apiEvent.InnerEvent.Data.(type) {
	case *slackevents.MessageEvent:
		if ev.BotID != "" || c.onRecv == nil {
			return
		}
		c.onRecv(models.Message{
			ID: ev.TimeStamp, ChatJID: ev.Channel, Sender: ev.User, Content: ev.Text,
			Timestamp: slackTimestamp(ev.TimeStamp), MessageType: models.MessageTypeUser,
		})
	default:
		c.logger.Debug("ignoring unhandled slack event", "inner_type", apiEvent.InnerEvent.Type)
	}
}
