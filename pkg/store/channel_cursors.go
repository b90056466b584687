package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/crypdick/pynchy/pkg/models"
)

// UpsertChannelCursor advances (or initializes) the watermark for one channel/chat/direction.
func (c *Client) UpsertChannelCursor(ctx context.Context, cur models.ChannelCursor) error {
	_, err := c.db.ExecContext(ctx, `
		INSERT INTO channel_cursors (channel_name, chat_jid, direction, cursor_value, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(channel_name, chat_jid, direction) DO UPDATE SET
			cursor_value = excluded.cursor_value,
			updated_at = excluded.updated_at
	`, cur.ChannelName, cur.ChatJID, cur.Direction, cur.CursorValue, cur.UpdatedAt)
	if err != nil {
		return fmt.Errorf("upsert channel cursor %s/%s/%s: %w", cur.ChannelName, cur.ChatJID, cur.Direction, err)
	}
	return nil
}

// GetChannelCursor returns the current watermark, or nil if none has been recorded yet.
func (c *Client) GetChannelCursor(ctx context.Context, channelName, chatJID string, dir models.CursorDirection) (*models.ChannelCursor, error) {
	row := c.db.QueryRowContext(ctx, `
		SELECT channel_name, chat_jid, direction, cursor_value, updated_at
		FROM channel_cursors WHERE channel_name = ? AND chat_jid = ? AND direction = ?
	`, channelName, chatJID, dir)

	var cur models.ChannelCursor
	if err := row.Scan(&cur.ChannelName, &cur.ChatJID, &cur.Direction, &cur.CursorValue, &cur.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get channel cursor %s/%s/%s: %w", channelName, chatJID, dir, err)
	}
	return &cur, nil
}
