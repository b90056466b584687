package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/crypdick/pynchy/pkg/models"
)

// UpsertChat inserts or updates a chat's name and last-message watermark.
func (c *Client) UpsertChat(ctx context.Context, chat models.Chat) error {
	_, err := c.db.ExecContext(ctx, `
		INSERT INTO chats (jid, name, last_message_time, cleared_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(jid) DO UPDATE SET
			name = excluded.name,
			last_message_time = excluded.last_message_time
	`, chat.JID, chat.Name, chat.LastMessageTime, chat.ClearedAt)
	if err != nil {
		return fmt.Errorf("upsert chat %s: %w", chat.JID, err)
	}
	return nil
}

// GetChat looks up a chat by JID. A missing chat returns sql.ErrNoRows.
func (c *Client) GetChat(ctx context.Context, jid string) (*models.Chat, error) {
	row := c.db.QueryRowContext(ctx, `
		SELECT jid, name, last_message_time, cleared_at FROM chats WHERE jid = ?
	`, jid)

	var chat models.Chat
	var lastMsg sql.NullTime
	var clearedAt sql.NullTime
	if err := row.Scan(&chat.JID, &chat.Name, &lastMsg, &clearedAt); err != nil {
		return nil, err
	}
	if lastMsg.Valid {
		chat.LastMessageTime = lastMsg.Time
	}
	if clearedAt.Valid {
		chat.ClearedAt = &clearedAt.Time
	}
	return &chat, nil
}

// ClearChat marks a chat's history as cleared as of clearedAt, without deleting messages; a
// subsequent context read excludes everything at or before ClearedAt.
func (c *Client) ClearChat(ctx context.Context, jid string, clearedAt time.Time) error {
	res, err := c.db.ExecContext(ctx, `UPDATE chats SET cleared_at = ? WHERE jid = ?`, clearedAt, jid)
	if err != nil {
		return fmt.Errorf("clear chat %s: %w", jid, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return sql.ErrNoRows
	}
	return nil
}
