package store

import (
	"context"
	"fmt"
	"time"

	"github.com/crypdick/pynchy/pkg/models"
)

// InsertMessage appends one message to chat history and bumps the owning chat's
// last-message watermark in the same transaction.
func (c *Client) InsertMessage(ctx context.Context, msg models.Message) error {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	// messages.chat_jid references chats(jid), so the chat row must exist first.
	if _, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO chats (jid) VALUES (?)`, msg.ChatJID); err != nil {
		return fmt.Errorf("ensure chat %s: %w", msg.ChatJID, err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO messages (id, chat_jid, sender, sender_name, content, timestamp, is_from_me, message_type, metadata)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, msg.ID, msg.ChatJID, msg.Sender, msg.SenderName, msg.Content, msg.Timestamp, msg.IsFromMe, msg.MessageType, msg.Metadata)
	if err != nil {
		return fmt.Errorf("insert message %s: %w", msg.ID, err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO chats (jid, name, last_message_time)
		VALUES (?, '', ?)
		ON CONFLICT(jid) DO UPDATE SET last_message_time = excluded.last_message_time
		WHERE excluded.last_message_time > chats.last_message_time OR chats.last_message_time IS NULL
	`, msg.ChatJID, msg.Timestamp)
	if err != nil {
		return fmt.Errorf("bump chat watermark for %s: %w", msg.ChatJID, err)
	}

	return tx.Commit()
}

// InsertMessageIfNew is InsertMessage's idempotent sibling: a duplicate id (the same
// message re-fetched across a reconciliation restart) is silently ignored rather than
// treated as an error, since the merge-insert step has no way to know in advance which
// messages the channel already reported.
func (c *Client) InsertMessageIfNew(ctx context.Context, msg models.Message) error {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO chats (jid) VALUES (?)`, msg.ChatJID); err != nil {
		return fmt.Errorf("ensure chat %s: %w", msg.ChatJID, err)
	}

	res, err := tx.ExecContext(ctx, `
		INSERT OR IGNORE INTO messages (id, chat_jid, sender, sender_name, content, timestamp, is_from_me, message_type, metadata)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, msg.ID, msg.ChatJID, msg.Sender, msg.SenderName, msg.Content, msg.Timestamp, msg.IsFromMe, msg.MessageType, msg.Metadata)
	if err != nil {
		return fmt.Errorf("insert message if new %s: %w", msg.ID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return tx.Commit()
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO chats (jid, name, last_message_time)
		VALUES (?, '', ?)
		ON CONFLICT(jid) DO UPDATE SET last_message_time = excluded.last_message_time
		WHERE excluded.last_message_time > chats.last_message_time OR chats.last_message_time IS NULL
	`, msg.ChatJID, msg.Timestamp)
	if err != nil {
		return fmt.Errorf("bump chat watermark for %s: %w", msg.ChatJID, err)
	}

	return tx.Commit()
}

// MessagesSince returns every message with timestamp strictly after since (or, for ties,
// with id greater than afterID), ordered by (timestamp, id) ascending — the router's global
// poll cursor. afterID may be empty when since is a zero time.
func (c *Client) MessagesSince(ctx context.Context, since time.Time, afterID string) ([]models.Message, error) {
	rows, err := c.db.QueryContext(ctx, `
		SELECT id, chat_jid, sender, sender_name, content, timestamp, is_from_me, message_type, metadata
		FROM messages
		WHERE timestamp > ? OR (timestamp = ? AND id > ?)
		ORDER BY timestamp ASC, id ASC
	`, since, since, afterID)
	if err != nil {
		return nil, fmt.Errorf("query messages since %s: %w", since, err)
	}
	defer rows.Close()

	var out []models.Message
	for rows.Next() {
		var m models.Message
		if err := rows.Scan(&m.ID, &m.ChatJID, &m.Sender, &m.SenderName, &m.Content, &m.Timestamp, &m.IsFromMe, &m.MessageType, &m.Metadata); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// RecentMessages returns up to limit messages for chatJID newer than the chat's
// cleared_at watermark (if any), ordered oldest-first so callers can feed them straight
// into an LLM context window.
func (c *Client) RecentMessages(ctx context.Context, chatJID string, since *time.Time, limit int) ([]models.Message, error) {
	query := `
		SELECT m.id, m.chat_jid, m.sender, m.sender_name, m.content, m.timestamp, m.is_from_me, m.message_type, m.metadata
		FROM messages m
		LEFT JOIN chats c ON c.jid = m.chat_jid
		WHERE m.chat_jid = ?
		  AND (c.cleared_at IS NULL OR m.timestamp > c.cleared_at)
	`
	args := []any{chatJID}
	if since != nil {
		query += " AND m.timestamp > ?"
		args = append(args, *since)
	}
	query += " ORDER BY m.timestamp DESC LIMIT ?"
	args = append(args, limit)

	rows, err := c.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query recent messages for %s: %w", chatJID, err)
	}
	defer rows.Close()

	var out []models.Message
	for rows.Next() {
		var m models.Message
		if err := rows.Scan(&m.ID, &m.ChatJID, &m.Sender, &m.SenderName, &m.Content, &m.Timestamp, &m.IsFromMe, &m.MessageType, &m.Metadata); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// The query orders DESC to apply LIMIT to the most recent messages; reverse to
	// oldest-first for presentation.
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}
