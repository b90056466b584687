package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/crypdick/pynchy/pkg/models"
)

// InsertOutboundLedgerEntry records a new logical broadcast before fanning it out to
// per-channel delivery attempts.
func (c *Client) InsertOutboundLedgerEntry(ctx context.Context, e models.OutboundLedgerEntry) error {
	_, err := c.db.ExecContext(ctx, `
		INSERT INTO outbound_ledger_entries (id, chat_jid, content, timestamp, source)
		VALUES (?, ?, ?, ?, ?)
	`, e.ID, e.ChatJID, e.Content, e.Timestamp, e.Source)
	if err != nil {
		return fmt.Errorf("insert outbound ledger entry %s: %w", e.ID, err)
	}
	return nil
}

// GetOutboundLedgerEntry fetches one ledger row by id, so the retry sweep can re-send its raw
// text after loading the failed OutboundDelivery rows.
func (c *Client) GetOutboundLedgerEntry(ctx context.Context, id string) (*models.OutboundLedgerEntry, error) {
	var e models.OutboundLedgerEntry
	err := c.db.QueryRowContext(ctx, `
		SELECT id, chat_jid, content, timestamp, source FROM outbound_ledger_entries WHERE id = ?
	`, id).Scan(&e.ID, &e.ChatJID, &e.Content, &e.Timestamp, &e.Source)
	if err != nil {
		return nil, fmt.Errorf("get outbound ledger entry %s: %w", id, err)
	}
	return &e, nil
}

// RecordDeliveryAttempt upserts the per-channel fate of one ledger entry: a nil
// deliveredAt with a non-empty error means the attempt failed and is eligible for retry;
// a non-nil deliveredAt means it succeeded.
func (c *Client) RecordDeliveryAttempt(ctx context.Context, d models.OutboundDelivery) error {
	_, err := c.db.ExecContext(ctx, `
		INSERT INTO outbound_deliveries (ledger_id, channel_name, delivered_at, error)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(ledger_id, channel_name) DO UPDATE SET
			delivered_at = excluded.delivered_at,
			error = excluded.error
	`, d.LedgerID, d.ChannelName, d.DeliveredAt, d.Error)
	if err != nil {
		return fmt.Errorf("record delivery attempt %s/%s: %w", d.LedgerID, d.ChannelName, err)
	}
	return nil
}

// PendingDeliveries returns every delivery attempt recorded before a given cutoff that
// never succeeded (delivered_at IS NULL) and carries a non-empty error, for the
// reconciliation sweep to retry.
func (c *Client) PendingDeliveries(ctx context.Context, olderThan time.Time) ([]models.OutboundDelivery, error) {
	rows, err := c.db.QueryContext(ctx, `
		SELECT d.ledger_id, d.channel_name, d.delivered_at, d.error
		FROM outbound_deliveries d
		JOIN outbound_ledger_entries e ON e.id = d.ledger_id
		WHERE d.delivered_at IS NULL AND d.error != '' AND e.timestamp < ?
	`, olderThan)
	if err != nil {
		return nil, fmt.Errorf("query pending deliveries: %w", err)
	}
	defer rows.Close()

	var out []models.OutboundDelivery
	for rows.Next() {
		var d models.OutboundDelivery
		var deliveredAt sql.NullTime
		if err := rows.Scan(&d.LedgerID, &d.ChannelName, &deliveredAt, &d.Error); err != nil {
			return nil, err
		}
		if deliveredAt.Valid {
			d.DeliveredAt = &deliveredAt.Time
		}
		out = append(out, d)
	}
	return out, rows.Err()
}
