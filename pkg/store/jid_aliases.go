package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/crypdick/pynchy/pkg/models"
)

// UpsertJIDAlias records that aliasJID is reachable as an alternate address for
// canonicalJID on the given channel.
func (c *Client) UpsertJIDAlias(ctx context.Context, a models.JIDAlias) error {
	_, err := c.db.ExecContext(ctx, `
		INSERT INTO jid_aliases (alias_jid, canonical_jid, channel_name) VALUES (?, ?, ?)
		ON CONFLICT(alias_jid) DO UPDATE SET canonical_jid = excluded.canonical_jid, channel_name = excluded.channel_name
	`, a.AliasJID, a.CanonicalJID, a.ChannelName)
	if err != nil {
		return fmt.Errorf("upsert jid alias %s: %w", a.AliasJID, err)
	}
	return nil
}

// AliasForChannel returns the channel-native alias JID registered for canonicalJID on
// channelName, or ("", false) if the workspace is only known under its canonical JID on that
// channel — the reverse of ResolveJIDAlias, used by reconciliation to address the right chat.
func (c *Client) AliasForChannel(ctx context.Context, canonicalJID, channelName string) (string, bool, error) {
	row := c.db.QueryRowContext(ctx, `
		SELECT alias_jid FROM jid_aliases WHERE canonical_jid = ? AND channel_name = ?
	`, canonicalJID, channelName)
	var alias string
	if err := row.Scan(&alias); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("alias for channel %s/%s: %w", canonicalJID, channelName, err)
	}
	return alias, true, nil
}

// ResolveJIDAlias returns the canonical JID for an alias, or aliasJID itself if no alias
// is registered — callers never need a separate "not aliased" branch.
func (c *Client) ResolveJIDAlias(ctx context.Context, aliasJID string) (string, error) {
	row := c.db.QueryRowContext(ctx, `SELECT canonical_jid FROM jid_aliases WHERE alias_jid = ?`, aliasJID)
	var canonical string
	if err := row.Scan(&canonical); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return aliasJID, nil
		}
		return "", fmt.Errorf("resolve jid alias %s: %w", aliasJID, err)
	}
	return canonical, nil
}
