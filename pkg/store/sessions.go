package store

import (
	"context"
	"fmt"

	"github.com/crypdick/pynchy/pkg/models"
)

// UpsertSession records the opaque session id the agent runtime assigned to a workspace
// folder, so a restart of the host process can resume the same conversational context.
func (c *Client) UpsertSession(ctx context.Context, s models.Session) error {
	_, err := c.db.ExecContext(ctx, `
		INSERT INTO sessions (group_folder, session_id) VALUES (?, ?)
		ON CONFLICT(group_folder) DO UPDATE SET session_id = excluded.session_id
	`, s.GroupFolder, s.SessionID)
	if err != nil {
		return fmt.Errorf("upsert session for %s: %w", s.GroupFolder, err)
	}
	return nil
}

// GetSession returns the session id bound to a workspace folder, if any.
func (c *Client) GetSession(ctx context.Context, groupFolder string) (*models.Session, error) {
	row := c.db.QueryRowContext(ctx, `SELECT group_folder, session_id FROM sessions WHERE group_folder = ?`, groupFolder)
	var s models.Session
	if err := row.Scan(&s.GroupFolder, &s.SessionID); err != nil {
		return nil, err
	}
	return &s, nil
}

// DeleteSession forgets the session id bound to a workspace folder, e.g. on a magic
// "new chat" command.
func (c *Client) DeleteSession(ctx context.Context, groupFolder string) error {
	_, err := c.db.ExecContext(ctx, `DELETE FROM sessions WHERE group_folder = ?`, groupFolder)
	if err != nil {
		return fmt.Errorf("delete session for %s: %w", groupFolder, err)
	}
	return nil
}
