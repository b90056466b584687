package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/crypdick/pynchy/pkg/models"
)

// UpsertWorkspace inserts or updates a workspace's identity fields. SecurityProfile is not
// persisted and the reads in this file leave it zero; the security gate takes each
// workspace's policy from config.toml at startup instead.
func (c *Client) UpsertWorkspace(ctx context.Context, ws models.Workspace) error {
	_, err := c.db.ExecContext(ctx, `
		INSERT INTO workspaces (jid, name, folder, trigger, is_admin, repo_access, git_policy, added_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(jid) DO UPDATE SET
			name = excluded.name,
			folder = excluded.folder,
			trigger = excluded.trigger,
			is_admin = excluded.is_admin,
			repo_access = excluded.repo_access,
			git_policy = excluded.git_policy
	`, ws.JID, ws.Name, ws.Folder, ws.Trigger, ws.IsAdmin, ws.RepoAccess, ws.GitPolicy, ws.AddedAt)
	if err != nil {
		return fmt.Errorf("upsert workspace %s: %w", ws.JID, err)
	}
	return nil
}

// GetWorkspaceByFolder looks up a workspace by its folder name, the stable key used by
// the session manager and the IPC substrate.
func (c *Client) GetWorkspaceByFolder(ctx context.Context, folder string) (*models.Workspace, error) {
	row := c.db.QueryRowContext(ctx, `
		SELECT jid, name, folder, trigger, is_admin, repo_access, git_policy, added_at
		FROM workspaces WHERE folder = ?
	`, folder)
	return scanWorkspace(row)
}

// GetWorkspaceByJID looks up a workspace by its channel-native chat JID.
func (c *Client) GetWorkspaceByJID(ctx context.Context, jid string) (*models.Workspace, error) {
	row := c.db.QueryRowContext(ctx, `
		SELECT jid, name, folder, trigger, is_admin, repo_access, git_policy, added_at
		FROM workspaces WHERE jid = ?
	`, jid)
	return scanWorkspace(row)
}

// ListWorkspaces returns every known workspace, in folder order.
func (c *Client) ListWorkspaces(ctx context.Context) ([]models.Workspace, error) {
	rows, err := c.db.QueryContext(ctx, `
		SELECT jid, name, folder, trigger, is_admin, repo_access, git_policy, added_at
		FROM workspaces ORDER BY folder
	`)
	if err != nil {
		return nil, fmt.Errorf("list workspaces: %w", err)
	}
	defer rows.Close()

	var out []models.Workspace
	for rows.Next() {
		ws, err := scanWorkspaceRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *ws)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanWorkspace(row *sql.Row) (*models.Workspace, error) {
	return scanWorkspaceRow(row)
}

func scanWorkspaceRow(row rowScanner) (*models.Workspace, error) {
	var ws models.Workspace
	if err := row.Scan(&ws.JID, &ws.Name, &ws.Folder, &ws.Trigger, &ws.IsAdmin, &ws.RepoAccess, &ws.GitPolicy, &ws.AddedAt); err != nil {
		return nil, err
	}
	return &ws, nil
}
