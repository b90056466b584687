package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/crypdick/pynchy/pkg/models"
)

// GetPluginVerification returns the cached verdict for a plugin at a given git commit, or
// nil if nothing has been cached (including a prior error verdict, which is never stored).
func (c *Client) GetPluginVerification(ctx context.Context, pluginName, gitSHA string) (*models.PluginVerification, error) {
	row := c.db.QueryRowContext(ctx, `
		SELECT plugin_name, git_sha, verdict, reasoning, verified_at
		FROM plugin_verifications WHERE plugin_name = ? AND git_sha = ?
	`, pluginName, gitSHA)

	var v models.PluginVerification
	if err := row.Scan(&v.PluginName, &v.GitSHA, &v.Verdict, &v.Reasoning, &v.VerifiedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get plugin verification %s@%s: %w", pluginName, gitSHA, err)
	}
	return &v, nil
}

// SavePluginVerification caches a pass/fail verdict. Callers must never call this for an
// error/inconclusive outcome — those are meant to retry on next boot, not stick forever.
func (c *Client) SavePluginVerification(ctx context.Context, v models.PluginVerification) error {
	_, err := c.db.ExecContext(ctx, `
		INSERT INTO plugin_verifications (plugin_name, git_sha, verdict, reasoning, verified_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(plugin_name, git_sha) DO UPDATE SET
			verdict = excluded.verdict,
			reasoning = excluded.reasoning,
			verified_at = excluded.verified_at
	`, v.PluginName, v.GitSHA, v.Verdict, v.Reasoning, v.VerifiedAt)
	if err != nil {
		return fmt.Errorf("save plugin verification %s@%s: %w", v.PluginName, v.GitSHA, err)
	}
	return nil
}
