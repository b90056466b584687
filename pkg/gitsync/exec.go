// Package gitsync is the Git Sync Coordinator (spec.md §4.4): per-workspace worktree
// lifecycle, merge-to-main / pull-request session-end integration, and the origin-drift
// poll loop that keeps every worktree current with the primary repo and triggers self-deploy.
package gitsync

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// runGit runs `git <args...>` in dir and returns trimmed stdout. Combined stderr is folded
// into the returned error so callers can pattern-match on git's own wording (as the teacher's
// handleCreateWorktree does with "already checked out", "already exists", etc.).
func runGit(ctx context.Context, dir string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = dir

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = strings.TrimSpace(stdout.String())
		}
		return strings.TrimSpace(stdout.String()), fmt.Errorf("git %s: %w: %s", strings.Join(args, " "), err, msg)
	}
	return strings.TrimSpace(stdout.String()), nil
}

// isGitDir reports whether dir is the working directory of a valid git repository or
// worktree (the teacher's "git rev-parse --git-dir succeeds" health check).
func isGitDir(ctx context.Context, dir string) bool {
	_, err := runGit(ctx, dir, "rev-parse", "--git-dir")
	return err == nil
}

// isDirty reports whether dir's working tree has uncommitted changes.
func isDirty(ctx context.Context, dir string) (bool, error) {
	out, err := runGit(ctx, dir, "status", "--porcelain")
	if err != nil {
		return false, err
	}
	return out != "", nil
}

// headSHA returns the current HEAD commit.
func headSHA(ctx context.Context, dir string) (string, error) {
	return runGit(ctx, dir, "rev-parse", "HEAD")
}
