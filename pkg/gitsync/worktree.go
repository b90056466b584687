package gitsync

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
)

// EnsureWorktree implements spec.md §4.4's ensure_worktree: idempotent create-or-sync of the
// worktree backing folder. It returns human-readable notices describing anything the caller
// (usually session startup) should tell the workspace's chat — uncommitted changes preserved,
// auto-pulled commits, or a merge conflict left for the user to resolve by hand.
func (c *Coordinator) EnsureWorktree(ctx context.Context, folder string) ([]string, error) {
	path := c.worktreePath(folder)

	if _, err := os.Stat(path); err == nil {
		if isGitDir(ctx, path) {
			return c.syncWorktree(ctx, folder, path)
		}
		// Broken worktree: directory exists but isn't a valid git worktree. Wipe and recreate.
		c.logger.Warn("broken worktree, resetting", "folder", folder, "path", path)
		if err := os.RemoveAll(path); err != nil {
			return nil, fmt.Errorf("remove broken worktree %s: %w", path, err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("stat worktree %s: %w", path, err)
	}

	return nil, c.createWorktree(ctx, folder, path)
}

func (c *Coordinator) createWorktree(ctx context.Context, folder, path string) error {
	main := c.repo.mainBranch()
	branch := branchForFolder(folder)

	if _, err := runGit(ctx, c.repo.LocalPath, "fetch", "origin"); err != nil {
		return fmt.Errorf("fetch origin: %w", err)
	}
	// Best-effort: drop stale worktree registrations and any leftover branch of the same name
	// from a prior, since-deleted worktree so `worktree add -b` doesn't fail on branch reuse.
	_, _ = runGit(ctx, c.repo.LocalPath, "worktree", "prune")
	_, _ = runGit(ctx, c.repo.LocalPath, "branch", "-D", branch)

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("mkdir worktrees root: %w", err)
	}

	if _, err := runGit(ctx, c.repo.LocalPath, "worktree", "add", "-b", branch, path, "origin/"+main); err != nil {
		return fmt.Errorf("worktree add: %w", err)
	}
	return nil
}

func (c *Coordinator) syncWorktree(ctx context.Context, folder, path string) ([]string, error) {
	var notices []string
	main := c.repo.mainBranch()

	dirty, err := isDirty(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("check worktree status: %w", err)
	}
	if dirty {
		notices = append(notices, "uncommitted changes preserved")
	}

	if _, err := runGit(ctx, path, "fetch", "origin"); err != nil {
		return notices, fmt.Errorf("fetch origin: %w", err)
	}

	before, err := headSHA(ctx, path)
	if err != nil {
		return notices, fmt.Errorf("read HEAD: %w", err)
	}

	if _, err := runGit(ctx, path, "merge", "--no-edit", "origin/"+main); err != nil {
		notices = append(notices, fmt.Sprintf("auto-merge from %s failed, left for manual resolution: %v", main, err))
		for _, n := range notices {
			c.notice(ctx, folder, n)
		}
		return notices, nil
	}

	after, err := headSHA(ctx, path)
	if err != nil {
		return notices, fmt.Errorf("read HEAD: %w", err)
	}
	if before != after {
		notices = append(notices, fmt.Sprintf("auto-pulled latest %s", main))
	}

	for _, n := range notices {
		c.notice(ctx, folder, n)
	}
	return notices, nil
}
