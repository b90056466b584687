package gitsync

import (
	"context"
	"fmt"
)

// MergeToMain implements spec.md §4.4's 5-step merge-to-main protocol run at session end:
// validate the worktree is clean, fetch+rebase the host checkout's main branch, rebase the
// worktree branch onto it, fast-forward-only merge into main, then push with one retry on a
// non-fast-forward race against a concurrent merge.
func (c *Coordinator) MergeToMain(ctx context.Context, folder string) error {
	path := c.worktreePath(folder)
	main := c.repo.mainBranch()
	branch := branchForFolder(folder)

	dirty, err := isDirty(ctx, path)
	if err != nil {
		return fmt.Errorf("check worktree status: %w", err)
	}
	if dirty {
		return fmt.Errorf("worktree %s has uncommitted changes, refusing to merge", folder)
	}

	if _, err := runGit(ctx, c.repo.LocalPath, "fetch", "origin", main); err != nil {
		return fmt.Errorf("fetch origin/%s: %w", main, err)
	}
	if _, err := runGit(ctx, c.repo.LocalPath, "rebase", "origin/"+main, main); err != nil {
		return fmt.Errorf("rebase host %s onto origin: %w", main, err)
	}

	if _, err := runGit(ctx, path, "rebase", main); err != nil {
		_, _ = runGit(ctx, path, "rebase", "--abort")
		return fmt.Errorf("rebase %s onto %s: %w", branch, main, err)
	}

	for attempt := 0; attempt < 2; attempt++ {
		if _, err := runGit(ctx, c.repo.LocalPath, "merge", "--ff-only", branch); err != nil {
			return fmt.Errorf("fast-forward merge %s into %s: %w", branch, main, err)
		}
		if _, err := runGit(ctx, c.repo.LocalPath, "push", "origin", main); err != nil {
			if attempt == 0 {
				if _, fetchErr := runGit(ctx, c.repo.LocalPath, "fetch", "origin", main); fetchErr == nil {
					if _, rbErr := runGit(ctx, c.repo.LocalPath, "rebase", "origin/"+main, main); rbErr == nil {
						if _, rbErr2 := runGit(ctx, path, "rebase", main); rbErr2 == nil {
							continue
						}
					}
				}
			}
			return fmt.Errorf("push %s: %w", main, err)
		}
		return nil
	}
	return fmt.Errorf("push %s: exhausted retries against concurrent merges", main)
}

// pushWithLease force-pushes branch with --force-with-lease, the safe variant that fails if
// origin moved underneath us since our last fetch (used by PR mode, where the branch is the
// caller's own and rewriting its history is expected).
func (c *Coordinator) pushWithLease(ctx context.Context, path, branch string) error {
	_, err := runGit(ctx, path, "push", "--force-with-lease", "origin", branch)
	return err
}
