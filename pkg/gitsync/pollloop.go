package gitsync

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

const pollInterval = 5 * time.Second

// PollLoop implements spec.md §4.4's origin-drift loop: every pollInterval, check whether
// origin/main has moved, and if so bring every worktree up to date, optionally triggering a
// self-deploy when the host repo's own container/ or src/ tree changed (rebuilding the
// image only for container/ changes). It runs until ctx is
// cancelled.
func (c *Coordinator) PollLoop(ctx context.Context) {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.pollOnce(ctx); err != nil {
				c.logger.Warn("origin-drift poll failed", "error", err)
			}
		}
	}
}

func (c *Coordinator) pollOnce(ctx context.Context) error {
	main := c.repo.mainBranch()
	remoteSHA, err := c.remoteHeadSHA(ctx, main)
	if err != nil {
		return fmt.Errorf("ls-remote origin/%s: %w", main, err)
	}

	localSHA, err := headSHA(ctx, c.repo.LocalPath)
	if err != nil {
		return fmt.Errorf("read local HEAD: %w", err)
	}
	if remoteSHA == localSHA {
		return c.syncAllWorktrees(ctx)
	}

	changedPaths, err := c.fetchAndFastForwardHost(ctx, main, localSHA, remoteSHA)
	if err != nil {
		return err
	}

	if err := c.syncAllWorktrees(ctx); err != nil {
		c.logger.Warn("post-drift worktree sync had failures", "error", err)
	}

	if c.repo.IsHostRepo && c.deploy != nil && touchesDeployPaths(changedPaths) {
		rebuild := touchesPrefix(changedPaths, "container/")
		if err := c.deploy(ctx, localSHA, remoteSHA, rebuild); err != nil {
			c.logger.Error("self-deploy failed, rolling back", "from", remoteSHA, "to", localSHA, "error", err)
			if _, rbErr := runGit(ctx, c.repo.LocalPath, "reset", "--hard", localSHA); rbErr != nil {
				return fmt.Errorf("rollback to %s after failed deploy: %w", localSHA, rbErr)
			}
			return fmt.Errorf("self-deploy failed, rolled back to %s: %w", localSHA, err)
		}
	}
	return nil
}

func (c *Coordinator) remoteHeadSHA(ctx context.Context, branch string) (string, error) {
	out, err := runGit(ctx, c.repo.LocalPath, "ls-remote", "origin", "refs/heads/"+branch)
	if err != nil {
		return "", err
	}
	fields := strings.Fields(out)
	if len(fields) == 0 {
		return "", fmt.Errorf("empty ls-remote output for %s", branch)
	}
	return fields[0], nil
}

// fetchAndFastForwardHost fetches origin and fast-forwards the host checkout's main branch,
// recovering from a dirty tree by stashing first and popping after. It returns the set of
// paths changed between the two SHAs.
func (c *Coordinator) fetchAndFastForwardHost(ctx context.Context, main, fromSHA, toSHA string) ([]string, error) {
	dirty, err := isDirty(ctx, c.repo.LocalPath)
	if err != nil {
		return nil, fmt.Errorf("check host status: %w", err)
	}
	if dirty {
		if _, err := runGit(ctx, c.repo.LocalPath, "stash", "push", "-u", "-m", "gitsync-pre-poll"); err != nil {
			return nil, fmt.Errorf("pre-flight stash: %w", err)
		}
		defer func() {
			if _, err := runGit(ctx, c.repo.LocalPath, "stash", "pop"); err != nil {
				c.logger.Warn("stash pop failed after drift sync, left stashed", "error", err)
			}
		}()
	}

	if _, err := runGit(ctx, c.repo.LocalPath, "fetch", "origin"); err != nil {
		return nil, fmt.Errorf("fetch origin: %w", err)
	}
	if _, err := runGit(ctx, c.repo.LocalPath, "merge", "--ff-only", "origin/"+main); err != nil {
		// Someone committed locally on main outside of merge-to-main; rebase instead of failing.
		if _, rbErr := runGit(ctx, c.repo.LocalPath, "rebase", "origin/"+main); rbErr != nil {
			_, _ = runGit(ctx, c.repo.LocalPath, "rebase", "--abort")
			return nil, fmt.Errorf("fast-forward/rebase onto origin/%s: %w", main, rbErr)
		}
	}

	diff, err := runGit(ctx, c.repo.LocalPath, "diff", "--name-only", fromSHA, toSHA)
	if err != nil {
		return nil, fmt.Errorf("diff %s..%s: %w", fromSHA, toSHA, err)
	}
	if diff == "" {
		return nil, nil
	}
	return strings.Split(diff, "\n"), nil
}

func (c *Coordinator) syncAllWorktrees(ctx context.Context) error {
	var firstErr error
	for _, folder := range c.knownFolders() {
		notices, err := c.EnsureWorktree(ctx, folder)
		if err != nil {
			slog.Default().Error("worktree drift sync failed", "folder", folder, "error", err)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		for _, n := range notices {
			c.notice(ctx, folder, n)
		}
	}
	return firstErr
}

func touchesPrefix(paths []string, prefix string) bool {
	for _, p := range paths {
		if strings.HasPrefix(p, prefix) {
			return true
		}
	}
	return false
}

func touchesDeployPaths(paths []string) bool {
	return touchesPrefix(paths, "container/") || touchesPrefix(paths, "src/")
}

// TriggerRedeploy implements router.RedeployTrigger: an explicit, user-requested redeploy
// outside of the poll loop's own drift detection, re-running the same fetch/fast-forward and
// deploy sequence against whatever SHA origin/main currently points to.
func (c *Coordinator) TriggerRedeploy(ctx context.Context) error {
	if c.deploy == nil {
		return fmt.Errorf("gitsync: no deploy hook configured for repo %s", c.repo.Slug)
	}
	main := c.repo.mainBranch()
	localSHA, err := headSHA(ctx, c.repo.LocalPath)
	if err != nil {
		return fmt.Errorf("read local HEAD: %w", err)
	}
	remoteSHA, err := c.remoteHeadSHA(ctx, main)
	if err != nil {
		return fmt.Errorf("ls-remote origin/%s: %w", main, err)
	}
	changedPaths, err := c.fetchAndFastForwardHost(ctx, main, localSHA, remoteSHA)
	if err != nil {
		return err
	}
	rebuild := touchesPrefix(changedPaths, "container/")
	if err := c.deploy(ctx, localSHA, remoteSHA, rebuild); err != nil {
		if _, rbErr := runGit(ctx, c.repo.LocalPath, "reset", "--hard", localSHA); rbErr != nil {
			return fmt.Errorf("rollback to %s after failed redeploy: %w", localSHA, rbErr)
		}
		return fmt.Errorf("redeploy failed, rolled back to %s: %w", localSHA, err)
	}
	return nil
}
