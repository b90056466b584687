package gitsync

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// PullRequest describes the result of OpenOrUpdatePR.
type PullRequest struct {
	URL     string
	Created bool
}

// OpenOrUpdatePR implements spec.md §4.4's PR-mode session-end path: force-with-lease push the
// workspace's branch, then either reuse an existing PR for that branch (`gh pr view`) or open
// a new one (`gh pr create`). Requires the `gh` CLI to be authenticated in the environment.
func (c *Coordinator) OpenOrUpdatePR(ctx context.Context, folder, title, body string) (*PullRequest, error) {
	path := c.worktreePath(folder)
	branch := branchForFolder(folder)
	main := c.repo.mainBranch()

	if err := c.pushWithLease(ctx, path, branch); err != nil {
		return nil, fmt.Errorf("push branch %s: %w", branch, err)
	}

	if url, err := runGH(ctx, path, "pr", "view", branch, "--json", "url", "-q", ".url"); err == nil {
		url = strings.TrimSpace(url)
		if url != "" {
			return &PullRequest{URL: url}, nil
		}
	}

	url, err := runGH(ctx, path, "pr", "create", "--base", main, "--head", branch, "--title", title, "--body", body)
	if err != nil {
		return nil, fmt.Errorf("gh pr create: %w", err)
	}
	return &PullRequest{URL: strings.TrimSpace(lastLine(url)), Created: true}, nil
}

func lastLine(s string) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	return lines[len(lines)-1]
}

func runGH(ctx context.Context, dir string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "gh", args...)
	cmd.Dir = dir
	out, err := cmd.Output()
	if err != nil {
		if ee, ok := err.(*exec.ExitError); ok {
			return "", fmt.Errorf("gh %s: %w: %s", strings.Join(args, " "), err, strings.TrimSpace(string(ee.Stderr)))
		}
		return "", fmt.Errorf("gh %s: %w", strings.Join(args, " "), err)
	}
	return string(out), nil
}
