package gitsync

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testRemote creates a bare origin repo and a local clone seeded with one commit on main,
// returning the clone's path (which becomes RepoConfig.LocalPath).
func testRemote(t *testing.T) (origin, clone string) {
	t.Helper()
	root := t.TempDir()
	origin = filepath.Join(root, "origin.git")
	clone = filepath.Join(root, "clone")

	run := func(dir string, args ...string) {
		t.Helper()
		cmd := exec.Command("git", args...)
		cmd.Dir = dir
		cmd.Env = append(os.Environ(),
			"GIT_AUTHOR_NAME=test", "GIT_AUTHOR_EMAIL=test@example.com",
			"GIT_COMMITTER_NAME=test", "GIT_COMMITTER_EMAIL=test@example.com")
		out, err := cmd.CombinedOutput()
		require.NoErrorf(t, err, "git %v: %s", args, out)
	}

	require.NoError(t, os.MkdirAll(origin, 0o755))
	run(origin, "init", "--bare", "-b", "main")

	require.NoError(t, os.MkdirAll(clone, 0o755))
	run(root, "clone", origin, clone)
	require.NoError(t, os.WriteFile(filepath.Join(clone, "README.md"), []byte("hello\n"), 0o644))
	run(clone, "add", "README.md")
	run(clone, "commit", "-m", "initial")
	run(clone, "push", "origin", "main")
	return origin, clone
}

func newTestCoordinator(t *testing.T, clone string) *Coordinator {
	t.Helper()
	return New(RepoConfig{Slug: "acme/demo", LocalPath: clone, MainBranch: "main"}, nil, nil)
}

func TestRunGitWrapsStderrIntoError(t *testing.T) {
	_, clone := testRemote(t)
	_, err := runGit(context.Background(), clone, "show", "refs/heads/does-not-exist")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "git show")
}

func TestIsDirtyDetectsUncommittedChanges(t *testing.T) {
	_, clone := testRemote(t)
	dirty, err := isDirty(context.Background(), clone)
	require.NoError(t, err)
	assert.False(t, dirty)

	require.NoError(t, os.WriteFile(filepath.Join(clone, "README.md"), []byte("changed\n"), 0o644))
	dirty, err = isDirty(context.Background(), clone)
	require.NoError(t, err)
	assert.True(t, dirty)
}

func TestEnsureWorktreeCreatesNewWorktree(t *testing.T) {
	_, clone := testRemote(t)
	c := newTestCoordinator(t, clone)

	notices, err := c.EnsureWorktree(context.Background(), "ws-alpha")
	require.NoError(t, err)
	assert.Empty(t, notices)

	path := c.worktreePath("ws-alpha")
	assert.True(t, isGitDir(context.Background(), path))
	assert.FileExists(t, filepath.Join(path, "README.md"))
}

func TestEnsureWorktreeIsIdempotent(t *testing.T) {
	_, clone := testRemote(t)
	c := newTestCoordinator(t, clone)
	ctx := context.Background()

	_, err := c.EnsureWorktree(ctx, "ws-alpha")
	require.NoError(t, err)
	_, err = c.EnsureWorktree(ctx, "ws-alpha")
	require.NoError(t, err, "second ensure should sync, not fail on an existing worktree")
}

func TestEnsureWorktreePullsNewCommitsOnSync(t *testing.T) {
	origin, clone := testRemote(t)
	c := newTestCoordinator(t, clone)
	ctx := context.Background()

	_, err := c.EnsureWorktree(ctx, "ws-alpha")
	require.NoError(t, err)

	secondClone := filepath.Join(t.TempDir(), "second-clone")
	cmd := exec.Command("git", "clone", origin, secondClone)
	require.NoError(t, cmd.Run())
	require.NoError(t, os.WriteFile(filepath.Join(secondClone, "NEW.md"), []byte("new\n"), 0o644))
	for _, args := range [][]string{
		{"add", "NEW.md"},
		{"commit", "-m", "second commit"},
		{"push", "origin", "main"},
	} {
		cmd := exec.Command("git", args...)
		cmd.Dir = secondClone
		cmd.Env = append(os.Environ(), "GIT_AUTHOR_NAME=test", "GIT_AUTHOR_EMAIL=test@example.com",
			"GIT_COMMITTER_NAME=test", "GIT_COMMITTER_EMAIL=test@example.com")
		out, err := cmd.CombinedOutput()
		require.NoErrorf(t, err, "git %v: %s", args, out)
	}

	notices, err := c.EnsureWorktree(ctx, "ws-alpha")
	require.NoError(t, err)
	assert.Contains(t, notices, "auto-pulled latest main")
	assert.FileExists(t, filepath.Join(c.worktreePath("ws-alpha"), "NEW.md"))
}

func TestEnsureWorktreeResetsBrokenWorktreeDirectory(t *testing.T) {
	_, clone := testRemote(t)
	c := newTestCoordinator(t, clone)
	ctx := context.Background()

	path := c.worktreePath("ws-alpha")
	require.NoError(t, os.MkdirAll(path, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(path, "stray.txt"), []byte("not a git dir\n"), 0o644))

	_, err := c.EnsureWorktree(ctx, "ws-alpha")
	require.NoError(t, err)
	assert.True(t, isGitDir(ctx, path))
}

func TestMergeToMainRefusesDirtyWorktree(t *testing.T) {
	_, clone := testRemote(t)
	c := newTestCoordinator(t, clone)
	ctx := context.Background()

	_, err := c.EnsureWorktree(ctx, "ws-alpha")
	require.NoError(t, err)
	path := c.worktreePath("ws-alpha")
	require.NoError(t, os.WriteFile(filepath.Join(path, "README.md"), []byte("dirty\n"), 0o644))

	err = c.MergeToMain(ctx, "ws-alpha")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "uncommitted changes")
}

func TestMergeToMainFastForwardsMain(t *testing.T) {
	_, clone := testRemote(t)
	c := newTestCoordinator(t, clone)
	ctx := context.Background()

	_, err := c.EnsureWorktree(ctx, "ws-alpha")
	require.NoError(t, err)
	path := c.worktreePath("ws-alpha")

	require.NoError(t, os.WriteFile(filepath.Join(path, "FEATURE.md"), []byte("feature\n"), 0o644))
	for _, args := range [][]string{{"add", "FEATURE.md"}, {"commit", "-m", "add feature"}} {
		cmd := exec.Command("git", args...)
		cmd.Dir = path
		cmd.Env = append(os.Environ(), "GIT_AUTHOR_NAME=test", "GIT_AUTHOR_EMAIL=test@example.com",
			"GIT_COMMITTER_NAME=test", "GIT_COMMITTER_EMAIL=test@example.com")
		out, err := cmd.CombinedOutput()
		require.NoErrorf(t, err, "git %v: %s", args, out)
	}

	require.NoError(t, c.MergeToMain(ctx, "ws-alpha"))
	assert.FileExists(t, filepath.Join(clone, "FEATURE.md"))
}

func TestTriggerRedeployRollsBackOnDeployFailure(t *testing.T) {
	_, clone := testRemote(t)
	before, err := headSHA(context.Background(), clone)
	require.NoError(t, err)

	deployErr := assert.AnError
	c := New(RepoConfig{Slug: "acme/demo", LocalPath: clone, MainBranch: "main", IsHostRepo: true}, nil,
		func(ctx context.Context, prevSHA, newSHA string, rebuildImage bool) error {
			return deployErr
		})

	err = c.TriggerRedeploy(context.Background())
	require.Error(t, err)

	after, err := headSHA(context.Background(), clone)
	require.NoError(t, err)
	assert.Equal(t, before, after, "HEAD should be rolled back after a failed deploy")
}

func TestTriggerRedeployRequiresDeployHook(t *testing.T) {
	_, clone := testRemote(t)
	c := newTestCoordinator(t, clone)
	err := c.TriggerRedeploy(context.Background())
	require.Error(t, err)
}
