package config

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func baseValidConfig(t *testing.T) *Config {
	t.Helper()
	repoDir := t.TempDir()
	return &Config{
		Container: ContainerConfig{TimeoutMS: 1000, IdleTimeoutMS: 1000, MaxConcurrent: 1, MaxOutputSize: 4096},
		Queue:     QueueConfig{MaxRetries: 3, BaseRetrySeconds: 2},
		Scheduler: SchedulerConfig{PollInterval: 1},
		Workspaces: map[string]WorkspaceConfig{
			"billing-bot": {
				Chat:       "120363.000@g.us",
				RepoAccess: "acme/billing",
				GitPolicy:  "merge-to-main",
				Security:   WorkspaceSecurity{DefaultTier: "rules-engine"},
			},
		},
		Repos: map[string]RepoConfig{
			"acme/billing": {LocalPath: repoDir},
		},
		CronJobs:   map[string]CronJobConfig{},
		CalDAV:     map[string]CalDAVConfig{},
		Directives: map[string]DirectiveConfig{},
	}
}

func TestValidateAllAcceptsWellFormedConfig(t *testing.T) {
	cfg := baseValidConfig(t)
	require.NoError(t, NewValidator(cfg).ValidateAll())
}

func TestValidateWorkspacesRejectsDuplicateChat(t *testing.T) {
	cfg := baseValidConfig(t)
	cfg.Workspaces["second-bot"] = WorkspaceConfig{Chat: "120363.000@g.us"}

	err := NewValidator(cfg).ValidateAll()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidValue)
}

func TestValidateWorkspacesRejectsUnknownRepoAccess(t *testing.T) {
	cfg := baseValidConfig(t)
	ws := cfg.Workspaces["billing-bot"]
	ws.RepoAccess = "acme/does-not-exist"
	cfg.Workspaces["billing-bot"] = ws

	err := NewValidator(cfg).ValidateAll()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidReference)
}

func TestValidateWorkspacesRejectsBadGitPolicy(t *testing.T) {
	cfg := baseValidConfig(t)
	ws := cfg.Workspaces["billing-bot"]
	ws.GitPolicy = "rebase-and-pray"
	cfg.Workspaces["billing-bot"] = ws

	err := NewValidator(cfg).ValidateAll()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidValue)
}

func TestValidateReposRejectsMissingLocalPath(t *testing.T) {
	cfg := baseValidConfig(t)
	cfg.Repos["acme/billing"] = RepoConfig{LocalPath: "/nonexistent/path/does-not-exist"}

	err := NewValidator(cfg).ValidateAll()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidValue)
}

func TestValidateReposRequiresGitHubTokenEnvToBeSet(t *testing.T) {
	cfg := baseValidConfig(t)
	repo := cfg.Repos["acme/billing"]
	repo.GitHubTokenEnv = "PYNCHY_TEST_UNSET_TOKEN_VAR"
	cfg.Repos["acme/billing"] = repo
	os.Unsetenv("PYNCHY_TEST_UNSET_TOKEN_VAR")

	err := NewValidator(cfg).ValidateAll()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrMissingRequiredField)
}

func TestValidateConnectionsRequiresBotTokenEnv(t *testing.T) {
	cfg := baseValidConfig(t)
	cfg.Connections.Slack = map[string]SlackConnectionConfig{
		"primary": {AppTokenEnv: "SLACK_APP_TOKEN"},
	}

	err := NewValidator(cfg).ValidateAll()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrMissingRequiredField)
}

func TestValidateCommandCenterRejectsUnknownConnection(t *testing.T) {
	cfg := baseValidConfig(t)
	cfg.CommandCenter.Connection = "ghost-connection"

	err := NewValidator(cfg).ValidateAll()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidReference)
}

func TestValidateWorkspaceSecurityRejectsUnknownTier(t *testing.T) {
	cfg := baseValidConfig(t)
	ws := cfg.Workspaces["billing-bot"]
	ws.Security.DefaultTier = "yolo"
	cfg.Workspaces["billing-bot"] = ws

	err := NewValidator(cfg).ValidateAll()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidValue)
}

func TestValidateDirectivesRejectsMissingFile(t *testing.T) {
	cfg := baseValidConfig(t)
	cfg.Directives["house-rules"] = DirectiveConfig{File: "/nonexistent/house-rules.md"}

	err := NewValidator(cfg).ValidateAll()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidValue)
}

func TestValidateDirectivesRejectsUnknownScope(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := dir + "/house-rules.md"
	require.NoError(t, os.WriteFile(path, []byte("be nice"), 0o644))

	cfg := baseValidConfig(t)
	cfg.Directives["house-rules"] = DirectiveConfig{File: path, Scope: []string{"no-such-workspace"}}

	err := NewValidator(cfg).ValidateAll()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidReference)
}
