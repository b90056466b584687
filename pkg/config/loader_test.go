package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfigToml(t *testing.T, dir, contents string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.toml"), []byte(contents), 0o644))
}

func TestInitializeLoadsMinimalConfig(t *testing.T) {
	dir := t.TempDir()
	repoDir := t.TempDir()
	writeConfigToml(t, dir, `
[workspaces.billing-bot]
chat = "120363.000@g.us"
repo_access = "acme/billing"

[repos."acme/billing"]
local_path = "`+repoDir+`"
`)

	cfg, err := Initialize(context.Background(), dir)
	require.NoError(t, err)

	assert.Equal(t, "pynchy-agent:latest", cfg.Container.Image)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "builtin", cfg.Gateway.Mode())
	require.Contains(t, cfg.Workspaces, "billing-bot")
	assert.Equal(t, "120363.000@g.us", cfg.Workspaces["billing-bot"].Chat)
}

func TestInitializeRejectsUnknownKeys(t *testing.T) {
	dir := t.TempDir()
	writeConfigToml(t, dir, `
[workspaces.billing-bot]
chat = "120363.000@g.us"
not_a_real_field = "oops"
`)

	_, err := Initialize(context.Background(), dir)
	require.Error(t, err)
}

func TestInitializeMissingFileIsConfigNotFound(t *testing.T) {
	dir := t.TempDir()

	_, err := Initialize(context.Background(), dir)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrConfigNotFound)
}

func TestInitializeExpandsEnvVars(t *testing.T) {
	t.Setenv("PYNCHY_TEST_ANTHROPIC_KEY", "sk-test-123")

	dir := t.TempDir()
	repoDir := t.TempDir()
	writeConfigToml(t, dir, `
[secrets]
anthropic_api_key = "${PYNCHY_TEST_ANTHROPIC_KEY}"

[workspaces.billing-bot]
chat = "120363.000@g.us"
repo_access = "acme/billing"

[repos."acme/billing"]
local_path = "`+repoDir+`"
`)

	cfg, err := Initialize(context.Background(), dir)
	require.NoError(t, err)
	assert.Equal(t, "sk-test-123", cfg.Secrets.AnthropicAPIKey)
}

func TestResolveSecretFieldPassesThroughLiteralValues(t *testing.T) {
	v, err := resolveSecretField("not-an-indirection")
	require.NoError(t, err)
	assert.Equal(t, "not-an-indirection", v)
}

func TestResolveSecretFieldResolvesEnvIndirection(t *testing.T) {
	t.Setenv("PYNCHY_TEST_SECRET", "hunter2")
	v, err := resolveSecretField("env:PYNCHY_TEST_SECRET")
	require.NoError(t, err)
	assert.Equal(t, "hunter2", v)
}

func TestResolveSecretFieldErrorsOnMissingEnvVar(t *testing.T) {
	os.Unsetenv("PYNCHY_TEST_SECRET_MISSING")
	_, err := resolveSecretField("env:PYNCHY_TEST_SECRET_MISSING")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrMissingRequiredField)
}
