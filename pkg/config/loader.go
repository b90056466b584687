package config

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"
)

// Initialize loads, expands, decodes, defaults, and validates config.toml from
// projectRoot. It also loads a .env file (if present) as a fallback source for any
// environment variable referenced by *_env indirections.
//
// Steps performed:
//  1. Load .env (best-effort; missing file is not an error)
//  2. Read config.toml
//  3. Expand ${VAR} references
//  4. Strict-decode into Config, rejecting unknown keys
//  5. Apply built-in defaults for zero-valued fields
//  6. Resolve "env:NAME" secret indirections in [secrets]
//  7. Validate all configuration
func Initialize(_ context.Context, projectRoot string) (*Config, error) {
	log := slog.With("project_root", projectRoot)
	log.Info("loading configuration")

	envPath := filepath.Join(projectRoot, ".env")
	if err := godotenv.Load(envPath); err != nil {
		log.Debug("no .env file loaded", "path", envPath, "error", err)
	}

	cfg, err := load(filepath.Join(projectRoot, "config.toml"))
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	applyDefaults(cfg)

	if err := resolveSecrets(cfg); err != nil {
		return nil, fmt.Errorf("failed to resolve secrets: %w", err)
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	log.Info("configuration loaded", "workspaces", len(cfg.Workspaces), "gateway_mode", cfg.Gateway.Mode())
	return cfg, nil
}

// load reads and strict-decodes config.toml, rejecting unrecognized keys in any section.
func load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrConfigNotFound, path)
		}
		return nil, err
	}

	data = ExpandEnv(data)

	cfg := &Config{
		Workspaces: make(map[string]WorkspaceConfig),
		CronJobs:   make(map[string]CronJobConfig),
		CalDAV:     make(map[string]CalDAVConfig),
		Directives: make(map[string]DirectiveConfig),
		Repos:      make(map[string]RepoConfig),
	}

	dec := toml.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidTOML, err)
	}

	return cfg, nil
}

// validate performs comprehensive validation on loaded configuration.
func validate(cfg *Config) error {
	return NewValidator(cfg).ValidateAll()
}

// resolveSecrets resolves every "env:NAME" indirection in the [secrets] section. Connection
// *_env fields (bot_token_env, app_token_env) are not resolved here and stay variable names.
func resolveSecrets(cfg *Config) error {
	var err error
	if cfg.Secrets.AnthropicAPIKey, err = resolveSecretField(cfg.Secrets.AnthropicAPIKey); err != nil {
		return err
	}
	if cfg.Secrets.OpenAIAPIKey, err = resolveSecretField(cfg.Secrets.OpenAIAPIKey); err != nil {
		return err
	}
	if cfg.Secrets.GitHubToken, err = resolveSecretField(cfg.Secrets.GitHubToken); err != nil {
		return err
	}
	if cfg.Secrets.ClaudeOAuthToken, err = resolveSecretField(cfg.Secrets.ClaudeOAuthToken); err != nil {
		return err
	}
	return nil
}

// resolveSecretField treats a value of the form "env:NAME" as an indirection to resolve
// from the environment; any other value (including empty) passes through unchanged.
func resolveSecretField(raw string) (string, error) {
	const prefix = "env:"
	if len(raw) <= len(prefix) || raw[:len(prefix)] != prefix {
		return raw, nil
	}
	return resolveSecret(raw[len(prefix):])
}
