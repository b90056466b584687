package config

import (
	"fmt"
	"os"
)

// Validator validates a loaded, defaulted Config for internal consistency.
type Validator struct {
	cfg *Config
}

// NewValidator creates a validator for the given configuration.
func NewValidator(cfg *Config) *Validator {
	return &Validator{cfg: cfg}
}

// ValidateAll performs comprehensive validation (fail-fast, stops at first error).
func (v *Validator) ValidateAll() error {
	if err := v.validateContainer(); err != nil {
		return fmt.Errorf("container validation failed: %w", err)
	}
	if err := v.validateQueue(); err != nil {
		return fmt.Errorf("queue validation failed: %w", err)
	}
	if err := v.validateScheduler(); err != nil {
		return fmt.Errorf("scheduler validation failed: %w", err)
	}
	if err := v.validateConnections(); err != nil {
		return fmt.Errorf("connections validation failed: %w", err)
	}
	if err := v.validateWorkspaces(); err != nil {
		return fmt.Errorf("workspace validation failed: %w", err)
	}
	if err := v.validateCronJobs(); err != nil {
		return fmt.Errorf("cron job validation failed: %w", err)
	}
	if err := v.validateRepos(); err != nil {
		return fmt.Errorf("repo validation failed: %w", err)
	}
	if err := v.validateDirectives(); err != nil {
		return fmt.Errorf("directive validation failed: %w", err)
	}
	return nil
}

func (v *Validator) validateContainer() error {
	c := v.cfg.Container
	if c.TimeoutMS <= 0 {
		return NewValidationError("container", "", "timeout_ms", fmt.Errorf("must be positive"))
	}
	if c.IdleTimeoutMS <= 0 {
		return NewValidationError("container", "", "idle_timeout_ms", fmt.Errorf("must be positive"))
	}
	if c.MaxConcurrent < 1 {
		return NewValidationError("container", "", "max_concurrent", fmt.Errorf("must be at least 1"))
	}
	if c.MaxOutputSize < 1024 {
		return NewValidationError("container", "", "max_output_size", fmt.Errorf("must be at least 1024 bytes"))
	}
	return nil
}

func (v *Validator) validateQueue() error {
	q := v.cfg.Queue
	if q.MaxRetries < 0 {
		return NewValidationError("queue", "", "max_retries", fmt.Errorf("must be non-negative"))
	}
	if q.BaseRetrySeconds < 1 {
		return NewValidationError("queue", "", "base_retry_seconds", fmt.Errorf("must be at least 1"))
	}
	return nil
}

func (v *Validator) validateScheduler() error {
	s := v.cfg.Scheduler
	if s.PollInterval <= 0 {
		return NewValidationError("scheduler", "", "poll_interval", fmt.Errorf("must be positive"))
	}
	return nil
}

// validateConnections checks that every Slack connection sets bot_token_env and every
// WhatsApp connection sets auth_db_path, that no chat override key is empty, and that
// command_center names a configured connection. It does not check whether a *_env value is a
// variable name or a literal secret.
func (v *Validator) validateConnections() error {
	for name, slack := range v.cfg.Connections.Slack {
		if slack.BotTokenEnv == "" {
			return NewValidationError("connections.slack", name, "bot_token_env", ErrMissingRequiredField)
		}
		for jid := range slack.Chat {
			if jid == "" {
				return NewValidationError("connections.slack", name, "chat", fmt.Errorf("%w: empty chat key", ErrInvalidValue))
			}
		}
	}
	for name, wa := range v.cfg.Connections.WhatsApp {
		if wa.AuthDBPath == "" {
			return NewValidationError("connections.whatsapp", name, "auth_db_path", ErrMissingRequiredField)
		}
		for jid := range wa.Chat {
			if jid == "" {
				return NewValidationError("connections.whatsapp", name, "chat", fmt.Errorf("%w: empty chat key", ErrInvalidValue))
			}
		}
	}

	if v.cfg.CommandCenter.Connection != "" {
		name := v.cfg.CommandCenter.Connection
		if _, ok := v.cfg.Connections.Slack[name]; ok {
			return nil
		}
		if _, ok := v.cfg.Connections.WhatsApp[name]; ok {
			return nil
		}
		return NewValidationError("command_center", "", "connection", fmt.Errorf("%w: %s", ErrInvalidReference, name))
	}
	return nil
}

// validateWorkspaces enforces folder and chat JID uniqueness (two workspaces can never
// share a folder, and the same chat JID cannot be pinned to two workspaces), and checks
// every cross-reference a [workspaces.<folder>] section can make.
func (v *Validator) validateWorkspaces() error {
	seenFolders := make(map[string]bool)
	seenChats := make(map[string]string)

	for folder, ws := range v.cfg.Workspaces {
		if folder == "" {
			return NewValidationError("workspaces", "", "", fmt.Errorf("%w: empty folder key", ErrInvalidValue))
		}
		if seenFolders[folder] {
			return NewValidationError("workspaces", folder, "", fmt.Errorf("%w: duplicate folder", ErrInvalidValue))
		}
		seenFolders[folder] = true

		if ws.Chat != "" {
			if owner, exists := seenChats[ws.Chat]; exists {
				return NewValidationError("workspaces", folder, "chat",
					fmt.Errorf("%w: chat '%s' already bound to workspace '%s'", ErrInvalidValue, ws.Chat, owner))
			}
			seenChats[ws.Chat] = folder
		}

		if ws.RepoAccess != "" {
			if _, ok := v.cfg.Repos[ws.RepoAccess]; !ok {
				return NewValidationError("workspaces", folder, "repo_access", fmt.Errorf("%w: %s", ErrInvalidReference, ws.RepoAccess))
			}
		}

		if ws.GitPolicy != "" && ws.GitPolicy != "merge-to-main" && ws.GitPolicy != "pull-request" {
			return NewValidationError("workspaces", folder, "git_policy", fmt.Errorf("%w: %s", ErrInvalidValue, ws.GitPolicy))
		}

		for _, serverName := range ws.MCPServers {
			if serverName == "" {
				return NewValidationError("workspaces", folder, "mcp_servers", fmt.Errorf("%w: empty server name", ErrInvalidValue))
			}
		}

		if err := v.validateWorkspaceSecurity(folder, ws.Security); err != nil {
			return err
		}
	}
	return nil
}

func (v *Validator) validateWorkspaceSecurity(folder string, sec WorkspaceSecurity) error {
	switch sec.DefaultTier {
	case "", "always-approve", "rules-engine", "human-approval":
	default:
		return NewValidationError("workspaces", folder, "security.default_tier", fmt.Errorf("%w: %s", ErrInvalidValue, sec.DefaultTier))
	}
	for tool, tier := range sec.ToolTiers {
		switch tier {
		case "always-approve", "rules-engine", "human-approval":
		default:
			return NewValidationError("workspaces", folder, "security.tool_tiers."+tool, fmt.Errorf("%w: %s", ErrInvalidValue, tier))
		}
	}
	if sec.MaxCallsPerHour < 0 {
		return NewValidationError("workspaces", folder, "security.max_calls_per_hour", fmt.Errorf("%w: must be non-negative", ErrInvalidValue))
	}
	for tool, rate := range sec.ToolRateOverrides {
		if rate < 0 {
			return NewValidationError("workspaces", folder, "security.tool_rate_overrides."+tool, fmt.Errorf("%w: must be non-negative", ErrInvalidValue))
		}
	}
	return nil
}

func (v *Validator) validateCronJobs() error {
	for name, job := range v.cfg.CronJobs {
		if job.Schedule == "" {
			return NewValidationError("cron_jobs", name, "schedule", ErrMissingRequiredField)
		}
		if job.Command == "" {
			return NewValidationError("cron_jobs", name, "command", ErrMissingRequiredField)
		}
		if job.TimeoutSeconds < 0 {
			return NewValidationError("cron_jobs", name, "timeout_seconds", fmt.Errorf("%w: must be non-negative", ErrInvalidValue))
		}
	}
	return nil
}

// validateRepos ensures each repo's local_path exists on the host filesystem and, when a
// github_token_env indirection is named, that the referenced environment variable is set.
func (v *Validator) validateRepos() error {
	for slug, repo := range v.cfg.Repos {
		if repo.LocalPath == "" {
			return NewValidationError("repos", slug, "local_path", ErrMissingRequiredField)
		}
		if info, err := os.Stat(repo.LocalPath); err != nil || !info.IsDir() {
			return NewValidationError("repos", slug, "local_path", fmt.Errorf("%w: %s is not an accessible directory", ErrInvalidValue, repo.LocalPath))
		}
		if repo.GitHubTokenEnv != "" {
			if _, ok := os.LookupEnv(repo.GitHubTokenEnv); !ok {
				return NewValidationError("repos", slug, "github_token_env", fmt.Errorf("%w: %s", ErrMissingRequiredField, repo.GitHubTokenEnv))
			}
		}
	}
	return nil
}

// validateDirectives ensures every directive file exists and its scope names known
// workspace folders (an empty scope means "all workspaces").
func (v *Validator) validateDirectives() error {
	for name, d := range v.cfg.Directives {
		if d.File == "" {
			return NewValidationError("directives", name, "file", ErrMissingRequiredField)
		}
		if _, err := os.Stat(d.File); err != nil {
			return NewValidationError("directives", name, "file", fmt.Errorf("%w: %s", ErrInvalidValue, d.File))
		}
		for _, folder := range d.Scope {
			if _, ok := v.cfg.Workspaces[folder]; !ok {
				return NewValidationError("directives", name, "scope", fmt.Errorf("%w: %s", ErrInvalidReference, folder))
			}
		}
	}
	return nil
}
