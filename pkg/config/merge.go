package config

import "time"

const (
	defaultSchedulerPollInterval = 30 * time.Second
	defaultMessagePollInterval   = 2 * time.Second
	defaultIPCPollInterval       = 500 * time.Millisecond
	defaultCatchupInterval       = 60 * time.Second
)

// applyDefaults fills zero-valued fields with built-in defaults. It runs after decode and
// before validation, so a bare-bones config.toml with only [workspaces.*] sections still
// produces a runnable Config.
func applyDefaults(cfg *Config) {
	if cfg.Container.Image == "" {
		cfg.Container.Image = "pynchy-agent:latest"
	}
	if cfg.Container.TimeoutMS == 0 {
		cfg.Container.TimeoutMS = 300_000
	}
	if cfg.Container.IdleTimeoutMS == 0 {
		cfg.Container.IdleTimeoutMS = 600_000
	}
	if cfg.Container.MaxConcurrent == 0 {
		cfg.Container.MaxConcurrent = 4
	}
	if cfg.Container.MaxOutputSize == 0 {
		cfg.Container.MaxOutputSize = 1 << 20
	}

	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}

	if cfg.Gateway.Port == 0 {
		cfg.Gateway.Port = 4000
	}
	if cfg.Gateway.Bind == "" {
		cfg.Gateway.Bind = "127.0.0.1"
	}

	if cfg.Queue.MaxRetries == 0 {
		cfg.Queue.MaxRetries = 5
	}
	if cfg.Queue.BaseRetrySeconds == 0 {
		cfg.Queue.BaseRetrySeconds = 2
	}

	if cfg.Scheduler.PollInterval == 0 {
		cfg.Scheduler.PollInterval = defaultSchedulerPollInterval
	}
	if cfg.Scheduler.Timezone == "" {
		cfg.Scheduler.Timezone = "UTC"
	}

	if cfg.Intervals.MessagePoll == 0 {
		cfg.Intervals.MessagePoll = defaultMessagePollInterval
	}
	if cfg.Intervals.IPCPoll == 0 {
		cfg.Intervals.IPCPoll = defaultIPCPollInterval
	}
	if cfg.Intervals.CatchupInterval == 0 {
		cfg.Intervals.CatchupInterval = defaultCatchupInterval
	}

	if len(cfg.Commands.ResetVerbs) == 0 {
		cfg.Commands.ResetVerbs = []string{"new", "reset", "clear"}
	}
	if len(cfg.Commands.ResetNouns) == 0 {
		cfg.Commands.ResetNouns = []string{"chat", "session", "conversation"}
	}
	if len(cfg.Commands.EndVerbs) == 0 {
		cfg.Commands.EndVerbs = []string{"end", "stop", "kill"}
	}
	if len(cfg.Commands.EndNouns) == 0 {
		cfg.Commands.EndNouns = []string{"chat", "session"}
	}

	for folder, ws := range cfg.Workspaces {
		ws.WorkspaceOverrides = mergeOverrides(cfg.WorkspaceDefault, ws.WorkspaceOverrides)
		if ws.Security.DefaultTier == "" {
			ws.Security.DefaultTier = "rules-engine"
		}
		cfg.Workspaces[folder] = ws
	}
}

// mergeOverrides layers a workspace's own overrides on top of the global
// [workspace_default] section: any field left zero-valued at the workspace level falls
// through to the default. Per-chat overrides (ChatOverride) are applied later, at message
// routing time, since they depend on which connection a message arrived on.
func mergeOverrides(base, override WorkspaceOverrides) WorkspaceOverrides {
	merged := base
	if override.ContextMode != "" {
		merged.ContextMode = override.ContextMode
	}
	if override.Access != "" {
		merged.Access = override.Access
	}
	if override.Mode != "" {
		merged.Mode = override.Mode
	}
	if override.Trust != "" {
		merged.Trust = override.Trust
	}
	if override.Trigger != "" {
		merged.Trigger = override.Trigger
	}
	if len(override.AllowedUsers) > 0 {
		merged.AllowedUsers = override.AllowedUsers
	}
	return merged
}

// ResolveChatOverride applies a connection's per-chat [connections.*.chat.<jid>] override
// on top of a workspace's already-cascaded settings. It is called at routing time, not at
// load time, because the same workspace folder can be reached from more than one chat JID
// via a JIDAlias.
func ResolveChatOverride(base WorkspaceOverrides, chat ChatOverride) WorkspaceOverrides {
	merged := base
	if chat.Access != "" {
		merged.Access = chat.Access
	}
	if chat.Trigger != "" {
		merged.Trigger = chat.Trigger
	}
	return merged
}
