package config

import "time"

// Config is the fully parsed, validated, cascade-resolved contents of config.toml plus
// environment-derived secrets.
type Config struct {
	Agent            AgentConfig
	Container        ContainerConfig
	Server           ServerConfig
	Logging          LoggingConfig
	Secrets          SecretsConfig
	Gateway          GatewayConfig
	Owner            OwnerConfig
	Connections      ConnectionsConfig
	CommandCenter    CommandCenterConfig
	WorkspaceDefault WorkspaceOverrides
	Workspaces       map[string]WorkspaceConfig
	Commands         CommandsConfig
	Scheduler        SchedulerConfig
	CronJobs         map[string]CronJobConfig
	Intervals        IntervalsConfig
	Queue            QueueConfig
	CalDAV           map[string]CalDAVConfig
	Security         SecurityConfig
	Directives       map[string]DirectiveConfig
	Repos            map[string]RepoConfig
	MCPServers       map[string]MCPServerConfig
}

// MCPServerConfig is one `[mcp_servers.<name>]` section: where the gateway's MCP proxy
// finds the real backend and how much it trusts its output.
type MCPServerConfig struct {
	BackendURL   string            `toml:"backend_url"`
	Image        string            `toml:"image"`
	Command      []string          `toml:"command"`
	Env          map[string]string `toml:"env"`
	PublicSource bool              `toml:"public_source"`
}

// AgentConfig drives the trigger pattern and agent-core selection.
type AgentConfig struct {
	Name         string   `toml:"name"`
	TriggerAlias []string `toml:"trigger_aliases"`
	AgentCore    string   `toml:"agent_core"`
}

// ContainerConfig governs the agent sandbox container.
type ContainerConfig struct {
	Image           string `toml:"image"`
	TimeoutMS       int64  `toml:"timeout_ms"`
	MaxOutputSize   int64  `toml:"max_output_size"`
	IdleTimeoutMS   int64  `toml:"idle_timeout_ms"`
	MaxConcurrent   int    `toml:"max_concurrent"`
	RuntimeOverride string `toml:"runtime"`
}

// ServerConfig is the local HTTP status/control API.
type ServerConfig struct {
	Port int `toml:"port"`
}

// LoggingConfig controls the slog level.
type LoggingConfig struct {
	Level string `toml:"level"`
}

// SecretsConfig holds credential material. Values are "env:NAME" indirections or literal
// strings; Initialize resolves them via resolveSecrets.
type SecretsConfig struct {
	AnthropicAPIKey  string `toml:"anthropic_api_key"`
	OpenAIAPIKey     string `toml:"openai_api_key"`
	GitHubToken      string `toml:"github_token"`
	ClaudeOAuthToken string `toml:"claude_oauth_token"`
}

// GatewayConfig selects and configures the LLM+MCP gateway.
type GatewayConfig struct {
	Port              int    `toml:"port"`
	Bind              string `toml:"bind"`
	ContainerHost     string `toml:"container_host"`
	LiteLLMConfigPath string `toml:"litellm_config"`
	LiteLLMImage      string `toml:"litellm_image"`
	PostgresImage     string `toml:"postgres_image"`
	MasterKeyEnv      string `toml:"master_key_env"`
	UIUsername        string `toml:"ui_username"`
	UIPasswordEnv     string `toml:"ui_password_env"`
}

// Mode reports which gateway backend is configured.
func (g GatewayConfig) Mode() string {
	if g.LiteLLMConfigPath != "" {
		return "litellm"
	}
	return "builtin"
}

// OwnerConfig is the per-platform owner identity.
type OwnerConfig struct {
	Slack    string `toml:"slack"`
	WhatsApp string `toml:"whatsapp"`
}

// ConnectionsConfig holds all configured channel connections, keyed by channel kind.
type ConnectionsConfig struct {
	Slack    map[string]SlackConnectionConfig    `toml:"slack"`
	WhatsApp map[string]WhatsAppConnectionConfig `toml:"whatsapp"`
}

// ChatOverride overrides cascade-resolved workspace settings for one specific chat.
type ChatOverride struct {
	Access  string `toml:"access"`
	Trigger string `toml:"trigger"`
}

// SlackConnectionConfig configures one named Slack connection.
type SlackConnectionConfig struct {
	BotTokenEnv string                  `toml:"bot_token_env"`
	AppTokenEnv string                  `toml:"app_token_env"`
	Security    string                  `toml:"security"`
	Chat        map[string]ChatOverride `toml:"chat"`
}

// WhatsAppConnectionConfig configures one named WhatsApp connection.
type WhatsAppConnectionConfig struct {
	AuthDBPath string                  `toml:"auth_db_path"`
	Security   string                  `toml:"security"`
	Chat       map[string]ChatOverride `toml:"chat"`
}

// CommandCenterConfig designates the privileged admin connection.
type CommandCenterConfig struct {
	Connection string `toml:"connection"`
}

// WorkspaceOverrides is the set of fields cascaded defaults -> workspace -> per-channel chat.
type WorkspaceOverrides struct {
	ContextMode  string   `toml:"context_mode"`
	Access       string   `toml:"access"`
	Mode         string   `toml:"mode"`
	Trust        string   `toml:"trust"`
	Trigger      string   `toml:"trigger"`
	AllowedUsers []string `toml:"allowed_users"`
}

// WorkspaceConfig is one [workspaces.<folder>] section.
type WorkspaceConfig struct {
	WorkspaceOverrides

	Name          string            `toml:"name"`
	Chat          string            `toml:"chat"`
	IsAdmin       bool              `toml:"is_admin"`
	RepoAccess    string            `toml:"repo_access"`
	Schedule      string            `toml:"schedule"`
	Prompt        string            `toml:"prompt"`
	Security      WorkspaceSecurity `toml:"security"`
	Skills        []string          `toml:"skills"`
	MCPServers    []string          `toml:"mcp_servers"`
	MCPKwargs     map[string]string `toml:"mcp_kwargs"`
	GitPolicy     string            `toml:"git_policy"`
	IdleTerminate bool              `toml:"idle_terminate"`
}

// WorkspaceSecurity is the [workspaces.<folder>.security] sub-section.
type WorkspaceSecurity struct {
	DefaultTier       string            `toml:"default_tier"`
	ToolTiers         map[string]string `toml:"tool_tiers"`
	MaxCallsPerHour   int               `toml:"max_calls_per_hour"`
	ToolRateOverrides map[string]int    `toml:"tool_rate_overrides"`
}

// CommandsConfig configures magic-command recognition grammar.
type CommandsConfig struct {
	ResetVerbs    []string `toml:"reset_verbs"`
	ResetNouns    []string `toml:"reset_nouns"`
	ResetAliases  []string `toml:"reset_aliases"`
	EndVerbs      []string `toml:"end_verbs"`
	EndNouns      []string `toml:"end_nouns"`
	EndAliases    []string `toml:"end_aliases"`
	RedeployAlias []string `toml:"redeploy_aliases"`
}

// SchedulerConfig configures the task loop cadence and timezone resolution.
type SchedulerConfig struct {
	PollInterval time.Duration `toml:"poll_interval"`
	Timezone     string        `toml:"timezone"`
}

// CronJobConfig is one [cron_jobs.<name>] host shell job.
type CronJobConfig struct {
	Schedule       string `toml:"schedule"`
	Command        string `toml:"command"`
	Cwd            string `toml:"cwd"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
	Enabled        bool   `toml:"enabled"`
}

// IntervalsConfig configures the router and IPC poll cadences.
type IntervalsConfig struct {
	MessagePoll     time.Duration `toml:"message_poll"`
	IPCPoll         time.Duration `toml:"ipc_poll"`
	CatchupInterval time.Duration `toml:"catchup_interval"`
}

// QueueConfig configures per-workspace retry policy.
type QueueConfig struct {
	MaxRetries       int `toml:"max_retries"`
	BaseRetrySeconds int `toml:"base_retry_seconds"`
}

// CalDAVConfig is one [caldav.servers.<name>] section — config plumbing only; the CalDAV
// MCP tool itself is a black box the host never implements.
type CalDAVConfig struct {
	URL             string   `toml:"url"`
	Username        string   `toml:"username"`
	Password        string   `toml:"password"`
	DefaultCalendar string   `toml:"default_calendar"`
	Allow           []string `toml:"allow"`
	Ignore          []string `toml:"ignore"`
}

// SecurityConfig holds the host-wide blocked path patterns.
type SecurityConfig struct {
	BlockedPatterns []string `toml:"blocked_patterns"`
}

// DirectiveConfig points at a system-prompt directive file and its scope.
type DirectiveConfig struct {
	File  string   `toml:"file"`
	Scope []string `toml:"scope"`
}

// RepoConfig is one [repos."<owner/repo>"] section.
type RepoConfig struct {
	LocalPath      string `toml:"local_path"`
	GitHubTokenEnv string `toml:"github_token_env"`
}
