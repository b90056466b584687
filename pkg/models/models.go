// Package models defines the durable entities persisted by the state store.
package models

import "time"

// MessageType discriminates the origin and visibility of a Message.
type MessageType string

const (
	MessageTypeUser          MessageType = "user"
	MessageTypeAssistant     MessageType = "assistant"
	MessageTypeSystem        MessageType = "system"
	MessageTypeHost          MessageType = "host"
	MessageTypeSystemNotice  MessageType = "system_notice"
	MessageTypeToolResult    MessageType = "tool_result"
)

// Chat is a conversation identified by an opaque channel-native JID.
type Chat struct {
	JID             string
	Name            string
	LastMessageTime time.Time
	ClearedAt       *time.Time
}

// Message is one line of chat history.
type Message struct {
	ID          string
	ChatJID     string
	Sender      string
	SenderName  string
	Content     string
	Timestamp   time.Time
	IsFromMe    bool
	MessageType MessageType
	Metadata    string // raw JSON, optional
}

// SecurityProfile is the per-workspace MCP tool risk policy.
type SecurityProfile struct {
	DefaultTier        ToolTier
	ToolTiers          map[string]ToolTier
	MaxCallsPerHour    int
	ToolRateOverrides  map[string]int
	FilesystemReadOnly bool
	NetworkDenied      bool
}

// ToolTier is the risk classification assigned to an MCP tool.
type ToolTier string

const (
	TierAlwaysApprove ToolTier = "always-approve"
	TierRulesEngine   ToolTier = "rules-engine"
	TierHumanApproval ToolTier = "human-approval"
)

// Workspace is the unit of addressability: a chat, a folder, a queue, a session slot.
type Workspace struct {
	JID      string
	Name     string
	Folder   string
	Trigger  string
	IsAdmin  bool
	Security SecurityProfile
	AddedAt  time.Time

	// RepoAccess, when non-empty, names the repo slug this workspace has a worktree for.
	RepoAccess string
	GitPolicy  string // "merge-to-main" | "pull-request"
}

// Session maps a workspace folder to the opaque session id assigned by the agent runtime.
type Session struct {
	GroupFolder string
	SessionID   string
}

// ScheduleType enumerates how a ScheduledTask recurs.
type ScheduleType string

const (
	ScheduleCron     ScheduleType = "cron"
	ScheduleInterval ScheduleType = "interval"
	ScheduleOnce     ScheduleType = "once"
)

// TaskStatus is the lifecycle state of a ScheduledTask.
type TaskStatus string

const (
	TaskActive    TaskStatus = "active"
	TaskPaused    TaskStatus = "paused"
	TaskCompleted TaskStatus = "completed"
)

// ContextMode controls whether a scheduled run shares the workspace's chat session.
type ContextMode string

const (
	ContextModeGroup    ContextMode = "group"
	ContextModeIsolated ContextMode = "isolated"
)

// ScheduledTask is an LLM-driven periodic or one-shot agent run.
type ScheduledTask struct {
	ID            string
	GroupFolder   string
	ChatJID       string
	Prompt        string
	ScheduleType  ScheduleType
	ScheduleValue string
	NextRun       time.Time
	LastRun       *time.Time
	LastResult    string
	Status        TaskStatus
	ContextMode   ContextMode
	RepoAccess    string
}

// TaskRunLog is an append-only record of one ScheduledTask execution.
type TaskRunLog struct {
	TaskID     string
	RunAt      time.Time
	DurationMS int64
	Status     string
	Result     string
	Error      string
}

// HostJob is a shell command run directly on the host, with no container involved.
type HostJob struct {
	Name           string
	Command        string
	Cwd            string
	TimeoutSeconds int
	Enabled        bool
	Schedule       string
}

// JIDAlias lets one logical workspace be reachable under multiple channel-native addresses.
type JIDAlias struct {
	AliasJID    string
	CanonicalJID string
	ChannelName string
}

// CursorDirection distinguishes inbound reconciliation cursors from outbound ones.
type CursorDirection string

const (
	CursorInbound  CursorDirection = "inbound"
	CursorOutbound CursorDirection = "outbound"
)

// ChannelCursor is a monotonic per-channel-per-chat watermark.
type ChannelCursor struct {
	ChannelName string
	ChatJID     string
	Direction   CursorDirection
	CursorValue string
	UpdatedAt   time.Time
}

// OutboundLedgerEntry is one logical broadcast, possibly delivered on several channels.
type OutboundLedgerEntry struct {
	ID        string
	ChatJID   string
	Content   string
	Timestamp time.Time
	Source    string
}

// OutboundDelivery records the per-channel fate of one OutboundLedgerEntry.
type OutboundDelivery struct {
	LedgerID    string
	ChannelName string
	DeliveredAt *time.Time
	Error       string
}

// RouterState is the small persisted key/value the router needs to resume correctly.
type RouterState struct {
	LastTimestamp      time.Time
	LastAgentTimestamp map[string]time.Time // workspace folder -> cursor
}

// VerificationVerdict is the cached outcome of checking a plugin's source at a given commit.
type VerificationVerdict string

const (
	VerdictPass VerificationVerdict = "pass"
	VerdictFail VerificationVerdict = "fail"
)

// PluginVerification caches a pass/fail verdict for (plugin, git sha). Error verdicts are
// never cached — they retry on next boot.
type PluginVerification struct {
	PluginName string
	GitSHA     string
	Verdict    VerificationVerdict
	Reasoning  string
	VerifiedAt time.Time
}
