// Package session implements the Container Session Manager (spec.md §4.2): it owns the
// lifetime of the in-container agent process per workspace, presents a query-level interface
// to the router, and routes output reliably even across container restarts.
package session

import (
	"sync"
	"time"
)

// State is one node in the per-workspace session state machine:
// None -> Cold-starting -> Alive -> Query-in-flight -> Alive -> Destroying -> None, plus Dead.
type State string

const (
	StateNone          State = "none"
	StateColdStarting  State = "cold_starting"
	StateAlive         State = "alive"
	StateQueryInFlight State = "query_in_flight"
	StateDestroying    State = "destroying"
	StateDead          State = "dead"
)

// MCPServerConfig points the in-container agent at one MCP proxy instance.
type MCPServerConfig struct {
	Name string
	URL  string
}

// ContainerInput is the immutable payload written to ipc/<folder>/input/initial.json for the
// container to read on boot.
type ContainerInput struct {
	Messages        []string          `json:"messages"`
	WorkspaceFolder string            `json:"workspace_folder"`
	ChatJID         string            `json:"chat_jid"`
	IsAdmin         bool              `json:"is_admin"`
	ResumeSessionID string            `json:"resume_session_id,omitempty"`
	ScheduledTask   bool              `json:"scheduled_task"`
	SystemNotices   []string          `json:"system_notices,omitempty"`
	RepoAccess      string            `json:"repo_access,omitempty"`
	AgentCore       string            `json:"agent_core"`
	LLMBaseURL      string            `json:"llm_base_url"`
	LLMEphemeralKey string            `json:"llm_ephemeral_key"`
	MCPServers      []MCPServerConfig `json:"mcp_servers,omitempty"`
}

// OutputEvent is one line of container-emitted output (ipc/<folder>/output/*.json). A
// query-done pulse is an event with Type "result", Result nil, Error nil, and NewSessionID set.
type OutputEvent struct {
	Type          string  `json:"type"`
	Result        *string `json:"result"`
	NewSessionID  *string `json:"new_session_id"`
	Error         *string `json:"error"`
	Text          string  `json:"text,omitempty"`
}

// IsQueryDonePulse reports whether e is the terminal marker for one query turn.
func (e OutputEvent) IsQueryDonePulse() bool {
	return e.Type == "result" && e.Result == nil && e.Error == nil && e.NewSessionID != nil
}

// OutputHandler is invoked for every non-pulse output event emitted during an in-flight query
// (e.g. streamed assistant text, tool-use trace) — wired by the caller (router/outbound bus).
type OutputHandler func(ev OutputEvent)

// Session is one workspace's live container session.
type Session struct {
	Folder        string
	ContainerName string
	OneShot       bool // true for scheduled-task one-shot runs

	mu              sync.Mutex
	state           State
	sessionID       string // resume id, set on each query-done pulse
	dead            bool
	diedBeforePulse bool
	queryDone       chan struct{}
	onOutput        OutputHandler
	idleTimer       *time.Timer
	idleTimeout     time.Duration
	taskID          string // non-empty while a scheduled task occupies this session
}

func newSession(folder, containerName string, oneShot bool, idleTimeout time.Duration) *Session {
	return &Session{
		Folder:        folder,
		ContainerName: containerName,
		OneShot:       oneShot,
		state:         StateColdStarting,
		queryDone:     make(chan struct{}),
		idleTimeout:   idleTimeout,
	}
}

// State returns the session's current state (thread-safe).
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// SessionID returns the most recent resume id from a query-done pulse, if any.
func (s *Session) SessionID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessionID
}

// DiedBeforePulse reports whether the container process exited mid-query without emitting a
// query-done pulse first (spec.md §4.2 death semantics).
func (s *Session) DiedBeforePulse() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.diedBeforePulse
}

// IsDead reports whether the process monitor has observed the container exit.
func (s *Session) IsDead() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dead
}
