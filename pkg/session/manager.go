package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/crypdick/pynchy/pkg/config"
	"github.com/crypdick/pynchy/pkg/ipc"
)

// ErrSessionDied is returned from Pipe/RunOneShot when the container process exited mid-query
// without first emitting a query-done pulse.
var ErrSessionDied = errors.New("session: container died before query-done pulse")

// ContainerRuntime is the subset of pkg/containerrt.Runtime the session manager needs.
// Implemented by *containerrt.Runtime.
type ContainerRuntime interface {
	ForceRemoveStale(ctx context.Context, name string) error
	Run(ctx context.Context, spec containerRunSpec) (string, error)
	Wait(ctx context.Context, name string) (int64, error)
	Stop(ctx context.Context, name string, timeout time.Duration) error
	Remove(ctx context.Context, name string) error
	Inspect(ctx context.Context, name string) (running bool, exists bool, err error)
}

// containerRunSpec mirrors containerrt.RunSpec so this package doesn't need to import it
// directly in the interface signature above; callers wire a containerrt.Runtime via the
// adapter in runtime_adapter.go.
type containerRunSpec struct {
	Name    string
	Image   string
	Env     []string
	Mounts  []Mount
	Network string
}

// Mount mirrors containerrt.Mount.
type Mount struct {
	Source   string
	Target   string
	ReadOnly bool
}

// WorktreeEnsurer is the narrow git-sync dependency the cold-start path needs. Implemented by
// *gitsync.Coordinator. A nil WorktreeEnsurer skips worktree setup (admin workspaces, or repos
// without repo_access).
type WorktreeEnsurer interface {
	EnsureWorktree(ctx context.Context, folder string) (notices []string, err error)
}

// Manager owns every workspace's container session.
type Manager struct {
	ipc       *ipc.Root
	rt        ContainerRuntime
	cfg       *config.Config
	worktrees WorktreeEnsurer

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewManager builds a Manager. worktrees may be nil if no workspace has repo_access.
func NewManager(root *ipc.Root, rt ContainerRuntime, cfg *config.Config, worktrees WorktreeEnsurer) *Manager {
	return &Manager{
		ipc:       root,
		rt:        rt,
		cfg:       cfg,
		worktrees: worktrees,
		sessions:  make(map[string]*Session),
	}
}

func (m *Manager) get(folder string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[folder]
	return s, ok
}

// HasActiveContainer reports whether folder has a live (non-dead) session.
func (m *Manager) HasActiveContainer(folder string) bool {
	s, ok := m.get(folder)
	return ok && !s.IsDead()
}

// ActiveTaskID reports the id of a scheduled task currently occupying folder's session, if any.
func (m *Manager) ActiveTaskID(folder string) (string, bool) {
	s, ok := m.get(folder)
	if !ok {
		return "", false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.taskID == "" {
		return "", false
	}
	return s.taskID, true
}

// messageContainerName implements the stable naming rule for persistent message sessions.
func messageContainerName(folder string) string {
	return fmt.Sprintf("pynchy-%s", folder)
}

// oneShotContainerName implements the timestamped naming rule for scheduled-task runs.
func oneShotContainerName(folder string) string {
	return fmt.Sprintf("pynchy-%s-%d", folder, time.Now().UnixMilli())
}

// ColdStart spawns a new container session for folder per spec.md §4.2's eight-step cold-start
// sequence, registers it, and returns once the process has been launched (it does not block
// for a query-done pulse — callers await that separately via AwaitQueryDone).
func (m *Manager) ColdStart(ctx context.Context, folder string, input ContainerInput) error {
	var notices []string
	if m.worktrees != nil && input.RepoAccess != "" {
		n, err := m.worktrees.EnsureWorktree(ctx, folder)
		if err != nil {
			return fmt.Errorf("session: ensure worktree for %s: %w", folder, err)
		}
		notices = n
	}
	input.SystemNotices = append(input.SystemNotices, notices...)

	if err := m.ipc.Ensure(folder); err != nil {
		return err
	}
	if err := m.ipc.WriteJSON(folder, ipc.DirInput, "initial", input); err != nil {
		return fmt.Errorf("session: write initial.json for %s: %w", folder, err)
	}

	name := messageContainerName(folder)
	if err := m.rt.ForceRemoveStale(ctx, name); err != nil {
		return err
	}
	if err := m.ipc.CleanStale(folder); err != nil {
		return err
	}

	mounts := m.mountsFor(folder, input)
	id, err := m.rt.Run(ctx, containerRunSpec{
		Name:   name,
		Image:  m.cfg.Container.Image,
		Env:    m.envFor(input),
		Mounts: mounts,
	})
	if err != nil {
		return fmt.Errorf("session: run container %s: %w", name, err)
	}
	slog.Info("session cold start", "folder", folder, "container", name, "id", id)

	idleTimeout := time.Duration(m.cfg.Container.IdleTimeoutMS) * time.Millisecond
	s := newSession(folder, name, false, idleTimeout)
	// The initial.json write above is itself a query; the container's first query-done pulse
	// answers it, so the session starts in-flight rather than idle-alive.
	s.state = StateQueryInFlight

	m.mu.Lock()
	m.sessions[folder] = s
	m.mu.Unlock()

	m.watchProcess(s)
	m.armIdleTimer(s)
	return nil
}

// AwaitQueryDone blocks for folder's first query-done pulse after ColdStart, the synchronous
// counterpart to Pipe's wait for the warm path — used by the queue executor that dispatches a
// cold-started message session and needs the container's reply before it can report the
// queue item as complete.
func (m *Manager) AwaitQueryDone(ctx context.Context, folder string, timeout time.Duration) error {
	s, ok := m.get(folder)
	if !ok {
		return fmt.Errorf("session: no active session for %s", folder)
	}
	s.mu.Lock()
	done := s.queryDone
	s.mu.Unlock()

	if timeout <= 0 {
		timeout = time.Duration(m.cfg.Container.TimeoutMS) * time.Millisecond
		if timeout <= 0 {
			timeout = 5 * time.Minute
		}
	}

	select {
	case <-done:
	case <-time.After(timeout):
		return fmt.Errorf("session: query timed out for %s after %s", folder, timeout)
	case <-ctx.Done():
		return ctx.Err()
	}

	s.mu.Lock()
	died := s.diedBeforePulse
	s.state = StateAlive
	s.mu.Unlock()
	if died {
		return ErrSessionDied
	}
	m.resetIdleTimer(s)
	return nil
}

func (m *Manager) mountsFor(folder string, input ContainerInput) []Mount {
	mounts := []Mount{
		{Source: m.ipc.FolderDir(folder), Target: "/ipc"},
	}
	return mounts
}

func (m *Manager) envFor(input ContainerInput) []string {
	return []string{
		"PYNCHY_WORKSPACE_FOLDER=" + input.WorkspaceFolder,
		"PYNCHY_LLM_BASE_URL=" + input.LLMBaseURL,
		"PYNCHY_LLM_KEY=" + input.LLMEphemeralKey,
	}
}

// watchProcess runs the process monitor: blocks on Wait, then marks the session dead and
// resolves any in-flight query as died-before-pulse.
func (m *Manager) watchProcess(s *Session) {
	go func() {
		_, err := m.rt.Wait(context.Background(), s.ContainerName)
		if err != nil {
			slog.Error("session process wait failed", "folder", s.Folder, "error", err)
		}
		s.mu.Lock()
		s.dead = true
		inFlight := s.state == StateQueryInFlight
		if inFlight {
			s.diedBeforePulse = true
		}
		s.mu.Unlock()
		if inFlight {
			m.signalQueryDone(s)
		}
	}()
}

func (m *Manager) armIdleTimer(s *Session) {
	if s.idleTimeout <= 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.idleTimer != nil {
		s.idleTimer.Stop()
	}
	s.idleTimer = time.AfterFunc(s.idleTimeout, func() {
		_ = m.destroy(context.Background(), s)
	})
}

func (m *Manager) resetIdleTimer(s *Session) {
	s.mu.Lock()
	timer := s.idleTimer
	timeout := s.idleTimeout
	s.mu.Unlock()
	if timer != nil && timeout > 0 {
		timer.Reset(timeout)
	}
}

// Pipe writes a new message into an active session's input/ directory and awaits its
// query-done pulse (the warm path, spec.md §4.2).
func (m *Manager) Pipe(ctx context.Context, folder, text string) error {
	s, ok := m.get(folder)
	if !ok {
		return fmt.Errorf("session: no active session for %s", folder)
	}

	s.mu.Lock()
	if s.dead {
		s.mu.Unlock()
		return ErrSessionDied
	}
	s.state = StateQueryInFlight
	s.queryDone = make(chan struct{})
	done := s.queryDone
	s.mu.Unlock()

	if err := m.ipc.WriteJSON(folder, ipc.DirInput, ipc.NextInputName(), map[string]string{
		"type": "message",
		"text": text,
	}); err != nil {
		return fmt.Errorf("session: write message for %s: %w", folder, err)
	}

	timeout := time.Duration(m.cfg.Container.TimeoutMS) * time.Millisecond
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}

	select {
	case <-done:
	case <-time.After(timeout):
		return fmt.Errorf("session: query timed out for %s after %s", folder, timeout)
	case <-ctx.Done():
		return ctx.Err()
	}

	s.mu.Lock()
	died := s.diedBeforePulse
	s.state = StateAlive
	s.mu.Unlock()
	if died {
		return ErrSessionDied
	}
	m.resetIdleTimer(s)
	return nil
}

// SetOutputHandler attaches onOutput to folder's current session so streamed events (tool-use
// previews, the final result text) reach a caller waiting on AwaitQueryDone. Call it right
// after ColdStart, before the container can emit anything the caller needs to see.
func (m *Manager) SetOutputHandler(folder string, onOutput OutputHandler) {
	s, ok := m.get(folder)
	if !ok {
		return
	}
	s.mu.Lock()
	s.onOutput = onOutput
	s.mu.Unlock()
}

// HandleOutput processes one ipc/<folder>/output/*.json event: query-done pulses update the
// session's resume id and unblock the waiter; every other event is forwarded to onOutput.
func (m *Manager) HandleOutput(folder string, ev OutputEvent) {
	s, ok := m.get(folder)
	if !ok {
		return
	}
	if ev.IsQueryDonePulse() {
		s.mu.Lock()
		s.sessionID = *ev.NewSessionID
		s.mu.Unlock()
		m.signalQueryDone(s)
		return
	}
	s.mu.Lock()
	handler := s.onOutput
	s.mu.Unlock()
	if handler != nil {
		handler(ev)
	}
}

func (m *Manager) signalQueryDone(s *Session) {
	s.mu.Lock()
	done := s.queryDone
	s.mu.Unlock()
	select {
	case <-done:
		// already closed
	default:
		close(done)
	}
}

// Interrupt marks an in-flight query as done (without a real pulse) so a new batch can be
// dispatched over it — used when the router decides to interrupt an active scheduled task.
func (m *Manager) Interrupt(ctx context.Context, folder string) error {
	s, ok := m.get(folder)
	if !ok {
		return nil
	}
	s.mu.Lock()
	s.taskID = ""
	s.mu.Unlock()
	m.signalQueryDone(s)
	return nil
}

// Reset stops and tears down folder's session so the next message cold-starts fresh.
func (m *Manager) Reset(ctx context.Context, folder string) error {
	s, ok := m.get(folder)
	if !ok {
		return nil
	}
	return m.destroy(ctx, s)
}

// EndSession stops folder's session; functionally identical to Reset at the session-manager
// layer (the distinction between "reset" and "end" is the chat-history side effect the router
// applies in pkg/router, not session lifetime itself).
func (m *Manager) EndSession(ctx context.Context, folder string) error {
	return m.Reset(ctx, folder)
}

// destroy implements the five-step stop protocol (spec.md §4.2), always idempotent.
func (m *Manager) destroy(ctx context.Context, s *Session) error {
	s.mu.Lock()
	if s.state == StateDestroying {
		s.mu.Unlock()
		return nil
	}
	s.state = StateDestroying
	if s.idleTimer != nil {
		s.idleTimer.Stop()
	}
	s.dead = true
	s.mu.Unlock()

	_ = m.ipc.WriteSentinel(s.Folder, ipc.DirInput, ipc.CloseSentinel)

	stopCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	if err := m.rt.Stop(stopCtx, s.ContainerName, 5*time.Second); err != nil {
		slog.Error("session stop failed", "folder", s.Folder, "error", err)
	}
	cancel()

	if err := m.rt.Remove(ctx, s.ContainerName); err != nil {
		slog.Error("session remove failed", "folder", s.Folder, "error", err)
	}

	m.signalQueryDone(s)

	m.mu.Lock()
	if m.sessions[s.Folder] == s {
		delete(m.sessions, s.Folder)
	}
	m.mu.Unlock()
	return nil
}

// RunOneShot spawns a scheduled-task session with the idle timer disabled
// (idle_timeout_override = 0), waits for its single query-done pulse, then stops it — spec.md
// §4.2's one-shot run flow. onOutput, if non-nil, receives every streamed event emitted before
// the terminal pulse (the scheduler uses this to broadcast tool-use previews and to drive its
// own idle watchdog); it is wired onto the session, and the session registered, before the
// container starts, so no early event is missed.
func (m *Manager) RunOneShot(ctx context.Context, folder string, input ContainerInput, timeout time.Duration, onOutput OutputHandler) error {
	input.ScheduledTask = true
	name := oneShotContainerName(folder)

	if err := m.ipc.Ensure(folder); err != nil {
		return err
	}
	if err := m.ipc.WriteJSON(folder, ipc.DirInput, "initial", input); err != nil {
		return err
	}
	if err := m.rt.ForceRemoveStale(ctx, name); err != nil {
		return err
	}

	s := newSession(folder, name, true, 0)
	s.state = StateQueryInFlight
	s.onOutput = onOutput

	m.mu.Lock()
	m.sessions[folder] = s
	m.mu.Unlock()

	_, err := m.rt.Run(ctx, containerRunSpec{
		Name:  name,
		Image: m.cfg.Container.Image,
		Env:   m.envFor(input),
		Mounts: []Mount{
			{Source: m.ipc.FolderDir(folder), Target: "/ipc"},
		},
	})
	if err != nil {
		m.mu.Lock()
		if m.sessions[folder] == s {
			delete(m.sessions, folder)
		}
		m.mu.Unlock()
		return fmt.Errorf("session: run one-shot %s: %w", name, err)
	}
	m.watchProcess(s)

	defer func() {
		_ = m.destroy(context.Background(), s)
	}()

	select {
	case <-s.queryDone:
	case <-time.After(timeout):
		return fmt.Errorf("session: one-shot %s timed out after %s", name, timeout)
	case <-ctx.Done():
		return ctx.Err()
	}

	if s.DiedBeforePulse() {
		return ErrSessionDied
	}
	return nil
}
