package approval

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/crypdick/pynchy/pkg/ipc"
	"github.com/google/uuid"
)

// DefaultTimeout matches spec.md §4.8's APPROVAL_TIMEOUT_SECONDS (~10 minutes).
const DefaultTimeout = 10 * time.Minute

// waiting is one in-flight request: the durable record plus the channel its resolution (or
// timeout) is delivered on.
type waiting struct {
	PendingApproval
	decided chan bool
}

// Manager implements spec.md §4.8's approval flow. It is the *router.ApprovalResolver the
// in-chat "approve <id>"/"deny <id>" command path calls, and is called directly (in-process,
// blocking) by the security gate's write path — e.g. *gateway.MCPProxy — whenever
// evaluate_write returns needs_human.
type Manager struct {
	root     *ipc.Root
	notifier Notifier
	timeout  time.Duration
	logger   *slog.Logger

	mu        sync.Mutex
	byFolder  map[string]map[string]*waiting // folder -> short_id -> waiting
	byRequest map[string]*waiting            // request_id -> waiting
}

// NewManager builds an approval Manager. timeout is the per-request wait before auto-denial;
// pass 0 to use DefaultTimeout.
func NewManager(root *ipc.Root, notifier Notifier, timeout time.Duration) *Manager {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Manager{
		root: root, notifier: notifier, timeout: timeout,
		logger:    slog.Default().With("component", "approval"),
		byFolder:  make(map[string]map[string]*waiting),
		byRequest: make(map[string]*waiting),
	}
}

// RequestApproval files a new pending approval for tool's call in folder, notifies the
// workspace's chat, and blocks until a decision arrives or timeout elapses. A timeout is
// treated as a denial. Safe to call concurrently from multiple in-flight tool calls.
func (m *Manager) RequestApproval(ctx context.Context, folder, chatJID, tool string, payload map[string]any) (bool, error) {
	w, err := m.register(folder, chatJID, tool, payload)
	if err != nil {
		return false, err
	}

	if err := m.notifyPending(ctx, w); err != nil {
		m.logger.Warn("approval: notify pending failed", "request_id", w.RequestID, "error", err)
	}

	timer := time.NewTimer(m.timeout)
	defer timer.Stop()

	select {
	case approved := <-w.decided:
		return approved, nil
	case <-timer.C:
		m.expire(w)
		return false, fmt.Errorf("approval: request %s timed out after %s", w.RequestID, m.timeout)
	case <-ctx.Done():
		m.expire(w)
		return false, ctx.Err()
	}
}

func (m *Manager) register(folder, chatJID, tool string, payload map[string]any) (*waiting, error) {
	requestID := uuid.NewString()

	m.mu.Lock()
	folderPending, ok := m.byFolder[folder]
	if !ok {
		folderPending = make(map[string]*waiting)
		m.byFolder[folder] = folderPending
	}

	var shortID string
	for attempt := 0; attempt < 20; attempt++ {
		candidate, err := randomShortID()
		if err != nil {
			m.mu.Unlock()
			return nil, fmt.Errorf("approval: generate short id: %w", err)
		}
		if _, collide := folderPending[candidate]; !collide {
			shortID = candidate
			break
		}
	}
	if shortID == "" {
		m.mu.Unlock()
		return nil, errors.New("approval: could not allocate a unique short id")
	}

	w := &waiting{
		PendingApproval: PendingApproval{
			RequestID: requestID, ShortID: shortID, Folder: folder, ChatJID: chatJID,
			Tool: tool, Payload: payload, CreatedAt: time.Now(),
		},
		decided: make(chan bool, 1),
	}
	folderPending[shortID] = w
	m.byRequest[requestID] = w
	m.mu.Unlock()

	if err := m.root.WriteJSON(folder, ipc.DirPendingApprovals, requestID, w.PendingApproval); err != nil {
		m.forget(w)
		return nil, fmt.Errorf("approval: write pending_approvals/%s: %w", requestID, err)
	}
	return w, nil
}

func (m *Manager) notifyPending(ctx context.Context, w *waiting) error {
	text := fmt.Sprintf("🔐 Approval required for %s: approve %s / deny %s\n%s",
		w.Tool, w.ShortID, w.ShortID, summarizePayload(w.Payload))
	return m.notifier.Broadcast(ctx, w.ChatJID, text, sourceLabel)
}

// Resolve implements router.ApprovalResolver: the in-chat "approve <id>"/"deny <id>" command
// handler calls this with the short id a human typed back.
func (m *Manager) Resolve(ctx context.Context, folder, shortID string, approved bool) error {
	m.mu.Lock()
	folderPending, ok := m.byFolder[folder]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("approval: no pending approvals for workspace %q", folder)
	}
	w, ok := folderPending[shortID]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("approval: no pending approval %q in workspace %q", shortID, folder)
	}
	delete(folderPending, shortID)
	delete(m.byRequest, w.RequestID)
	m.mu.Unlock()

	if err := m.root.WriteJSON(folder, ipc.DirApprovalDecisions, w.RequestID, decision{Approved: approved}); err != nil {
		m.logger.Warn("approval: write decision record failed", "request_id", w.RequestID, "error", err)
	}
	m.removePendingFile(w.PendingApproval)

	select {
	case w.decided <- approved:
	default:
	}
	return nil
}

// expire drops a timed-out or context-cancelled request from the bookkeeping maps and its
// on-disk pending_approvals record, treating it as a denial.
func (m *Manager) expire(w *waiting) {
	m.forget(w)
	m.removePendingFile(w.PendingApproval)
}

func (m *Manager) forget(w *waiting) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if folderPending, ok := m.byFolder[w.Folder]; ok {
		delete(folderPending, w.ShortID)
	}
	delete(m.byRequest, w.RequestID)
}

func (m *Manager) removePendingFile(p PendingApproval) {
	path := filepath.Join(m.root.FolderDir(p.Folder), ipc.DirPendingApprovals, p.RequestID+".json")
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		m.logger.Warn("approval: remove pending_approvals file failed", "path", path, "error", err)
	}
}

// summarizePayload truncates a tool call's argument map to a human-readable, bounded-length
// line for the chat notification, omitting internal bookkeeping fields.
func summarizePayload(payload map[string]any) string {
	visible := make(map[string]any, len(payload))
	for k, v := range payload {
		switch k {
		case "request_id", "type", "source_group":
			continue
		}
		visible[k] = v
	}
	if len(visible) == 0 {
		return "(no details)"
	}
	const maxLen = 200
	s := fmt.Sprint(visible)
	if len(s) > maxLen {
		s = s[:maxLen]
	}
	return s
}

// ReconcileAtStartup removes any pending_approvals files left over from a previous process —
// nothing is waiting on them in this process's memory, so they can never be resolved.
func (m *Manager) ReconcileAtStartup(ctx context.Context, folders []string) {
	for _, folder := range folders {
		names, err := m.root.ListSorted(folder, ipc.DirPendingApprovals)
		if err != nil {
			m.logger.Warn("approval: list stale pending_approvals failed", "folder", folder, "error", err)
			continue
		}
		for _, path := range names {
			if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
				m.logger.Warn("approval: remove stale pending_approvals file failed", "path", path, "error", err)
			}
		}
	}
}
