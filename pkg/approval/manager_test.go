package approval

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/crypdick/pynchy/pkg/ipc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeNotifier struct {
	mu   sync.Mutex
	sent []string
}

func (n *fakeNotifier) Broadcast(ctx context.Context, chatJID, text, source string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, text)
	return nil
}

func newTestManager(t *testing.T, timeout time.Duration) (*Manager, *ipc.Root, *fakeNotifier) {
	t.Helper()
	base := t.TempDir()
	root := ipc.NewRoot(base)
	require.NoError(t, root.Ensure("acme"))
	notifier := &fakeNotifier{}
	return NewManager(root, notifier, timeout), root, notifier
}

func TestRequestApprovalResolvesOnApprove(t *testing.T) {
	mgr, root, notifier := newTestManager(t, time.Minute)

	var approved bool
	var err error
	done := make(chan struct{})
	go func() {
		approved, err = mgr.RequestApproval(context.Background(), "acme", "chat-1", "delete_file", map[string]any{"path": "/tmp/x"})
		close(done)
	}()

	// Wait until the pending approval is registered and we can read back its short id.
	var shortID string
	require.Eventually(t, func() bool {
		mgr.mu.Lock()
		defer mgr.mu.Unlock()
		for id := range mgr.byFolder["acme"] {
			shortID = id
			return true
		}
		return false
	}, time.Second, time.Millisecond)

	require.NoError(t, mgr.Resolve(context.Background(), "acme", shortID, true))

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("RequestApproval did not return after Resolve")
	}
	require.NoError(t, err)
	assert.True(t, approved)
	assert.NotEmpty(t, notifier.sent)
	assert.Contains(t, notifier.sent[0], shortID)

	names, err := root.ListSorted("acme", ipc.DirPendingApprovals)
	require.NoError(t, err)
	assert.Empty(t, names, "resolved approval should remove its pending_approvals file")
}

func TestRequestApprovalDeniedByResolve(t *testing.T) {
	mgr, _, _ := newTestManager(t, time.Minute)

	done := make(chan bool, 1)
	go func() {
		approved, _ := mgr.RequestApproval(context.Background(), "acme", "chat-1", "run_shell", nil)
		done <- approved
	}()

	var shortID string
	require.Eventually(t, func() bool {
		mgr.mu.Lock()
		defer mgr.mu.Unlock()
		for id := range mgr.byFolder["acme"] {
			shortID = id
			return true
		}
		return false
	}, time.Second, time.Millisecond)

	require.NoError(t, mgr.Resolve(context.Background(), "acme", shortID, false))
	assert.False(t, <-done)
}

func TestRequestApprovalTimesOutAsDenial(t *testing.T) {
	mgr, root, _ := newTestManager(t, 20*time.Millisecond)

	approved, err := mgr.RequestApproval(context.Background(), "acme", "chat-1", "run_shell", nil)
	assert.False(t, approved)
	assert.Error(t, err)

	names, err := root.ListSorted("acme", ipc.DirPendingApprovals)
	require.NoError(t, err)
	assert.Empty(t, names)
}

func TestResolveRejectsUnknownShortID(t *testing.T) {
	mgr, _, _ := newTestManager(t, time.Minute)
	err := mgr.Resolve(context.Background(), "acme", "zz", true)
	assert.Error(t, err)
}

func TestReconcileAtStartupRemovesOrphanedPendingFiles(t *testing.T) {
	mgr, root, _ := newTestManager(t, time.Minute)
	require.NoError(t, root.WriteJSON("acme", ipc.DirPendingApprovals, "orphan-1", PendingApproval{RequestID: "orphan-1", Folder: "acme"}))

	mgr.ReconcileAtStartup(context.Background(), []string{"acme"})

	names, err := root.ListSorted("acme", ipc.DirPendingApprovals)
	require.NoError(t, err)
	assert.Empty(t, names)
}

func TestSummarizePayloadHandlesEmpty(t *testing.T) {
	assert.Equal(t, "(no details)", summarizePayload(nil))
	assert.NotEmpty(t, summarizePayload(map[string]any{"a": 1}))
}
