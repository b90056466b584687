package session

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/crypdick/pynchy/pkg/config"
	"github.com/crypdick/pynchy/pkg/ipc"
	"github.com/stretchr/testify/require"
)

type fakeRuntime struct {
	waitCh map[string]chan struct{}
	stopped []string
	removed []string
}

func newFakeRuntime() *fakeRuntime {
	return &fakeRuntime{waitCh: make(map[string]chan struct{})}
}

func (f *fakeRuntime) ForceRemoveStale(ctx context.Context, name string) error { return nil }

func (f *fakeRuntime) Run(ctx context.Context, spec containerRunSpec) (string, error) {
	f.waitCh[spec.Name] = make(chan struct{})
	return spec.Name, nil
}

func (f *fakeRuntime) Wait(ctx context.Context, name string) (int64, error) {
	ch, ok := f.waitCh[name]
	if !ok {
		return 0, nil
	}
	<-ch
	return 0, nil
}

func (f *fakeRuntime) Stop(ctx context.Context, name string, timeout time.Duration) error {
	f.stopped = append(f.stopped, name)
	f.killProcess(name)
	return nil
}

func (f *fakeRuntime) Remove(ctx context.Context, name string) error {
	f.removed = append(f.removed, name)
	return nil
}

func (f *fakeRuntime) Inspect(ctx context.Context, name string) (bool, bool, error) {
	_, ok := f.waitCh[name]
	return ok, ok, nil
}

func (f *fakeRuntime) killProcess(name string) {
	if ch, ok := f.waitCh[name]; ok {
		select {
		case <-ch:
		default:
			close(ch)
		}
	}
}

func newTestManager(t *testing.T) (*Manager, *fakeRuntime) {
	t.Helper()
	rt := newFakeRuntime()
	root := ipc.NewRoot(filepath.Join(t.TempDir(), "ipc"))
	cfg := &config.Config{
		Container: config.ContainerConfig{
			Image:         "pynchy/agent:latest",
			TimeoutMS:     2000,
			IdleTimeoutMS: 0,
		},
	}
	return NewManager(root, rt, cfg, nil), rt
}

func TestColdStartRegistersInFlightSession(t *testing.T) {
	m, _ := newTestManager(t)
	err := m.ColdStart(context.Background(), "acme", ContainerInput{WorkspaceFolder: "acme"})
	require.NoError(t, err)
	require.True(t, m.HasActiveContainer("acme"))

	s, ok := m.get("acme")
	require.True(t, ok)
	require.Equal(t, StateQueryInFlight, s.State())
}

func TestPipeUnblocksOnQueryDonePulse(t *testing.T) {
	m, _ := newTestManager(t)
	require.NoError(t, m.ColdStart(context.Background(), "acme", ContainerInput{WorkspaceFolder: "acme"}))

	done := make(chan error, 1)
	go func() {
		done <- m.Pipe(context.Background(), "acme", "hello")
	}()

	time.Sleep(20 * time.Millisecond)
	sid := "sess-123"
	m.HandleOutput("acme", OutputEvent{Type: "result", NewSessionID: &sid})

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Pipe did not unblock on query-done pulse")
	}

	s, _ := m.get("acme")
	require.Equal(t, "sess-123", s.SessionID())
}

func TestPipeReturnsSessionDiedWhenProcessExitsMidQuery(t *testing.T) {
	m, rt := newTestManager(t)
	require.NoError(t, m.ColdStart(context.Background(), "acme", ContainerInput{WorkspaceFolder: "acme"}))

	done := make(chan error, 1)
	go func() {
		done <- m.Pipe(context.Background(), "acme", "hello")
	}()

	time.Sleep(20 * time.Millisecond)
	rt.killProcess(messageContainerName("acme"))

	select {
	case err := <-done:
		require.ErrorIs(t, err, ErrSessionDied)
	case <-time.After(time.Second):
		t.Fatal("Pipe did not unblock on process death")
	}
}

func TestResetDestroysSessionIdempotently(t *testing.T) {
	m, rt := newTestManager(t)
	require.NoError(t, m.ColdStart(context.Background(), "acme", ContainerInput{WorkspaceFolder: "acme"}))

	require.NoError(t, m.Reset(context.Background(), "acme"))
	require.NoError(t, m.Reset(context.Background(), "acme")) // idempotent: no session left, no-op

	require.False(t, m.HasActiveContainer("acme"))
	require.Contains(t, rt.stopped, messageContainerName("acme"))
	require.Contains(t, rt.removed, messageContainerName("acme"))
}

func TestRunOneShotDisablesIdleTimerAndStopsAfterPulse(t *testing.T) {
	m, rt := newTestManager(t)

	resultCh := make(chan error, 1)
	go func() {
		resultCh <- m.RunOneShot(context.Background(), "acme", ContainerInput{WorkspaceFolder: "acme"}, time.Second, nil)
	}()

	time.Sleep(20 * time.Millisecond)
	// Find the one-shot container name the fake runtime registered.
	var name string
	for n := range rt.waitCh {
		name = n
	}
	require.NotEmpty(t, name)

	sid := "sess-1"
	m.HandleOutput("acme", OutputEvent{Type: "result", NewSessionID: &sid})

	select {
	case err := <-resultCh:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("RunOneShot did not complete")
	}
	require.Contains(t, rt.stopped, name)
}
