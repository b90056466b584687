package router

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/crypdick/pynchy/pkg/config"
	"github.com/crypdick/pynchy/pkg/models"
	"github.com/crypdick/pynchy/pkg/store"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

type fakeSessions struct {
	active     map[string]bool
	activeTask map[string]string
	piped      []string
	interrupts []string
	resets     []string
	ends       []string
}

func newFakeSessions() *fakeSessions {
	return &fakeSessions{active: map[string]bool{}, activeTask: map[string]string{}}
}

func (f *fakeSessions) HasActiveContainer(folder string) bool { return f.active[folder] }
func (f *fakeSessions) ActiveTaskID(folder string) (string, bool) {
	id, ok := f.activeTask[folder]
	return id, ok
}
func (f *fakeSessions) Pipe(_ context.Context, folder, text string) error {
	f.piped = append(f.piped, text)
	return nil
}
func (f *fakeSessions) Interrupt(_ context.Context, folder string) error {
	f.interrupts = append(f.interrupts, folder)
	return nil
}
func (f *fakeSessions) Reset(_ context.Context, folder string) error {
	f.resets = append(f.resets, folder)
	return nil
}
func (f *fakeSessions) EndSession(_ context.Context, folder string) error {
	f.ends = append(f.ends, folder)
	return nil
}

type fakeDispatcher struct{ items []DispatchItem }

func (f *fakeDispatcher) Enqueue(item DispatchItem) { f.items = append(f.items, item) }

type fakeBus struct {
	broadcasts []string
	reactions  []string
}

func (f *fakeBus) Broadcast(_ context.Context, chatJID, text, source string) error {
	f.broadcasts = append(f.broadcasts, text)
	return nil
}
func (f *fakeBus) React(_ context.Context, chatJID, messageID, emoji string) error {
	f.reactions = append(f.reactions, emoji)
	return nil
}

type fakeApprovals struct{ resolved []string }

func (f *fakeApprovals) Resolve(_ context.Context, folder, shortID string, approved bool) error {
	f.resolved = append(f.resolved, shortID)
	return nil
}

func newTestRouter(t *testing.T, sessions *fakeSessions, dispatch *fakeDispatcher, bus *fakeBus, approvals *fakeApprovals) (*Router, *store.Client) {
	t.Helper()
	cli, err := store.NewClient(store.DefaultConfig(filepath.Join(t.TempDir(), "test.db")))
	require.NoError(t, err)
	t.Cleanup(func() { cli.Close() })

	cfg := &config.Config{
		Agent:     config.AgentConfig{Name: "pynchy"},
		Owner:     config.OwnerConfig{Slack: "U_OWNER"},
		Commands:  testCommandsConfig(),
		Intervals: config.IntervalsConfig{MessagePoll: time.Second},
		Workspaces: map[string]config.WorkspaceConfig{
			"acme": {WorkspaceOverrides: config.WorkspaceOverrides{Trigger: "mention"}},
		},
	}

	r, err := New(context.Background(), Deps{
		Store: cli, Config: cfg, Dispatch: dispatch, Sessions: sessions, Bus: bus, Approvals: approvals,
	})
	require.NoError(t, err)
	return r, cli
}

func seedWorkspace(t *testing.T, cli *store.Client, jid, folder string, admin bool) {
	t.Helper()
	require.NoError(t, cli.UpsertWorkspace(context.Background(), models.Workspace{
		JID: jid, Name: folder, Folder: folder, Trigger: "mention", IsAdmin: admin, AddedAt: time.Now(),
	}))
}

func storeMessage(t *testing.T, cli *store.Client, chatJID, content string, ts time.Time) {
	t.Helper()
	require.NoError(t, cli.InsertMessage(context.Background(), models.Message{
		ID: uuid.NewString(), ChatJID: chatJID, Sender: "U1", Content: content,
		Timestamp: ts, MessageType: models.MessageTypeUser,
	}))
}

func TestTickColdStartsOnTriggerMatch(t *testing.T) {
	sessions, dispatch, bus, approvals := newFakeSessions(), &fakeDispatcher{}, &fakeBus{}, &fakeApprovals{}
	r, cli := newTestRouter(t, sessions, dispatch, bus, approvals)
	seedWorkspace(t, cli, "acme@g.us", "acme", false)
	storeMessage(t, cli, "acme@g.us", "@pynchy summarize", time.Now().UTC())

	require.NoError(t, r.Tick(context.Background()))
	require.Len(t, dispatch.items, 1)
	require.Equal(t, "acme", dispatch.items[0].WorkspaceFolder)
}

func TestTickSkipsNonTriggeredMessageForMentionWorkspace(t *testing.T) {
	sessions, dispatch, bus, approvals := newFakeSessions(), &fakeDispatcher{}, &fakeBus{}, &fakeApprovals{}
	r, cli := newTestRouter(t, sessions, dispatch, bus, approvals)
	seedWorkspace(t, cli, "acme@g.us", "acme", false)
	storeMessage(t, cli, "acme@g.us", "just chatting, no mention", time.Now().UTC())

	require.NoError(t, r.Tick(context.Background()))
	require.Empty(t, dispatch.items)
}

func TestTickHandlesResetCommand(t *testing.T) {
	sessions, dispatch, bus, approvals := newFakeSessions(), &fakeDispatcher{}, &fakeBus{}, &fakeApprovals{}
	r, cli := newTestRouter(t, sessions, dispatch, bus, approvals)
	seedWorkspace(t, cli, "acme@g.us", "acme", false)
	storeMessage(t, cli, "acme@g.us", "@pynchy boom", time.Now().UTC())

	require.NoError(t, r.Tick(context.Background()))
	require.Equal(t, []string{"acme"}, sessions.resets)
	require.Empty(t, dispatch.items)
	require.Contains(t, bus.broadcasts, "session reset")
}

func TestTickInterruptsActiveTaskOnNonForwardMessage(t *testing.T) {
	sessions, dispatch, bus, approvals := newFakeSessions(), &fakeDispatcher{}, &fakeBus{}, &fakeApprovals{}
	sessions.activeTask["acme"] = "task-1"
	r, cli := newTestRouter(t, sessions, dispatch, bus, approvals)
	seedWorkspace(t, cli, "acme@g.us", "acme", false)
	storeMessage(t, cli, "acme@g.us", "@pynchy stop and do X", time.Now().UTC())

	require.NoError(t, r.Tick(context.Background()))
	require.Equal(t, []string{"acme"}, sessions.interrupts)
	require.Len(t, dispatch.items, 1)
}

func TestTickPipesIntoActiveContainerAndReacts(t *testing.T) {
	sessions, dispatch, bus, approvals := newFakeSessions(), &fakeDispatcher{}, &fakeBus{}, &fakeApprovals{}
	sessions.active["acme"] = true
	r, cli := newTestRouter(t, sessions, dispatch, bus, approvals)
	seedWorkspace(t, cli, "acme@g.us", "acme", false)
	storeMessage(t, cli, "acme@g.us", "@pynchy keep going", time.Now().UTC())

	require.NoError(t, r.Tick(context.Background()))
	require.Len(t, sessions.piped, 1)
	require.Len(t, bus.reactions, 1)
}

func TestAdvanceAgentCursorIsMonotonic(t *testing.T) {
	sessions, dispatch, bus, approvals := newFakeSessions(), &fakeDispatcher{}, &fakeBus{}, &fakeApprovals{}
	r, cli := newTestRouter(t, sessions, dispatch, bus, approvals)
	_ = cli

	t1 := time.Now().UTC()
	t0 := t1.Add(-time.Minute)
	require.NoError(t, r.AdvanceAgentCursor(context.Background(), "acme", t1))
	require.NoError(t, r.AdvanceAgentCursor(context.Background(), "acme", t0))

	state, err := cli.GetRouterState(context.Background())
	require.NoError(t, err)
	require.True(t, state.LastAgentTimestamp["acme"].Equal(t1))
}
