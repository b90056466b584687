package scheduler

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/crypdick/pynchy/pkg/models"
	"github.com/crypdick/pynchy/pkg/queue"
	"github.com/crypdick/pynchy/pkg/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestComputeNextRunInterval(t *testing.T) {
	task := models.ScheduledTask{ID: "t1", ScheduleType: models.ScheduleInterval, ScheduleValue: "15m"}
	after := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	next, done, err := ComputeNextRun(task, after, time.UTC)
	require.NoError(t, err)
	assert.False(t, done)
	assert.Equal(t, after.Add(15*time.Minute), next)
}

func TestComputeNextRunCron(t *testing.T) {
	task := models.ScheduledTask{ID: "t1", ScheduleType: models.ScheduleCron, ScheduleValue: "0 9 * * *"}
	after := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)

	next, done, err := ComputeNextRun(task, after, time.UTC)
	require.NoError(t, err)
	assert.False(t, done)
	assert.Equal(t, time.Date(2026, 1, 2, 9, 0, 0, 0, time.UTC), next)
}

func TestComputeNextRunOnceMarksDone(t *testing.T) {
	task := models.ScheduledTask{ID: "t1", ScheduleType: models.ScheduleOnce}
	_, done, err := ComputeNextRun(task, time.Now(), time.UTC)
	require.NoError(t, err)
	assert.True(t, done)
}

func TestResolveTimezoneFallsBackToUTC(t *testing.T) {
	loc := ResolveTimezone("Not/A_Real_Zone")
	assert.Equal(t, time.UTC, loc)

	loc = ResolveTimezone("America/New_York")
	assert.Equal(t, "America/New_York", loc.String())
}

// --- fakes ---

type fakeTaskStore struct {
	mu      sync.Mutex
	tasks   map[string]*models.ScheduledTask
	runLogs []models.TaskRunLog
	session map[string]models.Session
}

func newFakeTaskStore() *fakeTaskStore {
	return &fakeTaskStore{tasks: map[string]*models.ScheduledTask{}, session: map[string]models.Session{}}
}

func (f *fakeTaskStore) DueTasks(ctx context.Context, asOf time.Time) ([]models.ScheduledTask, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.ScheduledTask
	for _, t := range f.tasks {
		if t.Status == models.TaskActive && !t.NextRun.After(asOf) {
			out = append(out, *t)
		}
	}
	return out, nil
}

func (f *fakeTaskStore) GetScheduledTask(ctx context.Context, id string) (*models.ScheduledTask, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.tasks[id]
	if !ok {
		return nil, fmt.Errorf("no such task %s", id)
	}
	cp := *t
	return &cp, nil
}

func (f *fakeTaskStore) UpdateTaskAfterRun(ctx context.Context, taskID string, runAt time.Time, result string, status models.TaskStatus, nextRun *time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	t := f.tasks[taskID]
	t.LastRun = &runAt
	t.LastResult = result
	t.Status = status
	if nextRun != nil {
		t.NextRun = *nextRun
	}
	return nil
}

func (f *fakeTaskStore) InsertTaskRunLog(ctx context.Context, log models.TaskRunLog) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.runLogs = append(f.runLogs, log)
	return nil
}

func (f *fakeTaskStore) GetSession(ctx context.Context, groupFolder string) (*models.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.session[groupFolder]
	if !ok {
		return nil, fmt.Errorf("no session for %s", groupFolder)
	}
	return &s, nil
}

type fakeDispatcher struct {
	mu    sync.Mutex
	items []queue.Item
}

func (d *fakeDispatcher) Enqueue(item queue.Item) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.items = append(d.items, item)
}

type fakeSessionRunner struct {
	onOutputEvents []session.OutputEvent
	err            error
}

func (r *fakeSessionRunner) RunOneShot(ctx context.Context, folder string, input session.ContainerInput, timeout time.Duration, onOutput session.OutputHandler) error {
	for _, ev := range r.onOutputEvents {
		if onOutput != nil {
			onOutput(ev)
		}
	}
	return r.err
}

type fakeInterrupter struct {
	called bool
}

func (f *fakeInterrupter) Interrupt(ctx context.Context, folder string) error {
	f.called = true
	return nil
}

type fakeInputBuilder struct{}

func (fakeInputBuilder) Build(ctx context.Context, folder string) (session.ContainerInput, error) {
	return session.ContainerInput{WorkspaceFolder: folder, AgentCore: "claude"}, nil
}

type fakeNotifier struct {
	mu        sync.Mutex
	broadcast []string
}

func (n *fakeNotifier) Broadcast(ctx context.Context, chatJID, text, source string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.broadcast = append(n.broadcast, text)
	return nil
}

type fakeGitCompletion struct {
	called bool
	err    error
}

func (g *fakeGitCompletion) CompleteRun(ctx context.Context, folder string) error {
	g.called = true
	return g.err
}

func TestLoopTickEnqueuesOnlyActiveDueTasks(t *testing.T) {
	store := newFakeTaskStore()
	store.tasks["due"] = &models.ScheduledTask{ID: "due", GroupFolder: "acme", Status: models.TaskActive, NextRun: time.Now().Add(-time.Minute)}
	store.tasks["paused"] = &models.ScheduledTask{ID: "paused", GroupFolder: "acme", Status: models.TaskPaused, NextRun: time.Now().Add(-time.Minute)}
	store.tasks["future"] = &models.ScheduledTask{ID: "future", GroupFolder: "acme", Status: models.TaskActive, NextRun: time.Now().Add(time.Hour)}

	dispatch := &fakeDispatcher{}
	loop := NewLoop(store, dispatch, time.Second)

	require.NoError(t, loop.tick(context.Background()))

	require.Len(t, dispatch.items, 1)
	assert.Equal(t, "due", dispatch.items[0].TaskID)
}

func TestTaskExecutorRunsAndAdvancesSchedule(t *testing.T) {
	store := newFakeTaskStore()
	store.tasks["t1"] = &models.ScheduledTask{
		ID: "t1", GroupFolder: "acme", ChatJID: "chat-1", Prompt: "check things",
		ScheduleType: models.ScheduleInterval, ScheduleValue: "1h",
		Status: models.TaskActive, ContextMode: models.ContextModeIsolated,
	}

	result := "all good"
	runner := &fakeSessionRunner{onOutputEvents: []session.OutputEvent{
		{Type: "assistant", Result: &result, Text: "checking..."},
	}}
	notifier := &fakeNotifier{}
	exec := NewTaskExecutor(store, runner, &fakeInterrupter{}, fakeInputBuilder{}, notifier, nil, time.Second, time.Minute, time.UTC)

	res := exec.Execute(context.Background(), queue.Item{WorkspaceFolder: "acme", TaskID: "t1"})

	require.NoError(t, res.Error)
	assert.Equal(t, "completed", res.Status)
	assert.Equal(t, "all good", res.Response)
	assert.NotEmpty(t, notifier.broadcast)

	updated := store.tasks["t1"]
	assert.Equal(t, models.TaskActive, updated.Status)
	assert.True(t, updated.NextRun.After(time.Now()))
	require.Len(t, store.runLogs, 1)
	assert.Equal(t, "completed", store.runLogs[0].Status)
}

func TestTaskExecutorSkipsPausedTask(t *testing.T) {
	store := newFakeTaskStore()
	store.tasks["t1"] = &models.ScheduledTask{ID: "t1", GroupFolder: "acme", Status: models.TaskPaused}

	runner := &fakeSessionRunner{}
	exec := NewTaskExecutor(store, runner, &fakeInterrupter{}, fakeInputBuilder{}, &fakeNotifier{}, nil, time.Second, time.Minute, time.UTC)

	res := exec.Execute(context.Background(), queue.Item{WorkspaceFolder: "acme", TaskID: "t1"})
	assert.Equal(t, "completed", res.Status)
	assert.Contains(t, res.Response, "skipped")
}

func TestTaskExecutorMarksOnceTaskCompleted(t *testing.T) {
	store := newFakeTaskStore()
	store.tasks["t1"] = &models.ScheduledTask{ID: "t1", GroupFolder: "acme", ScheduleType: models.ScheduleOnce, Status: models.TaskActive}

	runner := &fakeSessionRunner{}
	exec := NewTaskExecutor(store, runner, &fakeInterrupter{}, fakeInputBuilder{}, &fakeNotifier{}, nil, time.Second, time.Minute, time.UTC)

	exec.Execute(context.Background(), queue.Item{WorkspaceFolder: "acme", TaskID: "t1"})

	assert.Equal(t, models.TaskCompleted, store.tasks["t1"].Status)
}

func TestTaskExecutorInvokesGitCompletionOnSuccessWithRepoAccess(t *testing.T) {
	store := newFakeTaskStore()
	store.tasks["t1"] = &models.ScheduledTask{
		ID: "t1", GroupFolder: "acme", ScheduleType: models.ScheduleInterval, ScheduleValue: "1h",
		Status: models.TaskActive, RepoAccess: "acme-repo",
	}

	git := &fakeGitCompletion{}
	runner := &fakeSessionRunner{}
	exec := NewTaskExecutor(store, runner, &fakeInterrupter{}, fakeInputBuilder{}, &fakeNotifier{}, git, time.Second, time.Minute, time.UTC)

	exec.Execute(context.Background(), queue.Item{WorkspaceFolder: "acme", TaskID: "t1"})

	assert.True(t, git.called)
}

func TestTaskExecutorSkipsGitCompletionOnFailure(t *testing.T) {
	store := newFakeTaskStore()
	store.tasks["t1"] = &models.ScheduledTask{
		ID: "t1", GroupFolder: "acme", ScheduleType: models.ScheduleInterval, ScheduleValue: "1h",
		Status: models.TaskActive, RepoAccess: "acme-repo",
	}

	git := &fakeGitCompletion{}
	runner := &fakeSessionRunner{err: fmt.Errorf("boom")}
	exec := NewTaskExecutor(store, runner, &fakeInterrupter{}, fakeInputBuilder{}, &fakeNotifier{}, git, time.Second, time.Minute, time.UTC)

	res := exec.Execute(context.Background(), queue.Item{WorkspaceFolder: "acme", TaskID: "t1"})

	assert.Error(t, res.Error)
	assert.False(t, git.called)
	assert.Equal(t, models.TaskActive, store.tasks["t1"].Status)
}

func TestIdleWatchdogFiresAfterSilence(t *testing.T) {
	fired := make(chan struct{}, 1)
	w := newIdleWatchdog(20*time.Millisecond, func() { fired <- struct{}{} })
	w.start()
	defer w.stop()

	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Fatal("watchdog did not fire")
	}
}

func TestIdleWatchdogFiresAfterKick(t *testing.T) {
	fired := make(chan struct{}, 1)
	w := newIdleWatchdog(40*time.Millisecond, func() { fired <- struct{}{} })
	w.start()
	defer w.stop()

	time.Sleep(20 * time.Millisecond)
	w.kick()

	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Fatal("watchdog did not fire after kick")
	}
}
