package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/crypdick/pynchy/pkg/models"
	"github.com/crypdick/pynchy/pkg/queue"
	"github.com/crypdick/pynchy/pkg/session"
)

// TaskExecutor implements queue.Executor for queue items carrying a TaskID: it runs a
// scheduled task's single one-shot query (§4.2), streams previews to the workspace's chat,
// guards against a silently-hung run with an idle watchdog, and on completion advances or
// retires the task and appends a run log. The lifecycle orchestrator composes this with a
// sibling executor for plain chat-message items before handing either to *queue.WorkerPool.
type TaskExecutor struct {
	store       TaskStore
	runner      SessionRunner
	interrupter Interrupter
	inputs      InputBuilder
	notifier    Notifier
	git         GitCompletion // nil disables the post-run merge/PR step entirely

	timeout     time.Duration
	idleTimeout time.Duration
	timezone    *time.Location

	logger *slog.Logger
}

// NewTaskExecutor wires a TaskExecutor. timeout bounds the whole one-shot run; idleTimeout is
// the silence window the watchdog enforces; timezone resolves cron/interval next-run math
// (see ResolveTimezone). git may be nil for deployments with no repo-backed workspaces.
func NewTaskExecutor(store TaskStore, runner SessionRunner, interrupter Interrupter, inputs InputBuilder, notifier Notifier, git GitCompletion, timeout, idleTimeout time.Duration, timezone *time.Location) *TaskExecutor {
	return &TaskExecutor{
		store: store, runner: runner, interrupter: interrupter, inputs: inputs, notifier: notifier, git: git,
		timeout: timeout, idleTimeout: idleTimeout, timezone: timezone,
		logger: slog.Default().With("component", "scheduler"),
	}
}

// Execute runs one scheduled task to completion. item.TaskID must be set; items carrying a
// plain Message are not this executor's concern.
func (e *TaskExecutor) Execute(ctx context.Context, item queue.Item) *queue.ExecutionResult {
	if item.TaskID == "" {
		return &queue.ExecutionResult{Status: "failed", Error: fmt.Errorf("scheduler: executor received a non-task item for %s", item.WorkspaceFolder)}
	}

	task, err := e.store.GetScheduledTask(ctx, item.TaskID)
	if err != nil {
		return &queue.ExecutionResult{Status: "failed", Error: fmt.Errorf("scheduler: load task %s: %w", item.TaskID, err)}
	}
	if task.Status != models.TaskActive {
		return &queue.ExecutionResult{Status: "completed", Response: "skipped: task no longer active"}
	}

	input, err := e.inputs.Build(ctx, task.GroupFolder)
	if err != nil {
		return &queue.ExecutionResult{Status: "failed", Error: fmt.Errorf("scheduler: build container input for %s: %w", task.GroupFolder, err)}
	}
	input.Messages = []string{task.Prompt}
	input.ChatJID = task.ChatJID
	input.ScheduledTask = true
	input.RepoAccess = task.RepoAccess

	if task.ContextMode == models.ContextModeGroup {
		if sess, serr := e.store.GetSession(ctx, task.GroupFolder); serr == nil {
			input.ResumeSessionID = sess.SessionID
		}
	}

	watchdog := newIdleWatchdog(e.idleTimeout, func() {
		if ierr := e.interrupter.Interrupt(ctx, task.GroupFolder); ierr != nil {
			e.logger.Warn("scheduler: idle watchdog interrupt failed", "task_id", task.ID, "folder", task.GroupFolder, "error", ierr)
		}
	})

	var lastResult string
	onOutput := func(ev session.OutputEvent) {
		watchdog.kick()
		switch {
		case ev.Error != nil:
			lastResult = *ev.Error
		case ev.Result != nil:
			lastResult = *ev.Result
		case ev.Text != "":
			lastResult = ev.Text
		}
		if ev.Text == "" {
			return
		}
		if berr := e.notifier.Broadcast(ctx, task.ChatJID, ev.Text, sourceLabel); berr != nil {
			e.logger.Warn("scheduler: broadcast preview failed", "task_id", task.ID, "error", berr)
		}
	}

	runAt := time.Now()
	watchdog.start()
	runErr := e.runner.RunOneShot(ctx, task.GroupFolder, input, e.timeout, onOutput)
	watchdog.stop()

	status := "completed"
	if runErr != nil {
		status = "failed"
		if lastResult == "" {
			lastResult = runErr.Error()
		}
	}

	if runErr == nil && task.RepoAccess != "" && e.git != nil {
		if gerr := e.git.CompleteRun(ctx, task.GroupFolder); gerr != nil {
			e.logger.Error("scheduler: git completion failed", "task_id", task.ID, "folder", task.GroupFolder, "error", gerr)
			if berr := e.notifier.Broadcast(ctx, task.ChatJID, fmt.Sprintf("⚠️ task completed but git sync failed: %s", gerr), sourceLabel); berr != nil {
				e.logger.Warn("scheduler: broadcast git-sync failure notice failed", "task_id", task.ID, "error", berr)
			}
		}
	}

	summary := truncateResult(lastResult)
	e.persistResult(ctx, task, runAt, status, summary, runErr)

	return &queue.ExecutionResult{Status: status, Response: summary, Error: runErr}
}

func (e *TaskExecutor) persistResult(ctx context.Context, task *models.ScheduledTask, runAt time.Time, status, summary string, runErr error) {
	newStatus := models.TaskActive
	var nextRunPtr *time.Time

	nextRun, done, nrErr := ComputeNextRun(*task, runAt, e.timezone)
	switch {
	case nrErr != nil:
		e.logger.Error("scheduler: compute next run, leaving schedule unchanged", "task_id", task.ID, "error", nrErr)
	case done:
		newStatus = models.TaskCompleted
	default:
		nextRunPtr = &nextRun
	}

	if err := e.store.UpdateTaskAfterRun(ctx, task.ID, runAt, summary, newStatus, nextRunPtr); err != nil {
		e.logger.Error("scheduler: persist task result", "task_id", task.ID, "error", err)
	}

	logErr := ""
	if runErr != nil {
		logErr = runErr.Error()
	}
	log := models.TaskRunLog{
		TaskID:     task.ID,
		RunAt:      runAt,
		DurationMS: time.Since(runAt).Milliseconds(),
		Status:     status,
		Result:     summary,
		Error:      logErr,
	}
	if err := e.store.InsertTaskRunLog(ctx, log); err != nil {
		e.logger.Error("scheduler: insert task run log", "task_id", task.ID, "error", err)
	}
}
