package scheduler

import (
	"context"
	"log/slog"
	"time"

	"github.com/crypdick/pynchy/pkg/models"
	"github.com/crypdick/pynchy/pkg/queue"
)

// Loop implements spec.md §4.7's task loop: on every poll_interval tick it queries due
// tasks, re-checks each one's status (it may have been paused since the query ran), and
// enqueues a task-runner item onto the workspace's own FIFO so task runs and user messages
// for the same folder never execute concurrently.
type Loop struct {
	store        TaskStore
	dispatch     Dispatcher
	pollInterval time.Duration
	logger       *slog.Logger
}

// NewLoop builds the task loop. pollInterval should come from config's scheduler.poll_interval.
func NewLoop(store TaskStore, dispatch Dispatcher, pollInterval time.Duration) *Loop {
	return &Loop{
		store:        store,
		dispatch:     dispatch,
		pollInterval: pollInterval,
		logger:       slog.Default().With("component", "scheduler"),
	}
}

// Run ticks until ctx is cancelled.
func (l *Loop) Run(ctx context.Context) {
	ticker := time.NewTicker(l.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := l.tick(ctx); err != nil {
				l.logger.Error("scheduler tick failed", "error", err)
			}
		}
	}
}

func (l *Loop) tick(ctx context.Context) error {
	due, err := l.store.DueTasks(ctx, time.Now())
	if err != nil {
		return err
	}

	for _, t := range due {
		fresh, err := l.store.GetScheduledTask(ctx, t.ID)
		if err != nil {
			l.logger.Error("scheduler: re-check task before dispatch", "task_id", t.ID, "error", err)
			continue
		}
		if fresh.Status != models.TaskActive {
			continue
		}

		l.dispatch.Enqueue(queue.Item{
			WorkspaceFolder: fresh.GroupFolder,
			TaskID:          fresh.ID,
			EnqueuedAt:      time.Now(),
		})
	}
	return nil
}
