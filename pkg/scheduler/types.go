// Package scheduler implements spec.md §4.7: a task loop that ticks on a configured
// interval, dispatches due LLM-driven scheduled tasks onto the same per-workspace queue
// user messages flow through, and a parallel path that runs host shell cron jobs directly.
package scheduler

import (
	"context"
	"time"

	"github.com/crypdick/pynchy/pkg/models"
	"github.com/crypdick/pynchy/pkg/queue"
	"github.com/crypdick/pynchy/pkg/session"
)

// TaskStore is the subset of persistence the scheduler needs. Implemented by *store.Client.
type TaskStore interface {
	DueTasks(ctx context.Context, asOf time.Time) ([]models.ScheduledTask, error)
	GetScheduledTask(ctx context.Context, id string) (*models.ScheduledTask, error)
	UpdateTaskAfterRun(ctx context.Context, taskID string, runAt time.Time, result string, status models.TaskStatus, nextRun *time.Time) error
	InsertTaskRunLog(ctx context.Context, log models.TaskRunLog) error
	GetSession(ctx context.Context, groupFolder string) (*models.Session, error)
}

// Dispatcher enqueues a task runner onto the workspace's FIFO queue. Implemented by
// *queue.WorkerPool.
type Dispatcher interface {
	Enqueue(item queue.Item)
}

// SessionRunner executes one-shot scheduled-task container runs. Implemented by
// *session.Manager.
type SessionRunner interface {
	RunOneShot(ctx context.Context, folder string, input session.ContainerInput, timeout time.Duration, onOutput session.OutputHandler) error
}

// Interrupter stops a workspace's active container, used by the idle watchdog to force a
// one-shot run to exit rather than block forever on a silent IPC wait. Implemented by
// *session.Manager.
type Interrupter interface {
	Interrupt(ctx context.Context, folder string) error
}

// InputBuilder fills in the agent-core and gateway-facing fields of a ContainerInput for
// folder (agent_core, llm_base_url, llm_ephemeral_key, mcp_servers); the scheduler overlays
// the task-specific fields (prompt, chat jid, resume id, repo access, scheduled_task flag).
// Implemented by the lifecycle orchestrator's wiring closure.
type InputBuilder interface {
	Build(ctx context.Context, folder string) (session.ContainerInput, error)
}

// Notifier broadcasts scheduler-originated chat messages: tool-use previews during a run and
// the git-sync failure notice. Implemented by *outbound.Bus.
type Notifier interface {
	Broadcast(ctx context.Context, chatJID, text, source string) error
}

// GitCompletion finishes a successful scheduled run that carries repo_access: merging the
// workspace's worktree to main or opening/updating a PR, depending on the workspace's
// configured git_policy. Implemented by a small adapter over *gitsync.Coordinator in the
// lifecycle orchestrator (which knows which Coordinator and which policy apply to folder).
type GitCompletion interface {
	CompleteRun(ctx context.Context, folder string) error
}

// sourceLabel tags broadcasts and logs emitted by this package.
const sourceLabel = "scheduler"
