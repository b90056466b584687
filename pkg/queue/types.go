// Package queue implements the per-workspace FIFO message queue and the worker pool that
// drains it into the container session manager.
package queue

import (
	"context"
	"errors"
	"time"

	"github.com/crypdick/pynchy/pkg/models"
)

// Sentinel errors for queue operations.
var (
	// ErrNoItemsAvailable indicates no workspace currently has pending work.
	ErrNoItemsAvailable = errors.New("no items available")

	// ErrAtCapacity indicates the global concurrent session limit has been reached.
	ErrAtCapacity = errors.New("at capacity")

	// ErrWorkspaceBusy indicates another worker already owns this workspace's queue head;
	// per-workspace ordering means only one worker may drain a given folder at a time.
	ErrWorkspaceBusy = errors.New("workspace busy")
)

// Item is one unit of dispatchable work: a chat message routed to a workspace, or a
// scheduled task run. Exactly one of Message or TaskID is set.
type Item struct {
	WorkspaceFolder string
	Message         *models.Message
	TaskID          string
	EnqueuedAt      time.Time
}

// Executor processes one Item against its workspace's container session and returns the
// terminal result. The executor owns the entire per-item lifecycle: acquiring or warming
// the container session, writing the IPC input, waiting for the query-done pulse, and
// reading the response back out.
type Executor interface {
	Execute(ctx context.Context, item Item) *ExecutionResult
}

// ExecutionResult is the terminal outcome of one dispatched item.
type ExecutionResult struct {
	Status   string // "completed" | "failed" | "timed_out"
	Response string
	Error    error
}

// PoolHealth reports the state of the whole worker pool.
type PoolHealth struct {
	IsHealthy      bool           `json:"is_healthy"`
	ActiveWorkers  int            `json:"active_workers"`
	TotalWorkers   int            `json:"total_workers"`
	ActiveSessions int            `json:"active_sessions"`
	MaxConcurrent  int            `json:"max_concurrent"`
	QueueDepth     int            `json:"queue_depth"`
	WorkerStats    []WorkerHealth `json:"worker_stats"`
}

// WorkerHealth reports the state of a single worker goroutine.
type WorkerHealth struct {
	ID                string    `json:"id"`
	Status            string    `json:"status"` // "idle" or "working"
	CurrentWorkspace  string    `json:"current_workspace,omitempty"`
	ItemsProcessed    int       `json:"items_processed"`
	LastActivity      time.Time `json:"last_activity"`
}
