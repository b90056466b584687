// Package router turns the ordered stream of inbound messages into per-workspace agent
// activations: cursor-tracked polling, access/sender/trigger gating, special-command
// interception, and the pipe/enqueue/interrupt dispatch decision.
package router

import (
	"context"
	"time"
)

// SessionManager is the subset of the container session manager the router needs to make
// and act on dispatch decisions. Implemented by *session.Manager.
type SessionManager interface {
	// HasActiveContainer reports whether a container of any kind is currently live for folder.
	HasActiveContainer(folder string) bool
	// ActiveTaskID reports the scheduled-task id running for folder when the active
	// container is a one-shot task run rather than a message session.
	ActiveTaskID(folder string) (taskID string, ok bool)
	// Pipe writes text as a new IPC input message to folder's live container without
	// advancing any cursor itself — the caller advances _dispatched_through.
	Pipe(ctx context.Context, folder, text string) error
	// Interrupt stops folder's active container, used to preempt a running scheduled task.
	Interrupt(ctx context.Context, folder string) error
	// Reset destroys folder's container (if any); on a reset command the router then deletes
	// the stored session row and clears the chat history.
	Reset(ctx context.Context, folder string) error
	// EndSession destroys folder's container; the stored session row and chat history are kept.
	EndSession(ctx context.Context, folder string) error
}

// Dispatcher enqueues work onto a workspace's FIFO queue. Implemented by *queue.WorkerPool.
type Dispatcher interface {
	Enqueue(item DispatchItem)
}

// DispatchItem is the router's view of one unit of queued work, translated to a
// queue.Item by the caller that wires the router to the worker pool.
type DispatchItem struct {
	WorkspaceFolder string
	ChatJID         string
	Text            string
	TriggerMessageID string
	EnqueuedAt      time.Time
}

// OutboundBus is the subset of the outbound bus the router needs for host confirmations,
// reactions, and system notices. Implemented by *outbound.Bus.
type OutboundBus interface {
	Broadcast(ctx context.Context, chatJID, text, source string) error
	React(ctx context.Context, chatJID, messageID, emoji string) error
}

// ApprovalResolver resolves a pending approval by its short id within a workspace folder.
// Implemented by *approval.Manager.
type ApprovalResolver interface {
	Resolve(ctx context.Context, folder, shortID string, approved bool) error
}

// RedeployTrigger manually kicks off the self-deploy flow. Implemented by *gitsync.Coordinator.
type RedeployTrigger interface {
	TriggerRedeploy(ctx context.Context) error
}
