// Package api implements spec.md §6's minimal status/control HTTP surface:
// GET /status, GET /health, GET /api/groups, GET /api/messages, POST /api/send, and
// GET /api/events (server-sent events mirroring the internal event bus). Binds to localhost
// only, per spec's minimal-auth note; built on gin-gonic/gin, matching this repo's stack.
package api

import (
	"context"
	"time"

	"github.com/crypdick/pynchy/pkg/models"
	"github.com/crypdick/pynchy/pkg/queue"
	"github.com/crypdick/pynchy/pkg/store"
)

// WorkspaceStore is the subset of the state store the API needs. Implemented by *store.Client.
type WorkspaceStore interface {
	ListWorkspaces(ctx context.Context) ([]models.Workspace, error)
	RecentMessages(ctx context.Context, chatJID string, since *time.Time, limit int) ([]models.Message, error)
	InsertMessageIfNew(ctx context.Context, msg models.Message) error
	Health(ctx context.Context) (*store.HealthStatus, error)
}

// QueueHealth reports the worker pool's live state for GET /status. Implemented by
// *queue.WorkerPool.
type QueueHealth interface {
	Health() *queue.PoolHealth
	QueueDepth() int
}

// StatusSection is a lifecycle-provided closure contributing one named section
// (channels, gateway, repos, tasks, host_jobs, ...) to GET /status. Keeping every non-store,
// non-queue collector behind the same closure shape lets lifecycle wire in exactly the
// subsystems it constructed without this package importing gateway/gitsync/scheduler/session
// just to read their live state.
type StatusSection func() map[string]any

// SessionCounter reports how many workspaces currently have a live container, for GET /status'
// groups.active_sessions field. Implemented by a lifecycle closure over *session.Manager
// (which exposes per-folder HasActiveContainer but not a global count).
type SessionCounter func() int

const messageSourceAPI = "api"
