package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// handleStatus implements GET /status: an operational snapshot assembled from whichever
// subsystem closures lifecycle wired in, mirroring the shape of the original Python
// implementation's status collector (service/deploy/channels/gateway/queue/repos/groups/
// tasks/host_jobs) without requiring every section to be present.
func (s *Server) handleStatus(c *gin.Context) {
	status := "ok"
	if s.deps.ShuttingDown != nil && s.deps.ShuttingDown() {
		status = "shutting_down"
	}

	body := gin.H{
		"service": gin.H{
			"status":         status,
			"started_at":     s.deps.StartedAt.Format(time.RFC3339),
			"uptime_seconds": int(time.Since(s.deps.StartedAt).Seconds()),
		},
	}

	if s.deps.Queue != nil {
		body["queue"] = gin.H{
			"health": s.deps.Queue.Health(),
			"depth":  s.deps.Queue.QueueDepth(),
		}
	}
	if s.deps.Channels != nil {
		body["channels"] = s.deps.Channels()
	}
	if s.deps.Gateway != nil {
		body["gateway"] = s.deps.Gateway()
	}
	if s.deps.Repos != nil {
		body["repos"] = s.deps.Repos()
	}
	if s.deps.Tasks != nil {
		body["tasks"] = s.deps.Tasks()
	}
	if s.deps.HostJobs != nil {
		body["host_jobs"] = s.deps.HostJobs()
	}

	groups := gin.H{}
	if s.deps.Store != nil {
		if workspaces, err := s.deps.Store.ListWorkspaces(c.Request.Context()); err == nil {
			groups["total"] = len(workspaces)
		}
	}
	if s.deps.Sessions != nil {
		groups["active_sessions"] = s.deps.Sessions()
	}
	body["groups"] = groups

	c.JSON(http.StatusOK, body)
}

// handleHealth implements GET /health: a liveness probe backed by the store's own ping.
func (s *Server) handleHealth(c *gin.Context) {
	if s.deps.Store == nil {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
		return
	}
	health, err := s.deps.Store.Health(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy", "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, health)
}
