package api

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
)

// handleEvents implements GET /api/events: server-sent events mirroring the internal event
// bus (message, agent_activity, agent_trace, chat_cleared), per spec.md §6.
func (s *Server) handleEvents(c *gin.Context) {
	if s.deps.Hub == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "event hub not available"})
		return
	}

	events, unsubscribe := s.deps.Hub.Subscribe()
	defer unsubscribe()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")

	ctx := c.Request.Context()
	c.Stream(func(w io.Writer) bool {
		select {
		case ev, ok := <-events:
			if !ok {
				return false
			}
			data, err := ev.marshalSSE()
			if err != nil {
				return true
			}
			c.SSEvent(ev.Kind, string(data))
			return true
		case <-ctx.Done():
			return false
		}
	})
}
