package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/coder/websocket"
	"github.com/gin-gonic/gin"
)

const debugWriteTimeout = 5 * time.Second

// handleDebugWebsocket implements a debug websocket endpoint mirroring the same EventHub feed
// as GET /api/events, for tooling that prefers a persistent socket over SSE. Accepts any
// origin — this is a local-only debug surface, not a public API.
func (s *Server) handleDebugWebsocket(c *gin.Context) {
	if s.deps.Hub == nil {
		c.JSON(503, gin.H{"error": "event hub not available"})
		return
	}

	conn, err := websocket.Accept(c.Writer, c.Request, &websocket.AcceptOptions{InsecureSkipVerify: true})
	if err != nil {
		slog.Warn("api: debug websocket accept failed", "error", err)
		return
	}
	defer conn.CloseNow()

	ctx := c.Request.Context()
	events, unsubscribe := s.deps.Hub.Subscribe()
	defer unsubscribe()

	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return
			}
			data, err := json.Marshal(ev)
			if err != nil {
				continue
			}
			writeCtx, cancel := context.WithTimeout(ctx, debugWriteTimeout)
			err = conn.Write(writeCtx, websocket.MessageText, data)
			cancel()
			if err != nil {
				return
			}
		case <-ctx.Done():
			conn.Close(websocket.StatusNormalClosure, "shutting down")
			return
		}
	}
}
