package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/crypdick/pynchy/pkg/models"
)

const defaultMessagesLimit = 50

// handleMessages implements GET /api/messages?jid=&limit=: the chat history window for one
// workspace, oldest-first.
func (s *Server) handleMessages(c *gin.Context) {
	jid := c.Query("jid")
	if jid == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "jid is required"})
		return
	}

	limit := defaultMessagesLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
		limit = n
	}

	msgs, err := s.deps.Store.RecentMessages(c.Request.Context(), jid, nil, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": msgs})
}

type sendRequest struct {
	JID     string `json:"jid" binding:"required"`
	Content string `json:"content" binding:"required"`
}

// handleSend implements POST /api/send {jid, content}: inserts the text as an inbound user
// message, exactly as a channel adapter would, so the router's next poll dispatches it —
// the path the bundled TUI client drives over HTTP.
func (s *Server) handleSend(c *gin.Context) {
	var req sendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	msg := models.Message{
		ID:          uuid.NewString(),
		ChatJID:     req.JID,
		Sender:      req.JID,
		SenderName:  messageSourceAPI,
		Content:     req.Content,
		Timestamp:   time.Now(),
		MessageType: models.MessageTypeUser,
	}
	if err := s.deps.Store.InsertMessageIfNew(c.Request.Context(), msg); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	if s.deps.Hub != nil {
		s.deps.Hub.Publish("message", req.JID, msg)
	}
	c.JSON(http.StatusAccepted, gin.H{"id": msg.ID})
}
