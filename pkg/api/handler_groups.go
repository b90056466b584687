package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// handleGroups implements GET /api/groups: every registered workspace profile.
func (s *Server) handleGroups(c *gin.Context) {
	workspaces, err := s.deps.Store.ListWorkspaces(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"groups": workspaces})
}
