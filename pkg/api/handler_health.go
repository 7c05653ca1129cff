package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/studiocore/control-plane/pkg/version"
)

func (s *Server) handleHealth(c *gin.Context) {
	if err := s.db.PingContext(c.Request.Context()); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status": "degraded",
			"error":  err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status":      "ok",
		"version":     version.Full(),
		"connections": s.hub.ConnectionCount(),
	})
}
