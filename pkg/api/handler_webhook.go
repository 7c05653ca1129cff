package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

func (s *Server) handleTestWebhook(c *gin.Context) {
	id, err := pathInt64(c, "id")
	if err != nil {
		respondError(c, err)
		return
	}
	delivery, err := s.webhookSvc.TestDelivery(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, delivery)
}

func (s *Server) handleReplayDelivery(c *gin.Context) {
	id, err := pathInt64(c, "id")
	if err != nil {
		respondError(c, err)
		return
	}
	if err := s.webhookSvc.Replay(c.Request.Context(), id); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
