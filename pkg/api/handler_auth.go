package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/studiocore/control-plane/pkg/apperr"
	"github.com/studiocore/control-plane/pkg/auth"
)

type loginResponse struct {
	AccessToken  string `json:"access_token"`
	AccessExpiry string `json:"access_expires_at"`
	RefreshToken string `json:"refresh_token"`
}

func (s *Server) handleLogin(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, apperr.BadRequest("invalid request body: %v", err))
		return
	}

	result, err := s.authSvc.Login(c.Request.Context(), req.Username, req.Password, c.Request.UserAgent(), c.ClientIP())
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, loginResponse{
		AccessToken:  result.AccessToken,
		AccessExpiry: result.AccessExpiry.Format(timeLayout),
		RefreshToken: result.RefreshToken,
	})
}

func (s *Server) handleRefresh(c *gin.Context) {
	var req refreshRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, apperr.BadRequest("invalid request body: %v", err))
		return
	}

	result, err := s.authSvc.Refresh(c.Request.Context(), req.RefreshToken, c.Request.UserAgent(), c.ClientIP())
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, loginResponse{
		AccessToken:  result.AccessToken,
		AccessExpiry: result.AccessExpiry.Format(timeLayout),
		RefreshToken: result.RefreshToken,
	})
}

func (s *Server) handleLogout(c *gin.Context) {
	principal := currentPrincipal(c)
	if err := s.authSvc.Logout(c.Request.Context(), principal.UserID); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

const timeLayout = "2006-01-02T15:04:05Z07:00"

func (s *Server) handleIssueAPIKey(c *gin.Context) {
	var req issueAPIKeyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, apperr.BadRequest("invalid request body: %v", err))
		return
	}
	scope, ok := auth.ParseScope(req.Scope)
	if !ok {
		respondError(c, apperr.BadRequest("unknown scope %q", req.Scope))
		return
	}
	readRPM, writeRPM := req.ReadRPM, req.WriteRPM
	if readRPM <= 0 {
		readRPM = s.cfg.APIKey.DefaultReadRPM
	}
	if writeRPM <= 0 {
		writeRPM = s.cfg.APIKey.DefaultWriteRPM
	}

	principal := currentPrincipal(c)
	minted, err := s.authSvc.IssueAPIKey(c.Request.Context(), req.Name, scope, req.ProjectID, readRPM, writeRPM, principal.UserID, req.ExpiresAt)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, minted)
}

func (s *Server) handleRotateAPIKey(c *gin.Context) {
	id, err := pathInt64(c, "id")
	if err != nil {
		respondError(c, err)
		return
	}
	minted, err := s.authSvc.RotateAPIKey(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, minted)
}

func (s *Server) handleRevokeAPIKey(c *gin.Context) {
	id, err := pathInt64(c, "id")
	if err != nil {
		respondError(c, err)
		return
	}
	if err := s.authSvc.RevokeAPIKey(c.Request.Context(), id); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
