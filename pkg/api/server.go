// Package api is the HTTP and WebSocket surface of the control plane:
// job submission/control, authentication, admin webhook operations,
// and the client-facing notification hub (spec §6, §4.7).
package api

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/studiocore/control-plane/pkg/auth"
	"github.com/studiocore/control-plane/pkg/config"
	"github.com/studiocore/control-plane/pkg/jobs"
	"github.com/studiocore/control-plane/pkg/metrics"
	"github.com/studiocore/control-plane/pkg/webhook"
)

// Server wires the gin engine, the client WebSocket hub, and every
// domain service the HTTP surface calls into.
type Server struct {
	engine     *gin.Engine
	httpServer *http.Server
	cfg        *config.Config
	db         *sql.DB

	authSvc    *auth.Service
	jobsSvc    *jobs.Service
	webhookSvc *webhook.Service
	hub        *Hub

	log *slog.Logger
}

// NewServer builds the server and registers every route. hub may be
// constructed with the same auth.Service passed here so WebSocket
// upgrades share the REST surface's credential verification.
func NewServer(cfg *config.Config, db *sql.DB, authSvc *auth.Service, jobsSvc *jobs.Service, webhookSvc *webhook.Service, hub *Hub) *Server {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())

	s := &Server{
		engine:     engine,
		cfg:        cfg,
		db:         db,
		authSvc:    authSvc,
		jobsSvc:    jobsSvc,
		webhookSvc: webhookSvc,
		hub:        hub,
		log:        slog.With("component", "api"),
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.engine.GET("/health", s.handleHealth)
	s.engine.GET("/metrics", gin.WrapH(metrics.Handler()))
	s.engine.GET("/ws", s.hub.Serve)

	authGroup := s.engine.Group("/auth")
	authGroup.POST("/login", s.handleLogin)
	authGroup.POST("/refresh", s.handleRefresh)
	authGroup.POST("/logout", requireAuth(s.authSvc), s.handleLogout)

	authenticated := s.engine.Group("/")
	authenticated.Use(requireAuth(s.authSvc))

	writeScoped := requireScope(auth.ScopeWrite)
	authenticated.POST("/jobs", writeScoped, s.handleSubmitJob)
	authenticated.GET("/jobs", s.handleListJobs)
	authenticated.GET("/jobs/:id", s.handleGetJob)
	authenticated.GET("/jobs/:id/transitions", s.handleJobTransitions)
	authenticated.POST("/jobs/:id/cancel", writeScoped, s.handleCancelJob)
	authenticated.POST("/jobs/:id/retry", writeScoped, s.handleRetryJob)
	authenticated.POST("/jobs/:id/pause", writeScoped, s.handlePauseJob)
	authenticated.POST("/jobs/:id/resume", writeScoped, s.handleResumeJob)
	authenticated.GET("/queue", s.handleQueueView)

	admin := authenticated.Group("/")
	admin.Use(requireAdmin)
	admin.POST("/api-keys", s.handleIssueAPIKey)
	admin.POST("/api-keys/:id/rotate", s.handleRotateAPIKey)
	admin.DELETE("/api-keys/:id", s.handleRevokeAPIKey)
	admin.POST("/webhooks/:id/test", s.handleTestWebhook)
	admin.POST("/webhook-deliveries/:id/replay", s.handleReplayDelivery)
}

// Start begins serving HTTP in a goroutine.
func (s *Server) Start() error {
	s.httpServer = &http.Server{
		Addr:    s.cfg.HTTP.Addr(),
		Handler: s.engine,
	}
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.log.Error("http server stopped unexpectedly", "error", err)
		}
	}()
	s.log.Info("api server listening", "addr", s.httpServer.Addr)
	return nil
}

// Shutdown gracefully stops the HTTP server and the client hub.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer != nil {
		shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shut down http server: %w", err)
		}
	}
	s.hub.Shutdown()
	return nil
}
