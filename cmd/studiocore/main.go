// Command studiocore runs the generative video-production control
// plane: the job lifecycle engine, the render-worker bridge, the
// notification and webhook delivery pipelines, the credential
// subsystem, and the HTTP/WebSocket API surface.
package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/studiocore/control-plane/pkg/api"
	"github.com/studiocore/control-plane/pkg/auth"
	"github.com/studiocore/control-plane/pkg/cleanup"
	"github.com/studiocore/control-plane/pkg/config"
	"github.com/studiocore/control-plane/pkg/database"
	"github.com/studiocore/control-plane/pkg/events"
	"github.com/studiocore/control-plane/pkg/jobs"
	"github.com/studiocore/control-plane/pkg/notify"
	"github.com/studiocore/control-plane/pkg/renderbridge"
	"github.com/studiocore/control-plane/pkg/version"
	"github.com/studiocore/control-plane/pkg/webhook"
)

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func setupLogger(cfg config.LogConfig) *slog.Logger {
	level := slog.LevelInfo
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	log := slog.New(handler)
	slog.SetDefault(log)
	return log
}

func main() {
	configDir := flag.String("config-dir",
		getEnv("CONFIG_DIR", "./deploy/config"),
		"Path to configuration directory")
	flag.Parse()

	envPath := filepath.Join(*configDir, ".env")
	if err := godotenv.Load(envPath); err != nil {
		slog.Warn("could not load .env file, continuing with existing environment", "path", envPath, "error", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Initialize(ctx, *configDir)
	if err != nil {
		slog.Error("failed to initialize configuration", "error", err)
		os.Exit(1)
	}

	log := setupLogger(cfg.Log)
	log.Info("starting studiocore", "version", version.Full(), "config_dir", *configDir)

	dbCfg := database.DefaultConfig(cfg.DatabaseURL)
	dbClient, err := database.NewClient(ctx, dbCfg)
	if err != nil {
		log.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			log.Error("error closing database client", "error", err)
		}
	}()
	log.Info("connected to database, migrations applied")

	db := dbClient.DB()

	bus := events.NewBus()
	eventsRepo := events.NewRepository(db)
	eventsSvc := events.NewService(bus, eventsRepo)

	jobsRepo := jobs.NewRepository(db)
	jobsSvc := jobs.NewService(jobsRepo, eventsSvc)

	bridgeRepo := renderbridge.NewRepository(db)
	bridge := renderbridge.NewBridge(bridgeRepo, jobsSvc, renderbridge.Config{
		WriteTimeout:      cfg.WorkerHub.WriteTimeout,
		ReconnectBackoff:  cfg.WorkerHub.ReconnectBackoff,
		ReconnectMaxDelay: cfg.WorkerHub.ReconnectMaxDelay,
		ShutdownDrain:     cfg.WorkerHub.ShutdownDrain,
	})
	jobsSvc.SetNotifier(bridge)

	scheduler := jobs.NewScheduler(jobsRepo, jobsSvc, jobs.SchedulerConfig{
		TickInterval:       cfg.Scheduler.TickInterval,
		MaxJobsForScoring:  cfg.Scheduler.MaxJobsForScoring,
		PresenceStaleAfter: cfg.Retention.PresenceStaleAfter,
	}, nil, bridge)

	webhookRepo := webhook.NewRepository(db)
	webhookDispatcher := webhook.NewDispatcher(webhookRepo, webhook.Config{
		BatchSize:      cfg.Webhook.BatchSize,
		PollInterval:   cfg.Webhook.DispatchInterval,
		RequestTimeout: cfg.Webhook.RequestTimeout,
	}, log)
	webhookSvc := webhook.NewService(webhookRepo)

	notifyRepo := notify.NewRepository(db)
	router := notify.NewRouter(eventsSvc, notifyRepo, log)
	router.SetSink(webhookDispatcher)
	digestScheduler := notify.NewDigestScheduler(notifyRepo, cfg.Notification.DigestInterval, log)
	digestScheduler.SetSink(webhookDispatcher)

	authRepo := auth.NewRepository(db)
	tokenIssuer := auth.NewTokenIssuer(cfg.JWT.Secret, cfg.JWT.AccessExpiry)
	authSvc := auth.NewService(authRepo, tokenIssuer, cfg.JWT.RefreshExpiry, log)

	cleanupSvc := cleanup.NewService(&cfg.Retention, authRepo, eventsRepo, bridgeRepo)

	hub := api.NewHub(authSvc, cfg.WorkerHub)
	router.SetPusher(hub)

	server := api.NewServer(cfg, db, authSvc, jobsSvc, webhookSvc, hub)

	if err := bridge.Start(ctx); err != nil {
		log.Error("failed to start render-worker bridge", "error", err)
		os.Exit(1)
	}
	scheduler.Start(ctx)
	router.Start(ctx)
	digestScheduler.Start(ctx)
	webhookDispatcher.Start(ctx)
	cleanupSvc.Start(ctx)

	if err := server.Start(); err != nil {
		log.Error("failed to start api server", "error", err)
		os.Exit(1)
	}

	<-ctx.Done()
	log.Info("shutdown signal received, draining")

	// Shutdown order: stop accepting new dispatch work first, then the
	// delivery pipelines that depend on the event bus, then the bus
	// consumers themselves, then the client-facing hub and HTTP server.
	bridge.Shutdown()
	digestScheduler.Stop()
	webhookDispatcher.Stop()
	cleanupSvc.Stop()
	router.Stop()
	scheduler.Stop()
	hub.Shutdown()

	shutdownCtx := context.Background()
	if err := server.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Error("error shutting down api server", "error", err)
	}

	log.Info("studiocore stopped")
}
