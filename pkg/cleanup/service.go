// Package cleanup runs the background retention sweeps not already
// owned by the job scheduler's tick: purging stale refresh sessions
// and ancillary telemetry rows (execution mappings, events) past their
// configured age.
package cleanup

import (
	"context"
	"log/slog"
	"time"

	"github.com/studiocore/control-plane/pkg/auth"
	"github.com/studiocore/control-plane/pkg/config"
	"github.com/studiocore/control-plane/pkg/events"
	"github.com/studiocore/control-plane/pkg/renderbridge"
)

// Service periodically enforces retention policy: closing out stale
// refresh sessions and purging old telemetry rows. Lock expiry and
// presence reaping run on the jobs.Scheduler's own tick instead, since
// they gate dispatch decisions the scheduler is already making each
// pass.
type Service struct {
	config         *config.RetentionConfig
	authRepo       *auth.Repository
	eventsRepo     *events.Repository
	executionsRepo *renderbridge.Repository

	cancel context.CancelFunc
	done   chan struct{}
}

// NewService creates a new cleanup service.
func NewService(
	cfg *config.RetentionConfig,
	authRepo *auth.Repository,
	eventsRepo *events.Repository,
	executionsRepo *renderbridge.Repository,
) *Service {
	return &Service{
		config:         cfg,
		authRepo:       authRepo,
		eventsRepo:     eventsRepo,
		executionsRepo: executionsRepo,
	}
}

// Start launches the background cleanup loop.
func (s *Service) Start(ctx context.Context) {
	if s.cancel != nil {
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})

	go s.run(ctx)

	slog.Info("cleanup service started",
		"metrics_retention", s.config.MetricsRetention,
		"sweep_interval", s.config.SweepInterval)
}

// Stop signals the cleanup loop to exit and waits for it to finish.
func (s *Service) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
	slog.Info("cleanup service stopped")
}

func (s *Service) run(ctx context.Context) {
	defer close(s.done)

	s.runAll(ctx)

	ticker := time.NewTicker(s.config.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runAll(ctx)
		}
	}
}

func (s *Service) runAll(ctx context.Context) {
	s.purgeStaleSessions(ctx)
	s.purgeOldEvents(ctx)
	s.purgeOldExecutions(ctx)
}

func (s *Service) purgeStaleSessions(ctx context.Context) {
	cutoff := time.Now().Add(-s.config.MetricsRetention)
	count, err := s.authRepo.PurgeStaleSessions(ctx, cutoff)
	if err != nil {
		slog.Error("retention: purge stale sessions failed", "error", err)
		return
	}
	if count > 0 {
		slog.Info("retention: purged stale sessions", "count", count)
	}
}

func (s *Service) purgeOldEvents(ctx context.Context) {
	cutoff := time.Now().Add(-s.config.MetricsRetention)
	count, err := s.eventsRepo.PurgeOlderThan(ctx, cutoff)
	if err != nil {
		slog.Error("retention: purge old events failed", "error", err)
		return
	}
	if count > 0 {
		slog.Info("retention: purged old events", "count", count)
	}
}

func (s *Service) purgeOldExecutions(ctx context.Context) {
	cutoff := time.Now().Add(-s.config.MetricsRetention)
	count, err := s.executionsRepo.PurgeCompletedOlderThan(ctx, cutoff)
	if err != nil {
		slog.Error("retention: purge old executions failed", "error", err)
		return
	}
	if count > 0 {
		slog.Info("retention: purged old job executions", "count", count)
	}
}
