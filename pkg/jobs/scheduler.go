package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/studiocore/control-plane/pkg/events"
	"github.com/studiocore/control-plane/pkg/metrics"
)

// Scheduler is the single background task described in spec §4.1: it
// wakes on a short interval (or when Wake is called) and runs one
// dispatch pass per tick.
type Scheduler struct {
	repo              *Repository
	service           *Service
	tickInterval      time.Duration
	maxJobsForScoring int
	quota             QuotaEnforcer
	notifier          WorkerNotifier
	presenceStaleAfter time.Duration

	wakeCh   chan struct{}
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// QuotaEnforcer decides whether a job would push its submitter over
// their GPU-time allowance. A nil-returning Allow always permits
// dispatch, matching the default "off" configuration.
type QuotaEnforcer interface {
	// Allow reports whether dispatching job would stay within quota. If
	// it returns false, warnOnly indicates whether the caller should still
	// dispatch and merely emit job.quota_warning (soft mode).
	Allow(ctx context.Context, j Job) (allowed bool, warnOnly bool, err error)
}

// allowAllQuota is used when quota enforcement is off.
type allowAllQuota struct{}

func (allowAllQuota) Allow(context.Context, Job) (bool, bool, error) { return true, false, nil }

// WorkerNotifier is the render-worker bridge's half of the dispatch and
// cancellation handshake. Defined here (not imported from
// pkg/renderbridge) so pkg/jobs never depends on the bridge; the
// bridge's *Bridge type satisfies this interface against the same Job
// and Worker structs.
type WorkerNotifier interface {
	// Dispatch hands a freshly-Dispatched job to its assigned worker.
	// It runs after the transition to Dispatched has committed; on an
	// error the scheduler logs it and the job stays Dispatched, since
	// later ticks only pick up Pending jobs.
	Dispatch(ctx context.Context, j Job, w Worker) error

	// Cancel asks the assigned worker to abort, best-effort. Called
	// after the database transition to Cancelled has already
	// committed, so it never blocks the caller's response.
	Cancel(ctx context.Context, j Job)
}

// noopNotifier is used when no bridge is wired in (e.g. unit tests).
type noopNotifier struct{}

func (noopNotifier) Dispatch(context.Context, Job, Worker) error { return nil }
func (noopNotifier) Cancel(context.Context, Job)                 {}

// SchedulerConfig mirrors the tunables from pkg/config.SchedulerConfig
// plus the presence staleness window from pkg/config.RetentionConfig,
// kept as plain fields here so pkg/jobs has no import-time dependency on
// pkg/config.
type SchedulerConfig struct {
	TickInterval       time.Duration
	MaxJobsForScoring  int
	PresenceStaleAfter time.Duration
}

// NewScheduler builds a Scheduler. quota may be nil to disable quota
// checks entirely; notifier may be nil to run without a render-worker
// bridge (unit tests, or the bridge not yet started).
func NewScheduler(repo *Repository, service *Service, cfg SchedulerConfig, quota QuotaEnforcer, notifier WorkerNotifier) *Scheduler {
	if quota == nil {
		quota = allowAllQuota{}
	}
	if notifier == nil {
		notifier = noopNotifier{}
	}
	return &Scheduler{
		repo:               repo,
		service:            service,
		tickInterval:       cfg.TickInterval,
		maxJobsForScoring:  cfg.MaxJobsForScoring,
		quota:              quota,
		notifier:           notifier,
		presenceStaleAfter: cfg.PresenceStaleAfter,
		wakeCh:             make(chan struct{}, 1),
		stopCh:             make(chan struct{}),
	}
}

// Start runs the scheduler loop in a goroutine.
func (s *Scheduler) Start(ctx context.Context) {
	s.wg.Add(1)
	go s.run(ctx)
}

// Stop signals the loop to exit and waits for it to finish the tick in
// progress.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
	s.wg.Wait()
}

// Wake nudges the scheduler to run a tick immediately instead of
// waiting for the next interval. Non-blocking: a pending wake signal is coalesced with any other.
func (s *Scheduler) Wake() {
	select {
	case s.wakeCh <- struct{}{}:
	default:
	}
}

func (s *Scheduler) run(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.tickInterval)
	defer ticker.Stop()

	log := slog.With("component", "scheduler")
	log.Info("scheduler started", "tick_interval", s.tickInterval)

	for {
		select {
		case <-s.stopCh:
			log.Info("scheduler stopping")
			return
		case <-ctx.Done():
			log.Info("scheduler stopping on context cancellation")
			return
		case <-ticker.C:
			s.tick(ctx, log)
		case <-s.wakeCh:
			s.tick(ctx, log)
		}
	}
}

// tick runs the seven numbered steps from spec §4.1.
func (s *Scheduler) tick(ctx context.Context, log *slog.Logger) {
	if n := s.promoteScheduled(ctx, log); n > 0 {
		log.Info("promoted scheduled jobs", "count", n)
	}

	if n, err := s.repo.ReleaseExpiredLocks(ctx); err != nil {
		log.Error("release expired locks failed", "error", err)
	} else if n > 0 {
		log.Info("released expired locks", "count", n)
	}

	if s.presenceStaleAfter > 0 {
		if n, err := s.repo.ReapStalePresence(ctx, s.presenceStaleAfter); err != nil {
			log.Error("reap stale presence failed", "error", err)
		} else if n > 0 {
			log.Info("reaped stale presence rows", "count", n)
		}
	}

	workers, err := s.repo.OnlineWorkers(ctx)
	if err != nil {
		log.Error("failed to snapshot online workers", "error", err)
		return
	}

	queue, err := s.repo.PendingQueue(ctx)
	if err != nil {
		log.Error("failed to load pending queue", "error", err)
		return
	}

	metrics.SetQueueDepth(len(queue))
	reportWorkerLoad(workers)

	for _, job := range queue {
		worker, ok := pickWorker(workers, job, s.maxJobsForScoring)
		if !ok {
			continue
		}

		allowed, warnOnly, err := s.quota.Allow(ctx, job)
		if err != nil {
			log.Error("quota check failed", "job_id", job.ID, "error", err)
			continue
		}
		if !allowed && !warnOnly {
			continue
		}

		if err := s.dispatch(ctx, job, worker, warnOnly && !allowed); err != nil {
			log.Error("dispatch failed", "job_id", job.ID, "worker_id", worker.ID, "error", err)
			continue
		}

		// Reflect the assignment locally so the next candidate in this
		// tick doesn't also pick the same now-busier worker.
		worker.ActiveJobs++
		for i := range workers {
			if workers[i].ID == worker.ID {
				workers[i] = worker
			}
		}
	}

	reportWorkerLoad(workers)
}

// reportWorkerLoad publishes the per-worker active-job gauge.
func reportWorkerLoad(workers []Worker) {
	loads := make(map[string]metrics.WorkerLoad, len(workers))
	for _, w := range workers {
		loads[strconv.FormatInt(w.ID, 10)] = metrics.WorkerLoad{Name: w.Name, ActiveJobs: w.ActiveJobs}
	}
	metrics.SetWorkerLoad(loads)
}

// promoteScheduled moves Scheduled jobs whose start time has arrived to
// Pending (step 1).
func (s *Scheduler) promoteScheduled(ctx context.Context, log *slog.Logger) int {
	ids, err := s.repo.ScheduledDueIDs(ctx)
	if err != nil {
		log.Error("failed to query scheduled-due jobs", "error", err)
		return 0
	}

	promoted := 0
	for _, id := range ids {
		if _, err := s.service.transitionState(ctx, nil, id, StatusPending, "scheduled start time reached", transitionOptions{}); err != nil {
			log.Error("failed to promote scheduled job", "job_id", id, "error", err)
			continue
		}
		promoted++
	}
	return promoted
}

// dispatch transitions job to Dispatched and records the assignment.
func (s *Scheduler) dispatch(ctx context.Context, job Job, worker Worker, quotaWarning bool) error {
	workerID := worker.ID
	updated, err := s.service.transitionState(ctx, nil, job.ID, StatusDispatched, "scheduler dispatch", transitionOptions{
		workerID: &workerID,
	})
	if err != nil {
		return err
	}
	job = updated

	tx, err := s.repo.BeginTx(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	if err := s.repo.IncrementWorkerActiveJobs(ctx, tx, worker.ID); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}

	if quotaWarning {
		actor := job.UserID
		_, _ = s.service.events.Publish(ctx, jobEvent(events.TypeJobQuotaWarning, job, &actor))
	}

	if err := s.notifier.Dispatch(ctx, job, worker); err != nil {
		return fmt.Errorf("hand off to worker %d: %w", worker.ID, err)
	}
	return nil
}

// pickWorker implements step 5: tag match, then lower composite load
// score, then earliest heartbeat age, then ascending worker id as a
// final deterministic tie-break.
func pickWorker(workers []Worker, job Job, maxJobsForScoring int) (Worker, bool) {
	var candidates []Worker
	for _, w := range workers {
		if w.Status != "online" {
			continue
		}
		if hasAllTags(w.Tags, job.RequiredTags) {
			candidates = append(candidates, w)
		}
	}
	if len(candidates) == 0 {
		return Worker{}, false
	}

	now := time.Now()
	sort.SliceStable(candidates, func(i, j int) bool {
		si := loadScore(candidates[i], maxJobsForScoring)
		sj := loadScore(candidates[j], maxJobsForScoring)
		if si != sj {
			return si < sj
		}
		ai := heartbeatAge(candidates[i], now)
		aj := heartbeatAge(candidates[j], now)
		if ai != aj {
			return ai < aj
		}
		return candidates[i].ID < candidates[j].ID
	})
	return candidates[0], true
}

// hasAllTags reports whether the worker's tag set is a superset of the
// job's required tags.
func hasAllTags(workerTags, required []string) bool {
	if len(required) == 0 {
		return true
	}
	have := make(map[string]struct{}, len(workerTags))
	for _, t := range workerTags {
		have[t] = struct{}{}
	}
	for _, t := range required {
		if _, ok := have[t]; !ok {
			return false
		}
	}
	return true
}

// loadScore computes 0.6*clamp(gpu%/100) + 0.4*clamp(active_jobs/MaxJobsForScoring).
func loadScore(w Worker, maxJobsForScoring int) float64 {
	gpuTerm := clamp01(w.GPUPercent / 100)
	var activeTerm float64
	if maxJobsForScoring > 0 {
		activeTerm = clamp01(float64(w.ActiveJobs) / float64(maxJobsForScoring))
	}
	return 0.6*gpuTerm + 0.4*activeTerm
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}

// heartbeatAge returns how long since the worker's last heartbeat; a
// worker with no heartbeat ever recorded sorts last.
func heartbeatAge(w Worker, now time.Time) time.Duration {
	if w.LastHeartbeatAt == nil {
		return time.Duration(math.MaxInt64)
	}
	return now.Sub(*w.LastHeartbeatAt)
}

// QueueView returns the read-only snapshot from spec §4.1's queue
// endpoint: (queued, running, scheduled) counts, the ordered list, and
// an estimated wait.
func (s *Service) QueueView(ctx context.Context) (QueueView, error) {
	queued, err := s.repo.CountByStatus(ctx, StatusPending)
	if err != nil {
		return QueueView{}, err
	}
	running, err := s.repo.CountByStatus(ctx, StatusRunning)
	if err != nil {
		return QueueView{}, err
	}
	scheduled, err := s.repo.CountByStatus(ctx, StatusScheduled)
	if err != nil {
		return QueueView{}, err
	}
	jobsList, err := s.repo.PendingQueue(ctx)
	if err != nil {
		return QueueView{}, err
	}
	avgDuration, err := s.repo.AverageCompletedDurationMS(ctx)
	if err != nil {
		return QueueView{}, err
	}

	denom := running
	if denom < 1 {
		denom = 1
	}
	estimatedWait := time.Duration(float64(queued)*avgDuration/float64(denom)) * time.Millisecond

	return QueueView{
		Queued:        queued,
		Running:       running,
		Scheduled:     scheduled,
		Jobs:          jobsList,
		EstimatedWait: estimatedWait,
	}, nil
}
