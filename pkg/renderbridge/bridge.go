package renderbridge

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/studiocore/control-plane/pkg/apperr"
	"github.com/studiocore/control-plane/pkg/jobs"
)

// Config tunes the HTTP control-client timeout (WriteTimeout), reconnect
// backoff, and shutdown drain —
// the render-worker counterpart of config.WorkerHubConfig.
type Config struct {
	WriteTimeout      time.Duration
	ReconnectBackoff  time.Duration
	ReconnectMaxDelay time.Duration
	ShutdownDrain     time.Duration
}

// Bridge owns one workerSession per registered render worker and the
// HTTP control client used to dispatch and cancel prompts.
type Bridge struct {
	repo   *Repository
	jobs   *jobs.Service
	cfg    Config
	client *httpControlClient
	log    *slog.Logger

	mu       sync.RWMutex
	sessions map[int64]*workerSession

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

func NewBridge(repo *Repository, jobSvc *jobs.Service, cfg Config) *Bridge {
	return &Bridge{
		repo:     repo,
		jobs:     jobSvc,
		cfg:      cfg,
		client:   newHTTPControlClient(cfg.WriteTimeout),
		log:      slog.With("component", "renderbridge"),
		sessions: make(map[int64]*workerSession),
		stopCh:   make(chan struct{}),
	}
}

// Start dials every registered worker and maintains a connect-loop
// goroutine per worker for the lifetime of the bridge.
func (b *Bridge) Start(ctx context.Context) error {
	workers, err := b.repo.RegisteredWorkers(ctx)
	if err != nil {
		return fmt.Errorf("load registered workers: %w", err)
	}
	for _, w := range workers {
		b.wg.Add(1)
		go b.connectLoop(ctx, w)
	}
	return nil
}

// connectLoop dials a worker, runs its receive loop to completion, and
// redials with bounded exponential backoff until Stop is called.
func (b *Bridge) connectLoop(ctx context.Context, reg WorkerRegistration) {
	defer b.wg.Done()
	log := b.log.With("worker_id", reg.ID, "worker_name", reg.Name)
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = b.cfg.ReconnectBackoff
	bo.MaxInterval = b.cfg.ReconnectMaxDelay
	bo.MaxElapsedTime = 0
	bo.Reset()

	for {
		select {
		case <-b.stopCh:
			return
		case <-ctx.Done():
			return
		default:
		}

		conn, err := b.dial(ctx, reg)
		if err != nil {
			log.Warn("dial failed, backing off", "error", err)
			if !b.waitBackoff(ctx, bo) {
				return
			}
			continue
		}
		bo.Reset()

		if err := b.repo.SetWorkerStatus(ctx, reg.ID, "online"); err != nil {
			log.Error("failed to mark worker online", "error", err)
		}

		sess := newWorkerSession(reg, conn, b.repo, b.jobs, b.client)
		b.mu.Lock()
		b.sessions[reg.ID] = sess
		b.mu.Unlock()

		log.Info("worker session connected")
		readErr := sess.receiveLoop(ctx)

		b.mu.Lock()
		delete(b.sessions, reg.ID)
		b.mu.Unlock()

		if err := b.repo.SetWorkerStatus(ctx, reg.ID, "offline"); err != nil {
			log.Error("failed to mark worker offline", "error", err)
		}
		sess.markInFlightFailed(context.Background())

		select {
		case <-b.stopCh:
			return
		case <-ctx.Done():
			return
		default:
		}

		log.Warn("worker session ended, reconnecting", "error", readErr)
		if !b.waitBackoff(ctx, bo) {
			return
		}
	}
}

// waitBackoff sleeps one backoff interval, reporting false if the
// bridge was stopped during the wait.
func (b *Bridge) waitBackoff(ctx context.Context, bo *backoff.ExponentialBackOff) bool {
	d := bo.NextBackOff()

	select {
	case <-time.After(d):
		return true
	case <-b.stopCh:
		return false
	case <-ctx.Done():
		return false
	}
}

func (b *Bridge) dial(ctx context.Context, reg WorkerRegistration) (*websocket.Conn, error) {
	url := wsURL(reg.EndpointURL)
	opts := &websocket.DialOptions{}
	if reg.AuthToken != "" {
		opts.HTTPHeader = http.Header{"Authorization": []string{"Bearer " + reg.AuthToken}}
	}
	conn, _, err := websocket.Dial(ctx, url, opts)
	if err != nil {
		return nil, fmt.Errorf("dial worker %s at %s: %w", reg.Name, url, err)
	}
	return conn, nil
}

// wsURL rewrites an http(s) worker endpoint into its ws(s) counterpart.
func wsURL(endpoint string) string {
	switch {
	case strings.HasPrefix(endpoint, "https://"):
		return "wss://" + strings.TrimPrefix(endpoint, "https://") + "/ws"
	case strings.HasPrefix(endpoint, "http://"):
		return "ws://" + strings.TrimPrefix(endpoint, "http://") + "/ws"
	default:
		return endpoint + "/ws"
	}
}

// Dispatch submits job to worker over the HTTP control channel and
// records the (worker, prompt_id, job_id) mapping. Concurrent
// dispatches to the same worker are serialised on that worker's send
// half.
func (b *Bridge) Dispatch(ctx context.Context, job jobs.Job, worker jobs.Worker) error {
	b.mu.RLock()
	sess, ok := b.sessions[worker.ID]
	b.mu.RUnlock()
	if !ok {
		return apperr.Conflict("worker %d is not connected", worker.ID)
	}

	sess.sendMu.Lock()
	defer sess.sendMu.Unlock()

	resp, err := b.client.submit(ctx, sess.reg, DispatchRequest{JobID: job.ID, Kind: job.Kind, Params: job.Params})
	if err != nil {
		return err
	}
	promptID := resp.PromptID
	if promptID == "" {
		promptID = uuid.NewString()
	}

	if _, err := b.repo.InsertExecution(ctx, job.ID, worker.ID, promptID); err != nil {
		return fmt.Errorf("record execution mapping: %w", err)
	}
	return nil
}

// Cancel asks the assigned worker to abort job's prompt. The caller is
// responsible for completing the database transition to Cancelled
// first — this call never blocks that response and its failure is
// only logged.
func (b *Bridge) Cancel(ctx context.Context, job jobs.Job) {
	if job.WorkerID == nil {
		return
	}
	workerID := *job.WorkerID

	b.mu.RLock()
	sess, ok := b.sessions[workerID]
	b.mu.RUnlock()
	if !ok {
		b.log.Warn("cancel requested but worker not connected", "job_id", job.ID, "worker_id", workerID)
		return
	}

	exec, err := b.execForJob(ctx, workerID, job.ID)
	if err != nil {
		b.log.Warn("no execution mapping for cancel", "job_id", job.ID, "worker_id", workerID, "error", err)
		return
	}

	sess.sendMu.Lock()
	defer sess.sendMu.Unlock()
	if err := b.client.abort(ctx, sess.reg, exec.PromptID); err != nil {
		b.log.Warn("best-effort cancel failed", "job_id", job.ID, "worker_id", workerID, "error", err)
	}
}

func (b *Bridge) execForJob(ctx context.Context, workerID, jobID int64) (Execution, error) {
	return b.repo.ExecutionByJob(ctx, workerID, jobID)
}

// Shutdown closes every session, waiting up to the configured drain
// window for in-flight receive loops to exit before aborting.
func (b *Bridge) Shutdown() {
	b.stopOnce.Do(func() { close(b.stopCh) })

	b.mu.RLock()
	sessions := make([]*workerSession, 0, len(b.sessions))
	for _, s := range b.sessions {
		sessions = append(sessions, s)
	}
	b.mu.RUnlock()

	var wg sync.WaitGroup
	for _, s := range sessions {
		wg.Add(1)
		go func(s *workerSession) {
			defer wg.Done()
			s.close(b.cfg.ShutdownDrain)
		}(s)
	}
	wg.Wait()
	b.wg.Wait()
}
