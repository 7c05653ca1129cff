package renderbridge

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/studiocore/control-plane/pkg/jobs"
)

// workerSession owns one registered worker's outbound WebSocket
// connection: a receive loop translating inbound frames into job
// transitions, and a send-half mutex serialising every HTTP control
// call (dispatch, cancel) issued against this worker.
type workerSession struct {
	reg    WorkerRegistration
	conn   *websocket.Conn
	repo   *Repository
	jobs   *jobs.Service
	log    *slog.Logger
	client *httpControlClient

	sendMu sync.Mutex
	doneCh chan struct{}
}

func newWorkerSession(reg WorkerRegistration, conn *websocket.Conn, repo *Repository, jobSvc *jobs.Service, client *httpControlClient) *workerSession {
	return &workerSession{
		reg:    reg,
		conn:   conn,
		repo:   repo,
		jobs:   jobSvc,
		client: client,
		log:    slog.With("component", "renderbridge", "worker_id", reg.ID, "worker_name", reg.Name),
		doneCh: make(chan struct{}),
	}
}

// receiveLoop reads frames until the connection closes or the context
// is cancelled, and returns the error from the read that ended it.
func (s *workerSession) receiveLoop(ctx context.Context) error {
	defer close(s.doneCh)
	for {
		typ, data, err := s.conn.Read(ctx)
		if err != nil {
			return err
		}
		if typ == websocket.MessageBinary {
			continue
		}
		s.handleFrame(ctx, data)
	}
}

// handleFrame parses one text frame and applies its effect. Malformed
// JSON and unrecognised types are logged and skipped; the session
// stays open either way.
func (s *workerSession) handleFrame(ctx context.Context, data []byte) {
	var frame inboundFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		s.log.Warn("malformed frame, skipping", "error", err)
		return
	}

	var err error
	switch frame.Type {
	case "status":
		err = s.onStatus(ctx, frame.Data)
	case "execution_start":
		err = s.onExecutionStart(ctx, frame.Data)
	case "execution_cached":
		s.log.Debug("execution cached", "data", string(frame.Data))
	case "executing":
		err = s.onExecuting(ctx, frame.Data)
	case "progress":
		err = s.onProgress(ctx, frame.Data)
	case "executed":
		err = s.onExecuted(ctx, frame.Data)
	case "execution_error":
		err = s.onExecutionError(ctx, frame.Data)
	default:
		s.log.Warn("unknown frame type, skipping", "type", frame.Type)
	}
	if err != nil {
		s.log.Error("failed to apply frame effect", "type", frame.Type, "error", err)
	}
}

func (s *workerSession) onStatus(ctx context.Context, raw json.RawMessage) error {
	var d statusData
	if err := json.Unmarshal(raw, &d); err != nil {
		return fmt.Errorf("unmarshal status data: %w", err)
	}
	return s.repo.UpdateQueueDepth(ctx, s.reg.ID, d.QueueRemaining)
}

func (s *workerSession) onExecutionStart(ctx context.Context, raw json.RawMessage) error {
	var d executionStartData
	if err := json.Unmarshal(raw, &d); err != nil {
		return fmt.Errorf("unmarshal execution_start data: %w", err)
	}
	exec, err := s.repo.ByPrompt(ctx, s.reg.ID, d.PromptID)
	if err != nil {
		return fmt.Errorf("look up execution for prompt %s: %w", d.PromptID, err)
	}
	_, err = s.jobs.MarkRunning(ctx, exec.JobID, s.reg.ID)
	return err
}

func (s *workerSession) onExecuting(ctx context.Context, raw json.RawMessage) error {
	var d executingData
	if err := json.Unmarshal(raw, &d); err != nil {
		return fmt.Errorf("unmarshal executing data: %w", err)
	}
	exec, err := s.repo.ByPrompt(ctx, s.reg.ID, d.PromptID)
	if err != nil {
		return fmt.Errorf("look up execution for prompt %s: %w", d.PromptID, err)
	}

	if d.Node == nil {
		// node:null marks the execution complete.
		if err := s.repo.SetStatus(ctx, exec.ID, "completed"); err != nil {
			return err
		}
		_, err := s.jobs.MarkCompleted(ctx, exec.JobID, exec.Output)
		return err
	}
	return s.repo.SetCurrentNode(ctx, exec.ID, d.Node)
}

func (s *workerSession) onProgress(ctx context.Context, raw json.RawMessage) error {
	var d progressData
	if err := json.Unmarshal(raw, &d); err != nil {
		return fmt.Errorf("unmarshal progress data: %w", err)
	}
	exec, err := s.repo.ByPrompt(ctx, s.reg.ID, d.PromptID)
	if err != nil {
		return fmt.Errorf("look up execution for prompt %s: %w", d.PromptID, err)
	}
	return s.jobs.Progress(ctx, exec.JobID, progressPercent(d.Value, d.Max))
}

// progressPercent derives a 0..100 completion percentage from a
// progress frame's value/max pair. A zero or negative max (no progress
// reported yet) clamps to 0 rather than dividing by zero.
func progressPercent(value, max int) int {
	if max <= 0 {
		return 0
	}
	pct := (value * 100) / max
	if pct < 0 {
		return 0
	}
	if pct > 100 {
		return 100
	}
	return pct
}

func (s *workerSession) onExecuted(ctx context.Context, raw json.RawMessage) error {
	var d executedData
	if err := json.Unmarshal(raw, &d); err != nil {
		return fmt.Errorf("unmarshal executed data: %w", err)
	}
	exec, err := s.repo.ByPrompt(ctx, s.reg.ID, d.PromptID)
	if err != nil {
		return fmt.Errorf("look up execution for prompt %s: %w", d.PromptID, err)
	}
	return s.repo.MergeOutput(ctx, exec.ID, d.Node, d.Output)
}

func (s *workerSession) onExecutionError(ctx context.Context, raw json.RawMessage) error {
	var d executionErrorData
	if err := json.Unmarshal(raw, &d); err != nil {
		return fmt.Errorf("unmarshal execution_error data: %w", err)
	}
	exec, err := s.repo.ByPrompt(ctx, s.reg.ID, d.PromptID)
	if err != nil {
		return fmt.Errorf("look up execution for prompt %s: %w", d.PromptID, err)
	}
	if err := s.repo.SetStatus(ctx, exec.ID, "failed"); err != nil {
		return err
	}
	reason := d.ExceptionMsg
	if reason == "" {
		reason = "worker reported execution_error"
	}
	_, err = s.jobs.MarkFailed(ctx, exec.JobID, reason)
	return err
}

// markInFlightFailed marks every Dispatched or Running job on this
// worker Failed with reason "worker disconnected", called once the receive
// loop terminates. Jobs that reached a terminal state independently
// (e.g. a user cancellation that raced the disconnect) are skipped —
// MarkFailed's own transition validation rejects the illegal edge and
// that rejection is logged, not propagated, since it is expected.
func (s *workerSession) markInFlightFailed(ctx context.Context) {
	ids, err := s.jobs.ActiveJobIDsForWorker(ctx, s.reg.ID)
	if err != nil {
		s.log.Error("failed to list in-flight jobs on disconnect", "error", err)
		return
	}
	for _, id := range ids {
		if _, err := s.jobs.MarkFailed(ctx, id, "worker disconnected"); err != nil {
			s.log.Warn("failed to mark in-flight job failed on disconnect", "job_id", id, "error", err)
		}
	}
}

// close closes the underlying connection and waits up to deadline for
// the receive loop to observe it and return.
func (s *workerSession) close(deadline time.Duration) {
	_ = s.conn.Close(websocket.StatusNormalClosure, "bridge shutting down")
	select {
	case <-s.doneCh:
	case <-time.After(deadline):
		_ = s.conn.CloseNow()
	}
}
