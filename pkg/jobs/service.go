package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/studiocore/control-plane/pkg/apperr"
	"github.com/studiocore/control-plane/pkg/events"
)

// Actor identifies the caller performing a job operation, for
// authorization and for the transition audit trail.
type Actor struct {
	UserID  int64
	IsAdmin bool
}

// Service is the job lifecycle engine's entry point: submission,
// authorization, state transitions, retry, and pause/resume. The
// scheduler loop lives alongside it in scheduler.go and shares the same
// repository and event service.
type Service struct {
	repo     *Repository
	events   *events.Service
	notifier WorkerNotifier
}

func NewService(repo *Repository, evt *events.Service) *Service {
	return &Service{repo: repo, events: evt, notifier: noopNotifier{}}
}

// SetNotifier wires the render-worker bridge in after construction,
// breaking the import cycle a constructor parameter would create
// (pkg/renderbridge already imports pkg/jobs). Call once during
// startup before the scheduler or any handler runs.
func (s *Service) SetNotifier(n WorkerNotifier) {
	if n == nil {
		n = noopNotifier{}
	}
	s.notifier = n
}

// authorize enforces "readable and controllable by its submitter or by
// any admin" from spec §4.1.
func authorize(actor Actor, j Job) error {
	if actor.IsAdmin || actor.UserID == j.UserID {
		return nil
	}
	return apperr.Forbidden("job is not owned by the caller")
}

// Submit creates a new job in Pending (or Scheduled, for a future
// start time) and publishes the corresponding event.
func (s *Service) Submit(ctx context.Context, in SubmitInput) (Job, error) {
	j, err := s.repo.Submit(ctx, in)
	if err != nil {
		return Job{}, fmt.Errorf("submit job: %w", err)
	}

	evtType := events.TypeJobPending
	if j.Status == StatusScheduled {
		evtType = events.TypeJobScheduled
	}
	actor := j.UserID
	if _, err := s.events.Publish(ctx, jobEvent(evtType, j, &actor)); err != nil {
		return Job{}, fmt.Errorf("publish job submission event: %w", err)
	}
	return j, nil
}

// Get fetches a job, enforcing submitter-or-admin read access.
func (s *Service) Get(ctx context.Context, actor Actor, id int64) (Job, error) {
	j, err := s.repo.Get(ctx, id)
	if err != nil {
		return Job{}, err
	}
	if err := authorize(actor, j); err != nil {
		return Job{}, err
	}
	return j, nil
}

// defaultListLimit bounds an unpaginated GET /jobs request.
const defaultListLimit = 50

// List returns a page of jobs: a submitter sees only their own, an
// admin sees every job.
func (s *Service) List(ctx context.Context, actor Actor, limit, offset int) ([]Job, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	if actor.IsAdmin {
		return s.repo.ListAll(ctx, limit, offset)
	}
	return s.repo.ListForUser(ctx, actor.UserID, limit, offset)
}

// Transitions returns the full audit trail for a job, enforcing the
// same submitter-or-admin read access as Get.
func (s *Service) Transitions(ctx context.Context, actor Actor, id int64) ([]Transition, error) {
	if _, err := s.Get(ctx, actor, id); err != nil {
		return nil, err
	}
	return s.repo.ListTransitions(ctx, id)
}

// transitionOptions carries the side effects a specific transition
// applies beyond the bare status change.
type transitionOptions struct {
	workerID    *int64
	result      map[string]any
	errorMsg    *string
	setStarted  bool
	setCompleted bool
}

// transitionState runs transition_state from spec §4.1: fetch the job
// locked FOR UPDATE, validate the edge, apply it, append the audit row,
// commit, then publish job.<new_status>. An illegal edge fails with a
// validation error naming both states, or with a conflict error when the
// job is already in a terminal state.
func (s *Service) transitionState(ctx context.Context, actor *Actor, id int64, to Status, reason string, opts transitionOptions) (Job, error) {
	tx, err := s.repo.BeginTx(ctx)
	if err != nil {
		return Job{}, fmt.Errorf("begin transition transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	j, err := s.repo.GetForUpdate(ctx, tx, id)
	if err != nil {
		return Job{}, err
	}
	if actor != nil {
		if err := authorize(*actor, j); err != nil {
			return Job{}, err
		}
	}

	from := j.Status
	if err := validateTransition(from, to); err != nil {
		return Job{}, err
	}

	j.Status = to
	if opts.workerID != nil {
		j.WorkerID = opts.workerID
	}
	if opts.result != nil {
		j.Result = opts.result
	}
	if opts.errorMsg != nil {
		j.Error = opts.errorMsg
	}
	now := time.Now()
	if opts.setStarted {
		j.StartedAt = &now
	}
	if opts.setCompleted {
		j.CompletedAt = &now
		if j.StartedAt != nil {
			d := now.Sub(*j.StartedAt).Milliseconds()
			j.DurationMS = &d
		}
	}

	updated, err := s.repo.ApplyTransition(ctx, tx, j)
	if err != nil {
		return Job{}, err
	}

	var actorUserID *int64
	if actor != nil {
		actorUserID = &actor.UserID
	}
	if err := s.repo.InsertTransition(ctx, tx, id, &from, to, actorUserID, reason); err != nil {
		return Job{}, err
	}

	if err := tx.Commit(); err != nil {
		return Job{}, fmt.Errorf("commit job transition: %w", err)
	}

	evtType := statusEventType(to)
	submitter := updated.UserID
	if _, err := s.events.Publish(ctx, jobEvent(evtType, updated, &submitter)); err != nil {
		return Job{}, fmt.Errorf("publish job transition event: %w", err)
	}

	return updated, nil
}

// Cancel transitions a job to Cancelled, then notifies the assigned
// worker best-effort. The database transition completes first so the
// caller's response is immediately consistent regardless of whether
// the worker ever acknowledges the cancel signal.
func (s *Service) Cancel(ctx context.Context, actor Actor, id int64, reason string) (Job, error) {
	j, err := s.transitionState(ctx, &actor, id, StatusCancelled, reason, transitionOptions{})
	if err != nil {
		return Job{}, err
	}
	s.notifier.Cancel(ctx, j)
	return j, nil
}

// Pause transitions a job to Paused. Legal only from Pending or
// Running per the state machine; a Running→Paused edge additionally
// signals the worker, best-effort, same as Cancel.
func (s *Service) Pause(ctx context.Context, actor Actor, id int64, reason string) (Job, error) {
	before, err := s.repo.Get(ctx, id)
	if err != nil {
		return Job{}, err
	}
	wasRunning := before.Status == StatusRunning

	j, err := s.transitionState(ctx, &actor, id, StatusPaused, reason, transitionOptions{})
	if err != nil {
		return Job{}, err
	}
	if wasRunning {
		s.notifier.Cancel(ctx, j)
	}
	return j, nil
}

// Resume always transitions a paused job back to Pending for
// re-dispatch by the scheduler.
func (s *Service) Resume(ctx context.Context, actor Actor, id int64, reason string) (Job, error) {
	return s.transitionState(ctx, &actor, id, StatusPending, reason, transitionOptions{})
}

// Retry requires the source job to be Failed and submits a new job row
// with retry_of set; it never mutates the original job. No automatic
// retry exists anywhere in this engine.
func (s *Service) Retry(ctx context.Context, actor Actor, id int64) (Job, error) {
	original, err := s.Get(ctx, actor, id)
	if err != nil {
		return Job{}, err
	}
	if original.Status != StatusFailed {
		return Job{}, apperr.Validation("only a failed job can be retried, job %d is %s", id, original.Status)
	}

	return s.Submit(ctx, SubmitInput{
		UserID:       original.UserID,
		Kind:         original.Kind,
		Priority:     original.Priority,
		RequiredTags: original.RequiredTags,
		Params:       original.Params,
		RetryOf:      &original.ID,
	})
}

// MarkRunning transitions a dispatched job to Running. Called by the
// render-worker bridge on an execution_start frame, never by a user
// request, so it carries no actor and skips authorization.
func (s *Service) MarkRunning(ctx context.Context, id int64, workerID int64) (Job, error) {
	return s.transitionState(ctx, nil, id, StatusRunning, "worker reported execution_start", transitionOptions{
		workerID:   &workerID,
		setStarted: true,
	})
}

// MarkCompleted transitions a running job to Completed with its final
// result payload. Called by the bridge on a terminal executing{node:
// null} frame after a successful run.
func (s *Service) MarkCompleted(ctx context.Context, id int64, result map[string]any) (Job, error) {
	return s.transitionState(ctx, nil, id, StatusCompleted, "worker reported execution complete", transitionOptions{
		result:       result,
		setCompleted: true,
	})
}

// MarkFailed transitions a job to Failed with an error message. Called
// by the bridge on an execution_error frame, or on disconnect for every
// job still in flight on that worker.
func (s *Service) MarkFailed(ctx context.Context, id int64, reason string) (Job, error) {
	return s.transitionState(ctx, nil, id, StatusFailed, reason, transitionOptions{
		errorMsg:     &reason,
		setCompleted: true,
	})
}

// Progress publishes a transient job.progress event without touching
// the job's status; it is never persisted as a transition row since it
// carries no state change, only cached completion percentage.
func (s *Service) Progress(ctx context.Context, id int64, percent int) error {
	j, err := s.repo.Get(ctx, id)
	if err != nil {
		return err
	}
	evt := jobEvent(events.TypeJobProgress, j, nil)
	evt.Payload["percent"] = percent
	_, err = s.events.Publish(ctx, evt)
	return err
}

// ActiveJobIDsForWorker returns ids of every Dispatched or Running job
// currently assigned to a worker, used by the bridge's disconnect handler to mark
// in-flight work Failed.
func (s *Service) ActiveJobIDsForWorker(ctx context.Context, workerID int64) ([]int64, error) {
	return s.repo.ActiveJobIDsForWorker(ctx, workerID)
}

func statusEventType(s Status) events.Type {
	switch s {
	case StatusScheduled:
		return events.TypeJobScheduled
	case StatusPending:
		return events.TypeJobPending
	case StatusDispatched:
		return events.TypeJobDispatched
	case StatusRunning:
		return events.TypeJobRunning
	case StatusCompleted:
		return events.TypeJobCompleted
	case StatusFailed:
		return events.TypeJobFailed
	case StatusCancelled:
		return events.TypeJobCancelled
	case StatusPaused:
		return events.TypeJobPaused
	case StatusRetrying:
		return events.TypeJobRetrying
	default:
		return events.TypeJobPending
	}
}

func jobEvent(t events.Type, j Job, actorUserID *int64) events.Event {
	return events.Event{
		Type:             t,
		SourceEntityType: "job",
		SourceEntityID:   j.ID,
		ActorUserID:      actorUserID,
		Payload: map[string]any{
			"job_id":   j.ID,
			"status":   j.Status.String(),
			"kind":     j.Kind,
			"priority": j.Priority,
		},
	}
}
