package jobs

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ErrNotFound is returned when a job id has no matching row.
var ErrNotFound = errors.New("job not found")

// Repository hand-writes every SQL statement against the jobs and
// job_transitions tables. One constant per table backs the column list
// every query template uses, so a schema change only needs updating in
// one place.
type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

const (
	jobColumns = `id, user_id, kind, priority, status_id, worker_id, required_tags, params, result, error,
		attempt_count, duration_ms, scheduled_start_at, retry_of, submitted_at, started_at, completed_at, deleted_at`

	insertJobSQL = `
INSERT INTO jobs (user_id, kind, priority, status_id, required_tags, params, scheduled_start_at, retry_of)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
RETURNING ` + jobColumns

	selectJobByIDSQL = `SELECT ` + jobColumns + ` FROM jobs WHERE id = $1 AND deleted_at IS NULL`

	selectJobForUpdateSQL = `SELECT ` + jobColumns + ` FROM jobs WHERE id = $1 AND deleted_at IS NULL FOR UPDATE`

	updateJobTransitionSQL = `
UPDATE jobs SET status_id = $2, worker_id = $3, result = $4, error = $5,
	started_at = $6, completed_at = $7, attempt_count = $8
WHERE id = $1
RETURNING ` + jobColumns

	insertTransitionSQL = `
INSERT INTO job_transitions (job_id, from_status_id, to_status_id, actor_user_id, reason)
VALUES ($1, $2, $3, $4, $5)`

	selectPendingQueueSQL = `
SELECT ` + jobColumns + ` FROM jobs
WHERE status_id = $1 AND deleted_at IS NULL
ORDER BY priority DESC, submitted_at ASC`

	selectScheduledDueSQL = `
SELECT id FROM jobs
WHERE status_id = ` + statusScheduledLiteral + ` AND scheduled_start_at <= now() AND deleted_at IS NULL`

	countByStatusSQL = `SELECT count(*) FROM jobs WHERE status_id = $1 AND deleted_at IS NULL`

	avgDurationSQL = `SELECT coalesce(avg(duration_ms), 0) FROM jobs WHERE status_id = ` + statusCompletedLiteral + ` AND duration_ms IS NOT NULL`

	selectJobsForUserSQL = `
SELECT ` + jobColumns + ` FROM jobs
WHERE user_id = $1 AND deleted_at IS NULL
ORDER BY submitted_at DESC LIMIT $2 OFFSET $3`

	selectJobsAllSQL = `
SELECT ` + jobColumns + ` FROM jobs
WHERE deleted_at IS NULL
ORDER BY submitted_at DESC LIMIT $1 OFFSET $2`

	transitionColumns = `id, job_id, from_status_id, to_status_id, actor_user_id, reason, created_at`

	selectTransitionsForJobSQL = `
SELECT ` + transitionColumns + ` FROM job_transitions
WHERE job_id = $1
ORDER BY created_at ASC`
)

// Numeric literals for status ids used directly in SQL text (safe: they
// are compile-time constants from the Status enum, not user input).
const (
	statusScheduledLiteral = "1"
	statusCompletedLiteral = "5"
)

func scanJob(row interface{ Scan(...any) error }) (Job, error) {
	var j Job
	var tags []string
	var params, result []byte
	var workerID sql.NullInt64
	var errMsg sql.NullString
	var durationMS sql.NullInt64
	var scheduledStartAt, startedAt, completedAt, deletedAt sql.NullTime
	var retryOf sql.NullInt64

	err := row.Scan(&j.ID, &j.UserID, &j.Kind, &j.Priority, &j.Status, &workerID, &tags, &params, &result, &errMsg,
		&j.AttemptCount, &durationMS, &scheduledStartAt, &retryOf, &j.SubmittedAt, &startedAt, &completedAt, &deletedAt)
	if err != nil {
		return Job{}, err
	}

	j.RequiredTags = tags
	if workerID.Valid {
		v := workerID.Int64
		j.WorkerID = &v
	}
	if errMsg.Valid {
		v := errMsg.String
		j.Error = &v
	}
	if durationMS.Valid {
		v := durationMS.Int64
		j.DurationMS = &v
	}
	if retryOf.Valid {
		v := retryOf.Int64
		j.RetryOf = &v
	}
	if scheduledStartAt.Valid {
		v := scheduledStartAt.Time
		j.ScheduledStartAt = &v
	}
	if startedAt.Valid {
		v := startedAt.Time
		j.StartedAt = &v
	}
	if completedAt.Valid {
		v := completedAt.Time
		j.CompletedAt = &v
	}
	if deletedAt.Valid {
		v := deletedAt.Time
		j.DeletedAt = &v
	}
	if len(params) > 0 {
		if err := json.Unmarshal(params, &j.Params); err != nil {
			return Job{}, fmt.Errorf("unmarshal job params: %w", err)
		}
	}
	if len(result) > 0 {
		if err := json.Unmarshal(result, &j.Result); err != nil {
			return Job{}, fmt.Errorf("unmarshal job result: %w", err)
		}
	}
	return j, nil
}

// Submit inserts a new job row in Scheduled or Pending status depending
// on whether a future start time was supplied.
func (r *Repository) Submit(ctx context.Context, in SubmitInput) (Job, error) {
	status := StatusPending
	if in.ScheduledStartAt != nil && in.ScheduledStartAt.After(time.Now()) {
		status = StatusScheduled
	}

	params, err := json.Marshal(in.Params)
	if err != nil {
		return Job{}, fmt.Errorf("marshal job params: %w", err)
	}

	row := r.db.QueryRowContext(ctx, insertJobSQL,
		in.UserID, in.Kind, in.Priority, status, in.RequiredTags, params, in.ScheduledStartAt, in.RetryOf)
	return scanJob(row)
}

// Get fetches a job by id, excluding soft-deleted rows.
func (r *Repository) Get(ctx context.Context, id int64) (Job, error) {
	row := r.db.QueryRowContext(ctx, selectJobByIDSQL, id)
	j, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Job{}, ErrNotFound
	}
	if err != nil {
		return Job{}, fmt.Errorf("get job %d: %w", id, err)
	}
	return j, nil
}

// GetForUpdate fetches a job locked FOR UPDATE within tx, for use by
// transition_state and the scheduler's dispatch step.
func (r *Repository) GetForUpdate(ctx context.Context, tx *sql.Tx, id int64) (Job, error) {
	row := tx.QueryRowContext(ctx, selectJobForUpdateSQL, id)
	j, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Job{}, ErrNotFound
	}
	if err != nil {
		return Job{}, fmt.Errorf("get job %d for update: %w", id, err)
	}
	return j, nil
}

// ApplyTransition writes the new status (and accompanying fields) for
// a job and appends the audit row, all within the caller's transaction.
func (r *Repository) ApplyTransition(ctx context.Context, tx *sql.Tx, j Job) (Job, error) {
	var resultJSON []byte
	if j.Result != nil {
		var err error
		resultJSON, err = json.Marshal(j.Result)
		if err != nil {
			return Job{}, fmt.Errorf("marshal job result: %w", err)
		}
	}

	row := tx.QueryRowContext(ctx, updateJobTransitionSQL,
		j.ID, j.Status, j.WorkerID, resultJSON, j.Error, j.StartedAt, j.CompletedAt, j.AttemptCount)
	updated, err := scanJob(row)
	if err != nil {
		return Job{}, fmt.Errorf("apply transition to job %d: %w", j.ID, err)
	}
	return updated, nil
}

// InsertTransition appends an audit row for a status change.
func (r *Repository) InsertTransition(ctx context.Context, tx *sql.Tx, jobID int64, from *Status, to Status, actorUserID *int64, reason string) error {
	_, err := tx.ExecContext(ctx, insertTransitionSQL, jobID, from, to, actorUserID, reason)
	if err != nil {
		return fmt.Errorf("insert job transition for job %d: %w", jobID, err)
	}
	return nil
}

// PendingQueue returns Pending jobs ordered by (priority desc,
// submitted_at asc) — the scheduler's dispatch candidate list.
func (r *Repository) PendingQueue(ctx context.Context) ([]Job, error) {
	rows, err := r.db.QueryContext(ctx, selectPendingQueueSQL, StatusPending)
	if err != nil {
		return nil, fmt.Errorf("query pending queue: %w", err)
	}
	defer rows.Close()

	var out []Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan pending job row: %w", err)
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

// ScheduledDueIDs returns ids of Scheduled jobs whose start time has
// arrived, for the scheduler's promotion step.
func (r *Repository) ScheduledDueIDs(ctx context.Context) ([]int64, error) {
	rows, err := r.db.QueryContext(ctx, selectScheduledDueSQL)
	if err != nil {
		return nil, fmt.Errorf("query scheduled-due jobs: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan scheduled-due id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// CountByStatus returns the number of non-deleted jobs in a status.
func (r *Repository) CountByStatus(ctx context.Context, status Status) (int, error) {
	var n int
	if err := r.db.QueryRowContext(ctx, countByStatusSQL, status).Scan(&n); err != nil {
		return 0, fmt.Errorf("count jobs in status %s: %w", status, err)
	}
	return n, nil
}

// AverageCompletedDurationMS returns the mean duration_ms across
// completed jobs, used for the queue view's estimated-wait formula.
func (r *Repository) AverageCompletedDurationMS(ctx context.Context) (float64, error) {
	var avg float64
	if err := r.db.QueryRowContext(ctx, avgDurationSQL).Scan(&avg); err != nil {
		return 0, fmt.Errorf("compute average completed duration: %w", err)
	}
	return avg, nil
}

// ListForUser returns a submitter's jobs, most recent first.
func (r *Repository) ListForUser(ctx context.Context, userID int64, limit, offset int) ([]Job, error) {
	rows, err := r.db.QueryContext(ctx, selectJobsForUserSQL, userID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("query jobs for user %d: %w", userID, err)
	}
	defer rows.Close()
	return scanJobRows(rows)
}

// ListAll returns every non-deleted job, most recent first — the admin
// view of GET /jobs.
func (r *Repository) ListAll(ctx context.Context, limit, offset int) ([]Job, error) {
	rows, err := r.db.QueryContext(ctx, selectJobsAllSQL, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("query all jobs: %w", err)
	}
	defer rows.Close()
	return scanJobRows(rows)
}

func scanJobRows(rows *sql.Rows) ([]Job, error) {
	var out []Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job row: %w", err)
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

// ListTransitions returns the full audit trail for a job, oldest first.
func (r *Repository) ListTransitions(ctx context.Context, jobID int64) ([]Transition, error) {
	rows, err := r.db.QueryContext(ctx, selectTransitionsForJobSQL, jobID)
	if err != nil {
		return nil, fmt.Errorf("query transitions for job %d: %w", jobID, err)
	}
	defer rows.Close()

	var out []Transition
	for rows.Next() {
		var t Transition
		var from sql.NullInt16
		var actorUserID sql.NullInt64
		if err := rows.Scan(&t.ID, &t.JobID, &from, &t.ToStatus, &actorUserID, &t.Reason, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan transition row: %w", err)
		}
		if from.Valid {
			s := Status(from.Int16)
			t.FromStatus = &s
		}
		if actorUserID.Valid {
			v := actorUserID.Int64
			t.ActorUserID = &v
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// BeginTx starts a transaction for callers that need to compose
// multiple repository calls atomically (transition_state, dispatch).
func (r *Repository) BeginTx(ctx context.Context) (*sql.Tx, error) {
	return r.db.BeginTx(ctx, nil)
}

const (
	selectOnlineWorkersSQL = `
SELECT id, name, tags, status, gpu_percent, active_jobs, queue_depth, last_heartbeat_at
FROM workers WHERE status = 'online' ORDER BY id ASC`

	incrementWorkerActiveJobsSQL = `UPDATE workers SET active_jobs = active_jobs + 1 WHERE id = $1`

	releaseExpiredLocksSQL = `UPDATE locks SET is_active = FALSE, released_at = now() WHERE is_active AND expires_at <= now()`

	reapStalePresenceSQL = `DELETE FROM presence WHERE last_seen_at < now() - ($1 || ' seconds')::interval`

	selectActiveJobIDsForWorkerSQL = `
SELECT id FROM jobs
WHERE worker_id = $1 AND status_id IN (` + statusDispatchedLiteral + `, ` + statusRunningLiteral + `) AND deleted_at IS NULL`
)

const (
	statusDispatchedLiteral = "3"
	statusRunningLiteral    = "4"
)

// OnlineWorkers returns the current snapshot of online workers the
// scheduler dispatches against. Draining and offline workers are
// excluded at the SQL level since neither is ever a dispatch target.
func (r *Repository) OnlineWorkers(ctx context.Context) ([]Worker, error) {
	rows, err := r.db.QueryContext(ctx, selectOnlineWorkersSQL)
	if err != nil {
		return nil, fmt.Errorf("query online workers: %w", err)
	}
	defer rows.Close()

	var out []Worker
	for rows.Next() {
		var w Worker
		var tags []string
		var lastHeartbeat sql.NullTime
		if err := rows.Scan(&w.ID, &w.Name, &tags, &w.Status, &w.GPUPercent, &w.ActiveJobs, &w.QueueDepth, &lastHeartbeat); err != nil {
			return nil, fmt.Errorf("scan worker row: %w", err)
		}
		w.Tags = tags
		if lastHeartbeat.Valid {
			v := lastHeartbeat.Time
			w.LastHeartbeatAt = &v
		}
		out = append(out, w)
	}
	return out, rows.Err()
}

// IncrementWorkerActiveJobs bumps a worker's cached active_jobs counter
// when the scheduler dispatches to it, ahead of the worker's own next
// `status` heartbeat frame correcting it to the true value.
func (r *Repository) IncrementWorkerActiveJobs(ctx context.Context, tx *sql.Tx, workerID int64) error {
	if _, err := tx.ExecContext(ctx, incrementWorkerActiveJobsSQL, workerID); err != nil {
		return fmt.Errorf("increment active_jobs for worker %d: %w", workerID, err)
	}
	return nil
}

// ReleaseExpiredLocks flips is_active off for every collaborative lock
// whose expiry has passed, and reports how many rows were released.
func (r *Repository) ReleaseExpiredLocks(ctx context.Context) (int64, error) {
	res, err := r.db.ExecContext(ctx, releaseExpiredLocksSQL)
	if err != nil {
		return 0, fmt.Errorf("release expired locks: %w", err)
	}
	return res.RowsAffected()
}

// ReapStalePresence deletes presence rows not refreshed within
// staleAfter, and reports how many rows were removed.
func (r *Repository) ReapStalePresence(ctx context.Context, staleAfter time.Duration) (int64, error) {
	res, err := r.db.ExecContext(ctx, reapStalePresenceSQL, staleAfter.Seconds())
	if err != nil {
		return 0, fmt.Errorf("reap stale presence: %w", err)
	}
	return res.RowsAffected()
}

// ActiveJobIDsForWorker returns ids of every Dispatched or Running job
// currently assigned to a worker, used when a worker disconnects.
func (r *Repository) ActiveJobIDsForWorker(ctx context.Context, workerID int64) ([]int64, error) {
	rows, err := r.db.QueryContext(ctx, selectActiveJobIDsForWorkerSQL, workerID)
	if err != nil {
		return nil, fmt.Errorf("query active jobs for worker %d: %w", workerID, err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan active job id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
