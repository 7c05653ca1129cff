package renderbridge

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ErrExecutionNotFound is returned when a (worker, prompt_id) pair has
// no mapping row.
var ErrExecutionNotFound = errors.New("execution not found")

// Repository hand-writes every SQL statement against the workers and
// job_executions tables.
type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

const (
	selectRegisteredWorkersSQL = `SELECT id, name, endpoint_url, auth_token, status FROM workers ORDER BY id ASC`

	updateWorkerStatusSQL   = `UPDATE workers SET status = $2 WHERE id = $1`
	updateWorkerHeartbeatSQL = `UPDATE workers SET last_heartbeat_at = now(), gpu_percent = $2, queue_depth = $3 WHERE id = $1`
	updateWorkerQueueDepthSQL = `UPDATE workers SET queue_depth = $2, last_heartbeat_at = now() WHERE id = $1`

	executionColumns = `id, job_id, worker_id, prompt_id, current_node, status, output, created_at, updated_at`

	insertExecutionSQL = `
INSERT INTO job_executions (job_id, worker_id, prompt_id, status)
VALUES ($1, $2, $3, 'running')
RETURNING ` + executionColumns

	selectExecutionByPromptSQL = `SELECT ` + executionColumns + ` FROM job_executions WHERE worker_id = $1 AND prompt_id = $2`

	selectExecutionByJobSQL = `SELECT ` + executionColumns + ` FROM job_executions WHERE worker_id = $1 AND job_id = $2 ORDER BY id DESC LIMIT 1`

	updateExecutionNodeSQL = `UPDATE job_executions SET current_node = $2, updated_at = now() WHERE id = $1`

	updateExecutionStatusSQL = `UPDATE job_executions SET status = $2, updated_at = now() WHERE id = $1`

	updateExecutionOutputSQL = `
UPDATE job_executions SET output = coalesce(output, '{}'::jsonb) || $2::jsonb, updated_at = now() WHERE id = $1`

	deleteExecutionsOlderThanSQL = `
DELETE FROM job_executions WHERE updated_at < $1 AND status IN ('completed', 'failed')`
)

// RegisteredWorkers returns every worker row regardless of status;
// Bridge.Start dials each of them.
func (r *Repository) RegisteredWorkers(ctx context.Context) ([]WorkerRegistration, error) {
	rows, err := r.db.QueryContext(ctx, selectRegisteredWorkersSQL)
	if err != nil {
		return nil, fmt.Errorf("query registered workers: %w", err)
	}
	defer rows.Close()

	var out []WorkerRegistration
	for rows.Next() {
		var w WorkerRegistration
		var authToken sql.NullString
		if err := rows.Scan(&w.ID, &w.Name, &w.EndpointURL, &authToken, &w.Status); err != nil {
			return nil, fmt.Errorf("scan worker registration: %w", err)
		}
		w.AuthToken = authToken.String
		out = append(out, w)
	}
	return out, rows.Err()
}

// SetWorkerStatus updates a worker's online/draining/offline status,
// used when a session connects or disconnects.
func (r *Repository) SetWorkerStatus(ctx context.Context, workerID int64, status string) error {
	_, err := r.db.ExecContext(ctx, updateWorkerStatusSQL, workerID, status)
	if err != nil {
		return fmt.Errorf("set worker %d status to %s: %w", workerID, status, err)
	}
	return nil
}

// RecordHeartbeat applies a status frame's cached load indicators.
func (r *Repository) RecordHeartbeat(ctx context.Context, workerID int64, gpuPercent float64, queueDepth int) error {
	_, err := r.db.ExecContext(ctx, updateWorkerHeartbeatSQL, workerID, gpuPercent, queueDepth)
	if err != nil {
		return fmt.Errorf("record heartbeat for worker %d: %w", workerID, err)
	}
	return nil
}

// UpdateQueueDepth applies a status frame containing only queue depth.
func (r *Repository) UpdateQueueDepth(ctx context.Context, workerID int64, queueDepth int) error {
	_, err := r.db.ExecContext(ctx, updateWorkerQueueDepthSQL, workerID, queueDepth)
	if err != nil {
		return fmt.Errorf("update queue depth for worker %d: %w", workerID, err)
	}
	return nil
}

func scanExecution(row interface{ Scan(...any) error }) (Execution, error) {
	var e Execution
	var currentNode sql.NullString
	var output []byte
	err := row.Scan(&e.ID, &e.JobID, &e.WorkerID, &e.PromptID, &currentNode, &e.Status, &output, &e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		return Execution{}, err
	}
	if currentNode.Valid {
		v := currentNode.String
		e.CurrentNode = &v
	}
	if len(output) > 0 {
		if err := json.Unmarshal(output, &e.Output); err != nil {
			return Execution{}, fmt.Errorf("unmarshal execution output: %w", err)
		}
	}
	return e, nil
}

// InsertExecution records the (worker, prompt_id, job_id) mapping made
// at dispatch time.
func (r *Repository) InsertExecution(ctx context.Context, jobID, workerID int64, promptID string) (Execution, error) {
	row := r.db.QueryRowContext(ctx, insertExecutionSQL, jobID, workerID, promptID)
	return scanExecution(row)
}

// ByPrompt looks up the execution mapping for an inbound frame.
func (r *Repository) ByPrompt(ctx context.Context, workerID int64, promptID string) (Execution, error) {
	row := r.db.QueryRowContext(ctx, selectExecutionByPromptSQL, workerID, promptID)
	e, err := scanExecution(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Execution{}, ErrExecutionNotFound
	}
	if err != nil {
		return Execution{}, fmt.Errorf("get execution for worker %d prompt %s: %w", workerID, promptID, err)
	}
	return e, nil
}

// ExecutionByJob looks up the latest execution mapping for a job on a
// specific worker, used by Cancel to recover the worker-assigned
// prompt id.
func (r *Repository) ExecutionByJob(ctx context.Context, workerID, jobID int64) (Execution, error) {
	row := r.db.QueryRowContext(ctx, selectExecutionByJobSQL, workerID, jobID)
	e, err := scanExecution(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Execution{}, ErrExecutionNotFound
	}
	if err != nil {
		return Execution{}, fmt.Errorf("get execution for worker %d job %d: %w", workerID, jobID, err)
	}
	return e, nil
}

// SetCurrentNode records an executing{node} frame's progress marker.
func (r *Repository) SetCurrentNode(ctx context.Context, executionID int64, node *string) error {
	_, err := r.db.ExecContext(ctx, updateExecutionNodeSQL, executionID, node)
	if err != nil {
		return fmt.Errorf("set current node for execution %d: %w", executionID, err)
	}
	return nil
}

// SetStatus updates the execution row's terminal status.
func (r *Repository) SetStatus(ctx context.Context, executionID int64, status string) error {
	_, err := r.db.ExecContext(ctx, updateExecutionStatusSQL, executionID, status)
	if err != nil {
		return fmt.Errorf("set status for execution %d: %w", executionID, err)
	}
	return nil
}

// MergeOutput persists a node's output for post-processing, merging
// into whatever has already accumulated for this execution.
func (r *Repository) MergeOutput(ctx context.Context, executionID int64, node string, output map[string]any) error {
	nodeOutput, err := json.Marshal(map[string]any{node: output})
	if err != nil {
		return fmt.Errorf("marshal node output: %w", err)
	}
	_, err = r.db.ExecContext(ctx, updateExecutionOutputSQL, executionID, nodeOutput)
	if err != nil {
		return fmt.Errorf("merge output for execution %d: %w", executionID, err)
	}
	return nil
}

// PurgeCompletedOlderThan deletes terminal execution rows (completed,
// failed) last updated before cutoff, returning the count removed.
// Running executions are never purged regardless of age.
func (r *Repository) PurgeCompletedOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, deleteExecutionsOlderThanSQL, cutoff)
	if err != nil {
		return 0, fmt.Errorf("purge executions older than %s: %w", cutoff, err)
	}
	return res.RowsAffected()
}
