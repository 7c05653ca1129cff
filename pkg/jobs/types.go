// Package jobs implements the job lifecycle engine: the status state
// machine, the priority/quota/tag-matching scheduler, and the atomic
// transition audit trail.
package jobs

import "time"

// Status is one of the nine states a job can occupy. Values match the
// surrogate keys seeded into the job_statuses lookup table, so a Status
// can be used directly as the status_id parameter in repository calls.
type Status int16

const (
	StatusScheduled Status = 1
	StatusPending   Status = 2
	StatusDispatched Status = 3
	StatusRunning   Status = 4
	StatusCompleted Status = 5
	StatusFailed    Status = 6
	StatusCancelled Status = 7
	StatusPaused    Status = 8
	StatusRetrying  Status = 9
)

func (s Status) String() string {
	switch s {
	case StatusScheduled:
		return "scheduled"
	case StatusPending:
		return "pending"
	case StatusDispatched:
		return "dispatched"
	case StatusRunning:
		return "running"
	case StatusCompleted:
		return "completed"
	case StatusFailed:
		return "failed"
	case StatusCancelled:
		return "cancelled"
	case StatusPaused:
		return "paused"
	case StatusRetrying:
		return "retrying"
	default:
		return "unknown"
	}
}

// IsTerminal reports whether a job in this status never changes again.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// MarshalJSON renders a Status as its lowercase name rather than its
// numeric surrogate key, since every API consumer of this field is
// external.
func (s Status) MarshalJSON() ([]byte, error) {
	return []byte(`"` + s.String() + `"`), nil
}

// Priority constants per spec: higher dispatches first.
const (
	PriorityUrgent     = 10
	PriorityNormal     = 0
	PriorityBackground = -10
)

// Job is the central scheduling unit.
type Job struct {
	ID               int64          `json:"id"`
	UserID           int64          `json:"user_id"`
	Kind             string         `json:"kind"`
	Priority         int            `json:"priority"`
	Status           Status         `json:"status"`
	WorkerID         *int64         `json:"worker_id,omitempty"`
	RequiredTags     []string       `json:"required_tags,omitempty"`
	Params           map[string]any `json:"params,omitempty"`
	Result           map[string]any `json:"result,omitempty"`
	Error            *string        `json:"error,omitempty"`
	AttemptCount     int            `json:"attempt_count"`
	DurationMS       *int64         `json:"duration_ms,omitempty"`
	ScheduledStartAt *time.Time     `json:"scheduled_start_at,omitempty"`
	RetryOf          *int64         `json:"retry_of,omitempty"`
	SubmittedAt      time.Time      `json:"submitted_at"`
	StartedAt        *time.Time     `json:"started_at,omitempty"`
	CompletedAt      *time.Time     `json:"completed_at,omitempty"`
	DeletedAt        *time.Time     `json:"-"`
}

// Transition is the append-only audit row recorded by every state
// change.
type Transition struct {
	ID          int64     `json:"id"`
	JobID       int64     `json:"job_id"`
	FromStatus  *Status   `json:"from_status,omitempty"`
	ToStatus    Status    `json:"to_status"`
	ActorUserID *int64    `json:"actor_user_id,omitempty"`
	Reason      string    `json:"reason,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// Worker is a render-worker registration snapshot used by the
// scheduler to pick a dispatch target.
type Worker struct {
	ID              int64
	Name            string
	Tags            []string
	Status          string // online | draining | offline
	GPUPercent      float64
	ActiveJobs      int
	QueueDepth      int
	LastHeartbeatAt *time.Time
}

// QueueView is the read-only snapshot returned by the queue endpoint.
type QueueView struct {
	Queued        int           `json:"queued"`
	Running       int           `json:"running"`
	Scheduled     int           `json:"scheduled"`
	Jobs          []Job         `json:"jobs"`
	EstimatedWait time.Duration `json:"estimated_wait_ns"`
}

// SubmitInput carries the fields a caller supplies when submitting a
// new job (everything else is computed: id, status, submitted_at).
type SubmitInput struct {
	UserID           int64
	Kind             string
	Priority         int
	RequiredTags     []string
	Params           map[string]any
	ScheduledStartAt *time.Time
	RetryOf          *int64
}
