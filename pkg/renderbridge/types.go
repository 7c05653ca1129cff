// Package renderbridge maintains one outbound WebSocket session per
// registered render worker. Inbound frames from a ComfyUI-compatible
// backend drive job-state transitions through pkg/jobs; dispatch and
// best-effort cancellation flow the other way over the same session's
// send half.
package renderbridge

import (
	"encoding/json"
	"time"
)

// WorkerRegistration is the connection-relevant subset of a workers
// row: where to dial and how to authenticate.
type WorkerRegistration struct {
	ID          int64
	Name        string
	EndpointURL string
	AuthToken   string
	Status      string
}

// Execution maps one worker-assigned prompt id to the job it serves.
// One row is written per dispatch and looked up on every inbound frame
// that carries a prompt_id.
type Execution struct {
	ID          int64
	JobID       int64
	WorkerID    int64
	PromptID    string
	CurrentNode *string
	Status      string
	Output      map[string]any
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// inboundFrame is the wire envelope every text frame arrives in:
// {"type": "...", "data": {...}}.
type inboundFrame struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

type statusData struct {
	QueueRemaining int `json:"queue_remaining"`
}

type executionStartData struct {
	PromptID string `json:"prompt_id"`
}

type executingData struct {
	PromptID string  `json:"prompt_id"`
	Node     *string `json:"node"`
}

type progressData struct {
	PromptID string `json:"prompt_id"`
	Value    int    `json:"value"`
	Max      int    `json:"max"`
}

type executedData struct {
	PromptID string         `json:"prompt_id"`
	Node     string         `json:"node"`
	Output   map[string]any `json:"output"`
}

type executionErrorData struct {
	PromptID     string `json:"prompt_id"`
	ExceptionMsg string `json:"exception_message"`
}

// DispatchRequest is the HTTP control-channel body the bridge POSTs to
// a worker's endpoint to submit a prompt.
type DispatchRequest struct {
	JobID  int64          `json:"job_id"`
	Kind   string         `json:"kind"`
	Params map[string]any `json:"params"`
}

// DispatchResponse is the worker's acknowledgement, assigning the
// prompt id this execution will report progress under.
type DispatchResponse struct {
	PromptID string `json:"prompt_id"`
}
