// Package events implements the in-process event bus that carries job
// lifecycle, review, system, and collaboration events from publishers to
// the notification router, the webhook dispatcher, and the client
// WebSocket hub. The durable record of every event lives in the events
// table; the bus itself holds nothing across a process restart.
package events

import "time"

// Type identifies the kind of event flowing through the bus. Values
// correspond 1:1 with rows in the event_types lookup table.
type Type string

const (
	TypeJobScheduled     Type = "job.scheduled"
	TypeJobPending       Type = "job.pending"
	TypeJobDispatched    Type = "job.dispatched"
	TypeJobRunning       Type = "job.running"
	TypeJobCompleted     Type = "job.completed"
	TypeJobFailed        Type = "job.failed"
	TypeJobCancelled     Type = "job.cancelled"
	TypeJobPaused        Type = "job.paused"
	TypeJobRetrying      Type = "job.retrying"
	TypeJobProgress      Type = "job.progress"
	TypeJobQuotaWarning  Type = "job.quota_warning"
	TypeReviewRequested  Type = "review.requested"
	TypeReviewCompleted  Type = "review.completed"
	TypeSystemAlert      Type = "system.alert"
	TypeSystemMaint      Type = "system.maintenance"
	TypeCollabMention    Type = "collab.mention"
	TypeWebhookTest      Type = "webhook.test"
)

// Event is the payload carried on the bus. Service.Publish writes every
// event, job.progress included, into the events table before publishing it.
type Event struct {
	// ID is the events row id assigned by Service.Publish when it inserts
	// the row, so every event delivered on the bus carries it.
	ID int64

	Type             Type
	SourceEntityType string
	SourceEntityID   int64
	ActorUserID      *int64
	Payload          map[string]any
	CreatedAt        time.Time
}

// IsCritical reports whether the event type is flagged critical in the
// event_types catalogue (system.alert, system.maintenance). Critical
// events bypass per-user notification preferences and DND windows.
func (e Event) IsCritical() bool {
	return e.Type == TypeSystemAlert || e.Type == TypeSystemMaint
}
