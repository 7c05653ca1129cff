// Package notify implements the notification router: for every event
// observed on the bus it resolves target users, applies each user's
// preferences and do-not-disturb window, and either delivers in-app
// (a notification row plus a WebSocket push), defers to the digest
// batch, or enqueues an outbound webhook/email delivery.
package notify

import (
	"context"
	"time"
)

// Notification is a per-user materialised delivery row.
type Notification struct {
	ID          int64
	EventID     int64
	UserID      int64
	Channel     string // in_app | email | webhook | digest
	ReadAt      *time.Time
	DeliveredAt *time.Time
	CreatedAt   time.Time
}

// Preference is a user's per-event-type opt-in row. A missing row is
// treated as enabled with the in_app channel only (spec §4.4 step 2).
type Preference struct {
	Enabled  bool
	Channels []string
	Scope    string
}

// Settings is a user's global notification posture.
type Settings struct {
	DNDEnabled    bool
	DNDUntil      *time.Time
	DigestEnabled bool
	DigestCadence string
}

// InDNDWindow reports whether s currently suppresses non-critical
// delivery: DND is enabled and either has no end time (indefinite) or
// its end time is still in the future.
func (s Settings) InDNDWindow(now time.Time) bool {
	if !s.DNDEnabled {
		return false
	}
	return s.DNDUntil == nil || s.DNDUntil.After(now)
}

// ClientPusher delivers an in_app notification to every active
// WebSocket connection a user holds. Satisfied by the client-facing
// hub; defaults to a no-op when unset so this router works standalone.
type ClientPusher interface {
	PushToUser(ctx context.Context, userID int64, message any) error
}

// DeliverySink enqueues an outbound webhook or email delivery for a
// user. Channel is "webhook" or "email"; eventType is the dotted event
// type name (e.g. "job.completed") so a webhook implementation can
// match it against each subscription's event_types list.
type DeliverySink interface {
	Enqueue(ctx context.Context, channel string, userID int64, eventID int64, eventType string, payload map[string]any) error
}

type noopPusher struct{}

func (noopPusher) PushToUser(context.Context, int64, any) error { return nil }

type noopSink struct{}

func (noopSink) Enqueue(context.Context, string, int64, int64, string, map[string]any) error {
	return nil
}
