// Package webhook implements the outbound webhook delivery engine: a
// single queue backed by the webhook_deliveries table, a dispatcher
// loop that signs and POSTs each pending row with bounded retry, and
// the admin test-delivery and replay operations.
package webhook

import "time"

// Status values a delivery row can hold.
const (
	StatusPending   = "pending"
	StatusRetrying  = "retrying"
	StatusDelivered = "delivered"
	StatusFailed    = "failed"
)

// SignatureHeader is the request header carrying the HMAC-SHA256
// signature over the payload body, expressed as lowercase hex.
const SignatureHeader = "X-Webhook-Signature"

// EventTypeHeader carries the dotted event-type name that triggered
// this delivery, or "webhook.test" for a synthetic admin test payload.
const EventTypeHeader = "X-Webhook-Event"

// Webhook is a registered outbound subscription.
type Webhook struct {
	ID              int64      `json:"id"`
	Name            string     `json:"name"`
	URL             string     `json:"url"`
	Secret          string     `json:"-"`
	EventTypes      []string   `json:"event_types"`
	IsEnabled       bool       `json:"is_enabled"`
	FailureCount    int        `json:"failure_count"`
	LastTriggeredAt *time.Time `json:"last_triggered_at,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
}

// Delivery is a single attempt record against a webhook.
type Delivery struct {
	ID                 int64          `json:"id"`
	WebhookID          int64          `json:"webhook_id"`
	EventID            *int64         `json:"event_id,omitempty"`
	Payload            map[string]any `json:"payload,omitempty"`
	Status             string         `json:"status"`
	AttemptCount       int            `json:"attempt_count"`
	MaxAttempts        int            `json:"max_attempts"`
	ResponseStatusCode *int           `json:"response_status_code,omitempty"`
	ResponseExcerpt    *string        `json:"response_excerpt,omitempty"`
	NextRetryAt        *time.Time     `json:"next_retry_at,omitempty"`
	DeliveredAt        *time.Time     `json:"delivered_at,omitempty"`
	CreatedAt          time.Time      `json:"created_at"`
}
