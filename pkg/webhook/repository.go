package webhook

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ErrDeliveryNotFound is returned when a delivery id has no matching
// row, e.g. on a replay request for an unknown id.
var ErrDeliveryNotFound = errors.New("webhook delivery not found")

type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

const (
	selectSubscribedWebhooksSQL = `
SELECT id, name, url, secret
FROM webhooks
WHERE is_enabled AND $1 = ANY(event_types)`

	insertDeliverySQL = `
INSERT INTO webhook_deliveries (webhook_id, event_id, payload, status, max_attempts)
VALUES ($1, $2, $3, 'pending', $4)
RETURNING id, created_at`

	deliveryColumns = `
wd.id, wd.webhook_id, wd.event_id, wd.payload, wd.status, wd.attempt_count,
wd.max_attempts, wd.response_status_code, wd.response_body_excerpt,
wd.next_retry_at, wd.delivered_at, wd.created_at,
w.url, w.secret`

	selectDueDeliveriesSQL = `
SELECT ` + deliveryColumns + `
FROM webhook_deliveries wd
JOIN webhooks w ON w.id = wd.webhook_id
WHERE wd.status IN ('pending', 'retrying')
  AND (wd.next_retry_at IS NULL OR wd.next_retry_at <= now())
  AND wd.attempt_count < wd.max_attempts
ORDER BY wd.id
LIMIT $1`

	selectDeliveryByIDSQL = `
SELECT ` + deliveryColumns + `
FROM webhook_deliveries wd
JOIN webhooks w ON w.id = wd.webhook_id
WHERE wd.id = $1`

	markDeliveredSQL = `
UPDATE webhook_deliveries
SET status = 'delivered', attempt_count = attempt_count + 1,
    response_status_code = $2, delivered_at = now(), next_retry_at = NULL
WHERE id = $1`

	markRetryingSQL = `
UPDATE webhook_deliveries
SET status = 'retrying', attempt_count = attempt_count + 1,
    response_status_code = $2, response_body_excerpt = $3, next_retry_at = $4
WHERE id = $1`

	markFailedSQL = `
UPDATE webhook_deliveries
SET status = 'failed', attempt_count = attempt_count + 1,
    response_status_code = $2, response_body_excerpt = $3, next_retry_at = NULL
WHERE id = $1`

	resetDeliverySQL = `
UPDATE webhook_deliveries
SET status = 'pending', attempt_count = 0, response_status_code = NULL,
    response_body_excerpt = NULL, next_retry_at = NULL, delivered_at = NULL
WHERE id = $1`

	bumpWebhookFailureSQL = `
UPDATE webhooks SET failure_count = failure_count + 1, last_triggered_at = now() WHERE id = $1`

	touchWebhookSuccessSQL = `UPDATE webhooks SET last_triggered_at = now() WHERE id = $1`
)

// SubscribedWebhook is the slice of a webhook row the enqueue path
// needs: enough to insert a delivery row and nothing more.
type SubscribedWebhook struct {
	ID     int64
	Name   string
	URL    string
	Secret string
}

// SubscribedTo returns every enabled webhook whose event_types array
// contains eventType.
func (r *Repository) SubscribedTo(ctx context.Context, eventType string) ([]SubscribedWebhook, error) {
	rows, err := r.db.QueryContext(ctx, selectSubscribedWebhooksSQL, eventType)
	if err != nil {
		return nil, fmt.Errorf("query webhooks subscribed to %s: %w", eventType, err)
	}
	defer rows.Close()

	var out []SubscribedWebhook
	for rows.Next() {
		var w SubscribedWebhook
		if err := rows.Scan(&w.ID, &w.Name, &w.URL, &w.Secret); err != nil {
			return nil, fmt.Errorf("scan webhook: %w", err)
		}
		out = append(out, w)
	}
	return out, rows.Err()
}

// InsertDelivery queues a pending delivery row with a snapshot of the
// event payload. eventID is nil for synthetic test deliveries.
func (r *Repository) InsertDelivery(ctx context.Context, webhookID int64, eventID *int64, payload map[string]any, maxAttempts int) (Delivery, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return Delivery{}, fmt.Errorf("marshal delivery payload: %w", err)
	}
	if maxAttempts <= 0 {
		maxAttempts = 3
	}

	d := Delivery{WebhookID: webhookID, EventID: eventID, Payload: payload, Status: StatusPending, MaxAttempts: maxAttempts}
	err = r.db.QueryRowContext(ctx, insertDeliverySQL, webhookID, eventID, body, maxAttempts).Scan(&d.ID, &d.CreatedAt)
	if err != nil {
		return Delivery{}, fmt.Errorf("insert delivery for webhook %d: %w", webhookID, err)
	}
	return d, nil
}

// DueWithTarget bundles a delivery row together with the destination
// URL/secret the dispatcher needs to sign and send it.
type DueWithTarget struct {
	Delivery
	URL    string
	Secret string
}

func scanDueDelivery(row interface{ Scan(...any) error }) (DueWithTarget, error) {
	var d DueWithTarget
	var eventID sql.NullInt64
	var payload []byte
	var statusCode sql.NullInt64
	var excerpt sql.NullString
	var nextRetryAt, deliveredAt sql.NullTime

	err := row.Scan(
		&d.ID, &d.WebhookID, &eventID, &payload, &d.Status, &d.AttemptCount,
		&d.MaxAttempts, &statusCode, &excerpt, &nextRetryAt, &deliveredAt, &d.CreatedAt,
		&d.URL, &d.Secret,
	)
	if err != nil {
		return DueWithTarget{}, err
	}

	if eventID.Valid {
		v := eventID.Int64
		d.EventID = &v
	}
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &d.Payload); err != nil {
			return DueWithTarget{}, fmt.Errorf("unmarshal delivery payload: %w", err)
		}
	}
	if statusCode.Valid {
		v := int(statusCode.Int64)
		d.ResponseStatusCode = &v
	}
	if excerpt.Valid {
		d.ResponseExcerpt = &excerpt.String
	}
	if nextRetryAt.Valid {
		d.NextRetryAt = &nextRetryAt.Time
	}
	if deliveredAt.Valid {
		d.DeliveredAt = &deliveredAt.Time
	}
	return d, nil
}

// DueDeliveries pulls up to limit pending/retrying rows ready for
// another attempt: next_retry_at has elapsed (or was never set) and
// the row hasn't exhausted its attempt budget.
func (r *Repository) DueDeliveries(ctx context.Context, limit int) ([]DueWithTarget, error) {
	rows, err := r.db.QueryContext(ctx, selectDueDeliveriesSQL, limit)
	if err != nil {
		return nil, fmt.Errorf("query due deliveries: %w", err)
	}
	defer rows.Close()

	var out []DueWithTarget
	for rows.Next() {
		d, err := scanDueDelivery(rows)
		if err != nil {
			return nil, fmt.Errorf("scan due delivery: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// ByID fetches a single delivery with its webhook target, used by the
// replay endpoint to validate the id before resetting it.
func (r *Repository) ByID(ctx context.Context, id int64) (DueWithTarget, error) {
	d, err := scanDueDelivery(r.db.QueryRowContext(ctx, selectDeliveryByIDSQL, id))
	if errors.Is(err, sql.ErrNoRows) {
		return DueWithTarget{}, ErrDeliveryNotFound
	}
	if err != nil {
		return DueWithTarget{}, fmt.Errorf("load delivery %d: %w", id, err)
	}
	return d, nil
}

// MarkDelivered records a successful 2xx attempt.
func (r *Repository) MarkDelivered(ctx context.Context, id int64, statusCode int) error {
	_, err := r.db.ExecContext(ctx, markDeliveredSQL, id, statusCode)
	if err != nil {
		return fmt.Errorf("mark delivery %d delivered: %w", id, err)
	}
	return nil
}

// MarkRetrying records a failed attempt that still has budget left.
func (r *Repository) MarkRetrying(ctx context.Context, id int64, statusCode *int, excerpt string, nextRetryAt time.Time) error {
	_, err := r.db.ExecContext(ctx, markRetryingSQL, id, statusCode, excerpt, nextRetryAt)
	if err != nil {
		return fmt.Errorf("mark delivery %d retrying: %w", id, err)
	}
	return nil
}

// MarkFailed records the attempt that exhausted the retry budget.
func (r *Repository) MarkFailed(ctx context.Context, id int64, statusCode *int, excerpt string) error {
	_, err := r.db.ExecContext(ctx, markFailedSQL, id, statusCode, excerpt)
	if err != nil {
		return fmt.Errorf("mark delivery %d failed: %w", id, err)
	}
	return nil
}

// Reset returns a delivery to pending with a clean attempt history, so
// the dispatcher's next pass picks it back up.
func (r *Repository) Reset(ctx context.Context, id int64) error {
	res, err := r.db.ExecContext(ctx, resetDeliverySQL, id)
	if err != nil {
		return fmt.Errorf("reset delivery %d: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("reset delivery %d: %w", id, err)
	}
	if n == 0 {
		return ErrDeliveryNotFound
	}
	return nil
}

// BumpFailure increments a webhook's failure counter and touches
// last_triggered_at, called after a failed or exhausted attempt.
func (r *Repository) BumpFailure(ctx context.Context, webhookID int64) error {
	_, err := r.db.ExecContext(ctx, bumpWebhookFailureSQL, webhookID)
	if err != nil {
		return fmt.Errorf("bump failure count for webhook %d: %w", webhookID, err)
	}
	return nil
}

// TouchSuccess updates last_triggered_at after a successful delivery.
func (r *Repository) TouchSuccess(ctx context.Context, webhookID int64) error {
	_, err := r.db.ExecContext(ctx, touchWebhookSuccessSQL, webhookID)
	if err != nil {
		return fmt.Errorf("touch webhook %d: %w", webhookID, err)
	}
	return nil
}
