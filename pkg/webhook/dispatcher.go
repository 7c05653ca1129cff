package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/studiocore/control-plane/pkg/metrics"
)

// maxRetryDelay is the ceiling spec §4.5 places on the exponential
// backoff between delivery attempts.
const maxRetryDelay = time.Hour

// excerptLimit bounds how much of a non-2xx response body gets stored
// for operator inspection.
const excerptLimit = 512

// Config tunes the dispatcher loop.
type Config struct {
	BatchSize    int
	PollInterval time.Duration
	RequestTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.BatchSize <= 0 {
		c.BatchSize = 25
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 5 * time.Second
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = 10 * time.Second
	}
	return c
}

// Dispatcher pulls due deliveries on a fixed poll interval, signs and
// POSTs each one, and records the outcome.
type Dispatcher struct {
	repo *Repository
	cfg  Config
	hc   *http.Client
	log  *slog.Logger

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

func NewDispatcher(repo *Repository, cfg Config, log *slog.Logger) *Dispatcher {
	if log == nil {
		log = slog.Default()
	}
	cfg = cfg.withDefaults()
	return &Dispatcher{
		repo:   repo,
		cfg:    cfg,
		hc:     &http.Client{Timeout: cfg.RequestTimeout},
		log:    log,
		stopCh: make(chan struct{}),
	}
}

// Start begins the poll loop in a goroutine.
func (d *Dispatcher) Start(ctx context.Context) {
	d.wg.Add(1)
	go d.run(ctx)
}

// Stop signals the loop to exit and waits for the in-flight pass to
// finish. Safe to call multiple times.
func (d *Dispatcher) Stop() {
	d.stopOnce.Do(func() { close(d.stopCh) })
	d.wg.Wait()
}

func (d *Dispatcher) run(ctx context.Context) {
	defer d.wg.Done()

	ticker := time.NewTicker(d.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-d.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.tick(ctx)
		}
	}
}

func (d *Dispatcher) tick(ctx context.Context) {
	due, err := d.repo.DueDeliveries(ctx, d.cfg.BatchSize)
	if err != nil {
		d.log.Error("load due webhook deliveries", "error", err)
		return
	}
	for _, delivery := range due {
		d.attempt(ctx, delivery)
	}
}

func (d *Dispatcher) attempt(ctx context.Context, delivery DueWithTarget) {
	body, err := json.Marshal(delivery.Payload)
	if err != nil {
		d.log.Error("marshal webhook payload", "delivery_id", delivery.ID, "error", err)
		return
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, delivery.URL, bytes.NewReader(body))
	if err != nil {
		d.log.Error("build webhook request", "delivery_id", delivery.ID, "error", err)
		return
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(SignatureHeader, sign(delivery.Secret, body))
	if eventType, ok := delivery.Payload["event_type"].(string); ok && eventType != "" {
		req.Header.Set(EventTypeHeader, eventType)
	}

	resp, err := d.hc.Do(req)
	if err != nil {
		d.fail(ctx, delivery, nil, err.Error())
		return
	}
	defer resp.Body.Close()

	excerpt, _ := io.ReadAll(io.LimitReader(resp.Body, excerptLimit))
	statusCode := resp.StatusCode

	if statusCode >= 200 && statusCode < 300 {
		if err := d.repo.MarkDelivered(ctx, delivery.ID, statusCode); err != nil {
			d.log.Error("mark webhook delivered", "delivery_id", delivery.ID, "error", err)
			return
		}
		if err := d.repo.TouchSuccess(ctx, delivery.WebhookID); err != nil {
			d.log.Error("touch webhook success", "webhook_id", delivery.WebhookID, "error", err)
		}
		metrics.RecordWebhookDelivery("delivered")
		return
	}

	d.fail(ctx, delivery, &statusCode, string(excerpt))
}

func (d *Dispatcher) fail(ctx context.Context, delivery DueWithTarget, statusCode *int, excerpt string) {
	nextAttempt := delivery.AttemptCount + 1
	if nextAttempt >= delivery.MaxAttempts {
		if err := d.repo.MarkFailed(ctx, delivery.ID, statusCode, excerpt); err != nil {
			d.log.Error("mark webhook failed", "delivery_id", delivery.ID, "error", err)
		}
		metrics.RecordWebhookDelivery("failed")
	} else {
		nextRetryAt := time.Now().Add(nextRetryDelay(nextAttempt))
		if err := d.repo.MarkRetrying(ctx, delivery.ID, statusCode, excerpt, nextRetryAt); err != nil {
			d.log.Error("mark webhook retrying", "delivery_id", delivery.ID, "error", err)
		}
		metrics.RecordWebhookDelivery("retrying")
	}
	if err := d.repo.BumpFailure(ctx, delivery.WebhookID); err != nil {
		d.log.Error("bump webhook failure count", "webhook_id", delivery.WebhookID, "error", err)
	}
}

// sign computes the lowercase-hex HMAC-SHA256 signature spec §4.5
// requires over the raw payload body.
func sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// nextRetryDelay computes min(2^attemptCount, 3600) seconds using the
// exponential backoff shape from cenkalti/backoff/v4 rather than a
// hand-rolled power-of-two loop: a fresh, unrandomized backoff doubles
// its interval on every call starting from one second, so calling
// NextBackOff attemptCount+1 times lands on 2^attemptCount, capped by
// MaxInterval.
func nextRetryDelay(attemptCount int) time.Duration {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = time.Second
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxInterval = maxRetryDelay
	b.MaxElapsedTime = 0
	b.Reset()

	var delay time.Duration
	for i := 0; i <= attemptCount; i++ {
		delay = b.NextBackOff()
	}
	if delay > maxRetryDelay {
		delay = maxRetryDelay
	}
	return delay
}

// Enqueue implements notify.DeliverySink for the webhook channel: it
// fans an event out to every webhook subscribed to eventType. userID is
// irrelevant here since webhooks subscribe by event type, not by
// recipient; eventID becomes the delivery row's event reference.
func (d *Dispatcher) Enqueue(ctx context.Context, channel string, userID int64, eventID int64, eventType string, payload map[string]any) error {
	if channel != "webhook" {
		return nil
	}
	return d.EnqueueForEventType(ctx, eventType, eventID, payload)
}

// EnqueueForEventType inserts a pending delivery for every webhook
// subscribed to eventType. Used both by the event-driven enqueue path
// and, with eventType set to "webhook.test", by the admin test
// endpoint.
func (d *Dispatcher) EnqueueForEventType(ctx context.Context, eventType string, eventID int64, payload map[string]any) error {
	targets, err := d.repo.SubscribedTo(ctx, eventType)
	if err != nil {
		return fmt.Errorf("resolve webhooks subscribed to %s: %w", eventType, err)
	}
	var eid *int64
	if eventID != 0 {
		eid = &eventID
	}
	stamped := make(map[string]any, len(payload)+1)
	for k, v := range payload {
		stamped[k] = v
	}
	stamped["event_type"] = eventType
	for _, w := range targets {
		if _, err := d.repo.InsertDelivery(ctx, w.ID, eid, stamped, 0); err != nil {
			return fmt.Errorf("enqueue delivery for webhook %d: %w", w.ID, err)
		}
	}
	return nil
}
