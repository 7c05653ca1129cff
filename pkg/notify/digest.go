package notify

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// DigestScheduler periodically consolidates every user's pending
// digest-tagged notifications into one delivery instead of the
// per-event push the in_app/webhook/email channels use.
type DigestScheduler struct {
	repo     *Repository
	cadence  time.Duration
	log      *slog.Logger

	mu   sync.RWMutex
	sink DeliverySink

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

func NewDigestScheduler(repo *Repository, cadence time.Duration, log *slog.Logger) *DigestScheduler {
	if log == nil {
		log = slog.Default()
	}
	if cadence <= 0 {
		cadence = time.Hour
	}
	return &DigestScheduler{
		repo:    repo,
		cadence: cadence,
		log:     log,
		sink:    noopSink{},
		stopCh:  make(chan struct{}),
	}
}

// SetSink wires the outbound delivery engine used to send the
// consolidated digest message. Defaults to a no-op.
func (d *DigestScheduler) SetSink(s DeliverySink) {
	if s == nil {
		s = noopSink{}
	}
	d.mu.Lock()
	d.sink = s
	d.mu.Unlock()
}

// Start begins the fixed-cadence digest loop in a goroutine.
func (d *DigestScheduler) Start(ctx context.Context) {
	d.wg.Add(1)
	go d.run(ctx)
}

// Stop signals the loop to exit and waits for it to finish. Safe to
// call multiple times.
func (d *DigestScheduler) Stop() {
	d.stopOnce.Do(func() { close(d.stopCh) })
	d.wg.Wait()
}

func (d *DigestScheduler) run(ctx context.Context) {
	defer d.wg.Done()

	ticker := time.NewTicker(d.cadence)
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

// tick groups every pending digest row by user and delivers one
// consolidated batch per user, then marks the whole batch delivered.
func (d *DigestScheduler) tick(ctx context.Context) {
	pending, err := d.repo.DigestPending(ctx)
	if err != nil {
		d.log.Error("load pending digest notifications", "error", err)
		return
	}
	if len(pending) == 0 {
		return
	}

	d.mu.RLock()
	sink := d.sink
	d.mu.RUnlock()

	for _, batch := range groupByUser(pending) {
		payload := map[string]any{
			"event_ids": eventIDs(batch),
			"count":     len(batch),
		}
		if err := sink.Enqueue(ctx, "digest", batch[0].UserID, 0, "digest.batch", payload); err != nil {
			d.log.Error("deliver digest batch", "user_id", batch[0].UserID, "count", len(batch), "error", err)
			continue
		}
		if err := d.repo.MarkDigestDelivered(ctx, notificationIDs(batch)); err != nil {
			d.log.Error("mark digest batch delivered", "user_id", batch[0].UserID, "error", err)
		}
	}
}

// groupByUser splits rows (already ordered by user_id from the
// repository query) into consecutive per-user batches.
func groupByUser(rows []DigestRow) [][]DigestRow {
	var batches [][]DigestRow
	for i := 0; i < len(rows); {
		j := i + 1
		for j < len(rows) && rows[j].UserID == rows[i].UserID {
			j++
		}
		batches = append(batches, rows[i:j])
		i = j
	}
	return batches
}

func eventIDs(rows []DigestRow) []int64 {
	ids := make([]int64, len(rows))
	for i, r := range rows {
		ids[i] = r.EventID
	}
	return ids
}

func notificationIDs(rows []DigestRow) []int64 {
	ids := make([]int64, len(rows))
	for i, r := range rows {
		ids[i] = r.ID
	}
	return ids
}
