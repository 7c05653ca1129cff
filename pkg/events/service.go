package events

import (
	"context"
	"log/slog"
)

// Recorder accumulates events raised while a domain operation holds a
// database transaction. A caller stages each event with Stage and calls
// Service.Flush once the transaction has committed, which keeps publish
// strictly post-commit, so no subscriber ever observes an event for a
// row that a rolled-back transaction made disappear. No package in this
// module uses it: the jobs service calls Service.Publish directly after
// each commit.
type Recorder struct {
	pending []Event
}

// Stage queues an event for publication after the enclosing
// transaction commits.
func (r *Recorder) Stage(e Event) {
	r.pending = append(r.pending, e)
}

// Pending returns the currently staged events without clearing them.
func (r *Recorder) Pending() []Event {
	return r.pending
}

// Service is the single entry point domain packages use to raise
// events. It persists each event (assigning it an ID and timestamp)
// before publishing it on the bus, so every subscriber — the
// notification router, the webhook dispatcher, the client hub — always
// sees an event that already has a durable row behind it.
type Service struct {
	bus  *Bus
	repo *Repository
}

func NewService(bus *Bus, repo *Repository) *Service {
	return &Service{bus: bus, repo: repo}
}

// Publish persists a single event and broadcasts it. Use this for
// events raised outside of a transaction (e.g. a worker heartbeat
// timeout detected by the scheduler loop).
func (s *Service) Publish(ctx context.Context, e Event) (Event, error) {
	persisted, err := s.repo.Insert(ctx, e)
	if err != nil {
		return Event{}, err
	}
	s.bus.Publish(persisted)
	return persisted, nil
}

// Flush persists and publishes every event staged on rec, in order. A
// failure to persist one event is logged and does not stop the rest
// from flushing — by the time Flush runs the triggering transaction
// has already committed, so there is no rollback path left; dropping
// the notification is preferable to panicking the caller.
func (s *Service) Flush(ctx context.Context, rec *Recorder) {
	for _, e := range rec.Pending() {
		if _, err := s.Publish(ctx, e); err != nil {
			slog.Error("failed to persist and publish event",
				"event_type", e.Type, "source_entity_type", e.SourceEntityType,
				"source_entity_id", e.SourceEntityID, "error", err)
		}
	}
}

// Subscribe exposes the underlying bus subscription so dependent
// packages (notify, webhook, wshub) don't need to import the bus
// directly alongside the service.
func (s *Service) Subscribe(bufSize int) *Subscription {
	return s.bus.Subscribe(bufSize)
}

// Unsubscribe releases a subscription obtained from Subscribe.
func (s *Service) Unsubscribe(sub *Subscription) {
	s.bus.Unsubscribe(sub)
}

// SubscriberCount reports how many components are currently listening
// on the bus. Exposed for health checks.
func (s *Service) SubscriberCount() int {
	return s.bus.SubscriberCount()
}
