package events

import (
	"log/slog"
	"sync"
	"sync/atomic"
)

// DefaultBufferSize is the per-subscriber channel buffer used when a
// caller does not need a custom one. It is large enough to absorb a
// burst of job.progress events without the notification router, the
// bus's one subscriber, dropping any.
const DefaultBufferSize = 128

// Subscription is a single subscriber's view of the bus. Events arrive
// on C. If the subscriber falls behind, the bus drops events for that
// subscriber rather than blocking the publisher; Dropped reports how
// many were lost so the subscriber can decide whether to resync (e.g.
// by re-reading recent rows from the events table).
type Subscription struct {
	C       <-chan Event
	sendCh  chan Event
	dropped atomic.Int64
}

// Dropped returns the number of events this subscriber has missed
// because its buffer was full when the bus tried to deliver — the
// "lagged" signal a slow subscriber observes instead of blocking the
// publisher.
func (s *Subscription) Dropped() int64 {
	return s.dropped.Load()
}

// Bus is a non-blocking, in-process broadcast bus. It is the single
// transport for every event in the system, each of which reaches it
// through Service.Publish after its row has been written. The
// notification router is its only subscriber and hands events on to the
// client WebSocket hub and the webhook dispatcher; every subscription
// receives its own copy of every published event. Nothing here crosses a process
// boundary — the events table is the durable record, not the bus.
type Bus struct {
	mu   sync.RWMutex
	subs map[*Subscription]struct{}
}

// NewBus creates a ready-to-use event bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[*Subscription]struct{})}
}

// Publish delivers an event to every current subscriber. It never
// blocks: a subscriber whose buffer is full simply misses the event and
// its Dropped counter increments. Safe to call on a nil *Bus.
func (b *Bus) Publish(e Event) {
	if b == nil {
		return
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for sub := range b.subs {
		select {
		case sub.sendCh <- e:
		default:
			n := sub.dropped.Add(1)
			slog.Warn("event subscriber lagged, dropping event",
				"event_type", e.Type, "dropped_total", n)
		}
	}
}

// Subscribe registers a new subscriber with the given buffer size. The
// caller must call Unsubscribe when done to release the subscription.
func (b *Bus) Subscribe(bufSize int) *Subscription {
	if bufSize <= 0 {
		bufSize = DefaultBufferSize
	}
	ch := make(chan Event, bufSize)
	sub := &Subscription{C: ch, sendCh: ch}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs[sub] = struct{}{}
	return sub
}

// Unsubscribe removes a subscription and closes its channel. Safe to
// call more than once for the same subscription.
func (b *Bus) Unsubscribe(sub *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.subs[sub]; !ok {
		return
	}
	delete(b.subs, sub)
	close(sub.sendCh)
}

// SubscriberCount reports the number of active subscribers. Used by
// health checks and tests.
func (b *Bus) SubscriberCount() int {
	if b == nil {
		return 0
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
