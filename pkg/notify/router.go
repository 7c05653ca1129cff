package notify

import (
	"context"
	"log/slog"
	"strings"
	"sync"

	"github.com/studiocore/control-plane/pkg/events"
)

// Router subscribes to the event bus and, for every event observed,
// resolves target users and runs the per-user delivery pipeline. One
// Router is the sole consumer of notification fan-out for the process;
// the client hub and the webhook dispatcher are reached only through
// the ClientPusher/DeliverySink interfaces so this package never
// imports either.
type Router struct {
	events *events.Service
	repo   *Repository
	log    *slog.Logger

	mu     sync.RWMutex
	pusher ClientPusher
	sink   DeliverySink

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

func NewRouter(eventSvc *events.Service, repo *Repository, log *slog.Logger) *Router {
	if log == nil {
		log = slog.Default()
	}
	return &Router{
		events: eventSvc,
		repo:   repo,
		log:    log,
		pusher: noopPusher{},
		sink:   noopSink{},
		stopCh: make(chan struct{}),
	}
}

// SetPusher wires the client-facing WebSocket hub. Safe to call before
// or after Start; nil restores the no-op default.
func (r *Router) SetPusher(p ClientPusher) {
	if p == nil {
		p = noopPusher{}
	}
	r.mu.Lock()
	r.pusher = p
	r.mu.Unlock()
}

// SetSink wires the outbound webhook/email delivery engine. Safe to
// call before or after Start; nil restores the no-op default.
func (r *Router) SetSink(s DeliverySink) {
	if s == nil {
		s = noopSink{}
	}
	r.mu.Lock()
	r.sink = s
	r.mu.Unlock()
}

// Start begins consuming the event bus in a goroutine.
func (r *Router) Start(ctx context.Context) {
	sub := r.events.Subscribe(events.DefaultBufferSize)
	r.wg.Add(1)
	go r.run(ctx, sub)
}

// Stop unsubscribes from the bus and waits for the run loop to exit.
// Safe to call multiple times.
func (r *Router) Stop() {
	r.stopOnce.Do(func() { close(r.stopCh) })
	r.wg.Wait()
}

func (r *Router) run(ctx context.Context, sub *events.Subscription) {
	defer r.wg.Done()
	defer r.events.Unsubscribe(sub)

	for {
		select {
		case <-r.stopCh:
			return
		case <-ctx.Done():
			return
		case e, ok := <-sub.C:
			if !ok {
				return
			}
			r.handle(ctx, e)
		}
	}
}

// handle resolves targets for a single event and runs the per-user
// delivery pipeline for each, per the target-selection rules: job.* and
// review.* go to the acting user, system.* goes to every active admin,
// collab.mention goes to the users named in payload.mentioned_user_ids,
// and anything else has no recipients.
func (r *Router) handle(ctx context.Context, e events.Event) {
	targets, err := r.targets(ctx, e)
	if err != nil {
		r.log.Error("resolve notification targets", "event_type", e.Type, "error", err)
		return
	}
	for _, userID := range targets {
		if err := r.deliverToUser(ctx, e, userID); err != nil {
			r.log.Error("deliver notification", "event_type", e.Type, "user_id", userID, "error", err)
		}
	}
}

func (r *Router) targets(ctx context.Context, e events.Event) ([]int64, error) {
	switch {
	case strings.HasPrefix(string(e.Type), "job.") || strings.HasPrefix(string(e.Type), "review."):
		if e.ActorUserID == nil {
			return nil, nil
		}
		return []int64{*e.ActorUserID}, nil
	case strings.HasPrefix(string(e.Type), "system."):
		return r.repo.ActiveAdminUserIDs(ctx)
	case e.Type == events.TypeCollabMention:
		return mentionedUserIDs(e.Payload), nil
	default:
		return nil, nil
	}
}

func mentionedUserIDs(payload map[string]any) []int64 {
	raw, ok := payload["mentioned_user_ids"]
	if !ok {
		return nil
	}
	switch v := raw.(type) {
	case []int64:
		return v
	case []any:
		ids := make([]int64, 0, len(v))
		for _, item := range v {
			switch n := item.(type) {
			case int64:
				ids = append(ids, n)
			case float64:
				ids = append(ids, int64(n))
			}
		}
		return ids
	default:
		return nil
	}
}

// deliverToUser runs the six-step per-user pipeline: resolve event-type
// metadata (skip on unknown type), load the user's preference (default
// enabled/in_app when absent, stop if disabled), bypass DND only for
// critical events, short-circuit into a digest row when digest mode is
// active, otherwise fan out across the preference's configured
// channels.
func (r *Router) deliverToUser(ctx context.Context, e events.Event, userID int64) error {
	_, isCritical, err := r.repo.EventTypeMeta(ctx, string(e.Type))
	if err != nil {
		if err == ErrUnknownEventType {
			return nil
		}
		return err
	}

	pref, found, err := r.repo.Preference(ctx, userID, string(e.Type))
	if err != nil {
		return err
	}
	if !found {
		pref = Preference{Enabled: true, Channels: []string{"in_app"}, Scope: "all"}
	}
	if !pref.Enabled {
		return nil
	}

	settings, err := r.repo.Settings(ctx, userID)
	if err != nil {
		return err
	}
	if !isCritical && settings.InDNDWindow(e.CreatedAt) {
		return nil
	}

	if !isCritical && settings.DigestEnabled {
		_, err := r.repo.InsertNotification(ctx, e.ID, userID, "digest")
		return err
	}

	for _, channel := range pref.Channels {
		if err := r.deliverChannel(ctx, e, userID, channel); err != nil {
			return err
		}
	}
	return nil
}

func (r *Router) deliverChannel(ctx context.Context, e events.Event, userID int64, channel string) error {
	switch channel {
	case "in_app":
		if _, err := r.repo.InsertNotification(ctx, e.ID, userID, "in_app"); err != nil {
			return err
		}
		r.mu.RLock()
		pusher := r.pusher
		r.mu.RUnlock()
		return pusher.PushToUser(ctx, userID, e)
	case "webhook", "email":
		r.mu.RLock()
		sink := r.sink
		r.mu.RUnlock()
		return sink.Enqueue(ctx, channel, userID, e.ID, string(e.Type), e.Payload)
	default:
		r.log.Warn("unknown notification channel in preference row", "channel", channel, "user_id", userID)
		return nil
	}
}
