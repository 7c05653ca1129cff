package webhook

import (
	"context"
	"fmt"
)

// Service exposes the admin-facing operations on top of the
// dispatcher's repository: sending a synthetic test delivery to one
// webhook and replaying a specific failed delivery.
type Service struct {
	repo *Repository
}

func NewService(repo *Repository) *Service {
	return &Service{repo: repo}
}

// TestDelivery enqueues a synthetic webhook.test payload against a
// single webhook, independent of its configured event_types
// subscriptions, so an operator can verify connectivity and signing
// without waiting for a real event.
func (s *Service) TestDelivery(ctx context.Context, webhookID int64) (Delivery, error) {
	payload := map[string]any{
		"event_type": "webhook.test",
		"message":    "this is a test delivery",
	}
	d, err := s.repo.InsertDelivery(ctx, webhookID, nil, payload, 0)
	if err != nil {
		return Delivery{}, fmt.Errorf("enqueue test delivery for webhook %d: %w", webhookID, err)
	}
	return d, nil
}

// Replay resets a delivery row to pending with a cleared attempt
// history so the dispatcher's next pass retries it from scratch.
func (s *Service) Replay(ctx context.Context, deliveryID int64) error {
	if err := s.repo.Reset(ctx, deliveryID); err != nil {
		return fmt.Errorf("replay delivery %d: %w", deliveryID, err)
	}
	return nil
}
