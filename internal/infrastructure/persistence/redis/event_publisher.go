package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/alem-hub/alem-backoffice/internal/domain/shared"
)

// EventPublisher publishes domain events as JSON envelopes to
// "pubsub:<event type>" channels.
type EventPublisher struct {
	cache   *Cache
	timeout time.Duration
}

var _ shared.EventPublisher = (*EventPublisher)(nil)

// NewEventPublisher creates a publisher.
func NewEventPublisher(cache *Cache) *EventPublisher {
	return &EventPublisher{cache: cache, timeout: 2 * time.Second}
}

// Publish implements shared.EventPublisher.
func (p *EventPublisher) Publish(event shared.Event) error {
	env, err := shared.NewEventEnvelope(uuid.NewString(), event)
	if err != nil {
		return fmt.Errorf("failed to encode event %s: %w", event.EventType(), err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()

	if err := p.cache.Publish(ctx, PubSubChannel(string(event.EventType())), env); err != nil {
		return fmt.Errorf("failed to publish event %s: %w", event.EventType(), err)
	}
	return nil
}
