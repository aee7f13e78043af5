// Package eventbus carries execution and notification events between flowdesk services.
package eventbus

import (
	"context"
	"fmt"

	"github.com/funcscan/flowdesk/pkg/events"
)

// Event is anything published on the bus. The type selects the registered handler.
type Event interface {
	GetType() events.EventType
}

// EventPublisher publishes an event under a partition key. Events of one
// workflow or one user share a key so they stay ordered on partitioned brokers.
type EventPublisher interface {
	Publish(ctx context.Context, key string, event Event) error
}

type EventSubscriber interface {
	Handle(eventType events.EventType, handler EventHandler) error
	Subscribe(ctx context.Context) error
}

// EventHandler receives a pointer to the concrete event type registered for it.
type EventHandler func(ctx context.Context, event any) error

type EventBus interface {
	EventPublisher
	EventSubscriber
	Close() error
	GenerateID() string
}

// On registers fn for eventType, asserting the decoded event to *T.
func On[T any](sub EventSubscriber, eventType events.EventType, fn func(ctx context.Context, event *T) error) error {
	return sub.Handle(eventType, func(ctx context.Context, event any) error {
		typed, ok := event.(*T)
		if !ok {
			return fmt.Errorf("%s: unexpected event %T", eventType, event)
		}

		return fn(ctx, typed)
	})
}
