package notification

import (
	"context"

	"github.com/funcscan/flowdesk/pkg/eventbus"
	"github.com/funcscan/flowdesk/pkg/events"
)

// Relay pushes every NotificationCreated event received on sub to the hub subscribers.
func (h *Hub) Relay(sub eventbus.EventSubscriber) error {
	return eventbus.On(sub, events.NotificationCreatedEvent, func(ctx context.Context, created *events.NotificationCreated) error {
		delivered := h.Broadcast(created.Notification)
		h.logger.DebugContext(ctx, "notification relayed",
			"notification_id", created.Notification.ID,
			"user_id", created.Notification.UserID,
			"connections", delivered)

		return nil
	})
}
