package models

import "time"

// NotificationType classifies notifications pushed to a user.
type NotificationType string

const (
	NotificationInfo        NotificationType = "info"
	NotificationWarning     NotificationType = "warning"
	NotificationError       NotificationType = "error"
	NotificationSuccess     NotificationType = "success"
	NotificationAlert       NotificationType = "alert"
	NotificationProgression NotificationType = "progression"
)

// Notification is a message delivered to a user, persisted and pushed live.
type Notification struct {
	ID        int64            `json:"id,omitempty"`
	Message   string           `json:"message"    validate:"required"`
	Type      NotificationType `json:"type"`
	CreatedAt time.Time        `json:"created_at"`
	UserID    int64            `json:"user_id"    validate:"required"`
	IsRead    bool             `json:"is_read"`
}

// IsProgression reports whether the notification belongs to the execution progress stream.
func (n Notification) IsProgression() bool {
	return n.Type == NotificationProgression
}
