package file

import (
	"cmp"
	"context"
	"slices"
	"time"

	"github.com/funcscan/flowdesk/pkg/models"
	"github.com/funcscan/flowdesk/pkg/persistence"
)

// NotificationRepository handles notification file operations.
type NotificationRepository struct {
	p *Persistence
}

func (r *NotificationRepository) Create(_ context.Context, n *models.Notification) error {
	r.p.mu.Lock()
	defer r.p.mu.Unlock()

	id, err := r.p.notifications.nextID()
	if err != nil {
		return persistence.NewNotificationError("Create", 0, err)
	}

	n.ID = id

	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now().UTC()
	}

	if n.Type == "" {
		n.Type = models.NotificationInfo
	}

	return r.p.notifications.put(id, n)
}

func (r *NotificationRepository) GetByID(_ context.Context, id int64) (*models.Notification, error) {
	r.p.mu.RLock()
	defer r.p.mu.RUnlock()

	n, err := r.p.notifications.get(id)
	if err != nil {
		return nil, persistence.NewNotificationError("GetByID", id, err)
	}

	if n == nil {
		return nil, persistence.NewNotificationError("GetByID", id, persistence.ErrNotificationNotFound)
	}

	return n, nil
}

// ByUser lists the notifications of a user, newest first.
func (r *NotificationRepository) ByUser(_ context.Context, userID int64) ([]models.Notification, error) {
	r.p.mu.RLock()
	defer r.p.mu.RUnlock()

	return r.byUser(userID)
}

func (r *NotificationRepository) byUser(userID int64) ([]models.Notification, error) {
	all, err := r.p.notifications.all()
	if err != nil {
		return nil, err
	}

	out := make([]models.Notification, 0, len(all))

	for _, n := range all {
		if n.UserID == userID {
			out = append(out, n)
		}
	}

	slices.SortFunc(out, func(a, b models.Notification) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}

		return cmp.Compare(b.ID, a.ID)
	})

	return out, nil
}

func (r *NotificationRepository) MarkRead(_ context.Context, id int64) error {
	r.p.mu.Lock()
	defer r.p.mu.Unlock()

	n, err := r.p.notifications.get(id)
	if err != nil {
		return persistence.NewNotificationError("MarkRead", id, err)
	}

	if n == nil {
		return persistence.NewNotificationError("MarkRead", id, persistence.ErrNotificationNotFound)
	}

	if n.IsRead {
		return nil
	}

	n.IsRead = true

	return r.p.notifications.put(id, n)
}

// MarkAllRead marks every unread notification of a user and returns how many changed.
func (r *NotificationRepository) MarkAllRead(_ context.Context, userID int64) (int, error) {
	r.p.mu.Lock()
	defer r.p.mu.Unlock()

	list, err := r.byUser(userID)
	if err != nil {
		return 0, err
	}

	changed := 0

	for i := range list {
		if list[i].IsRead {
			continue
		}

		list[i].IsRead = true
		if err := r.p.notifications.put(list[i].ID, &list[i]); err != nil {
			return changed, err
		}

		changed++
	}

	return changed, nil
}

func (r *NotificationRepository) UnreadCount(_ context.Context, userID int64) (int, error) {
	r.p.mu.RLock()
	defer r.p.mu.RUnlock()

	list, err := r.byUser(userID)
	if err != nil {
		return 0, err
	}

	count := 0

	for _, n := range list {
		if !n.IsRead {
			count++
		}
	}

	return count, nil
}
