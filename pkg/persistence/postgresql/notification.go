package postgresql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/funcscan/flowdesk/pkg/models"
	"github.com/funcscan/flowdesk/pkg/persistence"
)

// NotificationRepository handles notification database operations.
type NotificationRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

func (r *NotificationRepository) Create(ctx context.Context, n *models.Notification) error {
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now().UTC()
	}

	if n.Type == "" {
		n.Type = models.NotificationInfo
	}

	err := r.db.QueryRowContext(ctx,
		`INSERT INTO notifications (user_id, message, type, is_read, created_at) VALUES ($1, $2, $3, $4, $5) RETURNING id`,
		n.UserID, n.Message, n.Type, n.IsRead, n.CreatedAt,
	).Scan(&n.ID)
	if err != nil {
		return persistence.NewNotificationError("Create", 0, err)
	}

	return nil
}

func (r *NotificationRepository) GetByID(ctx context.Context, id int64) (*models.Notification, error) {
	var n models.Notification

	err := r.db.QueryRowContext(ctx,
		`SELECT id, user_id, message, type, is_read, created_at FROM notifications WHERE id = $1`, id,
	).Scan(&n.ID, &n.UserID, &n.Message, &n.Type, &n.IsRead, &n.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NewNotificationError("GetByID", id, persistence.ErrNotificationNotFound)
		}

		return nil, persistence.NewNotificationError("GetByID", id, err)
	}

	return &n, nil
}

func (r *NotificationRepository) ByUser(ctx context.Context, userID int64) ([]models.Notification, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, user_id, message, type, is_read, created_at FROM notifications
		 WHERE user_id = $1 ORDER BY created_at DESC, id DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query notifications: %w", err)
	}

	defer closeRows(ctx, r.logger, rows)

	out := make([]models.Notification, 0)

	for rows.Next() {
		var n models.Notification
		if err := rows.Scan(&n.ID, &n.UserID, &n.Message, &n.Type, &n.IsRead, &n.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan notification: %w", err)
		}

		out = append(out, n)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating notifications: %w", err)
	}

	return out, nil
}

func (r *NotificationRepository) MarkRead(ctx context.Context, id int64) error {
	result, err := r.db.ExecContext(ctx, `UPDATE notifications SET is_read = true WHERE id = $1`, id)
	if err != nil {
		return persistence.NewNotificationError("MarkRead", id, err)
	}

	return affected(result, persistence.NewNotificationError("MarkRead", id, persistence.ErrNotificationNotFound))
}

func (r *NotificationRepository) MarkAllRead(ctx context.Context, userID int64) (int, error) {
	result, err := r.db.ExecContext(ctx,
		`UPDATE notifications SET is_read = true WHERE user_id = $1 AND NOT is_read`, userID)
	if err != nil {
		return 0, fmt.Errorf("failed to mark notifications read: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read affected rows: %w", err)
	}

	return int(n), nil
}

func (r *NotificationRepository) UnreadCount(ctx context.Context, userID int64) (int, error) {
	var count int

	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM notifications WHERE user_id = $1 AND NOT is_read`, userID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count unread notifications: %w", err)
	}

	return count, nil
}
