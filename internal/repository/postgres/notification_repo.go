// internal/repository/postgres/notification_repo.go
package postgres

import (
	"context"
	"fmt"
	"time"

	"settlement-service/internal/domain/notification"
	xerrors "settlement-service/internal/pkg/errors"

	"github.com/jackc/pgx/v5/pgxpool"
)

type NotificationRepository struct {
	db *pgxpool.Pool
}

func NewNotificationRepository(db *pgxpool.Pool) *NotificationRepository {
	return &NotificationRepository{db: db}
}

// Create creates a new notification
func (r *NotificationRepository) Create(ctx context.Context, n *notification.Notification) error {
	query := `
		INSERT INTO notifications (id, account_id, title, message, type, reference_id, is_read, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`

	_, err := r.db.Exec(ctx, query,
		n.ID, n.AccountID, n.Title, n.Message, string(n.Type), n.ReferenceID, n.IsRead, n.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert notification: %w", err)
	}
	return nil
}

// GetLatest retrieves the newest notifications of an account
func (r *NotificationRepository) GetLatest(ctx context.Context, accountID string, limit int) ([]notification.Notification, error) {
	query := `
		SELECT id, account_id, title, message, type, reference_id, is_read, created_at, read_at
		FROM notifications
		WHERE account_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2
	`

	rows, err := r.db.Query(ctx, query, accountID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get notifications: %w", err)
	}
	defer rows.Close()

	notifications := []notification.Notification{}
	for rows.Next() {
		var n notification.Notification
		var kind string
		if err := rows.Scan(
			&n.ID, &n.AccountID, &n.Title, &n.Message, &kind, &n.ReferenceID, &n.IsRead, &n.CreatedAt, &n.ReadAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan notification: %w", err)
		}
		n.Type = notification.NotificationType(kind)
		notifications = append(notifications, n)
	}

	return notifications, rows.Err()
}

// MarkAsRead marks an unread notification of the account as read
func (r *NotificationRepository) MarkAsRead(ctx context.Context, id, accountID string, at time.Time) error {
	query := `
		UPDATE notifications
		SET is_read = TRUE, read_at = $3
		WHERE id = $1 AND account_id = $2 AND is_read = FALSE
	`

	result, err := r.db.Exec(ctx, query, id, accountID, at)
	if err != nil {
		return fmt.Errorf("failed to mark notification as read: %w", err)
	}
	if result.RowsAffected() == 0 {
		return xerrors.ErrNotFound
	}
	return nil
}

// GetUnreadCount gets count of unread notifications
func (r *NotificationRepository) GetUnreadCount(ctx context.Context, accountID string) (int, error) {
	query := `SELECT COUNT(*) FROM notifications WHERE account_id = $1 AND is_read = FALSE`

	var count int
	if err := r.db.QueryRow(ctx, query, accountID).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to get unread count: %w", err)
	}
	return count, nil
}
