// internal/repository/memory/notification_repo.go
package memory

import (
	"context"
	"sync"
	"time"

	"settlement-service/internal/domain/notification"
	xerrors "settlement-service/internal/pkg/errors"
)

// NotificationRepository is an append-only list of notifications.
type NotificationRepository struct {
	mu    sync.Mutex
	items []notification.Notification
}

func NewNotificationRepository() *NotificationRepository {
	return &NotificationRepository{}
}

func (r *NotificationRepository) Create(ctx context.Context, n *notification.Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored := *n
	stored.ReferenceID = cloneString(n.ReferenceID)
	stored.ReadAt = cloneTime(n.ReadAt)
	r.items = append(r.items, stored)
	return nil
}

func (r *NotificationRepository) GetLatest(ctx context.Context, accountID string, limit int) ([]notification.Notification, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := []notification.Notification{}
	for i := len(r.items) - 1; i >= 0; i-- {
		if r.items[i].AccountID != accountID {
			continue
		}
		out = append(out, r.items[i])
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (r *NotificationRepository) MarkAsRead(ctx context.Context, id, accountID string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i := range r.items {
		if r.items[i].ID == id && r.items[i].AccountID == accountID && !r.items[i].IsRead {
			r.items[i].IsRead = true
			r.items[i].ReadAt = &at
			return nil
		}
	}
	return xerrors.ErrNotFound
}

func (r *NotificationRepository) GetUnreadCount(ctx context.Context, accountID string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	count := 0
	for _, n := range r.items {
		if n.AccountID == accountID && !n.IsRead {
			count++
		}
	}
	return count, nil
}

// All returns every stored notification in insertion order.
func (r *NotificationRepository) All() []notification.Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]notification.Notification, len(r.items))
	copy(out, r.items)
	return out
}
