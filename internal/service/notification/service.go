// internal/service/notification/service.go
package notification

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"settlement-service/internal/domain/notification"
	"settlement-service/internal/domain/websocket"
	xerrors "settlement-service/internal/pkg/errors"

	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"
)

// Broadcaster pushes notifications to connected gateway clients.
type Broadcaster interface {
	BroadcastNotification(data *websocket.NotificationData)
}

// NotificationService stores account notifications and pushes them to the
// chat gateway. Delivery is best effort: Notify never fails its caller.
type NotificationService struct {
	repo   notification.Repository
	hub    Broadcaster
	logger *zap.Logger
	now    func() time.Time
}

func NewNotificationService(repo notification.Repository, hub Broadcaster, logger *zap.Logger) *NotificationService {
	return &NotificationService{
		repo:   repo,
		hub:    hub,
		logger: logger,
		now:    time.Now,
	}
}

func (s *NotificationService) SetClock(now func() time.Time) {
	s.now = now
}

// Notify persists the notification and pushes it over the websocket. Failures
// are logged and swallowed.
func (s *NotificationService) Notify(ctx context.Context, req *notification.CreateNotificationRequest) {
	if req == nil || strings.TrimSpace(req.AccountID) == "" {
		return
	}

	n := &notification.Notification{
		ID:        ulid.Make().String(),
		AccountID: req.AccountID,
		Title:     req.Title,
		Message:   req.Message,
		Type:      req.Type,
		CreatedAt: s.now(),
	}
	if n.Type == "" {
		n.Type = notification.TypeInfo
	}
	if req.ReferenceID != "" {
		ref := req.ReferenceID
		n.ReferenceID = &ref
	}

	if err := s.repo.Create(ctx, n); err != nil {
		s.logger.Warn("failed to store notification",
			zap.String("account_id", n.AccountID),
			zap.String("type", string(n.Type)),
			zap.Error(err),
		)
	}

	s.pushToWebSocket(n)
}

// GetLatest returns the newest notifications of an account with its unread count.
func (s *NotificationService) GetLatest(ctx context.Context, accountID string, limit int) (*notification.NotificationListResponse, error) {
	if limit <= 0 {
		limit = 10
	}
	if limit > 50 {
		limit = 50
	}

	items, err := s.repo.GetLatest(ctx, accountID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get notifications: %w", err)
	}

	unread, err := s.repo.GetUnreadCount(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("failed to get unread count: %w", err)
	}

	return &notification.NotificationListResponse{
		Notifications: items,
		UnreadCount:   unread,
	}, nil
}

// MarkAsRead marks one notification of the account as read.
func (s *NotificationService) MarkAsRead(ctx context.Context, id, accountID string) error {
	err := s.repo.MarkAsRead(ctx, id, accountID, s.now())
	if errors.Is(err, xerrors.ErrNotFound) {
		return err
	}
	if err != nil {
		return fmt.Errorf("failed to mark as read: %w", err)
	}
	return nil
}

func (s *NotificationService) GetUnreadCount(ctx context.Context, accountID string) (int, error) {
	return s.repo.GetUnreadCount(ctx, accountID)
}

func (s *NotificationService) pushToWebSocket(n *notification.Notification) {
	if s.hub == nil {
		return
	}

	data := &websocket.NotificationData{
		ID:        n.ID,
		AccountID: n.AccountID,
		Title:     n.Title,
		Message:   n.Message,
		Type:      string(n.Type),
		CreatedAt: n.CreatedAt,
	}
	if n.ReferenceID != nil {
		data.ReferenceID = *n.ReferenceID
	}

	s.hub.BroadcastNotification(data)
}
