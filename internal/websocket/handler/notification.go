// internal/websocket/handler/notification.go
package handler

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"settlement-service/internal/domain/notification"
	wstypes "settlement-service/internal/domain/websocket"
	xerrors "settlement-service/internal/pkg/errors"
	ws "settlement-service/internal/websocket"

	"go.uber.org/zap"
)

// NotificationReader is the part of the notification service the gateway may call.
type NotificationReader interface {
	GetLatest(ctx context.Context, accountID string, limit int) (*notification.NotificationListResponse, error)
	MarkAsRead(ctx context.Context, id, accountID string) error
	GetUnreadCount(ctx context.Context, accountID string) (int, error)
}

type NotificationHandler struct {
	notifications NotificationReader
	logger        *zap.Logger
}

func NewNotificationHandler(notifications NotificationReader, logger *zap.Logger) *NotificationHandler {
	return &NotificationHandler{
		notifications: notifications,
		logger:        logger,
	}
}

// SupportedEvents returns events this handler supports
func (h *NotificationHandler) SupportedEvents() []wstypes.EventType {
	return []wstypes.EventType{
		wstypes.EventTypeNotificationList,
		wstypes.EventTypeNotificationRead,
		wstypes.EventTypeNotificationCount,
	}
}

type notificationRequest struct {
	AccountID      string `json:"account_id"`
	NotificationID string `json:"notification_id"`
	Limit          int    `json:"limit"`
}

// HandleMessage answers notification queries made on behalf of an account
func (h *NotificationHandler) HandleMessage(ctx context.Context, client *ws.Client, msg *wstypes.WSMessage) error {
	var req notificationRequest
	if err := ws.DecodeData(msg, &req); err != nil {
		client.SendError("invalid_request", "Invalid notification request", err.Error())
		return nil
	}
	req.AccountID = strings.TrimSpace(req.AccountID)
	if req.AccountID == "" {
		client.SendError("invalid_request", "account_id is required", "")
		return nil
	}

	switch msg.Type {
	case wstypes.EventTypeNotificationList:
		return h.handleList(ctx, client, &req)
	case wstypes.EventTypeNotificationRead:
		return h.handleMarkAsRead(ctx, client, &req)
	case wstypes.EventTypeNotificationCount:
		return h.handleCount(ctx, client, &req)
	default:
		return fmt.Errorf("unsupported event type: %s", msg.Type)
	}
}

func (h *NotificationHandler) handleList(ctx context.Context, client *ws.Client, req *notificationRequest) error {
	result, err := h.notifications.GetLatest(ctx, req.AccountID, req.Limit)
	if err != nil {
		client.SendError("list_failed", "Failed to get notifications", "")
		return err
	}

	client.SendMessage(wstypes.NewMessage(wstypes.EventTypeNotificationList, map[string]interface{}{
		"account_id":    req.AccountID,
		"notifications": result.Notifications,
		"unread_count":  result.UnreadCount,
	}))
	return nil
}

func (h *NotificationHandler) handleMarkAsRead(ctx context.Context, client *ws.Client, req *notificationRequest) error {
	if req.NotificationID == "" {
		client.SendError("invalid_request", "notification_id is required", "")
		return nil
	}

	err := h.notifications.MarkAsRead(ctx, req.NotificationID, req.AccountID)
	if errors.Is(err, xerrors.ErrNotFound) {
		client.SendError("not_found", "Notification not found or already read", req.NotificationID)
		return nil
	}
	if err != nil {
		client.SendError("mark_read_failed", "Failed to mark notification as read", "")
		return err
	}

	count, err := h.notifications.GetUnreadCount(ctx, req.AccountID)
	if err != nil {
		h.logger.Warn("failed to get unread count",
			zap.String("account_id", req.AccountID),
			zap.Error(err),
		)
		count = 0
	}

	client.SendMessage(wstypes.NewMessage(wstypes.EventTypeNotificationRead, map[string]interface{}{
		"account_id":      req.AccountID,
		"notification_id": req.NotificationID,
		"unread_count":    count,
	}))
	return nil
}

func (h *NotificationHandler) handleCount(ctx context.Context, client *ws.Client, req *notificationRequest) error {
	count, err := h.notifications.GetUnreadCount(ctx, req.AccountID)
	if err != nil {
		client.SendError("count_failed", "Failed to get unread count", "")
		return err
	}

	client.SendMessage(wstypes.NewMessage(wstypes.EventTypeNotificationCount, map[string]interface{}{
		"account_id":   req.AccountID,
		"unread_count": count,
	}))
	return nil
}
