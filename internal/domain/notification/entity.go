// internal/domain/notification/entity.go
package notification

import (
	"context"
	"time"
)

type NotificationType string

const (
	TypeTopupVerified  NotificationType = "topup_verified"
	TypeTopupRejected  NotificationType = "topup_rejected"
	TypeTopupExpired   NotificationType = "topup_expired"
	TypeTopupReminder  NotificationType = "topup_reminder"
	TypeTopupCancelled NotificationType = "topup_cancelled"
	TypeCashReceived   NotificationType = "cash_received"
	TypeInfo           NotificationType = "info"
)

// Notification is a status update addressed to a customer account. The chat
// layer picks it up over the websocket or by polling.
type Notification struct {
	ID          string           `json:"id" db:"id"`
	AccountID   string           `json:"account_id" db:"account_id"`
	Title       string           `json:"title" db:"title"`
	Message     string           `json:"message" db:"message"`
	Type        NotificationType `json:"type" db:"type"`
	ReferenceID *string          `json:"reference_id,omitempty" db:"reference_id"`
	IsRead      bool             `json:"is_read" db:"is_read"`
	CreatedAt   time.Time        `json:"created_at" db:"created_at"`
	ReadAt      *time.Time       `json:"read_at,omitempty" db:"read_at"`
}

// DTOs

type CreateNotificationRequest struct {
	AccountID   string
	Title       string
	Message     string
	Type        NotificationType
	ReferenceID string
}

type NotificationListResponse struct {
	Notifications []Notification `json:"notifications"`
	UnreadCount   int            `json:"unread_count"`
}

type Repository interface {
	Create(ctx context.Context, n *Notification) error
	GetLatest(ctx context.Context, accountID string, limit int) ([]Notification, error)
	MarkAsRead(ctx context.Context, id, accountID string, at time.Time) error
	GetUnreadCount(ctx context.Context, accountID string) (int, error)
}
