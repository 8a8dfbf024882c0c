// internal/handlers/notification/notification_handler.go
package notification

import (
	"net/http"
	"strings"

	"settlement-service/internal/handlers/httperr"
	"settlement-service/internal/pkg/response"
	service "settlement-service/internal/service/notification"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type NotificationHandler struct {
	notificationService *service.NotificationService
	logger              *zap.Logger
}

func NewNotificationHandler(notificationService *service.NotificationService, logger *zap.Logger) *NotificationHandler {
	return &NotificationHandler{
		notificationService: notificationService,
		logger:              logger,
	}
}

// GetLatestNotifications retrieves the latest N notifications of an account
func (h *NotificationHandler) GetLatestNotifications(c *gin.Context) {
	accountID := strings.TrimSpace(c.Param("account_id"))

	result, err := h.notificationService.GetLatest(c.Request.Context(), accountID, httperr.Limit(c, 10, 50))
	if err != nil {
		httperr.Respond(c, h.logger, "notification.latest", err)
		return
	}

	response.Success(c, http.StatusOK, "notifications retrieved", result)
}

// MarkAsRead marks a notification as read
func (h *NotificationHandler) MarkAsRead(c *gin.Context) {
	accountID := strings.TrimSpace(c.Param("account_id"))
	notifID := strings.TrimSpace(c.Param("id"))

	if err := h.notificationService.MarkAsRead(c.Request.Context(), notifID, accountID); err != nil {
		httperr.Respond(c, h.logger, "notification.read", err)
		return
	}

	// Get updated unread count
	count, err := h.notificationService.GetUnreadCount(c.Request.Context(), accountID)
	if err != nil {
		h.logger.Warn("failed to get unread count", zap.String("account_id", accountID), zap.Error(err))
	}

	response.Success(c, http.StatusOK, "notification marked as read", gin.H{
		"unread_count": count,
	})
}

// GetUnreadCount gets the count of unread notifications
func (h *NotificationHandler) GetUnreadCount(c *gin.Context) {
	accountID := strings.TrimSpace(c.Param("account_id"))

	count, err := h.notificationService.GetUnreadCount(c.Request.Context(), accountID)
	if err != nil {
		httperr.Respond(c, h.logger, "notification.unread_count", err)
		return
	}

	response.Success(c, http.StatusOK, "unread count retrieved", gin.H{
		"unread_count": count,
	})
}
