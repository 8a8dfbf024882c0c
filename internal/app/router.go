// internal/app/router.go
package app

import (
	"net/http"

	agentHandler "settlement-service/internal/handlers/agent"
	notifyHandler "settlement-service/internal/handlers/notification"
	topupHandler "settlement-service/internal/handlers/topup"
	walletHandler "settlement-service/internal/handlers/wallet"
	wsHandler "settlement-service/internal/handlers/websocket"
	"settlement-service/internal/middleware"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type Handlers struct {
	WalletHandler  *walletHandler.WalletHandler
	TopupHandler   *topupHandler.TopupHandler
	AgentHandler   *agentHandler.AgentHandler
	NotifHandler   *notifyHandler.NotificationHandler
	WSHandler      *wsHandler.WebSocketHandler
	AuthMiddleware *middleware.AuthMiddleware
}

func SetupRouter(r *gin.Engine, logger *zap.Logger, h *Handlers) {
	r.Use(
		middleware.LoggingMiddleware(logger),
		middleware.RecoveryMiddleware(logger),
	)

	api := r.Group("/api/v1")

	// ==================== Health Check ====================
	api.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	// ==================== WebSocket ====================
	r.GET("/ws", append(h.AuthMiddleware.GatewayOnly(), h.WSHandler.HandleConnection)...)

	// ==================== Gateway Routes ====================
	gateway := api.Group("")
	gateway.Use(h.AuthMiddleware.GatewayOnly()...)
	{
		gateway.GET("/wallets/:account_id/balance", h.WalletHandler.GetBalance)
		gateway.GET("/wallets/:account_id/history", h.WalletHandler.GetHistory)

		gateway.POST("/topups", h.TopupHandler.CreateRequest)
		gateway.GET("/topups/:id", h.TopupHandler.GetRequest)
		gateway.POST("/topups/:id/proof", h.TopupHandler.AttachProof)
		gateway.POST("/topups/:id/cancel", h.TopupHandler.Cancel)

		gateway.GET("/accounts/:account_id/topups", h.TopupHandler.ListForAccount)
		gateway.GET("/accounts/:account_id/topups/active", h.TopupHandler.GetActiveForAccount)
		gateway.GET("/accounts/:account_id/notifications", h.NotifHandler.GetLatestNotifications)
		gateway.GET("/accounts/:account_id/notifications/unread-count", h.NotifHandler.GetUnreadCount)
		gateway.POST("/accounts/:account_id/notifications/:id/read", h.NotifHandler.MarkAsRead)

		gateway.GET("/agent-transactions/:id", h.AgentHandler.GetTransaction)
		gateway.POST("/agent-transactions/:id/confirm", h.AgentHandler.ConfirmTransaction)

		gateway.GET("/agents/lookup", h.AgentHandler.LookupAgent)
		gateway.GET("/agents/:agent_id/transactions/today", h.AgentHandler.TodayTransactions)
		gateway.GET("/agents/:agent_id/statistics", h.AgentHandler.Statistics)
		gateway.POST("/agents/:agent_id/pin", h.AgentHandler.RotatePin)
	}

	// ==================== Staff Routes ====================
	admin := api.Group("/admin")
	admin.Use(h.AuthMiddleware.StaffOnly()...)
	{
		admin.GET("/topups/awaiting", h.TopupHandler.ListAwaiting)
		admin.GET("/topups/:id", h.TopupHandler.GetRequest)
		admin.POST("/topups/:id/verify", h.TopupHandler.Verify)

		admin.POST("/agents/credentials", h.AgentHandler.RegisterCredential)
		admin.POST("/agents/:agent_id/deactivate", h.AgentHandler.Deactivate)
		admin.POST("/agents/:agent_id/activate", h.AgentHandler.Activate)

		admin.POST("/agent-transactions", h.AgentHandler.CreateTransaction)
		admin.GET("/agent-transactions/unsettled", h.AgentHandler.ListUnsettled)
		admin.GET("/agent-transactions/:id", h.AgentHandler.GetTransaction)
		admin.POST("/agent-transactions/:id/cancel", h.AgentHandler.CancelTransaction)
		admin.POST("/agent-transactions/:id/settle", h.AgentHandler.SettleTransaction)
		admin.POST("/agent-transactions/:id/complete", h.AgentHandler.CompleteTransaction)

		admin.POST("/wallets/transfer", h.WalletHandler.Transfer)
		admin.POST("/wallets/:account_id/debit", h.WalletHandler.Debit)
		admin.GET("/wallets/:account_id/history", h.WalletHandler.GetHistory)

		admin.GET("/ws/stats", h.WSHandler.GetStats)
	}

	logger.Info("routes registered", zap.Int("count", len(r.Routes())))
}
