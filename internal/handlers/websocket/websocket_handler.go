// internal/handlers/websocket/websocket_handler.go
package websocket

import (
	"net/http"
	"time"

	"settlement-service/internal/middleware"
	"settlement-service/internal/pkg/response"
	ws "settlement-service/internal/websocket"

	"github.com/gin-gonic/gin"
	gorilla "github.com/gorilla/websocket"
	"go.uber.org/zap"
)

type WebSocketHandler struct {
	hub      *ws.Hub
	upgrader gorilla.Upgrader
	logger   *zap.Logger
}

// NewWebSocketHandler accepts browser upgrades only from allowedOrigins ("*"
// allows any). Requests without an Origin header come from servers and pass.
func NewWebSocketHandler(hub *ws.Hub, allowedOrigins []string, logger *zap.Logger) *WebSocketHandler {
	return &WebSocketHandler{
		hub: hub,
		upgrader: gorilla.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     originChecker(allowedOrigins),
		},
		logger: logger,
	}
}

func originChecker(allowed []string) func(r *http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		for _, o := range allowed {
			if o == "*" || o == origin {
				return true
			}
		}
		return false
	}
}

// HandleConnection upgrades an authenticated gateway connection.
// MUST be used after the auth middleware.
func (h *WebSocketHandler) HandleConnection(c *gin.Context) {
	auth := &ws.ClientAuth{
		Subject: middleware.MustGetSubject(c),
		TokenID: middleware.GetTokenID(c),
		Roles:   middleware.GetRoles(c),
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed",
			zap.String("subject", auth.Subject),
			zap.String("ip", c.ClientIP()),
			zap.Error(err),
		)
		return
	}

	client := ws.NewClient(h.hub, conn, auth)
	if !h.hub.Register(client) {
		conn.Close()
		return
	}

	h.logger.Info("websocket client connected",
		zap.String("subject", auth.Subject),
		zap.String("token_id", auth.TokenID),
		zap.Strings("roles", auth.Roles),
	)

	go client.WritePump()
	go client.ReadPump()
}

// GetStats returns connection statistics (staff only)
func (h *WebSocketHandler) GetStats(c *gin.Context) {
	response.Success(c, http.StatusOK, "websocket stats", gin.H{
		"total_connections": h.hub.TotalClients(),
		"timestamp":         time.Now(),
	})
}
