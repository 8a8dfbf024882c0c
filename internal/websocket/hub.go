// internal/websocket/hub.go
package websocket

import (
	"context"
	"sync"

	wstypes "settlement-service/internal/domain/websocket"

	"go.uber.org/zap"
)

const broadcastBuffer = 256

type Hub struct {
	// Registered clients by token subject
	clients map[string]map[*Client]bool
	mu      sync.RWMutex

	register   chan *Client
	unregister chan *Client
	broadcast  chan *BroadcastMessage
	done       chan struct{}
	closeOnce  sync.Once

	// Handler registry for modular message handling
	handlerRegistry *HandlerRegistry

	logger *zap.Logger
}

// BroadcastMessage targets the given subjects, or every client when Subjects is nil.
type BroadcastMessage struct {
	Subjects []string
	Channel  wstypes.ChannelType
	Message  *wstypes.WSMessage
}

func NewHub(logger *zap.Logger) *Hub {
	return &Hub{
		clients:         make(map[string]map[*Client]bool),
		register:        make(chan *Client),
		unregister:      make(chan *Client),
		broadcast:       make(chan *BroadcastMessage, broadcastBuffer),
		done:            make(chan struct{}),
		handlerRegistry: NewHandlerRegistry(),
		logger:          logger,
	}
}

// RegisterHandler registers a message handler
func (h *Hub) RegisterHandler(handler MessageHandler) {
	h.handlerRegistry.Register(handler)
}

// HandleClientMessage processes a message from a client using registered handlers.
// It reports false when no handler claims the event type.
func (h *Hub) HandleClientMessage(ctx context.Context, client *Client, msg *wstypes.WSMessage) (bool, error) {
	handler, exists := h.handlerRegistry.GetHandler(msg.Type)
	if !exists {
		return false, nil
	}
	return true, handler.HandleMessage(ctx, client, msg)
}

// Register hands a connected client to the hub. It returns false once the hub has stopped.
func (h *Hub) Register(client *Client) bool {
	select {
	case h.register <- client:
		return true
	case <-h.done:
		return false
	}
}

// Unregister removes a client. Safe to call after the hub has stopped.
func (h *Hub) Unregister(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}

func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			h.shutdown()
			return

		case client := <-h.register:
			h.registerClient(client)

		case client := <-h.unregister:
			h.unregisterClient(client)

		case msg := <-h.broadcast:
			h.deliver(msg)
		}
	}
}

func (h *Hub) registerClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.clients[client.subject] == nil {
		h.clients[client.subject] = make(map[*Client]bool)
	}
	h.clients[client.subject][client] = true

	h.logger.Info("websocket client registered",
		zap.String("subject", client.subject),
		zap.String("token_id", client.tokenID),
		zap.Int("total", h.totalClients()),
	)

	client.SendMessage(wstypes.NewMessage(wstypes.EventTypeConnected, map[string]interface{}{
		"subject":  client.subject,
		"roles":    client.roles,
		"channels": client.Channels(),
	}))
}

func (h *Hub) unregisterClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	clients, ok := h.clients[client.subject]
	if !ok {
		return
	}
	if _, exists := clients[client]; !exists {
		return
	}

	delete(clients, client)
	client.Close()
	if len(clients) == 0 {
		delete(h.clients, client.subject)
	}

	h.logger.Info("websocket client unregistered",
		zap.String("subject", client.subject),
		zap.Int("total", h.totalClients()),
	)
}

func (h *Hub) deliver(msg *BroadcastMessage) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if msg.Subjects == nil {
		for _, clients := range h.clients {
			for client := range clients {
				if client.IsSubscribed(msg.Channel) {
					client.SendMessage(msg.Message)
				}
			}
		}
		return
	}

	for _, subject := range msg.Subjects {
		for client := range h.clients[subject] {
			if client.IsSubscribed(msg.Channel) {
				client.SendMessage(msg.Message)
			}
		}
	}
}

// BroadcastNotification pushes an account notification to every gateway
// connection subscribed to the notifications channel. It never blocks: when
// the queue is full the push is dropped, the stored copy stays readable.
func (h *Hub) BroadcastNotification(notification *wstypes.NotificationData) {
	msg := wstypes.NewMessage(wstypes.EventTypeNotification, notification)
	h.enqueue(&BroadcastMessage{
		Channel: wstypes.ChannelNotifications,
		Message: msg,
	}, zap.String("account_id", notification.AccountID), zap.String("notification_id", notification.ID))
}

// BroadcastNotificationCount pushes the unread count of an account.
func (h *Hub) BroadcastNotificationCount(accountID string, count int) {
	msg := wstypes.NewMessage(wstypes.EventTypeNotificationCount, map[string]interface{}{
		"account_id":   accountID,
		"unread_count": count,
	})
	h.enqueue(&BroadcastMessage{
		Channel: wstypes.ChannelNotifications,
		Message: msg,
	}, zap.String("account_id", accountID))
}

func (h *Hub) enqueue(msg *BroadcastMessage, fields ...zap.Field) {
	select {
	case h.broadcast <- msg:
	default:
		h.logger.Warn("websocket broadcast queue full, message dropped",
			append(fields, zap.String("type", string(msg.Message.Type)))...,
		)
	}
}

func (h *Hub) ConnectedClients(subject string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[subject])
}

func (h *Hub) TotalClients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.totalClients()
}

func (h *Hub) totalClients() int {
	total := 0
	for _, clients := range h.clients {
		total += len(clients)
	}
	return total
}

func (h *Hub) shutdown() {
	h.closeOnce.Do(func() { close(h.done) })

	h.mu.Lock()
	defer h.mu.Unlock()

	for subject, clients := range h.clients {
		for client := range clients {
			client.Close()
		}
		delete(h.clients, subject)
	}
	h.logger.Info("websocket hub stopped")
}
