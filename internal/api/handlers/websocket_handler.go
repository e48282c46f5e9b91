package handlers

import (
	"time"

	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"

	"github.com/aula-insights/backend/internal/events"
	"github.com/aula-insights/backend/pkg/logger"
)

const pingInterval = 30 * time.Second

// WebSocketHandler streams pipeline events to dashboard clients.
type WebSocketHandler struct {
	hub *events.Hub
}

func NewWebSocketHandler(hub *events.Hub) *WebSocketHandler {
	return &WebSocketHandler{hub: hub}
}

func (h *WebSocketHandler) HandleConnection(c *websocket.Conn) {
	logger.Info("WebSocket connection established")

	sub := h.hub.Subscribe()
	defer func() {
		h.hub.Unsubscribe(sub)
		c.Close()
		logger.Info("WebSocket connection closed")
	}()

	// Drain client frames so close handshakes are noticed.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := c.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case event, ok := <-sub:
			if !ok {
				return
			}
			if err := c.WriteJSON(event); err != nil {
				logger.Debug("Failed to write WebSocket event", zap.Error(err))
				return
			}
		case <-ticker.C:
			if err := c.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
