// internal/handler/websocket_handler.go
package handler

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"serial2rudics/internal/utils"
)

// WebSocketHandler streams bridge lifecycle events to connected clients
type WebSocketHandler struct {
	upgrader websocket.Upgrader
	eventBus *EventBus
	logger   *utils.ServiceLogger
}

// NewWebSocketHandler creates a new WebSocket handler around an event bus
func NewWebSocketHandler(eventBus *EventBus, logger *zap.Logger) *WebSocketHandler {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			// the status server binds to localhost by default
			return true
		},
	}

	return &WebSocketHandler{
		upgrader: upgrader,
		eventBus: eventBus,
		logger:   utils.NewServiceLogger(logger, "websocket-handler"),
	}
}

// RegisterRoutes registers WebSocket routes
func (h *WebSocketHandler) RegisterRoutes(router *gin.RouterGroup) {
	router.GET("/events", h.HandleEventConnection)
}

// HandleEventConnection upgrades the request and streams events until the
// client disconnects
func (h *WebSocketHandler) HandleEventConnection(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Error("Failed to upgrade WebSocket connection", zap.Error(err))
		return
	}

	clientID := uuid.New().String()
	events := h.eventBus.Subscribe(clientID)

	h.logger.Info("WebSocket client connected",
		zap.String("client_id", clientID),
		zap.String("remote_addr", c.Request.RemoteAddr),
	)

	go h.writeEvents(conn, clientID, events)
	go h.readUntilClosed(conn, clientID)
}

// writeEvents pushes bus events to the client as JSON
func (h *WebSocketHandler) writeEvents(conn *websocket.Conn, clientID string, events <-chan Event) {
	defer conn.Close()

	for event := range events {
		payload, err := json.Marshal(event)
		if err != nil {
			h.logger.Error("Failed to marshal event", zap.Error(err))
			continue
		}

		conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
		if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
			h.logger.Info("WebSocket client write failed, dropping",
				zap.String("client_id", clientID),
				zap.Error(err),
			)
			h.eventBus.Unsubscribe(clientID)
			return
		}
	}
}

// readUntilClosed consumes control frames and unsubscribes on disconnect
func (h *WebSocketHandler) readUntilClosed(conn *websocket.Conn, clientID string) {
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			h.logger.Info("WebSocket client disconnected",
				zap.String("client_id", clientID),
			)
			h.eventBus.Unsubscribe(clientID)
			return
		}
	}
}
