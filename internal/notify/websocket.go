package notify

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/ashureev/agentchat/internal/identity"
	"github.com/coder/websocket"
)

const wsWriteTimeout = 10 * time.Second

// WebSocketHandler serves the approval feed over a WebSocket.
type WebSocketHandler struct {
	hub            *Hub
	originPatterns []string
	logger         *slog.Logger
}

// wsMessage is a client control frame.
type wsMessage struct {
	Type        string `json:"type"`
	LastEventID int64  `json:"lastEventId,omitempty"`
}

// NewWebSocketHandler creates a WebSocket handler. An empty originPatterns
// accepts any origin.
func NewWebSocketHandler(hub *Hub, originPatterns []string, logger *slog.Logger) *WebSocketHandler {
	if len(originPatterns) == 0 {
		originPatterns = []string{"*"}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &WebSocketHandler{
		hub:            hub,
		originPatterns: originPatterns,
		logger:         logger.With("component", "websocket"),
	}
}

// ServeHTTP implements http.Handler for WebSocket upgrade.
func (h *WebSocketHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	if userID == "" {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: h.originPatterns,
	})
	if err != nil {
		h.logger.Error("Failed to accept WebSocket", "error", err, "user_id", userID)
		return
	}
	defer func() {
		if closeErr := ws.Close(websocket.StatusNormalClosure, "feed ended"); closeErr != nil {
			h.logger.Debug("Failed to close websocket", "error", closeErr, "user_id", userID)
		}
	}()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	sub, _ := h.hub.Subscribe(userID, 0)
	defer h.hub.Unsubscribe(sub)

	h.logger.Info("Approval feed connected", "user_id", userID)

	// Control frames (ping, resume) come from the reader; replies go through
	// the same writer goroutine as events so writes never interleave.
	replies := make(chan any, 4)
	go func() {
		defer cancel()
		h.readLoop(ctx, ws, userID, replies)
	}()

	for {
		select {
		case <-ctx.Done():
			h.logger.Info("Approval feed disconnected", "user_id", userID)
			return
		case ev, ok := <-sub.C:
			if !ok {
				return
			}
			if err := writeJSON(ctx, ws, ev); err != nil {
				h.logger.Debug("Failed to write event", "error", err, "user_id", userID)
				return
			}
		case msg := <-replies:
			if err := writeJSON(ctx, ws, msg); err != nil {
				h.logger.Debug("Failed to write reply", "error", err, "user_id", userID)
				return
			}
		}
	}
}

func (h *WebSocketHandler) readLoop(ctx context.Context, ws *websocket.Conn, userID string, replies chan<- any) {
	for {
		_, data, err := ws.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != -1 {
				h.logger.Debug("WebSocket closed by client", "user_id", userID)
			} else if ctx.Err() == nil {
				h.logger.Warn("WebSocket read error", "error", err, "user_id", userID)
			}
			return
		}

		var msg wsMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}

		var reply []any
		switch msg.Type {
		case "ping":
			reply = append(reply, map[string]string{"type": "pong"})
		case "resume":
			for _, ev := range h.hub.queue.Since(userID, msg.LastEventID) {
				reply = append(reply, ev)
			}
		}
		for _, m := range reply {
			select {
			case replies <- m:
			case <-ctx.Done():
				return
			}
		}
	}
}

func writeJSON(ctx context.Context, ws *websocket.Conn, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
	defer cancel()
	return ws.Write(ctx, websocket.MessageText, data)
}
