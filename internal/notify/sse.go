package notify

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/ashureev/agentchat/internal/identity"
)

const (
	defaultRetryDelay        = 5 * time.Second
	defaultKeepaliveInterval = 15 * time.Second
)

// StreamHandler serves the approval feed as Server-Sent Events.
type StreamHandler struct {
	hub               *Hub
	retryDelay        time.Duration
	keepaliveInterval time.Duration
	logger            *slog.Logger
}

// NewStreamHandler creates an SSE handler backed by hub.
func NewStreamHandler(hub *Hub, logger *slog.Logger) *StreamHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &StreamHandler{
		hub:               hub,
		retryDelay:        defaultRetryDelay,
		keepaliveInterval: defaultKeepaliveInterval,
		logger:            logger.With("component", "sse"),
	}
}

// SetKeepalive overrides the keepalive ping interval.
func (h *StreamHandler) SetKeepalive(d time.Duration) {
	if d > 0 {
		h.keepaliveInterval = d
	}
}

// ServeHTTP streams the caller's events, replaying any missed since Last-Event-ID.
func (h *StreamHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	if userID == "" {
		http.Error(w, `{"success":false,"error":"unauthorized"}`, http.StatusUnauthorized)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, `{"success":false,"error":"streaming not supported"}`, http.StatusInternalServerError)
		return
	}

	lastEventID := parseLastEventID(r)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	if _, err := fmt.Fprintf(w, "retry: %d\n\n", h.retryDelay.Milliseconds()); err != nil {
		h.logger.Warn("Failed to write SSE retry header", "error", err, "user_id", userID)
		return
	}
	flusher.Flush()

	sub, missed := h.hub.Subscribe(userID, lastEventID)
	defer h.hub.Unsubscribe(sub)

	if len(missed) > 0 {
		h.logger.Info("Sending missed events", "user_id", userID, "count", len(missed))
	}
	for _, ev := range missed {
		if err := writeEvent(w, ev); err != nil {
			h.logger.Warn("Failed to replay event", "error", err, "user_id", userID)
			return
		}
	}

	connected := fmt.Sprintf(`{"status":"connected","lastEventId":%d}`, lastEventID)
	if err := writeSSE(w, "connected", connected); err != nil {
		h.logger.Warn("Failed to write SSE connected event", "error", err, "user_id", userID)
		return
	}
	flusher.Flush()

	h.logger.Info("SSE connection established", "user_id", userID, "reconnect", lastEventID > 0)

	keepalive := time.NewTicker(h.keepaliveInterval)
	defer keepalive.Stop()

	for {
		select {
		case <-r.Context().Done():
			h.logger.Info("SSE client disconnected", "user_id", userID)
			return
		case ev, ok := <-sub.C:
			if !ok {
				return
			}
			if err := writeEvent(w, ev); err != nil {
				h.logger.Warn("Failed to write SSE event", "error", err, "user_id", userID)
				return
			}
			flusher.Flush()
		case <-keepalive.C:
			if err := writeSSE(w, "ping", `{"status":"alive"}`); err != nil {
				h.logger.Warn("Failed to write SSE keepalive ping", "error", err, "user_id", userID)
				return
			}
			flusher.Flush()
		}
	}
}

func parseLastEventID(r *http.Request) int64 {
	raw := r.Header.Get("Last-Event-ID")
	if raw == "" {
		raw = r.URL.Query().Get("lastEventId")
	}
	if raw == "" {
		return 0
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id < 0 {
		return 0
	}
	return id
}

func writeEvent(w io.Writer, ev Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	_, err = fmt.Fprintf(w, "id: %d\nevent: %s\ndata: %s\n\n", ev.ID, ev.Type, data)
	return err
}

func writeSSE(w io.Writer, event, data string) error {
	_, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data)
	return err
}
