// Package notify fans out self-improvement events to a user's connected
// clients over SSE and WebSocket.
package notify

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/ashureev/agentchat/internal/selfimprove"
)

// Event types.
const (
	EventProposal = "proposal"
)

// Event is a single notification for one user.
type Event struct {
	ID        int64     `json:"id"`
	Type      string    `json:"type"`
	UserID    string    `json:"-"`
	Data      any       `json:"data"`
	Timestamp time.Time `json:"timestamp"`
}

// ProposalData is the payload of a proposal event.
type ProposalData struct {
	AgentID string `json:"agentId"`
	*selfimprove.AnalysisResult
}

// Subscription receives events for one user until it is cancelled.
type Subscription struct {
	id     int64
	userID string
	C      <-chan Event
	ch     chan Event
}

// Hub routes published events to subscribers. Publishing never blocks the
// caller: events are dropped when the hub or a subscriber is saturated.
type Hub struct {
	broadcast chan Event
	queue     *Queue
	logger    *slog.Logger

	mu      sync.RWMutex
	subs    map[string]map[int64]*Subscription // userID -> subscription ID -> subscription
	nextSub int64

	counterMu    sync.Mutex
	eventCounter int64
}

var _ selfimprove.Notifier = (*Hub)(nil)

// NewHub creates a hub with a bounded inbound buffer and a per-user replay queue.
func NewHub(bufferSize, replaySize int, logger *slog.Logger) *Hub {
	if bufferSize <= 0 {
		bufferSize = 64
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		broadcast: make(chan Event, bufferSize),
		queue:     NewQueue(replaySize),
		logger:    logger.With("component", "notify"),
		subs:      make(map[string]map[int64]*Subscription),
	}
}

// ProposalReady publishes a manual-mode proposal awaiting a decision.
func (h *Hub) ProposalReady(userID, agentID string, result *selfimprove.AnalysisResult) {
	h.Publish(userID, EventProposal, ProposalData{AgentID: agentID, AnalysisResult: result})
}

// Publish queues an event for delivery. It returns false if the hub is saturated.
func (h *Hub) Publish(userID, eventType string, data any) bool {
	ev := Event{
		Type:      eventType,
		UserID:    userID,
		Data:      data,
		Timestamp: time.Now(),
	}
	select {
	case h.broadcast <- ev:
		return true
	default:
		h.logger.Warn("Broadcast buffer full, dropping event", "user_id", userID, "type", eventType)
		return false
	}
}

// Run distributes events until ctx is cancelled.
func (h *Hub) Run(ctx context.Context) error {
	h.logger.Info("Broadcast loop started")
	for {
		select {
		case <-ctx.Done():
			h.logger.Info("Broadcast loop shutting down")
			h.closeAll()
			return nil
		case ev := <-h.broadcast:
			h.dispatch(ev)
		}
	}
}

func (h *Hub) nextEventID() int64 {
	h.counterMu.Lock()
	defer h.counterMu.Unlock()
	h.eventCounter++
	return h.eventCounter
}

func (h *Hub) dispatch(ev Event) {
	// Held across enqueue and send so Subscribe sees each event either in its
	// replay or on its channel, never both, and Unsubscribe cannot close a
	// channel mid-send.
	h.mu.RLock()
	defer h.mu.RUnlock()

	ev.ID = h.nextEventID()
	h.queue.Enqueue(ev)

	userSubs := h.subs[ev.UserID]
	if len(userSubs) == 0 {
		h.logger.Debug("No subscribers, event kept for replay", "user_id", ev.UserID, "event_id", ev.ID)
		return
	}

	for _, s := range userSubs {
		select {
		case s.ch <- ev:
		default:
			h.logger.Warn("Subscriber too slow, dropping event",
				"user_id", ev.UserID,
				"subscription", s.id,
				"event_id", ev.ID)
		}
	}
}

// Subscribe registers a subscriber for userID and returns any buffered events
// newer than lastEventID.
func (h *Hub) Subscribe(userID string, lastEventID int64) (*Subscription, []Event) {
	ch := make(chan Event, 16)

	h.mu.Lock()
	h.nextSub++
	sub := &Subscription{id: h.nextSub, userID: userID, C: ch, ch: ch}
	if _, ok := h.subs[userID]; !ok {
		h.subs[userID] = make(map[int64]*Subscription)
	}
	h.subs[userID][sub.id] = sub

	var missed []Event
	if lastEventID > 0 {
		missed = h.queue.Since(userID, lastEventID)
	}
	h.mu.Unlock()
	return sub, missed
}

// Unsubscribe removes the subscription. It is safe to call more than once.
func (h *Hub) Unsubscribe(sub *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()

	userSubs, ok := h.subs[sub.userID]
	if !ok {
		return
	}
	if _, ok := userSubs[sub.id]; !ok {
		return
	}
	delete(userSubs, sub.id)
	close(sub.ch)
	if len(userSubs) == 0 {
		delete(h.subs, sub.userID)
	}
}

// Subscribers returns the number of live subscriptions for userID.
func (h *Hub) Subscribers(userID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[userID])
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for userID, userSubs := range h.subs {
		for _, s := range userSubs {
			close(s.ch)
		}
		delete(h.subs, userID)
	}
}
