package notify

import (
	"container/list"
	"sync"
)

// Queue buffers recent events per user so reconnecting clients can catch up.
// Each user gets a bounded list so one user's burst cannot evict events
// belonging to another user.
type Queue struct {
	mu      sync.RWMutex
	queues  map[string]*list.List // userID -> events
	maxSize int
}

// NewQueue creates a per-user replay queue.
func NewQueue(maxSize int) *Queue {
	if maxSize <= 0 {
		maxSize = 100
	}
	return &Queue{
		queues:  make(map[string]*list.List),
		maxSize: maxSize,
	}
}

// Enqueue appends an event to the user's queue.
func (q *Queue) Enqueue(ev Event) {
	q.mu.Lock()
	defer q.mu.Unlock()

	l, ok := q.queues[ev.UserID]
	if !ok {
		l = list.New()
		q.queues[ev.UserID] = l
	}
	l.PushBack(ev)
	for l.Len() > q.maxSize {
		l.Remove(l.Front())
	}
}

// Since returns the user's events with an ID greater than afterID, oldest first.
func (q *Queue) Since(userID string, afterID int64) []Event {
	q.mu.RLock()
	defer q.mu.RUnlock()

	l, ok := q.queues[userID]
	if !ok {
		return nil
	}
	var missed []Event
	for e := l.Front(); e != nil; e = e.Next() {
		ev := e.Value.(Event)
		if ev.ID > afterID {
			missed = append(missed, ev)
		}
	}
	return missed
}
