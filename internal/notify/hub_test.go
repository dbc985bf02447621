package notify

import (
	"context"
	"testing"
	"time"

	"github.com/ashureev/agentchat/internal/domain"
	"github.com/ashureev/agentchat/internal/selfimprove"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func startHub(t *testing.T) *Hub {
	t.Helper()
	hub := NewHub(8, 10, nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- hub.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(2 * time.Second):
			t.Error("hub did not stop")
		}
	})
	return hub
}

func receive(t *testing.T, sub *Subscription) Event {
	t.Helper()
	select {
	case ev, ok := <-sub.C:
		require.True(t, ok, "subscription closed")
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
		return Event{}
	}
}

func TestHub_DeliversOnlyToTargetUser(t *testing.T) {
	hub := startHub(t)

	alice, _ := hub.Subscribe("alice", 0)
	defer hub.Unsubscribe(alice)
	bob, _ := hub.Subscribe("bob", 0)
	defer hub.Unsubscribe(bob)

	require.True(t, hub.Publish("alice", "proposal", "hello"))

	ev := receive(t, alice)
	assert.Equal(t, int64(1), ev.ID)
	assert.Equal(t, "proposal", ev.Type)
	assert.Equal(t, "hello", ev.Data)

	select {
	case ev := <-bob.C:
		t.Fatalf("bob received %+v", ev)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestHub_ReplaysMissedEvents(t *testing.T) {
	hub := startHub(t)

	first, _ := hub.Subscribe("alice", 0)
	hub.Publish("alice", "proposal", 1)
	hub.Publish("alice", "proposal", 2)
	hub.Publish("alice", "proposal", 3)
	for i := 0; i < 3; i++ {
		receive(t, first)
	}
	hub.Unsubscribe(first)

	second, missed := hub.Subscribe("alice", 1)
	defer hub.Unsubscribe(second)
	require.Len(t, missed, 2)
	assert.Equal(t, int64(2), missed[0].ID)
	assert.Equal(t, int64(3), missed[1].ID)
}

func TestHub_KeepsEventsWithoutSubscribers(t *testing.T) {
	hub := startHub(t)

	hub.Publish("carol", "proposal", "x")

	assert.Eventually(t, func() bool {
		return len(hub.queue.Since("carol", 0)) == 1
	}, time.Second, 10*time.Millisecond)
}

func TestHub_ProposalReady(t *testing.T) {
	hub := startHub(t)
	sub, _ := hub.Subscribe("alice", 0)
	defer hub.Unsubscribe(sub)

	var n selfimprove.Notifier = hub
	n.ProposalReady("alice", "agent-1", &selfimprove.AnalysisResult{
		ProposalID: "p1",
		Current:    domain.Snapshot{Name: "Helper"},
	})

	ev := receive(t, sub)
	assert.Equal(t, EventProposal, ev.Type)
	data, ok := ev.Data.(ProposalData)
	require.True(t, ok)
	assert.Equal(t, "agent-1", data.AgentID)
	assert.Equal(t, "p1", data.ProposalID)
}

func TestHub_UnsubscribeTwice(t *testing.T) {
	hub := NewHub(1, 1, nil)
	sub, _ := hub.Subscribe("alice", 0)
	assert.Equal(t, 1, hub.Subscribers("alice"))

	hub.Unsubscribe(sub)
	hub.Unsubscribe(sub)

	assert.Equal(t, 0, hub.Subscribers("alice"))
	_, ok := <-sub.C
	assert.False(t, ok)
}

func TestHub_PublishDropsWhenSaturated(t *testing.T) {
	hub := NewHub(1, 1, nil)

	assert.True(t, hub.Publish("alice", "proposal", 1))
	assert.False(t, hub.Publish("alice", "proposal", 2))
}

func TestHub_RunClosesSubscriptionsOnShutdown(t *testing.T) {
	defer goleak.VerifyNone(t)

	hub := NewHub(1, 1, nil)
	sub, _ := hub.Subscribe("alice", 0)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- hub.Run(ctx) }()
	cancel()

	require.NoError(t, <-done)
	_, ok := <-sub.C
	assert.False(t, ok)
	assert.Equal(t, 0, hub.Subscribers("alice"))

	// Safe after shutdown.
	hub.Unsubscribe(sub)
}

func TestQueue_BoundedPerUser(t *testing.T) {
	q := NewQueue(2)
	for i := int64(1); i <= 3; i++ {
		q.Enqueue(Event{ID: i, UserID: "alice"})
	}
	q.Enqueue(Event{ID: 4, UserID: "bob"})

	got := q.Since("alice", 0)
	require.Len(t, got, 2)
	assert.Equal(t, int64(2), got[0].ID)
	assert.Len(t, q.Since("bob", 0), 1)
}

func TestHub_SubscribeDuringDispatch(t *testing.T) {
	const live = 12 // below the subscription buffer, so nothing is dropped

	for round := 0; round < 50; round++ {
		hub := NewHub(8, 100, nil)
		hub.dispatch(Event{UserID: "alice", Type: EventProposal})

		done := make(chan struct{})
		go func() {
			defer close(done)
			for i := 0; i < live; i++ {
				hub.dispatch(Event{UserID: "alice", Type: EventProposal})
			}
		}()

		sub, missed := hub.Subscribe("alice", 1)
		<-done
		hub.Unsubscribe(sub)

		seen := make(map[int64]int)
		for _, ev := range missed {
			seen[ev.ID]++
		}
		for ev := range sub.C {
			seen[ev.ID]++
		}
		require.Len(t, seen, live, "round %d", round)
		for id, n := range seen {
			require.Equal(t, 1, n, "event %d delivered %d times in round %d", id, n, round)
		}
	}
}
