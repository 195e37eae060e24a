// ABOUTME: Tests for the presence Broadcaster fan-out
// ABOUTME: Covers topic isolation, context cleanup, slow subscribers and backplane mirroring

package presence

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/supportdesk/internal/store"
)

func agentOnline(identity string) *StatusEvent {
	return &StatusEvent{
		Class:    store.ClassAgent,
		Identity: identity,
		IsOnline: true,
		Status:   StatusLive,
		At:       time.Now(),
	}
}

func TestBroadcaster_SubscribersReceiveEvent(t *testing.T) {
	b := NewBroadcaster(nil)
	defer b.Close()

	ch1, _ := b.Subscribe(t.Context(), store.ClassUser)
	ch2, _ := b.Subscribe(t.Context(), store.ClassUser)

	b.Publish(t.Context(), store.ClassUser, agentOnline("bob"))

	for i, ch := range []<-chan *StatusEvent{ch1, ch2} {
		select {
		case ev := <-ch:
			assert.Equal(t, "bob", ev.Identity, "subscriber %d", i)
		case <-time.After(time.Second):
			t.Fatalf("subscriber %d timed out", i)
		}
	}
}

func TestBroadcaster_TopicsAreIsolated(t *testing.T) {
	b := NewBroadcaster(nil)
	defer b.Close()

	users, _ := b.Subscribe(t.Context(), store.ClassUser)
	agents, _ := b.Subscribe(t.Context(), store.ClassAgent)

	b.Publish(t.Context(), store.ClassUser, agentOnline("bob"))

	select {
	case <-users:
	case <-time.After(time.Second):
		t.Fatal("user topic subscriber timed out")
	}

	select {
	case <-agents:
		t.Fatal("agent topic must not receive user-topic events")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestBroadcaster_ContextCancelUnsubscribes(t *testing.T) {
	b := NewBroadcaster(nil)
	defer b.Close()

	ctx, cancel := context.WithCancel(t.Context())
	ch, _ := b.Subscribe(ctx, store.ClassUser)
	cancel()

	require.Eventually(t, func() bool {
		select {
		case _, ok := <-ch:
			return !ok
		default:
			return false
		}
	}, time.Second, 10*time.Millisecond)

	assert.Equal(t, 0, b.PublishLocal(store.ClassUser, agentOnline("bob")))
}

func TestBroadcaster_SlowSubscriberDropsInsteadOfBlocking(t *testing.T) {
	b := NewBroadcaster(nil)
	defer b.Close()

	_, _ = b.Subscribe(t.Context(), store.ClassUser)

	done := make(chan struct{})
	go func() {
		for i := 0; i < subscriberBufferSize+10; i++ {
			b.PublishLocal(store.ClassUser, agentOnline("bob"))
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on a full subscriber")
	}
}

type recordingBackplane struct {
	mu     sync.Mutex
	topics []store.Class
	err    error
}

func (r *recordingBackplane) Publish(_ context.Context, topic store.Class, _ *StatusEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.topics = append(r.topics, topic)
	return r.err
}

func TestBroadcaster_MirrorsToBackplane(t *testing.T) {
	b := NewBroadcaster(nil)
	defer b.Close()

	bp := &recordingBackplane{err: errors.New("redis down")}
	b.SetBackplane(bp)

	ch, _ := b.Subscribe(t.Context(), store.ClassUser)
	b.Publish(t.Context(), store.ClassUser, agentOnline("bob"))

	// local delivery still happens when the backplane fails
	select {
	case <-ch:
	case <-time.After(time.Second):
		t.Fatal("local subscriber timed out")
	}
	assert.Equal(t, []store.Class{store.ClassUser}, bp.topics)
}
