// ABOUTME: In-memory fan-out of presence changes, one topic per endpoint class
// ABOUTME: Optionally mirrors every publish onto a Backplane shared with other instances

package presence

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/2389/supportdesk/internal/store"
)

const (
	// subscriberBufferSize is the channel buffer for each subscriber.
	subscriberBufferSize = 64

	StatusLive    = "live"
	StatusOffline = "offline"
)

// StatusEvent announces that an identity of Class came online or went offline.
// It is delivered to subscribers of the opposite class's topic.
type StatusEvent struct {
	Class    store.Class `json:"class"`
	Identity string      `json:"identity"`
	IsOnline bool        `json:"isOnline"`
	Status   string      `json:"status"`
	At       time.Time   `json:"at"`
}

// Backplane carries presence events between relay instances.
type Backplane interface {
	Publish(ctx context.Context, topic store.Class, event *StatusEvent) error
}

// Broadcaster provides pub/sub for presence events keyed by the class that
// should hear about them. Connections subscribe to their own class.
type Broadcaster struct {
	mu          sync.RWMutex
	subscribers map[store.Class]map[string]chan *StatusEvent // topic -> subID -> ch
	backplane   Backplane
	logger      *slog.Logger
}

// NewBroadcaster creates a broadcaster. Pass nil logger for default.
func NewBroadcaster(logger *slog.Logger) *Broadcaster {
	if logger == nil {
		logger = slog.Default()
	}
	return &Broadcaster{
		subscribers: make(map[store.Class]map[string]chan *StatusEvent),
		logger:      logger.With("component", "broadcaster"),
	}
}

// SetBackplane mirrors subsequent publishes to other instances.
func (b *Broadcaster) SetBackplane(bp Backplane) {
	b.mu.Lock()
	b.backplane = bp
	b.mu.Unlock()
}

// Subscribe registers a subscriber for a topic. The subscription is
// automatically cleaned up when ctx is cancelled.
func (b *Broadcaster) Subscribe(ctx context.Context, topic store.Class) (<-chan *StatusEvent, string) {
	subID := uuid.New().String()
	ch := make(chan *StatusEvent, subscriberBufferSize)

	b.mu.Lock()
	if _, ok := b.subscribers[topic]; !ok {
		b.subscribers[topic] = make(map[string]chan *StatusEvent)
	}
	b.subscribers[topic][subID] = ch
	b.mu.Unlock()

	b.logger.Debug("subscriber added", "topic", topic, "sub_id", subID)

	go func() {
		<-ctx.Done()
		b.Unsubscribe(topic, subID)
	}()

	return ch, subID
}

// Publish fans event out to local subscribers of topic and, when a
// backplane is configured, to other instances.
func (b *Broadcaster) Publish(ctx context.Context, topic store.Class, event *StatusEvent) {
	b.PublishLocal(topic, event)

	b.mu.RLock()
	bp := b.backplane
	b.mu.RUnlock()
	if bp == nil {
		return
	}
	if err := bp.Publish(ctx, topic, event); err != nil {
		b.logger.Warn("backplane publish failed",
			"topic", topic,
			"identity", event.Identity,
			"error", err)
	}
}

// PublishLocal delivers to this instance's subscribers only.
// Non-blocking: events are dropped for subscribers whose channels are full.
func (b *Broadcaster) PublishLocal(topic store.Class, event *StatusEvent) int {
	b.mu.RLock()
	subs := b.subscribers[topic]
	targets := make([]chan *StatusEvent, 0, len(subs))
	for _, ch := range subs {
		targets = append(targets, ch)
	}

	delivered := 0
	for _, ch := range targets {
		select {
		case ch <- event:
			delivered++
		default:
			b.logger.Debug("dropped event for slow subscriber",
				"topic", topic,
				"identity", event.Identity)
		}
	}
	// Sends happen under the read lock so Unsubscribe cannot close a
	// channel mid-send.
	b.mu.RUnlock()
	return delivered
}

// Unsubscribe removes a subscription and closes its channel.
func (b *Broadcaster) Unsubscribe(topic store.Class, subID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs, ok := b.subscribers[topic]
	if !ok {
		return
	}
	ch, exists := subs[subID]
	if !exists {
		return
	}

	delete(subs, subID)
	close(ch)
	if len(subs) == 0 {
		delete(b.subscribers, topic)
	}

	b.logger.Debug("subscriber removed", "topic", topic, "sub_id", subID)
}

// Close shuts down the broadcaster and closes all subscriber channels.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for topic, subs := range b.subscribers {
		for subID, ch := range subs {
			close(ch)
			delete(subs, subID)
		}
		delete(b.subscribers, topic)
	}

	b.logger.Debug("broadcaster closed")
}
