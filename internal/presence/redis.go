// ABOUTME: Redis pub/sub backplane so presence changes reach connections on other instances
// ABOUTME: Events carry the publishing instance id and are not re-delivered to their origin

package presence

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/2389/supportdesk/internal/store"
)

// wireEvent is the pub/sub payload.
type wireEvent struct {
	Origin string       `json:"origin"`
	Topic  store.Class  `json:"topic"`
	Event  *StatusEvent `json:"event"`
}

// RedisBackplane publishes presence events on <prefix>:presence:<class>.
type RedisBackplane struct {
	client     *redis.Client
	prefix     string
	instanceID string
	logger     *slog.Logger
}

// NewRedisBackplane connects to redisURL and verifies the connection.
func NewRedisBackplane(ctx context.Context, redisURL, prefix string, logger *slog.Logger) (*RedisBackplane, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parsing redis url: %w", err)
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("pinging redis: %w", err)
	}

	if prefix == "" {
		prefix = "supportdesk"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisBackplane{
		client:     client,
		prefix:     prefix,
		instanceID: uuid.New().String(),
		logger:     logger.With("component", "redis-backplane"),
	}, nil
}

func (r *RedisBackplane) channel(topic store.Class) string {
	return r.prefix + ":presence:" + string(topic)
}

// Publish sends event to every other instance.
func (r *RedisBackplane) Publish(ctx context.Context, topic store.Class, event *StatusEvent) error {
	data, err := encodeWireEvent(r.instanceID, topic, event)
	if err != nil {
		return err
	}
	return r.client.Publish(ctx, r.channel(topic), data).Err()
}

// Run relays events published by other instances into b until ctx ends.
func (r *RedisBackplane) Run(ctx context.Context, b *Broadcaster) error {
	sub := r.client.Subscribe(ctx, r.channel(store.ClassAgent), r.channel(store.ClassUser))
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribing to presence channels: %w", err)
	}
	r.logger.Info("backplane subscribed", "prefix", r.prefix, "instance_id", r.instanceID)

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			ev, err := decodeWireEvent(msg.Payload, r.instanceID)
			if err != nil {
				r.logger.Warn("discarding malformed backplane event", "error", err)
				continue
			}
			if ev == nil {
				continue
			}
			b.PublishLocal(ev.Topic, ev.Event)
		}
	}
}

// Close releases the redis client.
func (r *RedisBackplane) Close() error {
	return r.client.Close()
}

func encodeWireEvent(origin string, topic store.Class, event *StatusEvent) ([]byte, error) {
	data, err := json.Marshal(wireEvent{Origin: origin, Topic: topic, Event: event})
	if err != nil {
		return nil, fmt.Errorf("encoding presence event: %w", err)
	}
	return data, nil
}

// decodeWireEvent returns nil without error for events this instance published.
func decodeWireEvent(payload, self string) (*wireEvent, error) {
	var ev wireEvent
	if err := json.Unmarshal([]byte(payload), &ev); err != nil {
		return nil, err
	}
	if ev.Event == nil || !ev.Topic.Valid() {
		return nil, fmt.Errorf("incomplete presence event")
	}
	if ev.Origin == self {
		return nil, nil
	}
	return &ev, nil
}
