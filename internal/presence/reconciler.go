// ABOUTME: Presence reconciler keeping directory, registry and broadcasts consistent
// ABOUTME: Connect/disconnect for the same identity are serialized so broadcasts never reorder

package presence

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"log/slog"
	"sync"
	"time"

	"github.com/2389/supportdesk/internal/metrics"
	"github.com/2389/supportdesk/internal/store"
)

// ErrUnknownAgent is returned when an agent connects without a directory record.
var ErrUnknownAgent = errors.New("agent not registered")

const lockStripes = 64

// DirectoryStore is what the reconciler needs from persistence.
type DirectoryStore interface {
	SetAgentOnline(ctx context.Context, username, connectionID string, at time.Time) error
	SetAgentOffline(ctx context.Context, username, connectionID string, at time.Time) (bool, error)
	UpsertUserOnline(ctx context.Context, username, connectionID string, at time.Time) error
	SetUserOffline(ctx context.Context, username, connectionID string, at time.Time) (bool, error)
}

// Options tunes reconciler behavior.
type Options struct {
	// BroadcastUserStatus announces user presence to agents. Agent presence
	// is always announced to users.
	BroadcastUserStatus bool
}

// Reconciler applies connect and disconnect transitions.
type Reconciler struct {
	store       DirectoryStore
	registry    *Registry
	broadcaster *Broadcaster
	opts        Options
	logger      *slog.Logger
	now         func() time.Time

	stripes [lockStripes]sync.Mutex
}

// NewReconciler wires a reconciler. Pass nil logger for default.
func NewReconciler(s DirectoryStore, registry *Registry, broadcaster *Broadcaster, opts Options, logger *slog.Logger) *Reconciler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reconciler{
		store:       s,
		registry:    registry,
		broadcaster: broadcaster,
		opts:        opts,
		logger:      logger.With("component", "reconciler"),
		now:         time.Now,
	}
}

// OnConnect marks identity online, binds h and announces the change.
// On error nothing is registered and the caller should drop the connection.
func (r *Reconciler) OnConnect(ctx context.Context, class store.Class, identity string, h Handle) error {
	mu := r.lock(class, identity)
	mu.Lock()
	defer mu.Unlock()

	now := r.now()

	var err error
	switch class {
	case store.ClassAgent:
		err = r.store.SetAgentOnline(ctx, identity, h.ID(), now)
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("%w: %s", ErrUnknownAgent, identity)
		}
	case store.ClassUser:
		err = r.store.UpsertUserOnline(ctx, identity, h.ID(), now)
	default:
		return fmt.Errorf("unknown class %q", class)
	}
	if err != nil {
		return fmt.Errorf("recording presence: %w", err)
	}

	r.registry.Register(class, identity, h)
	metrics.PresenceChanges.WithLabelValues(string(class), StatusLive).Inc()

	r.logger.Info("connected", "class", class, "identity", identity, "conn_id", h.ID())
	r.announce(ctx, class, identity, true, now)
	return nil
}

// OnDisconnect marks identity offline if h still serves it. A disconnect
// from a handle that a newer connection replaced changes nothing.
func (r *Reconciler) OnDisconnect(ctx context.Context, class store.Class, identity string, h Handle) error {
	mu := r.lock(class, identity)
	mu.Lock()
	defer mu.Unlock()

	if !r.registry.Unregister(class, identity, h) {
		r.logger.Debug("stale disconnect ignored", "class", class, "identity", identity, "conn_id", h.ID())
		return nil
	}

	now := r.now()

	var err error
	switch class {
	case store.ClassAgent:
		_, err = r.store.SetAgentOffline(ctx, identity, h.ID(), now)
	case store.ClassUser:
		_, err = r.store.SetUserOffline(ctx, identity, h.ID(), now)
	}

	metrics.PresenceChanges.WithLabelValues(string(class), StatusOffline).Inc()
	r.logger.Info("disconnected", "class", class, "identity", identity, "conn_id", h.ID())

	// The registry is authoritative, so the offline announcement goes out
	// even when the directory write failed.
	r.announce(ctx, class, identity, false, now)

	if err != nil {
		return fmt.Errorf("recording presence: %w", err)
	}
	return nil
}

func (r *Reconciler) announce(ctx context.Context, class store.Class, identity string, online bool, at time.Time) {
	if class == store.ClassUser && !r.opts.BroadcastUserStatus {
		return
	}

	status := StatusOffline
	if online {
		status = StatusLive
	}
	r.broadcaster.Publish(ctx, class.Opposite(), &StatusEvent{
		Class:    class,
		Identity: identity,
		IsOnline: online,
		Status:   status,
		At:       at,
	})
}

func (r *Reconciler) lock(class store.Class, identity string) *sync.Mutex {
	h := fnv.New32a()
	_, _ = h.Write([]byte(class))
	_, _ = h.Write([]byte{0})
	_, _ = h.Write([]byte(identity))
	return &r.stripes[h.Sum32()%lockStripes]
}
