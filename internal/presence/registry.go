// ABOUTME: Process-local registry of live connections keyed by endpoint class and identity
// ABOUTME: Last connect wins; unregister is a no-op for handles that were already replaced

package presence

import (
	"log/slog"
	"sort"
	"sync"

	"github.com/2389/supportdesk/internal/store"
)

// Handle is a live connection that events can be emitted to.
type Handle interface {
	// ID is unique per connection and never reused.
	ID() string
	// Emit queues an event for the connection. It must not block on the
	// network; an error means the event was not handed to the connection.
	Emit(event string, payload any) error
}

// Registry maps (class, identity) to the connection currently serving it.
type Registry struct {
	mu      sync.RWMutex
	entries map[store.Class]map[string]Handle
	logger  *slog.Logger
}

// NewRegistry creates an empty registry. Pass nil logger for default.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		entries: map[store.Class]map[string]Handle{
			store.ClassAgent: make(map[string]Handle),
			store.ClassUser:  make(map[string]Handle),
		},
		logger: logger.With("component", "registry"),
	}
}

// Register binds identity to h and returns the handle it replaced, if any.
func (r *Registry) Register(class store.Class, identity string, h Handle) Handle {
	r.mu.Lock()
	defer r.mu.Unlock()

	byID := r.entries[class]
	prev := byID[identity]
	byID[identity] = h

	if prev != nil && prev.ID() != h.ID() {
		r.logger.Info("connection replaced",
			"class", class,
			"identity", identity,
			"old_conn", prev.ID(),
			"new_conn", h.ID())
		return prev
	}
	return nil
}

// Unregister removes identity only while it is still bound to h.
// Returns false when h had already been replaced or removed.
func (r *Registry) Unregister(class store.Class, identity string, h Handle) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	byID := r.entries[class]
	cur, ok := byID[identity]
	if !ok || cur.ID() != h.ID() {
		return false
	}
	delete(byID, identity)
	return true
}

// Resolve returns the live handle for identity, if one is registered.
func (r *Registry) Resolve(class store.Class, identity string) (Handle, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	h, ok := r.entries[class][identity]
	return h, ok
}

// Count returns the number of live identities for class.
func (r *Registry) Count(class store.Class) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries[class])
}

// Online returns the sorted identities with a live connection for class.
func (r *Registry) Online(class store.Class) []string {
	r.mu.RLock()
	names := make([]string, 0, len(r.entries[class]))
	for name := range r.entries[class] {
		names = append(names, name)
	}
	r.mu.RUnlock()

	sort.Strings(names)
	return names
}
