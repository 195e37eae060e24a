// ABOUTME: Shared fixtures for relay tests
// ABOUTME: Real SQLite store in a temp dir plus in-memory handles that record emitted events

package relay

import (
	"context"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/2389/supportdesk/internal/presence"
	"github.com/2389/supportdesk/internal/store"
)

type emitted struct {
	event   string
	payload any
}

type recordingHandle struct {
	id string

	mu     sync.Mutex
	events []emitted
	err    error
}

func newHandle(id string) *recordingHandle { return &recordingHandle{id: id} }

func (h *recordingHandle) ID() string { return h.id }

func (h *recordingHandle) Emit(event string, payload any) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.err != nil {
		return h.err
	}
	h.events = append(h.events, emitted{event: event, payload: payload})
	return nil
}

func (h *recordingHandle) named(event string) []any {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []any
	for _, e := range h.events {
		if e.event == event {
			out = append(out, e.payload)
		}
	}
	return out
}

type fixture struct {
	store    *store.SQLiteStore
	registry *presence.Registry
	router   *Router
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	s, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "relay.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	registry := presence.NewRegistry(nil)
	return &fixture{
		store:    s,
		registry: registry,
		router:   NewRouter(s, registry, nil),
	}
}

func (f *fixture) createAgent(t *testing.T, username string) {
	t.Helper()
	require.NoError(t, f.store.CreateAgent(context.Background(), &store.Agent{Username: username, PasswordHash: "x"}))
}

func (f *fixture) online(class store.Class, identity string) *recordingHandle {
	h := newHandle(string(class) + "-" + identity)
	f.registry.Register(class, identity, h)
	return h
}

func (f *fixture) conversation(t *testing.T, user, agent string) []*store.Message {
	t.Helper()
	msgs, err := f.store.ListConversation(context.Background(), user, agent)
	require.NoError(t, err)
	return msgs
}
