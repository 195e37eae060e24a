// ABOUTME: Tests for the connection registry
// ABOUTME: Covers last-connect-wins, stale unregister and concurrent access

package presence

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/supportdesk/internal/store"
)

type emitted struct {
	event   string
	payload any
}

// fakeHandle records everything emitted to it.
type fakeHandle struct {
	id string

	mu     sync.Mutex
	events []emitted
	fail   error
}

func newFakeHandle(id string) *fakeHandle { return &fakeHandle{id: id} }

func (f *fakeHandle) ID() string { return f.id }

func (f *fakeHandle) Emit(event string, payload any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail != nil {
		return f.fail
	}
	f.events = append(f.events, emitted{event: event, payload: payload})
	return nil
}

func TestRegistry_RegisterAndResolve(t *testing.T) {
	r := NewRegistry(nil)
	h := newFakeHandle("c1")

	prev := r.Register(store.ClassAgent, "bob", h)
	assert.Nil(t, prev)

	got, ok := r.Resolve(store.ClassAgent, "bob")
	require.True(t, ok)
	assert.Equal(t, "c1", got.ID())

	_, ok = r.Resolve(store.ClassUser, "bob")
	assert.False(t, ok, "classes are separate namespaces")
}

func TestRegistry_LastConnectWins(t *testing.T) {
	r := NewRegistry(nil)
	first := newFakeHandle("c1")
	second := newFakeHandle("c2")

	r.Register(store.ClassUser, "alice", first)
	prev := r.Register(store.ClassUser, "alice", second)
	require.NotNil(t, prev)
	assert.Equal(t, "c1", prev.ID())

	got, _ := r.Resolve(store.ClassUser, "alice")
	assert.Equal(t, "c2", got.ID())
	assert.Equal(t, 1, r.Count(store.ClassUser))
}

func TestRegistry_StaleUnregisterKeepsNewerHandle(t *testing.T) {
	r := NewRegistry(nil)
	first := newFakeHandle("c1")
	second := newFakeHandle("c2")

	r.Register(store.ClassUser, "alice", first)
	r.Register(store.ClassUser, "alice", second)

	assert.False(t, r.Unregister(store.ClassUser, "alice", first))
	assert.True(t, isBound(r, store.ClassUser, "alice", second))

	assert.True(t, r.Unregister(store.ClassUser, "alice", second))
	_, ok := r.Resolve(store.ClassUser, "alice")
	assert.False(t, ok)
	assert.False(t, r.Unregister(store.ClassUser, "alice", second), "second unregister is a no-op")
}

func TestRegistry_OnlineIsSorted(t *testing.T) {
	r := NewRegistry(nil)
	r.Register(store.ClassAgent, "zed", newFakeHandle("1"))
	r.Register(store.ClassAgent, "amy", newFakeHandle("2"))
	r.Register(store.ClassUser, "carl", newFakeHandle("3"))

	assert.Equal(t, []string{"amy", "zed"}, r.Online(store.ClassAgent))
	assert.Equal(t, []string{"carl"}, r.Online(store.ClassUser))
}

func TestRegistry_ConcurrentAccess(t *testing.T) {
	r := NewRegistry(nil)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			identity := fmt.Sprintf("user-%d", i%10)
			h := newFakeHandle(fmt.Sprintf("conn-%d", i))
			r.Register(store.ClassUser, identity, h)
			r.Resolve(store.ClassUser, identity)
			r.Online(store.ClassUser)
			r.Unregister(store.ClassUser, identity, h)
		}(i)
	}
	wg.Wait()

	assert.LessOrEqual(t, r.Count(store.ClassUser), 10)
}

// isBound reports whether identity is currently served by h.
func isBound(r *Registry, class store.Class, identity string, h Handle) bool {
	cur, ok := r.Resolve(class, identity)
	return ok && cur.ID() == h.ID()
}
