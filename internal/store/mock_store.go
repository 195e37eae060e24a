// ABOUTME: Mock Store implementation for testing
// ABOUTME: Allows tests to run without SQLite while matching SQLiteStore semantics

package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MockStore is an in-memory Store implementation for testing.
type MockStore struct {
	mu       sync.RWMutex
	agents   map[string]*Agent // keyed by agent ID
	byName   map[string]string // username -> agent ID
	users    map[string]*User  // keyed by username
	messages []*Message        // insertion order
}

// NewMockStore creates a new MockStore.
func NewMockStore() *MockStore {
	return &MockStore{
		agents: make(map[string]*Agent),
		byName: make(map[string]string),
		users:  make(map[string]*User),
	}
}

var _ Store = (*MockStore)(nil)

// CreateAgent stores a new agent. Returns ErrUsernameExists if the username is taken.
func (m *MockStore) CreateAgent(ctx context.Context, agent *Agent) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.byName[agent.Username]; ok {
		return ErrUsernameExists
	}
	if agent.ID == "" {
		agent.ID = uuid.New().String()
	}
	if agent.CreatedAt.IsZero() {
		agent.CreatedAt = time.Now()
	}
	if agent.LastSeen.IsZero() {
		agent.LastSeen = agent.CreatedAt
	}

	// Copy to avoid external modification
	a := *agent
	m.agents[a.ID] = &a
	m.byName[a.Username] = a.ID
	return nil
}

// GetAgent retrieves an agent by ID.
func (m *MockStore) GetAgent(ctx context.Context, id string) (*Agent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	a, ok := m.agents[id]
	if !ok {
		return nil, ErrNotFound
	}
	result := *a
	return &result, nil
}

// GetAgentByUsername retrieves an agent by username.
func (m *MockStore) GetAgentByUsername(ctx context.Context, username string) (*Agent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	id, ok := m.byName[username]
	if !ok {
		return nil, ErrNotFound
	}
	result := *m.agents[id]
	return &result, nil
}

// ListAgents returns all agents ordered by username.
func (m *MockStore) ListAgents(ctx context.Context) ([]*Agent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	agents := make([]*Agent, 0, len(m.agents))
	for _, a := range m.agents {
		c := *a
		agents = append(agents, &c)
	}
	sort.Slice(agents, func(i, j int) bool { return agents[i].Username < agents[j].Username })
	return agents, nil
}

func (m *MockStore) SetAgentOnline(ctx context.Context, username, connectionID string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	id, ok := m.byName[username]
	if !ok {
		return ErrNotFound
	}
	a := m.agents[id]
	a.IsOnline = true
	a.ConnectionID = connectionID
	a.LastSeen = at
	return nil
}

func (m *MockStore) SetAgentOffline(ctx context.Context, username, connectionID string, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id, ok := m.byName[username]
	if !ok {
		return false, nil
	}
	a := m.agents[id]
	if a.ConnectionID == "" || a.ConnectionID != connectionID {
		return false, nil
	}
	a.IsOnline = false
	a.ConnectionID = ""
	a.LastSeen = at
	return true, nil
}

func (m *MockStore) UpsertUserOnline(ctx context.Context, username, connectionID string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	u, ok := m.users[username]
	if !ok {
		u = &User{ID: uuid.New().String(), Username: username, CreatedAt: at}
		m.users[username] = u
	}
	u.IsOnline = true
	u.ConnectionID = connectionID
	u.LastSeen = at
	return nil
}

func (m *MockStore) SetUserOffline(ctx context.Context, username, connectionID string, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	u, ok := m.users[username]
	if !ok || u.ConnectionID == "" || u.ConnectionID != connectionID {
		return false, nil
	}
	u.IsOnline = false
	u.ConnectionID = ""
	u.LastSeen = at
	return true, nil
}

func (m *MockStore) GetUser(ctx context.Context, username string) (*User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	u, ok := m.users[username]
	if !ok {
		return nil, ErrNotFound
	}
	result := *u
	return &result, nil
}

// SaveMessage stores a message. The id and timestamp must already be set.
func (m *MockStore) SaveMessage(ctx context.Context, msg *Message) error {
	if !msg.SenderClass.Valid() || msg.ReceiverClass != msg.SenderClass.Opposite() {
		return fmt.Errorf("invalid message classes %q -> %q", msg.SenderClass, msg.ReceiverClass)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	for _, existing := range m.messages {
		if existing.ID == msg.ID {
			return fmt.Errorf("inserting message: duplicate id %s", msg.ID)
		}
	}
	c := *msg
	m.messages = append(m.messages, &c)
	return nil
}

// ListAgentMessages returns every message the agent sent or received, newest first.
func (m *MockStore) ListAgentMessages(ctx context.Context, agent string) ([]*Message, error) {
	return m.filter(func(msg *Message) bool {
		return (msg.Receiver == agent && msg.ReceiverClass == ClassAgent) ||
			(msg.Sender == agent && msg.SenderClass == ClassAgent)
	}, true), nil
}

// ListConversation returns the messages between user and agent, oldest first.
func (m *MockStore) ListConversation(ctx context.Context, user, agent string) ([]*Message, error) {
	return m.filter(func(msg *Message) bool {
		return (msg.Sender == user && msg.Receiver == agent) ||
			(msg.Sender == agent && msg.Receiver == user)
	}, false), nil
}

// filter returns copies of matching messages ordered by timestamp, ties
// broken by insertion order.
func (m *MockStore) filter(match func(*Message) bool, newestFirst bool) []*Message {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*Message, 0)
	for _, msg := range m.messages {
		if match(msg) {
			c := *msg
			out = append(out, &c)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	if newestFirst {
		for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
			out[i], out[j] = out[j], out[i]
		}
	}
	return out
}

func (m *MockStore) MarkMessagesRead(ctx context.Context, ids []string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	want := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		want[id] = struct{}{}
	}
	var n int64
	for _, msg := range m.messages {
		if _, ok := want[msg.ID]; ok {
			msg.IsRead = true
			n++
		}
	}
	return n, nil
}

// ResetPresence marks every identity offline.
func (m *MockStore) ResetPresence(ctx context.Context, at time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var n int64
	for _, a := range m.agents {
		if a.IsOnline || a.ConnectionID != "" {
			a.IsOnline, a.ConnectionID, a.LastSeen = false, "", at
			n++
		}
	}
	for _, u := range m.users {
		if u.IsOnline || u.ConnectionID != "" {
			u.IsOnline, u.ConnectionID, u.LastSeen = false, "", at
			n++
		}
	}
	return n, nil
}

// Close is a no-op for MockStore.
func (m *MockStore) Close() error {
	return nil
}
