// ABOUTME: Unit tests for MockStore to ensure behavior matches SQLiteStore
// ABOUTME: Focuses on conditional presence updates and message ordering

package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMockStore_CreateAgent_Duplicate(t *testing.T) {
	store := NewMockStore()
	ctx := context.Background()

	require.NoError(t, store.CreateAgent(ctx, &Agent{Username: "alice", PasswordHash: "h"}))
	err := store.CreateAgent(ctx, &Agent{Username: "alice", PasswordHash: "h2"})
	assert.ErrorIs(t, err, ErrUsernameExists)
}

func TestMockStore_GetAgent_ReturnsCopy(t *testing.T) {
	store := NewMockStore()
	ctx := context.Background()

	agent := &Agent{Username: "alice", PasswordHash: "h"}
	require.NoError(t, store.CreateAgent(ctx, agent))
	require.NotEmpty(t, agent.ID)

	got, err := store.GetAgent(ctx, agent.ID)
	require.NoError(t, err)
	got.Username = "mutated"

	again, err := store.GetAgentByUsername(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, "alice", again.Username)

	_, err = store.GetAgent(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMockStore_AgentPresence(t *testing.T) {
	store := NewMockStore()
	ctx := context.Background()
	now := time.Now().UTC()

	assert.ErrorIs(t, store.SetAgentOnline(ctx, "ghost", "c1", now), ErrNotFound)

	require.NoError(t, store.CreateAgent(ctx, &Agent{Username: "alice"}))
	require.NoError(t, store.SetAgentOnline(ctx, "alice", "c1", now))
	require.NoError(t, store.SetAgentOnline(ctx, "alice", "c2", now.Add(time.Second)))

	changed, err := store.SetAgentOffline(ctx, "alice", "c1", now.Add(2*time.Second))
	require.NoError(t, err)
	assert.False(t, changed, "stale connection must not clear presence")

	a, err := store.GetAgentByUsername(ctx, "alice")
	require.NoError(t, err)
	assert.True(t, a.IsOnline)
	assert.Equal(t, "c2", a.ConnectionID)

	changed, err = store.SetAgentOffline(ctx, "alice", "c2", now.Add(3*time.Second))
	require.NoError(t, err)
	assert.True(t, changed)

	a, err = store.GetAgentByUsername(ctx, "alice")
	require.NoError(t, err)
	assert.False(t, a.IsOnline)
	assert.Empty(t, a.ConnectionID)
}

func TestMockStore_UserPresence(t *testing.T) {
	store := NewMockStore()
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, store.UpsertUserOnline(ctx, "bob", "u1", now))
	u, err := store.GetUser(ctx, "bob")
	require.NoError(t, err)
	assert.True(t, u.IsOnline)
	firstID := u.ID

	changed, err := store.SetUserOffline(ctx, "bob", "u1", now.Add(time.Second))
	require.NoError(t, err)
	assert.True(t, changed)

	require.NoError(t, store.UpsertUserOnline(ctx, "bob", "u2", now.Add(2*time.Second)))
	u, err = store.GetUser(ctx, "bob")
	require.NoError(t, err)
	assert.Equal(t, firstID, u.ID, "upsert keeps the identity")
	assert.Equal(t, "u2", u.ConnectionID)
}

func TestMockStore_MessageOrdering(t *testing.T) {
	store := NewMockStore()
	ctx := context.Background()
	base := time.Now().UTC()

	save := func(id, sender string, class Class, receiver string, ts time.Time) {
		require.NoError(t, store.SaveMessage(ctx, &Message{
			ID: id, Sender: sender, SenderClass: class,
			Receiver: receiver, ReceiverClass: class.Opposite(),
			Content: id, Timestamp: ts,
		}))
	}
	save("m1", "bob", ClassUser, "alice", base)
	save("m2", "alice", ClassAgent, "bob", base.Add(time.Second))
	save("m3", "carol", ClassUser, "alice", base.Add(time.Second))
	save("m4", "dave", ClassUser, "zed", base.Add(2*time.Second))

	inbox, err := store.ListAgentMessages(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, inbox, 3)
	assert.Equal(t, []string{"m3", "m2", "m1"}, []string{inbox[0].ID, inbox[1].ID, inbox[2].ID})

	conv, err := store.ListConversation(ctx, "bob", "alice")
	require.NoError(t, err)
	require.Len(t, conv, 2)
	assert.Equal(t, "m1", conv[0].ID)
	assert.Equal(t, "m2", conv[1].ID)

	err = store.SaveMessage(ctx, &Message{ID: "bad", SenderClass: ClassUser, ReceiverClass: ClassUser})
	assert.Error(t, err)
}

func TestMockStore_MarkMessagesRead(t *testing.T) {
	store := NewMockStore()
	ctx := context.Background()

	require.NoError(t, store.SaveMessage(ctx, &Message{
		ID: "m1", Sender: "bob", SenderClass: ClassUser,
		Receiver: "alice", ReceiverClass: ClassAgent, Content: "hi", Timestamp: time.Now(),
	}))

	n, err := store.MarkMessagesRead(ctx, []string{"m1", "missing"})
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	conv, err := store.ListConversation(ctx, "bob", "alice")
	require.NoError(t, err)
	assert.True(t, conv[0].IsRead)
}

func TestMockStore_ResetPresence(t *testing.T) {
	store := NewMockStore()
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, store.CreateAgent(ctx, &Agent{Username: "alice"}))
	require.NoError(t, store.SetAgentOnline(ctx, "alice", "c1", now))
	require.NoError(t, store.UpsertUserOnline(ctx, "bob", "u1", now))

	n, err := store.ResetPresence(ctx, now.Add(time.Second))
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)

	a, err := store.GetAgentByUsername(ctx, "alice")
	require.NoError(t, err)
	assert.False(t, a.IsOnline)
	assert.Empty(t, a.ConnectionID)
}
