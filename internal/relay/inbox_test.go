// ABOUTME: Tests for inbox assembly and typing relay
// ABOUTME: Inbox folding uses a real store; typing uses the registry only

package relay

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/supportdesk/internal/presence"
	"github.com/2389/supportdesk/internal/store"
)

func TestBuildInbox_FoldsToLatestPerUser(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	base := time.Date(2026, 1, 2, 10, 0, 0, 0, time.UTC)

	save := func(id, sender string, sc store.Class, receiver, content string, offset time.Duration) {
		require.NoError(t, f.store.SaveMessage(ctx, &store.Message{
			ID: id, Sender: sender, SenderClass: sc,
			Receiver: receiver, ReceiverClass: sc.Opposite(),
			Content: content, Timestamp: base.Add(offset),
		}))
	}
	save("m1", "alice", store.ClassUser, "bob", "first from alice", 0)
	save("m2", "carol", store.ClassUser, "bob", "carol here", time.Minute)
	save("m3", "bob", store.ClassAgent, "alice", "reply to alice", 2*time.Minute)
	save("m4", "dave", store.ClassUser, "eve", "not bob's", 3*time.Minute)

	entries, err := NewAssembler(f.store, nil).BuildInbox(ctx, "bob")
	require.NoError(t, err)
	require.Len(t, entries, 2)

	assert.Equal(t, "alice", entries[0].Username)
	assert.Equal(t, "reply to alice", entries[0].LastMessage)
	assert.Equal(t, "carol", entries[1].Username)
	assert.Equal(t, "carol here", entries[1].LastMessage)
}

func TestBuildInbox_EmptyHistory(t *testing.T) {
	f := newFixture(t)

	entries, err := NewAssembler(f.store, nil).BuildInbox(context.Background(), "bob")
	require.NoError(t, err)
	assert.NotNil(t, entries, "serializes as [] not null")
	assert.Empty(t, entries)
}

type brokenInbox struct{}

func (brokenInbox) ListAgentMessages(context.Context, string) ([]*store.Message, error) {
	return nil, errors.New("db closed")
}

func TestBuildInbox_StoreError(t *testing.T) {
	_, err := NewAssembler(brokenInbox{}, nil).BuildInbox(context.Background(), "bob")
	assert.ErrorIs(t, err, ErrPersistence)
}

func TestRelayTyping(t *testing.T) {
	f := newFixture(t)
	typing := NewTypingRelay(f.registry, nil)
	bob := f.online(store.ClassAgent, "bob")
	alice := f.online(store.ClassUser, "alice")

	assert.True(t, typing.RelayTyping(store.ClassUser, "alice", "bob", true))
	got := bob.named(EventUserTyping)
	require.Len(t, got, 1)
	assert.Equal(t, &UserTyping{UserUsername: "alice", IsTyping: true}, got[0])

	assert.True(t, typing.RelayTyping(store.ClassAgent, "bob", "alice", false))
	assert.Equal(t, &AgentTyping{AgentUsername: "bob", IsTyping: false}, alice.named(EventAgentTyping)[0])

	assert.False(t, typing.RelayTyping(store.ClassUser, "alice", "offline-agent", true))
	assert.False(t, typing.RelayTyping(store.ClassUser, "", "bob", true), "unidentified users cannot type")
}

func TestClientMessage(t *testing.T) {
	assert.Equal(t, MsgUsernameRequired, ClientMessage(Invalid(MsgUsernameRequired)))
	assert.Equal(t, MsgSendFailed, ClientMessage(ErrPersistence))
	assert.Equal(t, MsgInternal, ClientMessage(errors.New("boom")))
	assert.Equal(t, "persistence", Kind(Persistence(MsgSendFailed, errors.New("x"))))
}

func TestNormalizeUsername(t *testing.T) {
	got, err := NormalizeUsername("  alice  ")
	require.NoError(t, err)
	assert.Equal(t, "alice", got)

	_, err = NormalizeUsername("   ")
	assert.Equal(t, MsgUsernameRequired, ClientMessage(err))

	_, err = NormalizeUsername("al")
	assert.Equal(t, MsgUsernameLength, ClientMessage(err))

	_, err = NormalizeUsername("this-name-is-definitely-longer-than-thirty")
	assert.ErrorIs(t, err, ErrInvalidRequest)
}

func TestSendThenInbox_MockStore(t *testing.T) {
	ctx := context.Background()
	s := store.NewMockStore()
	require.NoError(t, s.CreateAgent(ctx, &store.Agent{Username: "bob", PasswordHash: "x"}))

	registry := presence.NewRegistry(nil)
	router := NewRouter(s, registry, nil)
	origin := newHandle("user-conn")

	res, err := router.Send(ctx, origin, SendRequest{
		SenderClass: store.ClassUser, Sender: "alice", Receiver: "bob", Content: "  anyone there?  ",
	})
	require.NoError(t, err)
	assert.False(t, res.Delivered)
	assert.Equal(t, "anyone there?", res.Message.Content)

	entries, err := NewAssembler(s, nil).BuildInbox(ctx, "bob")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "alice", entries[0].Username)
	assert.Equal(t, "anyone there?", entries[0].LastMessage)
}
