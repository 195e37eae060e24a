// ABOUTME: Tests for the redis backplane wire format
// ABOUTME: Exercises encode/decode and origin filtering without a redis server

package presence

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/supportdesk/internal/store"
)

func TestWireEvent_RoundTripFromOtherInstance(t *testing.T) {
	data, err := encodeWireEvent("instance-a", store.ClassUser, agentOnline("bob"))
	require.NoError(t, err)

	ev, err := decodeWireEvent(string(data), "instance-b")
	require.NoError(t, err)
	require.NotNil(t, ev)
	assert.Equal(t, store.ClassUser, ev.Topic)
	assert.Equal(t, "bob", ev.Event.Identity)
	assert.True(t, ev.Event.IsOnline)
}

func TestWireEvent_OwnEventsAreSkipped(t *testing.T) {
	data, err := encodeWireEvent("instance-a", store.ClassUser, agentOnline("bob"))
	require.NoError(t, err)

	ev, err := decodeWireEvent(string(data), "instance-a")
	require.NoError(t, err)
	assert.Nil(t, ev)
}

func TestWireEvent_Malformed(t *testing.T) {
	_, err := decodeWireEvent("not json", "x")
	assert.Error(t, err)

	_, err = decodeWireEvent(`{"origin":"a","topic":"robot","event":{}}`, "x")
	assert.Error(t, err)
}
