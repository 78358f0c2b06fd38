package pubsub

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChannelToTopicAndKey(t *testing.T) {
	topic, key, err := channelToTopicAndKey(RoomEventsChannel("abc123"))
	require.NoError(t, err)
	assert.Equal(t, "coordinator-events", topic)
	assert.Equal(t, "abc123", key)

	for _, bad := range []string{"", "coordinator:room::events", "coordinator:user:abc:events", "a:b"} {
		_, _, err := channelToTopicAndKey(bad)
		assert.Error(t, err, bad)
	}
}

func TestNewEvent(t *testing.T) {
	e, err := NewEvent(EventLiveStarted, "r1", LivePayload{SessionID: "s1", HLSUrl: "/hls/r1/stream.m3u8"})
	require.NoError(t, err)
	assert.Equal(t, EventLiveStarted, e.Type)
	assert.Equal(t, "r1", e.RoomID)
	assert.False(t, e.Timestamp.IsZero())

	var p LivePayload
	require.NoError(t, e.UnmarshalPayload(&p))
	assert.Equal(t, "s1", p.SessionID)

	e, err = NewEvent(EventRoomRemoved, "r1", nil)
	require.NoError(t, err)
	assert.Nil(t, e.Payload)
}

func TestNewPublisher(t *testing.T) {
	p, err := NewPublisher(Config{})
	require.NoError(t, err)
	assert.IsType(t, NopPublisher{}, p)

	_, err = NewPublisher(Config{Driver: "carrier-pigeon"})
	assert.Error(t, err)
}
