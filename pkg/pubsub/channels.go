package pubsub

import (
	"fmt"
	"strings"
)

// ChannelRoomEvents is the per-room lifecycle channel.
const ChannelRoomEvents = "coordinator:room:%s:events"

// Room lifecycle event types.
const (
	EventRoomCreated = "room_created"
	EventRoomRemoved = "room_removed"
	EventLiveStarted = "live_started"
	EventLiveReady   = "live_ready"
	EventLiveStopped = "live_stopped"
	EventLiveFailed  = "live_failed"
)

// RoomEventsChannel returns the channel name for a room's lifecycle events.
func RoomEventsChannel(roomID string) string {
	return fmt.Sprintf(ChannelRoomEvents, roomID)
}

// channelToTopicAndKey maps a channel onto a Kafka topic and message key.
//
//	"coordinator:room:abc123:events" → topic "coordinator-events", key "abc123"
func channelToTopicAndKey(channel string) (topic, key string, err error) {
	parts := strings.Split(channel, ":")
	if len(parts) != 4 || parts[1] != "room" || parts[2] == "" {
		return "", "", fmt.Errorf("invalid channel format: %s", channel)
	}
	return parts[0] + "-" + parts[3], parts[2], nil
}

// RoomPayload accompanies room_created and room_removed.
type RoomPayload struct {
	JoinCode  string `json:"join_code"`
	WatchCode string `json:"watch_code"`
	CreatorID string `json:"creator_id,omitempty"`
}

// LivePayload accompanies the live_* events.
type LivePayload struct {
	SessionID string `json:"session_id"`
	HLSUrl    string `json:"hls_url,omitempty"`
	Reason    string `json:"reason,omitempty"`
}
