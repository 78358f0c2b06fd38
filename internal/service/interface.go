package service

import (
	"context"

	"github.com/weiawesome/wes-io-live/coordinator/internal/domain"
	"github.com/weiawesome/wes-io-live/coordinator/internal/hub"
	"github.com/weiawesome/wes-io-live/coordinator/internal/live"
)

// SignalService handles signaling operations.
type SignalService interface {
	// HandleConnect greets a freshly registered client with its peer id.
	HandleConnect(ctx context.Context, client *hub.Client) error

	// HandleJoinRoom joins a room by id, creating it when allowed.
	HandleJoinRoom(ctx context.Context, client *hub.Client, roomID string) error

	// HandleJoinRoomByCode joins the room owning a join code.
	HandleJoinRoomByCode(ctx context.Context, client *hub.Client, code string) error

	// HandleLeaveRoom leaves the current room. The connection stays open but
	// may not join again.
	HandleLeaveRoom(ctx context.Context, client *hub.Client) error

	// HandleRelay forwards an offer, answer or ICE candidate to its target.
	HandleRelay(ctx context.Context, client *hub.Client, msg *domain.SignalMessage) error

	// HandleChat broadcasts a chat line to the rest of the room.
	HandleChat(ctx context.Context, client *hub.Client, message string) error

	// HandleGoLive marks the room live and starts its pipeline.
	HandleGoLive(ctx context.Context, client *hub.Client, msg *domain.GoLiveMessage) error

	// HandleEndLive stops the room's pipeline.
	HandleEndLive(ctx context.Context, client *hub.Client, roomID string) error

	// HandleUpdateRoom edits the room's title and description.
	HandleUpdateRoom(ctx context.Context, client *hub.Client, msg *domain.UpdateRoomMessage) error

	// HandleCreateTransport allocates a media transport on the room's router.
	HandleCreateTransport(ctx context.Context, client *hub.Client) error

	// HandleConnectTransport answers the client's offer for a transport.
	HandleConnectTransport(ctx context.Context, client *hub.Client, msg *domain.ConnectTransportMessage) error

	// HandleTransportICECandidate adds a trickled candidate to a transport.
	HandleTransportICECandidate(ctx context.Context, client *hub.Client, msg *domain.TransportICECandidateMessage) error

	// HandleConsume subscribes one of the client's transports to a producer.
	HandleConsume(ctx context.Context, client *hub.Client, msg *domain.ConsumeMessage) error

	// HandleConsumerAnswer completes renegotiation after a consume.
	HandleConsumerAnswer(ctx context.Context, client *hub.Client, msg *domain.ConsumerAnswerMessage) error

	// HandleCloseProducer closes one of the client's producers.
	HandleCloseProducer(ctx context.Context, client *hub.Client, producerID string) error

	// HandleDisconnect releases everything the client held.
	HandleDisconnect(ctx context.Context, client *hub.Client) error

	// SweepEmptyRooms removes rooms left empty past the grace period.
	SweepEmptyRooms(ctx context.Context) int

	// Start starts background goroutines (the empty-room sweeper).
	Start(ctx context.Context) error

	// Stop stops background goroutines.
	Stop() error
}

// LiveController is the slice of the live orchestrator the signaling
// flows drive.
type LiveController interface {
	Start(ctx context.Context, req live.StartRequest) (*live.LiveSession, error)
	// StopSession stops the room's pipeline only if sessionID is still its
	// current run. Ids are captured under the room lock and the stop runs
	// after it is released.
	StopSession(ctx context.Context, roomID, sessionID string) error
	CurrentSession(roomID string) string
	IsActive(roomID string) bool
	URL(roomID string) string
}

var _ LiveController = (*live.Orchestrator)(nil)
