// Package engine is the boundary to the media engine. A single worker owns a
// configured pion API; each room gets a router, and routers mint the
// transports, producers and consumers that peer sessions hold.
package engine

import (
	"context"
	"errors"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
)

// MediaKind is "audio" or "video".
type MediaKind string

const (
	KindAudio MediaKind = "audio"
	KindVideo MediaKind = "video"
)

var (
	ErrWorkerUnavailable = errors.New("engine: worker unavailable")
	ErrClosed            = errors.New("engine: handle closed")
	ErrForeignProducer   = errors.New("engine: producer not created by this engine")
)

// Router is scoped to one room and creates transports for its peers.
type Router interface {
	ID() string
	RoomID() string
	CreateTransport(ctx context.Context, peerID string) (Transport, error)
	Close() error
	Closed() bool
}

// Transport is one server-side WebRTC connection owned by a peer. Closing it
// closes every producer and consumer riding on it.
type Transport interface {
	ID() string
	PeerID() string
	// Connect applies a remote offer and returns the local answer.
	Connect(ctx context.Context, offer webrtc.SessionDescription) (webrtc.SessionDescription, error)
	AddICECandidate(candidate webrtc.ICECandidateInit) error
	// Consume attaches p to this transport and returns the renegotiation offer.
	Consume(ctx context.Context, p Producer) (Consumer, webrtc.SessionDescription, error)
	SetRemoteAnswer(answer webrtc.SessionDescription) error
	OnProducer(func(Producer))
	OnICECandidate(func(webrtc.ICECandidateInit))
	Close() error
	Closed() bool
}

// Producer is an inbound media track.
type Producer interface {
	ID() string
	TransportID() string
	Kind() MediaKind
	Codec() webrtc.RTPCodecCapability
	// Subscribe returns a copy of every packet received after the call. Slow
	// subscribers drop packets. The returned func unsubscribes.
	Subscribe(buffer int) (<-chan *rtp.Packet, func())
	Close() error
	Closed() bool
}

// Consumer is a producer forwarded onto another peer's transport.
type Consumer interface {
	ID() string
	ProducerID() string
	TransportID() string
	Close() error
	Closed() bool
}
