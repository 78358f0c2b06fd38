package engine

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
	pkglog "github.com/weiawesome/wes-io-live/coordinator/pkg/log"
)

type router struct {
	id     string
	roomID string
	worker *Worker

	mu         sync.Mutex
	transports map[string]*transport
	closed     bool
}

func (r *router) ID() string     { return r.id }
func (r *router) RoomID() string { return r.roomID }

func (r *router) Closed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

func (r *router) CreateTransport(ctx context.Context, peerID string) (Transport, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil, fmt.Errorf("%w: router %s", ErrClosed, r.id)
	}

	pc, err := r.worker.api.NewPeerConnection(webrtc.Configuration{
		ICEServers: r.worker.iceServers,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create peer connection: %w", err)
	}

	t := newTransport(uuid.New().String(), peerID, r, pc)
	r.transports[t.id] = t

	l := pkglog.L()
	l.Debug().
		Str(pkglog.FieldRouterID, r.id).
		Str(pkglog.FieldRoomID, r.roomID).
		Str(pkglog.FieldTransportID, t.id).
		Str(pkglog.FieldPeerID, peerID).
		Msg("transport created")
	return t, nil
}

// Close closes every transport on the router.
func (r *router) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	transports := make([]*transport, 0, len(r.transports))
	for _, t := range r.transports {
		transports = append(transports, t)
	}
	r.mu.Unlock()

	for _, t := range transports {
		t.Close()
	}
	r.worker.removeRouter(r.id)
	return nil
}

func (r *router) removeTransport(id string) {
	r.mu.Lock()
	delete(r.transports, id)
	r.mu.Unlock()
}
