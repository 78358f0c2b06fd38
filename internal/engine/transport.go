package engine

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
	pkglog "github.com/weiawesome/wes-io-live/coordinator/pkg/log"
)

type transport struct {
	id     string
	peerID string
	router *router
	pc     *webrtc.PeerConnection

	mu         sync.Mutex
	producers  map[string]*producer
	consumers  map[string]*consumer
	onProducer func(Producer)
	onICE      func(webrtc.ICECandidateInit)

	// negotiation serializes offer/answer exchanges on pc.
	negotiation sync.Mutex

	closeOnce sync.Once
	closed    atomic.Bool
}

func newTransport(id, peerID string, r *router, pc *webrtc.PeerConnection) *transport {
	t := &transport{
		id:        id,
		peerID:    peerID,
		router:    r,
		pc:        pc,
		producers: make(map[string]*producer),
		consumers: make(map[string]*consumer),
	}

	pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		t.handleTrack(track)
	})

	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return
		}
		t.mu.Lock()
		cb := t.onICE
		t.mu.Unlock()
		if cb != nil {
			cb(c.ToJSON())
		}
	})

	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		l := pkglog.L()
		l.Debug().Str(pkglog.FieldTransportID, t.id).Str(pkglog.FieldState, state.String()).Msg("transport state changed")
		if state == webrtc.PeerConnectionStateFailed {
			go t.Close()
		}
	})

	return t
}

func (t *transport) ID() string     { return t.id }
func (t *transport) PeerID() string { return t.peerID }
func (t *transport) Closed() bool   { return t.closed.Load() }

func (t *transport) OnProducer(fn func(Producer)) {
	t.mu.Lock()
	t.onProducer = fn
	t.mu.Unlock()
}

func (t *transport) OnICECandidate(fn func(webrtc.ICECandidateInit)) {
	t.mu.Lock()
	t.onICE = fn
	t.mu.Unlock()
}

func (t *transport) Connect(ctx context.Context, offer webrtc.SessionDescription) (webrtc.SessionDescription, error) {
	if t.Closed() {
		return webrtc.SessionDescription{}, fmt.Errorf("%w: transport %s", ErrClosed, t.id)
	}

	t.negotiation.Lock()
	defer t.negotiation.Unlock()

	if err := t.pc.SetRemoteDescription(offer); err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("failed to set remote description: %w", err)
	}

	answer, err := t.pc.CreateAnswer(nil)
	if err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("failed to create answer: %w", err)
	}

	return t.setLocalAndGather(ctx, answer)
}

func (t *transport) AddICECandidate(candidate webrtc.ICECandidateInit) error {
	if t.Closed() {
		return fmt.Errorf("%w: transport %s", ErrClosed, t.id)
	}
	return t.pc.AddICECandidate(candidate)
}

func (t *transport) Consume(ctx context.Context, p Producer) (Consumer, webrtc.SessionDescription, error) {
	src, ok := p.(*producer)
	if !ok {
		return nil, webrtc.SessionDescription{}, ErrForeignProducer
	}
	if t.Closed() {
		return nil, webrtc.SessionDescription{}, fmt.Errorf("%w: transport %s", ErrClosed, t.id)
	}
	if src.Closed() {
		return nil, webrtc.SessionDescription{}, fmt.Errorf("%w: producer %s", ErrClosed, src.id)
	}

	t.negotiation.Lock()
	defer t.negotiation.Unlock()

	sender, err := t.pc.AddTrack(src.local)
	if err != nil {
		return nil, webrtc.SessionDescription{}, fmt.Errorf("failed to add track: %w", err)
	}

	// Drain RTCP so interceptors keep running.
	go func() {
		buf := make([]byte, 1500)
		for {
			if _, _, err := sender.Read(buf); err != nil {
				return
			}
		}
	}()

	c := &consumer{
		id:        uuid.New().String(),
		producer:  src,
		transport: t,
		sender:    sender,
	}

	offer, err := t.pc.CreateOffer(nil)
	if err != nil {
		t.pc.RemoveTrack(sender)
		return nil, webrtc.SessionDescription{}, fmt.Errorf("failed to create offer: %w", err)
	}
	local, err := t.setLocalAndGather(ctx, offer)
	if err != nil {
		t.pc.RemoveTrack(sender)
		return nil, webrtc.SessionDescription{}, err
	}

	t.mu.Lock()
	t.consumers[c.id] = c
	t.mu.Unlock()
	src.addConsumer(c)

	return c, local, nil
}

func (t *transport) SetRemoteAnswer(answer webrtc.SessionDescription) error {
	if t.Closed() {
		return fmt.Errorf("%w: transport %s", ErrClosed, t.id)
	}

	t.negotiation.Lock()
	defer t.negotiation.Unlock()

	if err := t.pc.SetRemoteDescription(answer); err != nil {
		return fmt.Errorf("failed to set remote answer: %w", err)
	}
	return nil
}

// setLocalAndGather applies desc and waits for ICE gathering so the returned
// description carries candidates.
func (t *transport) setLocalAndGather(ctx context.Context, desc webrtc.SessionDescription) (webrtc.SessionDescription, error) {
	gatherComplete := webrtc.GatheringCompletePromise(t.pc)

	if err := t.pc.SetLocalDescription(desc); err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("failed to set local description: %w", err)
	}

	select {
	case <-gatherComplete:
	case <-ctx.Done():
		return webrtc.SessionDescription{}, ctx.Err()
	}

	return *t.pc.LocalDescription(), nil
}

func (t *transport) handleTrack(track *webrtc.TrackRemote) {
	if t.Closed() {
		return
	}

	p, err := newProducer(t, track)
	if err != nil {
		l := pkglog.L()
		l.Error().Err(err).Str(pkglog.FieldTransportID, t.id).Msg("failed to create producer")
		return
	}

	t.mu.Lock()
	if t.closed.Load() {
		t.mu.Unlock()
		return
	}
	t.producers[p.id] = p
	cb := t.onProducer
	t.mu.Unlock()

	go p.forward()

	l := pkglog.L()
	l.Info().
		Str(pkglog.FieldTransportID, t.id).
		Str(pkglog.FieldProducerID, p.id).
		Str("kind", string(p.kind)).
		Str("codec", track.Codec().MimeType).
		Msg("producer created")

	if cb != nil {
		cb(p)
	}
}

// Close closes the producers and consumers on the transport, then the peer
// connection itself.
func (t *transport) Close() error {
	var err error
	t.closeOnce.Do(func() {
		t.closed.Store(true)

		t.mu.Lock()
		producers := make([]*producer, 0, len(t.producers))
		for _, p := range t.producers {
			producers = append(producers, p)
		}
		consumers := make([]*consumer, 0, len(t.consumers))
		for _, c := range t.consumers {
			consumers = append(consumers, c)
		}
		t.mu.Unlock()

		for _, c := range consumers {
			c.Close()
		}
		for _, p := range producers {
			p.Close()
		}

		err = t.pc.Close()
		t.router.removeTransport(t.id)
	})
	return err
}

func (t *transport) removeProducer(id string) {
	t.mu.Lock()
	delete(t.producers, id)
	t.mu.Unlock()
}

func (t *transport) removeConsumer(id string) {
	t.mu.Lock()
	delete(t.consumers, id)
	t.mu.Unlock()
}
