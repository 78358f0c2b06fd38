package engine

import (
	"errors"
	"io"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
)

type producer struct {
	id        string
	transport *transport
	kind      MediaKind
	remote    *webrtc.TrackRemote
	local     *webrtc.TrackLocalStaticRTP

	mu        sync.Mutex
	subs      map[int]chan *rtp.Packet
	nextSub   int
	consumers map[string]*consumer

	done      chan struct{}
	closeOnce sync.Once
	closed    atomic.Bool
}

func newProducer(t *transport, track *webrtc.TrackRemote) (*producer, error) {
	id := uuid.New().String()
	local, err := webrtc.NewTrackLocalStaticRTP(track.Codec().RTPCodecCapability, id, t.peerID)
	if err != nil {
		return nil, err
	}

	kind := KindVideo
	if track.Kind() == webrtc.RTPCodecTypeAudio {
		kind = KindAudio
	}

	return &producer{
		id:        id,
		transport: t,
		kind:      kind,
		remote:    track,
		local:     local,
		subs:      make(map[int]chan *rtp.Packet),
		consumers: make(map[string]*consumer),
		done:      make(chan struct{}),
	}, nil
}

func (p *producer) ID() string                       { return p.id }
func (p *producer) TransportID() string              { return p.transport.id }
func (p *producer) Kind() MediaKind                  { return p.kind }
func (p *producer) Codec() webrtc.RTPCodecCapability { return p.remote.Codec().RTPCodecCapability }
func (p *producer) Closed() bool                     { return p.closed.Load() }

func (p *producer) Subscribe(buffer int) (<-chan *rtp.Packet, func()) {
	ch := make(chan *rtp.Packet, buffer)

	p.mu.Lock()
	if p.closed.Load() {
		p.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	key := p.nextSub
	p.nextSub++
	p.subs[key] = ch
	p.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			p.mu.Lock()
			if sub, ok := p.subs[key]; ok {
				delete(p.subs, key)
				close(sub)
			}
			p.mu.Unlock()
		})
	}
}

// forward reads the remote track until it ends or the producer is closed,
// writing to the local track for consumers and copying to subscribers.
func (p *producer) forward() {
	defer p.Close()

	for {
		pkt, _, err := p.remote.ReadRTP()
		if err != nil {
			return
		}

		select {
		case <-p.done:
			return
		default:
		}

		if err := p.local.WriteRTP(pkt); err != nil && !errors.Is(err, io.ErrClosedPipe) {
			return
		}

		p.mu.Lock()
		for _, sub := range p.subs {
			select {
			case sub <- pkt.Clone():
			default:
			}
		}
		p.mu.Unlock()
	}
}

func (p *producer) addConsumer(c *consumer) {
	p.mu.Lock()
	p.consumers[c.id] = c
	p.mu.Unlock()
}

func (p *producer) removeConsumer(id string) {
	p.mu.Lock()
	delete(p.consumers, id)
	p.mu.Unlock()
}

// Close ends every subscription and closes the consumers fed by this producer.
func (p *producer) Close() error {
	p.closeOnce.Do(func() {
		p.closed.Store(true)
		close(p.done)

		p.mu.Lock()
		for key, sub := range p.subs {
			delete(p.subs, key)
			close(sub)
		}
		consumers := make([]*consumer, 0, len(p.consumers))
		for _, c := range p.consumers {
			consumers = append(consumers, c)
		}
		p.mu.Unlock()

		for _, c := range consumers {
			c.Close()
		}
		p.transport.removeProducer(p.id)
	})
	return nil
}

type consumer struct {
	id        string
	producer  *producer
	transport *transport
	sender    *webrtc.RTPSender

	closeOnce sync.Once
	closed    atomic.Bool
}

func (c *consumer) ID() string          { return c.id }
func (c *consumer) ProducerID() string  { return c.producer.id }
func (c *consumer) TransportID() string { return c.transport.id }
func (c *consumer) Closed() bool        { return c.closed.Load() }

// Close detaches the sender from the consuming transport.
func (c *consumer) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		if !c.transport.Closed() {
			err = c.transport.pc.RemoveTrack(c.sender)
		}
		c.transport.removeConsumer(c.id)
		c.producer.removeConsumer(c.id)
	})
	return err
}
