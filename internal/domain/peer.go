package domain

import (
	"sync"
	"time"

	"github.com/weiawesome/wes-io-live/coordinator/internal/engine"
)

// Messenger delivers an outbound message to one connection.
type Messenger interface {
	SendMessage(message any) error
}

// Peer is one participant of a room and the owner of the media handles
// created on its behalf.
type Peer struct {
	ID       string
	Name     string
	JoinedAt time.Time

	messenger Messenger
	session   *Session

	// release serializes handle teardown so every handle is closed at most
	// once. mu guards the maps and is never held while a handle closes.
	release    sync.Mutex
	mu         sync.RWMutex
	transports map[string]engine.Transport
	producers  map[string]engine.Producer
	consumers  map[string]engine.Consumer
	closed     bool
}

func NewPeer(id, name string, messenger Messenger) *Peer {
	return &Peer{
		ID:         id,
		Name:       name,
		JoinedAt:   time.Now(),
		messenger:  messenger,
		transports: make(map[string]engine.Transport),
		producers:  make(map[string]engine.Producer),
		consumers:  make(map[string]engine.Consumer),
	}
}

// Send delivers a message to the peer's connection.
func (p *Peer) Send(message any) error {
	if p.messenger == nil {
		return ErrPeerClosed
	}
	return p.messenger.SendMessage(message)
}

// BindSession ties the peer to its connection's session so tearing the
// room down returns the connection to Connected.
func (p *Peer) BindSession(s *Session) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.session = s
}

// Evict closes the peer on behalf of a room that is going away and releases
// the bound session from roomID.
func (p *Peer) Evict(roomID string) {
	p.Close()
	p.mu.RLock()
	s := p.session
	p.mu.RUnlock()
	if s != nil {
		s.ReleaseRoom(roomID)
	}
}

// AddTransport records a transport. A closed peer rejects it and the caller
// keeps ownership.
func (p *Peer) AddTransport(t engine.Transport) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrPeerClosed
	}
	p.transports[t.ID()] = t
	return nil
}

func (p *Peer) GetTransport(id string) (engine.Transport, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	t, ok := p.transports[id]
	return t, ok
}

// handle is what the peer needs to release a media resource.
type handle interface {
	Closed() bool
	Close() error
}

// removeHandle closes the handle stored under id while it is still owned,
// then deletes the entry.
func removeHandle[H handle](p *Peer, m map[string]H, id string) bool {
	p.release.Lock()
	defer p.release.Unlock()

	p.mu.RLock()
	h, ok := m[id]
	p.mu.RUnlock()
	if !ok {
		return false
	}
	if !h.Closed() {
		h.Close()
	}

	p.mu.Lock()
	delete(m, id)
	p.mu.Unlock()
	return true
}

// RemoveTransport closes and forgets a transport.
func (p *Peer) RemoveTransport(id string) bool {
	return removeHandle(p, p.transports, id)
}

func (p *Peer) AddProducer(pr engine.Producer) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrPeerClosed
	}
	p.producers[pr.ID()] = pr
	return nil
}

func (p *Peer) GetProducer(id string) (engine.Producer, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	pr, ok := p.producers[id]
	return pr, ok
}

func (p *Peer) RemoveProducer(id string) bool {
	return removeHandle(p, p.producers, id)
}

// Producers lists the peer's open producers of the given kind.
func (p *Peer) Producers(kind engine.MediaKind) []engine.Producer {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]engine.Producer, 0, len(p.producers))
	for _, pr := range p.producers {
		if pr.Kind() == kind && !pr.Closed() {
			out = append(out, pr)
		}
	}
	return out
}

func (p *Peer) AddConsumer(c engine.Consumer) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrPeerClosed
	}
	p.consumers[c.ID()] = c
	return nil
}

func (p *Peer) GetConsumer(id string) (engine.Consumer, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	c, ok := p.consumers[id]
	return c, ok
}

func (p *Peer) RemoveConsumer(id string) bool {
	return removeHandle(p, p.consumers, id)
}

// Counts returns the number of transports, producers and consumers held.
func (p *Peer) Counts() (transports, producers, consumers int) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.transports), len(p.producers), len(p.consumers)
}

func (p *Peer) Closed() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.closed
}

// Close releases every media handle the peer owns. Transports go first so
// the engine can cascade; producers and consumers the cascade already closed
// are skipped. The maps are emptied once every handle is closed. Only the
// first call does any work.
func (p *Peer) Close() {
	p.release.Lock()
	defer p.release.Unlock()

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	transports := mapValues(p.transports)
	producers := mapValues(p.producers)
	consumers := mapValues(p.consumers)
	p.mu.Unlock()

	for _, t := range transports {
		if !t.Closed() {
			t.Close()
		}
	}
	for _, pr := range producers {
		if !pr.Closed() {
			pr.Close()
		}
	}
	for _, c := range consumers {
		if !c.Closed() {
			c.Close()
		}
	}

	p.mu.Lock()
	clear(p.transports)
	clear(p.producers)
	clear(p.consumers)
	p.mu.Unlock()
}

func mapValues[H any](m map[string]H) []H {
	out := make([]H, 0, len(m))
	for _, h := range m {
		out = append(out, h)
	}
	return out
}
