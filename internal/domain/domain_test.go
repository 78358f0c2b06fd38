package domain

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weiawesome/wes-io-live/coordinator/internal/engine"
)

type recorder struct {
	mu   sync.Mutex
	msgs []any
	err  error
}

func (r *recorder) SendMessage(message any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.msgs = append(r.msgs, message)
	return nil
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.msgs)
}

type fakeTransport struct {
	engine.Transport
	id        string
	closes    atomic.Int32
	producers []*fakeProducer
	onClose   func()
}

func (t *fakeTransport) ID() string   { return t.id }
func (t *fakeTransport) Closed() bool { return t.closes.Load() > 0 }
func (t *fakeTransport) Close() error {
	if t.onClose != nil {
		t.onClose()
	}
	t.closes.Add(1)
	for _, p := range t.producers {
		p.Close()
	}
	return nil
}

type fakeProducer struct {
	engine.Producer
	id     string
	kind    engine.MediaKind
	closes  atomic.Int32
	onClose func()
}

func (p *fakeProducer) ID() string             { return p.id }
func (p *fakeProducer) Kind() engine.MediaKind { return p.kind }
func (p *fakeProducer) Closed() bool           { return p.closes.Load() > 0 }
func (p *fakeProducer) Close() error {
	if p.onClose != nil {
		p.onClose()
	}
	p.closes.Add(1)
	return nil
}

type fakeConsumer struct {
	engine.Consumer
	id      string
	closes  atomic.Int32
	onClose func()
}

func (c *fakeConsumer) ID() string   { return c.id }
func (c *fakeConsumer) Closed() bool { return c.closes.Load() > 0 }
func (c *fakeConsumer) Close() error {
	if c.onClose != nil {
		c.onClose()
	}
	c.closes.Add(1)
	return nil
}

func TestPeerCloseIsIdempotent(t *testing.T) {
	owned := &fakeProducer{id: "p1", kind: engine.KindVideo}
	tr := &fakeTransport{id: "t1", producers: []*fakeProducer{owned}}
	loose := &fakeProducer{id: "p2", kind: engine.KindAudio}
	cons := &fakeConsumer{id: "c1"}

	p := NewPeer("a", "", &recorder{})
	require.NoError(t, p.AddTransport(tr))
	require.NoError(t, p.AddProducer(owned))
	require.NoError(t, p.AddProducer(loose))
	require.NoError(t, p.AddConsumer(cons))

	p.Close()
	p.Close()

	assert.Equal(t, int32(1), tr.closes.Load())
	assert.Equal(t, int32(1), owned.closes.Load())
	assert.Equal(t, int32(1), loose.closes.Load())
	assert.Equal(t, int32(1), cons.closes.Load())

	nt, np, nc := p.Counts()
	assert.Zero(t, nt)
	assert.Zero(t, np)
	assert.Zero(t, nc)
	assert.True(t, p.Closed())

	assert.ErrorIs(t, p.AddTransport(&fakeTransport{id: "t2"}), ErrPeerClosed)
}

func TestPeerConcurrentCloseClosesOnce(t *testing.T) {
	tr := &fakeTransport{id: "t1"}
	p := NewPeer("a", "", &recorder{})
	require.NoError(t, p.AddTransport(tr))

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.Close()
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), tr.closes.Load())
}

func TestPeerRemoveClosesHandle(t *testing.T) {
	p := NewPeer("a", "", &recorder{})
	pr := &fakeProducer{id: "p1", kind: engine.KindVideo}
	require.NoError(t, p.AddProducer(pr))

	assert.Len(t, p.Producers(engine.KindVideo), 1)
	assert.Empty(t, p.Producers(engine.KindAudio))

	assert.True(t, p.RemoveProducer("p1"))
	assert.False(t, p.RemoveProducer("p1"))
	assert.Equal(t, int32(1), pr.closes.Load())

	_, ok := p.GetProducer("p1")
	assert.False(t, ok)
}

func TestPeerRemoveClosesBeforeForgetting(t *testing.T) {
	p := NewPeer("a", "", &recorder{})

	tr := &fakeTransport{id: "t1"}
	tr.onClose = func() {
		_, held := p.GetTransport("t1")
		assert.True(t, held, "transport forgotten before it was closed")
	}
	pr := &fakeProducer{id: "p1", kind: engine.KindVideo}
	pr.onClose = func() {
		_, held := p.GetProducer("p1")
		assert.True(t, held, "producer forgotten before it was closed")
	}
	cons := &fakeConsumer{id: "c1"}
	cons.onClose = func() {
		_, held := p.GetConsumer("c1")
		assert.True(t, held, "consumer forgotten before it was closed")
	}
	require.NoError(t, p.AddTransport(tr))
	require.NoError(t, p.AddProducer(pr))
	require.NoError(t, p.AddConsumer(cons))

	assert.True(t, p.RemoveTransport("t1"))
	assert.True(t, p.RemoveProducer("p1"))
	assert.True(t, p.RemoveConsumer("c1"))

	assert.Equal(t, int32(1), tr.closes.Load())
	assert.Equal(t, int32(1), pr.closes.Load())
	assert.Equal(t, int32(1), cons.closes.Load())
	nt, np, nc := p.Counts()
	assert.Zero(t, nt)
	assert.Zero(t, np)
	assert.Zero(t, nc)
}

func TestPeerCloseKeepsHandlesUntilClosed(t *testing.T) {
	p := NewPeer("a", "", &recorder{})
	tr := &fakeTransport{id: "t1"}
	tr.onClose = func() {
		_, held := p.GetTransport("t1")
		assert.True(t, held)
	}
	require.NoError(t, p.AddTransport(tr))

	p.Close()

	assert.Equal(t, int32(1), tr.closes.Load())
	_, held := p.GetTransport("t1")
	assert.False(t, held)
}

func TestPeerSkipsHandlesAlreadyClosed(t *testing.T) {
	// The engine closes a failed transport and its producers on its own.
	owned := &fakeProducer{id: "p1", kind: engine.KindVideo}
	tr := &fakeTransport{id: "t1", producers: []*fakeProducer{owned}}
	cons := &fakeConsumer{id: "c1"}

	p := NewPeer("a", "", &recorder{})
	require.NoError(t, p.AddTransport(tr))
	require.NoError(t, p.AddProducer(owned))
	require.NoError(t, p.AddConsumer(cons))

	tr.Close()
	cons.Close()

	assert.True(t, p.RemoveProducer("p1"))
	assert.True(t, p.RemoveConsumer("c1"))
	p.Close()

	assert.Equal(t, int32(1), tr.closes.Load())
	assert.Equal(t, int32(1), owned.closes.Load())
	assert.Equal(t, int32(1), cons.closes.Load())
}

func TestPeerConcurrentRemoveAndCloseClosesOnce(t *testing.T) {
	for i := 0; i < 50; i++ {
		tr := &fakeTransport{id: "t1"}
		p := NewPeer("a", "", &recorder{})
		require.NoError(t, p.AddTransport(tr))

		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			p.RemoveTransport("t1")
		}()
		go func() {
			defer wg.Done()
			p.Close()
		}()
		wg.Wait()

		assert.Equal(t, int32(1), tr.closes.Load())
	}
}

func TestRoomMembership(t *testing.T) {
	r := NewRoom("abc123", "ABC123", "WATCHXYZ", "a", nil)
	assert.True(t, r.IsEmpty())
	assert.True(t, r.IsCreator("a"))
	assert.False(t, r.IsCreator("b"))
	assert.False(t, r.IsCreator(""))

	require.NoError(t, r.AddPeer(NewPeer("a", "", &recorder{})))
	require.NoError(t, r.AddPeer(NewPeer("b", "", &recorder{})))
	assert.ErrorIs(t, r.AddPeer(NewPeer("b", "", &recorder{})), ErrDuplicatePeer)

	assert.Equal(t, []string{"a", "b"}, r.PeerIDs())
	assert.Equal(t, time.Duration(0), r.EmptyFor(time.Now()))

	_, ok := r.RemovePeer("a")
	assert.True(t, ok)
	_, ok = r.RemovePeer("a")
	assert.False(t, ok)
	_, ok = r.RemovePeer("b")
	assert.True(t, ok)

	assert.True(t, r.IsEmpty())
	assert.Greater(t, r.EmptyFor(time.Now().Add(time.Second)), time.Duration(0))

	assert.True(t, r.MarkClosed())
	assert.False(t, r.MarkClosed())
	assert.ErrorIs(t, r.AddPeer(NewPeer("c", "", &recorder{})), ErrRoomClosed)
}

func TestRoomBroadcastSkipsSenderAndSurvivesFailures(t *testing.T) {
	r := NewRoom("abc123", "ABC123", "WATCHXYZ", "a", nil)
	a, b, c := &recorder{}, &recorder{err: errors.New("gone")}, &recorder{}
	require.NoError(t, r.AddPeer(NewPeer("a", "", a)))
	require.NoError(t, r.AddPeer(NewPeer("b", "", b)))
	require.NoError(t, r.AddPeer(NewPeer("c", "", c)))

	failed := r.Broadcast("a", &PeerEventMessage{Type: MsgTypeUserConnected, PeerID: "a"})

	assert.Equal(t, []string{"b"}, failed)
	assert.Equal(t, 0, a.count())
	assert.Equal(t, 1, c.count())
}

func TestRoomSnapshot(t *testing.T) {
	r := NewRoom("abc123", "ABC123", "WATCHXYZ", "a", nil)
	require.NoError(t, r.AddPeer(NewPeer("a", "", &recorder{})))
	r.UpdateDetails("  Title ", "desc")
	r.SetLive(true)

	s := r.Snapshot()
	assert.Equal(t, "abc123", s.ID)
	assert.Equal(t, "ABC123", s.JoinCode)
	assert.Equal(t, "WATCHXYZ", s.WatchCode)
	assert.Equal(t, "Title", s.Title)
	assert.Equal(t, "desc", s.Description)
	assert.True(t, s.IsLive)
	assert.Equal(t, 1, s.PeerCount)
	assert.Equal(t, []string{"a"}, s.Peers)
}

func TestRoomClosePeers(t *testing.T) {
	r := NewRoom("abc123", "ABC123", "WATCHXYZ", "a", nil)
	tr := &fakeTransport{id: "t1"}
	p := NewPeer("a", "", &recorder{})
	require.NoError(t, p.AddTransport(tr))
	require.NoError(t, r.AddPeer(p))

	closed := r.ClosePeers()
	assert.Len(t, closed, 1)
	assert.True(t, r.IsEmpty())
	assert.True(t, p.Closed())
	assert.Equal(t, int32(1), tr.closes.Load())
}

func TestSessionStateMachine(t *testing.T) {
	s := NewSession("a")
	assert.Equal(t, StateConnected, s.State())

	assert.True(t, s.Allows(MsgTypeJoinRoom))
	assert.True(t, s.Allows(MsgTypeJoinRoomByCode))
	assert.True(t, s.Allows(MsgTypeOffer))
	assert.True(t, s.Allows(MsgTypePing))
	assert.False(t, s.Allows(MsgTypeChatMessage))
	assert.False(t, s.Allows(MsgTypeGoLive))

	require.NoError(t, s.EnterRoom("room1"))
	assert.Equal(t, StateInRoom, s.State())
	assert.Equal(t, "room1", s.RoomID())
	assert.ErrorIs(t, s.EnterRoom("room2"), ErrAlreadyInRoom)

	assert.False(t, s.Allows(MsgTypeJoinRoom))
	assert.True(t, s.Allows(MsgTypeChatMessage))
	assert.True(t, s.Allows(MsgTypeICECandidate))

	assert.Equal(t, "room1", s.Disconnect())
	assert.Equal(t, "", s.Disconnect())
	assert.Equal(t, StateDisconnected, s.State())
	assert.ErrorIs(t, s.EnterRoom("room1"), ErrDisconnected)
	assert.False(t, s.Allows(MsgTypeOffer))
	assert.True(t, s.Allows(MsgTypePing))
}

func TestValidRoomID(t *testing.T) {
	assert.True(t, ValidRoomID("abc123"))
	assert.True(t, ValidRoomID("team-standup_2"))
	assert.False(t, ValidRoomID(""))
	assert.False(t, ValidRoomID(".."))
	assert.False(t, ValidRoomID("a/b"))
	assert.False(t, ValidRoomID("room id"))
}

func TestSession_UpdateActivity(t *testing.T) {
	s := NewSession("alice")
	before := s.LastActiveAt()
	time.Sleep(2 * time.Millisecond)
	s.UpdateActivity()
	assert.True(t, s.LastActiveAt().After(before))
}

func TestSession_ReleaseRoom(t *testing.T) {
	s := NewSession("alice")
	require.NoError(t, s.EnterRoom("abc123"))

	assert.False(t, s.ReleaseRoom("other"))
	assert.Equal(t, StateInRoom, s.State())

	assert.True(t, s.ReleaseRoom("abc123"))
	assert.Equal(t, StateConnected, s.State())
	assert.NoError(t, s.EnterRoom("def456"))

	s.Disconnect()
	assert.False(t, s.ReleaseRoom("def456"))
	assert.Equal(t, StateDisconnected, s.State())
}
