package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weiawesome/wes-io-live/coordinator/internal/codegen"
	"github.com/weiawesome/wes-io-live/coordinator/internal/config"
	"github.com/weiawesome/wes-io-live/coordinator/internal/domain"
	"github.com/weiawesome/wes-io-live/coordinator/internal/engine"
	"github.com/weiawesome/wes-io-live/coordinator/internal/hub"
	"github.com/weiawesome/wes-io-live/coordinator/internal/live"
	"github.com/weiawesome/wes-io-live/coordinator/internal/registry"
)

// Engine fakes

type fakeProducer struct {
	id, transportID string
	kind            engine.MediaKind
	closed          atomic.Bool
}

func (p *fakeProducer) ID() string                       { return p.id }
func (p *fakeProducer) TransportID() string              { return p.transportID }
func (p *fakeProducer) Kind() engine.MediaKind           { return p.kind }
func (p *fakeProducer) Codec() webrtc.RTPCodecCapability { return webrtc.RTPCodecCapability{} }
func (p *fakeProducer) Subscribe(int) (<-chan *rtp.Packet, func()) {
	ch := make(chan *rtp.Packet)
	close(ch)
	return ch, func() {}
}
func (p *fakeProducer) Close() error { p.closed.Store(true); return nil }
func (p *fakeProducer) Closed() bool { return p.closed.Load() }

type fakeConsumer struct {
	id, producerID, transportID string
	closed                      atomic.Bool
}

func (c *fakeConsumer) ID() string          { return c.id }
func (c *fakeConsumer) ProducerID() string  { return c.producerID }
func (c *fakeConsumer) TransportID() string { return c.transportID }
func (c *fakeConsumer) Close() error        { c.closed.Store(true); return nil }
func (c *fakeConsumer) Closed() bool        { return c.closed.Load() }

type fakeTransport struct {
	id, peerID string
	closed     atomic.Bool

	mu         sync.Mutex
	onProducer func(engine.Producer)
}

func (t *fakeTransport) ID() string     { return t.id }
func (t *fakeTransport) PeerID() string { return t.peerID }
func (t *fakeTransport) Connect(_ context.Context, offer webrtc.SessionDescription) (webrtc.SessionDescription, error) {
	return webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "answer-for-" + t.id}, nil
}
func (t *fakeTransport) AddICECandidate(webrtc.ICECandidateInit) error { return nil }
func (t *fakeTransport) Consume(_ context.Context, p engine.Producer) (engine.Consumer, webrtc.SessionDescription, error) {
	if p.Closed() {
		return nil, webrtc.SessionDescription{}, engine.ErrClosed
	}
	c := &fakeConsumer{id: "c-" + p.ID(), producerID: p.ID(), transportID: t.id}
	return c, webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "offer"}, nil
}
func (t *fakeTransport) SetRemoteAnswer(webrtc.SessionDescription) error { return nil }
func (t *fakeTransport) OnProducer(f func(engine.Producer)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onProducer = f
}
func (t *fakeTransport) OnICECandidate(func(webrtc.ICECandidateInit)) {}
func (t *fakeTransport) Close() error                                  { t.closed.Store(true); return nil }
func (t *fakeTransport) Closed() bool                                  { return t.closed.Load() }

// publish simulates a track arriving on the transport.
func (t *fakeTransport) publish(p engine.Producer) {
	t.mu.Lock()
	f := t.onProducer
	t.mu.Unlock()
	f(p)
}

type fakeRouter struct {
	roomID string
	closed atomic.Bool

	mu         sync.Mutex
	transports []*fakeTransport
}

func (r *fakeRouter) ID() string     { return "router-" + r.roomID }
func (r *fakeRouter) RoomID() string { return r.roomID }
func (r *fakeRouter) CreateTransport(_ context.Context, peerID string) (engine.Transport, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t := &fakeTransport{id: fmt.Sprintf("t-%s-%d", peerID, len(r.transports)), peerID: peerID}
	r.transports = append(r.transports, t)
	return t, nil
}
func (r *fakeRouter) Close() error { r.closed.Store(true); return nil }
func (r *fakeRouter) Closed() bool { return r.closed.Load() }

type fakeRouters struct {
	mu      sync.Mutex
	routers map[string]*fakeRouter
}

func (f *fakeRouters) CreateRouterForRoom(_ context.Context, roomID string) (engine.Router, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r := &fakeRouter{roomID: roomID}
	f.routers[roomID] = r
	return r, nil
}

func (f *fakeRouters) get(roomID string) *fakeRouter {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.routers[roomID]
}

// Live fake

type fakeLive struct {
	mu       sync.Mutex
	seq      int
	active   map[string]string // room id -> session id
	starts   []live.StartRequest
	stops    []string
	startErr error
	// beforeStop runs once, at the start of the next StopSession.
	beforeStop func()
}

func newFakeLive() *fakeLive {
	return &fakeLive{active: make(map[string]string)}
}

func (f *fakeLive) Start(_ context.Context, req live.StartRequest) (*live.LiveSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.startErr != nil {
		return nil, f.startErr
	}
	f.seq++
	sid := fmt.Sprintf("session-%d", f.seq)
	f.starts = append(f.starts, req)
	f.active[req.RoomID] = sid
	return &live.LiveSession{RoomID: req.RoomID, SessionID: sid, State: live.SessionStarting}, nil
}

func (f *fakeLive) StopSession(_ context.Context, roomID, sessionID string) error {
	f.mu.Lock()
	hook := f.beforeStop
	f.beforeStop = nil
	f.mu.Unlock()
	if hook != nil {
		hook()
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if sessionID == "" || f.active[roomID] != sessionID {
		return nil
	}
	f.stops = append(f.stops, roomID)
	delete(f.active, roomID)
	return nil
}

func (f *fakeLive) CurrentSession(roomID string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.active[roomID]
}

func (f *fakeLive) IsActive(roomID string) bool {
	return f.CurrentSession(roomID) != ""
}

// crash drops the room's pipeline as if the process died and was reaped.
func (f *fakeLive) crash(roomID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.active, roomID)
}

func (f *fakeLive) URL(roomID string) string { return "/hls/" + roomID + "/stream.m3u8" }

func (f *fakeLive) startCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.starts)
}

func (f *fakeLive) stoppedRooms() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.stops...)
}

// Fixture

type fixture struct {
	hub     *hub.Hub
	rooms   *registry.Registry
	routers *fakeRouters
	live    *fakeLive
	svc     SignalService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	routers := &fakeRouters{routers: make(map[string]*fakeRouter)}
	f := &fixture{
		hub:     hub.NewHub(config.WebSocketConfig{SendBuffer: 256}),
		rooms:   registry.New(routers, codegen.New(16), nil),
		routers: routers,
		live:    newFakeLive(),
	}
	f.svc = NewSignalService(f.hub, f.rooms, f.live, Options{
		Signal: config.SignalConfig{AutoCreateRooms: true},
		Room:   config.RoomConfig{DefaultTitle: "Live Stream"},
		Live:   config.LiveConfig{MinPeers: 1},
	})
	return f
}

func (f *fixture) connect(t *testing.T, id string) *hub.Client {
	t.Helper()
	c := hub.NewClient(id, f.hub, nil, 256)
	require.True(t, f.hub.Register(c))
	return c
}

func (f *fixture) joined(t *testing.T, id, roomID string) *hub.Client {
	t.Helper()
	c := f.connect(t, id)
	require.NoError(t, f.svc.HandleJoinRoom(context.Background(), c, roomID))
	require.Equal(t, domain.StateInRoom, c.Session.State(), "join of %s failed", id)
	return c
}

type frame map[string]any

func (m frame) typ() string { s, _ := m["type"].(string); return s }

// drain returns every queued frame without blocking.
func drain(c *hub.Client) []frame {
	var out []frame
	for {
		select {
		case data := <-c.Send:
			var m frame
			if err := json.Unmarshal(data, &m); err == nil {
				out = append(out, m)
			}
		default:
			return out
		}
	}
}

func ofType(frames []frame, typ string) []frame {
	var out []frame
	for _, m := range frames {
		if m.typ() == typ {
			out = append(out, m)
		}
	}
	return out
}

func TestJoinRoom_ConcurrentJoinersSeeEachOtherOnce(t *testing.T) {
	f := newFixture(t)
	const n = 8

	clients := make([]*hub.Client, n)
	for i := range clients {
		clients[i] = f.connect(t, fmt.Sprintf("peer-%d", i))
	}

	var wg sync.WaitGroup
	for _, c := range clients {
		wg.Add(1)
		go func(c *hub.Client) {
			defer wg.Done()
			f.svc.HandleJoinRoom(context.Background(), c, "party")
		}(c)
	}
	wg.Wait()

	room, ok := f.rooms.GetRoom("party")
	require.True(t, ok)
	assert.Equal(t, n, room.PeerCount())

	for _, c := range clients {
		seen := map[string]int{}
		for _, m := range ofType(drain(c), domain.MsgTypeUserConnected) {
			seen[m["peerId"].(string)]++
		}
		for _, other := range clients {
			if other == c {
				assert.Zero(t, seen[c.ID], "%s told about itself", c.ID)
				continue
			}
			assert.Equal(t, 1, seen[other.ID], "%s saw %s", c.ID, other.ID)
		}
	}
}

func TestJoinRoom_AutoCreateMakesJoinerCreator(t *testing.T) {
	f := newFixture(t)
	c := f.joined(t, "alice", "studio")

	frames := drain(c)
	joined := ofType(frames, domain.MsgTypeRoomJoined)
	require.Len(t, joined, 1)
	assert.Equal(t, true, joined[0]["isCreator"])
	assert.Empty(t, joined[0]["peers"])

	room, ok := f.rooms.GetRoom("studio")
	require.True(t, ok)
	assert.Equal(t, "alice", room.CreatorID)
	assert.Equal(t, "STUDIO", room.JoinCode)
}

func TestJoinRoom_UnknownRoomWithoutAutoCreate(t *testing.T) {
	f := newFixture(t)
	f.svc.(*signalService).opts.Signal.AutoCreateRooms = false

	c := f.connect(t, "alice")
	require.NoError(t, f.svc.HandleJoinRoom(context.Background(), c, "nowhere"))

	errs := ofType(drain(c), domain.MsgTypeError)
	require.Len(t, errs, 1)
	assert.Equal(t, domain.ErrCodeNotFound, errs[0]["code"])
	assert.Equal(t, domain.StateConnected, c.Session.State())
}

func TestJoinRoom_InvalidID(t *testing.T) {
	f := newFixture(t)
	c := f.connect(t, "alice")
	require.NoError(t, f.svc.HandleJoinRoom(context.Background(), c, "../etc"))

	errs := ofType(drain(c), domain.MsgTypeError)
	require.Len(t, errs, 1)
	assert.Equal(t, domain.ErrCodeBadRequest, errs[0]["code"])
	assert.Zero(t, f.rooms.Count())
}

func TestJoinRoomByCode_LowercaseResolves(t *testing.T) {
	f := newFixture(t)
	room, err := f.rooms.CreateRoom(context.Background(), "")
	require.NoError(t, err)

	c := f.connect(t, "bob")
	require.NoError(t, f.svc.HandleJoinRoomByCode(context.Background(), c, strings.ToLower(room.JoinCode)))

	assert.Equal(t, domain.StateInRoom, c.Session.State())
	assert.Equal(t, room.ID, c.Session.RoomID())
	assert.Len(t, ofType(drain(c), domain.MsgTypeRoomJoined), 1)
}

func TestJoinRoomByCode_Unknown(t *testing.T) {
	f := newFixture(t)
	c := f.connect(t, "bob")
	require.NoError(t, f.svc.HandleJoinRoomByCode(context.Background(), c, "ZZZZZZ"))

	errs := ofType(drain(c), domain.MsgTypeError)
	require.Len(t, errs, 1)
	assert.Equal(t, "Room not found", errs[0]["message"])
}

func TestRelay_OfferReachesOnlyTarget(t *testing.T) {
	f := newFixture(t)
	a := f.joined(t, "a", "r1")
	b := f.joined(t, "b", "r1")
	c := f.joined(t, "c", "r1")
	drain(a)
	drain(b)
	drain(c)

	err := f.svc.HandleRelay(context.Background(), a, &domain.SignalMessage{
		Type:  domain.MsgTypeOffer,
		To:    "b",
		Offer: json.RawMessage(`{"type":"offer","sdp":"v=0"}`),
	})
	require.NoError(t, err)

	got := drain(b)
	require.Len(t, got, 1)
	assert.Equal(t, domain.MsgTypeOffer, got[0].typ())
	assert.Equal(t, "a", got[0]["from"])
	assert.Nil(t, got[0]["to"])
	assert.Equal(t, "v=0", got[0]["offer"].(map[string]any)["sdp"])

	assert.Empty(t, drain(a))
	assert.Empty(t, drain(c))
}

func TestRelay_AllowedBeforeJoining(t *testing.T) {
	f := newFixture(t)
	a := f.connect(t, "a")
	b := f.connect(t, "b")

	require.NoError(t, f.svc.HandleRelay(context.Background(), a, &domain.SignalMessage{
		Type:      domain.MsgTypeICECandidate,
		To:        "b",
		Candidate: json.RawMessage(`{"candidate":"c1"}`),
	}))

	got := drain(b)
	require.Len(t, got, 1)
	assert.Equal(t, "a", got[0]["from"])
}

func TestRelay_UnknownTarget(t *testing.T) {
	f := newFixture(t)
	a := f.joined(t, "a", "r1")
	drain(a)

	require.NoError(t, f.svc.HandleRelay(context.Background(), a, &domain.SignalMessage{
		Type: domain.MsgTypeAnswer,
		To:   "ghost",
	}))

	errs := ofType(drain(a), domain.MsgTypeError)
	require.Len(t, errs, 1)
	assert.Equal(t, domain.ErrCodeNotFound, errs[0]["code"])
	assert.Equal(t, "Target peer not found", errs[0]["message"])
}

func TestChat_BroadcastsToOthersWithTimestamp(t *testing.T) {
	f := newFixture(t)
	a := f.joined(t, "a", "r1")
	b := f.joined(t, "b", "r1")
	drain(a)
	drain(b)

	before := time.Now().UnixMilli()
	require.NoError(t, f.svc.HandleChat(context.Background(), a, "  hello  "))

	got := ofType(drain(b), domain.MsgTypeChatMessage)
	require.Len(t, got, 1)
	assert.Equal(t, "a", got[0]["from"])
	assert.Equal(t, "hello", got[0]["message"])
	assert.GreaterOrEqual(t, int64(got[0]["timestamp"].(float64)), before)
	assert.Empty(t, drain(a))
}

func TestChat_EmptyRejected(t *testing.T) {
	f := newFixture(t)
	a := f.joined(t, "a", "r1")
	drain(a)

	require.NoError(t, f.svc.HandleChat(context.Background(), a, "   "))
	assert.Len(t, ofType(drain(a), domain.MsgTypeError), 1)
}

func TestGoLive_DefaultTitleAndWatchURL(t *testing.T) {
	f := newFixture(t)
	creator := f.joined(t, "host", "show")
	viewer := f.joined(t, "viewer", "show")
	drain(creator)
	drain(viewer)

	require.NoError(t, f.svc.HandleGoLive(context.Background(), creator, &domain.GoLiveMessage{RoomID: "show"}))

	room, ok := f.rooms.GetRoom("show")
	require.True(t, ok)
	assert.True(t, room.IsLive())
	title, _ := room.Details()
	assert.Equal(t, "Live Stream", title)
	assert.Equal(t, 1, f.live.startCount())

	for _, c := range []*hub.Client{creator, viewer} {
		status := ofType(drain(c), domain.MsgTypeLiveStatusChanged)
		require.Len(t, status, 1, c.ID)
		assert.Equal(t, true, status[0]["isLive"])
		assert.Equal(t, "Live Stream", status[0]["title"])
		assert.Equal(t, "/hls/show/stream.m3u8", status[0]["hlsUrl"])
	}

	watched, ok := f.rooms.GetRoomByWatchCode(room.WatchCode)
	require.True(t, ok)
	assert.Same(t, room, watched)
	assert.NotEmpty(t, f.live.URL(watched.ID))
}

func TestGoLive_KeepsExplicitTitle(t *testing.T) {
	f := newFixture(t)
	creator := f.joined(t, "host", "show")

	require.NoError(t, f.svc.HandleGoLive(context.Background(), creator, &domain.GoLiveMessage{
		Title:       "Friday jam",
		Description: "bring snacks",
	}))
	room, _ := f.rooms.GetRoom("show")
	title, desc := room.Details()
	assert.Equal(t, "Friday jam", title)
	assert.Equal(t, "bring snacks", desc)
}

func TestGoLive_OnlyCreator(t *testing.T) {
	f := newFixture(t)
	f.joined(t, "host", "show")
	viewer := f.joined(t, "viewer", "show")
	drain(viewer)

	require.NoError(t, f.svc.HandleGoLive(context.Background(), viewer, &domain.GoLiveMessage{}))

	errs := ofType(drain(viewer), domain.MsgTypeError)
	require.Len(t, errs, 1)
	assert.Equal(t, domain.ErrCodeForbidden, errs[0]["code"])
	assert.Zero(t, f.live.startCount())
}

func TestGoLive_StartFailureRevertsLive(t *testing.T) {
	f := newFixture(t)
	f.live.startErr = errors.New("ffmpeg missing")
	creator := f.joined(t, "host", "show")
	drain(creator)

	require.NoError(t, f.svc.HandleGoLive(context.Background(), creator, &domain.GoLiveMessage{}))

	room, _ := f.rooms.GetRoom("show")
	assert.False(t, room.IsLive())
	frames := drain(creator)
	assert.Empty(t, ofType(frames, domain.MsgTypeLiveStatusChanged))
	errs := ofType(frames, domain.MsgTypeError)
	require.Len(t, errs, 1)
	assert.Equal(t, domain.ErrCodeInternalError, errs[0]["code"])
}

func TestEndLive_StopsPipeline(t *testing.T) {
	f := newFixture(t)
	creator := f.joined(t, "host", "show")
	require.NoError(t, f.svc.HandleGoLive(context.Background(), creator, &domain.GoLiveMessage{}))
	drain(creator)

	require.NoError(t, f.svc.HandleEndLive(context.Background(), creator, "show"))

	assert.False(t, f.live.IsActive("show"))
	status := ofType(drain(creator), domain.MsgTypeLiveStatusChanged)
	require.Len(t, status, 1)
	assert.Equal(t, false, status[0]["isLive"])
	assert.Nil(t, status[0]["hlsUrl"])
}

func TestLeave_EmptiedRoomRemovedAndPipelineStopped(t *testing.T) {
	f := newFixture(t)
	creator := f.joined(t, "host", "studio")
	require.NoError(t, f.svc.HandleGoLive(context.Background(), creator, &domain.GoLiveMessage{}))
	require.True(t, f.live.IsActive("studio"))
	room, ok := f.rooms.GetRoom("studio")
	require.True(t, ok)
	joinCode, watchCode := room.JoinCode, room.WatchCode

	require.NoError(t, f.svc.HandleLeaveRoom(context.Background(), creator))

	_, ok = f.rooms.GetRoom("studio")
	assert.False(t, ok)
	_, ok = f.rooms.GetRoomByJoinCode(joinCode)
	assert.False(t, ok)
	_, ok = f.rooms.GetRoomByWatchCode(watchCode)
	assert.False(t, ok)
	assert.False(t, f.live.IsActive("studio"))
	assert.Contains(t, f.live.stoppedRooms(), "studio")
	assert.True(t, f.routers.get("studio").Closed())
	assert.Equal(t, domain.StateDisconnected, creator.Session.State())

	// The freed join code goes to the next room with the same id.
	f.joined(t, "next", "studio")
	again, ok := f.rooms.GetRoomByJoinCode(joinCode)
	require.True(t, ok)
	assert.Equal(t, "next", again.CreatorID)
	assert.NotSame(t, room, again)
}

func TestLeave_StaleStopSparesRecreatedRoomPipeline(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	host := f.joined(t, "host", "show")
	require.NoError(t, f.svc.HandleGoLive(ctx, host, &domain.GoLiveMessage{}))
	first := f.live.CurrentSession("show")
	require.NotEmpty(t, first)

	// Runs after the emptied room is unregistered but before its pipeline stop lands.
	var host2 *hub.Client
	f.live.beforeStop = func() {
		host2 = f.joined(t, "host2", "show")
		require.NoError(t, f.svc.HandleGoLive(ctx, host2, &domain.GoLiveMessage{}))
	}

	require.NoError(t, f.svc.HandleLeaveRoom(ctx, host))

	require.NotNil(t, host2)
	room, ok := f.rooms.GetRoom("show")
	require.True(t, ok)
	assert.Equal(t, "host2", room.CreatorID)
	assert.True(t, room.IsLive())
	assert.True(t, f.live.IsActive("show"))
	assert.NotEqual(t, first, f.live.CurrentSession("show"))
	assert.Empty(t, f.live.stoppedRooms())
}

func TestLeaveAndJoinRace_JoinerNeverLandsInRemovedRoom(t *testing.T) {
	ctx := context.Background()
	for i := 0; i < 200; i++ {
		f := newFixture(t)
		host := f.joined(t, "host", "studio")
		room, ok := f.rooms.GetRoom("studio")
		require.True(t, ok)
		guest := f.connect(t, "guest")
		byCode := i%2 == 1

		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			_ = f.svc.HandleLeaveRoom(ctx, host)
		}()
		go func() {
			defer wg.Done()
			if byCode {
				_ = f.svc.HandleJoinRoomByCode(ctx, guest, room.JoinCode)
			} else {
				_ = f.svc.HandleJoinRoom(ctx, guest, "studio")
			}
		}()
		wg.Wait()

		errs := ofType(drain(guest), domain.MsgTypeError)
		if guest.Session.State() == domain.StateInRoom {
			current, ok := f.rooms.GetRoom(guest.Session.RoomID())
			require.True(t, ok, "iteration %d: guest bound to an unregistered room", i)
			assert.False(t, current.Closed())
			assert.Equal(t, []string{"guest"}, current.PeerIDs())
			assert.Empty(t, errs)
			continue
		}
		require.Len(t, errs, 1, "iteration %d", i)
		assert.Equal(t, domain.ErrCodeNotFound, errs[0]["code"])
		assert.Equal(t, "Room not found", errs[0]["message"])
		assert.True(t, byCode, "iteration %d: join by id should recreate the room", i)
	}
}

func TestLeave_NotifiesRemainingPeers(t *testing.T) {
	f := newFixture(t)
	a := f.joined(t, "a", "r1")
	b := f.joined(t, "b", "r1")
	drain(b)

	require.NoError(t, f.svc.HandleDisconnect(context.Background(), a))

	left := ofType(drain(b), domain.MsgTypeUserDisconnected)
	require.Len(t, left, 1)
	assert.Equal(t, "a", left[0]["peerId"])

	room, ok := f.rooms.GetRoom("r1")
	require.True(t, ok)
	assert.Equal(t, []string{"b"}, room.PeerIDs())
	assert.Empty(t, f.live.stoppedRooms())
}

func TestLeave_CannotRejoin(t *testing.T) {
	f := newFixture(t)
	a := f.joined(t, "a", "r1")
	f.joined(t, "b", "r1")
	require.NoError(t, f.svc.HandleLeaveRoom(context.Background(), a))
	drain(a)

	require.NoError(t, f.svc.HandleJoinRoom(context.Background(), a, "r1"))

	errs := ofType(drain(a), domain.MsgTypeError)
	require.Len(t, errs, 1)
	room, _ := f.rooms.GetRoom("r1")
	assert.Equal(t, []string{"b"}, room.PeerIDs())
}

func TestJoin_LiveRoomResumesPipeline(t *testing.T) {
	f := newFixture(t)
	creator := f.joined(t, "host", "show")
	require.NoError(t, f.svc.HandleGoLive(context.Background(), creator, &domain.GoLiveMessage{}))
	f.live.crash("show")

	viewer := f.joined(t, "viewer", "show")

	assert.True(t, f.live.IsActive("show"))
	assert.Equal(t, 2, f.live.startCount())
	status := ofType(drain(viewer), domain.MsgTypeLiveStatusChanged)
	require.Len(t, status, 1)
	assert.Equal(t, "/hls/show/stream.m3u8", status[0]["hlsUrl"])
}

func TestSweepEmptyRooms_StopsPipelines(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, _, err := f.rooms.CreateRoomWithID(ctx, "idle", "")
	require.NoError(t, err)
	_, _, err = f.rooms.CreateRoomWithID(ctx, "quiet", "")
	require.NoError(t, err)
	_, err = f.live.Start(ctx, live.StartRequest{RoomID: "idle"})
	require.NoError(t, err)

	removed := f.svc.SweepEmptyRooms(ctx)

	assert.Equal(t, 2, removed)
	assert.Zero(t, f.rooms.Count())
	assert.Equal(t, []string{"idle"}, f.live.stoppedRooms())
}

func TestMediaFlow_PublishAndConsume(t *testing.T) {
	f := newFixture(t)
	host := f.joined(t, "host", "show")
	viewer := f.joined(t, "viewer", "show")
	drain(host)
	drain(viewer)
	ctx := context.Background()

	require.NoError(t, f.svc.HandleCreateTransport(ctx, host))
	created := ofType(drain(host), domain.MsgTypeTransportCreated)
	require.Len(t, created, 1)
	hostTransportID := created[0]["transportId"].(string)

	require.NoError(t, f.svc.HandleConnectTransport(ctx, host, &domain.ConnectTransportMessage{
		TransportID: hostTransportID,
		Offer:       webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "offer"},
	}))
	connected := ofType(drain(host), domain.MsgTypeTransportConnected)
	require.Len(t, connected, 1)

	router := f.routers.get("show")
	producer := &fakeProducer{id: "p1", transportID: hostTransportID, kind: engine.KindAudio}
	router.transports[0].publish(producer)

	announced := ofType(drain(viewer), domain.MsgTypeNewProducer)
	require.Len(t, announced, 1)
	assert.Equal(t, "p1", announced[0]["producerId"])
	assert.Equal(t, "host", announced[0]["peerId"])
	assert.Empty(t, ofType(drain(host), domain.MsgTypeNewProducer))

	require.NoError(t, f.svc.HandleCreateTransport(ctx, viewer))
	viewerTransportID := ofType(drain(viewer), domain.MsgTypeTransportCreated)[0]["transportId"].(string)
	require.NoError(t, f.svc.HandleConsume(ctx, viewer, &domain.ConsumeMessage{
		TransportID: viewerTransportID,
		ProducerID:  "p1",
	}))
	consumed := ofType(drain(viewer), domain.MsgTypeConsumerCreated)
	require.Len(t, consumed, 1)
	assert.Equal(t, "audio", consumed[0]["kind"])
	assert.Equal(t, "c-p1", consumed[0]["consumerId"])

	require.NoError(t, f.svc.HandleCloseProducer(ctx, host, "p1"))
	assert.True(t, producer.Closed())
	closed := ofType(drain(viewer), domain.MsgTypeProducerClosed)
	require.Len(t, closed, 1)
	assert.Equal(t, "p1", closed[0]["producerId"])
}

func TestMediaFlow_UnknownHandles(t *testing.T) {
	f := newFixture(t)
	a := f.joined(t, "a", "r1")
	drain(a)
	ctx := context.Background()

	require.NoError(t, f.svc.HandleConsume(ctx, a, &domain.ConsumeMessage{TransportID: "nope", ProducerID: "p"}))
	require.NoError(t, f.svc.HandleCloseProducer(ctx, a, "nope"))

	errs := ofType(drain(a), domain.MsgTypeError)
	require.Len(t, errs, 2)
	assert.Equal(t, "Transport not found", errs[0]["message"])
	assert.Equal(t, "Producer not found", errs[1]["message"])
}

func TestLeave_ClosesMediaHandles(t *testing.T) {
	f := newFixture(t)
	a := f.joined(t, "a", "r1")
	f.joined(t, "b", "r1")
	require.NoError(t, f.svc.HandleCreateTransport(context.Background(), a))

	require.NoError(t, f.svc.HandleLeaveRoom(context.Background(), a))

	router := f.routers.get("r1")
	require.Len(t, router.transports, 1)
	assert.True(t, router.transports[0].Closed())
}
