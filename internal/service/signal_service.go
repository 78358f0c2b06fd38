package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/weiawesome/wes-io-live/coordinator/internal/config"
	"github.com/weiawesome/wes-io-live/coordinator/internal/domain"
	"github.com/weiawesome/wes-io-live/coordinator/internal/engine"
	"github.com/weiawesome/wes-io-live/coordinator/internal/hub"
	"github.com/weiawesome/wes-io-live/coordinator/internal/live"
	"github.com/weiawesome/wes-io-live/coordinator/internal/registry"
	pkglog "github.com/weiawesome/wes-io-live/coordinator/pkg/log"
)

// joinAttempts bounds retries when a join races with the room being removed.
const joinAttempts = 3

var errRoomOffline = errors.New("room went offline during start")

// Options configures the signaling flows.
type Options struct {
	Signal     config.SignalConfig
	Room       config.RoomConfig
	Live       config.LiveConfig
	ICEServers []webrtc.ICEServer
}

type signalService struct {
	hub   *hub.Hub
	rooms *registry.Registry
	live  LiveController
	opts  Options

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewSignalService creates a new SignalService instance.
func NewSignalService(h *hub.Hub, rooms *registry.Registry, lc LiveController, opts Options) SignalService {
	if opts.Room.DefaultTitle == "" {
		opts.Room.DefaultTitle = "Live Stream"
	}
	return &signalService{
		hub:   h,
		rooms: rooms,
		live:  lc,
		opts:  opts,
	}
}

func (s *signalService) HandleConnect(ctx context.Context, c *hub.Client) error {
	return c.SendMessage(&domain.ConnectedMessage{
		Type:   domain.MsgTypeConnected,
		PeerID: c.ID,
	})
}

func (s *signalService) HandleJoinRoom(ctx context.Context, c *hub.Client, roomID string) error {
	roomID = strings.TrimSpace(roomID)
	if !domain.ValidRoomID(roomID) {
		return c.SendMessage(domain.ErrorFor(domain.ErrInvalidRoomID))
	}

	for attempt := 0; attempt < joinAttempts; attempt++ {
		room, ok := s.rooms.GetRoom(roomID)
		if !ok {
			if !s.opts.Signal.AutoCreateRooms {
				return c.SendMessage(domain.ErrorFor(domain.ErrRoomNotFound))
			}
			var err error
			room, _, err = s.rooms.CreateRoomWithID(ctx, roomID, c.ID)
			if err != nil {
				l := pkglog.Ctx(ctx)
				l.Error().Err(err).Str(pkglog.FieldRoomID, roomID).Msg("failed to create room on join")
				if errors.Is(err, domain.ErrInvalidRoomID) {
					return c.SendMessage(domain.ErrorFor(err))
				}
				return c.SendMessage(domain.NewErrorMessage(domain.ErrCodeInternalError, "Failed to create room"))
			}
		}

		err := s.join(ctx, c, room)
		if errors.Is(err, domain.ErrRoomClosed) {
			continue
		}
		if err != nil {
			return c.SendMessage(domain.ErrorFor(err))
		}
		return nil
	}
	return c.SendMessage(domain.ErrorFor(domain.ErrRoomNotFound))
}

func (s *signalService) HandleJoinRoomByCode(ctx context.Context, c *hub.Client, code string) error {
	room, ok := s.rooms.GetRoomByJoinCode(code)
	if !ok {
		return c.SendMessage(domain.ErrorFor(domain.ErrRoomNotFound))
	}
	if err := s.join(ctx, c, room); err != nil {
		return c.SendMessage(domain.ErrorFor(err))
	}
	return nil
}

// join adds the client to room and exchanges arrival notices with the peers
// already there. The room's op lock serializes concurrent joins, so every
// pair of peers learns about each other exactly once.
func (s *signalService) join(ctx context.Context, c *hub.Client, room *domain.Room) error {
	peer := domain.NewPeer(c.ID, "", c)
	peer.BindSession(c.Session)

	room.Lock()
	if err := room.AddPeer(peer); err != nil {
		room.Unlock()
		return err
	}
	if err := c.Session.EnterRoom(room.ID); err != nil {
		room.RemovePeer(c.ID)
		room.Unlock()
		return err
	}

	existing := make([]*domain.Peer, 0, room.PeerCount())
	existingIDs := make([]string, 0, room.PeerCount())
	for _, p := range room.Peers() {
		if p.ID != c.ID {
			existing = append(existing, p)
			existingIDs = append(existingIDs, p.ID)
		}
	}

	c.SendMessage(&domain.RoomJoinedMessage{
		Type:      domain.MsgTypeRoomJoined,
		Room:      room.Snapshot(),
		Peers:     existingIDs,
		IsCreator: room.IsCreator(c.ID),
	})
	for _, p := range existing {
		c.SendMessage(&domain.PeerEventMessage{Type: domain.MsgTypeUserConnected, PeerID: p.ID})
	}
	domain.BroadcastTo(existing, &domain.PeerEventMessage{Type: domain.MsgTypeUserConnected, PeerID: c.ID})

	for _, p := range existing {
		for _, kind := range []engine.MediaKind{engine.KindAudio, engine.KindVideo} {
			for _, pr := range p.Producers(kind) {
				c.SendMessage(&domain.NewProducerMessage{
					Type:       domain.MsgTypeNewProducer,
					PeerID:     p.ID,
					ProducerID: pr.ID(),
					Kind:       string(kind),
				})
			}
		}
	}

	isLive := room.IsLive()
	title, description := room.Details()
	needsPipeline := isLive && !s.live.IsActive(room.ID) && room.PeerCount() >= s.opts.Live.MinPeers
	room.Unlock()

	l := pkglog.Ctx(ctx)
	l.Info().
		Str(pkglog.FieldRoomID, room.ID).
		Str(pkglog.FieldPeerID, c.ID).
		Int("peers", len(existing)+1).
		Msg("peer joined room")

	if !isLive {
		return nil
	}
	if needsPipeline {
		if _, err := s.runPipeline(ctx, room); err != nil {
			if errors.Is(err, errRoomOffline) {
				return nil
			}
			l.Error().Err(err).Str(pkglog.FieldRoomID, room.ID).Msg("failed to resume live pipeline")
		}
	}
	return c.SendMessage(&domain.LiveStatusMessage{
		Type:        domain.MsgTypeLiveStatusChanged,
		RoomID:      room.ID,
		IsLive:      true,
		Title:       title,
		Description: description,
		HLSUrl:      s.live.URL(room.ID),
	})
}

func (s *signalService) HandleLeaveRoom(ctx context.Context, c *hub.Client) error {
	s.leave(ctx, c, "left")
	return nil
}

func (s *signalService) HandleDisconnect(ctx context.Context, c *hub.Client) error {
	s.leave(ctx, c, "disconnected")
	return nil
}

// leave removes the client from its room, releases its media and tells the
// remaining peers. An emptied room is removed and its pipeline stopped
// before leave returns.
func (s *signalService) leave(ctx context.Context, c *hub.Client, reason string) {
	roomID := c.Session.Disconnect()
	if roomID == "" {
		return
	}
	room, ok := s.rooms.GetRoom(roomID)
	if !ok {
		return
	}

	room.Lock()
	peer, ok := room.RemovePeer(c.ID)
	if !ok {
		room.Unlock()
		return
	}
	peer.Close()
	room.Broadcast(c.ID, &domain.PeerEventMessage{Type: domain.MsgTypeUserDisconnected, PeerID: c.ID})

	emptied := room.IsEmpty()
	var stopSession string
	if emptied {
		room.MarkClosed()
		s.rooms.RemoveRoomInstance(room)
		stopSession = s.live.CurrentSession(room.ID)
	} else if (room.PeerCount() < s.opts.Live.MinPeers || !room.IsLive()) && s.live.IsActive(room.ID) {
		stopSession = s.live.CurrentSession(room.ID)
	}
	remaining := room.PeerCount()
	room.Unlock()

	l := pkglog.Ctx(ctx)
	l.Info().
		Str(pkglog.FieldRoomID, roomID).
		Str(pkglog.FieldPeerID, c.ID).
		Str("reason", reason).
		Int("remaining", remaining).
		Bool("room_removed", emptied).
		Msg("peer left room")

	if err := s.live.StopSession(ctx, roomID, stopSession); err != nil {
		l.Error().Err(err).Str(pkglog.FieldRoomID, roomID).Msg("failed to stop live pipeline")
	}
}

func (s *signalService) HandleRelay(ctx context.Context, c *hub.Client, msg *domain.SignalMessage) error {
	if msg.To == "" {
		return c.SendMessage(domain.NewErrorMessage(domain.ErrCodeBadRequest, "Missing target peer"))
	}
	target, ok := s.hub.Get(msg.To)
	if !ok {
		return c.SendMessage(domain.ErrorFor(domain.ErrPeerNotFound))
	}

	forward := &domain.SignalMessage{
		Type:      msg.Type,
		From:      c.ID,
		Offer:     msg.Offer,
		Answer:    msg.Answer,
		Candidate: msg.Candidate,
	}
	if err := target.SendMessage(forward); err != nil {
		l := pkglog.Ctx(ctx)
		l.Warn().Err(err).
			Str(pkglog.FieldPeerID, c.ID).
			Str("target", msg.To).
			Str(pkglog.FieldMsgType, msg.Type).
			Msg("failed to relay signal")
		return c.SendMessage(domain.ErrorFor(domain.ErrPeerNotFound))
	}
	return nil
}

func (s *signalService) HandleChat(ctx context.Context, c *hub.Client, message string) error {
	message = strings.TrimSpace(message)
	if message == "" {
		return c.SendMessage(domain.NewErrorMessage(domain.ErrCodeBadRequest, "Message is required"))
	}
	room, _, err := s.currentRoom(c)
	if err != nil {
		return c.SendMessage(domain.ErrorFor(err))
	}

	room.Broadcast(c.ID, &domain.ChatMessage{
		Type:      domain.MsgTypeChatMessage,
		From:      c.ID,
		Message:   message,
		Timestamp: time.Now().UnixMilli(),
	})
	return nil
}

func (s *signalService) HandleGoLive(ctx context.Context, c *hub.Client, msg *domain.GoLiveMessage) error {
	room, _, err := s.currentRoom(c)
	if err != nil {
		return c.SendMessage(domain.ErrorFor(err))
	}
	if msg.RoomID != "" && msg.RoomID != room.ID {
		return c.SendMessage(domain.ErrorFor(domain.ErrNotInRoom))
	}

	room.Lock()
	if !room.IsCreator(c.ID) {
		room.Unlock()
		return c.SendMessage(domain.ErrorFor(domain.ErrNotCreator))
	}
	title, description := room.Details()
	if t := strings.TrimSpace(msg.Title); t != "" {
		title = t
	} else if title == "" {
		title = s.opts.Room.DefaultTitle
	}
	if d := strings.TrimSpace(msg.Description); d != "" {
		description = d
	}
	room.UpdateDetails(title, description)
	room.SetLive(true)
	shouldStart := room.PeerCount() >= s.opts.Live.MinPeers
	room.Unlock()

	l := pkglog.Ctx(ctx)
	if shouldStart {
		if _, err := s.runPipeline(ctx, room); err != nil {
			if errors.Is(err, errRoomOffline) {
				return nil
			}
			l.Error().Err(err).Str(pkglog.FieldRoomID, room.ID).Msg("failed to start live pipeline")
			room.Lock()
			room.SetLive(false)
			room.Unlock()
			return c.SendMessage(domain.NewErrorMessage(domain.ErrCodeInternalError, "Failed to start live stream"))
		}
	}

	l.Info().
		Str(pkglog.FieldRoomID, room.ID).
		Str(pkglog.FieldPeerID, c.ID).
		Str("title", title).
		Msg("room went live")

	domain.BroadcastTo(room.Peers(), &domain.LiveStatusMessage{
		Type:        domain.MsgTypeLiveStatusChanged,
		RoomID:      room.ID,
		IsLive:      true,
		Title:       title,
		Description: description,
		HLSUrl:      s.live.URL(room.ID),
	})
	return nil
}

func (s *signalService) HandleEndLive(ctx context.Context, c *hub.Client, roomID string) error {
	room, _, err := s.currentRoom(c)
	if err != nil {
		return c.SendMessage(domain.ErrorFor(err))
	}
	if roomID != "" && roomID != room.ID {
		return c.SendMessage(domain.ErrorFor(domain.ErrNotInRoom))
	}

	room.Lock()
	if !room.IsCreator(c.ID) {
		room.Unlock()
		return c.SendMessage(domain.ErrorFor(domain.ErrNotCreator))
	}
	room.SetLive(false)
	title, description := room.Details()
	stopSession := s.live.CurrentSession(room.ID)
	room.Unlock()

	l := pkglog.Ctx(ctx)
	if err := s.live.StopSession(ctx, room.ID, stopSession); err != nil {
		l.Error().Err(err).Str(pkglog.FieldRoomID, room.ID).Msg("failed to stop live pipeline")
	}
	l.Info().Str(pkglog.FieldRoomID, room.ID).Str(pkglog.FieldPeerID, c.ID).Msg("room went offline")

	domain.BroadcastTo(room.Peers(), &domain.LiveStatusMessage{
		Type:        domain.MsgTypeLiveStatusChanged,
		RoomID:      room.ID,
		IsLive:      false,
		Title:       title,
		Description: description,
	})
	return nil
}

func (s *signalService) HandleUpdateRoom(ctx context.Context, c *hub.Client, msg *domain.UpdateRoomMessage) error {
	room, _, err := s.currentRoom(c)
	if err != nil {
		return c.SendMessage(domain.ErrorFor(err))
	}

	room.Lock()
	defer room.Unlock()
	if !room.IsCreator(c.ID) {
		return c.SendMessage(domain.ErrorFor(domain.ErrNotCreator))
	}
	title, description := room.Details()
	if msg.Title != nil {
		title = *msg.Title
	}
	if msg.Description != nil {
		description = *msg.Description
	}
	room.UpdateDetails(title, description)

	domain.BroadcastTo(room.Peers(), &domain.RoomUpdatedMessage{
		Type: domain.MsgTypeRoomUpdated,
		Room: room.Snapshot(),
	})
	return nil
}

func (s *signalService) HandleCreateTransport(ctx context.Context, c *hub.Client) error {
	room, peer, err := s.currentRoom(c)
	if err != nil {
		return c.SendMessage(domain.ErrorFor(err))
	}

	l := pkglog.Ctx(ctx)
	t, err := room.Router().CreateTransport(ctx, c.ID)
	if err != nil {
		l.Error().Err(err).Str(pkglog.FieldRoomID, room.ID).Str(pkglog.FieldPeerID, c.ID).Msg("failed to create transport")
		return c.SendMessage(domain.NewErrorMessage(domain.ErrCodeInternalError, "Failed to create transport"))
	}

	t.OnICECandidate(func(candidate webrtc.ICECandidateInit) {
		c.SendMessage(&domain.ServerICECandidateMessage{
			Type:        domain.MsgTypeServerICECandidate,
			TransportID: t.ID(),
			Candidate:   candidate,
		})
	})
	t.OnProducer(func(p engine.Producer) {
		s.onProducer(room, peer, p)
	})

	if err := peer.AddTransport(t); err != nil {
		t.Close()
		return c.SendMessage(domain.ErrorFor(err))
	}

	l.Debug().
		Str(pkglog.FieldRoomID, room.ID).
		Str(pkglog.FieldPeerID, c.ID).
		Str(pkglog.FieldTransportID, t.ID()).
		Msg("transport created")

	return c.SendMessage(&domain.TransportCreatedMessage{
		Type:        domain.MsgTypeTransportCreated,
		TransportID: t.ID(),
		ICEServers:  s.opts.ICEServers,
	})
}

// onProducer registers a freshly published track and announces it. A new
// video track from the creator of a live room replaces the pipeline input.
func (s *signalService) onProducer(room *domain.Room, peer *domain.Peer, p engine.Producer) {
	if err := peer.AddProducer(p); err != nil {
		p.Close()
		return
	}
	room.Broadcast(peer.ID, &domain.NewProducerMessage{
		Type:       domain.MsgTypeNewProducer,
		PeerID:     peer.ID,
		ProducerID: p.ID(),
		Kind:       string(p.Kind()),
	})

	if p.Kind() == engine.KindVideo && room.IsCreator(peer.ID) && room.IsLive() {
		go s.restartPipeline(room)
	}
}

func (s *signalService) HandleConnectTransport(ctx context.Context, c *hub.Client, msg *domain.ConnectTransportMessage) error {
	_, peer, err := s.currentRoom(c)
	if err != nil {
		return c.SendMessage(domain.ErrorFor(err))
	}
	t, ok := peer.GetTransport(msg.TransportID)
	if !ok {
		return c.SendMessage(domain.ErrorFor(domain.ErrTransportNotFound))
	}

	answer, err := t.Connect(ctx, msg.Offer)
	if err != nil {
		l := pkglog.Ctx(ctx)
		l.Warn().Err(err).Str(pkglog.FieldTransportID, t.ID()).Msg("failed to connect transport")
		return c.SendMessage(domain.NewErrorMessage(domain.ErrCodeBadRequest, "Failed to connect transport"))
	}
	return c.SendMessage(&domain.TransportConnectedMessage{
		Type:        domain.MsgTypeTransportConnected,
		TransportID: t.ID(),
		Answer:      answer,
	})
}

func (s *signalService) HandleTransportICECandidate(ctx context.Context, c *hub.Client, msg *domain.TransportICECandidateMessage) error {
	_, peer, err := s.currentRoom(c)
	if err != nil {
		return c.SendMessage(domain.ErrorFor(err))
	}
	t, ok := peer.GetTransport(msg.TransportID)
	if !ok {
		return c.SendMessage(domain.ErrorFor(domain.ErrTransportNotFound))
	}
	if err := t.AddICECandidate(msg.Candidate); err != nil {
		return c.SendMessage(domain.NewErrorMessage(domain.ErrCodeBadRequest, "Invalid ICE candidate"))
	}
	return nil
}

func (s *signalService) HandleConsume(ctx context.Context, c *hub.Client, msg *domain.ConsumeMessage) error {
	room, peer, err := s.currentRoom(c)
	if err != nil {
		return c.SendMessage(domain.ErrorFor(err))
	}
	t, ok := peer.GetTransport(msg.TransportID)
	if !ok {
		return c.SendMessage(domain.ErrorFor(domain.ErrTransportNotFound))
	}
	producer, ok := findProducer(room, msg.ProducerID)
	if !ok {
		return c.SendMessage(domain.ErrorFor(domain.ErrProducerNotFound))
	}

	consumer, offer, err := t.Consume(ctx, producer)
	if err != nil {
		l := pkglog.Ctx(ctx)
		l.Warn().Err(err).
			Str(pkglog.FieldTransportID, t.ID()).
			Str(pkglog.FieldProducerID, producer.ID()).
			Msg("failed to consume producer")
		if errors.Is(err, engine.ErrClosed) {
			return c.SendMessage(domain.ErrorFor(domain.ErrProducerNotFound))
		}
		return c.SendMessage(domain.NewErrorMessage(domain.ErrCodeInternalError, "Failed to consume"))
	}
	if err := peer.AddConsumer(consumer); err != nil {
		consumer.Close()
		return c.SendMessage(domain.ErrorFor(err))
	}

	return c.SendMessage(&domain.ConsumerCreatedMessage{
		Type:        domain.MsgTypeConsumerCreated,
		TransportID: t.ID(),
		ConsumerID:  consumer.ID(),
		ProducerID:  producer.ID(),
		Kind:        string(producer.Kind()),
		Offer:       offer,
	})
}

func (s *signalService) HandleConsumerAnswer(ctx context.Context, c *hub.Client, msg *domain.ConsumerAnswerMessage) error {
	_, peer, err := s.currentRoom(c)
	if err != nil {
		return c.SendMessage(domain.ErrorFor(err))
	}
	t, ok := peer.GetTransport(msg.TransportID)
	if !ok {
		return c.SendMessage(domain.ErrorFor(domain.ErrTransportNotFound))
	}
	if err := t.SetRemoteAnswer(msg.Answer); err != nil {
		return c.SendMessage(domain.NewErrorMessage(domain.ErrCodeBadRequest, "Invalid answer"))
	}
	return nil
}

func (s *signalService) HandleCloseProducer(ctx context.Context, c *hub.Client, producerID string) error {
	room, peer, err := s.currentRoom(c)
	if err != nil {
		return c.SendMessage(domain.ErrorFor(err))
	}
	p, ok := peer.GetProducer(producerID)
	if !ok || !peer.RemoveProducer(producerID) {
		return c.SendMessage(domain.ErrorFor(domain.ErrProducerNotFound))
	}

	room.Broadcast(c.ID, &domain.ProducerClosedMessage{
		Type:       domain.MsgTypeProducerClosed,
		PeerID:     c.ID,
		ProducerID: producerID,
	})

	if p.Kind() == engine.KindVideo && room.IsCreator(c.ID) && room.IsLive() {
		go s.restartPipeline(room)
	}
	return nil
}

func (s *signalService) SweepEmptyRooms(ctx context.Context) int {
	stopSessions := make(map[*domain.Room]string)
	removed := s.rooms.CleanupEmptyRooms(s.opts.Room.EmptyGrace, func(room *domain.Room) {
		stopSessions[room] = s.live.CurrentSession(room.ID)
	})
	l := pkglog.Ctx(ctx)
	for _, room := range removed {
		if err := s.live.StopSession(ctx, room.ID, stopSessions[room]); err != nil {
			l.Error().Err(err).Str(pkglog.FieldRoomID, room.ID).Msg("failed to stop pipeline of swept room")
		}
	}
	if len(removed) > 0 {
		l.Info().Int("rooms", len(removed)).Msg("swept empty rooms")
	}
	return len(removed)
}

func (s *signalService) Start(ctx context.Context) error {
	interval := s.opts.Room.CleanupInterval
	if interval <= 0 {
		return nil
	}

	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.SweepEmptyRooms(ctx)
			}
		}
	}()
	return nil
}

func (s *signalService) Stop() error {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
	return nil
}

// currentRoom resolves the room the client is in and its peer entry.
func (s *signalService) currentRoom(c *hub.Client) (*domain.Room, *domain.Peer, error) {
	roomID := c.Session.RoomID()
	if roomID == "" {
		return nil, nil, domain.ErrNotInRoom
	}
	room, ok := s.rooms.GetRoom(roomID)
	if !ok {
		return nil, nil, domain.ErrRoomNotFound
	}
	peer, ok := room.GetPeer(c.ID)
	if !ok {
		return nil, nil, domain.ErrNotInRoom
	}
	return room, peer, nil
}

// runPipeline starts the room's pipeline, replacing any running one, and
// stops it again if the room went offline while it was starting.
func (s *signalService) runPipeline(ctx context.Context, room *domain.Room) (*live.LiveSession, error) {
	sess, err := s.live.Start(ctx, live.StartRequest{
		RoomID: room.ID,
		Video:  creatorVideo(room),
	})
	if err != nil {
		return nil, err
	}

	room.Lock()
	offline := room.Closed() || !room.IsLive()
	room.Unlock()
	if offline {
		if err := s.live.StopSession(ctx, room.ID, sess.SessionID); err != nil {
			l := pkglog.Ctx(ctx)
			l.Error().Err(err).Str(pkglog.FieldRoomID, room.ID).Msg("failed to stop pipeline of offline room")
		}
		return nil, errRoomOffline
	}
	return sess, nil
}

func (s *signalService) restartPipeline(room *domain.Room) {
	ctx := pkglog.WithRoom(context.Background(), room.ID, "")
	if _, err := s.runPipeline(ctx, room); err != nil && !errors.Is(err, errRoomOffline) {
		l := pkglog.Ctx(ctx)
		l.Error().Err(err).Msg("failed to restart live pipeline")
	}
}

// creatorVideo returns the creator's first open video track, or nil.
func creatorVideo(room *domain.Room) engine.Producer {
	creator, ok := room.GetPeer(room.CreatorID)
	if !ok {
		return nil
	}
	if videos := creator.Producers(engine.KindVideo); len(videos) > 0 {
		return videos[0]
	}
	return nil
}

func findProducer(room *domain.Room, producerID string) (engine.Producer, bool) {
	for _, p := range room.Peers() {
		if pr, ok := p.GetProducer(producerID); ok && !pr.Closed() {
			return pr, true
		}
	}
	return nil, false
}

var _ SignalService = (*signalService)(nil)
