// Package registry indexes live rooms by id, join code and watch code.
package registry

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/weiawesome/wes-io-live/coordinator/internal/codegen"
	"github.com/weiawesome/wes-io-live/coordinator/internal/domain"
	"github.com/weiawesome/wes-io-live/coordinator/internal/engine"
	pkglog "github.com/weiawesome/wes-io-live/coordinator/pkg/log"
	"github.com/weiawesome/wes-io-live/coordinator/pkg/pubsub"
)

const publishTimeout = 2 * time.Second

// RouterProvider hands out a media router per room.
type RouterProvider interface {
	CreateRouterForRoom(ctx context.Context, roomID string) (engine.Router, error)
}

// Stats is the registry-wide view served by the rooms endpoint.
type Stats struct {
	TotalRooms int                `json:"totalRooms"`
	TotalPeers int                `json:"totalPeers"`
	LiveRooms  int                `json:"liveRooms"`
	Rooms      []domain.RoomStats `json:"rooms"`
}

// Registry holds every active room. The three indices change together under
// mu; codes are reserved while a router is being acquired so no lock is held
// across that call.
type Registry struct {
	mu          sync.RWMutex
	rooms       map[string]*domain.Room
	byJoinCode  map[string]*domain.Room
	byWatchCode map[string]*domain.Room
	reserved    map[string]struct{}

	routers   RouterProvider
	codes     *codegen.Generator
	publisher pubsub.Publisher
}

func New(routers RouterProvider, codes *codegen.Generator, publisher pubsub.Publisher) *Registry {
	if codes == nil {
		codes = codegen.New(codegen.DefaultMaxAttempts)
	}
	if publisher == nil {
		publisher = pubsub.NopPublisher{}
	}
	return &Registry{
		rooms:       make(map[string]*domain.Room),
		byJoinCode:  make(map[string]*domain.Room),
		byWatchCode: make(map[string]*domain.Room),
		reserved:    make(map[string]struct{}),
		routers:     routers,
		codes:       codes,
		publisher:   publisher,
	}
}

// CreateRoom creates a room whose id is the lower-cased join code.
func (r *Registry) CreateRoom(ctx context.Context, creatorID string) (*domain.Room, error) {
	r.mu.Lock()
	joinCode, watchCode, err := r.reserveLocked("")
	r.mu.Unlock()
	if err != nil {
		return nil, err
	}

	room, _, err := r.build(ctx, strings.ToLower(joinCode), joinCode, watchCode, creatorID)
	return room, err
}

// CreateRoomWithID creates a room under a caller-chosen id. The upper-cased
// id becomes the join code when it is a free, valid code. If the id is
// already registered the existing room is returned with created == false.
func (r *Registry) CreateRoomWithID(ctx context.Context, id, creatorID string) (room *domain.Room, created bool, err error) {
	id = strings.TrimSpace(id)
	if !domain.ValidRoomID(id) {
		return nil, false, domain.ErrInvalidRoomID
	}

	r.mu.Lock()
	if existing, ok := r.rooms[id]; ok && !existing.Closed() {
		r.mu.Unlock()
		return existing, false, nil
	}
	joinCode, watchCode, err := r.reserveLocked(strings.ToUpper(id))
	r.mu.Unlock()
	if err != nil {
		return nil, false, err
	}

	return r.build(ctx, id, joinCode, watchCode, creatorID)
}

// reserveLocked picks a join and watch code and holds them until build
// inserts or releases them. preferred is used as the join code when free.
func (r *Registry) reserveLocked(preferred string) (joinCode, watchCode string, err error) {
	if preferred != "" && codegen.ValidJoinCode(preferred) && !r.joinCodeTakenLocked(preferred) {
		joinCode = preferred
	} else {
		joinCode, err = r.codes.GenerateJoinCode(r.joinCodeTakenLocked)
		if err != nil {
			return "", "", fmt.Errorf("failed to generate join code: %w", err)
		}
	}
	r.reserved[joinCode] = struct{}{}

	watchCode, err = r.codes.GenerateWatchCode(func(code string) bool {
		_, inUse := r.byWatchCode[code]
		_, held := r.reserved[code]
		return inUse || held
	})
	if err != nil {
		delete(r.reserved, joinCode)
		return "", "", fmt.Errorf("failed to generate watch code: %w", err)
	}
	r.reserved[watchCode] = struct{}{}
	return joinCode, watchCode, nil
}

// joinCodeTakenLocked also rejects codes whose lower-case form is already a
// room id, since CreateRoom derives ids from join codes.
func (r *Registry) joinCodeTakenLocked(code string) bool {
	if _, ok := r.byJoinCode[code]; ok {
		return true
	}
	if _, ok := r.reserved[code]; ok {
		return true
	}
	_, ok := r.rooms[strings.ToLower(code)]
	return ok
}

func (r *Registry) release(codes ...string) {
	for _, c := range codes {
		delete(r.reserved, c)
	}
}

func (r *Registry) build(ctx context.Context, id, joinCode, watchCode, creatorID string) (*domain.Room, bool, error) {
	l := pkglog.L()

	router, err := r.routers.CreateRouterForRoom(ctx, id)
	if err != nil {
		r.mu.Lock()
		r.release(joinCode, watchCode)
		r.mu.Unlock()
		return nil, false, fmt.Errorf("failed to create router: %w", err)
	}

	room := domain.NewRoom(id, joinCode, watchCode, creatorID, router)

	r.mu.Lock()
	r.release(joinCode, watchCode)
	existing, ok := r.rooms[id]
	if ok && !existing.Closed() {
		r.mu.Unlock()
		router.Close()
		return existing, false, nil
	}
	if ok {
		// A closed room still registered under id is displaced here.
		r.unindexLocked(existing)
	}
	r.rooms[id] = room
	r.byJoinCode[joinCode] = room
	r.byWatchCode[watchCode] = room
	r.mu.Unlock()

	if ok {
		r.teardown(existing)
	}

	l.Info().
		Str(pkglog.FieldRoomID, id).
		Str(pkglog.FieldJoinCode, joinCode).
		Str(pkglog.FieldWatchCode, watchCode).
		Str(pkglog.FieldPeerID, creatorID).
		Msg("room created")

	r.publish(pubsub.EventRoomCreated, room)
	return room, true, nil
}

func (r *Registry) GetRoom(id string) (*domain.Room, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	room, ok := r.rooms[id]
	return room, ok
}

// GetRoomByJoinCode looks a room up by join code, case-insensitively.
func (r *Registry) GetRoomByJoinCode(code string) (*domain.Room, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	room, ok := r.byJoinCode[codegen.Normalize(code)]
	return room, ok
}

// GetRoomByWatchCode looks a room up by watch code, case-insensitively.
func (r *Registry) GetRoomByWatchCode(code string) (*domain.Room, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	room, ok := r.byWatchCode[codegen.Normalize(code)]
	return room, ok
}

// RemoveRoom unregisters the room with the given id and tears it down under
// its operation lock: the room is closed to joins, every peer is evicted
// with its media handles closed, and the codes are freed. Removing an
// unknown id returns false.
func (r *Registry) RemoveRoom(id string) bool {
	room, ok := r.GetRoom(id)
	if !ok {
		return false
	}

	room.Lock()
	defer room.Unlock()
	room.MarkClosed()
	if !r.RemoveRoomInstance(room) {
		return false
	}
	room.ClosePeers()
	return true
}

// RemoveRoomInstance unregisters room only if it is still the instance held
// under its id. The caller marks it closed, normally under the room lock.
func (r *Registry) RemoveRoomInstance(room *domain.Room) bool {
	r.mu.Lock()
	current, ok := r.rooms[room.ID]
	ok = ok && current == room
	if ok {
		r.unindexLocked(room)
	}
	r.mu.Unlock()
	if !ok {
		return false
	}
	r.teardown(room)
	return true
}

func (r *Registry) unindexLocked(room *domain.Room) {
	delete(r.rooms, room.ID)
	if r.byJoinCode[room.JoinCode] == room {
		delete(r.byJoinCode, room.JoinCode)
	}
	if r.byWatchCode[room.WatchCode] == room {
		delete(r.byWatchCode, room.WatchCode)
	}
}

func (r *Registry) teardown(room *domain.Room) {
	l := pkglog.L()
	if router := room.Router(); router != nil {
		if err := router.Close(); err != nil {
			l.Warn().Err(err).Str(pkglog.FieldRoomID, room.ID).Msg("failed to close router")
		}
	}
	l.Info().Str(pkglog.FieldRoomID, room.ID).Str(pkglog.FieldJoinCode, room.JoinCode).Msg("room removed")
	r.publish(pubsub.EventRoomRemoved, room)
}

// Rooms returns every registered room, oldest first.
func (r *Registry) Rooms() []*domain.Room {
	r.mu.RLock()
	out := make([]*domain.Room, 0, len(r.rooms))
	for _, room := range r.rooms {
		out = append(out, room)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// LiveRooms returns the rooms currently flagged live.
func (r *Registry) LiveRooms() []*domain.Room {
	var out []*domain.Room
	for _, room := range r.Rooms() {
		if room.IsLive() {
			out = append(out, room)
		}
	}
	return out
}

func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms)
}

func (r *Registry) Stats() Stats {
	rooms := r.Rooms()
	s := Stats{
		TotalRooms: len(rooms),
		Rooms:      make([]domain.RoomStats, 0, len(rooms)),
	}
	for _, room := range rooms {
		rs := room.Stats()
		s.TotalPeers += rs.PeerCount
		if rs.IsLive {
			s.LiveRooms++
		}
		s.Rooms = append(s.Rooms, rs)
	}
	return s
}

// CleanupEmptyRooms removes rooms that have had no peers for at least grace.
// Each room is checked under its own operation lock so a concurrent join
// either lands first and keeps the room or finds it closed. onRemove, when
// set, runs for each removed room while that lock is still held.
func (r *Registry) CleanupEmptyRooms(grace time.Duration, onRemove func(*domain.Room)) []*domain.Room {
	now := time.Now()
	var removed []*domain.Room
	for _, room := range r.Rooms() {
		room.Lock()
		if room.IsEmpty() && !room.Closed() && room.EmptyFor(now) >= grace {
			room.MarkClosed()
			if r.RemoveRoomInstance(room) {
				if onRemove != nil {
					onRemove(room)
				}
				removed = append(removed, room)
			}
		}
		room.Unlock()
	}
	return removed
}

// CloseAll unregisters every room, closing its peers and router.
func (r *Registry) CloseAll() []*domain.Room {
	r.mu.Lock()
	rooms := make([]*domain.Room, 0, len(r.rooms))
	for _, room := range r.rooms {
		rooms = append(rooms, room)
	}
	r.rooms = make(map[string]*domain.Room)
	r.byJoinCode = make(map[string]*domain.Room)
	r.byWatchCode = make(map[string]*domain.Room)
	r.mu.Unlock()

	for _, room := range rooms {
		room.Lock()
		room.MarkClosed()
		room.ClosePeers()
		room.Unlock()
		r.teardown(room)
	}
	return rooms
}

func (r *Registry) publish(eventType string, room *domain.Room) {
	event, err := pubsub.NewEvent(eventType, room.ID, pubsub.RoomPayload{
		JoinCode:  room.JoinCode,
		WatchCode: room.WatchCode,
		CreatorID: room.CreatorID,
	})
	if err != nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()
	if err := r.publisher.Publish(ctx, pubsub.RoomEventsChannel(room.ID), event); err != nil {
		l := pkglog.L()
		l.Warn().Err(err).Str(pkglog.FieldRoomID, room.ID).Str(pkglog.FieldEventType, eventType).Msg("failed to publish room event")
	}
}
