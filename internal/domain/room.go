package domain

import (
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/weiawesome/wes-io-live/coordinator/internal/engine"
)

var roomIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

// ValidRoomID reports whether id is usable as a room id. Ids double as
// path segments under the HLS output directory.
func ValidRoomID(id string) bool {
	return roomIDPattern.MatchString(id)
}

// Room is an interactive session addressed by id, join code and watch code.
type Room struct {
	ID        string
	JoinCode  string
	WatchCode string
	CreatorID string
	CreatedAt time.Time

	router engine.Router

	// op serializes membership and live transitions for this room.
	op sync.Mutex

	mu          sync.RWMutex
	title       string
	description string
	isLive      bool
	closed      bool
	emptySince  time.Time
	peers       map[string]*Peer
}

// RoomSnapshot is the JSON view of a room.
type RoomSnapshot struct {
	ID          string    `json:"id"`
	JoinCode    string    `json:"joinCode"`
	WatchCode   string    `json:"watchCode"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	IsLive      bool      `json:"isLive"`
	CreatorID   string    `json:"creatorId"`
	PeerCount   int       `json:"peerCount"`
	Peers       []string  `json:"peers"`
	CreatedAt   time.Time `json:"createdAt"`
}

// RoomStats is the compact per-room entry of the registry stats.
type RoomStats struct {
	ID        string    `json:"id"`
	JoinCode  string    `json:"joinCode"`
	WatchCode string    `json:"watchCode"`
	PeerCount int       `json:"peerCount"`
	IsLive    bool      `json:"isLive"`
	CreatedAt time.Time `json:"createdAt"`
}

func NewRoom(id, joinCode, watchCode, creatorID string, router engine.Router) *Room {
	now := time.Now()
	return &Room{
		ID:         id,
		JoinCode:   joinCode,
		WatchCode:  watchCode,
		CreatorID:  creatorID,
		CreatedAt:  now,
		router:     router,
		emptySince: now,
		peers:      make(map[string]*Peer),
	}
}

func (r *Room) Router() engine.Router { return r.router }

// Lock takes the room's operation lock.
func (r *Room) Lock() { r.op.Lock() }

func (r *Room) Unlock() { r.op.Unlock() }

// AddPeer adds a peer to an open room.
func (r *Room) AddPeer(p *Peer) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return ErrRoomClosed
	}
	if _, ok := r.peers[p.ID]; ok {
		return ErrDuplicatePeer
	}
	r.peers[p.ID] = p
	r.emptySince = time.Time{}
	return nil
}

func (r *Room) GetPeer(id string) (*Peer, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.peers[id]
	return p, ok
}

// RemovePeer removes and returns a peer. It does not close it.
func (r *Room) RemovePeer(id string) (*Peer, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.peers[id]
	if !ok {
		return nil, false
	}
	delete(r.peers, id)
	if len(r.peers) == 0 {
		r.emptySince = time.Now()
	}
	return p, true
}

// Peers returns a snapshot of the current peers.
func (r *Room) Peers() []*Peer {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Peer, 0, len(r.peers))
	for _, p := range r.peers {
		out = append(out, p)
	}
	return out
}

// PeerIDs returns the sorted ids of the current peers.
func (r *Room) PeerIDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.peerIDsLocked()
}

func (r *Room) peerIDsLocked() []string {
	ids := make([]string, 0, len(r.peers))
	for id := range r.peers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (r *Room) PeerCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.peers)
}

func (r *Room) IsEmpty() bool {
	return r.PeerCount() == 0
}

// EmptyFor reports how long the room has had no peers, zero when occupied.
func (r *Room) EmptyFor(now time.Time) time.Duration {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if len(r.peers) > 0 || r.emptySince.IsZero() {
		return 0
	}
	return now.Sub(r.emptySince)
}

func (r *Room) IsCreator(peerID string) bool {
	return peerID != "" && peerID == r.CreatorID
}

func (r *Room) SetLive(live bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.isLive = live
}

func (r *Room) IsLive() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.isLive
}

// UpdateDetails replaces title and description. Blank values are trimmed.
func (r *Room) UpdateDetails(title, description string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.title = strings.TrimSpace(title)
	r.description = strings.TrimSpace(description)
}

func (r *Room) Details() (title, description string) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.title, r.description
}

// MarkClosed stops the room from accepting peers. It reports whether this
// call closed it.
func (r *Room) MarkClosed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return false
	}
	r.closed = true
	return true
}

func (r *Room) Closed() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.closed
}

func (r *Room) Snapshot() RoomSnapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return RoomSnapshot{
		ID:          r.ID,
		JoinCode:    r.JoinCode,
		WatchCode:   r.WatchCode,
		Title:       r.title,
		Description: r.description,
		IsLive:      r.isLive,
		CreatorID:   r.CreatorID,
		PeerCount:   len(r.peers),
		Peers:       r.peerIDsLocked(),
		CreatedAt:   r.CreatedAt,
	}
}

func (r *Room) Stats() RoomStats {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return RoomStats{
		ID:        r.ID,
		JoinCode:  r.JoinCode,
		WatchCode: r.WatchCode,
		PeerCount: len(r.peers),
		IsLive:    r.isLive,
		CreatedAt: r.CreatedAt,
	}
}

// Broadcast sends a message to every peer except fromID and returns the ids
// that could not be reached.
func (r *Room) Broadcast(fromID string, message any) []string {
	peers := r.Peers()
	out := peers[:0]
	for _, p := range peers {
		if p.ID != fromID {
			out = append(out, p)
		}
	}
	return BroadcastTo(out, message)
}

// BroadcastTo sends a message to an explicit set of peers.
func BroadcastTo(peers []*Peer, message any) []string {
	var failed []string
	for _, p := range peers {
		if err := p.Send(message); err != nil {
			failed = append(failed, p.ID)
		}
	}
	return failed
}

// ClosePeers removes and evicts every peer. Used when tearing the room down.
func (r *Room) ClosePeers() []*Peer {
	r.mu.Lock()
	peers := make([]*Peer, 0, len(r.peers))
	for _, p := range r.peers {
		peers = append(peers, p)
	}
	r.peers = make(map[string]*Peer)
	r.emptySince = time.Now()
	r.mu.Unlock()

	for _, p := range peers {
		p.Evict(r.ID)
	}
	return peers
}
