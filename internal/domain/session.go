package domain

import (
	"sync"
	"time"
)

// ConnState is the signaling state of one WebSocket connection.
type ConnState int

const (
	StateConnected ConnState = iota
	StateInRoom
	StateDisconnected
)

func (s ConnState) String() string {
	switch s {
	case StateConnected:
		return "connected"
	case StateInRoom:
		return "in_room"
	case StateDisconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

// Session represents a client's WebSocket session.
type Session struct {
	ID           string
	CreatedAt    time.Time
	state        ConnState
	roomID       string
	lastActiveAt time.Time
	mu           sync.RWMutex
}

// NewSession creates a new session in the Connected state.
func NewSession(id string) *Session {
	now := time.Now()
	return &Session{
		ID:           id,
		CreatedAt:    now,
		lastActiveAt: now,
	}
}

func (s *Session) State() ConnState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// RoomID returns the current room, empty unless InRoom.
func (s *Session) RoomID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.roomID
}

// Allows reports whether a client message type may be handled in the
// current state.
func (s *Session) Allows(msgType string) bool {
	state := s.State()
	switch msgType {
	case MsgTypePing:
		return true
	case MsgTypeJoinRoom, MsgTypeJoinRoomByCode:
		return state == StateConnected
	case MsgTypeOffer, MsgTypeAnswer, MsgTypeICECandidate:
		return state == StateConnected || state == StateInRoom
	default:
		return state == StateInRoom
	}
}

// Check is Allows with the reason a refused message is refused.
func (s *Session) Check(msgType string) error {
	if s.Allows(msgType) {
		return nil
	}
	switch s.State() {
	case StateDisconnected:
		return ErrDisconnected
	case StateInRoom:
		return ErrAlreadyInRoom
	}
	return ErrNotInRoom
}

// EnterRoom moves Connected -> InRoom.
func (s *Session) EnterRoom(roomID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.state {
	case StateInRoom:
		return ErrAlreadyInRoom
	case StateDisconnected:
		return ErrDisconnected
	}
	s.state = StateInRoom
	s.roomID = roomID
	s.lastActiveAt = time.Now()
	return nil
}

// Disconnect moves to the terminal state and returns the room the session
// was in, if any. Calling it again returns an empty room id.
func (s *Session) Disconnect() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	roomID := s.roomID
	s.state = StateDisconnected
	s.roomID = ""
	s.lastActiveAt = time.Now()
	return roomID
}

// ReleaseRoom moves InRoom(roomID) back to Connected when the room is torn
// down underneath the session. It is a no-op in any other state.
func (s *Session) ReleaseRoom(roomID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateInRoom || s.roomID != roomID {
		return false
	}
	s.state = StateConnected
	s.roomID = ""
	return true
}

// UpdateActivity updates the last active timestamp.
func (s *Session) UpdateActivity() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastActiveAt = time.Now()
}

func (s *Session) LastActiveAt() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastActiveAt
}
