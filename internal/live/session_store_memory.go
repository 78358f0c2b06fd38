package live

import (
	"context"
	"sort"
	"sync"
)

// MemorySessionStore is an in-memory implementation of SessionStore.
type MemorySessionStore struct {
	sessions map[string]*LiveSession // roomID -> session
	mu       sync.RWMutex
}

func NewMemorySessionStore() *MemorySessionStore {
	return &MemorySessionStore{
		sessions: make(map[string]*LiveSession),
	}
}

func (s *MemorySessionStore) Save(ctx context.Context, session *LiveSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sessionCopy := *session
	s.sessions[session.RoomID] = &sessionCopy
	return nil
}

func (s *MemorySessionStore) Get(ctx context.Context, roomID string) (*LiveSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	session, exists := s.sessions[roomID]
	if !exists {
		return nil, nil
	}
	sessionCopy := *session
	return &sessionCopy, nil
}

func (s *MemorySessionStore) Delete(ctx context.Context, roomID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.sessions, roomID)
	return nil
}

// List returns sessions ordered by start time.
func (s *MemorySessionStore) List(ctx context.Context) ([]*LiveSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*LiveSession, 0, len(s.sessions))
	for _, session := range s.sessions {
		sessionCopy := *session
		result = append(result, &sessionCopy)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].StartedAt.Before(result[j].StartedAt)
	})
	return result, nil
}

func (s *MemorySessionStore) Close() error { return nil }

var _ SessionStore = (*MemorySessionStore)(nil)
