package live

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/weiawesome/wes-io-live/coordinator/internal/config"
)

// SessionState represents the state of a live session.
type SessionState int

const (
	// SessionStarting indicates the pipeline was spawned and has not produced a playlist yet.
	SessionStarting SessionState = iota
	// SessionActive indicates the playlist is being written.
	SessionActive
	// SessionStopped indicates the pipeline is gone.
	SessionStopped
)

// String returns the string representation of SessionState.
func (s SessionState) String() string {
	switch s {
	case SessionStarting:
		return "starting"
	case SessionActive:
		return "active"
	case SessionStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

func (s SessionState) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

func (s *SessionState) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return err
	}
	switch name {
	case "starting":
		*s = SessionStarting
	case "active":
		*s = SessionActive
	case "stopped":
		*s = SessionStopped
	default:
		return fmt.Errorf("unknown session state %q", name)
	}
	return nil
}

// LiveSession is one run of the HLS pipeline for a room.
type LiveSession struct {
	RoomID    string       `json:"room_id"`
	SessionID string       `json:"session_id"`
	State     SessionState `json:"state"`
	PID       int          `json:"pid"`
	HLSUrl    string       `json:"hls_url"`
	OutputDir string       `json:"output_dir"`
	Input     string       `json:"input"`
	StartedAt time.Time    `json:"started_at"`
	ReadyAt   *time.Time   `json:"ready_at,omitempty"`
}

// IsActive returns true while the pipeline is starting or running.
func (s *LiveSession) IsActive() bool {
	return s.State == SessionStarting || s.State == SessionActive
}

// SessionStore keeps live session records. One record per room.
type SessionStore interface {
	// Save stores or updates a session.
	Save(ctx context.Context, session *LiveSession) error

	// Get retrieves the session for a room, nil when there is none.
	Get(ctx context.Context, roomID string) (*LiveSession, error)

	// Delete removes a session from the store.
	Delete(ctx context.Context, roomID string) error

	// List returns every stored session.
	List(ctx context.Context) ([]*LiveSession, error)

	Close() error
}

// NewSessionStore builds the store selected by cfg.Driver.
func NewSessionStore(cfg config.SessionStoreConfig) (SessionStore, error) {
	switch cfg.Driver {
	case "", "memory":
		return NewMemorySessionStore(), nil
	case "redis":
		return NewRedisSessionStore(cfg.Redis)
	default:
		return nil, fmt.Errorf("unknown session store driver %q", cfg.Driver)
	}
}
