// Package live runs the per-room HLS pipeline.
package live

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/oklog/ulid/v2"
	"golang.org/x/sync/errgroup"

	"github.com/weiawesome/wes-io-live/coordinator/internal/config"
	"github.com/weiawesome/wes-io-live/coordinator/internal/engine"
	pkglog "github.com/weiawesome/wes-io-live/coordinator/pkg/log"
	"github.com/weiawesome/wes-io-live/coordinator/pkg/pubsub"
	"github.com/weiawesome/wes-io-live/coordinator/pkg/storage"
)

const publishTimeout = 2 * time.Second

var (
	ErrInvalidRoom  = errors.New("live: invalid room id")
	ErrLaunchFailed = errors.New("live: pipeline failed to start")
)

// OutputStore is the local store the pipeline writes into.
type OutputStore interface {
	storage.Storage
	BasePath() string
}

// StartRequest names the room and the video to feed the pipeline. A nil
// Video makes the launcher fall back to its configured input.
type StartRequest struct {
	RoomID string
	Video  engine.Producer
}

// Options wires an Orchestrator.
type Options struct {
	Live      config.LiveConfig
	HLS       config.HLSConfig
	Launcher  Launcher
	Store     SessionStore
	Output    OutputStore
	Mirror    *Mirror
	Publisher pubsub.Publisher
}

// Orchestrator owns at most one pipeline per room. Start and Stop for the
// same room are serialized; different rooms proceed in parallel.
type Orchestrator struct {
	cfg       config.LiveConfig
	hls       config.HLSConfig
	launcher  Launcher
	store     SessionStore
	output    OutputStore
	mirror    *Mirror
	publisher pubsub.Publisher

	locksMu sync.Mutex
	locks   map[string]*roomLock

	mu   sync.RWMutex
	runs map[string]*run
}

type roomLock struct {
	mu   sync.Mutex
	refs int
}

// run is one spawned pipeline.
type run struct {
	mu       sync.Mutex
	session  LiveSession
	proc     Process
	stop     chan struct{}
	stopping atomic.Bool
}

func (r *run) snapshot() LiveSession {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.session
}

func NewOrchestrator(opts Options) *Orchestrator {
	if opts.Store == nil {
		opts.Store = NewMemorySessionStore()
	}
	if opts.Publisher == nil {
		opts.Publisher = pubsub.NopPublisher{}
	}
	return &Orchestrator{
		cfg:       opts.Live,
		hls:       opts.HLS,
		launcher:  opts.Launcher,
		store:     opts.Store,
		output:    opts.Output,
		mirror:    opts.Mirror,
		publisher: opts.Publisher,
		locks:     make(map[string]*roomLock),
		runs:      make(map[string]*run),
	}
}

func (o *Orchestrator) lockRoom(roomID string) func() {
	o.locksMu.Lock()
	rl, ok := o.locks[roomID]
	if !ok {
		rl = &roomLock{}
		o.locks[roomID] = rl
	}
	rl.refs++
	o.locksMu.Unlock()

	rl.mu.Lock()
	return func() {
		rl.mu.Unlock()
		o.locksMu.Lock()
		rl.refs--
		if rl.refs == 0 {
			delete(o.locks, roomID)
		}
		o.locksMu.Unlock()
	}
}

// URL is the playback URL for a room. It does not depend on whether a
// pipeline is running.
func (o *Orchestrator) URL(roomID string) string {
	return strings.TrimRight(o.hls.PublicBase, "/") + "/" + roomID + "/" + PlaylistName
}

// IsActive reports whether the room's pipeline is starting or running.
func (o *Orchestrator) IsActive(roomID string) bool {
	o.mu.RLock()
	r, ok := o.runs[roomID]
	o.mu.RUnlock()
	if !ok {
		return false
	}
	s := r.snapshot()
	return s.IsActive()
}

// Session returns the in-process view of the room's pipeline.
func (o *Orchestrator) Session(roomID string) (LiveSession, bool) {
	o.mu.RLock()
	r, ok := o.runs[roomID]
	o.mu.RUnlock()
	if !ok {
		return LiveSession{}, false
	}
	return r.snapshot(), true
}

// Sessions lists the stored session records.
func (o *Orchestrator) Sessions(ctx context.Context) ([]*LiveSession, error) {
	return o.store.List(ctx)
}

// Start launches a pipeline for the room, stopping and cleaning up any
// previous one first.
func (o *Orchestrator) Start(ctx context.Context, req StartRequest) (*LiveSession, error) {
	if req.RoomID == "" || req.RoomID != filepath.Base(req.RoomID) || strings.HasPrefix(req.RoomID, ".") {
		return nil, ErrInvalidRoom
	}
	l := pkglog.L()

	unlock := o.lockRoom(req.RoomID)
	defer unlock()

	if err := o.stopLocked(ctx, req.RoomID, "restart"); err != nil {
		l.Warn().Err(err).Str(pkglog.FieldRoomID, req.RoomID).Msg("cleanup before start failed")
	}
	if err := o.removeArtifacts(ctx, req.RoomID); err != nil {
		l.Warn().Err(err).Str(pkglog.FieldRoomID, req.RoomID).Msg("failed to remove stale artifacts")
	}

	outputDir := filepath.Join(o.output.BasePath(), req.RoomID)
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}

	proc, err := o.launcher.Launch(ctx, Job{
		RoomID:    req.RoomID,
		OutputDir: outputDir,
		Video:     req.Video,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrLaunchFailed, err)
	}

	r := &run{
		session: LiveSession{
			RoomID:    req.RoomID,
			SessionID: ulid.Make().String(),
			State:     SessionStarting,
			PID:       proc.PID(),
			HLSUrl:    o.URL(req.RoomID),
			OutputDir: outputDir,
			Input:     proc.Input(),
			StartedAt: time.Now(),
		},
		proc: proc,
		stop: make(chan struct{}),
	}

	o.mu.Lock()
	o.runs[req.RoomID] = r
	o.mu.Unlock()

	session := r.snapshot()
	if err := o.store.Save(ctx, &session); err != nil {
		l.Warn().Err(err).Str(pkglog.FieldRoomID, req.RoomID).Msg("failed to save live session")
	}

	if o.mirror != nil {
		if err := o.mirror.Start(req.RoomID); err != nil {
			l.Warn().Err(err).Str(pkglog.FieldRoomID, req.RoomID).Msg("failed to start mirror")
		}
	}

	go o.awaitReady(r)
	go o.monitor(r)

	l.Info().
		Str(pkglog.FieldRoomID, req.RoomID).
		Str(pkglog.FieldSessionID, session.SessionID).
		Int(pkglog.FieldPID, session.PID).
		Msg("live session started")
	o.publish(pubsub.EventLiveStarted, session, "")
	return &session, nil
}

// Stop terminates the room's pipeline and removes its artifacts. Stopping a
// room without a pipeline does nothing.
func (o *Orchestrator) Stop(ctx context.Context, roomID string) error {
	unlock := o.lockRoom(roomID)
	defer unlock()
	return o.stopLocked(ctx, roomID, "stopped")
}

// CurrentSession returns the session id of the room's registered run, which
// may already have exited on its own. It is empty when nothing is registered.
func (o *Orchestrator) CurrentSession(roomID string) string {
	o.mu.RLock()
	r, ok := o.runs[roomID]
	o.mu.RUnlock()
	if !ok {
		return ""
	}
	s := r.snapshot()
	return s.SessionID
}

// StopSession stops the room's pipeline only while sessionID is still the
// registered run. A caller that captured the id earlier cannot stop a newer
// run that replaced it. An empty sessionID does nothing.
func (o *Orchestrator) StopSession(ctx context.Context, roomID, sessionID string) error {
	if sessionID == "" {
		return nil
	}
	unlock := o.lockRoom(roomID)
	defer unlock()
	if o.CurrentSession(roomID) != sessionID {
		return nil
	}
	return o.stopLocked(ctx, roomID, "stopped")
}

func (o *Orchestrator) stopLocked(ctx context.Context, roomID, reason string) error {
	o.mu.Lock()
	r, ok := o.runs[roomID]
	delete(o.runs, roomID)
	o.mu.Unlock()
	if !ok {
		return nil
	}

	l := pkglog.L()
	r.mu.Lock()
	r.stopping.Store(true)
	r.mu.Unlock()
	close(r.stop)

	var errs []error
	if err := o.terminate(ctx, r.proc); err != nil {
		errs = append(errs, err)
	}
	if err := o.removeArtifacts(ctx, roomID); err != nil {
		errs = append(errs, err)
	}
	if err := o.store.Delete(ctx, roomID); err != nil {
		errs = append(errs, err)
	}

	r.mu.Lock()
	r.session.State = SessionStopped
	session := r.session
	r.mu.Unlock()

	l.Info().
		Str(pkglog.FieldRoomID, roomID).
		Str(pkglog.FieldSessionID, session.SessionID).
		Str("reason", reason).
		Msg("live session stopped")
	o.publish(pubsub.EventLiveStopped, session, reason)
	return errors.Join(errs...)
}

// terminate interrupts the process and kills it if it outlives the stop
// timeout.
func (o *Orchestrator) terminate(ctx context.Context, proc Process) error {
	select {
	case <-proc.Done():
		return nil
	default:
	}

	l := pkglog.L()
	if err := proc.Interrupt(); err != nil {
		l.Warn().Err(err).Int(pkglog.FieldPID, proc.PID()).Msg("failed to interrupt pipeline")
	}

	timer := time.NewTimer(o.cfg.StopTimeout)
	defer timer.Stop()

	select {
	case <-proc.Done():
		return nil
	case <-timer.C:
	case <-ctx.Done():
	}

	l.Warn().Int(pkglog.FieldPID, proc.PID()).Msg("pipeline did not exit in time, killing")
	if err := proc.Kill(); err != nil {
		return fmt.Errorf("failed to kill pipeline: %w", err)
	}

	select {
	case <-proc.Done():
		return nil
	case <-time.After(o.cfg.StopTimeout):
		return fmt.Errorf("pipeline %d did not exit after kill", proc.PID())
	}
}

func (o *Orchestrator) removeArtifacts(ctx context.Context, roomID string) error {
	var errs []error
	if exists, err := o.output.Exists(ctx, roomID); err != nil {
		errs = append(errs, err)
	} else if exists {
		if err := o.output.DeletePrefix(ctx, roomID+"/"); err != nil {
			errs = append(errs, err)
		}
	}
	if o.mirror != nil {
		if err := o.mirror.Remove(ctx, roomID); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// StopAll stops every pipeline concurrently. Failures are collected, not
// short-circuited.
func (o *Orchestrator) StopAll(ctx context.Context) error {
	o.mu.RLock()
	ids := make([]string, 0, len(o.runs))
	for id := range o.runs {
		ids = append(ids, id)
	}
	o.mu.RUnlock()

	var g errgroup.Group
	var mu sync.Mutex
	var errs []error
	for _, id := range ids {
		g.Go(func() error {
			if err := o.Stop(ctx, id); err != nil {
				mu.Lock()
				errs = append(errs, fmt.Errorf("room %s: %w", id, err))
				mu.Unlock()
			}
			return nil
		})
	}
	g.Wait()

	if o.mirror != nil {
		o.mirror.StopAll()
	}
	return errors.Join(errs...)
}

func (o *Orchestrator) awaitReady(r *run) {
	s := r.snapshot()
	signal := waitReady(s.OutputDir, o.cfg.ReadyGrace, r.stop)
	if signal == readyAborted {
		return
	}

	r.mu.Lock()
	if r.session.State != SessionStarting || r.stopping.Load() {
		r.mu.Unlock()
		return
	}
	now := time.Now()
	r.session.State = SessionActive
	r.session.ReadyAt = &now
	session := r.session
	r.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()
	if err := o.store.Save(ctx, &session); err != nil {
		l := pkglog.L()
		l.Warn().Err(err).Str(pkglog.FieldRoomID, session.RoomID).Msg("failed to save live session")
	}

	l := pkglog.L()
	l.Info().
		Str(pkglog.FieldRoomID, session.RoomID).
		Str(pkglog.FieldSessionID, session.SessionID).
		Str("signal", string(signal)).
		Msg("live session ready")
	o.publish(pubsub.EventLiveReady, session, string(signal))
}

// monitor degrades the session when the process exits on its own. The run
// stays registered so a later Start or Stop cleans its artifacts.
func (o *Orchestrator) monitor(r *run) {
	<-r.proc.Done()
	if r.stopping.Load() {
		return
	}

	r.mu.Lock()
	if r.stopping.Load() {
		r.mu.Unlock()
		return
	}
	r.session.State = SessionStopped
	session := r.session
	r.mu.Unlock()

	reason := "exited"
	if err := r.proc.Err(); err != nil {
		reason = err.Error()
	}

	l := pkglog.L()
	l.Error().
		Str(pkglog.FieldRoomID, session.RoomID).
		Str(pkglog.FieldSessionID, session.SessionID).
		Int(pkglog.FieldPID, session.PID).
		Str("reason", reason).
		Msg("live pipeline exited unexpectedly")

	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()
	if err := o.store.Save(ctx, &session); err != nil {
		l.Warn().Err(err).Str(pkglog.FieldRoomID, session.RoomID).Msg("failed to save live session")
	}
	o.publish(pubsub.EventLiveFailed, session, reason)
}

func (o *Orchestrator) publish(eventType string, s LiveSession, reason string) {
	event, err := pubsub.NewEvent(eventType, s.RoomID, pubsub.LivePayload{
		SessionID: s.SessionID,
		HLSUrl:    s.HLSUrl,
		Reason:    reason,
	})
	if err != nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()
	if err := o.publisher.Publish(ctx, pubsub.RoomEventsChannel(s.RoomID), event); err != nil {
		l := pkglog.L()
		l.Warn().Err(err).Str(pkglog.FieldRoomID, s.RoomID).Str(pkglog.FieldEventType, eventType).Msg("failed to publish live event")
	}
}
