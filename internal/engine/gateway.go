package engine

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/pion/interceptor"
	"github.com/pion/interceptor/pkg/intervalpli"
	"github.com/pion/webrtc/v4"
	pkglog "github.com/weiawesome/wes-io-live/coordinator/pkg/log"
	"golang.org/x/sync/singleflight"
)

// Config configures the worker.
type Config struct {
	ICEServers []webrtc.ICEServer
	UDPPortMin uint16
	UDPPortMax uint16
}

// Gateway lazily creates and memoizes the process-wide worker.
type Gateway struct {
	cfg   Config
	group singleflight.Group

	mu     sync.Mutex
	worker *Worker

	newWorker func(Config) (*Worker, error)
}

// NewGateway creates a Gateway. No worker exists until first use.
func NewGateway(cfg Config) *Gateway {
	return &Gateway{
		cfg:       cfg,
		newWorker: newWorker,
	}
}

// Worker returns the shared worker, creating it on first use. Concurrent
// callers share one creation attempt and receive the same worker or the same
// error. A failed attempt is not memoized.
func (g *Gateway) Worker(ctx context.Context) (*Worker, error) {
	if w := g.current(); w != nil {
		return w, nil
	}

	ch := g.group.DoChan("worker", func() (any, error) {
		if w := g.current(); w != nil {
			return w, nil
		}
		w, err := g.newWorker(g.cfg)
		if err != nil {
			return nil, err
		}

		g.mu.Lock()
		g.worker = w
		g.mu.Unlock()

		l := pkglog.L()
		l.Info().Str("worker_id", w.id).Msg("media worker created")
		return w, nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, fmt.Errorf("%w: %w", ErrWorkerUnavailable, res.Err)
		}
		return res.Val.(*Worker), nil
	}
}

func (g *Gateway) current() *Worker {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.worker != nil && !g.worker.Closed() {
		return g.worker
	}
	return nil
}

// CreateRouterForRoom returns a new router bound to the worker.
func (g *Gateway) CreateRouterForRoom(ctx context.Context, roomID string) (Router, error) {
	w, err := g.Worker(ctx)
	if err != nil {
		return nil, err
	}
	return w.CreateRouter(roomID)
}

// Shutdown closes the worker and with it every router and transport. A later
// Worker call creates a fresh worker.
func (g *Gateway) Shutdown() error {
	g.mu.Lock()
	w := g.worker
	g.worker = nil
	g.mu.Unlock()

	if w == nil {
		return nil
	}
	return w.Close()
}

// Worker owns the configured pion API and the routers created from it.
type Worker struct {
	id         string
	api        *webrtc.API
	iceServers []webrtc.ICEServer

	mu      sync.Mutex
	routers map[string]*router
	closed  bool
}

func newWorker(cfg Config) (*Worker, error) {
	m := &webrtc.MediaEngine{}
	if err := registerCodecs(m); err != nil {
		return nil, fmt.Errorf("failed to register codecs: %w", err)
	}

	i := &interceptor.Registry{}
	pli, err := intervalpli.NewReceiverInterceptor()
	if err != nil {
		return nil, fmt.Errorf("failed to create pli interceptor: %w", err)
	}
	i.Add(pli)
	if err := webrtc.RegisterDefaultInterceptors(m, i); err != nil {
		return nil, fmt.Errorf("failed to register interceptors: %w", err)
	}

	se := webrtc.SettingEngine{}
	if cfg.UDPPortMin > 0 && cfg.UDPPortMax >= cfg.UDPPortMin {
		if err := se.SetEphemeralUDPPortRange(cfg.UDPPortMin, cfg.UDPPortMax); err != nil {
			return nil, fmt.Errorf("invalid udp port range %d-%d: %w", cfg.UDPPortMin, cfg.UDPPortMax, err)
		}
	}

	return &Worker{
		id: uuid.New().String(),
		api: webrtc.NewAPI(
			webrtc.WithMediaEngine(m),
			webrtc.WithInterceptorRegistry(i),
			webrtc.WithSettingEngine(se),
		),
		iceServers: cfg.ICEServers,
		routers:    make(map[string]*router),
	}, nil
}

// registerCodecs registers VP8, VP9, H264 and Opus.
func registerCodecs(m *webrtc.MediaEngine) error {
	video := []webrtc.RTPCodecParameters{
		{RTPCodecCapability: webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8, ClockRate: 90000}, PayloadType: 96},
		{RTPCodecCapability: webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP9, ClockRate: 90000}, PayloadType: 98},
		{RTPCodecCapability: webrtc.RTPCodecCapability{
			MimeType:    webrtc.MimeTypeH264,
			ClockRate:   90000,
			SDPFmtpLine: "level-asymmetry-allowed=1;packetization-mode=1;profile-level-id=42001f",
		}, PayloadType: 102},
	}
	for _, c := range video {
		if err := m.RegisterCodec(c, webrtc.RTPCodecTypeVideo); err != nil {
			return err
		}
	}

	return m.RegisterCodec(webrtc.RTPCodecParameters{
		RTPCodecCapability: webrtc.RTPCodecCapability{
			MimeType:    webrtc.MimeTypeOpus,
			ClockRate:   48000,
			Channels:    2,
			SDPFmtpLine: "minptime=10;useinbandfec=1",
		},
		PayloadType: 111,
	}, webrtc.RTPCodecTypeAudio)
}

// ID returns the worker id.
func (w *Worker) ID() string { return w.id }

// CreateRouter returns a router for roomID.
func (w *Worker) CreateRouter(roomID string) (Router, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil, fmt.Errorf("%w: worker %s", ErrClosed, w.id)
	}

	r := &router{
		id:         uuid.New().String(),
		roomID:     roomID,
		worker:     w,
		transports: make(map[string]*transport),
	}
	w.routers[r.id] = r
	return r, nil
}

// RouterCount returns the number of open routers.
func (w *Worker) RouterCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.routers)
}

// Closed reports whether Close was called.
func (w *Worker) Closed() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.closed
}

// Close closes every router created by this worker.
func (w *Worker) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	routers := make([]*router, 0, len(w.routers))
	for _, r := range w.routers {
		routers = append(routers, r)
	}
	w.mu.Unlock()

	for _, r := range routers {
		r.Close()
	}

	l := pkglog.L()
	l.Info().Str("worker_id", w.id).Int("routers", len(routers)).Msg("media worker closed")
	return nil
}

func (w *Worker) removeRouter(id string) {
	w.mu.Lock()
	delete(w.routers, id)
	w.mu.Unlock()
}
