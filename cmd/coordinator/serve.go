package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"github.com/weiawesome/wes-io-live/coordinator/internal/codegen"
	"github.com/weiawesome/wes-io-live/coordinator/internal/config"
	"github.com/weiawesome/wes-io-live/coordinator/internal/engine"
	"github.com/weiawesome/wes-io-live/coordinator/internal/handler"
	"github.com/weiawesome/wes-io-live/coordinator/internal/hub"
	"github.com/weiawesome/wes-io-live/coordinator/internal/live"
	"github.com/weiawesome/wes-io-live/coordinator/internal/registry"
	"github.com/weiawesome/wes-io-live/coordinator/internal/service"
	pkglog "github.com/weiawesome/wes-io-live/coordinator/pkg/log"
	"github.com/weiawesome/wes-io-live/coordinator/pkg/pubsub"
	"github.com/weiawesome/wes-io-live/coordinator/pkg/storage"
)

func runServe(cmd *cobra.Command, args []string) error {
	// Load configuration
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	pkglog.Init(cfg.Log)
	logger := pkglog.L()
	logger.Info().Str("version", version).Str("addr", cfg.Server.Addr()).Msg("starting coordinator")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Media engine worker; the coordinator is useless without it
	gateway := engine.NewGateway(engine.Config{
		ICEServers: cfg.Media.WebRTCICEServers(),
		UDPPortMin: cfg.Media.UDPPortMin,
		UDPPortMax: cfg.Media.UDPPortMax,
	})
	worker, err := gateway.Worker(ctx)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to create media worker")
	}
	logger.Info().Str("worker_id", worker.ID()).Msg("media worker ready")

	// Event publisher
	publisher, err := pubsub.NewPublisher(cfg.PubSub)
	if err != nil {
		logger.Fatal().Err(err).Str("driver", cfg.PubSub.Driver).Msg("failed to initialize event publisher")
	}

	// Live session store
	sessions, err := live.NewSessionStore(cfg.SessionStore)
	if err != nil {
		logger.Fatal().Err(err).Str("driver", cfg.SessionStore.Driver).Msg("failed to initialize session store")
	}

	// HLS output and optional remote mirror
	output, err := storage.NewLocalStorage(storage.LocalConfig{BasePath: cfg.HLS.OutputDir})
	if err != nil {
		logger.Fatal().Err(err).Str("dir", cfg.HLS.OutputDir).Msg("failed to prepare hls output")
	}

	var mirror *live.Mirror
	if cfg.Mirror.Driver == "s3" {
		remote, err := storage.New(ctx, storage.Config{Type: "s3", S3: cfg.Mirror.S3})
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to initialize s3 mirror")
		}
		mirror = live.NewMirror(remote, output.BasePath())
		logger.Info().Str("bucket", cfg.Mirror.S3.Bucket).Msg("hls mirror enabled")
	}

	orchestrator := live.NewOrchestrator(live.Options{
		Live:      cfg.Live,
		HLS:       cfg.HLS,
		Launcher:  live.NewFFmpegLauncher(cfg.HLS, cfg.FFmpeg),
		Store:     sessions,
		Output:    output,
		Mirror:    mirror,
		Publisher: publisher,
	})

	rooms := registry.New(gateway, codegen.New(cfg.Room.CodeAttempts), publisher)

	// Signaling
	wsHub := hub.NewHub(cfg.WebSocket)
	signalSvc := service.NewSignalService(wsHub, rooms, orchestrator, service.Options{
		Signal:     cfg.Signal,
		Room:       cfg.Room,
		Live:       cfg.Live,
		ICEServers: cfg.Media.WebRTCICEServers(),
	})
	if err := signalSvc.Start(ctx); err != nil {
		logger.Fatal().Err(err).Msg("failed to start signal service")
	}

	// HTTP
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), pkglog.GinMiddleware(logger, "/health", "/api/health"))
	handler.NewHandler(rooms, orchestrator).RegisterRoutes(router)
	handler.NewPlaybackHandler(output).RegisterRoutes(router)
	handler.NewICEHandler(cfg.Media.WebRTCICEServers()).RegisterRoutes(router)
	handler.NewWSHandler(wsHub, signalSvc, cfg.WebSocket).RegisterRoutes(router)

	server := &http.Server{
		Addr:        cfg.Server.Addr(),
		Handler:     router,
		ReadTimeout: 15 * time.Second,
		IdleTimeout: 60 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", server.Addr).Msg("coordinator listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-quit:
		logger.Info().Str("signal", sig.String()).Msg("shutting down coordinator")
	case err := <-serverErr:
		logger.Error().Err(err).Msg("server error, shutting down")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server forced to shutdown")
	}

	signalSvc.Stop()
	wsHub.CloseAll()

	liveCtx, liveCancel := context.WithTimeout(context.Background(), cfg.Live.ShutdownTimeout)
	defer liveCancel()
	if err := orchestrator.StopAll(liveCtx); err != nil {
		logger.Error().Err(err).Msg("failed to stop every live session")
	}

	closed := rooms.CloseAll()
	logger.Info().Int("rooms", len(closed)).Msg("rooms closed")

	if err := gateway.Shutdown(); err != nil {
		logger.Error().Err(err).Msg("failed to shut down media worker")
	}
	if err := publisher.Close(); err != nil {
		logger.Error().Err(err).Msg("failed to close event publisher")
	}
	if err := sessions.Close(); err != nil {
		logger.Error().Err(err).Msg("failed to close session store")
	}

	logger.Info().Msg("coordinator stopped")
	return nil
}
