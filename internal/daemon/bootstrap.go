// SPDX-License-Identifier: MIT

// Package daemon wires the engine, its stores and the HTTP API into a
// running process and owns its lifecycle.
package daemon

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ManuGH/camcore/internal/api"
	"github.com/ManuGH/camcore/internal/cache"
	"github.com/ManuGH/camcore/internal/camera"
	"github.com/ManuGH/camcore/internal/config"
	"github.com/ManuGH/camcore/internal/engine"
	"github.com/ManuGH/camcore/internal/health"
	"github.com/ManuGH/camcore/internal/log"
	"github.com/ManuGH/camcore/internal/recordings"
	"github.com/ManuGH/camcore/internal/telemetry"
)

const serviceName = "camcore"

// Runtime is a bootstrapped daemon ready to run.
type Runtime struct {
	App     *App
	Engine  *engine.Engine
	Health  *health.Manager
	Manager Manager
}

// Bootstrap builds every runtime component from cfg. Resources acquired
// before a failure are released before returning.
func Bootstrap(ctx context.Context, cfg config.AppConfig) (_ *Runtime, err error) {
	logger := log.WithComponent("daemon")

	var cleanups []func()
	defer func() {
		if err != nil {
			for i := len(cleanups) - 1; i >= 0; i-- {
				cleanups[i]()
			}
		}
	}()

	tp, err := telemetry.NewProvider(ctx, telemetry.Config{
		Enabled:        cfg.Telemetry.Enabled,
		ServiceName:    serviceName,
		ServiceVersion: cfg.Version,
		ExporterType:   cfg.Telemetry.ExporterType,
		Endpoint:       cfg.Telemetry.Endpoint,
		SamplingRate:   cfg.Telemetry.SamplingRate,
	})
	if err != nil {
		logger.Warn().Err(err).Msg("Telemetry initialization failed, continuing without tracing")
		tp = nil
	}
	if tp != nil {
		cleanups = append(cleanups, func() { _ = tp.Shutdown(context.Background()) })
	}

	hm := health.NewManager(cfg.Version)
	hm.RegisterChecker(health.NewBinaryChecker("ffmpeg", cfg.FFmpeg.Bin))
	hm.RegisterChecker(health.NewFileChecker("cameras_file", cfg.CamerasFile))

	var store cache.Store
	switch cfg.Snapshot.Backend {
	case "redis":
		rs, err := cache.NewRedisStore(ctx, cache.RedisConfig{
			Addr:     cfg.Snapshot.Redis.Addr,
			Password: cfg.Snapshot.Redis.Password,
			DB:       cfg.Snapshot.Redis.DB,
			Prefix:   serviceName + ":",
		}, log.WithComponent("cache"))
		if err != nil {
			return nil, fmt.Errorf("snapshot cache: %w", err)
		}
		hm.RegisterChecker(health.NewFuncChecker("snapshot_cache", rs.HealthCheck))
		store = rs
	default:
		store = cache.NewMemoryStore()
	}
	cleanups = append(cleanups, func() { _ = store.Close() })

	if err := os.MkdirAll(cfg.Recordings.Root, 0o750); err != nil {
		return nil, fmt.Errorf("recordings root: %w", err)
	}
	catalogue, err := recordings.NewSqliteStore(cfg.Recordings.Database)
	if err != nil {
		return nil, fmt.Errorf("recordings catalogue: %w", err)
	}
	cleanups = append(cleanups, func() { _ = catalogue.Close() })
	hm.RegisterChecker(health.NewFuncChecker("recordings_db", catalogue.Check))

	registry, err := camera.NewFileRegistry(cfg.CamerasFile)
	if err != nil {
		return nil, fmt.Errorf("cameras: %w", err)
	}

	eng := engine.New(engine.Options{
		FFmpegBin:       cfg.FFmpeg.Bin,
		KillTimeout:     cfg.FFmpeg.KillTimeout,
		FFmpegVersion:   cfg.FFmpeg.Version,
		SnapshotTTL:     cfg.Snapshot.TTL,
		SingleFlight:    cfg.Snapshot.SingleFlight,
		RecordingsRoot:  cfg.Recordings.Root,
		ProductTag:      cfg.Recordings.ProductTag,
		Author:          cfg.Recordings.Author,
		ClipDuration:    cfg.Recordings.ClipDuration,
		RelaunchDelay:   cfg.Recordings.RelaunchDelay,
		ThumbnailOffset: cfg.Recordings.ThumbnailOffset,
		PrebufferLength: cfg.Stream.PrebufferLength,
		AcceptTimeout:   cfg.Stream.AcceptTimeout,
	}, engine.Deps{
		Registry:   registry,
		Prebuffers: camera.NewPrebuffers(),
		Cache:      store,
		Recordings: catalogue,
	})

	srv := api.New(api.Config{
		RecordingsRoot:    cfg.Recordings.Root,
		ProductTag:        cfg.Recordings.ProductTag,
		SnapshotRateLimit: cfg.API.SnapshotRateLimit,
		TracingService:    serviceName + "-api",
		ExternalMetrics:   cfg.API.MetricsListenAddr != "",
	}, eng, hm)

	mgr, err := NewManager(ServerConfig{
		ListenAddr:        cfg.API.ListenAddr,
		MetricsListenAddr: cfg.API.MetricsListenAddr,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       2 * time.Minute,
		MaxHeaderBytes:    1 << 20,
		ShutdownTimeout:   cfg.API.ShutdownTimeout,
	}, Deps{
		Logger:     logger,
		APIHandler: srv.Handler(),
	})
	if err != nil {
		_ = eng.Close()
		return nil, err
	}

	mgr.OnShutdown(StageEngine, "engine", func(context.Context) error { return eng.Close() })
	if tp != nil {
		mgr.OnShutdown(StageTelemetry, "telemetry", tp.Shutdown)
	}
	mgr.OnShutdown(StageStorage, "recordings_db", func(context.Context) error { return catalogue.Close() })

	return &Runtime{
		App:     NewApp(logger, mgr, registry, eng),
		Engine:  eng,
		Health:  hm,
		Manager: mgr,
	}, nil
}

// WaitForShutdown returns a context cancelled on SIGINT or SIGTERM.
func WaitForShutdown(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}
