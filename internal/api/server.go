// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package api is the HTTP adapter over the engine. It holds no media logic:
// handlers decode requests, call the engine and encode results.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/ManuGH/camcore/internal/api/middleware"
	"github.com/ManuGH/camcore/internal/fragments"
	"github.com/ManuGH/camcore/internal/health"
	"github.com/ManuGH/camcore/internal/recordings"
	"github.com/ManuGH/camcore/internal/snapshot"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Engine is the subset of the engine the API drives.
type Engine interface {
	Snapshot(ctx context.Context, name string, fromSub bool, persist *snapshot.Persist) ([]byte, error)
	StoreSnapshot(ctx context.Context, name string, data []byte, persist snapshot.Persist, external bool) error
	StoreVideo(ctx context.Context, name, path string, data []byte) error
	ConvertToMP4(ctx context.Context, name, tsPath, mp4Path string) error
	RecordClip(ctx context.Context, name string, duration time.Duration, dest string) error
	StartSurveillance(ctx context.Context, name string) error
	StopSurveillance(name string) error
	SurveillanceStatus(name string) (running bool, lastErr error)
	Recordings(ctx context.Context, name string) ([]recordings.Descriptor, error)
	OpenStream(ctx context.Context, name string) (*fragments.Session, error)
}

// Config configures the API server.
type Config struct {
	// RecordingsRoot receives stored snapshots.
	RecordingsRoot    string
	ProductTag        string
	SnapshotRateLimit int
	TracingService    string
	// MaxClipDuration bounds on-demand recordings.
	MaxClipDuration time.Duration
	// MaxUploadBytes bounds uploaded clips.
	MaxUploadBytes int64
	// ExternalMetrics leaves /metrics to a dedicated listener.
	ExternalMetrics bool
}

// Server serves the HTTP API.
type Server struct {
	cfg    Config
	engine Engine
	health *health.Manager
	now    func() time.Time
}

// New returns a Server.
func New(cfg Config, engine Engine, hm *health.Manager) *Server {
	if cfg.MaxClipDuration <= 0 {
		cfg.MaxClipDuration = time.Hour
	}
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = 512 << 20
	}
	return &Server{cfg: cfg, engine: engine, health: hm, now: time.Now}
}

// Handler returns the routed handler with the middleware stack applied.
func (s *Server) Handler() http.Handler {
	r := middleware.NewRouter(middleware.StackConfig{
		EnableSecurityHeaders: true,
		EnableMetrics:         true,
		TracingService:        s.cfg.TracingService,
		EnableLogging:         true,
	})

	r.Get("/healthz", s.health.ServeHealth)
	r.Get("/readyz", s.health.ServeReady)
	if !s.cfg.ExternalMetrics {
		r.Handle("/metrics", promhttp.Handler())
	}

	r.Route("/api/cameras/{name}", func(r chi.Router) {
		r.With(middleware.SnapshotRateLimit(s.cfg.SnapshotRateLimit)).Get("/snapshot", s.handleSnapshot)
		r.Post("/snapshots", s.handleStoreSnapshot)
		r.Get("/recordings", s.handleListRecordings)
		r.Post("/recordings", s.handleRecordClip)
		r.Put("/recordings/{file}", s.handleUploadClip)
		r.Post("/recordings/convert", s.handleConvert)
		r.Get("/surveillance", s.handleSurveillanceStatus)
		r.Post("/surveillance", s.handleStartSurveillance)
		r.Delete("/surveillance", s.handleStopSurveillance)
		r.Get("/live", s.handleLive)
	})
	return r
}
