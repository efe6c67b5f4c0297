// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package daemon

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/ManuGH/camcore/internal/log"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

const (
	defaultShutdownTimeout = 10 * time.Second
	defaultHookTimeout     = 5 * time.Second
)

// Stage orders the shutdown work that follows the HTTP drain. Stages run in
// ascending order; hooks within a stage run in registration order.
type Stage int

const (
	// StageEngine stops surveillance chains and remaining live streams.
	StageEngine Stage = iota
	// StageTelemetry flushes spans recorded while the engine stopped.
	StageTelemetry
	// StageStorage closes the recordings catalogue.
	StageStorage
)

func (s Stage) String() string {
	switch s {
	case StageEngine:
		return "engine"
	case StageTelemetry:
		return "telemetry"
	case StageStorage:
		return "storage"
	default:
		return fmt.Sprintf("stage(%d)", int(s))
	}
}

// ShutdownHook releases one component during shutdown.
type ShutdownHook func(ctx context.Context) error

// Manager runs the daemon's HTTP listeners and its staged shutdown.
type Manager interface {
	// Start serves until ctx is cancelled or a listener fails, then shuts
	// down.
	Start(ctx context.Context) error
	// Shutdown drains the listeners and runs the shutdown stages. Calls
	// after the first return nil.
	Shutdown(ctx context.Context) error
	// OnShutdown registers hook under stage.
	OnShutdown(stage Stage, name string, hook ShutdownHook)
}

type stageHook struct {
	stage Stage
	name  string
	run   ShutdownHook
}

type listener struct {
	name string
	srv  *http.Server
	ln   net.Listener
}

type manager struct {
	cfg    ServerConfig
	deps   Deps
	logger zerolog.Logger

	mu        sync.Mutex
	listeners []listener
	hooks     []stageHook
	started   bool
	stopping  bool
}

// NewManager validates deps and returns a Manager.
func NewManager(cfg ServerConfig, deps Deps) (Manager, error) {
	if err := deps.Validate(); err != nil {
		return nil, fmt.Errorf("invalid dependencies: %w", err)
	}
	if cfg.MetricsListenAddr != "" && cfg.MetricsListenAddr == cfg.ListenAddr {
		return nil, ErrMetricsAddrConflict
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = defaultShutdownTimeout
	}
	if cfg.HookTimeout <= 0 {
		cfg.HookTimeout = defaultHookTimeout
	}
	return &manager{
		cfg:    cfg,
		deps:   deps,
		logger: deps.Logger.With().Str(log.FieldComponent, "manager").Logger(),
	}, nil
}

func (m *manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return ErrManagerStarted
	}
	m.started = true
	m.mu.Unlock()

	listeners, err := m.listen()
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.listeners = listeners
	m.mu.Unlock()

	errCh := make(chan error, len(listeners))
	for _, l := range listeners {
		go func() {
			m.logger.Info().Str("server", l.name).Str(log.FieldAddr, l.ln.Addr().String()).Msg("listening")
			if err := l.srv.Serve(l.ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- fmt.Errorf("%s server: %w", l.name, err)
			}
		}()
	}

	select {
	case err := <-errCh:
		m.logger.Error().Err(err).Str(log.FieldEvent, "server.failed").Msg("listener failed, shutting down")
		if serr := m.Shutdown(context.WithoutCancel(ctx)); serr != nil {
			return errors.Join(err, serr)
		}
		return err
	case <-ctx.Done():
		m.logger.Info().Msg("shutdown requested")
		return m.Shutdown(context.WithoutCancel(ctx))
	}
}

// listen binds every listener up front so address errors surface from
// Start.
func (m *manager) listen() ([]listener, error) {
	type target struct {
		name    string
		addr    string
		handler http.Handler
	}
	targets := []target{{"api", m.cfg.ListenAddr, m.deps.APIHandler}}
	if m.cfg.MetricsListenAddr != "" {
		targets = append(targets, target{"metrics", m.cfg.MetricsListenAddr, promhttp.Handler()})
	}

	out := make([]listener, 0, len(targets))
	for _, t := range targets {
		ln, err := net.Listen("tcp", t.addr)
		if err != nil {
			for _, l := range out {
				_ = l.ln.Close()
			}
			return nil, fmt.Errorf("%s listener: %w", t.name, err)
		}
		// No WriteTimeout: live streams keep the response open.
		out = append(out, listener{name: t.name, ln: ln, srv: &http.Server{
			Handler:           t.handler,
			ReadHeaderTimeout: m.cfg.ReadHeaderTimeout,
			IdleTimeout:       m.cfg.IdleTimeout,
			MaxHeaderBytes:    m.cfg.MaxHeaderBytes,
		}})
	}
	return out, nil
}

func (m *manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	if m.stopping {
		m.mu.Unlock()
		return nil
	}
	if !m.started {
		m.mu.Unlock()
		return ErrManagerNotStarted
	}
	m.stopping = true
	listeners := m.listeners
	hooks := slices.Clone(m.hooks)
	m.mu.Unlock()

	m.logger.Info().Dur("drain", m.cfg.ShutdownTimeout).Msg("shutting down")

	var errs []error
	// The API drains first so metrics stay scrapeable meanwhile.
	for _, l := range listeners {
		if err := m.drain(ctx, l); err != nil {
			errs = append(errs, fmt.Errorf("%s server: %w", l.name, err))
		}
	}

	slices.SortStableFunc(hooks, func(a, b stageHook) int { return cmp.Compare(a.stage, b.stage) })
	for _, h := range hooks {
		if err := m.runHook(ctx, h); err != nil {
			errs = append(errs, err)
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %w", errors.Join(errs...))
	}
	m.logger.Info().Msg("daemon stopped")
	return nil
}

// drain waits for open requests up to ShutdownTimeout and then closes
// whatever is left, which in practice are live streams.
func (m *manager) drain(ctx context.Context, l listener) error {
	dctx, cancel := context.WithTimeout(ctx, m.cfg.ShutdownTimeout)
	defer cancel()

	err := l.srv.Shutdown(dctx)
	if err == nil || dctx.Err() == nil {
		return err
	}
	m.logger.Warn().
		Str("server", l.name).
		Str(log.FieldEvent, "server.drain_expired").
		Msg("drain window elapsed, closing open streams")
	return l.srv.Close()
}

func (m *manager) runHook(ctx context.Context, h stageHook) error {
	hctx, cancel := context.WithTimeout(ctx, m.cfg.HookTimeout)
	defer cancel()

	logger := m.logger.With().Str("stage", h.stage.String()).Str("hook", h.name).Logger()
	start := time.Now()
	if err := h.run(hctx); err != nil {
		logger.Error().Err(err).Dur("duration", time.Since(start)).Msg("shutdown hook failed")
		return fmt.Errorf("%s hook %s: %w", h.stage, h.name, err)
	}
	logger.Debug().Dur("duration", time.Since(start)).Msg("shutdown hook completed")
	return nil
}

func (m *manager) OnShutdown(stage Stage, name string, hook ShutdownHook) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hooks = append(m.hooks, stageHook{stage: stage, name: name, run: hook})
}
