// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package daemon

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/ManuGH/camcore/internal/camera"
	"github.com/ManuGH/camcore/internal/log"
	"github.com/ManuGH/camcore/internal/surveillance"
	"github.com/rs/zerolog"
)

// Surveillance is the part of the engine the daemon reconciles against the
// camera registry.
type Surveillance interface {
	StartSurveillance(ctx context.Context, name string) error
	StopSurveillance(name string) error
	SurveillanceNames() []string
}

// CameraSource is the camera registry as seen by the daemon.
type CameraSource interface {
	List(ctx context.Context) ([]camera.Camera, error)
	Subscribe(ch chan<- []camera.Camera)
	Reload() error
	Watch(ctx context.Context) error
}

// App owns the long-lived runtime lifecycle (registry watcher, reload wiring,
// surveillance autostart) and delegates server management to Manager.
type App struct {
	logger       zerolog.Logger
	manager      Manager
	cameras      CameraSource
	surveillance Surveillance
	reloadSignal os.Signal
}

// NewApp creates a new App orchestrator. cameras and surv may be nil.
func NewApp(logger zerolog.Logger, manager Manager, cameras CameraSource, surv Surveillance) *App {
	return &App{
		logger:       logger,
		manager:      manager,
		cameras:      cameras,
		surveillance: surv,
		reloadSignal: syscall.SIGHUP,
	}
}

// Run starts all owned background subsystems and blocks until ctx is cancelled or a fatal error occurs.
func (a *App) Run(ctx context.Context) error {
	if a.manager == nil {
		return ErrMissingManager
	}

	g, ctx := errgroup.WithContext(ctx)

	if a.cameras != nil {
		updates := make(chan []camera.Camera, 1)
		a.cameras.Subscribe(updates)

		if a.surveillance != nil {
			if cams, err := a.cameras.List(ctx); err == nil {
				a.reconcile(ctx, cams)
			}
		}

		// Watcher is best-effort: startup should not fail if it cannot be started.
		g.Go(func() error {
			if err := a.cameras.Watch(ctx); err != nil {
				a.logger.Warn().Err(err).Str(log.FieldEvent, "cameras.watcher_start_failed").Msg("failed to start cameras watcher")
			}
			return nil
		})

		g.Go(func() error {
			for {
				select {
				case <-ctx.Done():
					return nil
				case cams := <-updates:
					if a.surveillance != nil {
						a.reconcile(ctx, cams)
					}
				}
			}
		})

		if a.reloadSignal != nil {
			g.Go(func() error {
				hupChan := make(chan os.Signal, 1)
				signal.Notify(hupChan, a.reloadSignal)
				defer signal.Stop(hupChan)

				for {
					select {
					case <-ctx.Done():
						return nil
					case <-hupChan:
						a.logger.Info().
							Str(log.FieldEvent, "cameras.reload_signal").
							Str("signal", a.reloadSignal.String()).
							Msg("received reload signal, reloading cameras")
						if err := a.cameras.Reload(); err != nil {
							a.logger.Warn().Err(err).Str(log.FieldEvent, "cameras.reload_failed").Msg("cameras reload failed")
						}
					}
				}
			})
		}
	}

	g.Go(func() error {
		err := a.manager.Start(ctx)
		if err != nil {
			_ = a.manager.Shutdown(context.Background())
		}
		return err
	})

	return g.Wait()
}

// reconcile starts the chains of cameras flagged for surveillance and stops
// chains of cameras that left the registry. Chains started through the API
// for unflagged cameras are left alone.
func (a *App) reconcile(ctx context.Context, cams []camera.Camera) {
	present := make(map[string]bool, len(cams))
	for _, cam := range cams {
		present[cam.Name] = true
		if !cam.Surveillance {
			continue
		}
		err := a.surveillance.StartSurveillance(ctx, cam.Name)
		switch {
		case err == nil:
			a.logger.Info().Str(log.FieldCamera, cam.Name).Str(log.FieldEvent, "surveillance.autostart").Msg("surveillance started")
		case errors.Is(err, surveillance.ErrAlreadyRunning):
		default:
			a.logger.Error().Err(err).Str(log.FieldCamera, cam.Name).Str(log.FieldEvent, "surveillance.autostart_failed").Msg("failed to start surveillance")
		}
	}
	for _, name := range a.surveillance.SurveillanceNames() {
		if present[name] {
			continue
		}
		if err := a.surveillance.StopSurveillance(name); err != nil && !errors.Is(err, surveillance.ErrNotRunning) {
			a.logger.Warn().Err(err).Str(log.FieldCamera, name).Msg("failed to stop surveillance of removed camera")
			continue
		}
		a.logger.Info().Str(log.FieldCamera, name).Str(log.FieldEvent, "surveillance.removed").Msg("surveillance stopped for removed camera")
	}
}
