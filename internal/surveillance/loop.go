// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package surveillance runs the continuous recording chain of a camera:
// fixed-length clips back to back, each with a thumbnail, until stopped or
// until a cycle fails.
package surveillance

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/ManuGH/camcore/internal/camera"
	camlog "github.com/ManuGH/camcore/internal/log"
	"github.com/ManuGH/camcore/internal/metrics"
	"github.com/ManuGH/camcore/internal/recordings"
	"github.com/rs/zerolog"
)

// Defaults for Config.
const (
	DefaultClipDuration  = 5 * time.Minute
	DefaultRelaunchDelay = time.Second
	ThumbnailLabel       = "surveillance"
)

// Recorder produces clips and thumbnails.
type Recorder interface {
	RecordClip(ctx context.Context, cam camera.Camera, duration time.Duration, dest string) error
	Thumbnail(ctx context.Context, cam camera.Camera, video, thumb, label string) error
}

// Config parameterizes a Loop.
type Config struct {
	// Root is the directory clips and thumbnails are written to.
	Root          string
	ClipDuration  time.Duration
	RelaunchDelay time.Duration
	ProductTag    string
}

func (c Config) withDefaults() Config {
	if c.ClipDuration <= 0 {
		c.ClipDuration = DefaultClipDuration
	}
	if c.RelaunchDelay <= 0 {
		c.RelaunchDelay = DefaultRelaunchDelay
	}
	if c.ProductTag == "" {
		c.ProductTag = recordings.DefaultProductTag
	}
	return c
}

// Cycle reports the outcome of one iteration.
type Cycle struct {
	Seq        int
	Descriptor recordings.Descriptor
	Err        error
}

// Loop is the surveillance chain of one camera. A Loop runs at most once.
type Loop struct {
	cam      camera.Camera
	recorder Recorder
	store    recordings.Store
	settings camera.SettingsLookup
	cfg      Config
	logger   zerolog.Logger

	now   func() time.Time
	after func(time.Duration) <-chan time.Time

	// OnCycle, when set, is called after every cycle from the loop goroutine.
	OnCycle func(Cycle)
}

// NewLoop builds the chain for cam. settings may be nil.
func NewLoop(cam camera.Camera, recorder Recorder, store recordings.Store, settings camera.SettingsLookup, cfg Config) *Loop {
	return &Loop{
		cam:      cam,
		recorder: recorder,
		store:    store,
		settings: settings,
		cfg:      cfg.withDefaults(),
		logger:   camlog.WithCamera(camlog.WithComponent("surveillance"), cam.Name),
		now:      time.Now,
		after:    time.After,
	}
}

// Run executes cycles until ctx is canceled, returning nil, or until a cycle
// fails, returning its error. A failed cycle is not retried.
func (l *Loop) Run(ctx context.Context) error {
	metrics.ActiveSurveillance.Inc()
	defer metrics.ActiveSurveillance.Dec()

	l.logger.Info().Dur("clip", l.cfg.ClipDuration).Msg("surveillance started")
	var lastEpoch int64
	for seq := 1; ; seq++ {
		if ctx.Err() != nil {
			l.logger.Info().Msg("surveillance stopped")
			return nil
		}

		d, err := l.cycle(ctx, seq, &lastEpoch)
		if err != nil && ctx.Err() != nil {
			// Stopped mid-cycle; the partial clip is left as is.
			metrics.IncSurveillanceCycle("canceled")
			l.notify(Cycle{Seq: seq, Descriptor: d, Err: ctx.Err()})
			l.logger.Info().Msg("surveillance stopped")
			return nil
		}
		l.notify(Cycle{Seq: seq, Descriptor: d, Err: err})
		if err != nil {
			metrics.IncSurveillanceCycle("error")
			l.logger.Error().Err(err).Int("cycle", seq).Msg("surveillance cycle failed, chain stopped")
			return err
		}
		metrics.IncSurveillanceCycle("success")

		select {
		case <-ctx.Done():
		case <-l.after(l.cfg.RelaunchDelay):
		}
	}
}

func (l *Loop) notify(c Cycle) {
	if l.OnCycle != nil {
		l.OnCycle(c)
	}
}

func (l *Loop) cycle(ctx context.Context, seq int, lastEpoch *int64) (recordings.Descriptor, error) {
	now := l.now()
	// Epochs are strictly increasing within a chain.
	if now.Unix() <= *lastEpoch {
		now = time.Unix(*lastEpoch+1, 0)
	}
	*lastEpoch = now.Unix()

	d := recordings.NewSurveillanceDescriptor(recordings.SurveillanceParams{
		Camera: l.cam.Name,
		Room:   l.room(ctx),
		Path:   l.cfg.Root,
		Tag:    l.cfg.ProductTag,
		Now:    now,
	})
	d, err := l.store.Create(ctx, d)
	if err != nil {
		return d, fmt.Errorf("register recording: %w", err)
	}

	// Process logs of this cycle carry the recording id.
	ctx = camlog.ContextWithJobID(ctx, d.ID)
	logger := camlog.WithContext(ctx, l.logger).With().Int("cycle", seq).Logger()
	logger.Debug().Str(camlog.FieldPath, d.FileName).Msg("surveillance clip started")

	video := filepath.Join(l.cfg.Root, d.FileName)
	if err := l.recorder.RecordClip(ctx, l.cam, l.cfg.ClipDuration, video); err != nil {
		return d, err
	}
	thumb := filepath.Join(l.cfg.Root, d.Name+"@2.jpeg")
	if err := l.recorder.Thumbnail(ctx, l.cam, video, thumb, ThumbnailLabel); err != nil {
		return d, err
	}
	if err := l.store.MarkComplete(ctx, d.ID); err != nil {
		return d, fmt.Errorf("complete recording: %w", err)
	}
	d.Complete = true

	logger.Debug().Msg("surveillance clip stored")
	return d, nil
}

func (l *Loop) room(ctx context.Context) string {
	if l.settings == nil {
		return camera.DefaultRoom
	}
	s, err := l.settings.Settings(ctx, l.cam.Name)
	if err != nil {
		if !errors.Is(err, camera.ErrNotFound) {
			l.logger.Debug().Err(err).Msg("settings lookup failed")
		}
		return camera.DefaultRoom
	}
	return s.RoomOrDefault()
}
