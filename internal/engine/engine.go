// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package engine is the entry point of the media pipelines. It resolves
// cameras by name and dispatches to snapshot capture, clip recording,
// continuous surveillance and live streaming.
package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ManuGH/camcore/internal/cache"
	"github.com/ManuGH/camcore/internal/camera"
	"github.com/ManuGH/camcore/internal/exif"
	"github.com/ManuGH/camcore/internal/ffmpeg"
	"github.com/ManuGH/camcore/internal/fragments"
	camlog "github.com/ManuGH/camcore/internal/log"
	"github.com/ManuGH/camcore/internal/recordings"
	"github.com/ManuGH/camcore/internal/snapshot"
	"github.com/ManuGH/camcore/internal/surveillance"
	"github.com/rs/zerolog"
)

// Options parameterize the pipelines.
type Options struct {
	FFmpegBin     string
	KillTimeout   time.Duration
	FFmpegVersion int

	SnapshotTTL  time.Duration
	SingleFlight bool

	RecordingsRoot  string
	ProductTag      string
	Author          string
	ClipDuration    time.Duration
	RelaunchDelay   time.Duration
	ThumbnailOffset time.Duration

	PrebufferLength time.Duration
	AcceptTimeout   time.Duration
}

// Runner runs and starts transcoder processes.
type Runner interface {
	Run(ctx context.Context, inv ffmpeg.Invocation) (ffmpeg.Result, error)
}

// Deps are the collaborators of an Engine. Registry is required.
type Deps struct {
	Registry camera.Registry
	// Settings defaults to Registry when it implements SettingsLookup.
	Settings   camera.SettingsLookup
	Prebuffers camera.PrebufferSource
	// Cache defaults to an in-process store.
	Cache cache.Store
	// Recordings defaults to an in-process catalogue.
	Recordings recordings.Store
	// Runner and Starter default to a transcoder built from Options.
	Runner  Runner
	Starter fragments.Starter
}

// Engine owns the snapshot cache and the surveillance chains.
type Engine struct {
	registry  camera.Registry
	store     cache.Store
	cache     *snapshot.Cache
	snapshots *snapshot.Pipeline
	recorder  *recordings.Recorder
	catalogue recordings.Store
	chains    *surveillance.Manager
	streams   *fragments.Opener
	logger    zerolog.Logger

	cancel    context.CancelFunc
	closeOnce sync.Once
}

// New wires an Engine.
func New(opts Options, deps Deps) *Engine {
	if deps.Registry == nil {
		panic("engine: nil registry")
	}
	if deps.Settings == nil {
		if s, ok := deps.Registry.(camera.SettingsLookup); ok {
			deps.Settings = s
		}
	}
	if deps.Cache == nil {
		deps.Cache = cache.NewMemoryStore()
	}
	if deps.Recordings == nil {
		deps.Recordings = recordings.NewMemoryStore()
	}
	if deps.Runner == nil || deps.Starter == nil {
		r := ffmpeg.NewRunner(opts.FFmpegBin, opts.KillTimeout)
		r.Version = opts.FFmpegVersion
		if deps.Runner == nil {
			deps.Runner = r
		}
		if deps.Starter == nil {
			deps.Starter = fragments.FromRunner(r)
		}
	}

	stamper := exif.NewStamper(opts.Author)
	e := &Engine{
		registry:  deps.Registry,
		store:     deps.Cache,
		cache:     snapshot.NewCache(deps.Cache, opts.SnapshotTTL),
		catalogue: deps.Recordings,
		logger:    camlog.WithComponent("engine"),
	}
	e.snapshots = snapshot.NewPipeline(deps.Runner, e.cache, deps.Prebuffers, stamper, snapshot.Options{SingleFlight: opts.SingleFlight})
	e.recorder = recordings.NewRecorder(deps.Runner, deps.Prebuffers, stamper, recordings.Options{
		Root:            opts.RecordingsRoot,
		ThumbnailOffset: opts.ThumbnailOffset,
	})
	e.streams = fragments.NewOpener(deps.Starter, deps.Prebuffers, fragments.Options{
		AcceptTimeout:   opts.AcceptTimeout,
		PrebufferLength: opts.PrebufferLength,
	})

	loopCfg := surveillance.Config{
		Root:          opts.RecordingsRoot,
		ClipDuration:  opts.ClipDuration,
		RelaunchDelay: opts.RelaunchDelay,
		ProductTag:    opts.ProductTag,
	}
	ctx, cancel := context.WithCancel(context.Background())
	e.cancel = cancel
	e.chains = surveillance.NewManager(ctx, func(cam camera.Camera) *surveillance.Loop {
		return surveillance.NewLoop(cam, e.recorder, e.catalogue, deps.Settings, loopCfg)
	})
	return e
}

func (e *Engine) find(ctx context.Context, name string) (camera.Camera, error) {
	cam, err := e.registry.Find(ctx, name)
	if err != nil {
		return camera.Camera{}, fmt.Errorf("camera %q: %w", name, err)
	}
	return cam, nil
}

// Snapshot captures a JPEG of the named camera. See snapshot.Pipeline.Capture.
func (e *Engine) Snapshot(ctx context.Context, name string, fromSub bool, persist *snapshot.Persist) ([]byte, error) {
	cam, err := e.find(ctx, name)
	if err != nil {
		return nil, err
	}
	return e.snapshots.Capture(ctx, cam, fromSub, persist)
}

// StoreSnapshot writes an externally produced image for the named camera.
func (e *Engine) StoreSnapshot(ctx context.Context, name string, data []byte, persist snapshot.Persist, external bool) error {
	cam, err := e.find(ctx, name)
	if err != nil {
		return err
	}
	return e.snapshots.StoreBuffer(ctx, cam, data, persist, external)
}

// RecordClip records duration of the named camera into dest.
func (e *Engine) RecordClip(ctx context.Context, name string, duration time.Duration, dest string) error {
	cam, err := e.find(ctx, name)
	if err != nil {
		return err
	}
	return e.recorder.RecordClip(ctx, cam, duration, dest)
}

// ConvertToMP4 remuxes a transport stream recording of the named camera.
func (e *Engine) ConvertToMP4(ctx context.Context, name, tsPath, mp4Path string) error {
	cam, err := e.find(ctx, name)
	if err != nil {
		return err
	}
	return e.recorder.ConvertToMP4(ctx, cam, tsPath, mp4Path)
}

// StoreVideo writes an already encoded clip of the named camera to path.
func (e *Engine) StoreVideo(ctx context.Context, name, path string, data []byte) error {
	if _, err := e.find(ctx, name); err != nil {
		return err
	}
	return e.recorder.StoreVideoBuffer(path, data)
}

// StartSurveillance starts the continuous recording chain of the named camera.
func (e *Engine) StartSurveillance(ctx context.Context, name string) error {
	cam, err := e.find(ctx, name)
	if err != nil {
		return err
	}
	return e.chains.Start(cam)
}

// StopSurveillance stops the chain of the named camera and waits for it.
func (e *Engine) StopSurveillance(name string) error {
	return e.chains.Stop(name)
}

// SurveillanceStatus reports whether a chain runs and the error that ended
// the previous one.
func (e *Engine) SurveillanceStatus(name string) (running bool, lastErr error) {
	return e.chains.Running(name), e.chains.Err(name)
}

// SurveillanceNames lists the cameras with a running chain.
func (e *Engine) SurveillanceNames() []string {
	return e.chains.Names()
}

// Recordings lists the catalogue entries of the named camera.
func (e *Engine) Recordings(ctx context.Context, name string) ([]recordings.Descriptor, error) {
	if _, err := e.find(ctx, name); err != nil {
		return nil, err
	}
	return e.catalogue.List(ctx, name)
}

// OpenStream starts a live fragment stream of the named camera.
func (e *Engine) OpenStream(ctx context.Context, name string) (*fragments.Session, error) {
	cam, err := e.find(ctx, name)
	if err != nil {
		return nil, err
	}
	return e.streams.Open(ctx, cam)
}

// Close stops every surveillance chain and drops the snapshot cache.
func (e *Engine) Close() error {
	var err error
	e.closeOnce.Do(func() {
		e.cancel()
		e.chains.StopAll()
		e.cache.Clear(context.Background())
		err = e.store.Close()
		e.logger.Debug().Msg("engine closed")
	})
	return err
}
