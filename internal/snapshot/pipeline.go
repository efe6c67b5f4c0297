// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package snapshot captures still images from camera sources, with a
// short-lived per-source cache and optional persistence to disk.
package snapshot

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/ManuGH/camcore/internal/camera"
	"github.com/ManuGH/camcore/internal/ffmpeg"
	"github.com/ManuGH/camcore/internal/fsutil"
	camlog "github.com/ManuGH/camcore/internal/log"
	"github.com/ManuGH/camcore/internal/metrics"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
)

// Runner executes a transcoder invocation to completion.
type Runner interface {
	Run(ctx context.Context, inv ffmpeg.Invocation) (ffmpeg.Result, error)
}

// Stamper embeds metadata into a stored image. It never fails the caller.
type Stamper interface {
	Stamp(cameraName, path, label string)
}

// Persist requests that a capture be written to disk.
type Persist struct {
	Dir      string
	FileName string
	Label    string
	// Placeholder appends "@2" to the file name (thumbnail variant).
	Placeholder bool
}

// Path returns the JPEG destination.
func (p Persist) Path() string {
	name := p.FileName
	if p.Placeholder {
		name += "@2"
	}
	return filepath.Join(p.Dir, name+".jpeg")
}

// Options tune the pipeline.
type Options struct {
	// SingleFlight shares one capture between concurrent identical
	// non-persisting requests. Off by default: concurrent requests each spawn
	// their own process and the last finisher owns the cache entry.
	SingleFlight bool
	// SharedTimeout bounds a shared capture, which no longer follows any one
	// caller's context. Defaults to DefaultSharedTimeout.
	SharedTimeout time.Duration
}

// DefaultSharedTimeout bounds captures shared through SingleFlight.
const DefaultSharedTimeout = 30 * time.Second

// Pipeline captures snapshots.
type Pipeline struct {
	runner     Runner
	cache      *Cache
	prebuffers camera.PrebufferSource
	stamper    Stamper
	group      *singleflight.Group
	shared     time.Duration
	logger     zerolog.Logger
}

// NewPipeline wires a snapshot pipeline. prebuffers may be nil.
func NewPipeline(runner Runner, cache *Cache, prebuffers camera.PrebufferSource, stamper Stamper, opts Options) *Pipeline {
	p := &Pipeline{
		runner:     runner,
		cache:      cache,
		prebuffers: prebuffers,
		stamper:    stamper,
		logger:     camlog.WithComponent("snapshot"),
	}
	if opts.SingleFlight {
		p.group = &singleflight.Group{}
		p.shared = opts.SharedTimeout
		if p.shared <= 0 {
			p.shared = DefaultSharedTimeout
		}
	}
	return p
}

// Capture returns a JPEG of cam's main or sub source. Without persist a fresh
// cached image is returned without spawning a process; with persist the
// cache is bypassed, the image is written to persist.Path() and stamped.
// Every successful capture overwrites the cache entry for its source.
func (p *Pipeline) Capture(ctx context.Context, cam camera.Camera, fromSub bool, persist *Persist) ([]byte, error) {
	src := SourceFor(fromSub)
	logger := camlog.WithContext(ctx, camlog.WithCamera(p.logger, cam.Name)).With().Str(camlog.FieldSource, string(src)).Logger()

	if persist != nil {
		metrics.IncSnapshotCache("bypass")
		return p.capture(ctx, logger, cam, src, persist)
	}

	if data, ok := p.cache.Get(ctx, cam.Name, src); ok {
		metrics.IncSnapshotCache("hit")
		logger.Debug().Msg("snapshot requested (cache)")
		return data, nil
	}
	metrics.IncSnapshotCache("miss")

	if p.group == nil {
		return p.capture(ctx, logger, cam, src, nil)
	}
	// Waiters may leave early; the shared capture keeps running for the rest.
	ch := p.group.DoChan(cacheKey(cam.Name, src), func() (any, error) {
		sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.shared)
		defer cancel()
		return p.capture(sctx, logger, cam, src, nil)
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		if res.Shared {
			logger.Debug().Msg("snapshot shared with concurrent request")
		}
		return res.Val.([]byte), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (p *Pipeline) capture(ctx context.Context, logger zerolog.Logger, cam camera.Camera, src Source, persist *Persist) ([]byte, error) {
	resolved := camera.Resolve(cam.Video)
	input := camera.ResolveInput(ctx, logger, cam, p.prebuffers, camera.InputRequest{UseSub: src == SourceSub})

	spec := ffmpeg.SnapshotSpec{
		Input:       input,
		Size:        resolved.Size,
		VideoFilter: resolved.VideoFilter,
	}
	if persist != nil {
		spec.Output = persist.Path()
		if err := os.MkdirAll(persist.Dir, 0o750); err != nil {
			return nil, fmt.Errorf("create snapshot directory: %w", err)
		}
	}

	var stdout bytes.Buffer
	res, err := p.runner.Run(ctx, ffmpeg.Invocation{
		Kind:   ffmpeg.KindSnapshot,
		Camera: cam.Name,
		Args:   spec.Args(),
		Stdout: &stdout,
	})
	if err != nil {
		return nil, err
	}

	data := stdout.Bytes()
	if persist != nil {
		// The image went to the file, not stdout.
		data, _ = os.ReadFile(spec.Output)
	}
	if len(data) == 0 {
		return nil, ffmpeg.NewEmptyOutputError(ffmpeg.KindSnapshot, res.Diagnostics)
	}

	if persist != nil {
		p.stamper.Stamp(cam.Name, spec.Output, persist.Label)
		if stamped, err := os.ReadFile(spec.Output); err == nil && len(stamped) > 0 {
			data = stamped
		}
		logger.Debug().Str(camlog.FieldPath, spec.Output).Msg("snapshot stored")
	}

	p.cache.Put(ctx, cam.Name, src, data)
	return data, nil
}

// StoreBuffer writes an externally produced image. With external set, data
// is raw video decoded to a single frame by the transcoder through stdin;
// otherwise data is base64 JPEG text written as-is after decoding. The
// stored file is stamped with label.
func (p *Pipeline) StoreBuffer(ctx context.Context, cam camera.Camera, data []byte, persist Persist, external bool) error {
	path := persist.Path()
	logger := camlog.WithCamera(p.logger, cam.Name).With().Str(camlog.FieldPath, path).Logger()

	if external {
		if err := os.MkdirAll(persist.Dir, 0o750); err != nil {
			return fmt.Errorf("create snapshot directory: %w", err)
		}
		spec := ffmpeg.FrameSpec{Size: camera.Resolve(cam.Video).Size, Output: path}
		if _, err := p.runner.Run(ctx, ffmpeg.Invocation{
			Kind:   ffmpeg.KindFrame,
			Camera: cam.Name,
			Args:   spec.Args(),
			Stdin:  bytes.NewReader(data),
		}); err != nil {
			return err
		}
		logger.Debug().Msg("frame stored from video buffer")
	} else {
		img := make([]byte, base64.StdEncoding.DecodedLen(len(data)))
		n, err := base64.StdEncoding.Decode(img, bytes.TrimSpace(data))
		if err != nil {
			return fmt.Errorf("decode base64 image: %w", err)
		}
		if err := fsutil.WriteBytesAtomic(path, img[:n], 0o640); err != nil {
			return err
		}
	}

	p.stamper.Stamp(cam.Name, path, persist.Label)
	return nil
}
