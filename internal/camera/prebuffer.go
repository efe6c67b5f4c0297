// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package camera

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// PrebufferOptions selects the container and depth of prebuffered input.
// Zero values let the prebuffer choose.
type PrebufferOptions struct {
	Container string
	Length    time.Duration
}

// Prebuffer is a rolling buffer of recent encoded video for one camera.
type Prebuffer interface {
	// GetVideo returns ready-made transcoder input arguments.
	GetVideo(ctx context.Context, opts PrebufferOptions) ([]string, error)
}

// PrebufferSource looks up the prebuffer of a running camera controller.
type PrebufferSource interface {
	Prebuffer(camera string) (Prebuffer, bool)
}

// Prebuffers is a PrebufferSource that controllers register with.
type Prebuffers struct {
	mu sync.RWMutex
	m  map[string]Prebuffer
}

// NewPrebuffers returns an empty set.
func NewPrebuffers() *Prebuffers {
	return &Prebuffers{m: make(map[string]Prebuffer)}
}

// Register sets the prebuffer of camera, replacing any previous one.
func (p *Prebuffers) Register(camera string, pb Prebuffer) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.m[camera] = pb
}

// Unregister removes the prebuffer of camera.
func (p *Prebuffers) Unregister(camera string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.m, camera)
}

// Prebuffer implements PrebufferSource.
func (p *Prebuffers) Prebuffer(camera string) (Prebuffer, bool) {
	if p == nil {
		return nil, false
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	pb, ok := p.m[camera]
	return pb, ok
}

// InputRequest describes how a pipeline wants its input resolved.
type InputRequest struct {
	// UseSub selects the sub source. Prebuffered input is never used for it.
	UseSub    bool
	Prebuffer PrebufferOptions
	// WarnOnFallback logs prebuffer failures at warn instead of debug.
	WarnOnFallback bool
}

// ResolveInput returns the transcoder input for cam. Prebuffered input is
// preferred when the camera has prebuffering enabled and a prebuffer is
// registered; a prebuffer error is logged and the direct source is used.
func ResolveInput(ctx context.Context, logger zerolog.Logger, cam Camera, src PrebufferSource, req InputRequest) []string {
	direct := Resolve(cam.Video).InputArgs(req.UseSub)
	if req.UseSub || !cam.Prebuffering || src == nil {
		return direct
	}
	pb, ok := src.Prebuffer(cam.Name)
	if !ok || pb == nil {
		return direct
	}

	input, err := pb.GetVideo(ctx, req.Prebuffer)
	if err != nil || len(input) == 0 {
		ev := logger.Debug()
		if req.WarnOnFallback {
			ev = logger.Warn()
		}
		ev.Err(err).Str("event", "prebuffer.fallback").Msg("can not access prebuffer stream, using direct source")
		return direct
	}
	logger.Debug().Str("event", "prebuffer.input").Msg("using prebuffer stream as input")
	return input
}
