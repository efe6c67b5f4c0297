// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package recordings

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/ManuGH/camcore/internal/camera"
	"github.com/ManuGH/camcore/internal/ffmpeg"
	"github.com/ManuGH/camcore/internal/fsutil"
	camlog "github.com/ManuGH/camcore/internal/log"
	"github.com/rs/zerolog"
)

// DefaultThumbnailOffset is the position in a clip the thumbnail is taken from.
const DefaultThumbnailOffset = 3500 * time.Millisecond

// Runner executes a transcoder invocation to completion.
type Runner interface {
	Run(ctx context.Context, inv ffmpeg.Invocation) (ffmpeg.Result, error)
}

// Stamper embeds metadata into a stored image.
type Stamper interface {
	Stamp(cameraName, path, label string)
}

// Options configure a Recorder.
type Options struct {
	// Root confines every destination path. Empty disables confinement.
	Root            string
	ThumbnailOffset time.Duration
}

// Recorder writes clips, thumbnails and remuxed files for cameras.
type Recorder struct {
	runner      Runner
	prebuffers  camera.PrebufferSource
	stamper     Stamper
	root        string
	thumbOffset time.Duration
	logger      zerolog.Logger
}

// NewRecorder wires a Recorder. prebuffers may be nil.
func NewRecorder(runner Runner, prebuffers camera.PrebufferSource, stamper Stamper, opts Options) *Recorder {
	if opts.ThumbnailOffset <= 0 {
		opts.ThumbnailOffset = DefaultThumbnailOffset
	}
	return &Recorder{
		runner:      runner,
		prebuffers:  prebuffers,
		stamper:     stamper,
		root:        opts.Root,
		thumbOffset: opts.ThumbnailOffset,
		logger:      camlog.WithComponent("recordings"),
	}
}

// Root returns the directory destinations are confined to.
func (r *Recorder) Root() string { return r.root }

// Resolve confines path under the recordings root and ensures its parent
// directory exists.
func (r *Recorder) Resolve(path string) (string, error) {
	if r.root != "" {
		confined, err := fsutil.Confine(r.root, path)
		if err != nil {
			return "", err
		}
		path = confined
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return "", fmt.Errorf("create recording directory: %w", err)
	}
	return path, nil
}

// RecordClip encodes duration of cam's main source into dest. It returns nil
// only when the transcoder exits with status 0.
func (r *Recorder) RecordClip(ctx context.Context, cam camera.Camera, duration time.Duration, dest string) error {
	if duration <= 0 {
		return fmt.Errorf("record clip: invalid duration %s", duration)
	}
	dest, err := r.Resolve(dest)
	if err != nil {
		return err
	}

	logger := camlog.WithContext(ctx, camlog.WithCamera(r.logger, cam.Name)).With().Str(camlog.FieldPath, dest).Logger()
	resolved := camera.Resolve(cam.Video)
	spec := ffmpeg.RecordingSpec{
		Input:       camera.ResolveInput(ctx, logger, cam, r.prebuffers, camera.InputRequest{}),
		Duration:    duration,
		Size:        resolved.Size,
		VCodec:      resolved.VCodec,
		VideoFilter: resolved.VideoFilter,
		MapVideo:    resolved.MapVideo,
		MapAudio:    resolved.MapAudio,
		Output:      dest,
	}

	logger.Debug().Dur("duration", duration).Msg("recording clip")
	if _, err := r.runner.Run(ctx, ffmpeg.Invocation{Kind: ffmpeg.KindVideo, Camera: cam.Name, Args: spec.Args()}); err != nil {
		return err
	}
	logger.Debug().Msg("clip stored")
	return nil
}

// Thumbnail extracts the frame at the configured offset of video into thumb
// and stamps it with label.
func (r *Recorder) Thumbnail(ctx context.Context, cam camera.Camera, video, thumb, label string) error {
	thumb, err := r.Resolve(thumb)
	if err != nil {
		return err
	}
	spec := ffmpeg.ThumbnailSpec{Video: video, Offset: r.thumbOffset, Output: thumb}
	if _, err := r.runner.Run(ctx, ffmpeg.Invocation{Kind: ffmpeg.KindThumbnail, Camera: cam.Name, Args: spec.Args()}); err != nil {
		return err
	}
	r.stamper.Stamp(cam.Name, thumb, label)
	return nil
}

// ConvertToMP4 re-encodes a transport stream recording to mp4 and removes
// the source. A failed removal is logged and does not fail the conversion.
func (r *Recorder) ConvertToMP4(ctx context.Context, cam camera.Camera, tsPath, mp4Path string) error {
	tsPath, err := r.Resolve(tsPath)
	if err != nil {
		return err
	}
	mp4Path, err = r.Resolve(mp4Path)
	if err != nil {
		return err
	}
	spec := ffmpeg.RemuxSpec{Input: tsPath, Output: mp4Path}
	if _, err := r.runner.Run(ctx, ffmpeg.Invocation{Kind: ffmpeg.KindRemux, Camera: cam.Name, Args: spec.Args()}); err != nil {
		return err
	}
	if err := os.Remove(tsPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		logger := camlog.WithCamera(r.logger, cam.Name)
		logger.Warn().Err(err).Str(camlog.FieldPath, tsPath).Msg("failed to remove transport stream after conversion")
	}
	return nil
}

// StoreVideoBuffer writes an already encoded clip to path.
func (r *Recorder) StoreVideoBuffer(path string, data []byte) error {
	path, err := r.Resolve(path)
	if err != nil {
		return err
	}
	return fsutil.WriteBytesAtomic(path, data, 0o640)
}
