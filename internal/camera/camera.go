// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package camera holds the camera records the engine reads and the
// collaborator interfaces it consumes (registry, settings, prebuffer).
package camera

import (
	"errors"
	"strings"
	"time"

	"github.com/ManuGH/camcore/internal/ffmpeg"
)

// ErrNotFound is returned when no camera has the requested name.
var ErrNotFound = errors.New("camera not found")

// Defaults applied by Resolve.
const (
	DefaultWidth  = 1280
	DefaultHeight = 720
	DefaultVCodec = "libx264"
	DefaultRoom   = "Standard"
)

// Camera is a registry record. The engine never mutates it.
type Camera struct {
	Name            string        `yaml:"name"`
	Video           VideoConfig   `yaml:"videoConfig"`
	Prebuffering    bool          `yaml:"prebuffering"`
	PrebufferLength time.Duration `yaml:"prebufferLength"`
	// Surveillance starts the continuous recording chain at daemon startup.
	Surveillance bool     `yaml:"surveillance"`
	Settings     Settings `yaml:"settings"`
}

// Settings are per-camera user settings.
type Settings struct {
	Room string `yaml:"room"`
}

// VideoConfig is the camera's source and encoding configuration as stored.
type VideoConfig struct {
	// Source is the transcoder input, e.g. "-rtsp_transport tcp -i rtsp://host/main".
	Source    string `yaml:"source"`
	SubSource string `yaml:"subSource"`
	MaxWidth  int    `yaml:"maxWidth"`
	MaxHeight int    `yaml:"maxHeight"`
	VCodec    string `yaml:"vcodec"`
	ACodec    string `yaml:"acodec"`
	// VideoFilter is passed through as -filter:v.
	VideoFilter string `yaml:"videoFilter"`
	MapVideo    string `yaml:"mapvideo"`
	MapAudio    string `yaml:"mapaudio"`
	Debug       bool   `yaml:"debug"`
}

// Resolved is the transcoder-facing view of a VideoConfig.
type Resolved struct {
	Source      string
	SubSource   string
	Size        ffmpeg.Size
	VCodec      string
	ACodec      string
	VideoFilter string
	MapVideo    string
	MapAudio    string
	Debug       bool
}

// Resolve derives transcoder parameters, applying defaults for unset values.
func Resolve(vc VideoConfig) Resolved {
	r := Resolved{
		Source:      strings.TrimSpace(vc.Source),
		SubSource:   strings.TrimSpace(vc.SubSource),
		Size:        ffmpeg.Size{Width: vc.MaxWidth, Height: vc.MaxHeight},
		VCodec:      vc.VCodec,
		ACodec:      vc.ACodec,
		VideoFilter: vc.VideoFilter,
		MapVideo:    vc.MapVideo,
		MapAudio:    vc.MapAudio,
		Debug:       vc.Debug,
	}
	if r.Size.Width <= 0 {
		r.Size.Width = DefaultWidth
	}
	if r.Size.Height <= 0 {
		r.Size.Height = DefaultHeight
	}
	if r.VCodec == "" {
		r.VCodec = DefaultVCodec
	}
	return r
}

// InputArgs splits the selected source on whitespace. The sub source is used
// only when requested and configured.
func (r Resolved) InputArgs(useSub bool) []string {
	src := r.Source
	if useSub && r.SubSource != "" {
		src = r.SubSource
	}
	return strings.Fields(src)
}

// RoomOrDefault returns the configured room or DefaultRoom.
func (s Settings) RoomOrDefault() string {
	if strings.TrimSpace(s.Room) == "" {
		return DefaultRoom
	}
	return s.Room
}
