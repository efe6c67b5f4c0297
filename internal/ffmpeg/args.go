// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package ffmpeg

import (
	"fmt"
	"strconv"
	"time"
)

// StdoutTarget writes output to the process stdout.
const StdoutTarget = "-"

// Size is an output frame size.
type Size struct {
	Width  int
	Height int
}

func (s Size) String() string {
	return fmt.Sprintf("%dx%d", s.Width, s.Height)
}

var quiet = []string{"-hide_banner", "-loglevel", "error"}

func base(extra ...string) []string {
	out := make([]string, 0, 32)
	out = append(out, quiet...)
	return append(out, extra...)
}

// SnapshotSpec captures a single still image from a camera input.
type SnapshotSpec struct {
	Input       []string
	Size        Size
	VideoFilter string
	// Output is a file path, or StdoutTarget.
	Output string
}

// Args renders the argument vector.
func (s SnapshotSpec) Args() []string {
	out := base("-y")
	out = append(out, s.Input...)
	out = append(out,
		"-s", s.Size.String(),
		"-frames:v", "2",
		"-r", "1",
		"-update", "1",
		"-f", "image2",
	)
	if s.VideoFilter != "" {
		out = append(out, "-filter:v", s.VideoFilter)
	}
	return append(out, target(s.Output))
}

// RecordingSpec encodes a clip of fixed duration to an mp4 file.
type RecordingSpec struct {
	Input       []string
	Duration    time.Duration
	Size        Size
	VCodec      string
	VideoFilter string
	MapVideo    string
	MapAudio    string
	Output      string
}

// Args renders the argument vector.
func (s RecordingSpec) Args() []string {
	out := base("-nostdin", "-y")
	out = append(out, s.Input...)
	out = append(out,
		"-t", seconds(s.Duration),
		"-strict", "experimental",
		"-threads", "0",
		"-s", s.Size.String(),
		"-vcodec", s.VCodec,
		"-pix_fmt", "yuv420p",
		"-movflags", "+faststart",
		"-crf", "23",
	)
	if s.MapVideo != "" {
		out = append(out, "-map", s.MapVideo)
	}
	if s.VideoFilter != "" {
		out = append(out, "-filter:v", s.VideoFilter)
	}
	if s.MapAudio != "" {
		out = append(out, "-map", s.MapAudio)
	}
	return append(out, s.Output)
}

// ThumbnailSpec extracts one frame from a recorded clip.
type ThumbnailSpec struct {
	Video  string
	Offset time.Duration
	Output string
}

// Args renders the argument vector.
func (s ThumbnailSpec) Args() []string {
	return base("-y", "-ss", Timestamp(s.Offset), "-i", s.Video, "-frames:v", "1", s.Output)
}

// FrameSpec decodes a video buffer fed on stdin into a single image.
type FrameSpec struct {
	Size   Size
	Output string
}

// Args renders the argument vector.
func (s FrameSpec) Args() []string {
	return base("-an", "-sn", "-dn", "-y", "-re", "-i", "-",
		"-s", s.Size.String(), "-f", "image2", "-update", "1", target(s.Output))
}

// RemuxSpec converts a transport stream recording to mp4.
type RemuxSpec struct {
	Input  string
	Output string
}

// Args renders the argument vector.
func (s RemuxSpec) Args() []string {
	return base("-y", "-i", s.Input, "-c:v", "libx264", s.Output)
}

// FragmentSpec streams a camera input as fragmented mp4 to a socket URL.
type FragmentSpec struct {
	Input  []string
	VCodec string
	ACodec string
	Target string
}

// Args renders the argument vector.
func (s FragmentSpec) Args() []string {
	vcodec, acodec := s.VCodec, s.ACodec
	if vcodec == "" {
		vcodec = "copy"
	}
	if acodec == "" {
		acodec = "copy"
	}
	out := base()
	out = append(out, s.Input...)
	return append(out,
		"-acodec", acodec,
		"-vcodec", vcodec,
		"-f", "mp4",
		"-movflags", "frag_keyframe+empty_moov+default_base_moof",
		s.Target,
	)
}

// Timestamp formats d as HH:MM:SS.mmm.
func Timestamp(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	h := d / time.Hour
	d -= h * time.Hour
	m := d / time.Minute
	d -= m * time.Minute
	s := d / time.Second
	d -= s * time.Second
	return fmt.Sprintf("%02d:%02d:%02d.%03d", h, m, s, d/time.Millisecond)
}

func seconds(d time.Duration) string {
	if d%time.Second == 0 {
		return strconv.FormatInt(int64(d/time.Second), 10)
	}
	return strconv.FormatFloat(d.Seconds(), 'f', 3, 64)
}

func target(output string) string {
	if output == "" {
		return StdoutTarget
	}
	return output
}

// RewriteDeprecated adapts input options removed in newer transcoder
// releases. Version 0 means unknown and leaves args untouched.
func RewriteDeprecated(version int, args []string) []string {
	if version < 5 {
		return args
	}
	out := make([]string, len(args))
	for i, a := range args {
		if a == "-stimeout" {
			a = "-timeout"
		}
		out[i] = a
	}
	return out
}
