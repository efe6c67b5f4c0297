// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package ffmpeg

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrEmptyOutput is reported when a capture exits cleanly without producing bytes.
	ErrEmptyOutput = errors.New("ffmpeg produced no output")

	// ErrTerminated is reported by Process.Wait when the process was killed by its owner.
	ErrTerminated = errors.New("ffmpeg process terminated")
)

// LaunchError means the transcoder binary could not be started at all.
type LaunchError struct {
	Kind Kind
	Bin  string
	Err  error
}

func (e *LaunchError) Error() string {
	return fmt.Sprintf("FFmpeg %s process could not be started (%s): %v", e.Kind, e.Bin, e.Err)
}

func (e *LaunchError) Unwrap() error { return e.Err }

// ExitError means the transcoder ran but did not succeed.
// Its message is the header followed by the retained diagnostics, joined by " - ".
type ExitError struct {
	Kind        Kind
	ExitCode    int
	Signal      string
	Diagnostics []string

	header string
	cause  error
}

func (e *ExitError) Error() string {
	parts := make([]string, 0, len(e.Diagnostics)+1)
	parts = append(parts, e.Header())
	parts = append(parts, e.Diagnostics...)
	return strings.Join(parts, " - ")
}

// Header returns the first segment of the error message.
func (e *ExitError) Header() string {
	if e.header != "" {
		return e.header
	}
	reason := e.Signal
	if reason == "" {
		reason = fmt.Sprintf("exit code %d", e.ExitCode)
	}
	return fmt.Sprintf("FFmpeg %s process exited with error! (%s)", e.Kind, reason)
}

func (e *ExitError) Unwrap() error { return e.cause }

// NewEmptyOutputError reports a successful exit that produced no image bytes.
func NewEmptyOutputError(kind Kind, diagnostics []string) *ExitError {
	return &ExitError{
		Kind:        kind,
		Diagnostics: diagnostics,
		header:      "Image Buffer is empty!",
		cause:       ErrEmptyOutput,
	}
}
