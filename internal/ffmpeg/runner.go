// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package ffmpeg supervises transcoder subprocesses: it builds argument
// vectors, runs processes in their own group, retains the last stderr lines
// and classifies the outcome.
package ffmpeg

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"syscall"
	"time"

	"github.com/ManuGH/camcore/internal/log"
	"github.com/ManuGH/camcore/internal/metrics"
	"github.com/ManuGH/camcore/internal/procgroup"
	"github.com/ManuGH/camcore/internal/telemetry"
	"github.com/rs/zerolog"
)

// Kind labels an invocation in errors, logs and metrics.
type Kind string

const (
	KindSnapshot  Kind = "snapshot"
	KindVideo     Kind = "video"
	KindThumbnail Kind = "thumbnail"
	KindFrame     Kind = "frame"
	KindRemux     Kind = "remux"
	KindFragments Kind = "fragments"
)

const defaultKillTimeout = 5 * time.Second

// Invocation describes one transcoder run.
type Invocation struct {
	Kind   Kind
	Camera string
	Args   []string
	// Stdin, when set, is copied to the process and the pipe closed at EOF.
	Stdin io.Reader
	// Stdout receives process output. Nil discards it.
	Stdout io.Writer
}

// Result carries what is known about a finished run.
type Result struct {
	Diagnostics []string
	Duration    time.Duration
}

// Runner launches transcoder processes.
type Runner struct {
	Bin         string
	KillTimeout time.Duration
	// Version is the transcoder major version; see RewriteDeprecated.
	Version int
	Logger  zerolog.Logger
}

// NewRunner returns a Runner for bin.
func NewRunner(bin string, killTimeout time.Duration) *Runner {
	if bin == "" {
		bin = "ffmpeg"
	}
	if killTimeout <= 0 {
		killTimeout = defaultKillTimeout
	}
	return &Runner{
		Bin:         bin,
		KillTimeout: killTimeout,
		Logger:      log.WithComponent("ffmpeg"),
	}
}

func (r *Runner) logger(ctx context.Context, inv Invocation) zerolog.Logger {
	l := log.WithContext(ctx, log.WithCamera(r.Logger, inv.Camera))
	return l.With().Str(log.FieldKind, string(inv.Kind)).Logger()
}

func (r *Runner) command(inv Invocation, ring *LineRing) *exec.Cmd {
	cmd := exec.Command(r.Bin, RewriteDeprecated(r.Version, inv.Args)...)
	procgroup.Set(cmd)
	cmd.Stdin = inv.Stdin
	cmd.Stdout = inv.Stdout
	cmd.Stderr = ring
	// Bounds Wait when a grandchild keeps the pipes open.
	cmd.WaitDelay = r.KillTimeout
	return cmd
}

func (r *Runner) newRing(logger zerolog.Logger) *LineRing {
	ring := NewLineRing(DiagnosticLines)
	ring.OnLine = func(line string) {
		logger.Debug().Str("stderr", line).Msg("ffmpeg diagnostic")
	}
	return ring
}

// Run executes inv to completion. It returns nil only on exit status 0.
// A failure to start yields *LaunchError; a non-zero exit yields *ExitError.
// When ctx ends first the process group is terminated and ctx.Err() is returned wrapped.
func (r *Runner) Run(ctx context.Context, inv Invocation) (Result, error) {
	ctx, span := telemetry.Tracer("camcore/ffmpeg").Start(ctx, "ffmpeg.run")
	span.SetAttributes(telemetry.ProcessAttributes(string(inv.Kind), inv.Camera)...)
	defer span.End()

	logger := r.logger(ctx, inv)
	ring := r.newRing(logger)
	cmd := r.command(inv, ring)

	logger.Debug().Strs("args", cmd.Args[1:]).Msg("starting ffmpeg")
	started := time.Now()
	if err := cmd.Start(); err != nil {
		metrics.IncFFmpegStart(string(inv.Kind), "launch_error")
		lerr := &LaunchError{Kind: inv.Kind, Bin: r.Bin, Err: err}
		telemetry.RecordError(span, lerr)
		return Result{}, lerr
	}
	metrics.IncFFmpegStart(string(inv.Kind), "ok")

	waitCh := make(chan error, 1)
	go func() { waitCh <- cmd.Wait() }()

	var waitErr error
	canceled := false
	select {
	case waitErr = <-waitCh:
	case <-ctx.Done():
		canceled = true
		waitErr = procgroup.Terminate(cmd, waitCh, r.KillTimeout)
	}
	ring.Flush()

	res := Result{Diagnostics: ring.Lines(), Duration: time.Since(started)}
	metrics.ObserveFFmpegDuration(string(inv.Kind), res.Duration.Seconds())

	if canceled {
		metrics.IncFFmpegExit(string(inv.Kind), "canceled")
		logger.Debug().Err(waitErr).Msg("ffmpeg canceled")
		err := fmt.Errorf("ffmpeg %s: %w", inv.Kind, ctx.Err())
		telemetry.RecordError(span, err)
		return res, err
	}

	if err := classify(inv.Kind, waitErr, res.Diagnostics); err != nil {
		metrics.IncFFmpegExit(string(inv.Kind), "error")
		logger.Debug().Err(err).Msg("ffmpeg exited with error")
		telemetry.RecordError(span, err)
		return res, err
	}

	metrics.IncFFmpegExit(string(inv.Kind), "success")
	logger.Debug().Dur("duration", res.Duration).Msg("ffmpeg finished")
	return res, nil
}

// classify maps a Wait error to the package error taxonomy.
func classify(kind Kind, waitErr error, diagnostics []string) error {
	if waitErr == nil {
		return nil
	}
	var exitErr *exec.ExitError
	if !errors.As(waitErr, &exitErr) {
		return &ExitError{Kind: kind, ExitCode: -1, Diagnostics: diagnostics, cause: waitErr}
	}
	ee := &ExitError{Kind: kind, ExitCode: exitErr.ExitCode(), Diagnostics: diagnostics, cause: waitErr}
	if status, ok := exitErr.Sys().(syscall.WaitStatus); ok && status.Signaled() {
		ee.Signal = signalName(status.Signal())
	}
	return ee
}

func signalName(sig syscall.Signal) string {
	switch sig {
	case syscall.SIGKILL:
		return "SIGKILL"
	case syscall.SIGTERM:
		return "SIGTERM"
	case syscall.SIGINT:
		return "SIGINT"
	default:
		return sig.String()
	}
}
