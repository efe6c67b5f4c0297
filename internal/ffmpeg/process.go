// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package ffmpeg

import (
	"context"
	"os/exec"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ManuGH/camcore/internal/metrics"
	"github.com/ManuGH/camcore/internal/procgroup"
	"github.com/rs/zerolog"
)

// Process is a long-running transcoder started with Runner.Start.
type Process struct {
	kind        Kind
	cmd         *exec.Cmd
	ring        *LineRing
	logger      zerolog.Logger
	killTimeout time.Duration

	done     chan struct{}
	err      error
	killed   atomic.Bool
	killOnce sync.Once
}

// Start launches inv without waiting for it. The process is killed when ctx ends.
func (r *Runner) Start(ctx context.Context, inv Invocation) (*Process, error) {
	logger := r.logger(ctx, inv)
	ring := r.newRing(logger)
	cmd := r.command(inv, ring)

	logger.Debug().Strs("args", cmd.Args[1:]).Msg("starting ffmpeg")
	if err := cmd.Start(); err != nil {
		metrics.IncFFmpegStart(string(inv.Kind), "launch_error")
		return nil, &LaunchError{Kind: inv.Kind, Bin: r.Bin, Err: err}
	}
	metrics.IncFFmpegStart(string(inv.Kind), "ok")

	p := &Process{
		kind:        inv.Kind,
		cmd:         cmd,
		ring:        ring,
		logger:      logger,
		killTimeout: r.KillTimeout,
		done:        make(chan struct{}),
	}
	go p.wait()
	go func() {
		select {
		case <-ctx.Done():
			p.Kill()
		case <-p.done:
		}
	}()
	return p, nil
}

func (p *Process) wait() {
	waitErr := p.cmd.Wait()
	p.ring.Flush()

	switch {
	case p.killed.Load():
		metrics.IncFFmpegExit(string(p.kind), "canceled")
		p.err = ErrTerminated
	default:
		p.err = classify(p.kind, waitErr, p.ring.Lines())
		if p.err != nil {
			metrics.IncFFmpegExit(string(p.kind), "error")
		} else {
			metrics.IncFFmpegExit(string(p.kind), "success")
		}
	}
	p.logger.Debug().Err(p.err).Msg("ffmpeg process exited")
	close(p.done)
}

// PID returns the operating system process id.
func (p *Process) PID() int {
	return p.cmd.Process.Pid
}

// Done is closed once the process has exited and its outcome is known.
func (p *Process) Done() <-chan struct{} {
	return p.done
}

// Wait blocks until the process exits. A process stopped through Kill
// reports ErrTerminated.
func (p *Process) Wait() error {
	<-p.done
	return p.err
}

// Diagnostics returns the retained stderr lines.
func (p *Process) Diagnostics() []string {
	return p.ring.Lines()
}

// Kill force-terminates the process group and waits for the exit, bounded by
// the kill timeout. Repeated calls are no-ops.
func (p *Process) Kill() {
	p.killOnce.Do(func() {
		select {
		case <-p.done:
			return
		default:
		}
		p.killed.Store(true)
		if err := procgroup.ForceKill(p.cmd); err != nil {
			p.logger.Debug().Err(err).Msg("ffmpeg kill failed")
		}
		select {
		case <-p.done:
		case <-time.After(p.killTimeout):
			p.logger.Warn().Int("pid", p.PID()).Msgf("ffmpeg did not exit within %s of SIGKILL", p.killTimeout)
		}
	})
}
