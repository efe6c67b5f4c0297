// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package fragments streams a camera as fragmented MP4. The transcoder
// writes to a loopback socket owned by the session; boxes read from it are
// grouped into playable fragments for the consumer.
package fragments

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ManuGH/camcore/internal/camera"
	"github.com/ManuGH/camcore/internal/ffmpeg"
	camlog "github.com/ManuGH/camcore/internal/log"
	"github.com/ManuGH/camcore/internal/metrics"
	"github.com/rs/zerolog"
)

// DefaultAcceptTimeout bounds the wait for the transcoder to connect.
const DefaultAcceptTimeout = 10 * time.Second

// ErrAcceptTimeout is returned by Open when the transcoder never connects.
var ErrAcceptTimeout = errors.New("transcoder did not connect to stream socket")

// Process is a started transcoder.
type Process interface {
	Done() <-chan struct{}
	Wait() error
	Kill()
}

// Starter launches transcoders.
type Starter interface {
	Start(ctx context.Context, inv ffmpeg.Invocation) (Process, error)
}

type runnerStarter struct{ r *ffmpeg.Runner }

func (s runnerStarter) Start(ctx context.Context, inv ffmpeg.Invocation) (Process, error) {
	p, err := s.r.Start(ctx, inv)
	if err != nil {
		return nil, err
	}
	return p, nil
}

// FromRunner adapts r to a Starter.
func FromRunner(r *ffmpeg.Runner) Starter { return runnerStarter{r: r} }

// State is the session lifecycle state.
type State int32

const (
	StateIdle State = iota
	StateStarting
	StateStreaming
	StateCompleted
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateStarting:
		return "starting"
	case StateStreaming:
		return "streaming"
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	default:
		return "unknown(" + strconv.Itoa(int(s)) + ")"
	}
}

// Options configure an Opener.
type Options struct {
	AcceptTimeout time.Duration
	// PrebufferLength is used when a camera does not set its own.
	PrebufferLength time.Duration
}

// Opener starts streaming sessions.
type Opener struct {
	starter    Starter
	prebuffers camera.PrebufferSource
	opts       Options
	logger     zerolog.Logger

	listen func(network, addr string) (net.Listener, error)
}

// NewOpener returns an Opener. prebuffers may be nil.
func NewOpener(starter Starter, prebuffers camera.PrebufferSource, opts Options) *Opener {
	if opts.AcceptTimeout <= 0 {
		opts.AcceptTimeout = DefaultAcceptTimeout
	}
	return &Opener{
		starter:    starter,
		prebuffers: prebuffers,
		opts:       opts,
		logger:     camlog.WithComponent("fragments"),
		listen:     net.Listen,
	}
}

// Session is one live stream. It must be closed, directly or by ranging
// over All to completion or break.
type Session struct {
	camera string
	logger zerolog.Logger

	ln   net.Listener
	conn net.Conn
	proc Process

	frags      chan Fragment
	stop       chan struct{}
	parserDone chan struct{}
	state      atomic.Int32
	closeOnce  sync.Once
}

// Open starts the transcoder for cam and waits for it to connect. The
// returned session is streaming; fragments are read with Next or All.
func (o *Opener) Open(ctx context.Context, cam camera.Camera) (*Session, error) {
	logger := camlog.WithContext(ctx, camlog.WithCamera(o.logger, cam.Name))
	logger.Debug().Msg("video fragments requested")

	length := cam.PrebufferLength
	if length <= 0 {
		length = o.opts.PrebufferLength
	}
	input := camera.ResolveInput(ctx, logger, cam, o.prebuffers, camera.InputRequest{
		Prebuffer:      camera.PrebufferOptions{Container: "mp4", Length: length},
		WarnOnFallback: true,
	})

	ln, err := o.listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, fmt.Errorf("stream socket: %w", err)
	}

	s := &Session{
		camera:     cam.Name,
		logger:     logger,
		ln:         ln,
		frags:      make(chan Fragment, 1),
		stop:       make(chan struct{}),
		parserDone: make(chan struct{}),
	}
	s.state.Store(int32(StateStarting))

	spec := ffmpeg.FragmentSpec{Input: input, Target: "tcp://" + ln.Addr().String()}
	// The process outlives the request that opened it; Close owns its end.
	proc, err := o.starter.Start(context.WithoutCancel(ctx), ffmpeg.Invocation{
		Kind:   ffmpeg.KindFragments,
		Camera: cam.Name,
		Args:   spec.Args(),
	})
	if err != nil {
		_ = ln.Close()
		s.state.Store(int32(StateFailed))
		return nil, err
	}
	s.proc = proc

	conn, err := s.accept(ctx, o.opts.AcceptTimeout)
	if err != nil {
		s.state.Store(int32(StateFailed))
		s.cleanup()
		return nil, err
	}
	s.conn = conn
	s.state.Store(int32(StateStreaming))
	metrics.ActiveStreams.Inc()
	logger.Debug().Str(camlog.FieldAddr, ln.Addr().String()).Msg("stream started")

	go s.parse()
	go func() {
		select {
		case <-ctx.Done():
			_ = s.Close()
		case <-s.stop:
		}
	}()
	return s, nil
}

func (s *Session) accept(ctx context.Context, timeout time.Duration) (net.Conn, error) {
	type result struct {
		conn net.Conn
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		c, err := s.ln.Accept()
		ch <- result{c, err}
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	var failure error
	received := false
	select {
	case r := <-ch:
		if r.err == nil {
			return r.conn, nil
		}
		received = true
		failure = fmt.Errorf("stream socket accept: %w", r.err)
	case <-s.proc.Done():
		failure = s.proc.Wait()
		if failure == nil {
			failure = io.ErrUnexpectedEOF
		}
	case <-ctx.Done():
		failure = ctx.Err()
	case <-timer.C:
		failure = ErrAcceptTimeout
	}

	_ = s.ln.Close()
	if !received {
		if r := <-ch; r.conn != nil {
			_ = r.conn.Close()
		}
	}
	return nil, failure
}

func (s *Session) parse() {
	defer close(s.parserDone)
	defer close(s.frags)

	b := NewBatcher(NewReader(s.conn))
	for {
		f, err := b.Next()
		if err != nil {
			select {
			case <-s.stop:
			default:
				if errors.Is(err, io.EOF) {
					s.logger.Debug().Msg("recording completed")
				} else {
					s.state.CompareAndSwap(int32(StateStreaming), int32(StateFailed))
					s.logger.Debug().Err(err).Msg("stream output unreadable")
				}
			}
			return
		}
		select {
		case s.frags <- f:
		case <-s.stop:
			return
		}
	}
}

// Next returns the next fragment, or io.EOF once the stream has ended. The
// session is closed before io.EOF is returned.
func (s *Session) Next(ctx context.Context) (Fragment, error) {
	select {
	case f, ok := <-s.frags:
		if !ok {
			_ = s.Close()
			return Fragment{}, io.EOF
		}
		metrics.RecordFragment(f.Len())
		return f, nil
	case <-ctx.Done():
		return Fragment{}, ctx.Err()
	}
}

// All yields fragments until the stream ends or the consumer stops. The
// session is closed before the iteration returns.
func (s *Session) All() iter.Seq[Fragment] {
	return func(yield func(Fragment) bool) {
		defer func() { _ = s.Close() }()
		for {
			f, err := s.Next(context.Background())
			if err != nil {
				return
			}
			if !yield(f) {
				return
			}
		}
	}
}

// Close releases the session: the socket is closed first, then the
// transcoder is killed. It runs once; later calls return immediately.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		close(s.stop)
		s.cleanup()
		<-s.parserDone
		metrics.ActiveStreams.Dec()
		s.state.CompareAndSwap(int32(StateStreaming), int32(StateCompleted))
		s.logger.Debug().Msg("stream closed")
	})
	return nil
}

func (s *Session) cleanup() {
	if s.conn != nil {
		_ = s.conn.Close()
	}
	_ = s.ln.Close()
	s.proc.Kill()
}

// State returns the lifecycle state.
func (s *Session) State() State {
	return State(s.state.Load())
}

// Camera returns the streamed camera name.
func (s *Session) Camera() string { return s.camera }
