// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package fragments

import (
	"context"
	"errors"
	"io"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ManuGH/camcore/internal/camera"
	"github.com/ManuGH/camcore/internal/ffmpeg"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakeProc struct {
	done     chan struct{}
	doneOnce sync.Once
	err      error
	client   net.Conn
	writer   sync.WaitGroup

	kills             atomic.Int32
	socketClosedFirst atomic.Bool
}

func (p *fakeProc) Done() <-chan struct{} { return p.done }

func (p *fakeProc) Wait() error {
	<-p.done
	return p.err
}

func (p *fakeProc) exit() {
	p.doneOnce.Do(func() { close(p.done) })
}

func (p *fakeProc) Kill() {
	p.kills.Add(1)
	if p.client != nil {
		_ = p.client.SetReadDeadline(time.Now().Add(time.Second))
		_, err := p.client.Read(make([]byte, 1))
		var nerr net.Error
		closed := err != nil && !(errors.As(err, &nerr) && nerr.Timeout())
		p.socketClosedFirst.Store(closed)
		_ = p.client.Close()
		p.writer.Wait()
	}
	p.exit()
}

type fakeStarter struct {
	payload   []byte
	keepOpen  bool
	noConnect bool
	exitErr   error
	launchErr error

	mu    sync.Mutex
	procs []*fakeProc
	args  [][]string
}

func (s *fakeStarter) Start(_ context.Context, inv ffmpeg.Invocation) (Process, error) {
	if s.launchErr != nil {
		return nil, s.launchErr
	}
	p := &fakeProc{done: make(chan struct{}), err: s.exitErr}
	s.mu.Lock()
	s.procs = append(s.procs, p)
	s.args = append(s.args, inv.Args)
	s.mu.Unlock()

	if s.exitErr != nil {
		p.exit()
		return p, nil
	}
	if s.noConnect {
		return p, nil
	}

	target := strings.TrimPrefix(inv.Args[len(inv.Args)-1], "tcp://")
	conn, err := net.Dial("tcp", target)
	if err != nil {
		return nil, err
	}
	p.client = conn
	p.writer.Add(1)
	go func() {
		defer p.writer.Done()
		_, _ = conn.Write(s.payload)
		if !s.keepOpen {
			_ = conn.(*net.TCPConn).CloseWrite()
		}
	}()
	return p, nil
}

func (s *fakeStarter) proc(t *testing.T) *fakeProc {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	require.Len(t, s.procs, 1)
	return s.procs[0]
}

type countingListener struct {
	net.Listener
	connCloses *atomic.Int32
}

func (l countingListener) Accept() (net.Conn, error) {
	c, err := l.Listener.Accept()
	if err != nil {
		return nil, err
	}
	return &countingConn{Conn: c, closes: l.connCloses}, nil
}

type countingConn struct {
	net.Conn
	closes *atomic.Int32
}

func (c *countingConn) Close() error {
	c.closes.Add(1)
	return c.Conn.Close()
}

var porch = camera.Camera{Name: "Porch", Video: camera.VideoConfig{Source: "-i rtsp://porch/main"}}

func newTestOpener(s *fakeStarter, opts Options) (*Opener, *atomic.Int32) {
	o := NewOpener(s, nil, opts)
	closes := &atomic.Int32{}
	o.listen = func(network, addr string) (net.Listener, error) {
		ln, err := net.Listen(network, addr)
		if err != nil {
			return nil, err
		}
		return countingListener{Listener: ln, connCloses: closes}, nil
	}
	return o, closes
}

func TestSessionStopAfterThreeFragments(t *testing.T) {
	starter := &fakeStarter{payload: stream(6), keepOpen: true}
	o, connCloses := newTestOpener(starter, Options{})

	s, err := o.Open(context.Background(), porch)
	require.NoError(t, err)
	assert.Equal(t, StateStreaming, s.State())

	var got []Fragment
	for f := range s.All() {
		got = append(got, f)
		if len(got) == 3 {
			break
		}
	}

	require.Len(t, got, 3)
	assert.Equal(t, []string{"ftyp", "moov"}, types(got[0]))
	assert.Equal(t, []string{"moof", "mdat"}, types(got[1]))

	// Cleanup has fully happened when the range statement returns.
	p := starter.proc(t)
	assert.Equal(t, int32(1), p.kills.Load())
	assert.Equal(t, int32(1), connCloses.Load())
	assert.True(t, p.socketClosedFirst.Load(), "socket must be closed before the process is killed")
	assert.Equal(t, StateCompleted, s.State())

	require.NoError(t, s.Close())
	assert.Equal(t, int32(1), p.kills.Load())
	assert.Equal(t, int32(1), connCloses.Load())
}

func TestSessionNaturalEnd(t *testing.T) {
	starter := &fakeStarter{payload: stream(2)}
	o, connCloses := newTestOpener(starter, Options{})

	s, err := o.Open(context.Background(), porch)
	require.NoError(t, err)

	n := 0
	for f := range s.All() {
		last := f.Boxes[len(f.Boxes)-1].Type
		assert.True(t, last == "moov" || last == "mdat")
		n++
	}
	assert.Equal(t, 3, n)
	assert.Equal(t, int32(1), starter.proc(t).kills.Load())
	assert.Equal(t, int32(1), connCloses.Load())
	assert.Equal(t, StateCompleted, s.State())
}

func TestSessionParseErrorEndsStream(t *testing.T) {
	bad := append(stream(1), 0, 0, 0, 0, 'm', 'd', 'a', 't')
	starter := &fakeStarter{payload: bad, keepOpen: true}
	o, connCloses := newTestOpener(starter, Options{})

	s, err := o.Open(context.Background(), porch)
	require.NoError(t, err)

	ctx := context.Background()
	for i := 0; i < 2; i++ {
		_, err := s.Next(ctx)
		require.NoError(t, err)
	}
	_, err = s.Next(ctx)
	assert.ErrorIs(t, err, io.EOF)
	assert.Equal(t, int32(1), starter.proc(t).kills.Load())
	assert.Equal(t, int32(1), connCloses.Load())
	assert.Equal(t, StateFailed, s.State())
}

func TestSessionContextCancelCloses(t *testing.T) {
	starter := &fakeStarter{payload: stream(1), keepOpen: true}
	o, _ := newTestOpener(starter, Options{})

	ctx, cancel := context.WithCancel(context.Background())
	s, err := o.Open(ctx, porch)
	require.NoError(t, err)

	p := starter.proc(t)
	cancel()
	require.Eventually(t, func() bool { return p.kills.Load() == 1 }, 5*time.Second, 10*time.Millisecond)
	require.NoError(t, s.Close())
	assert.Equal(t, int32(1), p.kills.Load())
}

func TestOpenUsesPrebufferAndFragmentArgs(t *testing.T) {
	cam := porch
	cam.Prebuffering = true
	cam.PrebufferLength = 4 * time.Second
	pbs := camera.NewPrebuffers()
	var gotOpts camera.PrebufferOptions
	pbs.Register(cam.Name, prebufferFunc(func(opts camera.PrebufferOptions) ([]string, error) {
		gotOpts = opts
		return []string{"-i", "tcp://127.0.0.1:7000"}, nil
	}))

	starter := &fakeStarter{payload: stream(0)}
	o := NewOpener(starter, pbs, Options{})
	s, err := o.Open(context.Background(), cam)
	require.NoError(t, err)
	require.NoError(t, s.Close())

	assert.Equal(t, camera.PrebufferOptions{Container: "mp4", Length: 4 * time.Second}, gotOpts)
	args := starter.args[0]
	assert.Contains(t, args, "tcp://127.0.0.1:7000")
	assert.Contains(t, args, "frag_keyframe+empty_moov+default_base_moof")
	assert.True(t, strings.HasPrefix(args[len(args)-1], "tcp://127.0.0.1:"))
}

type prebufferFunc func(camera.PrebufferOptions) ([]string, error)

func (f prebufferFunc) GetVideo(_ context.Context, opts camera.PrebufferOptions) ([]string, error) {
	return f(opts)
}

func TestOpenFailsWhenProcessExits(t *testing.T) {
	exitErr := &ffmpeg.ExitError{Kind: ffmpeg.KindFragments, ExitCode: 1, Diagnostics: []string{"Connection refused"}}
	starter := &fakeStarter{exitErr: exitErr}
	o, _ := newTestOpener(starter, Options{AcceptTimeout: 5 * time.Second})

	start := time.Now()
	_, err := o.Open(context.Background(), porch)
	assert.ErrorIs(t, err, exitErr)
	assert.Less(t, time.Since(start), 5*time.Second)
	assert.Equal(t, int32(1), starter.proc(t).kills.Load())
}

func TestOpenAcceptTimeout(t *testing.T) {
	starter := &fakeStarter{noConnect: true}
	o, _ := newTestOpener(starter, Options{AcceptTimeout: 50 * time.Millisecond})

	_, err := o.Open(context.Background(), porch)
	assert.ErrorIs(t, err, ErrAcceptTimeout)
	assert.Equal(t, int32(1), starter.proc(t).kills.Load())
}

func TestOpenLaunchFailure(t *testing.T) {
	launch := &ffmpeg.LaunchError{Kind: ffmpeg.KindFragments, Bin: "missing", Err: errors.New("not found")}
	o, _ := newTestOpener(&fakeStarter{launchErr: launch}, Options{})
	_, err := o.Open(context.Background(), porch)
	var le *ffmpeg.LaunchError
	assert.ErrorAs(t, err, &le)
}

type brokenListener struct {
	net.Listener
}

func (brokenListener) Accept() (net.Conn, error) {
	return nil, errors.New("accept: too many open files")
}

func TestOpenAcceptErrorReleasesTranscoder(t *testing.T) {
	starter := &fakeStarter{noConnect: true}
	o := NewOpener(starter, nil, Options{AcceptTimeout: 5 * time.Second})
	o.listen = func(network, addr string) (net.Listener, error) {
		ln, err := net.Listen(network, addr)
		if err != nil {
			return nil, err
		}
		return brokenListener{Listener: ln}, nil
	}

	done := make(chan error, 1)
	go func() {
		_, err := o.Open(context.Background(), porch)
		done <- err
	}()

	select {
	case err := <-done:
		require.Error(t, err)
		assert.Contains(t, err.Error(), "too many open files")
	case <-time.After(2 * time.Second):
		t.Fatal("Open did not return after the listener failed")
	}
	assert.Equal(t, int32(1), starter.proc(t).kills.Load())
}
