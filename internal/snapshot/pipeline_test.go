// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package snapshot

import (
	"context"
	"encoding/base64"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ManuGH/camcore/internal/cache"
	"github.com/ManuGH/camcore/internal/camera"
	"github.com/ManuGH/camcore/internal/ffmpeg"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRunner struct {
	mu      sync.Mutex
	calls   []ffmpeg.Invocation
	output  []byte
	err     error
	started chan struct{}
	release chan struct{}
	ctxErrs []error
}

func (f *fakeRunner) Run(ctx context.Context, inv ffmpeg.Invocation) (ffmpeg.Result, error) {
	f.mu.Lock()
	f.calls = append(f.calls, inv)
	out, err := f.output, f.err
	f.mu.Unlock()

	if f.started != nil {
		f.started <- struct{}{}
	}
	if f.release != nil {
		<-f.release
	}
	f.mu.Lock()
	f.ctxErrs = append(f.ctxErrs, ctx.Err())
	f.mu.Unlock()
	if err != nil {
		return ffmpeg.Result{Diagnostics: []string{"boom"}}, err
	}
	if inv.Stdin != nil {
		out, _ = io.ReadAll(inv.Stdin)
	}
	dest := inv.Args[len(inv.Args)-1]
	if dest == ffmpeg.StdoutTarget {
		if inv.Stdout != nil {
			_, _ = inv.Stdout.Write(out)
		}
	} else if len(out) > 0 {
		if werr := os.WriteFile(dest, out, 0o600); werr != nil {
			return ffmpeg.Result{}, werr
		}
	}
	return ffmpeg.Result{Diagnostics: []string{"frame=1"}}, nil
}

func (f *fakeRunner) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type stampCall struct{ camera, path, label string }

type fakeStamper struct {
	mu    sync.Mutex
	calls []stampCall
}

func (s *fakeStamper) Stamp(cameraName, path, label string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, stampCall{cameraName, path, label})
}

var frontDoor = camera.Camera{
	Name: "Front Door",
	Video: camera.VideoConfig{
		Source:    "-i rtsp://cam/main",
		SubSource: "-i rtsp://cam/sub",
	},
}

func newTestPipeline(r *fakeRunner, opts Options) (*Pipeline, *Cache, *fakeStamper) {
	c := NewCache(cache.NewMemoryStore(), 0)
	st := &fakeStamper{}
	return NewPipeline(r, c, nil, st, opts), c, st
}

func TestCaptureServesFreshCacheWithoutSpawning(t *testing.T) {
	ctx := context.Background()
	r := &fakeRunner{output: []byte("jpeg-1")}
	p, c, _ := newTestPipeline(r, Options{})

	base := time.Now()
	c.now = func() time.Time { return base }

	got, err := p.Capture(ctx, frontDoor, false, nil)
	require.NoError(t, err)
	assert.Equal(t, []byte("jpeg-1"), got)
	require.Equal(t, 1, r.count())

	c.now = func() time.Time { return base.Add(9 * time.Second) }
	got, err = p.Capture(ctx, frontDoor, false, nil)
	require.NoError(t, err)
	assert.Equal(t, []byte("jpeg-1"), got)
	assert.Equal(t, 1, r.count(), "fresh entry must not spawn")

	r.output = []byte("jpeg-2")
	c.now = func() time.Time { return base.Add(10 * time.Second) }
	got, err = p.Capture(ctx, frontDoor, false, nil)
	require.NoError(t, err)
	assert.Equal(t, []byte("jpeg-2"), got)
	assert.Equal(t, 2, r.count(), "entry at exactly the TTL is stale")
}

func TestCaptureSourcesAreCachedSeparately(t *testing.T) {
	ctx := context.Background()
	r := &fakeRunner{output: []byte("main")}
	p, _, _ := newTestPipeline(r, Options{})

	_, err := p.Capture(ctx, frontDoor, false, nil)
	require.NoError(t, err)

	r.output = []byte("sub")
	got, err := p.Capture(ctx, frontDoor, true, nil)
	require.NoError(t, err)
	assert.Equal(t, []byte("sub"), got)
	require.Equal(t, 2, r.count())
	assert.Contains(t, r.calls[1].Args, "rtsp://cam/sub")

	got, err = p.Capture(ctx, frontDoor, false, nil)
	require.NoError(t, err)
	assert.Equal(t, []byte("main"), got)
	assert.Equal(t, 2, r.count())
}

func TestCapturePersistBypassesCacheAndStamps(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	r := &fakeRunner{output: []byte("cached")}
	p, c, st := newTestPipeline(r, Options{})

	_, err := p.Capture(ctx, frontDoor, false, nil)
	require.NoError(t, err)

	r.output = []byte("stored")
	persist := &Persist{Dir: dir, FileName: "front-1", Label: "Snapshot", Placeholder: true}
	got, err := p.Capture(ctx, frontDoor, false, persist)
	require.NoError(t, err)
	assert.Equal(t, []byte("stored"), got)
	assert.Equal(t, 2, r.count())

	path := filepath.Join(dir, "front-1@2.jpeg")
	assert.Equal(t, path, persist.Path())
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, []byte("stored"), data)
	assert.Equal(t, []stampCall{{"Front Door", path, "Snapshot"}}, st.calls)

	cached, ok := c.Get(ctx, "Front Door", SourceMain)
	require.True(t, ok)
	assert.Equal(t, []byte("stored"), cached)
}

func TestCaptureEmptyOutput(t *testing.T) {
	r := &fakeRunner{}
	p, c, _ := newTestPipeline(r, Options{})

	_, err := p.Capture(context.Background(), frontDoor, false, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ffmpeg.ErrEmptyOutput)
	assert.Equal(t, "Image Buffer is empty! - frame=1", err.Error())

	_, ok := c.Get(context.Background(), "Front Door", SourceMain)
	assert.False(t, ok)
}

func TestCaptureFailureIsNotCached(t *testing.T) {
	exitErr := &ffmpeg.ExitError{Kind: ffmpeg.KindSnapshot, ExitCode: 1, Diagnostics: []string{"boom"}}
	r := &fakeRunner{err: exitErr}
	p, c, _ := newTestPipeline(r, Options{})

	_, err := p.Capture(context.Background(), frontDoor, false, nil)
	var ee *ffmpeg.ExitError
	require.True(t, errors.As(err, &ee))
	assert.Equal(t, "FFmpeg snapshot process exited with error! (exit code 1) - boom", err.Error())

	_, ok := c.Get(context.Background(), "Front Door", SourceMain)
	assert.False(t, ok)
}

func TestCaptureSingleFlightSharesProcess(t *testing.T) {
	r := &fakeRunner{
		output:  []byte("shared"),
		started: make(chan struct{}, 4),
		release: make(chan struct{}),
	}
	p, _, _ := newTestPipeline(r, Options{SingleFlight: true})

	var wg sync.WaitGroup
	var ok atomic.Int32
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if data, err := p.Capture(context.Background(), frontDoor, false, nil); err == nil && string(data) == "shared" {
				ok.Add(1)
			}
		}()
	}

	<-r.started
	time.Sleep(50 * time.Millisecond)
	close(r.release)
	wg.Wait()

	assert.Equal(t, int32(3), ok.Load())
	assert.Equal(t, 1, r.count())
}

func TestCaptureSingleFlightSurvivesWaiterCancel(t *testing.T) {
	r := &fakeRunner{
		output:  []byte("shared"),
		started: make(chan struct{}, 4),
		release: make(chan struct{}),
	}
	p, c, _ := newTestPipeline(r, Options{SingleFlight: true})

	leaderCtx, cancelLeader := context.WithCancel(context.Background())
	leaderErr := make(chan error, 1)
	go func() {
		_, err := p.Capture(leaderCtx, frontDoor, false, nil)
		leaderErr <- err
	}()
	<-r.started

	type result struct {
		data []byte
		err  error
	}
	follower := make(chan result, 1)
	go func() {
		data, err := p.Capture(context.Background(), frontDoor, false, nil)
		follower <- result{data, err}
	}()
	time.Sleep(50 * time.Millisecond)

	cancelLeader()
	assert.ErrorIs(t, <-leaderErr, context.Canceled)

	close(r.release)
	got := <-follower
	require.NoError(t, got.err)
	assert.Equal(t, []byte("shared"), got.data)
	assert.Equal(t, 1, r.count())

	r.mu.Lock()
	assert.Equal(t, []error{nil}, r.ctxErrs)
	r.mu.Unlock()

	cached, ok := c.Get(context.Background(), "Front Door", SourceMain)
	require.True(t, ok)
	assert.Equal(t, []byte("shared"), cached)
}

func TestStoreBufferBase64(t *testing.T) {
	dir := t.TempDir()
	r := &fakeRunner{}
	p, _, st := newTestPipeline(r, Options{})

	payload := base64.StdEncoding.EncodeToString([]byte("raw-jpeg"))
	err := p.StoreBuffer(context.Background(), frontDoor, []byte(payload), Persist{Dir: dir, FileName: "motion", Label: "Motion"}, false)
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(dir, "motion.jpeg"))
	require.NoError(t, err)
	assert.Equal(t, []byte("raw-jpeg"), data)
	assert.Zero(t, r.count())
	require.Len(t, st.calls, 1)
	assert.Equal(t, "Motion", st.calls[0].label)
}

func TestStoreBufferExternalDecodesFrame(t *testing.T) {
	dir := t.TempDir()
	r := &fakeRunner{}
	p, _, st := newTestPipeline(r, Options{})

	err := p.StoreBuffer(context.Background(), frontDoor, []byte("video-bytes"), Persist{Dir: dir, FileName: "ext", Label: "Doorbell"}, true)
	require.NoError(t, err)

	require.Equal(t, 1, r.count())
	assert.Equal(t, ffmpeg.KindFrame, r.calls[0].Kind)
	data, err := os.ReadFile(filepath.Join(dir, "ext.jpeg"))
	require.NoError(t, err)
	assert.Equal(t, []byte("video-bytes"), data)
	assert.Len(t, st.calls, 1)
}

func TestStoreBufferRejectsBadBase64(t *testing.T) {
	p, _, st := newTestPipeline(&fakeRunner{}, Options{})
	err := p.StoreBuffer(context.Background(), frontDoor, []byte("!!not base64!!"), Persist{Dir: t.TempDir(), FileName: "x"}, false)
	require.Error(t, err)
	assert.Empty(t, st.calls)
}
