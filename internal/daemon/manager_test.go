// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package daemon

import (
	"bufio"
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func reserveListenAddr(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	_ = ln.Close()
	return addr
}

func waitForListen(addr string, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		conn, err := net.DialTimeout("tcp", addr, 50*time.Millisecond)
		if err == nil {
			_ = conn.Close()
			return nil
		}
		time.Sleep(10 * time.Millisecond)
	}
	return errors.New("listen timeout")
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

// liveHandler writes a fragment line every 20ms until the request ends.
func liveHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rc := http.NewResponseController(w)
		w.Header().Set("Content-Type", "video/mp4")
		for {
			if _, err := io.WriteString(w, "frag\n"); err != nil {
				return
			}
			if err := rc.Flush(); err != nil {
				return
			}
			select {
			case <-r.Context().Done():
				return
			case <-time.After(20 * time.Millisecond):
			}
		}
	})
}

func newTestManager(t *testing.T, cfg ServerConfig, h http.Handler) Manager {
	t.Helper()
	mgr, err := NewManager(cfg, Deps{Logger: zerolog.New(io.Discard), APIHandler: h})
	require.NoError(t, err)
	return mgr
}

func TestNewManagerRejectsBadDeps(t *testing.T) {
	tests := []struct {
		name string
		cfg  ServerConfig
		deps Deps
		want error
	}{
		{
			name: "missing logger",
			deps: Deps{Logger: zerolog.Nop(), APIHandler: okHandler()},
			want: ErrMissingLogger,
		},
		{
			name: "missing handler",
			deps: Deps{Logger: zerolog.New(io.Discard)},
			want: ErrMissingAPIHandler,
		},
		{
			name: "metrics on api address",
			cfg:  ServerConfig{ListenAddr: ":8090", MetricsListenAddr: ":8090"},
			deps: Deps{Logger: zerolog.New(io.Discard), APIHandler: okHandler()},
			want: ErrMetricsAddrConflict,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mgr, err := NewManager(tt.cfg, tt.deps)
			assert.ErrorIs(t, err, tt.want)
			assert.Nil(t, mgr)
		})
	}
}

func TestManagerLifecycleErrors(t *testing.T) {
	mgr := newTestManager(t, ServerConfig{ListenAddr: reserveListenAddr(t)}, okHandler())
	assert.ErrorIs(t, mgr.Shutdown(context.Background()), ErrManagerNotStarted)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, mgr.Start(ctx))

	assert.ErrorIs(t, mgr.Start(context.Background()), ErrManagerStarted)
	assert.NoError(t, mgr.Shutdown(context.Background()), "second shutdown is a no-op")
}

func TestManagerStagesRunAfterDrainInOrder(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	addr := reserveListenAddr(t)
	mgr := newTestManager(t, ServerConfig{ListenAddr: addr}, okHandler())

	var mu sync.Mutex
	var order []string
	record := func(name string) ShutdownHook {
		return func(context.Context) error {
			mu.Lock()
			defer mu.Unlock()
			// Hooks only run once the API stopped accepting connections.
			if conn, err := net.DialTimeout("tcp", addr, 100*time.Millisecond); err == nil {
				_ = conn.Close()
				order = append(order, name+":api-still-open")
				return nil
			}
			order = append(order, name)
			return nil
		}
	}
	// Registered out of order on purpose; stages decide.
	mgr.OnShutdown(StageStorage, "recordings_db", record("recordings_db"))
	mgr.OnShutdown(StageTelemetry, "telemetry", record("telemetry"))
	mgr.OnShutdown(StageEngine, "engine", record("engine"))
	mgr.OnShutdown(StageEngine, "prebuffers", record("prebuffers"))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- mgr.Start(ctx) }()
	require.NoError(t, waitForListen(addr, 2*time.Second))

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Start did not return after cancellation")
	}
	assert.Equal(t, []string{"engine", "prebuffers", "telemetry", "recordings_db"}, order)
}

func TestManagerLiveStreamSurvivesDrainWindow(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	const drain = 400 * time.Millisecond
	addr := reserveListenAddr(t)
	mgr := newTestManager(t, ServerConfig{ListenAddr: addr, ShutdownTimeout: drain}, liveHandler())

	var shutdownStart time.Time
	engineAfter := make(chan time.Duration, 1)
	mgr.OnShutdown(StageEngine, "engine", func(context.Context) error {
		engineAfter <- time.Since(shutdownStart)
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- mgr.Start(ctx) }()
	require.NoError(t, waitForListen(addr, 2*time.Second))

	transport := &http.Transport{DisableKeepAlives: true}
	defer transport.CloseIdleConnections()
	resp, err := (&http.Client{Transport: transport}).Get("http://" + addr + "/live")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body := bufio.NewReader(resp.Body)
	_, err = body.ReadString('\n')
	require.NoError(t, err)

	shutdownStart = time.Now()
	cancel()

	// The open stream keeps flowing inside the drain window.
	for i := 0; i < 3; i++ {
		line, err := body.ReadString('\n')
		require.NoError(t, err)
		assert.Equal(t, "frag\n", line)
	}
	assert.Less(t, time.Since(shutdownStart), drain)

	// New clients are turned away meanwhile.
	require.Eventually(t, func() bool {
		conn, err := net.DialTimeout("tcp", addr, 50*time.Millisecond)
		if err != nil {
			return true
		}
		_ = conn.Close()
		return false
	}, drain, 10*time.Millisecond)

	// Once the window elapses the stream is cut and shutdown completes.
	_, _ = io.Copy(io.Discard, body)
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Start did not return after the drain window")
	}
	assert.GreaterOrEqual(t, <-engineAfter, drain, "engine stops after the drain window")
}

func TestManagerServesMetricsOnOwnListener(t *testing.T) {
	apiAddr := reserveListenAddr(t)
	metricsAddr := reserveListenAddr(t)
	mgr := newTestManager(t, ServerConfig{ListenAddr: apiAddr, MetricsListenAddr: metricsAddr}, okHandler())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- mgr.Start(ctx) }()
	require.NoError(t, waitForListen(metricsAddr, 2*time.Second))

	resp, err := http.Get("http://" + metricsAddr + "/metrics")
	require.NoError(t, err)
	payload, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(payload), "go_goroutines")

	cancel()
	require.NoError(t, <-done)
}

func TestManagerListenFailureStillRunsHooks(t *testing.T) {
	occupied, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer func() { _ = occupied.Close() }()

	apiAddr := reserveListenAddr(t)
	mgr := newTestManager(t, ServerConfig{ListenAddr: apiAddr, MetricsListenAddr: occupied.Addr().String()}, okHandler())
	var closed bool
	mgr.OnShutdown(StageStorage, "recordings_db", func(context.Context) error {
		closed = true
		return nil
	})

	err = mgr.Start(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "metrics listener")

	// The API listener bound before the failure was released.
	ln, err := net.Listen("tcp", apiAddr)
	require.NoError(t, err)
	_ = ln.Close()

	require.NoError(t, mgr.Shutdown(context.Background()))
	assert.True(t, closed)
}

func TestManagerHookTimeoutDoesNotSkipLaterStages(t *testing.T) {
	mgr := newTestManager(t, ServerConfig{ListenAddr: reserveListenAddr(t), HookTimeout: 50 * time.Millisecond}, okHandler())
	mgr.OnShutdown(StageEngine, "engine", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	var closed bool
	mgr.OnShutdown(StageStorage, "recordings_db", func(context.Context) error {
		closed = true
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := mgr.Start(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Contains(t, err.Error(), "engine hook engine")
	assert.True(t, closed)
}
