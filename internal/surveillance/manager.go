// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package surveillance

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/ManuGH/camcore/internal/camera"
)

var (
	ErrAlreadyRunning = errors.New("surveillance already running")
	ErrNotRunning     = errors.New("surveillance not running")
)

// LoopFactory builds the chain of a camera.
type LoopFactory func(cam camera.Camera) *Loop

type chain struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// Manager owns the surveillance chains and keeps at most one per camera.
type Manager struct {
	newLoop LoopFactory

	mu     sync.Mutex
	base   context.Context
	chains map[string]*chain
	errs   map[string]error
}

// NewManager returns a Manager whose chains end when ctx ends.
func NewManager(ctx context.Context, newLoop LoopFactory) *Manager {
	return &Manager{
		newLoop: newLoop,
		base:    ctx,
		chains:  make(map[string]*chain),
		errs:    make(map[string]error),
	}
}

// Start launches the chain of cam. It fails with ErrAlreadyRunning while a
// chain for the same camera is live.
func (m *Manager) Start(cam camera.Camera) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.chains[cam.Name]; ok {
		return ErrAlreadyRunning
	}
	ctx, cancel := context.WithCancel(m.base)
	c := &chain{cancel: cancel, done: make(chan struct{})}
	m.chains[cam.Name] = c
	delete(m.errs, cam.Name)

	loop := m.newLoop(cam)
	go func() {
		defer close(c.done)
		err := loop.Run(ctx)
		cancel()

		m.mu.Lock()
		if m.chains[cam.Name] == c {
			delete(m.chains, cam.Name)
		}
		if err != nil {
			m.errs[cam.Name] = err
		}
		m.mu.Unlock()
	}()
	return nil
}

// Stop cancels the chain of name and waits for it to return.
func (m *Manager) Stop(name string) error {
	m.mu.Lock()
	c, ok := m.chains[name]
	m.mu.Unlock()
	if !ok {
		return ErrNotRunning
	}
	c.cancel()
	<-c.done
	return nil
}

// StopAll stops every chain and waits for them.
func (m *Manager) StopAll() {
	m.mu.Lock()
	live := make([]*chain, 0, len(m.chains))
	for _, c := range m.chains {
		live = append(live, c)
	}
	m.mu.Unlock()

	for _, c := range live {
		c.cancel()
	}
	for _, c := range live {
		<-c.done
	}
}

// Running reports whether a chain for name is live.
func (m *Manager) Running(name string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.chains[name]
	return ok
}

// Names returns the cameras with a live chain, sorted.
func (m *Manager) Names() []string {
	m.mu.Lock()
	names := make([]string, 0, len(m.chains))
	for name := range m.chains {
		names = append(names, name)
	}
	m.mu.Unlock()
	sort.Strings(names)
	return names
}

// Err returns the error that ended the last chain of name, if any.
func (m *Manager) Err(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.errs[name]
}
