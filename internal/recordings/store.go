// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package recordings

import (
	"context"
	"errors"
	"sort"
	"sync"
)

var (
	ErrNotFound  = errors.New("recording not found")
	ErrDuplicate = errors.New("recording already exists")
)

// Store is the recording catalogue.
type Store interface {
	Create(ctx context.Context, d Descriptor) (Descriptor, error)
	MarkComplete(ctx context.Context, id string) error
	Get(ctx context.Context, id string) (Descriptor, error)
	// List returns the recordings of camera, or of every camera when empty,
	// newest first.
	List(ctx context.Context, camera string) ([]Descriptor, error)
	Close() error
}

// MemoryStore is an in-process Store.
type MemoryStore struct {
	mu   sync.RWMutex
	byID map[string]Descriptor
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{byID: make(map[string]Descriptor)}
}

func (m *MemoryStore) Create(_ context.Context, d Descriptor) (Descriptor, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.byID[d.ID]; ok {
		return Descriptor{}, ErrDuplicate
	}
	m.byID[d.ID] = d
	return d, nil
}

func (m *MemoryStore) MarkComplete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.byID[id]
	if !ok {
		return ErrNotFound
	}
	d.Complete = true
	d.Storing = false
	m.byID[id] = d
	return nil
}

func (m *MemoryStore) Get(_ context.Context, id string) (Descriptor, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.byID[id]
	if !ok {
		return Descriptor{}, ErrNotFound
	}
	return d, nil
}

func (m *MemoryStore) List(_ context.Context, camera string) ([]Descriptor, error) {
	m.mu.RLock()
	out := make([]Descriptor, 0, len(m.byID))
	for _, d := range m.byID {
		if camera == "" || d.Camera == camera {
			out = append(out, d)
		}
	}
	m.mu.RUnlock()
	sortNewestFirst(out)
	return out, nil
}

func (m *MemoryStore) Close() error { return nil }

func sortNewestFirst(ds []Descriptor) {
	sort.SliceStable(ds, func(i, j int) bool {
		if ds[i].Timestamp != ds[j].Timestamp {
			return ds[i].Timestamp > ds[j].Timestamp
		}
		return ds[i].ID < ds[j].ID
	})
}
