// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package cache provides timestamped byte stores shared by engine components.
// Stores never evict in the background; callers judge freshness from Entry.Stored.
package cache

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// Entry is a stored payload with its write time.
type Entry struct {
	Stored time.Time
	Data   []byte
}

// Store is a keyed, last-writer-wins byte store.
type Store interface {
	Load(ctx context.Context, key string) (Entry, bool)
	// Save overwrites key. ttl is a retention hint for stores that support
	// expiry; it never shortens what Load reports as fresh.
	Save(ctx context.Context, key string, e Entry, ttl time.Duration)
	Clear(ctx context.Context)
	Stats() Stats
	Close() error
}

// Stats holds store statistics.
type Stats struct {
	Hits        int64
	Misses      int64
	Sets        int64
	CurrentSize int
}

type counters struct {
	hits   atomic.Int64
	misses atomic.Int64
	sets   atomic.Int64
}

// MemoryStore keeps entries in a map guarded by a RWMutex.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]Entry
	stats   counters
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]Entry)}
}

// Load implements Store.
func (m *MemoryStore) Load(_ context.Context, key string) (Entry, bool) {
	m.mu.RLock()
	e, ok := m.entries[key]
	m.mu.RUnlock()
	if !ok {
		m.stats.misses.Add(1)
		return Entry{}, false
	}
	m.stats.hits.Add(1)
	return e, true
}

// Save implements Store.
func (m *MemoryStore) Save(_ context.Context, key string, e Entry, _ time.Duration) {
	m.mu.Lock()
	m.entries[key] = e
	m.mu.Unlock()
	m.stats.sets.Add(1)
}

// Clear implements Store.
func (m *MemoryStore) Clear(context.Context) {
	m.mu.Lock()
	m.entries = make(map[string]Entry)
	m.mu.Unlock()
}

// Stats implements Store.
func (m *MemoryStore) Stats() Stats {
	m.mu.RLock()
	size := len(m.entries)
	m.mu.RUnlock()
	return Stats{
		Hits:        m.stats.hits.Load(),
		Misses:      m.stats.misses.Load(),
		Sets:        m.stats.sets.Load(),
		CurrentSize: size,
	}
}

// Close implements Store.
func (m *MemoryStore) Close() error { return nil }
