// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package snapshot

import (
	"context"
	"time"

	"github.com/ManuGH/camcore/internal/cache"
)

// DefaultTTL is the freshness window of cached snapshots.
const DefaultTTL = 10 * time.Second

// Source selects the main or sub stream of a camera.
type Source string

const (
	SourceMain Source = "main"
	SourceSub  Source = "sub"
)

// SourceFor maps the sub-source flag to a Source.
func SourceFor(sub bool) Source {
	if sub {
		return SourceSub
	}
	return SourceMain
}

// Cache holds the most recent snapshot per (camera, source). Entries are
// fresh while younger than the TTL; staleness is checked on read only.
type Cache struct {
	store cache.Store
	ttl   time.Duration
	now   func() time.Time
}

// NewCache wraps store. A non-positive ttl selects DefaultTTL.
func NewCache(store cache.Store, ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Cache{store: store, ttl: ttl, now: time.Now}
}

func cacheKey(camera string, src Source) string {
	return "snapshot:" + camera + ":" + string(src)
}

// Get returns cached bytes if an entry for exactly (camera, src) is fresh.
func (c *Cache) Get(ctx context.Context, camera string, src Source) ([]byte, bool) {
	e, ok := c.store.Load(ctx, cacheKey(camera, src))
	if !ok {
		return nil, false
	}
	if c.now().Sub(e.Stored) >= c.ttl {
		return nil, false
	}
	return e.Data, true
}

// Put overwrites the entry for (camera, src).
func (c *Cache) Put(ctx context.Context, camera string, src Source, data []byte) {
	// Retain in the store a little past the TTL; freshness is decided by Get.
	c.store.Save(ctx, cacheKey(camera, src), cache.Entry{Stored: c.now(), Data: data}, 2*c.ttl)
}

// Clear drops every entry.
func (c *Cache) Clear(ctx context.Context) {
	c.store.Clear(ctx)
}

// TTL returns the freshness window.
func (c *Cache) TTL() time.Duration { return c.ttl }
