// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package cache

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// RedisConfig holds Redis connection configuration.
type RedisConfig struct {
	Addr     string // Redis server address (host:port)
	Password string // Redis password (optional)
	DB       int    // Redis database number
	// Prefix namespaces keys; Clear only removes keys under it.
	Prefix string
}

// RedisStore shares entries between engine instances through Redis.
// Values are an 8-byte big-endian unix-nano timestamp followed by the payload.
// Redis errors degrade to misses.
type RedisStore struct {
	client *redis.Client
	prefix string
	logger zerolog.Logger
	stats  counters
}

// NewRedisStore connects to Redis and verifies the connection.
func NewRedisStore(ctx context.Context, cfg RedisConfig, logger zerolog.Logger) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     10,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}

	logger.Info().Str("addr", cfg.Addr).Int("db", cfg.DB).Msg("connected to Redis cache")
	return newRedisStore(client, cfg.Prefix, logger), nil
}

func newRedisStore(client *redis.Client, prefix string, logger zerolog.Logger) *RedisStore {
	if prefix == "" {
		prefix = "camcore:"
	}
	return &RedisStore{client: client, prefix: prefix, logger: logger}
}

// Load implements Store.
func (r *RedisStore) Load(ctx context.Context, key string) (Entry, bool) {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	val, err := r.client.Get(ctx, r.prefix+key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			r.logger.Warn().Err(err).Str("key", key).Msg("redis get failed")
		}
		r.stats.misses.Add(1)
		return Entry{}, false
	}
	if len(val) < 8 {
		r.logger.Warn().Str("key", key).Int("len", len(val)).Msg("redis value too short")
		r.stats.misses.Add(1)
		return Entry{}, false
	}
	r.stats.hits.Add(1)
	return Entry{
		Stored: time.Unix(0, int64(binary.BigEndian.Uint64(val[:8]))),
		Data:   val[8:],
	}, true
}

// Save implements Store.
func (r *RedisStore) Save(ctx context.Context, key string, e Entry, ttl time.Duration) {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	val := make([]byte, 8, 8+len(e.Data))
	binary.BigEndian.PutUint64(val, uint64(e.Stored.UnixNano()))
	val = append(val, e.Data...)

	if err := r.client.Set(ctx, r.prefix+key, val, ttl).Err(); err != nil {
		r.logger.Warn().Err(err).Str("key", key).Msg("redis set failed")
		return
	}
	r.stats.sets.Add(1)
}

// Clear removes every key under the prefix.
func (r *RedisStore) Clear(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	iter := r.client.Scan(ctx, 0, r.prefix+"*", 100).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		r.logger.Warn().Err(err).Msg("redis scan failed")
		return
	}
	if len(keys) == 0 {
		return
	}
	if err := r.client.Del(ctx, keys...).Err(); err != nil {
		r.logger.Warn().Err(err).Msg("redis delete failed")
	}
}

// Stats implements Store. CurrentSize counts keys under the prefix.
func (r *RedisStore) Stats() Stats {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	size := 0
	iter := r.client.Scan(ctx, 0, r.prefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		size++
	}
	if err := iter.Err(); err != nil {
		r.logger.Warn().Err(err).Msg("redis scan failed")
	}
	return Stats{
		Hits:        r.stats.hits.Load(),
		Misses:      r.stats.misses.Load(),
		Sets:        r.stats.sets.Load(),
		CurrentSize: size,
	}
}

// Close closes the Redis connection.
func (r *RedisStore) Close() error {
	return r.client.Close()
}

// HealthCheck checks if Redis is available.
func (r *RedisStore) HealthCheck(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}
