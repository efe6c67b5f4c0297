// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import (
	"errors"
	"fmt"
	"strings"
)

// Validate checks the resolved configuration. All problems are reported at once.
func Validate(cfg AppConfig) error {
	var errs []error
	fail := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf("%w: "+format, append([]any{ErrInvalid}, args...)...))
	}

	if strings.TrimSpace(cfg.FFmpeg.Bin) == "" {
		fail("ffmpeg.bin must not be empty")
	}
	if cfg.FFmpeg.KillTimeout <= 0 {
		fail("ffmpeg.killTimeout must be positive, got %s", cfg.FFmpeg.KillTimeout)
	}
	if cfg.Snapshot.TTL <= 0 {
		fail("snapshot.ttl must be positive, got %s", cfg.Snapshot.TTL)
	}
	switch cfg.Snapshot.Backend {
	case "memory":
	case "redis":
		if cfg.Snapshot.Redis.Addr == "" {
			fail("snapshot.redis.addr is required for the redis backend")
		}
	default:
		fail("snapshot.backend %q is not one of memory, redis", cfg.Snapshot.Backend)
	}
	if cfg.Recordings.ClipDuration <= 0 {
		fail("recordings.clipDuration must be positive, got %s", cfg.Recordings.ClipDuration)
	}
	if cfg.Recordings.RelaunchDelay < 0 {
		fail("recordings.relaunchDelay must not be negative, got %s", cfg.Recordings.RelaunchDelay)
	}
	if cfg.Recordings.ThumbnailOffset < 0 || cfg.Recordings.ThumbnailOffset >= cfg.Recordings.ClipDuration {
		fail("recordings.thumbnailOffset %s must lie within the clip", cfg.Recordings.ThumbnailOffset)
	}
	if strings.ContainsAny(cfg.Recordings.ProductTag, "/\\ ") {
		fail("recordings.productTag %q must not contain separators or spaces", cfg.Recordings.ProductTag)
	}
	if cfg.API.MetricsListenAddr != "" && cfg.API.MetricsListenAddr == cfg.API.ListenAddr {
		fail("api.metricsListenAddr must differ from api.listenAddr")
	}
	if cfg.API.ShutdownTimeout <= 0 {
		fail("api.shutdownTimeout must be positive, got %s", cfg.API.ShutdownTimeout)
	}
	if cfg.API.SnapshotRateLimit < 0 {
		fail("api.snapshotRateLimit must not be negative")
	}
	if cfg.Telemetry.Enabled {
		if cfg.Telemetry.ExporterType != "grpc" && cfg.Telemetry.ExporterType != "http" {
			fail("telemetry.exporter %q is not one of grpc, http", cfg.Telemetry.ExporterType)
		}
		if cfg.Telemetry.SamplingRate < 0 || cfg.Telemetry.SamplingRate > 1 {
			fail("telemetry.samplingRate must be within [0,1]")
		}
	}

	return errors.Join(errs...)
}
