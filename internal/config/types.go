// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package config loads camcore configuration from defaults, a YAML file and
// CAMCORE_* environment variables, in that order of increasing precedence.
package config

import "time"

// AppConfig is the fully resolved runtime configuration.
type AppConfig struct {
	Version string `yaml:"-"`

	DataDir     string `yaml:"dataDir"`
	LogLevel    string `yaml:"logLevel"`
	LogService  string `yaml:"logService"`
	CamerasFile string `yaml:"camerasFile"`

	FFmpeg     FFmpegConfig     `yaml:"ffmpeg"`
	Snapshot   SnapshotConfig   `yaml:"snapshot"`
	Recordings RecordingsConfig `yaml:"recordings"`
	Stream     StreamConfig     `yaml:"stream"`
	API        APIConfig        `yaml:"api"`
	Telemetry  TelemetryConfig  `yaml:"telemetry"`
}

// FFmpegConfig locates the transcoder binary.
type FFmpegConfig struct {
	Bin         string        `yaml:"bin"`
	KillTimeout time.Duration `yaml:"killTimeout"`
	// Version is the transcoder major version used to rewrite deprecated
	// arguments. Zero disables the rewrite.
	Version int `yaml:"version"`
}

// SnapshotConfig controls the short-lived snapshot cache.
type SnapshotConfig struct {
	TTL          time.Duration `yaml:"ttl"`
	Backend      string        `yaml:"backend"` // memory | redis
	SingleFlight bool          `yaml:"singleFlight"`
	Redis        RedisConfig   `yaml:"redis"`
}

// RedisConfig is used when the snapshot cache backend is redis.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// RecordingsConfig controls clip naming, storage and the surveillance cadence.
type RecordingsConfig struct {
	Root            string        `yaml:"root"`
	Database        string        `yaml:"database"`
	ProductTag      string        `yaml:"productTag"`
	Author          string        `yaml:"author"`
	ClipDuration    time.Duration `yaml:"clipDuration"`
	RelaunchDelay   time.Duration `yaml:"relaunchDelay"`
	ThumbnailOffset time.Duration `yaml:"thumbnailOffset"`
}

// StreamConfig controls live fragment sessions.
type StreamConfig struct {
	// PrebufferLength is requested from the prebuffer when a camera has
	// prebuffering enabled.
	PrebufferLength time.Duration `yaml:"prebufferLength"`
	AcceptTimeout   time.Duration `yaml:"acceptTimeout"`
}

// APIConfig configures the HTTP adapter.
type APIConfig struct {
	ListenAddr string `yaml:"listenAddr"`
	// MetricsListenAddr moves /metrics to its own listener when set.
	MetricsListenAddr string        `yaml:"metricsListenAddr,omitempty"`
	SnapshotRateLimit int           `yaml:"snapshotRateLimit"` // requests per minute per client
	ShutdownTimeout   time.Duration `yaml:"shutdownTimeout"`
}

// TelemetryConfig configures OpenTelemetry tracing.
type TelemetryConfig struct {
	Enabled      bool    `yaml:"enabled"`
	ExporterType string  `yaml:"exporter"` // grpc | http
	Endpoint     string  `yaml:"endpoint"`
	SamplingRate float64 `yaml:"samplingRate"`
}
