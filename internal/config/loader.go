// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// EnvPrefix is the prefix of every environment override.
const EnvPrefix = "CAMCORE_"

// Loader handles configuration loading with precedence
type Loader struct {
	configPath      string
	version         string
	ConsumedEnvKeys map[string]struct{}
}

// NewLoader creates a new configuration loader
func NewLoader(configPath, version string) *Loader {
	return &Loader{
		configPath:      configPath,
		version:         version,
		ConsumedEnvKeys: make(map[string]struct{}),
	}
}

func (l *Loader) envString(key, defaultVal string) string {
	l.ConsumedEnvKeys[EnvPrefix+key] = struct{}{}
	return ParseString(EnvPrefix+key, defaultVal)
}

func (l *Loader) envBool(key string, defaultVal bool) bool {
	l.ConsumedEnvKeys[EnvPrefix+key] = struct{}{}
	return ParseBool(EnvPrefix+key, defaultVal)
}

func (l *Loader) envInt(key string, defaultVal int) int {
	l.ConsumedEnvKeys[EnvPrefix+key] = struct{}{}
	return ParseInt(EnvPrefix+key, defaultVal)
}

func (l *Loader) envFloat(key string, defaultVal float64) float64 {
	l.ConsumedEnvKeys[EnvPrefix+key] = struct{}{}
	return ParseFloat(EnvPrefix+key, defaultVal)
}

func (l *Loader) envDuration(key string, defaultVal time.Duration) time.Duration {
	l.ConsumedEnvKeys[EnvPrefix+key] = struct{}{}
	return ParseDuration(EnvPrefix+key, defaultVal)
}

// Load loads configuration with precedence: ENV > File > Defaults
func (l *Loader) Load() (AppConfig, error) {
	cfg := Defaults()

	if l.configPath != "" {
		if err := l.loadFile(l.configPath, &cfg); err != nil {
			return cfg, fmt.Errorf("load config file: %w", err)
		}
	}

	l.mergeEnv(&cfg)
	cfg.Version = l.version

	if abs, err := filepath.Abs(cfg.DataDir); err == nil {
		cfg.DataDir = abs
	}
	resolvePaths(&cfg)

	if err := Validate(cfg); err != nil {
		return cfg, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// Defaults returns the built-in configuration.
func Defaults() AppConfig {
	return AppConfig{
		DataDir:  "/var/lib/camcore",
		LogLevel: "info",
		FFmpeg: FFmpegConfig{
			Bin:         "ffmpeg",
			KillTimeout: 5 * time.Second,
		},
		Snapshot: SnapshotConfig{
			TTL:     10 * time.Second,
			Backend: "memory",
		},
		Recordings: RecordingsConfig{
			ProductTag:      "CUI",
			Author:          "camera.ui",
			ClipDuration:    5 * time.Minute,
			RelaunchDelay:   time.Second,
			ThumbnailOffset: 3500 * time.Millisecond,
		},
		Stream: StreamConfig{
			AcceptTimeout: 10 * time.Second,
		},
		API: APIConfig{
			ListenAddr:        ":8090",
			SnapshotRateLimit: 120,
			ShutdownTimeout:   10 * time.Second,
		},
		Telemetry: TelemetryConfig{
			ExporterType: "grpc",
			Endpoint:     "localhost:4317",
			SamplingRate: 1.0,
		},
	}
}

// loadFile decodes the YAML file on top of cfg. Unknown keys are rejected.
func (l *Loader) loadFile(path string, cfg *AppConfig) error {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return err
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		if strings.Contains(err.Error(), "not found in type") {
			return fmt.Errorf("%w: %v", ErrUnknownConfigField, err)
		}
		return err
	}
	return nil
}

func (l *Loader) mergeEnv(cfg *AppConfig) {
	cfg.DataDir = l.envString("DATA_DIR", cfg.DataDir)
	cfg.LogLevel = l.envString("LOG_LEVEL", cfg.LogLevel)
	cfg.LogService = l.envString("LOG_SERVICE", cfg.LogService)
	cfg.CamerasFile = l.envString("CAMERAS_FILE", cfg.CamerasFile)

	cfg.FFmpeg.Bin = l.envString("FFMPEG_BIN", cfg.FFmpeg.Bin)
	cfg.FFmpeg.KillTimeout = l.envDuration("FFMPEG_KILL_TIMEOUT", cfg.FFmpeg.KillTimeout)
	cfg.FFmpeg.Version = l.envInt("FFMPEG_VERSION", cfg.FFmpeg.Version)

	cfg.Snapshot.TTL = l.envDuration("SNAPSHOT_TTL", cfg.Snapshot.TTL)
	cfg.Snapshot.Backend = l.envString("SNAPSHOT_BACKEND", cfg.Snapshot.Backend)
	cfg.Snapshot.SingleFlight = l.envBool("SNAPSHOT_SINGLEFLIGHT", cfg.Snapshot.SingleFlight)
	cfg.Snapshot.Redis.Addr = l.envString("REDIS_ADDR", cfg.Snapshot.Redis.Addr)
	cfg.Snapshot.Redis.Password = l.envString("REDIS_PASSWORD", cfg.Snapshot.Redis.Password)
	cfg.Snapshot.Redis.DB = l.envInt("REDIS_DB", cfg.Snapshot.Redis.DB)

	cfg.Recordings.Root = l.envString("RECORDINGS_ROOT", cfg.Recordings.Root)
	cfg.Recordings.Database = l.envString("RECORDINGS_DB", cfg.Recordings.Database)
	cfg.Recordings.ProductTag = l.envString("RECORDINGS_PRODUCT_TAG", cfg.Recordings.ProductTag)
	cfg.Recordings.Author = l.envString("RECORDINGS_AUTHOR", cfg.Recordings.Author)
	cfg.Recordings.ClipDuration = l.envDuration("SURVEILLANCE_CLIP_DURATION", cfg.Recordings.ClipDuration)
	cfg.Recordings.RelaunchDelay = l.envDuration("SURVEILLANCE_RELAUNCH_DELAY", cfg.Recordings.RelaunchDelay)
	cfg.Recordings.ThumbnailOffset = l.envDuration("SURVEILLANCE_THUMBNAIL_OFFSET", cfg.Recordings.ThumbnailOffset)

	cfg.Stream.PrebufferLength = l.envDuration("STREAM_PREBUFFER_LENGTH", cfg.Stream.PrebufferLength)
	cfg.Stream.AcceptTimeout = l.envDuration("STREAM_ACCEPT_TIMEOUT", cfg.Stream.AcceptTimeout)

	cfg.API.ListenAddr = l.envString("LISTEN", cfg.API.ListenAddr)
	cfg.API.MetricsListenAddr = l.envString("METRICS_LISTEN", cfg.API.MetricsListenAddr)
	cfg.API.SnapshotRateLimit = l.envInt("SNAPSHOT_RATE_LIMIT", cfg.API.SnapshotRateLimit)
	cfg.API.ShutdownTimeout = l.envDuration("SHUTDOWN_TIMEOUT", cfg.API.ShutdownTimeout)

	cfg.Telemetry.Enabled = l.envBool("TELEMETRY_ENABLED", cfg.Telemetry.Enabled)
	cfg.Telemetry.ExporterType = l.envString("TELEMETRY_EXPORTER", cfg.Telemetry.ExporterType)
	cfg.Telemetry.Endpoint = l.envString("TELEMETRY_ENDPOINT", cfg.Telemetry.Endpoint)
	cfg.Telemetry.SamplingRate = l.envFloat("TELEMETRY_SAMPLING_RATE", cfg.Telemetry.SamplingRate)
}

// resolvePaths derives storage locations under DataDir when left empty.
func resolvePaths(cfg *AppConfig) {
	if cfg.Recordings.Root == "" {
		cfg.Recordings.Root = filepath.Join(cfg.DataDir, "recordings")
	}
	if cfg.Recordings.Database == "" {
		cfg.Recordings.Database = filepath.Join(cfg.DataDir, "recordings.db")
	}
	if cfg.CamerasFile == "" {
		cfg.CamerasFile = filepath.Join(cfg.DataDir, "cameras.yaml")
	}
}
