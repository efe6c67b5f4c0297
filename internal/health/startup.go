// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package health

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"

	"github.com/ManuGH/camcore/internal/config"
	"github.com/ManuGH/camcore/internal/log"
	"github.com/rs/zerolog"
)

// PerformStartupChecks validates the environment and dependencies before starting the server.
func PerformStartupChecks(ctx context.Context, cfg config.AppConfig) error {
	logger := log.WithContext(ctx, log.WithComponent("startup-check"))
	logger.Info().Msg("Running pre-flight startup checks...")

	// 1. Directories
	if err := checkWritableDir(logger, cfg.DataDir); err != nil {
		return fmt.Errorf("data directory check failed: %w", err)
	}
	if err := checkWritableDir(logger, cfg.Recordings.Root); err != nil {
		return fmt.Errorf("recordings directory check failed: %w", err)
	}

	// 2. Targeted Validations
	if err := checkTargetedValidations(logger, cfg); err != nil {
		return fmt.Errorf("configuration validation failed: %w", err)
	}

	logger.Info().Msg("All startup checks passed")
	return nil
}

func checkWritableDir(logger zerolog.Logger, path string) error {
	if path == "" {
		return fmt.Errorf("directory not configured")
	}
	if err := os.MkdirAll(path, 0o750); err != nil {
		return fmt.Errorf("create directory %s: %w", path, err)
	}
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return fmt.Errorf("path is not a directory: %s", path)
	}

	// Check write permissions by creating a temp file
	testFile := filepath.Join(path, ".write_test")
	if err := os.WriteFile(testFile, []byte("ok"), 0o600); err != nil {
		return fmt.Errorf("directory is not writable: %s (error: %v)", path, err)
	}
	_ = os.Remove(testFile)

	logger.Info().Str("path", path).Msg("directory is writable")
	return nil
}

// checkTargetedValidations performs runtime-critical validations
func checkTargetedValidations(logger zerolog.Logger, cfg config.AppConfig) error {
	// a. Listen Address (Parseable)
	if cfg.API.ListenAddr != "" {
		_, port, err := net.SplitHostPort(cfg.API.ListenAddr)
		if err != nil {
			return fmt.Errorf("invalid API listen address %q: %w", cfg.API.ListenAddr, err)
		}
		portNum, err := strconv.Atoi(port)
		if err != nil || portNum < 0 || portNum > 65535 {
			return fmt.Errorf("invalid API listen port %q in %q", port, cfg.API.ListenAddr)
		}
		logger.Info().Str("addr", cfg.API.ListenAddr).Msg("API listen address is valid")
	}

	// b. Transcoder binary
	path, err := exec.LookPath(cfg.FFmpeg.Bin)
	if err != nil {
		return fmt.Errorf("ffmpeg binary %q not found: %w", cfg.FFmpeg.Bin, err)
	}
	logger.Info().Str("path", path).Msg("ffmpeg binary resolved")

	// c. Cameras file is optional; a missing file starts with no cameras.
	if cfg.CamerasFile != "" {
		if _, err := os.Stat(cfg.CamerasFile); os.IsNotExist(err) {
			logger.Warn().Str("path", cfg.CamerasFile).Msg("cameras file not found; starting with no cameras")
		}
	}
	return nil
}
