// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package main

import (
	"context"
	"flag"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/ManuGH/camcore/internal/config"
	"github.com/ManuGH/camcore/internal/daemon"
	"github.com/ManuGH/camcore/internal/health"
	camlog "github.com/ManuGH/camcore/internal/log"
	"github.com/ManuGH/camcore/internal/version"
)

// maskURL removes user info from a URL string for safe logging.
func maskURL(rawURL string) string {
	parsedURL, err := url.Parse(rawURL)
	if err != nil {
		return "invalid-url-redacted"
	}
	parsedURL.User = nil
	return parsedURL.String()
}

// resolveConfigPath returns the explicit path, or config.yaml under the data
// directory when it exists.
func resolveConfigPath(explicit string) string {
	if p := strings.TrimSpace(explicit); p != "" {
		return p
	}
	dataDir := strings.TrimSpace(config.ParseString(config.EnvPrefix+"DATA_DIR", config.Defaults().DataDir))
	autoPath := filepath.Join(dataDir, "config.yaml")
	if _, err := os.Stat(autoPath); err == nil {
		return autoPath
	}
	return ""
}

func main() {
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "config":
			os.Exit(runConfigCLI(os.Args[2:]))
		case "healthcheck":
			os.Exit(runHealthcheckCLI(os.Args[2:]))
		}
	}

	showVersion := flag.Bool("version", false, "print version and exit")
	configPath := flag.String("config", "", "path to config file (YAML)")
	flag.Parse()

	if *showVersion {
		fmt.Printf("%s (commit: %s, built: %s)\n", version.Version, version.Commit, version.Date)
		os.Exit(0)
	}

	// Safe defaults until config is loaded
	camlog.Configure(camlog.Config{
		Level:   "info",
		Service: "camcore",
		Version: version.Version,
	})
	logger := camlog.WithComponent("daemon")

	ctx, stop := daemon.WaitForShutdown(context.Background())
	defer stop()

	effectiveConfigPath := resolveConfigPath(*configPath)
	cfg, err := config.NewLoader(effectiveConfigPath, version.Version).Load()
	if err != nil {
		logger.Fatal().
			Err(err).
			Str("event", "config.load_failed").
			Str("config_path", effectiveConfigPath).
			Msg("failed to load configuration")
	}

	service := cfg.LogService
	if service == "" {
		service = "camcore"
	}
	camlog.Configure(camlog.Config{
		Level:   cfg.LogLevel,
		Service: service,
		Version: cfg.Version,
	})
	logger = camlog.WithComponent("daemon")

	if effectiveConfigPath != "" {
		logger.Info().Str("event", "config.loaded").Str("source", "file").Str("path", effectiveConfigPath).Msg("loaded configuration from file")
	} else {
		logger.Info().Str("event", "config.loaded").Str("source", "env+defaults").Msg("loaded configuration from environment and defaults")
	}

	if err := health.PerformStartupChecks(ctx, cfg); err != nil {
		logger.Fatal().
			Err(err).
			Str("event", "startup.check_failed").
			Msg("Startup checks failed. Please verify configuration and permissions.")
	}

	logger.Info().
		Str("event", "startup").
		Str("version", version.Version).
		Str("commit", version.Commit).
		Str("build_date", version.Date).
		Str("addr", cfg.API.ListenAddr).
		Msg("starting camcore")
	logger.Info().Msgf("→ Data dir: %s", cfg.DataDir)
	logger.Info().Msgf("→ Recordings: %s (catalogue %s)", cfg.Recordings.Root, cfg.Recordings.Database)
	logger.Info().Msgf("→ Snapshot cache: %s (ttl %s)", cfg.Snapshot.Backend, cfg.Snapshot.TTL)
	if cfg.Telemetry.Enabled {
		logger.Info().Msgf("→ Tracing: %s via %s", maskURL(cfg.Telemetry.Endpoint), cfg.Telemetry.ExporterType)
	}

	rt, err := daemon.Bootstrap(ctx, cfg)
	if err != nil {
		logger.Fatal().
			Err(err).
			Str("event", "bootstrap.failed").
			Msg("failed to build runtime")
	}

	if err := rt.App.Run(ctx); err != nil {
		logger.Fatal().
			Err(err).
			Str("event", "manager.failed").
			Msg("daemon app failed")
	}

	logger.Info().Msg("server exiting")
}
