// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jdan/deepdive/cmd/deepdive/config"
	"github.com/jdan/deepdive/pkg/telemetry"
	"github.com/jdan/deepdive/services/llm"
	"github.com/jdan/deepdive/services/relay"
	"github.com/jdan/deepdive/services/relay/handlers"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

// runServe starts the relay and, when a config file is in use, a watcher
// that applies model and keepalive changes without a restart.
//
// # Description
//
// The relay and the watcher run in one errgroup. SIGINT or SIGTERM cancels
// the group, which shuts the HTTP server down gracefully. A watcher that
// cannot start is logged and does not stop the relay.
func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logger, err := newLogger(cfg, "relay", false)
	if err != nil {
		return err
	}
	defer logger.Close()
	slog.SetDefault(logger.Slog())

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.Init(ctx, telemetry.Config{
		ServiceName:    "deepdive-relay",
		ServiceVersion: version,
		TraceExporter:  cfg.Telemetry.TracesExporter,
		OTLPEndpoint:   cfg.Telemetry.OTLPEndpoint,
		OTLPInsecure:   true,
	})
	if err != nil {
		return err
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(flushCtx); err != nil {
			slog.Warn("Tracing shutdown failed", "error", err)
		}
	}()

	if !cfg.APIKey.IsSet() {
		return fmt.Errorf("%w: set %s or provide %s", llm.ErrMissingAPIKey, config.EnvAPIKey, cfg.APIKeyFile)
	}
	apiKey, err := cfg.APIKey.Reveal()
	if err != nil {
		return err
	}
	client, err := llm.NewOpenAIClient(llm.OpenAIConfig{
		APIKey:  apiKey,
		BaseURL: cfg.UpstreamBaseURL,
		Model:   cfg.Model,
	})
	if err != nil {
		return err
	}

	ginMode := gin.ReleaseMode
	if ginDebug {
		ginMode = gin.DebugMode
	}
	svc, err := relay.New(relay.Config{
		Port:                 cfg.Port,
		Model:                cfg.Model,
		KeepAliveInterval:    keepAliveForRelay(cfg.KeepAliveInterval),
		MaxConcurrentStreams: cfg.MaxConcurrentStreams,
		RequestsPerSecond:    cfg.RequestsPerSecond,
		GinMode:              ginMode,
	}, client)
	if err != nil {
		return err
	}

	slog.Info("Starting deepdive relay",
		"port", cfg.Port,
		"model", cfg.Model,
		"api_key", cfg.APIKey,
		"config", cfg.Path,
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return svc.Run(gctx)
	})
	if cfg.Path != "" {
		g.Go(func() error {
			err := config.Watch(gctx, config.Options{Path: cfg.Path, DotEnvPath: ".env"}, func(next *config.DeepdiveConfig) {
				applyReload(cmd, svc, next)
			})
			if err != nil {
				slog.Warn("Config hot reload disabled", "error", err)
			}
			return nil
		})
	}

	return g.Wait()
}

// applyReload pushes a reloaded config into the running relay. Flags keep
// precedence over the file. The relay logs the settings it applied.
func applyReload(cmd *cobra.Command, svc relay.Service, next *config.DeepdiveConfig) {
	applyFlags(cmd, next)
	svc.UpdateSettings(reloadSettings(next))
}

// keepAliveForRelay maps the config value to relay.Config, where zero means
// the default and negative disables.
func keepAliveForRelay(d time.Duration) time.Duration {
	if d == 0 {
		return -1
	}
	return d
}

// reloadSettings maps a reloaded config to live settings. Zero or negative
// keepalive disables the heartbeat.
func reloadSettings(cfg *config.DeepdiveConfig) handlers.Settings {
	return handlers.Settings{
		Model:             cfg.Model,
		KeepAliveInterval: max(cfg.KeepAliveInterval, 0),
	}
}
