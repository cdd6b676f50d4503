// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package relay provides the streaming relay HTTP service.
//
// The relay accepts a flattened conversation transcript on GET /api/ai,
// opens a streaming chat completion upstream, and forwards every chunk to
// the client as a server-sent event, ending with "data: [DONE]".
//
// # Usage
//
//	client, _ := llm.NewOpenAIClient(llm.OpenAIConfig{APIKey: key})
//	svc, err := relay.New(relay.Config{Port: 8080}, client)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if err := svc.Run(ctx); err != nil {
//	    log.Fatal(err)
//	}
package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jdan/deepdive/services/llm"
	"github.com/jdan/deepdive/services/relay/handlers"
	"github.com/jdan/deepdive/services/relay/observability"
	"github.com/jdan/deepdive/services/relay/routes"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
)

// =============================================================================
// Service Interface
// =============================================================================

// Service is a runnable relay server.
type Service interface {
	// Run serves until ctx is cancelled, then shuts down gracefully.
	Run(ctx context.Context) error

	// Serve is Run on an existing listener.
	Serve(ctx context.Context, ln net.Listener) error

	// Router returns the configured engine, mainly for tests.
	Router() *gin.Engine

	// UpdateSettings changes the default model and keepalive interval for
	// new streams.
	UpdateSettings(s handlers.Settings)
}

// =============================================================================
// Configuration
// =============================================================================

// Config holds relay configuration.
type Config struct {
	// Port to listen on. Default: 8080
	Port int

	// Model used when a request names none. Default: gpt-3.5-turbo
	Model string

	// KeepAliveInterval between ": ping" comments. Default: 15s.
	// Negative disables keepalives.
	KeepAliveInterval time.Duration

	// MaxConcurrentStreams caps open streams. 0 means unlimited.
	MaxConcurrentStreams int

	// RequestsPerSecond caps new streams per second. 0 means unlimited.
	RequestsPerSecond float64

	// GinMode is "debug", "release" or "test". Default: release
	GinMode string

	// ShutdownTimeout bounds graceful shutdown. Default: 10s
	ShutdownTimeout time.Duration

	// ServiceName is used for the tracing middleware. Default: deepdive-relay
	ServiceName string
}

// =============================================================================
// Service Implementation
// =============================================================================

type service struct {
	config        Config
	router        *gin.Engine
	metrics       *observability.RelayMetrics
	streamHandler *handlers.StreamHandler
}

// New creates a relay service around client.
func New(cfg Config, client llm.StreamingClient) (Service, error) {
	if client == nil {
		return nil, errors.New("relay: streaming client is required")
	}

	s := &service{
		config:  applyConfigDefaults(cfg),
		metrics: observability.NewRelayMetrics(),
	}

	s.streamHandler = handlers.NewStreamHandler(
		client,
		s.metrics,
		handlers.NewAdmission(s.config.MaxConcurrentStreams, s.config.RequestsPerSecond),
		s.settings(),
	)

	s.initRouter()
	return s, nil
}

func (s *service) Run(ctx context.Context) error {
	addr := fmt.Sprintf(":%d", s.config.Port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}
	return s.Serve(ctx, ln)
}

func (s *service) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		// Transcripts travel in the query string.
		MaxHeaderBytes: 8 << 20,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("Starting relay server", "addr", ln.Addr().String(), "model", s.config.Model)
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("relay server: %w", err)
	case <-ctx.Done():
	}

	slog.Info("Shutting down relay server", "timeout", s.config.ShutdownTimeout)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		// Open streams outlived the timeout.
		_ = srv.Close()
		return fmt.Errorf("relay shutdown: %w", err)
	}
	return nil
}

func (s *service) Router() *gin.Engine {
	return s.router
}

func (s *service) UpdateSettings(settings handlers.Settings) {
	if settings.Model == "" {
		settings.Model = s.config.Model
	}
	s.streamHandler.UpdateSettings(settings)
	slog.Info("Relay settings updated", "model", settings.Model, "keepalive", settings.KeepAliveInterval)
}

// =============================================================================
// Private Methods
// =============================================================================

func applyConfigDefaults(cfg Config) Config {
	if cfg.Port == 0 {
		cfg.Port = 8080
	}
	if cfg.Model == "" {
		cfg.Model = llm.DefaultOpenAIModel
	}
	if cfg.KeepAliveInterval == 0 {
		cfg.KeepAliveInterval = handlers.DefaultKeepAliveInterval
	}
	if cfg.GinMode == "" {
		cfg.GinMode = gin.ReleaseMode
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}
	if cfg.ServiceName == "" {
		cfg.ServiceName = "deepdive-relay"
	}
	return cfg
}

func (s *service) settings() handlers.Settings {
	keepAlive := s.config.KeepAliveInterval
	if keepAlive < 0 {
		keepAlive = 0
	}
	return handlers.Settings{Model: s.config.Model, KeepAliveInterval: keepAlive}
}

func (s *service) initRouter() {
	gin.SetMode(s.config.GinMode)
	s.router = gin.New()
	s.router.Use(gin.Recovery())
	if s.config.GinMode == gin.DebugMode {
		s.router.Use(gin.Logger())
	}
	s.router.Use(otelgin.Middleware(s.config.ServiceName))

	routes.SetupRoutes(s.router, s.streamHandler, s.metrics)
}

var _ Service = (*service)(nil)
