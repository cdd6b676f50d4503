// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package handlers implements the relay's HTTP and WebSocket endpoints.
package handlers

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jdan/deepdive/pkg/telemetry"
	"github.com/jdan/deepdive/services/llm"
	"github.com/jdan/deepdive/services/relay/datatypes"
	"github.com/jdan/deepdive/services/relay/observability"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// =============================================================================
// Constants
// =============================================================================

const (
	// DefaultKeepAliveInterval is the interval between ": ping" comments.
	DefaultKeepAliveInterval = 15 * time.Second

	// upstreamFailedMessage is the client-facing text for mid-stream failures.
	upstreamFailedMessage = "upstream stream failed"

	// upstreamUnavailableMessage is the client-facing text when the upstream
	// stream cannot be opened.
	upstreamUnavailableMessage = "upstream unavailable"
)

// Settings are the parts of the relay configuration that can change while
// the server runs.
type Settings struct {
	// Model is used when a request does not name one.
	Model string

	// KeepAliveInterval between ": ping" comments. Zero disables keepalives.
	KeepAliveInterval time.Duration
}

// =============================================================================
// StreamHandler
// =============================================================================

// StreamHandler relays upstream chat-completion streams to clients.
type StreamHandler struct {
	client    llm.StreamingClient
	metrics   *observability.RelayMetrics
	admission *Admission
	tracer    trace.Tracer
	settings  atomic.Pointer[Settings]
}

// NewStreamHandler creates a StreamHandler.
//
// # Description
//
// Panics if client or metrics is nil (programming errors). admission may be
// nil, which admits every request.
//
// # Examples
//
//	h := handlers.NewStreamHandler(openaiClient, metrics, nil, handlers.Settings{
//	    Model:             "gpt-3.5-turbo",
//	    KeepAliveInterval: 15 * time.Second,
//	})
//	router.GET("/api/ai", h.HandleStream)
func NewStreamHandler(
	client llm.StreamingClient,
	metrics *observability.RelayMetrics,
	admission *Admission,
	settings Settings,
) *StreamHandler {
	if client == nil {
		panic("NewStreamHandler: client must not be nil")
	}
	if metrics == nil {
		panic("NewStreamHandler: metrics must not be nil")
	}

	h := &StreamHandler{
		client:    client,
		metrics:   metrics,
		admission: admission,
		tracer:    otel.Tracer("deepdive.relay.handlers"),
	}
	h.UpdateSettings(settings)
	return h
}

// UpdateSettings replaces the live settings. In-flight streams keep the
// settings they started with.
func (h *StreamHandler) UpdateSettings(s Settings) {
	if s.KeepAliveInterval < 0 {
		s.KeepAliveInterval = 0
	}
	h.settings.Store(&s)
}

// Settings returns the current live settings.
func (h *StreamHandler) Settings() Settings {
	return *h.settings.Load()
}

// =============================================================================
// Handler Methods
// =============================================================================

// HandleStream serves GET /api/ai.
//
// # Description
//
// The flow is:
//  1. Parse and validate the transcript query (400 JSON)
//  2. Admission control (429 or 503 JSON)
//  3. Open the upstream stream (502 JSON, nothing streamed yet)
//  4. Set SSE headers and forward every raw chunk as "data: <json>"
//  5. Write "data: [DONE]" when the upstream ends
//
// A mid-stream upstream failure writes an "error" event and no [DONE].
// A client disconnect cancels the request context, which aborts the
// upstream stream.
//
// # Examples
//
//	GET /api/ai?transcript[0][role]=user&transcript[0][content]=Hello
//
//	data: {"id":"chatcmpl-1","object":"chat.completion.chunk",...}
//
//	data: [DONE]
func (h *StreamHandler) HandleStream(c *gin.Context) {
	startTime := time.Now()
	endpoint := observability.EndpointSSE

	ctx, span := h.tracer.Start(c.Request.Context(), "HandleStream")
	defer span.End()

	req, stream, ok := h.open(ctx, c, endpoint, span)
	if !ok {
		return
	}
	defer stream.Close()

	h.metrics.StreamStarted(endpoint)
	defer h.metrics.StreamEnded(endpoint)

	SetSSEHeaders(c.Writer)
	c.Status(http.StatusOK)
	sseWriter, err := NewSSEWriter(c.Writer)
	if err != nil {
		telemetry.RecordError(span, err)
		slog.Error("Failed to create SSE writer", "error", err, "requestId", req.RequestID)
		h.metrics.RecordError(endpoint, observability.ErrorCodeInternal)
		h.metrics.RecordRequest(endpoint, observability.StatusError)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "streaming not supported"})
		return
	}

	settings := h.Settings()
	heartbeatDone := make(chan struct{})
	var heartbeat sync.WaitGroup
	if settings.KeepAliveInterval > 0 {
		heartbeat.Add(1)
		go func() {
			defer heartbeat.Done()
			h.runHeartbeat(ctx, sseWriter, endpoint, settings.KeepAliveInterval, heartbeatDone)
		}()
	}

	result := h.forward(ctx, stream, endpoint, req, startTime, sseWriter.WriteChunk)

	close(heartbeatDone)
	heartbeat.Wait()

	switch result.outcome {
	case outcomeDone:
		if err := sseWriter.WriteDone(); err != nil {
			slog.Debug("Failed to write [DONE]", "error", err, "requestId", req.RequestID)
		}
	case outcomeUpstreamFailed:
		if err := sseWriter.WriteError(upstreamFailedMessage); err != nil {
			slog.Debug("Failed to write error event", "error", err, "requestId", req.RequestID)
		}
	}

	h.finish(span, endpoint, req, startTime, result)
}

// open runs parsing, admission and the upstream open. On failure it has
// already replied with a JSON error. Malformed requests are rejected before
// they reach admission.
func (h *StreamHandler) open(
	ctx context.Context,
	c *gin.Context,
	endpoint observability.Endpoint,
	span trace.Span,
) (*datatypes.StreamRequest, llm.ChunkStream, bool) {
	req, err := datatypes.ParseStreamRequest(c.Request.URL.Query())
	if err != nil {
		telemetry.RecordError(span, err)
		slog.Warn("Relay request validation failed", "error", err, "endpoint", endpoint)
		h.metrics.RecordError(endpoint, observability.ErrorCodeValidation)
		h.metrics.RecordRequest(endpoint, observability.StatusError)
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return nil, nil, false
	}

	release, status, code, ok := h.admission.Admit()
	if !ok {
		span.SetStatus(codes.Error, string(code))
		slog.Warn("Relay request rejected", "reason", code, "endpoint", endpoint)
		h.metrics.RecordError(endpoint, code)
		h.metrics.RecordRequest(endpoint, observability.StatusRejected)
		c.JSON(status, gin.H{"error": http.StatusText(status)})
		return nil, nil, false
	}

	model := req.Model
	if model == "" {
		model = h.Settings().Model
		req.Model = model
	}
	span.SetAttributes(
		attribute.String("request.id", req.RequestID),
		attribute.Int("request.message_count", len(req.Messages)),
		attribute.String("llm.model", model),
	)

	stream, err := h.client.OpenChatStream(ctx, toChatRequest(req))
	if err != nil {
		release()
		telemetry.RecordError(span, err)
		slog.Error("Failed to open upstream stream", "error", err, "requestId", req.RequestID, "model", model)
		h.metrics.RecordError(endpoint, observability.ErrorCodeUpstreamOpen)
		h.metrics.RecordRequest(endpoint, observability.StatusError)
		c.JSON(http.StatusBadGateway, gin.H{"error": upstreamUnavailableMessage})
		return nil, nil, false
	}

	slog.Info("Relay stream opened", "requestId", req.RequestID, "model", model, "messages", len(req.Messages), "endpoint", endpoint)
	return req, &releasingStream{ChunkStream: stream, release: release}, true
}

type outcome int

const (
	outcomeDone outcome = iota
	outcomeUpstreamFailed
	outcomeClientGone
)

type forwardResult struct {
	outcome outcome
	chunks  int
	err     error
}

// forward copies chunks from stream to write until EOF, an upstream error,
// a write error, or ctx cancellation.
func (h *StreamHandler) forward(
	ctx context.Context,
	stream llm.ChunkStream,
	endpoint observability.Endpoint,
	req *datatypes.StreamRequest,
	startTime time.Time,
	write func([]byte) error,
) forwardResult {
	var res forwardResult
	for {
		if err := ctx.Err(); err != nil {
			res.outcome, res.err = outcomeClientGone, err
			return res
		}

		raw, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			res.outcome = outcomeDone
			return res
		}
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				res.outcome, res.err = outcomeClientGone, ctxErr
				return res
			}
			res.outcome, res.err = outcomeUpstreamFailed, err
			return res
		}

		if err := write(raw); err != nil {
			res.outcome, res.err = outcomeClientGone, err
			return res
		}
		if res.chunks == 0 {
			h.metrics.RecordTimeToFirstChunk(endpoint, time.Since(startTime).Seconds())
		}
		res.chunks++
		h.metrics.RecordChunk(endpoint, req.Model)
	}
}

// finish records the terminal metrics, span status and log line.
func (h *StreamHandler) finish(
	span trace.Span,
	endpoint observability.Endpoint,
	req *datatypes.StreamRequest,
	startTime time.Time,
	res forwardResult,
) {
	duration := time.Since(startTime)
	span.SetAttributes(attribute.Int("stream.chunk_count", res.chunks))

	switch res.outcome {
	case outcomeDone:
		h.metrics.RecordRequest(endpoint, observability.StatusSuccess)
		h.metrics.RecordStreamDuration(endpoint, duration.Seconds(), true)
		slog.Info("Relay stream finished",
			"requestId", req.RequestID,
			"chunks", res.chunks,
			"duration_ms", duration.Milliseconds(),
		)
	case outcomeUpstreamFailed:
		telemetry.RecordError(span, res.err)
		h.metrics.RecordError(endpoint, observability.ErrorCodeUpstreamStream)
		h.metrics.RecordRequest(endpoint, observability.StatusError)
		h.metrics.RecordStreamDuration(endpoint, duration.Seconds(), false)
		slog.Error("Upstream stream failed",
			"error", res.err,
			"requestId", req.RequestID,
			"chunks", res.chunks,
		)
	case outcomeClientGone:
		span.SetStatus(codes.Error, "client disconnected")
		h.metrics.RecordClientDisconnect(endpoint)
		h.metrics.RecordError(endpoint, observability.ErrorCodeClientDisconnect)
		h.metrics.RecordRequest(endpoint, observability.StatusError)
		h.metrics.RecordStreamDuration(endpoint, duration.Seconds(), false)
		slog.Info("Client disconnected during stream",
			"requestId", req.RequestID,
			"chunks", res.chunks,
			"reason", res.err,
		)
	}
}

// runHeartbeat writes keepalives every interval until done is closed or ctx
// ends.
func (h *StreamHandler) runHeartbeat(
	ctx context.Context,
	writer SSEWriter,
	endpoint observability.Endpoint,
	interval time.Duration,
	done <-chan struct{},
) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := writer.WriteKeepAlive(); err != nil {
				slog.Debug("Failed to write keepalive", "error", err)
				return
			}
			h.metrics.RecordKeepAlive(endpoint)
		}
	}
}

// =============================================================================
// Helpers
// =============================================================================

func toChatRequest(req *datatypes.StreamRequest) llm.ChatRequest {
	messages := make([]llm.Message, len(req.Messages))
	for i, m := range req.Messages {
		messages[i] = llm.Message{Role: m.Role, Content: m.Content}
	}
	return llm.ChatRequest{
		Model:    req.Model,
		Messages: messages,
		Params: llm.GenerationParams{
			Temperature: req.Temperature,
			MaxTokens:   req.MaxTokens,
		},
	}
}

// releasingStream frees the admission slot when the stream is closed.
type releasingStream struct {
	llm.ChunkStream
	release func()
	once    sync.Once
}

func (s *releasingStream) Close() error {
	err := s.ChunkStream.Close()
	s.once.Do(s.release)
	return err
}

// HealthCheck serves GET /health.
func HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
