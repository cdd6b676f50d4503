// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package observability holds the relay's Prometheus metrics.
package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// =============================================================================
// Metric Names
// =============================================================================

const metricsNamespace = "deepdive"

const relaySubsystem = "relay"

// =============================================================================
// RelayMetrics
// =============================================================================

// RelayMetrics holds the collectors for one relay instance.
//
// # Description
//
// Every RelayMetrics owns a private registry, so several relays (tests,
// embedded servers) can coexist in one process without duplicate
// registration panics. Handler exposes the registry at /metrics.
type RelayMetrics struct {
	registry *prometheus.Registry

	// RequestsTotal counts requests by endpoint and status
	// (success, error, rejected).
	RequestsTotal *prometheus.CounterVec

	// ChunksTotal counts upstream chunks forwarded to clients.
	ChunksTotal *prometheus.CounterVec

	TimeToFirstChunkSeconds *prometheus.HistogramVec

	StreamDurationSeconds *prometheus.HistogramVec

	ActiveStreams *prometheus.GaugeVec

	ErrorsTotal *prometheus.CounterVec

	KeepAlivesTotal *prometheus.CounterVec

	ClientDisconnectsTotal *prometheus.CounterVec
}

func NewRelayMetrics() *RelayMetrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &RelayMetrics{
		registry: reg,

		RequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: relaySubsystem,
				Name:      "requests_total",
				Help:      "Total number of relay requests by endpoint and status",
			},
			[]string{"endpoint", "status"},
		),

		ChunksTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: relaySubsystem,
				Name:      "chunks_total",
				Help:      "Total upstream chunks forwarded by endpoint and model",
			},
			[]string{"endpoint", "model"},
		),

		TimeToFirstChunkSeconds: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: relaySubsystem,
				Name:      "time_to_first_chunk_seconds",
				Help:      "Time from request to first forwarded chunk in seconds",
				Buckets:   []float64{0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0},
			},
			[]string{"endpoint"},
		),

		StreamDurationSeconds: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: relaySubsystem,
				Name:      "stream_duration_seconds",
				Help:      "Total stream duration in seconds",
				Buckets:   []float64{1, 5, 10, 30, 60, 120, 300},
			},
			[]string{"endpoint", "status"},
		),

		ActiveStreams: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Subsystem: relaySubsystem,
				Name:      "active_streams",
				Help:      "Number of currently open relay streams",
			},
			[]string{"endpoint"},
		),

		ErrorsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: relaySubsystem,
				Name:      "errors_total",
				Help:      "Total relay errors by endpoint and error code",
			},
			[]string{"endpoint", "error_code"},
		),

		KeepAlivesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: relaySubsystem,
				Name:      "keepalives_total",
				Help:      "Total keepalive comments sent",
			},
			[]string{"endpoint"},
		),

		ClientDisconnectsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: relaySubsystem,
				Name:      "client_disconnects_total",
				Help:      "Total client disconnections during streaming",
			},
			[]string{"endpoint"},
		),
	}
}

// Registry returns the private registry.
func (m *RelayMetrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *RelayMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// =============================================================================
// Labels
// =============================================================================

// ErrorCode categorizes relay errors for metrics.
type ErrorCode string

const (
	ErrorCodeValidation ErrorCode = "validation"

	// ErrorCodeUpstreamOpen means the upstream stream could not be opened.
	ErrorCodeUpstreamOpen ErrorCode = "upstream_open"

	// ErrorCodeUpstreamStream means the upstream failed after streaming began.
	ErrorCodeUpstreamStream ErrorCode = "upstream_stream"

	ErrorCodeRateLimited ErrorCode = "rate_limited"

	ErrorCodeOverloaded ErrorCode = "overloaded"

	ErrorCodeInternal ErrorCode = "internal"

	ErrorCodeClientDisconnect ErrorCode = "client_disconnect"
)

// Endpoint identifies the relay transport.
type Endpoint string

const (
	EndpointSSE Endpoint = "sse"

	EndpointWebSocket Endpoint = "websocket"
)

// Status values for RequestsTotal.
const (
	StatusSuccess  = "success"
	StatusError    = "error"
	StatusRejected = "rejected"
)

// =============================================================================
// Recording Helpers
// =============================================================================

func (m *RelayMetrics) RecordRequest(endpoint Endpoint, status string) {
	m.RequestsTotal.WithLabelValues(string(endpoint), status).Inc()
}

func (m *RelayMetrics) RecordError(endpoint Endpoint, code ErrorCode) {
	m.ErrorsTotal.WithLabelValues(string(endpoint), string(code)).Inc()
}

func (m *RelayMetrics) RecordChunk(endpoint Endpoint, model string) {
	m.ChunksTotal.WithLabelValues(string(endpoint), model).Inc()
}

func (m *RelayMetrics) StreamStarted(endpoint Endpoint) {
	m.ActiveStreams.WithLabelValues(string(endpoint)).Inc()
}

func (m *RelayMetrics) StreamEnded(endpoint Endpoint) {
	m.ActiveStreams.WithLabelValues(string(endpoint)).Dec()
}

func (m *RelayMetrics) RecordTimeToFirstChunk(endpoint Endpoint, seconds float64) {
	m.TimeToFirstChunkSeconds.WithLabelValues(string(endpoint)).Observe(seconds)
}

func (m *RelayMetrics) RecordStreamDuration(endpoint Endpoint, seconds float64, success bool) {
	status := StatusSuccess
	if !success {
		status = StatusError
	}
	m.StreamDurationSeconds.WithLabelValues(string(endpoint), status).Observe(seconds)
}

func (m *RelayMetrics) RecordKeepAlive(endpoint Endpoint) {
	m.KeepAlivesTotal.WithLabelValues(string(endpoint)).Inc()
}

func (m *RelayMetrics) RecordClientDisconnect(endpoint Endpoint) {
	m.ClientDisconnectsTotal.WithLabelValues(string(endpoint)).Inc()
}
