// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
)

// DoneSentinel is written as the final data payload of a successful stream.
const DoneSentinel = "[DONE]"

// =============================================================================
// SSEWriter Interface
// =============================================================================

// SSEWriter writes relay events to an HTTP response.
//
// # Description
//
// Upstream chunks are forwarded untouched as the data payload of unnamed
// events:
//
//	data: {"id":"chatcmpl-1","choices":[{"delta":{"content":"Hi"}}]}
//
//	data: [DONE]
//
// Failures after the stream has started use a named event so clients can
// tell them apart from chunks:
//
//	event: error
//	data: {"error":"upstream stream failed"}
//
// # Thread Safety
//
// Implementations must be safe for concurrent use. The heartbeat goroutine
// writes keepalives while the handler forwards chunks.
//
// # Limitations
//
//   - Must be used with an http.Flusher-compatible ResponseWriter
//   - Response headers must be set before the first write
type SSEWriter interface {
	// WriteChunk forwards one raw upstream payload and flushes.
	WriteChunk(raw []byte) error

	// WriteDone writes the [DONE] sentinel.
	WriteDone() error

	// WriteError writes a named error event with a client-safe message.
	WriteError(errMsg string) error

	// WriteKeepAlive writes an SSE comment that clients ignore.
	WriteKeepAlive() error
}

// =============================================================================
// SSEWriter Implementation
// =============================================================================

type sseWriter struct {
	writer  http.ResponseWriter
	flusher http.Flusher
	mu      sync.Mutex
}

// NewSSEWriter creates an SSEWriter for w.
//
// # Outputs
//
//   - SSEWriter: Ready for use.
//   - error: Non-nil if w does not implement http.Flusher.
func NewSSEWriter(w http.ResponseWriter) (SSEWriter, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("ResponseWriter does not support http.Flusher")
	}

	return &sseWriter{
		writer:  w,
		flusher: flusher,
	}, nil
}

func (w *sseWriter) WriteChunk(raw []byte) error {
	return w.write("data: %s\n\n", raw)
}

func (w *sseWriter) WriteDone() error {
	return w.write("data: %s\n\n", DoneSentinel)
}

func (w *sseWriter) WriteError(errMsg string) error {
	data, err := json.Marshal(map[string]string{"error": errMsg})
	if err != nil {
		return fmt.Errorf("marshal error event: %w", err)
	}
	return w.write("event: error\ndata: %s\n\n", data)
}

func (w *sseWriter) WriteKeepAlive() error {
	return w.write(": ping\n\n")
}

func (w *sseWriter) write(format string, args ...any) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if _, err := fmt.Fprintf(w.writer, format, args...); err != nil {
		return fmt.Errorf("write event: %w", err)
	}
	w.flusher.Flush()
	return nil
}

// =============================================================================
// Helper Functions
// =============================================================================

// SetSSEHeaders sets the standard headers for an event stream.
//
// X-Accel-Buffering disables proxy buffering in nginx.
func SetSSEHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
}

var _ SSEWriter = (*sseWriter)(nil)
