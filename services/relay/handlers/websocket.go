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
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/jdan/deepdive/services/relay/observability"
	"go.opentelemetry.io/otel/codes"
)

const wsWriteTimeout = 10 * time.Second

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
	ReadBufferSize:  4 * 1024,
	WriteBufferSize: 64 * 1024,
}

// HandleWebSocket serves GET /api/ai/ws.
//
// # Description
//
// Same relay as HandleStream over a WebSocket. The transcript is read from
// the query string before the upgrade, so validation and upstream failures
// still get a JSON error response. After the upgrade each upstream chunk is
// one text message, followed by a final "[DONE]" text message. A mid-stream
// failure closes the socket with status 1011 and reason
// "upstream stream failed".
//
// # Limitations
//
//   - Messages sent by the client are ignored. Reading only detects close.
func (h *StreamHandler) HandleWebSocket(c *gin.Context) {
	startTime := time.Now()
	endpoint := observability.EndpointWebSocket

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()
	ctx, span := h.tracer.Start(ctx, "HandleWebSocket")
	defer span.End()

	req, stream, ok := h.open(ctx, c, endpoint, span)
	if !ok {
		return
	}
	defer stream.Close()

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "websocket upgrade failed")
		slog.Error("failed to upgrade the websocket", "error", err, "requestId", req.RequestID)
		h.metrics.RecordError(endpoint, observability.ErrorCodeInternal)
		h.metrics.RecordRequest(endpoint, observability.StatusError)
		return
	}
	defer ws.Close()

	h.metrics.StreamStarted(endpoint)
	defer h.metrics.StreamEnded(endpoint)

	// The read loop is the only way to notice the peer going away.
	go func() {
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				cancel()
				return
			}
		}
	}()

	write := func(data []byte) error {
		_ = ws.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
		return ws.WriteMessage(websocket.TextMessage, data)
	}

	result := h.forward(ctx, stream, endpoint, req, startTime, write)

	switch result.outcome {
	case outcomeDone:
		if err := write([]byte(DoneSentinel)); err != nil {
			slog.Debug("Failed to write [DONE]", "error", err, "requestId", req.RequestID)
		}
		h.closeSocket(ws, websocket.CloseNormalClosure, "")
	case outcomeUpstreamFailed:
		h.closeSocket(ws, websocket.CloseInternalServerErr, upstreamFailedMessage)
	}

	h.finish(span, endpoint, req, startTime, result)
}

func (h *StreamHandler) closeSocket(ws *websocket.Conn, code int, reason string) {
	msg := websocket.FormatCloseMessage(code, reason)
	if err := ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second)); err != nil {
		slog.Debug("Failed to write websocket close", "error", err)
	}
}
