// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package stream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/jdan/deepdive/pkg/forest"
)

var (
	// ErrRelayStatus is returned when the relay answers with a non-200 status.
	ErrRelayStatus = errors.New("relay returned error status")

	// ErrStreamFailed is returned when the relay reports a mid-stream failure.
	ErrStreamFailed = errors.New("relay stream failed")
)

// DefaultPath is the relay endpoint path.
const DefaultPath = "/api/ai"

// =============================================================================
// State
// =============================================================================

// State is the consumer's position in Idle -> Streaming -> Done | Failed.
type State int

const (
	StateIdle State = iota
	StateStreaming
	StateDone
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateStreaming:
		return "streaming"
	case StateDone:
		return "done"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// IsTerminal reports whether no further deltas will be delivered.
func (s State) IsTerminal() bool {
	return s == StateDone || s == StateFailed
}

// =============================================================================
// Transcript Encoding
// =============================================================================

// EncodeTranscript encodes messages as transcript[i][role] and
// transcript[i][content] query parameters.
func EncodeTranscript(messages []forest.Message) url.Values {
	v := url.Values{}
	for i, m := range messages {
		prefix := "transcript[" + strconv.Itoa(i) + "]"
		v.Set(prefix+"[role]", string(m.Role))
		v.Set(prefix+"[content]", m.Content)
	}
	return v
}

// =============================================================================
// Client
// =============================================================================

type Option func(*Client)

// WithHTTPClient replaces http.DefaultClient.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.http = hc
	}
}

// Client consumes the relay's event stream.
type Client struct {
	endpoint string
	http     *http.Client
	reader   *Reader
}

// NewClient returns a client for the relay at baseURL, e.g.
// "http://localhost:8080". A trailing /api/ai is accepted.
func NewClient(baseURL string, opts ...Option) *Client {
	endpoint := strings.TrimRight(baseURL, "/")
	if !strings.HasSuffix(endpoint, DefaultPath) {
		endpoint += DefaultPath
	}
	c := &Client{
		endpoint: endpoint,
		http:     http.DefaultClient,
		reader:   NewReader(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Endpoint returns the full relay URL without query.
func (c *Client) Endpoint() string {
	return c.endpoint
}

// Stream requests a completion for transcript and feeds delta text to onDelta.
//
// # Description
//
// Drives Idle -> Streaming -> Done | Failed. The request is sent while Idle.
// A 200 response moves to Streaming. The stream is Done on [DONE] or when
// the relay closes the connection, and Failed on a non-200 status, an
// "error" event, an unexpected chunk, a read error, or ctx cancellation.
//
// # Inputs
//
//   - ctx: Cancels the request and stops delivery.
//   - transcript: Messages in root-to-leaf order.
//   - model: Optional model override. Empty uses the relay's default.
//   - onDelta: Called from the calling goroutine for every non-empty delta.
//
// # Outputs
//
//   - State: StateDone or StateFailed.
//   - error: nil when Done. Wraps ErrRelayStatus, ErrStreamFailed,
//     ErrUnexpectedChunk, or the context error when Failed.
//
// # Limitations
//
//   - onDelta is never called after a terminal event or after ctx ends.
//   - The response body is closed exactly once, before Stream returns.
func (c *Client) Stream(ctx context.Context, transcript []forest.Message, model string, onDelta func(string)) (State, error) {
	state := StateIdle

	query := EncodeTranscript(transcript)
	if model != "" {
		query.Set("model", model)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint+"?"+query.Encode(), nil)
	if err != nil {
		return StateFailed, fmt.Errorf("build relay request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.http.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return StateFailed, ctxErr
		}
		return StateFailed, fmt.Errorf("relay request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return StateFailed, fmt.Errorf("%w: %d %s", ErrRelayStatus, resp.StatusCode, errorMessage(resp.Body))
	}

	state = StateStreaming
	slog.Debug("relay stream opened", "messages", len(transcript), "state", state)

	var streamErr error
	readErr := c.reader.Read(ctx, resp.Body, func(ev Event) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		switch {
		case ev.IsError():
			streamErr = fmt.Errorf("%w: %s", ErrStreamFailed, errorText([]byte(ev.Data)))
			return nil
		case ev.IsDone():
			return nil
		case ev.Name != "":
			return nil
		}

		chunk, err := DecodeChunk([]byte(ev.Data))
		if err != nil {
			return err
		}
		if text := chunk.Text(); text != "" {
			onDelta(text)
		}
		return nil
	})

	switch {
	case readErr != nil:
		state = StateFailed
		if ctxErr := ctx.Err(); ctxErr != nil {
			return state, ctxErr
		}
		return state, readErr
	case streamErr != nil:
		state = StateFailed
		return state, streamErr
	}

	state = StateDone
	return state, nil
}

// errorMessage extracts {"error": "..."} from a relay error body.
func errorMessage(body io.Reader) string {
	data, err := io.ReadAll(io.LimitReader(body, 64*1024))
	if err != nil {
		return ""
	}
	return errorText(data)
}

func errorText(data []byte) string {
	var payload struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(data, &payload); err == nil && payload.Error != "" {
		return payload.Error
	}
	return strings.TrimSpace(string(data))
}
