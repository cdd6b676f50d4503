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
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrUnexpectedChunk is returned when a forwarded payload is not a
// chat-completion chunk.
var ErrUnexpectedChunk = errors.New("unexpected chunk shape")

// Chunk is one chat-completion stream chunk as forwarded by the relay.
type Chunk struct {
	ID      string   `json:"id"`
	Object  string   `json:"object"`
	Created int64    `json:"created"`
	Model   string   `json:"model"`
	Choices []Choice `json:"choices"`
}

type Choice struct {
	Index        int     `json:"index"`
	Delta        Delta   `json:"delta"`
	FinishReason *string `json:"finish_reason"`
}

type Delta struct {
	Role    string `json:"role,omitempty"`
	Content string `json:"content"`
}

// DecodeChunk parses and checks one data payload.
//
// The payload must be a JSON object with a "choices" array. A chunk with
// zero choices is valid and carries no text.
func DecodeChunk(data []byte) (*Chunk, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil, fmt.Errorf("%w: payload is not a JSON object", ErrUnexpectedChunk)
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &fields); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnexpectedChunk, err)
	}
	choices, ok := fields["choices"]
	if !ok || bytes.Equal(bytes.TrimSpace(choices), []byte("null")) {
		return nil, fmt.Errorf("%w: missing choices", ErrUnexpectedChunk)
	}

	var chunk Chunk
	if err := json.Unmarshal(trimmed, &chunk); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnexpectedChunk, err)
	}
	return &chunk, nil
}

// Text returns the delta text of all choices in order.
func (c *Chunk) Text() string {
	switch len(c.Choices) {
	case 0:
		return ""
	case 1:
		return c.Choices[0].Delta.Content
	}
	var sb strings.Builder
	for _, ch := range c.Choices {
		sb.WriteString(ch.Delta.Content)
	}
	return sb.String()
}
