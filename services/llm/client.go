// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package llm

import (
	"context"
	"errors"
)

// ErrMissingAPIKey is returned when a client is built without credentials.
var ErrMissingAPIKey = errors.New("upstream API key not configured")

type GenerationParams struct {
	Temperature *float32 `json:"temperature"`
	TopP        *float32 `json:"top_p"`
	MaxTokens   *int     `json:"max_tokens"`
	Stop        []string `json:"stop"`
}

// Message is one transcript entry sent upstream.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatRequest describes one streaming chat completion.
type ChatRequest struct {
	// Model overrides the client's default model when non-empty.
	Model    string
	Messages []Message
	Params   GenerationParams
}

// ChunkStream is an open upstream completion stream.
//
// Recv returns the raw JSON payload of the next chunk exactly as the
// provider sent it, and io.EOF once the provider signals the end of the
// stream. Close releases the connection and is safe to call more than once.
type ChunkStream interface {
	Recv() ([]byte, error)
	Close() error
}

// StreamingClient opens streaming chat completions against an upstream
// provider.
// TODO: add an Anthropic implementation once the relay grows a chunk
// translator; today chunks are forwarded in the OpenAI format only.
type StreamingClient interface {
	OpenChatStream(ctx context.Context, req ChatRequest) (ChunkStream, error)
}
