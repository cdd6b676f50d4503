// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// Mock Server Helpers
// =============================================================================

const (
	chunkHi    = `{"id":"c1","object":"chat.completion.chunk","created":1,"model":"m","choices":[{"index":0,"delta":{"content":"Hi"},"finish_reason":null}]}`
	chunkThere = `{"id":"c1","object":"chat.completion.chunk","created":1,"model":"m","choices":[{"index":0,"delta":{"content":" there"},"finish_reason":null}]}`
)

// capturedRequest is what the mock upstream saw.
type capturedRequest struct {
	Path   string
	Auth   string
	Model  string `json:"model"`
	Stream bool   `json:"stream"`
	Temp   float32 `json:"temperature"`
	Msgs   []struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"messages"`
}

// newMockOpenAIServer serves an OpenAI-style SSE stream made of the given
// chunk payloads followed by [DONE].
func newMockOpenAIServer(t *testing.T, chunks []string, seen *capturedRequest) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if seen != nil {
			body, _ := io.ReadAll(r.Body)
			_ = json.Unmarshal(body, seen)
			seen.Path = r.URL.Path
			seen.Auth = r.Header.Get("Authorization")
		}
		w.Header().Set("Content-Type", "text/event-stream")
		for _, c := range chunks {
			fmt.Fprintf(w, "data: %s\n\n", c)
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
}

func newTestOpenAIClient(t *testing.T, baseURL string) *OpenAIClient {
	t.Helper()
	c, err := NewOpenAIClient(OpenAIConfig{APIKey: "sk-test", BaseURL: baseURL + "/v1", Model: "test-model"})
	require.NoError(t, err)
	return c
}

// =============================================================================
// Constructor Tests
// =============================================================================

func TestNewOpenAIClient_RequiresKey(t *testing.T) {
	_, err := NewOpenAIClient(OpenAIConfig{})
	assert.ErrorIs(t, err, ErrMissingAPIKey)
}

func TestNewOpenAIClient_DefaultModel(t *testing.T) {
	c, err := NewOpenAIClient(OpenAIConfig{APIKey: "k"})
	require.NoError(t, err)
	assert.Equal(t, DefaultOpenAIModel, c.Model())
}

// =============================================================================
// Streaming Tests
// =============================================================================

func TestOpenChatStream_ForwardsRawChunks(t *testing.T) {
	var seen capturedRequest
	server := newMockOpenAIServer(t, []string{chunkHi, chunkThere}, &seen)
	defer server.Close()

	client := newTestOpenAIClient(t, server.URL)
	temp := float32(0.5)
	stream, err := client.OpenChatStream(context.Background(), ChatRequest{
		Messages: []Message{{Role: "user", Content: "hello"}},
		Params:   GenerationParams{Temperature: &temp},
	})
	require.NoError(t, err)
	defer stream.Close()

	var got []string
	for {
		raw, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		require.NoError(t, err)
		got = append(got, string(raw))
	}

	assert.Equal(t, []string{chunkHi, chunkThere}, got)
	assert.Equal(t, "/v1/chat/completions", seen.Path)
	assert.Equal(t, "Bearer sk-test", seen.Auth)
	assert.Equal(t, "test-model", seen.Model)
	assert.True(t, seen.Stream)
	assert.InDelta(t, 0.5, seen.Temp, 0.001)
	require.Len(t, seen.Msgs, 1)
	assert.Equal(t, "user", seen.Msgs[0].Role)
	assert.Equal(t, "hello", seen.Msgs[0].Content)
}

func TestOpenChatStream_RequestModelOverridesDefault(t *testing.T) {
	var seen capturedRequest
	server := newMockOpenAIServer(t, nil, &seen)
	defer server.Close()

	stream, err := newTestOpenAIClient(t, server.URL).OpenChatStream(context.Background(), ChatRequest{
		Model:    "gpt-4o",
		Messages: []Message{{Role: "user", Content: "x"}},
	})
	require.NoError(t, err)
	_, err = stream.Recv()
	assert.ErrorIs(t, err, io.EOF)
	assert.NoError(t, stream.Close())
	assert.NoError(t, stream.Close(), "second close is harmless")
	assert.Equal(t, "gpt-4o", seen.Model)
}

func TestOpenChatStream_UpstreamRejects(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		fmt.Fprint(w, `{"error":{"message":"bad key","type":"invalid_request_error"}}`)
	}))
	defer server.Close()

	_, err := newTestOpenAIClient(t, server.URL).OpenChatStream(context.Background(), ChatRequest{
		Messages: []Message{{Role: "user", Content: "x"}},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "OpenAI stream request failed")
}
