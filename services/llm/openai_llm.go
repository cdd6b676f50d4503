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
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/sashabaranov/go-openai"
)

// DefaultOpenAIModel is used when neither the request nor the config names one.
const DefaultOpenAIModel = "gpt-3.5-turbo"

type OpenAIConfig struct {
	APIKey string
	// BaseURL points at an OpenAI-compatible endpoint. Empty uses api.openai.com.
	BaseURL    string
	Model      string
	HTTPClient *http.Client
}

type OpenAIClient struct {
	client *openai.Client
	model  string
}

func NewOpenAIClient(cfg OpenAIConfig) (*OpenAIClient, error) {
	if cfg.APIKey == "" {
		slog.Error("OpenAI API key not provided")
		return nil, ErrMissingAPIKey
	}
	model := cfg.Model
	if model == "" {
		model = DefaultOpenAIModel
		slog.Warn("OpenAI model not set, using default", "model", model)
	}

	conf := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		conf.BaseURL = cfg.BaseURL
	}
	if cfg.HTTPClient != nil {
		conf.HTTPClient = cfg.HTTPClient
	}

	slog.Info("Initializing OpenAI client", "model", model, "custom_base_url", cfg.BaseURL != "")
	return &OpenAIClient{
		client: openai.NewClientWithConfig(conf),
		model:  model,
	}, nil
}

// Model returns the default model used when a request does not name one.
func (o *OpenAIClient) Model() string {
	return o.model
}

// OpenChatStream implements StreamingClient.
func (o *OpenAIClient) OpenChatStream(ctx context.Context, req ChatRequest) (ChunkStream, error) {
	model := req.Model
	if model == "" {
		model = o.model
	}

	messages := make([]openai.ChatCompletionMessage, 0, len(req.Messages))
	for _, m := range req.Messages {
		messages = append(messages, openai.ChatCompletionMessage{Role: m.Role, Content: m.Content})
	}

	creq := openai.ChatCompletionRequest{
		Model:    model,
		Messages: messages,
		Stream:   true,
	}
	if req.Params.Temperature != nil {
		creq.Temperature = *req.Params.Temperature
	}
	if req.Params.MaxTokens != nil {
		creq.MaxTokens = *req.Params.MaxTokens
	}
	if req.Params.TopP != nil {
		creq.TopP = *req.Params.TopP
	}
	if len(req.Params.Stop) > 0 {
		creq.Stop = req.Params.Stop
	}

	slog.Debug("Opening OpenAI stream", "model", model, "messages", len(messages))
	stream, err := o.client.CreateChatCompletionStream(ctx, creq)
	if err != nil {
		slog.Error("OpenAI stream request failed", "model", model, "error", err)
		return nil, fmt.Errorf("OpenAI stream request failed: %w", err)
	}
	return &openAIStream{stream: stream}, nil
}

// openAIStream adapts go-openai's stream reader to ChunkStream.
type openAIStream struct {
	stream    *openai.ChatCompletionStream
	closeOnce sync.Once
}

func (s *openAIStream) Recv() ([]byte, error) {
	return s.stream.RecvRaw()
}

func (s *openAIStream) Close() error {
	s.closeOnce.Do(func() {
		s.stream.Close()
	})
	return nil
}

var _ StreamingClient = (*OpenAIClient)(nil)
