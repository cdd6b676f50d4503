// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package datatypes

import (
	"net/url"
	"strconv"
	"strings"
	"testing"

	"github.com/jdan/deepdive/pkg/forest"
	"github.com/jdan/deepdive/pkg/stream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTranscriptQuery_InverseOfEncodeTranscript(t *testing.T) {
	transcript := []forest.Message{
		{Role: forest.RoleUser, Content: "What is 2+2? [brackets] & more"},
		{Role: forest.RoleAssistant, Content: "4\n\n```go\nfmt.Println(4)\n```"},
		{Role: forest.RoleUser, Content: ""},
	}

	// Through the wire, so percent-encoded brackets are exercised too.
	q, err := url.ParseQuery(stream.EncodeTranscript(transcript).Encode())
	require.NoError(t, err)

	got, err := ParseTranscriptQuery(q)
	require.NoError(t, err)
	require.Len(t, got, len(transcript))
	for i := range transcript {
		assert.Equal(t, string(transcript[i].Role), got[i].Role)
		assert.Equal(t, transcript[i].Content, got[i].Content)
	}
}

func TestParseTranscriptQuery_LiteralBrackets(t *testing.T) {
	q, err := url.ParseQuery("transcript[0][role]=user&transcript[0][content]=hi&model=gpt-4o")
	require.NoError(t, err)

	got, err := ParseTranscriptQuery(q)
	require.NoError(t, err)
	assert.Equal(t, []Message{{Role: "user", Content: "hi"}}, got)
}

func TestParseTranscriptQuery_Rejects(t *testing.T) {
	tests := []struct {
		name  string
		query string
	}{
		{"empty", ""},
		{"unrelated keys only", "model=x"},
		{"gap in indices", "transcript[0][role]=user&transcript[0][content]=a&transcript[2][role]=user&transcript[2][content]=b"},
		{"missing content", "transcript[0][role]=user"},
		{"missing role", "transcript[0][content]=hi"},
		{"unknown field", "transcript[0][role]=user&transcript[0][content]=a&transcript[0][name]=x"},
		{"non-numeric index", "transcript[a][role]=user&transcript[a][content]=x"},
		{"index too large", "transcript[100][role]=user&transcript[100][content]=x"},
		{"repeated key", "transcript[0][role]=user&transcript[0][role]=assistant&transcript[0][content]=x"},
		{"leading zero index", "transcript[00][role]=user&transcript[00][content]=x"},
		{"two spellings of one index", "transcript[0][role]=user&transcript[00][role]=assistant&transcript[0][content]=x"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q, err := url.ParseQuery(tt.query)
			require.NoError(t, err)
			_, err = ParseTranscriptQuery(q)
			assert.ErrorIs(t, err, ErrInvalidTranscript)
		})
	}
}

func TestParseStreamRequest(t *testing.T) {
	q := url.Values{}
	q.Set("transcript[0][role]", "user")
	q.Set("transcript[0][content]", "hello")
	q.Set("model", "gpt-4o")
	q.Set("temperature", "0.7")
	q.Set("max_tokens", "256")

	req, err := ParseStreamRequest(q)
	require.NoError(t, err)
	assert.NotEmpty(t, req.RequestID)
	assert.Equal(t, "gpt-4o", req.Model)
	require.NotNil(t, req.Temperature)
	assert.InDelta(t, 0.7, *req.Temperature, 0.0001)
	require.NotNil(t, req.MaxTokens)
	assert.Equal(t, 256, *req.MaxTokens)
}

func TestParseStreamRequest_ValidationFailures(t *testing.T) {
	base := func() url.Values {
		q := url.Values{}
		q.Set("transcript[0][role]", "user")
		q.Set("transcript[0][content]", "hello")
		return q
	}

	tests := []struct {
		name    string
		mutate  func(url.Values)
		wantErr error
	}{
		{"bad role", func(q url.Values) { q.Set("transcript[0][role]", "robot") }, ErrInvalidTranscript},
		{"oversized content", func(q url.Values) {
			q.Set("transcript[0][content]", strings.Repeat("x", MaxMessageContentBytes+1))
		}, ErrInvalidTranscript},
		{"temperature out of range", func(q url.Values) { q.Set("temperature", "3") }, ErrInvalidTranscript},
		{"temperature not a number", func(q url.Values) { q.Set("temperature", "hot") }, ErrInvalidParameter},
		{"max_tokens not a number", func(q url.Values) { q.Set("max_tokens", "many") }, ErrInvalidParameter},
		{"max_tokens zero", func(q url.Values) { q.Set("max_tokens", "0") }, ErrInvalidTranscript},
		{"model too long", func(q url.Values) { q.Set("model", strings.Repeat("m", MaxModelNameLength+1)) }, ErrInvalidTranscript},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q := base()
			tt.mutate(q)
			_, err := ParseStreamRequest(q)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestParseStreamRequest_MaxMessages(t *testing.T) {
	q := url.Values{}
	for i := 0; i < MaxMessagesPerRequest; i++ {
		q.Set("transcript["+strconv.Itoa(i)+"][role]", "user")
		q.Set("transcript["+strconv.Itoa(i)+"][content]", "x")
	}
	req, err := ParseStreamRequest(q)
	require.NoError(t, err)
	assert.Len(t, req.Messages, MaxMessagesPerRequest)
}
