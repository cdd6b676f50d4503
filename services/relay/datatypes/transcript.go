// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package datatypes defines the relay's request shapes and their validation.
package datatypes

import (
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

// =============================================================================
// Constants
// =============================================================================

const (
	MaxMessageContentBytes = 32 * 1024 // 32KB

	MaxMessagesPerRequest = 100

	MaxModelNameLength = 128
)

var (
	// ErrInvalidTranscript is returned when the transcript query is malformed
	// or fails validation.
	ErrInvalidTranscript = errors.New("invalid transcript")

	// ErrInvalidParameter is returned for a malformed optional parameter.
	ErrInvalidParameter = errors.New("invalid parameter")
)

var relayValidate *validator.Validate

func init() {
	relayValidate = validator.New()

	_ = relayValidate.RegisterValidation("maxbytes", validateMaxBytes)
}

func validateMaxBytes(fl validator.FieldLevel) bool {
	return len(fl.Field().String()) <= MaxMessageContentBytes
}

// =============================================================================
// Request Types
// =============================================================================

// Message is one transcript entry as sent by the consumer.
type Message struct {
	Role    string `json:"role" validate:"required,oneof=user assistant system"`
	Content string `json:"content" validate:"maxbytes"`
}

// StreamRequest is a parsed GET /api/ai request.
type StreamRequest struct {
	RequestID   string    `validate:"required,uuid4"`
	Model       string    `validate:"omitempty,max=128"`
	Messages    []Message `validate:"required,min=1,max=100,dive"`
	Temperature *float32  `validate:"omitempty,gte=0,lte=2"`
	MaxTokens   *int      `validate:"omitempty,gt=0,lte=65536"`
}

func (r *StreamRequest) Validate() error {
	return relayValidate.Struct(r)
}

// =============================================================================
// Query Parsing
// =============================================================================

var transcriptKey = regexp.MustCompile(`^transcript\[(0|[1-9]\d*)\]\[(role|content)\]$`)

// ParseTranscriptQuery reads transcript[i][role] and transcript[i][content]
// pairs from q.
//
// # Description
//
// Indices must run from 0 to n-1 without gaps and every entry needs both
// fields. A key that starts with "transcript" but does not have this shape
// is rejected, including indices with leading zeros, so every entry has
// exactly one spelling. Other keys are ignored.
//
// # Outputs
//
//   - []Message: Entries in index order.
//   - error: Wraps ErrInvalidTranscript.
func ParseTranscriptQuery(q url.Values) ([]Message, error) {
	type partial struct {
		role, content       string
		hasRole, hasContent bool
	}
	entries := make(map[int]*partial)
	maxIndex := -1

	for key, values := range q {
		if !strings.HasPrefix(key, "transcript") {
			continue
		}
		m := transcriptKey.FindStringSubmatch(key)
		if m == nil {
			return nil, fmt.Errorf("%w: unexpected key %q", ErrInvalidTranscript, key)
		}
		idx, err := strconv.Atoi(m[1])
		if err != nil || idx >= MaxMessagesPerRequest {
			return nil, fmt.Errorf("%w: index %s out of range", ErrInvalidTranscript, m[1])
		}
		if len(values) != 1 {
			return nil, fmt.Errorf("%w: %s given %d times", ErrInvalidTranscript, key, len(values))
		}

		e := entries[idx]
		if e == nil {
			e = &partial{}
			entries[idx] = e
		}
		if m[2] == "role" {
			e.role, e.hasRole = values[0], true
		} else {
			e.content, e.hasContent = values[0], true
		}
		if idx > maxIndex {
			maxIndex = idx
		}
	}

	if len(entries) == 0 {
		return nil, fmt.Errorf("%w: no messages", ErrInvalidTranscript)
	}
	if len(entries) != maxIndex+1 {
		return nil, fmt.Errorf("%w: indices are not contiguous", ErrInvalidTranscript)
	}

	messages := make([]Message, maxIndex+1)
	for i := 0; i <= maxIndex; i++ {
		e := entries[i]
		if !e.hasRole || !e.hasContent {
			return nil, fmt.Errorf("%w: message %d needs role and content", ErrInvalidTranscript, i)
		}
		messages[i] = Message{Role: e.role, Content: e.content}
	}
	return messages, nil
}

// ParseStreamRequest builds and validates a StreamRequest from the query.
func ParseStreamRequest(q url.Values) (*StreamRequest, error) {
	messages, err := ParseTranscriptQuery(q)
	if err != nil {
		return nil, err
	}

	req := &StreamRequest{
		RequestID: uuid.NewString(),
		Model:     q.Get("model"),
		Messages:  messages,
	}

	if raw := q.Get("temperature"); raw != "" {
		v, err := strconv.ParseFloat(raw, 32)
		if err != nil {
			return nil, fmt.Errorf("%w: temperature %q", ErrInvalidParameter, raw)
		}
		t := float32(v)
		req.Temperature = &t
	}
	if raw := q.Get("max_tokens"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil {
			return nil, fmt.Errorf("%w: max_tokens %q", ErrInvalidParameter, raw)
		}
		req.MaxTokens = &v
	}

	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidTranscript, describe(err))
	}
	return req, nil
}

// describe flattens validator errors into a client-safe message.
func describe(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return "validation failed"
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		parts = append(parts, fmt.Sprintf("%s failed %s", fe.Namespace(), fe.Tag()))
	}
	return strings.Join(parts, "; ")
}
