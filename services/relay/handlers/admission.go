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
	"net/http"

	"github.com/jdan/deepdive/services/relay/observability"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

// Admission limits how many streams the relay serves.
//
// A zero value for either limit disables it. A nil *Admission admits
// everything.
type Admission struct {
	streams *semaphore.Weighted
	limiter *rate.Limiter
}

// NewAdmission returns an Admission with at most maxStreams concurrent
// streams and requestsPerSecond new streams per second (burst of the same
// size, at least 1).
func NewAdmission(maxStreams int, requestsPerSecond float64) *Admission {
	a := &Admission{}
	if maxStreams > 0 {
		a.streams = semaphore.NewWeighted(int64(maxStreams))
	}
	if requestsPerSecond > 0 {
		burst := int(requestsPerSecond)
		if burst < 1 {
			burst = 1
		}
		a.limiter = rate.NewLimiter(rate.Limit(requestsPerSecond), burst)
	}
	return a
}

// Admit reserves a stream slot.
//
// # Outputs
//
//   - release: Must be called when the stream ends. Non-nil when ok.
//   - status: HTTP status to reply with when not admitted.
//   - code: Metrics error code when not admitted.
//   - ok: Whether the stream may start.
func (a *Admission) Admit() (release func(), status int, code observability.ErrorCode, ok bool) {
	noop := func() {}
	if a == nil {
		return noop, 0, "", true
	}
	if a.limiter != nil && !a.limiter.Allow() {
		return nil, http.StatusTooManyRequests, observability.ErrorCodeRateLimited, false
	}
	if a.streams == nil {
		return noop, 0, "", true
	}
	if !a.streams.TryAcquire(1) {
		return nil, http.StatusServiceUnavailable, observability.ErrorCodeOverloaded, false
	}
	return func() { a.streams.Release(1) }, 0, "", true
}
