// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package stream is the client side of the relay's /api/ai endpoint.
//
// It is split the same way as the CLI's streaming stack:
//
//   - Parser turns SSE lines into Events. It does no I/O.
//   - Reader drives a Parser over an io.Reader and dispatches Events.
//   - DecodeChunk validates one forwarded upstream chunk.
//   - Client opens the request and runs the consumer state machine.
package stream

import "strings"

// DoneSentinel is the data payload that ends a relay stream.
const DoneSentinel = "[DONE]"

// EventError is the SSE event name the relay uses for mid-stream failures.
const EventError = "error"

// =============================================================================
// Event
// =============================================================================

// Event is one dispatched server-sent event.
type Event struct {
	// Name is the "event:" field. Empty means the default "message" event.
	Name string

	// Data is the "data:" field. Multiple data lines are joined with "\n".
	Data string
}

// IsDone reports whether the event is the end-of-stream sentinel.
func (e Event) IsDone() bool {
	return e.Name == "" && e.Data == DoneSentinel
}

// IsError reports whether the event signals a relay-side failure.
func (e Event) IsError() bool {
	return e.Name == EventError
}

// IsTerminal reports whether no further events should be read.
func (e Event) IsTerminal() bool {
	return e.IsDone() || e.IsError()
}

// =============================================================================
// Parser
// =============================================================================

// Parser accumulates SSE fields until a blank line completes an event.
//
// # Description
//
// Handles the subset of the event-stream format the relay emits:
//
//	data: {"choices":[...]}
//
//	event: error
//	data: {"error":"upstream stream failed"}
//
//	: ping
//
// Comment lines and unknown fields ("id:", "retry:") are ignored.
//
// # Limitations
//
//   - Not safe for concurrent use. Use one Parser per stream.
type Parser struct {
	name    string
	data    []string
	hasData bool
}

func NewParser() *Parser {
	return &Parser{}
}

// ParseLine consumes one line without its trailing newline. It returns the
// completed event when the line is an event boundary, otherwise nil.
func (p *Parser) ParseLine(line string) *Event {
	line = strings.TrimSuffix(line, "\r")

	if line == "" {
		return p.dispatch()
	}
	if strings.HasPrefix(line, ":") {
		return nil
	}

	field, value, found := strings.Cut(line, ":")
	if found {
		value = strings.TrimPrefix(value, " ")
	}

	switch field {
	case "event":
		p.name = value
	case "data":
		p.data = append(p.data, value)
		p.hasData = true
	}
	return nil
}

// Flush returns a pending event at end of input, if any.
func (p *Parser) Flush() *Event {
	return p.dispatch()
}

func (p *Parser) dispatch() *Event {
	if !p.hasData {
		p.name = ""
		return nil
	}
	ev := &Event{Name: p.name, Data: strings.Join(p.data, "\n")}
	p.name = ""
	p.data = p.data[:0]
	p.hasData = false
	return ev
}
