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
	"bufio"
	"context"
	"io"
)

// maxLineBytes bounds one SSE line. Upstream chunks are small, but a
// pathological line must not grow the buffer without limit.
const maxLineBytes = 1 << 20

// Callback receives each dispatched event. Returning an error stops reading.
type Callback func(Event) error

// Reader reads an event stream and dispatches events in order.
type Reader struct{}

func NewReader() *Reader {
	return &Reader{}
}

// Read processes r until a terminal event, EOF, a callback error, or
// context cancellation.
//
// # Description
//
// Every event is passed to fn, including the terminal one. Reading stops
// right after a terminal event ([DONE] or an "error" event), so fn never
// sees anything the relay sent after it.
//
// # Outputs
//
//   - error: nil on a terminal event or EOF. Otherwise the scanner error,
//     ctx.Err(), or the callback's error.
//
// # Limitations
//
//   - Cancellation is checked between lines. A blocked read is unblocked by
//     closing r, which net/http does when the request context ends.
func (r *Reader) Read(ctx context.Context, body io.Reader, fn Callback) error {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	parser := NewParser()

	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}

		ev := parser.ParseLine(scanner.Text())
		if ev == nil {
			continue
		}
		if err := fn(*ev); err != nil {
			return err
		}
		if ev.IsTerminal() {
			return nil
		}
	}

	if err := scanner.Err(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	if ev := parser.Flush(); ev != nil {
		return fn(*ev)
	}
	return nil
}
