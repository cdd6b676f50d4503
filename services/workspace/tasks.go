// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package workspace

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/jdan/deepdive/pkg/forest"
	"github.com/jdan/deepdive/pkg/stream"
)

// ErrNoStreamer is returned by Ask and Regenerate when the workspace was
// built without a Streamer.
var ErrNoStreamer = errors.New("no streamer configured")

// task is one running stream that feeds a single assistant node.
type task struct {
	cancel context.CancelFunc
}

// =============================================================================
// Stream Operations
// =============================================================================

// Ask creates an empty assistant child of the user node id and streams a
// completion into it. The transcript runs from the root to id inclusive.
//
// # Outputs
//
//   - string: Id of the new assistant node.
//   - error: ErrNodeNotFound, ErrNotUser, ErrNoStreamer or ErrClosed.
func (w *Workspace) Ask(ctx context.Context, id string) (string, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.canStream(); err != nil {
		return "", err
	}
	path, err := w.find(id)
	if err != nil {
		return "", err
	}
	current := w.Snapshot()
	node, _ := forest.Get(current, path)
	if node.Role != forest.RoleUser {
		return "", ErrNotUser
	}

	transcript, _ := forest.Transcript(current, path, true)
	f, target := forest.AddChild(current, path, forest.RoleAssistant)
	w.publish(f, "")
	w.startTask(ctx, target, transcript)
	return target, nil
}

// Regenerate clears the assistant node id and streams a new completion into
// it. The transcript runs from the root to the node's parent. A stream
// already running for id is cancelled first.
func (w *Workspace) Regenerate(ctx context.Context, id string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.canStream(); err != nil {
		return err
	}
	path, err := w.find(id)
	if err != nil {
		return err
	}
	current := w.Snapshot()
	node, _ := forest.Get(current, path)
	if node.Role != forest.RoleAssistant {
		return ErrNotAssistant
	}

	w.cancelTask(id)
	transcript, _ := forest.Transcript(current, path, false)
	w.publish(forest.SetContent(current, path, ""), "")
	w.startTask(ctx, id, transcript)
	return nil
}

// Stop cancels the stream feeding id. It reports whether one was running.
func (w *Workspace) Stop(id string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	if _, ok := w.tasks[id]; !ok {
		return false
	}
	w.cancelTask(id)
	w.publish(w.Snapshot(), "")
	return true
}

// Streaming reports whether a stream is feeding id.
func (w *Workspace) Streaming(id string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	_, ok := w.tasks[id]
	return ok
}

// StreamError returns the failure of the last stream that fed id, if any.
// Cancelled streams do not record an error.
func (w *Workspace) StreamError(id string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.failures[id]
}

// =============================================================================
// Task Lifecycle
// =============================================================================

// canStream checks the preconditions of Ask and Regenerate. Caller holds w.mu.
func (w *Workspace) canStream() error {
	if w.closed {
		return ErrClosed
	}
	if w.streamer == nil {
		return ErrNoStreamer
	}
	return nil
}

// startTask launches a stream for target. Caller holds w.mu.
func (w *Workspace) startTask(ctx context.Context, target string, transcript []forest.Message) {
	tctx, cancel := context.WithCancel(ctx)
	t := &task{cancel: cancel}
	w.tasks[target] = t
	delete(w.failures, target)

	w.wg.Add(1)
	go w.runTask(tctx, target, t, transcript)
}

func (w *Workspace) runTask(ctx context.Context, target string, t *task, transcript []forest.Message) {
	defer w.wg.Done()
	defer t.cancel()

	start := time.Now()
	model := w.Model()
	slog.Info("Stream started", "node", target, "messages", len(transcript), "model", model)

	state, err := w.streamer.Stream(ctx, transcript, model, func(delta string) {
		w.appendFromTask(target, t, delta)
	})

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.tasks[target] != t {
		// Cancelled by Delete, Regenerate, Stop, Import or Close.
		slog.Debug("Stream ended after cancellation", "node", target, "state", state)
		return
	}
	delete(w.tasks, target)

	if err != nil && !errors.Is(err, context.Canceled) {
		w.failures[target] = err
		slog.Error("Stream failed", "node", target, "state", state, "error", err)
	} else {
		slog.Info("Stream finished", "node", target, "state", state, "duration_ms", time.Since(start).Milliseconds())
	}
	if state == stream.StateFailed && err == nil {
		w.failures[target] = stream.ErrStreamFailed
	}

	// Subscribers need to see the streaming marker go away.
	w.publish(w.Snapshot(), "")
}

// appendFromTask applies one delta if t still owns target.
func (w *Workspace) appendFromTask(target string, t *task, delta string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.tasks[target] != t {
		return
	}
	path, ok := forest.Find(w.Snapshot(), target)
	if !ok {
		return
	}
	w.publish(forest.AppendDelta(w.Snapshot(), path, delta), "")
}

// cancelTask cancels and forgets the task for id. Caller holds w.mu.
func (w *Workspace) cancelTask(id string) {
	t, ok := w.tasks[id]
	if !ok {
		return
	}
	t.cancel()
	delete(w.tasks, id)
	slog.Debug("Stream cancelled", "node", id)
}
