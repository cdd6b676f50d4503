// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package workspace owns one conversation forest.
//
// A Workspace is the only writer of its forest. Every mutation replaces the
// published snapshot with a new immutable forest built by pkg/forest, bumps
// the version and notifies subscribers. Snapshots can be read from any
// goroutine without locking.
//
// Streams that fill assistant nodes run as tasks keyed by their target
// node. A task is cancelled when its node (or an ancestor) is deleted, when
// the node is regenerated, on Stop, and on Close.
package workspace

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/jdan/deepdive/pkg/forest"
	"github.com/jdan/deepdive/pkg/stream"
)

var (
	ErrNodeNotFound = errors.New("node not found")

	// ErrLastRoot is returned when deleting the only root thread.
	ErrLastRoot = errors.New("cannot delete the only root")

	ErrNotAssistant = errors.New("node is not an assistant message")

	ErrNotUser = errors.New("node is not a user message")

	ErrClosed = errors.New("workspace closed")
)

// Streamer fills one assistant node from a transcript. *stream.Client
// implements it.
type Streamer interface {
	Stream(ctx context.Context, transcript []forest.Message, model string, onDelta func(string)) (stream.State, error)
}

// Options configure a Workspace.
type Options struct {
	// Streamer is required for Ask and Regenerate. Without it they fail.
	Streamer Streamer

	// Model is passed to the relay. Empty uses the relay's default.
	Model string

	// Initial seeds the forest. Empty starts with one empty user root.
	Initial forest.Forest
}

// Change is one published state of the workspace.
type Change struct {
	// Version increases by one with every published change.
	Version uint64

	Forest forest.Forest

	// Focus is the id of a node the UI should move input focus to, or "".
	Focus string
}

// Workspace is the single-writer container around a forest.
type Workspace struct {
	mu       sync.Mutex
	current  atomic.Pointer[Change]
	subs     map[int]chan Change
	nextSub  int
	tasks    map[string]*task
	failures map[string]error
	streamer Streamer
	model    atomic.Value
	wg       sync.WaitGroup
	watchers sync.WaitGroup
	done     chan struct{}
	closed   bool
}

// New creates a workspace.
func New(opts Options) *Workspace {
	initial := forest.EnsureIDs(opts.Initial)
	if len(initial) == 0 {
		initial = forest.Forest{forest.NewNode(forest.RoleUser)}
	}

	w := &Workspace{
		subs:     make(map[int]chan Change),
		tasks:    make(map[string]*task),
		failures: make(map[string]error),
		streamer: opts.Streamer,
		done:     make(chan struct{}),
	}
	w.model.Store(opts.Model)
	w.current.Store(&Change{Version: 1, Forest: initial})
	return w
}

// =============================================================================
// Reads
// =============================================================================

// Snapshot returns the current forest. It is never modified afterwards.
func (w *Workspace) Snapshot() forest.Forest {
	return w.current.Load().Forest
}

// Version returns the version of the current snapshot.
func (w *Workspace) Version() uint64 {
	return w.current.Load().Version
}

// SetModel changes the model used by streams started afterwards.
func (w *Workspace) SetModel(model string) {
	w.model.Store(model)
}

// Model returns the model passed to the relay.
func (w *Workspace) Model() string {
	return w.model.Load().(string)
}

// Subscribe returns a channel of changes. The current state is delivered
// first. A slow subscriber only sees the latest pending change. The
// channel is closed when ctx ends or the workspace is closed.
func (w *Workspace) Subscribe(ctx context.Context) <-chan Change {
	ch := make(chan Change, 1)

	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		close(ch)
		return ch
	}
	id := w.nextSub
	w.nextSub++
	w.subs[id] = ch
	ch <- *w.current.Load()
	w.watchers.Add(1)
	w.mu.Unlock()

	go func() {
		defer w.watchers.Done()
		select {
		case <-ctx.Done():
		case <-w.done:
		}
		w.mu.Lock()
		defer w.mu.Unlock()
		if sub, ok := w.subs[id]; ok {
			delete(w.subs, id)
			close(sub)
		}
	}()
	return ch
}

// =============================================================================
// Mutations
// =============================================================================

// SetContent replaces the text of a node. Unchanged text publishes nothing.
func (w *Workspace) SetContent(id, text string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	path, err := w.find(id)
	if err != nil {
		return err
	}
	current := w.Snapshot()
	if n, _ := forest.Get(current, path); n.Content == text {
		return nil
	}
	w.publish(forest.SetContent(current, path, text), "")
	return nil
}

// AppendDelta appends streamed text to a node.
func (w *Workspace) AppendDelta(id, delta string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	path, err := w.find(id)
	if err != nil {
		return err
	}
	w.publish(forest.AppendDelta(w.Snapshot(), path, delta), "")
	return nil
}

// AddChild appends an empty child with role to parentID and returns its id.
// A new user node becomes the focus of the published change.
func (w *Workspace) AddChild(parentID string, role forest.Role) (string, error) {
	if !role.IsValid() {
		return "", fmt.Errorf("invalid role %q", role)
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	path, err := w.find(parentID)
	if err != nil {
		return "", err
	}
	f, id := forest.AddChild(w.Snapshot(), path, role)

	focus := ""
	if role == forest.RoleUser {
		focus = id
	}
	w.publish(f, focus)
	return id, nil
}

// AddRoot starts a new empty user thread and returns its id.
func (w *Workspace) AddRoot() string {
	w.mu.Lock()
	defer w.mu.Unlock()

	f, id := forest.AddRoot(w.Snapshot())
	w.publish(f, id)
	return id
}

// Delete removes a node and its subtree, cancelling every stream that
// targets a node in it.
func (w *Workspace) Delete(id string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	path, err := w.find(id)
	if err != nil {
		return err
	}
	current := w.Snapshot()
	if len(path) == 1 && len(current) <= 1 {
		return ErrLastRoot
	}

	node, _ := forest.Get(current, path)
	for _, nid := range forest.SubtreeIDs(node) {
		w.cancelTask(nid)
		delete(w.failures, nid)
	}

	w.publish(forest.Delete(current, path), path.Parent().Leaf())
	return nil
}

// Import replaces the forest with the JSON in data.
//
// # Description
//
// Malformed data leaves the forest unchanged and returns an error wrapping
// forest.ErrInvalidForest. An empty array is rejected because a workspace
// always has a root. Running streams are cancelled since their nodes are
// gone. Nodes without ids get fresh ones.
func (w *Workspace) Import(data []byte) error {
	f, err := forest.Decode(data)
	if err != nil {
		slog.Warn("Rejected forest import", "error", err, "bytes", len(data))
		return fmt.Errorf("import forest: %w", err)
	}
	if len(f) == 0 {
		slog.Warn("Rejected forest import", "error", "empty forest")
		return fmt.Errorf("import forest: %w: no root", forest.ErrInvalidForest)
	}
	f = forest.EnsureIDs(f)

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return ErrClosed
	}
	for id := range w.tasks {
		w.cancelTask(id)
	}
	clear(w.failures)

	w.publish(f, f[0].ID)
	slog.Info("Imported forest", "roots", len(f), "nodes", forest.Count(f))
	return nil
}

// Export encodes the current forest as clipboard JSON.
func (w *Workspace) Export() ([]byte, error) {
	return forest.Encode(w.Snapshot())
}

// Close cancels every stream, waits for them to exit, and closes all
// subscriptions. It returns once every subscription watcher has exited,
// even for subscribers whose context never ends. Close is idempotent.
func (w *Workspace) Close() {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return
	}
	w.closed = true
	close(w.done)
	for id := range w.tasks {
		w.cancelTask(id)
	}
	w.mu.Unlock()

	w.wg.Wait()

	w.mu.Lock()
	for id, ch := range w.subs {
		delete(w.subs, id)
		close(ch)
	}
	w.mu.Unlock()

	w.watchers.Wait()
}

// =============================================================================
// Private Helpers
// =============================================================================

// find resolves an id to a path. Caller holds w.mu.
func (w *Workspace) find(id string) (forest.Path, error) {
	path, ok := forest.Find(w.Snapshot(), id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNodeNotFound, id)
	}
	return path, nil
}

// publish stores f as the next version and notifies subscribers. Caller
// holds w.mu.
func (w *Workspace) publish(f forest.Forest, focus string) {
	next := &Change{
		Version: w.current.Load().Version + 1,
		Forest:  f,
		Focus:   focus,
	}
	w.current.Store(next)

	for _, ch := range w.subs {
		select {
		case ch <- *next:
		default:
			// Drop the stale pending change, keep the latest.
			select {
			case <-ch:
			default:
			}
			ch <- *next
		}
	}
}
