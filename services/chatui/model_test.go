// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package chatui

import (
	"context"
	"errors"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/jdan/deepdive/pkg/forest"
	"github.com/jdan/deepdive/pkg/stream"
	"github.com/jdan/deepdive/services/workspace"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// Test Helpers
// =============================================================================

type fakeStreamer struct {
	deltas []string
	err    error
	block  bool
}

func (s *fakeStreamer) Stream(ctx context.Context, _ []forest.Message, _ string, onDelta func(string)) (stream.State, error) {
	if s.block {
		<-ctx.Done()
		return stream.StateFailed, ctx.Err()
	}
	for _, d := range s.deltas {
		onDelta(d)
	}
	if s.err != nil {
		return stream.StateFailed, s.err
	}
	return stream.StateDone, nil
}

type fakeClipboard struct {
	text string
	err  error
}

func (c *fakeClipboard) ReadAll() (string, error) { return c.text, c.err }

func (c *fakeClipboard) WriteAll(text string) error {
	if c.err != nil {
		return c.err
	}
	c.text = text
	return nil
}

type harness struct {
	t  *testing.T
	ws *workspace.Workspace
	cb *fakeClipboard
	m  Model
}

func newHarness(t *testing.T, streamer workspace.Streamer, initial forest.Forest) *harness {
	t.Helper()
	ws := workspace.New(workspace.Options{Streamer: streamer, Model: "gpt-test", Initial: initial})
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(func() {
		cancel()
		ws.Close()
	})

	cb := &fakeClipboard{}
	h := &harness{t: t, ws: ws, cb: cb}
	h.m = New(ctx, ws, Config{Clipboard: cb, GlamourStyle: "notty"})
	h.update(tea.WindowSizeMsg{Width: 100, Height: 40})
	h.next()
	return h
}

func (h *harness) update(msg tea.Msg) tea.Cmd {
	model, cmd := h.m.Update(msg)
	h.m = model.(Model)
	return cmd
}

// next applies the next published change.
func (h *harness) next() {
	h.t.Helper()
	select {
	case c, ok := <-h.m.changes:
		require.True(h.t, ok, "subscription closed")
		h.update(changeMsg(c))
	case <-time.After(2 * time.Second):
		h.t.Fatal("no change published")
	}
}

// drain applies the latest pending change, if any.
func (h *harness) drain() {
	for {
		select {
		case c, ok := <-h.m.changes:
			if !ok {
				return
			}
			h.update(changeMsg(c))
		default:
			return
		}
	}
}

func (h *harness) press(k string) tea.Cmd {
	var msg tea.KeyMsg
	switch k {
	case "enter":
		msg = tea.KeyMsg{Type: tea.KeyEnter}
	case "alt+enter":
		msg = tea.KeyMsg{Type: tea.KeyEnter, Alt: true}
	case "esc":
		msg = tea.KeyMsg{Type: tea.KeyEscape}
	case "backspace":
		msg = tea.KeyMsg{Type: tea.KeyBackspace}
	case "up":
		msg = tea.KeyMsg{Type: tea.KeyUp}
	case "down":
		msg = tea.KeyMsg{Type: tea.KeyDown}
	case "space":
		msg = tea.KeyMsg{Type: tea.KeySpace, Runes: []rune{' '}}
	case "ctrl+c":
		msg = tea.KeyMsg{Type: tea.KeyCtrlC}
	default:
		msg = tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(k)}
	}
	return h.update(msg)
}

func (h *harness) waitIdle(id string) {
	h.t.Helper()
	require.Eventually(h.t, func() bool { return !h.ws.Streaming(id) }, 5*time.Second, 5*time.Millisecond)
	h.drain()
}

func threadForest() forest.Forest {
	return forest.Forest{{
		ID: "root", Role: forest.RoleUser, Content: "Explain trees",
		Children: []*forest.Node{{
			ID: "answer", Role: forest.RoleAssistant, Content: "A tree is a **graph**.",
			Children: []*forest.Node{},
		}},
	}}
}

// =============================================================================
// Rendering Tests
// =============================================================================

func TestView_InitialEmptyRoot(t *testing.T) {
	h := newHarness(t, nil, nil)

	view := h.m.View()
	assert.Contains(t, view, "deepdive")
	assert.Contains(t, view, "(empty)")
	assert.Contains(t, view, "gpt-test")
	require.Len(t, h.m.rows, 1)
}

func TestView_TreeMarkersAndMarkdown(t *testing.T) {
	h := newHarness(t, nil, threadForest())

	view := h.m.View()
	assert.Contains(t, view, markerExpanded)
	assert.Contains(t, view, "Explain trees")
	assert.Contains(t, view, "graph")

	h.press("space")
	assert.Len(t, h.m.rows, 1)
	assert.Contains(t, h.m.View(), markerCollapsed)
	assert.NotContains(t, h.m.View(), "graph")
}

func TestVisibleRows_SkipsCollapsedChildren(t *testing.T) {
	f := threadForest()
	rows := visibleRows(f, nil)
	require.Len(t, rows, 2)
	assert.Equal(t, 1, rows[1].depth)

	rows = visibleRows(f, map[string]bool{"root": true})
	assert.Len(t, rows, 1)
}

func TestMarkdownRenderer_Memoizes(t *testing.T) {
	r := newMarkdownRenderer("notty")
	first := r.Render("# Title\n\nbody", 60)
	second := r.Render("# Title\n\nbody", 60)
	assert.Equal(t, first, second)
	assert.Contains(t, first, "body")
	assert.Equal(t, 1, r.Len())

	r.Render("# Title\n\nbody", 40)
	assert.Equal(t, 2, r.Len(), "width is part of the key")
}

// =============================================================================
// Editing and Streaming Tests
// =============================================================================

func TestEditAndAsk_StreamsIntoNewAssistant(t *testing.T) {
	h := newHarness(t, &fakeStreamer{deltas: []string{"Hi", " there"}}, nil)
	root := h.ws.Snapshot()[0].ID

	h.press("e")
	require.Equal(t, root, h.m.editing)

	h.press("Hello")
	h.next()
	assert.Equal(t, "Hello", h.ws.Snapshot()[0].Content)

	h.press("enter")
	assert.Empty(t, h.m.editing)
	require.Len(t, h.ws.Snapshot()[0].Children, 1)
	answer := h.ws.Snapshot()[0].Children[0].ID

	h.waitIdle(answer)
	assert.Equal(t, "Hi there", h.ws.Snapshot()[0].Children[0].Content)
	assert.Equal(t, answer, h.m.cursorID, "cursor follows the new reply")
	assert.Contains(t, h.m.View(), "Hi there")
}

func TestEditor_AltEnterInsertsNewline(t *testing.T) {
	h := newHarness(t, nil, nil)

	h.press("e")
	h.press("one")
	h.press("alt+enter")
	h.press("two")
	h.drain()

	assert.Equal(t, "one\ntwo", h.ws.Snapshot()[0].Content)
	assert.Equal(t, h.ws.Snapshot()[0].ID, h.m.editing)

	h.press("esc")
	assert.Empty(t, h.m.editing)
}

func TestEditor_KeystrokesAheadOfChangesStayInSync(t *testing.T) {
	h := newHarness(t, nil, nil)

	h.press("e")
	h.press("a")
	h.press("backspace")
	h.drain()

	assert.Equal(t, "", h.m.editor.Value())
	assert.Equal(t, "", h.ws.Snapshot()[0].Content, "store matches the editor")

	h.press("b")
	h.press("c")
	h.press("backspace")
	h.drain()
	assert.Equal(t, "b", h.m.editor.Value())
	assert.Equal(t, "b", h.ws.Snapshot()[0].Content)
}

func TestView_ThinkingWhileStreaming(t *testing.T) {
	h := newHarness(t, &fakeStreamer{block: true}, nil)
	root := h.ws.Snapshot()[0].ID
	require.NoError(t, h.ws.SetContent(root, "question"))
	h.next()

	answer, err := h.ws.Ask(context.Background(), root)
	require.NoError(t, err)
	h.next()

	assert.Contains(t, h.m.View(), thinkingText)

	h.m.cursorID = answer
	h.m.refresh()
	h.press("s")
	assert.Equal(t, "stream stopped", h.m.status)
	h.waitIdle(answer)
	assert.NotContains(t, h.m.View(), thinkingText)
}

func TestView_StreamErrorShown(t *testing.T) {
	h := newHarness(t, &fakeStreamer{deltas: []string{"partial"}, err: errors.New("relay returned 502")}, nil)
	root := h.ws.Snapshot()[0].ID

	answer, err := h.ws.Ask(context.Background(), root)
	require.NoError(t, err)
	h.waitIdle(answer)

	view := h.m.View()
	assert.Contains(t, view, "partial")
	assert.Contains(t, view, "stream failed")
}

func TestRegenerate_OnUserNodeShowsError(t *testing.T) {
	h := newHarness(t, &fakeStreamer{}, nil)

	h.press("r")
	assert.True(t, h.m.statusErr)
	assert.Contains(t, h.m.status, "assistant")
}

func TestRegenerate_ReplacesAnswer(t *testing.T) {
	h := newHarness(t, &fakeStreamer{deltas: []string{"fresh"}}, threadForest())

	h.press("down")
	require.Equal(t, "answer", h.m.cursorID)
	h.press("r")
	h.waitIdle("answer")

	assert.Equal(t, "fresh", h.ws.Snapshot()[0].Children[0].Content)
}

// =============================================================================
// Structure Tests
// =============================================================================

func TestAddChild_FocusesNewUserNode(t *testing.T) {
	h := newHarness(t, nil, threadForest())

	h.press("down")
	h.press("a")
	h.next()

	reply := h.ws.Snapshot()[0].Children[0].Children
	require.Len(t, reply, 1)
	assert.Equal(t, reply[0].ID, h.m.editing)
	assert.Equal(t, reply[0].ID, h.m.cursorID)
}

func TestBackspaceOnEmptyDeletesAndFocusesParent(t *testing.T) {
	h := newHarness(t, nil, threadForest())

	h.press("down")
	h.press("a")
	h.next()
	require.NotEmpty(t, h.m.editing)

	h.press("backspace")
	h.next()

	assert.Empty(t, h.ws.Snapshot()[0].Children[0].Children)
	assert.Empty(t, h.m.editing)
	assert.Equal(t, "answer", h.m.cursorID)
}

func TestNewRoot_AndDelete(t *testing.T) {
	h := newHarness(t, nil, nil)

	h.press("d")
	assert.True(t, h.m.statusErr)
	assert.Contains(t, h.m.status, "only thread")

	h.press("n")
	h.next()
	require.Len(t, h.ws.Snapshot(), 2)
	second := h.ws.Snapshot()[1].ID
	assert.Equal(t, second, h.m.editing)

	h.press("esc")
	h.press("d")
	h.next()
	require.Len(t, h.ws.Snapshot(), 1)
	assert.NotEqual(t, second, h.ws.Snapshot()[0].ID)
}

// =============================================================================
// Clipboard Tests
// =============================================================================

func TestCopy_WritesForestJSON(t *testing.T) {
	h := newHarness(t, nil, threadForest())

	h.press("y")
	assert.False(t, h.m.statusErr)

	f, err := forest.Decode([]byte(h.cb.text))
	require.NoError(t, err)
	assert.Equal(t, "Explain trees", f[0].Content)
}

func TestPaste_MalformedKeepsForest(t *testing.T) {
	h := newHarness(t, nil, threadForest())
	before := h.ws.Snapshot()

	h.cb.text = "not json"
	h.press("p")

	assert.True(t, h.m.statusErr)
	assert.Contains(t, h.m.status, "paste rejected")
	assert.Same(t, before[0], h.ws.Snapshot()[0])
}

func TestPaste_ReplacesForest(t *testing.T) {
	h := newHarness(t, nil, nil)

	h.cb.text = `[{"role":"user","content":"Hello, world!","children":[]}]`
	h.press("p")
	h.drain()

	require.Len(t, h.ws.Snapshot(), 1)
	assert.Equal(t, "Hello, world!", h.ws.Snapshot()[0].Content)
	assert.Contains(t, h.m.View(), "Hello, world!")
}

func TestClipboardFailure(t *testing.T) {
	h := newHarness(t, nil, nil)
	h.cb.err = errors.New("no clipboard utility")

	h.press("y")
	assert.True(t, h.m.statusErr)
	h.press("p")
	assert.Contains(t, h.m.status, "paste failed")
}

// =============================================================================
// Lifecycle Tests
// =============================================================================

func TestQuitKey(t *testing.T) {
	h := newHarness(t, nil, nil)

	cmd := h.press("q")
	require.NotNil(t, cmd)
	assert.IsType(t, tea.QuitMsg{}, cmd())
	assert.Empty(t, h.m.View())
}

func TestWorkspaceCloseQuits(t *testing.T) {
	h := newHarness(t, nil, nil)
	h.ws.Close()

	msg := waitForChange(h.m.changes)()
	assert.IsType(t, closedMsg{}, msg)

	cmd := h.update(msg)
	require.NotNil(t, cmd)
	assert.IsType(t, tea.QuitMsg{}, cmd())
}
