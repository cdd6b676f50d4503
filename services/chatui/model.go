// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package chatui is the terminal interface of `deepdive chat`.
//
// # Description
//
// Renders a workspace forest as an indented tree. User nodes are edited in
// place; assistant nodes render as markdown and fill in while their stream
// runs. All state lives in the workspace; the model only keeps view state
// (cursor, collapsed nodes, the open editor) and redraws on every published
// change.
//
// # Thread Safety
//
// The model is used only from the bubbletea event loop. Workspace changes
// cross into the loop as changeMsg values.
package chatui

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/atotto/clipboard"
	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/jdan/deepdive/pkg/forest"
	"github.com/jdan/deepdive/services/workspace"
)

// =============================================================================
// Interfaces
// =============================================================================

// Store is the workspace surface the UI drives. *workspace.Workspace
// implements it.
type Store interface {
	Subscribe(ctx context.Context) <-chan workspace.Change
	Model() string
	SetContent(id, text string) error
	AddChild(parentID string, role forest.Role) (string, error)
	AddRoot() string
	Delete(id string) error
	Ask(ctx context.Context, id string) (string, error)
	Regenerate(ctx context.Context, id string) error
	Stop(id string) bool
	Streaming(id string) bool
	StreamError(id string) error
	Import(data []byte) error
	Export() ([]byte, error)
}

// Clipboard reads and writes the system clipboard.
type Clipboard interface {
	ReadAll() (string, error)
	WriteAll(text string) error
}

type systemClipboard struct{}

func (systemClipboard) ReadAll() (string, error)   { return clipboard.ReadAll() }
func (systemClipboard) WriteAll(text string) error { return clipboard.WriteAll(text) }

// =============================================================================
// Config
// =============================================================================

// Config configures the chat UI.
type Config struct {
	// Clipboard defaults to the system clipboard.
	Clipboard Clipboard

	// GlamourStyle names a glamour standard style: "dark", "light", "notty"...
	// Default: "dark".
	GlamourStyle string
}

// =============================================================================
// Messages
// =============================================================================

// changeMsg carries one workspace change into the event loop.
type changeMsg workspace.Change

// closedMsg reports that the workspace subscription ended.
type closedMsg struct{}

func waitForChange(changes <-chan workspace.Change) tea.Cmd {
	return func() tea.Msg {
		c, ok := <-changes
		if !ok {
			return closedMsg{}
		}
		return changeMsg(c)
	}
}

// =============================================================================
// Model
// =============================================================================

// Model is the bubbletea model for the chat UI.
type Model struct {
	ctx       context.Context
	store     Store
	clipboard Clipboard
	changes   <-chan workspace.Change
	markdown  *markdownRenderer

	keys       keyMap
	editorKeys editorKeyMap
	help       help.Model
	editor     textarea.Model
	viewport   viewport.Model

	forest    forest.Forest
	version   uint64
	rows      []row
	cursor    int
	cursorID  string
	collapsed map[string]bool

	// editing is the id of the user node open in the editor, or "".
	editing string

	// pendingFocus survives coalesced changes until its node appears.
	pendingFocus string

	status    string
	statusErr bool
	width     int
	height    int
	quitting  bool
}

// New builds the model and subscribes to store. The subscription ends with
// ctx.
func New(ctx context.Context, store Store, cfg Config) Model {
	if cfg.Clipboard == nil {
		cfg.Clipboard = systemClipboard{}
	}
	if cfg.GlamourStyle == "" {
		cfg.GlamourStyle = "dark"
	}

	editor := textarea.New()
	editor.ShowLineNumbers = false
	editor.Prompt = "│ "
	editor.Placeholder = "Type a message, enter to ask AI"
	editor.CharLimit = 0
	editor.KeyMap.InsertNewline = key.NewBinding(key.WithKeys("alt+enter", "shift+enter"))
	editor.SetHeight(3)

	m := Model{
		ctx:        ctx,
		store:      store,
		clipboard:  cfg.Clipboard,
		changes:    store.Subscribe(ctx),
		markdown:   newMarkdownRenderer(cfg.GlamourStyle),
		keys:       defaultKeyMap(),
		editorKeys: defaultEditorKeyMap(),
		help:       help.New(),
		editor:     editor,
		collapsed:  make(map[string]bool),
		width:      80,
		height:     24,
	}
	m.viewport = viewport.New(m.width, m.bodyHeight())
	return m
}

// Init implements tea.Model.
func (m Model) Init() tea.Cmd {
	return waitForChange(m.changes)
}

// Update implements tea.Model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.help.Width = msg.Width
		m.viewport.Width = msg.Width
		m.viewport.Height = m.bodyHeight()
		m.refresh()
		return m, nil

	case changeMsg:
		cmd := m.applyChange(workspace.Change(msg))
		return m, tea.Batch(cmd, waitForChange(m.changes))

	case closedMsg:
		m.quitting = true
		return m, tea.Quit

	case tea.KeyMsg:
		if m.editing != "" {
			return m.updateEditor(msg)
		}
		return m.updateBrowse(msg)
	}
	return m, nil
}

// =============================================================================
// Browse Mode
// =============================================================================

func (m Model) updateBrowse(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd
	current := m.current()

	switch {
	case key.Matches(msg, m.keys.Quit):
		m.quitting = true
		return m, tea.Quit

	case key.Matches(msg, m.keys.Up):
		m.moveCursor(-1)

	case key.Matches(msg, m.keys.Down):
		m.moveCursor(1)

	case key.Matches(msg, m.keys.Help):
		m.help.ShowAll = !m.help.ShowAll
		m.viewport.Height = m.bodyHeight()

	case current == nil:
		// Every remaining binding needs a node under the cursor.

	case key.Matches(msg, m.keys.Toggle):
		if len(current.Children) > 0 {
			m.collapsed[current.ID] = !m.collapsed[current.ID]
		}

	case key.Matches(msg, m.keys.Edit):
		if current.Role == forest.RoleUser {
			cmd = m.startEditing(current)
		}

	case key.Matches(msg, m.keys.Regenerate):
		if current.Role != forest.RoleAssistant {
			m.setError("only assistant replies can be regenerated")
			break
		}
		if err := m.store.Regenerate(m.ctx, current.ID); err != nil {
			m.setError(fmt.Sprintf("regenerate failed: %v", err))
		}

	case key.Matches(msg, m.keys.AddChild):
		id, err := m.store.AddChild(current.ID, forest.RoleUser)
		if err != nil {
			m.setError(fmt.Sprintf("add child failed: %v", err))
			break
		}
		delete(m.collapsed, current.ID)
		m.pendingFocus = id

	case key.Matches(msg, m.keys.NewRoot):
		m.pendingFocus = m.store.AddRoot()

	case key.Matches(msg, m.keys.Delete):
		m.deleteNode(current.ID)

	case key.Matches(msg, m.keys.Stop):
		if m.store.Stop(current.ID) {
			m.setStatus("stream stopped")
		} else {
			m.setStatus("nothing streaming here")
		}

	case key.Matches(msg, m.keys.Copy):
		m.copyForest()

	case key.Matches(msg, m.keys.Paste):
		m.pasteForest()
	}

	m.refresh()
	return m, cmd
}

// =============================================================================
// Editor Mode
// =============================================================================

func (m Model) updateEditor(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.editorKeys.Quit):
		m.quitting = true
		return m, tea.Quit

	case key.Matches(msg, m.editorKeys.Leave):
		m.stopEditing()
		m.refresh()
		return m, nil

	case key.Matches(msg, m.editorKeys.Submit):
		m.syncEditor()
		id := m.editing
		m.stopEditing()
		answer, err := m.store.Ask(m.ctx, id)
		if err != nil {
			m.setError(fmt.Sprintf("ask failed: %v", err))
		} else {
			delete(m.collapsed, id)
			m.pendingFocus = answer
			m.setStatus("")
		}
		m.refresh()
		return m, nil

	case key.Matches(msg, m.editorKeys.Newline):
		m.editor.InsertString("\n")
		m.syncEditor()
		m.refresh()
		return m, nil

	case msg.Type == tea.KeyBackspace && m.editor.Value() == "":
		id := m.editing
		if m.deleteNode(id) {
			m.stopEditing()
		}
		m.refresh()
		return m, nil
	}

	var cmd tea.Cmd
	m.editor, cmd = m.editor.Update(msg)
	m.syncEditor()
	m.refresh()
	return m, cmd
}

func (m *Model) startEditing(n *forest.Node) tea.Cmd {
	m.editing = n.ID
	m.editor.SetWidth(max(m.width-m.indentOf(n.ID)-4, minRenderWidth))
	m.editor.SetValue(n.Content)
	return m.editor.Focus()
}

func (m *Model) stopEditing() {
	m.editing = ""
	m.editor.Blur()
}

// syncEditor writes the editor text back to the node. The local forest
// can lag behind the store, so the store decides whether anything changed.
func (m *Model) syncEditor() {
	if m.editing == "" {
		return
	}
	err := m.store.SetContent(m.editing, m.editor.Value())
	if err != nil && !errors.Is(err, workspace.ErrNodeNotFound) {
		m.setError(fmt.Sprintf("edit failed: %v", err))
	}
}

// =============================================================================
// Actions
// =============================================================================

// deleteNode reports whether the node was removed.
func (m *Model) deleteNode(id string) bool {
	err := m.store.Delete(id)
	switch {
	case err == nil:
		m.setStatus("")
		return true
	case errors.Is(err, workspace.ErrLastRoot):
		m.setError("cannot delete the only thread")
	default:
		m.setError(fmt.Sprintf("delete failed: %v", err))
	}
	return false
}

func (m *Model) copyForest() {
	data, err := m.store.Export()
	if err != nil {
		m.setError(fmt.Sprintf("export failed: %v", err))
		return
	}
	if err := m.clipboard.WriteAll(string(data)); err != nil {
		slog.Warn("Clipboard write failed", "error", err)
		m.setError(fmt.Sprintf("copy failed: %v", err))
		return
	}
	m.setStatus(fmt.Sprintf("copied %d nodes to the clipboard", forest.Count(m.forest)))
}

func (m *Model) pasteForest() {
	text, err := m.clipboard.ReadAll()
	if err != nil {
		slog.Warn("Clipboard read failed", "error", err)
		m.setError(fmt.Sprintf("paste failed: %v", err))
		return
	}
	if err := m.store.Import([]byte(text)); err != nil {
		m.setError(fmt.Sprintf("paste rejected: %v", err))
		return
	}
	m.collapsed = make(map[string]bool)
	m.setStatus("forest pasted from the clipboard")
}

func (m *Model) setStatus(s string) {
	m.status, m.statusErr = s, false
}

func (m *Model) setError(s string) {
	m.status, m.statusErr = s, true
}

// =============================================================================
// State Sync
// =============================================================================

// applyChange adopts a published forest and resolves focus requests.
func (m *Model) applyChange(c workspace.Change) tea.Cmd {
	m.forest = c.Forest
	m.version = c.Version

	if m.editing != "" {
		if _, ok := forest.Find(m.forest, m.editing); !ok {
			m.stopEditing()
		}
	}

	focus := c.Focus
	if m.pendingFocus != "" {
		if _, ok := forest.Find(m.forest, m.pendingFocus); ok {
			focus = m.pendingFocus
			m.pendingFocus = ""
		}
	}

	var cmd tea.Cmd
	if focus != "" && focus != m.editing {
		if path, ok := forest.Find(m.forest, focus); ok {
			for _, id := range path.Parent() {
				delete(m.collapsed, id)
			}
			m.cursorID = focus
			n, _ := forest.Get(m.forest, path)
			if n.Role == forest.RoleUser {
				if m.editing != "" {
					m.stopEditing()
				}
				cmd = m.startEditing(n)
			}
		}
	}

	m.refresh()
	return cmd
}

// current returns the node under the cursor.
func (m Model) current() *forest.Node {
	if m.cursor < 0 || m.cursor >= len(m.rows) {
		return nil
	}
	return m.rows[m.cursor].node
}

func (m *Model) moveCursor(delta int) {
	if len(m.rows) == 0 {
		return
	}
	m.cursor = min(max(m.cursor+delta, 0), len(m.rows)-1)
	m.cursorID = m.rows[m.cursor].node.ID
}

// indentOf returns the column where a node's content starts.
func (m Model) indentOf(id string) int {
	path, ok := forest.Find(m.forest, id)
	if !ok {
		return contentIndent
	}
	return (len(path)-1)*indentWidth + contentIndent
}

func (m Model) bodyHeight() int {
	reserved := 4
	if m.help.ShowAll {
		reserved += 3
	}
	return max(m.height-reserved, 1)
}

// =============================================================================
// Run
// =============================================================================

// Run starts the UI on the terminal and blocks until the user quits or ctx
// is cancelled.
func Run(ctx context.Context, store Store, cfg Config) error {
	p := tea.NewProgram(New(ctx, store, cfg), tea.WithAltScreen(), tea.WithContext(ctx))
	if _, err := p.Run(); err != nil && !errors.Is(err, tea.ErrProgramKilled) {
		return fmt.Errorf("chat ui: %w", err)
	}
	return nil
}
