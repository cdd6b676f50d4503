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

import "github.com/charmbracelet/bubbles/key"

// keyMap holds the browse-mode bindings.
type keyMap struct {
	Up         key.Binding
	Down       key.Binding
	Toggle     key.Binding
	Edit       key.Binding
	Regenerate key.Binding
	AddChild   key.Binding
	NewRoot    key.Binding
	Delete     key.Binding
	Stop       key.Binding
	Copy       key.Binding
	Paste      key.Binding
	Help       key.Binding
	Quit       key.Binding
}

func defaultKeyMap() keyMap {
	return keyMap{
		Up:         key.NewBinding(key.WithKeys("up", "k"), key.WithHelp("↑/k", "up")),
		Down:       key.NewBinding(key.WithKeys("down", "j"), key.WithHelp("↓/j", "down")),
		Toggle:     key.NewBinding(key.WithKeys(" "), key.WithHelp("space", "expand")),
		Edit:       key.NewBinding(key.WithKeys("e", "enter"), key.WithHelp("e", "edit")),
		Regenerate: key.NewBinding(key.WithKeys("r"), key.WithHelp("r", "regenerate")),
		AddChild:   key.NewBinding(key.WithKeys("a"), key.WithHelp("a", "add child")),
		NewRoot:    key.NewBinding(key.WithKeys("n"), key.WithHelp("n", "new thread")),
		Delete:     key.NewBinding(key.WithKeys("d"), key.WithHelp("d", "delete")),
		Stop:       key.NewBinding(key.WithKeys("s"), key.WithHelp("s", "stop")),
		Copy:       key.NewBinding(key.WithKeys("y"), key.WithHelp("y", "copy")),
		Paste:      key.NewBinding(key.WithKeys("p"), key.WithHelp("p", "paste")),
		Help:       key.NewBinding(key.WithKeys("?"), key.WithHelp("?", "help")),
		Quit:       key.NewBinding(key.WithKeys("q", "ctrl+c"), key.WithHelp("q", "quit")),
	}
}

// ShortHelp implements help.KeyMap.
func (k keyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.Up, k.Down, k.Edit, k.AddChild, k.Regenerate, k.Delete, k.Help, k.Quit}
}

// FullHelp implements help.KeyMap.
func (k keyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{
		{k.Up, k.Down, k.Toggle},
		{k.Edit, k.AddChild, k.NewRoot},
		{k.Regenerate, k.Stop, k.Delete},
		{k.Copy, k.Paste, k.Help, k.Quit},
	}
}

// editorKeyMap holds the bindings handled before the textarea sees a key.
type editorKeyMap struct {
	Submit  key.Binding
	Newline key.Binding
	Leave   key.Binding
	Quit    key.Binding
}

func defaultEditorKeyMap() editorKeyMap {
	return editorKeyMap{
		Submit:  key.NewBinding(key.WithKeys("enter"), key.WithHelp("enter", "ask AI")),
		Newline: key.NewBinding(key.WithKeys("alt+enter", "shift+enter"), key.WithHelp("alt+enter", "newline")),
		Leave:   key.NewBinding(key.WithKeys("esc"), key.WithHelp("esc", "done")),
		Quit:    key.NewBinding(key.WithKeys("ctrl+c"), key.WithHelp("ctrl+c", "quit")),
	}
}

func (k editorKeyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.Submit, k.Newline, k.Leave}
}

func (k editorKeyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{k.ShortHelp()}
}
