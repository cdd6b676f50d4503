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
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/jdan/deepdive/pkg/forest"
)

const (
	indentWidth   = 2
	contentIndent = 4

	markerCollapsed = "▶"
	markerExpanded  = "▼"
	markerLeaf      = "•"

	thinkingText = "Thinking..."
)

// =============================================================================
// Styles
// =============================================================================

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("205"))

	statsStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("241"))

	userLabelStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("39"))

	assistantLabelStyle = lipgloss.NewStyle().
				Bold(true).
				Foreground(lipgloss.Color("42"))

	selectedStyle = lipgloss.NewStyle().
			Reverse(true)

	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("241")).
			Italic(true)

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196"))

	statusStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("245"))
)

// =============================================================================
// Rows
// =============================================================================

// row is one visible node in display order.
type row struct {
	node  *forest.Node
	depth int
}

// visibleRows flattens f depth-first, skipping the children of collapsed
// nodes.
func visibleRows(f forest.Forest, collapsed map[string]bool) []row {
	var rows []row
	var walk func(nodes []*forest.Node, depth int)
	walk = func(nodes []*forest.Node, depth int) {
		for _, n := range nodes {
			if n == nil {
				continue
			}
			rows = append(rows, row{node: n, depth: depth})
			if !collapsed[n.ID] {
				walk(n.Children, depth+1)
			}
		}
	}
	walk(f, 0)
	return rows
}

// refresh rebuilds the rows, restores the cursor and redraws the viewport.
func (m *Model) refresh() {
	m.rows = visibleRows(m.forest, m.collapsed)

	found := false
	for i, r := range m.rows {
		if r.node.ID == m.cursorID {
			m.cursor, found = i, true
			break
		}
	}
	if !found && len(m.rows) > 0 {
		m.cursor = min(max(m.cursor, 0), len(m.rows)-1)
		m.cursorID = m.rows[m.cursor].node.ID
	}

	body, start, end := m.renderBody()
	m.viewport.SetContent(body)

	switch {
	case start < m.viewport.YOffset:
		m.viewport.SetYOffset(start)
	case end >= m.viewport.YOffset+m.viewport.Height:
		m.viewport.SetYOffset(max(end-m.viewport.Height+1, start))
	}
}

// =============================================================================
// Rendering
// =============================================================================

// renderBody draws every row and returns the line span of the cursor row.
func (m Model) renderBody() (body string, cursorStart, cursorEnd int) {
	var lines []string
	for i, r := range m.rows {
		block := m.renderRow(r, i == m.cursor)
		if i == m.cursor {
			cursorStart = len(lines)
		}
		lines = append(lines, strings.Split(block, "\n")...)
		if i == m.cursor {
			cursorEnd = len(lines) - 1
		}
	}
	return strings.Join(lines, "\n"), cursorStart, cursorEnd
}

func (m Model) renderRow(r row, selected bool) string {
	n := r.node
	indent := strings.Repeat(" ", r.depth*indentWidth)

	marker := markerLeaf
	if len(n.Children) > 0 {
		marker = markerExpanded
		if m.collapsed[n.ID] {
			marker = markerCollapsed
		}
	}

	label := userLabelStyle.Render("you")
	if n.Role == forest.RoleAssistant {
		label = assistantLabelStyle.Render("ai")
	} else if n.Role == forest.RoleSystem {
		label = dimStyle.Render("system")
	}
	streaming := n.Role == forest.RoleAssistant && m.store.Streaming(n.ID)
	if streaming {
		label += dimStyle.Render(" ●")
	}

	head := marker + " " + label
	if selected {
		head = selectedStyle.Render(marker) + " " + label
	}

	pad := indent + strings.Repeat(" ", contentIndent)
	width := max(m.width-len(pad)-1, minRenderWidth)

	var content string
	switch {
	case n.ID == m.editing:
		content = m.editor.View()
	case n.Role == forest.RoleAssistant && n.Content == "" && streaming:
		content = dimStyle.Render(thinkingText)
	case n.Role == forest.RoleAssistant && n.Content != "":
		content = m.markdown.Render(n.Content, width)
	case n.Content == "":
		content = dimStyle.Render("(empty)")
	default:
		content = lipgloss.NewStyle().Width(width).Render(n.Content)
	}

	var b strings.Builder
	b.WriteString(indent)
	b.WriteString(head)
	b.WriteString("\n")
	b.WriteString(indentBlock(content, pad))

	if n.Role == forest.RoleAssistant && !streaming {
		if err := m.store.StreamError(n.ID); err != nil {
			b.WriteString("\n")
			b.WriteString(pad)
			b.WriteString(errorStyle.Render("stream failed: " + err.Error()))
		}
	}
	return b.String()
}

func indentBlock(block, pad string) string {
	lines := strings.Split(block, "\n")
	for i, line := range lines {
		lines[i] = pad + line
	}
	return strings.Join(lines, "\n")
}

// View implements tea.Model.
func (m Model) View() string {
	if m.quitting {
		return ""
	}

	var b strings.Builder
	b.WriteString(m.renderHeader())
	b.WriteString("\n")
	b.WriteString(m.viewport.View())
	b.WriteString("\n")
	b.WriteString(m.renderStatus())
	b.WriteString("\n")
	if m.editing != "" {
		b.WriteString(m.help.View(m.editorKeys))
	} else {
		b.WriteString(m.help.View(m.keys))
	}
	return b.String()
}

func (m Model) renderHeader() string {
	model := m.store.Model()
	if model == "" {
		model = "relay default"
	}
	stats := fmt.Sprintf("  %d threads · %d messages · %s", len(m.forest), forest.Count(m.forest), model)
	return titleStyle.Render("deepdive") + statsStyle.Render(stats)
}

func (m Model) renderStatus() string {
	if m.status == "" {
		return ""
	}
	if m.statusErr {
		return errorStyle.Render(m.status)
	}
	return statusStyle.Render(m.status)
}
