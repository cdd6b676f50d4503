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
	"log/slog"
	"strings"

	"github.com/charmbracelet/glamour"
	lru "github.com/hashicorp/golang-lru/v2"
)

const (
	// renderCacheSize bounds the memoized markdown blocks.
	renderCacheSize = 512

	// minRenderWidth keeps deeply nested nodes readable.
	minRenderWidth = 20
)

type renderKey struct {
	content string
	width   int
}

// markdownRenderer turns assistant replies into styled terminal text.
//
// # Description
//
// Keeps one glamour.TermRenderer per wrap width and memoizes rendered
// output by (content, width). A streaming reply changes content on every
// delta, so only the final text stays hot in the cache.
//
// # Thread Safety
//
// Not safe for concurrent use. Called only from the bubbletea View loop.
type markdownRenderer struct {
	style     string
	renderers map[int]*glamour.TermRenderer
	cache     *lru.Cache[renderKey, string]
}

func newMarkdownRenderer(style string) *markdownRenderer {
	cache, err := lru.New[renderKey, string](renderCacheSize)
	if err != nil {
		// Only returned for a non-positive size.
		panic(err)
	}
	return &markdownRenderer{
		style:     style,
		renderers: make(map[int]*glamour.TermRenderer),
		cache:     cache,
	}
}

// Render returns content as styled markdown wrapped to width. When glamour
// fails the raw text is returned.
func (r *markdownRenderer) Render(content string, width int) string {
	if width < minRenderWidth {
		width = minRenderWidth
	}
	key := renderKey{content: content, width: width}
	if out, ok := r.cache.Get(key); ok {
		return out
	}

	tr, err := r.rendererFor(width)
	if err != nil {
		slog.Debug("Markdown renderer unavailable", "error", err)
		return content
	}
	out, err := tr.Render(content)
	if err != nil {
		slog.Debug("Markdown render failed", "error", err)
		return content
	}
	out = strings.Trim(out, "\n")
	r.cache.Add(key, out)
	return out
}

func (r *markdownRenderer) rendererFor(width int) (*glamour.TermRenderer, error) {
	if tr, ok := r.renderers[width]; ok {
		return tr, nil
	}
	tr, err := glamour.NewTermRenderer(
		glamour.WithStandardStyle(r.style),
		glamour.WithWordWrap(width),
	)
	if err != nil {
		return nil, err
	}
	r.renderers[width] = tr
	return tr, nil
}

// Len reports the number of cached blocks.
func (r *markdownRenderer) Len() int {
	return r.cache.Len()
}
