// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
)

// markdownRenderer renders finished assistant replies. Output is cached per
// message id so a streaming refresh only re-renders the message in progress.
type markdownRenderer struct {
	style    string
	width    int
	renderer *glamour.TermRenderer
	cache    map[string]renderedMarkdown
}

type renderedMarkdown struct {
	content string
	out     string
}

func newMarkdownRenderer(style string) *markdownRenderer {
	return &markdownRenderer{
		style: style,
		cache: make(map[string]renderedMarkdown),
	}
}

// SetWidth changes the wrap width and drops cached output.
func (r *markdownRenderer) SetWidth(width int) {
	if width < 20 {
		width = 20
	}
	if width == r.width {
		return
	}
	r.width = width
	r.renderer = nil
	clear(r.cache)
}

// Render returns content as styled markdown. Rendering failures fall back
// to plain wrapped text.
func (r *markdownRenderer) Render(id, content string) string {
	if cached, ok := r.cache[id]; ok && cached.content == content {
		return cached.out
	}

	out, err := r.render(content)
	if err != nil {
		out = r.Plain(content)
	}
	if id != "" {
		r.cache[id] = renderedMarkdown{content: content, out: out}
	}
	return out
}

// Plain wraps content without markdown styling.
func (r *markdownRenderer) Plain(content string) string {
	width := r.width
	if width <= 0 {
		width = 80
	}
	return lipgloss.NewStyle().Width(width).PaddingLeft(2).Render(content)
}

func (r *markdownRenderer) render(content string) (string, error) {
	if r.renderer == nil {
		width := r.width
		if width <= 0 {
			width = 80
		}
		tr, err := glamour.NewTermRenderer(
			glamour.WithStandardStyle(r.style),
			glamour.WithWordWrap(width),
		)
		if err != nil {
			return "", err
		}
		r.renderer = tr
	}
	out, err := r.renderer.Render(content)
	if err != nil {
		return "", err
	}
	return strings.Trim(out, "\n"), nil
}
