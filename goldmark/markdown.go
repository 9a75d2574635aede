// Package goldmark renders markdown answers to ANSI-styled terminal output
// using goldmark for parsing and lipgloss for styling.
package goldmark

import (
	"github.com/nageoffer/ragent"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/parser"
)

// defaultWidth is used when the caller passes a non-positive width.
const defaultWidth = 80

// Renderer turns markdown into styled terminal text. It is safe for
// concurrent use.
type Renderer struct {
	parser parser.Parser
	styles styles
}

// New creates a Renderer styled with theme. Tables, strikethrough and bare
// URLs are recognized in addition to CommonMark.
func New(theme ragent.Theme) *Renderer {
	md := goldmark.New(goldmark.WithExtensions(
		extension.Table,
		extension.Strikethrough,
		extension.Linkify,
	))
	return &Renderer{parser: md.Parser(), styles: newStyles(theme)}
}

// Render parses markdown source and returns ANSI-styled terminal output.
// Paragraphs, quotes and list items are word-wrapped to width. Code blocks
// are rendered without reflow.
func (r *Renderer) Render(source string, width int) string {
	if source == "" {
		return ""
	}
	if width <= 0 {
		width = defaultWidth
	}
	return r.render([]byte(source), width)
}

// Render is a convenience for New(theme).Render(source, width).
func Render(source string, width int, theme ragent.Theme) string {
	return New(theme).Render(source, width)
}
