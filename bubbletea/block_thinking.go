package bubbletea

import (
	"fmt"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/nageoffer/ragent"
)

var _ MessageBlock = (*ThinkingBlock)(nil)

// ThinkingBlock renders a reply's reasoning behind a collapsible header.
type ThinkingBlock struct {
	content   string
	active    bool
	duration  time.Duration
	collapsed bool
	styles    Styles
}

// NewThinkingBlock creates a ThinkingBlock for msg.
func NewThinkingBlock(msg ragent.Message, collapsed bool, styles Styles) *ThinkingBlock {
	return &ThinkingBlock{
		content:   msg.Thinking,
		active:    msg.IsThinking,
		duration:  msg.ThinkingDuration,
		collapsed: collapsed,
		styles:    styles,
	}
}

func (b *ThinkingBlock) View(width int) string {
	wrap := lipgloss.NewStyle().Width(width)

	indicator := "▶"
	if !b.collapsed {
		indicator = "▼"
	}
	header := b.styles.Thinking.Render(wrap.Render(indicator + " " + b.label()))
	if b.collapsed || b.content == "" {
		return header
	}
	return header + "\n" + b.styles.Thinking.Render(wrap.Render(b.content))
}

func (b *ThinkingBlock) label() string {
	switch {
	case b.active:
		return "Thinking..."
	case b.duration > 0:
		return fmt.Sprintf("Thought for %.1fs", b.duration.Seconds())
	default:
		return "Thinking"
	}
}
