package bubbletea

import (
	"strings"

	"github.com/nageoffer/ragent"
	"github.com/nageoffer/ragent/goldmark"
)

var _ MessageBlock = (*AssistantTextBlock)(nil)

// AssistantTextBlock renders a reply's answer with markdown formatting.
// Finalized paragraphs (separated by a blank line) are rendered once per
// width and cached; only the trailing text is re-rendered as deltas arrive.
type AssistantTextBlock struct {
	content  string
	status   ragent.Status
	feedback ragent.Feedback
	md       *goldmark.Renderer
	styles   Styles

	// finalizedRaw is the stable prefix ending at the last blank line.
	finalizedRaw     string
	finalizedByWidth map[int]string
}

// NewAssistantTextBlock creates an empty answer block.
func NewAssistantTextBlock(md *goldmark.Renderer, styles Styles) *AssistantTextBlock {
	return &AssistantTextBlock{
		md:               md,
		styles:           styles,
		finalizedByWidth: make(map[int]string),
	}
}

// Sync brings the block up to date with msg. Answers only grow while
// streaming, so a content change that is not an extension resets the cache.
func (b *AssistantTextBlock) Sync(msg ragent.Message) {
	b.status = msg.Status
	b.feedback = msg.Feedback
	if msg.Content == b.content {
		return
	}
	if !strings.HasPrefix(msg.Content, b.content) {
		b.finalizedRaw = ""
		clear(b.finalizedByWidth)
	}
	b.content = msg.Content
	b.promoteFinalized()
}

func (b *AssistantTextBlock) View(width int) string {
	body := b.body(width)
	footer := b.footer()
	switch {
	case footer == "":
		return body
	case body == "":
		return footer
	default:
		return body + "\n" + footer
	}
}

func (b *AssistantTextBlock) body(width int) string {
	finalized := b.renderFinalized(width)
	trailing := b.trailingRaw()
	if hasUnclosedFence(trailing) {
		// Close the fence for rendering only so partial code displays safely.
		trailing += "\n```"
	}
	if strings.TrimSpace(trailing) == "" {
		return finalized
	}
	rendered := b.md.Render(trailing, width)
	if strings.TrimSpace(rendered) == "" {
		return finalized
	}
	if finalized == "" {
		return rendered
	}
	return strings.TrimRight(finalized, "\n") + "\n\n" + strings.TrimLeft(rendered, "\n")
}

func (b *AssistantTextBlock) footer() string {
	var parts []string
	if b.status == ragent.StatusCancelled {
		parts = append(parts, b.styles.Muted.Render("[stopped]"))
	}
	switch b.feedback {
	case ragent.FeedbackLike:
		parts = append(parts, b.styles.Success.Render("[liked]"))
	case ragent.FeedbackDislike:
		parts = append(parts, b.styles.Error.Render("[disliked]"))
	}
	return strings.Join(parts, " ")
}

// promoteFinalized moves the boundary to the last blank line that does not
// fall inside an unclosed fenced code block.
func (b *AssistantTextBlock) promoteFinalized() {
	raw := b.content
	for end := len(raw); ; {
		idx := strings.LastIndex(raw[:end], "\n\n")
		if idx <= 0 {
			return
		}
		candidate := raw[:idx]
		if !hasUnclosedFence(candidate) {
			if candidate != b.finalizedRaw {
				b.finalizedRaw = candidate
				clear(b.finalizedByWidth)
			}
			return
		}
		end = idx
	}
}

func (b *AssistantTextBlock) renderFinalized(width int) string {
	if width <= 0 || b.finalizedRaw == "" {
		return ""
	}
	if cached, ok := b.finalizedByWidth[width]; ok {
		return cached
	}
	rendered := b.md.Render(b.finalizedRaw, width)
	b.finalizedByWidth[width] = rendered
	return rendered
}

func (b *AssistantTextBlock) trailingRaw() string {
	if b.finalizedRaw == "" {
		return b.content
	}
	return strings.TrimPrefix(b.content, b.finalizedRaw+"\n\n")
}

// hasUnclosedFence reports an odd number of "```" in s. Triple backticks
// inside inline code spans are miscounted.
func hasUnclosedFence(s string) bool {
	return strings.Count(s, "```")%2 == 1
}
