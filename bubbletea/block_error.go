package bubbletea

import "github.com/charmbracelet/lipgloss"

var _ MessageBlock = (*ErrorBlock)(nil)

// ErrorBlock renders why a reply failed.
type ErrorBlock struct {
	reason string
	styles Styles
}

// NewErrorBlock creates an ErrorBlock.
func NewErrorBlock(reason string, styles Styles) *ErrorBlock {
	return &ErrorBlock{reason: reason, styles: styles}
}

func (b *ErrorBlock) View(width int) string {
	content := b.styles.Error.Render("Error: " + b.reason)
	return lipgloss.NewStyle().Width(width).Render(content)
}
