package bubbletea

// MessageBlock is a renderable element in the conversation.
// View takes a width parameter so the root model controls layout and blocks
// are testable in isolation.
type MessageBlock interface {
	View(width int) string
}

// blockSeparator returns the text placed between two consecutive blocks.
// A reply's thinking and its answer stay together; everything else is
// separated by a blank line.
func blockSeparator(prev, curr MessageBlock) string {
	if _, ok := prev.(*ThinkingBlock); ok {
		if _, ok := curr.(*AssistantTextBlock); ok {
			return "\n"
		}
	}
	return "\n\n"
}
