package ragent

// Event is a sealed interface representing a streaming event.
// Events are purely semantic. Transport/protocol errors come from
// Next()'s error return, not from events.
// The unexported marker method prevents external implementations.
type Event interface {
	event()
}

// EventMeta opens a stream and names the conversation and task it belongs to.
type EventMeta struct {
	ConversationID string
	TaskID         string
}

func (EventMeta) event() {}

// EventThinkingDelta represents a reasoning text delta.
type EventThinkingDelta struct {
	Delta string
}

func (EventThinkingDelta) event() {}

// EventAnswerDelta represents an answer text delta.
type EventAnswerDelta struct {
	Delta string
}

func (EventAnswerDelta) event() {}

// EventComplete ends a reply. MessageID is the persisted id assigned by the
// server and Title a generated session title; both may be empty.
type EventComplete struct {
	MessageID string
	Title     string
}

func (EventComplete) event() {}

// Interface compliance checks.
var (
	_ Event = EventMeta{}
	_ Event = EventThinkingDelta{}
	_ Event = EventAnswerDelta{}
	_ Event = EventComplete{}
)
