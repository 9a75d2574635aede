package ragent

import "time"

// Status is the lifecycle state of a message.
type Status string

const (
	StatusStreaming Status = "streaming"
	StatusDone      Status = "done"
	StatusCancelled Status = "cancelled"
	StatusError     Status = "error"
)

// Terminal reports whether no further streaming mutation is permitted.
func (s Status) Terminal() bool {
	switch s {
	case StatusDone, StatusCancelled, StatusError:
		return true
	default:
		return false
	}
}

// Feedback is a binary vote on an assistant reply. The zero value means no
// vote has been cast.
type Feedback string

const (
	FeedbackNone    Feedback = ""
	FeedbackLike    Feedback = "like"
	FeedbackDislike Feedback = "dislike"
)

// Valid reports whether f is a castable vote.
func (f Feedback) Valid() bool {
	return f == FeedbackLike || f == FeedbackDislike
}

// Message is one entry in a conversation.
//
// Content and Thinking accumulate answer and reasoning deltas. IsDeepThinking
// is fixed at creation; IsThinking is true only while the thinking phase is
// streaming and flips to false for good once the first answer delta lands.
type Message struct {
	ID               string
	ConversationID   string
	Role             Role
	Content          string
	Thinking         string
	ThinkingDuration time.Duration
	IsDeepThinking   bool
	IsThinking       bool
	CreatedAt        time.Time
	Feedback         Feedback
	Status           Status
	Error            string // set when Status is StatusError
}
