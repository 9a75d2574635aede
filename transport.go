package ragent

import "context"

// Transport issues the calls that drive a live reply.
type Transport interface {
	// Stream opens the reply channel for req.
	Stream(ctx context.Context, req ChatRequest) (Stream, error)
	// StopTask asks the server to stop generating for taskID.
	StopTask(ctx context.Context, taskID string) error
	// SubmitFeedback records a vote on a persisted assistant message.
	SubmitFeedback(ctx context.Context, messageID string, vote Feedback) error
}

// Persistence lists and edits conversations stored on the server.
type Persistence interface {
	ListSessions(ctx context.Context) ([]Session, error)
	ListMessages(ctx context.Context, conversationID string) ([]Message, error)
	RenameSession(ctx context.Context, conversationID, title string) error
	DeleteSession(ctx context.Context, conversationID string) error
}
