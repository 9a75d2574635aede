package ragent

import "errors"

// Sentinel errors for common failure modes.
var (
	// ErrValidation indicates a request failed validation.
	ErrValidation = errors.New("validation error")

	// ErrNotFound indicates the referenced session or message does not exist.
	ErrNotFound = errors.New("not found")

	// ErrUnauthorized indicates the server rejected the session token.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrInvalidState indicates an operation is not legal in the current
	// conversation or message state.
	ErrInvalidState = errors.New("invalid state")

	// ErrAlreadyStreaming indicates a task is already registered for the
	// conversation.
	ErrAlreadyStreaming = errors.New("already streaming")

	// ErrConcurrentStreamRejected indicates a prompt was submitted while a
	// reply for the same conversation was still streaming.
	ErrConcurrentStreamRejected = errors.New("reply already in progress, please wait")

	// ErrChannelTerminated indicates the stream ended without a completion event.
	ErrChannelTerminated = errors.New("stream terminated unexpectedly")

	// ErrStreamStalled indicates no event arrived within the idle timeout.
	ErrStreamStalled = errors.New("stream stalled")

	// ErrStreamClosed indicates an operation on a closed stream.
	ErrStreamClosed = errors.New("stream closed")

	// ErrCancellationRequestFailed indicates the server-side stop request failed.
	// Local state already reflects the cancellation.
	ErrCancellationRequestFailed = errors.New("cancellation request failed")

	// ErrFeedbackSyncFailed indicates a feedback vote could not be saved and
	// was rolled back.
	ErrFeedbackSyncFailed = errors.New("feedback sync failed")
)
