package ragent

// StreamState indicates the current state of a Stream.
type StreamState int

const (
	StreamStateNew       StreamState = iota // Before Next() is ever called.
	StreamStateStreaming                    // Mid-stream, receiving events.
	StreamStateComplete                     // Completion delivered; Next() returns io.EOF.
	StreamStateError                        // Next() returned non-EOF error.
	StreamStateClosed                       // Close() called before terminal state.
)

// Stream uses a pull-based iterator pattern over one reply. Cancellation
// flows through the context passed to Transport.Stream() or through Close().
//
// Next returns events in the order the server sent them. After an
// EventComplete has been returned, Next returns io.EOF. A channel that ends
// without a completion event yields an error wrapping ErrChannelTerminated.
// A stream is finite and cannot be restarted.
type Stream interface {
	Next() (Event, error)
	State() StreamState
	Close() error
}
