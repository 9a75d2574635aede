package mock

import "github.com/nageoffer/ragent"

// Interface compliance check.
var _ ragent.Stream = (*Stream)(nil)

// Stream is a test double for ragent.Stream.
// NextFn panics when nil to catch missing setup. CloseFn and StateFn are
// nil-safe (no-op and zero value) because code under test commonly calls
// defer stream.Close() and these methods rarely need custom behavior.
type Stream struct {
	NextFn  func() (ragent.Event, error)
	StateFn func() ragent.StreamState
	CloseFn func() error
}

// Next delegates to NextFn.
func (s *Stream) Next() (ragent.Event, error) {
	return s.NextFn()
}

// State delegates to StateFn. Returns StreamStateNew when StateFn is nil.
func (s *Stream) State() ragent.StreamState {
	if s.StateFn == nil {
		return ragent.StreamStateNew
	}
	return s.StateFn()
}

// Close delegates to CloseFn. Returns nil when CloseFn is not set.
func (s *Stream) Close() error {
	if s.CloseFn == nil {
		return nil
	}
	return s.CloseFn()
}
