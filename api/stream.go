package api

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/nageoffer/ragent"
)

// maxLineSize bounds a single SSE line.
const maxLineSize = 1 << 20

// stream implements [ragent.Stream] by parsing SSE events from an HTTP
// response body.
type stream struct {
	body    io.ReadCloser
	scanner *bufio.Scanner
	ctx     context.Context
	state   ragent.StreamState
	err     error // terminal error, if any
}

// Interface compliance check.
var _ ragent.Stream = (*stream)(nil)

func newStream(ctx context.Context, body io.ReadCloser) *stream {
	sc := bufio.NewScanner(body)
	sc.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	return &stream{
		body:    body,
		scanner: sc,
		ctx:     ctx,
		state:   ragent.StreamStateNew,
	}
}

// Next reads the next semantic event from the SSE stream.
// Returns io.EOF after the completion event has been delivered.
func (s *stream) Next() (ragent.Event, error) {
	switch s.state {
	case ragent.StreamStateComplete:
		return nil, io.EOF
	case ragent.StreamStateError:
		return nil, s.err
	case ragent.StreamStateClosed:
		return nil, fmt.Errorf("api: %w", ragent.ErrStreamClosed)
	}

	for {
		eventType, data, err := s.readSSEEvent()
		if err != nil {
			s.terminate(err)
			return nil, s.err
		}

		s.state = ragent.StreamStateStreaming

		evt, err := s.processEvent(eventType, data)
		if err != nil {
			s.state = ragent.StreamStateError
			s.err = err
			return nil, s.err
		}
		if evt != nil {
			return evt, nil
		}
		// Non-semantic event (ping, unknown type) - keep reading.
	}
}

// State returns the current stream state.
func (s *stream) State() ragent.StreamState {
	return s.state
}

// Close closes the underlying HTTP response body.
func (s *stream) Close() error {
	if s.state != ragent.StreamStateComplete && s.state != ragent.StreamStateError {
		s.state = ragent.StreamStateClosed
	}
	return s.body.Close()
}

// terminate records a read failure as the terminal error.
func (s *stream) terminate(err error) {
	s.state = ragent.StreamStateError
	switch {
	case s.ctx.Err() != nil:
		s.err = fmt.Errorf("api: %w", s.ctx.Err())
	case err == io.EOF:
		// A finished reply ends with finish or done before the body closes.
		s.err = fmt.Errorf("api: stream ended before finish: %w", ragent.ErrChannelTerminated)
	default:
		s.err = fmt.Errorf("api: %w: %w", ragent.ErrChannelTerminated, err)
	}
}

// readSSEEvent reads lines until a complete SSE event is assembled.
// Returns the event type and the data payload.
func (s *stream) readSSEEvent() (string, string, error) {
	var eventType string
	var dataBuf strings.Builder
	var hasData bool

	for s.scanner.Scan() {
		line := s.scanner.Text()

		if line == "" {
			// Empty line signals end of event.
			if hasData || eventType != "" {
				return eventType, dataBuf.String(), nil
			}
			continue
		}
		if strings.HasPrefix(line, ":") {
			continue
		}

		field, value, _ := strings.Cut(line, ":")
		value = strings.TrimPrefix(value, " ")
		switch field {
		case "event":
			eventType = value
		case "data":
			if hasData {
				dataBuf.WriteByte('\n')
			}
			dataBuf.WriteString(value)
			hasData = true
		}
		// Ignore id, retry and unknown fields.
	}

	if err := s.scanner.Err(); err != nil {
		return "", "", err
	}
	if hasData || eventType != "" {
		return eventType, dataBuf.String(), nil
	}
	return "", "", io.EOF
}

// processEvent maps an SSE event to a semantic ragent.Event.
// Returns nil event for non-semantic events.
func (s *stream) processEvent(eventType, data string) (ragent.Event, error) {
	switch eventType {
	case "meta":
		var p metaPayload
		if err := decode(eventType, data, &p); err != nil {
			return nil, err
		}
		return ragent.EventMeta{ConversationID: p.ConversationID, TaskID: p.TaskID}, nil
	case "message", "":
		var p messagePayload
		if err := decode(eventType, data, &p); err != nil {
			return nil, err
		}
		switch p.Type {
		case "thinking", "think":
			return ragent.EventThinkingDelta{Delta: p.Delta}, nil
		case "answer", "response", "":
			return ragent.EventAnswerDelta{Delta: p.Delta}, nil
		}
		return nil, nil
	case "finish":
		var p finishPayload
		if strings.TrimSpace(data) != "" {
			if err := decode(eventType, data, &p); err != nil {
				return nil, err
			}
		}
		s.state = ragent.StreamStateComplete
		return ragent.EventComplete{MessageID: p.MessageID, Title: p.Title}, nil
	case "done":
		s.state = ragent.StreamStateComplete
		return ragent.EventComplete{}, nil
	case "error":
		return nil, fmt.Errorf("api: server error: %s: %w", serverMessage(data), ragent.ErrChannelTerminated)
	case "reject":
		return nil, fmt.Errorf("api: %s: %w", serverMessage(data), ragent.ErrConcurrentStreamRejected)
	default:
		// ping and unknown events.
		return nil, nil
	}
}

func decode(eventType, data string, v any) error {
	if err := json.Unmarshal([]byte(data), v); err != nil {
		return fmt.Errorf("api: decode %s event: %w: %w", eventType, ragent.ErrChannelTerminated, err)
	}
	return nil
}

// serverMessage extracts the message of an error payload, falling back to
// the raw data.
func serverMessage(data string) string {
	var p errorPayload
	if err := json.Unmarshal([]byte(data), &p); err == nil && p.Message != "" {
		return p.Message
	}
	if data = strings.TrimSpace(data); data != "" {
		return data
	}
	return "unknown error"
}
