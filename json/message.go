package json

import (
	"fmt"
	"time"

	"github.com/nageoffer/ragent"
)

// messageDTO is the JSON representation of a Message.
type messageDTO struct {
	ID               string    `json:"id"`
	Role             string    `json:"role"`
	Content          string    `json:"content"`
	Thinking         string    `json:"thinking,omitempty"`
	ThinkingDuration int64     `json:"thinking_duration_ms,omitempty"`
	IsDeepThinking   bool      `json:"is_deep_thinking,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
	Feedback         string    `json:"feedback,omitempty"`
	Status           string    `json:"status"`
	Error            string    `json:"error,omitempty"`
}

func marshalMessage(m ragent.Message) messageDTO {
	return messageDTO{
		ID:               m.ID,
		Role:             string(m.Role),
		Content:          m.Content,
		Thinking:         m.Thinking,
		ThinkingDuration: m.ThinkingDuration.Milliseconds(),
		IsDeepThinking:   m.IsDeepThinking,
		CreatedAt:        m.CreatedAt,
		Feedback:         string(m.Feedback),
		Status:           string(m.Status),
		Error:            m.Error,
	}
}

func unmarshalMessage(dto messageDTO) (ragent.Message, error) {
	role := ragent.Role(dto.Role)
	switch role {
	case ragent.RoleUser, ragent.RoleAssistant:
	default:
		return ragent.Message{}, fmt.Errorf("unknown role: %q", dto.Role)
	}

	status := ragent.Status(dto.Status)
	switch status {
	case ragent.StatusDone, ragent.StatusCancelled, ragent.StatusError:
	case ragent.StatusStreaming:
		// Saved mid-reply; nothing will ever finish it.
		status = ragent.StatusCancelled
	default:
		return ragent.Message{}, fmt.Errorf("unknown status: %q", dto.Status)
	}

	feedback := ragent.Feedback(dto.Feedback)
	if feedback != ragent.FeedbackNone && !feedback.Valid() {
		return ragent.Message{}, fmt.Errorf("unknown feedback: %q", dto.Feedback)
	}

	return ragent.Message{
		ID:               dto.ID,
		Role:             role,
		Content:          dto.Content,
		Thinking:         dto.Thinking,
		ThinkingDuration: time.Duration(dto.ThinkingDuration) * time.Millisecond,
		IsDeepThinking:   dto.IsDeepThinking,
		CreatedAt:        dto.CreatedAt,
		Feedback:         feedback,
		Status:           status,
		Error:            dto.Error,
	}, nil
}
