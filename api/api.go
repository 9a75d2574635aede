// Package api implements ragent.Transport and ragent.Persistence against the
// RAG server's REST and Server-Sent Events endpoints.
package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/nageoffer/ragent"
)

const (
	defaultBaseURL = "http://localhost:9090/api/ragent"

	loginPath         = "/auth/login"
	logoutPath        = "/auth/logout"
	conversationsPath = "/conversations"
	chatPath          = "/rag/v3/chat"
	stopPath          = "/rag/v3/stop"

	// codeOK marks a successful envelope.
	codeOK = "0"
)

// envelope wraps every JSON response body.
type envelope struct {
	Code    string          `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type apiUser struct {
	ID       string `json:"userId"`
	Username string `json:"username"`
	Avatar   string `json:"avatar"`
	Token    string `json:"token"`
}

type apiSession struct {
	ID       string  `json:"conversationId"`
	Title    string  `json:"title"`
	LastTime apiTime `json:"lastTime"`
}

type apiMessage struct {
	ID               string  `json:"id"`
	ConversationID   string  `json:"conversationId"`
	Role             string  `json:"role"`
	Content          string  `json:"content"`
	Thinking         string  `json:"thinkingContent"`
	ThinkingDuration float64 `json:"thinkingDuration"` // seconds
	IsDeepThinking   bool    `json:"deepThinking"`
	Vote             int     `json:"vote"`
	CreatedAt        apiTime `json:"createTime"`
}

type renameRequest struct {
	Title string `json:"title"`
}

type feedbackRequest struct {
	Vote int `json:"vote"`
}

// SSE payloads.

type metaPayload struct {
	ConversationID string `json:"conversationId"`
	TaskID         string `json:"taskId"`
}

type messagePayload struct {
	Type  string `json:"type"`
	Delta string `json:"delta"`
}

type finishPayload struct {
	MessageID string `json:"messageId"`
	Title     string `json:"title"`
}

type errorPayload struct {
	Message string `json:"message"`
}

// apiTime accepts RFC 3339, "2006-01-02 15:04:05" and epoch milliseconds.
type apiTime time.Time

const localLayout = "2006-01-02 15:04:05"

func (t *apiTime) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || string(b) == "null" {
		return nil
	}
	if b[0] != '"' {
		ms, err := strconv.ParseInt(string(b), 10, 64)
		if err != nil {
			return fmt.Errorf("time %s: %w", b, err)
		}
		*t = apiTime(time.UnixMilli(ms))
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	if s == "" {
		return nil
	}
	for _, layout := range []string{time.RFC3339Nano, localLayout} {
		if v, err := time.ParseInLocation(layout, s, time.Local); err == nil {
			*t = apiTime(v)
			return nil
		}
	}
	return fmt.Errorf("time %q: unrecognized format", s)
}

func voteToWire(f ragent.Feedback) int {
	switch f {
	case ragent.FeedbackLike:
		return 1
	case ragent.FeedbackDislike:
		return -1
	default:
		return 0
	}
}

func voteFromWire(v int) ragent.Feedback {
	switch {
	case v > 0:
		return ragent.FeedbackLike
	case v < 0:
		return ragent.FeedbackDislike
	default:
		return ragent.FeedbackNone
	}
}

func convertSession(s apiSession) ragent.Session {
	return ragent.Session{
		ID:       s.ID,
		Title:    s.Title,
		LastTime: time.Time(s.LastTime),
	}
}

func convertMessage(m apiMessage) ragent.Message {
	role := ragent.RoleAssistant
	if m.Role == string(ragent.RoleUser) {
		role = ragent.RoleUser
	}
	return ragent.Message{
		ID:               m.ID,
		ConversationID:   m.ConversationID,
		Role:             role,
		Content:          m.Content,
		Thinking:         m.Thinking,
		ThinkingDuration: time.Duration(m.ThinkingDuration * float64(time.Second)),
		IsDeepThinking:   m.IsDeepThinking,
		CreatedAt:        time.Time(m.CreatedAt),
		Feedback:         voteFromWire(m.Vote),
		Status:           ragent.StatusDone,
	}
}
