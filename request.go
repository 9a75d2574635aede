package ragent

import (
	"fmt"
	"strings"
)

// ChatRequest is one submitted prompt. An empty ConversationID starts a new
// conversation; the server assigns its id in the stream's EventMeta.
type ChatRequest struct {
	ConversationID string
	Question       string
	DeepThinking   bool
}

// Validate checks universal constraints on ChatRequest.
func (r ChatRequest) Validate() error {
	if strings.TrimSpace(r.Question) == "" {
		return fmt.Errorf("question must not be empty: %w", ErrValidation)
	}
	return nil
}
