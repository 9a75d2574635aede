package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/nageoffer/ragent"
	"github.com/nageoffer/ragent/session"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// historyConcurrency bounds parallel message fetches in Open.
const historyConcurrency = 4

// History keeps the store in step with conversations persisted on the server.
type History struct {
	persistence ragent.Persistence
	store       *session.Store
	logger      *zap.Logger
}

// HistoryOption configures a History.
type HistoryOption func(*History)

// WithHistoryLogger sets the History's logger. The default discards
// everything.
func WithHistoryLogger(l *zap.Logger) HistoryOption {
	return func(h *History) { h.logger = l }
}

// NewHistory creates a History.
func NewHistory(p ragent.Persistence, store *session.Store, opts ...HistoryOption) *History {
	h := &History{persistence: p, store: store, logger: zap.NewNop()}
	for _, o := range opts {
		o(h)
	}
	return h
}

// Refresh lists the server's conversations into the store and returns the
// resulting session list, most recent first.
func (h *History) Refresh(ctx context.Context) ([]ragent.Session, error) {
	sessions, err := h.persistence.ListSessions(ctx)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	// Listing carries no messages; Load must not wipe loaded histories.
	for i := range sessions {
		sessions[i].Messages = nil
	}
	h.store.Load(sessions...)
	h.logger.Debug("sessions refreshed", zap.Int("count", len(sessions)))
	return h.store.Sessions(), nil
}

// Open fetches the message history of each conversation in parallel and
// installs it in the store. Conversations with a reply streaming are left
// untouched. The first fetch error cancels the rest.
func (h *History) Open(ctx context.Context, conversationIDs ...string) error {
	histories := make([][]ragent.Message, len(conversationIDs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(historyConcurrency)
	for i, id := range conversationIDs {
		g.Go(func() error {
			msgs, err := h.persistence.ListMessages(gctx, id)
			if err != nil {
				return fmt.Errorf("list messages of %s: %w", id, err)
			}
			histories[i] = msgs
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	for i, id := range conversationIDs {
		if err := h.store.SetMessages(id, histories[i]); err != nil {
			if errors.Is(err, ragent.ErrInvalidState) {
				h.logger.Debug("history skipped while streaming", zap.String("conversation", id))
				continue
			}
			return err
		}
	}
	return nil
}

// Rename retitles a conversation on the server, then locally.
func (h *History) Rename(ctx context.Context, conversationID, title string) error {
	title = strings.TrimSpace(title)
	if title == "" {
		return fmt.Errorf("rename %s: title required: %w", conversationID, ragent.ErrValidation)
	}
	if err := h.persistence.RenameSession(ctx, conversationID, title); err != nil {
		return fmt.Errorf("rename %s: %w", conversationID, err)
	}
	if err := h.store.Rename(conversationID, title); err != nil && !errors.Is(err, ragent.ErrNotFound) {
		return err
	}
	return nil
}

// Delete removes a conversation on the server, then locally. It is refused
// while the conversation has a reply streaming.
func (h *History) Delete(ctx context.Context, conversationID string) error {
	if _, busy := h.store.Tasks().Current(conversationID); busy {
		return fmt.Errorf("delete %s: reply streaming: %w", conversationID, ragent.ErrInvalidState)
	}
	if err := h.persistence.DeleteSession(ctx, conversationID); err != nil {
		return fmt.Errorf("delete %s: %w", conversationID, err)
	}
	if err := h.store.Remove(conversationID); err != nil && !errors.Is(err, ragent.ErrNotFound) {
		return err
	}
	return nil
}
