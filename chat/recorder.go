package chat

import (
	"context"
	"fmt"

	"github.com/nageoffer/ragent"
	"github.com/nageoffer/ragent/session"
	"go.uber.org/zap"
)

// Recorder applies feedback votes optimistically and syncs them to the
// server, rolling back the local vote when the server refuses it.
type Recorder struct {
	transport ragent.Transport
	store     *session.Store
	logger    *zap.Logger
}

// RecorderOption configures a Recorder.
type RecorderOption func(*Recorder)

// WithRecorderLogger sets the Recorder's logger. The default discards
// everything.
func WithRecorderLogger(l *zap.Logger) RecorderOption {
	return func(r *Recorder) { r.logger = l }
}

// NewRecorder creates a Recorder.
func NewRecorder(transport ragent.Transport, store *session.Store, opts ...RecorderOption) *Recorder {
	r := &Recorder{transport: transport, store: store, logger: zap.NewNop()}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Vote records vote on an assistant message. The local value changes before
// the request is sent; if the request fails it reverts to the prior value
// and the returned error wraps ErrFeedbackSyncFailed.
func (r *Recorder) Vote(ctx context.Context, messageID string, vote ragent.Feedback) error {
	if !vote.Valid() {
		return fmt.Errorf("feedback %q: %w", vote, ragent.ErrValidation)
	}
	prior, err := r.store.Feedback(messageID)
	if err != nil {
		return err
	}
	if err := r.store.SetFeedback(messageID, vote); err != nil {
		return err
	}
	if err := r.transport.SubmitFeedback(ctx, messageID, vote); err != nil {
		if rbErr := r.store.SetFeedback(messageID, prior); rbErr != nil {
			r.logger.Error("feedback rollback failed", zap.String("message", messageID), zap.Error(rbErr))
		}
		r.logger.Warn("feedback not saved",
			zap.String("message", messageID), zap.String("vote", string(vote)), zap.Error(err))
		return fmt.Errorf("%w: %w", ragent.ErrFeedbackSyncFailed, err)
	}
	r.logger.Debug("feedback saved", zap.String("message", messageID), zap.String("vote", string(vote)))
	return nil
}
