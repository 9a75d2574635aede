// Package mock provides test doubles for ragent interfaces using function fields.
package mock

import (
	"context"

	"github.com/nageoffer/ragent"
)

// Interface compliance checks.
var (
	_ ragent.Transport   = (*Transport)(nil)
	_ ragent.Persistence = (*Persistence)(nil)
)

// Transport is a test double for ragent.Transport.
// StreamFn panics when nil to catch missing setup. StopTaskFn and
// SubmitFeedbackFn are nil-safe and succeed, since most tests only care
// about the stream.
type Transport struct {
	StreamFn         func(ctx context.Context, req ragent.ChatRequest) (ragent.Stream, error)
	StopTaskFn       func(ctx context.Context, taskID string) error
	SubmitFeedbackFn func(ctx context.Context, messageID string, vote ragent.Feedback) error
}

// Stream delegates to StreamFn.
func (t *Transport) Stream(ctx context.Context, req ragent.ChatRequest) (ragent.Stream, error) {
	return t.StreamFn(ctx, req)
}

// StopTask delegates to StopTaskFn. Returns nil when StopTaskFn is not set.
func (t *Transport) StopTask(ctx context.Context, taskID string) error {
	if t.StopTaskFn == nil {
		return nil
	}
	return t.StopTaskFn(ctx, taskID)
}

// SubmitFeedback delegates to SubmitFeedbackFn. Returns nil when
// SubmitFeedbackFn is not set.
func (t *Transport) SubmitFeedback(ctx context.Context, messageID string, vote ragent.Feedback) error {
	if t.SubmitFeedbackFn == nil {
		return nil
	}
	return t.SubmitFeedbackFn(ctx, messageID, vote)
}

// Persistence is a test double for ragent.Persistence.
// Set the function fields for the methods you need.
type Persistence struct {
	ListSessionsFn  func(ctx context.Context) ([]ragent.Session, error)
	ListMessagesFn  func(ctx context.Context, conversationID string) ([]ragent.Message, error)
	RenameSessionFn func(ctx context.Context, conversationID, title string) error
	DeleteSessionFn func(ctx context.Context, conversationID string) error
}

// ListSessions delegates to ListSessionsFn.
func (p *Persistence) ListSessions(ctx context.Context) ([]ragent.Session, error) {
	return p.ListSessionsFn(ctx)
}

// ListMessages delegates to ListMessagesFn.
func (p *Persistence) ListMessages(ctx context.Context, conversationID string) ([]ragent.Message, error) {
	return p.ListMessagesFn(ctx, conversationID)
}

// RenameSession delegates to RenameSessionFn.
func (p *Persistence) RenameSession(ctx context.Context, conversationID, title string) error {
	return p.RenameSessionFn(ctx, conversationID, title)
}

// DeleteSession delegates to DeleteSessionFn.
func (p *Persistence) DeleteSession(ctx context.Context, conversationID string) error {
	return p.DeleteSessionFn(ctx, conversationID)
}
