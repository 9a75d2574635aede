// Package chat drives live replies: it consumes reply streams into the
// session store, cancels them, and records feedback votes.
package chat

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nageoffer/ragent"
	"github.com/nageoffer/ragent/session"
	"go.uber.org/zap"
)

// stopTimeout bounds the fire-and-forget stop request.
const stopTimeout = 10 * time.Second

// Reply summarizes a finished Submit.
type Reply struct {
	ConversationID string
	TaskID         string
	MessageID      string
	Status         ragent.Status
}

// Option configures a Controller.
type Option func(*Controller)

// WithLogger sets the logger. The default discards everything.
func WithLogger(l *zap.Logger) Option {
	return func(c *Controller) { c.logger = l }
}

// WithIdleTimeout fails a reply when no event arrives for d.
// Zero, the default, lets a stalled stream stay open until cancelled.
func WithIdleTimeout(d time.Duration) Option {
	return func(c *Controller) { c.idleTimeout = d }
}

// SubmitOption configures a single Submit invocation.
type SubmitOption func(*submitConfig)

type submitConfig struct {
	onEvent func(ragent.Event)
}

// WithEventHandler sets a callback that receives each event after it has
// been applied to the store. Stale events are not delivered.
func WithEventHandler(h func(ragent.Event)) SubmitOption {
	return func(c *submitConfig) { c.onEvent = h }
}

// run is one active stream consumer.
type run struct {
	taskID string
	cancel context.CancelFunc
}

// Controller owns the lifecycle of reply streams: one per submitted prompt,
// at most one per conversation.
type Controller struct {
	transport   ragent.Transport
	store       *session.Store
	tasks       *session.Registry
	logger      *zap.Logger
	idleTimeout time.Duration

	// mu makes task registration, message creation and binding one step,
	// and serializes it against Cancel.
	mu   sync.Mutex
	runs map[string]run // keyed by conversation ID

	stops sync.WaitGroup
}

// NewController creates a Controller that streams through transport into store.
func NewController(transport ragent.Transport, store *session.Store, opts ...Option) *Controller {
	c := &Controller{
		transport: transport,
		store:     store,
		tasks:     store.Tasks(),
		logger:    zap.NewNop(),
		runs:      make(map[string]run),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Submit sends req and consumes its reply stream until completion, failure
// or cancellation, applying events to the store in arrival order. It blocks
// for the lifetime of the stream.
//
// A cancelled reply is not an error: the returned Reply has
// StatusCancelled. A stream that ends without completing returns an error
// wrapping ErrChannelTerminated (or ErrStreamStalled) alongside the Reply.
func (c *Controller) Submit(ctx context.Context, req ragent.ChatRequest, opts ...SubmitOption) (Reply, error) {
	var cfg submitConfig
	for _, o := range opts {
		o(&cfg)
	}
	if err := req.Validate(); err != nil {
		return Reply{}, err
	}
	if req.ConversationID != "" {
		if _, busy := c.tasks.Current(req.ConversationID); busy {
			return Reply{}, fmt.Errorf("conversation %s: %w", req.ConversationID, ragent.ErrConcurrentStreamRejected)
		}
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	stream, err := c.transport.Stream(ctx, req)
	if err != nil {
		return Reply{}, fmt.Errorf("open stream: %w", err)
	}
	defer stream.Close()

	var stalled atomic.Bool
	idle := c.startIdleTimer(&stalled, cancel)
	defer idle.stop()

	first, err := stream.Next()
	if err != nil {
		return Reply{}, c.openError(err, &stalled)
	}
	meta, ok := first.(ragent.EventMeta)
	if !ok {
		return Reply{}, fmt.Errorf("first event is %T, want meta: %w", first, ragent.ErrChannelTerminated)
	}
	idle.reset()

	reply, err := c.begin(req, meta, cancel)
	if err != nil {
		return Reply{}, err
	}
	defer c.release(reply.ConversationID, reply.TaskID)

	log := c.logger.With(
		zap.String("conversation", reply.ConversationID),
		zap.String("task", reply.TaskID),
	)
	log.Debug("stream started", zap.String("message", reply.MessageID))
	if cfg.onEvent != nil {
		cfg.onEvent(meta)
	}

	reply.MessageID, err = c.consume(stream, reply, &stalled, idle, log, cfg.onEvent)
	if msg, ok := c.store.Message(reply.MessageID); ok {
		reply.Status = msg.Status
	}
	return reply, err
}

// begin registers the task and creates the user message and pending reply
// in one step. No message is created when registration fails.
func (c *Controller) begin(req ragent.ChatRequest, meta ragent.EventMeta, cancel context.CancelFunc) (Reply, error) {
	conv, taskID := meta.ConversationID, meta.TaskID

	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.tasks.Register(conv, taskID); err != nil {
		if errors.Is(err, ragent.ErrAlreadyStreaming) {
			return Reply{}, fmt.Errorf("%w: %w", ragent.ErrConcurrentStreamRejected, err)
		}
		return Reply{}, err
	}
	if _, err := c.store.AppendUserMessage(conv, req.Question); err != nil {
		c.tasks.Retire(conv, taskID)
		return Reply{}, err
	}
	msgID, err := c.store.CreatePendingReply(conv, req.DeepThinking)
	if err != nil {
		c.tasks.Retire(conv, taskID)
		return Reply{}, err
	}
	c.tasks.Bind(conv, taskID, msgID)
	c.runs[conv] = run{taskID: taskID, cancel: cancel}

	return Reply{
		ConversationID: conv,
		TaskID:         taskID,
		MessageID:      msgID,
		Status:         ragent.StatusStreaming,
	}, nil
}

// consume applies events until the stream ends and returns the reply's
// final message id.
func (c *Controller) consume(stream ragent.Stream, r Reply, stalled *atomic.Bool, idle *idleTimer, log *zap.Logger, onEvent func(ragent.Event)) (string, error) {
	msgID := r.MessageID
	for {
		evt, err := stream.Next()
		if err != nil {
			return msgID, c.terminate(r.ConversationID, r.TaskID, msgID, err, stalled, log)
		}
		idle.reset()

		seq, current := c.tasks.Advance(r.ConversationID, r.TaskID)
		if !current {
			log.Debug("stale event discarded", zap.String("event", fmt.Sprintf("%T", evt)))
			return msgID, nil
		}

		switch e := evt.(type) {
		case ragent.EventThinkingDelta:
			if !c.store.ApplyThinkingDelta(msgID, r.TaskID, e.Delta) {
				log.Debug("stale event discarded", zap.Uint64("seq", seq))
				continue
			}
		case ragent.EventAnswerDelta:
			if !c.store.ApplyAnswerDelta(msgID, r.TaskID, e.Delta) {
				log.Debug("stale event discarded", zap.Uint64("seq", seq))
				continue
			}
		case ragent.EventComplete:
			finalID, done := c.store.Complete(msgID, r.TaskID, session.Completion{MessageID: e.MessageID, Title: e.Title})
			c.tasks.Retire(r.ConversationID, r.TaskID)
			if !done {
				log.Debug("stale completion discarded", zap.Uint64("seq", seq))
				return msgID, nil
			}
			msgID = finalID
			log.Debug("stream completed", zap.Uint64("seq", seq), zap.String("message", msgID))
			if onEvent != nil {
				onEvent(evt)
			}
			return msgID, nil
		default:
			log.Warn("unexpected event ignored", zap.String("event", fmt.Sprintf("%T", evt)), zap.Uint64("seq", seq))
			continue
		}
		if onEvent != nil {
			onEvent(evt)
		}
	}
}

// terminate handles a stream that ended without a completion event. A
// locally cancelled task is already retired, so Fail is a no-op for it.
func (c *Controller) terminate(conv, taskID, msgID string, cause error, stalled *atomic.Bool, log *zap.Logger) error {
	if !stalled.Load() && errors.Is(cause, context.Canceled) {
		// The caller abandoned the reply; treat it as a user cancel. A task
		// already cancelled and replaced must not touch its successor.
		c.cancelTask(conv, taskID)
		return nil
	}

	var err error
	switch {
	case stalled.Load():
		err = fmt.Errorf("no event within idle timeout: %w", ragent.ErrStreamStalled)
	case errors.Is(cause, io.EOF):
		err = fmt.Errorf("channel closed before completion: %w", ragent.ErrChannelTerminated)
	case errors.Is(cause, ragent.ErrChannelTerminated):
		err = cause
	default:
		err = fmt.Errorf("%w: %w", ragent.ErrChannelTerminated, cause)
	}
	failed := c.store.Fail(msgID, taskID, err)
	c.tasks.Retire(conv, taskID)
	if !failed {
		// Cancelled locally; the stream error is the consumer being closed.
		return nil
	}
	log.Warn("stream failed", zap.Error(err))
	return err
}

func (c *Controller) openError(err error, stalled *atomic.Bool) error {
	if stalled.Load() {
		return fmt.Errorf("no meta event within idle timeout: %w", ragent.ErrStreamStalled)
	}
	if errors.Is(err, io.EOF) {
		return fmt.Errorf("channel closed before meta: %w", ragent.ErrChannelTerminated)
	}
	return err
}

// release forgets the consumer once Submit returns.
func (c *Controller) release(conv, taskID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if r, ok := c.runs[conv]; ok && r.taskID == taskID {
		delete(c.runs, conv)
	}
}

// Cancel stops the conversation's active reply. Local state changes
// immediately: the message becomes cancelled, the task is retired and the
// stream consumer is closed. The server-side stop request is sent in the
// background and its failure is only logged. Cancelling a conversation with
// no active reply is a no-op.
func (c *Controller) Cancel(conversationID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	task, ok := c.tasks.Current(conversationID)
	if !ok {
		return nil
	}
	c.cancelLocked(task)
	return nil
}

// cancelTask cancels taskID only while it is still the conversation's
// current task.
func (c *Controller) cancelTask(conversationID, taskID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	task, ok := c.tasks.Current(conversationID)
	if !ok || task.ID != taskID {
		return
	}
	c.cancelLocked(task)
}

// cancelLocked must be called with c.mu held.
func (c *Controller) cancelLocked(task session.Task) {
	conversationID := task.ConversationID
	c.stopRemote(task)
	if !c.store.Cancel(task.MessageID, task.ID) {
		c.logger.Debug("cancel found no streaming message",
			zap.String("conversation", conversationID), zap.String("task", task.ID))
	}
	c.tasks.Retire(conversationID, task.ID)
	if r, ok := c.runs[conversationID]; ok && r.taskID == task.ID {
		r.cancel()
		delete(c.runs, conversationID)
	}
}

func (c *Controller) stopRemote(task session.Task) {
	c.stops.Add(1)
	go func() {
		defer c.stops.Done()
		ctx, cancel := context.WithTimeout(context.Background(), stopTimeout)
		defer cancel()
		if err := c.transport.StopTask(ctx, task.ID); err != nil {
			c.logger.Warn("stop request failed",
				zap.String("conversation", task.ConversationID),
				zap.String("task", task.ID),
				zap.Error(fmt.Errorf("%w: %w", ragent.ErrCancellationRequestFailed, err)))
		}
	}()
}

// Active reports whether the conversation has a reply streaming.
func (c *Controller) Active(conversationID string) bool {
	_, ok := c.tasks.Current(conversationID)
	return ok
}

// Wait blocks until background stop requests have finished.
func (c *Controller) Wait() {
	c.stops.Wait()
}

// idleTimer cancels the stream when no event arrives within the timeout.
// A nil *idleTimer is valid and does nothing.
type idleTimer struct {
	d time.Duration
	t *time.Timer
}

func (c *Controller) startIdleTimer(stalled *atomic.Bool, cancel context.CancelFunc) *idleTimer {
	if c.idleTimeout <= 0 {
		return nil
	}
	return &idleTimer{
		d: c.idleTimeout,
		t: time.AfterFunc(c.idleTimeout, func() {
			stalled.Store(true)
			cancel()
		}),
	}
}

func (t *idleTimer) reset() {
	if t == nil {
		return
	}
	t.t.Reset(t.d)
}

func (t *idleTimer) stop() {
	if t == nil {
		return
	}
	t.t.Stop()
}
