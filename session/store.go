// Package session holds the authoritative in-memory model of conversations
// and the registry of in-flight stream tasks.
//
// Store is the only legal way to change message or conversation state. Every
// streaming mutation names the task it comes from; the Store asks the
// Registry whether that task is still current and silently ignores events
// from superseded or cancelled tasks.
package session

import (
	"cmp"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nageoffer/ragent"
)

// Option configures a Store.
type Option func(*Store)

// WithClock sets the time source used for timestamps and thinking durations.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithIDGenerator sets the generator for locally created message ids.
func WithIDGenerator(gen func() string) Option {
	return func(s *Store) { s.newID = gen }
}

// Completion carries the optional fields of a completion event.
type Completion struct {
	MessageID string // persisted id; rewrites the local id when it differs
	Title     string // generated session title
}

type position struct {
	conversationID string
	index          int
}

// Store owns all Session and Message state. Reads return copies.
// Lock order is Store then Registry; the Registry never calls back.
type Store struct {
	mu    sync.Mutex
	tasks *Registry
	now   func() time.Time
	newID func() string

	sessions  map[string]*ragent.Session
	positions map[string]position // message ID -> location
	streaming map[string]string   // conversation ID -> streaming message ID
}

// NewStore creates an empty Store that consults tasks for event freshness.
// A nil registry gets a fresh one.
func NewStore(tasks *Registry, opts ...Option) *Store {
	if tasks == nil {
		tasks = NewRegistry()
	}
	s := &Store{
		tasks:     tasks,
		now:       time.Now,
		newID:     uuid.NewString,
		sessions:  make(map[string]*ragent.Session),
		positions: make(map[string]position),
		streaming: make(map[string]string),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Tasks returns the registry the Store consults.
func (s *Store) Tasks() *Registry { return s.tasks }

// EnsureSession returns the conversation, creating an empty one if needed.
func (s *Store) EnsureSession(conversationID string) ragent.Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ensureLocked(conversationID).Clone()
}

// Load merges sessions listed by persistence. Titles and activity times are
// refreshed; messages are replaced only when provided and the conversation
// has no reply streaming.
func (s *Store) Load(sessions ...ragent.Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, in := range sessions {
		sess := s.ensureLocked(in.ID)
		sess.Title = in.Title
		if !in.LastTime.IsZero() {
			sess.LastTime = in.LastTime
		}
		if in.Messages != nil && s.streaming[in.ID] == "" {
			s.replaceMessagesLocked(sess, in.Messages)
		}
	}
}

// SetMessages replaces a conversation's messages with a persisted history.
// Loaded messages are terminal: a missing status is treated as done.
func (s *Store) SetMessages(conversationID string, msgs []ragent.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.streaming[conversationID] != "" {
		return fmt.Errorf("conversation %s is streaming: %w", conversationID, ragent.ErrInvalidState)
	}
	s.replaceMessagesLocked(s.ensureLocked(conversationID), msgs)
	return nil
}

// AppendUserMessage appends the user's own prompt, already done.
func (s *Store) AppendUserMessage(conversationID, content string) (string, error) {
	if conversationID == "" {
		return "", fmt.Errorf("append user message: conversation id required: %w", ragent.ErrValidation)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	return s.appendLocked(conversationID, ragent.Message{
		ID:        s.newID(),
		Role:      ragent.RoleUser,
		Content:   content,
		CreatedAt: now,
		Status:    ragent.StatusDone,
	}), nil
}

// CreatePendingReply appends an assistant message in streaming status and
// returns its id. It fails with ErrInvalidState if the conversation already
// has a streaming message.
func (s *Store) CreatePendingReply(conversationID string, isDeepThinking bool) (string, error) {
	if conversationID == "" {
		return "", fmt.Errorf("create pending reply: conversation id required: %w", ragent.ErrValidation)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if id := s.streaming[conversationID]; id != "" {
		return "", fmt.Errorf("conversation %s already streaming message %s: %w", conversationID, id, ragent.ErrInvalidState)
	}
	id := s.appendLocked(conversationID, ragent.Message{
		ID:             s.newID(),
		Role:           ragent.RoleAssistant,
		IsDeepThinking: isDeepThinking,
		IsThinking:     isDeepThinking,
		CreatedAt:      s.now(),
		Status:         ragent.StatusStreaming,
	})
	s.streaming[conversationID] = id
	return id, nil
}

// ApplyThinkingDelta appends text to the reply's reasoning. Thinking deltas
// never reopen a closed thinking phase. It reports false for stale events.
func (s *Store) ApplyThinkingDelta(messageID, taskID, text string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	msg := s.liveLocked(messageID, taskID)
	if msg == nil {
		return false
	}
	msg.Thinking += text
	return true
}

// ApplyAnswerDelta appends text to the reply's content, first closing the
// thinking phase if it is still open. It reports false for stale events.
func (s *Store) ApplyAnswerDelta(messageID, taskID, text string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	msg := s.liveLocked(messageID, taskID)
	if msg == nil {
		return false
	}
	s.closeThinkingLocked(msg, true)
	msg.Content += text
	return true
}

// Complete marks the reply done and returns its final id. A thinking phase
// that never saw an answer delta is closed here. When c carries a different
// persisted id the message is renamed in place, unless that id already
// names another message. It reports false for stale events.
func (s *Store) Complete(messageID, taskID string, c Completion) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	msg := s.liveLocked(messageID, taskID)
	if msg == nil {
		return messageID, false
	}
	s.closeThinkingLocked(msg, true)
	msg.Status = ragent.StatusDone
	conv := msg.ConversationID
	delete(s.streaming, conv)

	if c.MessageID != "" && c.MessageID != msg.ID {
		if _, taken := s.positions[c.MessageID]; !taken {
			pos := s.positions[msg.ID]
			delete(s.positions, msg.ID)
			s.positions[c.MessageID] = pos
			msg.ID = c.MessageID
			s.tasks.Bind(conv, taskID, c.MessageID)
		}
	}
	if c.Title != "" {
		s.sessions[conv].Title = c.Title
	}
	return msg.ID, true
}

// Cancel marks the reply cancelled, freezing content and thinking as they
// are. Cancelling a terminal message is a no-op, not an error.
func (s *Store) Cancel(messageID, taskID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	msg := s.liveLocked(messageID, taskID)
	if msg == nil {
		return false
	}
	s.closeThinkingLocked(msg, false)
	msg.Status = ragent.StatusCancelled
	delete(s.streaming, msg.ConversationID)
	return true
}

// Fail marks the reply as errored, keeping partial output.
func (s *Store) Fail(messageID, taskID string, cause error) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	msg := s.liveLocked(messageID, taskID)
	if msg == nil {
		return false
	}
	s.closeThinkingLocked(msg, false)
	msg.Status = ragent.StatusError
	if cause != nil {
		msg.Error = cause.Error()
	}
	delete(s.streaming, msg.ConversationID)
	return true
}

// SetFeedback sets the vote on an assistant message regardless of its
// status. FeedbackNone clears it.
func (s *Store) SetFeedback(messageID string, vote ragent.Feedback) error {
	if vote != ragent.FeedbackNone && !vote.Valid() {
		return fmt.Errorf("feedback %q: %w", vote, ragent.ErrValidation)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	msg, err := s.assistantLocked(messageID)
	if err != nil {
		return err
	}
	msg.Feedback = vote
	return nil
}

// Feedback returns the vote currently set on an assistant message.
func (s *Store) Feedback(messageID string) (ragent.Feedback, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	msg, err := s.assistantLocked(messageID)
	if err != nil {
		return ragent.FeedbackNone, err
	}
	return msg.Feedback, nil
}

// Rename sets a conversation's title.
func (s *Store) Rename(conversationID, title string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[conversationID]
	if !ok {
		return fmt.Errorf("conversation %s: %w", conversationID, ragent.ErrNotFound)
	}
	sess.Title = title
	return nil
}

// Remove drops a conversation. It is refused while a reply is streaming or
// a task is registered.
func (s *Store) Remove(conversationID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[conversationID]
	if !ok {
		return fmt.Errorf("conversation %s: %w", conversationID, ragent.ErrNotFound)
	}
	if _, busy := s.tasks.Current(conversationID); busy || s.streaming[conversationID] != "" {
		return fmt.Errorf("conversation %s is streaming: %w", conversationID, ragent.ErrInvalidState)
	}
	for _, m := range sess.Messages {
		delete(s.positions, m.ID)
	}
	delete(s.sessions, conversationID)
	return nil
}

// Session returns a copy of one conversation.
func (s *Store) Session(conversationID string) (ragent.Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[conversationID]
	if !ok {
		return ragent.Session{}, false
	}
	return sess.Clone(), true
}

// Sessions returns copies of all conversations, most recently active first.
func (s *Store) Sessions() []ragent.Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]ragent.Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		out = append(out, sess.Clone())
	}
	slices.SortFunc(out, func(a, b ragent.Session) int {
		if c := b.LastTime.Compare(a.LastTime); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return out
}

// Message returns a copy of one message.
func (s *Store) Message(messageID string) (ragent.Message, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	msg := s.messageLocked(messageID)
	if msg == nil {
		return ragent.Message{}, false
	}
	return *msg, true
}

func (s *Store) ensureLocked(conversationID string) *ragent.Session {
	sess, ok := s.sessions[conversationID]
	if !ok {
		sess = &ragent.Session{ID: conversationID, LastTime: s.now()}
		s.sessions[conversationID] = sess
	}
	return sess
}

// appendLocked is the only path that bumps LastTime.
func (s *Store) appendLocked(conversationID string, msg ragent.Message) string {
	sess := s.ensureLocked(conversationID)
	msg.ConversationID = conversationID
	s.positions[msg.ID] = position{conversationID: conversationID, index: len(sess.Messages)}
	sess.Messages = append(sess.Messages, msg)
	sess.LastTime = msg.CreatedAt
	return msg.ID
}

func (s *Store) replaceMessagesLocked(sess *ragent.Session, msgs []ragent.Message) {
	for _, m := range sess.Messages {
		delete(s.positions, m.ID)
	}
	sess.Messages = make([]ragent.Message, len(msgs))
	for i, m := range msgs {
		m.ConversationID = sess.ID
		m.IsThinking = false
		if m.Status == "" || m.Status == ragent.StatusStreaming {
			m.Status = ragent.StatusDone
		}
		sess.Messages[i] = m
		s.positions[m.ID] = position{conversationID: sess.ID, index: i}
	}
}

func (s *Store) messageLocked(messageID string) *ragent.Message {
	pos, ok := s.positions[messageID]
	if !ok {
		return nil
	}
	sess, ok := s.sessions[pos.conversationID]
	if !ok || pos.index >= len(sess.Messages) {
		return nil
	}
	return &sess.Messages[pos.index]
}

// liveLocked returns the message only if it is streaming and taskID is the
// registered task populating it.
func (s *Store) liveLocked(messageID, taskID string) *ragent.Message {
	msg := s.messageLocked(messageID)
	if msg == nil || msg.Status != ragent.StatusStreaming {
		return nil
	}
	task, ok := s.tasks.Current(msg.ConversationID)
	if !ok || task.ID != taskID {
		return nil
	}
	if task.MessageID != "" && task.MessageID != messageID {
		return nil
	}
	return msg
}

func (s *Store) assistantLocked(messageID string) (*ragent.Message, error) {
	msg := s.messageLocked(messageID)
	if msg == nil {
		return nil, fmt.Errorf("message %s: %w", messageID, ragent.ErrNotFound)
	}
	if msg.Role != ragent.RoleAssistant {
		return nil, fmt.Errorf("message %s has role %s: %w", messageID, msg.Role, ragent.ErrInvalidState)
	}
	return msg, nil
}

// closeThinkingLocked ends an open thinking phase. The duration is recorded
// only when the phase ends normally (answer begins or reply completes).
func (s *Store) closeThinkingLocked(msg *ragent.Message, recordDuration bool) {
	if !msg.IsThinking {
		return
	}
	msg.IsThinking = false
	if recordDuration {
		msg.ThinkingDuration = s.now().Sub(msg.CreatedAt)
	}
}
