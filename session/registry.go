package session

import (
	"fmt"
	"sync"

	"github.com/nageoffer/ragent"
)

// Task is the single outstanding stream for a conversation.
//
// Seq counts the events accepted for the task so far. It is diagnostic only;
// staleness is decided by task identity, not by Seq.
type Task struct {
	ID             string
	ConversationID string
	MessageID      string
	Seq            uint64
}

// Registry tracks at most one registered task per conversation. It is the
// authority on whether an inbound event is still current.
type Registry struct {
	mu    sync.Mutex
	tasks map[string]*Task // keyed by conversation ID
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{tasks: make(map[string]*Task)}
}

// Register records taskID as the conversation's active task. It fails with
// ErrAlreadyStreaming when another task is already registered; callers must
// cancel or await completion first.
func (r *Registry) Register(conversationID, taskID string) error {
	if conversationID == "" || taskID == "" {
		return fmt.Errorf("register: conversation and task ids required: %w", ragent.ErrValidation)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.tasks[conversationID]; ok {
		return fmt.Errorf("conversation %s has task %s: %w", conversationID, cur.ID, ragent.ErrAlreadyStreaming)
	}
	r.tasks[conversationID] = &Task{ID: taskID, ConversationID: conversationID}
	return nil
}

// Bind records the message a registered task populates.
// It reports false if the task is no longer current.
func (r *Registry) Bind(conversationID, taskID, messageID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	t := r.lookup(conversationID, taskID)
	if t == nil {
		return false
	}
	t.MessageID = messageID
	return true
}

// IsCurrent reports whether taskID is the conversation's registered task.
func (r *Registry) IsCurrent(conversationID, taskID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lookup(conversationID, taskID) != nil
}

// Advance counts one more accepted event for the task and returns the count.
// It reports false, leaving nothing changed, if the task is not current.
func (r *Registry) Advance(conversationID, taskID string) (uint64, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t := r.lookup(conversationID, taskID)
	if t == nil {
		return 0, false
	}
	t.Seq++
	return t.Seq, true
}

// Current returns a copy of the conversation's registered task.
func (r *Registry) Current(conversationID string) (Task, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tasks[conversationID]
	if !ok {
		return Task{}, false
	}
	return *t, true
}

// Retire clears the registration if it matches. Retiring a non-matching or
// already cleared pair is a no-op and reports false.
func (r *Registry) Retire(conversationID, taskID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.lookup(conversationID, taskID) == nil {
		return false
	}
	delete(r.tasks, conversationID)
	return true
}

// Active returns the number of registered tasks.
func (r *Registry) Active() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.tasks)
}

func (r *Registry) lookup(conversationID, taskID string) *Task {
	t, ok := r.tasks[conversationID]
	if !ok || t.ID != taskID {
		return nil
	}
	return t
}
