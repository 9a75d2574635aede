package bubbletea_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/nageoffer/ragent"
	bt "github.com/nageoffer/ragent/bubbletea"
	"github.com/nageoffer/ragent/chat"
	"github.com/nageoffer/ragent/session"
	"github.com/stretchr/testify/require"
)

// fakeBackend records calls and reads sessions from a real store.
type fakeBackend struct {
	store *session.Store

	mu        sync.Mutex
	cancelled []string
	votes     []ragent.Feedback
	voteErr   error
	seeded    int
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{store: session.NewStore(nil)}
}

func (f *fakeBackend) backend() bt.Backend {
	return bt.Backend{
		Submit: func(context.Context, ragent.ChatRequest, func(ragent.Event)) (chat.Reply, error) {
			return chat.Reply{}, nil
		},
		Cancel: func(conv string) error {
			f.mu.Lock()
			defer f.mu.Unlock()
			f.cancelled = append(f.cancelled, conv)
			return nil
		},
		Vote: func(_ context.Context, _ string, vote ragent.Feedback) error {
			f.mu.Lock()
			defer f.mu.Unlock()
			f.votes = append(f.votes, vote)
			return f.voteErr
		},
		Session: f.store.Session,
	}
}

// reply describes one exchange to stream into conversation c1.
type reply struct {
	question string
	thinking string
	answer   string
	deep     bool
	// finish ends the reply; nil completes it.
	finish func(store *session.Store, id, task string)
}

// seed streams r into conversation c1 and returns the reply id.
func (f *fakeBackend) seed(t *testing.T, r reply) string {
	t.Helper()
	f.mu.Lock()
	f.seeded++
	task := fmt.Sprintf("t%d", f.seeded)
	f.mu.Unlock()

	require.NoError(t, f.store.Tasks().Register("c1", task))
	_, err := f.store.AppendUserMessage("c1", r.question)
	require.NoError(t, err)
	id, err := f.store.CreatePendingReply("c1", r.deep)
	require.NoError(t, err)
	f.store.Tasks().Bind("c1", task, id)
	if r.thinking != "" {
		f.store.ApplyThinkingDelta(id, task, r.thinking)
	}
	if r.answer != "" {
		f.store.ApplyAnswerDelta(id, task, r.answer)
	}
	if r.finish != nil {
		r.finish(f.store, id, task)
	} else {
		f.store.Complete(id, task, session.Completion{})
	}
	f.store.Tasks().Retire("c1", task)
	return id
}

// initModel creates a model and sends a WindowSizeMsg to initialize the viewport.
func initModel(t *testing.T, b bt.Backend, conv string) bt.Model {
	t.Helper()
	return initModelWithSize(t, b, conv, 80, 24)
}

// initModelWithSize creates a model with a custom terminal size.
func initModelWithSize(t *testing.T, b bt.Backend, conv string, width, height int) bt.Model {
	t.Helper()
	m := bt.New(b, conv, ragent.DefaultTheme())
	return updateModel(t, m, tea.WindowSizeMsg{Width: width, Height: height})
}

// updateModel sends a message and returns the updated Model.
func updateModel(t *testing.T, m bt.Model, msg tea.Msg) bt.Model {
	t.Helper()
	updated, _ := m.Update(msg)
	model, ok := updated.(bt.Model)
	require.True(t, ok)
	return model
}

const waitTimeout = 5 * time.Second
