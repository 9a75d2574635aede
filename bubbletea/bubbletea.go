// Package bubbletea provides a Bubble Tea TUI for ragent conversations.
package bubbletea

import (
	"context"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/nageoffer/ragent"
	"github.com/nageoffer/ragent/chat"
)

// SubmitFunc streams one reply. The onEvent callback is called for each
// applied event. The function blocks until the reply completes, fails or is
// cancelled.
type SubmitFunc func(ctx context.Context, req ragent.ChatRequest, onEvent func(ragent.Event)) (chat.Reply, error)

// Backend is what the TUI drives. Session reads the authoritative
// conversation state; the TUI never mutates it directly.
type Backend struct {
	Submit  SubmitFunc
	Cancel  func(conversationID string) error
	Vote    func(ctx context.Context, messageID string, vote ragent.Feedback) error
	Session func(conversationID string) (ragent.Session, bool)
}

// Run creates and runs the Bubble Tea TUI program. It blocks until the program
// exits. The context is used for graceful shutdown: when cancelled, the
// program quits.
func Run(ctx context.Context, m Model, opts ...tea.ProgramOption) error {
	opts = append([]tea.ProgramOption{tea.WithAltScreen()}, opts...)
	p := tea.NewProgram(m, opts...)
	go func() {
		<-ctx.Done()
		p.Quit()
	}()
	_, err := p.Run()
	return err
}

// StreamEventMsg wraps a streaming event for delivery to the Bubble Tea model.
type StreamEventMsg struct {
	Event ragent.Event
}

// ReplyDoneMsg signals that a submitted reply has finished.
type ReplyDoneMsg struct {
	Reply chat.Reply
	Err   error
}

// VoteDoneMsg signals that a feedback vote has been synced or rolled back.
type VoteDoneMsg struct {
	MessageID string
	Err       error
}

// noticeExpiredMsg clears a transient notice unless a newer one replaced it.
type noticeExpiredMsg struct {
	seq int
}
