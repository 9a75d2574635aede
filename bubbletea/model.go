package bubbletea

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/nageoffer/ragent"
	"github.com/nageoffer/ragent/goldmark"
)

// noticeTTL is how long a transient notice stays in the status line.
const noticeTTL = 3 * time.Second

var _ tea.Model = Model{}

// Model is the Bubble Tea model for the ragent TUI.
type Model struct {
	// Input is the text input component. Exported for test access.
	Input textinput.Model
	// Viewport is the scrollable output area. Exported for test access.
	Viewport viewport.Model
	// Spinner animates the status line while a reply streams.
	Spinner spinner.Model

	backend Backend
	styles  Styles
	md      *goldmark.Renderer

	conversationID string
	deepThinking   bool
	showThinking   bool

	// answers caches rendered answers by message id across re-renders.
	answers map[string]*AssistantTextBlock
	// pending is the submitted prompt until the store records it.
	pending string

	running bool
	cancel  context.CancelFunc
	eventCh chan ragent.Event
	doneCh  chan ReplyDoneMsg

	err       error
	notice    string
	noticeSeq int
	ready     bool
}

// New creates a TUI Model for conversationID. An empty id starts a new
// conversation whose id is assigned by the first reply.
func New(backend Backend, conversationID string, theme ragent.Theme) Model {
	ti := textinput.New()
	ti.Placeholder = "Ask a question..."
	ti.Prompt = ""
	ti.Focus()
	ti.CharLimit = 0

	return Model{
		Input:          ti,
		Spinner:        spinner.New(spinner.WithSpinner(spinner.Dot)),
		backend:        backend,
		styles:         NewStyles(theme),
		md:             goldmark.New(theme),
		conversationID: conversationID,
		answers:        make(map[string]*AssistantTextBlock),
	}
}

// Running returns whether a reply is currently streaming.
func (m Model) Running() bool { return m.running }

// Err returns the last error, if any.
func (m Model) Err() error { return m.err }

// ConversationID returns the conversation the model shows.
func (m Model) ConversationID() string { return m.conversationID }

// DeepThinking reports whether the next prompt requests deep thinking.
func (m Model) DeepThinking() bool { return m.deepThinking }

// Notice returns the transient status notice, if any.
func (m Model) Notice() string { return m.notice }

// Init implements tea.Model.
func (m Model) Init() tea.Cmd {
	return textinput.Blink
}

// Update implements tea.Model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		return m.handleWindowSize(msg), nil

	case tea.KeyMsg:
		return m.handleKey(msg)

	case StreamEventMsg:
		if meta, ok := msg.Event.(ragent.EventMeta); ok {
			m.conversationID = meta.ConversationID
			m.pending = ""
		}
		m = m.refresh()
		if m.eventCh != nil {
			return m, listenForEvent(m.eventCh, m.doneCh)
		}
		return m, nil

	case ReplyDoneMsg:
		return m.handleReplyDone(msg)

	case VoteDoneMsg:
		m = m.refresh()
		if msg.Err != nil {
			return m.setNotice("Feedback not saved")
		}
		return m, nil

	case noticeExpiredMsg:
		if msg.seq == m.noticeSeq {
			m.notice = ""
		}
		return m, nil

	case spinner.TickMsg:
		if !m.running {
			return m, nil
		}
		var cmd tea.Cmd
		m.Spinner, cmd = m.Spinner.Update(msg)
		return m, cmd
	}

	// Pass remaining messages to sub-components.
	var cmds []tea.Cmd
	var cmd tea.Cmd
	m.Viewport, cmd = m.Viewport.Update(msg)
	cmds = append(cmds, cmd)
	if !m.running {
		m.Input, cmd = m.Input.Update(msg)
		cmds = append(cmds, cmd)
	}
	return m, tea.Batch(cmds...)
}

// View implements tea.Model.
func (m Model) View() string {
	if !m.ready {
		return "Initializing..."
	}
	var b strings.Builder
	b.WriteString(m.Viewport.View())
	b.WriteString("\n")
	b.WriteString(m.statusLine())
	b.WriteString("\n")
	b.WriteString(m.Input.View())
	return b.String()
}

func (m Model) handleWindowSize(msg tea.WindowSizeMsg) Model {
	inputHeight := 1
	statusHeight := 1
	borderHeight := 2 // newlines between sections
	vpHeight := max(msg.Height-inputHeight-statusHeight-borderHeight, 1)

	if !m.ready {
		m.Viewport = viewport.New(msg.Width, vpHeight)
		m.ready = true
	} else {
		m.Viewport.Width = msg.Width
		m.Viewport.Height = vpHeight
	}
	m.Input.Width = msg.Width
	return m.refresh()
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.Type {
	case tea.KeyCtrlC:
		if m.running {
			return m.stop(), nil
		}
		return m, tea.Quit

	case tea.KeyEnter:
		text := strings.TrimSpace(m.Input.Value())
		if text == "" {
			return m, nil
		}
		if m.running {
			return m.setNotice(ragent.ErrConcurrentStreamRejected.Error())
		}
		return m.submit(text)

	case tea.KeyTab:
		m.showThinking = !m.showThinking
		return m.refresh(), nil

	case tea.KeyCtrlT:
		m.deepThinking = !m.deepThinking
		return m, nil

	case tea.KeyCtrlG:
		return m.vote(ragent.FeedbackLike)

	case tea.KeyCtrlB:
		return m.vote(ragent.FeedbackDislike)
	}

	// Non-character keys scroll the viewport; characters go to the input
	// while idle.
	var cmds []tea.Cmd
	var cmd tea.Cmd
	if msg.Type != tea.KeyRunes {
		m.Viewport, cmd = m.Viewport.Update(msg)
		cmds = append(cmds, cmd)
	}
	if !m.running {
		m.Input, cmd = m.Input.Update(msg)
		cmds = append(cmds, cmd)
	}
	return m, tea.Batch(cmds...)
}

func (m Model) submit(text string) (tea.Model, tea.Cmd) {
	m.Input.SetValue("")
	m.Input.Blur()
	m.err = nil
	m.pending = text

	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	m.eventCh = make(chan ragent.Event, 256)
	m.doneCh = make(chan ReplyDoneMsg, 1)
	m.running = true
	m = m.refresh()

	req := ragent.ChatRequest{
		ConversationID: m.conversationID,
		Question:       text,
		DeepThinking:   m.deepThinking,
	}
	return m, tea.Batch(
		startSubmit(m.backend.Submit, ctx, req, m.eventCh, m.doneCh),
		listenForEvent(m.eventCh, m.doneCh),
		m.Spinner.Tick,
	)
}

// stop cancels the running reply. Before the conversation is known the
// request itself is abandoned.
func (m Model) stop() Model {
	if m.conversationID != "" && m.backend.Cancel != nil {
		if err := m.backend.Cancel(m.conversationID); err != nil {
			m.err = err
		}
	}
	if m.cancel != nil {
		m.cancel()
	}
	return m
}

func (m Model) handleReplyDone(msg ReplyDoneMsg) (tea.Model, tea.Cmd) {
	m.running = false
	m.cancel = nil
	m.eventCh = nil
	m.doneCh = nil
	m.pending = ""
	if msg.Reply.ConversationID != "" {
		m.conversationID = msg.Reply.ConversationID
	}
	m = m.refresh()
	focus := m.Input.Focus()

	switch {
	case msg.Err == nil, errors.Is(msg.Err, context.Canceled):
	case errors.Is(msg.Err, ragent.ErrConcurrentStreamRejected):
		next, cmd := m.setNotice(ragent.ErrConcurrentStreamRejected.Error())
		return next, tea.Batch(focus, cmd)
	default:
		m.err = msg.Err
	}
	return m, focus
}

// vote rates the latest finished reply.
func (m Model) vote(f ragent.Feedback) (tea.Model, tea.Cmd) {
	if m.backend.Vote == nil {
		return m, nil
	}
	id := m.lastReplyID()
	if id == "" {
		return m.setNotice("No reply to rate")
	}
	vote := m.backend.Vote
	return m, func() tea.Msg {
		return VoteDoneMsg{MessageID: id, Err: vote(context.Background(), id, f)}
	}
}

func (m Model) lastReplyID() string {
	sess, ok := m.session()
	if !ok {
		return ""
	}
	for i := len(sess.Messages) - 1; i >= 0; i-- {
		msg := sess.Messages[i]
		if msg.Role == ragent.RoleAssistant && msg.Status.Terminal() {
			return msg.ID
		}
	}
	return ""
}

func (m Model) setNotice(text string) (Model, tea.Cmd) {
	m.noticeSeq++
	m.notice = text
	seq := m.noticeSeq
	return m, tea.Tick(noticeTTL, func(time.Time) tea.Msg { return noticeExpiredMsg{seq: seq} })
}

func (m Model) session() (ragent.Session, bool) {
	if m.conversationID == "" || m.backend.Session == nil {
		return ragent.Session{}, false
	}
	return m.backend.Session(m.conversationID)
}

// refresh re-renders the conversation from the store and scrolls to the end.
func (m Model) refresh() Model {
	if !m.ready {
		return m
	}
	m.Viewport.SetContent(m.renderContent())
	m.Viewport.GotoBottom()
	return m
}

func (m Model) blocks() []MessageBlock {
	var blocks []MessageBlock
	sess, _ := m.session()
	for _, msg := range sess.Messages {
		switch msg.Role {
		case ragent.RoleUser:
			blocks = append(blocks, NewUserMessageBlock(msg.Content, m.styles))
		case ragent.RoleAssistant:
			if msg.IsDeepThinking || msg.Thinking != "" {
				blocks = append(blocks, NewThinkingBlock(msg, !m.showThinking, m.styles))
			}
			answer, ok := m.answers[msg.ID]
			if !ok {
				answer = NewAssistantTextBlock(m.md, m.styles)
				m.answers[msg.ID] = answer
			}
			answer.Sync(msg)
			blocks = append(blocks, answer)
			if msg.Status == ragent.StatusError {
				blocks = append(blocks, NewErrorBlock(msg.Error, m.styles))
			}
		}
	}
	if m.pending != "" {
		blocks = append(blocks, NewUserMessageBlock(m.pending, m.styles))
	}
	return blocks
}

func (m Model) renderContent() string {
	var b strings.Builder
	var prev MessageBlock
	for _, block := range m.blocks() {
		view := block.View(m.Viewport.Width)
		if view == "" {
			continue
		}
		if prev != nil {
			b.WriteString(blockSeparator(prev, block))
		}
		b.WriteString(view)
		prev = block
	}
	return b.String()
}

func (m Model) statusLine() string {
	switch {
	case m.notice != "":
		return m.styles.Accent.Render(m.notice)
	case m.err != nil:
		return m.styles.Error.Render(fmt.Sprintf("Error: %v", m.err))
	case m.running:
		return m.Spinner.View() + m.styles.Muted.Render("Generating... Ctrl+C to stop")
	}
	deep := "off"
	if m.deepThinking {
		deep = "on"
	}
	return m.styles.Muted.Render(fmt.Sprintf(
		"Enter to send, Tab thinking, Ctrl+T deep thinking (%s), Ctrl+G/Ctrl+B rate, Ctrl+C to quit", deep))
}

// startSubmit runs the reply in a goroutine and signals completion.
func startSubmit(submit SubmitFunc, ctx context.Context, req ragent.ChatRequest, eventCh chan<- ragent.Event, doneCh chan<- ReplyDoneMsg) tea.Cmd {
	return func() tea.Msg {
		reply, err := submit(ctx, req, func(e ragent.Event) {
			select {
			case eventCh <- e:
			case <-ctx.Done():
			}
		})
		close(eventCh)
		doneCh <- ReplyDoneMsg{Reply: reply, Err: err}
		return nil
	}
}

// listenForEvent waits for the next event from the channel.
// When the channel closes, it reads the result from doneCh.
func listenForEvent(ch <-chan ragent.Event, doneCh <-chan ReplyDoneMsg) tea.Cmd {
	return func() tea.Msg {
		evt, ok := <-ch
		if !ok {
			return <-doneCh
		}
		return StreamEventMsg{Event: evt}
	}
}
