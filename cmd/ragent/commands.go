package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/nageoffer/ragent"
	bt "github.com/nageoffer/ragent/bubbletea"
	"github.com/nageoffer/ragent/chat"
	"github.com/nageoffer/ragent/goldmark"
	ragentjson "github.com/nageoffer/ragent/json"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

const timeLayout = "2006-01-02 15:04"

func newChatCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "chat [conversation-id]",
		Short: "Open the interactive chat, optionally resuming a conversation",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var conv string
			if len(args) == 1 {
				conv = args[0]
			}
			return runChat(cmd, a, conv)
		},
	}
}

func runChat(cmd *cobra.Command, a *app, conv string) error {
	ctx := cmd.Context()
	if conv != "" {
		if err := a.openConversation(ctx, conv); err != nil {
			return err
		}
	}
	backend := bt.Backend{
		Submit: func(ctx context.Context, req ragent.ChatRequest, onEvent func(ragent.Event)) (chat.Reply, error) {
			return a.controller.Submit(ctx, req, chat.WithEventHandler(onEvent))
		},
		Cancel:  a.controller.Cancel,
		Vote:    a.recorder.Vote,
		Session: a.store.Session,
	}
	if err := bt.Run(ctx, bt.New(backend, conv, ragent.DefaultTheme())); err != nil {
		return fmt.Errorf("TUI: %w", err)
	}
	return nil
}

// openConversation loads a conversation's title and messages into the store.
func (a *app) openConversation(ctx context.Context, conv string) error {
	if _, err := a.history.Refresh(ctx); err != nil {
		return err
	}
	if _, ok := a.store.Session(conv); !ok {
		return fmt.Errorf("conversation %s: %w", conv, ragent.ErrNotFound)
	}
	return a.history.Open(ctx, conv)
}

func newAskCmd(a *app) *cobra.Command {
	var (
		conv         string
		deep         bool
		showThinking bool
	)
	cmd := &cobra.Command{
		Use:   "ask <question>",
		Short: "Stream one answer to stdout (Ctrl+C stops it)",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := ragent.ChatRequest{
				ConversationID: conv,
				Question:       strings.Join(args, " "),
				DeepThinking:   deep,
			}
			return runAsk(cmd.Context(), a, req, showThinking, cmd.OutOrStdout(), cmd.ErrOrStderr())
		},
	}
	cmd.Flags().StringVarP(&conv, "conversation", "c", "", "Continue this conversation")
	cmd.Flags().BoolVarP(&deep, "deep", "d", false, "Request deep thinking")
	cmd.Flags().BoolVar(&showThinking, "show-thinking", false, "Print thinking to stderr")
	return cmd
}

func runAsk(ctx context.Context, a *app, req ragent.ChatRequest, showThinking bool, stdout, stderr io.Writer) error {
	onEvent := func(e ragent.Event) {
		switch e := e.(type) {
		case ragent.EventThinkingDelta:
			if showThinking {
				fmt.Fprint(stderr, e.Delta)
			}
		case ragent.EventAnswerDelta:
			fmt.Fprint(stdout, e.Delta)
		}
	}
	reply, err := a.controller.Submit(ctx, req, chat.WithEventHandler(onEvent))
	fmt.Fprintln(stdout)
	if err != nil {
		return err
	}
	if reply.Status == ragent.StatusCancelled {
		fmt.Fprintln(stderr, "[stopped]")
	}
	fmt.Fprintf(stderr, "conversation: %s\n", reply.ConversationID)
	return nil
}

func newLoginCmd(a *app) *cobra.Command {
	var username, password string
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Log in and save the session token to the config file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if password == "" {
				p, err := readPassword(cmd.InOrStdin(), cmd.ErrOrStderr())
				if err != nil {
					return err
				}
				password = p
			}
			user, err := a.client.Login(cmd.Context(), username, password)
			if err != nil {
				return fmt.Errorf("login: %w", err)
			}
			a.config.Token = user.Token
			if err := a.config.Save(a.configPath); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Logged in as %s\n", user.Username)
			return nil
		},
	}
	cmd.Flags().StringVarP(&username, "username", "u", "", "Account name")
	cmd.Flags().StringVarP(&password, "password", "p", "", "Password (read from stdin when omitted)")
	_ = cmd.MarkFlagRequired("username")
	return cmd
}

// readPassword prompts for a password, without echo when in is a terminal.
func readPassword(in io.Reader, prompt io.Writer) (string, error) {
	fmt.Fprint(prompt, "Password: ")
	if f, ok := in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		b, err := term.ReadPassword(int(f.Fd()))
		fmt.Fprintln(prompt)
		if err != nil {
			return "", fmt.Errorf("read password: %w", err)
		}
		return string(b), nil
	}
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("read password: %w", err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}

func newLogoutCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "End the server session and forget the saved token",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			err := a.client.Logout(cmd.Context())
			if err != nil && !errors.Is(err, ragent.ErrUnauthorized) {
				return fmt.Errorf("logout: %w", err)
			}
			a.config.Token = ""
			return a.config.Save(a.configPath)
		},
	}
}

func newSessionsCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "Manage conversations",
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List conversations, most recent first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			sessions, err := a.history.Refresh(cmd.Context())
			if err != nil {
				return err
			}
			if len(sessions) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No conversations.")
				return nil
			}
			fmt.Fprintln(cmd.OutOrStdout(), sessionTable(sessions))
			return nil
		},
	}

	rename := &cobra.Command{
		Use:   "rename <conversation-id> <title>",
		Short: "Rename a conversation",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.history.Rename(cmd.Context(), args[0], strings.Join(args[1:], " "))
		},
	}

	del := &cobra.Command{
		Use:   "delete <conversation-id>",
		Short: "Delete a conversation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.history.Delete(cmd.Context(), args[0])
		},
	}

	show := &cobra.Command{
		Use:   "show <conversation-id>",
		Short: "Print a conversation's transcript",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.openConversation(cmd.Context(), args[0]); err != nil {
				return err
			}
			sess, _ := a.store.Session(args[0])
			fmt.Fprint(cmd.OutOrStdout(), transcript(sess, goldmark.New(ragent.DefaultTheme())))
			return nil
		},
	}

	cmd.AddCommand(list, rename, del, show)
	return cmd
}

func sessionTable(sessions []ragent.Session) string {
	t := table.New().
		Border(lipgloss.HiddenBorder()).
		Headers("ID", "UPDATED", "TITLE")
	for _, s := range sessions {
		updated := ""
		if !s.LastTime.IsZero() {
			updated = s.LastTime.Local().Format(timeLayout)
		}
		t.Row(s.ID, updated, s.Title)
	}
	return t.String()
}

// transcript renders a conversation for a terminal.
func transcript(sess ragent.Session, md *goldmark.Renderer) string {
	var b strings.Builder
	if sess.Title != "" {
		fmt.Fprintf(&b, "# %s\n\n", sess.Title)
	}
	for _, msg := range sess.Messages {
		switch msg.Role {
		case ragent.RoleUser:
			fmt.Fprintf(&b, "> %s\n\n", msg.Content)
		case ragent.RoleAssistant:
			if msg.Thinking != "" {
				fmt.Fprintf(&b, "[thinking %s]\n", msg.ThinkingDuration.Round(100*time.Millisecond))
			}
			b.WriteString(md.Render(msg.Content, 0))
			b.WriteString("\n")
			switch msg.Feedback {
			case ragent.FeedbackLike:
				b.WriteString("[liked]\n")
			case ragent.FeedbackDislike:
				b.WriteString("[disliked]\n")
			}
			b.WriteString("\n")
		}
	}
	return b.String()
}

func newExportCmd(a *app) *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "export <conversation-id>",
		Short: "Save a conversation transcript as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			conv := args[0]
			if err := a.openConversation(cmd.Context(), conv); err != nil {
				return err
			}
			sess, _ := a.store.Session(conv)
			path := output
			if path == "" {
				path = conv + ".json"
			}
			if err := ragentjson.Save(path, sess); err != nil {
				return fmt.Errorf("export %s: %w", conv, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Saved %s\n", path)
			return nil
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "Output file (default: <conversation-id>.json)")
	return cmd
}
