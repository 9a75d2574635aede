// Command ragent is a terminal client for a RAG question-answering server.
//
// Usage:
//
//	ragent [command] [flags]
//
// Without a command it opens the interactive chat. The session token is
// read from --token, then RAGENT_TOKEN, then the config file.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/nageoffer/ragent/api"
	"github.com/nageoffer/ragent/chat"
	"github.com/nageoffer/ragent/session"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	root := newRootCmd(os.Getenv("RAGENT_TOKEN"))
	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "ragent: %v\n", err)
		os.Exit(1)
	}
}

// flags holds the persistent command-line flags.
type flags struct {
	configPath  string
	baseURL     string
	token       string
	logFile     string
	debug       bool
	idleTimeout time.Duration
}

// app is the wired client shared by every command.
type app struct {
	configPath string
	config     Config
	logger     *zap.Logger
	client     *api.Client
	store      *session.Store
	controller *chat.Controller
	recorder   *chat.Recorder
	history    *chat.History
}

func newRootCmd(envToken string) *cobra.Command {
	var (
		f flags
		a app
	)

	root := &cobra.Command{
		Use:   "ragent",
		Short: "Chat with a RAG server from the terminal",
		Long: `ragent streams answers from a RAG question-answering server.

Run without arguments to start the interactive chat interface.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.setup(cmd, f, envToken)
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			a.close()
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runChat(cmd, &a, "")
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&f.configPath, "config", "", "Config file (default: user config dir/ragent/config.yaml)")
	pf.StringVar(&f.baseURL, "base-url", "", "Server API base URL")
	pf.StringVar(&f.token, "token", "", "Session token (overrides RAGENT_TOKEN and config)")
	pf.StringVar(&f.logFile, "log-file", "", "Write JSON logs to this file")
	pf.BoolVar(&f.debug, "debug", false, "Enable debug logging")
	pf.DurationVar(&f.idleTimeout, "idle-timeout", 0, "Fail a reply after this long without events (0 disables)")

	root.AddCommand(
		newChatCmd(&a),
		newAskCmd(&a),
		newLoginCmd(&a),
		newLogoutCmd(&a),
		newSessionsCmd(&a),
		newExportCmd(&a),
	)
	return root
}

// setup resolves configuration and wires the client. Flags override the
// environment, which overrides the config file.
func (a *app) setup(cmd *cobra.Command, f flags, envToken string) error {
	path := f.configPath
	if path == "" {
		p, err := defaultConfigPath()
		if err != nil {
			return err
		}
		path = p
	}
	cfg, err := LoadConfig(path)
	if err != nil {
		return err
	}
	if envToken != "" {
		cfg.Token = envToken
	}
	pflags := cmd.Flags()
	if pflags.Changed("base-url") {
		cfg.BaseURL = f.baseURL
	}
	if pflags.Changed("token") {
		cfg.Token = f.token
	}
	if pflags.Changed("log-file") {
		cfg.LogFile = f.logFile
	}
	if pflags.Changed("idle-timeout") {
		cfg.IdleTimeout = f.idleTimeout
	}
	if f.debug {
		cfg.Debug = true
	}

	logger, err := newLogger(cfg.LogFile, cfg.Debug)
	if err != nil {
		return err
	}

	a.configPath = path
	a.config = cfg
	a.logger = logger
	a.wire()
	return nil
}

// wire builds the client stack from a.config and a.logger.
func (a *app) wire() {
	opts := []api.Option{api.WithToken(a.config.Token)}
	if a.config.BaseURL != "" {
		opts = append(opts, api.WithBaseURL(a.config.BaseURL))
	}
	a.client = api.New(opts...)
	a.store = session.NewStore(nil)

	a.controller = chat.NewController(a.client, a.store,
		chat.WithLogger(a.logger), chat.WithIdleTimeout(a.config.IdleTimeout))
	a.recorder = chat.NewRecorder(a.client, a.store, chat.WithRecorderLogger(a.logger))
	a.history = chat.NewHistory(a.client, a.store, chat.WithHistoryLogger(a.logger))
}

// close waits for pending stop requests and flushes the log.
func (a *app) close() {
	if a.controller != nil {
		a.controller.Wait()
	}
	if a.logger != nil {
		_ = a.logger.Sync()
	}
}
