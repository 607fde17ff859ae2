// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/jeranaias/agentchat/internal/backend"
	"github.com/jeranaias/agentchat/internal/config"
	"github.com/jeranaias/agentchat/internal/logging"
	"github.com/jeranaias/agentchat/internal/storage"
)

// BuildInfo is stamped by the linker.
type BuildInfo struct {
	Version   string
	GitCommit string
	BuildDate string
}

// exitError carries a process exit code through cobra.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string {
	if e.err == nil {
		return fmt.Sprintf("exit status %d", e.code)
	}
	return e.err.Error()
}

func (e *exitError) Unwrap() error { return e.err }

// app holds state shared by all commands of one invocation.
type app struct {
	// Flags
	cfgPath  string
	baseURL  string
	agentID  string
	logLevel string
	jsonOut  bool

	stdin  io.Reader
	stdout io.Writer
	stderr io.Writer

	cfg    *config.Config
	logger *log.Logger
	logOut io.Closer
}

// Execute runs the command line and returns the process exit code.
func Execute(info BuildInfo) int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	root := NewRootCmd(info, os.Stdin, os.Stdout, os.Stderr)
	err := root.ExecuteContext(ctx)
	if err == nil {
		return 0
	}
	var ee *exitError
	if errors.As(err, &ee) {
		if ee.err != nil {
			fmt.Fprintln(os.Stderr, ErrorStyle.Render("Error: ")+ee.err.Error())
		}
		return ee.code
	}
	fmt.Fprintln(os.Stderr, ErrorStyle.Render("Error: ")+err.Error())
	return 1
}

// NewRootCmd builds the command tree.
func NewRootCmd(info BuildInfo, stdin io.Reader, stdout, stderr io.Writer) *cobra.Command {
	a := &app{stdin: stdin, stdout: stdout, stderr: stderr}

	root := &cobra.Command{
		Use:   "agentchat",
		Short: "Chat with a streaming agent backend from the terminal",
		Long: `agentchat talks to an agent backend that streams replies as server-sent
events. Replies render as they arrive, tool calls show live, and every
finished exchange is reconciled with the server's canonical chat record.

Quick Start:
  agentchat config set backend.agent_id my-agent
  agentchat chat                       # interactive session
  agentchat ask "What changed today?"  # one question, streamed to stdout
  agentchat history list               # earlier chats`,
		Version:       versionString(info),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			// The TUI owns the terminal, so its logs go to a file.
			return a.init(cmd.Name() == "chat")
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			a.close()
		},
	}
	root.SetIn(stdin)
	root.SetOut(stdout)
	root.SetErr(stderr)
	root.SetVersionTemplate(`{{printf "%s\n" .Version}}`)

	pf := root.PersistentFlags()
	pf.StringVar(&a.cfgPath, "config", "", "config file (default ~/.agentchat/config.toml)")
	pf.StringVar(&a.baseURL, "url", "", "backend base URL (overrides backend.base_url)")
	pf.StringVar(&a.agentID, "agent", "", "agent id (overrides backend.agent_id)")
	pf.StringVar(&a.logLevel, "log-level", "", "log level: debug, info, warn, error")
	pf.BoolVar(&a.jsonOut, "json", false, "print machine-readable JSON where supported")

	root.AddCommand(
		newChatCmd(a),
		newAskCmd(a),
		newHistoryCmd(a),
		newFeedbackCmd(a),
		newAgentsCmd(a),
		newConfigCmd(a),
	)
	return root
}

func versionString(info BuildInfo) string {
	if info.Version == "" {
		info.Version = "dev"
	}
	if info.GitCommit == "" {
		info.GitCommit = "unknown"
	}
	if info.BuildDate == "" {
		info.BuildDate = "unknown"
	}
	return fmt.Sprintf("%s (commit: %s, built: %s)", info.Version, info.GitCommit, info.BuildDate)
}

// init loads configuration, applies flag overrides and sets up logging.
func (a *app) init(forceFileLog bool) error {
	cfg, err := a.loadConfig()
	if err != nil {
		return err
	}
	if a.baseURL != "" {
		cfg.Backend.BaseURL = strings.TrimSuffix(strings.TrimSpace(a.baseURL), "/")
	}
	if a.agentID != "" {
		cfg.Backend.AgentID = strings.TrimSpace(a.agentID)
	}
	if a.logLevel != "" {
		cfg.Log.Level = strings.ToLower(a.logLevel)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	a.cfg = cfg

	logger, closer, err := logging.Setup(cfg.Log, logging.Options{ForceFile: forceFileLog, Stderr: a.stderr})
	if err != nil {
		return fmt.Errorf("logging: %w", err)
	}
	a.logger = logger
	a.logOut = closer
	return nil
}

func (a *app) loadConfig() (*config.Config, error) {
	if a.cfgPath == "" {
		return config.Load()
	}
	return config.LoadFromPath(a.cfgPath)
}

// configPath is where config set writes.
func (a *app) configPath() (string, error) {
	if a.cfgPath != "" {
		return a.cfgPath, nil
	}
	return config.Path()
}

func (a *app) close() {
	if a.logOut != nil {
		a.logOut.Close()
		a.logOut = nil
	}
}

// client builds a backend client from the loaded configuration.
func (a *app) client() (*backend.Client, error) {
	b := a.cfg.Backend
	return backend.New(b.BaseURL,
		backend.WithBearerToken(b.Token),
		backend.WithTimeout(b.RequestTimeout.Duration),
		backend.WithMaxRetries(b.MaxRetries),
		backend.WithLogger(a.logger.With("component", "backend")),
	)
}

// cache opens the local chat cache, or returns nil when it is disabled.
// Failing to open it is logged and treated as disabled.
func (a *app) cache() *storage.ChatCache {
	if !a.cfg.Cache.Enabled {
		return nil
	}
	c, err := storage.OpenChatCache(a.cfg.Cache.Path)
	if err != nil {
		a.logger.Warn("chat cache unavailable", "path", a.cfg.Cache.Path, "err", err)
		return nil
	}
	return c
}

// requireCache is cache for commands that cannot work without it.
func (a *app) requireCache() (*storage.ChatCache, error) {
	if !a.cfg.Cache.Enabled {
		return nil, errors.New("the local chat cache is disabled (cache.enabled = false)")
	}
	c, err := storage.OpenChatCache(a.cfg.Cache.Path)
	if err != nil {
		return nil, fmt.Errorf("open chat cache: %w", err)
	}
	return c, nil
}
