// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package logging configures the process-wide structured logger.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/log"

	"github.com/jeranaias/agentchat/internal/config"
)

// Options adjusts Setup for the running command.
type Options struct {
	// ForceFile sends output to the log file regardless of cfg.Output. The
	// TUI uses this so log lines never land on the alternate screen.
	ForceFile bool

	// Stderr replaces os.Stderr for the "stderr" output.
	Stderr io.Writer
}

// Setup builds the logger described by cfg and installs it as the default
// for both charmbracelet/log and log/slog. The returned closer releases the
// log file, if one was opened.
func Setup(cfg config.LogConfig, opts Options) (*log.Logger, io.Closer, error) {
	level, err := log.ParseLevel(strings.ToLower(cfg.Level))
	if err != nil {
		return nil, nil, fmt.Errorf("invalid log level: %w", err)
	}

	formatter, err := parseFormat(cfg.Format)
	if err != nil {
		return nil, nil, err
	}

	var writer io.Writer
	var closer io.Closer = nopCloser{}
	output := cfg.Output
	if opts.ForceFile {
		output = "file"
	}
	switch output {
	case "", "stderr":
		writer = opts.Stderr
		if writer == nil {
			writer = os.Stderr
		}
	case "file":
		f, err := openLogFile(cfg.File)
		if err != nil {
			return nil, nil, err
		}
		writer, closer = f, f
	default:
		return nil, nil, fmt.Errorf("invalid log output: %s", cfg.Output)
	}

	logger := log.NewWithOptions(writer, log.Options{
		Level:           level,
		Formatter:       formatter,
		ReportTimestamp: true,
		TimeFormat:      time.RFC3339,
		Prefix:          "agentchat",
	})
	log.SetDefault(logger)
	slog.SetDefault(slog.New(logger))

	logger.Debug("logger initialized", "level", level, "format", cfg.Format, "output", output)
	return logger, closer, nil
}

// Discard returns a logger that drops everything below fatal.
func Discard() *log.Logger {
	return log.NewWithOptions(io.Discard, log.Options{Level: log.FatalLevel})
}

func parseFormat(format string) (log.Formatter, error) {
	switch strings.ToLower(format) {
	case "", "text":
		return log.TextFormatter, nil
	case "json":
		return log.JSONFormatter, nil
	case "logfmt":
		return log.LogfmtFormatter, nil
	default:
		return 0, fmt.Errorf("invalid log format: %s", format)
	}
}

func openLogFile(path string) (*os.File, error) {
	if path == "" {
		return nil, fmt.Errorf("log file path is required when output is 'file'")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}
	return f, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
