// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package logging provides structured logging for coordination components.
//
// The logger is a thin layer over the standard library slog package. Every
// component in this module accepts a *slog.Logger by injection; this package
// only decides how that logger is built for a process:
//
//   - Level filtering (Debug < Info < Warn < Error)
//   - Output format: text on an interactive terminal, JSON otherwise
//   - A "service" attribute stamped on every record
//
// # Basic Usage
//
//	logger := logging.New(logging.Config{Level: logging.LevelInfo, Service: "coordinator"})
//	logger.Info("store connected", "addr", addr)
//	locker := lock.NewLocker(client, keys, logger.Slog())
//
// # Log Levels
//
//   - Debug: Development troubleshooting, verbose output
//   - Info: Normal operations (store connected, worker started)
//   - Warn: Degraded mode (store unavailable, alert dropped, lock busy)
//   - Error: Operation failures that the caller will see
//
// # Thread Safety
//
// Logger is safe for concurrent use. The underlying slog.Logger is thread-safe.
//
// # Security Considerations
//
// This package does NOT redact. Callers must log token presence, never tokens:
//
//	logger.Info("alerting configured", "token_present", token != "")
package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/mattn/go-isatty"
)

// =============================================================================
// Log Levels
// =============================================================================

// Level represents log severity levels.
//
// Levels follow the slog convention and are ordered by severity:
// Debug < Info < Warn < Error
type Level int

const (
	// LevelDebug is for development troubleshooting.
	LevelDebug Level = iota

	// LevelInfo is for normal operational messages.
	// Example: "store connected", "alert worker started"
	LevelInfo

	// LevelWarn is for degraded but recoverable situations.
	// Example: "store unavailable, lock acquisition skipped"
	LevelWarn

	// LevelError is for error conditions.
	// Example: "all providers failed"
	LevelError
)

// String returns the human-readable name of the level.
//
// Returns "DEBUG", "INFO", "WARN", "ERROR", or "UNKNOWN".
func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// ParseLevel converts a configuration string into a Level.
//
// # Inputs
//
//   - s: Case-insensitive level name ("debug", "info", "warn"/"warning", "error").
//
// # Outputs
//
//   - Level: The parsed level. Unknown or empty strings yield LevelInfo.
func ParseLevel(s string) Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LevelDebug
	case "warn", "warning":
		return LevelWarn
	case "error":
		return LevelError
	default:
		return LevelInfo
	}
}

// toSlogLevel converts our Level to slog.Level.
func (l Level) toSlogLevel() slog.Level {
	switch l {
	case LevelDebug:
		return slog.LevelDebug
	case LevelInfo:
		return slog.LevelInfo
	case LevelWarn:
		return slog.LevelWarn
	case LevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// =============================================================================
// Configuration
// =============================================================================

// Format selects the record encoding.
type Format int

const (
	// FormatAuto picks text when Output is a terminal and JSON otherwise.
	FormatAuto Format = iota

	// FormatText forces human-readable key=value output.
	FormatText

	// FormatJSON forces one JSON object per line.
	FormatJSON
)

// Config configures the Logger behavior.
//
// A zero-value Config creates a logger that writes Info+ messages to
// stderr, choosing text or JSON by whether stderr is a terminal.
type Config struct {
	// Level is the minimum level to log. Default: LevelInfo.
	Level Level

	// Format selects text or JSON. Default: FormatAuto.
	Format Format

	// Service is stamped on every record as the "service" attribute.
	Service string

	// Output is the destination. Default: os.Stderr.
	Output io.Writer
}

// =============================================================================
// Logger
// =============================================================================

// Logger wraps slog.Logger with the process-wide configuration.
//
// # Thread Safety
//
// Logger is safe for concurrent use from multiple goroutines.
//
// # Creating Child Loggers
//
//	storeLogger := logger.With("component", "store")
type Logger struct {
	slog   *slog.Logger
	config Config
}

// New creates a new Logger with the given configuration.
//
// # Inputs
//
//   - config: Logger configuration (see Config for options)
//
// # Outputs
//
//   - *Logger: Configured logger ready for use
func New(config Config) *Logger {
	out := config.Output
	if out == nil {
		out = os.Stderr
	}

	opts := &slog.HandlerOptions{
		Level: config.Level.toSlogLevel(),
	}

	var handler slog.Handler
	if useJSON(config.Format, out) {
		handler = slog.NewJSONHandler(out, opts)
	} else {
		handler = slog.NewTextHandler(out, opts)
	}

	if config.Service != "" {
		handler = handler.WithAttrs([]slog.Attr{
			slog.String("service", config.Service),
		})
	}

	return &Logger{
		slog:   slog.New(handler),
		config: config,
	}
}

// Default returns a logger with Info level on stderr for the coordinator service.
func Default() *Logger {
	return New(Config{
		Level:   LevelInfo,
		Service: "coordinator",
	})
}

// Debug logs a message at Debug level.
func (l *Logger) Debug(msg string, args ...any) {
	l.slog.Debug(msg, args...)
}

// Info logs a message at Info level.
func (l *Logger) Info(msg string, args ...any) {
	l.slog.Info(msg, args...)
}

// Warn logs a message at Warn level.
//
// Degraded-mode transitions are logged here, never at Error: they do not
// fail the request that observed them.
func (l *Logger) Warn(msg string, args ...any) {
	l.slog.Warn(msg, args...)
}

// Error logs a message at Error level.
func (l *Logger) Error(msg string, args ...any) {
	l.slog.Error(msg, args...)
}

// With returns a child logger that includes the given attributes on every record.
func (l *Logger) With(args ...any) *Logger {
	return &Logger{
		slog:   l.slog.With(args...),
		config: l.config,
	}
}

// Slog returns the underlying *slog.Logger for injection into components.
func (l *Logger) Slog() *slog.Logger {
	return l.slog
}

// =============================================================================
// Helper Functions
// =============================================================================

// useJSON resolves FormatAuto against the output's terminal status.
func useJSON(format Format, out io.Writer) bool {
	switch format {
	case FormatJSON:
		return true
	case FormatText:
		return false
	}
	f, ok := out.(*os.File)
	if !ok {
		return true
	}
	fd := f.Fd()
	return !isatty.IsTerminal(fd) && !isatty.IsCygwinTerminal(fd)
}
