// Package logging builds the slog loggers used across quiver.
package logging

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"
)

// NewLogger creates a logger writing to stderr; stdout carries task
// results. At DEBUG level each record also carries its source as file:line.
func NewLogger(level slog.Level, format string) *slog.Logger {
	return NewLoggerWithWriter(level, format, os.Stderr)
}

// NewLoggerWithWriter creates a logger writing to w in the "text" or
// "json" format.
func NewLoggerWithWriter(level slog.Level, format string, w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: level}
	if level <= slog.LevelDebug {
		opts.AddSource = true
		opts.ReplaceAttr = shortSource
	}

	var handler slog.Handler
	switch strings.ToLower(format) {
	case "json":
		handler = slog.NewJSONHandler(w, opts)
	default:
		handler = slog.NewTextHandler(w, opts)
	}
	return slog.New(handler)
}

func shortSource(_ []string, a slog.Attr) slog.Attr {
	if a.Key != slog.SourceKey {
		return a
	}
	if src, ok := a.Value.Any().(*slog.Source); ok {
		return slog.String(slog.SourceKey, filepath.Base(src.File)+":"+strconv.Itoa(src.Line))
	}
	return a
}

// Options configures Open.
type Options struct {
	Level  string
	Format string

	// File, if set, receives the log in addition to stderr and is rotated
	// by size.
	File       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

// Open builds a logger from opts. The returned closer releases the log
// file, if any.
func Open(opts Options) (*slog.Logger, io.Closer, error) {
	level := ParseLevel(opts.Level)
	if opts.File == "" {
		return NewLogger(level, opts.Format), nopCloser{}, nil
	}
	if dir := filepath.Dir(opts.File); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, nil, err
		}
	}
	lj := &lumberjack.Logger{
		Filename:   opts.File,
		MaxSize:    max(opts.MaxSizeMB, 10),
		MaxBackups: max(opts.MaxBackups, 1),
		MaxAge:     max(opts.MaxAgeDays, 7),
		Compress:   opts.Compress,
	}
	return NewLoggerWithWriter(level, opts.Format, io.MultiWriter(os.Stderr, lj)), lj, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// ParseLevel converts a string log level to slog.Level.
// Returns slog.LevelInfo for unrecognized values.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
