// Package logging builds the slog loggers used across facelog: a text handler
// on the console and, when a log directory is configured, a rotated JSON log file.
package logging

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"
)

// FileName is the log file created inside the log directory.
const FileName = "facelog.log"

// Config selects levels and outputs.
type Config struct {
	Level  string // debug, info, warn, error
	Format string // text or json, console only
	Dir    string // empty disables the log file

	// Rotation; zero keeps lumberjack's behaviour (100 MB, keep every backup).
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

// Logger owns the handlers and the log file.
type Logger struct {
	base *slog.Logger
	file *lumberjack.Logger
}

// New builds a logger writing to console and, if cfg.Dir is set, to cfg.Dir/facelog.log.
// The file is rotated once it reaches MaxSizeMB.
func New(cfg Config, console io.Writer) (*Logger, error) {
	level := ParseLevel(cfg.Level)
	opts := &slog.HandlerOptions{Level: level}

	var handlers []slog.Handler
	if console != nil {
		if strings.EqualFold(cfg.Format, "json") {
			handlers = append(handlers, slog.NewJSONHandler(console, opts))
		} else {
			handlers = append(handlers, slog.NewTextHandler(console, opts))
		}
	}

	l := &Logger{}
	if cfg.Dir != "" {
		if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create log directory: %w", err)
		}
		l.file = &lumberjack.Logger{
			Filename:   filepath.Join(cfg.Dir, FileName),
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
		}
		handlers = append(handlers, slog.NewJSONHandler(l.file, opts))
	}

	switch len(handlers) {
	case 0:
		l.base = slog.New(slog.NewTextHandler(io.Discard, opts))
	case 1:
		l.base = slog.New(handlers[0])
	default:
		l.base = slog.New(fanout(handlers))
	}
	return l, nil
}

// Module returns a logger tagged with the module name.
func (l *Logger) Module(name string) *slog.Logger {
	return l.base.With("module", name)
}

// Slog returns the root logger.
func (l *Logger) Slog() *slog.Logger {
	return l.base
}

// Close closes the log file.
func (l *Logger) Close() error {
	if l == nil || l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	return err
}

// ParseLevel maps a level name to slog.Level, defaulting to info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// fanout sends each record to every handler that accepts its level.
type fanout []slog.Handler

func (f fanout) Enabled(ctx context.Context, level slog.Level) bool {
	for _, h := range f {
		if h.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (f fanout) Handle(ctx context.Context, r slog.Record) error {
	var errs []error
	for _, h := range f {
		if h.Enabled(ctx, r.Level) {
			if err := h.Handle(ctx, r.Clone()); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

func (f fanout) WithAttrs(attrs []slog.Attr) slog.Handler {
	out := make(fanout, len(f))
	for i, h := range f {
		out[i] = h.WithAttrs(attrs)
	}
	return out
}

func (f fanout) WithGroup(name string) slog.Handler {
	out := make(fanout, len(f))
	for i, h := range f {
		out[i] = h.WithGroup(name)
	}
	return out
}
