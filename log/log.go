// Package log provides the structured logger shared by the circuit checker,
// the rw bus and the witness generator. Records go through log/slog; each
// subsystem takes a child tagged with its module name.
package log

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync/atomic"
)

// Logger is a module-scoped structured logger.
type Logger struct {
	inner *slog.Logger
}

var (
	level = new(slog.LevelVar)
	sink  atomic.Pointer[slog.Handler]
	root  *Logger
)

func init() {
	level.Set(slog.LevelInfo)
	Setup(os.Stderr, "json")
	root = &Logger{inner: slog.New(deferred{})}
}

// Setup points the process-wide logger, and every module logger taken from
// it, at w. Format "text" selects key=value lines; anything else is JSON.
func Setup(w io.Writer, format string) {
	opts := &slog.HandlerOptions{Level: level}
	var h slog.Handler
	if strings.EqualFold(format, "text") {
		h = slog.NewTextHandler(w, opts)
	} else {
		h = slog.NewJSONHandler(w, opts)
	}
	sink.Store(&h)
}

// SetLevel changes the minimum level of the process-wide logger.
func SetLevel(l slog.Level) { level.Set(l) }

// LevelFromString parses a level name, ignoring case and surrounding space.
// Unknown names map to info.
func LevelFromString(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug", "trace":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error", "crit":
		return slog.LevelError
	}
	return slog.LevelInfo
}

// deferred resolves the current sink on every record, so loggers created at
// package init see later calls to Setup.
type deferred struct {
	attrs []slog.Attr
	group string
}

func (d deferred) handler() slog.Handler {
	h := *sink.Load()
	if d.group != "" {
		h = h.WithGroup(d.group)
	}
	if len(d.attrs) > 0 {
		h = h.WithAttrs(d.attrs)
	}
	return h
}

func (d deferred) Enabled(_ context.Context, l slog.Level) bool { return l >= level.Level() }

func (d deferred) Handle(ctx context.Context, r slog.Record) error {
	return d.handler().Handle(ctx, r)
}

func (d deferred) WithAttrs(attrs []slog.Attr) slog.Handler {
	d.attrs = append(append([]slog.Attr(nil), d.attrs...), attrs...)
	return d
}

func (d deferred) WithGroup(name string) slog.Handler {
	if d.group == "" && len(d.attrs) == 0 {
		d.group = name
		return d
	}
	return d.handler().WithGroup(name)
}

// NewWithHandler returns a Logger writing through h, independent of the
// process-wide sink.
func NewWithHandler(h slog.Handler) *Logger { return &Logger{inner: slog.New(h)} }

// Discard returns a Logger that drops every record.
func Discard() *Logger { return NewWithHandler(slog.DiscardHandler) }

// Module returns a child of the process-wide logger tagged with name.
func Module(name string) *Logger { return root.Module(name) }

// Module returns a child tagged with name.
func (l *Logger) Module(name string) *Logger {
	return &Logger{inner: l.inner.With("module", name)}
}

// With returns a child carrying the given key-value pairs.
func (l *Logger) With(args ...any) *Logger {
	return &Logger{inner: l.inner.With(args...)}
}

func (l *Logger) Debug(msg string, args ...any) { l.inner.Debug(msg, args...) }
func (l *Logger) Info(msg string, args ...any)  { l.inner.Info(msg, args...) }
func (l *Logger) Warn(msg string, args ...any)  { l.inner.Warn(msg, args...) }
func (l *Logger) Error(msg string, args ...any) { l.inner.Error(msg, args...) }
