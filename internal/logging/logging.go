// Package logging provides structured logging for the telestream daemon.
//
// This package wraps the standard library's log/slog package so that every
// component logs the same way. It supports text and JSON output, a
// configurable level, and component loggers.
//
// Usage:
//
//	// Initialize at startup
//	logging.Init(slog.LevelInfo, false) // Text format
//	logging.Init(slog.LevelDebug, true) // JSON format for production
//
//	// Get a component logger
//	log := logging.Component("session")
//	log.Info("session started", "rate_hz", 10)
//
//	// Log with session context
//	logging.WithContext(ctx).Warn("columnar encode failed", "error", err)
package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync/atomic"
)

// root holds the active logger. Component loggers resolve it lazily so that
// package-level loggers created before Init still honour the configured
// handler.
var root atomic.Pointer[slog.Logger]

func current() *slog.Logger {
	if l := root.Load(); l != nil {
		return l
	}
	Init(slog.LevelInfo, false)
	return root.Load()
}

// Init initializes the global logger with the specified level and format.
// If jsonFormat is true, logs are output as JSON; otherwise, human-readable text.
func Init(level slog.Level, jsonFormat bool) {
	InitWriter(os.Stdout, level, jsonFormat)
}

// InitWriter is Init with an explicit destination.
func InitWriter(w io.Writer, level slog.Level, jsonFormat bool) {
	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: level == slog.LevelDebug,
	}

	var handler slog.Handler
	if jsonFormat {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	InitWithHandler(handler)
}

// InitWithHandler initializes the global logger with a custom handler.
// This is useful for testing or custom output destinations.
func InitWithHandler(handler slog.Handler) {
	l := slog.New(handler)
	root.Store(l)
	slog.SetDefault(l)
}

// ParseLevel maps a config string (debug, info, warn, error) to a slog level.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level %q", s)
	}
}

// componentHandler defers to the current root handler on every record and
// replays its WithAttrs/WithGroup calls on it in order.
type componentHandler struct {
	ops []handlerOp
}

// handlerOp is one WithAttrs (attrs set) or WithGroup (group set) call.
type handlerOp struct {
	attrs []slog.Attr
	group string
}

func (h *componentHandler) base() slog.Handler {
	hd := current().Handler()
	for _, op := range h.ops {
		if op.group != "" {
			hd = hd.WithGroup(op.group)
		} else {
			hd = hd.WithAttrs(op.attrs)
		}
	}
	return hd
}

func (h *componentHandler) with(op handlerOp) *componentHandler {
	ops := make([]handlerOp, 0, len(h.ops)+1)
	ops = append(ops, h.ops...)
	return &componentHandler{ops: append(ops, op)}
}

func (h *componentHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.base().Enabled(ctx, level)
}

func (h *componentHandler) Handle(ctx context.Context, r slog.Record) error {
	return h.base().Handle(ctx, r)
}

func (h *componentHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	if len(attrs) == 0 {
		return h
	}
	return h.with(handlerOp{attrs: append([]slog.Attr(nil), attrs...)})
}

func (h *componentHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	return h.with(handlerOp{group: name})
}

// Component returns a logger for a specific component.
// The component name is added as an attribute to all log entries.
//
// Example:
//
//	log := logging.Component("server")
//	log.Info("listening") // Output: time=... level=INFO component=server msg=listening
func Component(name string) *slog.Logger {
	return slog.New(&componentHandler{ops: []handlerOp{{attrs: []slog.Attr{slog.String("component", name)}}}})
}

// With returns a new logger with additional attributes.
func With(args ...any) *slog.Logger {
	return current().With(args...)
}

// WithContext returns a logger that includes context values.
// Sessions attach their ID and remote address so that every line logged on
// their behalf can be correlated.
func WithContext(ctx context.Context) *slog.Logger {
	logger := current()

	if sessionID, ok := ctx.Value(contextKeySessionID).(string); ok {
		logger = logger.With("session_id", sessionID)
	}
	if remote, ok := ctx.Value(contextKeyRemote).(string); ok {
		logger = logger.With("remote", remote)
	}
	if topic, ok := ctx.Value(contextKeyTopic).(string); ok {
		logger = logger.With("topic", topic)
	}

	return logger
}

// Context key types for type-safe context value extraction.
type contextKey int

const (
	contextKeySessionID contextKey = iota
	contextKeyRemote
	contextKeyTopic
)

// ContextWithSessionID adds a session ID to the context for logging.
func ContextWithSessionID(ctx context.Context, sessionID string) context.Context {
	return context.WithValue(ctx, contextKeySessionID, sessionID)
}

// ContextWithRemote adds the peer address to the context for logging.
func ContextWithRemote(ctx context.Context, remote string) context.Context {
	return context.WithValue(ctx, contextKeyRemote, remote)
}

// ContextWithTopic adds the streamed topic to the context for logging.
func ContextWithTopic(ctx context.Context, topic string) context.Context {
	return context.WithValue(ctx, contextKeyTopic, topic)
}
