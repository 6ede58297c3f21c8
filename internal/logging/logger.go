// Package logging provides the structured logger used across krigcache.
package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// Logger wraps slog.Logger with cache-specific helpers so that the same
// events are always logged with the same field names.
type Logger struct {
	*slog.Logger
}

// NewLogger creates a Logger with the given handler. A nil handler logs
// text to stderr at info level.
func NewLogger(handler slog.Handler) *Logger {
	if handler == nil {
		handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo})
	}
	return &Logger{Logger: slog.New(handler)}
}

// NewTextLogger creates a Logger writing human-readable text to w
func NewTextLogger(w io.Writer, level slog.Level) *Logger {
	return NewLogger(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

// NewJSONLogger creates a Logger writing JSON lines to w
func NewJSONLogger(w io.Writer, level slog.Level) *Logger {
	return NewLogger(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level}))
}

// NoopLogger discards everything.
func NoopLogger() *Logger {
	return NewLogger(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.Level(1000)}))
}

// New builds a logger from configuration values. format is "json" or
// "text"; verbose enables debug output.
func New(w io.Writer, format string, verbose bool) *Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	if strings.EqualFold(format, "json") {
		return NewJSONLogger(w, level)
	}
	return NewTextLogger(w, level)
}

// WithComponent tags all records with the emitting component.
func (l *Logger) WithComponent(name string) *Logger {
	return &Logger{Logger: l.Logger.With("component", name)}
}

// LogInterpolate records the outcome of a query.
func (l *Logger) LogInterpolate(model int, hit bool, candidates int, path string) {
	l.Debug("interpolate", "model", model, "hit", hit, "candidates", candidates, "path", path)
}

// LogInsert records how a sample was absorbed.
func (l *Logger) LogInsert(model int, action string, samples int) {
	l.Debug("insert", "model", model, "action", action, "samples", samples)
}

// LogBuildFailure records a kriging build that did not succeed.
func (l *Logger) LogBuildFailure(model int, samples int, err error) {
	l.Warn("kriging build failed", "model", model, "samples", samples, "error", err)
}

// LogViolation records a structural problem found by a consistency check.
func (l *Logger) LogViolation(kind string, node, entry, object int, detail string) {
	l.Error("consistency violation", "kind", kind, "node", node, "entry", entry, "object", object, "detail", detail)
}

// LogSplit records an M-tree node split.
func (l *Logger) LogSplit(node, sibling, level int, root bool) {
	l.Debug("node split", "node", node, "sibling", sibling, "level", level, "newRoot", root)
}
