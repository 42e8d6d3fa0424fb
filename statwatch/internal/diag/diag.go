// Package diag is the diagnostic log: short human-readable lines persisted
// next to the metrics and read out-of-band (HTTP, MCP, export). It is the
// only failure-visibility channel of the collector, so writing to it must
// never fail the caller.
package diag

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/hazyhaar/kworkstat/statwatch/internal/store"
)

// Sink persists diagnostic entries.
type Sink interface {
	AppendLog(ctx context.Context, e store.LogEntry) error
}

// Logger writes diagnostic entries to slog and to the sink.
type Logger struct {
	sink   Sink
	logger *slog.Logger
	now    func() time.Time
}

// Option configures a Logger.
type Option func(*Logger)

// WithClock sets the entry timestamp source.
func WithClock(now func() time.Time) Option {
	return func(l *Logger) { l.now = now }
}

// New creates a Logger. A nil sink makes it slog-only.
func New(sink Sink, logger *slog.Logger, opts ...Option) *Logger {
	if logger == nil {
		logger = slog.Default()
	}
	l := &Logger{sink: sink, logger: logger, now: time.Now}
	for _, o := range opts {
		o(l)
	}
	return l
}

// Log records message. Persistence errors are reported to slog only.
func (l *Logger) Log(ctx context.Context, message string) {
	if l == nil {
		return
	}
	l.logger.Info("diag: " + message)
	if l.sink == nil {
		return
	}
	e := store.LogEntry{Time: l.now().UTC(), Message: message}
	if err := l.sink.AppendLog(ctx, e); err != nil {
		l.logger.Warn("diag: persist failed", "error", err)
	}
}

// Logf formats and records a message.
func (l *Logger) Logf(ctx context.Context, format string, args ...any) {
	l.Log(ctx, fmt.Sprintf(format, args...))
}

// Render formats entries as plain text, one "[time] message" per line.
func Render(entries []store.LogEntry) string {
	lines := make([]string, len(entries))
	for i, e := range entries {
		lines[i] = fmt.Sprintf("[%s] %s", e.Time.UTC().Format(time.RFC3339Nano), e.Message)
	}
	return strings.Join(lines, "\n")
}

// Filename is the download name of a log export made at t.
func Filename(t time.Time) string {
	return "statwatch_logs_" + t.UTC().Format("2006-01-02") + ".log"
}
