// Package logging provides a context-scoped logger used by every
// component in the runner core. Rather than reach for a global logger,
// code logs through whatever Logger was attached to the context it was
// handed, so a scheduler running inside a test harness can capture
// output the same way the real CLI entry point sends it to stderr.
package logging

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Level indicates the importance of a log entry. Larger is more important.
type Level int

const (
	// LevelDebug is for verbose diagnostic output not shown by default.
	LevelDebug Level = iota
	// LevelInfo is for ordinary progress messages.
	LevelInfo
	// LevelWarn is for recoverable problems worth surfacing.
	LevelWarn
)

// Logger receives log entries forwarded via a context.Context.
type Logger interface {
	Log(level Level, ts time.Time, msg string)
}

// Sink is a destination for rendered log lines, e.g. a file or os.Stderr.
type Sink interface {
	Log(msg string)
}

// FuncSink adapts a plain function to Sink. Calls are serialized.
type FuncSink struct {
	mu sync.Mutex
	f  func(msg string)
}

// NewFuncSink wraps f as a Sink.
func NewFuncSink(f func(msg string)) *FuncSink { return &FuncSink{f: f} }

// Log implements Sink.
func (s *FuncSink) Log(msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.f(msg)
}

// SinkLogger is a Logger that renders entries at or above a minimum level
// to a Sink, optionally prefixing a timestamp.
type SinkLogger struct {
	level     Level
	timestamp bool
	sink      Sink
}

// NewSinkLogger creates a SinkLogger. Entries below level are dropped.
func NewSinkLogger(level Level, timestamp bool, sink Sink) *SinkLogger {
	return &SinkLogger{level: level, timestamp: timestamp, sink: sink}
}

// Log implements Logger.
func (l *SinkLogger) Log(level Level, ts time.Time, msg string) {
	if level < l.level {
		return
	}
	if l.timestamp {
		msg = ts.UTC().Format("2006-01-02T15:04:05.000000Z ") + msg
	}
	l.sink.Log(msg)
}

// MultiLogger fans a log entry out to a dynamic set of underlying loggers.
type MultiLogger struct {
	mu      sync.Mutex
	loggers []Logger
}

// NewMultiLogger creates a MultiLogger with an initial set of loggers.
func NewMultiLogger(loggers ...Logger) *MultiLogger {
	return &MultiLogger{loggers: append([]Logger(nil), loggers...)}
}

// Log implements Logger.
func (ml *MultiLogger) Log(level Level, ts time.Time, msg string) {
	ml.mu.Lock()
	defer ml.mu.Unlock()
	for _, l := range ml.loggers {
		l.Log(level, ts, msg)
	}
}

// AddLogger registers an additional logger.
func (ml *MultiLogger) AddLogger(l Logger) {
	ml.mu.Lock()
	defer ml.mu.Unlock()
	ml.loggers = append(ml.loggers, l)
}

type contextKey struct{}

// discard silently drops everything; it is what FromContext returns when
// no logger has been attached, so call sites never need a nil check.
type discard struct{}

func (discard) Log(Level, time.Time, string) {}

// AttachLogger returns a context that routes log entries to l.
func AttachLogger(ctx context.Context, l Logger) context.Context {
	return context.WithValue(ctx, contextKey{}, l)
}

// FromContext extracts the Logger attached to ctx, or a no-op logger if
// none was attached.
func FromContext(ctx context.Context) Logger {
	if l, ok := ctx.Value(contextKey{}).(Logger); ok {
		return l
	}
	return discard{}
}

// Info logs an info-level message built from args with fmt.Sprint.
func Info(ctx context.Context, args ...interface{}) {
	FromContext(ctx).Log(LevelInfo, time.Now(), fmt.Sprint(args...))
}

// Infof logs an info-level message built from format with fmt.Sprintf.
func Infof(ctx context.Context, format string, args ...interface{}) {
	FromContext(ctx).Log(LevelInfo, time.Now(), fmt.Sprintf(format, args...))
}

// Debugf logs a debug-level message.
func Debugf(ctx context.Context, format string, args ...interface{}) {
	FromContext(ctx).Log(LevelDebug, time.Now(), fmt.Sprintf(format, args...))
}

// Warnf logs a warn-level message.
func Warnf(ctx context.Context, format string, args ...interface{}) {
	FromContext(ctx).Log(LevelWarn, time.Now(), fmt.Sprintf(format, args...))
}
