// Package monitoring holds the process-wide logging hooks. Each package that
// logs owns a Logger with its own prefix; cmd/pulse routes the ops, diag and
// trace streams of every registered Logger with one SetLogWriters call.
package monitoring

import (
	"io"
	"log"
	"sync"
)

// LogWriters holds the io.Writers for each logging stream. A nil writer
// disables that stream.
type LogWriters struct {
	Ops   io.Writer
	Diag  io.Writer
	Trace io.Writer
}

// Logger writes to the three streams under a fixed prefix.
type Logger struct {
	prefix string

	mu    sync.RWMutex
	ops   *log.Logger
	diag  *log.Logger
	trace *log.Logger
}

var (
	registryMu sync.Mutex
	registry   []*Logger
	current    LogWriters
)

// NewLogger registers a Logger with the given prefix. It starts with the
// writers of the most recent SetLogWriters call.
func NewLogger(prefix string) *Logger {
	l := &Logger{prefix: prefix}
	registryMu.Lock()
	registry = append(registry, l)
	w := current
	registryMu.Unlock()
	l.SetWriters(w)
	return l
}

// SetLogWriters reconfigures every registered Logger.
func SetLogWriters(w LogWriters) {
	registryMu.Lock()
	current = w
	loggers := append([]*Logger(nil), registry...)
	registryMu.Unlock()
	for _, l := range loggers {
		l.SetWriters(w)
	}
}

// SetWriters reconfigures this Logger only.
func (l *Logger) SetWriters(w LogWriters) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.ops = newStream(l.prefix, w.Ops)
	l.diag = newStream(l.prefix, w.Diag)
	l.trace = newStream(l.prefix, w.Trace)
}

func newStream(prefix string, w io.Writer) *log.Logger {
	if w == nil {
		return nil
	}
	return log.New(w, prefix, log.LstdFlags|log.Lmicroseconds)
}

// Opsf logs to the ops stream (actionable warnings, errors, lifecycle events).
func (l *Logger) Opsf(format string, args ...interface{}) {
	l.mu.RLock()
	s := l.ops
	l.mu.RUnlock()
	if s != nil {
		s.Printf(format, args...)
	}
}

// Diagf logs to the diag stream (day-to-day diagnostics, tuning context).
func (l *Logger) Diagf(format string, args ...interface{}) {
	l.mu.RLock()
	s := l.diag
	l.mu.RUnlock()
	if s != nil {
		s.Printf(format, args...)
	}
}

// Tracef logs to the trace stream (per-sample and per-tick telemetry).
func (l *Logger) Tracef(format string, args ...interface{}) {
	l.mu.RLock()
	s := l.trace
	l.mu.RUnlock()
	if s != nil {
		s.Printf(format, args...)
	}
}
