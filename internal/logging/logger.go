// Package logging provides the logging interface and default
// implementation used throughout lsmkv.
//
// Design: a five-level interface (Error, Warn, Info, Debug, Fatal),
// the same shape RocksDB-derived Go engines use so callers can plug in
// their own structured logger without lsmkv depending on one.
//
// Log format: YYYY/MM/DD HH:MM:SS LEVEL [component] message
//
// Example: 2026/03/05 18:45:13 INFO [flush] flushed memtable to sstable-7.db
//
// Namespace prefixes are used for filtering:
//   - [engine]   — engine lifecycle (open/close/recover)
//   - [flush]    — memtable flush
//   - [compact]  — compaction
//   - [wal]      — write-ahead log
//   - [index]    — secondary index manager
//   - [recovery] — WAL replay
package logging

import (
	"fmt"
	"io"
	"log"
	"os"
	"reflect"
	"sync/atomic"
)

// FatalHandler is invoked when Fatalf is called. It should transition
// the owning engine to a stopped state (reject writes, keep serving
// reads). It must be safe for concurrent use and must not call Fatalf.
type FatalHandler func(msg string)

// Level is a logging verbosity level.
type Level int

const (
	LevelError Level = iota
	LevelWarn
	LevelInfo
	LevelDebug
)

func (l Level) String() string {
	switch l {
	case LevelError:
		return "ERROR"
	case LevelWarn:
		return "WARN"
	case LevelInfo:
		return "INFO"
	case LevelDebug:
		return "DEBUG"
	default:
		return "UNKNOWN"
	}
}

// Logger is the logging interface the engine and its subsystems use.
//
// Implementations must be safe for concurrent use — logging may happen
// from client goroutines, the flush worker, and the compaction worker
// at the same time.
type Logger interface {
	Errorf(format string, args ...any)
	Warnf(format string, args ...any)
	Infof(format string, args ...any)
	Debugf(format string, args ...any)

	// Fatalf logs at FATAL level and invokes the configured
	// FatalHandler. It does not call os.Exit; the handler decides what
	// "stopped" means for the caller.
	Fatalf(format string, args ...any)
}

// DefaultLogger writes formatted, leveled lines to an io.Writer.
type DefaultLogger struct {
	logger       *log.Logger
	level        Level
	fatalHandler atomic.Pointer[FatalHandler]
}

// NewLogger creates a logger writing to w at the given level.
func NewLogger(w io.Writer, level Level) *DefaultLogger {
	return &DefaultLogger{logger: log.New(w, "", log.LstdFlags), level: level}
}

// NewDefaultLogger creates a logger writing to stderr at the given level.
func NewDefaultLogger(level Level) *DefaultLogger {
	return NewLogger(os.Stderr, level)
}

// SetFatalHandler installs the handler invoked by Fatalf.
func (l *DefaultLogger) SetFatalHandler(h FatalHandler) {
	l.fatalHandler.Store(&h)
}

func (l *DefaultLogger) Errorf(format string, args ...any) {
	if l.level >= LevelError {
		_ = l.logger.Output(2, "ERROR "+fmt.Sprintf(format, args...))
	}
}

func (l *DefaultLogger) Warnf(format string, args ...any) {
	if l.level >= LevelWarn {
		_ = l.logger.Output(2, "WARN "+fmt.Sprintf(format, args...))
	}
}

func (l *DefaultLogger) Infof(format string, args ...any) {
	if l.level >= LevelInfo {
		_ = l.logger.Output(2, "INFO "+fmt.Sprintf(format, args...))
	}
}

func (l *DefaultLogger) Debugf(format string, args ...any) {
	if l.level >= LevelDebug {
		_ = l.logger.Output(2, "DEBUG "+fmt.Sprintf(format, args...))
	}
}

func (l *DefaultLogger) Fatalf(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	_ = l.logger.Output(2, "FATAL "+msg)
	if h := l.fatalHandler.Load(); h != nil {
		(*h)(msg)
	}
}

// Namespace prefixes, used as `logger.Infof(NSFlush+"...")`.
const (
	NSEngine   = "[engine] "
	NSFlush    = "[flush] "
	NSCompact  = "[compact] "
	NSWAL      = "[wal] "
	NSIndex    = "[index] "
	NSRecovery = "[recovery] "
)

// IsNil reports whether l is nil or a typed-nil pointer wrapped in the
// interface — a typed-nil panics on method call, so OrDefault must be
// able to detect it.
func IsNil(l Logger) bool {
	if l == nil {
		return true
	}
	v := reflect.ValueOf(l)
	return v.Kind() == reflect.Ptr && v.IsNil()
}

// OrDefault returns l if valid, otherwise a WARN-level default logger.
func OrDefault(l Logger) Logger {
	if IsNil(l) {
		return NewDefaultLogger(LevelWarn)
	}
	return l
}

// discardLogger drops every message; used when the caller explicitly
// wants silence (e.g. in tests or embedding scenarios).
type discardLogger struct{}

// Discard is a Logger that drops everything.
var Discard Logger = discardLogger{}

func (discardLogger) Errorf(string, ...any) {}
func (discardLogger) Warnf(string, ...any)  {}
func (discardLogger) Infof(string, ...any)  {}
func (discardLogger) Debugf(string, ...any) {}
func (discardLogger) Fatalf(string, ...any) {}
