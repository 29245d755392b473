package logger

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"
)

// Logger provides structured logging for journald
type Logger struct {
	mu     sync.Mutex
	writer io.Writer
	debug  bool
}

// New creates a new logger instance writing to stderr so command output on
// stdout stays machine readable.
func New() *Logger {
	return &Logger{
		writer: os.Stderr,
	}
}

// NewWithWriter creates a logger with a custom writer
func NewWithWriter(w io.Writer) *Logger {
	return &Logger{
		writer: w,
	}
}

// Discard returns a logger that drops everything.
func Discard() *Logger {
	return NewWithWriter(io.Discard)
}

// SetDebug enables or disables DEBUG lines.
func (l *Logger) SetDebug(enabled bool) {
	l.mu.Lock()
	l.debug = enabled
	l.mu.Unlock()
}

// Info logs informational messages
func (l *Logger) Info(msg string, fields ...Field) {
	l.log("INFO", msg, fields...)
}

// Error logs error messages
func (l *Logger) Error(msg string, fields ...Field) {
	l.log("ERROR", msg, fields...)
}

// Warn logs warning messages
func (l *Logger) Warn(msg string, fields ...Field) {
	l.log("WARNING", msg, fields...)
}

// Debug logs debug messages
func (l *Logger) Debug(msg string, fields ...Field) {
	l.mu.Lock()
	enabled := l.debug
	l.mu.Unlock()
	if !enabled {
		return
	}
	l.log("DEBUG", msg, fields...)
}

func (l *Logger) log(level, msg string, fields ...Field) {
	output := fmt.Sprintf("LEVEL=%s MESSAGE=%s", level, msg)
	for _, field := range fields {
		output += fmt.Sprintf(" %s=%v", field.Key, field.Value)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	_, _ = fmt.Fprintln(l.writer, output)
}

// Field represents a key-value pair for structured logging
type Field struct {
	Key   string
	Value interface{}
}

// F creates a new field (shorthand)
func F(key string, value interface{}) Field {
	return Field{Key: key, Value: value}
}

// Common field constructors
func Action(value string) Field           { return F("ACTION", value) }
func Status(value string) Field           { return F("STATUS", value) }
func VM(value string) Field               { return F("VM", value) }
func Count(value int) Field               { return F("COUNT", value) }
func Error(value error) Field             { return F("ERROR", value) }
func Snapshot(value string) Field         { return F("SNAPSHOT", value) }
func SnapshotID(value int32) Field        { return F("SNAPSHOT_ID", value) }
func Reason(value string) Field           { return F("REASON", value) }
func Host(value string) Field             { return F("HOST", value) }
func PowerState(value string) Field       { return F("POWER_STATE", value) }
func Group(value string) Field            { return F("GROUP", value) }
func Timeout(value time.Duration) Field   { return F("TIMEOUT", value) }
func Interval(value time.Duration) Field  { return F("INTERVAL", value) }
func Remaining(value time.Duration) Field { return F("REMAINING", value) }
func Path(value string) Field             { return F("PATH", value) }
