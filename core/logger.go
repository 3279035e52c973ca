package core

import (
	"fmt"
	"log"
	"strings"
)

// Logger is the leveled logging collaborator used by tasks and pulsers.
// Implementations can provide custom logging behavior (see observability/zaplog
// for zap).
type Logger interface {
	// Debug logs a debug message with optional fields
	Debug(msg string, fields ...Field)

	// Info logs an info message with optional fields
	Info(msg string, fields ...Field)

	// Warn logs a warning message with optional fields
	Warn(msg string, fields ...Field)

	// Error logs an error message with optional fields
	Error(msg string, fields ...Field)
}

// Field represents a key-value pair for structured logging
type Field struct {
	Key   string
	Value any
}

// F creates a new Field with the given key and value
func F(key string, value any) Field {
	return Field{Key: key, Value: value}
}

// LogLevel is the minimum severity DefaultLogger writes.
type LogLevel int

const (
	LogLevelDebug LogLevel = iota
	LogLevelInfo
	LogLevelWarn
	LogLevelError
)

func (l LogLevel) String() string {
	switch l {
	case LogLevelDebug:
		return "DEBUG"
	case LogLevelInfo:
		return "INFO"
	case LogLevelWarn:
		return "WARN"
	case LogLevelError:
		return "ERROR"
	default:
		return fmt.Sprintf("LogLevel(%d)", int(l))
	}
}

// DefaultLogger writes through the standard log package.
type DefaultLogger struct {
	level LogLevel
}

// NewDefaultLogger creates a DefaultLogger that writes Info and above.
func NewDefaultLogger() *DefaultLogger {
	return &DefaultLogger{level: LogLevelInfo}
}

// NewDefaultLoggerWithLevel creates a DefaultLogger with a custom threshold.
func NewDefaultLoggerWithLevel(level LogLevel) *DefaultLogger {
	return &DefaultLogger{level: level}
}

func (l *DefaultLogger) Debug(msg string, fields ...Field) { l.log(LogLevelDebug, msg, fields) }
func (l *DefaultLogger) Info(msg string, fields ...Field)  { l.log(LogLevelInfo, msg, fields) }
func (l *DefaultLogger) Warn(msg string, fields ...Field)  { l.log(LogLevelWarn, msg, fields) }
func (l *DefaultLogger) Error(msg string, fields ...Field) { l.log(LogLevelError, msg, fields) }

func (l *DefaultLogger) log(level LogLevel, msg string, fields []Field) {
	if level < l.level {
		return
	}
	log.Println(formatLogLine(level, msg, fields))
}

// formatLogLine renders "[LEVEL] msg {k: v, k: v}".
func formatLogLine(level LogLevel, msg string, fields []Field) string {
	var b strings.Builder
	b.WriteByte('[')
	b.WriteString(level.String())
	b.WriteString("] ")
	b.WriteString(msg)
	if len(fields) > 0 {
		b.WriteString(" {")
		for i, f := range fields {
			if i > 0 {
				b.WriteString(", ")
			}
			fmt.Fprintf(&b, "%s: %v", f.Key, f.Value)
		}
		b.WriteByte('}')
	}
	return b.String()
}

// NoOpLogger is a logger that discards all log messages
// Useful for tests or when a task's failures are checked through Stats instead
type NoOpLogger struct{}

// NewNoOpLogger creates a new NoOpLogger
func NewNoOpLogger() *NoOpLogger {
	return &NoOpLogger{}
}

func (l *NoOpLogger) Debug(msg string, fields ...Field) {}
func (l *NoOpLogger) Info(msg string, fields ...Field)  {}
func (l *NoOpLogger) Warn(msg string, fields ...Field)  {}
func (l *NoOpLogger) Error(msg string, fields ...Field) {}
