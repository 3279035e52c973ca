package core

import (
	"context"
	"sync"
	"testing"
	"time"
)

// captureLogger records every log call.
type captureLogger struct {
	mu      sync.Mutex
	entries []string
}

func (l *captureLogger) add(level, msg string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, level+":"+msg)
}

func (l *captureLogger) Debug(msg string, fields ...Field) { l.add("debug", msg) }
func (l *captureLogger) Info(msg string, fields ...Field)  { l.add("info", msg) }
func (l *captureLogger) Warn(msg string, fields ...Field)  { l.add("warn", msg) }
func (l *captureLogger) Error(msg string, fields ...Field) { l.add("error", msg) }

func (l *captureLogger) has(entry string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, e := range l.entries {
		if e == entry {
			return true
		}
	}
	return false
}

// TestTaskConfig_WithDefaults verifies unset collaborators are filled in
// Given: A nil config and a partial config
// When: withDefaults is applied
// Then: Every collaborator is non-nil and explicit values are kept
func TestTaskConfig_WithDefaults(t *testing.T) {
	// Arrange
	logger := NewNoOpLogger()
	partial := &TaskConfig{Name: "partial", Logger: logger, PeriodicTimeout: -time.Second}

	// Act
	fromNil := (*TaskConfig)(nil).withDefaults()
	fromPartial := partial.withDefaults()

	// Assert
	for name, cfg := range map[string]TaskConfig{"nil": fromNil, "partial": fromPartial} {
		if cfg.Logger == nil || cfg.PanicHandler == nil || cfg.Metrics == nil ||
			cfg.RejectedMessageHandler == nil || cfg.Tracer == nil || cfg.Clock == nil {
			t.Errorf("%s: withDefaults left a nil collaborator: %+v", name, cfg)
		}
		if cfg.HistoryCapacity != defaultTaskHistoryCapacity {
			t.Errorf("%s: HistoryCapacity = %d, want %d", name, cfg.HistoryCapacity, defaultTaskHistoryCapacity)
		}
	}
	if fromPartial.Logger != logger || fromPartial.Name != "partial" {
		t.Error("withDefaults replaced explicit values")
	}
	if fromPartial.PeriodicTimeout != 0 {
		t.Errorf("PeriodicTimeout = %v, want 0", fromPartial.PeriodicTimeout)
	}
	if fromNil.ExitPolicy != ExitDrain {
		t.Errorf("ExitPolicy = %v, want drain", fromNil.ExitPolicy)
	}
}

// TestDefaultRejectedMessageHandler_Logs verifies rejected posts are logged as warnings
// Given: A stopped task using the default rejected handler with a capturing logger
// When: A message is posted
// Then: A "message rejected" warning is logged
func TestDefaultRejectedMessageHandler_Logs(t *testing.T) {
	// Arrange
	logger := &captureLogger{}
	task := NewTask(&recorder{}, &TaskConfig{Name: "rejecting", Logger: logger})
	_ = task.Start()
	_ = task.Close()

	// Act
	_ = task.Send(MessageTypeUser, nil, PriorityNormal)

	// Assert
	if !logger.has("warn:message rejected") {
		t.Errorf("log entries = %v, want a rejected warning", logger.entries)
	}
}

// TestTask_LogsHandlerFailure verifies failures reach the configured logger
func TestTask_LogsHandlerFailure(t *testing.T) {
	logger := &captureLogger{}
	task := NewTaskFunc(func(_ context.Context, msg *Message) error {
		panic("boom")
	}, &TaskConfig{Name: "failing", Logger: logger, PanicHandler: &silentPanicHandler{}})
	_ = task.Start()
	_, _ = task.SendAndWait(MessageTypeUser, nil, PriorityNormal, time.Second)
	_ = task.Close()

	if !logger.has("error:handler failure") {
		t.Errorf("log entries = %v, want a handler failure", logger.entries)
	}
}

// TestFormatLogLine verifies the DefaultLogger line format
func TestFormatLogLine(t *testing.T) {
	got := formatLogLine(LogLevelWarn, "queue full", []Field{F("task", "a"), F("depth", 3)})
	want := "[WARN] queue full {task: a, depth: 3}"
	if got != want {
		t.Errorf("formatLogLine() = %q, want %q", got, want)
	}
	if got := formatLogLine(LogLevelInfo, "plain", nil); got != "[INFO] plain" {
		t.Errorf("formatLogLine() = %q, want %q", got, "[INFO] plain")
	}
}
