// Package zaplog adapts a zap logger to core.Logger.
package zaplog

import (
	"time"

	"github.com/Swind/go-msgtask/core"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger writes core log calls through zap.
type Logger struct {
	z *zap.Logger
}

var _ core.Logger = (*Logger)(nil)

// New wraps z. A nil z yields a no-op logger.
func New(z *zap.Logger) *Logger {
	if z == nil {
		z = zap.NewNop()
	}
	return &Logger{z: z}
}

// NewProduction builds a JSON logger at the given level ("debug", "info",
// "warn" or "error").
func NewProduction(level string) (*Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, err
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	z, err := cfg.Build()
	if err != nil {
		return nil, err
	}
	return New(z), nil
}

// Zap returns the underlying logger.
func (l *Logger) Zap() *zap.Logger { return l.z }

// Named returns a child logger with the name appended.
func (l *Logger) Named(name string) *Logger { return &Logger{z: l.z.Named(name)} }

// Sync flushes buffered entries.
func (l *Logger) Sync() error { return l.z.Sync() }

func (l *Logger) Debug(msg string, fields ...core.Field) { l.z.Debug(msg, toZap(fields)...) }
func (l *Logger) Info(msg string, fields ...core.Field)  { l.z.Info(msg, toZap(fields)...) }
func (l *Logger) Warn(msg string, fields ...core.Field)  { l.z.Warn(msg, toZap(fields)...) }
func (l *Logger) Error(msg string, fields ...core.Field) { l.z.Error(msg, toZap(fields)...) }

func toZap(fields []core.Field) []zap.Field {
	if len(fields) == 0 {
		return nil
	}
	out := make([]zap.Field, len(fields))
	for i, f := range fields {
		out[i] = toZapField(f)
	}
	return out
}

func toZapField(f core.Field) zap.Field {
	switch v := f.Value.(type) {
	case error:
		// zap.Error always uses the key "error"; keep the caller's key.
		return zap.NamedError(f.Key, v)
	case time.Duration:
		return zap.Duration(f.Key, v)
	case string:
		return zap.String(f.Key, v)
	case int:
		return zap.Int(f.Key, v)
	case int64:
		return zap.Int64(f.Key, v)
	case uint64:
		return zap.Uint64(f.Key, v)
	case bool:
		return zap.Bool(f.Key, v)
	default:
		return zap.Any(f.Key, v)
	}
}
