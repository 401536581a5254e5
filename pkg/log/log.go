// Package log provides the injected logger interface used throughout the
// executor, so diagnostics can be captured deterministically in tests
// instead of going through global zap.L() calls.
package log

import "go.uber.org/zap"

// Logger is the minimal structured-logging surface the executor depends
// on. It is satisfied by *zap.Logger's corresponding methods.
type Logger interface {
	Debug(msg string, fields ...zap.Field)
	Info(msg string, fields ...zap.Field)
	Warn(msg string, fields ...zap.Field)
	Error(msg string, fields ...zap.Field)
	With(fields ...zap.Field) Logger
}

// zapLogger adapts *zap.Logger to Logger.
type zapLogger struct {
	l *zap.Logger
}

// Wrap adapts an existing *zap.Logger to the Logger interface.
func Wrap(l *zap.Logger) Logger {
	return &zapLogger{l: l}
}

// NewProduction returns a Logger backed by zap's production config.
func NewProduction() (Logger, error) {
	l, err := zap.NewProduction()
	if err != nil {
		return nil, err
	}
	return Wrap(l), nil
}

// Nop returns a Logger that discards everything, for tests that only want
// to assert on call counts via a fake instead of real output.
func Nop() Logger {
	return Wrap(zap.NewNop())
}

func (z *zapLogger) Debug(msg string, fields ...zap.Field) { z.l.Debug(msg, fields...) }
func (z *zapLogger) Info(msg string, fields ...zap.Field)  { z.l.Info(msg, fields...) }
func (z *zapLogger) Warn(msg string, fields ...zap.Field)  { z.l.Warn(msg, fields...) }
func (z *zapLogger) Error(msg string, fields ...zap.Field) { z.l.Error(msg, fields...) }

func (z *zapLogger) With(fields ...zap.Field) Logger {
	return &zapLogger{l: z.l.With(fields...)}
}
