package log

import (
	"fmt"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger is the scheduler's structured logger. Every call site passes a
// message followed by alternating key/value pairs, matching the call
// convention used throughout the teacher codebase's worker loops.
type Logger struct {
	z *zap.Logger
}

var root = New(zapcore.InfoLevel, nil)

// SetRoot replaces the package-level default logger.
func SetRoot(l *Logger) { root = l }

// New builds a Logger writing to stderr at the given level, optionally
// tee'd into an additional sink (e.g. an *AsyncFileWriter).
func New(level zapcore.Level, file *AsyncFileWriter) *Logger {
	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.TimeKey = "t"
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	consoleEncoder := zapcore.NewConsoleEncoder(encoderCfg)

	cores := []zapcore.Core{
		zapcore.NewCore(consoleEncoder, zapcore.AddSync(os.Stderr), level),
	}
	if file != nil {
		cores = append(cores, zapcore.NewCore(zapcore.NewJSONEncoder(encoderCfg), zapcore.AddSync(file), level))
	}
	return &Logger{z: zap.New(zapcore.NewTee(cores...))}
}

func toFields(ctx []interface{}) []zap.Field {
	fields := make([]zap.Field, 0, len(ctx)/2)
	for i := 0; i+1 < len(ctx); i += 2 {
		key, ok := ctx[i].(string)
		if !ok {
			key = fmt.Sprintf("%v", ctx[i])
		}
		fields = append(fields, zap.Any(key, ctx[i+1]))
	}
	return fields
}

// Trace logs at the finest granularity (mapped to zap Debug, one level below Debug in intent).
func (l *Logger) Trace(msg string, ctx ...interface{}) { l.z.Debug(msg, toFields(ctx)...) }

// Debug logs a debug-level record.
func (l *Logger) Debug(msg string, ctx ...interface{}) { l.z.Debug(msg, toFields(ctx)...) }

// Info logs an info-level record.
func (l *Logger) Info(msg string, ctx ...interface{}) { l.z.Info(msg, toFields(ctx)...) }

// Warn logs a warning.
func (l *Logger) Warn(msg string, ctx ...interface{}) { l.z.Warn(msg, toFields(ctx)...) }

// Error logs an error.
func (l *Logger) Error(msg string, ctx ...interface{}) { l.z.Error(msg, toFields(ctx)...) }

// Sync flushes any buffered log entries.
func (l *Logger) Sync() error { return l.z.Sync() }

// Package-level convenience wrappers over the root logger, mirroring the
// teacher's package-level log.Info/log.Warn call sites.

func Trace(msg string, ctx ...interface{}) { root.Trace(msg, ctx...) }
func Debug(msg string, ctx ...interface{}) { root.Debug(msg, ctx...) }
func Info(msg string, ctx ...interface{})  { root.Info(msg, ctx...) }
func Warn(msg string, ctx ...interface{})  { root.Warn(msg, ctx...) }
func Error(msg string, ctx ...interface{}) { root.Error(msg, ctx...) }
