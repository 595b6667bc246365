package logger

import (
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger wraps a sugared zap logger. A nil *Logger drops everything except
// Fatal, so components can hold an optional logger without checks.
type Logger struct {
	sugar *zap.SugaredLogger
}

// New builds a production (JSON) logger for mode "prod" or "production" and a
// console development logger otherwise. level overrides the default level
// when non-empty.
func New(mode, level string) (*Logger, error) {
	var cfg zap.Config
	switch strings.ToLower(strings.TrimSpace(mode)) {
	case "prod", "production":
		cfg = zap.NewProductionConfig()
	default:
		cfg = zap.NewDevelopmentConfig()
	}
	if level = strings.TrimSpace(level); level != "" {
		lvl, err := zapcore.ParseLevel(level)
		if err != nil {
			return nil, fmt.Errorf("logger: LOG_LEVEL: %w", err)
		}
		cfg.Level = zap.NewAtomicLevelAt(lvl)
	}
	z, err := cfg.Build()
	if err != nil {
		return nil, err
	}
	return &Logger{sugar: z.Sugar()}, nil
}

// NewFromEnv reads LOG_MODE and LOG_LEVEL.
func NewFromEnv() (*Logger, error) {
	return New(os.Getenv("LOG_MODE"), os.Getenv("LOG_LEVEL"))
}

// FromCore wraps an existing zap core.
func FromCore(core zapcore.Core) *Logger {
	return &Logger{sugar: zap.New(core).Sugar()}
}

func Nop() *Logger {
	return &Logger{sugar: zap.NewNop().Sugar()}
}

func (l *Logger) Sync() {
	if l == nil {
		return
	}
	_ = l.sugar.Sync()
}

func (l *Logger) Debug(msg string, kv ...interface{}) {
	if l != nil {
		l.sugar.Debugw(msg, kv...)
	}
}

func (l *Logger) Info(msg string, kv ...interface{}) {
	if l != nil {
		l.sugar.Infow(msg, kv...)
	}
}

func (l *Logger) Warn(msg string, kv ...interface{}) {
	if l != nil {
		l.sugar.Warnw(msg, kv...)
	}
}

func (l *Logger) Error(msg string, kv ...interface{}) {
	if l != nil {
		l.sugar.Errorw(msg, kv...)
	}
}

// Fatal logs and exits, falling back to stderr on a nil logger.
func (l *Logger) Fatal(msg string, kv ...interface{}) {
	if l == nil {
		fmt.Fprintln(os.Stderr, append([]interface{}{msg}, kv...)...)
		os.Exit(1)
	}
	l.sugar.Fatalw(msg, kv...)
}

// With returns a child logger carrying the given fields.
func (l *Logger) With(kv ...interface{}) *Logger {
	if l == nil {
		return Nop()
	}
	return &Logger{sugar: l.sugar.With(kv...)}
}
