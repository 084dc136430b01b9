// Package logger provides structured, per-component logging on top of zap.
package logger

import (
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger wraps a zap.SugaredLogger, tagging every entry with its component.
type Logger struct {
	component string
	sugar     *zap.SugaredLogger
}

var (
	globalBase *zap.Logger
	globalMu   sync.RWMutex
)

// ParseLevel converts a string into a zapcore.Level, defaulting to info.
func ParseLevel(level string) zapcore.Level {
	switch strings.ToLower(level) {
	case "debug":
		return zapcore.DebugLevel
	case "warn", "warning":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// Initialize sets up the global base logger writing JSON to logFile and stdout.
func Initialize(logFile string, level string) error {
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(ParseLevel(level))
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	if logFile != "" {
		cfg.OutputPaths = []string{"stdout", logFile}
		cfg.ErrorOutputPaths = []string{"stderr", logFile}
	} else {
		cfg.OutputPaths = []string{"stdout"}
	}

	base, err := cfg.Build(zap.AddCallerSkip(1))
	if err != nil {
		return err
	}

	globalMu.Lock()
	globalBase = base
	globalMu.Unlock()
	return nil
}

// NewComponentLogger creates a logger tagged with the given component name.
func NewComponentLogger(component string) *Logger {
	globalMu.RLock()
	base := globalBase
	globalMu.RUnlock()

	if base == nil {
		base, _ = zap.NewProduction(zap.AddCallerSkip(1))
		if base == nil {
			base = zap.NewNop()
		}
	}

	return &Logger{
		component: component,
		sugar:     base.Sugar().With("component", component),
	}
}

func (l *Logger) Debug(format string, args ...interface{}) {
	l.sugar.Debugf(format, args...)
}

func (l *Logger) Info(format string, args ...interface{}) {
	l.sugar.Infof(format, args...)
}

func (l *Logger) Warn(format string, args ...interface{}) {
	l.sugar.Warnf(format, args...)
}

func (l *Logger) Error(format string, args ...interface{}) {
	l.sugar.Errorf(format, args...)
}

// ErrorWithContext logs an error alongside a formatted context message.
func (l *Logger) ErrorWithContext(err error, context string, args ...interface{}) {
	l.sugar.Errorw(fmt.Sprintf(context, args...), "error", err)
}

// WithField returns a derived logger carrying one extra structured field.
func (l *Logger) WithField(key, value string) *Logger {
	return &Logger{
		component: l.component,
		sugar:     l.sugar.With(key, value),
	}
}

// Debug logs at debug level on the package-wide default logger.
func Debug(format string, args ...interface{}) { NewComponentLogger("netsnip").Debug(format, args...) }

// Info logs at info level on the package-wide default logger.
func Info(format string, args ...interface{}) { NewComponentLogger("netsnip").Info(format, args...) }

// Warn logs at warn level on the package-wide default logger.
func Warn(format string, args ...interface{}) { NewComponentLogger("netsnip").Warn(format, args...) }

// Error logs at error level on the package-wide default logger.
func Error(format string, args ...interface{}) { NewComponentLogger("netsnip").Error(format, args...) }
