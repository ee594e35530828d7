// Package logger provides structured logging for the Settlement Layer.
// Services receive a *Logger scoped to their component name.
package logger

import (
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
)

// Logger wraps a zerolog.Logger with key-value convenience methods.
type Logger struct {
	zl zerolog.Logger
}

// Config holds logger configuration.
type Config struct {
	Level  string // debug, info, warn, error
	Pretty bool   // console writer instead of JSON
	Output io.Writer
}

// New creates a logger for the given component.
func New(component string, cfg Config) *Logger {
	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}
	if cfg.Pretty {
		out = zerolog.ConsoleWriter{Out: out}
	}

	level := parseLevel(cfg.Level)
	zl := zerolog.New(out).Level(level).With().
		Timestamp().
		Str("component", component).
		Logger()

	return &Logger{zl: zl}
}

// NewDefault creates a logger with default settings (info level, JSON).
func NewDefault(component string) *Logger {
	return New(component, Config{})
}

// Nop returns a logger that discards everything. Useful in tests.
func Nop() *Logger {
	return &Logger{zl: zerolog.Nop()}
}

// With returns a child logger with an extra field attached.
func (l *Logger) With(key string, value any) *Logger {
	return &Logger{zl: l.zl.With().Interface(key, value).Logger()}
}

// Debug logs a debug message with optional key-value pairs.
func (l *Logger) Debug(msg string, kv ...any) { emit(l.zl.Debug(), msg, kv) }

// Info logs an info message with optional key-value pairs.
func (l *Logger) Info(msg string, kv ...any) { emit(l.zl.Info(), msg, kv) }

// Warn logs a warning with optional key-value pairs.
func (l *Logger) Warn(msg string, kv ...any) { emit(l.zl.Warn(), msg, kv) }

// Error logs an error with optional key-value pairs.
func (l *Logger) Error(msg string, kv ...any) { emit(l.zl.Error(), msg, kv) }

func emit(ev *zerolog.Event, msg string, kv []any) {
	for i := 0; i+1 < len(kv); i += 2 {
		key, ok := kv[i].(string)
		if !ok {
			continue
		}
		switch v := kv[i+1].(type) {
		case error:
			if v != nil {
				ev = ev.Str(key, v.Error())
			}
		default:
			ev = ev.Interface(key, v)
		}
	}
	ev.Msg(msg)
}

func parseLevel(s string) zerolog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return zerolog.DebugLevel
	case "warn":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}
