// Package logging wraps zerolog with subsystem-scoped child loggers.
package logging

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Levels lists the accepted level names, quietest first.
var Levels = []string{"silent", "fatal", "error", "warn", "info", "debug", "trace"}

var levels = map[string]zerolog.Level{
	"silent":  zerolog.Disabled,
	"fatal":   zerolog.FatalLevel,
	"error":   zerolog.ErrorLevel,
	"warn":    zerolog.WarnLevel,
	"warning": zerolog.WarnLevel,
	"info":    zerolog.InfoLevel,
	"debug":   zerolog.DebugLevel,
	"trace":   zerolog.TraceLevel,
}

// Logger hands out child loggers tagged by subsystem or request.
type Logger struct {
	zl zerolog.Logger
}

// New creates a root logger. A nil w means a console writer on stderr.
func New(w io.Writer, level string) *Logger {
	if w == nil {
		w = zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
	}
	return build(w, level)
}

// NewJSON creates a root logger that writes one JSON object per line,
// to stderr when w is nil.
func NewJSON(w io.Writer, level string) *Logger {
	if w == nil {
		w = os.Stderr
	}
	return build(w, level)
}

// ForFormat returns a stderr logger; "json" selects NewJSON, anything
// else the console writer.
func ForFormat(format, level string) *Logger {
	if format == "json" {
		return NewJSON(nil, level)
	}
	return New(nil, level)
}

func build(w io.Writer, level string) *Logger {
	zl := zerolog.New(w).Level(parseLevel(level)).With().Timestamp().Logger()
	return &Logger{zl: zl}
}

// KnownLevel reports whether s names a level. Case is ignored.
func KnownLevel(s string) bool {
	_, ok := levels[strings.ToLower(strings.TrimSpace(s))]
	return ok
}

// parseLevel maps a level name to zerolog; unknown names mean info.
func parseLevel(s string) zerolog.Level {
	if lvl, ok := levels[strings.ToLower(strings.TrimSpace(s))]; ok {
		return lvl
	}
	return zerolog.InfoLevel
}

// Sub returns a child logger with a "subsystem" field.
func (l *Logger) Sub(subsystem string) *Logger {
	return l.With("subsystem", subsystem)
}

// With returns a child logger carrying one more string field.
func (l *Logger) With(key, value string) *Logger {
	return &Logger{zl: l.zl.With().Str(key, value).Logger()}
}

func (l *Logger) Debug() *zerolog.Event { return l.zl.Debug() }
func (l *Logger) Info() *zerolog.Event  { return l.zl.Info() }
func (l *Logger) Warn() *zerolog.Event  { return l.zl.Warn() }
func (l *Logger) Error() *zerolog.Event { return l.zl.Error() }
