package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// Logger is a structured key/value logger that writes to the console.
type Logger struct {
	*slog.Logger
}

// NewLogger creates a new Logger writing text records to stdout at the given
// level (debug, info, warn, error).
func NewLogger(level string) *Logger {
	return New(os.Stdout, level)
}

// New creates a Logger writing to w.
func New(w io.Writer, level string) *Logger {
	h := slog.NewTextHandler(w, &slog.HandlerOptions{Level: ParseLevel(level)})
	return &Logger{Logger: slog.New(h)}
}

// Discard returns a Logger that drops everything.
func Discard() *Logger {
	return New(io.Discard, "error")
}

// With returns a Logger that adds args to every record.
func (l *Logger) With(args ...any) *Logger {
	return &Logger{Logger: l.Logger.With(args...)}
}

// ParseLevel maps a level name to a slog.Level. Unknown names mean info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
