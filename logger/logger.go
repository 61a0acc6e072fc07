// Package logger builds the process zerolog.Logger.
package logger

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// New returns a logger writing to w. format "json" emits JSON lines; anything
// else uses the human-readable console writer. Unknown levels fall back to info.
func New(w io.Writer, level, format string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}

	if !strings.EqualFold(format, "json") {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.TimeOnly}
	}
	return zerolog.New(w).Level(lvl).With().Timestamp().Logger()
}

// Default logs to stderr
func Default(level, format string) zerolog.Logger {
	return New(os.Stderr, level, format)
}

// ShortID trims a uuid to its first block for log context
func ShortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
