package logging

import (
	"io"
	"time"

	"github.com/rs/zerolog"
)

// New builds the service logger. The console format is meant for local
// development, everything else logs JSON lines.
func New(w io.Writer, format, level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}

	if format == "console" {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	}

	return zerolog.New(w).Level(lvl).With().Timestamp().Str("service", "visite-admin").Logger()
}
