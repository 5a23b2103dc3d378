package nimi

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// NewLogger builds the process-wide log sink. In console mode it writes
// human-readable, colourised lines (zerolog.ConsoleWriter) to w; otherwise
// it writes newline-delimited JSON. This mirrors the two logging modes the
// teacher's pkg/log exposes (ConsoleLogger for interactive use, a plain
// encoder for machine consumption).
func NewLogger(w io.Writer, console bool) zerolog.Logger {
	if console {
		cw := zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
		return zerolog.New(cw).With().Timestamp().Logger()
	}
	return zerolog.New(w).With().Timestamp().Logger()
}

// ConsoleLogger returns a logger suitable for an interactive terminal,
// matching the shape of lxcri's test helper of the same name.
func ConsoleLogger(debug bool) zerolog.Logger {
	l := NewLogger(os.Stderr, true)
	if debug {
		l = l.Level(zerolog.DebugLevel)
	} else {
		l = l.Level(zerolog.InfoLevel)
	}
	return l
}
