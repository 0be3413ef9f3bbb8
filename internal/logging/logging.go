// Package logging builds the zerolog logger used by the CLI.
package logging

import (
	"io"
	"time"

	"github.com/rs/zerolog"
)

// Field names shared by log call sites.
const (
	FuncField  = "func"
	PhaseField = "phase"
)

// New returns a human-readable logger writing to w. Verbose enables debug
// events; otherwise only info and above are written.
func New(w io.Writer, verbose bool) zerolog.Logger {
	level := zerolog.InfoLevel
	if verbose {
		level = zerolog.DebugLevel
	}
	out := zerolog.ConsoleWriter{Out: w, NoColor: true, TimeFormat: time.TimeOnly}
	return zerolog.New(out).Level(level).With().Timestamp().Logger()
}

// NewJSON returns a logger emitting one JSON object per event.
func NewJSON(w io.Writer, verbose bool) zerolog.Logger {
	level := zerolog.InfoLevel
	if verbose {
		level = zerolog.DebugLevel
	}
	return zerolog.New(w).Level(level).With().Timestamp().Logger()
}
