// Package logging builds the zerolog loggers used across ctroiprep.
package logging

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Component names stamped on every record.
const (
	ComponentCLI      = "cli"
	ComponentBatch    = "batch"
	ComponentPipeline = "pipeline"
)

// New returns a JSON logger writing to w at the given level.
func New(w io.Writer, level zerolog.Level) zerolog.Logger {
	return zerolog.New(w).
		Level(level).
		With().
		Timestamp().
		Logger()
}

// NewConsole returns a human-readable logger on stderr.
func NewConsole(level zerolog.Level) zerolog.Logger {
	return New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.TimeOnly}, level)
}

// Level maps the verbose flag to a log level.
func Level(verbose bool) zerolog.Level {
	if verbose {
		return zerolog.DebugLevel
	}
	return zerolog.InfoLevel
}

// For returns a child logger tagged with component.
func For(logger zerolog.Logger, component string) zerolog.Logger {
	return logger.With().Str("component", component).Logger()
}
