// Package logger builds the zerolog loggers used across progresskit.
// Library packages accept a zerolog.Logger value and default to the nop
// logger, so wiring a sink is always the caller's decision.
package logger

import (
	"io"
	"os"

	"github.com/rs/zerolog"
)

const permission = 0o664

// Build accumulates sink options before Make.
type Build struct {
	writer  io.Writer
	path    string
	console bool
}

// New starts a logger build. With no options Make targets stdout.
func New() *Build {
	return &Build{}
}

// FromPath appends log lines to the file at path.
func (b *Build) FromPath(path string) *Build {
	b.path = path
	return b
}

// FromBuffer writes log lines to w.
func (b *Build) FromBuffer(w io.Writer) *Build {
	b.writer = w
	return b
}

// Console renders human-readable output instead of JSON lines.
func (b *Build) Console() *Build {
	b.console = true
	return b
}

// Make finalizes the build into a timestamped logger.
func (b *Build) Make() (zerolog.Logger, error) {
	var w io.Writer = os.Stdout
	if b.writer != nil {
		w = b.writer
	}
	if b.path != "" {
		f, err := os.OpenFile(b.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, permission)
		if err != nil {
			return zerolog.Nop(), err
		}
		w = zerolog.SyncWriter(f)
	}
	if b.console {
		w = zerolog.ConsoleWriter{Out: w}
	}
	return zerolog.New(w).With().Timestamp().Logger(), nil
}

// Nop returns a logger that discards everything.
func Nop() zerolog.Logger {
	return zerolog.Nop()
}
