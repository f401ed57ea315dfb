// Package pscio centralizes structured logging for the driver: a single
// process-wide zerolog sink, plus per-engine child loggers that every
// transport and the capture pipeline log through.
package pscio

import (
	"io"
	"os"
	"sync/atomic"

	"github.com/rs/zerolog"
)

var base atomic.Pointer[zerolog.Logger]

func init() {
	l := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()
	base.Store(&l)
}

// SetOutput redirects the process-wide logger to w, replacing the default
// console writer. Intended for cmd/pscctl to wire up --log-json, and
// for tests that want to capture output.
func SetOutput(w io.Writer, json bool) {
	var l zerolog.Logger
	if json {
		l = zerolog.New(w).With().Timestamp().Logger()
	} else {
		l = zerolog.New(zerolog.ConsoleWriter{Out: w}).With().Timestamp().Logger()
	}
	base.Store(&l)
}

// SetLevel adjusts the minimum logged level process-wide.
func SetLevel(lvl zerolog.Level) {
	zerolog.SetGlobalLevel(lvl)
}

// Logger returns the process-wide logger.
func Logger() *zerolog.Logger {
	return base.Load()
}

// For returns a child logger tagged with the owning engine's name, the way
// every tcp.Client/udp.Client/udpfast.Capture logs under its own identity.
func For(engineName string) zerolog.Logger {
	return base.Load().With().Str("engine", engineName).Logger()
}
