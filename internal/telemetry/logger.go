package telemetry

import (
	"os"

	"github.com/rs/zerolog"
)

// Logger is the narrow logging interface engine.Engine and
// maintainer.Maintainer report through (spec.md §7: WTF for invariant
// violations, Warn for the softer cache-entry-missing miss, Info for the
// opt-in per-package BLOCKED trail).
type Logger interface {
	WTF(msg string, fields map[string]any)
	Warn(msg string, fields map[string]any)
	Blocked(msg string, fields map[string]any)
}

// ZeroLogger is the rs/zerolog-backed default, matching the teacher's own
// global-logger-with-component-field idiom (cmd/pulse's logging bootstrap).
type ZeroLogger struct {
	log zerolog.Logger
}

// NewZeroLogger builds a Logger writing to stderr with a "component" field
// fixed to "pkgvisibility".
func NewZeroLogger() *ZeroLogger {
	return &ZeroLogger{
		log: zerolog.New(os.Stderr).With().Timestamp().Str("component", "pkgvisibility").Logger(),
	}
}

func (z *ZeroLogger) WTF(msg string, fields map[string]any) {
	withFields(z.log.Error(), fields).Msg(msg)
}

func (z *ZeroLogger) Warn(msg string, fields map[string]any) {
	withFields(z.log.Warn(), fields).Msg(msg)
}

func (z *ZeroLogger) Blocked(msg string, fields map[string]any) {
	withFields(z.log.Info(), fields).Msg(msg)
}

func withFields(e *zerolog.Event, fields map[string]any) *zerolog.Event {
	for k, v := range fields {
		e = e.Interface(k, v)
	}
	return e
}

// NoopLogger discards everything; useful for tests.
type NoopLogger struct{}

func (NoopLogger) WTF(string, map[string]any)     {}
func (NoopLogger) Warn(string, map[string]any)    {}
func (NoopLogger) Blocked(string, map[string]any) {}
