// Package logging wraps zerolog so the rest of the module never imports it
// directly, keeping the logging backend swappable behind one seam.
package logging

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Logger wraps a zerolog.Logger.
type Logger struct {
	zl zerolog.Logger
}

// Event wraps a zerolog.Event.
type Event struct {
	ze *zerolog.Event
}

// DefaultLogger is used by the package-level helpers below.
var DefaultLogger = Logger{zl: zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).With().Timestamp().Logger()}

// Level mirrors zerolog.Level without exposing it.
type Level int8

const (
	DebugLevel Level = Level(zerolog.DebugLevel)
	InfoLevel  Level = Level(zerolog.InfoLevel)
	WarnLevel  Level = Level(zerolog.WarnLevel)
	ErrorLevel Level = Level(zerolog.ErrorLevel)
	Disabled   Level = Level(zerolog.Disabled)
)

// ParseLevel parses a level string, e.g. from configuration.
func ParseLevel(s string) (Level, error) {
	l, err := zerolog.ParseLevel(s)
	if err != nil {
		return 0, err
	}
	return Level(l), nil
}

// SetGlobalLevel sets the minimum level for DefaultLogger and its children.
func SetGlobalLevel(level Level) {
	zerolog.SetGlobalLevel(zerolog.Level(level))
}

// New builds a Logger writing to w.
func New(w io.Writer) Logger {
	return Logger{zl: zerolog.New(w).With().Timestamp().Logger()}
}

// With starts a field-building chain for a derived logger.
func (l Logger) With() Context { return Context{zc: l.zl.With()} }

// Context accumulates fields for a child Logger.
type Context struct{ zc zerolog.Context }

func (c Context) Str(k, v string) Context           { return Context{c.zc.Str(k, v)} }
func (c Context) Int(k string, v int) Context       { return Context{c.zc.Int(k, v)} }
func (c Context) Int64(k string, v int64) Context   { return Context{c.zc.Int64(k, v)} }
func (c Context) Uint64(k string, v uint64) Context { return Context{c.zc.Uint64(k, v)} }
func (c Context) Err(err error) Context             { return Context{c.zc.Err(err)} }
func (c Context) Logger() Logger                    { return Logger{zl: c.zc.Logger()} }

func (l Logger) Debug() Event { return Event{l.zl.Debug()} }
func (l Logger) Info() Event  { return Event{l.zl.Info()} }
func (l Logger) Warn() Event  { return Event{l.zl.Warn()} }
func (l Logger) Error() Event { return Event{l.zl.Error()} }
func (l Logger) Fatal() Event { return Event{l.zl.Fatal()} }
func (l Logger) Trace() Event { return Event{l.zl.Trace()} }

func (e Event) Str(k, v string) Event             { return Event{e.ze.Str(k, v)} }
func (e Event) Int(k string, v int) Event         { return Event{e.ze.Int(k, v)} }
func (e Event) Int64(k string, v int64) Event     { return Event{e.ze.Int64(k, v)} }
func (e Event) Uint64(k string, v uint64) Event    { return Event{e.ze.Uint64(k, v)} }
func (e Event) Bool(k string, v bool) Event        { return Event{e.ze.Bool(k, v)} }
func (e Event) Dur(k string, v time.Duration) Event { return Event{e.ze.Dur(k, v)} }
func (e Event) Err(err error) Event                { return Event{e.ze.Err(err)} }
func (e Event) Msg(msg string)                     { e.ze.Msg(msg) }
func (e Event) Msgf(format string, v ...interface{}) { e.ze.Msgf(format, v...) }

// Package-level helpers delegate to DefaultLogger, mirroring the common
// "logging.Info().Str(...).Msg(...)" call sites used throughout the module.
func Debug() Event { return DefaultLogger.Debug() }
func Info() Event  { return DefaultLogger.Info() }
func Warn() Event  { return DefaultLogger.Warn() }
func Error() Event { return DefaultLogger.Error() }
func Fatal() Event { return DefaultLogger.Fatal() }
func Trace() Event { return DefaultLogger.Trace() }
