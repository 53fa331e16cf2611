// Package logger builds the process-wide zerolog logger.
//
// Output always goes to stderr, as JSON or as a human console format. When a
// file is configured, the same JSON lines are also written to a rotating log
// file.
package logger

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Options configures New
type Options struct {
	Level      string
	Pretty     bool
	File       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

// ParseLevel converts a level name to a zerolog level. Unknown names map to
// info.
func ParseLevel(s string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "trace":
		return zerolog.TraceLevel
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// New creates the logger described by opts. The returned io.Closer flushes
// and closes the log file, if any, and must be closed on exit.
func New(opts Options) (zerolog.Logger, io.Closer) {
	return newWithConsole(opts, os.Stderr)
}

func newWithConsole(opts Options, console io.Writer) (zerolog.Logger, io.Closer) {
	var out io.Writer = console
	if opts.Pretty {
		out = zerolog.ConsoleWriter{Out: console, TimeFormat: time.RFC3339}
	}

	var closer io.Closer = nopCloser{}
	if opts.File != "" {
		lj := &lumberjack.Logger{
			Filename:   opts.File,
			MaxSize:    opts.MaxSizeMB,
			MaxBackups: opts.MaxBackups,
			MaxAge:     opts.MaxAgeDays,
		}
		out = zerolog.MultiLevelWriter(out, lj)
		closer = lj
	}

	log := zerolog.New(out).
		Level(ParseLevel(opts.Level)).
		With().
		Timestamp().
		Str("service", "voicexp").
		Logger()
	return log, closer
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
