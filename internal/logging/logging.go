// Package logging builds the zerolog logger shared by every component.
package logging

import (
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"
)

// FileName is the log file created under Options.Dir.
const FileName = "hooknotify.log"

const consoleTimeFormat = "15:04:05.000"

// Options configures New.
type Options struct {
	// Dir receives FileName as JSON lines. Empty disables the file sink.
	Dir string
	// Level is a zerolog level name; unknown or empty means info.
	Level string
	// Console adds a human-readable writer on ConsoleOut (stderr by default).
	Console    bool
	ConsoleOut io.Writer
	// Component is attached to every entry when set.
	Component string
}

// New returns a logger and a Closer for its file sink. With no sinks
// configured it returns a no-op logger.
func New(opts Options) (zerolog.Logger, io.Closer, error) {
	zerolog.ErrorFieldName = "err"

	var (
		writers []io.Writer
		closer  io.Closer = nopCloser{}
	)
	if opts.Dir != "" {
		if err := os.MkdirAll(opts.Dir, 0o755); err != nil {
			return zerolog.Nop(), closer, err
		}
		f, err := os.OpenFile(filepath.Join(opts.Dir, FileName), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return zerolog.Nop(), closer, err
		}
		writers = append(writers, f)
		closer = f
	}
	if opts.Console {
		out := opts.ConsoleOut
		if out == nil {
			out = os.Stderr
		}
		writers = append(writers, zerolog.ConsoleWriter{Out: out, TimeFormat: consoleTimeFormat})
	}
	if len(writers) == 0 {
		return zerolog.Nop(), closer, nil
	}

	ctx := zerolog.New(zerolog.MultiLevelWriter(writers...)).
		Level(ParseLevel(opts.Level)).
		With().Timestamp().Int("pid", os.Getpid())
	if opts.Component != "" {
		ctx = ctx.Str("component", opts.Component)
	}
	return ctx.Logger(), closer, nil
}

// ParseLevel maps a level name to a zerolog level, defaulting to info.
func ParseLevel(s string) zerolog.Level {
	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(s)))
	if err != nil || lvl == zerolog.NoLevel {
		return zerolog.InfoLevel
	}
	return lvl
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
