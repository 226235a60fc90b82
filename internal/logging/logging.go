// Package logging builds the zerolog logger used by every component.
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

const (
	EnvLogLevel  = "UART_MCP_LOG_LEVEL"
	EnvLogFormat = "UART_MCP_LOG_FORMAT"

	FormatConsole = "console"
	FormatJSON    = "json"
)

// Normalize maps a level name to its canonical upper-case form.
// WARN is accepted as WARNING.
func Normalize(level string) (string, error) {
	switch name := strings.ToUpper(strings.TrimSpace(level)); name {
	case "DEBUG", "INFO", "WARNING", "ERROR", "CRITICAL":
		return name, nil
	case "WARN":
		return "WARNING", nil
	case "":
		return "INFO", nil
	default:
		return "", fmt.Errorf("unknown log level %q", level)
	}
}

// ParseLevel converts a level name to a zerolog level. CRITICAL maps to
// ErrorLevel; nothing in the process logs at fatal level.
func ParseLevel(level string) (zerolog.Level, error) {
	name, err := Normalize(level)
	if err != nil {
		return zerolog.InfoLevel, err
	}
	switch name {
	case "DEBUG":
		return zerolog.DebugLevel, nil
	case "WARNING":
		return zerolog.WarnLevel, nil
	case "ERROR", "CRITICAL":
		return zerolog.ErrorLevel, nil
	default:
		return zerolog.InfoLevel, nil
	}
}

// Level is the minimum level of every logger built by New. It can change
// while those loggers and their children are in use.
type Level struct {
	v      atomic.Int32
	pinned bool
}

// Get returns the current minimum level.
func (l *Level) Get() zerolog.Level {
	return zerolog.Level(l.v.Load())
}

// Set changes the minimum level.
func (l *Level) Set(lvl zerolog.Level) {
	l.v.Store(int32(lvl))
}

// Pinned reports whether the level came from UART_MCP_LOG_LEVEL.
func (l *Level) Pinned() bool {
	return l.pinned
}

// Run drops events below the current level.
func (l *Level) Run(e *zerolog.Event, level zerolog.Level, _ string) {
	if level < l.Get() {
		e.Discard()
	}
}

// New returns a logger writing to w at level. format is console or json.
// UART_MCP_LOG_LEVEL and UART_MCP_LOG_FORMAT override the arguments. The
// returned Level adjusts the logger and everything derived from it.
func New(level, format string, w io.Writer) (zerolog.Logger, *Level, error) {
	pinned := false
	if env := os.Getenv(EnvLogLevel); env != "" {
		level = env
		pinned = true
	}
	if env := os.Getenv(EnvLogFormat); env != "" {
		format = env
	}

	lvl, err := ParseLevel(level)
	if err != nil {
		return zerolog.Nop(), nil, err
	}

	var out io.Writer
	switch strings.ToLower(format) {
	case "", FormatConsole:
		out = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339, NoColor: !isTerminal(w)}
	case FormatJSON:
		out = w
	default:
		return zerolog.Nop(), nil, fmt.Errorf("unknown log format %q", format)
	}

	gate := &Level{pinned: pinned}
	gate.Set(lvl)
	return zerolog.New(out).Hook(gate).With().Timestamp().Str("app", "uart-mcp").Logger(), gate, nil
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	info, err := f.Stat()
	return err == nil && info.Mode()&os.ModeCharDevice != 0
}
