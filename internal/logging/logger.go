package logging

import (
	"io"
	"strings"

	"github.com/phuslu/log"
)

// New builds the console logger used by binaries. Unknown level strings
// degrade to info instead of failing startup.
func New(level string) *log.Logger {
	logger := log.DefaultLogger
	//1.- Resolve the requested verbosity before wiring the writer.
	logger.Level = parseLevel(level)
	logger.TimeFormat = "15:04:05.000"
	logger.Writer = &log.ConsoleWriter{
		ColorOutput:    true,
		QuoteString:    true,
		EndWithMessage: true,
	}
	return &logger
}

// parseLevel maps a config string onto a log level, defaulting to info.
func parseLevel(raw string) log.Level {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug":
		return log.DebugLevel
	case "info", "":
		return log.InfoLevel
	case "warn", "warning":
		return log.WarnLevel
	case "error":
		return log.ErrorLevel
	default:
		return log.InfoLevel
	}
}

// Discard returns a logger whose output is dropped, suitable for tests.
func Discard() *log.Logger {
	logger := log.DefaultLogger
	logger.Writer = &log.IOWriter{Writer: io.Discard}
	return &logger
}

// Ensure substitutes a silenced logger when the caller passed nil so callees
// never guard their own log statements.
func Ensure(logger *log.Logger) *log.Logger {
	if logger != nil {
		return logger
	}
	return Discard()
}

// WithMatch derives a child logger that stamps match and player identifiers on
// every entry it emits.
func WithMatch(logger *log.Logger, matchID, playerID string) *log.Logger {
	base := Ensure(logger)
	//1.- Copy the parent so its context stays untouched.
	child := *base
	ctx := log.NewContext(nil)
	if matchID != "" {
		ctx = ctx.Str("match", matchID)
	}
	if playerID != "" {
		ctx = ctx.Str("player", playerID)
	}
	child.Context = ctx.Value()
	return &child
}
