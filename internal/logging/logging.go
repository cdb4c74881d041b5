package logging

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const app = "taskboard"

// New builds the process logger and installs it as the zerolog global.
// format is "console" (default) or "json".
func New(level, format string) (zerolog.Logger, error) {
	return newLogger(os.Stdout, level, format, true)
}

func newLogger(out io.Writer, level, format string, global bool) (zerolog.Logger, error) {
	lvl, err := ParseLevel(level)
	if err != nil {
		return zerolog.Nop(), err
	}
	var w io.Writer
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "", "console":
		w = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	case "json":
		w = out
	default:
		return zerolog.Nop(), fmt.Errorf("unknown log format %q", format)
	}
	logger := zerolog.New(w).With().Timestamp().Str("app", app).Logger()
	if !global {
		return logger.Level(lvl), nil
	}
	// The process logger is gated only by the global level, which SetLevel adjusts.
	zerolog.SetGlobalLevel(lvl)
	log.Logger = logger
	return logger, nil
}

// ParseLevel maps a config level name to zerolog; empty means info.
func ParseLevel(level string) (zerolog.Level, error) {
	level = strings.ToLower(strings.TrimSpace(level))
	if level == "" {
		return zerolog.InfoLevel, nil
	}
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		return zerolog.NoLevel, fmt.Errorf("invalid log level %q: %w", level, err)
	}
	return lvl, nil
}

// SetLevel changes the level of the global zerolog logger, used by config reloads.
func SetLevel(level string) error {
	lvl, err := ParseLevel(level)
	if err != nil {
		return err
	}
	zerolog.SetGlobalLevel(lvl)
	return nil
}
