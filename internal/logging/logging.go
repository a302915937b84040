// Package logging provides the zerolog setup shared by every component.
package logging

import (
	"os"
	"time"

	"github.com/rs/zerolog"
)

// New builds a component-scoped logger. levelName is parsed case-insensitively
// ("debug", "info", "warn", "error"); an unrecognised value falls back to info.
func New(component string, levelName string) zerolog.Logger {
	level, err := zerolog.ParseLevel(levelName)
	if err != nil {
		level = zerolog.InfoLevel
	}

	writer := zerolog.MultiLevelWriter(
		specificLevelWriter{
			Writer: zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339},
			levels: []zerolog.Level{zerolog.DebugLevel, zerolog.InfoLevel, zerolog.WarnLevel},
		},
		specificLevelWriter{
			Writer: zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339},
			levels: []zerolog.Level{zerolog.ErrorLevel, zerolog.FatalLevel, zerolog.PanicLevel},
		},
	)

	return zerolog.New(writer).
		Level(level).
		With().
		Timestamp().
		Str("component", component).
		Logger()
}

// specificLevelWriter routes writes to the embedded writer only for the
// configured levels, so INFO/WARN go to stdout and ERROR+ go to stderr.
type specificLevelWriter struct {
	zerolog.ConsoleWriter
	levels []zerolog.Level
}

func (w specificLevelWriter) WriteLevel(level zerolog.Level, p []byte) (int, error) {
	for _, l := range w.levels {
		if l == level {
			return w.ConsoleWriter.Write(p)
		}
	}
	return len(p), nil
}
