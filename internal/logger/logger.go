package logger

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

var (
	development = false

	output = zerolog.LevelWriter(nil)
)

func init() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
}

// SetDevelopment switches subsequently created loggers to a human-readable
// console format. Call before the first GetLogger.
func SetDevelopment(v bool) {
	development = v
}

// SetOutput routes all subsequently created loggers to w. Used to tee logs
// into a file alongside stderr.
func SetOutput(w zerolog.LevelWriter) {
	output = w
}

// GetLogger returns a logger scoped to a component. Every component of the
// engine gets its own logger so the emitting component is always visible in
// the output.
func GetLogger(component string) zerolog.Logger {
	w := output
	if w == nil {
		w = zerolog.MultiLevelWriter(os.Stderr)
	}

	if !development {
		return zerolog.New(w).With().Timestamp().Str("component", component).Logger()
	}

	console := zerolog.ConsoleWriter{
		Out:        os.Stderr,
		TimeFormat: time.RFC3339,
		FormatLevel: func(i any) string {
			return strings.ToUpper(fmt.Sprintf("[%5s]", i))
		},
		FormatCaller: func(i any) string {
			return filepath.Base(fmt.Sprintf("%s", i))
		},
	}
	return zerolog.New(console).With().Timestamp().Str("component", component).Caller().Logger()
}
