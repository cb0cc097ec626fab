package logger

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

var (
	// Output is where log lines go. Stdout is left to command output.
	Output io.Writer = os.Stderr

	// Logger is the global logger instance
	Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
)

// Init initializes the global logger. format "console" switches to the
// human readable writer; anything else logs JSON lines.
func Init(level, format string) zerolog.Logger {
	logLevel, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil || level == "" {
		logLevel = zerolog.InfoLevel
	}

	zerolog.SetGlobalLevel(logLevel)

	output := Output
	if format == "console" {
		output = zerolog.ConsoleWriter{
			Out:        Output,
			TimeFormat: time.RFC3339,
		}
	}

	Logger = zerolog.New(output).
		Level(logLevel).
		With().
		Timestamp().
		Logger()

	Logger.Debug().
		Str("level", logLevel.String()).
		Str("format", format).
		Msg("logger initialized")

	return Logger
}

// WithComponent returns a logger with a component field
func WithComponent(component string) zerolog.Logger {
	return Logger.With().Str("component", component).Logger()
}
