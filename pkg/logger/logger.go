package logger

import (
	"os"

	"github.com/rs/zerolog"
)

// Package-level variable that holds our configured logger instance.
// It starts with a disabled logger to be safe until it's initialized.
var Log zerolog.Logger = zerolog.New(nil).Level(zerolog.Disabled)

// InitLogger initializes the global logger with the desired configuration.
// This function should be called once, from main(). isDevelopment
// switches between a human-friendly console writer (local runs) and
// plain JSON to stdout (production, one log line per event for
// ingestion by a log collector).
func InitLogger(isDevelopment bool) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnixMicro

	if isDevelopment {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
		outputWriter := zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: "15:04:05.000000",
		}
		Log = zerolog.New(outputWriter).With().Timestamp().Caller().Logger()
		return
	}

	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	Log = zerolog.New(os.Stdout).With().Timestamp().Logger()
}

// Get returns the global logger instance.
// This is useful if you need to pass the logger to other libraries that don't use this package directly.
func Get() *zerolog.Logger {
	return &Log
}
