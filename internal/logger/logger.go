//go:build linux

package logger

import (
	"log/slog"
	"os"
)

// LogFormat selects the slog.Handler a logger writes through.
type LogFormat int

const (
	LogText LogFormat = iota
	LogJSON
)

// LoggerOpts configures CreateLogger.
type LoggerOpts struct {
	LogLevel  slog.Level
	LogFormat LogFormat
}

// Log is the process-wide structured logger, set once by CreateLogger.
var Log *slog.Logger

// CreateLogger builds the global logger on first call; later calls return
// the already-created instance regardless of opts.
func CreateLogger(opts *LoggerOpts) *slog.Logger {
	var logHandler slog.Handler

	if Log != nil {
		return Log
	}

	handlerOpts := &slog.HandlerOptions{
		Level: opts.LogLevel,
	}

	// Logs go to stderr: stdout is reserved for the command's JSON result.
	if opts.LogFormat == LogText {
		logHandler = slog.NewTextHandler(os.Stderr, handlerOpts)
	} else {
		logHandler = slog.NewJSONHandler(os.Stderr, handlerOpts)
	}

	// Create a new structured logger.
	logger := slog.New(logHandler)

	// Add context fields.
	Log = logger.With(
		slog.Int("pid", os.Getpid()),
	)

	// Set as the default logger.
	slog.SetDefault(Log)

	return Log
}
