// Package logger holds the process-wide structured logger used by the heap
// and its tools.
package logger

import (
	"io"
	"log/slog"
	"os"
)

// EnvVar enables debug logging to stderr when set to any non-empty value.
const EnvVar = "PAGEHEAP_LOG"

// L is the global logger instance. It discards all output unless Init is
// called or EnvVar is set.
var L = defaultLogger()

// Options configures the logger.
type Options struct {
	Enabled bool       // If false, all logging is discarded
	Output  io.Writer  // Destination. Default: os.Stderr
	JSON    bool       // Emit JSON records instead of key=value text
	Level   slog.Level // Minimum level. Default: LevelInfo
}

// Init replaces the global logger. Call from main() before the heap is used.
func Init(opts Options) {
	L = build(opts)
}

func build(opts Options) *slog.Logger {
	if !opts.Enabled {
		return slog.New(slog.DiscardHandler)
	}
	out := opts.Output
	if out == nil {
		out = os.Stderr
	}
	hopts := &slog.HandlerOptions{Level: opts.Level}
	if opts.JSON {
		return slog.New(slog.NewJSONHandler(out, hopts))
	}
	return slog.New(slog.NewTextHandler(out, hopts))
}

func defaultLogger() *slog.Logger {
	if os.Getenv(EnvVar) == "" {
		return build(Options{})
	}
	return build(Options{Enabled: true, Level: slog.LevelDebug})
}

// Debug logs a debug message with optional key-value pairs.
func Debug(msg string, args ...any) { L.Debug(msg, args...) }

// Info logs an info message with optional key-value pairs.
func Info(msg string, args ...any) { L.Info(msg, args...) }

// Warn logs a warning message with optional key-value pairs.
func Warn(msg string, args ...any) { L.Warn(msg, args...) }

// Error logs an error message with optional key-value pairs.
func Error(msg string, args ...any) { L.Error(msg, args...) }
