// Package oslog wires the process-wide structured logger every other
// package in this module logs through.
package oslog

import (
	"fmt"
	"io"
	"log/slog"
	"os"
)

var logger *slog.Logger

func init() {
	logger = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
}

// Configure rebuilds the global logger from a textual level and a component
// tag, mirroring the teacher's InicializarLogger(level, moduleName).
func Configure(level string, component string) {
	logger = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: parseLevel(level),
	})).With("component", component)
}

// ConfigureOutput is like Configure but writes to an arbitrary sink, used
// when a run wants its diagnostic dump redirected to a file instead of
// stdout (spec's DumpProgram/DumpContextSwitch toggles never change
// semantics, only where the trace goes).
func ConfigureOutput(w io.Writer, level string, component string) {
	logger = slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{
		Level: parseLevel(level),
	})).With("component", component)
}

func parseLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Logger returns the current global logger.
func Logger() *slog.Logger {
	return logger
}

// With returns a child logger tagged with the given key/value pairs,
// convenient for per-process or per-page log context.
func With(args ...any) *slog.Logger {
	return logger.With(args...)
}

// Fatalf logs an error line and terminates the host, used for the
// host-fatal conditions spec.md §5/§7 names (out-of-memory at map time).
func Fatalf(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	logger.Error(msg)
	os.Exit(1)
}
