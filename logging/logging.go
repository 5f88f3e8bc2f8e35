// Package logging provides the engine's structured logger: one JSON or
// text line per event, attributed with the run/agent/node identifiers
// that matter for tracing a single execution through the logs.
package logging

import (
	"io"
	"log/slog"
	"os"
)

// New builds a logger writing to w (os.Stdout if nil). jsonMode selects
// slog's JSON handler; otherwise a human-readable text handler is used.
// debug lowers the level to LevelDebug; otherwise LevelInfo.
func New(w io.Writer, jsonMode, debug bool) *slog.Logger {
	if w == nil {
		w = os.Stdout
	}
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if jsonMode {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	return slog.New(handler)
}

// WithRun returns a logger with run_id attached to every record, the way
// every log line for one execution should be filterable by run.
func WithRun(logger *slog.Logger, runID string) *slog.Logger {
	return logger.With("run_id", runID)
}

// WithAgent further attaches node_id to a run-scoped logger.
func WithAgent(logger *slog.Logger, nodeID string) *slog.Logger {
	return logger.With("node_id", nodeID)
}
