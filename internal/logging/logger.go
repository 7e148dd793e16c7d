// Package logging builds the process-wide structured logger. Sync
// passes emit high-volume per-file detail at debug level, so the
// development handler carries source locations to trace a line back to
// the emitting site, while production stays compact JSON at info level.
package logging

import (
	"io"
	"log/slog"
	"os"
)

// NewLogger creates the logger for the given environment. Anything
// other than production is treated as development.
func NewLogger(env string) *slog.Logger {
	return slog.New(newHandler(env, os.Stdout))
}

func newHandler(env string, w io.Writer) slog.Handler {
	if env == "production" {
		return slog.NewJSONHandler(w, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		})
	}

	return slog.NewTextHandler(w, &slog.HandlerOptions{
		Level:     slog.LevelDebug,
		AddSource: true,
	})
}

// WithWorkspace stamps every record with the workspace it belongs to.
// One process syncs one workspace, but aggregated logs from several
// machines still need the id on every line.
func WithWorkspace(logger *slog.Logger, workspaceID string) *slog.Logger {
	return logger.With(slog.String("workspace_id", workspaceID))
}
