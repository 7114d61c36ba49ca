// Package logging provides structured logging using slog.
package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/google/uuid"
)

// Config holds logging configuration.
type Config struct {
	Format string `yaml:"format"` // "json" | "text"
	Level  string `yaml:"level"`  // "debug" | "info" | "warn" | "error"
}

// Setup initializes the global slog logger based on configuration.
func Setup(cfg Config) {
	slog.SetDefault(slog.New(NewHandler(cfg, os.Stdout)))
}

// NewHandler builds the handler Setup installs, writing to w.
func NewHandler(cfg Config, w io.Writer) slog.Handler {
	opts := &slog.HandlerOptions{
		Level: parseLevel(cfg.Level),
	}

	switch strings.ToLower(cfg.Format) {
	case "json":
		return slog.NewJSONHandler(w, opts)
	default:
		return slog.NewTextHandler(w, opts)
	}
}

// parseLevel converts a string level to slog.Level.
func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// ValidLevel reports whether level is empty or one parseLevel knows.
func ValidLevel(level string) bool {
	switch strings.ToLower(level) {
	case "", "debug", "info", "warn", "warning", "error":
		return true
	}
	return false
}

// runIDKey is the context key for run IDs.
type runIDKey struct{}

// WithRunID adds a run ID to the context.
func WithRunID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, runIDKey{}, id)
}

// RunID retrieves the run ID from context.
func RunID(ctx context.Context) string {
	if id, ok := ctx.Value(runIDKey{}).(string); ok {
		return id
	}
	return ""
}

// GenerateRunID creates a new unique run ID.
func GenerateRunID() string {
	return uuid.NewString()
}

// RunLogger creates a logger with run context fields.
func RunLogger(runID, pipelineContext string) *slog.Logger {
	return slog.With(
		"run_id", runID,
		"context", pipelineContext,
	)
}

// StageLogger narrows a run logger to one stage attempt.
func StageLogger(run *slog.Logger, stage string, attempt int) *slog.Logger {
	return run.With("stage", stage, "attempt", attempt)
}

// Component returns a logger with a component name.
func Component(name string) *slog.Logger {
	return slog.With("component", name)
}
