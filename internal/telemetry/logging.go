// Package telemetry wires up structured logging and OpenTelemetry tracing
// and metrics for the runner service: logging through RUNNER_* environment
// variables, the OTLP exporters through OTEL_EXPORTER_OTLP_* ones.
package telemetry

import (
	"log/slog"
	"os"
	"strings"
)

// Init configures the global slog logger: JSON output when RUNNER_JSON_LOG
// is truthy, text otherwise; level from RUNNER_LOG_LEVEL (default info).
func Init(service string) *slog.Logger {
	jsonLog := isTruthy(os.Getenv("RUNNER_JSON_LOG"))
	level := levelFromEnv()

	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: level}
	if jsonLog {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	logger := slog.New(handler).With("service", service)
	slog.SetDefault(logger)
	logger.Info("logging initialized", "json", jsonLog, "level", level)
	return logger
}

func isTruthy(v string) bool {
	switch strings.ToLower(v) {
	case "1", "true", "json":
		return true
	default:
		return false
	}
}

func levelFromEnv() slog.Level {
	switch strings.ToLower(os.Getenv("RUNNER_LOG_LEVEL")) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
