// Package observability provides logging setup and Prometheus metrics for
// the pipeline and its collaborators.
package observability

import (
	"log/slog"
	"os"
)

// SetupLogger configures a JSON slog logger with service fields.
// In dev the level drops to debug.
func SetupLogger(service, appEnv string) *slog.Logger {
	opts := &slog.HandlerOptions{}
	if appEnv == "dev" {
		opts.Level = slog.LevelDebug
	}
	h := slog.NewJSONHandler(os.Stdout, opts)
	return slog.New(h).With(
		slog.String("service", service),
		slog.String("env", appEnv),
	)
}
