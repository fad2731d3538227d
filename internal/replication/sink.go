package replication

import (
	"context"
	"log/slog"
)

//go:generate moq -out sink_mock.go . ErrorSink

// ErrorSink receives failures the engine handles internally (integrity
// failures, background sync errors). The host wires one at startup.
type ErrorSink interface {
	Report(ctx context.Context, err error)
}

// LogSink reports errors to a logger.
type LogSink struct {
	Logger *slog.Logger
}

// Report implements ErrorSink.
func (s LogSink) Report(_ context.Context, err error) {
	s.Logger.Error("Replication failure", "error", err)
}
