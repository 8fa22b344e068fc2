package audit

import (
	"context"
	"log/slog"
)

// SlogSink writes denials as structured log records for log aggregation.
type SlogSink struct {
	logger *slog.Logger
}

// NewSlogSink creates a sink that writes to logger.
func NewSlogSink(logger *slog.Logger) *SlogSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &SlogSink{logger: logger}
}

// LogPermissionDenied implements Sink.
func (s *SlogSink) LogPermissionDenied(ctx context.Context, entry Entry) error {
	attrs := []slog.Attr{
		slog.String("event", "permission_denied"),
		slog.String("audit_id", entry.ID),
		slog.String("principal", entry.Principal),
		slog.String("resource", entry.Resource),
		slog.String("action", entry.Action),
		slog.Time("timestamp", entry.Timestamp),
	}
	if entry.Tenant != "" {
		attrs = append(attrs, slog.String("tenant", entry.Tenant))
	}
	if len(entry.Context) > 0 {
		attrs = append(attrs, slog.Any("context", entry.Context))
	}
	s.logger.LogAttrs(ctx, slog.LevelInfo, "authorization denied", attrs...)
	return nil
}
