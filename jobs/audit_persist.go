package jobs

import (
	"context"
	"errors"
	"log/slog"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/odyssey-authz/internal/audit"
	jobmetrics "github.com/odyssey-erp/odyssey-authz/internal/jobs"
)

const jobAuditPersist = "audit_persist"

// AuditPersistJob stores queued permission denials.
type AuditPersistJob struct {
	Sink    audit.Sink
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// NewAuditPersistJob builds the handler for audit.TaskPermissionDenied.
func NewAuditPersistJob(sink audit.Sink, logger *slog.Logger, metrics *jobmetrics.Metrics) *AuditPersistJob {
	return &AuditPersistJob{Sink: sink, Logger: logger, Metrics: metrics}
}

// Handle decodes the entry and writes it. Undecodable payloads are skipped;
// sink failures are retried by asynq.
func (j *AuditPersistJob) Handle(ctx context.Context, t *asynq.Task) (err error) {
	if j == nil || j.Sink == nil {
		return errors.New("audit persist: handler not configured")
	}
	tracker := j.Metrics.Track(jobAuditPersist)
	defer func() {
		err = tracker.End(err)
	}()

	entry, err := audit.DecodeTask(t)
	if err != nil {
		j.logger().Warn("dropping malformed audit task", slog.Any("error", err))
		j.Metrics.AddRecords(jobAuditPersist, "dropped", 1)
		return errors.Join(err, asynq.SkipRetry)
	}
	if err := j.Sink.LogPermissionDenied(ctx, entry); err != nil {
		j.logger().Error("persist audit entry",
			slog.String("audit_id", entry.ID),
			slog.String("principal", entry.Principal),
			slog.Any("error", err),
		)
		return err
	}
	j.Metrics.AddRecords(jobAuditPersist, "persisted", 1)
	return nil
}

func (j *AuditPersistJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger
	}
	return slog.Default()
}
