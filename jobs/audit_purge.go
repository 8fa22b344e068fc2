package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/odyssey-authz/internal/audit"
	jobmetrics "github.com/odyssey-erp/odyssey-authz/internal/jobs"
)

const (
	jobAuditPurge = "audit_purge"
	purgeAuditSQL = `DELETE FROM authz_audit_log WHERE occurred_at < $1`
)

// AuditPurgeJob deletes denial records past the retention window.
type AuditPurgeJob struct {
	DB      audit.Execer
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
	clock   func() time.Time
}

// NewAuditPurgeJob initialises the purge handler.
func NewAuditPurgeJob(db audit.Execer, logger *slog.Logger, metrics *jobmetrics.Metrics) *AuditPurgeJob {
	return &AuditPurgeJob{
		DB:      db,
		Logger:  logger,
		Metrics: metrics,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// Handle executes one purge run.
func (j *AuditPurgeJob) Handle(ctx context.Context, t *asynq.Task) (err error) {
	if j == nil || j.DB == nil {
		return errors.New("audit purge: handler not configured")
	}
	var payload AuditPurgePayload
	if len(t.Payload()) > 0 {
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
	}
	if payload.RetentionDays <= 0 {
		payload.RetentionDays = DefaultRetentionDays
	}

	tracker := j.Metrics.Track(jobAuditPurge)
	defer func() {
		err = tracker.End(err)
	}()

	cutoff := j.clock().AddDate(0, 0, -payload.RetentionDays)
	tag, err := j.DB.Exec(ctx, purgeAuditSQL, cutoff)
	if err != nil {
		return fmt.Errorf("audit purge: %w", err)
	}
	removed := int(tag.RowsAffected())
	j.Metrics.AddRecords(jobAuditPurge, "purged", removed)
	j.logger().Info("purged audit log",
		slog.Int("retention_days", payload.RetentionDays),
		slog.Time("cutoff", cutoff),
		slog.Int("removed", removed),
	)
	return nil
}

func (j *AuditPurgeJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger
	}
	return slog.Default()
}
