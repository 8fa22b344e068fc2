package jobs

import (
	"encoding/json"
	"fmt"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the queue for maintenance tasks.
	QueueDefault = "default"
	// TaskAuditPurge removes audit rows older than the retention window.
	TaskAuditPurge = "authz:audit:purge"
	// DefaultRetentionDays is used when a purge payload carries no retention.
	DefaultRetentionDays = 90
)

// AuditPurgePayload configures one purge run.
type AuditPurgePayload struct {
	RetentionDays int `json:"retention_days"`
}

// NewAuditPurgeTask constructs the purge task for the scheduler.
func NewAuditPurgeTask(retentionDays int) (*asynq.Task, error) {
	data, err := json.Marshal(AuditPurgePayload{RetentionDays: retentionDays})
	if err != nil {
		return nil, fmt.Errorf("marshal audit purge payload: %w", err)
	}
	return asynq.NewTask(TaskAuditPurge, data, asynq.Queue(QueueDefault)), nil
}
