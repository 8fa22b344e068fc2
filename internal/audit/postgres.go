package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
)

const insertDenialSQL = `INSERT INTO authz_audit_log (id, principal, tenant, resource, action, context, occurred_at)
VALUES ($1, $2, NULLIF($3, ''), $4, $5, $6, $7)
ON CONFLICT (id) DO NOTHING`

// Execer is the subset of pgx used to persist entries. *pgxpool.Pool satisfies it.
type Execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// PostgresSink writes denials into authz_audit_log.
type PostgresSink struct {
	db Execer
}

// NewPostgresSink returns a sink backed by db.
func NewPostgresSink(db Execer) *PostgresSink {
	return &PostgresSink{db: db}
}

// LogPermissionDenied implements Sink. Inserts are idempotent on entry ID so
// queue redeliveries do not duplicate rows.
func (s *PostgresSink) LogPermissionDenied(ctx context.Context, entry Entry) error {
	if s == nil || s.db == nil {
		return errors.New("audit: postgres sink not initialised")
	}
	if entry.ID == "" || entry.Principal == "" || entry.Resource == "" || entry.Action == "" {
		return errors.New("audit: entry requires id/principal/resource/action")
	}
	meta, err := json.Marshal(entry.Context)
	if err != nil {
		return fmt.Errorf("audit: encode context: %w", err)
	}
	if _, err := s.db.Exec(ctx, insertDenialSQL, entry.ID, entry.Principal, entry.Tenant, entry.Resource, entry.Action, meta, entry.Timestamp); err != nil {
		return fmt.Errorf("audit: insert denial: %w", err)
	}
	return nil
}
