package roles

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/odyssey-erp/odyssey-authz/internal/platform/db"
)

const (
	resolveScopedSQL = `SELECT role FROM authz_role_assignments
WHERE principal = $1 AND application = $2 AND (tenant = $3 OR tenant IS NULL)
ORDER BY tenant NULLS LAST, role`

	resolveGlobalSQL = `SELECT role FROM authz_role_assignments
WHERE principal = $1 AND application = $2 AND tenant IS NULL
ORDER BY role`

	assignSQL = `INSERT INTO authz_role_assignments (principal, application, tenant, role)
VALUES ($1, $2, $3, $4)
ON CONFLICT ON CONSTRAINT authz_role_assignments_unique DO NOTHING`

	revokeSQL = `DELETE FROM authz_role_assignments
WHERE principal = $1 AND application = $2 AND tenant IS NOT DISTINCT FROM $3 AND role = $4`

	clearScopeSQL = `DELETE FROM authz_role_assignments
WHERE principal = $1 AND application = $2 AND tenant IS NOT DISTINCT FROM $3`

	listSQL = `SELECT principal, application, COALESCE(tenant, ''), role, created_at
FROM authz_role_assignments
WHERE principal = $1 AND application = $2
ORDER BY tenant NULLS FIRST, role`
)

// DBTX is the query surface shared by pools, connections and transactions.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// DB is a DBTX that can also open transactions. *pgxpool.Pool satisfies it.
type DB interface {
	DBTX
	db.TxBeginner
}

// Store reads and writes role assignments in PostgreSQL.
type Store struct {
	db DB
}

// NewStore constructs a Store backed by the provided pool.
func NewStore(db DB) *Store {
	return &Store{db: db}
}

// ResolveRoles returns the role names held by principal in application. With a
// tenant both tenant-scoped and global roles are returned, tenant-scoped first;
// without one only global roles apply. Names are de-duplicated.
func (s *Store) ResolveRoles(ctx context.Context, principal, application, tenant string) ([]string, error) {
	var (
		rows pgx.Rows
		err  error
	)
	if tenant != "" {
		rows, err = s.db.Query(ctx, resolveScopedSQL, principal, application, tenant)
	} else {
		rows, err = s.db.Query(ctx, resolveGlobalSQL, principal, application)
	}
	if err != nil {
		return nil, fmt.Errorf("roles: resolve: %w", err)
	}
	names, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("roles: resolve scan: %w", err)
	}
	return dedupe(names), nil
}

// Assign inserts an assignment; assigning an existing role is a no-op.
func (s *Store) Assign(ctx context.Context, a Assignment) error {
	if err := validate(a); err != nil {
		return err
	}
	if _, err := s.db.Exec(ctx, assignSQL, a.Principal, a.Application, nullableText(a.Tenant), a.Role); err != nil {
		return fmt.Errorf("roles: assign: %w", err)
	}
	return nil
}

// Revoke deletes an assignment. Returns ErrNotFound if nothing was deleted.
func (s *Store) Revoke(ctx context.Context, a Assignment) error {
	if err := validate(a); err != nil {
		return err
	}
	tag, err := s.db.Exec(ctx, revokeSQL, a.Principal, a.Application, nullableText(a.Tenant), a.Role)
	if err != nil {
		return fmt.Errorf("roles: revoke: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Replace sets the exact role list for principal in one scope inside a transaction.
func (s *Store) Replace(ctx context.Context, principal, application, tenant string, roles []string) error {
	if strings.TrimSpace(principal) == "" || strings.TrimSpace(application) == "" {
		return ErrInvalidAssignment
	}
	return db.WithTx(ctx, s.db, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, clearScopeSQL, principal, application, nullableText(tenant)); err != nil {
			return fmt.Errorf("roles: clear scope: %w", err)
		}
		for _, role := range dedupe(roles) {
			if strings.TrimSpace(role) == "" {
				continue
			}
			if _, err := tx.Exec(ctx, assignSQL, principal, application, nullableText(tenant), role); err != nil {
				return fmt.Errorf("roles: replace assign %s: %w", role, err)
			}
		}
		return nil
	})
}

// List returns every assignment principal holds in application, global first.
func (s *Store) List(ctx context.Context, principal, application string) ([]Assignment, error) {
	rows, err := s.db.Query(ctx, listSQL, principal, application)
	if err != nil {
		return nil, fmt.Errorf("roles: list: %w", err)
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Assignment, error) {
		var a Assignment
		err := row.Scan(&a.Principal, &a.Application, &a.Tenant, &a.Role, &a.CreatedAt)
		return a, err
	})
	if err != nil {
		return nil, fmt.Errorf("roles: list scan: %w", err)
	}
	return out, nil
}

func validate(a Assignment) error {
	if strings.TrimSpace(a.Principal) == "" || strings.TrimSpace(a.Application) == "" || strings.TrimSpace(a.Role) == "" {
		return ErrInvalidAssignment
	}
	return nil
}

func nullableText(value string) pgtype.Text {
	if value == "" {
		return pgtype.Text{}
	}
	return pgtype.Text{String: value, Valid: true}
}

func dedupe(names []string) []string {
	seen := make(map[string]struct{}, len(names))
	out := make([]string, 0, len(names))
	for _, n := range names {
		if _, ok := seen[n]; ok {
			continue
		}
		seen[n] = struct{}{}
		out = append(out, n)
	}
	return out
}
