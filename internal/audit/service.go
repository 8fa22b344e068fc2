package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
	// MaxExportRows caps a single export so one request cannot stream the table.
	MaxExportRows = 10000
)

const timelineSQL = `SELECT id::text, principal, COALESCE(tenant, ''), resource, action, context, occurred_at
FROM authz_audit_log
WHERE ($1::timestamptz IS NULL OR occurred_at >= $1)
  AND ($2::timestamptz IS NULL OR occurred_at < $2)
  AND ($3::text IS NULL OR principal = $3)
  AND ($4::text IS NULL OR tenant = $4)
  AND ($5::text IS NULL OR resource = $5)
  AND ($6::text IS NULL OR action = $6)
ORDER BY occurred_at DESC, id
LIMIT $7 OFFSET $8`

// Querier runs read queries. *pgxpool.Pool satisfies it.
type Querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// Service reads recorded denials back out of authz_audit_log.
type Service struct {
	db Querier
}

// NewService creates a timeline service over db.
func NewService(db Querier) *Service {
	return &Service{db: db}
}

// Timeline returns one page of denials matching filters.
func (s *Service) Timeline(ctx context.Context, filters TimelineFilters) (Result, error) {
	if s == nil || s.db == nil {
		return Result{}, errors.New("audit: timeline store not configured")
	}
	pageSize := filters.PageSize
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}
	page := filters.Page
	if page <= 0 {
		page = 1
	}
	offset := (page - 1) * pageSize

	rows, err := s.query(ctx, filters, pageSize+1, offset)
	if err != nil {
		return Result{}, err
	}
	hasNext := len(rows) > pageSize
	if hasNext {
		rows = rows[:pageSize]
	}
	paging := PagingInfo{Page: page, PageSize: pageSize, HasNext: hasNext}
	if page > 1 {
		paging.PrevPage = page - 1
	}
	if hasNext {
		paging.NextPage = page + 1
	}
	return Result{Rows: rows, Paging: paging}, nil
}

// Export returns every matching denial up to MaxExportRows.
func (s *Service) Export(ctx context.Context, filters TimelineFilters) ([]Entry, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("audit: timeline store not configured")
	}
	return s.query(ctx, filters, MaxExportRows, 0)
}

func (s *Service) query(ctx context.Context, filters TimelineFilters, limit, offset int) ([]Entry, error) {
	rows, err := s.db.Query(ctx, timelineSQL,
		toPgTime(filters.From),
		toPgTime(filters.To),
		optionalText(filters.Principal),
		optionalText(filters.Tenant),
		optionalText(filters.Resource),
		optionalText(filters.Action),
		limit,
		offset,
	)
	if err != nil {
		return nil, fmt.Errorf("audit: query timeline: %w", err)
	}
	entries, err := pgx.CollectRows(rows, scanEntry)
	if err != nil {
		return nil, fmt.Errorf("audit: scan timeline: %w", err)
	}
	return entries, nil
}

func scanEntry(row pgx.CollectableRow) (Entry, error) {
	var (
		entry Entry
		meta  []byte
		at    pgtype.Timestamptz
	)
	if err := row.Scan(&entry.ID, &entry.Principal, &entry.Tenant, &entry.Resource, &entry.Action, &meta, &at); err != nil {
		return Entry{}, err
	}
	if at.Valid {
		entry.Timestamp = at.Time.UTC()
	}
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &entry.Context); err != nil {
			return Entry{}, fmt.Errorf("decode context of %s: %w", entry.ID, err)
		}
		if len(entry.Context) == 0 {
			entry.Context = nil
		}
	}
	return entry, nil
}

func toPgTime(t time.Time) pgtype.Timestamptz {
	if t.IsZero() {
		return pgtype.Timestamptz{}
	}
	return pgtype.Timestamptz{Time: t, Valid: true}
}

func optionalText(value string) pgtype.Text {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return pgtype.Text{}
	}
	return pgtype.Text{String: trimmed, Valid: true}
}
