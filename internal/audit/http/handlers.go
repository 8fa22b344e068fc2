package audithttp

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/odyssey-erp/odyssey-authz/internal/audit"
	"github.com/odyssey-erp/odyssey-authz/internal/platform/httpx"
)

const (
	defaultDateRange = 7 * 24 * time.Hour
	maxDateRange     = 90 * 24 * time.Hour
)

// TimelineService reads recorded denials.
type TimelineService interface {
	Timeline(ctx context.Context, filters audit.TimelineFilters) (audit.Result, error)
	Export(ctx context.Context, filters audit.TimelineFilters) ([]audit.Entry, error)
}

// Config wires the handler to its collaborators. Guard protects every route;
// Principal and Tenant read the caller identity for rate limiting and tenant
// scoping.
type Config struct {
	Logger    *slog.Logger
	Service   TimelineService
	Guard     func(http.Handler) http.Handler
	Principal func(*http.Request) string
	Tenant    func(*http.Request) string
}

// Handler serves the denial timeline.
type Handler struct {
	logger    *slog.Logger
	service   TimelineService
	guard     func(http.Handler) http.Handler
	principal func(*http.Request) string
	tenant    func(*http.Request) string
	now       func() time.Time
}

// NewHandler creates a denial timeline handler.
func NewHandler(cfg Config) *Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		logger:    logger,
		service:   cfg.Service,
		guard:     cfg.Guard,
		principal: cfg.Principal,
		tenant:    cfg.Tenant,
		now:       time.Now,
	}
}

func (h *Handler) handleTimeline(w http.ResponseWriter, r *http.Request) {
	filters, err := h.parseFilters(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	result, err := h.service.Timeline(r.Context(), filters)
	if err != nil {
		h.handleServerError(w, "load denial timeline", err)
		return
	}
	if result.Rows == nil {
		result.Rows = []audit.Entry{}
	}
	httpx.JSON(w, http.StatusOK, result)
}

func (h *Handler) handleExport(w http.ResponseWriter, r *http.Request) {
	filters, err := h.parseFilters(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	rows, err := h.service.Export(r.Context(), filters)
	if err != nil {
		h.handleServerError(w, "export denial timeline", err)
		return
	}
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", "attachment; filename=\"authz-denials.csv\"")
	if err := audit.WriteCSV(w, rows); err != nil {
		h.logger.Warn("write csv", slog.Any("error", err))
	}
}

func (h *Handler) parseFilters(r *http.Request) (audit.TimelineFilters, error) {
	q := r.URL.Query()
	now := h.now().UTC()

	to := now
	if v := strings.TrimSpace(q.Get("to")); v != "" {
		parsed, err := parseTime(v)
		if err != nil {
			return audit.TimelineFilters{}, validationError("to")
		}
		to = parsed
	}
	from := to.Add(-defaultDateRange)
	if v := strings.TrimSpace(q.Get("from")); v != "" {
		parsed, err := parseTime(v)
		if err != nil {
			return audit.TimelineFilters{}, validationError("from")
		}
		from = parsed
	}
	if from.After(to) || to.Sub(from) > maxDateRange {
		return audit.TimelineFilters{}, validationError("range")
	}

	page, err := positiveInt(q.Get("page"), 1)
	if err != nil {
		return audit.TimelineFilters{}, validationError("page")
	}
	pageSize, err := positiveInt(q.Get("page_size"), 0)
	if err != nil {
		return audit.TimelineFilters{}, validationError("page_size")
	}

	tenant := strings.TrimSpace(q.Get("tenant"))
	if h.tenant != nil {
		if scoped := h.tenant(r); scoped != "" {
			tenant = scoped
		}
	}

	return audit.TimelineFilters{
		From:      from,
		To:        to,
		Principal: strings.TrimSpace(q.Get("principal")),
		Tenant:    tenant,
		Resource:  strings.TrimSpace(q.Get("resource")),
		Action:    strings.TrimSpace(q.Get("action")),
		Page:      page,
		PageSize:  pageSize,
	}, nil
}

// parseTime accepts RFC 3339 timestamps or plain dates.
func parseTime(v string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return t.UTC(), nil
	}
	return time.Parse(time.DateOnly, v)
}

func positiveInt(v string, fallback int) (int, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return fallback, nil
	}
	parsed, err := strconv.Atoi(v)
	if err != nil || parsed <= 0 {
		return 0, errors.New("must be a positive integer")
	}
	return parsed, nil
}

func validationError(field string) error {
	return errors.Join(httpx.ErrValidation, errors.New("invalid "+field))
}

func (h *Handler) handleServerError(w http.ResponseWriter, message string, err error) {
	h.logger.Error(message, slog.Any("error", err))
	httpx.RespondError(w, err)
}
