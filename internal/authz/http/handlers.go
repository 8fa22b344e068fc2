package authzhttp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-playground/validator/v10"

	"github.com/odyssey-erp/odyssey-authz/internal/authz"
	"github.com/odyssey-erp/odyssey-authz/internal/platform/httpx"
)

// Decider is the engine surface exposed over HTTP.
type Decider interface {
	Authorize(ctx context.Context, req authz.Request) (bool, error)
	BatchAuthorize(ctx context.Context, req authz.Request, owners map[string]string) (map[string]bool, error)
	InvalidateForUser(ctx context.Context, principal, tenant string) error
	InvalidateForTenant(ctx context.Context, tenant string) error
}

// Handler serves decision and invalidation endpoints.
type Handler struct {
	logger    *slog.Logger
	engine    Decider
	validator *validator.Validate
}

// NewHandler constructs a Handler.
func NewHandler(logger *slog.Logger, engine Decider) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, engine: engine, validator: validator.New()}
}

type decisionResponse struct {
	Allowed bool `json:"allowed"`
}

type batchRequest struct {
	Principal string            `json:"principal" validate:"required"`
	Tenant    string            `json:"tenant"`
	Resource  string            `json:"resource" validate:"required"`
	Action    string            `json:"action" validate:"required"`
	Owners    map[string]string `json:"owners" validate:"required,max=1000"`
}

type batchResponse struct {
	Results map[string]bool `json:"results"`
}

type invalidateUserRequest struct {
	Principal string `json:"principal" validate:"required"`
	Tenant    string `json:"tenant"`
}

type invalidateTenantRequest struct {
	Tenant string `json:"tenant"`
}

func (h *Handler) handleAuthorize(w http.ResponseWriter, r *http.Request) {
	var req authz.Request
	if !h.decode(w, r, &req) {
		return
	}
	allowed, err := h.engine.Authorize(r.Context(), req)
	if err != nil {
		h.handleServerError(w, "authorize", err)
		return
	}
	httpx.JSON(w, http.StatusOK, decisionResponse{Allowed: allowed})
}

func (h *Handler) handleBatch(w http.ResponseWriter, r *http.Request) {
	var body batchRequest
	if !h.decode(w, r, &body) {
		return
	}
	req := authz.Request{Principal: body.Principal, Tenant: body.Tenant, Resource: body.Resource, Action: body.Action}
	results, err := h.engine.BatchAuthorize(r.Context(), req, body.Owners)
	if err != nil {
		h.handleServerError(w, "batch authorize", err)
		return
	}
	httpx.JSON(w, http.StatusOK, batchResponse{Results: results})
}

func (h *Handler) handleInvalidateUser(w http.ResponseWriter, r *http.Request) {
	var body invalidateUserRequest
	if !h.decode(w, r, &body) {
		return
	}
	if err := h.engine.InvalidateForUser(r.Context(), body.Principal, body.Tenant); err != nil {
		h.handleInvalidateError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleInvalidateTenant(w http.ResponseWriter, r *http.Request) {
	var body invalidateTenantRequest
	if !h.decode(w, r, &body) {
		return
	}
	if err := h.engine.InvalidateForTenant(r.Context(), body.Tenant); err != nil {
		h.handleInvalidateError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, target any) bool {
	if err := httpx.DecodeJSON(w, r, target); err != nil {
		httpx.RespondError(w, fmt.Errorf("%w: malformed JSON body", httpx.ErrValidation))
		return false
	}
	if err := h.validator.Struct(target); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			httpx.RespondError(w, fmt.Errorf("%w: %s is %s", httpx.ErrValidation, verrs[0].Field(), verrs[0].Tag()))
			return false
		}
		httpx.RespondError(w, httpx.ErrValidation)
		return false
	}
	return true
}

func (h *Handler) handleServerError(w http.ResponseWriter, msg string, err error) {
	h.logger.Error(msg, slog.Any("error", err))
	httpx.RespondError(w, err)
}

func (h *Handler) handleInvalidateError(w http.ResponseWriter, err error) {
	h.logger.Error("invalidate decisions", slog.Any("error", err))
	httpx.RespondError(w, fmt.Errorf("%w: decision cache", httpx.ErrUnavailable))
}
