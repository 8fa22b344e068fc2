package authz

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/odyssey-erp/odyssey-authz/internal/platform/httpx"
)

// Authorizer is the single-check surface used by the HTTP guard.
type Authorizer interface {
	Authorize(ctx context.Context, req Request) (bool, error)
}

// Extractor pulls a request attribute such as the principal or tenant.
type Extractor func(r *http.Request) string

// HeaderExtractor reads a trimmed header value.
func HeaderExtractor(name string) Extractor {
	return func(r *http.Request) string {
		return strings.TrimSpace(r.Header.Get(name))
	}
}

// Middleware wires authorization checks in front of HTTP handlers.
type Middleware struct {
	Engine    Authorizer
	Principal Extractor
	Tenant    Extractor
	Logger    *slog.Logger
}

// Require allows the request only when the principal may perform action on
// resource. Any failure, including a missing principal, responds 403.
func (m Middleware) Require(resource, action string) func(http.Handler) http.Handler {
	return m.RequireOwned(resource, action, nil)
}

// RequireOwned is Require with the resource owner taken from owner.
func (m Middleware) RequireOwned(resource, action string, owner Extractor) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal := m.extract(m.Principal, r)
			if principal == "" {
				forbidden(w)
				return
			}
			req := Request{
				Principal: principal,
				Tenant:    m.extract(m.Tenant, r),
				Resource:  resource,
				Action:    action,
				Owner:     m.extract(owner, r),
			}
			allowed, err := m.Engine.Authorize(r.Context(), req)
			if err != nil {
				if m.Logger != nil {
					m.Logger.Error("authz middleware", slog.Any("error", err))
				}
				forbidden(w)
				return
			}
			if !allowed {
				forbidden(w)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (m Middleware) extract(fn Extractor, r *http.Request) string {
	if fn == nil {
		return ""
	}
	return fn(r)
}

func forbidden(w http.ResponseWriter) {
	httpx.Problem(w, http.StatusForbidden, "Forbidden", "")
}
