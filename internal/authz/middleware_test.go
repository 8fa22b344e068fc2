package authz

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubAuthorizer struct {
	allowed bool
	err     error
	last    Request
}

func (s *stubAuthorizer) Authorize(_ context.Context, req Request) (bool, error) {
	s.last = req
	return s.allowed, s.err
}

func guarded(m Middleware, owner Extractor) http.Handler {
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	return m.RequireOwned("invoices", "read", owner)(ok)
}

func TestMiddlewareAllows(t *testing.T) {
	stub := &stubAuthorizer{allowed: true}
	m := Middleware{Engine: stub, Principal: HeaderExtractor("X-Principal-ID"), Tenant: HeaderExtractor("X-Tenant-ID")}

	req := httptest.NewRequest(http.MethodGet, "/invoices/7", nil)
	req.Header.Set("X-Principal-ID", " u1 ")
	req.Header.Set("X-Tenant-ID", "org1")
	req.Header.Set("X-Owner", "u1")
	rr := httptest.NewRecorder()
	guarded(m, HeaderExtractor("X-Owner")).ServeHTTP(rr, req)

	assert.Equal(t, http.StatusNoContent, rr.Code)
	assert.Equal(t, Request{Principal: "u1", Tenant: "org1", Resource: "invoices", Action: "read", Owner: "u1"}, stub.last)
}

func TestMiddlewareForbidsGenerically(t *testing.T) {
	cases := map[string]*stubAuthorizer{
		"denied":         {allowed: false},
		"not configured": {err: ErrNotConfigured},
	}
	for name, stub := range cases {
		t.Run(name, func(t *testing.T) {
			m := Middleware{Engine: stub, Principal: HeaderExtractor("X-Principal-ID")}
			req := httptest.NewRequest(http.MethodGet, "/invoices", nil)
			req.Header.Set("X-Principal-ID", "u1")
			rr := httptest.NewRecorder()
			guarded(m, nil).ServeHTTP(rr, req)

			require.Equal(t, http.StatusForbidden, rr.Code)
			assert.NotContains(t, rr.Body.String(), "configured")
		})
	}
}

func TestMiddlewareRequiresPrincipal(t *testing.T) {
	stub := &stubAuthorizer{allowed: true}
	m := Middleware{Engine: stub, Principal: HeaderExtractor("X-Principal-ID")}

	rr := httptest.NewRecorder()
	m.Require("invoices", "read")(http.NotFoundHandler()).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/invoices", nil))
	assert.Equal(t, http.StatusForbidden, rr.Code)
	assert.Empty(t, stub.last.Principal)
}
