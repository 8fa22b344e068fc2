package authzhttp

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-authz/internal/authz"
)

type stubDecider struct {
	allowed       bool
	err           error
	invalidateErr error
	lastReq       authz.Request
	lastOwners    map[string]string
	invalidated   []string
}

func (s *stubDecider) Authorize(_ context.Context, req authz.Request) (bool, error) {
	s.lastReq = req
	return s.allowed, s.err
}

func (s *stubDecider) BatchAuthorize(_ context.Context, req authz.Request, owners map[string]string) (map[string]bool, error) {
	s.lastReq = req
	s.lastOwners = owners
	if s.err != nil {
		return nil, s.err
	}
	out := make(map[string]bool, len(owners))
	for id, owner := range owners {
		out[id] = owner == req.Principal
	}
	return out, nil
}

func (s *stubDecider) InvalidateForUser(_ context.Context, principal, tenant string) error {
	s.invalidated = append(s.invalidated, "user:"+principal+":"+tenant)
	return s.invalidateErr
}

func (s *stubDecider) InvalidateForTenant(_ context.Context, tenant string) error {
	s.invalidated = append(s.invalidated, "tenant:"+tenant)
	return s.invalidateErr
}

func serve(t *testing.T, decider *stubDecider, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	r := chi.NewRouter()
	NewHandler(nil, decider).MountRoutes(r)
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.RemoteAddr = "10.0.0.1:1234"
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)
	return rr
}

func TestAuthorizeEndpoint(t *testing.T) {
	decider := &stubDecider{allowed: true}
	rr := serve(t, decider, "/v1/authorize", `{"principal":"u1","tenant":"org1","resource":"posts","action":"read","owner":"u1"}`)

	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"allowed":true}`, rr.Body.String())
	assert.Equal(t, authz.Request{Principal: "u1", Tenant: "org1", Resource: "posts", Action: "read", Owner: "u1"}, decider.lastReq)
}

func TestAuthorizeEndpointValidates(t *testing.T) {
	rr := serve(t, &stubDecider{}, "/v1/authorize", `{"principal":"u1","resource":"posts"}`)
	require.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Contains(t, rr.Body.String(), "Action")

	rr = serve(t, &stubDecider{}, "/v1/authorize", `{not json`)
	require.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestAuthorizeEndpointHidesConfigurationErrors(t *testing.T) {
	rr := serve(t, &stubDecider{err: authz.ErrNotConfigured}, "/v1/authorize", `{"principal":"u1","resource":"posts","action":"read"}`)
	require.Equal(t, http.StatusInternalServerError, rr.Code)
	assert.NotContains(t, rr.Body.String(), "configured")
}

func TestBatchEndpoint(t *testing.T) {
	decider := &stubDecider{}
	rr := serve(t, decider, "/v1/authorize/batch", `{"principal":"u1","tenant":"org1","resource":"posts","action":"edit","owners":{"p1":"u1","p2":"u2"}}`)

	require.Equal(t, http.StatusOK, rr.Code)
	var body batchResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Equal(t, map[string]bool{"p1": true, "p2": false}, body.Results)
	assert.Equal(t, "edit", decider.lastReq.Action)
	assert.Empty(t, decider.lastReq.Owner)
}

func TestBatchEndpointRequiresOwners(t *testing.T) {
	rr := serve(t, &stubDecider{}, "/v1/authorize/batch", `{"principal":"u1","resource":"posts","action":"edit"}`)
	require.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestInvalidateEndpoints(t *testing.T) {
	decider := &stubDecider{}
	rr := serve(t, decider, "/v1/invalidate/user", `{"principal":"u1","tenant":"org1"}`)
	require.Equal(t, http.StatusNoContent, rr.Code)

	rr = serve(t, decider, "/v1/invalidate/tenant", `{"tenant":"org1"}`)
	require.Equal(t, http.StatusNoContent, rr.Code)
	assert.Equal(t, []string{"user:u1:org1", "tenant:org1"}, decider.invalidated)

	rr = serve(t, decider, "/v1/invalidate/user", `{"tenant":"org1"}`)
	require.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestInvalidateEndpointCacheFailure(t *testing.T) {
	rr := serve(t, &stubDecider{invalidateErr: errors.New("redis down")}, "/v1/invalidate/tenant", `{"tenant":"org1"}`)
	require.Equal(t, http.StatusServiceUnavailable, rr.Code)
	assert.NotContains(t, rr.Body.String(), "redis")
}
