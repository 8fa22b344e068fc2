package audithttp

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-authz/internal/audit"
)

type stubTimelineService struct {
	result      audit.Result
	exportRows  []audit.Entry
	err         error
	lastFilters audit.TimelineFilters
}

func (s *stubTimelineService) Timeline(_ context.Context, filters audit.TimelineFilters) (audit.Result, error) {
	s.lastFilters = filters
	return s.result, s.err
}

func (s *stubTimelineService) Export(_ context.Context, filters audit.TimelineFilters) ([]audit.Entry, error) {
	s.lastFilters = filters
	return s.exportRows, s.err
}

var fixedNow = time.Date(2024, 3, 15, 12, 0, 0, 0, time.UTC)

func newRouter(service TimelineService, guard func(http.Handler) http.Handler) http.Handler {
	h := NewHandler(Config{
		Service: service,
		Guard:   guard,
		Principal: func(r *http.Request) string {
			return r.Header.Get("X-Principal-ID")
		},
		Tenant: func(r *http.Request) string {
			return r.Header.Get("X-Tenant-ID")
		},
	})
	h.now = func() time.Time { return fixedNow }
	r := chi.NewRouter()
	h.MountRoutes(r)
	return r
}

func get(router http.Handler, target string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, target, nil)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestTimelineReturnsPage(t *testing.T) {
	service := &stubTimelineService{result: audit.Result{
		Rows:   []audit.Entry{{ID: "a", Principal: "alice", Resource: "invoices", Action: "delete", Timestamp: fixedNow}},
		Paging: audit.PagingInfo{Page: 1, PageSize: 20},
	}}
	rec := get(newRouter(service, nil), "/v1/audit/denials?principal=alice&resource=invoices&page=1", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	var body audit.Result
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Rows, 1)
	assert.Equal(t, "a", body.Rows[0].ID)

	assert.Equal(t, "alice", service.lastFilters.Principal)
	assert.Equal(t, "invoices", service.lastFilters.Resource)
	assert.Equal(t, fixedNow, service.lastFilters.To)
	assert.Equal(t, fixedNow.Add(-defaultDateRange), service.lastFilters.From)
}

func TestTimelineEmptyRowsEncodeAsArray(t *testing.T) {
	rec := get(newRouter(&stubTimelineService{}, nil), "/v1/audit/denials", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"rows":[]`)
}

func TestTimelineScopesToCallerTenant(t *testing.T) {
	service := &stubTimelineService{}
	rec := get(newRouter(service, nil), "/v1/audit/denials?tenant=other", map[string]string{"X-Tenant-ID": "acme"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "acme", service.lastFilters.Tenant)
}

func TestTimelineRejectsBadFilters(t *testing.T) {
	router := newRouter(&stubTimelineService{}, nil)
	for _, query := range []string{
		"from=yesterday",
		"to=2024-13-01",
		"from=2024-03-10&to=2024-03-01",
		"from=2023-01-01&to=2024-03-01",
		"page=0",
		"page_size=abc",
	} {
		rec := get(router, "/v1/audit/denials?"+query, nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code, query)
	}
}

func TestTimelineServiceError(t *testing.T) {
	rec := get(newRouter(&stubTimelineService{err: errors.New("pg down")}, nil), "/v1/audit/denials", nil)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "pg down")
}

func TestExportWritesCSV(t *testing.T) {
	service := &stubTimelineService{exportRows: []audit.Entry{
		{ID: "a", Principal: "alice", Tenant: "acme", Resource: "invoices", Action: "delete", Timestamp: fixedNow},
	}}
	rec := get(newRouter(service, nil), "/v1/audit/denials.csv?from=2024-03-01&to=2024-03-15", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/csv; charset=utf-8", rec.Header().Get("Content-Type"))
	lines := strings.Split(strings.TrimSpace(rec.Body.String()), "\n")
	require.Len(t, lines, 2)
	assert.True(t, strings.HasPrefix(lines[1], "a,2024-03-15T12:00:00Z,alice,acme"))
	assert.Equal(t, time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), service.lastFilters.From)
}

func TestExportIsRateLimitedPerPrincipal(t *testing.T) {
	router := newRouter(&stubTimelineService{}, nil)
	headers := map[string]string{"X-Principal-ID": "alice"}
	for i := 0; i < exportRateLimit; i++ {
		require.Equal(t, http.StatusOK, get(router, "/v1/audit/denials.csv", headers).Code)
	}
	assert.Equal(t, http.StatusTooManyRequests, get(router, "/v1/audit/denials.csv", headers).Code)
	assert.Equal(t, http.StatusOK, get(router, "/v1/audit/denials.csv", map[string]string{"X-Principal-ID": "bob"}).Code)
}

func TestGuardProtectsRoutes(t *testing.T) {
	deny := func(http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusForbidden)
		})
	}
	service := &stubTimelineService{}
	router := newRouter(service, deny)
	assert.Equal(t, http.StatusForbidden, get(router, "/v1/audit/denials", nil).Code)
	assert.Equal(t, http.StatusForbidden, get(router, "/v1/audit/denials.csv", nil).Code)
	assert.Empty(t, service.lastFilters.Principal)
}

func TestMountRoutesWithoutServiceIsNoop(t *testing.T) {
	r := chi.NewRouter()
	NewHandler(Config{}).MountRoutes(r)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/audit/denials", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
