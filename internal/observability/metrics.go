// Package observability exposes Prometheus collectors for the decision service.
package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Decision sources.
const (
	SourceCache     = "cache"
	SourceEvaluated = "evaluated"
	SourceBypass    = "bypass"
	SourceError     = "error"
)

// Cache lookup outcomes.
const (
	CacheHit   = "hit"
	CacheMiss  = "miss"
	CacheError = "error"
)

// Metrics collects Prometheus metrics for the service. A nil *Metrics is a
// valid no-op recorder.
type Metrics struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec

	decisions     *prometheus.CounterVec
	cacheLookups  *prometheus.CounterVec
	evaluation    prometheus.Histogram
	roleLookups   *prometheus.CounterVec
	invalidations *prometheus.CounterVec
	auditFailures prometheus.Counter
	batchSize     prometheus.Histogram
}

// NewMetrics builds a registry with the HTTP and authorization collectors.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "authz_http_requests_total",
		Help: "HTTP requests by route and status code.",
	}, []string{"route", "code"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "authz_http_request_duration_seconds",
		Help:    "HTTP request duration per route.",
		Buckets: prometheus.DefBuckets,
	}, []string{"route"})
	decisions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "authz_decisions_total",
		Help: "Authorization decisions by result and source.",
	}, []string{"result", "source"})
	lookups := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "authz_cache_lookups_total",
		Help: "Decision cache lookups by outcome.",
	}, []string{"outcome"})
	evaluation := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "authz_evaluation_duration_seconds",
		Help:    "Time spent resolving roles and evaluating policy on a cache miss.",
		Buckets: []float64{.0005, .001, .0025, .005, .01, .025, .05, .1, .25, .5, 1},
	})
	roleLookups := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "authz_role_resolutions_total",
		Help: "Role resolutions by status.",
	}, []string{"status"})
	invalidations := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "authz_cache_invalidated_keys_total",
		Help: "Decision cache keys removed by invalidation scope.",
	}, []string{"scope"})
	auditFailures := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "authz_audit_failures_total",
		Help: "Denial audit records that could not be written.",
	})
	batchSize := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "authz_batch_size",
		Help:    "Number of resources per batch authorization.",
		Buckets: prometheus.ExponentialBuckets(1, 4, 6),
	})
	registry.MustRegister(requests, duration, decisions, lookups, evaluation, roleLookups, invalidations, auditFailures, batchSize)
	return &Metrics{
		registry:        registry,
		handler:         promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestsTotal:   requests,
		requestDuration: duration,
		decisions:       decisions,
		cacheLookups:    lookups,
		evaluation:      evaluation,
		roleLookups:     roleLookups,
		invalidations:   invalidations,
		auditFailures:   auditFailures,
		batchSize:       batchSize,
	}
}

// Handler returns the /metrics endpoint handler.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// Middleware records request counts and latency per route.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(&recorder, r)
		route := routePattern(r)
		m.requestsTotal.WithLabelValues(route, strconv.Itoa(recorder.status)).Inc()
		m.requestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	})
}

// Registerer exposes the registry for additional collectors.
func (m *Metrics) Registerer() prometheus.Registerer {
	if m == nil {
		return prometheus.DefaultRegisterer
	}
	return m.registry
}

// ObserveDecision counts one decision.
func (m *Metrics) ObserveDecision(allowed bool, source string) {
	if m == nil {
		return
	}
	result := "deny"
	if allowed {
		result = "allow"
	}
	m.decisions.WithLabelValues(result, source).Inc()
}

// ObserveCacheLookup counts a cache read by outcome.
func (m *Metrics) ObserveCacheLookup(outcome string) {
	if m == nil {
		return
	}
	m.cacheLookups.WithLabelValues(outcome).Inc()
}

// ObserveEvaluation records how long a miss took to decide.
func (m *Metrics) ObserveEvaluation(d time.Duration) {
	if m == nil {
		return
	}
	m.evaluation.Observe(d.Seconds())
}

// ObserveRoleResolution counts a role lookup.
func (m *Metrics) ObserveRoleResolution(err error) {
	if m == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "failure"
	}
	m.roleLookups.WithLabelValues(status).Inc()
}

// ObserveInvalidation adds removed keys for a scope (user, tenant or all).
func (m *Metrics) ObserveInvalidation(scope string, removed int) {
	if m == nil || removed < 0 {
		return
	}
	m.invalidations.WithLabelValues(scope).Add(float64(removed))
}

// ObserveAuditFailure counts a dropped audit record.
func (m *Metrics) ObserveAuditFailure() {
	if m == nil {
		return
	}
	m.auditFailures.Inc()
}

// ObserveBatch records the size of a batch request.
func (m *Metrics) ObserveBatch(size int) {
	if m == nil {
		return
	}
	m.batchSize.Observe(float64(size))
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func routePattern(r *http.Request) string {
	if routeCtx := chi.RouteContext(r.Context()); routeCtx != nil {
		if pattern := routeCtx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return "unknown"
}
