// Package metrics exposes request and sync-engine counters via a Prometheus
// registry, grounded on the teacher's metrics.Manager: a registry-backed
// struct implementing RecordX methods plus a Middleware() and
// GetMetricsHandler(), trimmed from the teacher's S3/storage/bucket vocabulary
// down to this domain's request and sync-operation surface.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Manager records HTTP and sync-operation metrics and exposes them for
// scraping.
type Manager interface {
	RecordHTTPRequest(method, path, status string, duration time.Duration)
	RecordSyncOperation(operation string, classification string)
	RecordAuthAttempt(method string, success bool)

	Middleware() func(http.Handler) http.Handler
	GetMetricsHandler() http.Handler
}

type manager struct {
	registry *prometheus.Registry

	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	syncOperationsTotal *prometheus.CounterVec
	authAttemptsTotal   *prometheus.CounterVec
}

// NewManager builds a Manager with its own Prometheus registry.
func NewManager() Manager {
	registry := prometheus.NewRegistry()

	m := &manager{
		registry: registry,
		httpRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "vtasync_http_requests_total",
			Help: "Total HTTP requests by method, path and status.",
		}, []string{"method", "path", "status"}),
		httpRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "vtasync_http_request_duration_seconds",
			Help:    "HTTP request latency in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "path"}),
		syncOperationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "vtasync_sync_operations_total",
			Help: "Sync engine calls by operation and outcome classification.",
		}, []string{"operation", "classification"}),
		authAttemptsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "vtasync_auth_attempts_total",
			Help: "Account register/login attempts by method and success.",
		}, []string{"method", "success"}),
	}

	registry.MustRegister(m.httpRequestsTotal, m.httpRequestDuration, m.syncOperationsTotal, m.authAttemptsTotal)
	return m
}

func (m *manager) RecordHTTPRequest(method, path, status string, duration time.Duration) {
	m.httpRequestsTotal.WithLabelValues(method, path, status).Inc()
	m.httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

func (m *manager) RecordSyncOperation(operation, classification string) {
	m.syncOperationsTotal.WithLabelValues(operation, classification).Inc()
}

func (m *manager) RecordAuthAttempt(method string, success bool) {
	status := "false"
	if success {
		status = "true"
	}
	m.authAttemptsTotal.WithLabelValues(method, status).Inc()
}

// Middleware wraps a handler, recording request count and latency. Grounded
// on the teacher's middleware.TracingMiddleware response-writer wrapper for
// capturing the status code.
func (m *manager) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rw := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}
			next.ServeHTTP(rw, r)
			m.RecordHTTPRequest(r.Method, r.URL.Path, http.StatusText(rw.statusCode), time.Since(start))
		})
	}
}

func (m *manager) GetMetricsHandler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.statusCode = code
	r.ResponseWriter.WriteHeader(code)
}
