package observability

import (
	"database/sql"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPResponseSize    *prometheus.HistogramVec

	// Authorization metrics
	AuthzDecisionsTotal *prometheus.CounterVec
	GrantCacheHitsTotal *prometheus.CounterVec
	GrantCacheMisses    *prometheus.CounterVec

	// Audit metrics
	AuditWritesTotal    *prometheus.CounterVec
	AuditDroppedTotal   prometheus.Counter
	AuditPurgedTotal    prometheus.Counter
	AuditExportsTotal   *prometheus.CounterVec

	// Event bus metrics
	EventsPublishedTotal *prometheus.CounterVec
	HandlerFailuresTotal *prometheus.CounterVec

	// Database metrics
	DBConnectionsActive prometheus.Gauge
	DBConnectionsIdle   prometheus.Gauge
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "warden_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "warden_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		HTTPResponseSize: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "warden_http_response_size_bytes",
				Help:    "HTTP response size in bytes",
				Buckets: prometheus.ExponentialBuckets(100, 10, 8),
			},
			[]string{"method", "path"},
		),

		AuthzDecisionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "warden_authz_decisions_total",
				Help: "Total number of authorization decisions",
			},
			[]string{"allowed"},
		),
		GrantCacheHitsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "warden_grant_cache_hits_total",
				Help: "Total number of grant cache hits",
			},
			[]string{"backend"},
		),
		GrantCacheMisses: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "warden_grant_cache_misses_total",
				Help: "Total number of grant cache misses",
			},
			[]string{"backend"},
		),

		AuditWritesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "warden_audit_writes_total",
				Help: "Total number of audit entry writes",
			},
			[]string{"event", "severity", "status"},
		),
		AuditDroppedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "warden_audit_dropped_total",
				Help: "Audit entries dropped under the fire-and-forget policy",
			},
		),
		AuditPurgedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "warden_audit_purged_total",
				Help: "Audit entries removed by purge or retention",
			},
		),
		AuditExportsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "warden_audit_exports_total",
				Help: "Total number of audit log exports",
			},
			[]string{"format"},
		),

		EventsPublishedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "warden_events_published_total",
				Help: "Total number of security events published",
			},
			[]string{"event"},
		),
		HandlerFailuresTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "warden_event_handler_failures_total",
				Help: "Total number of security event handler failures",
			},
			[]string{"event"},
		),

		DBConnectionsActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "warden_db_connections_active",
				Help: "Number of active database connections",
			},
		),
		DBConnectionsIdle: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "warden_db_connections_idle",
				Help: "Number of idle database connections",
			},
		),
	}

	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.HTTPResponseSize,
		m.AuthzDecisionsTotal,
		m.GrantCacheHitsTotal,
		m.GrantCacheMisses,
		m.AuditWritesTotal,
		m.AuditDroppedTotal,
		m.AuditPurgedTotal,
		m.AuditExportsTotal,
		m.EventsPublishedTotal,
		m.HandlerFailuresTotal,
		m.DBConnectionsActive,
		m.DBConnectionsIdle,
	)

	return m
}

// ObserveDecision records one authorization gate decision.
func (m *Metrics) ObserveDecision(allowed bool) {
	m.AuthzDecisionsTotal.WithLabelValues(strconv.FormatBool(allowed)).Inc()
}

// ObserveAuditWrite records one audit write attempt.
func (m *Metrics) ObserveAuditWrite(event, severity string, ok bool) {
	status := "ok"
	if !ok {
		status = "error"
	}
	m.AuditWritesTotal.WithLabelValues(event, severity, status).Inc()
}

// CollectDBStats snapshots connection pool stats into the gauges. Call it
// periodically or on scrape.
func (m *Metrics) CollectDBStats(db *sql.DB) {
	stats := db.Stats()
	m.DBConnectionsActive.Set(float64(stats.InUse))
	m.DBConnectionsIdle.Set(float64(stats.Idle))
}

// responseWriter wraps http.ResponseWriter to capture status code and size
type responseWriter struct {
	http.ResponseWriter
	statusCode   int
	bytesWritten int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	rw.bytesWritten += n
	return n, err
}

// HTTPMetricsMiddleware instruments HTTP requests with Prometheus metrics
func HTTPMetricsMiddleware(metrics *Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			rw := &responseWriter{
				ResponseWriter: w,
				statusCode:     http.StatusOK,
			}

			next.ServeHTTP(rw, r)

			duration := time.Since(start).Seconds()
			status := strconv.Itoa(rw.statusCode)

			metrics.HTTPRequestsTotal.WithLabelValues(r.Method, r.URL.Path, status).Inc()
			metrics.HTTPRequestDuration.WithLabelValues(r.Method, r.URL.Path).Observe(duration)
			metrics.HTTPResponseSize.WithLabelValues(r.Method, r.URL.Path).Observe(float64(rw.bytesWritten))
		})
	}
}

// MetricsHandler returns the Prometheus scrape handler for the registry.
func MetricsHandler(registry *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}
