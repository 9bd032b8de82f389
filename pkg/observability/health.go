package observability

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-redis/redis/v8"
)

// Version is reported by health checks; overridden at build time via ldflags.
var Version = "dev"

const (
	StatusHealthy   = "healthy"
	StatusDegraded  = "degraded"
	StatusUnhealthy = "unhealthy"
)

// readinessTimeout bounds how long a readiness probe may spend on
// dependency checks before the handler gives up.
const readinessTimeout = 5 * time.Second

// HealthStatus is the aggregate health report returned by Check.
type HealthStatus struct {
	Status       string                      `json:"status"`
	Timestamp    time.Time                   `json:"timestamp"`
	Version      string                      `json:"version,omitempty"`
	Dependencies map[string]DependencyStatus `json:"dependencies,omitempty"`
}

// DependencyStatus describes the health of one backing dependency.
type DependencyStatus struct {
	Status    string        `json:"status"`
	Message   string        `json:"message,omitempty"`
	Latency   time.Duration `json:"latency_ms,omitempty"`
	Timestamp time.Time     `json:"timestamp"`
}

// HealthChecker probes the relational store and the cache backend.
// Either dependency may be nil; nil dependencies are skipped.
type HealthChecker struct {
	db    *sql.DB
	redis *redis.Client
}

func NewHealthChecker(db *sql.DB, redis *redis.Client) *HealthChecker {
	return &HealthChecker{db: db, redis: redis}
}

// Check probes every configured dependency and folds the results into
// a single status. The database is load-bearing: if it is down the
// service is unhealthy. Redis only backs caching and rate limits, so
// losing it degrades the service rather than failing it.
func (h *HealthChecker) Check(ctx context.Context) HealthStatus {
	report := HealthStatus{
		Status:       StatusHealthy,
		Timestamp:    time.Now(),
		Version:      Version,
		Dependencies: make(map[string]DependencyStatus),
	}

	if h.db != nil {
		dep := h.checkDatabase(ctx)
		report.Dependencies["database"] = dep
		report.Status = worstOf(report.Status, dep.Status)
	}

	if h.redis != nil {
		dep := h.checkRedis(ctx)
		report.Dependencies["redis"] = dep
		if dep.Status == StatusUnhealthy {
			report.Status = worstOf(report.Status, StatusDegraded)
		}
	}

	return report
}

// worstOf returns the more severe of two statuses.
func worstOf(a, b string) string {
	if a == StatusUnhealthy || b == StatusUnhealthy {
		return StatusUnhealthy
	}
	if a == StatusDegraded || b == StatusDegraded {
		return StatusDegraded
	}
	return StatusHealthy
}

func (h *HealthChecker) checkDatabase(ctx context.Context) DependencyStatus {
	start := time.Now()
	dep := DependencyStatus{Status: StatusHealthy, Timestamp: start}

	if err := h.db.PingContext(ctx); err != nil {
		dep.Latency = time.Since(start)
		dep.Status = StatusUnhealthy
		dep.Message = err.Error()
		return dep
	}

	var one int
	err := h.db.QueryRowContext(ctx, "SELECT 1").Scan(&one)
	dep.Latency = time.Since(start)
	if err != nil {
		dep.Status = StatusUnhealthy
		dep.Message = "query failed: " + err.Error()
		return dep
	}

	if stats := h.db.Stats(); stats.OpenConnections >= stats.MaxOpenConnections {
		dep.Status = StatusDegraded
		dep.Message = "connection pool exhausted"
	}

	return dep
}

func (h *HealthChecker) checkRedis(ctx context.Context) DependencyStatus {
	start := time.Now()
	dep := DependencyStatus{Status: StatusHealthy, Timestamp: start}

	err := h.redis.Ping(ctx).Err()
	dep.Latency = time.Since(start)
	if err != nil {
		dep.Status = StatusUnhealthy
		dep.Message = err.Error()
	}

	return dep
}

// Liveness reports that the process is up. It never touches
// dependencies, so a wedged database does not restart the pod.
func (h *HealthChecker) Liveness(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status":    StatusHealthy,
		"timestamp": time.Now(),
	})
}

// Readiness runs the full dependency check. Degraded still serves
// traffic; only unhealthy returns 503.
func (h *HealthChecker) Readiness(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), readinessTimeout)
	defer cancel()

	report := h.Check(ctx)

	w.Header().Set("Content-Type", "application/json")
	if report.Status == StatusUnhealthy {
		w.WriteHeader(http.StatusServiceUnavailable)
	} else {
		w.WriteHeader(http.StatusOK)
	}
	json.NewEncoder(w).Encode(report)
}

// RegisterHealthRoutes mounts the probe endpoints on the given mux.
func RegisterHealthRoutes(mux *http.ServeMux, checker *HealthChecker) {
	mux.HandleFunc("/health", checker.Readiness)
	mux.HandleFunc("/health/live", checker.Liveness)
	mux.HandleFunc("/health/ready", checker.Readiness)
}
