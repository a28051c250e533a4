package observability

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"time"
)

// Pinger is satisfied by storage.RedisClient and anything else with a
// cheap liveness probe.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthChecker provides health check functionality
type HealthChecker struct {
	db      *sql.DB
	redis   Pinger
	version string
	now     func() time.Time
}

// NewHealthChecker creates a new health checker. redis may be nil.
func NewHealthChecker(db *sql.DB, redis Pinger, version string) *HealthChecker {
	return &HealthChecker{
		db:      db,
		redis:   redis,
		version: version,
		now:     time.Now,
	}
}

// HealthStatus represents the overall health status
type HealthStatus struct {
	Status       string                      `json:"status"`
	Timestamp    time.Time                   `json:"timestamp"`
	Version      string                      `json:"version,omitempty"`
	Dependencies map[string]DependencyStatus `json:"dependencies,omitempty"`
}

// DependencyStatus represents the health of a single dependency
type DependencyStatus struct {
	Status    string    `json:"status"`
	Message   string    `json:"message,omitempty"`
	LatencyMS int64     `json:"latency_ms"`
	Timestamp time.Time `json:"timestamp"`
}

const (
	StatusHealthy   = "healthy"
	StatusDegraded  = "degraded"
	StatusUnhealthy = "unhealthy"
)

// Liveness always returns 200 while the process is serving.
func (h *HealthChecker) Liveness(w http.ResponseWriter, r *http.Request) {
	writeHealth(w, http.StatusOK, map[string]interface{}{
		"status":    StatusHealthy,
		"timestamp": h.now().UTC(),
	})
}

// Readiness checks dependencies and returns 503 when the database is down.
func (h *HealthChecker) Readiness(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := h.Check(ctx)

	code := http.StatusOK
	if status.Status == StatusUnhealthy {
		code = http.StatusServiceUnavailable
	}
	writeHealth(w, code, status)
}

func writeHealth(w http.ResponseWriter, code int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(body)
}

// Check performs a comprehensive health check. A failing database makes the
// service unhealthy; a failing Redis only degrades it because every Redis
// consumer has an in-process fallback.
func (h *HealthChecker) Check(ctx context.Context) HealthStatus {
	status := HealthStatus{
		Status:       StatusHealthy,
		Timestamp:    h.now().UTC(),
		Version:      h.version,
		Dependencies: make(map[string]DependencyStatus),
	}

	if h.db != nil {
		dbStatus := h.checkDatabase(ctx)
		status.Dependencies["database"] = dbStatus
		if dbStatus.Status == StatusUnhealthy {
			status.Status = StatusUnhealthy
		}
	}

	if h.redis != nil {
		redisStatus := h.probe(ctx, h.redis.Ping)
		status.Dependencies["redis"] = redisStatus
		if redisStatus.Status == StatusUnhealthy && status.Status == StatusHealthy {
			status.Status = StatusDegraded
		}
	}

	return status
}

func (h *HealthChecker) checkDatabase(ctx context.Context) DependencyStatus {
	return h.probe(ctx, func(ctx context.Context) error {
		var one int
		return h.db.QueryRowContext(ctx, "SELECT 1").Scan(&one)
	})
}

func (h *HealthChecker) probe(ctx context.Context, fn func(context.Context) error) DependencyStatus {
	start := time.Now()
	err := fn(ctx)
	status := DependencyStatus{
		Status:    StatusHealthy,
		LatencyMS: time.Since(start).Milliseconds(),
		Timestamp: h.now().UTC(),
	}
	if err != nil {
		status.Status = StatusUnhealthy
		status.Message = err.Error()
	}
	return status
}

// CollectDBStats copies connection pool stats into the metrics gauges.
func CollectDBStats(db *sql.DB, metrics *Metrics) {
	if db == nil || metrics == nil {
		return
	}
	stats := db.Stats()
	metrics.DBConnectionsOpen.Set(float64(stats.OpenConnections))
	metrics.DBConnectionsInUse.Set(float64(stats.InUse))
}
