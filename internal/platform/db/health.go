package db

import (
	"context"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
)

// PoolStats represents database connection pool statistics.
type PoolStats struct {
	TotalConns      int32  `json:"total_conns"`
	IdleConns       int32  `json:"idle_conns"`
	AcquiredConns   int32  `json:"acquired_conns"`
	MaxConns        int32  `json:"max_conns"`
	AcquireCount    int64  `json:"acquire_count"`
	AcquireDuration string `json:"acquire_duration"`
	Healthy         bool   `json:"healthy"`
}

// GetPoolStats returns connection pool statistics.
func GetPoolStats(pool *pgxpool.Pool) *PoolStats {
	stat := pool.Stat()
	return &PoolStats{
		TotalConns:      stat.TotalConns(),
		IdleConns:       stat.IdleConns(),
		AcquiredConns:   stat.AcquiredConns(),
		MaxConns:        stat.MaxConns(),
		AcquireCount:    stat.AcquireCount(),
		AcquireDuration: stat.AcquireDuration().String(),
		Healthy:         stat.TotalConns() > 0,
	}
}

// HealthCheck is an extra dependency reported next to the database. A failing
// optional check marks the report degraded but keeps the 200 status.
type HealthCheck struct {
	Name     string
	Optional bool
	Check    func(ctx context.Context) error
}

type checkResult struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// runChecks evaluates every check and returns the overall status and HTTP code.
func runChecks(ctx context.Context, checks []HealthCheck) (string, int, map[string]checkResult) {
	status, code := "healthy", http.StatusOK
	results := make(map[string]checkResult, len(checks))
	for _, hc := range checks {
		if err := hc.Check(ctx); err != nil {
			results[hc.Name] = checkResult{Status: "unhealthy", Error: err.Error()}
			if hc.Optional {
				if status == "healthy" {
					status = "degraded"
				}
				continue
			}
			status, code = "unhealthy", http.StatusServiceUnavailable
			continue
		}
		results[hc.Name] = checkResult{Status: "healthy"}
	}
	return status, code, results
}

// HealthHandler returns a handler for the health check endpoint. The database
// ping is always the first, mandatory check.
func HealthHandler(pool *pgxpool.Pool, extra ...HealthCheck) echo.HandlerFunc {
	checks := append([]HealthCheck{{Name: "database", Check: pool.Ping}}, extra...)

	return func(c echo.Context) error {
		ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
		defer cancel()

		status, code, results := runChecks(ctx, checks)
		stats := GetPoolStats(pool)
		if results["database"].Status != "healthy" {
			stats.Healthy = false
		}

		return c.JSON(code, map[string]interface{}{
			"status": status,
			"checks": results,
			"pool":   stats,
		})
	}
}
