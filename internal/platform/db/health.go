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
	}
}

// Checker is the backing store probed by the /health/db endpoint.
type Checker interface {
	Driver() string
	Ping(ctx context.Context) error
	Stats() *PoolStats
}

// PoolChecker reports on a pgx pool.
type PoolChecker struct {
	Pool *pgxpool.Pool
}

func (p PoolChecker) Driver() string                 { return "postgres" }
func (p PoolChecker) Ping(ctx context.Context) error { return p.Pool.Ping(ctx) }
func (p PoolChecker) Stats() *PoolStats              { return GetPoolStats(p.Pool) }

// MemoryChecker reports the in-process store, which is always reachable.
type MemoryChecker struct{}

func (MemoryChecker) Driver() string             { return "memory" }
func (MemoryChecker) Ping(context.Context) error { return nil }
func (MemoryChecker) Stats() *PoolStats          { return nil }

// HealthHandler returns a handler for the database health check endpoint.
func HealthHandler(chk Checker) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
		defer cancel()

		body := map[string]interface{}{
			"driver": chk.Driver(),
		}
		if stats := chk.Stats(); stats != nil {
			body["pool"] = stats
		}

		if err := chk.Ping(ctx); err != nil {
			body["status"] = "unhealthy"
			body["error"] = err.Error()
			return c.JSON(http.StatusServiceUnavailable, body)
		}

		body["status"] = "healthy"
		return c.JSON(http.StatusOK, body)
	}
}
