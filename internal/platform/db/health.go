package db

import (
	"context"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
)

// PoolUsage is the connection usage reported by the database health check.
type PoolUsage struct {
	Open          int32 `json:"open"`
	InUse         int32 `json:"in_use"`
	Max           int32 `json:"max"`
	EmptyAcquires int64 `json:"empty_acquires"`
}

func usageOf(pool *pgxpool.Pool) PoolUsage {
	s := pool.Stat()
	return PoolUsage{
		Open:          s.TotalConns(),
		InUse:         s.AcquiredConns(),
		Max:           s.MaxConns(),
		EmptyAcquires: s.EmptyAcquireCount(),
	}
}

type pinger interface {
	Ping(ctx context.Context) error
}

// HealthHandler reports whether the population database answers a ping
// within five seconds, with the ping latency and pool usage.
func HealthHandler(pool *pgxpool.Pool) echo.HandlerFunc {
	return healthHandler(pool, func() PoolUsage { return usageOf(pool) }, 5*time.Second)
}

func healthHandler(p pinger, usage func() PoolUsage, timeout time.Duration) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx, cancel := context.WithTimeout(c.Request().Context(), timeout)
		defer cancel()

		start := time.Now()
		err := p.Ping(ctx)
		body := map[string]interface{}{
			"status":     "healthy",
			"latency_ms": time.Since(start).Milliseconds(),
			"pool":       usage(),
		}
		if err != nil {
			body["status"] = "unhealthy"
			body["error"] = err.Error()
			return c.JSON(http.StatusServiceUnavailable, body)
		}
		return c.JSON(http.StatusOK, body)
	}
}
