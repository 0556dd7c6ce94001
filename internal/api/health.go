// Grounded on the teacher's MonitoringHandler.HealthCheck/DetailedHealthCheck
// (database ping + component status rollup); extended here to roll up
// Postgres and whichever Container Scheduler adapters this instance holds a
// direct client for (spec §6 GET /health). The object store is not checked.
package api

import (
	"context"
	"database/sql"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/kweaver-ai/sandboxctl/internal/containersched"
)

// HealthChecker pings every dependency GET /health reports on.
type HealthChecker struct {
	DB         *sql.DB
	Schedulers map[string]containersched.ContainerScheduler
}

type componentHealth struct {
	Status    string `json:"status"`
	LatencyMS int64  `json:"latency_ms,omitempty"`
	Error     string `json:"error,omitempty"`
}

func handleHealth(checker *HealthChecker) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
		defer cancel()

		components := map[string]componentHealth{}
		healthy := true

		components["database"] = pingDB(ctx, checker.DB)
		if components["database"].Status != "healthy" {
			healthy = false
		}

		for runtime, sched := range checker.Schedulers {
			comp := pingScheduler(ctx, sched)
			components["container_scheduler_"+runtime] = comp
			if comp.Status != "healthy" {
				healthy = false
			}
		}

		status := http.StatusOK
		overall := "healthy"
		if !healthy {
			status = http.StatusServiceUnavailable
			overall = "degraded"
		}

		c.JSON(status, gin.H{
			"status":     overall,
			"components": components,
			"timestamp":  time.Now().UTC(),
		})
	}
}

func pingDB(ctx context.Context, db *sql.DB) componentHealth {
	start := time.Now()
	if err := db.PingContext(ctx); err != nil {
		return componentHealth{Status: "unhealthy", Error: err.Error()}
	}
	return componentHealth{Status: "healthy", LatencyMS: time.Since(start).Milliseconds()}
}

func pingScheduler(ctx context.Context, sched containersched.ContainerScheduler) componentHealth {
	start := time.Now()
	// IsContainerRunning against a synthetic ID is the cheapest round trip
	// every adapter already exposes; both adapters return (false, nil) for
	// an unknown ID, so only a transport-level error counts as down.
	if _, err := sched.IsContainerRunning(ctx, "sandboxctl-healthcheck"); err != nil {
		return componentHealth{Status: "unhealthy", Error: err.Error()}
	}
	return componentHealth{Status: "healthy", LatencyMS: time.Since(start).Milliseconds()}
}
