// Package api provides public endpoints for system health and connectivity.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"atlas-system/internal/core"
	"atlas-system/internal/storage"
)

// Version is reported by the health endpoint; set at build time.
var Version = "dev"

// Handler manages public endpoints.
type Handler struct {
	engine    *core.Engine
	storage   *storage.Storage
	startTime time.Time
}

// NewHandler initializes a new public API handler.
//
// Parameters:
//   - engine: Core monitoring engine (may be nil in tests)
//   - storage: Database storage layer (may be nil in tests)
func NewHandler(engine *core.Engine, storage *storage.Storage) *Handler {
	return &Handler{
		engine:    engine,
		storage:   storage,
		startTime: time.Now(),
	}
}

// Ping handles GET /api/ping
//
// Response:
//   - 200 OK with {"message": "pong"}
func (h *Handler) Ping(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"message": "pong",
	})
}

// Health handles GET /api/health
//
// Aggregates the state of the database, the engine, the scheduler and the
// job queue. Overall status is "healthy" only if every component is;
// otherwise it is "degraded" and the status code is 503.
//
// Response:
//   - 200 OK with the health report when healthy
//   - 503 Service Unavailable with the same report when degraded
func (h *Handler) Health(c *gin.Context) {
	ctx := c.Request.Context()

	dbStatus, dbResponseTime, schemaVersion := h.checkDatabaseHealth(ctx)
	engineStatus := h.checkEngineHealth()
	schedulerStatus, jobs := h.checkSchedulerHealth()

	var queue core.QueueStats
	if h.engine != nil {
		queue = h.engine.QueueStats()
	}

	overallStatus := "healthy"
	code := http.StatusOK
	if dbStatus != "healthy" || engineStatus != "healthy" || schedulerStatus != "healthy" {
		overallStatus = "degraded"
		code = http.StatusServiceUnavailable
	}

	c.JSON(code, gin.H{
		"status":    overallStatus,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"uptime":    time.Since(h.startTime).Round(time.Second).String(),
		"version":   Version,
		"components": gin.H{
			"database": gin.H{
				"status":           dbStatus,
				"response_time_ms": dbResponseTime,
				"schema_version":   schemaVersion,
			},
			"engine": gin.H{
				"status": engineStatus,
			},
			"scheduler": gin.H{
				"status": schedulerStatus,
				"jobs":   jobs,
			},
			"queue": gin.H{
				"pending":  queue.Pending,
				"running":  queue.Running,
				"deferred": queue.Deferred,
				"workers":  queue.Workers,
			},
		},
	})
}

// checkDatabaseHealth pings the database and measures the round trip.
func (h *Handler) checkDatabaseHealth(ctx context.Context) (string, int64, int) {
	if h.storage == nil {
		return "unhealthy", 0, 0
	}

	start := time.Now()
	err := h.storage.Ping(ctx)
	responseTime := time.Since(start).Milliseconds()
	if err != nil {
		return "unhealthy", responseTime, 0
	}

	version, err := h.storage.SchemaVersion()
	if err != nil {
		return "degraded", responseTime, 0
	}
	return "healthy", responseTime, version
}

func (h *Handler) checkEngineHealth() string {
	if h.engine == nil || !h.engine.IsRunning() {
		return "unhealthy"
	}
	return "healthy"
}

func (h *Handler) checkSchedulerHealth() (string, int) {
	if h.engine == nil || h.engine.Scheduler() == nil {
		return "unhealthy", 0
	}

	scheduler := h.engine.Scheduler()
	if !scheduler.IsRunning() {
		return "unhealthy", scheduler.GetJobCount()
	}
	return "healthy", scheduler.GetJobCount()
}
