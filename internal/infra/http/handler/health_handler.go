package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/reconpoint/api/pkg/logger"
)

// Pinger reports whether a dependency is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthHandler reports service and dependency health.
type HealthHandler struct {
	db     Pinger
	redis  Pinger
	logger *logger.Logger
}

// NewHealthHandler creates a new HealthHandler.
func NewHealthHandler(db, redis Pinger, log *logger.Logger) *HealthHandler {
	return &HealthHandler{
		db:     db,
		redis:  redis,
		logger: log.With("handler", "health"),
	}
}

// Liveness handles GET /healthz.
func (h *HealthHandler) Liveness(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

// Readiness handles GET /readyz. It checks the database and Redis with a
// short deadline so a hung dependency cannot stall the probe.
func (h *HealthHandler) Readiness(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	checks := map[string]string{}
	healthy := true

	if err := h.db.Ping(ctx); err != nil {
		h.logger.Error("database health check failed", "error", err)
		checks["database"] = "unavailable"
		healthy = false
	} else {
		checks["database"] = "ok"
	}

	if err := h.redis.Ping(ctx); err != nil {
		h.logger.Error("redis health check failed", "error", err)
		checks["redis"] = "unavailable"
		healthy = false
	} else {
		checks["redis"] = "ok"
	}

	status := http.StatusOK
	overall := "ok"
	if !healthy {
		status = http.StatusServiceUnavailable
		overall = "degraded"
	}
	respondJSON(w, status, map[string]any{"status": overall, "checks": checks})
}
