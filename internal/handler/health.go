package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/mir00r/region-failover/internal/middleware"
	"github.com/mir00r/region-failover/pkg/logger"
)

// ReadinessCheck reports whether the controller can reach its dependencies
type ReadinessCheck func(ctx context.Context) error

// HealthHandler serves the liveness and readiness probes
type HealthHandler struct {
	startTime time.Time
	version   string
	ready     ReadinessCheck
	timeout   time.Duration
	logger    *logger.Logger
}

// NewHealthHandler creates a new health handler. A nil check is always ready.
func NewHealthHandler(version string, ready ReadinessCheck, timeout time.Duration, log *logger.Logger) *HealthHandler {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &HealthHandler{
		startTime: time.Now(),
		version:   version,
		ready:     ready,
		timeout:   timeout,
		logger:    log.WithField("component", "health_api"),
	}
}

// LivenessHandler checks if the process is alive
func (h *HealthHandler) LivenessHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "alive",
		"timestamp": time.Now().UTC(),
		"version":   h.version,
		"uptime":    time.Since(h.startTime).String(),
	})
}

// ReadinessHandler checks the DNS provider can be read
func (h *HealthHandler) ReadinessHandler(w http.ResponseWriter, r *http.Request) {
	response := map[string]interface{}{
		"status":    "ready",
		"timestamp": time.Now().UTC(),
		"version":   h.version,
	}

	if h.ready != nil {
		ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
		defer cancel()

		if err := h.ready(ctx); err != nil {
			h.logger.WithError(err).WithField("request_id", middleware.RequestID(r.Context())).Warn("Readiness check failed")
			response["status"] = "not_ready"
			response["error"] = err.Error()
			writeJSON(w, http.StatusServiceUnavailable, response)
			return
		}
	}
	writeJSON(w, http.StatusOK, response)
}
