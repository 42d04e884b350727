package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"
)

// HealthHandler answers liveness and readiness probes.
type HealthHandler struct {
	check func(ctx context.Context) error
}

// NewHealthHandler creates a HealthHandler. check is called on readiness probes.
func NewHealthHandler(check func(ctx context.Context) error) *HealthHandler {
	return &HealthHandler{check: check}
}

// HandleLive handles GET /health requests.
func (h *HealthHandler) HandleLive(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

// HandleReady handles GET /health/ready requests.
func (h *HealthHandler) HandleReady(w http.ResponseWriter, r *http.Request) {
	if h.check != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		if err := h.check(ctx); err != nil {
			slog.Warn("readiness check failed", "error", err)
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}
