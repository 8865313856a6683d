package admin

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/render"
)

// readyTimeout bounds the store ping of the readiness probe.
const readyTimeout = 5 * time.Second

// HandleHealth returns basic health status
// GET /health
func (h *Handler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, map[string]string{"status": "ok"})
}

// HandleReady checks key store connectivity
// GET /ready
// Returns 200 if the store is reachable, 503 otherwise
func (h *Handler) HandleReady(w http.ResponseWriter, r *http.Request) {
	if h.service == nil {
		render.Status(r, http.StatusServiceUnavailable)
		render.JSON(w, r, map[string]string{"status": "error", "database": "not configured"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), readyTimeout)
	defer cancel()

	if err := h.service.Ping(ctx); err != nil {
		h.logger.Warn("readiness check failed", "error", err)
		render.Status(r, http.StatusServiceUnavailable)
		render.JSON(w, r, map[string]string{"status": "error", "database": "unavailable"})
		return
	}

	render.JSON(w, r, map[string]string{"status": "ok", "database": "connected"})
}
