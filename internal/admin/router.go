package admin

import (
	"github.com/go-chi/chi/v5"

	"github.com/sipico/license-key-server/internal/logging"
	"github.com/sipico/license-key-server/internal/middleware"
)

// NewRouter creates the admin router: unauthenticated probes plus the
// key administration API behind the access key.
func (h *Handler) NewRouter() chi.Router {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer(h.logger))
	r.Use(middleware.MaxBodySize(h.maxBodyBytes))
	r.Use(middleware.HTTPLogging(h.logger, logging.BodyAllowlist))

	// Public endpoints (no auth)
	r.Get("/health", h.HandleHealth)
	r.Get("/ready", h.HandleReady)

	// Admin API (access key auth)
	r.Route("/api", func(r chi.Router) {
		r.Use(h.TokenAuthMiddleware)

		r.Get("/whoami", h.HandleWhoami)
		r.Post("/loglevel", h.HandleSetLogLevel)

		r.Get("/keys", h.HandleListKeys)
		r.Post("/keys", h.HandleGenerateKeys)
		r.Get("/keys/{code}", h.HandleGetKey)
		r.Delete("/keys/{code}", h.HandleDeleteKey)
		r.Post("/keys/{code}/extend", h.HandleExtendKey)
		r.Post("/keys/{code}/reset", h.HandleResetKey)
		r.Put("/keys/{code}/notes", h.HandleSetNotes)

		r.Get("/stats", h.HandleStats)
		r.Post("/purge/expired", h.HandlePurgeExpired)
		r.Post("/purge/all", h.HandlePurgeAll)
		r.Get("/export", h.HandleExport)
		r.Post("/import", h.HandleImport)
	})

	return r
}
