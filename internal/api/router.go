package api

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"

	"github.com/sipico/license-key-server/internal/logging"
	"github.com/sipico/license-key-server/internal/middleware"
)

// RouterOptions configures the public router.
type RouterOptions struct {
	// AllowedOrigins for CORS; empty allows any origin.
	AllowedOrigins []string
	// RateLimiter throttles POST /api/validate per client. Nil disables it.
	RateLimiter *middleware.RateLimiter
	// MaxBodyBytes bounds request bodies; zero uses middleware.DefaultMaxBodyBytes.
	MaxBodyBytes int64
}

// NewRouter creates a Chi router with the public endpoints.
// The logger parameter is used for debug logging of HTTP requests/responses.
func NewRouter(handler *Handler, opts RouterOptions, logger *slog.Logger) http.Handler {
	origins := opts.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer(logger))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", middleware.RequestIDHeader},
		ExposedHeaders: []string{middleware.RequestIDHeader, "Retry-After"},
		MaxAge:         300,
	}))
	r.Use(middleware.MaxBodySize(opts.MaxBodyBytes))
	r.Use(middleware.HTTPLogging(logger, logging.BodyAllowlist))

	r.Get("/", handler.HandleIndex)
	r.Get("/api/status", handler.HandleStatus)

	r.Group(func(r chi.Router) {
		if opts.RateLimiter != nil {
			r.Use(opts.RateLimiter.Handler)
		}
		r.Post("/api/validate", handler.HandleValidate)
	})

	return r
}
