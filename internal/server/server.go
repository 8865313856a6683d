// Package server wires configuration, storage, the license service and the
// HTTP routers into a running key server.
package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"github.com/sipico/license-key-server/internal/admin"
	"github.com/sipico/license-key-server/internal/api"
	"github.com/sipico/license-key-server/internal/auth"
	"github.com/sipico/license-key-server/internal/config"
	"github.com/sipico/license-key-server/internal/license"
	"github.com/sipico/license-key-server/internal/metrics"
	"github.com/sipico/license-key-server/internal/middleware"
	"github.com/sipico/license-key-server/internal/storage"
)

const readHeaderTimeout = 10 * time.Second

// Components holds everything Initialize builds.
type Components struct {
	Logger   *slog.Logger
	LogLevel *slog.LevelVar
	Store    storage.Storage
	Service  *license.Service
	Registry *prometheus.Registry

	// MainRouter serves the public API at / and the admin API at /admin.
	MainRouter http.Handler
	// MetricsHandler serves /metrics for the separate metrics listener.
	MetricsHandler http.Handler
}

// NewLogger returns a JSON or text slog logger whose level can be changed
// at runtime through the returned LevelVar.
func NewLogger(w io.Writer, format string, level slog.Level) (*slog.Logger, *slog.LevelVar) {
	logLevel := new(slog.LevelVar)
	logLevel.Set(level)

	opts := &slog.HandlerOptions{Level: logLevel}
	var handler slog.Handler
	if format == "text" {
		handler = slog.NewTextHandler(w, opts)
	} else {
		handler = slog.NewJSONHandler(w, opts)
	}
	return slog.New(handler), logLevel
}

// Initialize builds all components from cfg. cfg must already be validated.
// The caller owns Components.Store and must close it.
func Initialize(ctx context.Context, cfg *config.Config, version string, logOut io.Writer) (*Components, error) {
	logger, logLevel := NewLogger(logOut, cfg.LogFormat, cfg.SlogLevel())

	authenticator, err := auth.NewKeyAuthenticator(cfg.AdminKey, cfg.AdminKeyBcrypt)
	if err != nil {
		return nil, fmt.Errorf("failed to configure admin authentication: %w", err)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	if err := metrics.Init(reg, version); err != nil {
		return nil, fmt.Errorf("failed to initialize metrics: %w", err)
	}

	store, err := storage.Open(ctx, cfg.StorageOptions())
	if err != nil {
		return nil, fmt.Errorf("failed to open %s store: %w", cfg.StoreBackend, err)
	}

	svc := license.NewService(store,
		license.WithLogger(logger),
		license.WithMaxGenerate(cfg.MaxGenerateCount),
		license.WithDefaultMode(cfg.DefaultExpiryMode()))

	if cfg.SeedFile != "" {
		if err := seed(ctx, svc, cfg.SeedFile, logger); err != nil {
			_ = store.Close()
			return nil, err
		}
	}

	apiRouter := api.NewRouter(api.NewHandler(svc, version, logger), api.RouterOptions{
		AllowedOrigins: cfg.CORSAllowedOrigins,
		RateLimiter:    middleware.NewRateLimiter(cfg.ValidateRateRPS, cfg.ValidateRateBurst, logger),
		MaxBodyBytes:   cfg.MaxBodyBytes,
	}, logger)

	adminHandler := admin.NewHandler(svc, authenticator, logLevel, logger)
	adminHandler.SetMaxBodyBytes(cfg.MaxBodyBytes)

	mainRouter := chi.NewRouter()
	mainRouter.Use(metrics.Middleware)
	mainRouter.Mount("/admin", adminHandler.NewRouter())
	mainRouter.Mount("/", apiRouter)

	metricsRouter := chi.NewRouter()
	metricsRouter.Method(http.MethodGet, "/metrics", metrics.HandlerFor(reg))

	logger.Info("key server initialized",
		"version", version,
		"backend", cfg.StoreBackend,
		"expiry_mode", cfg.ExpiryMode,
		"log_level", cfg.LogLevel)

	return &Components{
		Logger:         logger,
		LogLevel:       logLevel,
		Store:          store,
		Service:        svc,
		Registry:       reg,
		MainRouter:     mainRouter,
		MetricsHandler: metricsRouter,
	}, nil
}

// seed imports a legacy keys.json file without overwriting stored keys.
// A missing file is logged and skipped.
func seed(ctx context.Context, svc *license.Service, path string, logger *slog.Logger) error {
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		logger.Warn("seed file not found, skipping import", "path", path)
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to open seed file: %w", err)
	}
	defer f.Close()

	n, err := svc.Import(ctx, f, false)
	if err != nil {
		return fmt.Errorf("failed to import seed file %s: %w", path, err)
	}
	logger.Info("seed file imported", "path", path, "imported", n)
	return nil
}

// NewServer creates an http.Server for handler on addr.
func NewServer(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: readHeaderTimeout,
	}
}

// Serve runs the given servers until ctx is canceled or one of them fails,
// then shuts all of them down within shutdownTimeout.
func Serve(ctx context.Context, logger *slog.Logger, shutdownTimeout time.Duration, servers ...*http.Server) error {
	g, gctx := errgroup.WithContext(ctx)

	for _, srv := range servers {
		g.Go(func() error {
			logger.Info("server listening", "addr", srv.Addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("server error on %s: %w", srv.Addr, err)
			}
			return nil
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down servers", "timeout", shutdownTimeout)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		var errs []error
		for _, srv := range servers {
			if err := srv.Shutdown(shutdownCtx); err != nil {
				errs = append(errs, fmt.Errorf("shutdown %s: %w", srv.Addr, err))
			}
		}
		return errors.Join(errs...)
	})

	return g.Wait()
}

// Run serves c on the addresses in cfg until ctx is canceled.
func (c *Components) Run(ctx context.Context, cfg *config.Config) error {
	servers := []*http.Server{NewServer(cfg.ListenAddr, c.MainRouter)}
	if cfg.MetricsListenAddr != "" {
		servers = append(servers, NewServer(cfg.MetricsListenAddr, c.MetricsHandler))
	}
	return Serve(ctx, c.Logger, cfg.ShutdownTimeout, servers...)
}
