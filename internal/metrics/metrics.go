// Package metrics provides Prometheus metrics collection for the key server.
package metrics

import (
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	namespace = "keyserver"
	subsystem = "http"
)

var (
	// Using atomic.Pointer for lock-free initialization checks on hot path metrics.
	requestsTotal       atomic.Pointer[prometheus.CounterVec]
	requestDuration     atomic.Pointer[prometheus.HistogramVec]
	authFailuresTotal   atomic.Pointer[prometheus.CounterVec]
	validationsTotal    atomic.Pointer[prometheus.CounterVec]
	keysGeneratedTotal  atomic.Pointer[prometheus.Counter]
	keysPurgedTotal     atomic.Pointer[prometheus.CounterVec]
	rateLimitedTotal    atomic.Pointer[prometheus.CounterVec]
	storeOperationError atomic.Pointer[prometheus.CounterVec]
)

// Init initializes all Prometheus metrics and registers them with the provided registry.
// This should be called once at application startup.
func Init(reg prometheus.Registerer, version string) error {
	requestsTotalVec := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled by the key server",
		},
		[]string{"method", "path", "status"},
	)
	if err := reg.Register(requestsTotalVec); err != nil {
		return fmt.Errorf("failed to register requestsTotal: %w", err)
	}

	requestDurationVec := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
	if err := reg.Register(requestDurationVec); err != nil {
		return fmt.Errorf("failed to register requestDuration: %w", err)
	}

	authFailuresTotalVec := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "auth_failures_total",
			Help:      "Total number of admin authentication failures",
		},
		[]string{"reason"},
	)
	if err := reg.Register(authFailuresTotalVec); err != nil {
		return fmt.Errorf("failed to register authFailuresTotal: %w", err)
	}

	// Validation outcomes: not_found, activated, valid, expired, device_mismatch, error
	validationsTotalVec := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "validations_total",
			Help:      "Total number of key validations by outcome",
		},
		[]string{"outcome"},
	)
	if err := reg.Register(validationsTotalVec); err != nil {
		return fmt.Errorf("failed to register validationsTotal: %w", err)
	}

	keysGenerated := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "keys_generated_total",
		Help:      "Total number of license keys generated",
	})
	if err := reg.Register(keysGenerated); err != nil {
		return fmt.Errorf("failed to register keysGenerated: %w", err)
	}

	keysPurgedVec := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "keys_purged_total",
			Help:      "Total number of license keys removed by admin operations",
		},
		[]string{"kind"},
	)
	if err := reg.Register(keysPurgedVec); err != nil {
		return fmt.Errorf("failed to register keysPurged: %w", err)
	}

	rateLimitedVec := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "rate_limited_total",
			Help:      "Total number of requests rejected by the rate limiter",
		},
		[]string{"path"},
	)
	if err := reg.Register(rateLimitedVec); err != nil {
		return fmt.Errorf("failed to register rateLimited: %w", err)
	}

	storeErrorsVec := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "store_errors_total",
			Help:      "Total number of key store failures by operation",
		},
		[]string{"op"},
	)
	if err := reg.Register(storeErrorsVec); err != nil {
		return fmt.Errorf("failed to register storeErrors: %w", err)
	}

	infoGaugeVec := prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "info",
			Help:      "Key server version and build information",
		},
		[]string{"version"},
	)
	if err := reg.Register(infoGaugeVec); err != nil {
		return fmt.Errorf("failed to register infoGauge: %w", err)
	}
	infoGaugeVec.WithLabelValues(version).Set(1)

	requestsTotal.Store(requestsTotalVec)
	requestDuration.Store(requestDurationVec)
	authFailuresTotal.Store(authFailuresTotalVec)
	validationsTotal.Store(validationsTotalVec)
	keysGeneratedTotal.Store(&keysGenerated)
	keysPurgedTotal.Store(keysPurgedVec)
	rateLimitedTotal.Store(rateLimitedVec)
	storeOperationError.Store(storeErrorsVec)

	return nil
}

// RecordRequest increments the requests counter for the given method, path, and status code.
// The path should be normalized (e.g., "/admin/api/keys/{code}").
func RecordRequest(method, path, statusCode string) {
	if counter := requestsTotal.Load(); counter != nil {
		counter.WithLabelValues(method, path, statusCode).Inc()
	}
}

// RecordRequestDuration records the latency for a request in seconds.
func RecordRequestDuration(method, path, statusCode string, durationSeconds float64) {
	if histogram := requestDuration.Load(); histogram != nil {
		histogram.WithLabelValues(method, path, statusCode).Observe(durationSeconds)
	}
}

// RecordAuthFailure increments the auth failures counter for the given reason.
// Reasons: "missing_key", "invalid_key".
func RecordAuthFailure(reason string) {
	if counter := authFailuresTotal.Load(); counter != nil {
		counter.WithLabelValues(reason).Inc()
	}
}

// RecordValidation counts one validation with the given outcome label.
func RecordValidation(outcome string) {
	if counter := validationsTotal.Load(); counter != nil {
		counter.WithLabelValues(outcome).Inc()
	}
}

// RecordKeysGenerated adds n freshly issued keys.
func RecordKeysGenerated(n int) {
	if counter := keysGeneratedTotal.Load(); counter != nil && n > 0 {
		(*counter).Add(float64(n))
	}
}

// RecordKeysPurged adds n keys removed by a purge of the given kind
// ("expired", "all" or "deleted").
func RecordKeysPurged(kind string, n int) {
	if counter := keysPurgedTotal.Load(); counter != nil && n > 0 {
		counter.WithLabelValues(kind).Add(float64(n))
	}
}

// RecordRateLimited counts a request rejected by the rate limiter.
func RecordRateLimited(path string) {
	if counter := rateLimitedTotal.Load(); counter != nil {
		counter.WithLabelValues(path).Inc()
	}
}

// RecordStoreError counts a key store failure surfaced by operation op.
func RecordStoreError(op string) {
	if counter := storeOperationError.Load(); counter != nil {
		counter.WithLabelValues(op).Inc()
	}
}

// Handler returns an HTTP handler for Prometheus metrics in text format.
// This handler should be registered at /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// HandlerFor returns a /metrics handler serving the metrics gathered by reg.
func HandlerFor(reg prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}

// GetMetricsText returns the Prometheus text-format output from a registry.
// This is useful for testing and debugging.
func GetMetricsText(reg prometheus.Gatherer) (string, error) {
	req := httptest.NewRequest("GET", "/metrics", nil)
	w := httptest.NewRecorder()
	HandlerFor(reg).ServeHTTP(w, req)

	body, err := io.ReadAll(w.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read metrics output: %w", err)
	}
	return string(body), nil
}
