package metrics

import (
	"net/http"
	"regexp"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
)

// keySegment matches the path segment following /keys/, which carries a
// license code in the admin API.
var keySegment = regexp.MustCompile(`/keys/[^/]+`)

// statusRecorder wraps http.ResponseWriter to capture the status code
type statusRecorder struct {
	http.ResponseWriter
	statusCode int
	written    bool
}

// WriteHeader captures the status code and writes it to the underlying ResponseWriter
func (r *statusRecorder) WriteHeader(code int) {
	if !r.written {
		r.statusCode = code
		r.written = true
		r.ResponseWriter.WriteHeader(code)
	}
}

// Write ensures WriteHeader is called before writing body
func (r *statusRecorder) Write(b []byte) (int, error) {
	if !r.written {
		r.statusCode = http.StatusOK
		r.written = true
	}
	return r.ResponseWriter.Write(b)
}

// Middleware returns an HTTP middleware that records Prometheus metrics for each request.
// It tracks:
// - Request count by method, route, and status code
// - Request duration (latency)
// - Panics are recorded as 500 status codes
//
// The path label is the matched chi route pattern when available so codes
// never become label values.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		recorder := &statusRecorder{
			ResponseWriter: w,
			statusCode:     http.StatusOK,
		}
		startTime := time.Now()

		defer func() {
			panicked := recover()
			if panicked != nil && !recorder.written {
				recorder.WriteHeader(http.StatusInternalServerError)
			}

			statusCode := recorder.statusCode
			if panicked != nil {
				statusCode = http.StatusInternalServerError
			}
			status := strconv.Itoa(statusCode)
			path := routeLabel(r)

			RecordRequest(r.Method, path, status)
			RecordRequestDuration(r.Method, path, status, time.Since(startTime).Seconds())
		}()

		next.ServeHTTP(recorder, r)
	})
}

// routeLabel returns the chi route pattern for r, falling back to
// normalizePath for requests that did not pass through a chi router.
func routeLabel(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if pattern := rctx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return normalizePath(r.URL.Path)
}

// normalizePath replaces license codes in a request path with a placeholder.
// Examples:
//
//	/admin/api/keys/3F9A-0C1B-77D2-E4A0-5B6C-9A8E -> /admin/api/keys/{code}
//	/admin/api/keys/ABCD/extend -> /admin/api/keys/{code}/extend
func normalizePath(path string) string {
	return keySegment.ReplaceAllString(path, "/keys/{code}")
}
