package middleware

import "net/http"

// DefaultMaxBodyBytes bounds request bodies when no explicit limit is
// configured. An import of several thousand exported keys fits well within it.
const DefaultMaxBodyBytes int64 = 4 << 20

// MaxBodySize returns middleware that limits request body size.
// Handlers reading beyond maxBytes get an error from r.Body and the
// connection is closed after the response. A non-positive maxBytes
// uses DefaultMaxBodyBytes.
func MaxBodySize(maxBytes int64) func(http.Handler) http.Handler {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBodyBytes
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
			next.ServeHTTP(w, r)
		})
	}
}
