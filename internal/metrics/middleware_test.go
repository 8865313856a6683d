package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMiddlewarePassesResponseThrough(t *testing.T) {
	t.Parallel()

	for _, code := range []int{http.StatusOK, http.StatusCreated, http.StatusNoContent, http.StatusNotFound, http.StatusTooManyRequests, http.StatusInternalServerError} {
		handler := Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(code)
		}))
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest("GET", "/api/status", nil))
		assert.Equal(t, code, rec.Code)
	}
}

func TestMiddlewarePreservesResponseBody(t *testing.T) {
	t.Parallel()

	handler := Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status":"online","keys":0}`))
	}))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest("GET", "/api/status", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, `{"status":"online","keys":0}`, rec.Body.String())
}

func TestMiddlewarePanicBeforeWriteHeader(t *testing.T) {
	t.Parallel()

	handler := Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))
	rec := httptest.NewRecorder()
	assert.NotPanics(t, func() {
		handler.ServeHTTP(rec, httptest.NewRequest("GET", "/panic", nil))
	})
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestStatusRecorderFirstWriteHeaderWins(t *testing.T) {
	t.Parallel()

	rec := httptest.NewRecorder()
	sr := &statusRecorder{ResponseWriter: rec, statusCode: http.StatusOK}
	sr.WriteHeader(http.StatusCreated)
	sr.WriteHeader(http.StatusBadRequest)
	sr.Write([]byte("x"))

	assert.Equal(t, http.StatusCreated, sr.statusCode)
	assert.Equal(t, http.StatusCreated, rec.Code)
}

// TestMiddlewareUsesRoutePattern checks that codes never become label values.
func TestMiddlewareUsesRoutePattern(t *testing.T) {
	reg := prometheus.NewRegistry()
	require.NoError(t, Init(reg, "test"))

	r := chi.NewRouter()
	r.Use(Middleware)
	r.Get("/admin/api/keys/{code}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	for _, code := range []string{"AAAA-BBBB-CCCC-DDDD-EEEE-FFFF", "1111-2222-3333-4444-5555-6666"} {
		r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/admin/api/keys/"+code, nil))
	}

	counter := requestsTotal.Load().WithLabelValues("GET", "/admin/api/keys/{code}", "404")
	assert.Equal(t, 2.0, testutil.ToFloat64(counter))
}

func TestNormalizePath(t *testing.T) {
	t.Parallel()

	tests := []struct {
		input    string
		expected string
	}{
		{"/", "/"},
		{"/api/validate", "/api/validate"},
		{"/api/status", "/api/status"},
		{"/admin/api/keys", "/admin/api/keys"},
		{"/admin/api/keys/3F9A-0C1B-77D2-E4A0-5B6C-9A8E", "/admin/api/keys/{code}"},
		{"/admin/api/keys/garbage/extend", "/admin/api/keys/{code}/extend"},
		{"/admin/api/keys/ABCD/reset", "/admin/api/keys/{code}/reset"},
		{"/admin/health", "/admin/health"},
		{"/metrics", "/metrics"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.expected, normalizePath(tt.input))
		})
	}
}
