package client

import (
	"bytes"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/sipico/license-key-server/internal/logging"
	"github.com/sipico/license-key-server/internal/middleware"
)

// LoggingTransport wraps an http.RoundTripper and logs every exchange at
// debug level. Access keys and license codes are masked.
type LoggingTransport struct {
	Transport http.RoundTripper
	Logger    *slog.Logger
}

// RoundTrip implements http.RoundTripper interface
func (t *LoggingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	start := time.Now()

	if id := middleware.GetRequestID(req.Context()); id != "" && req.Header.Get(middleware.RequestIDHeader) == "" {
		req = req.Clone(req.Context())
		req.Header.Set(middleware.RequestIDHeader, id)
	}

	var reqBody []byte
	if req.Body != nil {
		var err error
		reqBody, err = io.ReadAll(req.Body)
		if err != nil {
			return nil, err
		}
		req.Body = io.NopCloser(bytes.NewReader(reqBody))
	}

	t.Logger.Debug("HTTP Request",
		"method", req.Method,
		"url", req.URL.String(),
		"headers", maskHeaders(req.Header),
		"body", string(logging.MaskJSONBody(reqBody, logging.BodyAllowlist)),
	)

	resp, err := t.transport().RoundTrip(req)
	duration := time.Since(start)
	if err != nil {
		t.Logger.Error("HTTP request failed",
			"method", req.Method,
			"url", req.URL.String(),
			"duration_ms", duration.Milliseconds(),
			"error", err,
		)
		return nil, err
	}

	respBody, err := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if err != nil {
		return nil, err
	}
	resp.Body = io.NopCloser(bytes.NewReader(respBody))

	t.Logger.Debug("HTTP Response",
		"status_code", resp.StatusCode,
		"duration_ms", duration.Milliseconds(),
		"request_id", resp.Header.Get(middleware.RequestIDHeader),
		"body", string(logging.MaskJSONBody(respBody, logging.BodyAllowlist)),
	)

	return resp, nil
}

// transport returns the underlying transport or DefaultTransport if nil
func (t *LoggingTransport) transport() http.RoundTripper {
	if t.Transport != nil {
		return t.Transport
	}
	return http.DefaultTransport
}

func maskHeaders(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for name, values := range h {
		if len(values) > 0 {
			out[name] = logging.MaskHeader(name, values[0])
		}
	}
	return out
}
