package client

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

// APIError is an error response from the key server.
type APIError struct {
	StatusCode int    `json:"-"`
	Code       string `json:"error"`
	Message    string `json:"message"`
	Hint       string `json:"hint,omitempty"`
}

// Error implements the error interface for APIError.
func (e *APIError) Error() string {
	if e.Hint != "" {
		return fmt.Sprintf("keyserver: %s: %s (%s)", e.Code, e.Message, e.Hint)
	}
	return fmt.Sprintf("keyserver: %s: %s", e.Code, e.Message)
}

// Sentinel errors for common API error cases.
var (
	ErrUnauthorized = errors.New("keyserver: unauthorized (invalid access key)")
	ErrNotFound     = errors.New("keyserver: key not found")
)

// parseError converts a non-success response into an error. Structured
// bodies become *APIError; 401 and 404 map to the sentinels.
func parseError(statusCode int, body []byte) error {
	switch statusCode {
	case http.StatusUnauthorized:
		return ErrUnauthorized
	case http.StatusNotFound:
		return ErrNotFound
	}

	var apiErr APIError
	if err := json.Unmarshal(body, &apiErr); err == nil && apiErr.Code != "" {
		apiErr.StatusCode = statusCode
		return &apiErr
	}
	if statusCode >= http.StatusInternalServerError {
		return fmt.Errorf("keyserver: server error (status %d)", statusCode)
	}
	return fmt.Errorf("keyserver: request failed (status %d)", statusCode)
}

// ErrorCode returns the server error code carried by err, or "".
func ErrorCode(err error) string {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code
	}
	return ""
}
