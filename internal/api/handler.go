// Package api implements the public license validation API consumed by
// client applications.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/render"

	"github.com/sipico/license-key-server/internal/license"
	"github.com/sipico/license-key-server/internal/logging"
	"github.com/sipico/license-key-server/internal/metrics"
	"github.com/sipico/license-key-server/internal/validation"
)

// ServiceName is reported by GET /.
const ServiceName = "License Key Server"

// Error codes used in public API error bodies.
const (
	ErrCodeInvalidRequest  = "invalid_request"
	ErrCodeRequestTooLarge = "request_too_large"
	ErrCodeInternalError   = "internal_error"
)

// KeyValidator defines the license operations needed by the public API.
// This interface enables testing with mock implementations.
type KeyValidator interface {
	// Validate runs one validation attempt; the error is a persistence failure.
	Validate(ctx context.Context, code, deviceID string) (license.Result, error)
	// Count returns the number of stored keys.
	Count(ctx context.Context) (int, error)
}

// Handler serves the public endpoints.
type Handler struct {
	service KeyValidator
	version string
	logger  *slog.Logger
}

// NewHandler creates a new public API handler.
// If logger is nil, slog.Default() will be used.
func NewHandler(service KeyValidator, version string, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		service: service,
		version: version,
		logger:  logger,
	}
}

// ValidateRequest is the body of POST /api/validate.
type ValidateRequest struct {
	Key  string `json:"key" validate:"required"`
	HWID string `json:"hwid" validate:"required"`
}

// ValidateResponse is the answer to POST /api/validate. Expiry is present
// only for valid keys.
type ValidateResponse struct {
	Valid   bool       `json:"valid"`
	Message string     `json:"message"`
	Expiry  *time.Time `json:"expiry,omitempty"`
}

// StatusResponse is the body of GET /api/status.
type StatusResponse struct {
	Status string `json:"status"`
	Keys   int    `json:"keys"`
}

// IndexResponse is the body of GET /.
type IndexResponse struct {
	Message string `json:"message"`
	Version string `json:"version"`
}

// errorResponse mirrors the admin API error body.
type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func writeError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	render.Status(r, status)
	render.JSON(w, r, errorResponse{Error: code, Message: message})
}

// HandleIndex identifies the service.
// GET /
func (h *Handler) HandleIndex(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, IndexResponse{Message: ServiceName, Version: h.version})
}

// HandleStatus reports that the server is online and how many keys it holds.
// GET /api/status
func (h *Handler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	n, err := h.service.Count(r.Context())
	if err != nil {
		h.logger.Error("failed to count keys", "error", err)
		metrics.RecordStoreError("count")
		writeError(w, r, http.StatusInternalServerError, ErrCodeInternalError, "internal server error")
		return
	}
	render.JSON(w, r, StatusResponse{Status: "online", Keys: n})
}

// HandleValidate validates a key for a device and binds it on first use.
// POST /api/validate
// Body: {"key": "XXXX-XXXX-XXXX-XXXX-XXXX-XXXX", "hwid": "..."}
//
// Invalid, expired and foreign-device keys answer 200 with valid=false;
// only malformed requests and persistence failures produce error statuses.
func (h *Handler) HandleValidate(w http.ResponseWriter, r *http.Request) {
	var req ValidateRequest
	if err := validation.Decode(r, &req); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeError(w, r, http.StatusRequestEntityTooLarge, ErrCodeRequestTooLarge, "request body too large")
			return
		}
		writeError(w, r, http.StatusBadRequest, ErrCodeInvalidRequest, err.Error())
		return
	}

	result, err := h.service.Validate(r.Context(), req.Key, req.HWID)
	if err != nil {
		h.logger.Error("validation failed",
			"code", logging.MaskCode(license.NormalizeCode(req.Key)),
			"error", err)
		metrics.RecordValidation("error")
		metrics.RecordStoreError("validate")
		writeError(w, r, http.StatusInternalServerError, ErrCodeInternalError, "internal server error")
		return
	}

	metrics.RecordValidation(result.Outcome.String())
	render.JSON(w, r, ValidateResponse{
		Valid:   result.Valid,
		Message: result.Message,
		Expiry:  result.ExpiresAt,
	})
}
