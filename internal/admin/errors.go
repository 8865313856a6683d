package admin

import (
	"errors"
	"net/http"

	"github.com/go-chi/render"

	"github.com/sipico/license-key-server/internal/license"
	"github.com/sipico/license-key-server/internal/metrics"
	"github.com/sipico/license-key-server/internal/validation"
)

// Standard error codes for API responses.
const (
	// ErrCodeInvalidRequest indicates a malformed request body or parameter.
	ErrCodeInvalidRequest = "invalid_request"

	// ErrCodeInvalidCredentials indicates invalid or missing access key.
	ErrCodeInvalidCredentials = "invalid_credentials"

	// ErrCodeNotFound indicates the key code does not exist.
	ErrCodeNotFound = "not_found"

	// ErrCodeNoExpirySet indicates an extension of a key whose expiry clock has not started.
	ErrCodeNoExpirySet = "no_expiry_set"

	// ErrCodeConfirmationRequired indicates a destructive operation without its confirmation phrase.
	ErrCodeConfirmationRequired = "confirmation_required"

	// ErrCodeRequestTooLarge indicates the body exceeded the size limit.
	ErrCodeRequestTooLarge = "request_too_large"

	// ErrCodeInternalError indicates a server error.
	ErrCodeInternalError = "internal_error"
)

// APIError is the standard error response format for JSON APIs.
type APIError struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Hint    string `json:"hint,omitempty"`
}

// WriteError writes a JSON error response with the given status code, error code, and message.
func WriteError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	WriteErrorWithHint(w, r, status, code, message, "")
}

// WriteErrorWithHint writes a JSON error response with an optional hint for resolving the error.
func WriteErrorWithHint(w http.ResponseWriter, r *http.Request, status int, code, message, hint string) {
	render.Status(r, status)
	render.JSON(w, r, APIError{
		Error:   code,
		Message: message,
		Hint:    hint,
	})
}

// writeDecodeError reports a body rejected by validation.Decode.
func writeDecodeError(w http.ResponseWriter, r *http.Request, err error) {
	var maxErr *http.MaxBytesError
	if errors.As(err, &maxErr) {
		WriteError(w, r, http.StatusRequestEntityTooLarge, ErrCodeRequestTooLarge, "request body too large")
		return
	}
	WriteError(w, r, http.StatusBadRequest, ErrCodeInvalidRequest, err.Error())
}

// writeServiceError maps license errors to HTTP responses. Persistence
// failures are logged and reported as 500 without internal detail.
func (h *Handler) writeServiceError(w http.ResponseWriter, r *http.Request, op string, err error) {
	var verr *validation.Error
	switch {
	case errors.Is(err, license.ErrKeyNotFound):
		WriteError(w, r, http.StatusNotFound, ErrCodeNotFound, "Key not found")
	case errors.Is(err, license.ErrNoExpirySet):
		WriteErrorWithHint(w, r, http.StatusConflict, ErrCodeNoExpirySet,
			"Key has no expiry to extend",
			"Activation-anchored keys get an expiry on first validation")
	case errors.Is(err, license.ErrConfirmationRequired):
		WriteErrorWithHint(w, r, http.StatusBadRequest, ErrCodeConfirmationRequired,
			"Confirmation required",
			`Send {"confirm":"`+license.PurgeAllConfirmation+`"} to delete every key`)
	case errors.Is(err, license.ErrInvalidCount),
		errors.Is(err, license.ErrInvalidDays),
		errors.Is(err, license.ErrInvalidPolicy):
		WriteError(w, r, http.StatusBadRequest, ErrCodeInvalidRequest, err.Error())
	case errors.As(err, &verr):
		WriteError(w, r, http.StatusBadRequest, ErrCodeInvalidRequest, verr.Message)
	case license.IsPersistenceError(err):
		h.logger.Error("admin operation failed", "op", op, "error", err)
		metrics.RecordStoreError(op)
		WriteError(w, r, http.StatusInternalServerError, ErrCodeInternalError, "internal server error")
	default:
		// Import reports malformed documents as plain errors.
		WriteError(w, r, http.StatusBadRequest, ErrCodeInvalidRequest, err.Error())
	}
}
