package admin

import (
	"errors"
	"net/http"

	"github.com/sipico/license-key-server/internal/auth"
	"github.com/sipico/license-key-server/internal/metrics"
	"github.com/sipico/license-key-server/internal/middleware"
)

// TokenAuthMiddleware validates the admin access key.
// It accepts the AccessKey header or "Authorization: Bearer <key>".
func (h *Handler) TokenAuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h.authenticator == nil {
			h.logger.Error("admin API called without an authenticator")
			WriteError(w, r, http.StatusServiceUnavailable, ErrCodeInternalError, "admin API is not configured")
			return
		}

		principal, err := h.authenticator.Authenticate(auth.ExtractAccessKey(r))
		if err != nil {
			reason := "invalid_key"
			message := "Invalid access key"
			if errors.Is(err, auth.ErrMissingKey) {
				reason = "missing_key"
				message = "Missing access key"
			}
			metrics.RecordAuthFailure(reason)
			h.logger.Warn("admin authentication failed",
				"reason", reason,
				"remote_addr", r.RemoteAddr,
				"request_id", middleware.GetRequestID(r.Context()))
			WriteErrorWithHint(w, r, http.StatusUnauthorized, ErrCodeInvalidCredentials, message,
				"Send the admin key in the "+auth.AccessKeyHeader+" header")
			return
		}

		h.logger.Debug("admin API request", "principal", principal.Name, "method", principal.Method)
		next.ServeHTTP(w, r.WithContext(auth.WithPrincipal(r.Context(), principal)))
	})
}
