package admin

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/render"

	"github.com/sipico/license-key-server/internal/auth"
	"github.com/sipico/license-key-server/internal/validation"
)

// SetLogLevelRequest is the request body for POST /api/loglevel
type SetLogLevelRequest struct {
	Level string `json:"level" validate:"required,oneof=debug info warn error"`
}

var logLevels = map[string]slog.Level{
	"debug": slog.LevelDebug,
	"info":  slog.LevelInfo,
	"warn":  slog.LevelWarn,
	"error": slog.LevelError,
}

// HandleSetLogLevel changes runtime log level
// POST /api/loglevel
// Body: {"level": "debug|info|warn|error"}
func (h *Handler) HandleSetLogLevel(w http.ResponseWriter, r *http.Request) {
	var req SetLogLevelRequest
	if err := validation.Decode(r, &req); err != nil {
		writeDecodeError(w, r, err)
		return
	}

	h.logLevel.Set(logLevels[req.Level])
	h.logger.Info("log level changed", "new_level", req.Level)

	render.JSON(w, r, map[string]string{"level": req.Level})
}

// WhoamiResponse describes the authenticated caller.
type WhoamiResponse struct {
	Name    string `json:"name"`
	Method  string `json:"method"`
	IsAdmin bool   `json:"is_admin"`
}

// HandleWhoami returns the authenticated principal
// GET /api/whoami
func (h *Handler) HandleWhoami(w http.ResponseWriter, r *http.Request) {
	p := auth.PrincipalFromContext(r.Context())
	if p == nil {
		WriteError(w, r, http.StatusUnauthorized, ErrCodeInvalidCredentials, "Not authenticated")
		return
	}
	render.JSON(w, r, WhoamiResponse{
		Name:    p.Name,
		Method:  string(p.Method),
		IsAdmin: auth.IsAdminFromContext(r.Context()),
	})
}
