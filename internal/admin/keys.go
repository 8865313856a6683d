package admin

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"

	"github.com/sipico/license-key-server/internal/license"
	"github.com/sipico/license-key-server/internal/metrics"
	"github.com/sipico/license-key-server/internal/storage"
	"github.com/sipico/license-key-server/internal/validation"
)

// KeyResponse is the admin view of one license key.
type KeyResponse struct {
	Code          string     `json:"code"`
	Duration      string     `json:"duration"`
	Mode          string     `json:"mode"`
	Status        string     `json:"status"`
	Created       time.Time  `json:"created"`
	Expiry        *time.Time `json:"expiry"`
	Used          bool       `json:"used"`
	HWID          string     `json:"hwid,omitempty"`
	ActivatedDate *time.Time `json:"activated_date,omitempty"`
	Extended      int        `json:"extended,omitempty"`
	ExtendedDate  *time.Time `json:"extended_date,omitempty"`
	Notes         string     `json:"notes,omitempty"`
}

func newKeyResponse(rec *storage.KeyRecord, now time.Time) KeyResponse {
	return KeyResponse{
		Code:          rec.Code,
		Duration:      rec.Policy.String(),
		Mode:          string(rec.Mode),
		Status:        string(license.StatusOf(rec, now)),
		Created:       rec.CreatedAt.UTC(),
		Expiry:        utc(rec.ExpiresAt),
		Used:          rec.Used,
		HWID:          rec.DeviceID,
		ActivatedDate: utc(rec.ActivatedAt),
		Extended:      rec.ExtendedDays,
		ExtendedDate:  utc(rec.ExtendedAt),
		Notes:         rec.Notes,
	}
}

func utc(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}

// HandleListKeys returns stored keys, newest first
// GET /api/keys?duration=7days&status=used&q=ABCD
func (h *Handler) HandleListKeys(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	var filter license.Filter
	if d := q.Get("duration"); d != "" {
		policy, err := storage.ParsePolicy(d)
		if err != nil {
			WriteError(w, r, http.StatusBadRequest, ErrCodeInvalidRequest, err.Error())
			return
		}
		filter.Policy = &policy
	}
	status, ok := license.ParseStatus(q.Get("status"))
	if !ok {
		WriteErrorWithHint(w, r, http.StatusBadRequest, ErrCodeInvalidRequest,
			"Invalid status filter", "Use one of: available, used, expired, pending")
		return
	}
	filter.Status = status
	filter.Query = q.Get("q")

	recs, err := h.service.List(r.Context(), filter)
	if err != nil {
		h.writeServiceError(w, r, "list", err)
		return
	}

	now := h.service.Now()
	resp := make([]KeyResponse, len(recs))
	for i, rec := range recs {
		resp[i] = newKeyResponse(rec, now)
	}
	render.JSON(w, r, resp)
}

// HandleGetKey returns one key
// GET /api/keys/{code}
func (h *Handler) HandleGetKey(w http.ResponseWriter, r *http.Request) {
	rec, err := h.service.Get(r.Context(), chi.URLParam(r, "code"))
	if err != nil {
		h.writeServiceError(w, r, "get", err)
		return
	}
	render.JSON(w, r, newKeyResponse(rec, h.service.Now()))
}

// GenerateKeysRequest is the request body for POST /api/keys
type GenerateKeysRequest struct {
	Count    int    `json:"count" validate:"required,min=1"`
	Duration string `json:"duration" validate:"required"`
	Mode     string `json:"mode,omitempty" validate:"omitempty,oneof=creation activation"`
	Notes    string `json:"notes,omitempty" validate:"max=1000"`
}

// GenerateKeysResponse lists the codes created by one request.
type GenerateKeysResponse struct {
	Keys []string `json:"keys"`
}

// HandleGenerateKeys creates a batch of keys
// POST /api/keys
// Body: {"count": 5, "duration": "7days", "mode": "activation", "notes": "..."}
func (h *Handler) HandleGenerateKeys(w http.ResponseWriter, r *http.Request) {
	var req GenerateKeysRequest
	if err := validation.Decode(r, &req); err != nil {
		writeDecodeError(w, r, err)
		return
	}
	if req.Count > h.service.MaxGenerate() {
		WriteErrorWithHint(w, r, http.StatusBadRequest, ErrCodeInvalidRequest,
			"count exceeds the per-request limit",
			"Generate at most "+itoa(h.service.MaxGenerate())+" keys per request")
		return
	}

	policy, err := storage.ParsePolicy(req.Duration)
	if err != nil {
		WriteError(w, r, http.StatusBadRequest, ErrCodeInvalidRequest, err.Error())
		return
	}

	codes, err := h.service.Generate(r.Context(), license.GenerateRequest{
		Count:  req.Count,
		Policy: policy,
		Mode:   storage.ExpiryMode(req.Mode),
		Notes:  req.Notes,
	})
	if err != nil {
		h.writeServiceError(w, r, "generate", err)
		return
	}
	metrics.RecordKeysGenerated(len(codes))

	render.Status(r, http.StatusCreated)
	render.JSON(w, r, GenerateKeysResponse{Keys: codes})
}

// HandleDeleteKey removes a key
// DELETE /api/keys/{code}
func (h *Handler) HandleDeleteKey(w http.ResponseWriter, r *http.Request) {
	if err := h.service.Delete(r.Context(), chi.URLParam(r, "code")); err != nil {
		h.writeServiceError(w, r, "delete", err)
		return
	}
	metrics.RecordKeysPurged("deleted", 1)
	w.WriteHeader(http.StatusNoContent)
}

// ExtendKeyRequest is the request body for POST /api/keys/{code}/extend
type ExtendKeyRequest struct {
	Days int `json:"days" validate:"required,min=1,max=3650"`
}

// ExtendKeyResponse reports the new expiry and cumulative extension.
type ExtendKeyResponse struct {
	NewExpiry *time.Time `json:"new_expiry"`
	Extended  int        `json:"extended"`
}

// HandleExtendKey pushes a key's expiry forward
// POST /api/keys/{code}/extend
// Body: {"days": 30}
func (h *Handler) HandleExtendKey(w http.ResponseWriter, r *http.Request) {
	var req ExtendKeyRequest
	if err := validation.Decode(r, &req); err != nil {
		writeDecodeError(w, r, err)
		return
	}

	rec, err := h.service.Extend(r.Context(), chi.URLParam(r, "code"), req.Days)
	if err != nil {
		h.writeServiceError(w, r, "extend", err)
		return
	}
	render.JSON(w, r, ExtendKeyResponse{NewExpiry: utc(rec.ExpiresAt), Extended: rec.ExtendedDays})
}

// HandleResetKey clears activation so the key can be used on another device
// POST /api/keys/{code}/reset
func (h *Handler) HandleResetKey(w http.ResponseWriter, r *http.Request) {
	if _, err := h.service.Reset(r.Context(), chi.URLParam(r, "code")); err != nil {
		h.writeServiceError(w, r, "reset", err)
		return
	}
	render.JSON(w, r, map[string]string{"status": "ok"})
}

// SetNotesRequest is the request body for PUT /api/keys/{code}/notes
type SetNotesRequest struct {
	Notes string `json:"notes" validate:"max=1000"`
}

// HandleSetNotes replaces a key's admin annotation
// PUT /api/keys/{code}/notes
func (h *Handler) HandleSetNotes(w http.ResponseWriter, r *http.Request) {
	var req SetNotesRequest
	if err := validation.Decode(r, &req); err != nil {
		writeDecodeError(w, r, err)
		return
	}

	rec, err := h.service.SetNotes(r.Context(), chi.URLParam(r, "code"), req.Notes)
	if err != nil {
		h.writeServiceError(w, r, "notes", err)
		return
	}
	render.JSON(w, r, newKeyResponse(rec, h.service.Now()))
}
