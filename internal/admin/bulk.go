package admin

import (
	"bytes"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/render"

	"github.com/sipico/license-key-server/internal/metrics"
	"github.com/sipico/license-key-server/internal/validation"
)

// CountResponse reports how many keys an operation touched.
type CountResponse struct {
	Count int `json:"count"`
}

// HandleStats returns key counts
// GET /api/stats
func (h *Handler) HandleStats(w http.ResponseWriter, r *http.Request) {
	st, err := h.service.Stats(r.Context())
	if err != nil {
		h.writeServiceError(w, r, "stats", err)
		return
	}
	render.JSON(w, r, st)
}

// HandlePurgeExpired deletes every expired key
// POST /api/purge/expired
func (h *Handler) HandlePurgeExpired(w http.ResponseWriter, r *http.Request) {
	n, err := h.service.PurgeExpired(r.Context())
	if err != nil {
		h.writeServiceError(w, r, "purge_expired", err)
		return
	}
	metrics.RecordKeysPurged("expired", n)
	render.JSON(w, r, CountResponse{Count: n})
}

// PurgeAllRequest is the request body for POST /api/purge/all
type PurgeAllRequest struct {
	Confirm string `json:"confirm"`
}

// HandlePurgeAll deletes every key
// POST /api/purge/all
// Body: {"confirm": "DELETE ALL"}
func (h *Handler) HandlePurgeAll(w http.ResponseWriter, r *http.Request) {
	var req PurgeAllRequest
	if err := validation.Decode(r, &req); err != nil && !errors.Is(err, validation.ErrEmptyBody) {
		writeDecodeError(w, r, err)
		return
	}

	n, err := h.service.PurgeAll(r.Context(), req.Confirm)
	if err != nil {
		h.writeServiceError(w, r, "purge_all", err)
		return
	}
	metrics.RecordKeysPurged("all", n)
	render.JSON(w, r, CountResponse{Count: n})
}

// HandleExport writes every key as a keys.json document
// GET /api/export
func (h *Handler) HandleExport(w http.ResponseWriter, r *http.Request) {
	var buf bytes.Buffer
	if err := h.service.Export(r.Context(), &buf); err != nil {
		h.writeServiceError(w, r, "export", err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Disposition", `attachment; filename="keys.json"`)
	if _, err := w.Write(buf.Bytes()); err != nil {
		h.logger.Debug("export response write failed", "error", err)
	}
}

// ImportResponse reports how many records an import wrote.
type ImportResponse struct {
	Imported int `json:"imported"`
}

// HandleImport loads a keys.json document
// POST /api/import?overwrite=true
func (h *Handler) HandleImport(w http.ResponseWriter, r *http.Request) {
	overwrite := false
	if v := r.URL.Query().Get("overwrite"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			WriteError(w, r, http.StatusBadRequest, ErrCodeInvalidRequest, "overwrite must be true or false")
			return
		}
		overwrite = b
	}

	n, err := h.service.Import(r.Context(), r.Body, overwrite)
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			WriteError(w, r, http.StatusRequestEntityTooLarge, ErrCodeRequestTooLarge, "request body too large")
			return
		}
		h.writeServiceError(w, r, "import", err)
		return
	}
	h.logger.Info("keys imported via API", "count", n, "overwrite", overwrite)
	render.JSON(w, r, ImportResponse{Imported: n})
}

func itoa(n int) string { return strconv.Itoa(n) }
