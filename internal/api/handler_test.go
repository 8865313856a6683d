package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sipico/license-key-server/internal/license"
)

// mockValidator implements KeyValidator for testing with customizable behavior
type mockValidator struct {
	validateFunc func(ctx context.Context, code, deviceID string) (license.Result, error)
	countFunc    func(ctx context.Context) (int, error)
}

func (m *mockValidator) Validate(ctx context.Context, code, deviceID string) (license.Result, error) {
	if m.validateFunc != nil {
		return m.validateFunc(ctx, code, deviceID)
	}
	return license.Result{Message: license.MsgInvalidKey}, nil
}

func (m *mockValidator) Count(ctx context.Context) (int, error) {
	if m.countFunc != nil {
		return m.countFunc(ctx)
	}
	return 0, nil
}

func newTestHandler(m *mockValidator) *Handler {
	return NewHandler(m, "1.0.0-test", slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func postValidate(h *Handler, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest("POST", "/api/validate", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.HandleValidate(rec, req)
	return rec
}

func TestHandleIndex(t *testing.T) {
	t.Parallel()
	h := newTestHandler(&mockValidator{})
	rec := httptest.NewRecorder()
	h.HandleIndex(rec, httptest.NewRequest("GET", "/", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"message":"License Key Server","version":"1.0.0-test"}`, rec.Body.String())
}

func TestHandleStatus(t *testing.T) {
	t.Parallel()
	h := newTestHandler(&mockValidator{
		countFunc: func(context.Context) (int, error) { return 42, nil },
	})
	rec := httptest.NewRecorder()
	h.HandleStatus(rec, httptest.NewRequest("GET", "/api/status", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"online","keys":42}`, rec.Body.String())
}

func TestHandleStatus_StoreFailure(t *testing.T) {
	t.Parallel()
	h := newTestHandler(&mockValidator{
		countFunc: func(context.Context) (int, error) { return 0, errors.New("disk gone") },
	})
	rec := httptest.NewRecorder()
	h.HandleStatus(rec, httptest.NewRequest("GET", "/api/status", nil))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), `"internal_error"`)
	assert.NotContains(t, rec.Body.String(), "disk gone")
}

func TestHandleValidate_PassesKeyAndDevice(t *testing.T) {
	t.Parallel()
	var gotCode, gotDevice string
	h := newTestHandler(&mockValidator{
		validateFunc: func(_ context.Context, code, deviceID string) (license.Result, error) {
			gotCode, gotDevice = code, deviceID
			return license.Result{Message: license.MsgInvalidKey}, nil
		},
	})

	rec := postValidate(h, `{"key":" abcd-0000-1111-2222-3333-4444 ","hwid":"PC-1"}`)
	assert.Equal(t, http.StatusOK, rec.Code)
	// Normalization belongs to the service; the handler forwards raw input.
	assert.Equal(t, " abcd-0000-1111-2222-3333-4444 ", gotCode)
	assert.Equal(t, "PC-1", gotDevice)
}

func TestHandleValidate_Results(t *testing.T) {
	t.Parallel()
	expiry := time.Date(2026, 3, 8, 10, 0, 0, 0, time.UTC)

	tests := []struct {
		name   string
		result license.Result
		want   string
	}{
		{
			name:   "activated",
			result: license.Result{Outcome: license.OutcomeActivatedNow, Valid: true, Message: license.MsgActivated, ExpiresAt: &expiry},
			want:   `{"valid":true,"message":"Key activated successfully","expiry":"2026-03-08T10:00:00Z"}`,
		},
		{
			name:   "still valid",
			result: license.Result{Outcome: license.OutcomeStillValid, Valid: true, Message: license.MsgValid, ExpiresAt: &expiry},
			want:   `{"valid":true,"message":"Key valid","expiry":"2026-03-08T10:00:00Z"}`,
		},
		{
			name:   "not found",
			result: license.Result{Outcome: license.OutcomeNotFound, Message: license.MsgInvalidKey},
			want:   `{"valid":false,"message":"Invalid key"}`,
		},
		{
			name:   "expired",
			result: license.Result{Outcome: license.OutcomeExpired, Message: license.MsgKeyExpired},
			want:   `{"valid":false,"message":"Key expired"}`,
		},
		{
			name:   "device mismatch",
			result: license.Result{Outcome: license.OutcomeDeviceMismatch, Message: license.MsgDeviceMismatch},
			want:   `{"valid":false,"message":"Key already in use on another PC"}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			h := newTestHandler(&mockValidator{
				validateFunc: func(context.Context, string, string) (license.Result, error) { return tt.result, nil },
			})
			rec := postValidate(h, `{"key":"ABCD-0000-1111-2222-3333-4444","hwid":"PC-1"}`)
			assert.Equal(t, http.StatusOK, rec.Code)
			assert.JSONEq(t, tt.want, rec.Body.String())
		})
	}
}

func TestHandleValidate_BadRequests(t *testing.T) {
	t.Parallel()

	called := false
	h := newTestHandler(&mockValidator{
		validateFunc: func(context.Context, string, string) (license.Result, error) {
			called = true
			return license.Result{}, nil
		},
	})

	for name, body := range map[string]string{
		"invalid json": `{"key":`,
		"empty body":   ``,
		"missing key":  `{"hwid":"PC-1"}`,
		"missing hwid": `{"key":"ABCD-0000-1111-2222-3333-4444"}`,
		"blank hwid":   `{"key":"ABCD-0000-1111-2222-3333-4444","hwid":""}`,
		"not object":   `["ABCD"]`,
	} {
		rec := postValidate(h, body)
		assert.Equal(t, http.StatusBadRequest, rec.Code, name)

		var resp errorResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp), name)
		assert.Equal(t, ErrCodeInvalidRequest, resp.Error, name)
		assert.NotEmpty(t, resp.Message, name)
	}
	assert.False(t, called, "service must not be called for malformed requests")
}

func TestHandleValidate_PersistenceFailure(t *testing.T) {
	t.Parallel()
	h := newTestHandler(&mockValidator{
		validateFunc: func(context.Context, string, string) (license.Result, error) {
			return license.Result{}, &license.PersistenceError{Op: "validate", Err: errors.New("database is locked")}
		},
	})

	rec := postValidate(h, `{"key":"ABCD-0000-1111-2222-3333-4444","hwid":"PC-1"}`)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.JSONEq(t, `{"error":"internal_error","message":"internal server error"}`, rec.Body.String())
}
