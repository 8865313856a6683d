package admin

import (
	"bytes"
	"context"
	"errors"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sipico/license-key-server/internal/auth"
	"github.com/sipico/license-key-server/internal/license"
	"github.com/sipico/license-key-server/internal/storage"
	"github.com/sipico/license-key-server/internal/testutil/mockstore"
)

const testAccessKey = "admin-secret"

var t0 = time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

type fixedClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fixedClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fixedClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type testEnv struct {
	srv      *httptest.Server
	svc      *license.Service
	clock    *fixedClock
	logLevel *slog.LevelVar
}

// setupAdmin serves the admin router over a real service. A nil store
// means a fresh in-memory SQLite database.
func setupAdmin(t *testing.T, store storage.Storage) *testEnv {
	t.Helper()

	if store == nil {
		s, err := storage.New(":memory:")
		require.NoError(t, err)
		t.Cleanup(func() { _ = s.Close() })
		store = s
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	clock := &fixedClock{now: t0}
	svc := license.NewService(store,
		license.WithClock(clock.Now),
		license.WithLogger(logger),
		license.WithMaxGenerate(20))

	authenticator, err := auth.NewKeyAuthenticator(testAccessKey, "")
	require.NoError(t, err)

	logLevel := new(slog.LevelVar)
	h := NewHandler(svc, authenticator, logLevel, logger)
	srv := httptest.NewServer(h.NewRouter())
	t.Cleanup(srv.Close)

	return &testEnv{srv: srv, svc: svc, clock: clock, logLevel: logLevel}
}

// do sends an authenticated request and decodes a JSON response into out
// when out is non-nil.
func (e *testEnv) do(t *testing.T, method, path string, body any, out any) *http.Response {
	t.Helper()

	var reader io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		reader = strings.NewReader(b)
	default:
		data, err := json.Marshal(b)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, e.srv.URL+path, reader)
	require.NoError(t, err)
	req.Header.Set(auth.AccessKeyHeader, testAccessKey)
	if reader != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })

	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp
}

func (e *testEnv) generate(t *testing.T, count int, duration, mode string) []string {
	t.Helper()
	var out GenerateKeysResponse
	resp := e.do(t, http.MethodPost, "/api/keys",
		GenerateKeysRequest{Count: count, Duration: duration, Mode: mode}, &out)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	require.Len(t, out.Keys, count)
	return out.Keys
}

func TestHealthAndReady(t *testing.T) {
	t.Parallel()
	env := setupAdmin(t, nil)

	resp, err := http.Get(env.srv.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp2, err := http.Get(env.srv.URL + "/ready")
	require.NoError(t, err)
	defer resp2.Body.Close()
	var body map[string]string
	require.NoError(t, json.NewDecoder(resp2.Body).Decode(&body))
	assert.Equal(t, http.StatusOK, resp2.StatusCode)
	assert.Equal(t, "connected", body["database"])
}

func TestReady_StoreDown(t *testing.T) {
	t.Parallel()
	env := setupAdmin(t, &mockstore.MockStorage{
		PingFunc: func(ctx context.Context) error { return errors.New("connection refused") },
	})

	resp, err := http.Get(env.srv.URL + "/ready")
	require.NoError(t, err)
	defer resp.Body.Close()
	var body map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	assert.Equal(t, "unavailable", body["database"])
}

func TestAPI_RequiresAccessKey(t *testing.T) {
	t.Parallel()
	env := setupAdmin(t, nil)

	tests := []struct {
		name    string
		headers map[string]string
		want    int
	}{
		{"missing", nil, http.StatusUnauthorized},
		{"wrong", map[string]string{auth.AccessKeyHeader: "nope"}, http.StatusUnauthorized},
		{"header", map[string]string{auth.AccessKeyHeader: testAccessKey}, http.StatusOK},
		{"bearer", map[string]string{"Authorization": "Bearer " + testAccessKey}, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, err := http.NewRequest(http.MethodGet, env.srv.URL+"/api/whoami", nil)
			require.NoError(t, err)
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			resp, err := http.DefaultClient.Do(req)
			require.NoError(t, err)
			defer resp.Body.Close()
			assert.Equal(t, tt.want, resp.StatusCode)

			if tt.want == http.StatusUnauthorized {
				var apiErr APIError
				require.NoError(t, json.NewDecoder(resp.Body).Decode(&apiErr))
				assert.Equal(t, ErrCodeInvalidCredentials, apiErr.Error)
			}
		})
	}
}

func TestWhoami(t *testing.T) {
	t.Parallel()
	env := setupAdmin(t, nil)

	var out WhoamiResponse
	resp := env.do(t, http.MethodGet, "/api/whoami", nil, &out)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "admin", out.Name)
	assert.Equal(t, string(auth.MethodAccessKey), out.Method)
	assert.True(t, out.IsAdmin)
}

func TestSetLogLevel(t *testing.T) {
	t.Parallel()
	env := setupAdmin(t, nil)

	resp := env.do(t, http.MethodPost, "/api/loglevel", SetLogLevelRequest{Level: "debug"}, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, slog.LevelDebug, env.logLevel.Level())

	var apiErr APIError
	resp = env.do(t, http.MethodPost, "/api/loglevel", SetLogLevelRequest{Level: "trace"}, &apiErr)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, ErrCodeInvalidRequest, apiErr.Error)
	assert.Equal(t, slog.LevelDebug, env.logLevel.Level())
}

func TestGenerateAndGetKey(t *testing.T) {
	t.Parallel()
	env := setupAdmin(t, nil)

	codes := env.generate(t, 3, "7days", "")
	for _, code := range codes {
		assert.Regexp(t, `^[0-9A-F]{4}(-[0-9A-F]{4}){5}$`, code)
	}

	var key KeyResponse
	resp := env.do(t, http.MethodGet, "/api/keys/"+strings.ToLower(codes[0]), nil, &key)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, codes[0], key.Code)
	assert.Equal(t, "7days", key.Duration)
	assert.Equal(t, "creation", key.Mode)
	assert.Equal(t, string(license.StatusAvailable), key.Status)
	assert.Equal(t, t0, key.Created)
	require.NotNil(t, key.Expiry)
	assert.Equal(t, t0.Add(7*24*time.Hour), *key.Expiry)
	assert.False(t, key.Used)
}

func TestGenerateKeys_ActivationMode(t *testing.T) {
	t.Parallel()
	env := setupAdmin(t, nil)

	codes := env.generate(t, 1, "2 minutes", "activation")

	var key KeyResponse
	env.do(t, http.MethodGet, "/api/keys/"+codes[0], nil, &key)
	assert.Equal(t, "2minutes", key.Duration)
	assert.Equal(t, string(license.StatusPending), key.Status)
	assert.Nil(t, key.Expiry)
}

func TestGenerateKeys_BadRequests(t *testing.T) {
	t.Parallel()
	env := setupAdmin(t, nil)

	tests := []struct {
		name string
		body any
	}{
		{"empty body", nil},
		{"invalid json", "{"},
		{"missing count", map[string]any{"duration": "7days"}},
		{"missing duration", map[string]any{"count": 1}},
		{"bad duration", map[string]any{"count": 1, "duration": "7 fortnights"}},
		{"zero days", map[string]any{"count": 1, "duration": "0days"}},
		{"bad mode", map[string]any{"count": 1, "duration": "7days", "mode": "forever"}},
		{"over limit", map[string]any{"count": 21, "duration": "7days"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var apiErr APIError
			resp := env.do(t, http.MethodPost, "/api/keys", tt.body, &apiErr)
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
			assert.Equal(t, ErrCodeInvalidRequest, apiErr.Error)
			assert.NotEmpty(t, apiErr.Message)
		})
	}

	n, err := env.svc.Count(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestGetKey_NotFound(t *testing.T) {
	t.Parallel()
	env := setupAdmin(t, nil)

	var apiErr APIError
	resp := env.do(t, http.MethodGet, "/api/keys/0000-0000-0000-0000-0000-0000", nil, &apiErr)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, ErrCodeNotFound, apiErr.Error)
}

func TestListKeys_Filters(t *testing.T) {
	t.Parallel()
	env := setupAdmin(t, nil)
	ctx := context.Background()

	week := env.generate(t, 2, "7days", "")
	month := env.generate(t, 1, "30days", "")
	pending := env.generate(t, 1, "1day", "activation")

	_, err := env.svc.Validate(ctx, week[0], "PC-ONE")
	require.NoError(t, err)
	_, err = env.svc.SetNotes(ctx, month[0], "Reseller batch")
	require.NoError(t, err)

	list := func(query string) []string {
		var out []KeyResponse
		resp := env.do(t, http.MethodGet, "/api/keys"+query, nil, &out)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		codes := make([]string, len(out))
		for i, k := range out {
			codes[i] = k.Code
		}
		return codes
	}

	assert.Len(t, list(""), 4)
	assert.ElementsMatch(t, week, list("?duration=7days"))
	assert.ElementsMatch(t, []string{week[0]}, list("?status=used"))
	assert.ElementsMatch(t, []string{week[1], month[0]}, list("?status=available"))
	assert.ElementsMatch(t, pending, list("?status=pending"))
	assert.ElementsMatch(t, []string{week[0]}, list("?q=pc-one"))
	assert.ElementsMatch(t, month, list("?q=reseller"))

	env.clock.Advance(8 * 24 * time.Hour)
	assert.ElementsMatch(t, week, list("?status=expired"))

	var apiErr APIError
	resp := env.do(t, http.MethodGet, "/api/keys?status=lost", nil, &apiErr)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp = env.do(t, http.MethodGet, "/api/keys?duration=soon", nil, &apiErr)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestDeleteKey(t *testing.T) {
	t.Parallel()
	env := setupAdmin(t, nil)
	codes := env.generate(t, 1, "7days", "")

	resp := env.do(t, http.MethodDelete, "/api/keys/"+codes[0], nil, nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = env.do(t, http.MethodDelete, "/api/keys/"+codes[0], nil, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestExtendKey(t *testing.T) {
	t.Parallel()
	env := setupAdmin(t, nil)
	codes := env.generate(t, 1, "7days", "")

	var out ExtendKeyResponse
	resp := env.do(t, http.MethodPost, "/api/keys/"+codes[0]+"/extend", ExtendKeyRequest{Days: 30}, &out)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NotNil(t, out.NewExpiry)
	assert.Equal(t, t0.Add(37*24*time.Hour), *out.NewExpiry)
	assert.Equal(t, 30, out.Extended)

	resp = env.do(t, http.MethodPost, "/api/keys/"+codes[0]+"/extend", ExtendKeyRequest{Days: 5}, &out)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 35, out.Extended)
}

func TestExtendKey_Errors(t *testing.T) {
	t.Parallel()
	env := setupAdmin(t, nil)
	pending := env.generate(t, 1, "7days", "activation")

	tests := []struct {
		name     string
		code     string
		body     any
		wantCode int
		wantErr  string
	}{
		{"no expiry yet", pending[0], ExtendKeyRequest{Days: 10}, http.StatusConflict, ErrCodeNoExpirySet},
		{"unknown key", "0000-0000-0000-0000-0000-0000", ExtendKeyRequest{Days: 10}, http.StatusNotFound, ErrCodeNotFound},
		{"zero days", pending[0], map[string]int{"days": 0}, http.StatusBadRequest, ErrCodeInvalidRequest},
		{"too many days", pending[0], map[string]int{"days": 4000}, http.StatusBadRequest, ErrCodeInvalidRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var apiErr APIError
			resp := env.do(t, http.MethodPost, "/api/keys/"+tt.code+"/extend", tt.body, &apiErr)
			assert.Equal(t, tt.wantCode, resp.StatusCode)
			assert.Equal(t, tt.wantErr, apiErr.Error)
		})
	}
}

func TestResetKey(t *testing.T) {
	t.Parallel()
	env := setupAdmin(t, nil)
	ctx := context.Background()
	codes := env.generate(t, 1, "7days", "")

	res, err := env.svc.Validate(ctx, codes[0], "PC-ONE")
	require.NoError(t, err)
	require.True(t, res.Valid)

	resp := env.do(t, http.MethodPost, "/api/keys/"+codes[0]+"/reset", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var key KeyResponse
	env.do(t, http.MethodGet, "/api/keys/"+codes[0], nil, &key)
	assert.False(t, key.Used)
	assert.Empty(t, key.HWID)

	res, err = env.svc.Validate(ctx, codes[0], "PC-TWO")
	require.NoError(t, err)
	assert.Equal(t, license.OutcomeActivatedNow, res.Outcome)
}

func TestSetNotes(t *testing.T) {
	t.Parallel()
	env := setupAdmin(t, nil)
	codes := env.generate(t, 1, "7days", "")

	var key KeyResponse
	resp := env.do(t, http.MethodPut, "/api/keys/"+codes[0]+"/notes", SetNotesRequest{Notes: "Order 1142"}, &key)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "Order 1142", key.Notes)

	resp = env.do(t, http.MethodPut, "/api/keys/"+codes[0]+"/notes", SetNotesRequest{Notes: ""}, &key)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Empty(t, key.Notes)
}

func TestStatsAndPurge(t *testing.T) {
	t.Parallel()
	env := setupAdmin(t, nil)
	ctx := context.Background()

	week := env.generate(t, 2, "7days", "")
	env.generate(t, 1, "30days", "")
	env.generate(t, 1, "7days", "activation")
	_, err := env.svc.Validate(ctx, week[0], "PC-ONE")
	require.NoError(t, err)

	env.clock.Advance(8 * 24 * time.Hour)

	var st license.Stats
	env.do(t, http.MethodGet, "/api/stats", nil, &st)
	assert.Equal(t, license.Stats{Total: 4, Used: 1, Available: 3, Expired: 1, ActivationPending: 1}, st)

	var purged CountResponse
	resp := env.do(t, http.MethodPost, "/api/purge/expired", nil, &purged)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 2, purged.Count)

	var apiErr APIError
	resp = env.do(t, http.MethodPost, "/api/purge/all", PurgeAllRequest{Confirm: "yes"}, &apiErr)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, ErrCodeConfirmationRequired, apiErr.Error)
	assert.NotEmpty(t, apiErr.Hint)

	resp = env.do(t, http.MethodPost, "/api/purge/all", nil, &apiErr)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, ErrCodeConfirmationRequired, apiErr.Error)

	resp = env.do(t, http.MethodPost, "/api/purge/all", PurgeAllRequest{Confirm: license.PurgeAllConfirmation}, &purged)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 2, purged.Count)

	n, err := env.svc.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestExportImportRoundTrip(t *testing.T) {
	t.Parallel()
	src := setupAdmin(t, nil)
	codes := src.generate(t, 2, "7days", "")
	_, err := src.svc.Validate(context.Background(), codes[0], "PC-ONE")
	require.NoError(t, err)

	resp := src.do(t, http.MethodGet, "/api/export", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Disposition"), "keys.json")
	doc, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	var mapping map[string]map[string]any
	require.NoError(t, json.Unmarshal(doc, &mapping))
	require.Contains(t, mapping, codes[0])
	assert.Equal(t, "PC-ONE", mapping[codes[0]]["hwid"])

	dst := setupAdmin(t, nil)
	var imported ImportResponse
	resp = dst.do(t, http.MethodPost, "/api/import", string(doc), &imported)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 2, imported.Imported)

	// Existing codes are skipped unless overwrite is requested.
	resp = dst.do(t, http.MethodPost, "/api/import", string(doc), &imported)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Zero(t, imported.Imported)

	resp = dst.do(t, http.MethodPost, "/api/import?overwrite=true", string(doc), &imported)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 2, imported.Imported)

	var key KeyResponse
	dst.do(t, http.MethodGet, "/api/keys/"+codes[0], nil, &key)
	assert.True(t, key.Used)
	assert.Equal(t, "PC-ONE", key.HWID)
}

func TestImport_BadDocument(t *testing.T) {
	t.Parallel()
	env := setupAdmin(t, nil)

	tests := []struct {
		name string
		path string
		body string
	}{
		{"not json", "/api/import", "[keys]"},
		{"bad timestamp", "/api/import", `{"ABCD-0000-0000-0000-0000-0001":{"expiry":"next week","duration":"7days"}}`},
		{"bad overwrite flag", "/api/import?overwrite=maybe", `{}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var apiErr APIError
			resp := env.do(t, http.MethodPost, tt.path, tt.body, &apiErr)
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
			assert.Equal(t, ErrCodeInvalidRequest, apiErr.Error)
		})
	}
}

func TestPersistenceFailure(t *testing.T) {
	t.Parallel()
	env := setupAdmin(t, &mockstore.MockStorage{
		ListFunc: func(ctx context.Context) ([]*storage.KeyRecord, error) {
			return nil, errors.New("disk I/O error")
		},
	})

	var apiErr APIError
	resp := env.do(t, http.MethodGet, "/api/stats", nil, &apiErr)
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	assert.Equal(t, ErrCodeInternalError, apiErr.Error)
	assert.NotContains(t, apiErr.Message, "disk")
}
