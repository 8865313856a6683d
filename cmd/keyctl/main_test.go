package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/sipico/license-key-server/internal/config"
	"github.com/sipico/license-key-server/internal/server"
)

const testAccessKey = "admin-secret"

func startServer(t *testing.T) string {
	t.Helper()
	cfg := &config.Config{
		LogLevel:           "error",
		LogFormat:          "json",
		StoreBackend:       "memory",
		AdminKey:           testAccessKey,
		ExpiryMode:         "creation",
		MaxGenerateCount:   100,
		CORSAllowedOrigins: []string{"*"},
		ValidateRateRPS:    1000,
		ValidateRateBurst:  1000,
		MaxBodyBytes:       1 << 20,
		ShutdownTimeout:    time.Second,
	}
	c, err := server.Initialize(context.Background(), cfg, "test", io.Discard)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Store.Close() })

	srv := httptest.NewServer(c.MainRouter)
	t.Cleanup(srv.Close)
	return srv.URL
}

// keyctl runs the CLI with args and returns stdout.
func keyctl(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	root := newRootCmd(&out, strings.NewReader(stdin))
	root.SetErr(io.Discard)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestKeyctl_Workflow(t *testing.T) {
	url := startServer(t)
	base := []string{"--server", url, "--access-key", testAccessKey}
	run := func(args ...string) string {
		t.Helper()
		out, err := keyctl(t, "", append(append([]string{}, base...), args...)...)
		require.NoError(t, err, "keyctl %v", args)
		return out
	}

	var generated struct {
		Keys []string `json:"keys"`
	}
	require.NoError(t, json.Unmarshal([]byte(run("generate", "--count", "3", "--duration", "7days")), &generated))
	require.Len(t, generated.Keys, 3)
	code := generated.Keys[0]

	var res struct {
		Valid   bool   `json:"valid"`
		Message string `json:"message"`
	}
	require.NoError(t, json.Unmarshal([]byte(run("validate", code, "PC-ONE")), &res))
	assert.True(t, res.Valid)

	var keys []map[string]any
	require.NoError(t, json.Unmarshal([]byte(run("list", "--status", "used")), &keys))
	require.Len(t, keys, 1)
	assert.Equal(t, code, keys[0]["code"])

	var st map[string]int
	require.NoError(t, json.Unmarshal([]byte(run("stats")), &st))
	assert.Equal(t, 3, st["total"])
	assert.Equal(t, 1, st["used"])

	var ext map[string]any
	require.NoError(t, json.Unmarshal([]byte(run("extend", code, "10")), &ext))
	assert.EqualValues(t, 10, ext["extended"])

	assert.Contains(t, run("notes", code, "vip"), `"notes": "vip"`)
	assert.Contains(t, run("reset", code), `"ok"`)
	assert.Contains(t, run("get", code), `"used": false`)
	assert.Contains(t, run("delete", generated.Keys[1]), generated.Keys[1])

	exportPath := filepath.Join(t.TempDir(), "keys.json")
	run("export", "--output", exportPath)
	doc, err := os.ReadFile(exportPath)
	require.NoError(t, err)
	assert.Contains(t, string(doc), code)

	assert.Contains(t, run("purge-expired"), `"count": 0`)

	_, err = keyctl(t, "", append(base, "purge-all")...)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "confirmation_required")

	assert.Contains(t, run("purge-all", "--confirm", "DELETE ALL"), `"count": 2`)

	var imported map[string]int
	require.NoError(t, json.Unmarshal([]byte(run("import", exportPath)), &imported))
	assert.Equal(t, 2, imported["imported"])

	out, err := keyctl(t, string(doc), append(base, "import", "-", "--overwrite")...)
	require.NoError(t, err)
	assert.Contains(t, out, `"imported": 2`)
}

func TestKeyctl_Errors(t *testing.T) {
	url := startServer(t)

	_, err := keyctl(t, "", "--server", url, "--access-key", "wrong", "stats")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unauthorized")

	_, err = keyctl(t, "", "--server", url, "--access-key", testAccessKey, "extend", "CODE", "soon")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid DAYS")

	_, err = keyctl(t, "", "--server", url, "validate", "only-one-arg")
	assert.Error(t, err)
}

func TestKeyctl_HashKey(t *testing.T) {
	t.Parallel()

	out, err := keyctl(t, "", "hash-key", "s3cret")
	require.NoError(t, err)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(strings.TrimSpace(out)), []byte("s3cret")))

	out, err = keyctl(t, "from-stdin\n", "hash-key")
	require.NoError(t, err)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(strings.TrimSpace(out)), []byte("from-stdin")))

	_, err = keyctl(t, "", "hash-key")
	assert.Error(t, err)
}
