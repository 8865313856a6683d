//go:build e2e

package e2e

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/sipico/license-key-server/internal/client"
)

// getEnv returns an environment variable or a fallback value.
func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// waitForService polls a URL until it's healthy or timeout is reached.
func waitForService(url string, timeout time.Duration) error {
	hc := &http.Client{Timeout: 2 * time.Second}
	deadline := time.Now().Add(timeout)

	for time.Now().Before(deadline) {
		resp, err := hc.Get(url)
		if err == nil && resp.StatusCode == http.StatusOK {
			resp.Body.Close()
			return nil
		}
		if resp != nil {
			resp.Body.Close()
		}
		time.Sleep(500 * time.Millisecond)
	}
	return fmt.Errorf("service not ready after %v", timeout)
}

// adminClient returns a client authenticated with the admin access key.
func adminClient() *client.Client {
	return client.New(serverURL, client.WithAccessKey(accessKey))
}

// generateKeys creates keys tagged with the test name and deletes them
// when the test ends.
func generateKeys(t *testing.T, req client.GenerateRequest) []string {
	t.Helper()
	req.Notes = "e2e " + t.Name()

	c := adminClient()
	codes, err := c.GenerateKeys(context.Background(), req)
	require.NoError(t, err)

	t.Cleanup(func() {
		for _, code := range codes {
			_ = c.DeleteKey(context.Background(), code)
		}
	})
	return codes
}
