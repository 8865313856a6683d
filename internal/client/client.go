// Package client provides a typed HTTP client for the key server's public
// validation API and its admin API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const (
	// DefaultBaseURL is the default key server address.
	DefaultBaseURL = "http://localhost:8080"

	adminPrefix    = "/admin/api"
	defaultTimeout = 30 * time.Second
)

// Client is an HTTP client for the key server.
type Client struct {
	baseURL    string
	accessKey  string
	httpClient *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithAccessKey sets the admin access key sent with admin requests.
func WithAccessKey(key string) Option {
	return func(c *Client) {
		c.accessKey = key
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		c.httpClient = client
	}
}

// WithDebugLogging logs every request and response through logger.
func WithDebugLogging(logger *slog.Logger) Option {
	return func(c *Client) {
		hc := *c.httpClient
		hc.Transport = &LoggingTransport{Transport: hc.Transport, Logger: logger}
		c.httpClient = &hc
	}
}

// New creates a client for the server at baseURL.
func New(baseURL string, opts ...Option) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: defaultTimeout},
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// do sends a request and decodes a JSON response into out when out is
// non-nil. Any status other than want is returned as an error.
func (c *Client) do(ctx context.Context, method, path string, in, out any, want int) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(data)
	}
	return c.doRaw(ctx, method, path, body, want, func(r io.Reader) error {
		if out == nil {
			return nil
		}
		if err := json.NewDecoder(r).Decode(out); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
		return nil
	})
}

func (c *Client) doRaw(ctx context.Context, method, path string, body io.Reader, want int, read func(io.Reader) error) error {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if c.accessKey != "" && strings.HasPrefix(path, "/admin/") {
		req.Header.Set("AccessKey", c.accessKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		//nolint:errcheck
		resp.Body.Close()
	}()

	if resp.StatusCode != want {
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return err
		}
		return parseError(resp.StatusCode, data)
	}
	return read(resp.Body)
}

// Status returns the server status and key count.
// GET /api/status
func (c *Client) Status(ctx context.Context) (*ServerStatus, error) {
	var out ServerStatus
	if err := c.do(ctx, http.MethodGet, "/api/status", nil, &out, http.StatusOK); err != nil {
		return nil, err
	}
	return &out, nil
}

// Validate checks a key for a hardware ID, activating it on first use.
// POST /api/validate
func (c *Client) Validate(ctx context.Context, key, hwid string) (*ValidateResult, error) {
	var out ValidateResult
	in := map[string]string{"key": key, "hwid": hwid}
	if err := c.do(ctx, http.MethodPost, "/api/validate", in, &out, http.StatusOK); err != nil {
		return nil, err
	}
	return &out, nil
}

// Ready reports whether the server can reach its key store.
// GET /admin/ready
func (c *Client) Ready(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/admin/ready", nil, nil, http.StatusOK)
}

// Whoami returns the principal the access key authenticates as.
func (c *Client) Whoami(ctx context.Context) (*Whoami, error) {
	var out Whoami
	if err := c.do(ctx, http.MethodGet, adminPrefix+"/whoami", nil, &out, http.StatusOK); err != nil {
		return nil, err
	}
	return &out, nil
}

// SetLogLevel changes the server's runtime log level.
func (c *Client) SetLogLevel(ctx context.Context, level string) error {
	in := map[string]string{"level": level}
	return c.do(ctx, http.MethodPost, adminPrefix+"/loglevel", in, nil, http.StatusOK)
}

// GenerateKeys creates keys and returns their codes.
// POST /admin/api/keys
func (c *Client) GenerateKeys(ctx context.Context, req GenerateRequest) ([]string, error) {
	var out struct {
		Keys []string `json:"keys"`
	}
	if err := c.do(ctx, http.MethodPost, adminPrefix+"/keys", req, &out, http.StatusCreated); err != nil {
		return nil, err
	}
	return out.Keys, nil
}

// ListKeys returns stored keys matching opts.
// GET /admin/api/keys
func (c *Client) ListKeys(ctx context.Context, opts *ListOptions) ([]Key, error) {
	if opts == nil {
		opts = &ListOptions{}
	}

	query := url.Values{}
	if opts.Duration != "" {
		query.Set("duration", opts.Duration)
	}
	if opts.Status != "" {
		query.Set("status", opts.Status)
	}
	if opts.Query != "" {
		query.Set("q", opts.Query)
	}

	endpoint := adminPrefix + "/keys"
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	var out []Key
	if err := c.do(ctx, http.MethodGet, endpoint, nil, &out, http.StatusOK); err != nil {
		return nil, err
	}
	return out, nil
}

func keyPath(code string, suffix ...string) string {
	p := adminPrefix + "/keys/" + url.PathEscape(code)
	for _, s := range suffix {
		p += "/" + s
	}
	return p
}

// GetKey returns one key.
func (c *Client) GetKey(ctx context.Context, code string) (*Key, error) {
	var out Key
	if err := c.do(ctx, http.MethodGet, keyPath(code), nil, &out, http.StatusOK); err != nil {
		return nil, err
	}
	return &out, nil
}

// DeleteKey removes a key.
func (c *Client) DeleteKey(ctx context.Context, code string) error {
	return c.do(ctx, http.MethodDelete, keyPath(code), nil, nil, http.StatusNoContent)
}

// ExtendKey adds days to a key's expiry.
func (c *Client) ExtendKey(ctx context.Context, code string, days int) (*ExtendResult, error) {
	var out ExtendResult
	in := map[string]int{"days": days}
	if err := c.do(ctx, http.MethodPost, keyPath(code, "extend"), in, &out, http.StatusOK); err != nil {
		return nil, err
	}
	return &out, nil
}

// ResetKey clears a key's activation.
func (c *Client) ResetKey(ctx context.Context, code string) error {
	return c.do(ctx, http.MethodPost, keyPath(code, "reset"), nil, nil, http.StatusOK)
}

// SetNotes replaces a key's admin annotation.
func (c *Client) SetNotes(ctx context.Context, code, notes string) (*Key, error) {
	var out Key
	in := map[string]string{"notes": notes}
	if err := c.do(ctx, http.MethodPut, keyPath(code, "notes"), in, &out, http.StatusOK); err != nil {
		return nil, err
	}
	return &out, nil
}

// Stats returns key counts.
func (c *Client) Stats(ctx context.Context) (*Stats, error) {
	var out Stats
	if err := c.do(ctx, http.MethodGet, adminPrefix+"/stats", nil, &out, http.StatusOK); err != nil {
		return nil, err
	}
	return &out, nil
}

// PurgeExpired deletes expired keys and returns how many were removed.
func (c *Client) PurgeExpired(ctx context.Context) (int, error) {
	var out struct {
		Count int `json:"count"`
	}
	if err := c.do(ctx, http.MethodPost, adminPrefix+"/purge/expired", nil, &out, http.StatusOK); err != nil {
		return 0, err
	}
	return out.Count, nil
}

// PurgeAll deletes every key. confirm must be the server's confirmation phrase.
func (c *Client) PurgeAll(ctx context.Context, confirm string) (int, error) {
	var out struct {
		Count int `json:"count"`
	}
	in := map[string]string{"confirm": confirm}
	if err := c.do(ctx, http.MethodPost, adminPrefix+"/purge/all", in, &out, http.StatusOK); err != nil {
		return 0, err
	}
	return out.Count, nil
}

// Export copies the server's keys.json document to w.
func (c *Client) Export(ctx context.Context, w io.Writer) error {
	return c.doRaw(ctx, http.MethodGet, adminPrefix+"/export", nil, http.StatusOK, func(r io.Reader) error {
		_, err := io.Copy(w, r)
		return err
	})
}

// Import uploads a keys.json document and returns how many keys were written.
func (c *Client) Import(ctx context.Context, r io.Reader, overwrite bool) (int, error) {
	var out struct {
		Imported int `json:"imported"`
	}
	path := adminPrefix + "/import?overwrite=" + strconv.FormatBool(overwrite)
	err := c.doRaw(ctx, http.MethodPost, path, r, http.StatusOK, func(body io.Reader) error {
		return json.NewDecoder(body).Decode(&out)
	})
	if err != nil {
		return 0, err
	}
	return out.Imported, nil
}
