package pool

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// HTTPConn is an HTTP transport lease for one endpoint. The underlying
// http.Client is shared; what the pool bounds is the number of leases,
// and with it the number of concurrent requests to the remote worker.
type HTTPConn struct {
	client    *http.Client
	baseURL   string
	healthURL string
}

// Post sends a JSON request body to path under the endpoint and returns
// the response body. Non-2xx responses are errors carrying the status
// and body.
func (c *HTTPConn) Post(ctx context.Context, path string, body []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to execute request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("endpoint returned %d: %s", resp.StatusCode, strings.TrimSpace(string(respBody)))
	}
	return respBody, nil
}

// Ping implements Conn by requesting the endpoint's health path.
func (c *HTTPConn) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.healthURL, nil)
	if err != nil {
		return fmt.Errorf("failed to create health request: %w", err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("health probe failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health probe returned %d", resp.StatusCode)
	}
	return nil
}

// Close implements Conn by dropping the client's idle connections.
func (c *HTTPConn) Close() error {
	c.client.CloseIdleConnections()
	return nil
}

// HTTPDialer creates HTTPConns. The endpoint passed to Dial is the base
// URL (e.g. "http://worker-a:8080"); healthPath is appended for probes.
type HTTPDialer struct {
	client     *http.Client
	healthPath string
}

// NewHTTPDialer creates a dialer over the given client (http.DefaultClient
// when nil) and health path ("/healthz" when empty).
func NewHTTPDialer(client *http.Client, healthPath string) *HTTPDialer {
	if client == nil {
		client = http.DefaultClient
	}
	if healthPath == "" {
		healthPath = "/healthz"
	}
	if !strings.HasPrefix(healthPath, "/") {
		healthPath = "/" + healthPath
	}
	return &HTTPDialer{client: client, healthPath: healthPath}
}

// Dial implements Dialer. The connection is verified with one health
// probe before it is handed out.
func (d *HTTPDialer) Dial(ctx context.Context, endpoint string) (Conn, error) {
	base := strings.TrimSuffix(endpoint, "/")
	conn := &HTTPConn{
		client:    d.client,
		baseURL:   base,
		healthURL: base + d.healthPath,
	}
	if err := conn.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", endpoint, err)
	}
	return conn, nil
}
