package loadtest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/kurogames77/puzzcode-sub003/internal/adapters/realtime"
)

// errRetryable marks a 503 reply that advertised Retry-After.
var errRetryable = errors.New("service asked to retry")

// HTTPClient wraps http.Client with timeout and per-player bearer tokens.
type HTTPClient struct {
	client  *http.Client
	baseURL string
	auth    *realtime.Authenticator
}

// newHTTPClient creates a new HTTP client with timeout
func newHTTPClient(config *Config) *HTTPClient {
	return &HTTPClient{
		client:  &http.Client{Timeout: config.Timeout},
		baseURL: config.BaseURL,
		auth:    realtime.NewAuthenticator(config.Secret),
	}
}

// Get performs an unauthenticated GET request.
func (c *HTTPClient) Get(ctx context.Context, path string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	return c.client.Do(req)
}

// Call performs a request as player and decodes a 2xx JSON reply into out.
func (c *HTTPClient) Call(ctx context.Context, player, method, path string, body, out any) error {
	var reader io.Reader = http.NoBody
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request body: %w", err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	token, err := c.auth.Issue(player, TokenTTL)
	if err != nil {
		return fmt.Errorf("failed to issue token: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	raw, err := readResponseBody(resp)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	switch {
	case resp.StatusCode == StatusServiceUnavailable && resp.Header.Get("Retry-After") != "":
		return fmt.Errorf("%w: %s %s", errRetryable, method, path)
	case resp.StatusCode < StatusOK || resp.StatusCode >= http.StatusMultipleChoices:
		return fmt.Errorf("%s %s: status %d: %s", method, path, resp.StatusCode, bytes.TrimSpace(raw))
	}
	if out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return nil
}

// readResponseBody reads and closes the response body
func readResponseBody(resp *http.Response) ([]byte, error) {
	defer resp.Body.Close()
	return io.ReadAll(resp.Body)
}
