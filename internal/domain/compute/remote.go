package compute

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/kurogames77/puzzcode-sub003/internal/domain/difficulty"
)

// maxResponseBytes bounds how much of a remote response is read.
const maxResponseBytes = 1 << 16

// Remote implements Computer by POSTing the Request as JSON to a URL.
type Remote struct {
	url    string
	client *http.Client
	params difficulty.Params
}

// RemoteOption configures a Remote.
type RemoteOption func(*Remote)

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(c *http.Client) RemoteOption {
	return func(r *Remote) {
		if c != nil {
			r.client = c
		}
	}
}

// NewRemote creates a remote computer; params bound the accepted results.
func NewRemote(url string, params difficulty.Params, opts ...RemoteOption) *Remote {
	r := &Remote{url: url, client: http.DefaultClient, params: params}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Compute calls the remote service. Deadlines come from ctx.
func (r *Remote) Compute(ctx context.Context, req Request) (Update, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return Update{}, fmt.Errorf("marshal request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, r.url, bytes.NewReader(body))
	if err != nil {
		return Update{}, fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(httpReq)
	if err != nil {
		return Update{}, fmt.Errorf("call %s: %w", r.url, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseBytes))
		return Update{}, fmt.Errorf("%w: %d", ErrRemoteStatus, resp.StatusCode)
	}

	var u Update
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(&u); err != nil {
		return Update{}, fmt.Errorf("decode response: %w", err)
	}
	if err := u.Validate(r.params); err != nil {
		return Update{}, err
	}
	return u, nil
}
