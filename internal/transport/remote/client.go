// Package remote implements the outbox transport port against the sharing
// service's HTTP API.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/relves/scopesync/pkg/outbox"
)

// Client pushes artifacts to the remote sharing service.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a client for the service at baseURL.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// PushScopeState uploads a scope-state artifact.
func (c *Client) PushScopeState(ctx context.Context, artifactID string, payload []byte) (outbox.PushResponse, error) {
	return c.push(ctx, "/v1/scope-states/"+url.PathEscape(artifactID), payload)
}

// PushResourceGrant uploads a resource-grant artifact.
func (c *Client) PushResourceGrant(ctx context.Context, artifactID string, payload []byte) (outbox.PushResponse, error) {
	return c.push(ctx, "/v1/grants/"+url.PathEscape(artifactID), payload)
}

func (c *Client) push(ctx context.Context, path string, payload []byte) (outbox.PushResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return outbox.PushResponse{}, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/octet-stream")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return outbox.PushResponse{}, fmt.Errorf("push request failed: %w", err)
	}
	defer resp.Body.Close()

	// The service answers 200 for accepted pushes and 409 for protocol
	// rejections (missing dependencies included); both carry the response
	// body. Anything else is a transport fault.
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusConflict {
		return outbox.PushResponse{}, fmt.Errorf("remote returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return outbox.PushResponse{}, fmt.Errorf("failed to read response: %w", err)
	}

	var result outbox.PushResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return outbox.PushResponse{}, fmt.Errorf("failed to decode response: %w", err)
	}
	return result, nil
}

var _ outbox.Transport = (*Client)(nil)
