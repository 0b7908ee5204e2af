// ABOUTME: Gateway endpoint resolution
// ABOUTME: Queries the REST API for the WebSocket URL and applies query params
package discovery

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

const (
	// DefaultAPIBase is the REST base used to resolve the gateway URL.
	DefaultAPIBase = "https://discord.com/api/v10"

	// DefaultGatewayURL is used when resolution is skipped or fails.
	DefaultGatewayURL = "wss://gateway.discord.gg"

	gatewayVersion  = "10"
	gatewayEncoding = "json"

	resolveTimeout = 10 * time.Second
)

// Endpoint appends the protocol version and encoding parameters to a
// bare gateway URL.
func Endpoint(base string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("parse gateway url %q: %w", base, err)
	}
	q := u.Query()
	q.Set("v", gatewayVersion)
	q.Set("encoding", gatewayEncoding)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Resolver fetches the current gateway URL from the REST API.
type Resolver struct {
	APIBase string
	Client  *http.Client
}

// NewResolver builds a resolver against the default API base.
func NewResolver() *Resolver {
	return &Resolver{
		APIBase: DefaultAPIBase,
		Client:  &http.Client{Timeout: resolveTimeout},
	}
}

// Resolve returns the WebSocket endpoint to connect to, version and
// encoding parameters included.
func (r *Resolver) Resolve(ctx context.Context) (string, error) {
	base := r.APIBase
	if base == "" {
		base = DefaultAPIBase
	}
	client := r.Client
	if client == nil {
		client = &http.Client{Timeout: resolveTimeout}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+"/gateway", nil)
	if err != nil {
		return "", fmt.Errorf("build gateway request: %w", err)
	}

	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch gateway url: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("fetch gateway url: unexpected status %s", resp.Status)
	}

	var body struct {
		URL string `json:"url"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("decode gateway response: %w", err)
	}
	if body.URL == "" {
		return "", fmt.Errorf("gateway response missing url")
	}

	return Endpoint(body.URL)
}
