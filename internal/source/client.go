// Package source fetches raw records from a remote HTTP data source for
// API-mode ingestion.
package source

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Sentinel errors for remote source failures.
var (
	ErrSourceUnreachable = errors.New("remote source unreachable")
	ErrSourceStatus      = errors.New("remote source returned error status")
	ErrSourceTimeout     = errors.New("remote source timeout")
	ErrSourceFormat      = errors.New("remote source returned unexpected format")
)

// Client is the interface for fetching remote payloads.
type Client interface {
	// Fetch performs a single GET and returns the decoded records. A JSON
	// array is returned element-wise; a single JSON object becomes a
	// one-element slice.
	Fetch(ctx context.Context, rawURL string) ([]any, error)
}

// HTTPClient implements Client over plain HTTP GET.
type HTTPClient struct {
	client *http.Client
}

// NewHTTPClient creates a remote source client with the given timeout.
func NewHTTPClient(timeout time.Duration) *HTTPClient {
	return &HTTPClient{client: &http.Client{Timeout: timeout}}
}

func (c *HTTPClient) Fetch(ctx context.Context, rawURL string) ([]any, error) {
	if _, err := url.ParseRequestURI(rawURL); err != nil {
		return nil, fmt.Errorf("invalid source URL %q: %w", rawURL, err)
	}
	if !strings.HasPrefix(rawURL, "http://") && !strings.HasPrefix(rawURL, "https://") {
		return nil, fmt.Errorf("source URL must be http or https, got %q", rawURL)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, classifyError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: status %d", ErrSourceStatus, resp.StatusCode)
	}

	var decoded any
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSourceFormat, err)
	}

	switch v := decoded.(type) {
	case []any:
		return v, nil
	case map[string]any:
		return []any{v}, nil
	default:
		return nil, fmt.Errorf("%w: top-level %T", ErrSourceFormat, decoded)
	}
}

func classifyError(err error) error {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %v", ErrSourceTimeout, err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrSourceTimeout, err)
	}
	return fmt.Errorf("%w: %v", ErrSourceUnreachable, err)
}

var _ Client = (*HTTPClient)(nil)
