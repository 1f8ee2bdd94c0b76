package quota

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// ConsumeFunc issues one consuming quota check for a client identity and
// returns the prescribed cooldown. Both the in-process service and the HTTP
// client below satisfy it; limiters only see this shape.
type ConsumeFunc func(ctx context.Context, clientKey string) (time.Duration, error)

// ServiceConsumer adapts an in-process Service to ConsumeFunc for
// deployments where the quota service shares the process.
func ServiceConsumer(service *Service) ConsumeFunc {
	return func(ctx context.Context, clientKey string) (time.Duration, error) {
		return service.Check(ctx, clientKey, true)
	}
}

// Client calls a remote quota service endpoint. baseURL points at the
// service root; requests go to {baseURL}/api/quota/{key}.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a quota service client with a bounded request timeout.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

// Consume issues a consuming check and parses the returned cooldown seconds.
func (c *Client) Consume(ctx context.Context, clientKey string) (time.Duration, error) {
	endpoint := c.baseURL + "/api/quota/" + url.PathEscape(clientKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to build quota request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrServiceFailure, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("%w: unexpected status %d", ErrServiceFailure, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64))
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrServiceFailure, err)
	}

	seconds, err := strconv.ParseFloat(strings.TrimSpace(string(body)), 64)
	if err != nil {
		return 0, fmt.Errorf("%w: unparseable cooldown %q", ErrServiceFailure, string(body))
	}

	return time.Duration(seconds * float64(time.Second)), nil
}
