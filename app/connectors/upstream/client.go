// Package upstream is the HTTP client shared by all connectors. Every call
// passes through the connector's rate limiter and maps provider failures onto
// the feed error kinds.
package upstream

import (
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/lysyi3m/feedgate/app/feed"
	"github.com/lysyi3m/feedgate/app/metrics"
	"github.com/lysyi3m/feedgate/app/ratelimit"
)

const maxBodySize = 10 << 20

// HTTPClient interface for making HTTP requests (allows injection for testing).
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

type Option func(*Client)

func WithHTTPClient(httpClient HTTPClient) Option {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// WithBaseURL sets a custom base URL (useful for testing).
func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		c.baseURL = strings.TrimRight(baseURL, "/")
	}
}

func WithLimiter(limiter *ratelimit.Limiter) Option {
	return func(c *Client) {
		c.limiter = limiter
	}
}

// WithHeader adds a header to every request, e.g. an API key.
func WithHeader(key, value string) Option {
	return func(c *Client) {
		c.headers.Set(key, value)
	}
}

func WithUserAgent(userAgent string) Option {
	return func(c *Client) {
		c.headers.Set("User-Agent", userAgent)
	}
}

func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		if timeout > 0 {
			c.httpClient = &http.Client{Timeout: timeout}
		}
	}
}

type Client struct {
	provider   string
	baseURL    string
	httpClient HTTPClient
	limiter    *ratelimit.Limiter
	headers    http.Header
}

func New(provider, baseURL string, opts ...Option) *Client {
	c := &Client{
		provider:   provider,
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 30 * time.Second},
		headers:    make(http.Header),
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

func (c *Client) Provider() string {
	return c.provider
}

func (c *Client) BaseURL() string {
	return c.baseURL
}

// Call describes one GET request. Path is joined to the base URL unless it is
// already absolute. Endpoint is the rate limit key and defaults to Path; set
// it when Path embeds an id.
type Call struct {
	Endpoint string
	Path     string
	Query    url.Values
	Accept   string
}

type Response struct {
	Status int
	Header http.Header
	Body   []byte
	URL    string
}

// Get performs the call and returns the body of a 2xx response. A 404 wraps
// feed.ErrNotFound; any other status is a *feed.UpstreamError.
func (c *Client) Get(ctx context.Context, call Call) (*Response, error) {
	endpoint := call.Endpoint
	if endpoint == "" {
		endpoint = call.Path
	}

	target, err := c.resolve(call)
	if err != nil {
		return nil, err
	}

	if c.limiter != nil {
		if err := c.limiter.Acquire(ctx, endpoint); err != nil {
			return nil, err
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	for key, values := range c.headers {
		req.Header[key] = values
	}
	req.Header.Set("Accept", cmp.Or(call.Accept, "application/json"))

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		metrics.RecordUpstream(c.provider, 0, time.Since(start))
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, &feed.UpstreamError{Provider: c.provider, Endpoint: endpoint, Err: err}
	}
	defer resp.Body.Close()
	metrics.RecordUpstream(c.provider, resp.StatusCode, time.Since(start))

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, &feed.UpstreamError{Provider: c.provider, Endpoint: endpoint, Err: fmt.Errorf("failed to read response: %w", err)}
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("%w: %s %s", feed.ErrNotFound, c.provider, endpoint)
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		slog.Warn("Upstream request failed", "connector", c.provider, "endpoint", endpoint,
			"status", resp.StatusCode, "body", snippet(body))
		return nil, &feed.UpstreamError{Provider: c.provider, Endpoint: endpoint, Status: resp.StatusCode}
	}

	return &Response{
		Status: resp.StatusCode,
		Header: resp.Header,
		Body:   body,
		URL:    target,
	}, nil
}

// GetJSON performs the call and decodes the body into out.
func (c *Client) GetJSON(ctx context.Context, call Call, out any) (*Response, error) {
	resp, err := c.Get(ctx, call)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(resp.Body, out); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", feed.ErrMalformedPayload, c.provider, err)
	}

	return resp, nil
}

func (c *Client) resolve(call Call) (string, error) {
	raw := call.Path
	if !strings.Contains(raw, "://") {
		if c.baseURL == "" {
			return "", fmt.Errorf("%s: no base URL configured for %s", c.provider, call.Path)
		}
		raw = c.baseURL + "/" + strings.TrimLeft(call.Path, "/")
	}

	u, err := url.Parse(raw)
	if err != nil {
		return "", feed.InvalidParameter("invalid URL %q", raw)
	}
	if len(call.Query) > 0 {
		query := u.Query()
		for key, values := range call.Query {
			for _, v := range values {
				query.Add(key, v)
			}
		}
		u.RawQuery = query.Encode()
	}
	return u.String(), nil
}

// IsStatus reports whether err is an upstream error with the given status.
func IsStatus(err error, status int) bool {
	var upstreamErr *feed.UpstreamError
	return errors.As(err, &upstreamErr) && upstreamErr.Status == status
}

func snippet(body []byte) string {
	if len(body) > 200 {
		return string(body[:200])
	}
	return string(body)
}
