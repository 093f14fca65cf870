// Package client is the consumer side of a feedgate server. It shares the
// pricing classifier with the server so free-tier checks, fingerprints and
// URLs agree, and it answers payment challenges through payment.Transport.
package client

import (
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

	"github.com/lysyi3m/feedgate/app/cache"
	"github.com/lysyi3m/feedgate/app/feed"
	"github.com/lysyi3m/feedgate/app/payment"
	"github.com/lysyi3m/feedgate/app/pricing"
)

const (
	DefaultEstimateTTL = 5 * time.Minute

	maxResponseSize = 32 << 20
)

type Client struct {
	baseURL     string
	classifier  *pricing.Classifier
	httpClient  *http.Client
	paidClient  *http.Client
	estimates   *cache.TTL[pricing.Quote]
	estimateTTL time.Duration
}

type Option func(*options)

type options struct {
	base        http.RoundTripper
	signer      payment.Signer
	classifier  *pricing.Classifier
	timeout     time.Duration
	estimateTTL time.Duration
}

// WithTransport sets the round tripper both plain and paid requests use.
func WithTransport(rt http.RoundTripper) Option {
	return func(o *options) {
		o.base = rt
	}
}

// WithSigner enables automatic payment of challenges.
func WithSigner(signer payment.Signer) Option {
	return func(o *options) {
		o.signer = signer
	}
}

func WithClassifier(classifier *pricing.Classifier) Option {
	return func(o *options) {
		o.classifier = classifier
	}
}

func WithTimeout(d time.Duration) Option {
	return func(o *options) {
		o.timeout = d
	}
}

func WithEstimateTTL(d time.Duration) Option {
	return func(o *options) {
		o.estimateTTL = d
	}
}

func New(baseURL string, opts ...Option) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("invalid server URL: %q", baseURL)
	}

	o := options{
		base:        http.DefaultTransport,
		timeout:     90 * time.Second,
		estimateTTL: DefaultEstimateTTL,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.classifier == nil {
		o.classifier = pricing.NewClassifier(nil)
	}

	estimates, err := cache.NewTTL[pricing.Quote]()
	if err != nil {
		return nil, err
	}

	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		classifier: o.classifier,
		httpClient: &http.Client{Transport: o.base, Timeout: o.timeout},
		paidClient: &http.Client{
			Transport: &payment.Transport{Base: o.base, Signer: o.signer},
			Timeout:   o.timeout,
		},
		estimates:   estimates,
		estimateTTL: o.estimateTTL,
	}, nil
}

func (c *Client) IsFreeTier(connector string, p feed.RequestParams) bool {
	return c.classifier.IsFreeTier(connector, p)
}

func (c *Client) Fingerprint(connector string, p feed.RequestParams) string {
	return c.classifier.Fingerprint(connector, p)
}

func (c *Client) BuildURL(connector string, p feed.RequestParams) string {
	return c.classifier.BuildURL(c.baseURL, connector, p)
}

// Estimate prices a request. Free requests are answered locally; paid ones
// ask the server and are cached by fingerprint.
func (c *Client) Estimate(ctx context.Context, connector string, p feed.RequestParams) (pricing.Quote, error) {
	if c.IsFreeTier(connector, p) {
		return c.classifier.Estimate(connector, p, nil), nil
	}

	return c.estimates.Resolve(ctx, c.Fingerprint(connector, p), c.estimateTTL, func(ctx context.Context) (pricing.Quote, error) {
		u, err := url.Parse(c.BuildURL(connector, p))
		if err != nil {
			return pricing.Quote{}, err
		}
		u.Path += "/estimate"

		var quote pricing.Quote
		if err := c.getJSON(ctx, c.httpClient, u.String(), &quote); err != nil {
			return pricing.Quote{}, err
		}
		slog.Debug("Estimate received", "connector", connector, "fingerprint", quote.Fingerprint, "price", quote.Price)
		return quote, nil
	})
}

// Fetch retrieves a feed, paying for it when the server asks and a signer is
// configured. Without a signer a paid request fails with *payment.PaymentRequiredError.
func (c *Client) Fetch(ctx context.Context, connector string, p feed.RequestParams) (*feed.Result, error) {
	var result feed.Result
	if err := c.getJSON(ctx, c.paidClient, c.BuildURL(connector, p), &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// SyncRules replaces the local pricing rules with the ones the server publishes.
func (c *Client) SyncRules(ctx context.Context) error {
	var body struct {
		Rules *pricing.Tables `json:"rules"`
	}
	if err := c.getJSON(ctx, c.httpClient, c.baseURL+"/pricing", &body); err != nil {
		return err
	}
	if body.Rules == nil {
		return fmt.Errorf("server published no pricing rules")
	}
	if err := c.classifier.Replace(body.Rules); err != nil {
		return fmt.Errorf("invalid pricing rules from server: %w", err)
	}

	slog.Debug("Pricing rules synced", "version", body.Rules.Version, "connectors", len(body.Rules.Connectors))
	return nil
}

func (c *Client) getJSON(ctx context.Context, httpClient *http.Client, target string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := httpClient.Do(req)
	if err != nil {
		var paymentErr *payment.PaymentRequiredError
		if errors.As(err, &paymentErr) {
			return paymentErr
		}
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusPaymentRequired {
		paymentErr := &payment.PaymentRequiredError{Reason: "no signer configured"}
		if challenge, err := payment.ReadChallenge(resp); err == nil {
			paymentErr.Challenge = challenge
		}
		return paymentErr
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return responseError(resp.StatusCode, data)
	}

	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("%w: %v", feed.ErrMalformedPayload, err)
	}
	return nil
}

// responseError maps a server error body back onto the feed error kinds.
func responseError(status int, data []byte) error {
	var body struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	_ = json.Unmarshal(data, &body)
	message := body.Message
	if message == "" {
		message = http.StatusText(status)
	}

	switch body.Error {
	case "invalid_parameter":
		return fmt.Errorf("%w: %s", feed.ErrInvalidParameter, message)
	case "not_found":
		return fmt.Errorf("%w: %s", feed.ErrNotFound, message)
	case "timeout":
		return fmt.Errorf("%w: %s", feed.ErrTimeout, message)
	case "upstream_error":
		return fmt.Errorf("%w: %s", feed.ErrUpstream, message)
	case "history_too_long":
		return fmt.Errorf("%w: %s", feed.ErrHistoryTooLong, message)
	default:
		return fmt.Errorf("server returned %d: %s", status, message)
	}
}
