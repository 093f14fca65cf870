package api

import (
	"context"

	"github.com/lysyi3m/feedgate/app/connectors"
	"github.com/lysyi3m/feedgate/app/feed"
	"github.com/lysyi3m/feedgate/app/gateway"
	"github.com/lysyi3m/feedgate/app/payment"
	"github.com/lysyi3m/feedgate/app/pricing"
)

type FeedService interface {
	Prepare(connector string, params feed.RequestParams) (feed.RequestParams, error)
	Fetch(ctx context.Context, connector string, params feed.RequestParams) (*feed.Result, error)
	Estimate(ctx context.Context, connector string, params feed.RequestParams) (pricing.Quote, error)
	Classifier() *pricing.Classifier
	Registry() *connectors.Registry
	CacheStats() map[string]int
}

var _ FeedService = (*gateway.Service)(nil)

type GeneratorInterface interface {
	Run(result *feed.Result) (string, error)
}

var _ GeneratorInterface = (*feed.Generator)(nil)

// HealthChecker is a dependency that reports its own status.
type HealthChecker interface {
	Health(ctx context.Context) map[string]any
}

type Handler struct {
	service   FeedService
	gate      *payment.Gate
	generator GeneratorInterface
	text      *feed.TextRenderer
	checkers  map[string]HealthChecker
	version   string
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

type PaymentInfo struct {
	Enabled bool   `json:"enabled"`
	Scheme  string `json:"scheme,omitempty"`
	Header  string `json:"header,omitempty"`
	PayTo   string `json:"pay_to,omitempty"`
	Asset   string `json:"asset,omitempty"`
}

type PricingResponse struct {
	Rules   *pricing.Tables `json:"rules"`
	Payment PaymentInfo     `json:"payment"`
}
