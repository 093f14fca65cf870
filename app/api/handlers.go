package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/lysyi3m/feedgate/app/feed"
	"github.com/lysyi3m/feedgate/app/metrics"
	"github.com/lysyi3m/feedgate/app/payment"
	"github.com/lysyi3m/feedgate/app/pricing"
)

const (
	FormatJSON = "json"
	FormatText = "text"
	FormatRSS  = "rss"
)

// NewHandler wires the HTTP handlers. gate may be nil, in which case paid
// requests are served without a payment.
func NewHandler(service FeedService, gate *payment.Gate, baseURL, version string, checkers map[string]HealthChecker) *Handler {
	return &Handler{
		service:   service,
		gate:      gate,
		generator: feed.NewGenerator(baseURL, version),
		text:      feed.NewTextRenderer(),
		checkers:  checkers,
		version:   version,
	}
}

func (h *Handler) GetFeed(c *gin.Context) {
	connector := c.Param("connector")

	format := c.DefaultQuery(pricing.ParamFormat, FormatJSON)
	if format != FormatJSON && format != FormatText && format != FormatRSS {
		writeError(c, feed.InvalidParameter("format must be json, text or rss"))
		return
	}

	params, err := h.parseParams(c, connector)
	if err != nil {
		writeError(c, err)
		return
	}

	if !h.authorize(c, connector, params) {
		return
	}

	result, err := h.service.Fetch(c.Request.Context(), connector, params)
	if err != nil {
		writeError(c, err)
		return
	}

	c.Header("X-Feed-Items", strconv.Itoa(len(result.Items)))
	c.Header("X-Feed-Connector", connector)
	c.Header("X-Feed-Entity", result.Entity.ID)

	switch format {
	case FormatText:
		c.String(http.StatusOK, h.text.Run(result))
	case FormatRSS:
		rss, err := h.generator.Run(result)
		if err != nil {
			writeError(c, err)
			return
		}
		c.Header("Content-Type", "application/xml; charset=utf-8")
		c.String(http.StatusOK, rss)
	default:
		c.JSON(http.StatusOK, result)
	}
}

// authorize applies the payment gate to requests outside the free tier. It
// writes the response and returns false when the request may not proceed.
func (h *Handler) authorize(c *gin.Context, connector string, params feed.RequestParams) bool {
	if h.gate == nil || h.service.Classifier().IsFreeTier(connector, params) {
		return true
	}

	quote, err := h.service.Estimate(c.Request.Context(), connector, params)
	if err != nil {
		writeError(c, err)
		return false
	}

	receipt, err := h.gate.Authorize(c.Request.Context(), c.GetHeader(payment.HeaderPayment), quote.Fingerprint, quote.Price)
	var paymentErr *payment.PaymentRequiredError
	if errors.As(err, &paymentErr) {
		metrics.RecordPayment("required", quote.Currency, 0)
		c.Header(payment.HeaderAuthenticate, payment.AuthenticateHeader(paymentErr.Challenge))
		c.AbortWithStatusJSON(http.StatusPaymentRequired, payment.NewChallengeResponse(paymentErr.Challenge, paymentErr.Reason))
		return false
	}
	if err != nil {
		writeError(c, err)
		return false
	}

	metrics.RecordPayment("accepted", receipt.Asset, receipt.Amount)
	c.Header(payment.HeaderReceipt, receipt.Nonce)
	return true
}

func (h *Handler) GetEstimate(c *gin.Context) {
	connector := c.Param("connector")

	params, err := h.parseParams(c, connector)
	if err != nil {
		writeError(c, err)
		return
	}

	quote, err := h.service.Estimate(c.Request.Context(), connector, params)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, quote)
}

func (h *Handler) GetPricing(c *gin.Context) {
	info := PaymentInfo{Enabled: h.gate != nil}
	if h.gate != nil {
		info.Scheme = payment.Scheme
		info.Header = payment.HeaderPayment
		info.PayTo = h.gate.PayTo()
		info.Asset = h.gate.Asset()
	}

	c.JSON(http.StatusOK, PricingResponse{
		Rules:   h.service.Classifier().Tables(),
		Payment: info,
	})
}

func (h *Handler) GetHealth(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	health := map[string]any{
		"status":     "healthy",
		"timestamp":  time.Now().In(time.Local).Format(time.RFC3339),
		"version":    h.version,
		"connectors": h.service.Registry().Stats(),
		"caches":     h.service.CacheStats(),
		"payments":   h.gate != nil,
	}

	status := http.StatusOK
	for name, checker := range h.checkers {
		report := checker.Health(ctx)
		health[name] = report
		if report["status"] != "healthy" {
			health["status"] = "degraded"
			status = http.StatusServiceUnavailable
		}
	}

	c.JSON(status, health)
}

func (h *Handler) GetRoot(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"service":     "feedgate",
		"version":     h.version,
		"description": "Paid feeds for Farcaster, Bluesky, RSS and Git sources",
		"connectors":  h.service.Registry().Names(),
		"endpoints": map[string]string{
			"feed":     "/feeds/<connector>?q=<identifier>",
			"estimate": "/feeds/<connector>/estimate?q=<identifier>",
			"pricing":  "/pricing",
			"health":   "/health",
			"metrics":  "/metrics",
		},
		"payments": gin.H{
			"enabled": h.gate != nil,
			"header":  payment.HeaderPayment,
		},
	})
}

// parseParams reads, defaults and validates the query of a feed or estimate request.
func (h *Handler) parseParams(c *gin.Context, connector string) (feed.RequestParams, error) {
	params, err := pricing.ParseQuery(c.Request.URL.Query())
	if err != nil {
		return params, err
	}
	return h.service.Prepare(connector, params)
}
