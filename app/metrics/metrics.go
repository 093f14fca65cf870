// Package metrics provides Prometheus metrics for feedgate.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	UpstreamRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "feedgate",
			Name:      "upstream_requests_total",
			Help:      "Total number of requests sent to provider APIs",
		},
		[]string{"connector", "status"},
	)

	UpstreamDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "feedgate",
			Name:      "upstream_request_duration_seconds",
			Help:      "Duration of provider API requests in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"connector"},
	)

	LimiterWaits = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "feedgate",
			Name:      "rate_limiter_wait_seconds",
			Help:      "Time spent waiting for a rate limit window to open",
			Buckets:   []float64{0.1, 0.5, 1, 5, 10, 30, 60},
		},
		[]string{"connector"},
	)

	CacheLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "feedgate",
			Name:      "cache_lookups_total",
			Help:      "Cache lookups by cache and result",
		},
		[]string{"cache", "result"},
	)

	FeedRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "feedgate",
			Name:      "feed_requests_total",
			Help:      "Feed requests by connector and outcome",
		},
		[]string{"connector", "outcome"},
	)

	FeedItems = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "feedgate",
			Name:      "feed_items",
			Help:      "Distribution of items returned per feed request",
			Buckets:   []float64{0, 1, 5, 10, 25, 50, 100, 250, 500, 1000},
		},
		[]string{"connector"},
	)

	Payments = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "feedgate",
			Name:      "payments_total",
			Help:      "Payment authorizations by result",
		},
		[]string{"result"},
	)

	PaymentAmount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "feedgate",
			Name:      "payment_amount_total",
			Help:      "Sum of accepted payments in atomic units",
		},
		[]string{"asset"},
	)
)

func RecordUpstream(connector string, status int, duration time.Duration) {
	label := "error"
	if status > 0 {
		label = strconv.Itoa(status)
	}
	UpstreamRequests.WithLabelValues(connector, label).Inc()
	UpstreamDuration.WithLabelValues(connector).Observe(duration.Seconds())
}

func RecordLimiterWait(connector string, wait time.Duration) {
	LimiterWaits.WithLabelValues(connector).Observe(wait.Seconds())
}

func RecordCacheLookup(cache string, hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	CacheLookups.WithLabelValues(cache, result).Inc()
}

func RecordFeedRequest(connector, outcome string, items int) {
	FeedRequests.WithLabelValues(connector, outcome).Inc()
	if outcome == "ok" {
		FeedItems.WithLabelValues(connector).Observe(float64(items))
	}
}

func RecordPayment(result, asset string, amount int64) {
	Payments.WithLabelValues(result).Inc()
	if result == "accepted" {
		PaymentAmount.WithLabelValues(asset).Add(float64(amount))
	}
}
