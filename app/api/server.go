package api

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/lysyi3m/feedgate/app/payment"
)

const HeaderRequestID = "X-Request-ID"

// NewServer creates a new HTTP server with all routes configured. limiter may
// be nil to disable inbound rate limiting.
func NewServer(handler *Handler, limiter *ClientLimiter) *gin.Engine {
	// Set Gin mode (can be controlled via GIN_MODE environment variable)
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()

	r.Use(gin.LoggerWithConfig(gin.LoggerConfig{
		Formatter: func(param gin.LogFormatterParams) string {
			return fmt.Sprintf("%s - [%s] \"%s %s %s %d %s \"%s\" %s\"\n",
				param.ClientIP,
				param.TimeStamp.Format(time.RFC3339),
				param.Method,
				param.Path,
				param.Request.Proto,
				param.StatusCode,
				param.Latency,
				param.Request.UserAgent(),
				param.ErrorMessage,
			)
		},
		SkipPaths: []string{"/health", "/metrics"},
	}))

	r.Use(gin.Recovery())
	r.Use(requestID())

	r.Use(func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, "+payment.HeaderPayment)
		c.Header("Access-Control-Expose-Headers", payment.HeaderAuthenticate+", "+payment.HeaderReceipt+", "+HeaderRequestID)

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	})

	setupRoutes(r, handler, limiter)

	return r
}

func setupRoutes(r *gin.Engine, handler *Handler, limiter *ClientLimiter) {
	feeds := r.Group("/feeds")
	if limiter != nil {
		feeds.Use(limiter.Middleware())
	}
	{
		feeds.GET("/:connector", handler.GetFeed)
		feeds.GET("/:connector/estimate", handler.GetEstimate)
	}

	r.GET("/pricing", handler.GetPricing)
	r.GET("/health", handler.GetHealth)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.GET("/", handler.GetRoot)

	r.GET("/favicon.ico", func(c *gin.Context) {
		c.Status(204)
	})

	if handler.gate == nil {
		slog.Warn("Payments disabled, paid requests are served without a payment")
	}
}

func requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(HeaderRequestID)
		if id == "" {
			id = uuid.NewString()
		}
		c.Header(HeaderRequestID, id)
		c.Next()
	}
}
