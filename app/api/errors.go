package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/lysyi3m/feedgate/app/feed"
	"github.com/lysyi3m/feedgate/app/payment"
)

// statusFor maps an error kind to its HTTP status and short name.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, payment.ErrPaymentRequired):
		return http.StatusPaymentRequired, "payment_required"
	case errors.Is(err, feed.ErrInvalidParameter):
		return http.StatusBadRequest, "invalid_parameter"
	case errors.Is(err, feed.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, feed.ErrHistoryTooLong):
		return http.StatusUnprocessableEntity, "history_too_long"
	case errors.Is(err, feed.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "timeout"
	case errors.Is(err, feed.ErrUpstream), errors.Is(err, feed.ErrMalformedPayload):
		return http.StatusBadGateway, "upstream_error"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

func writeError(c *gin.Context, err error) {
	status, kind := statusFor(err)

	message := err.Error()
	if status == http.StatusInternalServerError {
		slog.Error("Request failed", "path", c.Request.URL.Path, "error", err)
		message = "internal server error"
	} else {
		slog.Info("Request rejected", "path", c.Request.URL.Path, "status", status, "error", err)
	}

	c.AbortWithStatusJSON(status, ErrorResponse{Error: kind, Message: message})
}
