package feed

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound         = errors.New("not found")
	ErrInvalidParameter = errors.New("invalid parameter")
	ErrUpstream         = errors.New("upstream error")
	ErrSecondaryLookup  = errors.New("secondary lookup failed")
	ErrTimeout          = errors.New("request timed out")
	ErrMalformedPayload = errors.New("malformed upstream payload")
	ErrHistoryTooLong   = errors.New("history exceeds page limit")
)

// UpstreamError describes a failed call to a provider API.
type UpstreamError struct {
	Provider string
	Endpoint string
	Status   int
	Err      error
}

func (e *UpstreamError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s %s: status %d", e.Provider, e.Endpoint, e.Status)
	}
	return fmt.Sprintf("%s %s: %v", e.Provider, e.Endpoint, e.Err)
}

func (e *UpstreamError) Unwrap() error {
	return e.Err
}

func (e *UpstreamError) Is(target error) bool {
	return target == ErrUpstream
}

func InvalidParameter(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidParameter, fmt.Sprintf(format, args...))
}

func Malformed(provider, field string) error {
	return fmt.Errorf("%w: %s: missing or invalid %s", ErrMalformedPayload, provider, field)
}
