package service

import (
	"errors"
	"fmt"
)

// Validation errors. Each maps to a 4xx response.
var (
	ErrMissingURL        = errors.New("missing url parameter")
	ErrInvalidURL        = errors.New("invalid url")
	ErrUnsupportedScheme = errors.New("unsupported url scheme")
	ErrPrivateURL        = errors.New("private or local url")
)

// Upstream errors. Each maps to a 502 response.
var (
	ErrUpstreamTimeout = errors.New("upstream request timed out")
	ErrBodyTooLarge    = errors.New("upstream response body too large")
)

// StatusError reports a target response outside the 2xx range.
type StatusError struct {
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("target returned HTTP %d", e.StatusCode)
}
