package servercart

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrUnauthorized = errors.New("cart api: unauthorized")
	ErrCircuitOpen  = errors.New("cart api: circuit open")
	ErrNoToken      = errors.New("cart api: no bearer token")
)

// APIError is a non-2xx response from the cart API.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("cart api: status %d", e.StatusCode)
	}
	return fmt.Sprintf("cart api: status %d: %s", e.StatusCode, e.Message)
}

func (e *APIError) Is(target error) bool {
	return target == ErrUnauthorized &&
		(e.StatusCode == http.StatusUnauthorized || e.StatusCode == http.StatusForbidden)
}

// clientError reports whether err is the caller's fault rather than the
// API's, so it must not count against the circuit breaker.
func clientError(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode >= 400 && apiErr.StatusCode < 500 &&
			apiErr.StatusCode != http.StatusTooManyRequests
	}
	return errors.Is(err, ErrNoToken)
}
