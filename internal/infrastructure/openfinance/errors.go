package openfinance

import (
	"errors"
	"fmt"
	"net/http"
)

// APIError is a non-2xx answer from the aggregator.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("API error (status %d): %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("API error (status %d): %s - %s", e.StatusCode, e.Code, e.Message)
}

// IsClientError reports a 4xx other than 429.
func (e *APIError) IsClientError() bool {
	return e.StatusCode >= 400 && e.StatusCode < 500 && e.StatusCode != http.StatusTooManyRequests
}

// AsAPIError unwraps err to an *APIError.
func AsAPIError(err error) (*APIError, bool) {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr, true
	}
	return nil, false
}

// IsNotFound reports whether the aggregator answered 404.
func IsNotFound(err error) bool {
	apiErr, ok := AsAPIError(err)
	return ok && apiErr.StatusCode == http.StatusNotFound
}

// isClientError is the breaker's success predicate: a rejected request
// says nothing about the health of the aggregator.
func isClientError(err error) bool {
	apiErr, ok := AsAPIError(err)
	return ok && apiErr.IsClientError()
}
