package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// BackendError is a non-2xx answer from the model backend.
type BackendError struct {
	StatusCode int
	Body       string
}

func (e *BackendError) Error() string {
	return fmt.Sprintf("model API error [%d]: %s", e.StatusCode, e.Body)
}

// Transient reports whether the status is worth retrying.
func (e *BackendError) Transient() bool {
	return e.StatusCode >= 500 || e.StatusCode == http.StatusRequestTimeout || e.StatusCode == http.StatusTooManyRequests
}

// ErrInvalidRequest marks requests that can never succeed, such as unencodable payloads.
var ErrInvalidRequest = errors.New("invalid model request")

// IsTransient classifies err for the retry policy. Connection failures,
// timeouts, server-side errors and unrecognized replies are transient;
// malformed requests, client errors and cancellation are not.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, ErrInvalidRequest) {
		return false
	}
	var be *BackendError
	if errors.As(err, &be) {
		return be.Transient()
	}
	return true
}
