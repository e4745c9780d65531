package client

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Sentinel errors for use with errors.Is().
var (
	// ErrInvalidRequest is returned for a 400, such as a malformed tenant id
	// or an address without digits.
	ErrInvalidRequest = errors.New("invalid request")

	// ErrUnauthorized is returned when the server rejects the API key.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrUnavailable is returned while the server is shutting down.
	ErrUnavailable = errors.New("server unavailable")

	// ErrServerUnreachable is returned when the server cannot be contacted.
	ErrServerUnreachable = errors.New("server unreachable")
)

// APIError is a non-2xx response from the server.
type APIError struct {
	StatusCode int
	Message    string
}

func newAPIError(status int, body []byte) *APIError {
	var payload struct {
		Error string `json:"error"`
	}
	msg := strings.TrimSpace(string(body))
	if json.Unmarshal(body, &payload) == nil && payload.Error != "" {
		msg = payload.Error
	}
	return &APIError{StatusCode: status, Message: msg}
}

// Error returns the error message.
func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("metricon: HTTP %d", e.StatusCode)
	}
	return fmt.Sprintf("metricon: HTTP %d: %s", e.StatusCode, e.Message)
}

// Is maps status codes onto the sentinel errors.
func (e *APIError) Is(target error) bool {
	switch target {
	case ErrInvalidRequest:
		return e.StatusCode == http.StatusBadRequest
	case ErrUnauthorized:
		return e.StatusCode == http.StatusUnauthorized
	case ErrUnavailable:
		return e.StatusCode == http.StatusServiceUnavailable
	}
	return false
}

// ServerUnreachableError wraps a transport-level failure.
type ServerUnreachableError struct {
	Cause error
}

// Error returns a human-readable description of the failure.
func (e *ServerUnreachableError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("server unreachable: %v", e.Cause)
	}
	return "server unreachable"
}

// Unwrap returns the underlying error cause.
func (e *ServerUnreachableError) Unwrap() error {
	return e.Cause
}

// Is supports errors.Is(err, ErrServerUnreachable).
func (e *ServerUnreachableError) Is(target error) bool {
	return target == ErrServerUnreachable
}
