package llm

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
)

// ErrNotConfigured is returned when the active configuration has no usable credentials.
var ErrNotConfigured = errors.New("llm provider not configured")

// UnreachableError means the provider could not be reached at all
// (DNS, connection refused, timeouts). Retrying later may succeed.
type UnreachableError struct {
	Provider Provider
	Cause    error
}

func (e *UnreachableError) Error() string {
	return fmt.Sprintf("%s provider unreachable: %v", e.Provider, e.Cause)
}

func (e *UnreachableError) Unwrap() error {
	return e.Cause
}

// TransportError means the provider answered with an error status.
type TransportError struct {
	Provider   Provider
	StatusCode int
	Cause      error
}

func (e *TransportError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s request failed with status %d: %v", e.Provider, e.StatusCode, e.Cause)
	}
	return fmt.Sprintf("%s request failed: %v", e.Provider, e.Cause)
}

func (e *TransportError) Unwrap() error {
	return e.Cause
}

// MalformedResponseError means the provider answered but the content broke the
// JSON contract. Usage reports the tokens the call consumed anyway.
type MalformedResponseError struct {
	Provider Provider
	Message  string
	Raw      string
	Usage    Usage
	Cause    error
}

func (e *MalformedResponseError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("malformed %s response: %s: %v", e.Provider, e.Message, e.Cause)
	}
	return fmt.Sprintf("malformed %s response: %s", e.Provider, e.Message)
}

func (e *MalformedResponseError) Unwrap() error {
	return e.Cause
}

// IsRetryable reports whether err is a connectivity or throttling failure that may
// succeed later, as opposed to a configuration or contract failure.
func IsRetryable(err error) bool {
	var unreachable *UnreachableError
	if errors.As(err, &unreachable) {
		return true
	}
	var transport *TransportError
	if errors.As(err, &transport) {
		return transport.StatusCode == http.StatusTooManyRequests || transport.StatusCode >= 500
	}
	return false
}

// UsageOf returns the usage carried by a failed call, if any.
func UsageOf(err error) Usage {
	var malformed *MalformedResponseError
	if errors.As(err, &malformed) {
		return malformed.Usage
	}
	return Usage{}
}

// classifyError maps a provider SDK error to one of the package error kinds.
// status is the HTTP status the SDK reported, or 0 when unknown.
func classifyError(provider Provider, err error, status int) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) {
		return fmt.Errorf("%s request canceled: %w", provider, err)
	}
	if status > 0 {
		return &TransportError{Provider: provider, StatusCode: status, Cause: err}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &UnreachableError{Provider: provider, Cause: err}
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return &UnreachableError{Provider: provider, Cause: err}
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return &UnreachableError{Provider: provider, Cause: err}
	}
	return &TransportError{Provider: provider, Cause: err}
}
