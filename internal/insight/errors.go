package insight

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrNotFound is returned by a tier that holds no record for a user.
	ErrNotFound = errors.New("insight not found")

	// ErrNoEntries is wrapped by the ValidationError returned when
	// generation is requested without any entries.
	ErrNoEntries = errors.New("no entries to analyze")

	// ErrSuperseded is returned by Store when the user's cache was cleared
	// after the write was started.
	ErrSuperseded = errors.New("cache cleared while write was in flight")
)

// ConfigurationError is returned when a required collaborator (storage,
// transport, endpoint) has not been configured.
type ConfigurationError struct {
	Component string
	Reason    string
}

// Error returns the error message.
func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("%s not configured: %s", e.Component, e.Reason)
}

// AuthenticationError is returned when the caller has no valid session or
// the service rejected its credentials.
type AuthenticationError struct {
	Reason string
}

// Error returns the error message.
func (e *AuthenticationError) Error() string {
	return fmt.Sprintf("authentication failed: %s", e.Reason)
}

// ValidationError is returned when the entries handed to generation are not
// acceptable.
type ValidationError struct {
	Field  string
	Reason string
	Err    error
}

// Error returns the error message.
func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("invalid request: %s", e.Reason)
	}

	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// Unwrap returns the wrapped error.
func (e *ValidationError) Unwrap() error {
	return e.Err
}

// RateLimitedError is returned when the summarization service throttled the
// request.
type RateLimitedError struct {
	RetryAfter time.Duration
}

// Error returns the error message.
func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("rate limited, retry after %ds",
		int(e.RetryAfter.Seconds()))
}

// ServiceError is a non-2xx answer from the summarization service.
type ServiceError struct {
	Status  int
	Code    string
	Message string
}

// Error returns the error message.
func (e *ServiceError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("service error (HTTP %d): %s", e.Status,
			e.Message)
	}

	return fmt.Sprintf("service error (HTTP %d, %s): %s", e.Status,
		e.Code, e.Message)
}

// TransportError is returned when the request never produced an HTTP
// response.
type TransportError struct {
	Err error
}

// Error returns the error message.
func (e *TransportError) Error() string {
	return fmt.Sprintf("transport error: %v", e.Err)
}

// Unwrap returns the wrapped error.
func (e *TransportError) Unwrap() error {
	return e.Err
}

// DecodeError is returned when a response body could not be decoded.
type DecodeError struct {
	Details string
	Err     error
}

// Error returns the error message.
func (e *DecodeError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("decode response: %s", e.Details)
	}

	return fmt.Sprintf("decode response: %s: %v", e.Details, e.Err)
}

// Unwrap returns the wrapped error.
func (e *DecodeError) Unwrap() error {
	return e.Err
}

// TimeoutError is returned when the summarization call exceeded its
// deadline.
type TimeoutError struct {
	After time.Duration
}

// Error returns the error message.
func (e *TimeoutError) Error() string {
	if e.After == 0 {
		return "summarization timed out"
	}

	return fmt.Sprintf("summarization timed out after %v", e.After)
}

// IsTimeout returns true if the error is a TimeoutError.
func IsTimeout(err error) bool {
	var timeoutErr *TimeoutError
	return errors.As(err, &timeoutErr)
}

// IsRetryable returns true for errors a caller may retry later without
// changing its request: throttling, timeouts, transport failures and server
// side (5xx) service errors.
func IsRetryable(err error) bool {
	var (
		rateErr      *RateLimitedError
		transportErr *TransportError
		serviceErr   *ServiceError
	)

	switch {
	case IsTimeout(err):
		return true
	case errors.As(err, &rateErr):
		return true
	case errors.As(err, &transportErr):
		return true
	case errors.As(err, &serviceErr):
		return serviceErr.Status >= 500
	default:
		return false
	}
}
