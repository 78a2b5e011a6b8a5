package summarizer

import (
	"context"
	"net/http"
	"time"
)

const (
	// DefaultTimeout bounds a whole Summarize call including retries.
	DefaultTimeout = 40 * time.Second

	// DefaultMaxAttempts is the number of tries for a request failing
	// with a server or transport error.
	DefaultMaxAttempts = 2

	// DefaultRetryDelay is the delay before the second attempt. It
	// doubles for every further attempt.
	DefaultRetryDelay = 500 * time.Millisecond

	// maxResponseBytes caps the response body that is read.
	maxResponseBytes = 1 << 20

	// maxUnwrapDepth bounds how many string or envelope layers are
	// peeled off a response.
	maxUnwrapDepth = 4
)

// Config configures the summarization client.
type Config struct {
	// Endpoint is the full URL of the summarization function.
	Endpoint string

	// Timeout bounds a whole Summarize call. Zero disables the client
	// side bound, leaving only the caller's deadline.
	Timeout time.Duration

	// MaxAttempts is the number of tries for retryable failures.
	MaxAttempts int

	// RetryDelay is the initial backoff between attempts.
	RetryDelay time.Duration

	// HTTPClient overrides the HTTP client, mostly for tests.
	HTTPClient *http.Client
}

// DefaultConfig returns a Config with the default timeouts and retries and
// no endpoint.
func DefaultConfig() Config {
	return Config{
		Timeout:     DefaultTimeout,
		MaxAttempts: DefaultMaxAttempts,
		RetryDelay:  DefaultRetryDelay,
	}
}

// TokenSource yields the bearer token of the signed in user.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// StaticToken is a TokenSource that always returns the same token.
type StaticToken string

// Token returns the token.
func (t StaticToken) Token(context.Context) (string, error) {
	return string(t), nil
}

// TokenFunc adapts a function to a TokenSource.
type TokenFunc func(ctx context.Context) (string, error)

// Token calls f.
func (f TokenFunc) Token(ctx context.Context) (string, error) {
	return f(ctx)
}
