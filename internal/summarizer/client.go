// Package summarizer is the client of the remote summarization function that
// turns a batch of journal entries into an insight.
package summarizer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/roasbeef/insightd/internal/insight"
)

// requestEntry is the wire form of an entry.
type requestEntry struct {
	Date      string `json:"date"`
	Title     string `json:"title"`
	Content   string `json:"content"`
	WordCount int    `json:"wordCount"`
	Mood      string `json:"mood,omitempty"`
}

type request struct {
	Entries      []requestEntry `json:"entries"`
	ForceRefresh bool           `json:"forceRefresh,omitempty"`
}

// Client calls the summarization function over HTTPS with a bearer token.
type Client struct {
	cfg    Config
	tokens TokenSource
	http   *http.Client
	log    *slog.Logger
}

var _ insight.Summarizer = (*Client)(nil)

// New creates a client. Missing endpoint or token source are reported by
// Summarize, so a client can be built before the user signs in.
func New(cfg Config, tokens TokenSource, log *slog.Logger) *Client {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = DefaultRetryDelay
	}
	if log == nil {
		log = slog.Default()
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}

	return &Client{
		cfg:    cfg,
		tokens: tokens,
		http:   httpClient,
		log:    log.With("component", "summarizer"),
	}
}

// Summarize sends the entries and decodes the resulting summary.
func (c *Client) Summarize(ctx context.Context, entries []insight.Entry,
	force bool) (insight.Summary, error) {

	if c.cfg.Endpoint == "" {
		return insight.Summary{}, &insight.ConfigurationError{
			Component: "summarizer",
			Reason:    "no endpoint",
		}
	}
	if c.tokens == nil {
		return insight.Summary{}, &insight.AuthenticationError{
			Reason: "no token source",
		}
	}

	token, err := c.tokens.Token(ctx)
	if err != nil {
		return insight.Summary{}, &insight.AuthenticationError{
			Reason: err.Error(),
		}
	}
	if token == "" {
		return insight.Summary{}, &insight.AuthenticationError{
			Reason: "empty token",
		}
	}

	body, err := json.Marshal(encodeRequest(entries, force))
	if err != nil {
		return insight.Summary{}, fmt.Errorf("encode request: %w", err)
	}

	parent := ctx
	if c.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.Timeout)
		defer cancel()
	}

	var lastErr error
	for attempt := 0; attempt < c.cfg.MaxAttempts; attempt++ {
		if attempt > 0 {
			delay := c.cfg.RetryDelay << (attempt - 1)

			c.log.WarnContext(ctx, "Summarization attempt failed, "+
				"retrying",
				"attempt", attempt, "delay", delay,
				"error", lastErr,
			)

			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return insight.Summary{}, c.ctxError(parent, ctx,
					lastErr)
			}
		}

		s, err := c.do(ctx, token, body)
		if err == nil {
			return s, nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return insight.Summary{}, c.ctxError(parent, ctx, err)
		}
		if !retryable(err) {
			return insight.Summary{}, err
		}
	}

	return insight.Summary{}, lastErr
}

// do performs a single attempt.
func (c *Client) do(ctx context.Context, token string,
	body []byte) (insight.Summary, error) {

	req, err := http.NewRequestWithContext(
		ctx, http.MethodPost, c.cfg.Endpoint, bytes.NewReader(body),
	)
	if err != nil {
		return insight.Summary{}, &insight.ConfigurationError{
			Component: "summarizer",
			Reason:    fmt.Sprintf("bad endpoint: %v", err),
		}
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return insight.Summary{}, &insight.TransportError{Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return insight.Summary{}, &insight.TransportError{
			Err: fmt.Errorf("read body: %w", err),
		}
	}

	c.log.DebugContext(ctx, "Summarization response",
		"status", resp.StatusCode, "bytes", len(respBody),
		"duration", time.Since(start),
	)

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return decodeResponse(respBody)
	}

	return insight.Summary{}, statusError(resp, respBody)
}

// ctxError reports a finished context. Only the client's own deadline is a
// timeout; a cancelled or expired caller context is passed on as transport
// failure so the caller can tell its own deadline apart.
func (c *Client) ctxError(parent, ctx context.Context, cause error) error {
	if parent.Err() == nil &&
		errors.Is(ctx.Err(), context.DeadlineExceeded) {

		return &insight.TimeoutError{After: c.cfg.Timeout}
	}

	if cause == nil {
		cause = ctx.Err()
	}

	return &insight.TransportError{Err: errors.Join(ctx.Err(), cause)}
}

// statusError maps a non-2xx response onto the error taxonomy.
func statusError(resp *http.Response, body []byte) error {
	msg, code := decodeError(body)

	switch resp.StatusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		return &insight.AuthenticationError{Reason: msg}

	case http.StatusTooManyRequests:
		return &insight.RateLimitedError{
			RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After")),
		}

	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		return &insight.ValidationError{Reason: msg}

	default:
		return &insight.ServiceError{
			Status:  resp.StatusCode,
			Code:    code,
			Message: msg,
		}
	}
}

// parseRetryAfter accepts delay seconds or an HTTP date.
func parseRetryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(v); err == nil {
		if d := time.Until(at); d > 0 {
			return d.Round(time.Second)
		}
	}

	return 0
}

// retryable reports whether another attempt may succeed. Throttling is
// surfaced to the caller instead.
func retryable(err error) bool {
	var (
		transportErr *insight.TransportError
		serviceErr   *insight.ServiceError
	)

	switch {
	case errors.As(err, &transportErr):
		return true
	case errors.As(err, &serviceErr):
		return serviceErr.Status >= 500
	default:
		return false
	}
}

func encodeRequest(entries []insight.Entry, force bool) request {
	req := request{
		Entries:      make([]requestEntry, len(entries)),
		ForceRefresh: force,
	}
	for i, e := range entries {
		req.Entries[i] = requestEntry{
			Date:      e.Date.UTC().Format(time.RFC3339),
			Title:     e.Title,
			Content:   e.Content,
			WordCount: e.WordCount,
			Mood:      e.Mood,
		}
	}

	return req
}
