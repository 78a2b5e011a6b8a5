package summarizer

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/roasbeef/insightd/internal/insight"
)

const okBody = `{"summary":"Calm week","description":"Mostly rest.",` +
	`"themes":["rest",{"theme":"work","description":"busy"}],` +
	`"entriesAnalyzed":3,"generatedAt":"2026-05-01T10:00:00Z",` +
	`"fromCache":true}`

func testEntries() []insight.Entry {
	return []insight.Entry{{
		ID:        "e1",
		Date:      time.Date(2026, 4, 30, 8, 0, 0, 0, time.UTC),
		Title:     "Thursday",
		Content:   "Long walk.",
		WordCount: 2,
		Mood:      "good",
	}}
}

func newTestClient(t *testing.T, h http.HandlerFunc,
	cfg Config) (*Client, *int32) {

	t.Helper()

	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(
		func(w http.ResponseWriter, r *http.Request) {
			atomic.AddInt32(&calls, 1)
			h(w, r)
		},
	))
	t.Cleanup(srv.Close)

	cfg.Endpoint = srv.URL
	if cfg.RetryDelay == 0 {
		cfg.RetryDelay = time.Millisecond
	}

	return New(cfg, StaticToken("tok"), nil), &calls
}

// TestSummarizeRequest tests the request shape and a plain response.
func TestSummarizeRequest(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		require.Equal(t, "application/json",
			r.Header.Get("Content-Type"))

		var req struct {
			Entries []map[string]any `json:"entries"`
			Force   *bool            `json:"forceRefresh"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Len(t, req.Entries, 1)
		require.Equal(t, "2026-04-30T08:00:00Z", req.Entries[0]["date"])
		require.Equal(t, "Thursday", req.Entries[0]["title"])
		require.EqualValues(t, 2, req.Entries[0]["wordCount"])
		require.Equal(t, "good", req.Entries[0]["mood"])
		require.NotNil(t, req.Force)
		require.True(t, *req.Force)

		_, _ = io.WriteString(w, okBody)
	}, DefaultConfig())

	s, err := c.Summarize(context.Background(), testEntries(), true)
	require.NoError(t, err)
	require.Equal(t, "Calm week", s.Summary)
	require.Equal(t, 3, s.EntriesAnalyzed)
	require.True(t, s.FromCache)
	require.Equal(t, []insight.Theme{
		{Name: "rest"}, {Name: "work", Detail: "busy"},
	}, s.Themes)
}

// TestSummarizeDoubleEncoded tests that a string encoded body in an
// envelope is unwrapped.
func TestSummarizeDoubleEncoded(t *testing.T) {
	inner, err := json.Marshal(okBody)
	require.NoError(t, err)
	wrapped := `{"data":` + string(inner) + `}`

	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, wrapped)
	}, DefaultConfig())

	s, err := c.Summarize(context.Background(), testEntries(), false)
	require.NoError(t, err)
	require.Equal(t, "Calm week", s.Summary)
}

// TestDecodeResponse tests the decode step on its own.
func TestDecodeResponse(t *testing.T) {
	twice, err := json.Marshal(okBody)
	require.NoError(t, err)
	thrice, err := json.Marshal(string(twice))
	require.NoError(t, err)

	for _, body := range [][]byte{
		[]byte(okBody), twice, thrice,
		[]byte(`  {"data": ` + okBody + `}  `),
	} {
		s, err := decodeResponse(body)
		require.NoError(t, err, string(body))
		require.Equal(t, "Calm week", s.Summary)
	}

	var decErr *insight.DecodeError
	for _, body := range []string{
		``, `[]`, `{"summary": 3}`, `{}`, `"not json"`, `{"data": null}`,
	} {
		_, err := decodeResponse([]byte(body))
		require.ErrorAs(t, err, &decErr, body)
	}

	// Unbounded nesting is refused.
	deep := []byte(okBody)
	for i := 0; i < maxUnwrapDepth+2; i++ {
		deep, err = json.Marshal(string(deep))
		require.NoError(t, err)
	}
	_, err = decodeResponse(deep)
	require.ErrorAs(t, err, &decErr)
}

// TestSummarizeStatusErrors tests the mapping of non-2xx answers.
func TestSummarizeStatusErrors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		header map[string]string
		body   string
		check  func(t *testing.T, err error)
		calls  int32
	}{{
		name:   "unauthorized",
		status: http.StatusUnauthorized,
		body:   `{"error":"session expired"}`,
		check: func(t *testing.T, err error) {
			var authErr *insight.AuthenticationError
			require.ErrorAs(t, err, &authErr)
			require.Equal(t, "session expired", authErr.Reason)
		},
		calls: 1,
	}, {
		name:   "rate limited",
		status: http.StatusTooManyRequests,
		header: map[string]string{"Retry-After": "30"},
		check: func(t *testing.T, err error) {
			var rateErr *insight.RateLimitedError
			require.ErrorAs(t, err, &rateErr)
			require.Equal(t, 30*time.Second, rateErr.RetryAfter)
		},
		calls: 1,
	}, {
		name:   "bad request",
		status: http.StatusBadRequest,
		body:   `{"message":"too many entries"}`,
		check: func(t *testing.T, err error) {
			var valErr *insight.ValidationError
			require.ErrorAs(t, err, &valErr)
			require.Equal(t, "too many entries", valErr.Reason)
		},
		calls: 1,
	}, {
		name:   "server error",
		status: http.StatusBadGateway,
		body:   `{"error":{"message":"upstream down","code":"UPSTREAM"}}`,
		check: func(t *testing.T, err error) {
			var svcErr *insight.ServiceError
			require.ErrorAs(t, err, &svcErr)
			require.Equal(t, http.StatusBadGateway, svcErr.Status)
			require.Equal(t, "UPSTREAM", svcErr.Code)
			require.Equal(t, "upstream down", svcErr.Message)
			require.True(t, insight.IsRetryable(err))
		},
		calls: DefaultMaxAttempts,
	}, {
		name:   "plain text",
		status: http.StatusNotFound,
		body:   "no such function",
		check: func(t *testing.T, err error) {
			var svcErr *insight.ServiceError
			require.ErrorAs(t, err, &svcErr)
			require.Equal(t, "no such function", svcErr.Message)
			require.False(t, insight.IsRetryable(err))
		},
		calls: 1,
	}}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			c, calls := newTestClient(t,
				func(w http.ResponseWriter, r *http.Request) {
					for k, v := range tc.header {
						w.Header().Set(k, v)
					}
					w.WriteHeader(tc.status)
					_, _ = io.WriteString(w, tc.body)
				}, DefaultConfig(),
			)

			_, err := c.Summarize(context.Background(),
				testEntries(), false)
			require.Error(t, err)
			tc.check(t, err)
			require.Equal(t, tc.calls, atomic.LoadInt32(calls))
		})
	}
}

// TestSummarizeRetriesServerError tests that a transient 5xx is retried.
func TestSummarizeRetriesServerError(t *testing.T) {
	var n int32
	c, calls := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&n, 1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = io.WriteString(w, okBody)
	}, DefaultConfig())

	s, err := c.Summarize(context.Background(), testEntries(), false)
	require.NoError(t, err)
	require.Equal(t, "Calm week", s.Summary)
	require.EqualValues(t, 2, atomic.LoadInt32(calls))
}

// TestSummarizeTimeout tests that the client deadline is reported as a
// timeout and a caller cancellation is not.
func TestSummarizeTimeout(t *testing.T) {
	release := make(chan struct{})
	defer close(release)

	cfg := DefaultConfig()
	cfg.Timeout = 50 * time.Millisecond

	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}, cfg)

	_, err := c.Summarize(context.Background(), testEntries(), false)
	var timeoutErr *insight.TimeoutError
	require.ErrorAs(t, err, &timeoutErr)
	require.Equal(t, cfg.Timeout, timeoutErr.After)

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(20*time.Millisecond, cancel)

	_, err = c.Summarize(ctx, testEntries(), false)
	require.False(t, insight.IsTimeout(err))
	require.ErrorIs(t, err, context.Canceled)
}

// TestSummarizeConfiguration tests the errors reported before any request.
func TestSummarizeConfiguration(t *testing.T) {
	ctx := context.Background()

	_, err := New(DefaultConfig(), StaticToken("tok"), nil).Summarize(
		ctx, testEntries(), false,
	)
	var cfgErr *insight.ConfigurationError
	require.ErrorAs(t, err, &cfgErr)

	cfg := DefaultConfig()
	cfg.Endpoint = "https://example.invalid/insights"

	var authErr *insight.AuthenticationError
	_, err = New(cfg, StaticToken(""), nil).Summarize(ctx, testEntries(),
		false)
	require.ErrorAs(t, err, &authErr)

	_, err = New(cfg, nil, nil).Summarize(ctx, testEntries(), false)
	require.ErrorAs(t, err, &authErr)

	_, err = New(cfg, TokenFunc(func(context.Context) (string, error) {
		return "", errors.New("signed out")
	}), nil).Summarize(ctx, testEntries(), false)
	require.ErrorAs(t, err, &authErr)
	require.Equal(t, "signed out", authErr.Reason)
}

func TestParseRetryAfter(t *testing.T) {
	require.Zero(t, parseRetryAfter(""))
	require.Zero(t, parseRetryAfter("soon"))
	require.Equal(t, 5*time.Second, parseRetryAfter("5"))

	at := time.Now().Add(time.Minute).UTC().Format(http.TimeFormat)
	d := parseRetryAfter(at)
	require.InDelta(t, time.Minute.Seconds(), d.Seconds(), 2,
		strconv.Itoa(int(d.Seconds())))
}
