package collyfetcher

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gocolly/colly/v2"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/webscraper/internal/scraper"
)

func testConfig() Config {
	return Config{
		UserAgent:      "test-agent",
		Timeout:        2 * time.Second,
		MaxAttempts:    3,
		BackoffInitial: time.Millisecond,
		BackoffMax:     5 * time.Millisecond,
	}
}

func TestFetchReturnsBodyOnSuccess(t *testing.T) {
	t.Parallel()

	seen := make(chan http.Header, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen <- r.Header.Clone()
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte("<html><title>ok</title></html>"))
	}))
	defer srv.Close()

	f := New(testConfig(), nil, zap.NewNop())
	defer f.Close()
	resp, err := f.Fetch(context.Background(), scraper.FetchRequest{
		URL:     srv.URL + "/page",
		Headers: http.Header{"X-Trace": {"yes"}},
	})
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, 1, resp.Attempts)
	require.Contains(t, string(resp.Body), "<title>ok</title>")
	headers := <-seen
	require.Equal(t, "test-agent", headers.Get("User-Agent"))
	require.Equal(t, "yes", headers.Get("X-Trace"))
}

func TestFetchExhaustsRetryBudgetOnTransientStatus(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	f := New(testConfig(), nil, nil)
	_, err := f.Fetch(context.Background(), scraper.FetchRequest{URL: srv.URL})
	var fetchErr *scraper.FetchError
	require.ErrorAs(t, err, &fetchErr)
	require.Equal(t, http.StatusServiceUnavailable, fetchErr.StatusCode)
	require.Equal(t, 3, fetchErr.Attempts)
	require.Equal(t, int32(3), hits.Load())
}

func TestFetchFailsImmediatelyOnNonTransientStatus(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	f := New(testConfig(), nil, nil)
	_, err := f.Fetch(context.Background(), scraper.FetchRequest{URL: srv.URL})
	var fetchErr *scraper.FetchError
	require.ErrorAs(t, err, &fetchErr)
	require.Equal(t, http.StatusNotFound, fetchErr.StatusCode)
	require.Equal(t, 1, fetchErr.Attempts)
	require.Equal(t, int32(1), hits.Load())
}

func TestFetchRecoversAfterTransientFailure(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if hits.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte("second time lucky"))
	}))
	defer srv.Close()

	f := New(testConfig(), nil, nil)
	resp, err := f.Fetch(context.Background(), scraper.FetchRequest{URL: srv.URL})
	require.NoError(t, err)
	require.Equal(t, 2, resp.Attempts)
	require.Equal(t, "second time lucky", string(resp.Body))
}

func TestFetchRetriesNetworkFailures(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.NotFoundHandler())
	addr := srv.URL
	srv.Close()

	f := New(testConfig(), nil, nil)
	_, err := f.Fetch(context.Background(), scraper.FetchRequest{URL: addr})
	var fetchErr *scraper.FetchError
	require.ErrorAs(t, err, &fetchErr)
	require.Zero(t, fetchErr.StatusCode)
	require.Equal(t, 3, fetchErr.Attempts)
}

func TestFetchRetriesAttemptTimeout(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) == 1 {
			select {
			case <-r.Context().Done():
			case <-time.After(time.Second):
			}
			return
		}
		_, _ = w.Write([]byte("fast"))
	}))
	defer srv.Close()

	cfg := testConfig()
	cfg.Timeout = 100 * time.Millisecond
	f := New(cfg, nil, nil)
	resp, err := f.Fetch(context.Background(), scraper.FetchRequest{URL: srv.URL})
	require.NoError(t, err)
	require.Equal(t, 2, resp.Attempts)
}

func TestFetchPropagatesCancellation(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-release:
		}
	}))
	defer srv.Close()
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	f := New(testConfig(), nil, nil)
	start := time.Now()
	_, err := f.Fetch(ctx, scraper.FetchRequest{URL: srv.URL})
	require.Error(t, err)
	require.True(t, errors.Is(err, context.DeadlineExceeded), "got %v", err)
	require.Less(t, time.Since(start), time.Second)
}

type recordingWaiter struct {
	calls atomic.Int32
}

func (w *recordingWaiter) Wait(context.Context, string) error {
	w.calls.Add(1)
	return nil
}

func TestFetchConsultsLimiterPerAttempt(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	waiter := &recordingWaiter{}
	f := New(testConfig(), waiter, nil)
	_, err := f.Fetch(context.Background(), scraper.FetchRequest{URL: srv.URL})
	require.Error(t, err)
	require.Equal(t, int32(3), waiter.calls.Load())
}

func TestBuildCollectorAppliesConfig(t *testing.T) {
	t.Parallel()

	f := New(Config{UserAgent: "coverage-agent", RespectRobots: true, MaxBodyBytes: 512}, nil, nil)
	collector := f.buildCollector(context.Background())
	require.Equal(t, "coverage-agent", collector.UserAgent)
	require.False(t, collector.IgnoreRobotsTxt)
	require.Equal(t, 512, collector.MaxBodySize)
	require.True(t, collector.AllowURLRevisit)
}

func TestConfigureCollectorHooks(t *testing.T) {
	t.Parallel()

	f := New(Config{}, nil, nil)
	req := scraper.FetchRequest{
		URL:     "https://example.com",
		Headers: http.Header{"X-Trace": {"yes"}},
	}
	var result scraper.FetchResponse
	var fetchErr error

	hooks := &stubHooks{}
	f.configureCollectorHooks(hooks, req, time.Unix(0, 0), &result, &fetchErr)
	require.NotNil(t, hooks.onRequest)
	require.NotNil(t, hooks.onResponse)
	require.NotNil(t, hooks.onError)

	collyReq := &colly.Request{Headers: &http.Header{}}
	hooks.onRequest(collyReq)
	require.Equal(t, "yes", collyReq.Headers.Get("X-Trace"))

	hooks.onResponse(&colly.Response{
		StatusCode: http.StatusCreated,
		Body:       []byte("body"),
		Headers:    &http.Header{"X-Resp": {"ok"}},
		Request:    &colly.Request{URL: mustParseURL(t, "https://example.com/final")},
	})
	require.Equal(t, http.StatusCreated, result.StatusCode)
	require.Equal(t, "body", string(result.Body))
	require.Equal(t, "ok", result.Headers.Get("X-Resp"))
	require.Equal(t, "https://example.com/final", result.URL)

	hooks.onError(nil, errors.New("boom"))
	require.EqualError(t, fetchErr, "boom")
}

func TestRetryPolicy(t *testing.T) {
	t.Parallel()

	p := NewRetryPolicy(3, 10*time.Millisecond, 40*time.Millisecond)
	require.True(t, p.ShouldRetry(http.StatusServiceUnavailable, nil, 1))
	require.True(t, p.ShouldRetry(http.StatusGatewayTimeout, nil, 2))
	require.False(t, p.ShouldRetry(http.StatusServiceUnavailable, nil, 3))
	require.False(t, p.ShouldRetry(http.StatusTooManyRequests, nil, 1))
	require.False(t, p.ShouldRetry(0, errors.New("robots blocked"), 1))
	require.True(t, p.ShouldRetry(0, &url.Error{Op: "Get", URL: "x", Err: errors.New("refused")}, 1))

	for attempt := 1; attempt <= 5; attempt++ {
		d := p.Backoff(attempt)
		require.GreaterOrEqual(t, d, 5*time.Millisecond)
		require.LessOrEqual(t, d, 40*time.Millisecond)
	}
	require.Equal(t, 3, NewRetryPolicy(0, 0, 0).MaxAttempts())
}

func mustParseURL(t *testing.T, raw string) *url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	require.NoError(t, err)
	return u
}

type stubHooks struct {
	onRequest  colly.RequestCallback
	onResponse colly.ResponseCallback
	onError    colly.ErrorCallback
}

func (s *stubHooks) OnRequest(cb colly.RequestCallback) {
	s.onRequest = cb
}

func (s *stubHooks) OnResponse(cb colly.ResponseCallback) {
	s.onResponse = cb
}

func (s *stubHooks) OnError(cb colly.ErrorCallback) {
	s.onError = cb
}
