// Package collyfetcher implements the pooled, retrying fetch client on top of
// gocolly.
package collyfetcher

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/JakeFAU/webscraper/internal/metrics"
	"github.com/JakeFAU/webscraper/internal/scraper"
)

const (
	defaultTimeout  = 10 * time.Second
	defaultPoolSize = 100
)

// Config controls collector and retry behavior.
type Config struct {
	UserAgent      string
	RespectRobots  bool
	Timeout        time.Duration
	PoolSize       int
	MaxBodyBytes   int
	MaxAttempts    int
	BackoffInitial time.Duration
	BackoffMax     time.Duration
}

// Waiter gates each attempt, typically a per-host rate limiter.
type Waiter interface {
	Wait(ctx context.Context, url string) error
}

// Fetcher implements scraper.Fetcher using Colly collectors that share one
// pooled transport.
type Fetcher struct {
	cfg       Config
	transport *http.Transport
	retry     *RetryPolicy
	limiter   Waiter
	logger    *zap.Logger
}

type collectorHooks interface {
	OnRequest(colly.RequestCallback)
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

// New builds a Fetcher. limiter and logger may be nil.
func New(cfg Config, limiter Waiter, logger *zap.Logger) *Fetcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.PoolSize <= 0 {
		cfg.PoolSize = defaultPoolSize
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Fetcher{
		cfg:       cfg,
		transport: newHTTPTransport(cfg.PoolSize),
		retry:     NewRetryPolicy(cfg.MaxAttempts, cfg.BackoffInitial, cfg.BackoffMax),
		limiter:   limiter,
		logger:    logger,
	}
}

// Close releases idle pooled connections.
func (f *Fetcher) Close() {
	f.transport.CloseIdleConnections()
}

// Fetch executes a GET with retries on transient failures. Any failure is a
// *scraper.FetchError.
func (f *Fetcher) Fetch(ctx context.Context, request scraper.FetchRequest) (scraper.FetchResponse, error) {
	start := time.Now()
	for attempt := 1; ; attempt++ {
		if err := f.wait(ctx, request.URL); err != nil {
			return scraper.FetchResponse{}, f.fail(request.URL, 0, attempt, err, start)
		}
		resp, err := f.attempt(ctx, request)
		if err == nil && resp.StatusCode >= 200 && resp.StatusCode < 300 {
			metrics.ObserveFetchAttempt(request.URL, "success")
			metrics.ObserveFetch("success", time.Since(start))
			resp.Attempts = attempt
			resp.Duration = time.Since(start)
			return resp, nil
		}
		status := 0
		if err == nil {
			status = resp.StatusCode
		}
		if ctx.Err() != nil {
			return scraper.FetchResponse{}, f.fail(request.URL, 0, attempt, ctx.Err(), start)
		}
		if !f.retry.ShouldRetry(status, err, attempt) {
			return scraper.FetchResponse{}, f.fail(request.URL, status, attempt, err, start)
		}
		metrics.ObserveFetchAttempt(request.URL, "retry")
		metrics.ObserveFetchRetry(request.URL)
		delay := f.retry.Backoff(attempt)
		f.logger.Debug("retrying fetch",
			zap.String("url", request.URL),
			zap.Int("attempt", attempt),
			zap.Int("status", status),
			zap.Duration("backoff", delay),
			zap.Error(err),
		)
		if err := sleep(ctx, delay); err != nil {
			return scraper.FetchResponse{}, f.fail(request.URL, status, attempt, err, start)
		}
	}
}

func (f *Fetcher) fail(url string, status, attempts int, err error, start time.Time) error {
	metrics.ObserveFetchAttempt(url, "failure")
	metrics.ObserveFetch("failure", time.Since(start))
	return &scraper.FetchError{URL: url, StatusCode: status, Attempts: attempts, Err: err}
}

func (f *Fetcher) wait(ctx context.Context, url string) error {
	if f.limiter == nil {
		return nil
	}
	if err := f.limiter.Wait(ctx, url); err != nil {
		return fmt.Errorf("limiter wait: %w", err)
	}
	return nil
}

func (f *Fetcher) attempt(ctx context.Context, request scraper.FetchRequest) (scraper.FetchResponse, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, f.cfg.Timeout)
	defer cancel()

	var (
		result   scraper.FetchResponse
		fetchErr error
	)
	collector := f.buildCollector(attemptCtx)
	f.configureCollectorHooks(collector, request, time.Now(), &result, &fetchErr)
	if err := collector.Visit(request.URL); err != nil {
		return scraper.FetchResponse{}, fmt.Errorf("colly visit failed: %w", err)
	}
	if fetchErr != nil {
		return scraper.FetchResponse{}, fmt.Errorf("colly response failed: %w", fetchErr)
	}
	return result, nil
}

// buildCollector returns a fresh collector per attempt. Clones share their
// backend, so swapping the transport on a clone would race with other
// attempts; a new collector bound to the shared pooled transport does not.
func (f *Fetcher) buildCollector(ctx context.Context) *colly.Collector {
	collector := colly.NewCollector(
		colly.AllowURLRevisit(),
		colly.ParseHTTPErrorResponse(),
		colly.MaxBodySize(f.cfg.MaxBodyBytes),
	)
	if f.cfg.UserAgent != "" {
		collector.UserAgent = f.cfg.UserAgent
	}
	collector.IgnoreRobotsTxt = !f.cfg.RespectRobots
	// The attempt context carries the deadline.
	collector.SetRequestTimeout(0)
	collector.WithTransport(&contextTransport{base: f.transport, ctx: ctx})
	return collector
}

func (f *Fetcher) configureCollectorHooks(
	hooks collectorHooks,
	request scraper.FetchRequest,
	start time.Time,
	result *scraper.FetchResponse,
	fetchErr *error,
) {
	hooks.OnRequest(func(r *colly.Request) {
		f.copyHeaders(request, r)
	})

	hooks.OnResponse(func(r *colly.Response) {
		finalURL := request.URL
		if r.Request != nil && r.Request.URL != nil {
			finalURL = r.Request.URL.String()
		}
		headers := http.Header{}
		if r.Headers != nil {
			headers = r.Headers.Clone()
		}
		*result = scraper.FetchResponse{
			URL:        finalURL,
			StatusCode: r.StatusCode,
			Headers:    headers,
			Body:       append([]byte(nil), r.Body...),
			Duration:   time.Since(start),
		}
	})

	hooks.OnError(func(_ *colly.Response, err error) {
		*fetchErr = err
	})
}

func (f *Fetcher) copyHeaders(request scraper.FetchRequest, r *colly.Request) {
	if request.Headers == nil {
		return
	}
	for key, values := range request.Headers {
		for _, v := range values {
			r.Headers.Add(key, v)
		}
	}
}

// contextTransport binds every round trip of one attempt to the attempt
// context so caller cancellation reaches the socket.
type contextTransport struct {
	base http.RoundTripper
	ctx  context.Context
}

func (t *contextTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	resp, err := t.base.RoundTrip(req.WithContext(t.ctx))
	if err != nil {
		return nil, fmt.Errorf("pooled roundtrip: %w", err)
	}
	return resp, nil
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return fmt.Errorf("backoff canceled: %w", ctx.Err())
	case <-timer.C:
		return nil
	}
}

func newHTTPTransport(poolSize int) *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          poolSize,
		MaxIdleConnsPerHost:   poolSize,
		MaxConnsPerHost:       poolSize,
		IdleConnTimeout:       90 * time.Second,
	}
}
