// Package metrics exposes Prometheus collectors for the extraction engine.
package metrics

import (
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	fetchAttemptsTotal     *prometheus.CounterVec
	fetchRetriesTotal      *prometheus.CounterVec
	fetchDurationSeconds   *prometheus.HistogramVec
	cacheLookupsTotal      *prometheus.CounterVec
	scrapesTotal           *prometheus.CounterVec
	scrapeDurationSeconds  *prometheus.HistogramVec
	poolTasksInFlight      prometheus.Gauge
	rateLimitDelaysSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		fetchAttemptsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "webscraper_fetch_attempts_total",
				Help: "Fetch attempts, labeled by site and outcome.",
			},
			[]string{"site", "outcome"},
		)

		fetchRetriesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "webscraper_fetch_retries_total",
				Help: "Fetch attempts that were retried, labeled by site.",
			},
			[]string{"site"},
		)

		fetchDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "webscraper_fetch_duration_seconds",
				Help:    "Wall time of a fetch including retries, labeled by outcome.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"outcome"},
		)

		cacheLookupsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "webscraper_cache_lookups_total",
				Help: "Content-hash cache lookups, labeled by result.",
			},
			[]string{"result"},
		)

		scrapesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "webscraper_scrapes_total",
				Help: "Scrapes that reached a terminal state, labeled by state.",
			},
			[]string{"state"},
		)

		scrapeDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "webscraper_scrape_duration_seconds",
				Help:    "Wall time per scrape, labeled by terminal state.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
			},
			[]string{"state"},
		)

		poolTasksInFlight = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "webscraper_pool_tasks_in_flight",
				Help: "Tasks currently holding a worker-pool slot.",
			},
		)

		rateLimitDelaysSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "webscraper_rate_limit_delays_seconds",
				Help:    "Histogram of rate limit wait durations.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"site"},
		)
	})
}

// SanitizeSite sanitizes a URL to extract a lowercase hostname.
// It returns "unknown" if the URL is invalid.
func SanitizeSite(rawURL string) string {
	if !strings.HasPrefix(rawURL, "http") {
		rawURL = "http://" + rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.ToLower(u.Hostname())
}

// ObserveFetchAttempt counts one attempt against a site.
func ObserveFetchAttempt(site, outcome string) {
	Init()
	fetchAttemptsTotal.WithLabelValues(SanitizeSite(site), outcome).Inc()
}

// ObserveFetchRetry counts one retry against a site.
func ObserveFetchRetry(site string) {
	Init()
	fetchRetriesTotal.WithLabelValues(SanitizeSite(site)).Inc()
}

// ObserveFetch records the total duration of a fetch.
func ObserveFetch(outcome string, duration time.Duration) {
	Init()
	fetchDurationSeconds.WithLabelValues(outcome).Observe(duration.Seconds())
}

// ObserveCacheLookup counts a cache hit or miss.
func ObserveCacheLookup(hit bool) {
	Init()
	result := "miss"
	if hit {
		result = "hit"
	}
	cacheLookupsTotal.WithLabelValues(result).Inc()
}

// ObserveScrape records a terminal scrape outcome.
func ObserveScrape(state string, duration time.Duration) {
	Init()
	scrapesTotal.WithLabelValues(state).Inc()
	if duration > 0 {
		scrapeDurationSeconds.WithLabelValues(state).Observe(duration.Seconds())
	}
}

// IncPoolTasks increments the in-flight pool task gauge.
func IncPoolTasks() {
	Init()
	poolTasksInFlight.Inc()
}

// DecPoolTasks decrements the in-flight pool task gauge.
func DecPoolTasks() {
	Init()
	poolTasksInFlight.Dec()
}

// ObserveRateLimitDelay records the duration of a rate limit wait.
func ObserveRateLimitDelay(site string, duration time.Duration) {
	Init()
	rateLimitDelaysSeconds.WithLabelValues(site).Observe(duration.Seconds())
}
