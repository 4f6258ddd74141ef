package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestSanitizeSite(t *testing.T) {
	testCases := []struct {
		name     string
		input    string
		expected string
	}{
		{"standard http", "http://example.com/path", "example.com"},
		{"standard https", "https://Example.com/path", "example.com"},
		{"no scheme", "example.com/path", "example.com"},
		{"host with port", "example.com:8080", "example.com"},
		{"invalid url", "http://%", "unknown"},
		{"empty string", "", "unknown"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if got := SanitizeSite(tc.input); got != tc.expected {
				t.Errorf("SanitizeSite(%q) = %q; want %q", tc.input, got, tc.expected)
			}
		})
	}
}

func TestObserversInitializeLazily(t *testing.T) {
	ObserveFetchAttempt("https://metrics.test/a", "success")
	ObserveFetchAttempt("https://metrics.test/b", "success")
	ObserveCacheLookup(true)
	ObserveScrape("persisted", time.Second)

	require.InDelta(t, 2.0, testutil.ToFloat64(fetchAttemptsTotal.WithLabelValues("metrics.test", "success")), 1e-9)
	require.GreaterOrEqual(t, testutil.ToFloat64(cacheLookupsTotal.WithLabelValues("hit")), 1.0)
	require.GreaterOrEqual(t, testutil.ToFloat64(scrapesTotal.WithLabelValues("persisted")), 1.0)
}

func TestPoolGaugeTracksInFlight(t *testing.T) {
	Init()
	before := testutil.ToFloat64(poolTasksInFlight)
	IncPoolTasks()
	require.InDelta(t, before+1, testutil.ToFloat64(poolTasksInFlight), 1e-9)
	DecPoolTasks()
	require.InDelta(t, before, testutil.ToFloat64(poolTasksInFlight), 1e-9)
}
