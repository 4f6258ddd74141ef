package cache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/webscraper/internal/scraper"
)

func entryFor(addr string) scraper.CacheEntry {
	return scraper.CacheEntry{URL: addr, Filename: scraper.AssetFilename(addr), Path: "images/" + scraper.AssetFilename(addr)}
}

func TestKeyDeterministic(t *testing.T) {
	t.Parallel()

	assert.Equal(t, Key("https://example.com/a.png"), Key("https://example.com/a.png"))
	assert.NotEqual(t, Key("https://example.com/a.png"), Key("https://example.com/b.png"))
	assert.Len(t, Key("https://example.com/a.png"), 64)
}

func TestGetOrComputeHitSkipsCompute(t *testing.T) {
	t.Parallel()

	c := New(nil)
	ctx := context.Background()
	addr := "https://example.com/a.png"
	var calls atomic.Int32
	compute := func(context.Context) (scraper.CacheEntry, error) {
		calls.Add(1)
		return entryFor(addr), nil
	}

	first, err := c.GetOrCompute(ctx, addr, compute)
	require.NoError(t, err)
	second, err := c.GetOrCompute(ctx, addr, compute)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, Stats{Hits: 1, Misses: 1, Computes: 1}, c.Stats())

	got, ok := c.Lookup(addr)
	require.True(t, ok)
	assert.Equal(t, first, got)
	assert.Equal(t, 1, c.Len())
}

func TestGetOrComputeConcurrentSingleCompute(t *testing.T) {
	t.Parallel()

	c := New(nil)
	addr := "https://example.com/shared.png"
	release := make(chan struct{})
	var calls atomic.Int32
	compute := func(context.Context) (scraper.CacheEntry, error) {
		calls.Add(1)
		<-release
		return entryFor(addr), nil
	}

	const n = 16
	var wg sync.WaitGroup
	results := make([]scraper.CacheEntry, n)
	errs := make([]error, n)
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i], errs[i] = c.GetOrCompute(context.Background(), addr, compute)
		}()
	}
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	for i := range n {
		require.NoError(t, errs[i])
		assert.Equal(t, entryFor(addr), results[i])
	}
	assert.Equal(t, int32(1), calls.Load())
	stats := c.Stats()
	assert.Equal(t, int64(1), stats.Computes)
	assert.Equal(t, int64(n), stats.Hits+stats.Misses)
}

func TestGetOrComputeErrorInsertsNothing(t *testing.T) {
	t.Parallel()

	c := New(nil)
	addr := "https://example.com/broken.png"
	boom := errors.New("boom")

	_, err := c.GetOrCompute(context.Background(), addr, func(context.Context) (scraper.CacheEntry, error) {
		return scraper.CacheEntry{}, boom
	})
	require.ErrorIs(t, err, boom)
	assert.Equal(t, 0, c.Len())

	entry, err := c.GetOrCompute(context.Background(), addr, func(context.Context) (scraper.CacheEntry, error) {
		return entryFor(addr), nil
	})
	require.NoError(t, err)
	assert.Equal(t, addr, entry.URL)
	assert.Equal(t, int64(2), c.Stats().Computes)
}

func TestGetOrComputeCancelledInsertsNothing(t *testing.T) {
	t.Parallel()

	c := New(nil)
	addr := "https://example.com/slow.png"
	ctx, cancel := context.WithCancel(context.Background())
	started := make(chan struct{})

	done := make(chan error, 1)
	go func() {
		_, err := c.GetOrCompute(ctx, addr, func(ctx context.Context) (scraper.CacheEntry, error) {
			close(started)
			<-ctx.Done()
			return scraper.CacheEntry{}, ctx.Err()
		})
		done <- err
	}()
	<-started
	cancel()

	err := <-done
	require.ErrorIs(t, err, context.Canceled)
	_, ok := c.Lookup(addr)
	assert.False(t, ok)
}

func TestGetOrComputeWaiterHonorsOwnContext(t *testing.T) {
	t.Parallel()

	c := New(nil)
	addr := "https://example.com/wait.png"
	release := make(chan struct{})
	started := make(chan struct{})
	leaderDone := make(chan error, 1)
	go func() {
		_, err := c.GetOrCompute(context.Background(), addr, func(context.Context) (scraper.CacheEntry, error) {
			close(started)
			<-release
			return entryFor(addr), nil
		})
		leaderDone <- err
	}()
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := c.GetOrCompute(ctx, addr, func(context.Context) (scraper.CacheEntry, error) {
		t.Error("waiter must not compute")
		return scraper.CacheEntry{}, nil
	})
	require.ErrorIs(t, err, context.DeadlineExceeded)

	close(release)
	require.NoError(t, <-leaderDone)
	_, ok := c.Lookup(addr)
	assert.True(t, ok)
}

func TestReset(t *testing.T) {
	t.Parallel()

	c := New(nil)
	addr := "https://example.com/a.png"
	_, err := c.GetOrCompute(context.Background(), addr, func(context.Context) (scraper.CacheEntry, error) {
		return entryFor(addr), nil
	})
	require.NoError(t, err)

	c.Reset()
	assert.Equal(t, 0, c.Len())
	assert.Equal(t, Stats{}, c.Stats())
}

func TestResetDuringComputeInsertsNothing(t *testing.T) {
	t.Parallel()

	c := New(nil)
	addr := "https://example.com/a.png"
	started := make(chan struct{})
	release := make(chan struct{})
	result := make(chan error, 1)
	go func() {
		_, err := c.GetOrCompute(context.Background(), addr, func(context.Context) (scraper.CacheEntry, error) {
			close(started)
			<-release
			return entryFor(addr), nil
		})
		result <- err
	}()
	<-started

	c.Reset()
	close(release)

	require.ErrorIs(t, <-result, ErrReset)
	assert.Equal(t, 0, c.Len())
	_, ok := c.Lookup(addr)
	assert.False(t, ok)

	entry, err := c.GetOrCompute(context.Background(), addr, func(context.Context) (scraper.CacheEntry, error) {
		return entryFor(addr), nil
	})
	require.NoError(t, err)
	assert.Equal(t, entryFor(addr), entry)
	assert.Equal(t, 1, c.Len())
}
