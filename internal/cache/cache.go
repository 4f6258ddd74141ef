// Package cache implements the session-scoped content-hash cache that
// guarantees at most one download per unique asset address.
package cache

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/JakeFAU/webscraper/internal/metrics"
	"github.com/JakeFAU/webscraper/internal/scraper"
)

// ErrReset is returned to callers whose compute straddled a Reset. The
// computed entry is discarded.
var ErrReset = errors.New("cache reset during compute")

// ComputeFunc performs the fetch-and-store for one address.
type ComputeFunc func(ctx context.Context) (scraper.CacheEntry, error)

// Stats counts cache activity since construction or the last Reset.
// Hits+Misses equals the number of GetOrCompute calls; callers that join an
// in-flight compute count as misses without adding a compute.
type Stats struct {
	Hits     int64
	Misses   int64
	Computes int64
}

// Cache maps Key(address) to an immutable CacheEntry. Entries are never
// evicted; only Reset clears them.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]scraper.CacheEntry
	flight  singleflight.Group
	logger  *zap.Logger
	// gen is bumped by Reset under mu. Computes started under an older
	// generation never insert.
	gen atomic.Uint64

	hits     atomic.Int64
	misses   atomic.Int64
	computes atomic.Int64
}

// New returns an empty Cache.
func New(logger *zap.Logger) *Cache {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Cache{
		entries: make(map[string]scraper.CacheEntry),
		logger:  logger,
	}
}

// Key is the deterministic fingerprint of an absolute address.
func Key(address string) string {
	return scraper.Fingerprint(address)
}

// GetOrCompute returns the entry for address, running compute only when no
// entry exists and no other caller is already computing it. A failed or
// cancelled compute inserts nothing.
func (c *Cache) GetOrCompute(ctx context.Context, address string, compute ComputeFunc) (scraper.CacheEntry, error) {
	key := Key(address)
	if entry, ok := c.get(key); ok {
		c.hit()
		return entry, nil
	}
	c.misses.Add(1)
	metrics.ObserveCacheLookup(false)

	entry, err := c.await(ctx, key, address, compute)
	if err != nil && ctx.Err() == nil && isContextErr(err) {
		// The leading caller gave up; this caller still wants the entry.
		entry, err = c.await(ctx, key, address, compute)
	}
	return entry, err
}

func (c *Cache) await(ctx context.Context, key, address string, compute ComputeFunc) (scraper.CacheEntry, error) {
	gen := c.gen.Load()
	ch := c.flight.DoChan(key+"@"+strconv.FormatUint(gen, 10), func() (any, error) {
		// A miss racing a just-finished insert resolves here.
		if entry, ok := c.get(key); ok {
			return entry, nil
		}
		c.computes.Add(1)
		entry, err := compute(ctx)
		if err != nil {
			return nil, err
		}
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("compute canceled: %w", err)
		}
		c.mu.Lock()
		defer c.mu.Unlock()
		if c.gen.Load() != gen {
			return nil, ErrReset
		}
		c.entries[key] = entry
		return entry, nil
	})

	select {
	case <-ctx.Done():
		return scraper.CacheEntry{}, fmt.Errorf("cache wait for %s: %w", address, ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			return scraper.CacheEntry{}, res.Err
		}
		entry, ok := res.Val.(scraper.CacheEntry)
		if !ok {
			return scraper.CacheEntry{}, fmt.Errorf("cache entry for %s has type %T", address, res.Val)
		}
		if res.Shared {
			c.logger.Debug("shared in-flight compute", zap.String("url", address))
		}
		return entry, nil
	}
}

func isContextErr(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

// Lookup returns a stored entry without computing.
func (c *Cache) Lookup(address string) (scraper.CacheEntry, bool) {
	return c.get(Key(address))
}

// Len reports the number of stored entries.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Stats returns a snapshot of the counters.
func (c *Cache) Stats() Stats {
	return Stats{
		Hits:     c.hits.Load(),
		Misses:   c.misses.Load(),
		Computes: c.computes.Load(),
	}
}

// Reset drops every entry and zeroes the counters. Computes still in
// flight finish with ErrReset instead of inserting.
func (c *Cache) Reset() {
	c.mu.Lock()
	c.entries = make(map[string]scraper.CacheEntry)
	c.gen.Add(1)
	c.mu.Unlock()
	c.hits.Store(0)
	c.misses.Store(0)
	c.computes.Store(0)
}

func (c *Cache) get(key string) (scraper.CacheEntry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	entry, ok := c.entries[key]
	return entry, ok
}

func (c *Cache) hit() {
	c.hits.Add(1)
	metrics.ObserveCacheLookup(true)
}
