package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/JakeFAU/webscraper/internal/metrics"
)

// DefaultPoolSize is the slot count used when none is configured.
const DefaultPoolSize = 10

// ErrPoolClosed is returned for work submitted after Close.
var ErrPoolClosed = errors.New("worker pool closed")

// Pool bounds the number of concurrently running tasks across every scrape
// that shares it.
type Pool struct {
	sem  *semaphore.Weighted
	size int

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

// NewPool creates a pool with size slots. Sizes below one use
// DefaultPoolSize.
func NewPool(size int) *Pool {
	if size < 1 {
		size = DefaultPoolSize
	}
	return &Pool{sem: semaphore.NewWeighted(int64(size)), size: size}
}

// Size reports the slot count.
func (p *Pool) Size() int {
	return p.size
}

// Do runs fn on the calling goroutine while holding one slot. It blocks
// until a slot is free or ctx is done.
func (p *Pool) Do(ctx context.Context, fn func(context.Context) error) error {
	p.mu.RLock()
	if p.closed {
		p.mu.RUnlock()
		return ErrPoolClosed
	}
	p.wg.Add(1)
	p.mu.RUnlock()
	defer p.wg.Done()

	if err := p.sem.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("acquire pool slot: %w", err)
	}
	defer p.sem.Release(1)
	metrics.IncPoolTasks()
	defer metrics.DecPoolTasks()
	return fn(ctx)
}

// Group starts a fan-out whose tasks each run in their own slot.
func (p *Pool) Group(ctx context.Context) *Group {
	eg, gctx := errgroup.WithContext(ctx)
	return &Group{pool: p, eg: eg, ctx: gctx}
}

// Close refuses new work and waits for in-flight tasks. It returns early
// with ctx's error if they do not finish in time.
func (p *Pool) Close(ctx context.Context) error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("drain worker pool: %w", ctx.Err())
	}
}

// Group joins a set of slot-bound tasks. The first error cancels the
// remaining tasks.
type Group struct {
	pool *Pool
	eg   *errgroup.Group
	ctx  context.Context
}

// Go submits fn. It never blocks the caller.
func (g *Group) Go(fn func(context.Context) error) {
	g.eg.Go(func() error {
		return g.pool.Do(g.ctx, fn)
	})
}

// Wait blocks until every submitted task has returned.
func (g *Group) Wait() error {
	if err := g.eg.Wait(); err != nil {
		return fmt.Errorf("task group: %w", err)
	}
	return nil
}
