// Package dispatcher runs category processors over a shared bounded pool.
//
// Each enabled category gets a coordinator goroutine that holds no pool
// slot. Scalar processors run inside a single slot; fan-out processors
// submit one slot-bound task per element. Gathering processors do the same
// and then commit their record in one more slot. Because only leaf work occupies
// slots, nested submission cannot deadlock and the number of running
// tasks never exceeds the pool size.
package dispatcher

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/webscraper/internal/processor"
	"github.com/JakeFAU/webscraper/internal/scraper"
)

// CategoryObserver is implemented by sinks that want to know when a
// category has finished.
type CategoryObserver interface {
	CategoryDone(category scraper.Category, err error)
}

// Dispatcher fans one page out to its processors.
type Dispatcher struct {
	pool   *Pool
	logger *zap.Logger
}

// New creates a Dispatcher.
func New(pool *Pool, logger *zap.Logger) *Dispatcher {
	if pool == nil {
		pool = NewPool(DefaultPoolSize)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{pool: pool, logger: logger}
}

// Dispatch runs every processor against page and blocks until all of them,
// including nested element tasks, have finished. The returned map holds the
// categories that failed; element failures are logged and never appear.
func (d *Dispatcher) Dispatch(
	ctx context.Context,
	page *processor.Page,
	processors []processor.Processor,
	sink processor.Sink,
) map[scraper.Category]error {
	var (
		mu     sync.Mutex
		failed = make(map[scraper.Category]error)
		g      errgroup.Group
	)
	observer, _ := sink.(CategoryObserver)

	for _, proc := range processors {
		g.Go(func() error {
			category := proc.Category()
			err := d.run(ctx, page, proc, sink)
			if err != nil {
				err = fmt.Errorf("%s: %w", category, err)
				mu.Lock()
				failed[category] = err
				mu.Unlock()
				d.logger.Warn("category failed", zap.String("category", string(category)), zap.Error(err))
			}
			if observer != nil {
				observer.CategoryDone(category, err)
			}
			return err
		})
	}
	_ = g.Wait()
	return failed
}

func (d *Dispatcher) run(ctx context.Context, page *processor.Page, proc processor.Processor, sink processor.Sink) error {
	category := proc.Category()
	switch p := proc.(type) {
	case processor.Gatherer:
		tasks, finish := p.Gather(page)
		if err := d.fanOut(ctx, category, tasks, sink); err != nil {
			return err
		}
		return d.pool.Do(ctx, func(ctx context.Context) error {
			return finish(ctx, sink)
		})
	case processor.FanOut:
		return d.fanOut(ctx, category, p.Tasks(page), sink)
	default:
		return d.pool.Do(ctx, func(ctx context.Context) error {
			return proc.Process(ctx, page, sink)
		})
	}
}

func (d *Dispatcher) fanOut(ctx context.Context, category scraper.Category, tasks []processor.Task, sink processor.Sink) error {
	group := d.pool.Group(ctx)
	for _, task := range tasks {
		group.Go(func(ctx context.Context) error {
			if err := task(ctx, sink); err != nil {
				processor.LogElementFailure(d.logger, category, err)
			}
			return nil
		})
	}
	return group.Wait()
}
