// Package engine is the entry point for scrapes: it owns the worker pool,
// the asset caches and the session workspace, and drives each scrape from
// fetch to manifest.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/webscraper/internal/cache"
	"github.com/JakeFAU/webscraper/internal/dispatcher"
	"github.com/JakeFAU/webscraper/internal/processor"
	"github.com/JakeFAU/webscraper/internal/progress"
	"github.com/JakeFAU/webscraper/internal/scraper"
	"github.com/JakeFAU/webscraper/internal/storage/local"
)

const defaultReportTimeout = 5 * time.Second

// Config tunes the engine.
type Config struct {
	// WorkDir is the session workspace; empty means a temporary directory
	// removed on Close.
	WorkDir string
	// PoolSize bounds concurrent processor tasks across all scrapes.
	PoolSize int
	// ScrapeTimeout bounds one Scrape call when positive.
	ScrapeTimeout time.Duration
	// Topic receives a completion message per outcome when a Publisher is set.
	Topic string
	// ReportTimeout bounds each record and publish call.
	ReportTimeout time.Duration
}

// Dependencies are the collaborators the engine drives. Only Fetcher is
// required.
type Dependencies struct {
	Fetcher   scraper.Fetcher
	Renderer  scraper.Fetcher
	Detector  scraper.RenderDetector
	Workspace *local.Workspace
	Exporter  scraper.Exporter
	Records   scraper.RecordStore
	Publisher scraper.Publisher
	Progress  progress.Emitter
	Logger    *zap.Logger
	// Now overrides the clock in tests.
	Now func() time.Time
}

// Paths locates the artifacts of a persisted scrape.
type Paths struct {
	Root     string `json:"root"`
	Manifest string `json:"manifest"`
}

// Outcome is the terminal result of one Scrape call.
type Outcome struct {
	ID         uuid.UUID
	URL        string
	State      scraper.State
	History    []scraper.State
	Result     *scraper.ScrapeResult
	Paths      Paths
	Err        error
	StartedAt  time.Time
	FinishedAt time.Time
}

// Engine runs scrapes. It is safe for concurrent use.
type Engine struct {
	cfg        Config
	deps       Dependencies
	logger     *zap.Logger
	now        func() time.Time
	pool       *dispatcher.Pool
	dispatcher *dispatcher.Dispatcher
	assets     *cache.Cache
	videos     *cache.Cache
	workspace  *local.Workspace
	ownsWS     bool
	processors map[scraper.Category]processor.Processor

	mu       sync.RWMutex
	closed   bool
	inFlight sync.WaitGroup
}

// New builds an Engine.
func New(cfg Config, deps Dependencies) (*Engine, error) {
	if deps.Fetcher == nil {
		return nil, errors.New("engine requires a fetcher")
	}
	if cfg.ReportTimeout <= 0 {
		cfg.ReportTimeout = defaultReportTimeout
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if deps.Progress == nil {
		deps.Progress = progress.Discard
	}
	now := deps.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	ws := deps.Workspace
	owns := false
	if ws == nil {
		created, err := local.NewWorkspace(cfg.WorkDir)
		if err != nil {
			return nil, fmt.Errorf("create workspace: %w", err)
		}
		ws, owns = created, true
	}

	pool := dispatcher.NewPool(cfg.PoolSize)
	e := &Engine{
		cfg:        cfg,
		deps:       deps,
		logger:     logger,
		now:        now,
		pool:       pool,
		dispatcher: dispatcher.New(pool, logger.Named("dispatcher")),
		assets:     cache.New(logger.Named("cache")),
		videos:     cache.New(logger.Named("video_cache")),
		workspace:  ws,
		ownsWS:     owns,
	}
	e.processors = map[scraper.Category]processor.Processor{
		scraper.CategoryText:     processor.NewText(ws),
		scraper.CategoryImages:   processor.NewImages(deps.Fetcher, e.assets, ws),
		scraper.CategoryVideos:   processor.NewVideos(),
		scraper.CategoryMetadata: processor.NewMetadata(ws),
		scraper.CategoryLinks:    processor.NewLinks(ws),
		scraper.CategoryTables:   processor.NewTables(ws),
	}
	return e, nil
}

// Workspace exposes the session workspace.
func (e *Engine) Workspace() *local.Workspace {
	return e.workspace
}

// CacheStats reports the image cache counters.
func (e *Engine) CacheStats() cache.Stats {
	return e.assets.Stats()
}

// Reset clears both caches and empties the workspace.
func (e *Engine) Reset() error {
	e.assets.Reset()
	e.videos.Reset()
	if err := e.workspace.Reset(); err != nil {
		return fmt.Errorf("reset workspace: %w", err)
	}
	return nil
}

// Close refuses new work, waits for in-flight scrapes and drains the pool.
func (e *Engine) Close(ctx context.Context) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	e.mu.Unlock()

	done := make(chan struct{})
	go func() {
		e.inFlight.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return fmt.Errorf("wait for scrapes: %w", ctx.Err())
	}
	if err := e.pool.Close(ctx); err != nil {
		return fmt.Errorf("close engine: %w", err)
	}
	if e.ownsWS {
		if err := e.workspace.Close(); err != nil {
			return fmt.Errorf("close engine: %w", err)
		}
	}
	return nil
}

// begin registers an operation, failing once the engine is closed.
func (e *Engine) begin() (func(), error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		return nil, scraper.ErrEngineClosed
	}
	e.inFlight.Add(1)
	return e.inFlight.Done, nil
}
