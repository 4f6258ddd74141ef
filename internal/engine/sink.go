package engine

import (
	"sync"

	"github.com/JakeFAU/webscraper/internal/aggregate"
	"github.com/JakeFAU/webscraper/internal/progress"
	"github.com/JakeFAU/webscraper/internal/scraper"
)

// scrapeSink routes processor output into the aggregator and the progress
// stream of one scrape.
type scrapeSink struct {
	engine *Engine
	run    *run
	agg    *aggregate.Aggregator

	mu     sync.Mutex
	counts map[scraper.Category]int
}

func newScrapeSink(e *Engine, r *run, agg *aggregate.Aggregator) *scrapeSink {
	return &scrapeSink{engine: e, run: r, agg: agg, counts: make(map[scraper.Category]int)}
}

func (s *scrapeSink) Put(section scraper.Section) {
	s.agg.Merge(section)
}

// AssetDone emits while holding mu so each category's counts reach the
// emitter in increasing order. Emit never blocks.
func (s *scrapeSink) AssetDone(category scraper.Category, url string, bytes int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.counts[category]++
	s.engine.emit(s.run, progress.Event{
		Stage:    progress.StageAssetDone,
		Category: string(category),
		Count:    s.counts[category],
		URL:      url,
		Bytes:    bytes,
	})
}

func (s *scrapeSink) CategoryDone(category scraper.Category, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	evt := progress.Event{Stage: progress.StageCategoryDone, Category: string(category), Count: s.counts[category]}
	if err != nil {
		evt.Note = err.Error()
	}
	s.engine.emit(s.run, evt)
}
