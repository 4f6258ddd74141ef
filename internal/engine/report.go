package engine

import (
	"context"

	"go.uber.org/zap"

	"github.com/JakeFAU/webscraper/internal/scraper"
)

// Record converts an outcome to its stored and published form.
func (o Outcome) Record() scraper.ScrapeRecord {
	rec := scraper.ScrapeRecord{
		ID:           o.ID.String(),
		URL:          o.URL,
		State:        o.State,
		ManifestPath: o.Paths.Manifest,
		StartedAt:    o.StartedAt,
		FinishedAt:   o.FinishedAt,
	}
	if o.Err != nil {
		rec.Error = o.Err.Error()
	}
	if o.Result != nil {
		rec.Counts = o.Result.Counts()
	}
	return rec
}

// report stores and publishes a terminal outcome. Failures are logged only;
// they never change the outcome.
func (e *Engine) report(ctx context.Context, out Outcome) {
	if e.deps.Records == nil && e.deps.Publisher == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.cfg.ReportTimeout)
	defer cancel()

	rec := out.Record()
	logger := e.logger.With(zap.String("scrape_id", rec.ID))
	if e.deps.Records != nil {
		if err := e.deps.Records.RecordScrape(ctx, rec); err != nil {
			logger.Warn("record scrape failed", zap.Error(err))
		}
	}
	if e.deps.Publisher != nil {
		if _, err := e.deps.Publisher.Publish(ctx, e.cfg.Topic, rec); err != nil {
			logger.Warn("publish scrape failed", zap.Error(err))
		}
	}
}
