package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/webscraper/internal/aggregate"
	"github.com/JakeFAU/webscraper/internal/metrics"
	"github.com/JakeFAU/webscraper/internal/parse"
	"github.com/JakeFAU/webscraper/internal/processor"
	"github.com/JakeFAU/webscraper/internal/progress"
	"github.com/JakeFAU/webscraper/internal/scraper"
)

// run carries the mutable state of one scrape.
type run struct {
	outcome Outcome
	machine *scraper.StateMachine
	logger  *zap.Logger
	eventID [16]byte
}

// Scrape fetches req.URL, extracts every enabled category, and writes the
// manifest. The returned error is non-nil exactly when the outcome is
// Failed; it is one of the scraper error types or ErrInvalidRequest.
func (e *Engine) Scrape(ctx context.Context, req scraper.ScrapeRequest) (Outcome, error) {
	done, err := e.begin()
	if err != nil {
		return Outcome{URL: req.URL, State: scraper.StateFailed, Err: err}, err
	}
	defer done()
	if e.cfg.ScrapeTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.cfg.ScrapeTimeout)
		defer cancel()
	}

	r := e.newRun(req)
	e.emit(r, progress.Event{Stage: progress.StageScrapeStart, URL: req.URL})

	target, err := req.Validate()
	if err != nil {
		return e.fail(ctx, r, err)
	}
	if req.Depth > 1 {
		r.logger.Warn("links are not followed beyond the requested page", zap.Int("depth", req.Depth))
	}

	if err := r.machine.Transition(scraper.StateFetching); err != nil {
		return e.fail(ctx, r, err)
	}
	if err := e.workspace.RemoveManifest(); err != nil {
		return e.fail(ctx, r, err)
	}
	resp, err := e.fetchPage(ctx, r, req, target.String())
	if err != nil {
		return e.fail(ctx, r, err)
	}

	if err := r.machine.Transition(scraper.StateParsing); err != nil {
		return e.fail(ctx, r, err)
	}
	doc, err := parse.Parse(resp.URL, resp.Body)
	if err != nil {
		return e.fail(ctx, r, err)
	}

	if err := r.machine.Transition(scraper.StateDispatching); err != nil {
		return e.fail(ctx, r, err)
	}
	agg := aggregate.New(req.Categories)
	sink := newScrapeSink(e, r, agg)
	page := &processor.Page{
		Document: doc,
		URL:      resp.URL,
		ScrapeID: r.outcome.ID,
		Headers:  req.Headers,
		Logger:   r.logger,
	}
	failed := e.dispatcher.Dispatch(ctx, page, e.enabledProcessors(req.Categories), sink)
	if err := ctx.Err(); err != nil {
		return e.fail(ctx, r, fmt.Errorf("scrape canceled: %w", err))
	}
	if len(failed) > 0 {
		errs := make([]error, 0, len(failed))
		for _, category := range req.Categories.Enabled() {
			if err, ok := failed[category]; ok {
				errs = append(errs, err)
			}
		}
		return e.fail(ctx, r, errors.Join(errs...))
	}

	if err := r.machine.Transition(scraper.StateAggregating); err != nil {
		return e.fail(ctx, r, err)
	}
	result := agg.Result()
	manifest, err := e.workspace.WriteManifest(ctx, result)
	if err != nil {
		return e.fail(ctx, r, err)
	}

	if err := r.machine.Transition(scraper.StatePersisted); err != nil {
		return e.fail(ctx, r, err)
	}
	r.outcome.State = scraper.StatePersisted
	r.outcome.Result = &result
	r.outcome.Paths = Paths{Root: e.workspace.Root(), Manifest: manifest}
	r.outcome.FinishedAt = e.now()
	r.outcome.History = r.machine.History()

	dur := r.outcome.FinishedAt.Sub(r.outcome.StartedAt)
	metrics.ObserveScrape(string(scraper.StatePersisted), dur)
	e.emit(r, progress.Event{Stage: progress.StageScrapeDone, URL: req.URL, Dur: dur})
	r.logger.Info("scrape persisted",
		zap.String("manifest", manifest),
		zap.Any("counts", result.Counts()),
		zap.Duration("dur", dur),
	)
	e.report(ctx, r.outcome)
	return r.outcome, nil
}

func (e *Engine) newRun(req scraper.ScrapeRequest) *run {
	id, err := uuid.NewV7()
	if err != nil {
		id = uuid.New()
	}
	logger := e.logger.With(zap.String("scrape_id", id.String()), zap.String("url", req.URL))
	return &run{
		outcome: Outcome{
			ID:        id,
			URL:       req.URL,
			State:     scraper.StateIdle,
			StartedAt: e.now(),
		},
		machine: scraper.NewStateMachine(func(from, to scraper.State) {
			logger.Debug("state transition", zap.String("from", string(from)), zap.String("to", string(to)))
		}),
		logger:  logger,
		eventID: progress.UUIDToBytes(id),
	}
}

// fetchPage retrieves the top-level page, substituting the renderer when the
// request asks for it or the detector flags an SPA shell.
func (e *Engine) fetchPage(ctx context.Context, r *run, req scraper.ScrapeRequest, target string) (scraper.FetchResponse, error) {
	fetchReq := scraper.FetchRequest{URL: target, Headers: req.Headers}
	renderer := e.deps.Renderer

	if req.Render == scraper.RenderAlways {
		if renderer != nil {
			return renderer.Fetch(ctx, fetchReq)
		}
		r.logger.Warn("rendering requested but no renderer is configured; using plain fetch")
	}

	resp, err := e.deps.Fetcher.Fetch(ctx, fetchReq)
	if err != nil {
		return scraper.FetchResponse{}, err
	}
	if req.Render != scraper.RenderAuto || e.deps.Detector == nil || !e.deps.Detector.ShouldPromote(resp) {
		return resp, nil
	}
	if renderer == nil {
		r.logger.Warn("page looks client-rendered but no renderer is configured")
		return resp, nil
	}
	rendered, err := renderer.Fetch(ctx, fetchReq)
	if err != nil {
		if ctx.Err() != nil {
			return scraper.FetchResponse{}, err
		}
		r.logger.Warn("rendered fetch failed; using plain response", zap.Error(err))
		return resp, nil
	}
	r.logger.Debug("promoted to rendered fetch")
	return rendered, nil
}

func (e *Engine) enabledProcessors(categories scraper.Categories) []processor.Processor {
	enabled := categories.Enabled()
	out := make([]processor.Processor, 0, len(enabled))
	for _, category := range enabled {
		if p, ok := e.processors[category]; ok {
			out = append(out, p)
		}
	}
	return out
}

// fail moves the scrape to Failed and reports it. No manifest is written.
func (e *Engine) fail(ctx context.Context, r *run, err error) (Outcome, error) {
	if transErr := r.machine.Transition(scraper.StateFailed); transErr != nil {
		err = errors.Join(err, transErr)
	}
	r.outcome.State = scraper.StateFailed
	r.outcome.Err = err
	r.outcome.FinishedAt = e.now()
	r.outcome.History = r.machine.History()

	dur := r.outcome.FinishedAt.Sub(r.outcome.StartedAt)
	metrics.ObserveScrape(string(scraper.StateFailed), dur)
	e.emit(r, progress.Event{Stage: progress.StageScrapeError, URL: r.outcome.URL, Dur: dur, Note: err.Error()})
	r.logger.Warn("scrape failed", zap.Error(err))
	e.report(ctx, r.outcome)
	return r.outcome, err
}

func (e *Engine) emit(r *run, evt progress.Event) {
	evt.ScrapeID = r.eventID
	evt.TS = e.now()
	e.deps.Progress.Emit(evt)
}
