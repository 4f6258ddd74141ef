package sinks

import (
	"context"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/JakeFAU/webscraper/internal/progress"
)

// PrometheusSink turns progress events into scrape and asset metrics.
type PrometheusSink struct {
	scrapesStarted   prometheus.Counter
	scrapesCompleted *prometheus.CounterVec
	scrapesRunning   prometheus.Gauge
	scrapeRuntime    *prometheus.HistogramVec

	assets     *prometheus.CounterVec
	assetBytes *prometheus.CounterVec
	categories *prometheus.CounterVec

	running *runningSet
}

// NewPrometheusSink registers the collectors against reg.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		scrapesStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "webscraper_progress_scrapes_started_total",
			Help: "Scrapes that have started.",
		}),
		scrapesCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "webscraper_progress_scrapes_completed_total",
			Help: "Scrapes completed partitioned by result.",
		}, []string{"result"}),
		scrapesRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "webscraper_progress_scrapes_running",
			Help: "Scrapes currently in flight.",
		}),
		scrapeRuntime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "webscraper_progress_scrape_runtime_seconds",
			Help:    "Wall time per completed scrape.",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
		}, []string{"result"}),
		assets: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "webscraper_progress_assets_total",
			Help: "Completed elements per category.",
		}, []string{"category"}),
		assetBytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "webscraper_progress_asset_bytes_total",
			Help: "Bytes downloaded per category.",
		}, []string{"category"}),
		categories: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "webscraper_progress_categories_completed_total",
			Help: "Category jobs completed partitioned by result.",
		}, []string{"category", "result"}),
		running: &runningSet{ids: make(map[[16]byte]struct{})},
	}
	for _, collector := range []prometheus.Collector{
		s.scrapesStarted,
		s.scrapesCompleted,
		s.scrapesRunning,
		s.scrapeRuntime,
		s.assets,
		s.assetBytes,
		s.categories,
	} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register progress collector: %w", err)
		}
	}
	return s, nil
}

// Consume implements progress.Sink.
func (s *PrometheusSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		switch evt.Stage {
		case progress.StageScrapeStart:
			s.scrapesStarted.Inc()
			if s.running.add(evt.ScrapeID) {
				s.scrapesRunning.Inc()
			}
		case progress.StageScrapeDone:
			s.finish(evt, "success")
		case progress.StageScrapeError:
			s.finish(evt, "error")
		case progress.StageAssetDone:
			s.assets.WithLabelValues(evt.Category).Inc()
			if evt.Bytes > 0 {
				s.assetBytes.WithLabelValues(evt.Category).Add(float64(evt.Bytes))
			}
		case progress.StageCategoryDone:
			result := "success"
			if evt.Note != "" {
				result = "error"
			}
			s.categories.WithLabelValues(evt.Category, result).Inc()
		}
	}
	return nil
}

func (s *PrometheusSink) finish(evt progress.Event, result string) {
	s.scrapesCompleted.WithLabelValues(result).Inc()
	if evt.Dur > 0 {
		s.scrapeRuntime.WithLabelValues(result).Observe(evt.Dur.Seconds())
	}
	if s.running.remove(evt.ScrapeID) {
		s.scrapesRunning.Dec()
	}
}

// Close implements progress.Sink.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}

type runningSet struct {
	mu  sync.Mutex
	ids map[[16]byte]struct{}
}

func (r *runningSet) add(id [16]byte) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.ids[id]; ok {
		return false
	}
	r.ids[id] = struct{}{}
	return true
}

func (r *runningSet) remove(id [16]byte) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.ids[id]; !ok {
		return false
	}
	delete(r.ids, id)
	return true
}
