// Package app is the composition root: it builds the engine and its optional
// collaborators from configuration and tears them down in order.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/storage"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"google.golang.org/api/option"

	"github.com/JakeFAU/webscraper/internal/config"
	"github.com/JakeFAU/webscraper/internal/engine"
	collyfetcher "github.com/JakeFAU/webscraper/internal/fetcher/colly"
	"github.com/JakeFAU/webscraper/internal/fetcher/detector"
	"github.com/JakeFAU/webscraper/internal/fetcher/headless"
	"github.com/JakeFAU/webscraper/internal/fetcher/ratelimit"
	"github.com/JakeFAU/webscraper/internal/logging"
	"github.com/JakeFAU/webscraper/internal/metrics"
	"github.com/JakeFAU/webscraper/internal/progress"
	progresssinks "github.com/JakeFAU/webscraper/internal/progress/sinks"
	memorypublisher "github.com/JakeFAU/webscraper/internal/publisher/memory"
	gcppublisher "github.com/JakeFAU/webscraper/internal/publisher/pubsub"
	"github.com/JakeFAU/webscraper/internal/scraper"
	gcsstorage "github.com/JakeFAU/webscraper/internal/storage/gcs"
	"github.com/JakeFAU/webscraper/internal/storage/local"
	pgstore "github.com/JakeFAU/webscraper/internal/storage/postgres"
)

// Option customises Build, mostly for tests and embedding.
type Option func(*options)

type options struct {
	logger        *zap.Logger
	registerer    prometheus.Registerer
	storageOpts   []option.ClientOption
	pubsubOpts    []option.ClientOption
	recordStore   scraper.RecordStore
}

// WithLogger replaces the logger built from config.
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithRegisterer registers the progress collectors on reg instead of the
// default registry.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(o *options) { o.registerer = reg }
}

// WithStorageOptions passes client options to the GCS client.
func WithStorageOptions(opts ...option.ClientOption) Option {
	return func(o *options) { o.storageOpts = append(o.storageOpts, opts...) }
}

// WithPubSubOptions passes client options to the Pub/Sub client.
func WithPubSubOptions(opts ...option.ClientOption) Option {
	return func(o *options) { o.pubsubOpts = append(o.pubsubOpts, opts...) }
}

// WithRecordStore uses store instead of connecting to db.dsn.
func WithRecordStore(store scraper.RecordStore) Option {
	return func(o *options) { o.recordStore = store }
}

// App owns the engine and everything it depends on.
type App struct {
	cfg       config.Config
	logger    *zap.Logger
	engine    *engine.Engine
	fetcher   *collyfetcher.Fetcher
	renderer  *headless.Renderer
	hub       *progress.Hub
	events    *progresssinks.ChannelSink
	gcs       *storage.Client
	records   *pgstore.ScrapeStore
	pubsub    *gcppublisher.Publisher
	publisher scraper.Publisher
}

// Build creates the application's dependencies. On error everything built
// so far is released.
func Build(ctx context.Context, cfg config.Config, opts ...Option) (_ *App, err error) {
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	logger := o.logger
	if logger == nil {
		logger, err = logging.New(cfg.Logging.Development)
		if err != nil {
			return nil, fmt.Errorf("logger init failed: %w", err)
		}
	}
	metrics.Init()

	a := &App{cfg: cfg, logger: logger}
	defer func() {
		if err != nil {
			_ = a.closeInfrastructure(context.WithoutCancel(ctx))
		}
	}()

	a.logger.Info("building application dependencies",
		zap.Int("pool_size", cfg.Scraper.Concurrency),
		zap.Strings("categories", cfg.Scraper.Categories),
	)
	a.setupFetchers()
	if err = a.setupStorage(ctx, o.storageOpts); err != nil {
		return nil, err
	}
	records, err := a.setupDatabase(ctx, o.recordStore)
	if err != nil {
		return nil, err
	}
	if err = a.setupPublisher(ctx, o.pubsubOpts); err != nil {
		return nil, err
	}
	emitter, err := a.setupProgress(o.registerer)
	if err != nil {
		return nil, err
	}
	if err = a.setupEngine(records, emitter); err != nil {
		return nil, err
	}
	return a, nil
}

// Engine returns the scrape engine.
func (a *App) Engine() *engine.Engine {
	return a.engine
}

// Events streams progress events when progress.channel_buffer is positive;
// otherwise it returns nil.
func (a *App) Events() <-chan progress.Event {
	if a.events == nil {
		return nil
	}
	return a.events.Events()
}

// Publisher returns the completion publisher in use.
func (a *App) Publisher() scraper.Publisher {
	return a.publisher
}

// Scrape runs one scrape of address with the configured request defaults.
func (a *App) Scrape(ctx context.Context, address string) (engine.Outcome, error) {
	req, err := a.cfg.Request(address)
	if err != nil {
		return engine.Outcome{URL: address, State: scraper.StateFailed, Err: err}, err
	}
	return a.engine.Scrape(ctx, req)
}

// Close drains the engine, then flushes progress, then releases clients.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	if a.engine != nil {
		if err := a.engine.Close(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if err := a.closeInfrastructure(ctx); err != nil {
		errs = append(errs, err)
	}
	a.logger.Info("shutdown complete")
	if err := logging.Sync(a.logger); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (a *App) closeInfrastructure(ctx context.Context) error {
	var errs []error
	if a.hub != nil {
		if err := a.hub.Close(ctx); err != nil {
			a.logger.Warn("progress hub close failed", zap.Error(err))
			errs = append(errs, err)
		}
	}
	if a.pubsub != nil {
		if err := a.pubsub.Close(); err != nil {
			a.logger.Warn("pubsub publisher close failed", zap.Error(err))
			errs = append(errs, err)
		}
	}
	if a.gcs != nil {
		if err := a.gcs.Close(); err != nil {
			a.logger.Warn("gcs client close failed", zap.Error(err))
			errs = append(errs, fmt.Errorf("close gcs client: %w", err))
		}
	}
	if a.records != nil {
		a.records.Close()
	}
	if a.renderer != nil {
		a.renderer.Close()
	}
	if a.fetcher != nil {
		a.fetcher.Close()
	}
	return errors.Join(errs...)
}

func (a *App) setupFetchers() {
	cfg := a.cfg
	limiter := ratelimit.New(ratelimit.Config{
		RequestsPerSecond: cfg.HTTP.RateLimit.RequestsPerSecond,
		Burst:             cfg.HTTP.RateLimit.Burst,
	})
	a.fetcher = collyfetcher.New(collyfetcher.Config{
		UserAgent:      cfg.Scraper.UserAgent,
		RespectRobots:  cfg.HTTP.RespectRobots,
		Timeout:        cfg.FetchTimeout(),
		PoolSize:       cfg.HTTP.PoolSize,
		MaxBodyBytes:   cfg.HTTP.MaxBodyBytes,
		MaxAttempts:    cfg.HTTP.MaxAttempts,
		BackoffInitial: time.Duration(cfg.HTTP.BackoffInitialMs) * time.Millisecond,
		BackoffMax:     time.Duration(cfg.HTTP.BackoffMaxMs) * time.Millisecond,
	}, limiter, a.logger.Named("fetcher"))
	a.logger.Info("using colly fetcher",
		zap.String("user_agent", cfg.Scraper.UserAgent),
		zap.Float64("requests_per_second", cfg.HTTP.RateLimit.RequestsPerSecond),
	)

	if !cfg.Headless.Enabled {
		return
	}
	renderer, err := headless.New(headless.Config{
		MaxParallel:       cfg.Headless.MaxParallel,
		UserAgent:         cfg.Scraper.UserAgent,
		NavigationTimeout: time.Duration(cfg.Headless.NavTimeoutSec) * time.Second,
		SettleDelay:       time.Duration(cfg.Headless.SettleDelayMs) * time.Millisecond,
	})
	if err != nil {
		a.logger.Warn("headless renderer init failed; rendering disabled", zap.Error(err))
		return
	}
	a.renderer = renderer
	a.logger.Info("using headless renderer", zap.Int("max_parallel", cfg.Headless.MaxParallel))
}

func (a *App) setupStorage(ctx context.Context, opts []option.ClientOption) error {
	if !a.cfg.Storage.GCSEnabled {
		a.logger.Debug("gcs export disabled")
		return nil
	}
	if a.cfg.Storage.GCSEndpoint != "" {
		opts = append(opts, option.WithEndpoint(a.cfg.Storage.GCSEndpoint))
	}
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return fmt.Errorf("gcs client init failed: %w", err)
	}
	a.gcs = client
	a.logger.Info("gcs export enabled")
	return nil
}

func (a *App) setupDatabase(ctx context.Context, override scraper.RecordStore) (scraper.RecordStore, error) {
	if override != nil {
		return override, nil
	}
	if a.cfg.DB.DSN == "" {
		a.logger.Warn("no DSN specified for database, scrape records are not stored")
		return nil, nil
	}
	store, err := pgstore.NewScrapeStore(ctx, pgstore.Config{
		DSN:             a.cfg.DB.DSN,
		Table:           a.cfg.DB.Table,
		MaxConns:        a.cfg.DB.MaxConns,
		MinConns:        a.cfg.DB.MinConns,
		MaxConnLifetime: time.Duration(a.cfg.DB.MaxConnLifetimeMinutes) * time.Minute,
	})
	if err != nil {
		return nil, fmt.Errorf("scrape store init failed: %w", err)
	}
	a.records = store
	a.logger.Info("scrape store initialized", zap.String("table", a.cfg.DB.Table))
	return store, nil
}

func (a *App) setupPublisher(ctx context.Context, opts []option.ClientOption) error {
	if a.cfg.PubSub.TopicName == "" || a.cfg.PubSub.ProjectID == "" {
		a.logger.Warn("no Pub/Sub topic configured, using in-memory publisher")
		a.publisher = memorypublisher.New()
		return nil
	}
	pub, err := gcppublisher.Dial(ctx, a.cfg.PubSub.ProjectID, a.cfg.PubSub.TopicName, opts...)
	if err != nil {
		return fmt.Errorf("pubsub publisher init failed: %w", err)
	}
	a.pubsub = pub
	a.publisher = pub
	a.logger.Info("Pub/Sub publisher initialized",
		zap.String("project", a.cfg.PubSub.ProjectID),
		zap.String("topic", a.cfg.PubSub.TopicName),
	)
	return nil
}

func (a *App) setupProgress(reg prometheus.Registerer) (progress.Emitter, error) {
	cfg := a.cfg.Progress
	if !cfg.Enabled {
		a.logger.Info("progress tracking disabled")
		return nil, nil
	}
	var sinkList []progress.Sink
	if cfg.LogEnabled {
		sinkList = append(sinkList, progresssinks.NewLogSink(a.logger.Named("progress_log")))
	}
	if cfg.PrometheusEnabled {
		if reg == nil {
			reg = prometheus.DefaultRegisterer
		}
		promSink, err := progresssinks.NewPrometheusSink(reg)
		if err != nil {
			return nil, fmt.Errorf("progress prometheus sink init failed: %w", err)
		}
		sinkList = append(sinkList, promSink)
	}
	if cfg.ChannelBuffer > 0 {
		a.events = progresssinks.NewChannelSink(cfg.ChannelBuffer)
		sinkList = append(sinkList, a.events)
	}
	if len(sinkList) == 0 {
		a.logger.Warn("progress tracking enabled but no sinks configured")
		return nil, nil
	}
	hubCfg := progress.Config{
		BufferSize:     cfg.BufferSize,
		MaxBatchEvents: cfg.Batch.MaxEvents,
		FlushInterval:  time.Duration(cfg.Batch.MaxWaitMs) * time.Millisecond,
		SinkTimeout:    time.Duration(cfg.SinkTimeoutMs) * time.Millisecond,
		Logger:         a.logger.Named("progress_hub"),
	}
	a.hub = progress.NewHub(hubCfg, sinkList...)
	a.logger.Info("progress hub initialized",
		zap.Int("sinks", len(sinkList)),
		zap.Int("buffer_size", hubCfg.BufferSize),
		zap.Duration("flush_interval", hubCfg.FlushInterval),
	)
	return a.hub, nil
}

func (a *App) setupEngine(records scraper.RecordStore, emitter progress.Emitter) error {
	deps := engine.Dependencies{
		Fetcher:   a.fetcher,
		Records:   records,
		Publisher: a.publisher,
		Progress:  emitter,
		Logger:    a.logger.Named("engine"),
	}
	if a.renderer != nil {
		deps.Renderer = a.renderer
		deps.Detector = detector.NewHeuristic(a.cfg.Headless.PromotionThresh)
	}
	if a.gcs != nil {
		exporter, err := gcsstorage.New(a.gcs, local.ManifestName, a.logger.Named("gcs"))
		if err != nil {
			return fmt.Errorf("gcs exporter init failed: %w", err)
		}
		deps.Exporter = exporter
	}
	var err error
	a.engine, err = engine.New(engine.Config{
		WorkDir:       a.cfg.Scraper.WorkDir,
		PoolSize:      a.cfg.Scraper.Concurrency,
		ScrapeTimeout: a.cfg.ScrapeTimeout(),
		Topic:         a.cfg.PubSub.TopicName,
	}, deps)
	if err != nil {
		return fmt.Errorf("engine init failed: %w", err)
	}
	a.logger.Info("engine ready", zap.String("workspace", a.engine.Workspace().Root()))
	return nil
}
