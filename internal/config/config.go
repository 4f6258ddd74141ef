// Package config loads and validates scraper configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/JakeFAU/webscraper/internal/scraper"
)

// Config captures all configuration knobs loaded via Viper.
type Config struct {
	Scraper  ScraperConfig  `mapstructure:"scraper"`
	HTTP     HTTPConfig     `mapstructure:"http"`
	Headless HeadlessConfig `mapstructure:"headless"`
	Progress ProgressConfig `mapstructure:"progress"`
	Storage  StorageConfig  `mapstructure:"storage"`
	DB       DBConfig       `mapstructure:"db"`
	PubSub   PubSubConfig   `mapstructure:"pubsub"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// ScraperConfig governs the engine and request defaults.
type ScraperConfig struct {
	Concurrency          int      `mapstructure:"concurrency"`
	DefaultDepth         int      `mapstructure:"default_depth"`
	UserAgent            string   `mapstructure:"user_agent"`
	Categories           []string `mapstructure:"categories"`
	Render               string   `mapstructure:"render"`
	WorkDir              string   `mapstructure:"work_dir"`
	ScrapeTimeoutSeconds int      `mapstructure:"scrape_timeout_seconds"`
}

// HTTPConfig configures the fetch client.
type HTTPConfig struct {
	TimeoutSeconds   int             `mapstructure:"timeout_seconds"`
	MaxAttempts      int             `mapstructure:"max_attempts"`
	BackoffInitialMs int             `mapstructure:"backoff_initial_ms"`
	BackoffMaxMs     int             `mapstructure:"backoff_max_ms"`
	PoolSize         int             `mapstructure:"pool_size"`
	MaxBodyBytes     int             `mapstructure:"max_body_bytes"`
	RespectRobots    bool            `mapstructure:"respect_robots"`
	RateLimit        RateLimitConfig `mapstructure:"rate_limit"`
}

// RateLimitConfig is the per-host token bucket. Zero disables it.
type RateLimitConfig struct {
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
	Burst             int     `mapstructure:"burst"`
}

// HeadlessConfig configures the headless rendering subsystem.
type HeadlessConfig struct {
	Enabled         bool `mapstructure:"enabled"`
	MaxParallel     int  `mapstructure:"max_parallel"`
	NavTimeoutSec   int  `mapstructure:"nav_timeout_seconds"`
	SettleDelayMs   int  `mapstructure:"settle_delay_ms"`
	PromotionThresh int  `mapstructure:"promotion_threshold"`
}

// ProgressConfig configures the progress hub and its sinks.
type ProgressConfig struct {
	Enabled           bool        `mapstructure:"enabled"`
	LogEnabled        bool        `mapstructure:"log_enabled"`
	PrometheusEnabled bool        `mapstructure:"prometheus_enabled"`
	ChannelBuffer     int         `mapstructure:"channel_buffer"`
	BufferSize        int         `mapstructure:"buffer_size"`
	SinkTimeoutMs     int         `mapstructure:"sink_timeout_ms"`
	Batch             BatchConfig `mapstructure:"batch"`
}

// BatchConfig bounds hub flushes.
type BatchConfig struct {
	MaxEvents int `mapstructure:"max_events"`
	MaxWaitMs int `mapstructure:"max_wait_ms"`
}

// StorageConfig enables remote export of the workspace.
type StorageConfig struct {
	GCSEnabled  bool   `mapstructure:"gcs_enabled"`
	GCSEndpoint string `mapstructure:"gcs_endpoint"`
}

// DBConfig controls access to the scrape record table.
type DBConfig struct {
	DSN                    string `mapstructure:"dsn"`
	Table                  string `mapstructure:"table"`
	MaxConns               int32  `mapstructure:"max_conns"`
	MinConns               int32  `mapstructure:"min_conns"`
	MaxConnLifetimeMinutes int    `mapstructure:"max_conn_lifetime_minutes"`
}

// PubSubConfig holds the completion notification target.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("SCRAPER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("scraper.concurrency", 10)
	v.SetDefault("scraper.default_depth", 1)
	v.SetDefault("scraper.user_agent", "Mozilla/5.0 (compatible; webscraper/0.1)")
	v.SetDefault("scraper.categories", []string{"text", "images", "metadata"})
	v.SetDefault("scraper.render", "")
	v.SetDefault("scraper.scrape_timeout_seconds", 120)
	v.SetDefault("http.timeout_seconds", 10)
	v.SetDefault("http.max_attempts", 3)
	v.SetDefault("http.backoff_initial_ms", 250)
	v.SetDefault("http.backoff_max_ms", 2000)
	v.SetDefault("http.pool_size", 100)
	v.SetDefault("http.max_body_bytes", 50<<20)
	v.SetDefault("http.respect_robots", false)
	v.SetDefault("http.rate_limit.requests_per_second", 0)
	v.SetDefault("http.rate_limit.burst", 1)
	v.SetDefault("headless.enabled", false)
	v.SetDefault("headless.max_parallel", 1)
	v.SetDefault("headless.nav_timeout_seconds", 25)
	v.SetDefault("headless.settle_delay_ms", 500)
	v.SetDefault("headless.promotion_threshold", 60)
	v.SetDefault("progress.enabled", true)
	v.SetDefault("progress.log_enabled", true)
	v.SetDefault("progress.prometheus_enabled", true)
	v.SetDefault("progress.channel_buffer", 0)
	v.SetDefault("progress.buffer_size", 4096)
	v.SetDefault("progress.sink_timeout_ms", 5000)
	v.SetDefault("progress.batch.max_events", 256)
	v.SetDefault("progress.batch.max_wait_ms", 250)
	v.SetDefault("db.table", "scrapes")
	v.SetDefault("db.max_conns", 4)
	v.SetDefault("db.max_conn_lifetime_minutes", 30)
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Scraper.Concurrency <= 0 {
		return fmt.Errorf("scraper.concurrency must be > 0")
	}
	if c.Scraper.DefaultDepth < 1 {
		return fmt.Errorf("scraper.default_depth must be >= 1")
	}
	categories, err := scraper.ParseCategories(c.Scraper.Categories)
	if err != nil {
		return fmt.Errorf("scraper.categories: %w", err)
	}
	if categories.Empty() {
		return fmt.Errorf("scraper.categories must enable at least one category")
	}
	if _, err := parseRender(c.Scraper.Render); err != nil {
		return err
	}
	if c.HTTP.TimeoutSeconds <= 0 {
		return fmt.Errorf("http.timeout_seconds must be > 0")
	}
	if c.HTTP.MaxAttempts <= 0 {
		return fmt.Errorf("http.max_attempts must be > 0")
	}
	if c.HTTP.RateLimit.RequestsPerSecond < 0 {
		return fmt.Errorf("http.rate_limit.requests_per_second must be >= 0")
	}
	if c.Headless.Enabled && c.Headless.MaxParallel <= 0 {
		return fmt.Errorf("headless.max_parallel must be > 0 when headless is enabled")
	}
	if (c.PubSub.ProjectID == "") != (c.PubSub.TopicName == "") {
		return fmt.Errorf("pubsub.project_id and pubsub.topic_name must be set together")
	}
	return nil
}

// Request builds a ScrapeRequest for address from the configured defaults.
func (c Config) Request(address string) (scraper.ScrapeRequest, error) {
	categories, err := scraper.ParseCategories(c.Scraper.Categories)
	if err != nil {
		return scraper.ScrapeRequest{}, fmt.Errorf("scraper.categories: %w", err)
	}
	render, err := parseRender(c.Scraper.Render)
	if err != nil {
		return scraper.ScrapeRequest{}, err
	}
	return scraper.ScrapeRequest{
		URL:        address,
		Categories: categories,
		Depth:      c.Scraper.DefaultDepth,
		Render:     render,
	}, nil
}

// ScrapeTimeout converts the per-scrape budget to a duration.
func (c Config) ScrapeTimeout() time.Duration {
	return time.Duration(c.Scraper.ScrapeTimeoutSeconds) * time.Second
}

// FetchTimeout is the per-attempt HTTP budget.
func (c Config) FetchTimeout() time.Duration {
	return time.Duration(c.HTTP.TimeoutSeconds) * time.Second
}

func parseRender(value string) (scraper.RenderMode, error) {
	mode := scraper.RenderMode(strings.ToLower(strings.TrimSpace(value)))
	switch mode {
	case scraper.RenderNever, scraper.RenderAuto, scraper.RenderAlways:
		return mode, nil
	case "never":
		return scraper.RenderNever, nil
	default:
		return "", fmt.Errorf("scraper.render must be one of never, auto, always; got %q", value)
	}
}
