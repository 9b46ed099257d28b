// Package config loads and validates service configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
	"go.uber.org/zap/zapcore"

	"github.com/JakeFAU/realtime-news-extractor/internal/sources"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Crawler  CrawlerConfig  `mapstructure:"crawler"`
	HTTP     HTTPConfig     `mapstructure:"http"`
	Headless HeadlessConfig `mapstructure:"headless"`
	Cache    CacheConfig    `mapstructure:"cache"`
	Database DatabaseConfig `mapstructure:"database"`
	PubSub   PubSubConfig   `mapstructure:"pubsub"`
	Storage  StorageConfig  `mapstructure:"storage"`
	LLM      LLMConfig      `mapstructure:"llm"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// ServerConfig controls the operational HTTP server.
type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// CrawlerConfig governs scheduling, the worker pool and per-job behavior.
type CrawlerConfig struct {
	Workers        int           `mapstructure:"workers"`
	QueueDepth     int           `mapstructure:"queue_depth"`
	Interval       time.Duration `mapstructure:"interval"`
	MaxArticles    int           `mapstructure:"max_articles"`
	ArticleDelay   time.Duration `mapstructure:"article_delay"`
	DomainInterval time.Duration `mapstructure:"domain_interval"`
	JobMaxAttempts int           `mapstructure:"job_max_attempts"`
	JobBackoffBase time.Duration `mapstructure:"job_backoff_base"`
	Sources        []string      `mapstructure:"sources"`
}

// HTTPConfig configures the plain HTTP fetcher and its retry loop.
type HTTPConfig struct {
	Timeout       time.Duration `mapstructure:"timeout"`
	MaxRedirects  int           `mapstructure:"max_redirects"`
	MaxAttempts   int           `mapstructure:"max_attempts"`
	BackoffStep   time.Duration `mapstructure:"backoff_step"`
	InsecureHosts []string      `mapstructure:"insecure_hosts"`
	UserAgent     string        `mapstructure:"user_agent"`
}

// HeadlessConfig configures the shared browser.
type HeadlessConfig struct {
	Enabled           bool          `mapstructure:"enabled"`
	MaxParallel       int           `mapstructure:"max_parallel"`
	NavigationTimeout time.Duration `mapstructure:"navigation_timeout"`
	IdleTimeout       time.Duration `mapstructure:"idle_timeout"`
	SelectorTimeout   time.Duration `mapstructure:"selector_timeout"`
	WaitSelector      string        `mapstructure:"wait_selector"`
	ViewportWidth     int64         `mapstructure:"viewport_width"`
	ViewportHeight    int64         `mapstructure:"viewport_height"`
	PromotionMinText  int           `mapstructure:"promotion_min_text"`
}

// CacheConfig selects the template cache backend.
type CacheConfig struct {
	Backend       string        `mapstructure:"backend"`
	RedisAddr     string        `mapstructure:"redis_addr"`
	RedisPassword string        `mapstructure:"redis_password"`
	RedisDB       int           `mapstructure:"redis_db"`
	TemplateTTL   time.Duration `mapstructure:"template_ttl"`
}

// DatabaseConfig controls access to Postgres. An empty DSN keeps templates
// and news in memory.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
	TemplateTable   string        `mapstructure:"template_table"`
	NewsTable       string        `mapstructure:"news_table"`
	AutoMigrate     bool          `mapstructure:"auto_migrate"`
}

// PubSubConfig holds the destination of NewsCreated events. An empty project
// keeps events in memory.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	Topic     string `mapstructure:"topic"`
}

// StorageConfig selects where raw article HTML is archived.
type StorageConfig struct {
	Backend     string `mapstructure:"backend"`
	Bucket      string `mapstructure:"bucket"`
	Dir         string `mapstructure:"dir"`
	Prefix      string `mapstructure:"prefix"`
	ContentType string `mapstructure:"content_type"`
}

// LLMConfig configures the chat model used for templates, extraction and tickers.
type LLMConfig struct {
	Enabled          bool          `mapstructure:"enabled"`
	APIKey           string        `mapstructure:"api_key"`
	BaseURL          string        `mapstructure:"base_url"`
	Model            string        `mapstructure:"model"`
	Timeout          time.Duration `mapstructure:"timeout"`
	MaxTokens        int           `mapstructure:"max_tokens"`
	MaxHTMLChars     int           `mapstructure:"max_html_chars"`
	ExtractHTMLChars int           `mapstructure:"extract_html_chars"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("CRAWLER")
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
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.shutdown_timeout", "15s")

	v.SetDefault("crawler.workers", 4)
	v.SetDefault("crawler.queue_depth", 64)
	v.SetDefault("crawler.interval", "5m")
	v.SetDefault("crawler.max_articles", 10)
	v.SetDefault("crawler.article_delay", "1s")
	v.SetDefault("crawler.domain_interval", "1s")
	v.SetDefault("crawler.job_max_attempts", 3)
	v.SetDefault("crawler.job_backoff_base", "30s")
	v.SetDefault("crawler.sources", []string{})

	v.SetDefault("http.timeout", "30s")
	v.SetDefault("http.max_redirects", 5)
	v.SetDefault("http.max_attempts", 3)
	v.SetDefault("http.backoff_step", "2s")
	v.SetDefault("http.insecure_hosts", []string{})

	v.SetDefault("headless.enabled", false)
	v.SetDefault("headless.max_parallel", 2)
	v.SetDefault("headless.navigation_timeout", "60s")
	v.SetDefault("headless.idle_timeout", "10s")
	v.SetDefault("headless.selector_timeout", "5s")
	v.SetDefault("headless.viewport_width", 1920)
	v.SetDefault("headless.viewport_height", 1080)
	v.SetDefault("headless.promotion_min_text", 500)

	v.SetDefault("cache.backend", "memory")
	v.SetDefault("cache.redis_db", 0)
	v.SetDefault("cache.template_ttl", "168h")

	v.SetDefault("database.max_conns", 8)
	v.SetDefault("database.template_table", "extraction_templates")
	v.SetDefault("database.news_table", "news")
	v.SetDefault("database.auto_migrate", true)

	v.SetDefault("pubsub.topic", "news-created")

	v.SetDefault("storage.backend", "memory")
	v.SetDefault("storage.prefix", "raw")
	v.SetDefault("storage.content_type", "text/html; charset=utf-8")

	v.SetDefault("llm.enabled", false)
	v.SetDefault("llm.model", "gpt-4o-mini")
	v.SetDefault("llm.timeout", "60s")
	v.SetDefault("llm.max_tokens", 2048)
	v.SetDefault("llm.max_html_chars", 10000)
	v.SetDefault("llm.extract_html_chars", 15000)

	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "info")

	// Registered so AutomaticEnv can populate them during Unmarshal.
	for _, key := range []string{
		"http.user_agent", "headless.wait_selector",
		"cache.redis_addr", "cache.redis_password",
		"database.dsn",
		"pubsub.project_id", "storage.bucket", "storage.dir",
		"llm.api_key", "llm.base_url",
	} {
		v.SetDefault(key, "")
	}
	v.SetDefault("database.min_conns", 0)
	v.SetDefault("database.max_conn_lifetime", "0s")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Crawler.Workers <= 0 {
		return fmt.Errorf("crawler.workers must be > 0")
	}
	if c.Crawler.QueueDepth <= 0 {
		return fmt.Errorf("crawler.queue_depth must be > 0")
	}
	if c.Crawler.Interval <= 0 {
		return fmt.Errorf("crawler.interval must be > 0")
	}
	for _, name := range c.Crawler.Sources {
		if _, ok := sources.Parse(name); !ok {
			return fmt.Errorf("crawler.sources: unknown source %q", name)
		}
	}
	if c.HTTP.Timeout <= 0 {
		return fmt.Errorf("http.timeout must be > 0")
	}
	if c.Headless.Enabled && c.Headless.MaxParallel <= 0 {
		return fmt.Errorf("headless.max_parallel must be > 0 when headless is enabled")
	}
	switch c.Cache.Backend {
	case "memory":
	case "redis":
		if c.Cache.RedisAddr == "" {
			return fmt.Errorf("cache.redis_addr must be set for the redis backend")
		}
	default:
		return fmt.Errorf("cache.backend must be memory or redis, got %q", c.Cache.Backend)
	}
	switch c.Storage.Backend {
	case "memory", "none":
	case "gcs":
		if c.Storage.Bucket == "" {
			return fmt.Errorf("storage.bucket must be set for the gcs backend")
		}
	case "local":
		if c.Storage.Dir == "" {
			return fmt.Errorf("storage.dir must be set for the local backend")
		}
	default:
		return fmt.Errorf("storage.backend must be memory, local, gcs or none, got %q", c.Storage.Backend)
	}
	if c.PubSub.ProjectID != "" && c.PubSub.Topic == "" {
		return fmt.Errorf("pubsub.topic must be set when pubsub.project_id is set")
	}
	if c.LLM.Enabled && (c.LLM.APIKey == "" || c.LLM.Model == "") {
		return fmt.Errorf("llm.api_key and llm.model must be set when llm is enabled")
	}
	if _, err := zapcore.ParseLevel(c.Logging.Level); err != nil {
		return fmt.Errorf("logging.level: %w", err)
	}
	return nil
}

// EnabledSources resolves the configured source list; empty means all.
func (c Config) EnabledSources() []sources.Profile {
	return sources.Enabled(c.Crawler.Sources)
}
