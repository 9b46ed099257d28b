package server

import (
	"context"
	"errors"
	"fmt"

	pubsub "cloud.google.com/go/pubsub/v2"
	"cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/JakeFAU/realtime-news-extractor/internal/api"
	memorycache "github.com/JakeFAU/realtime-news-extractor/internal/cache/memory"
	rediscache "github.com/JakeFAU/realtime-news-extractor/internal/cache/redis"
	"github.com/JakeFAU/realtime-news-extractor/internal/clock/system"
	"github.com/JakeFAU/realtime-news-extractor/internal/config"
	"github.com/JakeFAU/realtime-news-extractor/internal/crawler"
	"github.com/JakeFAU/realtime-news-extractor/internal/extraction"
	"github.com/JakeFAU/realtime-news-extractor/internal/fetcher"
	collyfetcher "github.com/JakeFAU/realtime-news-extractor/internal/fetcher/colly"
	headlessfetcher "github.com/JakeFAU/realtime-news-extractor/internal/fetcher/headless"
	"github.com/JakeFAU/realtime-news-extractor/internal/hash/sha256"
	"github.com/JakeFAU/realtime-news-extractor/internal/headless/detector"
	"github.com/JakeFAU/realtime-news-extractor/internal/id/uuid"
	"github.com/JakeFAU/realtime-news-extractor/internal/llm"
	"github.com/JakeFAU/realtime-news-extractor/internal/llm/openai"
	"github.com/JakeFAU/realtime-news-extractor/internal/metrics"
	"github.com/JakeFAU/realtime-news-extractor/internal/policy/ratelimit"
	memorypublisher "github.com/JakeFAU/realtime-news-extractor/internal/publisher/memory"
	gcppublisher "github.com/JakeFAU/realtime-news-extractor/internal/publisher/pubsub"
	gcsstorage "github.com/JakeFAU/realtime-news-extractor/internal/storage/gcs"
	localstorage "github.com/JakeFAU/realtime-news-extractor/internal/storage/local"
	memorystorage "github.com/JakeFAU/realtime-news-extractor/internal/storage/memory"
	pgstore "github.com/JakeFAU/realtime-news-extractor/internal/storage/postgres"
	"github.com/JakeFAU/realtime-news-extractor/internal/strategy"
	"github.com/JakeFAU/realtime-news-extractor/internal/template"
	"github.com/JakeFAU/realtime-news-extractor/internal/ticker"
	"github.com/JakeFAU/realtime-news-extractor/internal/worker"
)

// Pipeline holds everything a worker needs, built once from config and shared
// by every worker in the pool.
type Pipeline struct {
	cfg       config.Config
	logger    *zap.Logger
	deps      worker.Dependencies
	workerCfg worker.Config

	// Templates is the versioned template store behind the template method.
	Templates *template.Store
	// Checks are reported by /readyz.
	Checks []api.ReadinessCheck

	closers []func(context.Context) error
}

// BuildPipeline wires fetching, extraction, persistence and publishing from
// cfg. Anything opened before a failure is closed before returning.
func BuildPipeline(ctx context.Context, cfg config.Config, queue crawler.Queue, logger *zap.Logger) (_ *Pipeline, err error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics.Init()

	p := &Pipeline{cfg: cfg, logger: logger}
	defer func() {
		if err == nil {
			return
		}
		if cerr := p.Close(context.Background()); cerr != nil {
			logger.Warn("pipeline cleanup failed", zap.Error(cerr))
		}
	}()

	clock := system.New()

	client, err := setupLLM(cfg.LLM, logger)
	if err != nil {
		return nil, err
	}

	cache, err := p.setupCache(ctx)
	if err != nil {
		return nil, err
	}

	templates, news, err := p.setupDatabase(ctx)
	if err != nil {
		return nil, err
	}

	p.Templates = template.NewStore(templates, cache, clock, cfg.Cache.TemplateTTL, logger)
	generator := template.NewGenerator(client, cfg.LLM.MaxHTMLChars, logger)
	registry := strategy.NewRegistry(cfg.EnabledSources())
	chain := extraction.NewChain(
		logger.Named("extraction"),
		extraction.DefaultMethods(p.Templates, generator, cfg.LLM.ExtractHTMLChars, logger)...,
	)

	pageFetcher, err := p.setupFetcher()
	if err != nil {
		return nil, err
	}

	blobs, err := p.setupStorage(ctx)
	if err != nil {
		return nil, err
	}

	publisher, err := p.setupPublisher(ctx)
	if err != nil {
		return nil, err
	}

	p.deps = worker.Dependencies{
		Queue:     queue,
		Fetcher:   pageFetcher,
		Extractor: extraction.NewExtractor(chain, registry, client),
		Tickers:   ticker.New(ticker.DefaultVocabulary, client, logger),
		News:      news,
		Blobs:     blobs,
		Publisher: publisher,
		Limiter:   ratelimit.New(ratelimit.Config{Interval: cfg.Crawler.DomainInterval}),
		Hasher:    sha256.New(),
		IDs:       uuid.New(),
		Clock:     clock,
	}
	p.workerCfg = worker.Config{
		ContentType:    cfg.Storage.ContentType,
		BlobPrefix:     cfg.Storage.Prefix,
		Topic:          cfg.PubSub.Topic,
		MaxArticles:    cfg.Crawler.MaxArticles,
		ArticleDelay:   cfg.Crawler.ArticleDelay,
		JobMaxAttempts: cfg.Crawler.JobMaxAttempts,
		JobBackoffBase: cfg.Crawler.JobBackoffBase,
	}
	logger.Info("pipeline ready",
		zap.Int("sources", len(cfg.EnabledSources())),
		zap.Bool("llm", client != nil),
		zap.Bool("headless", cfg.Headless.Enabled),
		zap.String("cache", cfg.Cache.Backend),
		zap.String("storage", cfg.Storage.Backend),
		zap.Bool("postgres", cfg.Database.DSN != ""),
		zap.Bool("pubsub", cfg.PubSub.ProjectID != ""),
	)
	return p, nil
}

// NewWorker builds a worker over the shared pipeline.
func (p *Pipeline) NewWorker(logger *zap.Logger) *worker.Worker {
	return worker.New(p.deps, p.workerCfg, logger)
}

// Close releases clients in reverse order of creation.
func (p *Pipeline) Close(ctx context.Context) error {
	var errs []error
	for i := len(p.closers) - 1; i >= 0; i-- {
		if err := p.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	p.closers = nil
	return errors.Join(errs...)
}

func (p *Pipeline) onClose(fn func(context.Context) error) {
	p.closers = append(p.closers, fn)
}

func setupLLM(cfg config.LLMConfig, logger *zap.Logger) (llm.Client, error) {
	if !cfg.Enabled {
		logger.Info("llm disabled; template generation and llm extraction are off")
		return nil, nil
	}
	client, err := openai.New(openai.Config{
		APIKey:    cfg.APIKey,
		BaseURL:   cfg.BaseURL,
		Model:     cfg.Model,
		Timeout:   cfg.Timeout,
		MaxTokens: cfg.MaxTokens,
	})
	if err != nil {
		return nil, fmt.Errorf("llm client init failed: %w", err)
	}
	logger.Info("llm enabled", zap.String("model", cfg.Model))
	return client, nil
}

func (p *Pipeline) setupCache(ctx context.Context) (crawler.Cache, error) {
	if p.cfg.Cache.Backend != "redis" {
		p.logger.Info("using in-memory template cache")
		return memorycache.New(), nil
	}
	cache := rediscache.New(rediscache.Config{
		Addr:     p.cfg.Cache.RedisAddr,
		Password: p.cfg.Cache.RedisPassword,
		DB:       p.cfg.Cache.RedisDB,
	})
	p.onClose(func(context.Context) error { return cache.Close() })
	if err := cache.Ping(ctx); err != nil {
		return nil, fmt.Errorf("redis cache init failed: %w", err)
	}
	p.Checks = append(p.Checks, api.ReadinessCheck{Name: "redis", Check: cache.Ping})
	p.logger.Info("using redis template cache", zap.String("addr", p.cfg.Cache.RedisAddr))
	return cache, nil
}

func (p *Pipeline) setupDatabase(ctx context.Context) (crawler.TemplateRepository, crawler.NewsRepository, error) {
	db := p.cfg.Database
	if db.DSN == "" {
		p.logger.Warn("no database DSN configured; templates and news are kept in memory")
		return memorystorage.NewTemplateStore(), memorystorage.NewNewsStore(), nil
	}
	pool, err := pgstore.NewPool(ctx, pgstore.PoolConfig{
		DSN:             db.DSN,
		MaxConns:        db.MaxConns,
		MinConns:        db.MinConns,
		MaxConnLifetime: db.MaxConnLifetime,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("postgres init failed: %w", err)
	}
	p.onClose(func(context.Context) error {
		pool.Close()
		return nil
	})
	if db.AutoMigrate {
		if err := pgstore.EnsureSchema(ctx, pool, db.TemplateTable, db.NewsTable); err != nil {
			return nil, nil, fmt.Errorf("postgres schema init failed: %w", err)
		}
	}
	templates, err := pgstore.NewTemplateStore(pool, db.TemplateTable)
	if err != nil {
		return nil, nil, fmt.Errorf("template repository init failed: %w", err)
	}
	news, err := pgstore.NewNewsStore(pool, db.NewsTable)
	if err != nil {
		return nil, nil, fmt.Errorf("news repository init failed: %w", err)
	}
	p.Checks = append(p.Checks, api.ReadinessCheck{Name: "postgres", Check: pool.Ping})
	p.logger.Info("postgres repositories initialized",
		zap.String("template_table", db.TemplateTable),
		zap.String("news_table", db.NewsTable),
	)
	return templates, news, nil
}

func (p *Pipeline) setupFetcher() (*fetcher.Fetcher, error) {
	httpCfg := p.cfg.HTTP
	probe := collyfetcher.New(collyfetcher.Config{
		UserAgent:     httpCfg.UserAgent,
		Timeout:       httpCfg.Timeout,
		MaxRedirects:  httpCfg.MaxRedirects,
		InsecureHosts: httpCfg.InsecureHosts,
	})

	var (
		browser crawler.Fetcher
		detect  crawler.HeadlessDetector
	)
	if p.cfg.Headless.Enabled {
		h := p.cfg.Headless
		chrome, err := headlessfetcher.NewChromedp(headlessfetcher.Config{
			MaxParallel:       h.MaxParallel,
			UserAgent:         httpCfg.UserAgent,
			NavigationTimeout: h.NavigationTimeout,
			IdleTimeout:       h.IdleTimeout,
			SelectorTimeout:   h.SelectorTimeout,
			WaitSelector:      h.WaitSelector,
			ViewportWidth:     h.ViewportWidth,
			ViewportHeight:    h.ViewportHeight,
		}, p.logger)
		if err != nil {
			return nil, fmt.Errorf("headless fetcher init failed: %w", err)
		}
		p.onClose(func(context.Context) error {
			chrome.Close()
			return nil
		})
		browser = chrome
		detect = detector.NewHeuristic(h.PromotionMinText)
		p.logger.Info("using headless fetcher", zap.Int("max_parallel", h.MaxParallel))
	}

	return fetcher.New(probe, browser, detect, fetcher.Config{
		MaxAttempts: httpCfg.MaxAttempts,
		BackoffStep: httpCfg.BackoffStep,
	}, p.logger), nil
}

func (p *Pipeline) setupStorage(ctx context.Context) (crawler.BlobStore, error) {
	switch p.cfg.Storage.Backend {
	case "gcs":
		client, err := storage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("gcs client init failed: %w", err)
		}
		p.onClose(func(context.Context) error { return client.Close() })
		blobs, err := gcsstorage.New(client, gcsstorage.Config{Bucket: p.cfg.Storage.Bucket})
		if err != nil {
			return nil, fmt.Errorf("gcs blob store init failed: %w", err)
		}
		p.logger.Info("using GCS storage backend", zap.String("bucket", p.cfg.Storage.Bucket))
		return blobs, nil
	case "local":
		blobs, err := localstorage.New(p.cfg.Storage.Dir)
		if err != nil {
			return nil, fmt.Errorf("local blob store init failed: %w", err)
		}
		p.logger.Info("using local storage backend", zap.String("dir", p.cfg.Storage.Dir))
		return blobs, nil
	case "none":
		p.logger.Info("raw html archiving disabled")
		return nil, nil
	default:
		p.logger.Info("using in-memory storage backend")
		return memorystorage.NewBlobStore(), nil
	}
}

func (p *Pipeline) setupPublisher(ctx context.Context) (crawler.Publisher, error) {
	if p.cfg.PubSub.ProjectID == "" {
		p.logger.Warn("no Pub/Sub project configured, using in-memory publisher")
		return memorypublisher.New(), nil
	}
	client, err := pubsub.NewClient(ctx, p.cfg.PubSub.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("pubsub client init failed: %w", err)
	}
	publisher := gcppublisher.New(client, p.logger)
	p.onClose(func(context.Context) error {
		publisher.Close()
		return client.Close()
	})
	p.logger.Info("Pub/Sub publisher initialized",
		zap.String("project", p.cfg.PubSub.ProjectID),
		zap.String("topic", p.cfg.PubSub.Topic),
	)
	return publisher, nil
}
