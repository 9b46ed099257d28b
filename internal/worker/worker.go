// Package worker implements the crawl pipeline execution loop.
package worker

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/realtime-news-extractor/internal/crawler"
	"github.com/JakeFAU/realtime-news-extractor/internal/discovery"
	"github.com/JakeFAU/realtime-news-extractor/internal/metrics"
	"github.com/JakeFAU/realtime-news-extractor/internal/sources"
)

// Job outcomes reported to metrics.
const (
	JobSucceeded = "succeeded"
	JobRetried   = "retried"
	JobFailed    = "failed"
	JobCanceled  = "canceled"
)

// ArticleStatus describes what happened to one article URL.
type ArticleStatus string

// Article outcomes.
const (
	ArticleIngested      ArticleStatus = "ingested"
	ArticleDuplicate     ArticleStatus = "duplicate"
	ArticleUnextractable ArticleStatus = "unextractable"
)

// ArticleResult is returned by ProcessArticle.
type ArticleResult struct {
	Status ArticleStatus
	Record *crawler.NewsRecord
}

// ContentExtractor turns raw article HTML into structured content.
type ContentExtractor interface {
	Extract(ctx context.Context, source sources.ID, pageURL, rawHTML string) (*crawler.ExtractedContent, string, error)
}

// TickerExtractor tags content with trading symbols.
type TickerExtractor interface {
	Extract(ctx context.Context, content *crawler.ExtractedContent) []string
}

// Limiter spaces requests to the same host.
type Limiter interface {
	Wait(ctx context.Context, rawURL string) error
}

// Config controls Worker behavior.
type Config struct {
	ContentType    string
	BlobPrefix     string
	Topic          string
	MaxArticles    int
	ArticleDelay   time.Duration
	JobMaxAttempts int
	JobBackoffBase time.Duration
}

// Dependencies groups the collaborators a Worker needs. Blobs, Publisher,
// Tickers and Limiter are optional.
type Dependencies struct {
	Queue     crawler.Queue
	Fetcher   crawler.Fetcher
	Extractor ContentExtractor
	Tickers   TickerExtractor
	News      crawler.NewsRepository
	Blobs     crawler.BlobStore
	Publisher crawler.Publisher
	Limiter   Limiter
	Hasher    crawler.Hasher
	IDs       crawler.IDGenerator
	Clock     crawler.Clock
}

// Worker consumes crawl jobs and ingests the articles they discover.
type Worker struct {
	deps   Dependencies
	cfg    Config
	logger *zap.Logger
	sleep  func(context.Context, time.Duration) error
}

// New constructs a Worker.
func New(deps Dependencies, cfg Config, logger *zap.Logger) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.ContentType == "" {
		cfg.ContentType = "text/html; charset=utf-8"
	}
	if cfg.MaxArticles <= 0 {
		cfg.MaxArticles = discovery.DefaultLimit
	}
	if cfg.JobMaxAttempts <= 0 {
		cfg.JobMaxAttempts = 3
	}
	if cfg.JobBackoffBase <= 0 {
		cfg.JobBackoffBase = 30 * time.Second
	}
	return &Worker{
		deps:   deps,
		cfg:    cfg,
		logger: logger,
		sleep:  sleepContext,
	}
}

// Run blocks, consuming queue items until the context finishes.
func (w *Worker) Run(ctx context.Context) {
	for {
		item, err := w.deps.Queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			w.logger.Error("queue dequeue failed", zap.Error(err))
			continue
		}
		w.logger.Debug("dequeued job", zap.String("job_id", item.JobID), zap.String("source", item.Job.Source))
		w.ProcessJob(ctx, item)
	}
}

// ProcessJob crawls one listing page and processes each discovered article.
// It returns the job outcome.
func (w *Worker) ProcessJob(ctx context.Context, item crawler.QueueItem) string {
	metrics.IncActiveWorkers()
	defer metrics.DecActiveWorkers()

	status := w.crawl(ctx, item)
	metrics.ObserveJob(status)
	return status
}

func (w *Worker) crawl(ctx context.Context, item crawler.QueueItem) string {
	logger := w.logger.With(zap.String("job_id", item.JobID), zap.String("source", item.Job.Source))

	id, ok := sources.Parse(item.Job.Source)
	if !ok {
		logger.Error("unknown source")
		return JobFailed
	}
	profile, _ := sources.Lookup(id)

	resp, err := w.fetch(ctx, profile, item.Job.URL)
	if err != nil {
		return w.handleListingFailure(ctx, item, err, logger)
	}

	base := resp.URL
	if base == "" {
		base = item.Job.URL
	}
	links, err := discovery.Links(profile, base, resp.Body, w.cfg.MaxArticles)
	if err != nil {
		logger.Error("discover links failed", zap.String("url", item.Job.URL), zap.Error(err))
		return JobFailed
	}
	logger.Info("listing crawled", zap.String("url", item.Job.URL), zap.Int("links", len(links)))

	ingested := 0
	for i, link := range links {
		if i > 0 && w.cfg.ArticleDelay > 0 {
			if err := w.sleep(ctx, w.cfg.ArticleDelay); err != nil {
				break
			}
		}
		if ctx.Err() != nil {
			break
		}
		result, err := w.ProcessArticle(ctx, id, link)
		if err != nil {
			logger.Warn("article failed", zap.String("url", link), zap.Error(err))
			continue
		}
		if result.Status == ArticleIngested {
			ingested++
		}
	}

	if ctx.Err() != nil {
		return JobCanceled
	}
	logger.Info("job finished", zap.Int("links", len(links)), zap.Int("ingested", ingested))
	return JobSucceeded
}

func (w *Worker) handleListingFailure(ctx context.Context, item crawler.QueueItem, err error, logger *zap.Logger) string {
	if ctx.Err() != nil {
		return JobCanceled
	}
	fe, ok := crawler.AsFetchError(err)
	if !ok || !fe.Retryable() {
		logger.Error("listing fetch failed", zap.String("url", item.Job.URL), zap.Error(err))
		return JobFailed
	}

	maxAttempts := item.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = w.cfg.JobMaxAttempts
	}
	if item.Attempt+1 >= maxAttempts {
		logger.Error("listing fetch failed, attempts exhausted",
			zap.String("url", item.Job.URL), zap.Int("attempt", item.Attempt+1), zap.Error(err))
		return JobFailed
	}

	next := item
	next.Attempt++
	next.MaxAttempts = maxAttempts
	next.NotBefore = w.now().Add(w.backoff(item.Attempt))
	if qerr := w.deps.Queue.Enqueue(ctx, next); qerr != nil {
		logger.Error("requeue job failed", zap.Error(qerr))
		return JobFailed
	}
	logger.Warn("listing fetch failed, job requeued",
		zap.String("url", item.Job.URL), zap.Int("attempt", next.Attempt), zap.Time("not_before", next.NotBefore), zap.Error(err))
	return JobRetried
}

// backoff doubles the base delay for every previous attempt.
func (w *Worker) backoff(attempt int) time.Duration {
	if attempt > 10 {
		attempt = 10
	}
	return w.cfg.JobBackoffBase << attempt
}

// ProcessArticle ingests one article URL: it skips URLs already stored, then
// fetches, extracts, tags, archives, persists and publishes. Calling it twice
// for the same URL stores one row.
func (w *Worker) ProcessArticle(ctx context.Context, source sources.ID, url string) (ArticleResult, error) {
	exists, err := w.deps.News.ExistsByURL(ctx, url)
	if err != nil {
		return ArticleResult{}, fmt.Errorf("check article exists: %w", err)
	}
	if exists {
		metrics.ObserveArticle(string(source), string(ArticleDuplicate))
		return ArticleResult{Status: ArticleDuplicate}, nil
	}

	profile, _ := sources.Lookup(source)
	if profile.ID == "" {
		profile.ID = source
	}
	resp, err := w.fetch(ctx, profile, url)
	if err != nil {
		metrics.ObserveArticle(string(source), "fetch_failed")
		return ArticleResult{}, err
	}

	pageURL := resp.URL
	if pageURL == "" {
		pageURL = url
	}
	content, method, err := w.deps.Extractor.Extract(ctx, source, pageURL, string(resp.Body))
	if err != nil {
		if errors.Is(err, crawler.ErrAllMethodsExhausted) {
			w.logger.Info("article unextractable", zap.String("url", url))
			metrics.ObserveArticle(string(source), string(ArticleUnextractable))
			return ArticleResult{Status: ArticleUnextractable}, nil
		}
		return ArticleResult{}, fmt.Errorf("extract article: %w", err)
	}

	tickers := []string{}
	if w.deps.Tickers != nil {
		tickers = w.deps.Tickers.Extract(ctx, content)
	}
	if tickers == nil {
		tickers = []string{}
	}

	record, err := w.buildRecord(source, url, method, content, tickers, resp.Body)
	if err != nil {
		return ArticleResult{}, err
	}
	record.BlobURI = w.archive(ctx, record, resp.Body)

	inserted, err := w.deps.News.Insert(ctx, record)
	if err != nil {
		metrics.ObserveArticle(string(source), "persist_failed")
		return ArticleResult{}, fmt.Errorf("persist article: %w", err)
	}
	if !inserted {
		metrics.ObserveArticle(string(source), string(ArticleDuplicate))
		return ArticleResult{Status: ArticleDuplicate}, nil
	}

	w.publish(ctx, record)
	metrics.ObserveArticle(string(source), string(ArticleIngested))
	w.logger.Info("article ingested",
		zap.String("url", url),
		zap.String("news_id", record.ID),
		zap.String("method", method),
		zap.Strings("tickers", record.Tickers),
	)
	return ArticleResult{Status: ArticleIngested, Record: &record}, nil
}

// Preview fetches and extracts url without persisting or publishing. It
// returns the content, the method that produced it, and its tickers.
func (w *Worker) Preview(ctx context.Context, source sources.ID, url string) (*crawler.ExtractedContent, string, []string, error) {
	profile, _ := sources.Lookup(source)
	if profile.ID == "" {
		profile.ID = source
	}
	resp, err := w.fetch(ctx, profile, url)
	if err != nil {
		return nil, "", nil, err
	}
	pageURL := resp.URL
	if pageURL == "" {
		pageURL = url
	}
	content, method, err := w.deps.Extractor.Extract(ctx, source, pageURL, string(resp.Body))
	if err != nil {
		return nil, "", nil, fmt.Errorf("extract article: %w", err)
	}
	tickers := []string{}
	if w.deps.Tickers != nil {
		tickers = w.deps.Tickers.Extract(ctx, content)
	}
	return content, method, tickers, nil
}

func (w *Worker) fetch(ctx context.Context, profile sources.Profile, url string) (crawler.FetchResponse, error) {
	if w.deps.Limiter != nil {
		if err := w.deps.Limiter.Wait(ctx, url); err != nil {
			return crawler.FetchResponse{}, &crawler.FetchError{URL: url, Kind: crawler.FetchPermanent, Err: err}
		}
	}
	resp, err := w.deps.Fetcher.Fetch(ctx, crawler.FetchRequest{
		URL:    url,
		Source: string(profile.ID),
		Render: profile.Render,
	})
	if err != nil {
		return crawler.FetchResponse{}, fmt.Errorf("fetch page: %w", err)
	}
	return resp, nil
}

func (w *Worker) buildRecord(
	source sources.ID,
	url string,
	method string,
	content *crawler.ExtractedContent,
	tickers []string,
	body []byte,
) (crawler.NewsRecord, error) {
	id, err := w.deps.IDs.NewID()
	if err != nil {
		return crawler.NewsRecord{}, fmt.Errorf("generate news id: %w", err)
	}
	hash, err := w.deps.Hasher.Hash(body)
	if err != nil {
		return crawler.NewsRecord{}, fmt.Errorf("hash body: %w", err)
	}
	return crawler.NewsRecord{
		ID:          id,
		URL:         url,
		Source:      string(source),
		Title:       content.Title,
		Summary:     content.Summary,
		FullText:    content.FullText,
		PublishTime: content.PublishTime,
		Tickers:     tickers,
		Method:      method,
		ContentHash: hash,
		CreatedAt:   w.now(),
	}, nil
}

// archive stores the raw HTML and returns its URI, or "" when archiving is
// disabled or fails.
func (w *Worker) archive(ctx context.Context, record crawler.NewsRecord, body []byte) string {
	if w.deps.Blobs == nil {
		return ""
	}
	uri, err := w.deps.Blobs.PutObject(ctx, w.blobPath(record.Source, record.ContentHash), w.cfg.ContentType, body)
	if err != nil {
		w.logger.Warn("archive html failed", zap.String("url", record.URL), zap.Error(err))
		return ""
	}
	return uri
}

func (w *Worker) blobPath(source, hash string) string {
	prefix := strings.Trim(w.cfg.BlobPrefix, "/")
	if prefix == "" {
		return fmt.Sprintf("%s/%s.html", source, hash)
	}
	return fmt.Sprintf("%s/%s/%s.html", prefix, source, hash)
}

func (w *Worker) publish(ctx context.Context, record crawler.NewsRecord) {
	if w.cfg.Topic == "" || w.deps.Publisher == nil {
		return
	}
	event := crawler.NewsCreated{
		NewsID:      record.ID,
		Title:       record.Title,
		Tickers:     record.Tickers,
		PublishTime: record.PublishTime,
		Source:      record.Source,
	}
	if _, err := w.deps.Publisher.Publish(ctx, w.cfg.Topic, event); err != nil {
		w.logger.Error("publish news event failed", zap.String("news_id", record.ID), zap.Error(err))
	}
}

func (w *Worker) now() time.Time {
	if w.deps.Clock == nil {
		return time.Now().UTC()
	}
	return w.deps.Clock.Now()
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return fmt.Errorf("sleep canceled: %w", ctx.Err())
	case <-timer.C:
		return nil
	}
}
