// Package fetcher combines the HTTP and headless fetchers behind one retrying,
// classifying crawler.Fetcher.
package fetcher

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/realtime-news-extractor/internal/crawler"
	"github.com/JakeFAU/realtime-news-extractor/internal/metrics"
)

// Config controls retry behavior.
type Config struct {
	// MaxAttempts bounds attempts for transient failures.
	MaxAttempts int
	// BackoffStep is multiplied by the attempt number between tries.
	BackoffStep time.Duration
}

// Fetcher fetches over HTTP, promotes SPA shells to the browser, renders
// configured sources directly in the browser, and retries transient failures.
// Every error it returns is a *crawler.FetchError.
type Fetcher struct {
	http     crawler.Fetcher
	headless crawler.Fetcher
	detector crawler.HeadlessDetector
	cfg      Config
	logger   *zap.Logger
	sleep    func(ctx context.Context, d time.Duration) error
}

// New builds a Fetcher. headless and detector may be nil.
func New(httpFetcher, headless crawler.Fetcher, detector crawler.HeadlessDetector, cfg Config, logger *zap.Logger) *Fetcher {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.BackoffStep <= 0 {
		cfg.BackoffStep = 2 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Fetcher{
		http:     httpFetcher,
		headless: headless,
		detector: detector,
		cfg:      cfg,
		logger:   logger.Named("fetcher"),
		sleep:    sleepContext,
	}
}

// Fetch returns a 2xx response or a classified *crawler.FetchError.
func (f *Fetcher) Fetch(ctx context.Context, request crawler.FetchRequest) (crawler.FetchResponse, error) {
	for attempt := 1; ; attempt++ {
		resp, err := f.fetchOnce(ctx, request)
		ferr := Classify(request.URL, resp.StatusCode, err)
		transport := transportName(resp)
		if ferr == nil {
			metrics.ObserveFetch(request.URL, transport, "success", len(resp.Body))
			return resp, nil
		}
		ferr.Attempts = attempt
		metrics.ObserveFetch(request.URL, transport, string(ferr.Kind), len(resp.Body))

		if ctx.Err() != nil {
			ferr.Kind = crawler.FetchPermanent
			ferr.Err = fmt.Errorf("fetch canceled: %w", ctx.Err())
			return crawler.FetchResponse{}, ferr
		}
		if !ferr.Retryable() || attempt >= f.cfg.MaxAttempts {
			f.logger.Info("fetch failed",
				zap.String("url", request.URL),
				zap.String("kind", string(ferr.Kind)),
				zap.Int("status", ferr.StatusCode),
				zap.Int("attempts", attempt),
				zap.Error(ferr.Err),
			)
			return crawler.FetchResponse{}, ferr
		}

		delay := f.cfg.BackoffStep * time.Duration(attempt)
		metrics.ObserveFetchRetry(request.URL)
		f.logger.Debug("retrying fetch",
			zap.String("url", request.URL),
			zap.Int("attempt", attempt),
			zap.Duration("delay", delay),
			zap.Error(ferr),
		)
		if err := f.sleep(ctx, delay); err != nil {
			ferr.Kind = crawler.FetchPermanent
			ferr.Err = err
			return crawler.FetchResponse{}, ferr
		}
	}
}

func (f *Fetcher) fetchOnce(ctx context.Context, request crawler.FetchRequest) (crawler.FetchResponse, error) {
	if request.Render && f.headless != nil {
		return f.headless.Fetch(ctx, request)
	}
	resp, err := f.http.Fetch(ctx, request)
	if err != nil || f.headless == nil || f.detector == nil || !f.detector.ShouldPromote(resp) {
		return resp, err
	}

	metrics.ObserveHeadlessPromotion()
	rendered, herr := f.headless.Fetch(ctx, request)
	if herr != nil {
		f.logger.Warn("headless promotion failed, keeping http response",
			zap.String("url", request.URL),
			zap.Error(herr),
		)
		return resp, nil
	}
	return rendered, nil
}

func transportName(resp crawler.FetchResponse) string {
	if resp.UsedHeadless {
		return "headless"
	}
	return "http"
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return fmt.Errorf("retry wait canceled: %w", ctx.Err())
	case <-timer.C:
		return nil
	}
}
