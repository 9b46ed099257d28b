// Package template manages the versioned, self-scoring extraction templates:
// a cache-aside store and an LLM-driven generator with local validation.
package template

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/realtime-news-extractor/internal/crawler"
	"github.com/JakeFAU/realtime-news-extractor/internal/metrics"
)

// DefaultCacheTTL is how long an active template stays cached.
const DefaultCacheTTL = 7 * 24 * time.Hour

// CacheKey returns the cache key for a source's active template.
func CacheKey(source string) string {
	return "extraction_template:" + source
}

// Store fronts the template repository with a cache.
type Store struct {
	repo   crawler.TemplateRepository
	cache  crawler.Cache
	clock  crawler.Clock
	ttl    time.Duration
	logger *zap.Logger
}

// NewStore builds a Store. A nil cache disables caching.
func NewStore(repo crawler.TemplateRepository, cache crawler.Cache, clock crawler.Clock, ttl time.Duration, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &Store{
		repo:   repo,
		cache:  cache,
		clock:  clock,
		ttl:    ttl,
		logger: logger.Named("template_store"),
	}
}

// GetTemplate returns the active template for source, or nil when none exists.
// Cache failures fall through to the repository.
func (s *Store) GetTemplate(ctx context.Context, source string) (*crawler.Template, error) {
	if tpl := s.cached(ctx, source); tpl != nil {
		return tpl, nil
	}
	tpl, err := s.repo.LatestActive(ctx, source)
	if errors.Is(err, crawler.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load template: %w", err)
	}
	s.fill(ctx, tpl)
	return tpl, nil
}

// SaveTemplate persists tpl as the active version and refreshes the cache.
func (s *Store) SaveTemplate(ctx context.Context, tpl *crawler.Template) error {
	if err := s.repo.Save(ctx, tpl); err != nil {
		return fmt.Errorf("save template: %w", err)
	}
	s.fill(ctx, tpl)
	return nil
}

// RegenerateTemplate replaces the active version of tpl.Source with tpl, using
// version max+1 and zeroed counters.
func (s *Store) RegenerateTemplate(ctx context.Context, tpl *crawler.Template) error {
	if err := s.repo.Regenerate(ctx, tpl); err != nil {
		return fmt.Errorf("regenerate template: %w", err)
	}
	s.fill(ctx, tpl)
	return nil
}

// IncrementSuccess counts a successful extraction and invalidates the cache entry.
func (s *Store) IncrementSuccess(ctx context.Context, source string) error {
	if err := s.repo.IncrementSuccess(ctx, source, s.clock.Now()); err != nil {
		return fmt.Errorf("increment template success: %w", err)
	}
	s.invalidate(ctx, source)
	return nil
}

// IncrementFail counts a failed extraction and invalidates the cache entry.
func (s *Store) IncrementFail(ctx context.Context, source string) error {
	if err := s.repo.IncrementFail(ctx, source, s.clock.Now()); err != nil {
		return fmt.Errorf("increment template failure: %w", err)
	}
	s.invalidate(ctx, source)
	return nil
}

func (s *Store) cached(ctx context.Context, source string) *crawler.Template {
	if s.cache == nil {
		return nil
	}
	raw, ok, err := s.cache.Get(ctx, CacheKey(source))
	if err != nil {
		s.logger.Warn("template cache read failed", zap.String("source", source), zap.Error(err))
		return nil
	}
	if !ok {
		metrics.ObserveTemplateEvent(source, "cache_miss")
		return nil
	}
	var tpl crawler.Template
	if err := json.Unmarshal(raw, &tpl); err != nil {
		s.logger.Warn("template cache entry corrupt", zap.String("source", source), zap.Error(err))
		return nil
	}
	metrics.ObserveTemplateEvent(source, "cache_hit")
	return &tpl
}

func (s *Store) fill(ctx context.Context, tpl *crawler.Template) {
	if s.cache == nil || tpl == nil {
		return
	}
	raw, err := json.Marshal(tpl)
	if err != nil {
		s.logger.Warn("encode template for cache", zap.String("source", tpl.Source), zap.Error(err))
		return
	}
	if err := s.cache.SetEx(ctx, CacheKey(tpl.Source), raw, s.ttl); err != nil {
		s.logger.Warn("template cache write failed", zap.String("source", tpl.Source), zap.Error(err))
	}
}

func (s *Store) invalidate(ctx context.Context, source string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Del(ctx, CacheKey(source)); err != nil {
		s.logger.Warn("template cache invalidate failed", zap.String("source", source), zap.Error(err))
	}
}
