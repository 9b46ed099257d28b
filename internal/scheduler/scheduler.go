// Package scheduler enqueues listing crawls for every enabled source at
// startup and on a fixed interval.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/realtime-news-extractor/internal/crawler"
	"github.com/JakeFAU/realtime-news-extractor/internal/sources"
)

// DefaultInterval is how often every listing is re-enqueued.
const DefaultInterval = 5 * time.Minute

// JobIDGenerator produces crawl job identifiers.
type JobIDGenerator interface {
	NewJobID(source string) (string, error)
}

// Config controls the scheduler.
type Config struct {
	Interval       time.Duration
	JobMaxAttempts int
}

// Scheduler turns source profiles into crawl jobs.
type Scheduler struct {
	queue    crawler.Queue
	ids      JobIDGenerator
	profiles map[sources.ID]sources.Profile
	order    []sources.ID
	cfg      Config
	clock    crawler.Clock
	logger   *zap.Logger
}

// New builds a Scheduler over the given profiles.
func New(queue crawler.Queue, ids JobIDGenerator, clock crawler.Clock, profiles []sources.Profile, cfg Config, logger *zap.Logger) *Scheduler {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Scheduler{
		queue:    queue,
		ids:      ids,
		profiles: make(map[sources.ID]sources.Profile, len(profiles)),
		cfg:      cfg,
		clock:    clock,
		logger:   logger.Named("scheduler"),
	}
	for _, p := range profiles {
		if _, dup := s.profiles[p.ID]; dup {
			continue
		}
		s.profiles[p.ID] = p
		s.order = append(s.order, p.ID)
	}
	return s
}

// Run enqueues every listing immediately and then once per interval until
// ctx ends. Enqueue failures are logged and never stop the loop.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	s.tick(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *Scheduler) tick(ctx context.Context) {
	n, err := s.EnqueueAll(ctx)
	if err != nil && ctx.Err() == nil {
		s.logger.Error("enqueue listings failed", zap.Int("enqueued", n), zap.Error(err))
		return
	}
	s.logger.Info("listings enqueued", zap.Int("enqueued", n))
}

// EnqueueAll enqueues one job per listing URL of every source. It keeps going
// past failures and returns them joined.
func (s *Scheduler) EnqueueAll(ctx context.Context) (int, error) {
	var (
		count int
		errs  []error
	)
	for _, id := range s.order {
		jobIDs, err := s.enqueueProfile(ctx, s.profiles[id])
		count += len(jobIDs)
		if err != nil {
			errs = append(errs, err)
		}
		if ctx.Err() != nil {
			break
		}
	}
	return count, errors.Join(errs...)
}

// EnqueueSource enqueues the listings of one source and returns the job IDs.
func (s *Scheduler) EnqueueSource(ctx context.Context, id sources.ID) ([]string, error) {
	profile, ok := s.profiles[id]
	if !ok {
		return nil, fmt.Errorf("source %q: %w", id, crawler.ErrNotFound)
	}
	return s.enqueueProfile(ctx, profile)
}

// Sources returns the scheduled source IDs in registration order.
func (s *Scheduler) Sources() []sources.ID {
	return append([]sources.ID(nil), s.order...)
}

func (s *Scheduler) enqueueProfile(ctx context.Context, profile sources.Profile) ([]string, error) {
	jobIDs := make([]string, 0, len(profile.ListingURLs))
	var errs []error
	for _, listing := range profile.ListingURLs {
		jobID, err := s.ids.NewJobID(string(profile.ID))
		if err != nil {
			errs = append(errs, fmt.Errorf("generate job id: %w", err))
			continue
		}
		item := crawler.QueueItem{
			JobID:       jobID,
			Job:         crawler.CrawlJob{Source: string(profile.ID), URL: listing},
			MaxAttempts: s.cfg.JobMaxAttempts,
			Submitted:   s.now().Unix(),
		}
		if err := s.queue.Enqueue(ctx, item); err != nil {
			errs = append(errs, fmt.Errorf("enqueue %s: %w", listing, err))
			continue
		}
		jobIDs = append(jobIDs, jobID)
	}
	return jobIDs, errors.Join(errs...)
}

func (s *Scheduler) now() time.Time {
	if s.clock == nil {
		return time.Now().UTC()
	}
	return s.clock.Now()
}
