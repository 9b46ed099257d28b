// Package server builds the service from config and runs it until shutdown.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/realtime-news-extractor/internal/api"
	"github.com/JakeFAU/realtime-news-extractor/internal/clock/system"
	"github.com/JakeFAU/realtime-news-extractor/internal/config"
	"github.com/JakeFAU/realtime-news-extractor/internal/dispatcher"
	"github.com/JakeFAU/realtime-news-extractor/internal/id/uuid"
	queuememory "github.com/JakeFAU/realtime-news-extractor/internal/queue/memory"
	"github.com/JakeFAU/realtime-news-extractor/internal/scheduler"
)

// App contains the running service: the crawl scheduler, the worker pool and
// the operational HTTP API.
type App struct {
	cfg       config.Config
	logger    *zap.Logger
	queue     *queuememory.Queue
	pipeline  *Pipeline
	dispatch  *dispatcher.Dispatcher
	scheduler *scheduler.Scheduler
	apiServer *api.Server
}

// Build creates the application's dependencies.
func Build(ctx context.Context, cfg config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger.Info("building application dependencies",
		zap.Int("port", cfg.Server.Port),
		zap.Int("workers", cfg.Crawler.Workers),
		zap.Duration("interval", cfg.Crawler.Interval),
	)

	queue := queuememory.NewQueue(cfg.Crawler.QueueDepth)
	pipeline, err := BuildPipeline(ctx, cfg, queue, logger)
	if err != nil {
		queue.Close()
		return nil, err
	}

	workers := make([]dispatcher.Runner, 0, cfg.Crawler.Workers)
	for i := 0; i < cfg.Crawler.Workers; i++ {
		workers = append(workers, pipeline.NewWorker(logger.Named("worker").With(zap.Int("index", i))))
	}

	sched := scheduler.New(queue, uuid.New(), system.New(), cfg.EnabledSources(), scheduler.Config{
		Interval:       cfg.Crawler.Interval,
		JobMaxAttempts: cfg.Crawler.JobMaxAttempts,
	}, logger)

	apiServer := api.NewServer(api.Dependencies{
		Templates: pipeline.Templates,
		Crawls:    sched,
		Previewer: pipeline.NewWorker(logger.Named("preview")),
		Checks:    pipeline.Checks,
	}, logger)

	return &App{
		cfg:       cfg,
		logger:    logger,
		queue:     queue,
		pipeline:  pipeline,
		dispatch:  dispatcher.New(queue, workers, logger),
		scheduler: sched,
		apiServer: apiServer,
	}, nil
}

// Handler exposes the API router.
func (a *App) Handler() http.Handler {
	return a.apiServer.Handler()
}

// Run starts the workers, the scheduler and the HTTP server, and blocks until
// the context is canceled or a termination signal arrives.
func (a *App) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	done := make(chan struct{})
	go func() {
		defer close(done)
		a.logger.Info("dispatcher started", zap.Int("workers", a.dispatch.Size()))
		a.dispatch.Run(ctx)
	}()
	go func() {
		a.logger.Info("scheduler started", zap.Duration("interval", a.cfg.Crawler.Interval))
		a.scheduler.Run(ctx)
	}()

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           a.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	serveErr := make(chan error, 1)
	go func() {
		a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
			stop()
		}
	}()

	<-ctx.Done()
	a.logger.Info("shutdown initiated")

	timeout := a.cfg.Server.ShutdownTimeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server shutdown error", zap.Error(err))
	}
	select {
	case <-done:
	case <-shutdownCtx.Done():
		a.logger.Warn("workers did not drain before the shutdown deadline")
	}

	closeErr := a.Close(shutdownCtx)
	select {
	case err := <-serveErr:
		return errors.Join(fmt.Errorf("http server: %w", err), closeErr)
	default:
		return closeErr
	}
}

// Close releases the queue and every client opened by the pipeline.
func (a *App) Close(ctx context.Context) error {
	a.queue.Close()
	err := a.pipeline.Close(ctx)
	if err != nil {
		a.logger.Warn("pipeline close failed", zap.Error(err))
	}
	a.logger.Info("shutdown complete")
	return err
}
