package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/realtime-news-extractor/internal/crawler"
	"github.com/JakeFAU/realtime-news-extractor/internal/metrics"
	"github.com/JakeFAU/realtime-news-extractor/internal/sources"
)

// TemplateReader returns the active template for a source, or nil.
type TemplateReader interface {
	GetTemplate(ctx context.Context, source string) (*crawler.Template, error)
}

// CrawlTrigger enqueues the listings of one source.
type CrawlTrigger interface {
	EnqueueSource(ctx context.Context, id sources.ID) ([]string, error)
}

// Previewer fetches and extracts a URL without persisting it.
type Previewer interface {
	Preview(ctx context.Context, source sources.ID, url string) (*crawler.ExtractedContent, string, []string, error)
}

// ReadinessCheck reports whether a downstream dependency is usable.
type ReadinessCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

// Dependencies groups the collaborators behind the routes.
type Dependencies struct {
	Templates TemplateReader
	Crawls    CrawlTrigger
	Previewer Previewer
	Checks    []ReadinessCheck
}

// Server wires HTTP handlers to the crawl pipeline.
type Server struct {
	router chi.Router
	deps   Dependencies
	logger *zap.Logger
}

// RequestTimeout bounds every request, including /v1/extract fetches.
const RequestTimeout = 90 * time.Second

// NewServer constructs a Server with middleware and routes.
func NewServer(deps Dependencies, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{deps: deps, logger: logger.Named("api")}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(metrics.Middleware)
	r.Use(loggingMiddleware(s.logger))
	r.Use(recoverMiddleware(s.logger))
	r.Use(timeoutMiddleware(RequestTimeout))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Get("/templates/{source}", s.getTemplate)
		r.Post("/sources/{source}/crawl", s.triggerCrawl)
		r.Post("/extract", s.extract)
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	failures := map[string]string{}
	for _, c := range s.deps.Checks {
		if err := c.Check(ctx); err != nil {
			failures[c.Name] = err.Error()
		}
	}
	if len(failures) > 0 {
		s.logger.Warn("readiness check failed", zap.Any("failures", failures))
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "unavailable", "failures": failures})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) getTemplate(w http.ResponseWriter, r *http.Request) {
	id, ok := sources.Parse(chi.URLParam(r, "source"))
	if !ok {
		writeError(w, http.StatusNotFound, "unknown source")
		return
	}
	if s.deps.Templates == nil {
		writeError(w, http.StatusNotFound, "template not found")
		return
	}
	tpl, err := s.deps.Templates.GetTemplate(r.Context(), string(id))
	if err != nil {
		s.logger.Error("load template failed", zap.String("source", string(id)), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load template")
		return
	}
	if tpl == nil {
		writeError(w, http.StatusNotFound, "template not found")
		return
	}
	writeJSON(w, http.StatusOK, templateResponse{Template: tpl, FailRatio: tpl.FailRatio(), NeedsRegeneration: tpl.NeedsRegeneration()})
}

func (s *Server) triggerCrawl(w http.ResponseWriter, r *http.Request) {
	id, ok := sources.Parse(chi.URLParam(r, "source"))
	if !ok || s.deps.Crawls == nil {
		writeError(w, http.StatusNotFound, "unknown source")
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	jobIDs, err := s.deps.Crawls.EnqueueSource(ctx, id)
	switch {
	case errors.Is(err, crawler.ErrNotFound):
		writeError(w, http.StatusNotFound, "source is not enabled")
		return
	case err != nil && len(jobIDs) == 0:
		s.logger.Error("enqueue crawl failed", zap.String("source", string(id)), zap.Error(err))
		writeError(w, http.StatusServiceUnavailable, "failed to enqueue crawl")
		return
	case err != nil:
		s.logger.Warn("crawl partially enqueued", zap.String("source", string(id)), zap.Error(err))
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"source": id, "job_ids": jobIDs})
}

func (s *Server) extract(w http.ResponseWriter, r *http.Request) {
	var req extractRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	req.URL = strings.TrimSpace(req.URL)
	if req.URL == "" || !(strings.HasPrefix(req.URL, "http://") || strings.HasPrefix(req.URL, "https://")) {
		writeError(w, http.StatusBadRequest, "url must be an absolute http(s) URL")
		return
	}
	var source sources.ID
	if strings.TrimSpace(req.Source) != "" {
		id, ok := sources.Parse(req.Source)
		if !ok {
			writeError(w, http.StatusBadRequest, "unknown source")
			return
		}
		source = id
	}
	if s.deps.Previewer == nil {
		writeError(w, http.StatusServiceUnavailable, "extraction is not configured")
		return
	}

	content, method, tickers, err := s.deps.Previewer.Preview(r.Context(), source, req.URL)
	if err != nil {
		status, msg := previewErrorStatus(err)
		s.logger.Info("extract request failed", zap.String("url", req.URL), zap.Int("status", status), zap.Error(err))
		writeError(w, status, msg)
		return
	}
	writeJSON(w, http.StatusOK, extractResponse{URL: req.URL, Source: string(source), Method: method, Content: content, Tickers: tickers})
}

func previewErrorStatus(err error) (int, string) {
	if fe, ok := crawler.AsFetchError(err); ok {
		return http.StatusBadGateway, "fetch failed: " + string(fe.Kind)
	}
	if errors.Is(err, crawler.ErrAllMethodsExhausted) {
		return http.StatusUnprocessableEntity, "no extraction method produced content"
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return http.StatusGatewayTimeout, "extraction timed out"
	}
	return http.StatusInternalServerError, "extraction failed"
}

type templateResponse struct {
	Template          *crawler.Template `json:"template"`
	FailRatio         float64           `json:"failRatio"`
	NeedsRegeneration bool              `json:"needsRegeneration"`
}

type extractRequest struct {
	URL    string `json:"url"`
	Source string `json:"source"`
}

type extractResponse struct {
	URL     string                    `json:"url"`
	Source  string                    `json:"source,omitempty"`
	Method  string                    `json:"method"`
	Content *crawler.ExtractedContent `json:"content"`
	Tickers []string                  `json:"tickers"`
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Error("write JSON failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
