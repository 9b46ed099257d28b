// Package metrics exposes Prometheus collectors for the news extractor.
package metrics

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	fetchTotal                 *prometheus.CounterVec
	fetchBytesTotal            *prometheus.CounterVec
	fetchRetriesTotal          *prometheus.CounterVec
	headlessPromotionsTotal    prometheus.Counter
	extractionTotal            *prometheus.CounterVec
	extractionExhaustedTotal   *prometheus.CounterVec
	templateEventsTotal        *prometheus.CounterVec
	articlesTotal              *prometheus.CounterVec
	jobsTotal                  *prometheus.CounterVec
	activeWorkers              prometheus.Gauge
	rateLimitDelaysSeconds     *prometheus.HistogramVec
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init registers the collectors. It is safe to call multiple times; every
// Observe helper calls it.
func Init() {
	once.Do(func() {
		fetchTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "news_fetch_total",
				Help: "Total fetches, labeled by site, transport, and outcome (ok or failure kind).",
			},
			[]string{"site", "transport", "outcome"},
		)
		fetchBytesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "news_fetch_bytes_total",
				Help: "Total bytes fetched, labeled by site.",
			},
			[]string{"site"},
		)
		fetchRetriesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "news_fetch_retries_total",
				Help: "Total fetch retries after transient failures, labeled by site.",
			},
			[]string{"site"},
		)
		headlessPromotionsTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "news_headless_promotions_total",
				Help: "Total HTTP responses re-fetched through the headless browser.",
			},
		)
		extractionTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "news_extraction_total",
				Help: "Extraction method executions, labeled by method and outcome (success, miss, error).",
			},
			[]string{"method", "outcome"},
		)
		extractionExhaustedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "news_extraction_exhausted_total",
				Help: "Pages where every extraction method failed, labeled by source.",
			},
			[]string{"source"},
		)
		templateEventsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "news_template_events_total",
				Help: "Template lifecycle events, labeled by source and event.",
			},
			[]string{"source", "event"},
		)
		articlesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "news_articles_total",
				Help: "Articles processed, labeled by source and status.",
			},
			[]string{"source", "status"},
		)
		jobsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "news_jobs_total",
				Help: "Crawl jobs processed, labeled by status.",
			},
			[]string{"status"},
		)
		activeWorkers = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "news_active_workers",
				Help: "Number of workers currently processing a crawl job.",
			},
		)
		rateLimitDelaysSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "news_rate_limit_delays_seconds",
				Help:    "Histogram of politeness wait durations.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"domain"},
		)
		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)
		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 30},
			},
			[]string{"method", "route"},
		)
	})
}

// SanitizeSite extracts a lowercase hostname, or "unknown" for invalid URLs.
func SanitizeSite(rawURL string) string {
	if !strings.HasPrefix(rawURL, "http") {
		rawURL = "http://" + rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.ToLower(u.Hostname())
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveFetch records a fetch outcome.
func ObserveFetch(rawURL, transport, outcome string, bytesFetched int) {
	Init()
	site := SanitizeSite(rawURL)
	fetchTotal.WithLabelValues(site, transport, outcome).Inc()
	if bytesFetched > 0 {
		fetchBytesTotal.WithLabelValues(site).Add(float64(bytesFetched))
	}
}

// ObserveFetchRetry records a retry after a transient failure.
func ObserveFetchRetry(rawURL string) {
	Init()
	fetchRetriesTotal.WithLabelValues(SanitizeSite(rawURL)).Inc()
}

// ObserveHeadlessPromotion records an HTTP response promoted to the browser.
func ObserveHeadlessPromotion() {
	Init()
	headlessPromotionsTotal.Inc()
}

// ObserveExtraction records one extraction method execution.
func ObserveExtraction(method, outcome string) {
	Init()
	extractionTotal.WithLabelValues(method, outcome).Inc()
}

// ObserveExtractionExhausted records a page no method could extract.
func ObserveExtractionExhausted(source string) {
	Init()
	extractionExhaustedTotal.WithLabelValues(source).Inc()
}

// ObserveTemplateEvent records a template lifecycle event (generated, regenerated, rejected, ...).
func ObserveTemplateEvent(source, event string) {
	Init()
	templateEventsTotal.WithLabelValues(source, event).Inc()
}

// ObserveArticle records a processed article.
func ObserveArticle(source, status string) {
	Init()
	articlesTotal.WithLabelValues(source, status).Inc()
}

// ObserveJob increments the job counter for the given status.
func ObserveJob(status string) {
	Init()
	jobsTotal.WithLabelValues(status).Inc()
}

// IncActiveWorkers increments the active workers gauge.
func IncActiveWorkers() {
	Init()
	activeWorkers.Inc()
}

// DecActiveWorkers decrements the active workers gauge.
func DecActiveWorkers() {
	Init()
	activeWorkers.Dec()
}

// ObserveRateLimitDelay records the duration of a politeness wait.
func ObserveRateLimitDelay(domain string, duration time.Duration) {
	Init()
	rateLimitDelaysSeconds.WithLabelValues(domain).Observe(duration.Seconds())
}

// ObserveHTTPRequest records an API request.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
