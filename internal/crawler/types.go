package crawler

import (
	"net/http"
	"strings"
	"time"
)

// Template regeneration thresholds.
const (
	RegenerateMinFails  = 5
	RegenerateFailRatio = 0.5
)

// ExtractedContent is the structured article produced by an extraction method.
type ExtractedContent struct {
	Title       string     `json:"title"`
	Summary     string     `json:"summary,omitempty"`
	FullText    string     `json:"fullText"`
	PublishTime *time.Time `json:"publishTime,omitempty"`
}

// Valid reports whether the content carries both a title and body text.
func (c *ExtractedContent) Valid() bool {
	if c == nil {
		return false
	}
	return strings.TrimSpace(c.Title) != "" && strings.TrimSpace(c.FullText) != ""
}

// Template is a versioned, self-scoring selector set for one source.
// Selector fields hold comma-separated fallback lists tried in order.
type Template struct {
	ID                  int64      `json:"id"`
	Source              string     `json:"source"`
	Version             int        `json:"version"`
	TitleSelector       string     `json:"titleSelector"`
	SummarySelector     string     `json:"summarySelector,omitempty"`
	ContentSelector     string     `json:"contentSelector"`
	PublishTimeSelector string     `json:"publishTimeSelector,omitempty"`
	TitleXPath          string     `json:"titleXPath,omitempty"`
	SummaryXPath        string     `json:"summaryXPath,omitempty"`
	ContentXPath        string     `json:"contentXPath,omitempty"`
	PublishTimeXPath    string     `json:"publishTimeXPath,omitempty"`
	IsActive            bool       `json:"isActive"`
	SuccessCount        int        `json:"successCount"`
	FailCount           int        `json:"failCount"`
	LastUsedAt          *time.Time `json:"lastUsedAt,omitempty"`
	CreatedAt           time.Time  `json:"createdAt"`
}

// FailRatio returns fail/(success+fail), or zero for an unused template.
func (t *Template) FailRatio() float64 {
	total := t.SuccessCount + t.FailCount
	if total == 0 {
		return 0
	}
	return float64(t.FailCount) / float64(total)
}

// NeedsRegeneration reports whether accuracy has degraded enough to replace the template.
func (t *Template) NeedsRegeneration() bool {
	return t.FailCount >= RegenerateMinFails && t.FailRatio() > RegenerateFailRatio
}

// HasXPath reports whether any XPath variant is populated.
func (t *Template) HasXPath() bool {
	return t.TitleXPath != "" || t.ContentXPath != "" || t.SummaryXPath != "" || t.PublishTimeXPath != ""
}

// CrawlJob is the unit of work enqueued by the scheduler: one listing page of one source.
type CrawlJob struct {
	Source string `json:"source"`
	URL    string `json:"url"`
}

// QueueItem wraps a crawl job with its delivery bookkeeping.
type QueueItem struct {
	JobID       string
	Job         CrawlJob
	Attempt     int
	MaxAttempts int
	NotBefore   time.Time
	Submitted   int64
}

// FetchRequest captures everything needed to fetch a URL.
type FetchRequest struct {
	URL     string
	Source  string
	Render  bool
	Headers http.Header
}

// FetchResponse is the result returned by a Fetcher implementation.
type FetchResponse struct {
	URL          string
	StatusCode   int
	Headers      http.Header
	Body         []byte
	Duration     time.Duration
	UsedHeadless bool
}

// NewsRecord is the persisted form of an ingested article.
type NewsRecord struct {
	ID          string     `json:"id"`
	URL         string     `json:"url"`
	Source      string     `json:"source"`
	Title       string     `json:"title"`
	Summary     string     `json:"summary,omitempty"`
	FullText    string     `json:"fullText"`
	PublishTime *time.Time `json:"publishTime,omitempty"`
	Tickers     []string   `json:"tickers"`
	Method      string     `json:"extractionMethod"`
	ContentHash string     `json:"contentHash"`
	BlobURI     string     `json:"blobUri,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
}

// NewsCreated is published once per newly persisted article.
type NewsCreated struct {
	NewsID      string     `json:"newsId"`
	Title       string     `json:"title"`
	Tickers     []string   `json:"tickers"`
	PublishTime *time.Time `json:"publishTime"`
	Source      string     `json:"source"`
}
