package crawler

import (
	"context"
	"time"
)

// TemplateRepository persists extraction templates.
type TemplateRepository interface {
	// LatestActive returns the active template for source, or ErrNotFound.
	LatestActive(ctx context.Context, source string) (*Template, error)
	// Save deactivates the current active row and stores tpl as the active one.
	// A zero Version is assigned max(existing)+1.
	Save(ctx context.Context, tpl *Template) error
	// Regenerate stores tpl as a new active version with reset counters.
	Regenerate(ctx context.Context, tpl *Template) error
	IncrementSuccess(ctx context.Context, source string, usedAt time.Time) error
	IncrementFail(ctx context.Context, source string, usedAt time.Time) error
}

// NewsRepository persists ingested articles keyed by their unique URL.
type NewsRepository interface {
	ExistsByURL(ctx context.Context, url string) (bool, error)
	// Insert stores the record and reports false when the URL already exists.
	Insert(ctx context.Context, record NewsRecord) (bool, error)
}

// Cache is the key-value cache in front of the template repository.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	SetEx(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Del(ctx context.Context, key string) error
}

// BlobStore writes raw artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data []byte) (string, error)
}

// Publisher pushes events to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Fetcher fetches a URL and returns the body plus metadata.
type Fetcher interface {
	Fetch(ctx context.Context, request FetchRequest) (FetchResponse, error)
}

// HeadlessDetector decides whether a headless fetch is warranted.
type HeadlessDetector interface {
	ShouldPromote(probe FetchResponse) bool
}

// Queue provides enqueue/dequeue semantics for crawl jobs.
type Queue interface {
	Enqueue(ctx context.Context, item QueueItem) error
	Dequeue(ctx context.Context) (QueueItem, error)
}

// Hasher computes digests for deduplication/integrity.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces record IDs (UUIDs).
type IDGenerator interface {
	NewID() (string, error)
}
