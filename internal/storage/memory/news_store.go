package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/JakeFAU/realtime-news-extractor/internal/crawler"
)

// NewsStore implements crawler.NewsRepository keyed by URL.
type NewsStore struct {
	mu    sync.RWMutex
	byURL map[string]crawler.NewsRecord
	order []string
}

// NewNewsStore creates an empty store.
func NewNewsStore() *NewsStore {
	return &NewsStore{byURL: make(map[string]crawler.NewsRecord)}
}

// ExistsByURL reports whether url was already ingested.
func (s *NewsStore) ExistsByURL(_ context.Context, url string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.byURL[url]
	return ok, nil
}

// Insert stores record unless its URL is already present.
func (s *NewsStore) Insert(_ context.Context, record crawler.NewsRecord) (bool, error) {
	if record.ID == "" || record.URL == "" {
		return false, fmt.Errorf("news id and url are required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byURL[record.URL]; ok {
		return false, nil
	}
	record.Tickers = append([]string(nil), record.Tickers...)
	s.byURL[record.URL] = record
	s.order = append(s.order, record.URL)
	return true, nil
}

// All returns stored records in insertion order.
func (s *NewsStore) All() []crawler.NewsRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]crawler.NewsRecord, 0, len(s.order))
	for _, url := range s.order {
		out = append(out, s.byURL[url])
	}
	return out
}
