package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/JakeFAU/realtime-news-extractor/internal/crawler"
)

// TemplateStore implements crawler.TemplateRepository with per-source version history.
type TemplateStore struct {
	mu      sync.Mutex
	nextID  int64
	history map[string][]crawler.Template
}

// NewTemplateStore creates an empty store.
func NewTemplateStore() *TemplateStore {
	return &TemplateStore{history: make(map[string][]crawler.Template)}
}

// LatestActive returns a copy of the active template for source.
func (s *TemplateStore) LatestActive(_ context.Context, source string) (*crawler.Template, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if i := s.activeIndex(source); i >= 0 {
		tpl := s.history[source][i]
		return &tpl, nil
	}
	return nil, crawler.ErrNotFound
}

// Save stores tpl as the new active version, keeping its counters.
func (s *TemplateStore) Save(_ context.Context, tpl *crawler.Template) error {
	return s.insertActive(tpl, false)
}

// Regenerate stores tpl as the new active version with zeroed counters.
func (s *TemplateStore) Regenerate(_ context.Context, tpl *crawler.Template) error {
	return s.insertActive(tpl, true)
}

func (s *TemplateStore) insertActive(tpl *crawler.Template, reset bool) error {
	if tpl == nil || tpl.Source == "" {
		return fmt.Errorf("template source is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	rows := s.history[tpl.Source]
	maxVersion := 0
	for i := range rows {
		rows[i].IsActive = false
		if rows[i].Version > maxVersion {
			maxVersion = rows[i].Version
		}
	}
	s.nextID++
	tpl.ID = s.nextID
	tpl.Version = maxVersion + 1
	tpl.IsActive = true
	if reset {
		tpl.SuccessCount = 0
		tpl.FailCount = 0
		tpl.LastUsedAt = nil
	}
	if tpl.CreatedAt.IsZero() {
		tpl.CreatedAt = time.Now().UTC()
	}
	s.history[tpl.Source] = append(rows, *tpl)
	return nil
}

// IncrementSuccess bumps the active template's success counter.
func (s *TemplateStore) IncrementSuccess(_ context.Context, source string, usedAt time.Time) error {
	return s.increment(source, usedAt, func(t *crawler.Template) { t.SuccessCount++ })
}

// IncrementFail bumps the active template's failure counter.
func (s *TemplateStore) IncrementFail(_ context.Context, source string, usedAt time.Time) error {
	return s.increment(source, usedAt, func(t *crawler.Template) { t.FailCount++ })
}

func (s *TemplateStore) increment(source string, usedAt time.Time, bump func(*crawler.Template)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.activeIndex(source)
	if i < 0 {
		return crawler.ErrNotFound
	}
	row := &s.history[source][i]
	bump(row)
	at := usedAt
	row.LastUsedAt = &at
	return nil
}

// Versions returns every stored version for source, oldest first.
func (s *TemplateStore) Versions(source string) []crawler.Template {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]crawler.Template(nil), s.history[source]...)
}

func (s *TemplateStore) activeIndex(source string) int {
	rows := s.history[source]
	for i := len(rows) - 1; i >= 0; i-- {
		if rows[i].IsActive {
			return i
		}
	}
	return -1
}
