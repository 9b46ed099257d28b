package postgres

import (
	"context"
	"fmt"

	"github.com/JakeFAU/realtime-news-extractor/internal/crawler"
)

// NewsStore persists ingested articles, unique by URL.
type NewsStore struct {
	pool  Pool
	table string
}

// NewNewsStore wraps a pool (a *pgxpool.Pool in production, pgxmock in tests).
func NewNewsStore(pool Pool, table string) (*NewsStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	name, err := tableName(table, DefaultNewsTable)
	if err != nil {
		return nil, err
	}
	return &NewsStore{pool: pool, table: name}, nil
}

// ExistsByURL reports whether an article with url was already ingested.
func (s *NewsStore) ExistsByURL(ctx context.Context, url string) (bool, error) {
	var exists bool
	query := fmt.Sprintf(`SELECT EXISTS (SELECT 1 FROM %s WHERE url = $1)`, s.table)
	if err := s.pool.QueryRow(ctx, query, url).Scan(&exists); err != nil {
		return false, fmt.Errorf("select news exists: %w", err)
	}
	return exists, nil
}

// Insert stores record; it returns false when the URL is already present.
func (s *NewsStore) Insert(ctx context.Context, record crawler.NewsRecord) (bool, error) {
	if record.ID == "" || record.URL == "" {
		return false, fmt.Errorf("news id and url are required")
	}
	tickers := record.Tickers
	if tickers == nil {
		tickers = []string{}
	}
	query := fmt.Sprintf(`INSERT INTO %s (
	id, url, source, title, summary, full_text, publish_time,
	tickers, extraction_method, content_hash, blob_uri, created_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
ON CONFLICT (url) DO NOTHING`, s.table)

	tag, err := s.pool.Exec(ctx, query,
		record.ID,
		record.URL,
		record.Source,
		record.Title,
		record.Summary,
		record.FullText,
		record.PublishTime,
		tickers,
		record.Method,
		record.ContentHash,
		record.BlobURI,
		record.CreatedAt,
	)
	if err != nil {
		return false, fmt.Errorf("insert news: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}
