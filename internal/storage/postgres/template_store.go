package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/JakeFAU/realtime-news-extractor/internal/crawler"
)

// TemplateStore persists extraction templates.
type TemplateStore struct {
	pool  Pool
	table string
}

// NewTemplateStore wraps a pool (a *pgxpool.Pool in production, pgxmock in tests).
func NewTemplateStore(pool Pool, table string) (*TemplateStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	name, err := tableName(table, DefaultTemplateTable)
	if err != nil {
		return nil, err
	}
	return &TemplateStore{pool: pool, table: name}, nil
}

// LatestActive returns the active template for source or crawler.ErrNotFound.
func (s *TemplateStore) LatestActive(ctx context.Context, source string) (*crawler.Template, error) {
	query := fmt.Sprintf(`SELECT id, source, version,
	title_selector, summary_selector, content_selector, publish_time_selector,
	title_xpath, summary_xpath, content_xpath, publish_time_xpath,
	is_active, success_count, fail_count, last_used_at, created_at
FROM %s WHERE source = $1 AND is_active ORDER BY version DESC LIMIT 1`, s.table)

	var tpl crawler.Template
	err := s.pool.QueryRow(ctx, query, source).Scan(
		&tpl.ID,
		&tpl.Source,
		&tpl.Version,
		&tpl.TitleSelector,
		&tpl.SummarySelector,
		&tpl.ContentSelector,
		&tpl.PublishTimeSelector,
		&tpl.TitleXPath,
		&tpl.SummaryXPath,
		&tpl.ContentXPath,
		&tpl.PublishTimeXPath,
		&tpl.IsActive,
		&tpl.SuccessCount,
		&tpl.FailCount,
		&tpl.LastUsedAt,
		&tpl.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, crawler.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select active template: %w", err)
	}
	return &tpl, nil
}

// Save stores tpl as the new active version, keeping its counters.
func (s *TemplateStore) Save(ctx context.Context, tpl *crawler.Template) error {
	return s.insertActive(ctx, tpl, false)
}

// Regenerate stores tpl as the new active version with zeroed counters.
func (s *TemplateStore) Regenerate(ctx context.Context, tpl *crawler.Template) error {
	return s.insertActive(ctx, tpl, true)
}

// insertActive deactivates the current rows, assigns version max+1, and inserts tpl
// in a single transaction.
func (s *TemplateStore) insertActive(ctx context.Context, tpl *crawler.Template, resetCounters bool) (err error) {
	if tpl == nil || tpl.Source == "" {
		return fmt.Errorf("template source is required")
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin template tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	deactivate := fmt.Sprintf(`UPDATE %s SET is_active = FALSE WHERE source = $1 AND is_active`, s.table)
	if _, err = tx.Exec(ctx, deactivate, tpl.Source); err != nil {
		return fmt.Errorf("deactivate templates: %w", err)
	}

	var maxVersion int
	maxQuery := fmt.Sprintf(`SELECT COALESCE(MAX(version), 0) FROM %s WHERE source = $1`, s.table)
	if err = tx.QueryRow(ctx, maxQuery, tpl.Source).Scan(&maxVersion); err != nil {
		return fmt.Errorf("select max template version: %w", err)
	}

	tpl.Version = maxVersion + 1
	tpl.IsActive = true
	if resetCounters {
		tpl.SuccessCount = 0
		tpl.FailCount = 0
		tpl.LastUsedAt = nil
	}
	if tpl.CreatedAt.IsZero() {
		tpl.CreatedAt = time.Now().UTC()
	}

	insert := fmt.Sprintf(`INSERT INTO %s (
	source, version,
	title_selector, summary_selector, content_selector, publish_time_selector,
	title_xpath, summary_xpath, content_xpath, publish_time_xpath,
	is_active, success_count, fail_count, last_used_at, created_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15) RETURNING id`, s.table)
	err = tx.QueryRow(ctx, insert,
		tpl.Source,
		tpl.Version,
		tpl.TitleSelector,
		tpl.SummarySelector,
		tpl.ContentSelector,
		tpl.PublishTimeSelector,
		tpl.TitleXPath,
		tpl.SummaryXPath,
		tpl.ContentXPath,
		tpl.PublishTimeXPath,
		tpl.IsActive,
		tpl.SuccessCount,
		tpl.FailCount,
		tpl.LastUsedAt,
		tpl.CreatedAt,
	).Scan(&tpl.ID)
	if err != nil {
		return fmt.Errorf("insert template: %w", err)
	}
	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit template tx: %w", err)
	}
	return nil
}

// IncrementSuccess bumps the active template's success counter.
func (s *TemplateStore) IncrementSuccess(ctx context.Context, source string, usedAt time.Time) error {
	return s.increment(ctx, "success_count", source, usedAt)
}

// IncrementFail bumps the active template's failure counter.
func (s *TemplateStore) IncrementFail(ctx context.Context, source string, usedAt time.Time) error {
	return s.increment(ctx, "fail_count", source, usedAt)
}

func (s *TemplateStore) increment(ctx context.Context, column, source string, usedAt time.Time) error {
	query := fmt.Sprintf(`UPDATE %s SET %s = %s + 1, last_used_at = $2 WHERE source = $1 AND is_active`,
		s.table, column, column)
	tag, err := s.pool.Exec(ctx, query, source, usedAt)
	if err != nil {
		return fmt.Errorf("increment %s: %w", column, err)
	}
	if tag.RowsAffected() == 0 {
		return crawler.ErrNotFound
	}
	return nil
}
