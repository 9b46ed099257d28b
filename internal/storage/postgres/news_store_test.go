package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/realtime-news-extractor/internal/crawler"
)

func TestNewsStore_ExistsByURL(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()
	store, err := NewNewsStore(mock, "")
	require.NoError(t, err)

	mock.ExpectQuery("SELECT EXISTS").
		WithArgs("https://example.com/a").
		WillReturnRows(mock.NewRows([]string{"exists"}).AddRow(true))

	exists, err := store.ExistsByURL(context.Background(), "https://example.com/a")
	require.NoError(t, err)
	require.True(t, exists)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestNewsStore_InsertReportsConflict(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()
	store, err := NewNewsStore(mock, "news")
	require.NoError(t, err)

	published := time.Unix(1_700_000_000, 0).UTC()
	rec := crawler.NewsRecord{
		ID:          "id-1",
		URL:         "https://example.com/a",
		Source:      "coindesk",
		Title:       "Bitcoin Surges",
		FullText:    "body",
		PublishTime: &published,
		Tickers:     []string{"BTCUSDT"},
		Method:      "css_selector",
		ContentHash: "abc",
		CreatedAt:   published,
	}
	args := []any{rec.ID, rec.URL, rec.Source, rec.Title, rec.Summary, rec.FullText, rec.PublishTime,
		rec.Tickers, rec.Method, rec.ContentHash, rec.BlobURI, rec.CreatedAt}

	mock.ExpectExec("INSERT INTO news").WithArgs(args...).WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("INSERT INTO news").WithArgs(args...).WillReturnResult(pgxmock.NewResult("INSERT", 0))

	inserted, err := store.Insert(context.Background(), rec)
	require.NoError(t, err)
	require.True(t, inserted)

	inserted, err = store.Insert(context.Background(), rec)
	require.NoError(t, err)
	require.False(t, inserted)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestNewsStore_InsertErrors(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()
	store, err := NewNewsStore(mock, "")
	require.NoError(t, err)

	_, err = store.Insert(context.Background(), crawler.NewsRecord{URL: "https://example.com"})
	require.Error(t, err)

	mock.ExpectExec("INSERT INTO news").
		WithArgs(append([]any{"x", "https://example.com"}, anyArgs(10)...)...).
		WillReturnError(errors.New("connection reset"))
	_, err = store.Insert(context.Background(), crawler.NewsRecord{ID: "x", URL: "https://example.com"})
	require.ErrorContains(t, err, "insert news")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEnsureSchema(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS extraction_templates").WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectExec("CREATE INDEX IF NOT EXISTS extraction_templates_active_idx").WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS news").WillReturnResult(pgxmock.NewResult("CREATE", 0))

	require.NoError(t, EnsureSchema(context.Background(), mock, "", ""))
	require.NoError(t, mock.ExpectationsWereMet())

	require.Error(t, EnsureSchema(context.Background(), mock, "bad table", ""))
}
