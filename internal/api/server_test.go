package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/realtime-news-extractor/internal/crawler"
	"github.com/JakeFAU/realtime-news-extractor/internal/sources"
)

func TestServer_Health(t *testing.T) {
	t.Parallel()

	srv := NewServer(Dependencies{}, zap.NewNop())
	rec := do(t, srv, http.MethodGet, "/healthz", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
	require.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestServer_Readyz(t *testing.T) {
	t.Parallel()

	ok := NewServer(Dependencies{Checks: []ReadinessCheck{{Name: "db", Check: func(context.Context) error { return nil }}}}, nil)
	require.Equal(t, http.StatusOK, do(t, ok, http.MethodGet, "/readyz", "").Code)

	failing := NewServer(Dependencies{Checks: []ReadinessCheck{
		{Name: "db", Check: func(context.Context) error { return nil }},
		{Name: "redis", Check: func(context.Context) error { return errors.New("connection refused") }},
	}}, nil)
	rec := do(t, failing, http.MethodGet, "/readyz", "")
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	require.Contains(t, rec.Body.String(), "redis")
	require.NotContains(t, rec.Body.String(), `"db"`)
}

func TestServer_Metrics(t *testing.T) {
	t.Parallel()

	srv := NewServer(Dependencies{}, nil)
	do(t, srv, http.MethodGet, "/healthz", "")
	rec := do(t, srv, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "# TYPE")
}

func TestServer_GetTemplate(t *testing.T) {
	t.Parallel()

	templates := &fakeTemplates{bysource: map[string]*crawler.Template{
		"coindesk": {Source: "coindesk", Version: 3, TitleSelector: "h1", ContentSelector: "article", SuccessCount: 3, FailCount: 5, IsActive: true},
	}}
	srv := NewServer(Dependencies{Templates: templates}, nil)

	rec := do(t, srv, http.MethodGet, "/v1/templates/coindesk", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var body templateResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, 3, body.Template.Version)
	require.InDelta(t, 0.625, body.FailRatio, 1e-9)
	require.True(t, body.NeedsRegeneration)

	require.Equal(t, http.StatusNotFound, do(t, srv, http.MethodGet, "/v1/templates/decrypt", "").Code)
	require.Equal(t, http.StatusNotFound, do(t, srv, http.MethodGet, "/v1/templates/nope", "").Code)

	templates.err = errors.New("db down")
	require.Equal(t, http.StatusInternalServerError, do(t, srv, http.MethodGet, "/v1/templates/coindesk", "").Code)
}

func TestServer_TriggerCrawl(t *testing.T) {
	t.Parallel()

	crawls := &fakeCrawls{enabled: map[sources.ID]bool{sources.Decrypt: true}}
	srv := NewServer(Dependencies{Crawls: crawls}, nil)

	rec := do(t, srv, http.MethodPost, "/v1/sources/Decrypt/crawl", "")
	require.Equal(t, http.StatusAccepted, rec.Code)
	require.JSONEq(t, `{"source":"decrypt","job_ids":["decrypt-job"]}`, rec.Body.String())

	require.Equal(t, http.StatusNotFound, do(t, srv, http.MethodPost, "/v1/sources/coindesk/crawl", "").Code)
	require.Equal(t, http.StatusNotFound, do(t, srv, http.MethodPost, "/v1/sources/unknown/crawl", "").Code)

	crawls.err = errors.New("queue closed")
	require.Equal(t, http.StatusServiceUnavailable, do(t, srv, http.MethodPost, "/v1/sources/decrypt/crawl", "").Code)
}

func TestServer_Extract(t *testing.T) {
	t.Parallel()

	preview := &fakePreviewer{
		content: &crawler.ExtractedContent{Title: "Bitcoin Surges", FullText: "body"},
		method:  "css_selector",
		tickers: []string{"BTCUSDT"},
	}
	srv := NewServer(Dependencies{Previewer: preview}, nil)

	rec := do(t, srv, http.MethodPost, "/v1/extract", `{"url":"https://cointelegraph.com/news/bitcoin-surges","source":"Cointelegraph"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	var body extractResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, "css_selector", body.Method)
	require.Equal(t, "Bitcoin Surges", body.Content.Title)
	require.Equal(t, []string{"BTCUSDT"}, body.Tickers)
	require.Equal(t, sources.Cointelegraph, preview.lastSource)

	tests := []struct {
		name string
		body string
		err  error
		want int
	}{
		{name: "invalid json", body: `{`, want: http.StatusBadRequest},
		{name: "missing url", body: `{"source":"decrypt"}`, want: http.StatusBadRequest},
		{name: "relative url", body: `{"url":"/news/x"}`, want: http.StatusBadRequest},
		{name: "unknown source", body: `{"url":"https://a.example/x","source":"not-a-publisher"}`, want: http.StatusBadRequest},
		{name: "blocked", body: `{"url":"https://a.example/x"}`, err: &crawler.FetchError{Kind: crawler.FetchBlocked, StatusCode: 403}, want: http.StatusBadGateway},
		{name: "exhausted", body: `{"url":"https://a.example/x"}`, err: fmt.Errorf("extract article: %w", crawler.ErrAllMethodsExhausted), want: http.StatusUnprocessableEntity},
		{name: "timeout", body: `{"url":"https://a.example/x"}`, err: context.DeadlineExceeded, want: http.StatusGatewayTimeout},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			srv := NewServer(Dependencies{Previewer: &fakePreviewer{err: tt.err}}, nil)
			require.Equal(t, tt.want, do(t, srv, http.MethodPost, "/v1/extract", tt.body).Code)
		})
	}
}

func TestServer_ExtractRejectsUnknownSource(t *testing.T) {
	t.Parallel()

	preview := &fakePreviewer{content: &crawler.ExtractedContent{Title: "t", FullText: "b"}}
	srv := NewServer(Dependencies{Previewer: preview}, nil)

	rec := do(t, srv, http.MethodPost, "/v1/extract", `{"url":"https://a.example/x","source":"../../etc"}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Contains(t, rec.Body.String(), "unknown source")
	require.Zero(t, preview.calls)

	rec = do(t, srv, http.MethodPost, "/v1/extract", `{"url":"https://a.example/x","source":"  "}`)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, 1, preview.calls)
	require.Empty(t, preview.lastSource)
}

func TestServer_RecoversPanics(t *testing.T) {
	t.Parallel()

	srv := NewServer(Dependencies{Previewer: panicPreviewer{}}, nil)
	rec := do(t, srv, http.MethodPost, "/v1/extract", `{"url":"https://a.example/x"}`)
	require.Equal(t, http.StatusInternalServerError, rec.Code)
}

func do(t *testing.T, srv *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body == "" {
		reader = bytes.NewReader(nil)
	} else {
		reader = bytes.NewReader([]byte(body))
	}
	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	return rec
}

type fakeTemplates struct {
	bysource map[string]*crawler.Template
	err      error
}

func (f *fakeTemplates) GetTemplate(_ context.Context, source string) (*crawler.Template, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.bysource[source], nil
}

type fakeCrawls struct {
	enabled map[sources.ID]bool
	err     error
}

func (f *fakeCrawls) EnqueueSource(_ context.Context, id sources.ID) ([]string, error) {
	if !f.enabled[id] {
		return nil, fmt.Errorf("source %q: %w", id, crawler.ErrNotFound)
	}
	if f.err != nil {
		return nil, f.err
	}
	return []string{strings.ToLower(string(id)) + "-job"}, nil
}

type fakePreviewer struct {
	content    *crawler.ExtractedContent
	method     string
	tickers    []string
	err        error
	lastSource sources.ID
	calls      int
}

func (f *fakePreviewer) Preview(_ context.Context, source sources.ID, _ string) (*crawler.ExtractedContent, string, []string, error) {
	f.lastSource = source
	f.calls++
	if f.err != nil {
		return nil, "", nil, f.err
	}
	return f.content, f.method, f.tickers, nil
}

type panicPreviewer struct{}

func (panicPreviewer) Preview(context.Context, sources.ID, string) (*crawler.ExtractedContent, string, []string, error) {
	panic("boom")
}
