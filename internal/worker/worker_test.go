package worker

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/realtime-news-extractor/internal/crawler"
	"github.com/JakeFAU/realtime-news-extractor/internal/extraction"
	"github.com/JakeFAU/realtime-news-extractor/internal/fetcher"
	"github.com/JakeFAU/realtime-news-extractor/internal/publisher/memory"
	queuememory "github.com/JakeFAU/realtime-news-extractor/internal/queue/memory"
	"github.com/JakeFAU/realtime-news-extractor/internal/sources"
	storagememory "github.com/JakeFAU/realtime-news-extractor/internal/storage/memory"
	"github.com/JakeFAU/realtime-news-extractor/internal/strategy"
	"github.com/JakeFAU/realtime-news-extractor/internal/ticker"
)

const (
	listingURL  = "https://cointelegraph.com/news"
	bitcoinURL  = "https://cointelegraph.com/news/bitcoin-surges"
	emptyURL    = "https://cointelegraph.com/news/eth-upgrade"
	listingHTML = `<html><body>
<a class="post-card-inline__title-link" href="/news/bitcoin-surges">Bitcoin surges</a>
<a class="post-card-inline__title-link" href="/news/eth-upgrade">ETH upgrade</a>
</body></html>`
	articleHTML = `<html><body>
<h1 class="post__title">Bitcoin Surges</h1>
<div class="post__text">
<p>Bitcoin climbed above seventy thousand dollars on Monday morning.</p>
<p>Traders pointed to strong inflows into spot exchange traded funds.</p>
<p>Analysts expect volatility to remain elevated through the week.</p>
</div>
</body></html>`
)

func TestWorker_ProcessJob_IngestsArticles(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.fetch.set(listingURL, listingHTML)
	h.fetch.set(bitcoinURL, articleHTML)
	h.fetch.set(emptyURL, "<html><body></body></html>")

	status := h.worker.ProcessJob(context.Background(), crawler.QueueItem{
		JobID: "job-1",
		Job:   crawler.CrawlJob{Source: string(sources.Cointelegraph), URL: listingURL},
	})
	require.Equal(t, JobSucceeded, status)

	records := h.news.All()
	require.Len(t, records, 1)
	rec := records[0]
	require.Equal(t, bitcoinURL, rec.URL)
	require.Equal(t, "Bitcoin Surges", rec.Title)
	require.Equal(t, extraction.MethodCSSSelector, rec.Method)
	require.Equal(t, []string{"BTCUSDT"}, rec.Tickers)
	require.Equal(t, "id-1", rec.ID)
	require.Equal(t, "memory://raw/cointelegraph/hash-1.html", rec.BlobURI)
	require.Equal(t, h.clock.now, rec.CreatedAt)

	_, ok := h.blobs.Object("raw/cointelegraph/hash-1.html")
	require.True(t, ok)

	msgs := h.pub.Messages()
	require.Len(t, msgs, 1)
	require.Equal(t, "news-created", msgs[0].Topic)
	event, ok := msgs[0].Payload.(crawler.NewsCreated)
	require.True(t, ok)
	require.Equal(t, crawler.NewsCreated{
		NewsID:  "id-1",
		Title:   "Bitcoin Surges",
		Tickers: []string{"BTCUSDT"},
		Source:  "cointelegraph",
	}, event)
}

func TestWorker_ProcessJob_SecondPassSkipsStoredArticles(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.fetch.set(listingURL, listingHTML)
	h.fetch.set(bitcoinURL, articleHTML)
	h.fetch.set(emptyURL, "<html><body></body></html>")

	item := crawler.QueueItem{JobID: "job-1", Job: crawler.CrawlJob{Source: "cointelegraph", URL: listingURL}}
	require.Equal(t, JobSucceeded, h.worker.ProcessJob(context.Background(), item))
	require.Equal(t, JobSucceeded, h.worker.ProcessJob(context.Background(), item))

	require.Len(t, h.news.All(), 1)
	require.Equal(t, 1, h.fetch.count(bitcoinURL))
	require.Equal(t, 2, h.fetch.count(emptyURL))
	require.Len(t, h.pub.Messages(), 1)
}

func TestWorker_ProcessArticle_Idempotent(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.fetch.set(bitcoinURL, articleHTML)

	first, err := h.worker.ProcessArticle(context.Background(), sources.Cointelegraph, bitcoinURL)
	require.NoError(t, err)
	require.Equal(t, ArticleIngested, first.Status)
	require.NotNil(t, first.Record)

	second, err := h.worker.ProcessArticle(context.Background(), sources.Cointelegraph, bitcoinURL)
	require.NoError(t, err)
	require.Equal(t, ArticleDuplicate, second.Status)
	require.Nil(t, second.Record)

	require.Len(t, h.news.All(), 1)
}

func TestWorker_ProcessArticle_InsertRaceIsDuplicate(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.fetch.set(bitcoinURL, articleHTML)
	racing := &racingNewsRepo{}
	h.worker.deps.News = racing

	result, err := h.worker.ProcessArticle(context.Background(), sources.Cointelegraph, bitcoinURL)
	require.NoError(t, err)
	require.Equal(t, ArticleDuplicate, result.Status)
	require.Empty(t, h.pub.Messages())
}

func TestWorker_ProcessArticle_BlockedStopsImmediately(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.fetch.setStatus(bitcoinURL, http.StatusUnauthorized)
	h.worker.deps.Fetcher = fetcher.New(h.fetch, nil, nil, fetcher.Config{MaxAttempts: 3, BackoffStep: time.Millisecond}, zap.NewNop())

	_, err := h.worker.ProcessArticle(context.Background(), sources.Cointelegraph, bitcoinURL)
	require.Error(t, err)

	fe, ok := crawler.AsFetchError(err)
	require.True(t, ok)
	require.Equal(t, crawler.FetchBlocked, fe.Kind)
	require.True(t, fe.Fatal())
	require.Equal(t, 1, fe.Attempts)
	require.Equal(t, 1, h.fetch.count(bitcoinURL))
	require.Empty(t, h.news.All())
}

func TestWorker_ProcessArticle_Unextractable(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.fetch.set(emptyURL, "<html><body></body></html>")

	result, err := h.worker.ProcessArticle(context.Background(), sources.Cointelegraph, emptyURL)
	require.NoError(t, err)
	require.Equal(t, ArticleUnextractable, result.Status)
	require.Empty(t, h.news.All())
}

func TestWorker_ProcessArticle_SideEffectFailuresAreLogged(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.fetch.set(bitcoinURL, articleHTML)
	h.worker.deps.Blobs = failingBlobs{}
	h.worker.deps.Publisher = failingPublisher{}

	result, err := h.worker.ProcessArticle(context.Background(), sources.Cointelegraph, bitcoinURL)
	require.NoError(t, err)
	require.Equal(t, ArticleIngested, result.Status)
	require.Empty(t, result.Record.BlobURI)
	require.Len(t, h.news.All(), 1)
}

func TestWorker_ProcessJob_ListingFailures(t *testing.T) {
	t.Parallel()

	t.Run("transient failure is requeued with backoff", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t)
		h.worker.deps.Fetcher = errFetcher{kind: crawler.FetchTransient}

		status := h.worker.ProcessJob(context.Background(), crawler.QueueItem{
			JobID: "job-2",
			Job:   crawler.CrawlJob{Source: "cointelegraph", URL: listingURL},
		})
		require.Equal(t, JobRetried, status)

		queued := h.queue.items()
		require.Len(t, queued, 1)
		require.Equal(t, 1, queued[0].Attempt)
		require.Equal(t, 3, queued[0].MaxAttempts)
		require.Equal(t, h.clock.now.Add(time.Second), queued[0].NotBefore)

		status = h.worker.ProcessJob(context.Background(), queued[0])
		require.Equal(t, JobRetried, status)
		queued = h.queue.items()
		require.Len(t, queued, 2)
		require.Equal(t, h.clock.now.Add(2*time.Second), queued[1].NotBefore)
	})

	t.Run("attempts exhausted", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t)
		h.worker.deps.Fetcher = errFetcher{kind: crawler.FetchTransient}

		status := h.worker.ProcessJob(context.Background(), crawler.QueueItem{
			Job:         crawler.CrawlJob{Source: "cointelegraph", URL: listingURL},
			Attempt:     2,
			MaxAttempts: 3,
		})
		require.Equal(t, JobFailed, status)
		require.Empty(t, h.queue.items())
	})

	t.Run("fatal failure is dropped", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t)
		h.worker.deps.Fetcher = errFetcher{kind: crawler.FetchCertExpired}

		status := h.worker.ProcessJob(context.Background(), crawler.QueueItem{
			Job: crawler.CrawlJob{Source: "cointelegraph", URL: listingURL},
		})
		require.Equal(t, JobFailed, status)
		require.Empty(t, h.queue.items())
	})

	t.Run("unknown source", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t)
		status := h.worker.ProcessJob(context.Background(), crawler.QueueItem{
			Job: crawler.CrawlJob{Source: "nope", URL: listingURL},
		})
		require.Equal(t, JobFailed, status)
		require.Zero(t, h.fetch.count(listingURL))
	})
}

func TestWorker_ProcessJob_PolitenessDelayBetweenArticles(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.fetch.set(listingURL, listingHTML)
	h.fetch.set(bitcoinURL, articleHTML)
	h.fetch.set(emptyURL, "<html><body></body></html>")
	h.worker.cfg.ArticleDelay = time.Second
	limiter := &recordingLimiter{}
	h.worker.deps.Limiter = limiter

	var delays []time.Duration
	h.worker.sleep = func(_ context.Context, d time.Duration) error {
		delays = append(delays, d)
		return nil
	}

	require.Equal(t, JobSucceeded, h.worker.ProcessJob(context.Background(), crawler.QueueItem{
		Job: crawler.CrawlJob{Source: "cointelegraph", URL: listingURL},
	}))
	require.Equal(t, []time.Duration{time.Second}, delays)
	require.Equal(t, []string{listingURL, bitcoinURL, emptyURL}, limiter.urls)
}

func TestWorker_RunConsumesQueue(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.fetch.set(listingURL, listingHTML)
	h.fetch.set(bitcoinURL, articleHTML)
	h.fetch.set(emptyURL, "<html><body></body></html>")

	q := queuememory.NewQueue(4)
	defer q.Close()
	h.worker.deps.Queue = q

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		h.worker.Run(ctx)
	}()

	require.NoError(t, q.Enqueue(ctx, crawler.QueueItem{
		JobID: "job-run",
		Job:   crawler.CrawlJob{Source: "cointelegraph", URL: listingURL},
	}))
	require.Eventually(t, func() bool { return len(h.news.All()) == 1 }, time.Second, 10*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker did not stop after cancel")
	}
}

func TestWorker_PreviewDoesNotPersist(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.fetch.set(bitcoinURL, articleHTML)

	content, method, tickers, err := h.worker.Preview(context.Background(), sources.Cointelegraph, bitcoinURL)
	require.NoError(t, err)
	require.Equal(t, "Bitcoin Surges", content.Title)
	require.Equal(t, extraction.MethodCSSSelector, method)
	require.Equal(t, []string{"BTCUSDT"}, tickers)
	require.Empty(t, h.news.All())
	require.Empty(t, h.pub.Messages())
	require.Zero(t, h.blobs.Len())

	h.fetch.set(emptyURL, "<html><body></body></html>")
	_, _, _, err = h.worker.Preview(context.Background(), sources.Cointelegraph, emptyURL)
	require.ErrorIs(t, err, crawler.ErrAllMethodsExhausted)
}

func TestWorker_BlobPath(t *testing.T) {
	t.Parallel()

	w := New(Dependencies{}, Config{BlobPrefix: "/archive/"}, nil)
	require.Equal(t, "archive/decrypt/abc.html", w.blobPath("decrypt", "abc"))
	w = New(Dependencies{}, Config{}, nil)
	require.Equal(t, "decrypt/abc.html", w.blobPath("decrypt", "abc"))
}

type harness struct {
	worker *Worker
	fetch  *fakeFetcher
	news   *storagememory.NewsStore
	blobs  *storagememory.BlobStore
	pub    *memory.Publisher
	queue  *fakeQueue
	clock  *fakeClock
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	registry := strategy.NewRegistry(sources.All())
	chain := extraction.NewChain(zap.NewNop(),
		extraction.CSSSelectorMethod{},
		extraction.XPathMethod{},
		extraction.GenericCSSMethod{},
		extraction.ReadabilityMethod{},
	)
	h := &harness{
		fetch: newFakeFetcher(),
		news:  storagememory.NewNewsStore(),
		blobs: storagememory.NewBlobStore(),
		pub:   memory.New(),
		queue: &fakeQueue{},
		clock: &fakeClock{now: time.Date(2024, 3, 11, 9, 0, 0, 0, time.UTC)},
	}
	h.worker = New(Dependencies{
		Queue:     h.queue,
		Fetcher:   h.fetch,
		Extractor: extraction.NewExtractor(chain, registry, nil),
		Tickers:   ticker.New(ticker.DefaultVocabulary, nil, zap.NewNop()),
		News:      h.news,
		Blobs:     h.blobs,
		Publisher: h.pub,
		Hasher:    &fakeHasher{},
		IDs:       &fakeIDs{},
		Clock:     h.clock,
	}, Config{
		BlobPrefix:     "raw",
		Topic:          "news-created",
		JobBackoffBase: time.Second,
	}, zap.NewNop())
	return h
}

type fakeFetcher struct {
	mu       sync.Mutex
	bodies   map[string]string
	statuses map[string]int
	calls    map[string]int
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{
		bodies:   make(map[string]string),
		statuses: make(map[string]int),
		calls:    make(map[string]int),
	}
}

func (f *fakeFetcher) set(url, body string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.bodies[url] = body
}

func (f *fakeFetcher) setStatus(url string, status int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statuses[url] = status
}

func (f *fakeFetcher) count(url string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[url]
}

func (f *fakeFetcher) Fetch(_ context.Context, req crawler.FetchRequest) (crawler.FetchResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[req.URL]++
	if status, ok := f.statuses[req.URL]; ok {
		return crawler.FetchResponse{URL: req.URL, StatusCode: status}, nil
	}
	body, ok := f.bodies[req.URL]
	if !ok {
		return crawler.FetchResponse{}, &crawler.FetchError{URL: req.URL, Kind: crawler.FetchPermanent, StatusCode: http.StatusNotFound, Err: errors.New("not found")}
	}
	return crawler.FetchResponse{URL: req.URL, StatusCode: http.StatusOK, Body: []byte(body)}, nil
}

type errFetcher struct {
	kind crawler.FetchErrorKind
}

func (f errFetcher) Fetch(_ context.Context, req crawler.FetchRequest) (crawler.FetchResponse, error) {
	return crawler.FetchResponse{}, &crawler.FetchError{URL: req.URL, Kind: f.kind, Err: errors.New("boom")}
}

type fakeQueue struct {
	mu     sync.Mutex
	queued []crawler.QueueItem
}

func (q *fakeQueue) Enqueue(_ context.Context, item crawler.QueueItem) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.queued = append(q.queued, item)
	return nil
}

func (q *fakeQueue) Dequeue(ctx context.Context) (crawler.QueueItem, error) {
	<-ctx.Done()
	return crawler.QueueItem{}, ctx.Err()
}

func (q *fakeQueue) items() []crawler.QueueItem {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]crawler.QueueItem(nil), q.queued...)
}

type fakeHasher struct {
	mu sync.Mutex
	n  int
}

func (h *fakeHasher) Hash(_ []byte) (string, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.n++
	return "hash-" + strconv.Itoa(h.n), nil
}

type fakeIDs struct {
	mu sync.Mutex
	n  int
}

func (g *fakeIDs) NewID() (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	return "id-" + strconv.Itoa(g.n), nil
}

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	return c.now
}

type racingNewsRepo struct{}

func (racingNewsRepo) ExistsByURL(context.Context, string) (bool, error) { return false, nil }

func (racingNewsRepo) Insert(context.Context, crawler.NewsRecord) (bool, error) { return false, nil }

type recordingLimiter struct {
	urls []string
}

func (l *recordingLimiter) Wait(_ context.Context, rawURL string) error {
	l.urls = append(l.urls, rawURL)
	return nil
}

type failingBlobs struct{}

func (failingBlobs) PutObject(context.Context, string, string, []byte) (string, error) {
	return "", errors.New("bucket unavailable")
}

type failingPublisher struct{}

func (failingPublisher) Publish(context.Context, string, any) (string, error) {
	return "", errors.New("topic missing")
}
