package fetcher

import (
	"context"
	"crypto/x509"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/realtime-news-extractor/internal/crawler"
	collyfetcher "github.com/JakeFAU/realtime-news-extractor/internal/fetcher/colly"
)

func TestFetch_UnauthorizedStopsImmediately(t *testing.T) {
	t.Parallel()

	httpFetcher := &scriptedFetcher{steps: []step{{status: 401}}}
	f, delays := newTestFetcher(httpFetcher, nil, nil)

	_, err := f.Fetch(context.Background(), crawler.FetchRequest{URL: "https://example.com/a/b"})
	ferr, ok := crawler.AsFetchError(err)
	require.True(t, ok)
	require.Equal(t, crawler.FetchBlocked, ferr.Kind)
	require.True(t, ferr.Fatal())
	require.Equal(t, 1, ferr.Attempts)
	require.Equal(t, 1, httpFetcher.callCount())
	require.Empty(t, *delays)
}

func TestFetch_RetriesTransientWithLinearBackoff(t *testing.T) {
	t.Parallel()

	httpFetcher := &scriptedFetcher{steps: []step{{status: 503}, {err: errors.New("connection reset by peer")}, {status: 200, body: "ok"}}}
	f, delays := newTestFetcher(httpFetcher, nil, nil)

	resp, err := f.Fetch(context.Background(), crawler.FetchRequest{URL: "https://example.com/a/b"})
	require.NoError(t, err)
	require.Equal(t, "ok", string(resp.Body))
	require.Equal(t, []time.Duration{2 * time.Second, 4 * time.Second}, *delays)
}

func TestFetch_GivesUpAfterMaxAttempts(t *testing.T) {
	t.Parallel()

	httpFetcher := &scriptedFetcher{steps: []step{{status: 500}, {status: 502}, {status: 504}, {status: 200}}}
	f, _ := newTestFetcher(httpFetcher, nil, nil)

	_, err := f.Fetch(context.Background(), crawler.FetchRequest{URL: "https://example.com/a/b"})
	ferr, ok := crawler.AsFetchError(err)
	require.True(t, ok)
	require.Equal(t, crawler.FetchTransient, ferr.Kind)
	require.Equal(t, 504, ferr.StatusCode)
	require.Equal(t, 3, ferr.Attempts)
	require.Equal(t, 3, httpFetcher.callCount())
}

func TestFetch_FatalTransportErrors(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		err  error
		want crawler.FetchErrorKind
	}{
		{
			name: "expired certificate",
			err:  &url.Error{Op: "Get", URL: "https://x", Err: x509.CertificateInvalidError{Reason: x509.Expired}},
			want: crawler.FetchCertExpired,
		},
		{
			name: "header overflow",
			err:  errors.New("net/http: server response headers exceeded 1048576 bytes; aborted"),
			want: crawler.FetchHeaderOverflow,
		},
		{
			name: "redirect loop",
			err:  fmt.Errorf("colly visit failed: %w", collyfetcher.ErrTooManyRedirects),
			want: crawler.FetchPermanent,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			httpFetcher := &scriptedFetcher{steps: []step{{err: tc.err}, {status: 200}}}
			f, _ := newTestFetcher(httpFetcher, nil, nil)
			_, err := f.Fetch(context.Background(), crawler.FetchRequest{URL: "https://example.com/a/b"})
			ferr, ok := crawler.AsFetchError(err)
			require.True(t, ok)
			require.Equal(t, tc.want, ferr.Kind)
			require.Equal(t, 1, httpFetcher.callCount())
		})
	}
}

func TestFetch_RenderUsesHeadless(t *testing.T) {
	t.Parallel()

	httpFetcher := &scriptedFetcher{steps: []step{{status: 200, body: "http"}}}
	browser := &scriptedFetcher{headless: true, steps: []step{{status: 200, body: "rendered"}}}
	f, _ := newTestFetcher(httpFetcher, browser, nil)

	resp, err := f.Fetch(context.Background(), crawler.FetchRequest{URL: "https://example.com/a/b", Render: true})
	require.NoError(t, err)
	require.Equal(t, "rendered", string(resp.Body))
	require.True(t, resp.UsedHeadless)
	require.Zero(t, httpFetcher.callCount())
}

func TestFetch_RenderWithoutBrowserFallsBackToHTTP(t *testing.T) {
	t.Parallel()

	httpFetcher := &scriptedFetcher{steps: []step{{status: 200, body: "http"}}}
	f, _ := newTestFetcher(httpFetcher, nil, nil)

	resp, err := f.Fetch(context.Background(), crawler.FetchRequest{URL: "https://example.com/a/b", Render: true})
	require.NoError(t, err)
	require.Equal(t, "http", string(resp.Body))
}

func TestFetch_PromotesSPAShell(t *testing.T) {
	t.Parallel()

	httpFetcher := &scriptedFetcher{steps: []step{{status: 200, body: "shell"}, {status: 200, body: "shell"}}}
	browser := &scriptedFetcher{headless: true, steps: []step{{status: 200, body: "rendered"}, {err: errors.New("chrome crashed")}}}
	f, _ := newTestFetcher(httpFetcher, browser, promoteAll{})

	resp, err := f.Fetch(context.Background(), crawler.FetchRequest{URL: "https://example.com/a/b"})
	require.NoError(t, err)
	require.Equal(t, "rendered", string(resp.Body))

	resp, err = f.Fetch(context.Background(), crawler.FetchRequest{URL: "https://example.com/a/b"})
	require.NoError(t, err)
	require.Equal(t, "shell", string(resp.Body), "failed promotion keeps the http response")
}

func TestFetch_CanceledDuringBackoff(t *testing.T) {
	t.Parallel()

	httpFetcher := &scriptedFetcher{steps: []step{{status: 503}, {status: 200}}}
	f := New(httpFetcher, nil, nil, Config{BackoffStep: time.Hour}, zap.NewNop())
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := f.Fetch(ctx, crawler.FetchRequest{URL: "https://example.com/a/b"})
	ferr, ok := crawler.AsFetchError(err)
	require.True(t, ok)
	require.False(t, ferr.Retryable())
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestClassify_Statuses(t *testing.T) {
	t.Parallel()

	cases := map[int]crawler.FetchErrorKind{
		401: crawler.FetchBlocked,
		403: crawler.FetchBlocked,
		404: crawler.FetchPermanent,
		410: crawler.FetchPermanent,
		429: crawler.FetchTransient,
		500: crawler.FetchTransient,
		503: crawler.FetchTransient,
	}
	for status, want := range cases {
		ferr := Classify("https://example.com", status, nil)
		require.NotNil(t, ferr, "status %d", status)
		require.Equal(t, want, ferr.Kind, "status %d", status)
	}
	require.Nil(t, Classify("https://example.com", 204, nil))
	require.Equal(t, crawler.FetchPermanent, Classify("u", 0, context.Canceled).Kind)
	require.Equal(t, crawler.FetchTransient, Classify("u", 0, context.DeadlineExceeded).Kind)
	require.Equal(t, crawler.FetchCertExpired, Classify("u", 0, errors.New("x509: certificate has expired or is not yet valid")).Kind)
}

func newTestFetcher(httpFetcher, headless crawler.Fetcher, detector crawler.HeadlessDetector) (*Fetcher, *[]time.Duration) {
	f := New(httpFetcher, headless, detector, Config{}, zap.NewNop())
	delays := &[]time.Duration{}
	f.sleep = func(_ context.Context, d time.Duration) error {
		*delays = append(*delays, d)
		return nil
	}
	return f, delays
}

type step struct {
	status int
	body   string
	err    error
}

type scriptedFetcher struct {
	mu       sync.Mutex
	steps    []step
	calls    int
	headless bool
}

func (s *scriptedFetcher) Fetch(_ context.Context, req crawler.FetchRequest) (crawler.FetchResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.steps[min(s.calls, len(s.steps)-1)]
	s.calls++
	if st.err != nil {
		return crawler.FetchResponse{}, st.err
	}
	return crawler.FetchResponse{URL: req.URL, StatusCode: st.status, Body: []byte(st.body), UsedHeadless: s.headless}, nil
}

func (s *scriptedFetcher) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

type promoteAll struct{}

func (promoteAll) ShouldPromote(crawler.FetchResponse) bool { return true }
