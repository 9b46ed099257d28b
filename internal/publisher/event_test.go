package publisher

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/realtime-news-extractor/internal/crawler"
)

func TestEncode(t *testing.T) {
	t.Parallel()

	data, attrs, err := Encode(crawler.NewsCreated{NewsID: "n-1", Title: "Bitcoin Surges", Tickers: []string{"BTCUSDT"}, Source: "coindesk"})
	require.NoError(t, err)
	require.JSONEq(t, `{"newsId":"n-1","title":"Bitcoin Surges","tickers":["BTCUSDT"],"publishTime":null,"source":"coindesk"}`, string(data))
	require.Equal(t, map[string]string{"event": EventNewsCreated, "source": "coindesk", "news_id": "n-1"}, attrs)

	_, attrs, err = Encode(map[string]string{"k": "v"})
	require.NoError(t, err)
	require.Empty(t, attrs)

	_, _, err = Encode(func() {})
	require.Error(t, err)
}
