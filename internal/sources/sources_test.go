package sources

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestIsArticleURL(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		source ID
		url    string
		want   bool
	}{
		{name: "cointelegraph article", source: Cointelegraph, url: "https://cointelegraph.com/news/bitcoin-surges-past-70k", want: true},
		{name: "cointelegraph listing", source: Cointelegraph, url: "https://cointelegraph.com/news", want: false},
		{name: "cointelegraph tag", source: Cointelegraph, url: "https://cointelegraph.com/tags/bitcoin", want: false},
		{name: "coindesk dated article", source: CoinDesk, url: "https://www.coindesk.com/markets/2024/05/01/bitcoin-slides", want: true},
		{name: "coindesk price page", source: CoinDesk, url: "https://www.coindesk.com/price/bitcoin", want: false},
		{name: "theblock post", source: TheBlock, url: "https://www.theblock.co/post/301234/eth-etf-flows", want: true},
		{name: "forklog listing denied", source: Forklog, url: "https://forklog.com/en/news", want: false},
		{name: "forklog article", source: Forklog, url: "https://forklog.com/en/bitcoin-hashrate-record", want: true},
		{name: "default two segments", source: BitcoinMagazine, url: "https://bitcoinmagazine.com/markets/bitcoin-etf-inflows", want: true},
		{name: "default single segment", source: BitcoinMagazine, url: "https://bitcoinmagazine.com/markets", want: false},
		{name: "default author", source: BitcoinMagazine, url: "https://bitcoinmagazine.com/authors/jane-doe", want: false},
		{name: "default paginated", source: BitcoinMagazine, url: "https://bitcoinmagazine.com/markets/page/2", want: false},
		{name: "unknown source uses default", source: ID("unknown"), url: "https://example.com/news/some-story", want: true},
		{name: "relative url", source: Decrypt, url: "/12345/story", want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, tt.want, IsArticleURL(tt.source, tt.url))
		})
	}
}

func TestParseAndEnabled(t *testing.T) {
	t.Parallel()

	id, ok := Parse(" CoinDesk ")
	require.True(t, ok)
	require.Equal(t, CoinDesk, id)

	_, ok = Parse("nope")
	require.False(t, ok)

	enabled := Enabled([]string{"decrypt", "nope", "Decrypt", "theblock"})
	require.Len(t, enabled, 2)
	require.Equal(t, Decrypt, enabled[0].ID)
	require.Equal(t, TheBlock, enabled[1].ID)

	require.Len(t, Enabled(nil), len(All()))
}

func TestCatalogProfilesAreComplete(t *testing.T) {
	t.Parallel()

	all := All()
	require.NotEmpty(t, all)
	for i, p := range all {
		require.NotEmpty(t, p.ListingURLs, p.ID)
		require.NotEmpty(t, p.Selectors.Title, p.ID)
		require.NotEmpty(t, p.Selectors.Content, p.ID)
		if i > 0 {
			require.Less(t, all[i-1].ID, p.ID)
		}
	}
}
