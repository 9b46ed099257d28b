// Package sources holds the static catalog of supported publishers: listing
// URLs, rendering needs, link selectors, article URL patterns, and the field
// selectors used by source-specific strategies.
package sources

import (
	"net/url"
	"regexp"
	"sort"
	"strings"
)

// ID identifies a publisher.
type ID string

// Supported publishers.
const (
	CoinDesk        ID = "coindesk"
	Cointelegraph   ID = "cointelegraph"
	Decrypt         ID = "decrypt"
	TheBlock        ID = "theblock"
	BitcoinMagazine ID = "bitcoinmagazine"
	Forklog         ID = "forklog"
)

// Fields lists ordered fallback expressions per article field.
type Fields struct {
	Title       []string
	Summary     []string
	Content     []string
	PublishTime []string
}

// Empty reports whether no field carries an expression.
func (f Fields) Empty() bool {
	return len(f.Title) == 0 && len(f.Summary) == 0 && len(f.Content) == 0 && len(f.PublishTime) == 0
}

// Profile describes how one publisher is crawled and extracted.
type Profile struct {
	ID              ID
	Name            string
	ListingURLs     []string
	Render          bool
	LinkSelectors   []string
	ArticlePatterns []*regexp.Regexp
	DenyPatterns    []*regexp.Regexp
	Selectors       Fields
	XPaths          Fields
}

// defaultDeny rejects listing-like paths for every source.
var defaultDeny = []*regexp.Regexp{
	regexp.MustCompile(`(?i)/(category|categories|tag|tags|author|authors|archive|archives|topics?|sections?|search|price|prices|newsletters?)(/|$)`),
	regexp.MustCompile(`(?i)/page/\d+/?$`),
	regexp.MustCompile(`(?i)\.(xml|rss|jpg|jpeg|png|gif|svg|pdf)$`),
}

var catalog = map[ID]Profile{
	CoinDesk: {
		ID:            CoinDesk,
		Name:          "CoinDesk",
		ListingURLs:   []string{"https://www.coindesk.com/latest-crypto-news"},
		LinkSelectors: []string{"a[href*='/markets/20']", "a[href*='/policy/20']", "a[href*='/business/20']", "a[href*='/tech/20']"},
		ArticlePatterns: []*regexp.Regexp{
			regexp.MustCompile(`/(markets|policy|business|tech|web3|consensus-magazine)/\d{4}/\d{2}/\d{2}/[\w-]+`),
		},
		Selectors: Fields{
			Title:       []string{"h1.font-headline-lg", "h1"},
			Summary:     []string{"h2.font-headline-xs", "meta[name='description']"},
			Content:     []string{"div.document-body", "div[data-module-name='article-body']", "article"},
			PublishTime: []string{"div.font-metadata span", "meta[property='article:published_time']"},
		},
		XPaths: Fields{
			Title:   []string{"//h1"},
			Content: []string{"//div[contains(@class,'document-body')]"},
		},
	},
	Cointelegraph: {
		ID:            Cointelegraph,
		Name:          "Cointelegraph",
		ListingURLs:   []string{"https://cointelegraph.com/news", "https://cointelegraph.com/rss"},
		Render:        true,
		LinkSelectors: []string{"a.post-card-inline__title-link", "a[href^='/news/']"},
		ArticlePatterns: []*regexp.Regexp{
			regexp.MustCompile(`^/news/[\w-]+/?$`),
		},
		Selectors: Fields{
			Title:       []string{"h1.post__title", "h1"},
			Summary:     []string{"p.post__lead", "meta[name='description']"},
			Content:     []string{".post-content", ".post__content", ".post__text"},
			PublishTime: []string{"time[datetime]", "meta[property='article:published_time']"},
		},
		XPaths: Fields{
			Title:       []string{"//h1[contains(@class,'post__title')]"},
			Summary:     []string{"//p[contains(@class,'post__lead')]"},
			Content:     []string{"//div[contains(@class,'post-content')]", "//div[contains(@class,'post__text')]"},
			PublishTime: []string{"//time/@datetime"},
		},
	},
	Decrypt: {
		ID:            Decrypt,
		Name:          "Decrypt",
		ListingURLs:   []string{"https://decrypt.co/news"},
		LinkSelectors: []string{"article a[href^='/']", "h3 a[href^='/']"},
		ArticlePatterns: []*regexp.Regexp{
			regexp.MustCompile(`^/\d+/[\w-]+/?$`),
		},
		Selectors: Fields{
			Title:       []string{"h1"},
			Summary:     []string{"div.text-lg p", "meta[name='description']"},
			Content:     []string{"div.post-content", "div[class*='ArticleBody']", "article"},
			PublishTime: []string{"time[datetime]"},
		},
	},
	TheBlock: {
		ID:            TheBlock,
		Name:          "The Block",
		ListingURLs:   []string{"https://www.theblock.co/latest"},
		Render:        true,
		LinkSelectors: []string{"a.appLink[href^='/post/']", "a[href^='/post/']"},
		ArticlePatterns: []*regexp.Regexp{
			regexp.MustCompile(`^/post/\d+/[\w-]+/?$`),
		},
		Selectors: Fields{
			Title:       []string{"h1.articleLabel", "h1"},
			Summary:     []string{"div.quickTake", "meta[name='description']"},
			Content:     []string{"div#articleContent", "div.articleContent", "article"},
			PublishTime: []string{"div.articleInfo time", "meta[property='article:published_time']"},
		},
		XPaths: Fields{
			Title:   []string{"//h1"},
			Content: []string{"//div[@id='articleContent']"},
		},
	},
	BitcoinMagazine: {
		ID:            BitcoinMagazine,
		Name:          "Bitcoin Magazine",
		ListingURLs:   []string{"https://bitcoinmagazine.com/.rss/full/"},
		LinkSelectors: []string{"phoenix-card a[href]", "article a[href]"},
		Selectors: Fields{
			Title:       []string{"h1.m-detail-header--title", "h1"},
			Summary:     []string{"h2.m-detail-header--dek", "meta[name='description']"},
			Content:     []string{"div.m-detail--body", "article"},
			PublishTime: []string{"time[datetime]"},
		},
	},
	Forklog: {
		ID:            Forklog,
		Name:          "ForkLog",
		ListingURLs:   []string{"https://forklog.com/en/news"},
		LinkSelectors: []string{"div.category_page_grid a[href]", "a.post_item[href]"},
		ArticlePatterns: []*regexp.Regexp{
			regexp.MustCompile(`^/en/[\w-]+/?$`),
		},
		DenyPatterns: []*regexp.Regexp{
			regexp.MustCompile(`^/en/news/?$`),
		},
		Selectors: Fields{
			Title:       []string{"div.post_content h1", "h1"},
			Summary:     []string{"div.post_lead", "meta[name='description']"},
			Content:     []string{"div.post_content", "article"},
			PublishTime: []string{"span.post_date", "meta[property='article:published_time']"},
		},
	},
}

// Lookup returns the profile registered for id.
func Lookup(id ID) (Profile, bool) {
	p, ok := catalog[id]
	return p, ok
}

// Parse resolves a free-form source name to its ID.
func Parse(name string) (ID, bool) {
	id := ID(strings.ToLower(strings.TrimSpace(name)))
	_, ok := catalog[id]
	return id, ok
}

// All returns every profile ordered by ID.
func All() []Profile {
	out := make([]Profile, 0, len(catalog))
	for _, p := range catalog {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Enabled filters the catalog down to the named sources; an empty list enables all.
func Enabled(names []string) []Profile {
	if len(names) == 0 {
		return All()
	}
	out := make([]Profile, 0, len(names))
	seen := make(map[ID]struct{}, len(names))
	for _, name := range names {
		id, ok := Parse(name)
		if !ok {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, catalog[id])
	}
	return out
}

// IsArticleURL reports whether rawURL looks like an article page of the source.
// Source allow patterns win when present; otherwise the URL needs at least two
// path segments (more than four slash-separated parts overall). Listing-like
// paths are always rejected.
func IsArticleURL(id ID, rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return false
	}
	path := u.EscapedPath()
	if path == "" {
		path = "/"
	}
	profile, known := catalog[id]
	for _, re := range defaultDeny {
		if re.MatchString(path) {
			return false
		}
	}
	if known {
		for _, re := range profile.DenyPatterns {
			if re.MatchString(path) {
				return false
			}
		}
		if len(profile.ArticlePatterns) > 0 {
			for _, re := range profile.ArticlePatterns {
				if re.MatchString(path) {
					return true
				}
			}
			return false
		}
	}
	return pathSegments(path) >= 2
}

func pathSegments(path string) int {
	n := 0
	for _, part := range strings.Split(path, "/") {
		if part != "" {
			n++
		}
	}
	return n
}
