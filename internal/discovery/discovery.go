// Package discovery extracts article links from listing pages and feeds.
package discovery

import (
	"bytes"
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/mmcdole/gofeed"

	"github.com/JakeFAU/realtime-news-extractor/internal/sources"
)

// DefaultLimit caps the articles taken from one listing page.
const DefaultLimit = 10

var fallbackSelectors = []string{"article a[href]"}

var newsTokens = []string{"/news/", "/article", "/markets/", "/policy/", "/business/", "/tech/", "/finance/", "/20"}

// Links returns up to limit absolute article URLs found in body, in page
// order. RSS and Atom bodies are read as feeds; HTML bodies use the
// profile's link selectors and fall back to anchors inside <article> or
// hrefs carrying a news path token.
func Links(profile sources.Profile, pageURL string, body []byte, limit int) ([]string, error) {
	if limit <= 0 {
		limit = DefaultLimit
	}
	base, err := url.Parse(pageURL)
	if err != nil {
		return nil, fmt.Errorf("parse listing url: %w", err)
	}
	c := newCollector(profile.ID, base, limit)

	if isFeed(body) {
		feed, err := gofeed.NewParser().Parse(bytes.NewReader(body))
		if err != nil {
			return nil, fmt.Errorf("parse feed: %w", err)
		}
		for _, item := range feed.Items {
			if c.full() {
				break
			}
			c.add(item.Link)
		}
		return c.links, nil
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse listing html: %w", err)
	}
	c.addSelection(doc, profile.LinkSelectors)
	if len(c.links) == 0 {
		c.addSelection(doc, fallbackSelectors)
	}
	if len(c.links) == 0 {
		doc.Find("a[href]").EachWithBreak(func(_ int, s *goquery.Selection) bool {
			href := s.AttrOr("href", "")
			if hasNewsToken(href) {
				c.add(href)
			}
			return !c.full()
		})
	}
	return c.links, nil
}

func isFeed(body []byte) bool {
	head := bytes.ToLower(bytes.TrimSpace(body))
	if len(head) > 512 {
		head = head[:512]
	}
	if bytes.Contains(head, []byte("<html")) {
		return false
	}
	return bytes.HasPrefix(head, []byte("<?xml")) || bytes.Contains(head, []byte("<rss")) || bytes.Contains(head, []byte("<feed"))
}

func hasNewsToken(href string) bool {
	lower := strings.ToLower(href)
	for _, token := range newsTokens {
		if strings.Contains(lower, token) {
			return true
		}
	}
	return false
}

type collector struct {
	source sources.ID
	base   *url.URL
	limit  int
	seen   map[string]struct{}
	links  []string
}

func newCollector(source sources.ID, base *url.URL, limit int) *collector {
	return &collector{source: source, base: base, limit: limit, seen: make(map[string]struct{})}
}

func (c *collector) full() bool {
	return len(c.links) >= c.limit
}

func (c *collector) addSelection(doc *goquery.Document, selectors []string) {
	for _, sel := range selectors {
		doc.Find(sel).EachWithBreak(func(_ int, s *goquery.Selection) bool {
			c.add(s.AttrOr("href", ""))
			return !c.full()
		})
		if c.full() {
			return
		}
	}
}

func (c *collector) add(href string) {
	href = strings.TrimSpace(href)
	if href == "" || c.full() || strings.HasPrefix(href, "#") {
		return
	}
	ref, err := url.Parse(href)
	if err != nil {
		return
	}
	abs := c.base.ResolveReference(ref)
	abs.Fragment = ""
	abs.RawFragment = ""
	if abs.Scheme != "http" && abs.Scheme != "https" {
		return
	}
	if !sameSite(c.base.Hostname(), abs.Hostname()) {
		return
	}
	link := abs.String()
	if _, dup := c.seen[link]; dup {
		return
	}
	if !sources.IsArticleURL(c.source, link) {
		return
	}
	c.seen[link] = struct{}{}
	c.links = append(c.links, link)
}

func sameSite(a, b string) bool {
	trim := func(h string) string { return strings.TrimPrefix(strings.ToLower(h), "www.") }
	return trim(a) == trim(b)
}
