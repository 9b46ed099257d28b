package strategy

import (
	"encoding/json"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
)

var timeLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05Z0700",
	"2006-01-02T15:04:05.000Z0700",
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
	time.RFC1123Z,
	time.RFC1123,
	"Mon, 2 Jan 2006 15:04:05 -0700",
	"January 2, 2006, 3:04 PM MST",
	"January 2, 2006 at 3:04 pm MST",
	"Jan 2, 2006, 3:04 p.m. MST",
	"Jan 2, 2006 at 3:04 p.m. MST",
	"January 2, 2006",
	"Jan 2, 2006",
	"2 January 2006",
	"2 Jan 2006",
	"02.01.2006 15:04",
	"02.01.2006",
}

var (
	isoDatePattern = regexp.MustCompile(`\d{4}-\d{2}-\d{2}(?:[T ]\d{2}:\d{2}(?::\d{2}(?:\.\d+)?)?(?:Z|[+-]\d{2}:?\d{2})?)?`)
	timePrefixes   = []string{"published on", "published", "updated on", "updated", "posted on", "posted", "last updated"}
)

// ParseTime parses a publish timestamp in any of the common article layouts.
func ParseTime(raw string) *time.Time {
	s := NormalizeSpace(raw)
	if s == "" {
		return nil
	}
	lower := strings.ToLower(s)
	for _, prefix := range timePrefixes {
		if strings.HasPrefix(lower, prefix) {
			s = strings.TrimSpace(strings.TrimLeft(s[len(prefix):], ": "))
			break
		}
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			utc := t.UTC()
			return &utc
		}
	}
	if m := isoDatePattern.FindString(s); m != "" && m != s {
		return ParseTime(m)
	}
	return nil
}

// selectionTime reads a timestamp from the datetime/content attributes or the text of sel.
func selectionTime(sel *goquery.Selection) *time.Time {
	first := sel.First()
	if first.Length() == 0 {
		return nil
	}
	for _, attr := range []string{"datetime", "content", "data-time"} {
		if v, ok := first.Attr(attr); ok {
			if t := ParseTime(v); t != nil {
				return t
			}
		}
	}
	return ParseTime(first.Text())
}

func firstTime(root *goquery.Selection, selectors []string) *time.Time {
	for _, sel := range selectors {
		if t := selectionTime(root.Find(sel)); t != nil {
			return t
		}
	}
	return nil
}

var documentTimeSelectors = []string{
	"meta[property='article:published_time']",
	"meta[itemprop='datePublished']",
	"meta[name='pubdate']",
	"time[datetime]",
}

// DocumentPublishTime looks for a publish time in well-known meta tags, time
// elements, and JSON-LD blocks.
func DocumentPublishTime(doc *goquery.Document) *time.Time {
	if t := firstTime(doc.Selection, documentTimeSelectors); t != nil {
		return t
	}
	var found *time.Time
	doc.Find("script[type='application/ld+json']").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		var payload any
		if err := json.Unmarshal([]byte(s.Text()), &payload); err != nil {
			return true
		}
		if raw := findJSONKey(payload, "datePublished"); raw != "" {
			found = ParseTime(raw)
		}
		return found == nil
	})
	return found
}

// findJSONKey walks a decoded JSON value (including @graph arrays) for a string key.
func findJSONKey(v any, key string) string {
	switch node := v.(type) {
	case map[string]any:
		if s, ok := node[key].(string); ok && s != "" {
			return s
		}
		for _, child := range node {
			if s := findJSONKey(child, key); s != "" {
				return s
			}
		}
	case []any:
		for _, child := range node {
			if s := findJSONKey(child, key); s != "" {
				return s
			}
		}
	}
	return ""
}
