// Package detector decides when an HTTP-fetched page needs a browser render.
package detector

import (
	"bytes"
	"net/http"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/realtime-news-extractor/internal/crawler"
)

// DefaultMinTextRunes is the visible paragraph text below which a page with
// client-rendering markers is considered an empty shell.
const DefaultMinTextRunes = 500

// Heuristic promotes SPA shells and JavaScript challenge pages.
type Heuristic struct {
	MinTextRunes int
}

// NewHeuristic creates a new detector.
func NewHeuristic(minTextRunes int) *Heuristic {
	if minTextRunes <= 0 {
		minTextRunes = DefaultMinTextRunes
	}
	return &Heuristic{MinTextRunes: minTextRunes}
}

var spaMarkers = [][]byte{
	[]byte("id=\"__next\""),
	[]byte("id=\"root\""),
	[]byte("id=\"app\""),
	[]byte("data-reactroot"),
	[]byte("ng-version"),
	[]byte("window.__NUXT__"),
}

var challengeMarkers = [][]byte{
	[]byte("cf-browser-verification"),
	[]byte("challenge-platform"),
	[]byte("enable javascript and cookies to continue"),
	[]byte("<title>just a moment...</title>"),
}

// ShouldPromote reports whether the probe response looks like it needs
// JavaScript to show the article.
func (h *Heuristic) ShouldPromote(resp crawler.FetchResponse) bool {
	body := resp.Body
	lower := bytes.ToLower(body)
	if resp.StatusCode == http.StatusForbidden || resp.StatusCode == http.StatusServiceUnavailable {
		return containsAny(lower, challengeMarkers)
	}
	if resp.StatusCode != http.StatusOK {
		return false
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return true
	}
	if containsAny(lower, challengeMarkers) {
		return true
	}
	if !containsAny(body, spaMarkers) && !scriptDensityHigh(lower) {
		return false
	}
	return visibleTextRunes(body) < h.MinTextRunes
}

func containsAny(body []byte, markers [][]byte) bool {
	for _, marker := range markers {
		if bytes.Contains(body, marker) {
			return true
		}
	}
	return false
}

// visibleTextRunes counts paragraph text outside scripts.
func visibleTextRunes(body []byte) int {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return 0
	}
	doc.Find("script, style, noscript, template").Remove()
	total := 0
	doc.Find("p").Each(func(_ int, s *goquery.Selection) {
		total += len([]rune(strings.TrimSpace(s.Text())))
	})
	return total
}

// scriptDensityHigh reports whether script elements cover a quarter or more
// of the document.
func scriptDensityHigh(lower []byte) bool {
	total := len(lower)
	if total == 0 {
		return false
	}
	openTag := []byte("<script")
	closeTag := []byte("</script>")

	coverage := 0
	pos := 0
	for {
		rel := bytes.Index(lower[pos:], openTag)
		if rel == -1 {
			break
		}
		start := pos + rel
		end := total
		if relEnd := bytes.Index(lower[start:], closeTag); relEnd != -1 {
			end = start + relEnd + len(closeTag)
		}
		coverage += end - start
		pos = end
	}
	return coverage*100/total >= 25
}
