// Package strategy turns parsed article HTML into ExtractedContent using
// per-publisher selectors, broadly applicable generic selectors, a readability
// heuristic, and stored templates.
package strategy

import (
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/realtime-news-extractor/internal/crawler"
	"github.com/JakeFAU/realtime-news-extractor/internal/sources"
)

// GenericName is the strategy name reported by the generic strategy.
const GenericName = "generic"

// Strategy extracts article fields from a parsed document.
type Strategy interface {
	Name() string
	ExtractWithSelector(doc *goquery.Document, pageURL string) *crawler.ExtractedContent
	ExtractWithXPath(doc *goquery.Document, pageURL string) *crawler.ExtractedContent
}

// Source is a publisher-specific strategy backed by a catalog profile.
type Source struct {
	profile sources.Profile
}

// NewSource creates a strategy for the given profile.
func NewSource(profile sources.Profile) *Source {
	return &Source{profile: profile}
}

// Name returns the source ID.
func (s *Source) Name() string {
	return string(s.profile.ID)
}

// ExtractWithSelector applies the profile's CSS fallback lists.
func (s *Source) ExtractWithSelector(doc *goquery.Document, _ string) *crawler.ExtractedContent {
	return extractFields(doc, s.profile.Selectors)
}

// ExtractWithXPath applies the profile's XPath variants, or its CSS lists when it has none.
func (s *Source) ExtractWithXPath(doc *goquery.Document, pageURL string) *crawler.ExtractedContent {
	if s.profile.XPaths.Empty() {
		return s.ExtractWithSelector(doc, pageURL)
	}
	return extractXPathFields(doc, s.profile.XPaths)
}

// Hints renders the profile selectors as a template, used as reference for generation.
func (s *Source) Hints() *crawler.Template {
	join := func(list []string) string { return strings.Join(list, ", ") }
	first := func(list []string) string {
		if len(list) == 0 {
			return ""
		}
		return list[0]
	}
	return &crawler.Template{
		Source:              string(s.profile.ID),
		TitleSelector:       join(s.profile.Selectors.Title),
		SummarySelector:     join(s.profile.Selectors.Summary),
		ContentSelector:     join(s.profile.Selectors.Content),
		PublishTimeSelector: join(s.profile.Selectors.PublishTime),
		TitleXPath:          first(s.profile.XPaths.Title),
		ContentXPath:        first(s.profile.XPaths.Content),
	}
}

var genericFields = sources.Fields{
	Title: []string{
		"article h1",
		"h1[class*='title']",
		"h1[class*='headline']",
		"h1",
		"meta[property='og:title']",
		"meta[name='twitter:title']",
	},
	Summary: []string{
		"meta[name='description']",
		"meta[property='og:description']",
	},
	Content: []string{
		"[itemprop='articleBody']",
		".article-content",
		".article-body",
		".article__body",
		".post-content",
		".entry-content",
		".story-body",
		"article",
		"main",
	},
	PublishTime: []string{
		"time[datetime]",
		"meta[property='article:published_time']",
		"meta[itemprop='datePublished']",
	},
}

// Generic is the publisher-agnostic fallback strategy.
type Generic struct{}

// NewGeneric creates the generic strategy.
func NewGeneric() *Generic {
	return &Generic{}
}

// Name returns GenericName.
func (*Generic) Name() string {
	return GenericName
}

// ExtractWithSelector applies broadly applicable article selectors.
func (*Generic) ExtractWithSelector(doc *goquery.Document, _ string) *crawler.ExtractedContent {
	return extractFields(doc, genericFields)
}

// ExtractWithXPath delegates to the selector path.
func (g *Generic) ExtractWithXPath(doc *goquery.Document, pageURL string) *crawler.ExtractedContent {
	return g.ExtractWithSelector(doc, pageURL)
}

// Readability runs the boilerplate-stripping paragraph heuristic.
func (*Generic) Readability(doc *goquery.Document) *crawler.ExtractedContent {
	return readability(doc)
}

// Registry maps sources to their strategies. It is built once at startup.
type Registry struct {
	bySource map[sources.ID]Strategy
	generic  *Generic
}

// NewRegistry builds source strategies for every profile.
func NewRegistry(profiles []sources.Profile) *Registry {
	r := &Registry{
		bySource: make(map[sources.ID]Strategy, len(profiles)),
		generic:  NewGeneric(),
	}
	for _, p := range profiles {
		r.bySource[p.ID] = NewSource(p)
	}
	return r
}

// Lookup returns the source-specific strategy, if any.
func (r *Registry) Lookup(id sources.ID) (Strategy, bool) {
	s, ok := r.bySource[id]
	return s, ok
}

// Resolve returns the source-specific strategy or the generic default.
func (r *Registry) Resolve(id sources.ID) Strategy {
	if s, ok := r.bySource[id]; ok {
		return s
	}
	return r.generic
}

// Generic returns the shared generic strategy.
func (r *Registry) Generic() *Generic {
	return r.generic
}
