// Package extraction runs the priority-ordered chain of extraction methods
// over a fetched article page.
package extraction

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/JakeFAU/realtime-news-extractor/internal/crawler"
	"github.com/JakeFAU/realtime-news-extractor/internal/llm"
	"github.com/JakeFAU/realtime-news-extractor/internal/metrics"
	"github.com/JakeFAU/realtime-news-extractor/internal/sources"
	"github.com/JakeFAU/realtime-news-extractor/internal/strategy"
)

// Method names reported in Context.UsedStrategy.
const (
	MethodTemplate    = "template"
	MethodCSSSelector = "css_selector"
	MethodXPath       = "xpath"
	MethodGenericCSS  = "generic_css"
	MethodReadability = "readability"
	MethodLLM         = "llm"
)

// Method is one extraction technique in the chain.
type Method interface {
	Name() string
	Priority() int
	CanExecute(ec *Context) bool
	Execute(ctx context.Context, ec *Context) (*crawler.ExtractedContent, error)
}

// Context is the per-page input shared by every method. UsedStrategy is the
// only field the chain mutates.
type Context struct {
	Doc          *goquery.Document
	URL          string
	HTML         string
	Source       sources.ID
	Strategy     strategy.Strategy
	Generic      *strategy.Generic
	LLM          llm.Client
	UsedStrategy string
}

// NewContext parses rawHTML and resolves the source strategy from registry.
func NewContext(rawHTML, pageURL string, source sources.ID, registry *strategy.Registry, client llm.Client) (*Context, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(rawHTML))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}
	ec := &Context{
		Doc:     doc,
		URL:     pageURL,
		HTML:    rawHTML,
		Source:  source,
		Generic: registry.Generic(),
		LLM:     client,
	}
	if s, ok := registry.Lookup(source); ok {
		ec.Strategy = s
	}
	return ec, nil
}

// Chain executes methods in ascending priority until one yields content.
type Chain struct {
	methods []Method
	logger  *zap.Logger
}

// NewChain sorts methods by priority once.
func NewChain(logger *zap.Logger, methods ...Method) *Chain {
	if logger == nil {
		logger = zap.NewNop()
	}
	sorted := append([]Method(nil), methods...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Priority() < sorted[j].Priority() })
	return &Chain{methods: sorted, logger: logger.Named("extraction_chain")}
}

// Methods returns the chain in execution order.
func (c *Chain) Methods() []Method {
	return append([]Method(nil), c.methods...)
}

// Execute returns the first valid result and records its method in
// ec.UsedStrategy. It returns nil when every method fails.
func (c *Chain) Execute(ctx context.Context, ec *Context) *crawler.ExtractedContent {
	for _, m := range c.methods {
		if ctx.Err() != nil {
			return nil
		}
		if !m.CanExecute(ec) {
			continue
		}
		out, err := c.safeExecute(ctx, m, ec)
		if err != nil {
			metrics.ObserveExtraction(m.Name(), "error")
			c.logger.Warn("extraction method failed",
				zap.String("method", m.Name()),
				zap.String("url", ec.URL),
				zap.Error(err),
			)
			continue
		}
		if !out.Valid() {
			metrics.ObserveExtraction(m.Name(), "miss")
			continue
		}
		metrics.ObserveExtraction(m.Name(), "success")
		ec.UsedStrategy = m.Name()
		return normalize(out)
	}
	metrics.ObserveExtractionExhausted(string(ec.Source))
	return nil
}

// safeExecute turns a method panic into an error.
func (c *Chain) safeExecute(ctx context.Context, m Method, ec *Context) (out *crawler.ExtractedContent, err error) {
	defer func() {
		if r := recover(); r != nil {
			out = nil
			err = fmt.Errorf("method %s panicked: %v", m.Name(), r)
		}
	}()
	return m.Execute(ctx, ec)
}

func normalize(c *crawler.ExtractedContent) *crawler.ExtractedContent {
	out := *c
	out.Title = strategy.NormalizeSpace(out.Title)
	out.Summary = strategy.NormalizeSpace(out.Summary)
	paragraphs := strings.Split(out.FullText, "\n\n")
	kept := paragraphs[:0]
	for _, p := range paragraphs {
		if p = strategy.NormalizeSpace(p); p != "" {
			kept = append(kept, p)
		}
	}
	out.FullText = strings.Join(kept, "\n\n")
	return &out
}
