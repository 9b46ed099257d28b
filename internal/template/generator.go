package template

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/JakeFAU/realtime-news-extractor/internal/crawler"
	"github.com/JakeFAU/realtime-news-extractor/internal/llm"
	"github.com/JakeFAU/realtime-news-extractor/internal/metrics"
	"github.com/JakeFAU/realtime-news-extractor/internal/sources"
	"github.com/JakeFAU/realtime-news-extractor/internal/strategy"
)

// DefaultMaxHTMLChars bounds the raw HTML included in the generation prompt.
const DefaultMaxHTMLChars = 10000

const (
	sampleLimit          = 10
	sampleTextChars      = 100
	minTitleRunes        = 10
	minContentParagraphs = 3
)

const systemPrompt = `You write CSS selectors for news article pages.
Return only a JSON object with these keys:
"titleSelector", "summarySelector", "contentSelector", "publishTimeSelector" (each an array of CSS selectors, most specific first),
"titleXPath", "summaryXPath", "contentXPath", "publishTimeXPath" (each a single XPath 1.0 expression or "").
The title selector must target the visible headline element, never the <title> tag.
The content selector must target the element that wraps the article paragraphs.`

// Generator synthesizes templates with an LLM and validates them against the sample page.
type Generator struct {
	client       llm.Client
	maxHTMLChars int
	logger       *zap.Logger
}

// NewGenerator builds a Generator. A nil client disables generation.
func NewGenerator(client llm.Client, maxHTMLChars int, logger *zap.Logger) *Generator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if maxHTMLChars <= 0 {
		maxHTMLChars = DefaultMaxHTMLChars
	}
	return &Generator{client: client, maxHTMLChars: maxHTMLChars, logger: logger.Named("template_generator")}
}

// Enabled reports whether an LLM client is configured.
func (g *Generator) Enabled() bool {
	return g != nil && g.client != nil
}

// GenerateTemplate asks the LLM for selectors matching rawHTML and returns them
// only if they validate locally. The returned template is not persisted.
func (g *Generator) GenerateTemplate(
	ctx context.Context,
	source sources.ID,
	rawHTML string,
	pageURL string,
	hints *crawler.Template,
) (*crawler.Template, error) {
	if !g.Enabled() {
		return nil, crawler.ErrLLMDisabled
	}
	if !sources.IsArticleURL(source, pageURL) {
		return nil, fmt.Errorf("%w: %s", crawler.ErrNotArticlePage, pageURL)
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(rawHTML))
	if err != nil {
		return nil, fmt.Errorf("%w: parse html: %w", crawler.ErrTemplateGeneration, err)
	}

	reply, err := g.client.Complete(ctx, llm.Request{
		System: systemPrompt,
		User:   g.buildPrompt(doc, rawHTML, pageURL, hints),
		JSON:   true,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", crawler.ErrTemplateGeneration, err)
	}
	var out generatedTemplate
	if err := llm.DecodeJSON(reply, &out); err != nil {
		return nil, fmt.Errorf("%w: %w", crawler.ErrTemplateGeneration, err)
	}

	tpl := out.toTemplate(string(source))
	if err := validateTemplate(doc, tpl); err != nil {
		metrics.ObserveTemplateEvent(string(source), "rejected")
		g.logger.Info("generated template rejected",
			zap.String("source", string(source)),
			zap.String("url", pageURL),
			zap.Error(err),
		)
		return nil, err
	}
	metrics.ObserveTemplateEvent(string(source), "generated")
	return tpl, nil
}

func (g *Generator) buildPrompt(doc *goquery.Document, rawHTML, pageURL string, hints *crawler.Template) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Page URL: %s\n\n", pageURL)
	b.WriteString(structuralSample(doc))
	if hints != nil {
		b.WriteString("\nSelectors that worked for this publisher before (hints, may be outdated):\n")
		fmt.Fprintf(&b, "title: %s\ncontent: %s\n", hints.TitleSelector, hints.ContentSelector)
		if hints.SummarySelector != "" {
			fmt.Fprintf(&b, "summary: %s\n", hints.SummarySelector)
		}
		if hints.PublishTimeSelector != "" {
			fmt.Fprintf(&b, "publishTime: %s\n", hints.PublishTimeSelector)
		}
	}
	fmt.Fprintf(&b, "\nHTML (first %d characters):\n", g.maxHTMLChars)
	b.WriteString(llm.Truncate(rawHTML, g.maxHTMLChars))
	return b.String()
}

// structuralSample lists candidate title and content elements with a text preview.
func structuralSample(doc *goquery.Document) string {
	var b strings.Builder
	b.WriteString("Title candidates:\n")
	n := 0
	doc.Find("h1, h2, [class*='title'], [class*='headline']").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		if goquery.NodeName(s) == "title" {
			return true
		}
		text := strategy.NormalizeSpace(s.Text())
		if text == "" {
			return true
		}
		fmt.Fprintf(&b, "- %s: %s\n", describe(s), preview(text))
		n++
		return n < sampleLimit
	})

	b.WriteString("Content candidates:\n")
	n = 0
	doc.Find("article, main, [class*='content'], [class*='article'], [class*='body'], [class*='post'], [class*='text']").
		EachWithBreak(func(_ int, s *goquery.Selection) bool {
			paragraphs := s.Find("p").Length()
			if paragraphs == 0 {
				return true
			}
			fmt.Fprintf(&b, "- %s (%d paragraphs): %s\n", describe(s), paragraphs, preview(strategy.NormalizeSpace(s.Text())))
			n++
			return n < sampleLimit
		})
	return b.String()
}

func describe(s *goquery.Selection) string {
	var b strings.Builder
	b.WriteString(goquery.NodeName(s))
	if id, ok := s.Attr("id"); ok && id != "" {
		b.WriteString("#" + id)
	}
	for _, class := range strings.Fields(s.AttrOr("class", "")) {
		b.WriteString("." + class)
	}
	return b.String()
}

func preview(text string) string {
	r := []rune(text)
	if len(r) > sampleTextChars {
		return string(r[:sampleTextChars]) + "..."
	}
	return text
}

// validateTemplate rejects selectors that only hit the document <title>, that
// yield no plausible headline, or whose content matches no block with at least
// three paragraphs.
func validateTemplate(doc *goquery.Document, tpl *crawler.Template) error {
	titles := strategy.SplitSelectors(tpl.TitleSelector)
	if len(titles) == 0 {
		return fmt.Errorf("%w: empty title selector", crawler.ErrTemplateValidation)
	}
	if resolvesOnlyToDocumentTitle(doc, titles) {
		return fmt.Errorf("%w: title selector resolves only to <title>", crawler.ErrTemplateValidation)
	}
	if !hasPlausibleTitle(doc, titles) {
		return fmt.Errorf("%w: no plausible headline for %q", crawler.ErrTemplateValidation, tpl.TitleSelector)
	}
	if !hasParagraphBlock(doc, strategy.SplitSelectors(tpl.ContentSelector)) {
		return fmt.Errorf("%w: content selector %q matches no block with %d paragraphs",
			crawler.ErrTemplateValidation, tpl.ContentSelector, minContentParagraphs)
	}
	return nil
}

func resolvesOnlyToDocumentTitle(doc *goquery.Document, selectors []string) bool {
	matched := 0
	for _, sel := range selectors {
		found := doc.Find(sel)
		matched += found.Length()
		if found.Not("title").Length() > 0 {
			return false
		}
	}
	return matched > 0
}

func hasPlausibleTitle(doc *goquery.Document, selectors []string) bool {
	for _, sel := range selectors {
		ok := false
		doc.Find(sel).Not("title").EachWithBreak(func(_ int, s *goquery.Selection) bool {
			text := strategy.NormalizeSpace(s.Text())
			if goquery.NodeName(s) == "meta" {
				text = strategy.NormalizeSpace(s.AttrOr("content", ""))
			}
			if len([]rune(text)) > minTitleRunes && !strings.Contains(text, "|") && !strings.Contains(text, " - ") {
				ok = true
			}
			return !ok
		})
		if ok {
			return true
		}
	}
	return false
}

func hasParagraphBlock(doc *goquery.Document, selectors []string) bool {
	for _, sel := range selectors {
		found := false
		doc.Find(sel).EachWithBreak(func(_ int, s *goquery.Selection) bool {
			found = s.Find("p").Length() >= minContentParagraphs
			return !found
		})
		if found {
			return true
		}
	}
	return false
}

// generatedTemplate is the JSON contract requested from the model.
type generatedTemplate struct {
	TitleSelector       selectorList `json:"titleSelector"`
	SummarySelector     selectorList `json:"summarySelector"`
	ContentSelector     selectorList `json:"contentSelector"`
	PublishTimeSelector selectorList `json:"publishTimeSelector"`
	TitleXPath          xpathExpr    `json:"titleXPath"`
	SummaryXPath        xpathExpr    `json:"summaryXPath"`
	ContentXPath        xpathExpr    `json:"contentXPath"`
	PublishTimeXPath    xpathExpr    `json:"publishTimeXPath"`
}

func (g generatedTemplate) toTemplate(source string) *crawler.Template {
	return &crawler.Template{
		Source:              source,
		TitleSelector:       g.TitleSelector.String(),
		SummarySelector:     g.SummarySelector.String(),
		ContentSelector:     g.ContentSelector.String(),
		PublishTimeSelector: g.PublishTimeSelector.String(),
		TitleXPath:          string(g.TitleXPath),
		SummaryXPath:        string(g.SummaryXPath),
		ContentXPath:        string(g.ContentXPath),
		PublishTimeXPath:    string(g.PublishTimeXPath),
		IsActive:            true,
	}
}

// selectorList accepts either a JSON array or a comma-separated string.
type selectorList []string

func (l *selectorList) UnmarshalJSON(b []byte) error {
	var list []string
	if err := json.Unmarshal(b, &list); err == nil {
		*l = cleanList(list)
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("selector list: %w", err)
	}
	*l = strategy.SplitSelectors(s)
	return nil
}

func (l selectorList) String() string {
	return strings.Join(l, ", ")
}

// xpathExpr accepts a single expression or an array joined as an XPath union.
type xpathExpr string

func (x *xpathExpr) UnmarshalJSON(b []byte) error {
	var list []string
	if err := json.Unmarshal(b, &list); err == nil {
		*x = xpathExpr(strings.Join(cleanList(list), " | "))
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("xpath: %w", err)
	}
	*x = xpathExpr(strings.TrimSpace(s))
	return nil
}

func cleanList(list []string) []string {
	out := make([]string, 0, len(list))
	for _, item := range list {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
