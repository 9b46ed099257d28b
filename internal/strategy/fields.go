package strategy

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/antchfx/htmlquery"
	"golang.org/x/net/html"

	"github.com/JakeFAU/realtime-news-extractor/internal/crawler"
	"github.com/JakeFAU/realtime-news-extractor/internal/sources"
)

// extractFields applies CSS fallback lists. Title and content are required.
func extractFields(doc *goquery.Document, f sources.Fields) *crawler.ExtractedContent {
	if doc == nil {
		return nil
	}
	root := doc.Selection
	title := firstText(root, f.Title)
	if title == "" {
		return nil
	}
	body := firstParagraphs(root, f.Content)
	if body == "" {
		return nil
	}
	out := &crawler.ExtractedContent{
		Title:       title,
		Summary:     firstText(root, f.Summary),
		FullText:    body,
		PublishTime: firstTime(root, f.PublishTime),
	}
	if out.PublishTime == nil {
		out.PublishTime = DocumentPublishTime(doc)
	}
	return out
}

// extractXPathFields applies XPath fallback lists. Invalid expressions count as misses.
func extractXPathFields(doc *goquery.Document, f sources.Fields) *crawler.ExtractedContent {
	root := documentRoot(doc)
	if root == nil {
		return nil
	}
	title := xpathText(root, f.Title)
	if title == "" {
		return nil
	}
	body := xpathParagraphs(root, f.Content)
	if body == "" {
		return nil
	}
	out := &crawler.ExtractedContent{
		Title:    title,
		Summary:  xpathText(root, f.Summary),
		FullText: body,
	}
	if raw := xpathText(root, f.PublishTime); raw != "" {
		out.PublishTime = ParseTime(raw)
	}
	if out.PublishTime == nil {
		out.PublishTime = DocumentPublishTime(doc)
	}
	return out
}

func documentRoot(doc *goquery.Document) *html.Node {
	if doc == nil || len(doc.Nodes) == 0 {
		return nil
	}
	return doc.Nodes[0]
}

func xpathFirst(root *html.Node, expr string) *html.Node {
	nodes, err := htmlquery.QueryAll(root, expr)
	if err != nil || len(nodes) == 0 {
		return nil
	}
	return nodes[0]
}

func xpathText(root *html.Node, exprs []string) string {
	for _, expr := range exprs {
		node := xpathFirst(root, expr)
		if node == nil {
			continue
		}
		if node.Type == html.ElementNode && node.Data == "meta" {
			if v := NormalizeSpace(htmlquery.SelectAttr(node, "content")); v != "" {
				return v
			}
			continue
		}
		if text := NormalizeSpace(htmlquery.InnerText(node)); text != "" {
			return text
		}
	}
	return ""
}

func xpathParagraphs(root *html.Node, exprs []string) string {
	for _, expr := range exprs {
		node := xpathFirst(root, expr)
		if node == nil {
			continue
		}
		block := goquery.NewDocumentFromNode(node).Selection
		if text := paragraphText(block, MinParagraphLength); text != "" {
			return text
		}
	}
	return ""
}

// templateFields converts a template's comma-separated selector lists into fallback lists.
func templateFields(tpl *crawler.Template) sources.Fields {
	return sources.Fields{
		Title:       SplitSelectors(tpl.TitleSelector),
		Summary:     SplitSelectors(tpl.SummarySelector),
		Content:     SplitSelectors(tpl.ContentSelector),
		PublishTime: SplitSelectors(tpl.PublishTimeSelector),
	}
}

func templateXPaths(tpl *crawler.Template) sources.Fields {
	one := func(expr string) []string {
		if strings.TrimSpace(expr) == "" {
			return nil
		}
		return []string{strings.TrimSpace(expr)}
	}
	return sources.Fields{
		Title:       one(tpl.TitleXPath),
		Summary:     one(tpl.SummaryXPath),
		Content:     one(tpl.ContentXPath),
		PublishTime: one(tpl.PublishTimeXPath),
	}
}

// ApplyTemplate extracts content with a stored template: CSS lists first, then
// the XPath variants when present.
func ApplyTemplate(doc *goquery.Document, tpl *crawler.Template) *crawler.ExtractedContent {
	if tpl == nil {
		return nil
	}
	if out := extractFields(doc, templateFields(tpl)); out != nil {
		return out
	}
	if tpl.HasXPath() {
		return extractXPathFields(doc, templateXPaths(tpl))
	}
	return nil
}
