package strategy

import (
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
)

// MinParagraphLength is the rune count a paragraph must exceed to count as body text.
const MinParagraphLength = 20

// noiseSelector matches elements stripped before paragraph text is collected.
const noiseSelector = "script, style, noscript, template, nav, footer, aside, form, iframe, button, svg, " +
	"[class*='advert'], [id*='advert'], [class~='ad'], [class*='ad-slot'], [class*='banner'], " +
	"[class*='share'], [class*='social'], [class*='newsletter'], [class*='subscribe'], " +
	"[class*='related'], [class*='promo'], [aria-hidden='true']"

// NormalizeSpace collapses runs of whitespace into single spaces.
func NormalizeSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func runeLen(s string) int {
	return utf8.RuneCountInString(s)
}

// SplitSelectors splits a comma-separated selector fallback list, keeping commas
// nested in brackets, parentheses, or quotes.
func SplitSelectors(list string) []string {
	var (
		out   []string
		depth int
		quote rune
		start int
	)
	for i, r := range list {
		switch {
		case quote != 0:
			if r == quote {
				quote = 0
			}
		case r == '\'' || r == '"':
			quote = r
		case r == '(' || r == '[':
			depth++
		case r == ')' || r == ']':
			if depth > 0 {
				depth--
			}
		case r == ',' && depth == 0:
			if sel := strings.TrimSpace(list[start:i]); sel != "" {
				out = append(out, sel)
			}
			start = i + 1
		}
	}
	if sel := strings.TrimSpace(list[start:]); sel != "" {
		out = append(out, sel)
	}
	return out
}

// elementText returns the normalized text of the first node in sel. Meta tags
// yield their content attribute.
func elementText(sel *goquery.Selection) string {
	first := sel.First()
	if first.Length() == 0 {
		return ""
	}
	if goquery.NodeName(first) == "meta" {
		return NormalizeSpace(first.AttrOr("content", ""))
	}
	return NormalizeSpace(first.Text())
}

// firstText returns the text of the first selector in order that yields any.
func firstText(root *goquery.Selection, selectors []string) string {
	for _, sel := range selectors {
		if text := elementText(root.Find(sel)); text != "" {
			return text
		}
	}
	return ""
}

// firstParagraphs returns the paragraph text of the first selector in order that yields any.
func firstParagraphs(root *goquery.Selection, selectors []string) string {
	for _, sel := range selectors {
		match := root.Find(sel).First()
		if match.Length() == 0 {
			continue
		}
		if text := paragraphText(match, MinParagraphLength); text != "" {
			return text
		}
	}
	return ""
}

// paragraphText strips noise from a copy of block and joins its paragraphs
// longer than minLen runes with blank lines.
func paragraphText(block *goquery.Selection, minLen int) string {
	clone := block.Clone()
	clone.Find(noiseSelector).Remove()

	paragraphs := clone.Find("p")
	if clone.Is("p") {
		paragraphs = clone.Filter("p").AddSelection(paragraphs)
	}

	parts := make([]string, 0, paragraphs.Length())
	paragraphs.Each(func(_ int, p *goquery.Selection) {
		text := NormalizeSpace(p.Text())
		if runeLen(text) > minLen {
			parts = append(parts, text)
		}
	})
	return strings.Join(parts, "\n\n")
}
