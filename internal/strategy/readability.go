package strategy

import (
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/realtime-news-extractor/internal/crawler"
)

const (
	readabilityParagraphMin = 40
	substantialBlockMin     = 200
)

const boilerplateSelector = noiseSelector + ", header, [role='navigation'], [role='banner'], [role='contentinfo'], " +
	"[class*='cookie'], [id*='cookie'], [class*='consent'], [class*='comment'], [class*='sidebar'], " +
	"[class*='breadcrumb'], [class*='footer'], [class*='menu']"

var boilerplatePhrases = []string{
	"cookie",
	"privacy policy",
	"consent",
	"all rights reserved",
	"terms of service",
	"accept all",
}

func readability(doc *goquery.Document) *crawler.ExtractedContent {
	if doc == nil {
		return nil
	}
	title := firstText(doc.Selection, genericFields.Title)
	if title == "" {
		title = cleanDocumentTitle(doc.Find("title").First().Text())
	}
	if title == "" {
		return nil
	}

	body := doc.Find("body").First()
	if body.Length() == 0 {
		body = doc.Selection
	}
	clone := body.Clone()
	clone.Find(boilerplateSelector).Remove()

	var parts []string
	clone.Find("p").Each(func(_ int, p *goquery.Selection) {
		text := NormalizeSpace(p.Text())
		if runeLen(text) >= readabilityParagraphMin && !isBoilerplate(text) {
			parts = append(parts, text)
		}
	})
	text := strings.Join(parts, "\n\n")
	if runeLen(text) < substantialBlockMin {
		if block := largestBlock(clone); runeLen(block) > runeLen(text) {
			text = block
		}
	}
	if text == "" {
		return nil
	}
	return &crawler.ExtractedContent{
		Title:       title,
		Summary:     firstText(doc.Selection, genericFields.Summary),
		FullText:    text,
		PublishTime: DocumentPublishTime(doc),
	}
}

// largestBlock returns the longest block-level text above the substantial
// threshold that is free of cookie/privacy boilerplate.
func largestBlock(root *goquery.Selection) string {
	best := ""
	root.Find("article, main, section, div").Each(func(_ int, s *goquery.Selection) {
		text := NormalizeSpace(s.Text())
		if runeLen(text) < substantialBlockMin || isBoilerplate(text) {
			return
		}
		if runeLen(text) > runeLen(best) {
			best = text
		}
	})
	return best
}

func isBoilerplate(text string) bool {
	lower := strings.ToLower(text)
	for _, phrase := range boilerplatePhrases {
		if strings.Contains(lower, phrase) {
			return true
		}
	}
	return false
}

// cleanDocumentTitle drops a trailing site name from a <title> value.
func cleanDocumentTitle(raw string) string {
	title := NormalizeSpace(raw)
	for _, sep := range []string{" | ", " - ", " — ", " :: "} {
		if i := strings.LastIndex(title, sep); i > 0 {
			title = strings.TrimSpace(title[:i])
		}
	}
	return title
}
