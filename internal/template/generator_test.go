package template

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/realtime-news-extractor/internal/crawler"
	"github.com/JakeFAU/realtime-news-extractor/internal/llm"
	"github.com/JakeFAU/realtime-news-extractor/internal/sources"
)

const articlePage = `<html><head><title>Bitcoin Surges Past Record | Example News</title></head><body>
<header><h2 class="site-title">CoinWire</h2></header>
<h1 class="headline">Bitcoin Surges Past Record High</h1>
<div class="teaser"><p>Only one paragraph lives in this teaser block.</p></div>
<div class="article-body">
  <p>Bitcoin climbed to a fresh record on Monday morning.</p>
  <p>Analysts pointed to sustained inflows into spot ETFs.</p>
  <p>Traders expect volatility to remain elevated this week.</p>
</div>
</body></html>`

const articleURL = "https://example.com/news/bitcoin-surges"

func TestGenerator_ReturnsValidatedTemplate(t *testing.T) {
	t.Parallel()

	client := &fakeLLM{reply: "```json\n" + `{
  "titleSelector": ["h1.headline", "h1"],
  "summarySelector": "",
  "contentSelector": "div.article-body, article",
  "publishTimeSelector": ["time[datetime]"],
  "titleXPath": "//h1[@class='headline']",
  "contentXPath": ["//div[@class='article-body']", "//article"]
}` + "\n```"}
	gen := NewGenerator(client, 0, zap.NewNop())

	hints := &crawler.Template{TitleSelector: "h1.old", ContentSelector: "div.old-body"}
	tpl, err := gen.GenerateTemplate(context.Background(), sources.ID("example"), articlePage, articleURL, hints)
	require.NoError(t, err)
	require.NotNil(t, tpl)
	require.Equal(t, "example", tpl.Source)
	require.Equal(t, "h1.headline, h1", tpl.TitleSelector)
	require.Equal(t, "div.article-body, article", tpl.ContentSelector)
	require.Equal(t, "time[datetime]", tpl.PublishTimeSelector)
	require.Equal(t, "//div[@class='article-body'] | //article", tpl.ContentXPath)
	require.True(t, tpl.IsActive)

	prompt := client.lastPrompt()
	require.Contains(t, prompt, "Page URL: "+articleURL)
	require.Contains(t, prompt, "h1.headline: Bitcoin Surges Past Record High")
	require.Contains(t, prompt, "div.article-body (3 paragraphs)")
	require.Contains(t, prompt, "title: h1.old")
	require.Contains(t, prompt, "<h1 class=\"headline\">")
}

func TestGenerator_RejectsDocumentTitleSelector(t *testing.T) {
	t.Parallel()

	client := &fakeLLM{reply: `{"titleSelector": ["title", "head > title"], "contentSelector": ["div.article-body"]}`}
	tpl, err := NewGenerator(client, 0, nil).GenerateTemplate(context.Background(), sources.ID("example"), articlePage, articleURL, nil)
	require.Nil(t, tpl)
	require.ErrorIs(t, err, crawler.ErrTemplateValidation)
	require.ErrorContains(t, err, "<title>")
}

func TestGenerator_RejectsSiteNameTitle(t *testing.T) {
	t.Parallel()

	client := &fakeLLM{reply: `{"titleSelector": ["h2.site-title"], "contentSelector": ["div.article-body"]}`}
	tpl, err := NewGenerator(client, 0, nil).GenerateTemplate(context.Background(), sources.ID("example"), articlePage, articleURL, nil)
	require.Nil(t, tpl)
	require.ErrorIs(t, err, crawler.ErrTemplateValidation)
}

func TestGenerator_RejectsContentWithoutThreeParagraphs(t *testing.T) {
	t.Parallel()

	client := &fakeLLM{reply: `{"titleSelector": ["h1.headline"], "contentSelector": ["div.teaser", "section.missing"]}`}
	tpl, err := NewGenerator(client, 0, nil).GenerateTemplate(context.Background(), sources.ID("example"), articlePage, articleURL, nil)
	require.Nil(t, tpl)
	require.ErrorIs(t, err, crawler.ErrTemplateValidation)
	require.ErrorContains(t, err, "paragraphs")
}

func TestGenerator_Preconditions(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	_, err := NewGenerator(nil, 0, nil).GenerateTemplate(ctx, sources.ID("example"), articlePage, articleURL, nil)
	require.ErrorIs(t, err, crawler.ErrLLMDisabled)

	client := &fakeLLM{reply: `{}`}
	_, err = NewGenerator(client, 0, nil).GenerateTemplate(ctx, sources.Cointelegraph, articlePage, "https://cointelegraph.com/tags/bitcoin", nil)
	require.ErrorIs(t, err, crawler.ErrNotArticlePage)
	require.Zero(t, client.callCount(), "listing pages never reach the model")

	failing := &fakeLLM{err: errors.New("rate limited")}
	_, err = NewGenerator(failing, 0, nil).GenerateTemplate(ctx, sources.ID("example"), articlePage, articleURL, nil)
	require.ErrorIs(t, err, crawler.ErrTemplateGeneration)

	garbage := &fakeLLM{reply: "I cannot help with that"}
	_, err = NewGenerator(garbage, 0, nil).GenerateTemplate(ctx, sources.ID("example"), articlePage, articleURL, nil)
	require.ErrorIs(t, err, crawler.ErrTemplateGeneration)
}

func TestGenerator_TruncatesHTMLInPrompt(t *testing.T) {
	t.Parallel()

	client := &fakeLLM{reply: `{"titleSelector": "h1.headline", "contentSelector": "div.article-body"}`}
	page := articlePage + "<!--" + strings.Repeat("x", 500) + "TAIL-MARKER-->"
	_, err := NewGenerator(client, 200, nil).GenerateTemplate(context.Background(), sources.ID("example"), page, articleURL, nil)
	require.NoError(t, err)
	require.NotContains(t, client.lastPrompt(), "TAIL-MARKER")
	require.Contains(t, client.lastPrompt(), "first 200 characters")
}

type fakeLLM struct {
	mu      sync.Mutex
	reply   string
	err     error
	prompts []string
}

func (f *fakeLLM) Complete(_ context.Context, req llm.Request) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prompts = append(f.prompts, req.User)
	if f.err != nil {
		return "", f.err
	}
	return f.reply, nil
}

func (f *fakeLLM) lastPrompt() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.prompts) == 0 {
		return ""
	}
	return f.prompts[len(f.prompts)-1]
}

func (f *fakeLLM) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.prompts)
}
