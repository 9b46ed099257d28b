package extraction

import (
	"context"
	"fmt"

	"github.com/JakeFAU/realtime-news-extractor/internal/crawler"
	"github.com/JakeFAU/realtime-news-extractor/internal/llm"
	"github.com/JakeFAU/realtime-news-extractor/internal/sources"
	"github.com/JakeFAU/realtime-news-extractor/internal/strategy"
)

// Extractor binds a chain to the strategy registry and the optional LLM.
type Extractor struct {
	chain    *Chain
	registry *strategy.Registry
	llm      llm.Client
}

// NewExtractor builds an Extractor. A nil client leaves the LLM method ineligible.
func NewExtractor(chain *Chain, registry *strategy.Registry, client llm.Client) *Extractor {
	return &Extractor{chain: chain, registry: registry, llm: client}
}

// Extract runs the chain over rawHTML and returns the content with the name of
// the method that produced it. ErrAllMethodsExhausted is returned when no
// method yields a title and body.
func (e *Extractor) Extract(ctx context.Context, source sources.ID, pageURL, rawHTML string) (*crawler.ExtractedContent, string, error) {
	ec, err := NewContext(rawHTML, pageURL, source, e.registry, e.llm)
	if err != nil {
		return nil, "", err
	}
	out := e.chain.Execute(ctx, ec)
	if out == nil {
		if ctx.Err() != nil {
			return nil, "", fmt.Errorf("extract %s: %w", pageURL, ctx.Err())
		}
		return nil, "", fmt.Errorf("%w: %s", crawler.ErrAllMethodsExhausted, pageURL)
	}
	if out.PublishTime == nil {
		out.PublishTime = strategy.DocumentPublishTime(ec.Doc)
	}
	return out, ec.UsedStrategy, nil
}
