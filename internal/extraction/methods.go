package extraction

import (
	"context"
	"errors"
	"fmt"

	"github.com/microcosm-cc/bluemonday"
	"go.uber.org/zap"

	"github.com/JakeFAU/realtime-news-extractor/internal/crawler"
	"github.com/JakeFAU/realtime-news-extractor/internal/llm"
	"github.com/JakeFAU/realtime-news-extractor/internal/metrics"
	"github.com/JakeFAU/realtime-news-extractor/internal/sources"
	"github.com/JakeFAU/realtime-news-extractor/internal/strategy"
	"github.com/JakeFAU/realtime-news-extractor/internal/template"
)

// TemplateMethod applies the source's stored template, generating one when
// absent and regenerating it once its accuracy degrades.
type TemplateMethod struct {
	store     *template.Store
	generator *template.Generator
	logger    *zap.Logger
}

// NewTemplateMethod builds the priority 0 method. A disabled generator only
// limits it to templates that already exist.
func NewTemplateMethod(store *template.Store, generator *template.Generator, logger *zap.Logger) *TemplateMethod {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TemplateMethod{store: store, generator: generator, logger: logger.Named("template_method")}
}

func (*TemplateMethod) Name() string { return MethodTemplate }

func (*TemplateMethod) Priority() int { return 0 }

// CanExecute limits templates to catalog sources so arbitrary names never
// reach the template store.
func (m *TemplateMethod) CanExecute(ec *Context) bool {
	if m.store == nil || ec.Source == "" {
		return false
	}
	_, ok := sources.Lookup(ec.Source)
	return ok
}

func (m *TemplateMethod) Execute(ctx context.Context, ec *Context) (*crawler.ExtractedContent, error) {
	source := string(ec.Source)
	tpl, err := m.store.GetTemplate(ctx, source)
	if err != nil {
		return nil, err
	}

	switch {
	case tpl == nil:
		tpl, err = m.generate(ctx, ec, sourceHints(ec))
		if err != nil {
			if errors.Is(err, crawler.ErrLLMDisabled) || errors.Is(err, crawler.ErrNotArticlePage) {
				return nil, nil
			}
			return nil, err
		}
		if err := m.store.SaveTemplate(ctx, tpl); err != nil {
			return nil, err
		}
		metrics.ObserveTemplateEvent(source, "saved")
	case tpl.NeedsRegeneration():
		next, genErr := m.generate(ctx, ec, tpl)
		if genErr != nil {
			m.logger.Info("template regeneration failed, keeping current version",
				zap.String("source", source),
				zap.Int("version", tpl.Version),
				zap.Float64("fail_ratio", tpl.FailRatio()),
				zap.Error(genErr),
			)
			break
		}
		if err := m.store.RegenerateTemplate(ctx, next); err != nil {
			m.logger.Warn("persist regenerated template", zap.String("source", source), zap.Error(err))
			break
		}
		metrics.ObserveTemplateEvent(source, "regenerated")
		m.logger.Info("template regenerated",
			zap.String("source", source),
			zap.Int("previous_version", tpl.Version),
			zap.Int("version", next.Version),
		)
		tpl = next
	}

	out := strategy.ApplyTemplate(ec.Doc, tpl)
	if out.Valid() {
		err = m.store.IncrementSuccess(ctx, source)
	} else {
		err = m.store.IncrementFail(ctx, source)
	}
	if err != nil {
		m.logger.Warn("update template counters", zap.String("source", source), zap.Error(err))
	}
	return out, nil
}

func (m *TemplateMethod) generate(ctx context.Context, ec *Context, hints *crawler.Template) (*crawler.Template, error) {
	if !m.generator.Enabled() {
		return nil, crawler.ErrLLMDisabled
	}
	tpl, err := m.generator.GenerateTemplate(ctx, ec.Source, ec.HTML, ec.URL, hints)
	if err != nil {
		return nil, fmt.Errorf("generate template: %w", err)
	}
	return tpl, nil
}

func sourceHints(ec *Context) *crawler.Template {
	if s, ok := ec.Strategy.(*strategy.Source); ok {
		return s.Hints()
	}
	return nil
}

// CSSSelectorMethod runs the source strategy's selector path.
type CSSSelectorMethod struct{}

func (CSSSelectorMethod) Name() string { return MethodCSSSelector }

func (CSSSelectorMethod) Priority() int { return 1 }

func (CSSSelectorMethod) CanExecute(*Context) bool { return true }

func (CSSSelectorMethod) Execute(_ context.Context, ec *Context) (*crawler.ExtractedContent, error) {
	if ec.Strategy == nil {
		return nil, nil
	}
	return ec.Strategy.ExtractWithSelector(ec.Doc, ec.URL), nil
}

// XPathMethod runs the source strategy's XPath variant.
type XPathMethod struct{}

func (XPathMethod) Name() string { return MethodXPath }

func (XPathMethod) Priority() int { return 2 }

func (XPathMethod) CanExecute(ec *Context) bool { return ec.Strategy != nil }

func (XPathMethod) Execute(_ context.Context, ec *Context) (*crawler.ExtractedContent, error) {
	return ec.Strategy.ExtractWithXPath(ec.Doc, ec.URL), nil
}

// GenericCSSMethod applies publisher-agnostic selectors. The chain stops at the
// first success, so reaching it means every source-specific method came up
// empty or was ineligible.
type GenericCSSMethod struct{}

func (GenericCSSMethod) Name() string { return MethodGenericCSS }

func (GenericCSSMethod) Priority() int { return 3 }

func (GenericCSSMethod) CanExecute(ec *Context) bool {
	return ec.Generic != nil
}

func (GenericCSSMethod) Execute(_ context.Context, ec *Context) (*crawler.ExtractedContent, error) {
	return ec.Generic.ExtractWithSelector(ec.Doc, ec.URL), nil
}

// ReadabilityMethod runs the paragraph-density heuristic.
type ReadabilityMethod struct{}

func (ReadabilityMethod) Name() string { return MethodReadability }

func (ReadabilityMethod) Priority() int { return 4 }

func (ReadabilityMethod) CanExecute(*Context) bool { return true }

func (ReadabilityMethod) Execute(_ context.Context, ec *Context) (*crawler.ExtractedContent, error) {
	generic := ec.Generic
	if generic == nil {
		generic = strategy.NewGeneric()
	}
	return generic.Readability(ec.Doc), nil
}

// DefaultLLMHTMLChars bounds the sanitized HTML sent to the model.
const DefaultLLMHTMLChars = 15000

const extractPrompt = `You extract news articles from HTML.
Return only a JSON object: {"title": string, "summary": string, "fullText": string, "publishTime": string}.
fullText holds the article body paragraphs separated by blank lines, without navigation, ads, or related links.
publishTime is ISO 8601 or "". Use "" for any field you cannot find.`

// LLMMethod asks the model to read the article out of sanitized HTML.
type LLMMethod struct {
	maxChars int
	policy   *bluemonday.Policy
}

// NewLLMMethod builds the last-resort method.
func NewLLMMethod(maxChars int) *LLMMethod {
	if maxChars <= 0 {
		maxChars = DefaultLLMHTMLChars
	}
	policy := bluemonday.UGCPolicy()
	policy.AllowElements("article", "main", "section", "time")
	policy.AllowAttrs("datetime").OnElements("time")
	return &LLMMethod{maxChars: maxChars, policy: policy}
}

func (*LLMMethod) Name() string { return MethodLLM }

func (*LLMMethod) Priority() int { return 5 }

func (*LLMMethod) CanExecute(ec *Context) bool { return ec.LLM != nil }

func (m *LLMMethod) Execute(ctx context.Context, ec *Context) (*crawler.ExtractedContent, error) {
	clean := m.policy.Sanitize(ec.HTML)
	reply, err := ec.LLM.Complete(ctx, llm.Request{
		System: extractPrompt,
		User:   fmt.Sprintf("URL: %s\n\nHTML:\n%s", ec.URL, llm.Truncate(clean, m.maxChars)),
		JSON:   true,
	})
	if err != nil {
		return nil, fmt.Errorf("llm extract: %w", err)
	}
	var payload struct {
		Title       string `json:"title"`
		Summary     string `json:"summary"`
		FullText    string `json:"fullText"`
		PublishTime string `json:"publishTime"`
	}
	if err := llm.DecodeJSON(reply, &payload); err != nil {
		return nil, err
	}
	out := &crawler.ExtractedContent{
		Title:       payload.Title,
		Summary:     payload.Summary,
		FullText:    payload.FullText,
		PublishTime: strategy.ParseTime(payload.PublishTime),
	}
	if !out.Valid() {
		return nil, nil
	}
	return out, nil
}

// DefaultMethods returns the six methods in their fixed order.
func DefaultMethods(store *template.Store, generator *template.Generator, llmChars int, logger *zap.Logger) []Method {
	return []Method{
		NewTemplateMethod(store, generator, logger),
		CSSSelectorMethod{},
		XPathMethod{},
		GenericCSSMethod{},
		ReadabilityMethod{},
		NewLLMMethod(llmChars),
	}
}
