// Package ticker maps article text to exchange trading symbols.
package ticker

import (
	"context"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/realtime-news-extractor/internal/crawler"
	"github.com/JakeFAU/realtime-news-extractor/internal/llm"
)

const llmTextChars = 2000

// Asset is one vocabulary entry. Names match case-insensitively on word
// boundaries; codes match only in upper case so "link" or "dot" in prose do not.
type Asset struct {
	Symbol string
	Names  []string
	Codes  []string
}

// DefaultVocabulary is the known symbol set, in output order.
var DefaultVocabulary = []Asset{
	{Symbol: "BTCUSDT", Names: []string{"bitcoin"}, Codes: []string{"BTC", "XBT"}},
	{Symbol: "ETHUSDT", Names: []string{"ethereum", "ether"}, Codes: []string{"ETH"}},
	{Symbol: "SOLUSDT", Names: []string{"solana"}, Codes: []string{"SOL"}},
	{Symbol: "XRPUSDT", Names: []string{"ripple"}, Codes: []string{"XRP"}},
	{Symbol: "BNBUSDT", Names: []string{"binance coin"}, Codes: []string{"BNB"}},
	{Symbol: "ADAUSDT", Names: []string{"cardano"}, Codes: []string{"ADA"}},
	{Symbol: "DOGEUSDT", Names: []string{"dogecoin"}, Codes: []string{"DOGE"}},
	{Symbol: "TRXUSDT", Names: []string{"tron"}, Codes: []string{"TRX"}},
	{Symbol: "TONUSDT", Names: []string{"toncoin"}, Codes: []string{"TON"}},
	{Symbol: "AVAXUSDT", Names: []string{"avalanche"}, Codes: []string{"AVAX"}},
	{Symbol: "DOTUSDT", Names: []string{"polkadot"}, Codes: []string{"DOT"}},
	{Symbol: "LINKUSDT", Names: []string{"chainlink"}, Codes: []string{"LINK"}},
	{Symbol: "LTCUSDT", Names: []string{"litecoin"}, Codes: []string{"LTC"}},
	{Symbol: "SHIBUSDT", Names: []string{"shiba inu"}, Codes: []string{"SHIB"}},
	{Symbol: "SUIUSDT", Names: []string{}, Codes: []string{"SUI"}},
	{Symbol: "PEPEUSDT", Names: []string{}, Codes: []string{"PEPE"}},
}

const systemPrompt = `You identify which crypto assets a news article is about.
Return only a JSON object {"tickers": [...]} using exchange symbols quoted in USDT, for example "BTCUSDT".
Return an empty array when no specific asset is discussed.`

type matcher struct {
	symbol  string
	pattern *regexp.Regexp
}

// Extractor finds tickers with the vocabulary and asks the LLM only when
// nothing matches.
type Extractor struct {
	matchers []matcher
	known    map[string]struct{}
	client   llm.Client
	logger   *zap.Logger
}

// New compiles the vocabulary. A nil client disables the fallback.
func New(vocabulary []Asset, client llm.Client, logger *zap.Logger) *Extractor {
	if logger == nil {
		logger = zap.NewNop()
	}
	if len(vocabulary) == 0 {
		vocabulary = DefaultVocabulary
	}
	e := &Extractor{
		known:  make(map[string]struct{}, len(vocabulary)),
		client: client,
		logger: logger.Named("ticker"),
	}
	for _, a := range vocabulary {
		e.known[a.Symbol] = struct{}{}
		var alts []string
		for _, n := range a.Names {
			alts = append(alts, `(?i:`+regexp.QuoteMeta(n)+`)`)
		}
		for _, c := range a.Codes {
			alts = append(alts, regexp.QuoteMeta(c))
		}
		if len(alts) == 0 {
			continue
		}
		e.matchers = append(e.matchers, matcher{
			symbol:  a.Symbol,
			pattern: regexp.MustCompile(`\b(?:` + strings.Join(alts, "|") + `)\b`),
		})
	}
	return e
}

// Match returns vocabulary symbols mentioned in text, in vocabulary order.
func (e *Extractor) Match(text string) []string {
	out := []string{}
	for _, m := range e.matchers {
		if m.pattern.MatchString(text) {
			out = append(out, m.symbol)
		}
	}
	return out
}

// Extract matches the article's title, summary, and body, falling back to the
// LLM when the vocabulary finds nothing. LLM failures yield an empty list.
func (e *Extractor) Extract(ctx context.Context, content *crawler.ExtractedContent) []string {
	if content == nil {
		return []string{}
	}
	text := content.Title + "\n" + content.Summary + "\n" + content.FullText
	if found := e.Match(text); len(found) > 0 {
		return found
	}
	if e.client == nil {
		return []string{}
	}
	found, err := e.ask(ctx, content)
	if err != nil {
		e.logger.Warn("llm ticker fallback failed", zap.String("title", content.Title), zap.Error(err))
		return []string{}
	}
	return found
}

func (e *Extractor) ask(ctx context.Context, content *crawler.ExtractedContent) ([]string, error) {
	reply, err := e.client.Complete(ctx, llm.Request{
		System: systemPrompt,
		User:   "Title: " + content.Title + "\n\n" + llm.Truncate(content.FullText, llmTextChars),
		JSON:   true,
	})
	if err != nil {
		return nil, err
	}
	var payload struct {
		Tickers []string `json:"tickers"`
	}
	if err := llm.DecodeJSON(reply, &payload); err != nil {
		return nil, err
	}
	out := []string{}
	seen := make(map[string]bool, len(payload.Tickers))
	for _, raw := range payload.Tickers {
		symbol := normalizeSymbol(raw)
		if _, ok := e.known[symbol]; !ok || seen[symbol] {
			continue
		}
		seen[symbol] = true
		out = append(out, symbol)
	}
	return out, nil
}

func normalizeSymbol(raw string) string {
	s := strings.ToUpper(strings.TrimSpace(raw))
	s = strings.TrimPrefix(s, "$")
	s = strings.ReplaceAll(s, "/", "")
	s = strings.ReplaceAll(s, "-", "")
	if s != "" && !strings.HasSuffix(s, "USDT") {
		s += "USDT"
	}
	return s
}
