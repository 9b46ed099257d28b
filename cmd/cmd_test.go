package cmd

import (
	"bytes"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/realtime-news-extractor/internal/config"
	"github.com/JakeFAU/realtime-news-extractor/internal/crawler"
	"github.com/JakeFAU/realtime-news-extractor/internal/sources"
)

func TestWriteExtract(t *testing.T) {
	t.Parallel()

	published := time.Date(2024, 3, 11, 9, 0, 0, 0, time.UTC)
	var buf bytes.Buffer
	err := writeExtract(&buf, "https://coindesk.com/a", sources.CoinDesk, "css_selector", &crawler.ExtractedContent{
		Title:       "Bitcoin rallies",
		Summary:     "BTC is up.",
		FullText:    "Bitcoin rallied on Monday.",
		PublishTime: &published,
	}, nil)
	require.NoError(t, err)

	var out map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &out))
	require.Equal(t, "coindesk", out["source"])
	require.Equal(t, "css_selector", out["method"])
	require.Equal(t, "Bitcoin rallies", out["title"])
	require.Equal(t, "2024-03-11T09:00:00Z", out["publish_time"])
	require.Equal(t, []any{}, out["tickers"])
}

func TestExtractCmd_RejectsBadInput(t *testing.T) {
	stubEnv(t)

	for name, args := range map[string][]string{
		"relative url":   {"extract", "/news/a"},
		"unknown source": {"extract", "--source", "nope", "https://example.com/a"},
		"missing url":    {"extract"},
	} {
		t.Run(name, func(t *testing.T) {
			cmd := newRootCmd()
			cmd.SetArgs(args)
			cmd.SetOut(&bytes.Buffer{})
			cmd.SetErr(&bytes.Buffer{})
			require.Error(t, cmd.Execute())
		})
	}
}

func TestServeCmd_RejectsArgs(t *testing.T) {
	stubEnv(t)

	cmd := newRootCmd()
	cmd.SetArgs([]string{"serve", "extra"})
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	require.Error(t, cmd.Execute())
}

func stubEnv(t *testing.T) {
	t.Helper()
	orig := newEnv
	newEnv = func(string) (*env, error) {
		return &env{cfg: config.Config{}, logger: zap.NewNop()}, nil
	}
	t.Cleanup(func() { newEnv = orig })
}
