package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/realtime-news-extractor/internal/crawler"
	"github.com/JakeFAU/realtime-news-extractor/internal/server"
	"github.com/JakeFAU/realtime-news-extractor/internal/sources"
)

type extractOutput struct {
	URL         string     `json:"url"`
	Source      string     `json:"source"`
	Method      string     `json:"method"`
	Title       string     `json:"title"`
	Summary     string     `json:"summary"`
	FullText    string     `json:"full_text"`
	PublishTime *time.Time `json:"publish_time,omitempty"`
	Tickers     []string   `json:"tickers"`
}

func newExtractCmd() *cobra.Command {
	var source string
	cmd := &cobra.Command{
		Use:   "extract URL",
		Short: "Extracts one article and prints it as JSON",
		Long: `Fetches URL, runs the extraction chain and ticker tagging, and prints
the result. Nothing is stored or published.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runExtract(cmd, source, args[0])
		},
	}
	cmd.Flags().StringVar(&source, "source", "", "source the article belongs to (for example coindesk)")
	return cmd
}

func runExtract(cmd *cobra.Command, source, rawURL string) error {
	e, err := resolveEnv(cmd.Context())
	if err != nil {
		return err
	}
	u, err := url.Parse(rawURL)
	if err != nil || !u.IsAbs() {
		return fmt.Errorf("extract: %q is not an absolute URL", rawURL)
	}
	id := sources.ID(source)
	if source != "" {
		parsed, ok := sources.Parse(source)
		if !ok {
			return fmt.Errorf("extract: unknown source %q", source)
		}
		id = parsed
	}

	// Everything goes to memory so a preview never touches shared state.
	cfg := e.cfg
	cfg.Database.DSN = ""
	cfg.PubSub.ProjectID = ""
	cfg.Storage.Backend = "none"

	pipeline, err := server.BuildPipeline(cmd.Context(), cfg, nil, e.logger)
	if err != nil {
		return fmt.Errorf("build pipeline: %w", err)
	}
	defer func() {
		if cerr := pipeline.Close(cmd.Context()); cerr != nil {
			e.logger.Warn("pipeline close failed", zap.Error(cerr))
		}
	}()

	content, method, tickers, err := pipeline.NewWorker(e.logger.Named("extract")).Preview(cmd.Context(), id, rawURL)
	if err != nil {
		return err
	}
	return writeExtract(cmd.OutOrStdout(), rawURL, id, method, content, tickers)
}

func writeExtract(w io.Writer, rawURL string, source sources.ID, method string, content *crawler.ExtractedContent, tickers []string) error {
	if tickers == nil {
		tickers = []string{}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(extractOutput{
		URL:         rawURL,
		Source:      string(source),
		Method:      method,
		Title:       content.Title,
		Summary:     content.Summary,
		FullText:    content.FullText,
		PublishTime: content.PublishTime,
		Tickers:     tickers,
	})
}
