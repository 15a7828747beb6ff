package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/xhad/lumina/pkg/ingest"
	"github.com/xhad/lumina/pkg/scraper"
)

var (
	ingestRecursive bool
	ingestMetadata  map[string]string
	ingestMaxDepth  int
	ingestMaxPages  int
)

var ingestCmd = &cobra.Command{
	Use:   "ingest [path|url]...",
	Short: "Index files, directories or documentation sites",
	Long: `Chunks, embeds and stores each source. Files are read as text, markdown or HTML.
Directories ingest every supported file they contain. http(s) URLs are crawled
within the same host and each page is stored with its URL as source_ref.
Re-ingesting a source overwrites its chunks in place.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runIngest,
}

func init() {
	ingestCmd.Flags().BoolVarP(&ingestRecursive, "recursive", "r", false, "descend into subdirectories")
	ingestCmd.Flags().StringToStringVarP(&ingestMetadata, "metadata", "m", nil, "metadata attached to every chunk (key=value)")
	ingestCmd.Flags().IntVar(&ingestMaxDepth, "max-depth", 0, "crawl depth for URLs (default from config)")
	ingestCmd.Flags().IntVar(&ingestMaxPages, "max-pages", 0, "page limit for URLs (default from config)")
	rootCmd.AddCommand(ingestCmd)
}

func isURL(arg string) bool {
	return strings.HasPrefix(arg, "http://") || strings.HasPrefix(arg, "https://")
}

func runIngest(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	metadata := parsePairs(ingestMetadata)
	out := cmd.OutOrStdout()
	failed := 0

	for _, arg := range args {
		var result ingest.BatchResult
		switch {
		case isURL(arg):
			result, err = ingestSite(ctx, cmd, a, arg, metadata)
		default:
			info, statErr := os.Stat(arg)
			if statErr != nil {
				color.Red("✗ %s: %v", arg, statErr)
				failed++
				continue
			}
			if info.IsDir() {
				result, err = ingestDir(ctx, cmd, a, arg, metadata)
			} else {
				result, err = ingestOne(ctx, a, arg, metadata)
			}
		}
		if err != nil {
			color.Red("✗ %s: %v", arg, err)
			failed++
			continue
		}

		for _, f := range result.Failures {
			color.Red("✗ %s: %v", f.Source, f.Err)
		}
		failed += len(result.Failures)
		fmt.Fprintln(out, color.GreenString("✓ %s: %d chunks from %d sources", arg, result.TotalChunks(), result.Succeeded()))
	}

	total := a.store.Count(ctx, nil)
	fmt.Fprintf(out, "\n%d documents in %s\n", total, a.config.Database.TableName)
	if failed > 0 {
		return fmt.Errorf("%d sources failed", failed)
	}
	return nil
}

func ingestOne(ctx context.Context, a *app, path string, metadata map[string]interface{}) (ingest.BatchResult, error) {
	p, err := a.pipeline(nil)
	if err != nil {
		return ingest.BatchResult{}, err
	}
	ids, err := p.IngestFile(ctx, path, metadata)
	if err != nil {
		return ingest.BatchResult{}, err
	}
	return ingest.BatchResult{ChunkIDs: map[string][]string{path: ids}}, nil
}

func ingestDir(ctx context.Context, cmd *cobra.Command, a *app, dir string, metadata map[string]interface{}) (ingest.BatchResult, error) {
	lister, err := a.pipeline(nil)
	if err != nil {
		return ingest.BatchResult{}, err
	}
	files, err := lister.ListFiles(dir, ingestRecursive)
	if err != nil {
		return ingest.BatchResult{}, err
	}

	bar := getProgressBar(cmd.ErrOrStderr(), len(files), " Ingesting files")
	defer bar.Finish()

	p, err := a.pipeline(func(string, []string, error) { _ = bar.Add(1) })
	if err != nil {
		return ingest.BatchResult{}, err
	}
	return p.IngestDirectory(ctx, dir, metadata, ingestRecursive)
}

func ingestSite(ctx context.Context, cmd *cobra.Command, a *app, url string, metadata map[string]interface{}) (ingest.BatchResult, error) {
	config := a.scraperConfig()
	config.BaseURL = url
	if ingestMaxDepth > 0 {
		config.MaxDepth = ingestMaxDepth
	}
	if ingestMaxPages > 0 {
		config.MaxPages = ingestMaxPages
	}

	scrapingBar := getProgressBar(cmd.ErrOrStderr(), -1, " Scraping documentation")
	config.OnProgress = func(string) { _ = scrapingBar.Add(1) }

	s, err := scraper.NewWithConfig(config)
	if err != nil {
		return ingest.BatchResult{}, fmt.Errorf("failed to initialize scraper: %w", err)
	}
	sources, err := s.Scrape(ctx, url)
	_ = scrapingBar.Finish()
	if err != nil {
		return ingest.BatchResult{}, fmt.Errorf("failed to scrape URL: %w", err)
	}
	color.Green("✓ Scraped %d pages", len(sources))

	storageBar := getProgressBar(cmd.ErrOrStderr(), len(sources), " Storing in vector database")
	defer storageBar.Finish()

	p, err := a.pipeline(func(string, []string, error) { _ = storageBar.Add(1) })
	if err != nil {
		return ingest.BatchResult{}, err
	}
	return p.IngestSources(ctx, sources, metadata), nil
}
