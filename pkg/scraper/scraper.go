package scraper

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/time/rate"

	"github.com/xhad/lumina/internal/logging"
	"github.com/xhad/lumina/internal/models"
	"github.com/xhad/lumina/pkg/extract"
)

type ScraperConfig struct {
	BaseURL           string
	MaxDepth          int
	MaxPages          int     // 0 for unlimited
	RateLimit         float64 // requests per second
	IgnorePatterns    []string
	AllowedExtensions []string
	Timeout           time.Duration
	OnProgress        func(url string)
	Logger            *slog.Logger
}

// Scraper crawls one documentation site and yields each page as an ingestion source.
// A Scraper is not safe for concurrent crawls.
type Scraper struct {
	config   ScraperConfig
	client   *http.Client
	visited  map[string]bool
	limiter  *rate.Limiter
	baseHost string
	logger   *slog.Logger
}

func NewWithConfig(config ScraperConfig) (*Scraper, error) {
	if config.Timeout == 0 {
		config.Timeout = 30 * time.Second
	}
	if config.MaxDepth == 0 {
		config.MaxDepth = 3
	}
	if config.RateLimit == 0 {
		config.RateLimit = 2
	}
	if len(config.AllowedExtensions) == 0 {
		config.AllowedExtensions = []string{".html", ".htm", "/", ""}
	}

	parsedURL, err := url.Parse(config.BaseURL)
	if err != nil {
		return nil, err
	}
	if parsedURL.Host == "" {
		return nil, fmt.Errorf("base url %q has no host", config.BaseURL)
	}

	return &Scraper{
		config: config,
		client: &http.Client{
			Timeout: config.Timeout,
		},
		visited:  make(map[string]bool),
		limiter:  rate.NewLimiter(rate.Limit(config.RateLimit), 1),
		baseHost: parsedURL.Host,
		logger:   logging.OrDiscard(config.Logger).With("component", "scraper"),
	}, nil
}

func New(baseURL string) (*Scraper, error) {
	return NewWithConfig(ScraperConfig{
		BaseURL: baseURL,
	})
}

func (s *Scraper) shouldProcessURL(urlStr string) bool {
	parsedURL, err := url.Parse(urlStr)
	if err != nil {
		return false
	}

	if parsedURL.Host != s.baseHost {
		return false
	}

	path := strings.ToLower(parsedURL.Path)
	validExt := false
	for _, allowedExt := range s.config.AllowedExtensions {
		if strings.HasSuffix(path, allowedExt) {
			validExt = true
			break
		}
	}
	if !validExt {
		return false
	}

	for _, pattern := range s.config.IgnorePatterns {
		if strings.Contains(urlStr, pattern) {
			return false
		}
	}

	return true
}

// Scrape crawls from startURL and returns one source per page with non-empty text.
// Only a failure on the start page is returned; failures on linked pages are logged.
func (s *Scraper) Scrape(ctx context.Context, startURL string) ([]models.Source, error) {
	var sources []models.Source
	err := s.scrapeRecursive(ctx, normalizeURL(startURL), 0, &sources)
	return sources, err
}

func (s *Scraper) scrapeRecursive(ctx context.Context, urlStr string, depth int, sources *[]models.Source) error {
	if depth > s.config.MaxDepth || s.visited[urlStr] {
		return nil
	}
	if s.config.MaxPages > 0 && len(s.visited) >= s.config.MaxPages {
		return nil
	}
	if !s.shouldProcessURL(urlStr) {
		return nil
	}

	s.visited[urlStr] = true
	if s.config.OnProgress != nil {
		s.config.OnProgress(urlStr)
	}

	if err := s.limiter.Wait(ctx); err != nil {
		return err
	}

	doc, resp, err := s.fetch(ctx, urlStr)
	if err != nil {
		return err
	}

	title, text := extract.MainContent(doc)
	if text != "" {
		*sources = append(*sources, models.Source{
			Ref:   urlStr,
			Title: title,
			Text:  text,
			Metadata: map[string]interface{}{
				"url":           urlStr,
				"title":         title,
				"depth":         depth,
				"content_type":  resp.Header.Get("Content-Type"),
				"last_modified": resp.Header.Get("Last-Modified"),
			},
		})
	}
	s.logger.Debug("page_scraped", "url", urlStr, "depth", depth, "text_length", len(text))

	base, _ := url.Parse(urlStr)
	doc.Find("a[href]").Each(func(_ int, selection *goquery.Selection) {
		href, _ := selection.Attr("href")
		link, err := url.Parse(strings.TrimSpace(href))
		if err != nil {
			s.logger.Warn("invalid_link", "href", href, "error", err)
			return
		}
		next := normalizeURL(base.ResolveReference(link).String())

		if err := s.scrapeRecursive(ctx, next, depth+1, sources); err != nil {
			s.logger.Warn("page_scrape_failed", "url", next, "error", err)
		}
	})

	return nil
}

func (s *Scraper) fetch(ctx context.Context, urlStr string) (*goquery.Document, *http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, urlStr, nil)
	if err != nil {
		return nil, nil, err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, nil, fmt.Errorf("received status code %d for URL: %s", resp.StatusCode, urlStr)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, nil, err
	}
	return doc, resp, nil
}

// normalizeURL drops fragments so in-page anchors are not crawled twice.
func normalizeURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	u.Fragment = ""
	return u.String()
}
