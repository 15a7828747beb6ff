// Package extract turns files on disk into plain text for ingestion.
package extract

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"

	"github.com/xhad/lumina/internal/errs"
)

// ErrUnsupported is returned for file types that have no extractor.
var ErrUnsupported = errors.New("unsupported file type")

var (
	textExtensions = []string{".txt", ".md", ".markdown"}
	htmlExtensions = []string{".html", ".htm"}

	// Tried in order; the first selector with content wins.
	mainContentSelectors = []string{
		"main",
		"article",
		".content",
		"#content",
		".documentation",
		"#documentation",
	}

	noiseSelectors = "script, style, noscript, nav, header, footer, aside"

	noisePhrases = []string{
		"Cookie Policy",
		"Accept Cookies",
		"Privacy Policy",
		"Terms of Service",
	}
)

// Extractor reads text and HTML documents.
type Extractor struct{}

func New() Extractor {
	return Extractor{}
}

// Extensions lists every extension Extract accepts.
func (Extractor) Extensions() []string {
	return append(append([]string{}, textExtensions...), htmlExtensions...)
}

func (Extractor) Supports(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return contains(textExtensions, ext) || contains(htmlExtensions, ext)
}

// Extract returns the text of path. PDFs and unknown extensions are rejected with ErrUnsupported.
func (Extractor) Extract(path string) (string, error) {
	ext := strings.ToLower(filepath.Ext(path))

	if !contains(textExtensions, ext) && !contains(htmlExtensions, ext) {
		return "", fmt.Errorf("%w: %w: %s", errs.ErrValidation, ErrUnsupported, path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read %s: %w", path, err)
	}

	if contains(htmlExtensions, ext) {
		doc, err := goquery.NewDocumentFromReader(bytes.NewReader(data))
		if err != nil {
			return "", fmt.Errorf("failed to parse %s: %w", path, err)
		}
		_, text := MainContent(doc)
		return text, nil
	}

	if !utf8.Valid(data) {
		return strings.ToValidUTF8(string(data), ""), nil
	}
	return string(data), nil
}

// MainContent returns the page title and the cleaned text of its main content area,
// falling back to the whole body.
func MainContent(doc *goquery.Document) (title, text string) {
	title = strings.TrimSpace(doc.Find("title").First().Text())

	doc.Find(noiseSelectors).Remove()

	for _, selector := range mainContentSelectors {
		if selected := doc.Find(selector); selected.Length() > 0 {
			text = selectionText(selected)
			if text != "" {
				break
			}
		}
	}
	if text == "" {
		text = selectionText(doc.Find("body"))
	}
	return title, clean(text)
}

// selectionText joins the text of each node with spaces so block elements do not run together.
func selectionText(sel *goquery.Selection) string {
	var parts []string
	collectText(sel, &parts)
	return strings.Join(parts, " ")
}

func collectText(sel *goquery.Selection, parts *[]string) {
	sel.Contents().Each(func(_ int, s *goquery.Selection) {
		if goquery.NodeName(s) == "#text" {
			if t := strings.TrimSpace(s.Text()); t != "" {
				*parts = append(*parts, t)
			}
			return
		}
		collectText(s, parts)
	})
}

func clean(content string) string {
	for _, phrase := range noisePhrases {
		content = strings.ReplaceAll(content, phrase, "")
	}
	return strings.Join(strings.Fields(content), " ")
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
