package ingest

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	readability "github.com/go-shiori/go-readability"

	"incident-monitor/internal/services/pipeline"
)

const (
	snippetRunes = 400
	maxPageBytes = 5 << 20
	userAgent    = "Mozilla/5.0 (compatible; incident-monitor/1.0)"
)

// Enricher fills missing article fields from the article's own page.
type Enricher struct {
	client *http.Client
}

// NewEnricher creates an Enricher. A nil client gets a 20s timeout client.
func NewEnricher(client *http.Client) *Enricher {
	if client == nil {
		client = &http.Client{Timeout: 20 * time.Second}
	}
	return &Enricher{client: client}
}

// Enrich fetches article.URL and fills title, snippet, source name and
// publication time when they are empty. Fields already set are kept.
func (e *Enricher) Enrich(ctx context.Context, article pipeline.ArticleSubmission) (pipeline.ArticleSubmission, error) {
	pageURL, err := url.Parse(article.URL)
	if err != nil {
		return article, fmt.Errorf("parse URL: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, article.URL, nil)
	if err != nil {
		return article, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := e.client.Do(req)
	if err != nil {
		return article, fmt.Errorf("fetch URL: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return article, fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxPageBytes))
	if err != nil {
		return article, fmt.Errorf("read body: %w", err)
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return article, fmt.Errorf("parse HTML: %w", err)
	}

	if strings.TrimSpace(article.Title) == "" {
		article.Title = firstNonEmpty(metaContent(doc, "og:title"), doc.Find("title").First().Text())
	}
	if strings.TrimSpace(article.Snippet) == "" {
		article.Snippet = metaContent(doc, "og:description")
		if article.Snippet == "" {
			if parsed, err := readability.FromReader(bytes.NewReader(body), pageURL); err == nil {
				article.Snippet = truncateRunes(strings.Join(strings.Fields(parsed.TextContent), " "), snippetRunes)
			}
		}
	}
	if strings.TrimSpace(article.SourceName) == "" {
		article.SourceName = metaContent(doc, "og:site_name")
	}
	if strings.TrimSpace(article.PublishedAt) == "" {
		article.PublishedAt = metaContent(doc, "article:published_time")
	}
	return article, nil
}

func metaContent(doc *goquery.Document, property string) string {
	sel := doc.Find(fmt.Sprintf(`meta[property=%q]`, property)).First()
	if sel.Length() == 0 {
		sel = doc.Find(fmt.Sprintf(`meta[name=%q]`, property)).First()
	}
	return strings.TrimSpace(sel.AttrOr("content", ""))
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
