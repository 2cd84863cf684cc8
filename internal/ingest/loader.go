package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"

	"incident-monitor/internal/services/pipeline"
)

// Processor runs one article through the pipeline
type Processor interface {
	Process(ctx context.Context, article pipeline.ArticleSubmission) (*pipeline.ProcessResult, error)
}

// Tally counts per-article outcomes of a load
type Tally struct {
	Processed int `json:"processed"`
	Skipped   int `json:"skipped"`
	Failed    int `json:"failed"`
}

func (t *Tally) add(o Tally) {
	t.Processed += o.Processed
	t.Skipped += o.Skipped
	t.Failed += o.Failed
}

func (t Tally) String() string {
	return fmt.Sprintf("processed=%d skipped=%d failed=%d", t.Processed, t.Skipped, t.Failed)
}

// Loader submits article files to the pipeline, one article at a time
type Loader struct {
	processor Processor
	enricher  *Enricher
}

// NewLoader creates a Loader. enricher may be nil.
func NewLoader(processor Processor, enricher *Enricher) *Loader {
	return &Loader{
		processor: processor,
		enricher:  enricher,
	}
}

// LoadFromDirectory loads every JSON and YAML file under dirPath
func (l *Loader) LoadFromDirectory(ctx context.Context, dirPath string) (Tally, error) {
	var total Tally
	err := filepath.WalkDir(dirPath, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !isArticleFile(path) {
			return nil
		}

		log.Info().Str("file", path).Msg("Loading file")
		t, err := l.LoadFromFile(ctx, path)
		total.add(t)
		return err
	})
	return total, err
}

// LoadFromFile loads the articles in a single file
func (l *Loader) LoadFromFile(ctx context.Context, filePath string) (Tally, error) {
	articles, err := ReadArticles(filePath)
	if err != nil {
		return Tally{}, err
	}
	log.Info().Str("file", filePath).Int("articles", len(articles)).Msg("Articles found")
	return l.Load(ctx, articles)
}

// Load submits articles in order. A failing article is counted and skipped;
// only context cancellation stops the run.
func (l *Loader) Load(ctx context.Context, articles []pipeline.ArticleSubmission) (Tally, error) {
	var tally Tally
	for i, article := range articles {
		if err := ctx.Err(); err != nil {
			return tally, err
		}

		if l.enricher != nil && needsEnrichment(article) {
			enriched, err := l.enricher.Enrich(ctx, article)
			if err != nil {
				log.Warn().Err(err).Str("article_url", article.URL).Msg("Page enrichment failed")
			} else {
				article = enriched
			}
		}

		result, err := l.processor.Process(ctx, article)
		switch {
		case err != nil:
			tally.Failed++
			log.Error().Err(err).Int("index", i).Str("article_url", article.URL).Msg("Failed to process article")
		case result.Processed:
			tally.Processed++
			log.Info().
				Str("article_url", article.URL).
				Str("incident_id", result.IncidentID).
				Bool("new_incident", result.IsNewIncident).
				Msg("Article processed")
		default:
			tally.Skipped++
			log.Info().Str("article_url", article.URL).Str("reason", result.Reason).Msg("Article skipped")
		}
	}
	return tally, nil
}

// ReadArticles decodes a JSON or YAML list of submissions, chosen by extension
func ReadArticles(filePath string) ([]pipeline.ArticleSubmission, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open file %s: %w", filePath, err)
	}

	var articles []pipeline.ArticleSubmission
	switch strings.ToLower(filepath.Ext(filePath)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &articles)
	default:
		err = json.Unmarshal(data, &articles)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", filePath, err)
	}
	return articles, nil
}

func isArticleFile(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json", ".yaml", ".yml":
		return true
	}
	return false
}

func needsEnrichment(a pipeline.ArticleSubmission) bool {
	return a.URL != "" && (strings.TrimSpace(a.Title) == "" || strings.TrimSpace(a.Snippet) == "")
}
