package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"incident-monitor/internal/metrics"
)

// NotFatalReason is reported when classification stops the run.
const NotFatalReason = "Not classified as fatal road accident"

type ArticleClassifier interface {
	Classify(ctx context.Context, article ArticleSubmission) (*ClassifyResult, error)
}

type IncidentExtractor interface {
	Extract(ctx context.Context, article ArticleSubmission) (*ExtractResult, error)
}

// Processor runs classification and, when the verdict qualifies, extraction.
type Processor struct {
	classifier ArticleClassifier
	extractor  IncidentExtractor
	metrics    *metrics.Pipeline
}

func NewProcessor(classifier ArticleClassifier, extractor IncidentExtractor, m *metrics.Pipeline) *Processor {
	return &Processor{
		classifier: classifier,
		extractor:  extractor,
		metrics:    m,
	}
}

func (p *Processor) Process(ctx context.Context, article ArticleSubmission) (*ProcessResult, error) {
	if err := article.Validate(); err != nil {
		return nil, err
	}
	ctx = context.WithoutCancel(ctx)
	defer p.metrics.ObserveStage(metrics.StageProcess, time.Now())

	classified, err := p.classifier.Classify(ctx, article)
	if err != nil {
		return nil, fmt.Errorf("classification failed: %w", err)
	}
	if !classified.ShouldExtract {
		log.Debug().Str("article_url", article.URL).Msg("Article skipped after classification")
		return &ProcessResult{
			Processed:      false,
			Reason:         NotFatalReason,
			Classification: classified.Classification,
		}, nil
	}

	extracted, err := p.extractor.Extract(ctx, article)
	if err != nil {
		return nil, fmt.Errorf("extraction failed: %w", err)
	}

	return &ProcessResult{
		Processed:      true,
		Classification: classified.Classification,
		IncidentID:     extracted.IncidentID,
		IsNewIncident:  extracted.IsNewIncident,
		AISummary:      extracted.AISummary,
	}, nil
}
