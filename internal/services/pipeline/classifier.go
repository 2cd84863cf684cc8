package pipeline

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/tidwall/gjson"

	"incident-monitor/internal/metrics"
	"incident-monitor/internal/repo"
	"incident-monitor/internal/services/llm"
)

var errNoJSON = errors.New("no JSON object in response")

// ShouldExtract reports whether a verdict is positive and confident enough
// to continue to extraction.
func ShouldExtract(v Verdict, threshold float64) bool {
	return v.IsFatalRoadAccident && v.Confidence >= threshold
}

type ClassifierConfig struct {
	Model       string
	Temperature float64
	Threshold   float64
}

func DefaultClassifierConfig() ClassifierConfig {
	return ClassifierConfig{
		Temperature: 0.1,
		Threshold:   0.7,
	}
}

// Classifier decides whether an article reports a fatal road accident in Italy.
type Classifier struct {
	gateway llm.Gateway
	queue   repo.QueueStore
	cfg     ClassifierConfig
	metrics *metrics.Pipeline
}

func NewClassifier(gateway llm.Gateway, queue repo.QueueStore, cfg ClassifierConfig, m *metrics.Pipeline) *Classifier {
	return &Classifier{
		gateway: gateway,
		queue:   queue,
		cfg:     cfg,
		metrics: m,
	}
}

// Classify asks the gateway for a verdict and records it in the article queue.
// A response that cannot be parsed yields a negative verdict rather than an error.
func (c *Classifier) Classify(ctx context.Context, article ArticleSubmission) (*ClassifyResult, error) {
	if err := article.Validate(); err != nil {
		return nil, err
	}
	// Once started, a submission runs to completion even if the caller goes away.
	ctx = context.WithoutCancel(ctx)
	defer c.metrics.ObserveStage(metrics.StageClassify, time.Now())

	text, err := c.gateway.Complete(ctx, llm.CompletionRequest{
		Model:       c.cfg.Model,
		System:      classifySystemPrompt,
		User:        classificationPrompt(article.Title, article.Snippet),
		Temperature: c.cfg.Temperature,
	})
	if err != nil {
		return nil, err
	}

	verdict, err := parseVerdict(text)
	if err != nil {
		log.Warn().
			Err(err).
			Str("article_url", article.URL).
			Str("response", truncate(text, 200)).
			Msg("Failed to parse classification response")
		verdict = Verdict{IsFatalRoadAccident: false, Confidence: 0, Reason: "parse error"}
	}

	status := repo.QueueClassifiedNegative
	if verdict.IsFatalRoadAccident {
		status = repo.QueueClassifiedPositive
	}
	if err := c.queue.UpsertQueueEntry(ctx, repo.UpsertQueueEntryParams{
		ArticleURL:     article.URL,
		ArticleTitle:   article.Title,
		ArticleSnippet: optional(article.Snippet),
		Status:         status,
	}); err != nil {
		log.Error().Err(err).Str("article_url", article.URL).Msg("Failed to record queue entry")
	}

	c.metrics.Classified(verdict.IsFatalRoadAccident)
	log.Info().
		Str("article_url", article.URL).
		Bool("fatal", verdict.IsFatalRoadAccident).
		Float64("confidence", verdict.Confidence).
		Msg("Article classified")

	return &ClassifyResult{
		Classification: verdict,
		ShouldExtract:  ShouldExtract(verdict, c.cfg.Threshold),
	}, nil
}

func parseVerdict(text string) (Verdict, error) {
	raw, ok := llm.ExtractJSONObject(text)
	if !ok || !gjson.Valid(raw) {
		return Verdict{}, errNoJSON
	}
	res := gjson.Parse(raw)
	return Verdict{
		IsFatalRoadAccident: res.Get("is_fatal_road_accident").Bool(),
		Confidence:          clamp01(res.Get("confidence").Float()),
		Reason:              res.Get("reason").String(),
	}, nil
}

func clamp01(f float64) float64 {
	switch {
	case f < 0:
		return 0
	case f > 1:
		return 1
	}
	return f
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
