package pipeline

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"incident-monitor/internal/repo"
	"incident-monitor/internal/services/llm"
)

type countingExtractor struct {
	calls  int
	result *ExtractResult
	err    error
}

func (c *countingExtractor) Extract(ctx context.Context, article ArticleSubmission) (*ExtractResult, error) {
	c.calls++
	return c.result, c.err
}

func TestProcess_NegativeVerdictSkipsExtraction(t *testing.T) {
	tests := []struct {
		name string
		text string
	}{
		{"not_fatal", verdictJSON(false, 0.95)},
		{"low_confidence", verdictJSON(true, 0.5)},
		{"unparseable", "boh"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			classifier := NewClassifier(newFakeGateway(reply(tt.text)), repo.NewMemoryRepository(), DefaultClassifierConfig(), nil)
			extractor := &countingExtractor{}
			p := NewProcessor(classifier, extractor, nil)

			result, err := p.Process(context.Background(), testArticle("https://example.it/a"))

			require.NoError(t, err)
			assert.False(t, result.Processed)
			assert.Equal(t, NotFatalReason, result.Reason)
			assert.Zero(t, extractor.calls)
		})
	}
}

func TestProcess_PositiveVerdictRunsExtraction(t *testing.T) {
	ctx := context.Background()
	gateway := newFakeGateway(
		reply(verdictJSON(true, 0.9)),
		reply(extractionJSON("Torino", "2026-03-10")),
		reply(summaryText),
	)
	store := repo.NewMemoryRepository()
	classifier := NewClassifier(gateway, store, DefaultClassifierConfig(), nil)
	p := NewProcessor(classifier, newTestExtractor(t, gateway, store), nil)
	article := testArticle("https://example.it/a")

	result, err := p.Process(ctx, article)

	require.NoError(t, err)
	assert.True(t, result.Processed)
	assert.True(t, result.IsNewIncident)
	assert.NotEmpty(t, result.IncidentID)
	assert.Equal(t, summaryText, result.AISummary)
	assert.True(t, result.Classification.IsFatalRoadAccident)
	assert.Equal(t, 3, gateway.callCount())

	entry, err := store.GetQueueEntry(ctx, article.URL)
	require.NoError(t, err)
	assert.Equal(t, repo.QueueProcessed, entry.Status)
}

func TestProcess_StageErrorsAreWrapped(t *testing.T) {
	classifier := NewClassifier(newFakeGateway(fail(llm.ErrPaymentRequired)), repo.NewMemoryRepository(), DefaultClassifierConfig(), nil)
	extractor := &countingExtractor{}
	p := NewProcessor(classifier, extractor, nil)

	_, err := p.Process(context.Background(), testArticle("https://example.it/a"))

	require.ErrorIs(t, err, llm.ErrPaymentRequired)
	assert.Contains(t, err.Error(), "classification failed")
	assert.Zero(t, extractor.calls)

	classifier = NewClassifier(newFakeGateway(reply(verdictJSON(true, 0.9))), repo.NewMemoryRepository(), DefaultClassifierConfig(), nil)
	extractor = &countingExtractor{err: ErrExtractionParse}
	p = NewProcessor(classifier, extractor, nil)

	_, err = p.Process(context.Background(), testArticle("https://example.it/a"))

	require.ErrorIs(t, err, ErrExtractionParse)
	assert.Contains(t, err.Error(), "extraction failed")
	assert.Equal(t, 1, extractor.calls)
}

func TestProcess_ValidationBeforeAnyStage(t *testing.T) {
	gateway := newFakeGateway()
	extractor := &countingExtractor{}
	p := NewProcessor(NewClassifier(gateway, repo.NewMemoryRepository(), DefaultClassifierConfig(), nil), extractor, nil)

	_, err := p.Process(context.Background(), ArticleSubmission{URL: "https://example.it/a"})

	require.ErrorIs(t, err, ErrValidation)
	assert.Zero(t, gateway.callCount())
	assert.Zero(t, extractor.calls)
}

func TestProcess_RunsToCompletionAfterCallerCancels(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	store := &cancelingStore{MemoryRepository: repo.NewMemoryRepository(), cancel: func() {}}
	gateway := newFakeGateway(
		reply(verdictJSON(true, 0.9)),
		reply(extractionJSON("Torino", "2026-03-10")),
		reply(summaryText),
	)
	p := NewProcessor(NewClassifier(gateway, store, DefaultClassifierConfig(), nil), newTestExtractor(t, gateway, store), nil)
	article := testArticle("https://example.it/a")

	result, err := p.Process(ctx, article)

	require.NoError(t, err)
	assert.True(t, result.Processed)

	sources, err := store.ListIncidentSources(context.Background(), result.IncidentID)
	require.NoError(t, err)
	assert.Len(t, sources, 1)

	entry, err := store.GetQueueEntry(context.Background(), article.URL)
	require.NoError(t, err)
	assert.Equal(t, repo.QueueProcessed, entry.Status)
}
