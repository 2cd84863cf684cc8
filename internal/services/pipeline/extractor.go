package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/tidwall/gjson"

	"incident-monitor/internal/metrics"
	"incident-monitor/internal/repo"
	"incident-monitor/internal/services/llm"
)

type ExtractorConfig struct {
	Model              string
	Temperature        float64
	SummaryTemperature float64
	DedupLimit         int
	Location           *time.Location
	DefaultSourceName  string
}

func DefaultExtractorConfig() ExtractorConfig {
	return ExtractorConfig{
		Temperature:        0.2,
		SummaryTemperature: 0.3,
		DedupLimit:         5,
		Location:           time.UTC,
		DefaultSourceName:  "Unknown",
	}
}

// Extractor turns an article into a stored incident, reusing an existing
// incident when one matches on date and city.
type Extractor struct {
	gateway llm.Gateway
	store   repo.IngestStore
	cfg     ExtractorConfig
	metrics *metrics.Pipeline
	now     func() time.Time

	onNewIncident func(ctx context.Context, incidentID string)
}

// OnNewIncident registers fn to run after a new incident and its source are
// stored. Reused incidents do not trigger it.
func (e *Extractor) OnNewIncident(fn func(ctx context.Context, incidentID string)) {
	e.onNewIncident = fn
}

func NewExtractor(gateway llm.Gateway, store repo.IngestStore, cfg ExtractorConfig, m *metrics.Pipeline) *Extractor {
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.DedupLimit <= 0 {
		cfg.DedupLimit = 5
	}
	if cfg.DefaultSourceName == "" {
		cfg.DefaultSourceName = "Unknown"
	}
	return &Extractor{
		gateway: gateway,
		store:   store,
		cfg:     cfg,
		metrics: m,
		now:     time.Now,
	}
}

func (e *Extractor) Extract(ctx context.Context, article ArticleSubmission) (*ExtractResult, error) {
	if err := article.Validate(); err != nil {
		return nil, err
	}
	// Caller cancellation must not leave an incident without its source row.
	ctx = context.WithoutCancel(ctx)
	defer e.metrics.ObserveStage(metrics.StageExtract, time.Now())

	text, err := e.gateway.Complete(ctx, llm.CompletionRequest{
		Model:       e.cfg.Model,
		System:      extractSystemPrompt,
		User:        extractionPrompt(article.Title, article.Snippet),
		Temperature: e.cfg.Temperature,
	})
	if err != nil {
		e.metrics.Extracted(metrics.OutcomeFailed)
		return nil, err
	}

	extracted, err := e.parseExtraction(text)
	if err != nil {
		log.Warn().
			Err(err).
			Str("article_url", article.URL).
			Str("response", truncate(text, 200)).
			Msg("Failed to parse extraction response")
		e.metrics.Extracted(metrics.OutcomeFailed)
		return nil, err
	}

	summary := e.summarize(ctx, extracted)

	incidentID, isNew, err := e.resolveIncident(ctx, extracted, summary)
	if err != nil {
		e.metrics.Extracted(metrics.OutcomeFailed)
		return nil, err
	}

	if _, err := e.store.CreateIncidentSource(ctx, repo.CreateIncidentSourceParams{
		IncidentID:   incidentID,
		SourceName:   e.sourceName(article.SourceName),
		ArticleURL:   article.URL,
		ArticleTitle: optional(article.Title),
		PublishedAt:  parsePublishedAt(article.PublishedAt),
		RawSnippet:   optional(article.Snippet),
		FetchedAt:    e.now(),
	}); err != nil {
		log.Error().Err(err).Str("incident_id", incidentID).Str("article_url", article.URL).Msg("Failed to link incident source")
	}

	if err := e.store.MarkQueueProcessed(ctx, repo.MarkQueueProcessedParams{
		ArticleURL:  article.URL,
		ProcessedAt: e.now(),
	}); err != nil {
		log.Error().Err(err).Str("article_url", article.URL).Msg("Failed to mark article processed")
	}

	if isNew && e.onNewIncident != nil {
		e.onNewIncident(ctx, incidentID)
	}

	outcome := metrics.OutcomeReused
	if isNew {
		outcome = metrics.OutcomeNew
	}
	e.metrics.Extracted(outcome)
	log.Info().
		Str("article_url", article.URL).
		Str("incident_id", incidentID).
		Bool("new_incident", isNew).
		Msg("Incident extracted")

	return &ExtractResult{
		IncidentID:    incidentID,
		IsNewIncident: isNew,
		Extracted:     extracted,
		AISummary:     summary,
	}, nil
}

// resolveIncident returns the id of a matching incident or creates a new one.
func (e *Extractor) resolveIncident(ctx context.Context, extracted ExtractedIncident, summary string) (string, bool, error) {
	if extracted.City != "" {
		candidates, err := e.store.FindIncidentCandidates(ctx, repo.FindIncidentCandidatesParams{
			EventDate: extracted.EventDate,
			City:      extracted.City,
			Limit:     int32(e.cfg.DedupLimit),
		})
		if err != nil {
			log.Warn().Err(err).Str("city", extracted.City).Msg("Duplicate lookup failed, creating new incident")
		}
		for _, c := range candidates {
			if repo.CityMatches(c.City, extracted.City) {
				return c.ID, false, nil
			}
		}
	}

	incident, err := e.store.CreateIncident(ctx, incidentParams(extracted, summary))
	if err != nil {
		var pe *repo.PersistenceError
		if !errors.As(err, &pe) {
			err = &repo.PersistenceError{Op: "create incident", Err: err}
		}
		return "", false, err
	}
	return incident.ID, true, nil
}

func incidentParams(x ExtractedIncident, summary string) repo.CreateIncidentParams {
	deceased := 1
	if x.DeceasedCount != nil && *x.DeceasedCount > 0 {
		deceased = *x.DeceasedCount
	}
	accidentType := AccidentOther
	if x.AccidentType != nil {
		accidentType = *x.AccidentType
	}
	return repo.CreateIncidentParams{
		EventDate:           x.EventDate,
		EventTime:           x.EventTime,
		City:                x.City,
		Province:            x.Province,
		Region:              x.Region,
		RoadName:            x.RoadName,
		DeceasedCount:       deceased,
		InjuredCount:        x.InjuredCount,
		AccidentType:        accidentType,
		DynamicsDescription: x.DynamicsDescription,
		VictimDetails:       x.VictimDetails,
		AISummary:           optional(summary),
		ConfidenceScore:     x.ConfidenceScore,
	}
}

// summarize returns an empty string when the summary call fails.
func (e *Extractor) summarize(ctx context.Context, extracted ExtractedIncident) string {
	payload, err := json.MarshalIndent(extracted, "", "  ")
	if err != nil {
		log.Warn().Err(err).Msg("Failed to encode extracted incident for summary")
		return ""
	}
	text, err := e.gateway.Complete(ctx, llm.CompletionRequest{
		Model:       e.cfg.Model,
		System:      summarySystemPrompt,
		User:        summaryPrompt(string(payload)),
		Temperature: e.cfg.SummaryTemperature,
	})
	if err != nil {
		log.Warn().Err(err).Msg("Summary generation failed")
		return ""
	}
	return strings.TrimSpace(text)
}

func (e *Extractor) sourceName(name string) string {
	if strings.TrimSpace(name) == "" {
		return e.cfg.DefaultSourceName
	}
	return name
}

func (e *Extractor) today() string {
	return e.now().In(e.cfg.Location).Format(time.DateOnly)
}

func (e *Extractor) parseExtraction(text string) (ExtractedIncident, error) {
	raw, ok := llm.ExtractJSONObject(text)
	if !ok || !gjson.Valid(raw) {
		return ExtractedIncident{}, ErrExtractionParse
	}
	res := gjson.Parse(raw)

	city := strings.TrimSpace(res.Get("city").String())
	if city == "" {
		return ExtractedIncident{}, fmt.Errorf("%w: city is missing", ErrExtractionParse)
	}

	x := ExtractedIncident{
		EventDate:           e.today(),
		City:                city,
		Province:            optString(res.Get("province")),
		Region:              region(res.Get("region")),
		RoadName:            optString(res.Get("road_name")),
		DeceasedCount:       optCount(res.Get("deceased_count")),
		InjuredCount:        optCount(res.Get("injured_count")),
		AccidentType:        accidentType(res.Get("accident_type")),
		DynamicsDescription: optString(res.Get("dynamics_description")),
		VictimDetails:       victims(res.Get("victim_details")),
	}
	if d := optString(res.Get("event_date")); d != nil {
		if _, err := time.Parse(time.DateOnly, *d); err == nil {
			x.EventDate = *d
		}
	}
	if t := optString(res.Get("event_time")); t != nil {
		if parsed, err := time.Parse("15:04", *t); err == nil {
			s := parsed.Format("15:04")
			x.EventTime = &s
		}
	}
	if c := res.Get("confidence_score"); c.Type == gjson.Number {
		f := clamp01(c.Float())
		x.ConfidenceScore = &f
	}
	return x, nil
}

func optString(r gjson.Result) *string {
	if !r.Exists() || r.Type == gjson.Null {
		return nil
	}
	s := strings.TrimSpace(r.String())
	if s == "" || strings.EqualFold(s, "null") {
		return nil
	}
	return &s
}

// optCount reads a non-negative integer given as a number or numeric string.
func optCount(r gjson.Result) *int {
	var n int
	switch r.Type {
	case gjson.Number:
		n = int(r.Int())
	case gjson.String:
		v, err := strconv.Atoi(strings.TrimSpace(r.Str))
		if err != nil {
			return nil
		}
		n = v
	default:
		return nil
	}
	if n < 0 {
		return nil
	}
	return &n
}

func region(r gjson.Result) *string {
	s := optString(r)
	if s == nil {
		return nil
	}
	for _, name := range ItalianRegions {
		if strings.EqualFold(name, *s) {
			return &name
		}
	}
	return nil
}

func accidentType(r gjson.Result) *string {
	s := optString(r)
	if s == nil {
		return nil
	}
	for _, t := range AccidentTypes {
		if strings.EqualFold(t, *s) {
			return &t
		}
	}
	return nil
}

func victims(r gjson.Result) []repo.VictimDetail {
	if !r.IsArray() {
		return nil
	}
	var out []repo.VictimDetail
	r.ForEach(func(_, v gjson.Result) bool {
		role := strings.TrimSpace(v.Get("role").String())
		if role == "" {
			return true
		}
		out = append(out, repo.VictimDetail{
			AgeRange: strings.TrimSpace(v.Get("age_range").String()),
			Role:     role,
		})
		return true
	})
	return out
}

var publishedLayouts = []string{
	time.RFC3339,
	time.RFC1123Z,
	time.RFC1123,
	"2006-01-02 15:04:05",
	time.DateOnly,
}

func parsePublishedAt(s string) *time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	for _, layout := range publishedLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return &t
		}
	}
	log.Debug().Str("published_at", s).Msg("Unrecognised publication date")
	return nil
}
