package pipeline

import (
	"errors"
	"strings"

	"incident-monitor/internal/repo"
)

var (
	// ErrValidation is returned before any gateway call when required input is missing.
	ErrValidation = errors.New("article_url and article_title are required")
	// ErrExtractionParse is returned when the extraction response has no usable JSON payload.
	ErrExtractionParse = errors.New("failed to parse AI response")
)

// ArticleSubmission is one news article entering the pipeline.
type ArticleSubmission struct {
	URL         string `json:"article_url" yaml:"article_url"`
	Title       string `json:"article_title" yaml:"article_title"`
	Snippet     string `json:"article_snippet,omitempty" yaml:"article_snippet,omitempty"`
	SourceName  string `json:"source_name,omitempty" yaml:"source_name,omitempty"`
	PublishedAt string `json:"published_at,omitempty" yaml:"published_at,omitempty"`
}

// Validate checks the fields every stage requires.
func (a ArticleSubmission) Validate() error {
	if strings.TrimSpace(a.URL) == "" || strings.TrimSpace(a.Title) == "" {
		return ErrValidation
	}
	return nil
}

// Verdict is the classifier's judgment on one article.
type Verdict struct {
	IsFatalRoadAccident bool    `json:"is_fatal_road_accident"`
	Confidence          float64 `json:"confidence"`
	Reason              string  `json:"reason"`
}

// ClassifyResult is the outcome of the classification stage.
type ClassifyResult struct {
	Classification Verdict `json:"classification"`
	ShouldExtract  bool    `json:"should_extract"`
}

// ExtractedIncident holds the fields read from the model, before defaults
// are applied. EventDate is always set (today when the article has none).
type ExtractedIncident struct {
	EventDate           string              `json:"event_date"`
	EventTime           *string             `json:"event_time"`
	City                string              `json:"city"`
	Province            *string             `json:"province"`
	Region              *string             `json:"region"`
	RoadName            *string             `json:"road_name"`
	DeceasedCount       *int                `json:"deceased_count"`
	InjuredCount        *int                `json:"injured_count"`
	AccidentType        *string             `json:"accident_type"`
	DynamicsDescription *string             `json:"dynamics_description"`
	VictimDetails       []repo.VictimDetail `json:"victim_details"`
	ConfidenceScore     *float64            `json:"confidence_score"`
}

// ExtractResult is the outcome of the extraction stage.
type ExtractResult struct {
	IncidentID    string            `json:"incident_id"`
	IsNewIncident bool              `json:"is_new_incident"`
	Extracted     ExtractedIncident `json:"extracted"`
	AISummary     string            `json:"ai_summary"`
}

// ProcessResult is the outcome of the full classify-then-extract run.
type ProcessResult struct {
	Processed      bool
	Reason         string
	Classification Verdict
	IncidentID     string
	IsNewIncident  bool
	AISummary      string
}

func optional(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}
