package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"incident-monitor/internal/services/pipeline"
)

const maxBodyBytes = 1 << 20

type ArticleProcessor interface {
	Process(ctx context.Context, article pipeline.ArticleSubmission) (*pipeline.ProcessResult, error)
}

// PipelineHandler serves the three ingestion stages
type PipelineHandler struct {
	classifier pipeline.ArticleClassifier
	extractor  pipeline.IncidentExtractor
	processor  ArticleProcessor
}

func NewPipelineHandler(classifier pipeline.ArticleClassifier, extractor pipeline.IncidentExtractor, processor ArticleProcessor) *PipelineHandler {
	return &PipelineHandler{
		classifier: classifier,
		extractor:  extractor,
		processor:  processor,
	}
}

func (h *PipelineHandler) RegisterRoutes(r chi.Router) {
	for path, handler := range map[string]http.HandlerFunc{
		"/classify-article": h.Classify,
		"/extract-incident": h.Extract,
		"/process-article":  h.Process,
	} {
		r.Post(path, handler)
		r.Options(path, preflight)
	}
}

type classifyResponse struct {
	Success        bool             `json:"success"`
	Classification pipeline.Verdict `json:"classification"`
	ShouldExtract  bool             `json:"should_extract"`
}

type extractResponse struct {
	Success       bool                       `json:"success"`
	IncidentID    string                     `json:"incident_id"`
	IsNewIncident bool                       `json:"is_new_incident"`
	Extracted     pipeline.ExtractedIncident `json:"extracted"`
	AISummary     string                     `json:"ai_summary"`
}

type processSkippedResponse struct {
	Success        bool             `json:"success"`
	Processed      bool             `json:"processed"`
	Reason         string           `json:"reason"`
	Classification pipeline.Verdict `json:"classification"`
}

type processDoneResponse struct {
	Success        bool             `json:"success"`
	Processed      bool             `json:"processed"`
	Classification pipeline.Verdict `json:"classification"`
	IncidentID     string           `json:"incident_id"`
	IsNewIncident  bool             `json:"is_new_incident"`
	AISummary      string           `json:"ai_summary"`
}

func (h *PipelineHandler) Classify(w http.ResponseWriter, r *http.Request) {
	article, ok := decodeArticle(w, r)
	if !ok {
		return
	}

	result, err := h.classifier.Classify(r.Context(), article)
	if err != nil {
		log.Error().Err(err).Str("article_url", article.URL).Msg("Classification failed")
		writeStageError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, classifyResponse{
		Success:        true,
		Classification: result.Classification,
		ShouldExtract:  result.ShouldExtract,
	})
}

func (h *PipelineHandler) Extract(w http.ResponseWriter, r *http.Request) {
	article, ok := decodeArticle(w, r)
	if !ok {
		return
	}

	result, err := h.extractor.Extract(r.Context(), article)
	if err != nil {
		log.Error().Err(err).Str("article_url", article.URL).Msg("Extraction failed")
		writeStageError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, extractResponse{
		Success:       true,
		IncidentID:    result.IncidentID,
		IsNewIncident: result.IsNewIncident,
		Extracted:     result.Extracted,
		AISummary:     result.AISummary,
	})
}

// Process reports every stage failure as 500; only validation is a 400.
func (h *PipelineHandler) Process(w http.ResponseWriter, r *http.Request) {
	article, ok := decodeArticle(w, r)
	if !ok {
		return
	}

	result, err := h.processor.Process(r.Context(), article)
	if errors.Is(err, pipeline.ErrValidation) {
		writeError(w, http.StatusBadRequest, codeValidation, err.Error())
		return
	}
	if err != nil {
		log.Error().Err(err).Str("article_url", article.URL).Msg("Article processing failed")
		writeError(w, http.StatusInternalServerError, codeInternal, err.Error())
		return
	}

	if !result.Processed {
		writeJSON(w, http.StatusOK, processSkippedResponse{
			Success:        true,
			Processed:      false,
			Reason:         result.Reason,
			Classification: result.Classification,
		})
		return
	}
	writeJSON(w, http.StatusOK, processDoneResponse{
		Success:        true,
		Processed:      true,
		Classification: result.Classification,
		IncidentID:     result.IncidentID,
		IsNewIncident:  result.IsNewIncident,
		AISummary:      result.AISummary,
	})
}

func decodeArticle(w http.ResponseWriter, r *http.Request) (pipeline.ArticleSubmission, bool) {
	var article pipeline.ArticleSubmission
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&article); err != nil {
		writeError(w, http.StatusBadRequest, codeValidation, "invalid JSON body")
		return article, false
	}
	return article, true
}

func preflight(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}
