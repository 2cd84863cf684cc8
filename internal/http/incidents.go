package http

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"incident-monitor/internal/repo"
	"incident-monitor/internal/services/incidents"
)

// IncidentHandler serves the read API
type IncidentHandler struct {
	service *incidents.Service
}

func NewIncidentHandler(service *incidents.Service) *IncidentHandler {
	return &IncidentHandler{service: service}
}

func (h *IncidentHandler) RegisterRoutes(r chi.Router) {
	r.Route("/incidents", func(r chi.Router) {
		r.Get("/", h.List)
		r.Get("/{id}", h.Get)
		r.Get("/{id}/sources", h.Sources)
	})
	r.Get("/stats", h.Stats)
}

func (h *IncidentHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	resp, err := h.service.List(r.Context(), incidents.ListRequest{
		DateFrom:      q.Get("date_from"),
		DateTo:        q.Get("date_to"),
		Region:        q.Get("region"),
		Province:      q.Get("province"),
		MinFatalities: q.Get("min_fatalities"),
		AccidentType:  q.Get("accident_type"),
		Query:         q.Get("q"),
		Limit:         q.Get("limit"),
	})
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *IncidentHandler) Get(w http.ResponseWriter, r *http.Request) {
	incident, err := h.service.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, incident)
}

func (h *IncidentHandler) Sources(w http.ResponseWriter, r *http.Request) {
	sources, err := h.service.Sources(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sources": sources})
}

func (h *IncidentHandler) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.service.Stats(r.Context())
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (h *IncidentHandler) fail(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, incidents.ErrInvalidFilter):
		writeError(w, http.StatusBadRequest, codeValidation, err.Error())
	case errors.Is(err, repo.ErrNotFound):
		writeError(w, http.StatusNotFound, codeNotFound, "incident not found")
	default:
		log.Error().Err(err).Msg("Incident query failed")
		writeError(w, http.StatusInternalServerError, codeInternal, "internal server error")
	}
}
