package http

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"incident-monitor/internal/repo"
	"incident-monitor/internal/services/feeds"
)

// FeedHandler serves news feed management
type FeedHandler struct {
	service *feeds.Service
}

func NewFeedHandler(service *feeds.Service) *FeedHandler {
	return &FeedHandler{service: service}
}

func (h *FeedHandler) RegisterRoutes(r chi.Router) {
	r.Route("/feeds", func(r chi.Router) {
		r.Get("/", h.List)
		r.Post("/", h.Create)
		r.Patch("/{id}", h.SetActive)
		r.Delete("/{id}", h.Delete)
	})
}

func (h *FeedHandler) List(w http.ResponseWriter, r *http.Request) {
	list, err := h.service.List(r.Context())
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"feeds": list})
}

func (h *FeedHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req feeds.CreateRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, codeValidation, "invalid JSON body")
		return
	}

	feed, err := h.service.Create(r.Context(), req)
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, feed)
}

type setActiveRequest struct {
	IsActive *bool `json:"is_active"`
}

func (h *FeedHandler) SetActive(w http.ResponseWriter, r *http.Request) {
	var req setActiveRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, codeValidation, "invalid JSON body")
		return
	}
	if req.IsActive == nil {
		writeError(w, http.StatusBadRequest, codeValidation, "is_active is required")
		return
	}

	feed, err := h.service.SetActive(r.Context(), chi.URLParam(r, "id"), *req.IsActive)
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, feed)
}

func (h *FeedHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.service.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		h.fail(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *FeedHandler) fail(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, feeds.ErrInvalidFeed):
		writeError(w, http.StatusBadRequest, codeValidation, err.Error())
	case errors.Is(err, repo.ErrNotFound):
		writeError(w, http.StatusNotFound, codeNotFound, "feed not found")
	default:
		log.Error().Err(err).Msg("Feed operation failed")
		writeError(w, http.StatusInternalServerError, codeInternal, "internal server error")
	}
}
