package http

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rs/zerolog/log"

	"incident-monitor/internal/services/llm"
	"incident-monitor/internal/services/pipeline"
)

const (
	codeValidation      = "VALIDATION_ERROR"
	codeRateLimit       = "RATE_LIMIT"
	codePaymentRequired = "PAYMENT_REQUIRED"
	codeNotFound        = "NOT_FOUND"
	codeUnavailable     = "UNAVAILABLE"
	codeInternal        = "INTERNAL_ERROR"
)

// ErrorResponse is the body of every non-2xx answer
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("Failed to encode response")
	}
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, ErrorResponse{Error: message, Code: code})
}

// writeStageError maps an error from a single pipeline stage to its status.
func writeStageError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, pipeline.ErrValidation):
		writeError(w, http.StatusBadRequest, codeValidation, err.Error())
	case errors.Is(err, llm.ErrRateLimited):
		writeError(w, http.StatusTooManyRequests, codeRateLimit, err.Error())
	case errors.Is(err, llm.ErrPaymentRequired):
		writeError(w, http.StatusPaymentRequired, codePaymentRequired, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, codeInternal, err.Error())
	}
}
