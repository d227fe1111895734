package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rs/zerolog"

	"image-task-pipeline/internal/domain"
	"image-task-pipeline/internal/infra/logging"
)

// Machine-readable error codes returned in the "code" field.
const (
	codeValidation       = "VALIDATION_ERROR"
	codeQuotaExceeded    = "QUOTA_EXCEEDED"
	codeNotFound         = "NOT_FOUND"
	codeForbidden        = "FORBIDDEN"
	codeRateLimited      = "RATE_LIMITED"
	codeUnauthorized     = "UNAUTHORIZED"
	codeQueueUnavailable = "QUEUE_UNAVAILABLE"
	codeInternal         = "INTERNAL_ERROR"
)

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// statusFor maps the domain error family onto an HTTP status and code.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, domain.ErrValidation), errors.Is(err, domain.ErrInvalidArgument):
		return http.StatusBadRequest, codeValidation
	case errors.Is(err, domain.ErrQuotaExceeded):
		return http.StatusBadRequest, codeQuotaExceeded
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound, codeNotFound
	case errors.Is(err, domain.ErrForbidden), errors.Is(err, domain.ErrNotCancellable):
		return http.StatusForbidden, codeForbidden
	case errors.Is(err, domain.ErrRateLimited):
		return http.StatusTooManyRequests, codeRateLimited
	case errors.Is(err, domain.ErrQueueUnavailable):
		return http.StatusServiceUnavailable, codeQueueUnavailable
	}
	return http.StatusInternalServerError, codeInternal
}

func writeError(w http.ResponseWriter, r *http.Request, log *zerolog.Logger, err error) {
	status, code := statusFor(err)
	msg := err.Error()
	switch {
	case status == http.StatusInternalServerError:
		logging.With(r.Context(), log).Error().Err(err).Msg("request failed")
		msg = "internal error"
	case errors.Is(err, domain.ErrNotCancellable):
		msg = domain.ErrNotCancellable.Error()
	case errors.Is(err, domain.ErrTaskNotFound):
		msg = "task not found"
	case errors.Is(err, domain.ErrNotFound):
		msg = "not found"
	}
	writeJSON(w, status, errorBody{Code: code, Message: msg})
}
