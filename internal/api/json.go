package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/starford/magic/internal/apperr"
	"github.com/starford/magic/internal/magic"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("json encode failed", slog.String("error", err.Error()))
	}
}

type errResponse struct {
	Error string `json:"error" validate:"required"`
}

func errorBody(msg string) errResponse {
	return errResponse{Error: msg}
}

// statusFor maps command and graph errors to HTTP statuses.
func statusFor(err error) int {
	switch {
	case errors.Is(err, apperr.ErrBlockNotFound), errors.Is(err, apperr.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, apperr.ErrNoTemplateFound),
		errors.Is(err, apperr.ErrAmbiguousTemplate),
		errors.Is(err, apperr.ErrTemplateBlockMissing):
		return http.StatusUnprocessableEntity
	case errors.Is(err, apperr.ErrProviderRequestFailed),
		errors.Is(err, apperr.ErrProviderResponseMalformed):
		return http.StatusBadGateway
	case errors.Is(err, errInvalidInput), errors.Is(err, apperr.ErrAlreadyExists):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, r *http.Request, op string, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		slog.Error(op+" failed", slog.String("path", r.URL.Path), slog.String("error", err.Error()))
		writeJSON(w, status, errorBody("internal error"))
		return
	}
	msg := magic.UserMessage(err)
	if status == http.StatusBadRequest || errors.Is(err, apperr.ErrNotFound) {
		msg = err.Error()
	}
	writeJSON(w, status, errorBody(msg))
}
