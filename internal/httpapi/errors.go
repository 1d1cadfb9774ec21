package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"chatmate/internal/chat"
	"chatmate/internal/model"
	"chatmate/internal/registry"
	"chatmate/internal/session"
	"chatmate/pkg/types"
)

// HTTPError allows services to provide an HTTP status code for an error.
type HTTPError interface {
	error
	StatusCode() int
}

// statusFor maps domain errors onto HTTP status codes.
func statusFor(err error) int {
	var he HTTPError
	switch {
	case errors.As(err, &he):
		return he.StatusCode()
	case errors.Is(err, chat.ErrEmptyInput):
		return http.StatusBadRequest
	case errors.Is(err, chat.ErrBusy), session.IsAlreadyGenerating(err), session.IsLoadInProgress(err):
		return http.StatusConflict
	case session.IsNotReady(err), errors.Is(err, session.ErrClosed), errors.Is(err, chat.ErrClosed):
		return http.StatusServiceUnavailable
	case registry.IsNotFound(err):
		return http.StatusNotFound
	case model.IsLoadError(err):
		return http.StatusUnprocessableEntity
	}
	return http.StatusInternalServerError
}

// rejectionReason labels 409/503 answers for the rejections counter.
func rejectionReason(err error) string {
	switch {
	case errors.Is(err, chat.ErrBusy), session.IsAlreadyGenerating(err):
		return "busy"
	case session.IsLoadInProgress(err):
		return "loading"
	case session.IsNotReady(err):
		return "not_ready"
	}
	return "closed"
}

// writeError maps err and writes it. Nothing is written once the client is gone.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	if r.Context().Err() != nil {
		return
	}
	status := statusFor(err)
	if status == http.StatusConflict || status == http.StatusServiceUnavailable {
		IncrementRejection(rejectionReason(err))
	}
	if status >= http.StatusInternalServerError && status != http.StatusServiceUnavailable {
		logger().Error().Err(err).Str("path", r.URL.Path).Int("status", status).Msg("request failed")
	}
	writeJSONError(w, status, err.Error())
}

// writeJSONError writes a consistent JSON error payload.
func writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(types.ErrorResponse{Error: msg, Code: status})
}
