package api

import (
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog"
)

// AppError is the JSON body of every failed API call.
type AppError struct {
	Code    int    `json:"-"`
	Message string `json:"error"`
}

func (e *AppError) Error() string {
	return e.Message
}

func badRequest(msg string) *AppError {
	return &AppError{Code: http.StatusBadRequest, Message: msg}
}

func notFound(msg string) *AppError {
	return &AppError{Code: http.StatusNotFound, Message: msg}
}

var (
	errUnauthorized = &AppError{Code: http.StatusUnauthorized, Message: "Unauthorized"}
	errForbidden    = &AppError{Code: http.StatusForbidden, Message: "Forbidden"}
	errInternal     = &AppError{Code: http.StatusInternalServerError, Message: "Internal server error"}
)

func writeJSON(w http.ResponseWriter, log zerolog.Logger, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Warn().Err(err).Msg("response write error")
	}
}

func writeError(w http.ResponseWriter, log zerolog.Logger, e *AppError) {
	writeJSON(w, log, e.Code, e)
}
