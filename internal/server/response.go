package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"contract-diff/internal/db"
	"contract-diff/internal/logging"
)

// Result is the JSON envelope returned by every /contract endpoint except the
// binary stream. Code mirrors the HTTP status.
type Result struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.Warn("encode response", logging.Fields{"err": err.Error()})
	}
}

func writeOK(w http.ResponseWriter, data any) {
	writeJSON(w, http.StatusOK, Result{Code: http.StatusOK, Message: "success", Data: data})
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, Result{Code: status, Message: msg})
}

func methodNotAllowed(w http.ResponseWriter, allowed string) {
	w.Header().Set("Allow", allowed)
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

// repositoryStatus maps a repository error to a response status: 503 while
// the circuit breaker is shedding load, 400 when the database rejected the
// values themselves, 500 otherwise.
func repositoryStatus(err error) int {
	switch {
	case errors.Is(err, db.ErrCircuitOpen), errors.Is(err, db.ErrTooManyRequests):
		return http.StatusServiceUnavailable
	case db.IsInputError(err):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
