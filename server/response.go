package server

import (
	"encoding/json"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/teranos/vigil/errors"
)

// writeJSON encodes data as the response body under the given status.
func writeJSON(w http.ResponseWriter, status int, data interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	return errors.Wrap(json.NewEncoder(w).Encode(data), "encode response")
}

// writeError answers with a bare JSON error payload.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, ErrorResponse{Error: message})
}

// writeWrappedError logs err with context and writes it as a JSON error
// response carrying any structured details attached along the way
func writeWrappedError(w http.ResponseWriter, log *zap.SugaredLogger, err error, message string, status int) {
	wrapped := errors.Wrap(err, message)
	log.Errorw(message, "error", err, "status", status)
	writeJSON(w, status, ErrorResponse{
		Error:   wrapped.Error(),
		Details: errors.GetAllDetails(wrapped),
	})
}

// writeDomainError maps a tracking-layer error onto an HTTP status:
// unknown job 404, malformed request 400, lifecycle conflict 409,
// unreachable or refusing runner 502, anything else 500.
func writeDomainError(w http.ResponseWriter, log *zap.SugaredLogger, err error, message string) {
	status := http.StatusInternalServerError
	switch {
	case errors.IsNotFoundError(err):
		status = http.StatusNotFound
	case errors.IsInvalidRequestError(err):
		status = http.StatusBadRequest
	case errors.Is(err, errors.ErrConflict):
		status = http.StatusConflict
	case errors.IsRunnerUnavailableError(err),
		errors.IsAny(err, errors.ErrStartFailed, errors.ErrCancelFailed):
		status = http.StatusBadGateway
	}
	writeWrappedError(w, log, err, message, status)
}

// readJSON decodes the request body into v, answering 400 on malformed
// input so handlers can just return.
func readJSON(w http.ResponseWriter, r *http.Request, v interface{}) error {
	err := json.NewDecoder(r.Body).Decode(v)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("Invalid request body: %v", err))
	}
	return err
}

// requireMethod answers 405 unless the request used one of the given methods.
func requireMethod(w http.ResponseWriter, r *http.Request, methods ...string) bool {
	for _, m := range methods {
		if r.Method == m {
			return true
		}
	}
	writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
	return false
}

// shortID trims job IDs for log lines.
func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
