// Package api holds the JSON helpers shared by the HTTP handlers.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/kilianp07/depannage/core/model"
	"github.com/kilianp07/depannage/core/monitoring"
)

// ErrorBody is the payload of every error response.
type ErrorBody struct {
	Error string `json:"error"`
}

// WriteJSON encodes v with the given status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// WriteError maps domain errors to HTTP statuses. Unexpected errors are
// reported to the monitor and answered with 500.
func WriteError(w http.ResponseWriter, r *http.Request, err error) {
	status := StatusFor(err)
	if status == http.StatusInternalServerError {
		monitoring.CaptureException(err, map[string]string{"path": r.URL.Path, "method": r.Method})
	}
	WriteJSON(w, status, ErrorBody{Error: err.Error()})
}

// StatusFor returns the HTTP status for err.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, model.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, model.ErrValidation), errors.Is(err, model.ErrInvalidCoordinates):
		return http.StatusBadRequest
	case errors.Is(err, model.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, model.ErrInvalidTransition), errors.Is(err, model.ErrAlreadyAssigned),
		errors.Is(err, model.ErrAlreadyResolved), errors.Is(err, model.ErrNotEligible),
		errors.Is(err, model.ErrVersionConflict):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// Decode reads a JSON body into v, rejecting unknown fields.
func Decode(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: %v", model.ErrValidation, err)
	}
	return nil
}
