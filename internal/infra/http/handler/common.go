// Package handler contains the HTTP handlers for the API.
package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/reconpoint/api/pkg/apierror"
	"github.com/reconpoint/api/pkg/domain/shared"
	"github.com/reconpoint/api/pkg/validator"
)

// respondJSON writes a JSON response with the given status.
func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// handleValidationError writes a validation failure with field details.
func handleValidationError(w http.ResponseWriter, err error) {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		apierror.ValidationFailed("Validation failed", verrs).WriteJSON(w)
		return
	}
	apierror.BadRequest(err.Error()).WriteJSON(w)
}

// handleServiceError maps domain errors to API errors.
func handleServiceError(w http.ResponseWriter, resource string, err error) {
	switch {
	case errors.Is(err, shared.ErrNotFound):
		apierror.NotFound(resource).WriteJSON(w)
	case errors.Is(err, shared.ErrAlreadyExists):
		apierror.Conflict(resource + " already exists").WriteJSON(w)
	case errors.Is(err, shared.ErrConflict):
		apierror.Conflict(errMessage(err)).WriteJSON(w)
	case errors.Is(err, shared.ErrValidation):
		apierror.BadRequest(errMessage(err)).WriteJSON(w)
	default:
		apierror.InternalError(err).WriteJSON(w)
	}
}

// errMessage returns the domain error message without internal wrapping.
func errMessage(err error) string {
	var derr *shared.DomainError
	if errors.As(err, &derr) {
		return derr.Message
	}
	return err.Error()
}
