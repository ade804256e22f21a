package api

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

// Error codes returned in ErrorResponse.Code.
const (
	ErrUnauthorized    = "unauthorized"
	ErrValidation      = "validation_error"
	ErrNotFound        = "not_found"
	ErrForbidden       = "forbidden"
	ErrUpstream        = "upstream_service_error"
	ErrUpstreamTimeout = "upstream_timeout"
	ErrInternal        = "internal_error"
)

// WriteJSON writes a JSON response with the given status code.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// ErrorResponse is the standard error response body.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// WriteErrorWithCode writes a JSON error response with a machine-readable code.
func WriteErrorWithCode(w http.ResponseWriter, status int, code, msg string) {
	WriteJSON(w, status, ErrorResponse{Error: msg, Code: code})
}

// WriteError writes a JSON error response, deriving the code from status.
func WriteError(w http.ResponseWriter, status int, msg string) {
	WriteErrorWithCode(w, status, codeForStatus(status), msg)
}

func codeForStatus(status int) string {
	switch status {
	case http.StatusUnauthorized:
		return ErrUnauthorized
	case http.StatusBadRequest, http.StatusRequestEntityTooLarge:
		return ErrValidation
	case http.StatusNotFound:
		return ErrNotFound
	case http.StatusForbidden:
		return ErrForbidden
	case http.StatusBadGateway:
		return ErrUpstream
	case http.StatusGatewayTimeout:
		return ErrUpstreamTimeout
	default:
		return ErrInternal
	}
}

// PathUUID extracts a UUID from a chi URL parameter, returned in canonical
// lower-case form.
func PathUUID(r *http.Request, name string) (string, error) {
	v := chi.URLParam(r, name)
	if v == "" {
		return "", fmt.Errorf("missing path parameter: %s", name)
	}
	id, err := uuid.Parse(v)
	if err != nil {
		return "", fmt.Errorf("invalid %s %q", name, v)
	}
	return id.String(), nil
}

// DecodeJSON reads and decodes a JSON request body into v.
func DecodeJSON(r *http.Request, v any) error {
	if r.Body == nil {
		return fmt.Errorf("missing request body")
	}
	return json.NewDecoder(r.Body).Decode(v)
}
