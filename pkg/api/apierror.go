// Package api exposes the registry over HTTP. Error responses follow
// RFC 7807 (Problem Details for HTTP APIs).
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/Mindburn-Labs/datakeep/pkg/dataset"
)

// ProblemDetail implements RFC 7807 (Problem Details for HTTP APIs).
// All API error responses use this format.
type ProblemDetail struct {
	// Type is a URI reference that identifies the problem type.
	Type string `json:"type"`
	// Title is a short, human-readable summary of the problem type.
	Title string `json:"title"`
	// Status is the HTTP status code.
	Status int `json:"status"`
	// Detail is a human-readable explanation specific to this occurrence.
	Detail string `json:"detail,omitempty"`
	// Instance is a URI reference identifying the specific occurrence.
	Instance string `json:"instance,omitempty"`
	// TraceID links the response to the request for log correlation.
	TraceID string `json:"trace_id,omitempty"`
}

// Error implements the error interface.
func (p *ProblemDetail) Error() string {
	return fmt.Sprintf("%s: %s", p.Title, p.Detail)
}

// WriteError writes an RFC 7807 Problem Detail JSON response.
func WriteError(w http.ResponseWriter, status int, title, detail string) {
	problem := &ProblemDetail{
		Type:   fmt.Sprintf("https://datakeep.dev/errors/%d", status),
		Title:  title,
		Status: status,
		Detail: detail,
	}

	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(problem)
}

// WriteErrorR writes an RFC 7807 response enriched with request context
// (trace id from X-Request-ID, instance from request URI).
func WriteErrorR(w http.ResponseWriter, r *http.Request, status int, title, detail string) {
	problem := &ProblemDetail{
		Type:     fmt.Sprintf("https://datakeep.dev/errors/%d", status),
		Title:    title,
		Status:   status,
		Detail:   detail,
		Instance: r.URL.Path,
		TraceID:  w.Header().Get("X-Request-ID"),
	}

	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(problem)
}

// WriteBadRequest writes a 400 error response.
func WriteBadRequest(w http.ResponseWriter, detail string) {
	WriteError(w, http.StatusBadRequest, "Bad Request", detail)
}

// WriteUnauthorized writes a 401 error response.
func WriteUnauthorized(w http.ResponseWriter, detail string) {
	if detail == "" {
		detail = "Authentication required"
	}
	WriteError(w, http.StatusUnauthorized, "Unauthorized", detail)
}

// WriteInternal writes a 500 error response without leaking the cause.
func WriteInternal(w http.ResponseWriter, err error) {
	WriteError(w, http.StatusInternalServerError, "Internal Server Error", "An unexpected error occurred")
}

// statusOf maps domain errors onto HTTP status codes. When hideForbidden is
// set, permission failures are presented as 404 so that dataset existence is
// not disclosed to callers without read access.
func statusOf(err error, hideForbidden bool) (status int, title string) {
	switch {
	case errors.Is(err, dataset.ErrNotFound):
		return http.StatusNotFound, "Not Found"
	case errors.Is(err, dataset.ErrForbidden):
		if hideForbidden {
			return http.StatusNotFound, "Not Found"
		}
		return http.StatusForbidden, "Forbidden"
	case errors.Is(err, dataset.ErrImmutable):
		return http.StatusConflict, "Immutable"
	case errors.Is(err, dataset.ErrChainConflict):
		return http.StatusConflict, "Version Conflict"
	case errors.Is(err, dataset.ErrIntegrity):
		return http.StatusUnprocessableEntity, "Integrity Check Failed"
	case errors.Is(err, dataset.ErrValidation):
		return http.StatusBadRequest, "Bad Request"
	default:
		return http.StatusInternalServerError, "Internal Server Error"
	}
}
