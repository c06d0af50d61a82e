package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/alem-hub/alem-backoffice/internal/domain/shared"
	"github.com/alem-hub/alem-backoffice/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// RESPONSE ENVELOPE
// ══════════════════════════════════════════════════════════════════════════════

// JSONResponse represents a standard JSON response.
type JSONResponse struct {
	Success   bool          `json:"success"`
	Data      any           `json:"data,omitempty"`
	Error     *APIError     `json:"error,omitempty"`
	Meta      *ResponseMeta `json:"meta,omitempty"`
	RequestID string        `json:"request_id,omitempty"`
}

// APIError carries the failure code and, for policy failures, the figures
// that explain it.
type APIError struct {
	Code      string   `json:"code"`
	Message   string   `json:"message"`
	Required  *float64 `json:"required,omitempty"`
	Actual    *float64 `json:"actual,omitempty"`
	Available *float64 `json:"available,omitempty"`
	Details   any      `json:"details,omitempty"`
}

// ResponseMeta contains response metadata.
type ResponseMeta struct {
	Timestamp time.Time `json:"timestamp"`
	Version   string    `json:"version,omitempty"`
}

func writeJSON(w http.ResponseWriter, r *http.Request, status int, data any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)

	_ = json.NewEncoder(w).Encode(JSONResponse{
		Success:   status >= 200 && status < 300,
		Data:      data,
		Meta:      &ResponseMeta{Timestamp: time.Now().UTC(), Version: "v1"},
		RequestID: getRequestID(r.Context()),
	})
}

func writeJSONError(w http.ResponseWriter, r *http.Request, status int, apiErr APIError) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)

	_ = json.NewEncoder(w).Encode(JSONResponse{
		Success:   false,
		Error:     &apiErr,
		Meta:      &ResponseMeta{Timestamp: time.Now().UTC()},
		RequestID: getRequestID(r.Context()),
	})
}

// ══════════════════════════════════════════════════════════════════════════════
// ERROR MAPPING
// ══════════════════════════════════════════════════════════════════════════════

// writeError maps an application error onto a status code and body.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, body := classifyError(err)

	log := logger.FromContext(r.Context(), s.logger)
	if status >= http.StatusInternalServerError {
		log.Error("request failed", logger.String("path", r.URL.Path), logger.Err(err))
	} else {
		log.Debug("request rejected", logger.Code(body.Code), logger.Err(err))
	}
	if status == http.StatusConflict && shared.IsRetryable(err) {
		w.Header().Set("Retry-After", "1")
	}
	writeJSONError(w, r, status, body)
}

func classifyError(err error) (int, APIError) {
	if pe, ok := shared.AsPolicyError(err); ok {
		body := APIError{
			Code:      string(pe.Code),
			Message:   pe.Message,
			Required:  pe.Required,
			Actual:    pe.Actual,
			Available: pe.Available,
			Details:   pe.Details,
		}
		switch pe.Category {
		case shared.CategoryValidation:
			return http.StatusNotFound, body
		case shared.CategoryConcurrency, shared.CategoryConflict:
			return http.StatusConflict, body
		default:
			return http.StatusUnprocessableEntity, body
		}
	}

	var reqErr *requestError
	switch {
	case errors.As(err, &reqErr):
		return http.StatusBadRequest, APIError{Code: "INVALID_REQUEST", Message: reqErr.Error(), Details: reqErr.fields}
	case shared.IsNotFound(err):
		return http.StatusNotFound, APIError{Code: "NOT_FOUND", Message: err.Error()}
	case errors.Is(err, shared.ErrIdempotencyConflict):
		return http.StatusConflict, APIError{Code: string(shared.CodeIdempotencyConflict), Message: err.Error()}
	case shared.IsConcurrency(err):
		return http.StatusConflict, APIError{Code: "CONCURRENT_MODIFICATION", Message: err.Error()}
	case shared.IsValidation(err):
		return http.StatusBadRequest, APIError{Code: "VALIDATION_ERROR", Message: err.Error()}
	case errors.Is(err, shared.ErrStateTransition), errors.Is(err, shared.ErrInvalidState):
		return http.StatusConflict, APIError{Code: "INVALID_STATE", Message: err.Error()}
	case errors.Is(err, shared.ErrServiceUnavailable), errors.Is(err, shared.ErrTimeout):
		return http.StatusServiceUnavailable, APIError{Code: "SERVICE_UNAVAILABLE", Message: "a backing service is unavailable"}
	default:
		return http.StatusInternalServerError, APIError{Code: "INTERNAL_ERROR", Message: "an unexpected error occurred"}
	}
}
