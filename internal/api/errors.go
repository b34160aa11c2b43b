package api

import (
	"net/http"
	"strconv"

	"github.com/goccy/go-json"

	apperrors "github.com/crypto-temple/internal/errors"
	"github.com/crypto-temple/internal/logging"
	"github.com/crypto-temple/internal/types"
)

// ErrorResponse represents an API error response.
type ErrorResponse struct {
	Error types.ServiceError `json:"error"`
}

// Common error codes produced by the transport layer itself
const (
	ErrCodeInvalidInput  = "INVALID_INPUT"
	ErrCodeInternalError = "INTERNAL_ERROR"
)

// respondError sends an error response.
func respondError(w http.ResponseWriter, statusCode int, code, message string, details map[string]interface{}) {
	respondJSON(w, statusCode, ErrorResponse{
		Error: types.ServiceError{
			Code:    code,
			Message: message,
			Details: details,
		},
	})
}

// respondServiceError maps a service error onto its HTTP status and body.
// Server-side failures are logged; their causes never reach the client.
func respondServiceError(w http.ResponseWriter, r *http.Request, err error) {
	cat := apperrors.Categorize(err)
	if cat.StatusCode >= http.StatusInternalServerError {
		logging.FromContext(r.Context()).WithError(err).WithFields(map[string]interface{}{
			"method": r.Method,
			"path":   r.URL.Path,
		}).Error("Request failed")
	}
	if cat.Category == apperrors.CategoryRateLimit {
		if retry, ok := cat.Details["retryAfter"].(int); ok {
			w.Header().Set("Retry-After", strconv.Itoa(retry))
		}
	}
	respondError(w, cat.StatusCode, cat.Code, cat.Message, cat.Details)
}

// respondJSON sends a JSON response.
func respondJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if data != nil {
		if err := json.NewEncoder(w).Encode(data); err != nil {
			logging.WithComponent("api").WithError(err).Warn("Failed to encode response")
		}
	}
}

// parseJSONBody parses JSON request body.
func parseJSONBody(r *http.Request, v interface{}) error {
	decoder := json.NewDecoder(http.MaxBytesReader(nil, r.Body, maxBodyBytes))
	decoder.DisallowUnknownFields()
	return decoder.Decode(v)
}

const maxBodyBytes = 64 << 10
