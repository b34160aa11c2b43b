package api

import (
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"github.com/crypto-temple/internal/types"
)

// handleDivine handles POST /api/divinations. The call blocks for the
// ritual delay plus the oracle round trip.
func (s *Server) handleDivine(w http.ResponseWriter, r *http.Request) {
	var req divinationRequest
	if err := parseJSONBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "Invalid request body", nil)
		return
	}
	if err := validateRequest(&req); err != nil {
		respondServiceError(w, r, err)
		return
	}

	project, err := req.Project.toProject()
	if err != nil {
		respondServiceError(w, r, err)
		return
	}

	record, err := s.services.Divinations.Divine(r.Context(), strings.TrimSpace(req.Address), project)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, record)
}

// handleListHistory handles GET /api/history
func (s *Server) handleListHistory(w http.ResponseWriter, r *http.Request) {
	records, err := s.services.History.List(r.Context())
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	if records == nil {
		records = []types.HistoryRecord{}
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"records": records,
		"count":   len(records),
	})
}

// handleFeedback handles POST /api/history/{id}/feedback and closes the
// verification prompt for that record.
func (s *Server) handleFeedback(w http.ResponseWriter, r *http.Request) {
	var req feedbackRequest
	if err := parseJSONBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "Invalid request body", nil)
		return
	}
	if err := validateRequest(&req); err != nil {
		respondServiceError(w, r, err)
		return
	}

	id := mux.Vars(r)["id"]
	record, err := s.services.History.Feedback(r.Context(), id, types.Feedback(req.Verdict))
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	if s.services.Notifications != nil {
		s.services.Notifications.Resolve(id)
	}
	respondJSON(w, http.StatusOK, record)
}

// handlePendingNotification handles GET /api/notifications/pending
func (s *Server) handlePendingNotification(w http.ResponseWriter, r *http.Request) {
	if s.services.Notifications == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	record, ok := s.services.Notifications.Pending()
	if !ok {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	respondJSON(w, http.StatusOK, record)
}

// handleDismissNotification handles DELETE /api/notifications/pending
func (s *Server) handleDismissNotification(w http.ResponseWriter, r *http.Request) {
	if s.services.Notifications != nil {
		s.services.Notifications.Dismiss()
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleGetPermission handles GET /api/notifications/permission
func (s *Server) handleGetPermission(w http.ResponseWriter, r *http.Request) {
	enabled := s.services.Notifications != nil && s.services.Notifications.Enabled()
	respondJSON(w, http.StatusOK, permissionRequest{Enabled: enabled})
}

// handleSetPermission handles PUT /api/notifications/permission
func (s *Server) handleSetPermission(w http.ResponseWriter, r *http.Request) {
	var req permissionRequest
	if err := parseJSONBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "Invalid request body", nil)
		return
	}
	if s.services.Notifications == nil {
		respondError(w, http.StatusServiceUnavailable, "SERVICE_UNAVAILABLE", "notifications are not configured", nil)
		return
	}
	s.services.Notifications.SetEnabled(req.Enabled)
	respondJSON(w, http.StatusOK, req)
}
