package api

import (
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"github.com/crypto-temple/internal/types"
)

// handleDonate handles POST /api/donations. It returns once the wallet
// has broadcast the transaction; confirmation is tracked asynchronously.
func (s *Server) handleDonate(w http.ResponseWriter, r *http.Request) {
	var req donationRequest
	if err := parseJSONBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "Invalid request body", nil)
		return
	}
	if err := validateRequest(&req); err != nil {
		respondServiceError(w, r, err)
		return
	}

	currency := types.Currency(strings.ToUpper(strings.TrimSpace(req.Currency)))
	donation, err := s.services.Payments.Donate(r.Context(), currency, strings.TrimSpace(req.Amount))
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusAccepted, donation)
}

// handlePaymentStatus handles GET /api/donations/status
func (s *Server) handlePaymentStatus(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, s.services.Payments.Status())
}

// handleGetDonation handles GET /api/donations/{id}
func (s *Server) handleGetDonation(w http.ResponseWriter, r *http.Request) {
	donation, err := s.services.Payments.Get(mux.Vars(r)["id"])
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, donation)
}
