package api

import (
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"github.com/crypto-temple/internal/fortune"
)

// handleFortune handles GET /api/fortune/{address}?date=YYYY-MM-DD.
// Any string is accepted as an address; the derivation is cosmetic.
func (s *Server) handleFortune(w http.ResponseWriter, r *http.Request) {
	address := mux.Vars(r)["address"]
	date := strings.TrimSpace(r.URL.Query().Get("date"))

	respondJSON(w, http.StatusOK, fortuneResponse{
		Address:   address,
		Elements:  fortune.Elements(address),
		Counts:    fortune.Counts(address),
		CyberBazi: fortune.CyberBazi(date),
		WalletAge: fortune.WalletAge(date, s.now()),
	})
}

// handleSnapshot handles GET /api/wallets/{address}/snapshot
func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	snapshot, err := s.services.Wallets.Snapshot(r.Context(), mux.Vars(r)["address"])
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, snapshot)
}

// handleConnect handles POST /api/sessions. The snapshot loads in the
// background; clients poll GET /api/sessions/{id} until it is ready.
func (s *Server) handleConnect(w http.ResponseWriter, r *http.Request) {
	var req addressRequest
	if err := parseJSONBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "Invalid request body", nil)
		return
	}
	if err := validateRequest(&req); err != nil {
		respondServiceError(w, r, err)
		return
	}

	sess, err := s.services.Sessions.Connect(strings.TrimSpace(req.Address))
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusAccepted, sess)
}

// handleGetSession handles GET /api/sessions/{id}
func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.services.Sessions.Get(mux.Vars(r)["id"])
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, sess)
}

// handleSwitchSession handles PUT /api/sessions/{id}, pointing the session
// at another address.
func (s *Server) handleSwitchSession(w http.ResponseWriter, r *http.Request) {
	var req addressRequest
	if err := parseJSONBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "Invalid request body", nil)
		return
	}
	if err := validateRequest(&req); err != nil {
		respondServiceError(w, r, err)
		return
	}

	sess, err := s.services.Sessions.Switch(mux.Vars(r)["id"], strings.TrimSpace(req.Address))
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusAccepted, sess)
}

// handleDisconnect handles DELETE /api/sessions/{id}
func (s *Server) handleDisconnect(w http.ResponseWriter, r *http.Request) {
	if err := s.services.Sessions.Disconnect(mux.Vars(r)["id"]); err != nil {
		respondServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
