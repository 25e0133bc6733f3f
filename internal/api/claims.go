package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// ─── Claims API ─────────────────────────────────────────────────────────────
// POST /api/claims                — submit a claim (X-Contributor-ID header)
// GET  /api/claims                — list the contributor's claims + balance
// GET  /api/claims/{id}           — fetch one claim
// POST /api/claims/{id}/approve   — reviewer approves
// POST /api/claims/{id}/reject    — reviewer rejects, points restored
// POST /api/claims/{id}/paid      — payer records the transaction reference

// contributorID resolves the acting contributor. Session resolution is
// external; by the time a request reaches this server the header is trusted.
func contributorID(r *http.Request) string {
	return r.Header.Get("X-Contributor-ID")
}

type submitClaimRequest struct {
	PointsAmount  int64  `json:"points_amount"`
	WalletAddress string `json:"wallet_address"`
}

// POST /api/claims
func (s *Server) handleSubmitClaim(w http.ResponseWriter, r *http.Request) {
	contributor := contributorID(r)
	if contributor == "" {
		writeError(w, http.StatusBadRequest, "bad_request", "X-Contributor-ID header is required")
		return
	}

	var req submitClaimRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.PointsAmount <= 0 {
		writeError(w, http.StatusBadRequest, "bad_request", "points_amount must be positive")
		return
	}

	claim, err := s.ledger.Submit(contributor, req.PointsAmount, req.WalletAddress, s.cfg.Rewards)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, claim)
}

// GET /api/claims
func (s *Server) handleListClaims(w http.ResponseWriter, r *http.Request) {
	contributor := contributorID(r)
	if contributor == "" {
		writeError(w, http.StatusBadRequest, "bad_request", "X-Contributor-ID header is required")
		return
	}

	list, err := s.ledger.List(contributor)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	balance, err := s.ledger.Balance(contributor)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"claims":           list,
		"claimable_points": balance,
	})
}

// GET /api/claims/{id}
func (s *Server) handleGetClaim(w http.ResponseWriter, r *http.Request) {
	claim, err := s.ledger.Get(chi.URLParam(r, "id"))
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, claim)
}

type reviewRequest struct {
	Reviewer string `json:"reviewer"`
	Note     string `json:"note"`
}

// POST /api/claims/{id}/approve
func (s *Server) handleApproveClaim(w http.ResponseWriter, r *http.Request) {
	var req reviewRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	claim, err := s.ledger.Approve(chi.URLParam(r, "id"), req.Reviewer, req.Note)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, claim)
}

// POST /api/claims/{id}/reject
func (s *Server) handleRejectClaim(w http.ResponseWriter, r *http.Request) {
	var req reviewRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	claim, err := s.ledger.Reject(chi.URLParam(r, "id"), req.Reviewer, req.Note)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, claim)
}

// POST /api/claims/{id}/paid
func (s *Server) handleMarkClaimPaid(w http.ResponseWriter, r *http.Request) {
	var req struct {
		TxRef string `json:"tx_ref"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.TxRef == "" {
		writeError(w, http.StatusBadRequest, "bad_request", "tx_ref is required")
		return
	}
	claim, err := s.ledger.MarkPaid(chi.URLParam(r, "id"), req.TxRef)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, claim)
}

// GET /api/contributors/{id}/standing
func (s *Server) handleContributorStanding(w http.ResponseWriter, r *http.Request) {
	cs, err := s.scorer.Compute(chi.URLParam(r, "id"))
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, cs)
}
