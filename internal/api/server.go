// Package api provides the HTTP surface of the settlement engine.
//
// Authentication and session resolution live in front of this server; the
// contributor identity arrives on the X-Contributor-ID header. The handlers
// are thin: they decode, call the engine, and map the error taxonomy to
// status codes — validation 400, not-found 404, conflict 409 (retry as-is),
// precondition 422 (correct the input first), everything else 500.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/guildhall-dao/guildhall/internal/app/claims"
	"github.com/guildhall-dao/guildhall/internal/app/settlement"
	"github.com/guildhall-dao/guildhall/internal/app/standing"
	"github.com/guildhall-dao/guildhall/internal/domain"
	"github.com/guildhall-dao/guildhall/internal/infra/sqlite"
)

// Config carries the per-request configuration the engine reads explicitly.
type Config struct {
	Rewards        claims.Policy
	Emission       domain.EmissionPolicy
	TreasuryValue  float64
	MetricsEnabled bool

	// SettlementCacheTTL bounds staleness of the settlement read view.
	// Zero disables the cache.
	SettlementCacheTTL time.Duration
}

// Server is the guildhall HTTP API server.
type Server struct {
	cfg        Config
	db         *sqlite.DB
	controller *settlement.Controller
	ledger     *claims.Ledger
	scorer     *standing.Scorer
	cache      *settlementCache
}

// NewServer creates a new API server.
func NewServer(cfg Config, db *sqlite.DB, controller *settlement.Controller, ledger *claims.Ledger) *Server {
	return &Server{
		cfg:        cfg,
		db:         db,
		controller: controller,
		ledger:     ledger,
		scorer:     standing.New(db),
		cache:      newSettlementCache(cfg.SettlementCacheTTL),
	}
}

// Handler returns the chi router with all routes mounted.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api", func(r chi.Router) {
		r.Route("/sprints", func(r chi.Router) {
			r.Post("/", s.handleCreateSprint)
			r.Get("/", s.handleListSprints)
			r.Get("/{id}", s.handleGetSprint)
			r.Post("/{id}/phase", s.handleAdvancePhase)
			r.Post("/{id}/complete", s.handleCompleteSprint)
			r.Get("/{id}/settlement", s.handleSettlementRead)
			r.Post("/{id}/settlement/commit", s.handleSettlementCommit)
			r.Post("/{id}/settlement/kill", s.handleSettlementKill)
		})

		r.Route("/claims", func(r chi.Router) {
			r.Post("/", s.handleSubmitClaim)
			r.Get("/", s.handleListClaims)
			r.Get("/{id}", s.handleGetClaim)
			r.Post("/{id}/approve", s.handleApproveClaim)
			r.Post("/{id}/reject", s.handleRejectClaim)
			r.Post("/{id}/paid", s.handleMarkClaimPaid)
		})

		r.Post("/tasks", s.handleCreateTask)
		r.Get("/contributors/{id}/standing", s.handleContributorStanding)
		r.Get("/policy/emission", s.handleEmissionPolicy)
	})

	if s.cfg.MetricsEnabled {
		r.Handle("/metrics", promhttp.Handler())
	}

	return r
}

// ─── Response Helpers ───────────────────────────────────────────────────────

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response with a machine-readable code.
func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, map[string]any{
		"error": map[string]any{
			"code":    code,
			"message": msg,
		},
	})
}

// errorStatus maps engine errors onto the HTTP taxonomy.
func errorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, domain.ErrSprintNotFound),
		errors.Is(err, domain.ErrTaskNotFound),
		errors.Is(err, domain.ErrClaimNotFound),
		errors.Is(err, domain.ErrBalanceNotFound),
		errors.Is(err, domain.ErrSnapshotNotFound):
		return http.StatusNotFound, "not_found"

	case domain.IsConflict(err):
		return http.StatusConflict, conflictCode(err)
	case errors.Is(err, domain.ErrSettlementCommitted):
		return http.StatusConflict, "already_committed"

	case errors.Is(err, domain.ErrRewardsDisabled):
		return http.StatusUnprocessableEntity, "rewards_disabled"
	case errors.Is(err, domain.ErrBelowMinClaim):
		return http.StatusUnprocessableEntity, "below_threshold"
	case errors.Is(err, domain.ErrInsufficientBalance):
		return http.StatusUnprocessableEntity, "insufficient_balance"
	case errors.Is(err, domain.ErrWalletRequired):
		return http.StatusUnprocessableEntity, "wallet_required"

	case errors.Is(err, domain.ErrSprintNotCompletable),
		errors.Is(err, domain.ErrTargetNotPlanning),
		errors.Is(err, domain.ErrTargetSprintRequired),
		errors.Is(err, domain.ErrSnapshotExists),
		errors.Is(err, domain.ErrSettlementPhase),
		errors.Is(err, domain.ErrDisputeWindowOpen),
		errors.Is(err, domain.ErrSettlementKilled),
		errors.Is(err, domain.ErrClaimNotPending),
		errors.Is(err, domain.ErrClaimNotApproved):
		return http.StatusUnprocessableEntity, "precondition_failed"

	default:
		var te *domain.TransitionError
		if errors.As(err, &te) {
			return http.StatusUnprocessableEntity, "illegal_transition"
		}
		return http.StatusInternalServerError, "internal"
	}
}

// conflictCode distinguishes the retryable conflicts: callers are expected
// to retry balance conflicts once after re-reading.
func conflictCode(err error) string {
	if errors.Is(err, domain.ErrBalanceConflict) {
		return "balance_conflict"
	}
	return "conflict"
}

func writeEngineError(w http.ResponseWriter, err error) {
	status, code := errorStatus(err)
	writeError(w, status, code, err.Error())
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid JSON body: "+err.Error())
		return false
	}
	return true
}
