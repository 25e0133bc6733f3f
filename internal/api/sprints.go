package api

import (
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/guildhall-dao/guildhall/internal/app/emission"
	"github.com/guildhall-dao/guildhall/internal/app/settlement"
	"github.com/guildhall-dao/guildhall/internal/domain"
)

// ─── Sprint CRUD (thin) ─────────────────────────────────────────────────────

type createSprintRequest struct {
	Name     string    `json:"name"`
	StartAt  time.Time `json:"start_at"`
	EndAt    time.Time `json:"end_at"`
	Capacity int64     `json:"capacity"`
}

// POST /api/sprints
func (s *Server) handleCreateSprint(w http.ResponseWriter, r *http.Request) {
	var req createSprintRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "bad_request", "name is required")
		return
	}

	sprint := &domain.Sprint{
		ID:       uuid.NewString(),
		Name:     req.Name,
		StartAt:  req.StartAt,
		EndAt:    req.EndAt,
		Capacity: req.Capacity,
	}
	if err := s.db.CreateSprint(sprint); err != nil {
		writeEngineError(w, err)
		return
	}
	created, err := s.db.GetSprint(sprint.ID)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

// GET /api/sprints
func (s *Server) handleListSprints(w http.ResponseWriter, r *http.Request) {
	sprints, err := s.db.ListSprints()
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sprints": sprints})
}

// GET /api/sprints/{id}
func (s *Server) handleGetSprint(w http.ResponseWriter, r *http.Request) {
	sprint, err := s.db.GetSprint(chi.URLParam(r, "id"))
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sprint)
}

// ─── Phase & Completion ─────────────────────────────────────────────────────

// POST /api/sprints/{id}/phase
func (s *Server) handleAdvancePhase(w http.ResponseWriter, r *http.Request) {
	var req struct {
		To domain.SprintPhase `json:"to"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	if !req.To.Valid() {
		writeError(w, http.StatusBadRequest, "bad_request", "unknown phase "+string(req.To))
		return
	}

	sprint, err := s.controller.AdvancePhase(chi.URLParam(r, "id"), req.To)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sprint)
}

type completeSprintRequest struct {
	IncompleteAction domain.IncompleteAction `json:"incomplete_action"`
	TargetSprintID   string                  `json:"target_sprint_id"`
}

// POST /api/sprints/{id}/complete
func (s *Server) handleCompleteSprint(w http.ResponseWriter, r *http.Request) {
	var req completeSprintRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.IncompleteAction != "" && !req.IncompleteAction.Valid() {
		writeError(w, http.StatusBadRequest, "bad_request", "unknown incomplete_action "+string(req.IncompleteAction))
		return
	}

	res, err := s.controller.CompleteSprint(chi.URLParam(r, "id"), req.IncompleteAction, req.TargetSprintID)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// ─── Settlement ─────────────────────────────────────────────────────────────

// settlementView is the read-only settlement projection for treasury and
// reporting consumers.
type settlementView struct {
	SprintID      string                  `json:"sprint_id"`
	Status        domain.SettlementStatus `json:"status"`
	CommittedAt   *time.Time              `json:"committed_at,omitempty"`
	KillSwitchAt  *time.Time              `json:"kill_switch_at,omitempty"`
	BlockedReason string                  `json:"blocked_reason,omitempty"`
	EmissionCap   float64                 `json:"emission_cap"`
	Carryover     float64                 `json:"carryover_amount"`
}

// settlementCache is a short-TTL boundary cache for settlement reads.
// Staleness here is bounded and harmless; correctness lives in the engine.
type settlementCache struct {
	mu  sync.Mutex
	ttl time.Duration
	m   map[string]settlementCacheEntry
}

type settlementCacheEntry struct {
	view    settlementView
	expires time.Time
}

func newSettlementCache(ttl time.Duration) *settlementCache {
	return &settlementCache{ttl: ttl, m: make(map[string]settlementCacheEntry)}
}

func (c *settlementCache) get(id string) (settlementView, bool) {
	if c.ttl <= 0 {
		return settlementView{}, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.m[id]
	if !ok || time.Now().After(e.expires) {
		return settlementView{}, false
	}
	return e.view, true
}

func (c *settlementCache) put(id string, v settlementView) {
	if c.ttl <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.m[id] = settlementCacheEntry{view: v, expires: time.Now().Add(c.ttl)}
}

// GET /api/sprints/{id}/settlement
func (s *Server) handleSettlementRead(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if view, ok := s.cache.get(id); ok {
		writeJSON(w, http.StatusOK, view)
		return
	}

	sprint, err := s.db.GetSprint(id)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	view := settlementView{
		SprintID:      sprint.ID,
		Status:        sprint.SettlementStatus,
		CommittedAt:   sprint.SettlementCommittedAt,
		KillSwitchAt:  sprint.SettlementKillSwitchAt,
		BlockedReason: sprint.SettlementBlockedReason,
		EmissionCap:   sprint.EmissionCap,
		Carryover:     sprint.CarryoverAmount,
	}
	s.cache.put(id, view)
	writeJSON(w, http.StatusOK, view)
}

// POST /api/sprints/{id}/settlement/commit
func (s *Server) handleSettlementCommit(w http.ResponseWriter, r *http.Request) {
	var req struct {
		IdempotencyKey string `json:"idempotency_key"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}

	res, err := s.controller.Commit(chi.URLParam(r, "id"), settlement.CommitRequest{
		IdempotencyKey: req.IdempotencyKey,
		Policy:         s.cfg.Emission,
		TreasuryValue:  s.cfg.TreasuryValue,
		ConversionRate: s.cfg.Rewards.ConversionRate,
	})
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// POST /api/sprints/{id}/settlement/kill
func (s *Server) handleSettlementKill(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Reason string `json:"reason"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}

	sprint, err := s.controller.Kill(chi.URLParam(r, "id"), req.Reason)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sprint)
}

// ─── Tasks & Policy ─────────────────────────────────────────────────────────

type createTaskRequest struct {
	SprintID     string `json:"sprint_id"`
	Title        string `json:"title"`
	Points       int64  `json:"points"`
	AssigneeID   string `json:"assignee_id"`
	AssigneeName string `json:"assignee_name"`
}

// POST /api/tasks
func (s *Server) handleCreateTask(w http.ResponseWriter, r *http.Request) {
	var req createTaskRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Title == "" {
		writeError(w, http.StatusBadRequest, "bad_request", "title is required")
		return
	}
	if req.Points < 0 {
		writeError(w, http.StatusBadRequest, "bad_request", "points must not be negative")
		return
	}

	task := &domain.Task{
		ID:           uuid.NewString(),
		SprintID:     req.SprintID,
		Title:        req.Title,
		Points:       req.Points,
		AssigneeID:   req.AssigneeID,
		AssigneeName: req.AssigneeName,
		Status:       domain.TaskTodo,
	}
	if err := s.db.CreateTask(task); err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, task)
}

// GET /api/policy/emission — the resolved policy with defaults applied.
func (s *Server) handleEmissionPolicy(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, emission.Resolved(s.cfg.Emission))
}
