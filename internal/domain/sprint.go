// Package domain contains pure business types with ZERO infrastructure imports.
// This is the innermost ring of clean architecture — it depends on nothing.
package domain

import "time"

// ─── Sprint ─────────────────────────────────────────────────────────────────

// SettlementStatus is the state of a sprint's reward settlement.
type SettlementStatus string

const (
	SettlementPending   SettlementStatus = "pending"
	SettlementCommitted SettlementStatus = "committed"
	SettlementHeld      SettlementStatus = "held"
	SettlementKilled    SettlementStatus = "killed"
)

// Terminal reports whether the settlement can never change again.
// Held settlements may be retried once blockers clear; killed ones may not.
func (s SettlementStatus) Terminal() bool {
	return s == SettlementCommitted || s == SettlementKilled
}

// Sprint is a bounded work period. The phase is monotonic — it never
// regresses — and a sprint that has entered an execution phase is never
// deleted, only completed.
type Sprint struct {
	ID       string      `json:"id"`
	Name     string      `json:"name"`
	Phase    SprintPhase `json:"phase"`
	StartAt  time.Time   `json:"start_at"`
	EndAt    time.Time   `json:"end_at"`
	Capacity int64       `json:"capacity,omitempty"` // Optional point budget

	// Per-phase timestamps, stamped as each phase is entered.
	ActiveStartedAt        *time.Time `json:"active_started_at,omitempty"`
	ReviewStartedAt        *time.Time `json:"review_started_at,omitempty"`
	DisputeWindowStartedAt *time.Time `json:"dispute_window_started_at,omitempty"`
	DisputeWindowEndsAt    *time.Time `json:"dispute_window_ends_at,omitempty"`
	SettlementStartedAt    *time.Time `json:"settlement_started_at,omitempty"`
	CompletedAt            *time.Time `json:"completed_at,omitempty"`

	// Settlement state, written only by the settlement controller.
	SettlementStatus        SettlementStatus `json:"settlement_status"`
	SettlementCommittedAt   *time.Time       `json:"settlement_committed_at,omitempty"`
	SettlementKillSwitchAt  *time.Time       `json:"settlement_kill_switch_at,omitempty"`
	SettlementBlockedReason string           `json:"settlement_blocked_reason,omitempty"`
	EmissionCap             float64          `json:"emission_cap"`
	CarryoverAmount         float64          `json:"carryover_amount"`
	CarryoverSprintCount    int              `json:"carryover_sprint_count"`
	SettlementKey           string           `json:"settlement_idempotency_key,omitempty"`
	IntegrityFlags          []string         `json:"settlement_integrity_flags,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// DisputeWindowElapsed reports whether the sprint's dispute window has fully
// passed as of now. A sprint that never opened a window has nothing to wait on.
func (s *Sprint) DisputeWindowElapsed(now time.Time) bool {
	if s.DisputeWindowEndsAt == nil {
		return true
	}
	return !now.Before(*s.DisputeWindowEndsAt)
}

// ─── Snapshot ───────────────────────────────────────────────────────────────

// IncompleteAction is the operator-chosen disposition for tasks left
// unfinished when a sprint completes.
type IncompleteAction string

const (
	// IncompleteToBacklog clears the sprint association, returning the task
	// to the general backlog.
	IncompleteToBacklog IncompleteAction = "backlog"

	// IncompleteToNextSprint moves the task verbatim into a target sprint
	// that must still be in planning.
	IncompleteToNextSprint IncompleteAction = "next_sprint"
)

// Valid reports whether a is a known disposition.
func (a IncompleteAction) Valid() bool {
	return a == IncompleteToBacklog || a == IncompleteToNextSprint
}

// TaskSummary is one row of a snapshot's per-task audit record.
type TaskSummary struct {
	TaskID       string     `json:"task_id"`
	Title        string     `json:"title"`
	Status       TaskStatus `json:"status"`
	Points       int64      `json:"points"`
	AssigneeName string     `json:"assignee_name,omitempty"`
}

// SprintSnapshot is the immutable completion record of a sprint.
// At most one exists per sprint; it is never updated after creation.
type SprintSnapshot struct {
	SprintID        string           `json:"sprint_id"`
	TotalTasks      int              `json:"total_tasks"`
	CompletedTasks  int              `json:"completed_tasks"`
	IncompleteTasks int              `json:"incomplete_tasks"`
	TotalPoints     int64            `json:"total_points"`
	CompletedPoints int64            `json:"completed_points"`
	CompletionRate  float64          `json:"completion_rate"` // Percent, 0–100
	Tasks           []TaskSummary    `json:"tasks"`
	Disposition     IncompleteAction `json:"disposition"`
	TargetSprintID  string           `json:"target_sprint_id,omitempty"`
	CreatedAt       time.Time        `json:"created_at"`
}
