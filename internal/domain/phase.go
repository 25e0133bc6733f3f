package domain

// ─── Sprint Phases ──────────────────────────────────────────────────────────
// A sprint moves through a fixed forward-only sequence. There is no way back:
// once a phase is entered the only legal moves are staying put (idempotent
// re-application) or stepping to the immediate successor.

// SprintPhase is the lifecycle phase of a sprint.
type SprintPhase string

const (
	PhasePlanning      SprintPhase = "planning"
	PhaseActive        SprintPhase = "active"
	PhaseReview        SprintPhase = "review"
	PhaseDisputeWindow SprintPhase = "dispute_window"
	PhaseSettlement    SprintPhase = "settlement"
	PhaseCompleted     SprintPhase = "completed"
)

// phaseOrder maps each phase to its position in the lifecycle.
var phaseOrder = map[SprintPhase]int{
	PhasePlanning:      0,
	PhaseActive:        1,
	PhaseReview:        2,
	PhaseDisputeWindow: 3,
	PhaseSettlement:    4,
	PhaseCompleted:     5,
}

// AllPhases lists the phases in lifecycle order.
func AllPhases() []SprintPhase {
	return []SprintPhase{
		PhasePlanning, PhaseActive, PhaseReview,
		PhaseDisputeWindow, PhaseSettlement, PhaseCompleted,
	}
}

// Valid reports whether p is a known phase.
func (p SprintPhase) Valid() bool {
	_, ok := phaseOrder[p]
	return ok
}

// IsTerminal reports whether p has no outgoing transitions.
func (p SprintPhase) IsTerminal() bool { return p == PhaseCompleted }

// IsExecutionPhase reports whether p is one of the phases during which work
// happens against the sprint (task claiming, review, disputes, settlement).
// Planning and completed sprints are outside the execution window.
func (p SprintPhase) IsExecutionPhase() bool {
	switch p {
	case PhaseActive, PhaseReview, PhaseDisputeWindow, PhaseSettlement:
		return true
	}
	return false
}

// AtOrAfter reports whether p is at least as far along as other.
// False when either phase is unknown.
func (p SprintPhase) AtOrAfter(other SprintPhase) bool {
	pi, ok1 := phaseOrder[p]
	oi, ok2 := phaseOrder[other]
	return ok1 && ok2 && pi >= oi
}

// NextPhase returns the immediate successor of p.
// ok is false for the terminal phase and for unknown phases.
func NextPhase(p SprintPhase) (next SprintPhase, ok bool) {
	i, known := phaseOrder[p]
	if !known || p.IsTerminal() {
		return "", false
	}
	return AllPhases()[i+1], true
}

// CanTransition reports whether from → to is a legal move: either a
// self-transition (safe no-op) or a single forward step. Everything else —
// backward moves, skips, unknown phases — is illegal.
func CanTransition(from, to SprintPhase) bool {
	if !from.Valid() || !to.Valid() {
		return false
	}
	if from == to {
		return true
	}
	next, ok := NextPhase(from)
	return ok && next == to
}

// ValidateTransition returns nil when from → to is legal, and a
// *TransitionError naming both phases otherwise. Illegal requests are
// rejected, never clamped to the nearest legal phase.
func ValidateTransition(from, to SprintPhase) error {
	if CanTransition(from, to) {
		return nil
	}
	return &TransitionError{From: from, To: to}
}
