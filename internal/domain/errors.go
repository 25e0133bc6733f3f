package domain

import (
	"errors"
	"fmt"
)

// ─── Sentinel Errors ────────────────────────────────────────────────────────
// Domain errors are pure — no infrastructure dependency. They fall into the
// engine's taxonomy: validation and precondition failures are safe to retry
// after correcting input, conflicts are safe to retry as-is, and critical
// failures must never be retried automatically.

var (
	// Lookup errors
	ErrSprintNotFound   = errors.New("sprint not found")
	ErrTaskNotFound     = errors.New("task not found")
	ErrClaimNotFound    = errors.New("claim not found")
	ErrBalanceNotFound  = errors.New("contributor balance not found")
	ErrSnapshotNotFound = errors.New("sprint has no completion snapshot")

	// Sprint / snapshot preconditions
	ErrSprintNotCompletable = errors.New("sprint is not in a phase eligible for completion")
	ErrSnapshotExists       = errors.New("sprint already has a completion snapshot")
	ErrTargetNotPlanning    = errors.New("target sprint is not in planning")
	ErrTargetSprintRequired = errors.New("next_sprint disposition requires a target sprint id")

	// Settlement preconditions
	ErrSettlementPhase     = errors.New("sprint has not reached the settlement phase")
	ErrDisputeWindowOpen   = errors.New("dispute window has not elapsed")
	ErrSettlementKilled    = errors.New("settlement was killed and can never be committed")
	ErrSettlementCommitted = errors.New("settlement is already committed")

	// Claim preconditions
	ErrRewardsDisabled     = errors.New("rewards are disabled")
	ErrBelowMinClaim       = errors.New("points amount is below the minimum claim threshold")
	ErrInsufficientBalance = errors.New("insufficient claimable points")
	ErrWalletRequired      = errors.New("a wallet address is required to claim")
	ErrClaimNotPending     = errors.New("claim is not pending review")
	ErrClaimNotApproved    = errors.New("claim is not approved for payment")

	// Conflicts — caller should re-read and may retry as-is
	ErrBalanceConflict    = errors.New("claimable balance changed concurrently")
	ErrPhaseConflict      = errors.New("sprint phase changed concurrently")
	ErrSettlementConflict = errors.New("settlement status changed concurrently")
)

// IsConflict reports whether err is one of the retryable conflict errors.
func IsConflict(err error) bool {
	return errors.Is(err, ErrBalanceConflict) ||
		errors.Is(err, ErrPhaseConflict) ||
		errors.Is(err, ErrSettlementConflict)
}

// ─── Typed Errors ───────────────────────────────────────────────────────────

// TransitionError identifies an illegal phase transition by both endpoints.
type TransitionError struct {
	From SprintPhase
	To   SprintPhase
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("illegal sprint phase transition %s → %s", e.From, e.To)
}
