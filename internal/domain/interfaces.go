package domain

import "time"

// ─── Store Interfaces ───────────────────────────────────────────────────────
// These interfaces define boundaries between layers.
// Infrastructure implements them; application layer depends on them.
//
// The platform is multi-writer with stateless request handlers, so every
// mutation that races is a conditional write: the store applies it only if
// the persisted row still matches the caller's expectation, and returns a
// conflict sentinel otherwise. No store method takes an application lock.

// SprintStore persists sprints and their settlement state.
type SprintStore interface {
	CreateSprint(s *Sprint) error
	GetSprint(id string) (*Sprint, error)
	ListSprints() ([]Sprint, error)

	// TransitionPhase applies from → to conditioned on the persisted phase
	// still being from, stamping the phase timestamp for to (and the dispute
	// window end when to is dispute_window). Returns ErrPhaseConflict when
	// the persisted phase no longer matches.
	TransitionPhase(id string, from, to SprintPhase, now time.Time, windowEnds *time.Time) error

	// CommitSettlement marks the settlement committed, conditioned on the
	// persisted status still being pending or held. Returns
	// ErrSettlementConflict when the condition fails.
	CommitSettlement(id, key string, emissionCap, carryover float64, carryCount int, now time.Time) error

	// HoldSettlement records an integrity hold with a human-readable reason,
	// conditioned on status pending or held.
	HoldSettlement(id, reason string, flags []string) error

	// KillSettlement forces the killed status, conditioned on the settlement
	// not being committed. Killed settlements are terminal.
	KillSettlement(id string, now time.Time) error
}

// SnapshotStore persists write-once sprint completion snapshots.
type SnapshotStore interface {
	// InsertSnapshot writes the snapshot and applies the incomplete-task
	// disposition in one transaction: either both land or neither does.
	// Returns ErrSnapshotExists when the sprint already has one.
	InsertSnapshot(snap *SprintSnapshot, incompleteIDs []string) error
	GetSnapshot(sprintID string) (*SprintSnapshot, error)
}

// TaskStore persists sprint work items.
type TaskStore interface {
	CreateTask(t *Task) error
	GetTask(id string) (*Task, error)
	ListSprintTasks(sprintID string) ([]Task, error)
	ListAssigneeTasks(assigneeID string) ([]Task, error)
}

// BalanceStore persists contributor point balances.
type BalanceStore interface {
	GetBalance(contributorID string) (*ContributorBalance, error)

	// AddPoints unconditionally accrues points (task-completion credit,
	// administrative grant). Creates the balance row if absent.
	AddPoints(contributorID string, delta int64) error

	// CompareAndSetPoints sets the balance to next only if it still equals
	// expect. Returns ErrBalanceConflict when the condition fails.
	CompareAndSetPoints(contributorID string, expect, next int64) error
}

// ClaimStore persists reward claims.
type ClaimStore interface {
	InsertClaim(c *RewardClaim) error
	GetClaim(id string) (*RewardClaim, error)
	ListClaims(contributorID string) ([]RewardClaim, error)

	// SetClaimStatus moves a claim between review states, conditioned on the
	// persisted status still being from.
	SetClaimStatus(id string, from, to ClaimStatus, reviewer, note string, now time.Time) error

	// MarkClaimPaid records payment, conditioned on status approved.
	MarkClaimPaid(id, txRef string, now time.Time) error
}

// DistributionStore appends to the audit ledger. Rows are never updated.
type DistributionStore interface {
	AppendDistribution(d *RewardDistribution) error
	ListDistributions(sprintID string) ([]RewardDistribution, error)
}

// DisputeStore exposes the dispute blocker signal. Adjudication is external;
// the engine only consumes the open count.
type DisputeStore interface {
	FileDispute(sprintID, submissionRef string) (int64, error)
	ResolveDispute(id int64) error
	OpenDisputeCount(sprintID string) (int, error)
}
