package domain

import "time"

// ─── Reward Types ───────────────────────────────────────────────────────────
// These live in domain because they represent core business rules: the
// claims ledger and the settlement controller both operate on them, and the
// invariants (balance never negative, claims priced once at submission,
// distributions append-only) are business facts, not storage details.

// EmissionPolicy is the org-scoped settlement configuration. The engine
// reads it; only administrative configuration mutates it. Zero-valued or
// non-finite fields mean "unset" and fall back to documented defaults —
// never to zero, which would silently switch off emissions.
type EmissionPolicy struct {
	// EmissionPercent is the percent of treasury value emittable per sprint.
	EmissionPercent float64 `json:"settlement_emission_percent"`

	// FixedCapPerSprint is an absolute per-sprint emission ceiling in tokens.
	FixedCapPerSprint float64 `json:"settlement_fixed_cap_per_sprint"`

	// CarryoverSprintCap bounds how many sprints unused emission may roll
	// forward, clamped by the engine to the system ceiling.
	CarryoverSprintCap float64 `json:"settlement_carryover_sprint_cap"`
}

// ContributorBalance is the spendable point balance on a contributor's
// profile. ClaimablePoints is never negative; every deduction is paired,
// under contention, with either a persisted claim or a restoring refund.
type ContributorBalance struct {
	ContributorID   string    `json:"contributor_id"`
	ClaimablePoints int64     `json:"claimable_points"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// ClaimStatus is the review state of a reward claim.
type ClaimStatus string

const (
	ClaimPending  ClaimStatus = "pending"
	ClaimApproved ClaimStatus = "approved"
	ClaimRejected ClaimStatus = "rejected"
	ClaimPaid     ClaimStatus = "paid"
)

// RewardClaim converts accumulated points into a token payout request.
// TokenAmount and ConversionRate are fixed at submission time so later
// configuration changes cannot reprice an already-submitted claim.
type RewardClaim struct {
	ID             string      `json:"id"`
	ContributorID  string      `json:"contributor_id"`
	PointsAmount   int64       `json:"points_amount"`
	TokenAmount    float64     `json:"token_amount"`
	ConversionRate float64     `json:"conversion_rate"`
	Status         ClaimStatus `json:"status"`
	WalletAddress  string      `json:"wallet_address,omitempty"`
	ReviewedBy     string      `json:"reviewed_by,omitempty"`
	ReviewNote     string      `json:"review_note,omitempty"`
	PaidTxRef      string      `json:"paid_tx_ref,omitempty"`
	CreatedAt      time.Time   `json:"created_at"`
	ReviewedAt     *time.Time  `json:"reviewed_at,omitempty"`
	PaidAt         *time.Time  `json:"paid_at,omitempty"`
}

// DistributionKind is the business reason for a value movement.
type DistributionKind string

const (
	DistEpochEmission DistributionKind = "epoch_emission"
	DistManualBonus   DistributionKind = "manual_bonus"
	DistClaimPayout   DistributionKind = "claim_payout"
)

// RewardDistribution is one append-only ledger row recording a value
// movement. Rows are never updated or deleted; summaries and audits read
// the full history.
type RewardDistribution struct {
	ID            int64            `json:"id"`
	Kind          DistributionKind `json:"kind"`
	SprintID      string           `json:"sprint_id,omitempty"`
	ClaimID       string           `json:"claim_id,omitempty"`
	ContributorID string           `json:"contributor_id,omitempty"`
	TokenAmount   float64          `json:"token_amount"`
	Memo          string           `json:"memo,omitempty"`
	CreatedAt     time.Time        `json:"created_at"`
}
