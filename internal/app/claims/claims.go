// Package claims implements the contributor reward claims ledger.
//
// A claim exchanges accumulated points for a token payout request. The
// deduction is a compare-and-swap on the contributor's balance: the write
// lands only if the balance still reads what the submission saw. A failed
// condition is returned to the caller as a retryable conflict — it is never
// retried here, so a genuine double-submission stays visible. Between the
// deduction and the claim row there is a compensating refund; a refund that
// itself fails is a real ledger discrepancy and is logged accordingly.
package claims

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/guildhall-dao/guildhall/internal/domain"
	"github.com/guildhall-dao/guildhall/internal/infra/observability"
)

// Stores is the storage surface the ledger needs.
type Stores interface {
	GetBalance(contributorID string) (*domain.ContributorBalance, error)
	AddPoints(contributorID string, delta int64) error
	CompareAndSetPoints(contributorID string, expect, next int64) error
	InsertClaim(c *domain.RewardClaim) error
	GetClaim(id string) (*domain.RewardClaim, error)
	ListClaims(contributorID string) ([]domain.RewardClaim, error)
	SetClaimStatus(id string, from, to domain.ClaimStatus, reviewer, note string, now time.Time) error
	MarkClaimPaid(id, txRef string, now time.Time) error
	AppendDistribution(d *domain.RewardDistribution) error
}

// Policy is the rewards configuration a submission reads once, explicitly.
type Policy struct {
	Enabled           bool
	MinClaimThreshold int64
	ConversionRate    float64 // Points per token
	RequireWallet     bool
}

// Ledger manages reward claims against contributor balances.
type Ledger struct {
	store Stores
	log   *slog.Logger
	now   func() time.Time
}

// New creates a claims ledger.
func New(store Stores, log *slog.Logger) *Ledger {
	if log == nil {
		log = slog.Default()
	}
	return &Ledger{store: store, log: log, now: time.Now}
}

// SetClock overrides the clock, for tests.
func (l *Ledger) SetClock(now func() time.Time) { l.now = now }

// ─── Submission ─────────────────────────────────────────────────────────────

// Submit converts points into a pending claim.
//
// The token amount is computed once, here, and the conversion rate is
// stored on the claim so later configuration changes cannot reprice it.
// Returns domain.ErrBalanceConflict when the balance moved between read
// and write; the caller may retry as-is after re-reading.
func (l *Ledger) Submit(contributorID string, points int64, wallet string, pol Policy) (*domain.RewardClaim, error) {
	if points <= 0 {
		return nil, fmt.Errorf("points amount must be positive, got %d", points)
	}
	if !pol.Enabled {
		return nil, domain.ErrRewardsDisabled
	}
	if points < pol.MinClaimThreshold {
		observability.ClaimSubmissions.WithLabelValues("rejected").Inc()
		return nil, domain.ErrBelowMinClaim
	}
	if pol.RequireWallet && wallet == "" {
		return nil, domain.ErrWalletRequired
	}
	rate := pol.ConversionRate
	if rate <= 0 {
		rate = DefaultConversionRate
	}

	bal, err := l.store.GetBalance(contributorID)
	if errors.Is(err, domain.ErrBalanceNotFound) {
		return nil, domain.ErrInsufficientBalance
	}
	if err != nil {
		return nil, fmt.Errorf("read balance: %w", err)
	}
	if points > bal.ClaimablePoints {
		observability.ClaimSubmissions.WithLabelValues("rejected").Inc()
		return nil, domain.ErrInsufficientBalance
	}

	expectBefore := bal.ClaimablePoints
	expectAfter := expectBefore - points
	if err := l.store.CompareAndSetPoints(contributorID, expectBefore, expectAfter); err != nil {
		if errors.Is(err, domain.ErrBalanceConflict) {
			observability.BalanceConflicts.Inc()
			observability.ClaimSubmissions.WithLabelValues("conflict").Inc()
		}
		return nil, err
	}

	claim := &domain.RewardClaim{
		ID:             uuid.NewString(),
		ContributorID:  contributorID,
		PointsAmount:   points,
		TokenAmount:    float64(points) / rate,
		ConversionRate: rate,
		Status:         domain.ClaimPending,
		WalletAddress:  wallet,
		CreatedAt:      l.now(),
	}
	if err := l.store.InsertClaim(claim); err != nil {
		return nil, l.refundAfterFailedInsert(contributorID, expectBefore, expectAfter, err)
	}

	observability.ClaimSubmissions.WithLabelValues("created").Inc()
	observability.TokensClaimed.Add(claim.TokenAmount)
	l.log.Info("claim submitted",
		"claim", claim.ID,
		"contributor", contributorID,
		"points", points,
		"tokens", claim.TokenAmount)
	return claim, nil
}

// refundAfterFailedInsert attempts the compensating refund, conditioned on
// the balance still holding the deducted value. A refund that itself fails
// leaves real points missing: that is a critical condition for manual
// reconciliation, never silently swallowed and never retried automatically.
func (l *Ledger) refundAfterFailedInsert(contributorID string, expectBefore, expectAfter int64, insertErr error) error {
	if rerr := l.store.CompareAndSetPoints(contributorID, expectAfter, expectBefore); rerr != nil {
		observability.RefundFailures.Inc()
		l.log.Error("CRITICAL: claim insert failed and compensating refund failed — manual reconciliation required",
			"contributor", contributorID,
			"deducted", expectBefore-expectAfter,
			"insert_error", insertErr,
			"refund_error", rerr)
		return fmt.Errorf("claim insert failed (%w) and refund failed (%v): ledger discrepancy", insertErr, rerr)
	}
	l.log.Warn("claim insert failed, balance refunded",
		"contributor", contributorID,
		"points", expectBefore-expectAfter,
		"error", insertErr)
	return fmt.Errorf("create claim: %w", insertErr)
}

// DefaultConversionRate is the points-per-token rate used when the
// configured rate is absent or invalid.
const DefaultConversionRate = 100.0

// ─── Review ─────────────────────────────────────────────────────────────────

// Approve marks a pending claim approved.
func (l *Ledger) Approve(id, reviewer, note string) (*domain.RewardClaim, error) {
	if err := l.store.SetClaimStatus(id, domain.ClaimPending, domain.ClaimApproved, reviewer, note, l.now()); err != nil {
		return nil, err
	}
	return l.store.GetClaim(id)
}

// Reject marks a pending claim rejected and restores the deducted points.
// The restore is an unconditional accrual: the claim row is the proof the
// deduction happened, and rejection is a reviewed, single-writer action.
func (l *Ledger) Reject(id, reviewer, note string) (*domain.RewardClaim, error) {
	claim, err := l.store.GetClaim(id)
	if err != nil {
		return nil, err
	}
	if err := l.store.SetClaimStatus(id, domain.ClaimPending, domain.ClaimRejected, reviewer, note, l.now()); err != nil {
		return nil, err
	}
	if err := l.store.AddPoints(claim.ContributorID, claim.PointsAmount); err != nil {
		observability.RefundFailures.Inc()
		l.log.Error("CRITICAL: rejected claim refund failed — manual reconciliation required",
			"claim", id,
			"contributor", claim.ContributorID,
			"points", claim.PointsAmount,
			"error", err)
		return nil, fmt.Errorf("refund rejected claim: %w", err)
	}
	return l.store.GetClaim(id)
}

// MarkPaid records payment of an approved claim and appends the payout to
// the distribution ledger.
func (l *Ledger) MarkPaid(id, txRef string) (*domain.RewardClaim, error) {
	now := l.now()
	if err := l.store.MarkClaimPaid(id, txRef, now); err != nil {
		return nil, err
	}
	claim, err := l.store.GetClaim(id)
	if err != nil {
		return nil, err
	}

	dist := &domain.RewardDistribution{
		Kind:          domain.DistClaimPayout,
		ClaimID:       claim.ID,
		ContributorID: claim.ContributorID,
		TokenAmount:   claim.TokenAmount,
		Memo:          "claim payout " + txRef,
		CreatedAt:     now,
	}
	if err := l.store.AppendDistribution(dist); err != nil {
		return nil, fmt.Errorf("record payout: %w", err)
	}
	return claim, nil
}

// ─── Reads ──────────────────────────────────────────────────────────────────

// Get fetches one claim.
func (l *Ledger) Get(id string) (*domain.RewardClaim, error) {
	return l.store.GetClaim(id)
}

// List returns a contributor's claims, newest first.
func (l *Ledger) List(contributorID string) ([]domain.RewardClaim, error) {
	return l.store.ListClaims(contributorID)
}

// Balance returns a contributor's current spendable points.
func (l *Ledger) Balance(contributorID string) (int64, error) {
	bal, err := l.store.GetBalance(contributorID)
	if errors.Is(err, domain.ErrBalanceNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return bal.ClaimablePoints, nil
}
