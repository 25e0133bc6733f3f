package claims

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/guildhall-dao/guildhall/internal/domain"
	"github.com/guildhall-dao/guildhall/internal/infra/sqlite"
)

// ─── Helpers ────────────────────────────────────────────────────────────────

func newTestLedger(t *testing.T) (*Ledger, *sqlite.DB) {
	t.Helper()
	db, err := sqlite.Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return New(db, slog.New(slog.NewTextHandler(io.Discard, nil))), db
}

func testPolicy() Policy {
	return Policy{
		Enabled:           true,
		MinClaimThreshold: 100,
		ConversionRate:    100,
		RequireWallet:     true,
	}
}

// hookStore wraps the sqlite store so tests can interleave a competing
// writer inside the read-then-CAS window, or make the claim insert fail.
type hookStore struct {
	Stores
	beforeCAS   func() // Runs once, before the first CompareAndSetPoints
	failInsert  error
	casHookDone bool
}

func (h *hookStore) CompareAndSetPoints(contributorID string, expect, next int64) error {
	if h.beforeCAS != nil && !h.casHookDone {
		h.casHookDone = true
		h.beforeCAS()
	}
	return h.Stores.CompareAndSetPoints(contributorID, expect, next)
}

func (h *hookStore) InsertClaim(c *domain.RewardClaim) error {
	if h.failInsert != nil {
		return h.failInsert
	}
	return h.Stores.InsertClaim(c)
}

// ─── Submission ─────────────────────────────────────────────────────────────

func TestSubmit(t *testing.T) {
	l, db := newTestLedger(t)
	db.AddPoints("alice", 500)

	claim, err := l.Submit("alice", 400, "0xabc", testPolicy())
	if err != nil {
		t.Fatalf("Submit() error: %v", err)
	}
	if claim.Status != domain.ClaimPending {
		t.Errorf("status = %s, want pending", claim.Status)
	}
	if claim.TokenAmount != 4 {
		t.Errorf("TokenAmount = %v, want 4 (400 points at rate 100)", claim.TokenAmount)
	}
	if claim.ConversionRate != 100 {
		t.Errorf("ConversionRate = %v, want 100 stored at submission", claim.ConversionRate)
	}

	bal, _ := db.GetBalance("alice")
	if bal.ClaimablePoints != 100 {
		t.Errorf("balance = %d, want 100", bal.ClaimablePoints)
	}
}

func TestSubmit_Validation(t *testing.T) {
	l, db := newTestLedger(t)
	db.AddPoints("alice", 1000)

	tests := []struct {
		name   string
		points int64
		wallet string
		mutate func(p *Policy)
		want   error
	}{
		{"rewards disabled", 400, "0xabc", func(p *Policy) { p.Enabled = false }, domain.ErrRewardsDisabled},
		{"below threshold", 99, "0xabc", nil, domain.ErrBelowMinClaim},
		{"wallet required", 400, "", nil, domain.ErrWalletRequired},
		{"insufficient balance", 5000, "0xabc", nil, domain.ErrInsufficientBalance},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pol := testPolicy()
			if tt.mutate != nil {
				tt.mutate(&pol)
			}
			_, err := l.Submit("alice", tt.points, tt.wallet, pol)
			if !errors.Is(err, tt.want) {
				t.Errorf("err = %v, want %v", err, tt.want)
			}
		})
	}

	// No deduction may have happened on any rejected path.
	bal, _ := db.GetBalance("alice")
	if bal.ClaimablePoints != 1000 {
		t.Errorf("balance = %d, want untouched 1000", bal.ClaimablePoints)
	}
}

func TestSubmit_NegativeAmount(t *testing.T) {
	l, _ := newTestLedger(t)
	if _, err := l.Submit("alice", -5, "0xabc", testPolicy()); err == nil {
		t.Error("negative amount accepted")
	}
	if _, err := l.Submit("alice", 0, "0xabc", testPolicy()); err == nil {
		t.Error("zero amount accepted")
	}
}

func TestSubmit_ThresholdCheckedBeforeBalanceMutation(t *testing.T) {
	l, db := newTestLedger(t)
	db.AddPoints("alice", 1000)

	pol := testPolicy()
	pol.MinClaimThreshold = 500
	_, err := l.Submit("alice", 499, "0xabc", pol)
	if !errors.Is(err, domain.ErrBelowMinClaim) {
		t.Fatalf("err = %v, want ErrBelowMinClaim", err)
	}
	bal, _ := db.GetBalance("alice")
	if bal.ClaimablePoints != 1000 {
		t.Errorf("balance = %d, want 1000 (no mutation before threshold check)", bal.ClaimablePoints)
	}
}

func TestSubmit_UnknownContributor(t *testing.T) {
	l, _ := newTestLedger(t)
	_, err := l.Submit("ghost", 400, "0xabc", testPolicy())
	if !errors.Is(err, domain.ErrInsufficientBalance) {
		t.Errorf("err = %v, want ErrInsufficientBalance", err)
	}
}

func TestSubmit_ConcurrentClaimsExactlyOneWins(t *testing.T) {
	_, db := newTestLedger(t)
	db.AddPoints("alice", 500)

	// The losing writer reads 500, then the winner submits inside its
	// read-then-write window, then the loser's conditional write runs
	// against a balance that is no longer 500.
	var winnerErr error
	hooked := &hookStore{Stores: db, beforeCAS: func() {
		winner := New(db, slog.New(slog.NewTextHandler(io.Discard, nil)))
		_, winnerErr = winner.Submit("alice", 400, "0xwin", testPolicy())
	}}
	loser := New(hooked, slog.New(slog.NewTextHandler(io.Discard, nil)))

	_, loserErr := loser.Submit("alice", 400, "0xlose", testPolicy())
	if winnerErr != nil {
		t.Fatalf("winner error: %v", winnerErr)
	}
	if !errors.Is(loserErr, domain.ErrBalanceConflict) {
		t.Fatalf("loser err = %v, want ErrBalanceConflict", loserErr)
	}

	// Exactly one deduction and one claim row.
	bal, _ := db.GetBalance("alice")
	if bal.ClaimablePoints != 100 {
		t.Errorf("balance = %d, want 100 (single deduction)", bal.ClaimablePoints)
	}
	rows, _ := db.ListClaims("alice")
	if len(rows) != 1 {
		t.Errorf("len(claims) = %d, want 1", len(rows))
	}
}

func TestSubmit_RefundOnFailedInsert(t *testing.T) {
	_, db := newTestLedger(t)
	db.AddPoints("alice", 500)

	hooked := &hookStore{Stores: db, failInsert: fmt.Errorf("disk full")}
	l := New(hooked, slog.New(slog.NewTextHandler(io.Discard, nil)))

	_, err := l.Submit("alice", 400, "0xabc", testPolicy())
	if err == nil || !strings.Contains(err.Error(), "disk full") {
		t.Fatalf("err = %v, want wrapped insert failure", err)
	}

	bal, _ := db.GetBalance("alice")
	if bal.ClaimablePoints != 500 {
		t.Errorf("balance = %d, want 500 restored by compensating refund", bal.ClaimablePoints)
	}
}

func TestSubmit_RefundFailureIsCritical(t *testing.T) {
	_, db := newTestLedger(t)
	db.AddPoints("alice", 500)

	// Insert fails, and a concurrent accrual moves the balance away from
	// expected-after before the refund runs: the conditioned refund fails.
	hooked := &hookStore{Stores: db, failInsert: fmt.Errorf("disk full")}
	hooked.beforeCAS = nil
	l := New(&refundRacer{hookStore: hooked, db: db}, slog.New(slog.NewTextHandler(io.Discard, nil)))

	_, err := l.Submit("alice", 400, "0xabc", testPolicy())
	if err == nil || !strings.Contains(err.Error(), "ledger discrepancy") {
		t.Fatalf("err = %v, want ledger discrepancy", err)
	}
}

// refundRacer lets the deduction through, then shifts the balance so the
// compensating refund's condition fails.
type refundRacer struct {
	*hookStore
	db *sqlite.DB
	n  int
}

func (r *refundRacer) CompareAndSetPoints(contributorID string, expect, next int64) error {
	r.n++
	if r.n == 2 {
		// Competing accrual lands between deduction and refund.
		r.db.AddPoints(contributorID, 7)
	}
	return r.hookStore.CompareAndSetPoints(contributorID, expect, next)
}

// ─── Review ─────────────────────────────────────────────────────────────────

func submitTestClaim(t *testing.T, l *Ledger, db *sqlite.DB) *domain.RewardClaim {
	t.Helper()
	db.AddPoints("alice", 500)
	claim, err := l.Submit("alice", 400, "0xabc", testPolicy())
	if err != nil {
		t.Fatalf("Submit() error: %v", err)
	}
	return claim
}

func TestApprove(t *testing.T) {
	l, db := newTestLedger(t)
	claim := submitTestClaim(t, l, db)

	got, err := l.Approve(claim.ID, "bob", "verified")
	if err != nil {
		t.Fatalf("Approve() error: %v", err)
	}
	if got.Status != domain.ClaimApproved || got.ReviewedBy != "bob" {
		t.Errorf("claim = %+v", got)
	}
}

func TestReject_RestoresPoints(t *testing.T) {
	l, db := newTestLedger(t)
	claim := submitTestClaim(t, l, db)

	got, err := l.Reject(claim.ID, "bob", "not eligible")
	if err != nil {
		t.Fatalf("Reject() error: %v", err)
	}
	if got.Status != domain.ClaimRejected {
		t.Errorf("status = %s, want rejected", got.Status)
	}

	bal, _ := db.GetBalance("alice")
	if bal.ClaimablePoints != 500 {
		t.Errorf("balance = %d, want 500 restored", bal.ClaimablePoints)
	}
}

func TestMarkPaid_AppendsPayout(t *testing.T) {
	l, db := newTestLedger(t)
	claim := submitTestClaim(t, l, db)
	if _, err := l.Approve(claim.ID, "bob", ""); err != nil {
		t.Fatal(err)
	}

	got, err := l.MarkPaid(claim.ID, "tx-999")
	if err != nil {
		t.Fatalf("MarkPaid() error: %v", err)
	}
	if got.Status != domain.ClaimPaid || got.PaidTxRef != "tx-999" {
		t.Errorf("claim = %+v", got)
	}

	rows, _ := db.ListDistributions("")
	var payouts int
	for _, r := range rows {
		if r.Kind == domain.DistClaimPayout && r.ClaimID == claim.ID {
			payouts++
		}
	}
	if payouts != 1 {
		t.Errorf("payout rows = %d, want 1", payouts)
	}
}

func TestMarkPaid_RequiresApproval(t *testing.T) {
	l, db := newTestLedger(t)
	claim := submitTestClaim(t, l, db)

	_, err := l.MarkPaid(claim.ID, "tx-1")
	if !errors.Is(err, domain.ErrClaimNotApproved) {
		t.Errorf("err = %v, want ErrClaimNotApproved", err)
	}
}

func TestBalance_UnknownContributorIsZero(t *testing.T) {
	l, _ := newTestLedger(t)
	got, err := l.Balance("ghost")
	if err != nil || got != 0 {
		t.Errorf("Balance(ghost) = (%d, %v), want (0, nil)", got, err)
	}
}
