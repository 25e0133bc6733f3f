package sqlite

import (
	"errors"
	"testing"
	"time"

	"github.com/guildhall-dao/guildhall/internal/domain"
)

func newTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func newTestSprint(t *testing.T, db *DB, id string, phase domain.SprintPhase) *domain.Sprint {
	t.Helper()
	s := &domain.Sprint{
		ID:      id,
		Name:    "Sprint " + id,
		StartAt: time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC),
		EndAt:   time.Date(2025, 6, 15, 0, 0, 0, 0, time.UTC),
	}
	if err := db.CreateSprint(s); err != nil {
		t.Fatalf("CreateSprint(%s) error: %v", id, err)
	}
	// Walk the sprint forward to the requested phase through legal steps.
	cur := domain.PhasePlanning
	now := s.StartAt
	for cur != phase {
		next, ok := domain.NextPhase(cur)
		if !ok {
			t.Fatalf("cannot reach phase %s", phase)
		}
		if err := db.TransitionPhase(id, cur, next, now, nil); err != nil {
			t.Fatalf("TransitionPhase(%s → %s) error: %v", cur, next, err)
		}
		cur = next
		now = now.Add(time.Hour)
	}
	got, err := db.GetSprint(id)
	if err != nil {
		t.Fatalf("GetSprint(%s) error: %v", id, err)
	}
	return got
}

// ─── Sprints ────────────────────────────────────────────────────────────────

func TestCreateAndGetSprint(t *testing.T) {
	db := newTestDB(t)
	s := newTestSprint(t, db, "s1", domain.PhasePlanning)

	if s.Phase != domain.PhasePlanning {
		t.Errorf("Phase = %s, want planning", s.Phase)
	}
	if s.SettlementStatus != domain.SettlementPending {
		t.Errorf("SettlementStatus = %s, want pending", s.SettlementStatus)
	}
}

func TestGetSprint_NotFound(t *testing.T) {
	db := newTestDB(t)
	_, err := db.GetSprint("nope")
	if !errors.Is(err, domain.ErrSprintNotFound) {
		t.Errorf("err = %v, want ErrSprintNotFound", err)
	}
}

func TestTransitionPhase_StampsTimestamps(t *testing.T) {
	db := newTestDB(t)
	newTestSprint(t, db, "s1", domain.PhasePlanning)

	now := time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC)
	ends := now.Add(48 * time.Hour)

	mustTransition := func(from, to domain.SprintPhase, windowEnds *time.Time) {
		t.Helper()
		if err := db.TransitionPhase("s1", from, to, now, windowEnds); err != nil {
			t.Fatalf("TransitionPhase(%s → %s) error: %v", from, to, err)
		}
	}
	mustTransition(domain.PhasePlanning, domain.PhaseActive, nil)
	mustTransition(domain.PhaseActive, domain.PhaseReview, nil)
	mustTransition(domain.PhaseReview, domain.PhaseDisputeWindow, &ends)

	s, err := db.GetSprint("s1")
	if err != nil {
		t.Fatal(err)
	}
	if s.ActiveStartedAt == nil || s.ReviewStartedAt == nil || s.DisputeWindowStartedAt == nil {
		t.Fatal("phase timestamps not stamped")
	}
	if s.DisputeWindowEndsAt == nil || !s.DisputeWindowEndsAt.Equal(ends) {
		t.Errorf("DisputeWindowEndsAt = %v, want %v", s.DisputeWindowEndsAt, ends)
	}
}

func TestTransitionPhase_StaleFromRejected(t *testing.T) {
	db := newTestDB(t)
	newTestSprint(t, db, "s1", domain.PhaseActive)

	// The persisted phase is active; a writer that still believes planning
	// must be rejected, not force-applied.
	err := db.TransitionPhase("s1", domain.PhasePlanning, domain.PhaseActive, time.Now(), nil)
	if !errors.Is(err, domain.ErrPhaseConflict) {
		t.Errorf("err = %v, want ErrPhaseConflict", err)
	}

	s, _ := db.GetSprint("s1")
	if s.Phase != domain.PhaseActive {
		t.Errorf("phase = %s, want active (untouched)", s.Phase)
	}
}

func TestTransitionPhase_SelfTransitionNoop(t *testing.T) {
	db := newTestDB(t)
	newTestSprint(t, db, "s1", domain.PhaseReview)

	if err := db.TransitionPhase("s1", domain.PhaseReview, domain.PhaseReview, time.Now(), nil); err != nil {
		t.Errorf("self-transition error: %v", err)
	}
}

// ─── Settlement State ───────────────────────────────────────────────────────

func TestCommitSettlement(t *testing.T) {
	db := newTestDB(t)
	newTestSprint(t, db, "s1", domain.PhaseSettlement)

	now := time.Date(2025, 6, 20, 12, 0, 0, 0, time.UTC)
	if err := db.CommitSettlement("s1", "key-1", 100, 40, 1, now); err != nil {
		t.Fatalf("CommitSettlement() error: %v", err)
	}

	s, _ := db.GetSprint("s1")
	if s.SettlementStatus != domain.SettlementCommitted {
		t.Errorf("status = %s, want committed", s.SettlementStatus)
	}
	if s.EmissionCap != 100 || s.CarryoverAmount != 40 || s.CarryoverSprintCount != 1 {
		t.Errorf("figures = (%v, %v, %d), want (100, 40, 1)", s.EmissionCap, s.CarryoverAmount, s.CarryoverSprintCount)
	}
	if s.SettlementKey != "key-1" {
		t.Errorf("SettlementKey = %q, want key-1", s.SettlementKey)
	}
	if s.SettlementCommittedAt == nil {
		t.Error("SettlementCommittedAt not stamped")
	}

	// A second conditional commit must lose the race arbiter.
	err := db.CommitSettlement("s1", "key-2", 200, 0, 0, now)
	if !errors.Is(err, domain.ErrSettlementConflict) {
		t.Errorf("second commit err = %v, want ErrSettlementConflict", err)
	}
}

func TestHoldThenCommit(t *testing.T) {
	db := newTestDB(t)
	newTestSprint(t, db, "s1", domain.PhaseSettlement)

	if err := db.HoldSettlement("s1", "2 disputes open", []string{"disputes_open"}); err != nil {
		t.Fatalf("HoldSettlement() error: %v", err)
	}
	s, _ := db.GetSprint("s1")
	if s.SettlementStatus != domain.SettlementHeld {
		t.Errorf("status = %s, want held", s.SettlementStatus)
	}
	if s.SettlementBlockedReason != "2 disputes open" {
		t.Errorf("blocked reason = %q", s.SettlementBlockedReason)
	}
	if len(s.IntegrityFlags) != 1 || s.IntegrityFlags[0] != "disputes_open" {
		t.Errorf("IntegrityFlags = %v", s.IntegrityFlags)
	}

	// Held settlements may be retried once blockers clear.
	if err := db.CommitSettlement("s1", "key-1", 100, 0, 0, time.Now()); err != nil {
		t.Fatalf("commit after hold error: %v", err)
	}
	s, _ = db.GetSprint("s1")
	if s.SettlementBlockedReason != "" {
		t.Errorf("blocked reason not cleared on commit: %q", s.SettlementBlockedReason)
	}
}

func TestKillSettlement_Terminal(t *testing.T) {
	db := newTestDB(t)
	newTestSprint(t, db, "s1", domain.PhaseSettlement)

	if err := db.KillSettlement("s1", time.Now()); err != nil {
		t.Fatalf("KillSettlement() error: %v", err)
	}
	s, _ := db.GetSprint("s1")
	if s.SettlementStatus != domain.SettlementKilled {
		t.Errorf("status = %s, want killed", s.SettlementStatus)
	}
	if s.SettlementKillSwitchAt == nil {
		t.Error("SettlementKillSwitchAt not stamped")
	}

	// A killed settlement can never later be committed.
	err := db.CommitSettlement("s1", "key-1", 100, 0, 0, time.Now())
	if !errors.Is(err, domain.ErrSettlementConflict) {
		t.Errorf("commit after kill err = %v, want ErrSettlementConflict", err)
	}
}

func TestKillSettlement_AfterCommitRejected(t *testing.T) {
	db := newTestDB(t)
	newTestSprint(t, db, "s1", domain.PhaseSettlement)
	if err := db.CommitSettlement("s1", "key-1", 100, 0, 0, time.Now()); err != nil {
		t.Fatal(err)
	}

	err := db.KillSettlement("s1", time.Now())
	if !errors.Is(err, domain.ErrSettlementCommitted) {
		t.Errorf("err = %v, want ErrSettlementCommitted", err)
	}
}

// ─── Snapshots ──────────────────────────────────────────────────────────────

func TestInsertSnapshot_AtomicWithReassignment(t *testing.T) {
	db := newTestDB(t)
	newTestSprint(t, db, "s1", domain.PhaseSettlement)
	newTestSprint(t, db, "s2", domain.PhasePlanning)

	for _, task := range []domain.Task{
		{ID: "t1", SprintID: "s1", Title: "done work", Status: domain.TaskDone, Points: 5},
		{ID: "t2", SprintID: "s1", Title: "leftover", Status: domain.TaskTodo, Points: 3},
	} {
		task := task
		if err := db.CreateTask(&task); err != nil {
			t.Fatal(err)
		}
	}

	snap := &domain.SprintSnapshot{
		SprintID: "s1", TotalTasks: 2, CompletedTasks: 1, IncompleteTasks: 1,
		TotalPoints: 8, CompletedPoints: 5, CompletionRate: 62.5,
		Disposition: domain.IncompleteToNextSprint, TargetSprintID: "s2",
		CreatedAt: time.Now(),
	}
	if err := db.InsertSnapshot(snap, []string{"t2"}); err != nil {
		t.Fatalf("InsertSnapshot() error: %v", err)
	}

	moved, err := db.GetTask("t2")
	if err != nil {
		t.Fatal(err)
	}
	if moved.SprintID != "s2" {
		t.Errorf("t2 sprint = %q, want s2", moved.SprintID)
	}

	got, err := db.GetSnapshot("s1")
	if err != nil {
		t.Fatalf("GetSnapshot() error: %v", err)
	}
	if got.CompletionRate != 62.5 || got.TargetSprintID != "s2" {
		t.Errorf("snapshot = %+v", got)
	}
}

func TestInsertSnapshot_WriteOnce(t *testing.T) {
	db := newTestDB(t)
	newTestSprint(t, db, "s1", domain.PhaseSettlement)

	snap := &domain.SprintSnapshot{
		SprintID: "s1", Disposition: domain.IncompleteToBacklog, CreatedAt: time.Now(),
	}
	if err := db.InsertSnapshot(snap, nil); err != nil {
		t.Fatal(err)
	}
	err := db.InsertSnapshot(snap, nil)
	if !errors.Is(err, domain.ErrSnapshotExists) {
		t.Errorf("second insert err = %v, want ErrSnapshotExists", err)
	}
}

func TestGetSnapshot_Missing(t *testing.T) {
	db := newTestDB(t)
	newTestSprint(t, db, "s1", domain.PhaseSettlement)

	_, err := db.GetSnapshot("s1")
	if !errors.Is(err, domain.ErrSnapshotNotFound) {
		t.Errorf("err = %v, want ErrSnapshotNotFound", err)
	}
}

// ─── Balances ───────────────────────────────────────────────────────────────

func TestAddPointsAndGetBalance(t *testing.T) {
	db := newTestDB(t)

	if err := db.AddPoints("alice", 300); err != nil {
		t.Fatal(err)
	}
	if err := db.AddPoints("alice", 200); err != nil {
		t.Fatal(err)
	}

	b, err := db.GetBalance("alice")
	if err != nil {
		t.Fatal(err)
	}
	if b.ClaimablePoints != 500 {
		t.Errorf("ClaimablePoints = %d, want 500", b.ClaimablePoints)
	}
}

func TestCompareAndSetPoints(t *testing.T) {
	db := newTestDB(t)
	db.AddPoints("alice", 500)

	if err := db.CompareAndSetPoints("alice", 500, 100); err != nil {
		t.Fatalf("CompareAndSetPoints() error: %v", err)
	}

	// The stale writer's expectation no longer holds.
	err := db.CompareAndSetPoints("alice", 500, 100)
	if !errors.Is(err, domain.ErrBalanceConflict) {
		t.Errorf("err = %v, want ErrBalanceConflict", err)
	}

	b, _ := db.GetBalance("alice")
	if b.ClaimablePoints != 100 {
		t.Errorf("ClaimablePoints = %d, want 100 (losing write discarded)", b.ClaimablePoints)
	}
}

func TestCompareAndSetPoints_UnknownContributor(t *testing.T) {
	db := newTestDB(t)
	err := db.CompareAndSetPoints("ghost", 0, 10)
	if !errors.Is(err, domain.ErrBalanceNotFound) {
		t.Errorf("err = %v, want ErrBalanceNotFound", err)
	}
}

// ─── Claims ─────────────────────────────────────────────────────────────────

func TestClaimLifecycle(t *testing.T) {
	db := newTestDB(t)
	now := time.Date(2025, 6, 10, 10, 0, 0, 0, time.UTC)

	c := &domain.RewardClaim{
		ID: "c1", ContributorID: "alice", PointsAmount: 400,
		TokenAmount: 4, ConversionRate: 100, Status: domain.ClaimPending,
		WalletAddress: "0xabc", CreatedAt: now,
	}
	if err := db.InsertClaim(c); err != nil {
		t.Fatal(err)
	}

	if err := db.SetClaimStatus("c1", domain.ClaimPending, domain.ClaimApproved, "bob", "looks right", now); err != nil {
		t.Fatalf("approve error: %v", err)
	}
	if err := db.MarkClaimPaid("c1", "tx-123", now); err != nil {
		t.Fatalf("MarkClaimPaid() error: %v", err)
	}

	got, err := db.GetClaim("c1")
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != domain.ClaimPaid || got.PaidTxRef != "tx-123" {
		t.Errorf("claim = %+v", got)
	}
	if got.ConversionRate != 100 {
		t.Errorf("ConversionRate = %v, want 100 (fixed at submission)", got.ConversionRate)
	}
}

func TestSetClaimStatus_WrongFromRejected(t *testing.T) {
	db := newTestDB(t)
	now := time.Now()
	db.InsertClaim(&domain.RewardClaim{
		ID: "c1", ContributorID: "alice", PointsAmount: 100,
		TokenAmount: 1, ConversionRate: 100, Status: domain.ClaimPending, CreatedAt: now,
	})
	db.SetClaimStatus("c1", domain.ClaimPending, domain.ClaimRejected, "bob", "", now)

	err := db.SetClaimStatus("c1", domain.ClaimPending, domain.ClaimApproved, "bob", "", now)
	if !errors.Is(err, domain.ErrClaimNotPending) {
		t.Errorf("err = %v, want ErrClaimNotPending", err)
	}
}

func TestMarkClaimPaid_RequiresApproval(t *testing.T) {
	db := newTestDB(t)
	db.InsertClaim(&domain.RewardClaim{
		ID: "c1", ContributorID: "alice", PointsAmount: 100,
		TokenAmount: 1, ConversionRate: 100, Status: domain.ClaimPending, CreatedAt: time.Now(),
	})

	err := db.MarkClaimPaid("c1", "tx-1", time.Now())
	if !errors.Is(err, domain.ErrClaimNotApproved) {
		t.Errorf("err = %v, want ErrClaimNotApproved", err)
	}
}

// ─── Distributions & Disputes ───────────────────────────────────────────────

func TestAppendAndListDistributions(t *testing.T) {
	db := newTestDB(t)
	now := time.Now()

	for _, dist := range []domain.RewardDistribution{
		{Kind: domain.DistEpochEmission, SprintID: "s1", TokenAmount: 60, CreatedAt: now},
		{Kind: domain.DistClaimPayout, SprintID: "s1", ClaimID: "c1", ContributorID: "alice", TokenAmount: 4, CreatedAt: now},
	} {
		dist := dist
		if err := db.AppendDistribution(&dist); err != nil {
			t.Fatal(err)
		}
		if dist.ID == 0 {
			t.Error("AppendDistribution did not set row id")
		}
	}

	rows, err := db.ListDistributions("s1")
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 2 {
		t.Fatalf("len(rows) = %d, want 2", len(rows))
	}
	if rows[0].Kind != domain.DistEpochEmission || rows[1].Kind != domain.DistClaimPayout {
		t.Errorf("rows = %+v", rows)
	}
}

func TestDisputeSignal(t *testing.T) {
	db := newTestDB(t)

	id1, err := db.FileDispute("s1", "sub-1")
	if err != nil {
		t.Fatal(err)
	}
	db.FileDispute("s1", "sub-2")

	n, err := db.OpenDisputeCount("s1")
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Errorf("OpenDisputeCount = %d, want 2", n)
	}

	if err := db.ResolveDispute(id1); err != nil {
		t.Fatal(err)
	}
	n, _ = db.OpenDisputeCount("s1")
	if n != 1 {
		t.Errorf("OpenDisputeCount after resolve = %d, want 1", n)
	}
}
