// Package settlement orchestrates the sprint lifecycle end game: phase
// advancement, the completion snapshot, and the exactly-once reward
// settlement commit.
//
// The controller never loops on conflicts. Every racing write goes through
// a conditional update in the store; a lost race surfaces as a conflict for
// the caller to retry, and the idempotency key makes a repeated commit a
// no-op that returns the prior outcome.
package settlement

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/guildhall-dao/guildhall/internal/app/emission"
	"github.com/guildhall-dao/guildhall/internal/app/snapshot"
	"github.com/guildhall-dao/guildhall/internal/domain"
	"github.com/guildhall-dao/guildhall/internal/infra/observability"
)

// Stores is the storage surface the controller needs.
type Stores interface {
	GetSprint(id string) (*domain.Sprint, error)
	ListSprints() ([]domain.Sprint, error)
	TransitionPhase(id string, from, to domain.SprintPhase, now time.Time, windowEnds *time.Time) error
	CommitSettlement(id, key string, emissionCap, carryover float64, carryCount int, now time.Time) error
	HoldSettlement(id, reason string, flags []string) error
	KillSettlement(id string, now time.Time) error
	GetSnapshot(sprintID string) (*domain.SprintSnapshot, error)
	ListSprintTasks(sprintID string) ([]domain.Task, error)
	AppendDistribution(d *domain.RewardDistribution) error
	OpenDisputeCount(sprintID string) (int, error)
}

// Config controls controller behavior.
type Config struct {
	// DisputeWindow is how long the dispute window stays open once entered.
	DisputeWindow time.Duration
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{DisputeWindow: 48 * time.Hour}
}

// Controller drives sprints through settlement.
type Controller struct {
	cfg   Config
	store Stores
	snaps *snapshot.Builder
	log   *slog.Logger
	now   func() time.Time
}

// New creates a settlement controller.
func New(cfg Config, store Stores, snaps *snapshot.Builder, log *slog.Logger) *Controller {
	if log == nil {
		log = slog.Default()
	}
	return &Controller{cfg: cfg, store: store, snaps: snaps, log: log, now: time.Now}
}

// SetClock overrides the clock, for tests.
func (c *Controller) SetClock(now func() time.Time) { c.now = now }

// ─── Phase Advancement ──────────────────────────────────────────────────────

// AdvancePhase applies one transition to the sprint, validated by the phase
// rules and conditioned on the persisted phase. The dispute window end is
// stamped when the sprint enters dispute_window.
func (c *Controller) AdvancePhase(id string, to domain.SprintPhase) (*domain.Sprint, error) {
	s, err := c.store.GetSprint(id)
	if err != nil {
		return nil, err
	}
	if err := domain.ValidateTransition(s.Phase, to); err != nil {
		return nil, err
	}

	now := c.now()
	var windowEnds *time.Time
	if to == domain.PhaseDisputeWindow {
		ends := now.Add(c.cfg.DisputeWindow)
		windowEnds = &ends
	}
	if err := c.store.TransitionPhase(id, s.Phase, to, now, windowEnds); err != nil {
		return nil, err
	}
	return c.store.GetSprint(id)
}

// ─── Sprint Completion ──────────────────────────────────────────────────────

// Transition records the phase move applied by a completion.
type Transition struct {
	From domain.SprintPhase `json:"from"`
	To   domain.SprintPhase `json:"to"`
}

// CompletionResult is the outcome of the sprint completion action.
type CompletionResult struct {
	Sprint     *domain.Sprint         `json:"sprint"`
	Snapshot   *domain.SprintSnapshot `json:"snapshot"`
	Transition Transition             `json:"transition"`
	Blockers   []string               `json:"settlement_blockers,omitempty"`
}

// CompleteSprint freezes a sprint: it builds the write-once completion
// snapshot, applies the incomplete-task disposition, and moves the sprint
// from settlement to completed. Any settlement blockers discovered along
// the way are reported, not swallowed.
func (c *Controller) CompleteSprint(id string, action domain.IncompleteAction, targetID string) (*CompletionResult, error) {
	s, err := c.store.GetSprint(id)
	if err != nil {
		return nil, err
	}
	next, ok := domain.NextPhase(s.Phase)
	if !ok || next != domain.PhaseCompleted {
		return nil, domain.ErrSprintNotCompletable
	}

	snap, err := c.snaps.Build(id, action, targetID)
	if errors.Is(err, domain.ErrSnapshotExists) {
		// A prior attempt wrote the snapshot but its phase write never landed.
		// The snapshot is write-once, so a retry reuses the stored one and
		// finishes the phase move instead of wedging on the guard.
		snap, err = c.store.GetSnapshot(id)
	}
	if err != nil {
		return nil, err
	}

	if err := c.store.TransitionPhase(id, s.Phase, domain.PhaseCompleted, c.now(), nil); err != nil {
		return nil, err
	}

	updated, err := c.store.GetSprint(id)
	if err != nil {
		return nil, err
	}
	blockers, err := c.discoverBlockers(updated)
	if err != nil {
		return nil, err
	}

	observability.SprintsCompleted.Inc()
	c.log.Info("sprint completed",
		"sprint", id,
		"completion_rate", snap.CompletionRate,
		"incomplete_tasks", snap.IncompleteTasks,
		"disposition", string(snap.Disposition))

	return &CompletionResult{
		Sprint:     updated,
		Snapshot:   snap,
		Transition: Transition{From: s.Phase, To: domain.PhaseCompleted},
		Blockers:   blockers,
	}, nil
}

// discoverBlockers lists the conditions that currently prevent a commit.
func (c *Controller) discoverBlockers(s *domain.Sprint) ([]string, error) {
	var blockers []string
	if !s.DisputeWindowElapsed(c.now()) {
		blockers = append(blockers, fmt.Sprintf("dispute window open until %s", s.DisputeWindowEndsAt.Format(time.RFC3339)))
	}
	open, err := c.store.OpenDisputeCount(s.ID)
	if err != nil {
		return nil, fmt.Errorf("count disputes: %w", err)
	}
	if open > 0 {
		blockers = append(blockers, fmt.Sprintf("%d unresolved disputes", open))
	}
	for _, flag := range s.IntegrityFlags {
		blockers = append(blockers, "integrity flag: "+flag)
	}
	return blockers, nil
}

// ─── Settlement Commit ──────────────────────────────────────────────────────

// CommitRequest carries the configuration a commit reads once, explicitly —
// the policy is never consulted as ambient global state.
type CommitRequest struct {
	IdempotencyKey string
	Policy         domain.EmissionPolicy
	TreasuryValue  float64
	ConversionRate float64 // Points per token
}

// CommitResult is the outcome of a settlement commit.
type CommitResult struct {
	Sprint   *domain.Sprint  `json:"sprint"`
	Figures  emission.Result `json:"figures"`
	Replayed bool            `json:"replayed"` // Idempotency key already consumed
}

// Commit finalizes a sprint's reward emission exactly once.
//
// Preconditions: the sprint has reached the settlement phase, the dispute
// window has elapsed, and the idempotency key has not already been
// committed. Open disputes or raised integrity flags hold the settlement
// with a recorded reason instead of committing. A repeated commit with a
// consumed key replays the stored outcome and never emits twice.
func (c *Controller) Commit(id string, req CommitRequest) (*CommitResult, error) {
	s, err := c.store.GetSprint(id)
	if err != nil {
		return nil, err
	}

	switch s.SettlementStatus {
	case domain.SettlementKilled:
		return nil, domain.ErrSettlementKilled
	case domain.SettlementCommitted:
		if req.IdempotencyKey != "" && req.IdempotencyKey == s.SettlementKey {
			return c.replay(s), nil
		}
		return nil, domain.ErrSettlementCommitted
	}

	if !s.Phase.AtOrAfter(domain.PhaseSettlement) {
		return nil, domain.ErrSettlementPhase
	}
	now := c.now()
	if !s.DisputeWindowElapsed(now) {
		return nil, domain.ErrDisputeWindowOpen
	}

	// Integrity problems hold the settlement; they are a recorded state for
	// operators, not an error, and the hold is retryable once cleared.
	open, err := c.store.OpenDisputeCount(id)
	if err != nil {
		return nil, fmt.Errorf("count disputes: %w", err)
	}
	if open > 0 || len(s.IntegrityFlags) > 0 {
		reason := fmt.Sprintf("%d unresolved disputes", open)
		if open == 0 {
			reason = fmt.Sprintf("integrity flags raised: %v", s.IntegrityFlags)
		}
		if err := c.store.HoldSettlement(id, reason, s.IntegrityFlags); err != nil {
			return nil, err
		}
		observability.SettlementOutcomes.WithLabelValues("held").Inc()
		c.log.Warn("settlement held", "sprint", id, "reason", reason)
		held, err := c.store.GetSprint(id)
		if err != nil {
			return nil, err
		}
		return &CommitResult{Sprint: held}, nil
	}

	earned, err := c.earnedValue(id, req.ConversionRate)
	if err != nil {
		return nil, err
	}
	carryIn, carrySprints, err := c.inboundCarryover(id)
	if err != nil {
		// The commit consumes the idempotency key exactly once; defaulting the
		// carryover to zero here would permanently record the wrong figures.
		return nil, fmt.Errorf("carryover lookup: %w", err)
	}
	figures := emission.Compute(req.Policy, req.TreasuryValue, earned, carryIn, carrySprints)

	key := req.IdempotencyKey
	if key == "" {
		key = uuid.NewString()
	}

	if err := c.store.CommitSettlement(id, key, figures.TotalCap, figures.CarryoverOut, figures.CarryoverSprints, now); err != nil {
		if errors.Is(err, domain.ErrSettlementConflict) {
			// Lost the race. If the winner consumed our key this is a replay.
			cur, gerr := c.store.GetSprint(id)
			if gerr == nil && cur.SettlementStatus == domain.SettlementCommitted && cur.SettlementKey == key {
				return c.replay(cur), nil
			}
			observability.SettlementOutcomes.WithLabelValues("conflict").Inc()
		}
		return nil, err
	}

	// The conditional commit above is the race arbiter: only the winner
	// reaches this append, so the ledger records the emission once.
	if figures.Emitted > 0 {
		dist := &domain.RewardDistribution{
			Kind:        domain.DistEpochEmission,
			SprintID:    id,
			TokenAmount: figures.Emitted,
			Memo:        fmt.Sprintf("sprint emission (cap %.4f, carryover %.4f)", figures.TotalCap, figures.CarryoverOut),
			CreatedAt:   now,
		}
		if err := c.store.AppendDistribution(dist); err != nil {
			return nil, fmt.Errorf("record emission: %w", err)
		}
	}

	observability.SettlementOutcomes.WithLabelValues("committed").Inc()
	observability.SettlementEmissionCap.Set(figures.TotalCap)
	observability.SettlementCarryover.Set(figures.CarryoverOut)
	c.log.Info("settlement committed",
		"sprint", id,
		"key", key,
		"emission_cap", figures.TotalCap,
		"emitted", figures.Emitted,
		"carryover", figures.CarryoverOut)

	committed, err := c.store.GetSprint(id)
	if err != nil {
		return nil, err
	}
	return &CommitResult{Sprint: committed, Figures: figures}, nil
}

// replay reconstructs the stored outcome of an already-committed settlement.
func (c *Controller) replay(s *domain.Sprint) *CommitResult {
	return &CommitResult{
		Sprint: s,
		Figures: emission.Result{
			TotalCap:         s.EmissionCap,
			Emitted:          s.EmissionCap - s.CarryoverAmount,
			CarryoverOut:     s.CarryoverAmount,
			CarryoverSprints: s.CarryoverSprintCount,
		},
		Replayed: true,
	}
}

// earnedValue converts the sprint's completed points to token value. The
// frozen snapshot is authoritative when present; a sprint still in the
// settlement phase is valued from its live task set.
func (c *Controller) earnedValue(id string, conversionRate float64) (float64, error) {
	var completedPoints int64
	snap, err := c.store.GetSnapshot(id)
	switch {
	case err == nil:
		completedPoints = snap.CompletedPoints
	case errors.Is(err, domain.ErrSnapshotNotFound):
		tasks, terr := c.store.ListSprintTasks(id)
		if terr != nil {
			return 0, fmt.Errorf("list sprint tasks: %w", terr)
		}
		completedPoints = snapshot.Compute(tasks).CompletedPoints
	default:
		return 0, fmt.Errorf("get snapshot: %w", err)
	}

	if conversionRate <= 0 {
		conversionRate = DefaultConversionRate
	}
	return float64(completedPoints) / conversionRate, nil
}

// DefaultConversionRate is the points-per-token rate used when the
// configured rate is absent or invalid.
const DefaultConversionRate = 100.0

// inboundCarryover finds the unused emission rolling in from the most
// recently committed settlement before this sprint.
func (c *Controller) inboundCarryover(excludeID string) (float64, int, error) {
	sprints, err := c.store.ListSprints()
	if err != nil {
		return 0, 0, fmt.Errorf("list sprints: %w", err)
	}
	var latest *domain.Sprint
	for i := range sprints {
		s := &sprints[i]
		if s.ID == excludeID || s.SettlementStatus != domain.SettlementCommitted || s.SettlementCommittedAt == nil {
			continue
		}
		if latest == nil || s.SettlementCommittedAt.After(*latest.SettlementCommittedAt) {
			latest = s
		}
	}
	if latest == nil {
		return 0, 0, nil
	}
	return latest.CarryoverAmount, latest.CarryoverSprintCount, nil
}

// ─── Kill Switch ────────────────────────────────────────────────────────────

// Kill forces the killed status at any time before commit. Killed
// settlements are terminal and can never later be committed.
func (c *Controller) Kill(id, reason string) (*domain.Sprint, error) {
	if err := c.store.KillSettlement(id, c.now()); err != nil {
		return nil, err
	}
	observability.SettlementOutcomes.WithLabelValues("killed").Inc()
	c.log.Warn("settlement killed", "sprint", id, "reason", reason)
	return c.store.GetSprint(id)
}
