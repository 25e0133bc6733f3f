// Package standing computes EMA-based standing scores for contributors.
//
// Each contributor has 3 standing components:
//   - Delivery: did assigned tasks reach done?
//   - Estimation: was assigned work estimated up front?
//   - Tenure: how long has the contributor been active?
//
// Overall = 0.55×delivery + 0.20×estimation + 0.25×tenure − penalties
//
// Standing is derived, never stored: it is recomputed from the task and
// claim history on every read, so there is no score state to migrate or
// race on. The EMA walks the contributor's tasks in chronological order.
package standing

import (
	"time"

	"github.com/guildhall-dao/guildhall/internal/domain"
)

// ─── Constants ──────────────────────────────────────────────────────────────

const (
	// Component weights (sum to 1.0 before penalty deduction)
	WeightDelivery   = 0.55
	WeightEstimation = 0.20
	WeightTenure     = 0.25

	// PenaltyWeight is the deduction per rejected reward claim.
	PenaltyWeight = 0.05

	// AlphaNormal is the EMA smoothing factor for established contributors.
	// Low α = slow adaptation = one bad sprint doesn't crater the score.
	AlphaNormal = 0.1

	// AlphaColdStart is used for the first ColdStartTasks tasks.
	AlphaColdStart = 0.3

	// ColdStartTasks is how many tasks before switching to normal α.
	ColdStartTasks = 10

	// DefaultStanding for contributors with no task history (neutral).
	DefaultStanding = 0.5

	// FloorStanding is the minimum score. Contributors always get a way back.
	FloorStanding = 0.1

	// CeilingStanding is the absolute maximum.
	CeilingStanding = 1.0

	// DecayRatePerWeek is the weekly score decay for inactive contributors.
	DecayRatePerWeek = 0.01

	// TenureFullDays is how many active days for maximum tenure score.
	TenureFullDays = 180
)

// ─── Types ──────────────────────────────────────────────────────────────────

// Components holds the individual standing components.
type Components struct {
	Delivery   float64 `json:"delivery"`   // EMA of assigned tasks reaching done
	Estimation float64 `json:"estimation"` // EMA of tasks carrying a point estimate
	Tenure     float64 `json:"tenure"`     // min(1.0, active_days / 180)
}

// ContributorStanding is a contributor's computed standing.
type ContributorStanding struct {
	ContributorID  string     `json:"contributor_id"`
	Components     Components `json:"components"`
	Penalties      float64    `json:"penalties"` // Accumulated from rejected claims
	TaskCount      int        `json:"task_count"`
	RejectedClaims int        `json:"rejected_claims"`
	Overall        float64    `json:"overall"`
	Tier           string     `json:"tier"`
	FirstActiveAt  *time.Time `json:"first_active_at,omitempty"`
	LastActiveAt   *time.Time `json:"last_active_at,omitempty"`
}

// Tier buckets a score into a human label.
func Tier(overall float64) string {
	switch {
	case overall >= 0.9:
		return "excellent"
	case overall >= 0.7:
		return "good"
	case overall >= 0.5:
		return "neutral"
	case overall >= 0.3:
		return "low"
	default:
		return "poor"
	}
}

// ─── Scorer ─────────────────────────────────────────────────────────────────

// Stores is the subset of persistence the scorer reads.
type Stores interface {
	ListAssigneeTasks(assigneeID string) ([]domain.Task, error)
	ListClaims(contributorID string) ([]domain.RewardClaim, error)
}

// Scorer computes standing from persisted history.
type Scorer struct {
	store Stores
	now   func() time.Time
}

func New(store Stores) *Scorer {
	return &Scorer{store: store, now: time.Now}
}

// SetClock overrides the scorer's clock for tests.
func (s *Scorer) SetClock(now func() time.Time) { s.now = now }

// Compute derives the contributor's current standing. A contributor with no
// task history scores the neutral default across EMA components.
func (s *Scorer) Compute(contributorID string) (*ContributorStanding, error) {
	tasks, err := s.store.ListAssigneeTasks(contributorID)
	if err != nil {
		return nil, err
	}
	claims, err := s.store.ListClaims(contributorID)
	if err != nil {
		return nil, err
	}

	cs := &ContributorStanding{
		ContributorID: contributorID,
		Components: Components{
			Delivery:   DefaultStanding,
			Estimation: DefaultStanding,
		},
	}

	for i := range tasks {
		t := &tasks[i]
		a := alpha(cs.TaskCount)
		cs.Components.Delivery = ema(cs.Components.Delivery, boolSample(t.Status.IsDone()), a)
		cs.Components.Estimation = ema(cs.Components.Estimation, boolSample(t.Points > 0), a)
		cs.TaskCount++

		if cs.FirstActiveAt == nil || t.CreatedAt.Before(*cs.FirstActiveAt) {
			at := t.CreatedAt
			cs.FirstActiveAt = &at
		}
		if cs.LastActiveAt == nil || t.UpdatedAt.After(*cs.LastActiveAt) {
			at := t.UpdatedAt
			cs.LastActiveAt = &at
		}
	}

	now := s.now()
	if cs.FirstActiveAt != nil {
		days := now.Sub(*cs.FirstActiveAt).Hours() / 24
		cs.Components.Tenure = clamp(days/TenureFullDays, 0, 1)
	}

	for i := range claims {
		if claims[i].Status == domain.ClaimRejected {
			cs.RejectedClaims++
		}
	}
	cs.Penalties = float64(cs.RejectedClaims) * PenaltyWeight

	score := WeightDelivery*cs.Components.Delivery +
		WeightEstimation*cs.Components.Estimation +
		WeightTenure*cs.Components.Tenure -
		cs.Penalties
	score = applyInactivityDecay(score, cs.LastActiveAt, now)

	cs.Overall = clamp(score, FloorStanding, CeilingStanding)
	cs.Tier = Tier(cs.Overall)
	return cs, nil
}

// applyInactivityDecay shaves DecayRatePerWeek per full week since the last
// task activity. Contributors with no history don't decay below neutral.
func applyInactivityDecay(score float64, lastActive *time.Time, now time.Time) float64 {
	if lastActive == nil {
		return score
	}
	weeks := int(now.Sub(*lastActive).Hours() / (24 * 7))
	if weeks <= 0 {
		return score
	}
	return score * (1 - DecayRatePerWeek*float64(weeks))
}

func alpha(taskCount int) float64 {
	if taskCount < ColdStartTasks {
		return AlphaColdStart
	}
	return AlphaNormal
}

func ema(prev, sample, a float64) float64 {
	return a*sample + (1-a)*prev
}

func boolSample(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
