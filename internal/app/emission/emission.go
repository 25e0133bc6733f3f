// Package emission implements the per-sprint reward emission policy.
//
// The policy turns org-scoped configuration plus treasury state into a
// bounded emission ceiling for one sprint:
//
//	base cap    = min of the configured figures that are present
//	              (percent-of-treasury and/or fixed absolute cap)
//	total cap   = base cap + carryover, unless carryover has already
//	              accumulated across the configured sprint limit
//	carryover′  = total cap − emitted value
//
// Every function here is deterministic and side-effect-free so the policy
// can be unit-tested independent of any live data source. Absent or
// non-finite configuration falls back to the documented defaults below,
// never to zero — zero would silently switch off emissions.
package emission

import (
	"math"

	"github.com/guildhall-dao/guildhall/internal/domain"
)

// ─── Constants ──────────────────────────────────────────────────────────────

const (
	// DefaultEmissionPercent is the percent of treasury value emittable per
	// sprint when no percentage is configured.
	DefaultEmissionPercent = 5.0

	// DefaultCarryoverSprintCap applies when no carryover limit is configured.
	DefaultCarryoverSprintCap = 3

	// MaxCarryoverSprints is the fixed system ceiling on carryover
	// accumulation. Configuration can never raise it.
	MaxCarryoverSprints = 12
)

// ─── Policy Resolution ──────────────────────────────────────────────────────

// present reports whether a configured figure is usable: positive and finite.
// Zero means unset; NaN and ±Inf are treated as unset, not as zero.
func present(v float64) bool {
	return v > 0 && !math.IsNaN(v) && !math.IsInf(v, 0)
}

// EffectiveCap resolves the base per-sprint emission ceiling in token units.
// When both a percentage and a fixed cap are configured the smaller governs:
// both are ceilings, and a ceiling composed of ceilings is their minimum.
func EffectiveCap(p domain.EmissionPolicy, treasuryValue float64) float64 {
	if !present(treasuryValue) {
		treasuryValue = 0
	}

	percent := DefaultEmissionPercent
	if present(p.EmissionPercent) {
		percent = p.EmissionPercent
	}
	percentCap := treasuryValue * percent / 100

	if present(p.FixedCapPerSprint) {
		if percentCap <= 0 {
			return p.FixedCapPerSprint
		}
		return math.Min(percentCap, p.FixedCapPerSprint)
	}
	return percentCap
}

// Resolved returns the policy as the engine will apply it: absent or
// non-finite figures replaced by their defaults and the carryover sprint
// cap clamped to the system ceiling. Read endpoints report this form so
// operators see the figures that actually govern settlement.
func Resolved(p domain.EmissionPolicy) domain.EmissionPolicy {
	out := p
	if !present(out.EmissionPercent) {
		out.EmissionPercent = DefaultEmissionPercent
	}
	if !present(out.FixedCapPerSprint) {
		out.FixedCapPerSprint = 0
	}
	out.CarryoverSprintCap = float64(CarryoverSprintCap(p))
	return out
}

// CarryoverSprintCap resolves the number of sprints over which unused
// emission may accumulate, clamped to [1, MaxCarryoverSprints].
func CarryoverSprintCap(p domain.EmissionPolicy) int {
	v := p.CarryoverSprintCap
	if !present(v) {
		return DefaultCarryoverSprintCap
	}
	n := int(v)
	if n < 1 {
		return 1
	}
	if n > MaxCarryoverSprints {
		return MaxCarryoverSprints
	}
	return n
}

// ─── Sprint Computation ─────────────────────────────────────────────────────

// Result is the settlement figure set for one sprint.
type Result struct {
	BaseCap          float64 `json:"base_cap"`          // Cap from policy alone, before carryover
	TotalCap         float64 `json:"total_cap"`         // Cap actually applied to this sprint
	Emitted          float64 `json:"emitted"`           // Value released, bounded by TotalCap
	CarryoverOut     float64 `json:"carryover_out"`     // Unused capacity rolling forward
	CarryoverSprints int     `json:"carryover_sprints"` // Consecutive sprints the carryover has accumulated
	CarryoverExpired bool    `json:"carryover_expired"` // Inbound carryover was dropped at the sprint limit
}

// Compute settles the emission figures for one sprint.
//
// earnedValue is the token value of the sprint's completed work. carryoverIn
// and carryoverSprints come from the previously settled sprint; when the
// accumulation count has reached the configured sprint cap the inbound
// carryover expires rather than growing without bound.
func Compute(p domain.EmissionPolicy, treasuryValue, earnedValue, carryoverIn float64, carryoverSprints int) Result {
	base := EffectiveCap(p, treasuryValue)
	limit := CarryoverSprintCap(p)

	r := Result{BaseCap: base}

	carry := carryoverIn
	if !present(carry) {
		carry = 0
	}
	if carry > 0 && carryoverSprints >= limit {
		r.CarryoverExpired = true
		carry = 0
	}
	r.TotalCap = base + carry

	if !present(earnedValue) {
		earnedValue = 0
	}
	r.Emitted = math.Min(earnedValue, r.TotalCap)
	r.CarryoverOut = r.TotalCap - r.Emitted

	if r.CarryoverOut > 0 {
		r.CarryoverSprints = carryoverSprints + 1
		if r.CarryoverSprints > limit {
			r.CarryoverSprints = limit
		}
	}
	return r
}
