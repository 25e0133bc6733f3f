// Package observability exposes the engine's Prometheus metrics.
//
// Settlement outcomes, claim outcomes, and ledger anomalies are the signals
// operators watch: a rising conflict rate means contributors are racing,
// a single refund failure means a real ledger discrepancy that needs
// manual reconciliation.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ─── Settlement Metrics ─────────────────────────────────────────────────────

// SettlementOutcomes counts settlement attempts by resulting status.
var SettlementOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "guildhall",
	Subsystem: "settlement",
	Name:      "outcomes_total",
	Help:      "Settlement attempts by outcome (committed, held, killed, conflict).",
}, []string{"outcome"})

// SettlementEmissionCap records the most recent effective emission cap.
var SettlementEmissionCap = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: "guildhall",
	Subsystem: "settlement",
	Name:      "emission_cap_tokens",
	Help:      "Effective emission cap of the most recently committed sprint.",
})

// SettlementCarryover records the most recent carryover amount.
var SettlementCarryover = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: "guildhall",
	Subsystem: "settlement",
	Name:      "carryover_tokens",
	Help:      "Carryover amount rolled forward by the most recent settlement.",
})

// SprintsCompleted counts sprints driven to completion.
var SprintsCompleted = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "guildhall",
	Subsystem: "sprint",
	Name:      "completed_total",
	Help:      "Sprints that reached the completed phase.",
})

// ─── Claims Metrics ─────────────────────────────────────────────────────────

// ClaimSubmissions counts claim submissions by outcome.
var ClaimSubmissions = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "guildhall",
	Subsystem: "claims",
	Name:      "submissions_total",
	Help:      "Claim submissions by outcome (created, rejected, conflict).",
}, []string{"outcome"})

// BalanceConflicts counts compare-and-swap failures on contributor balances.
var BalanceConflicts = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "guildhall",
	Subsystem: "claims",
	Name:      "balance_conflicts_total",
	Help:      "Balance writes that lost the compare-and-swap race.",
})

// RefundFailures counts compensating refunds that themselves failed.
// Any non-zero value is a ledger discrepancy requiring manual reconciliation.
var RefundFailures = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "guildhall",
	Subsystem: "claims",
	Name:      "refund_failures_total",
	Help:      "Compensating refunds that failed after a claim insert error.",
})

// TokensClaimed totals the token value of created claims.
var TokensClaimed = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "guildhall",
	Subsystem: "claims",
	Name:      "tokens_claimed_total",
	Help:      "Cumulative token value of successfully created claims.",
})
