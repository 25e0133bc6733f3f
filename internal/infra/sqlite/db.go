// Package sqlite persists the engine's state: sprints, snapshots, tasks,
// contributor balances, claims, disputes, and the append-only distribution
// ledger.
//
// The deployment runs multiple stateless request handlers, so every racing
// mutation is a conditional UPDATE — "set X only if the row still reads Y" —
// and a failed condition surfaces as the matching domain conflict sentinel.
// No method here takes an application-level lock.
package sqlite

import (
	"database/sql"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// DB wraps the sqlite handle with typed operations.
type DB struct {
	db *sql.DB
}

// Open opens (or creates) the database under dir and applies migrations.
func Open(dir string) (*DB, error) {
	path := filepath.Join(dir, "guildhall.db")
	handle, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	d := &DB{db: handle}
	if err := d.migrate(); err != nil {
		handle.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return d, nil
}

// Close closes the underlying handle.
func (d *DB) Close() error { return d.db.Close() }

func (d *DB) migrate() error {
	for _, stmt := range Migrations() {
		if _, err := d.db.Exec(stmt); err != nil {
			return fmt.Errorf("exec migration: %w", err)
		}
	}
	return nil
}

// Migrations returns the schema migration statements.
// Each string is a single SQL statement (SQLite executes one at a time).
func Migrations() []string {
	return []string{
		// Sprints, including settlement state
		`CREATE TABLE IF NOT EXISTS sprints (
			id                        TEXT PRIMARY KEY,
			name                      TEXT NOT NULL,
			phase                     TEXT NOT NULL DEFAULT 'planning',
			start_at                  TEXT NOT NULL,
			end_at                    TEXT NOT NULL,
			capacity                  INTEGER NOT NULL DEFAULT 0,
			active_started_at         TEXT,
			review_started_at         TEXT,
			dispute_window_started_at TEXT,
			dispute_window_ends_at    TEXT,
			settlement_started_at     TEXT,
			completed_at              TEXT,
			settlement_status         TEXT NOT NULL DEFAULT 'pending',
			settlement_committed_at   TEXT,
			settlement_kill_switch_at TEXT,
			settlement_blocked_reason TEXT NOT NULL DEFAULT '',
			emission_cap              REAL NOT NULL DEFAULT 0,
			carryover_amount          REAL NOT NULL DEFAULT 0,
			carryover_sprint_count    INTEGER NOT NULL DEFAULT 0,
			settlement_key            TEXT NOT NULL DEFAULT '',
			integrity_flags           TEXT NOT NULL DEFAULT '[]',
			created_at                TEXT NOT NULL DEFAULT (datetime('now')),
			updated_at                TEXT NOT NULL DEFAULT (datetime('now'))
		)`,
		`CREATE INDEX IF NOT EXISTS idx_sprints_phase ON sprints(phase)`,
		`CREATE INDEX IF NOT EXISTS idx_sprints_settlement ON sprints(settlement_status)`,

		// Completion snapshots — write-once, one per sprint
		`CREATE TABLE IF NOT EXISTS sprint_snapshots (
			sprint_id        TEXT PRIMARY KEY,
			total_tasks      INTEGER NOT NULL,
			completed_tasks  INTEGER NOT NULL,
			incomplete_tasks INTEGER NOT NULL,
			total_points     INTEGER NOT NULL,
			completed_points INTEGER NOT NULL,
			completion_rate  REAL NOT NULL,
			tasks_json       TEXT NOT NULL DEFAULT '[]',
			disposition      TEXT NOT NULL,
			target_sprint_id TEXT NOT NULL DEFAULT '',
			created_at       TEXT NOT NULL DEFAULT (datetime('now'))
		)`,

		// Tasks — sprint_id empty string means backlog
		`CREATE TABLE IF NOT EXISTS tasks (
			id            TEXT PRIMARY KEY,
			sprint_id     TEXT NOT NULL DEFAULT '',
			title         TEXT NOT NULL,
			status        TEXT NOT NULL DEFAULT 'todo',
			points        INTEGER NOT NULL DEFAULT 0,
			assignee_id   TEXT NOT NULL DEFAULT '',
			assignee_name TEXT NOT NULL DEFAULT '',
			created_at    TEXT NOT NULL DEFAULT (datetime('now')),
			updated_at    TEXT NOT NULL DEFAULT (datetime('now'))
		)`,
		`CREATE INDEX IF NOT EXISTS idx_tasks_sprint ON tasks(sprint_id)`,
		`CREATE INDEX IF NOT EXISTS idx_tasks_status ON tasks(status)`,

		// Contributor balances
		`CREATE TABLE IF NOT EXISTS contributor_balances (
			contributor_id   TEXT PRIMARY KEY,
			claimable_points INTEGER NOT NULL DEFAULT 0 CHECK(claimable_points >= 0),
			updated_at       TEXT NOT NULL DEFAULT (datetime('now'))
		)`,

		// Reward claims
		`CREATE TABLE IF NOT EXISTS reward_claims (
			id              TEXT PRIMARY KEY,
			contributor_id  TEXT NOT NULL,
			points_amount   INTEGER NOT NULL,
			token_amount    REAL NOT NULL,
			conversion_rate REAL NOT NULL,
			status          TEXT NOT NULL DEFAULT 'pending',
			wallet_address  TEXT NOT NULL DEFAULT '',
			reviewed_by     TEXT NOT NULL DEFAULT '',
			review_note     TEXT NOT NULL DEFAULT '',
			paid_tx_ref     TEXT NOT NULL DEFAULT '',
			created_at      TEXT NOT NULL DEFAULT (datetime('now')),
			reviewed_at     TEXT,
			paid_at         TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_claims_contributor ON reward_claims(contributor_id)`,
		`CREATE INDEX IF NOT EXISTS idx_claims_status ON reward_claims(status)`,

		// Append-only distribution ledger
		`CREATE TABLE IF NOT EXISTS reward_distributions (
			id             INTEGER PRIMARY KEY AUTOINCREMENT,
			kind           TEXT NOT NULL,
			sprint_id      TEXT NOT NULL DEFAULT '',
			claim_id       TEXT NOT NULL DEFAULT '',
			contributor_id TEXT NOT NULL DEFAULT '',
			token_amount   REAL NOT NULL,
			memo           TEXT NOT NULL DEFAULT '',
			created_at     TEXT NOT NULL DEFAULT (datetime('now'))
		)`,
		`CREATE INDEX IF NOT EXISTS idx_dist_sprint ON reward_distributions(sprint_id)`,
		`CREATE INDEX IF NOT EXISTS idx_dist_kind ON reward_distributions(kind)`,

		// Dispute blocker signal (adjudication is external)
		`CREATE TABLE IF NOT EXISTS disputes (
			id             INTEGER PRIMARY KEY AUTOINCREMENT,
			sprint_id      TEXT NOT NULL,
			submission_ref TEXT NOT NULL DEFAULT '',
			status         TEXT NOT NULL DEFAULT 'open',
			created_at     TEXT NOT NULL DEFAULT (datetime('now')),
			resolved_at    TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_disputes_sprint ON disputes(sprint_id, status)`,
	}
}

// isUniqueViolation reports whether err is a sqlite unique/PK constraint hit.
func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// ─── Time Helpers ───────────────────────────────────────────────────────────

func fmtTime(t time.Time) string { return t.UTC().Format(time.RFC3339Nano) }

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		// Rows created by sqlite defaults use datetime('now') format.
		t, _ = time.Parse("2006-01-02 15:04:05", s)
	}
	return t
}

func parseTimePtr(ns sql.NullString) *time.Time {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	t := parseTime(ns.String)
	return &t
}
