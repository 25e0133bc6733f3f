package sqlite

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/guildhall-dao/guildhall/internal/domain"
)

// ─── Sprint Operations ──────────────────────────────────────────────────────

// CreateSprint inserts a new sprint in the planning phase.
func (d *DB) CreateSprint(s *domain.Sprint) error {
	if s.Phase == "" {
		s.Phase = domain.PhasePlanning
	}
	if s.SettlementStatus == "" {
		s.SettlementStatus = domain.SettlementPending
	}
	_, err := d.db.Exec(`
		INSERT INTO sprints (id, name, phase, start_at, end_at, capacity, settlement_status)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, s.ID, s.Name, string(s.Phase), fmtTime(s.StartAt), fmtTime(s.EndAt), s.Capacity, string(s.SettlementStatus))
	if err != nil {
		return fmt.Errorf("insert sprint: %w", err)
	}
	return nil
}

const sprintColumns = `id, name, phase, start_at, end_at, capacity,
	active_started_at, review_started_at, dispute_window_started_at,
	dispute_window_ends_at, settlement_started_at, completed_at,
	settlement_status, settlement_committed_at, settlement_kill_switch_at,
	settlement_blocked_reason, emission_cap, carryover_amount,
	carryover_sprint_count, settlement_key, integrity_flags, created_at, updated_at`

// GetSprint fetches one sprint by id.
func (d *DB) GetSprint(id string) (*domain.Sprint, error) {
	row := d.db.QueryRow(`SELECT `+sprintColumns+` FROM sprints WHERE id = ?`, id)
	s, err := scanSprint(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrSprintNotFound
	}
	return s, err
}

// ListSprints returns all sprints ordered by start time.
func (d *DB) ListSprints() ([]domain.Sprint, error) {
	rows, err := d.db.Query(`SELECT ` + sprintColumns + ` FROM sprints ORDER BY start_at`)
	if err != nil {
		return nil, fmt.Errorf("list sprints: %w", err)
	}
	defer rows.Close()

	var out []domain.Sprint
	for rows.Next() {
		s, err := scanSprint(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *s)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSprint(row rowScanner) (*domain.Sprint, error) {
	var (
		s           domain.Sprint
		phase       string
		startAt     string
		endAt       string
		status      string
		flagsJSON   string
		createdAt   string
		updatedAt   string
		activeAt    sql.NullString
		reviewAt    sql.NullString
		disputeAt   sql.NullString
		disputeEnds sql.NullString
		settleAt    sql.NullString
		completedAt sql.NullString
		committedAt sql.NullString
		killedAt    sql.NullString
	)
	err := row.Scan(&s.ID, &s.Name, &phase, &startAt, &endAt, &s.Capacity,
		&activeAt, &reviewAt, &disputeAt, &disputeEnds, &settleAt, &completedAt,
		&status, &committedAt, &killedAt, &s.SettlementBlockedReason,
		&s.EmissionCap, &s.CarryoverAmount, &s.CarryoverSprintCount,
		&s.SettlementKey, &flagsJSON, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}

	s.Phase = domain.SprintPhase(phase)
	s.StartAt = parseTime(startAt)
	s.EndAt = parseTime(endAt)
	s.SettlementStatus = domain.SettlementStatus(status)
	s.ActiveStartedAt = parseTimePtr(activeAt)
	s.ReviewStartedAt = parseTimePtr(reviewAt)
	s.DisputeWindowStartedAt = parseTimePtr(disputeAt)
	s.DisputeWindowEndsAt = parseTimePtr(disputeEnds)
	s.SettlementStartedAt = parseTimePtr(settleAt)
	s.CompletedAt = parseTimePtr(completedAt)
	s.SettlementCommittedAt = parseTimePtr(committedAt)
	s.SettlementKillSwitchAt = parseTimePtr(killedAt)
	s.CreatedAt = parseTime(createdAt)
	s.UpdatedAt = parseTime(updatedAt)
	if flagsJSON != "" && flagsJSON != "[]" {
		if err := json.Unmarshal([]byte(flagsJSON), &s.IntegrityFlags); err != nil {
			return nil, fmt.Errorf("decode integrity flags: %w", err)
		}
	}
	return &s, nil
}

// phaseStampColumn maps an entered phase to the timestamp column it stamps.
var phaseStampColumn = map[domain.SprintPhase]string{
	domain.PhaseActive:        "active_started_at",
	domain.PhaseReview:        "review_started_at",
	domain.PhaseDisputeWindow: "dispute_window_started_at",
	domain.PhaseSettlement:    "settlement_started_at",
	domain.PhaseCompleted:     "completed_at",
}

// TransitionPhase applies from → to conditioned on the persisted phase still
// being from. A stale from is rejected with ErrPhaseConflict, never
// force-applied. Self-transitions are a no-op at the storage layer.
func (d *DB) TransitionPhase(id string, from, to domain.SprintPhase, now time.Time, windowEnds *time.Time) error {
	if from == to {
		// Idempotent re-application; verify the sprint exists and matches.
		cur, err := d.GetSprint(id)
		if err != nil {
			return err
		}
		if cur.Phase != from {
			return domain.ErrPhaseConflict
		}
		return nil
	}

	query := `UPDATE sprints SET phase = ?, updated_at = ?`
	args := []any{string(to), fmtTime(now)}
	if col, ok := phaseStampColumn[to]; ok {
		query += `, ` + col + ` = ?`
		args = append(args, fmtTime(now))
	}
	if to == domain.PhaseDisputeWindow && windowEnds != nil {
		query += `, dispute_window_ends_at = ?`
		args = append(args, fmtTime(*windowEnds))
	}
	query += ` WHERE id = ? AND phase = ?`
	args = append(args, id, string(from))

	res, err := d.db.Exec(query, args...)
	if err != nil {
		return fmt.Errorf("transition phase: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		if _, err := d.GetSprint(id); err != nil {
			return err
		}
		return domain.ErrPhaseConflict
	}
	return nil
}

// ─── Settlement State ───────────────────────────────────────────────────────

// CommitSettlement marks the settlement committed with its emission figures,
// conditioned on the persisted status still being pending or held. The
// status column is the race arbiter: of two concurrent commit attempts
// exactly one flips it.
func (d *DB) CommitSettlement(id, key string, emissionCap, carryover float64, carryCount int, now time.Time) error {
	res, err := d.db.Exec(`
		UPDATE sprints
		SET settlement_status = ?, settlement_key = ?, emission_cap = ?,
		    carryover_amount = ?, carryover_sprint_count = ?,
		    settlement_committed_at = ?, settlement_blocked_reason = '',
		    updated_at = ?
		WHERE id = ? AND settlement_status IN (?, ?)
	`, string(domain.SettlementCommitted), key, emissionCap, carryover, carryCount,
		fmtTime(now), fmtTime(now), id,
		string(domain.SettlementPending), string(domain.SettlementHeld))
	if err != nil {
		return fmt.Errorf("commit settlement: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		if _, err := d.GetSprint(id); err != nil {
			return err
		}
		return domain.ErrSettlementConflict
	}
	return nil
}

// HoldSettlement records an integrity hold, conditioned on the settlement
// not having reached a terminal status.
func (d *DB) HoldSettlement(id, reason string, flags []string) error {
	flagsJSON, err := json.Marshal(flags)
	if err != nil {
		return fmt.Errorf("encode integrity flags: %w", err)
	}
	if flags == nil {
		flagsJSON = []byte("[]")
	}
	res, err := d.db.Exec(`
		UPDATE sprints
		SET settlement_status = ?, settlement_blocked_reason = ?, integrity_flags = ?,
		    updated_at = datetime('now')
		WHERE id = ? AND settlement_status IN (?, ?)
	`, string(domain.SettlementHeld), reason, string(flagsJSON), id,
		string(domain.SettlementPending), string(domain.SettlementHeld))
	if err != nil {
		return fmt.Errorf("hold settlement: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		if _, err := d.GetSprint(id); err != nil {
			return err
		}
		return domain.ErrSettlementConflict
	}
	return nil
}

// KillSettlement forces the killed status at any time before commit.
// A killed settlement can never later be committed.
func (d *DB) KillSettlement(id string, now time.Time) error {
	res, err := d.db.Exec(`
		UPDATE sprints
		SET settlement_status = ?, settlement_kill_switch_at = ?, updated_at = ?
		WHERE id = ? AND settlement_status IN (?, ?)
	`, string(domain.SettlementKilled), fmtTime(now), fmtTime(now), id,
		string(domain.SettlementPending), string(domain.SettlementHeld))
	if err != nil {
		return fmt.Errorf("kill settlement: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		cur, err := d.GetSprint(id)
		if err != nil {
			return err
		}
		if cur.SettlementStatus == domain.SettlementCommitted {
			return domain.ErrSettlementCommitted
		}
		return domain.ErrSettlementConflict
	}
	return nil
}

// ─── Snapshots ──────────────────────────────────────────────────────────────

// InsertSnapshot writes the completion snapshot and applies the
// incomplete-task disposition in one transaction. Partial application —
// snapshot without reassignment or the reverse — never becomes visible.
func (d *DB) InsertSnapshot(snap *domain.SprintSnapshot, incompleteIDs []string) error {
	tasksJSON, err := json.Marshal(snap.Tasks)
	if err != nil {
		return fmt.Errorf("encode task summaries: %w", err)
	}
	if snap.Tasks == nil {
		tasksJSON = []byte("[]")
	}

	tx, err := d.db.Begin()
	if err != nil {
		return fmt.Errorf("begin snapshot tx: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.Exec(`
		INSERT INTO sprint_snapshots (sprint_id, total_tasks, completed_tasks,
			incomplete_tasks, total_points, completed_points, completion_rate,
			tasks_json, disposition, target_sprint_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, snap.SprintID, snap.TotalTasks, snap.CompletedTasks, snap.IncompleteTasks,
		snap.TotalPoints, snap.CompletedPoints, snap.CompletionRate,
		string(tasksJSON), string(snap.Disposition), snap.TargetSprintID, fmtTime(snap.CreatedAt))
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrSnapshotExists
		}
		return fmt.Errorf("insert snapshot: %w", err)
	}

	// Disposition: clear the sprint association (backlog) or move the tasks
	// verbatim into the target sprint.
	newSprint := ""
	if snap.Disposition == domain.IncompleteToNextSprint {
		newSprint = snap.TargetSprintID
	}
	for _, taskID := range incompleteIDs {
		if _, err := tx.Exec(`
			UPDATE tasks SET sprint_id = ?, updated_at = datetime('now') WHERE id = ?
		`, newSprint, taskID); err != nil {
			return fmt.Errorf("reassign task %s: %w", taskID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit snapshot tx: %w", err)
	}
	return nil
}

// GetSnapshot fetches a sprint's completion snapshot.
func (d *DB) GetSnapshot(sprintID string) (*domain.SprintSnapshot, error) {
	var (
		snap        domain.SprintSnapshot
		tasksJSON   string
		disposition string
		createdAt   string
	)
	err := d.db.QueryRow(`
		SELECT sprint_id, total_tasks, completed_tasks, incomplete_tasks,
		       total_points, completed_points, completion_rate, tasks_json,
		       disposition, target_sprint_id, created_at
		FROM sprint_snapshots WHERE sprint_id = ?
	`, sprintID).Scan(&snap.SprintID, &snap.TotalTasks, &snap.CompletedTasks,
		&snap.IncompleteTasks, &snap.TotalPoints, &snap.CompletedPoints,
		&snap.CompletionRate, &tasksJSON, &disposition, &snap.TargetSprintID, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrSnapshotNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get snapshot: %w", err)
	}
	snap.Disposition = domain.IncompleteAction(disposition)
	snap.CreatedAt = parseTime(createdAt)
	if err := json.Unmarshal([]byte(tasksJSON), &snap.Tasks); err != nil {
		return nil, fmt.Errorf("decode task summaries: %w", err)
	}
	return &snap, nil
}
