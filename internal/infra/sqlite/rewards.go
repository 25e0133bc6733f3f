package sqlite

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/guildhall-dao/guildhall/internal/domain"
)

// ─── Contributor Balances ───────────────────────────────────────────────────

// GetBalance fetches a contributor's spendable point balance.
func (d *DB) GetBalance(contributorID string) (*domain.ContributorBalance, error) {
	var (
		b         domain.ContributorBalance
		updatedAt string
	)
	err := d.db.QueryRow(`
		SELECT contributor_id, claimable_points, updated_at
		FROM contributor_balances WHERE contributor_id = ?
	`, contributorID).Scan(&b.ContributorID, &b.ClaimablePoints, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrBalanceNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get balance: %w", err)
	}
	b.UpdatedAt = parseTime(updatedAt)
	return &b, nil
}

// AddPoints unconditionally accrues points, creating the row if absent.
// Used by task-completion credit and administrative grants, which do not
// contend with claim deduction semantics.
func (d *DB) AddPoints(contributorID string, delta int64) error {
	_, err := d.db.Exec(`
		INSERT INTO contributor_balances (contributor_id, claimable_points, updated_at)
		VALUES (?, ?, datetime('now'))
		ON CONFLICT(contributor_id) DO UPDATE SET
			claimable_points = claimable_points + excluded.claimable_points,
			updated_at = datetime('now')
	`, contributorID, delta)
	if err != nil {
		return fmt.Errorf("add points: %w", err)
	}
	return nil
}

// CompareAndSetPoints sets the balance to next only if it still equals
// expect. The failed condition is the claims ledger's conflict signal —
// it is surfaced, never retried here, so a genuine double-submission is
// visible to the caller.
func (d *DB) CompareAndSetPoints(contributorID string, expect, next int64) error {
	res, err := d.db.Exec(`
		UPDATE contributor_balances
		SET claimable_points = ?, updated_at = datetime('now')
		WHERE contributor_id = ? AND claimable_points = ?
	`, next, contributorID, expect)
	if err != nil {
		return fmt.Errorf("compare-and-set points: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		if _, err := d.GetBalance(contributorID); err != nil {
			return err
		}
		return domain.ErrBalanceConflict
	}
	return nil
}

// ─── Reward Claims ──────────────────────────────────────────────────────────

// InsertClaim persists a newly submitted claim.
func (d *DB) InsertClaim(c *domain.RewardClaim) error {
	_, err := d.db.Exec(`
		INSERT INTO reward_claims (id, contributor_id, points_amount, token_amount,
			conversion_rate, status, wallet_address, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, c.ID, c.ContributorID, c.PointsAmount, c.TokenAmount, c.ConversionRate,
		string(c.Status), c.WalletAddress, fmtTime(c.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert claim: %w", err)
	}
	return nil
}

const claimColumns = `id, contributor_id, points_amount, token_amount, conversion_rate,
	status, wallet_address, reviewed_by, review_note, paid_tx_ref, created_at, reviewed_at, paid_at`

// GetClaim fetches one claim by id.
func (d *DB) GetClaim(id string) (*domain.RewardClaim, error) {
	row := d.db.QueryRow(`SELECT `+claimColumns+` FROM reward_claims WHERE id = ?`, id)
	c, err := scanClaim(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrClaimNotFound
	}
	return c, err
}

// ListClaims returns a contributor's claims, newest first.
func (d *DB) ListClaims(contributorID string) ([]domain.RewardClaim, error) {
	rows, err := d.db.Query(`
		SELECT `+claimColumns+` FROM reward_claims
		WHERE contributor_id = ? ORDER BY created_at DESC
	`, contributorID)
	if err != nil {
		return nil, fmt.Errorf("list claims: %w", err)
	}
	defer rows.Close()

	var out []domain.RewardClaim
	for rows.Next() {
		c, err := scanClaim(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

// SetClaimStatus moves a claim between review states, conditioned on the
// persisted status still being from.
func (d *DB) SetClaimStatus(id string, from, to domain.ClaimStatus, reviewer, note string, now time.Time) error {
	res, err := d.db.Exec(`
		UPDATE reward_claims
		SET status = ?, reviewed_by = ?, review_note = ?, reviewed_at = ?
		WHERE id = ? AND status = ?
	`, string(to), reviewer, note, fmtTime(now), id, string(from))
	if err != nil {
		return fmt.Errorf("set claim status: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		if _, err := d.GetClaim(id); err != nil {
			return err
		}
		return domain.ErrClaimNotPending
	}
	return nil
}

// MarkClaimPaid records payment, conditioned on the claim being approved.
func (d *DB) MarkClaimPaid(id, txRef string, now time.Time) error {
	res, err := d.db.Exec(`
		UPDATE reward_claims
		SET status = ?, paid_tx_ref = ?, paid_at = ?
		WHERE id = ? AND status = ?
	`, string(domain.ClaimPaid), txRef, fmtTime(now), id, string(domain.ClaimApproved))
	if err != nil {
		return fmt.Errorf("mark claim paid: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		if _, err := d.GetClaim(id); err != nil {
			return err
		}
		return domain.ErrClaimNotApproved
	}
	return nil
}

func scanClaim(row rowScanner) (*domain.RewardClaim, error) {
	var (
		c          domain.RewardClaim
		status     string
		createdAt  string
		reviewedAt sql.NullString
		paidAt     sql.NullString
	)
	err := row.Scan(&c.ID, &c.ContributorID, &c.PointsAmount, &c.TokenAmount,
		&c.ConversionRate, &status, &c.WalletAddress, &c.ReviewedBy,
		&c.ReviewNote, &c.PaidTxRef, &createdAt, &reviewedAt, &paidAt)
	if err != nil {
		return nil, err
	}
	c.Status = domain.ClaimStatus(status)
	c.CreatedAt = parseTime(createdAt)
	c.ReviewedAt = parseTimePtr(reviewedAt)
	c.PaidAt = parseTimePtr(paidAt)
	return &c, nil
}

// ─── Distribution Ledger ────────────────────────────────────────────────────

// AppendDistribution appends one row to the audit ledger. There is no
// update or delete counterpart on purpose.
func (d *DB) AppendDistribution(dist *domain.RewardDistribution) error {
	res, err := d.db.Exec(`
		INSERT INTO reward_distributions (kind, sprint_id, claim_id, contributor_id, token_amount, memo, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, string(dist.Kind), dist.SprintID, dist.ClaimID, dist.ContributorID,
		dist.TokenAmount, dist.Memo, fmtTime(dist.CreatedAt))
	if err != nil {
		return fmt.Errorf("append distribution: %w", err)
	}
	dist.ID, _ = res.LastInsertId()
	return nil
}

// ListDistributions returns a sprint's ledger rows in insertion order.
func (d *DB) ListDistributions(sprintID string) ([]domain.RewardDistribution, error) {
	rows, err := d.db.Query(`
		SELECT id, kind, sprint_id, claim_id, contributor_id, token_amount, memo, created_at
		FROM reward_distributions WHERE sprint_id = ? ORDER BY id
	`, sprintID)
	if err != nil {
		return nil, fmt.Errorf("list distributions: %w", err)
	}
	defer rows.Close()

	var out []domain.RewardDistribution
	for rows.Next() {
		var (
			dist      domain.RewardDistribution
			kind      string
			createdAt string
		)
		if err := rows.Scan(&dist.ID, &kind, &dist.SprintID, &dist.ClaimID,
			&dist.ContributorID, &dist.TokenAmount, &dist.Memo, &createdAt); err != nil {
			return nil, err
		}
		dist.Kind = domain.DistributionKind(kind)
		dist.CreatedAt = parseTime(createdAt)
		out = append(out, dist)
	}
	return out, rows.Err()
}

// ─── Disputes ───────────────────────────────────────────────────────────────
// Adjudication is external; the engine only files, resolves, and counts.

// FileDispute records an open dispute against a sprint's submission.
func (d *DB) FileDispute(sprintID, submissionRef string) (int64, error) {
	res, err := d.db.Exec(`
		INSERT INTO disputes (sprint_id, submission_ref, status) VALUES (?, ?, 'open')
	`, sprintID, submissionRef)
	if err != nil {
		return 0, fmt.Errorf("file dispute: %w", err)
	}
	id, _ := res.LastInsertId()
	return id, nil
}

// ResolveDispute closes a dispute.
func (d *DB) ResolveDispute(id int64) error {
	_, err := d.db.Exec(`
		UPDATE disputes SET status = 'resolved', resolved_at = datetime('now') WHERE id = ?
	`, id)
	if err != nil {
		return fmt.Errorf("resolve dispute: %w", err)
	}
	return nil
}

// OpenDisputeCount returns the settlement blocker signal for a sprint.
func (d *DB) OpenDisputeCount(sprintID string) (int, error) {
	var n int
	err := d.db.QueryRow(`
		SELECT COUNT(*) FROM disputes WHERE sprint_id = ? AND status = 'open'
	`, sprintID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count open disputes: %w", err)
	}
	return n, nil
}
