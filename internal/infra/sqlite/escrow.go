package sqlite

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/agoralabs/agora/internal/domain"
)

// ─── Escrow Repository ──────────────────────────────────────────────────────

// InsertEscrow creates the one escrow account for an assignment.
// The UNIQUE(assignment_id) constraint makes creation one-time.
func (d *DB) InsertEscrow(e domain.EscrowAccount) error {
	_, err := d.db.Exec(
		`INSERT INTO escrow_accounts (id, assignment_id, amount, currency, status, held_at, closed_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.AssignmentID, money(e.Amount), e.Currency, string(e.Status),
		e.HeldAt.Unix(), nullableUnix(e.ClosedAt),
	)
	if err != nil && strings.Contains(err.Error(), "UNIQUE") {
		return domain.ErrAlreadyExists
	}
	return err
}

// GetEscrow retrieves an escrow account by ID.
func (d *DB) GetEscrow(id string) (*domain.EscrowAccount, error) {
	row := d.db.QueryRow(escrowColumns+` WHERE id = ?`, id)
	return scanEscrow(row)
}

// GetEscrowByAssignment retrieves the escrow for an assignment, if any.
func (d *DB) GetEscrowByAssignment(assignmentID string) (*domain.EscrowAccount, error) {
	row := d.db.QueryRow(escrowColumns+` WHERE assignment_id = ?`, assignmentID)
	return scanEscrow(row)
}

// CloseEscrow atomically moves a HELD escrow to a terminal status,
// optionally rewriting the amount (slash). Returns false if the escrow
// was not HELD — terminal states are immutable.
func (d *DB) CloseEscrow(id string, to domain.EscrowStatus, newAmount string, at time.Time) (bool, error) {
	var result sql.Result
	var err error
	if newAmount == "" {
		result, err = d.db.Exec(
			`UPDATE escrow_accounts SET status = ?, closed_at = ?
			 WHERE id = ? AND status = ?`,
			string(to), at.Unix(), id, string(domain.EscrowHeld))
	} else {
		result, err = d.db.Exec(
			`UPDATE escrow_accounts SET status = ?, amount = ?, closed_at = ?
			 WHERE id = ? AND status = ?`,
			string(to), newAmount, at.Unix(), id, string(domain.EscrowHeld))
	}
	if err != nil {
		return false, err
	}
	n, err := result.RowsAffected()
	return n > 0, err
}

// EscrowsByParty lists escrow accounts whose assignment involves the
// given buyer or agent.
func (d *DB) EscrowsByParty(party domain.Party, id string) ([]domain.EscrowAccount, error) {
	var query string
	switch party {
	case domain.PartyAgent:
		query = escrowColumns + ` WHERE assignment_id IN
			(SELECT id FROM assignments WHERE agent_id = ?) ORDER BY held_at DESC`
	default:
		query = escrowColumns + ` WHERE assignment_id IN
			(SELECT a.id FROM assignments a JOIN tasks t ON t.id = a.task_id
			 WHERE t.buyer_id = ?) ORDER BY held_at DESC`
	}
	rows, err := d.db.Query(query, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.EscrowAccount
	for rows.Next() {
		e, err := scanEscrow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *e)
	}
	return out, rows.Err()
}

const escrowColumns = `SELECT id, assignment_id, amount, currency, status, held_at, closed_at
	FROM escrow_accounts`

func scanEscrow(s scanner) (*domain.EscrowAccount, error) {
	var e domain.EscrowAccount
	var amount string
	var held int64
	var closed sql.NullInt64

	err := s.Scan(&e.ID, &e.AssignmentID, &amount, &e.Currency, &e.Status, &held, &closed)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan escrow: %w", err)
	}

	if e.Amount, err = parseMoney(amount); err != nil {
		return nil, fmt.Errorf("escrow %s amount: %w", e.ID, err)
	}
	e.HeldAt = time.Unix(held, 0)
	e.ClosedAt = unixOrZero(closed)
	return &e, nil
}

// ─── Payment Repository ─────────────────────────────────────────────────────

// InsertPayment records the money movement from a release or refund.
func (d *DB) InsertPayment(p domain.Payment) error {
	_, err := d.db.Exec(
		`INSERT INTO payments (id, escrow_id, payee, gross, fee, net, currency,
			created_at, settled_at, settlement_ref)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.EscrowID, p.Payee, money(p.Gross), money(p.Fee), money(p.Net),
		p.Currency, p.CreatedAt.Unix(), nullableUnix(p.SettledAt), nullStr(p.SettlementRef),
	)
	return err
}

// UnsettledPayments returns payments not yet executed by the rail,
// oldest first, bounded so a settlement batch works a finite range.
func (d *DB) UnsettledPayments(limit int) ([]domain.Payment, error) {
	rows, err := d.db.Query(
		paymentColumns+` WHERE settled_at IS NULL ORDER BY created_at, id LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

// MarkPaymentSettled records a successful rail transfer.
func (d *DB) MarkPaymentSettled(id, ref string, at time.Time) error {
	_, err := d.db.Exec(
		`UPDATE payments SET settled_at = ?, settlement_ref = ? WHERE id = ? AND settled_at IS NULL`,
		at.Unix(), ref, id)
	return err
}

// PaymentsByPayee lists payments to a party, newest first.
func (d *DB) PaymentsByPayee(payee string, limit int) ([]domain.Payment, error) {
	rows, err := d.db.Query(
		paymentColumns+` WHERE payee = ? ORDER BY created_at DESC LIMIT ?`, payee, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

const paymentColumns = `SELECT id, escrow_id, payee, gross, fee, net, currency,
	created_at, settled_at, settlement_ref FROM payments`

func scanPayment(s scanner) (*domain.Payment, error) {
	var p domain.Payment
	var gross, fee, net string
	var created int64
	var settled sql.NullInt64
	var ref sql.NullString

	err := s.Scan(&p.ID, &p.EscrowID, &p.Payee, &gross, &fee, &net, &p.Currency,
		&created, &settled, &ref)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan payment: %w", err)
	}

	if p.Gross, err = parseMoney(gross); err != nil {
		return nil, err
	}
	if p.Fee, err = parseMoney(fee); err != nil {
		return nil, err
	}
	if p.Net, err = parseMoney(net); err != nil {
		return nil, err
	}
	p.CreatedAt = time.Unix(created, 0)
	p.SettledAt = unixOrZero(settled)
	p.SettlementRef = strOrEmpty(ref)
	return &p, nil
}

// ─── Dispute Repository ─────────────────────────────────────────────────────

// InsertDispute records a newly raised dispute.
func (d *DB) InsertDispute(dp domain.Dispute) error {
	_, err := d.db.Exec(
		`INSERT INTO disputes (id, assignment_id, reason, raised_by, status, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		dp.ID, dp.AssignmentID, dp.Reason, string(dp.RaisedBy),
		string(dp.Status), dp.CreatedAt.Unix(),
	)
	return err
}

// GetDispute retrieves a dispute with its evidence bundle.
func (d *DB) GetDispute(id string) (*domain.Dispute, error) {
	row := d.db.QueryRow(disputeColumns+` WHERE id = ?`, id)
	dp, err := scanDispute(row)
	if err != nil || dp == nil {
		return dp, err
	}
	if err := d.loadEvidence(dp); err != nil {
		return nil, err
	}
	return dp, nil
}

// UnresolvedDisputeForAssignment returns the open/investigating dispute
// on an assignment, if one exists. This is the procedural escrow freeze
// check.
func (d *DB) UnresolvedDisputeForAssignment(assignmentID string) (*domain.Dispute, error) {
	row := d.db.QueryRow(
		disputeColumns+` WHERE assignment_id = ? AND status != ? LIMIT 1`,
		assignmentID, string(domain.DisputeResolved))
	return scanDispute(row)
}

// UpdateDisputeStatus moves a dispute between non-terminal statuses.
func (d *DB) UpdateDisputeStatus(id string, status domain.DisputeStatus) error {
	_, err := d.db.Exec(`UPDATE disputes SET status = ? WHERE id = ?`, string(status), id)
	return err
}

// ResolveDispute atomically records the resolution. Returns false if
// the dispute was already resolved.
func (d *DB) ResolveDispute(id string, decision domain.Decision, resolution, refund, payout string, at time.Time) (bool, error) {
	result, err := d.db.Exec(
		`UPDATE disputes SET status = ?, decision = ?, resolution = ?,
			refund_amount = ?, payout_amount = ?, resolved_at = ?
		 WHERE id = ? AND status != ?`,
		string(domain.DisputeResolved), string(decision), resolution,
		nullStr(refund), nullStr(payout), at.Unix(),
		id, string(domain.DisputeResolved))
	if err != nil {
		return false, err
	}
	n, err := result.RowsAffected()
	return n > 0, err
}

// InsertEvidence appends one evidence item to a dispute.
func (d *DB) InsertEvidence(disputeID string, ev domain.Evidence) error {
	_, err := d.db.Exec(
		`INSERT INTO dispute_evidence (dispute_id, party, description, uri, submitted_at)
		 VALUES (?, ?, ?, ?, ?)`,
		disputeID, string(ev.Party), ev.Description, ev.URI, ev.SubmittedAt.Unix(),
	)
	return err
}

// DisputesByAgent returns disputes on an agent's assignments created
// since the cutoff.
func (d *DB) DisputesByAgent(agentID string, since time.Time) ([]domain.Dispute, error) {
	rows, err := d.db.Query(
		disputeColumns+` WHERE assignment_id IN
			(SELECT id FROM assignments WHERE agent_id = ?)
		 AND created_at >= ? ORDER BY created_at`,
		agentID, sinceUnix(since))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Dispute
	for rows.Next() {
		dp, err := scanDispute(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *dp)
	}
	return out, rows.Err()
}

// ResolvedDisputesAgainstAgent counts resolved disputes that went
// against the agent (decision buyer or split), raised on tasks from the
// given organization. Feeds the organizational blacklist check.
func (d *DB) ResolvedDisputesAgainstAgent(agentID, buyerOrg string) (int, error) {
	var n int
	err := d.db.QueryRow(
		`SELECT COUNT(*) FROM disputes dp
		 JOIN assignments a ON a.id = dp.assignment_id
		 JOIN tasks t ON t.id = a.task_id
		 WHERE a.agent_id = ? AND t.buyer_org = ?
		   AND dp.status = ? AND dp.decision != ?`,
		agentID, buyerOrg, string(domain.DisputeResolved), string(domain.DecisionAgent),
	).Scan(&n)
	return n, err
}

func (d *DB) loadEvidence(dp *domain.Dispute) error {
	rows, err := d.db.Query(
		`SELECT party, description, uri, submitted_at
		 FROM dispute_evidence WHERE dispute_id = ? ORDER BY id`, dp.ID)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var ev domain.Evidence
		var submitted int64
		if err := rows.Scan(&ev.Party, &ev.Description, &ev.URI, &submitted); err != nil {
			return err
		}
		ev.SubmittedAt = time.Unix(submitted, 0)
		dp.Evidence = append(dp.Evidence, ev)
	}
	return rows.Err()
}

const disputeColumns = `SELECT id, assignment_id, reason, raised_by, status, created_at,
	decision, resolution, refund_amount, payout_amount, resolved_at FROM disputes`

func scanDispute(s scanner) (*domain.Dispute, error) {
	var dp domain.Dispute
	var created int64
	var decision, resolution, refund, payout sql.NullString
	var resolved sql.NullInt64

	err := s.Scan(&dp.ID, &dp.AssignmentID, &dp.Reason, &dp.RaisedBy, &dp.Status,
		&created, &decision, &resolution, &refund, &payout, &resolved)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan dispute: %w", err)
	}

	dp.CreatedAt = time.Unix(created, 0)
	dp.Decision = domain.Decision(strOrEmpty(decision))
	dp.Resolution = strOrEmpty(resolution)
	if dp.RefundAmount, err = parseMoneyNull(refund); err != nil {
		return nil, err
	}
	if dp.PayoutAmount, err = parseMoneyNull(payout); err != nil {
		return nil, err
	}
	dp.ResolvedAt = unixOrZero(resolved)
	return &dp, nil
}
