package sqlite

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/agoralabs/agora/internal/domain"
)

// ─── Stake Repository ───────────────────────────────────────────────────────

// InsertStakePosition records a new collateral deposit.
func (d *DB) InsertStakePosition(p domain.StakePosition) error {
	_, err := d.db.Exec(
		`INSERT INTO stake_positions (id, agent_id, amount, currency, locked_at, unlockable_at, status)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.AgentID, money(p.Amount), p.Currency,
		p.LockedAt.Unix(), p.UnlockableAt.Unix(), string(p.Status),
	)
	return err
}

// GetStakePosition retrieves a position with its slash history.
func (d *DB) GetStakePosition(id string) (*domain.StakePosition, error) {
	row := d.db.QueryRow(stakeColumns+` WHERE id = ?`, id)
	p, err := scanStake(row)
	if err != nil || p == nil {
		return p, err
	}
	if err := d.loadSlashHistory(p); err != nil {
		return nil, err
	}
	return p, nil
}

// ActiveStakePositions returns an agent's ACTIVE positions, oldest
// first — slashing consumes positions in this order.
func (d *DB) ActiveStakePositions(agentID string) ([]domain.StakePosition, error) {
	rows, err := d.db.Query(
		stakeColumns+` WHERE agent_id = ? AND status = ? ORDER BY locked_at, id`,
		agentID, string(domain.StakeActive))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.StakePosition
	for rows.Next() {
		p, err := scanStake(rows)
		if err != nil {
			return nil, err
		}
		if err := d.loadSlashHistory(p); err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

// UpdateStakePosition rewrites a position's amount and status after a
// withdrawal or slash.
func (d *DB) UpdateStakePosition(id, amount string, status domain.StakeStatus) error {
	_, err := d.db.Exec(
		`UPDATE stake_positions SET amount = ?, status = ? WHERE id = ?`,
		amount, string(status), id)
	return err
}

// AppendSlash adds one slash event to a position's history. History is
// append-only; prior entries are never rewritten.
func (d *DB) AppendSlash(positionID string, ev domain.SlashEvent) error {
	_, err := d.db.Exec(
		`INSERT INTO stake_slashes (position_id, at, amount, reason, task_id)
		 VALUES (?, ?, ?, ?, ?)`,
		positionID, ev.At.Unix(), money(ev.Amount), ev.Reason, ev.TaskID,
	)
	return err
}

// SlashCountByAgent counts slash events across an agent's positions
// since the cutoff.
func (d *DB) SlashCountByAgent(agentID string, since time.Time) (int, error) {
	var n int
	err := d.db.QueryRow(
		`SELECT COUNT(*) FROM stake_slashes s
		 JOIN stake_positions p ON p.id = s.position_id
		 WHERE p.agent_id = ? AND s.at >= ?`,
		agentID, sinceUnix(since)).Scan(&n)
	return n, err
}

func (d *DB) loadSlashHistory(p *domain.StakePosition) error {
	rows, err := d.db.Query(
		`SELECT at, amount, reason, task_id FROM stake_slashes
		 WHERE position_id = ? ORDER BY id`, p.ID)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var ev domain.SlashEvent
		var at int64
		var amount string
		if err := rows.Scan(&at, &amount, &ev.Reason, &ev.TaskID); err != nil {
			return err
		}
		ev.At = time.Unix(at, 0)
		if ev.Amount, err = parseMoney(amount); err != nil {
			return err
		}
		p.SlashHistory = append(p.SlashHistory, ev)
	}
	return rows.Err()
}

const stakeColumns = `SELECT id, agent_id, amount, currency, locked_at, unlockable_at, status
	FROM stake_positions`

func scanStake(s scanner) (*domain.StakePosition, error) {
	var p domain.StakePosition
	var amount string
	var locked, unlockable int64

	err := s.Scan(&p.ID, &p.AgentID, &amount, &p.Currency, &locked, &unlockable, &p.Status)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan stake position: %w", err)
	}

	if p.Amount, err = parseMoney(amount); err != nil {
		return nil, fmt.Errorf("position %s amount: %w", p.ID, err)
	}
	p.LockedAt = time.Unix(locked, 0)
	p.UnlockableAt = time.Unix(unlockable, 0)
	return &p, nil
}

// ─── Attestation Repository ─────────────────────────────────────────────────

// InsertAttestation records a third-party endorsement.
func (d *DB) InsertAttestation(a domain.Attestation) error {
	_, err := d.db.Exec(
		`INSERT INTO attestations (id, agent_id, attestor_id, category, score, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.AgentID, a.AttestorID, a.Category, a.Score,
		a.CreatedAt.Unix(), nullableUnix(a.UpdatedAt),
	)
	return err
}

// GetAttestation retrieves an attestation by ID.
func (d *DB) GetAttestation(id string) (*domain.Attestation, error) {
	row := d.db.QueryRow(
		`SELECT id, agent_id, attestor_id, category, score, created_at, updated_at
		 FROM attestations WHERE id = ?`, id)
	return scanAttestation(row)
}

// UpdateAttestation rewrites score and category inside the grace window.
func (d *DB) UpdateAttestation(id string, category string, score int, at time.Time) error {
	_, err := d.db.Exec(
		`UPDATE attestations SET category = ?, score = ?, updated_at = ? WHERE id = ?`,
		category, score, at.Unix(), id)
	return err
}

// DeleteAttestation removes an attestation.
func (d *DB) DeleteAttestation(id string) error {
	_, err := d.db.Exec(`DELETE FROM attestations WHERE id = ?`, id)
	return err
}

// AttestationsForAgent returns all attestations of an agent.
func (d *DB) AttestationsForAgent(agentID string) ([]domain.Attestation, error) {
	rows, err := d.db.Query(
		`SELECT id, agent_id, attestor_id, category, score, created_at, updated_at
		 FROM attestations WHERE agent_id = ? ORDER BY created_at`, agentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Attestation
	for rows.Next() {
		a, err := scanAttestation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *a)
	}
	return out, rows.Err()
}

func scanAttestation(s scanner) (*domain.Attestation, error) {
	var a domain.Attestation
	var created int64
	var updated sql.NullInt64

	err := s.Scan(&a.ID, &a.AgentID, &a.AttestorID, &a.Category, &a.Score, &created, &updated)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan attestation: %w", err)
	}
	a.CreatedAt = time.Unix(created, 0)
	a.UpdatedAt = unixOrZero(updated)
	return &a, nil
}

// ─── Compliance Events ──────────────────────────────────────────────────────

// InsertComplianceEvent records a policy denial or failed execution.
func (d *DB) InsertComplianceEvent(ev domain.ComplianceEvent) error {
	_, err := d.db.Exec(
		`INSERT INTO compliance_events (id, agent_id, kind, task_id, at)
		 VALUES (?, ?, ?, ?, ?)`,
		ev.ID, ev.AgentID, string(ev.Kind), ev.TaskID, ev.At.Unix(),
	)
	return err
}

// ComplianceEventCount counts an agent's events of one kind since the cutoff.
func (d *DB) ComplianceEventCount(agentID string, kind domain.ComplianceKind, since time.Time) (int, error) {
	var n int
	err := d.db.QueryRow(
		`SELECT COUNT(*) FROM compliance_events WHERE agent_id = ? AND kind = ? AND at >= ?`,
		agentID, string(kind), sinceUnix(since)).Scan(&n)
	return n, err
}

// ─── Reputation Scores ──────────────────────────────────────────────────────

// UpsertReputationScore stores the freshly derived score for (agent, period).
func (d *DB) UpsertReputationScore(sc domain.ReputationScore) error {
	_, err := d.db.Exec(
		`INSERT INTO reputation_scores (agent_id, period, overall, performance, compliance,
			stake, verification, reliability, speed, cost_efficiency, communication, computed_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(agent_id, period) DO UPDATE SET
			overall=excluded.overall,
			performance=excluded.performance,
			compliance=excluded.compliance,
			stake=excluded.stake,
			verification=excluded.verification,
			reliability=excluded.reliability,
			speed=excluded.speed,
			cost_efficiency=excluded.cost_efficiency,
			communication=excluded.communication,
			computed_at=excluded.computed_at`,
		sc.AgentID, string(sc.Period), sc.Overall, sc.Performance, sc.Compliance,
		sc.Stake, sc.Verification, sc.Dimensions.Reliability, sc.Dimensions.Speed,
		sc.Dimensions.CostEfficiency, sc.Dimensions.Communication, sc.ComputedAt.Unix(),
	)
	return err
}

// GetReputationScore retrieves the stored score for (agent, period).
func (d *DB) GetReputationScore(agentID string, period domain.Period) (*domain.ReputationScore, error) {
	row := d.db.QueryRow(scoreColumns+` WHERE agent_id = ? AND period = ?`,
		agentID, string(period))
	return scanScore(row)
}

// Leaderboard returns the top agents by overall score for a period.
func (d *DB) Leaderboard(period domain.Period, limit int) ([]domain.ReputationScore, error) {
	rows, err := d.db.Query(
		scoreColumns+` WHERE period = ? ORDER BY overall DESC, agent_id LIMIT ?`,
		string(period), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.ReputationScore
	for rows.Next() {
		sc, err := scanScore(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *sc)
	}
	return out, rows.Err()
}

const scoreColumns = `SELECT agent_id, period, overall, performance, compliance, stake,
	verification, reliability, speed, cost_efficiency, communication, computed_at
	FROM reputation_scores`

func scanScore(s scanner) (*domain.ReputationScore, error) {
	var sc domain.ReputationScore
	var computed int64

	err := s.Scan(&sc.AgentID, &sc.Period, &sc.Overall, &sc.Performance, &sc.Compliance,
		&sc.Stake, &sc.Verification, &sc.Dimensions.Reliability, &sc.Dimensions.Speed,
		&sc.Dimensions.CostEfficiency, &sc.Dimensions.Communication, &computed)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan reputation score: %w", err)
	}
	sc.ComputedAt = time.Unix(computed, 0)
	return &sc, nil
}
