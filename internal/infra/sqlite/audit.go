package sqlite

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/agoralabs/agora/internal/domain"
)

// ─── Audit Chain ────────────────────────────────────────────────────────────

// InsertAuditEvent appends one event. Callers must serialize: the event
// carries Seq and PrevHash computed from the current chain head, so an
// unserialized concurrent insert would fork the chain. The audit.Log
// wrapper holds the mutex.
func (d *DB) InsertAuditEvent(ev domain.AuditEvent) error {
	_, err := d.db.Exec(
		`INSERT INTO audit_events (seq, type, agent_id, user_id, task_id, payload, prev_hash, hash, ts)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ev.Seq, string(ev.Type), ev.AgentID, ev.UserID, ev.TaskID,
		string(ev.Payload), ev.PrevHash, ev.Hash, ev.Timestamp.Unix(),
	)
	return err
}

// LastAuditEvent returns the chain head (nil on an empty chain).
func (d *DB) LastAuditEvent() (*domain.AuditEvent, error) {
	row := d.db.QueryRow(auditColumns + ` ORDER BY seq DESC LIMIT 1`)
	return scanAuditEvent(row)
}

// GetAuditEvent retrieves one event by sequence number.
func (d *DB) GetAuditEvent(seq uint64) (*domain.AuditEvent, error) {
	row := d.db.QueryRow(auditColumns+` WHERE seq = ?`, seq)
	return scanAuditEvent(row)
}

// AuditEventRange returns events with fromSeq ≤ seq ≤ toSeq, in order.
func (d *DB) AuditEventRange(fromSeq, toSeq uint64) ([]domain.AuditEvent, error) {
	rows, err := d.db.Query(
		auditColumns+` WHERE seq >= ? AND seq <= ? ORDER BY seq`, fromSeq, toSeq)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.AuditEvent
	for rows.Next() {
		ev, err := scanAuditEvent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *ev)
	}
	return out, rows.Err()
}

const auditColumns = `SELECT seq, type, agent_id, user_id, task_id, payload, prev_hash, hash, ts
	FROM audit_events`

func scanAuditEvent(s scanner) (*domain.AuditEvent, error) {
	var ev domain.AuditEvent
	var payload string
	var ts int64

	err := s.Scan(&ev.Seq, &ev.Type, &ev.AgentID, &ev.UserID, &ev.TaskID,
		&payload, &ev.PrevHash, &ev.Hash, &ts)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan audit event: %w", err)
	}
	if payload != "" {
		ev.Payload = json.RawMessage(payload)
	}
	ev.Timestamp = time.Unix(ts, 0)
	return &ev, nil
}

// ─── Merkle Anchors ─────────────────────────────────────────────────────────

// InsertAnchor persists a Merkle anchor record.
func (d *DB) InsertAnchor(a domain.MerkleAnchor) error {
	_, err := d.db.Exec(
		`INSERT INTO merkle_anchors (id, from_seq, to_seq, root, external_ref, anchored_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		a.ID, a.FromSeq, a.ToSeq, a.Root, a.ExternalRef, a.AnchoredAt.Unix(),
	)
	return err
}

// LastAnchor returns the most recent anchor (nil if none exist).
// Anchor ranges are contiguous, so the next batch starts at ToSeq+1.
func (d *DB) LastAnchor() (*domain.MerkleAnchor, error) {
	row := d.db.QueryRow(anchorColumns + ` ORDER BY to_seq DESC LIMIT 1`)
	return scanAnchor(row)
}

// AnchorCovering returns the anchor whose range includes seq, if any.
func (d *DB) AnchorCovering(seq uint64) (*domain.MerkleAnchor, error) {
	row := d.db.QueryRow(anchorColumns+` WHERE from_seq <= ? AND to_seq >= ?`, seq, seq)
	return scanAnchor(row)
}

const anchorColumns = `SELECT id, from_seq, to_seq, root, external_ref, anchored_at
	FROM merkle_anchors`

func scanAnchor(s scanner) (*domain.MerkleAnchor, error) {
	var a domain.MerkleAnchor
	var anchored int64

	err := s.Scan(&a.ID, &a.FromSeq, &a.ToSeq, &a.Root, &a.ExternalRef, &anchored)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan anchor: %w", err)
	}
	a.AnchoredAt = time.Unix(anchored, 0)
	return &a, nil
}
