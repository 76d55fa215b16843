// Package audit implements the tamper-evident event log: an append-only,
// hash-chained store with periodic Merkle-tree batching for independent
// verification. Every other core component emits here.
//
// The append path is the system's critical serialization point —
// sequence allocation and hash linking must happen as one unit, so the
// Log holds a mutex across read-head + write-next and the sqlite layer
// runs a single writer underneath.
package audit

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/agoralabs/agora/internal/domain"
	"github.com/agoralabs/agora/internal/infra/sqlite"
)

// Refs carries the optional entity references on an audit event.
type Refs struct {
	Agent string
	User  string
	Task  string
}

// Log is the hash-chained audit log.
type Log struct {
	mu  sync.Mutex
	db  *sqlite.DB
	now func() time.Time
}

// NewLog creates an audit log over the given database.
func NewLog(db *sqlite.DB) *Log {
	return &Log{db: db, now: time.Now}
}

// SetClock injects a clock for tests.
func (l *Log) SetClock(now func() time.Time) { l.now = now }

// Append records one event at the chain head. The payload is
// canonicalized (sorted object keys) before hashing so the hash is a
// pure function of content. Safe for concurrent callers.
func (l *Log) Append(eventType domain.EventType, refs Refs, payload any) (domain.AuditEvent, error) {
	canonical, err := canonicalJSON(payload)
	if err != nil {
		return domain.AuditEvent{}, fmt.Errorf("canonicalize payload: %w", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	head, err := l.db.LastAuditEvent()
	if err != nil {
		return domain.AuditEvent{}, fmt.Errorf("read chain head: %w", err)
	}

	ev := domain.AuditEvent{
		Seq:       1,
		Type:      eventType,
		AgentID:   refs.Agent,
		UserID:    refs.User,
		TaskID:    refs.Task,
		Payload:   canonical,
		Timestamp: l.now().Truncate(time.Second),
	}
	if head != nil {
		ev.Seq = head.Seq + 1
		ev.PrevHash = head.Hash
	}
	ev.Hash = hashEvent(ev)

	if err := l.db.InsertAuditEvent(ev); err != nil {
		return domain.AuditEvent{}, fmt.Errorf("append event %d: %w", ev.Seq, err)
	}
	return ev, nil
}

// Event returns one event by sequence number.
func (l *Log) Event(seq uint64) (*domain.AuditEvent, error) {
	ev, err := l.db.GetAuditEvent(seq)
	if err != nil {
		return nil, err
	}
	if ev == nil {
		return nil, domain.ErrEventNotFound
	}
	return ev, nil
}

// Head returns the current chain head (nil on an empty chain).
func (l *Log) Head() (*domain.AuditEvent, error) {
	return l.db.LastAuditEvent()
}

// VerifyChain recomputes every hash in [fromSeq, toSeq] and checks link
// continuity. It reports every bad sequence number instead of failing
// fast: Tampered lists content-hash mismatches, Broken lists events
// whose prev-hash does not match their predecessor.
func (l *Log) VerifyChain(fromSeq, toSeq uint64) (domain.ChainReport, error) {
	report := domain.ChainReport{FromSeq: fromSeq, ToSeq: toSeq}
	if fromSeq == 0 || toSeq < fromSeq {
		return report, fmt.Errorf("invalid range [%d, %d]", fromSeq, toSeq)
	}

	events, err := l.db.AuditEventRange(fromSeq, toSeq)
	if err != nil {
		return report, err
	}
	if uint64(len(events)) != toSeq-fromSeq+1 {
		return report, fmt.Errorf("range [%d, %d]: %w", fromSeq, toSeq, domain.ErrEventNotFound)
	}

	// Link the first event against its predecessor when one exists.
	var prevHash string
	var havePrev bool
	if fromSeq > 1 {
		prev, err := l.db.GetAuditEvent(fromSeq - 1)
		if err != nil {
			return report, err
		}
		if prev != nil {
			prevHash = prev.Hash
			havePrev = true
		}
	} else {
		havePrev = true // Genesis links to the empty hash
	}

	for i, ev := range events {
		if hashEvent(ev) != ev.Hash {
			report.Tampered = append(report.Tampered, ev.Seq)
		}
		if i == 0 {
			if havePrev && ev.PrevHash != prevHash {
				report.Broken = append(report.Broken, ev.Seq)
			}
		} else if ev.PrevHash != events[i-1].Hash {
			report.Broken = append(report.Broken, ev.Seq)
		}
	}

	report.Valid = len(report.Tampered) == 0 && len(report.Broken) == 0
	return report, nil
}

// hashEvent computes the content hash: SHA-256 over the event's fields
// and its predecessor's hash, with a field separator so adjacent fields
// cannot be confused.
func hashEvent(ev domain.AuditEvent) string {
	h := sha256.New()
	sep := []byte{0x1f}
	for _, field := range []string{
		strconv.FormatUint(ev.Seq, 10),
		string(ev.Type),
		ev.AgentID,
		ev.UserID,
		ev.TaskID,
		string(ev.Payload),
		ev.PrevHash,
		strconv.FormatInt(ev.Timestamp.Unix(), 10),
	} {
		h.Write([]byte(field))
		h.Write(sep)
	}
	return hex.EncodeToString(h.Sum(nil))
}

// canonicalJSON marshals v, then round-trips through an untyped value
// so object keys come out sorted regardless of the input shape. Field
// ordering must be canonical or the hash stops being content-addressed.
func canonicalJSON(v any) (json.RawMessage, error) {
	if v == nil {
		return nil, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var tmp any
	if err := json.Unmarshal(b, &tmp); err != nil {
		return nil, err
	}
	return json.Marshal(tmp)
}
