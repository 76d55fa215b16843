package audit

import (
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/agoralabs/agora/internal/domain"
	"github.com/agoralabs/agora/internal/infra/sqlite"
)

func newLog(t *testing.T) (*Log, string) {
	t.Helper()
	dir := t.TempDir()
	db, err := sqlite.Open(dir)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	l := NewLog(db)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	l.SetClock(func() time.Time {
		now = now.Add(time.Second)
		return now
	})
	return l, dir
}

// tamper edits the stored chain directly, simulating an attacker with
// file access.
func tamper(t *testing.T, dir, query string, args ...any) {
	t.Helper()
	db, err := sql.Open("sqlite", filepath.Join(dir, "core.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()
	if _, err := db.Exec(query, args...); err != nil {
		t.Fatalf("tamper: %v", err)
	}
}

func appendN(t *testing.T, l *Log, n int) []domain.AuditEvent {
	t.Helper()
	var out []domain.AuditEvent
	for i := 0; i < n; i++ {
		ev, err := l.Append(domain.EventBidSubmitted, Refs{Agent: "agent-1", Task: "task-1"},
			map[string]any{"n": i})
		if err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
		out = append(out, ev)
	}
	return out
}

func TestAppendLinksChain(t *testing.T) {
	l, _ := newLog(t)
	events := appendN(t, l, 3)

	for i, ev := range events {
		if ev.Seq != uint64(i+1) {
			t.Errorf("event %d: seq = %d", i, ev.Seq)
		}
		if i == 0 {
			if ev.PrevHash != "" {
				t.Errorf("genesis prev hash = %q, want empty", ev.PrevHash)
			}
		} else if ev.PrevHash != events[i-1].Hash {
			t.Errorf("event %d prev hash does not match predecessor", i+1)
		}
	}

	report, err := l.VerifyChain(1, 3)
	if err != nil {
		t.Fatal(err)
	}
	if !report.Valid {
		t.Fatalf("fresh chain invalid: %+v", report)
	}
}

func TestCanonicalPayloadHashing(t *testing.T) {
	l, _ := newLog(t)

	// Key order in the input must not affect the stored payload bytes.
	a, err := l.Append(domain.EventScoreComputed, Refs{}, map[string]any{"b": 2, "a": 1})
	if err != nil {
		t.Fatal(err)
	}
	if string(a.Payload) != `{"a":1,"b":2}` {
		t.Fatalf("payload = %s, want sorted keys", a.Payload)
	}
}

func TestVerifyDetectsContentTampering(t *testing.T) {
	l, dir := newLog(t)
	appendN(t, l, 3)

	tamper(t, dir, `UPDATE audit_events SET payload = ? WHERE seq = 2`, `{"n":999}`)

	report, err := l.VerifyChain(1, 3)
	if err != nil {
		t.Fatal(err)
	}
	if report.Valid {
		t.Fatal("tampered chain verified clean")
	}
	if len(report.Tampered) != 1 || report.Tampered[0] != 2 {
		t.Fatalf("tampered = %v, want [2]", report.Tampered)
	}
	if len(report.Broken) != 0 {
		t.Fatalf("broken = %v, want none (links untouched)", report.Broken)
	}
}

func TestVerifyDetectsBrokenLinks(t *testing.T) {
	l, dir := newLog(t)
	appendN(t, l, 3)

	// Rewriting a stored hash breaks both that event's content check
	// and its successor's link.
	tamper(t, dir, `UPDATE audit_events SET hash = ? WHERE seq = 2`,
		"deadbeefdeadbeefdeadbeefdeadbeefdeadbeefdeadbeefdeadbeefdeadbeef")

	report, err := l.VerifyChain(1, 3)
	if err != nil {
		t.Fatal(err)
	}
	if report.Valid {
		t.Fatal("broken chain verified clean")
	}
	if len(report.Tampered) != 1 || report.Tampered[0] != 2 {
		t.Fatalf("tampered = %v, want [2]", report.Tampered)
	}
	if len(report.Broken) != 1 || report.Broken[0] != 3 {
		t.Fatalf("broken = %v, want [3]", report.Broken)
	}
}

func TestVerifyReportsEveryBadSeq(t *testing.T) {
	l, dir := newLog(t)
	appendN(t, l, 5)

	tamper(t, dir, `UPDATE audit_events SET payload = ? WHERE seq IN (2, 4)`, `{}`)

	report, err := l.VerifyChain(1, 5)
	if err != nil {
		t.Fatal(err)
	}
	if len(report.Tampered) != 2 || report.Tampered[0] != 2 || report.Tampered[1] != 4 {
		t.Fatalf("tampered = %v, want [2 4]", report.Tampered)
	}
}

func TestVerifySubrangeChecksPredecessorLink(t *testing.T) {
	l, dir := newLog(t)
	appendN(t, l, 4)

	report, err := l.VerifyChain(2, 4)
	if err != nil {
		t.Fatal(err)
	}
	if !report.Valid {
		t.Fatalf("clean subrange invalid: %+v", report)
	}

	// Breaking event 1's hash must surface as a broken link at 2 even
	// though 1 is outside the verified range.
	tamper(t, dir, `UPDATE audit_events SET hash = ? WHERE seq = 1`,
		"deadbeefdeadbeefdeadbeefdeadbeefdeadbeefdeadbeefdeadbeefdeadbeef")
	report, err = l.VerifyChain(2, 4)
	if err != nil {
		t.Fatal(err)
	}
	if len(report.Broken) != 1 || report.Broken[0] != 2 {
		t.Fatalf("broken = %v, want [2]", report.Broken)
	}
}

func TestVerifyMissingRange(t *testing.T) {
	l, _ := newLog(t)
	appendN(t, l, 2)

	if _, err := l.VerifyChain(1, 10); err == nil {
		t.Fatal("verify over missing events succeeded")
	}
	if _, err := l.VerifyChain(0, 1); err == nil {
		t.Fatal("verify with zero fromSeq succeeded")
	}
}

func TestHeadAndEvent(t *testing.T) {
	l, _ := newLog(t)
	events := appendN(t, l, 2)

	head, err := l.Head()
	if err != nil {
		t.Fatal(err)
	}
	if head.Seq != 2 {
		t.Fatalf("head seq = %d, want 2", head.Seq)
	}

	got, err := l.Event(1)
	if err != nil {
		t.Fatal(err)
	}
	if got.Hash != events[0].Hash {
		t.Fatal("event 1 hash mismatch")
	}
	if _, err := l.Event(99); err != domain.ErrEventNotFound {
		t.Fatalf("want ErrEventNotFound, got %v", err)
	}
}
