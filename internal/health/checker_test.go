package health

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"testing"

	"github.com/agoralabs/agora/internal/domain"
	"github.com/agoralabs/agora/internal/infra/audit"
	"github.com/agoralabs/agora/internal/infra/sqlite"
)

func newFixture(t *testing.T) (*sqlite.DB, *audit.Log, string) {
	t.Helper()
	dir := t.TempDir()
	db, err := sqlite.Open(dir)
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db, audit.NewLog(db), dir
}

// ─── Checker Tests ──────────────────────────────────────────────────────────

func TestNewChecker(t *testing.T) {
	db, l, dir := newFixture(t)

	c := NewChecker(db, l, dir)
	if c == nil {
		t.Fatal("NewChecker() returned nil")
	}
	if len(c.checks) != 3 {
		t.Errorf("checks = %d, want 3", len(c.checks))
	}
}

func TestChecker_RunAllHealthy(t *testing.T) {
	db, l, dir := newFixture(t)

	c := NewChecker(db, l, dir)
	c.runAll(context.Background())

	statuses := c.Statuses()
	if len(statuses) != 3 {
		t.Fatalf("Statuses() = %d, want 3", len(statuses))
	}

	for _, s := range statuses {
		if !s.Healthy {
			t.Errorf("check %q should be healthy, got error: %s", s.Name, s.Error)
		}
	}
}

func TestChecker_IsHealthy_BeforeRun(t *testing.T) {
	db, l, dir := newFixture(t)

	c := NewChecker(db, l, dir)

	// Before any run, there are no statuses — IsHealthy returns true (vacuously)
	if !c.IsHealthy() {
		t.Error("IsHealthy() should be true before first run (no statuses)")
	}
}

func TestChecker_AuditChainCheck(t *testing.T) {
	db, l, dir := newFixture(t)

	for i := 0; i < 3; i++ {
		if _, err := l.Append(domain.EventScoreComputed, audit.Refs{Agent: "a"}, nil); err != nil {
			t.Fatal(err)
		}
	}

	c := NewChecker(db, l, dir)
	c.runAll(context.Background())
	if !c.IsHealthy() {
		t.Fatalf("intact chain reported unhealthy: %+v", c.Statuses())
	}

	// Tamper with a stored event: the next sweep must flag the chain.
	raw, err := sql.Open("sqlite", filepath.Join(dir, "core.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer raw.Close()
	if _, err := raw.Exec(`UPDATE audit_events SET payload = '{"x":1}' WHERE seq = 2`); err != nil {
		t.Fatal(err)
	}

	c.runAll(context.Background())
	for _, s := range c.Statuses() {
		if s.Name == "audit_chain" && s.Healthy {
			t.Error("audit_chain check passed over a tampered chain")
		}
	}
}

func TestChecker_DataDirCheck_FileNotDir(t *testing.T) {
	db, l, _ := newFixture(t)
	path := filepath.Join(t.TempDir(), "data")
	os.WriteFile(path, []byte("not a dir"), 0644)

	c := NewChecker(db, l, path)
	c.runAll(context.Background())

	for _, s := range c.Statuses() {
		if s.Name == "data_dir" && s.Healthy {
			t.Error("data_dir should fail when path is a file")
		}
	}
}

func TestChecker_FailingCheck(t *testing.T) {
	c := &Checker{
		checks: []Check{
			{
				Name: "always_fail",
				CheckFn: func(ctx context.Context) error {
					return os.ErrPermission
				},
			},
		},
	}

	c.runAll(context.Background())

	statuses := c.Statuses()
	if statuses[0].Healthy {
		t.Error("always_fail check should not be healthy")
	}
	if statuses[0].Error == "" {
		t.Error("error message should be populated")
	}
}

func TestChecker_StatusesCopy(t *testing.T) {
	db, l, dir := newFixture(t)
	c := NewChecker(db, l, dir)
	c.runAll(context.Background())

	s1 := c.Statuses()
	s2 := c.Statuses()

	// Verify it's a copy, not the same slice
	if len(s1) > 0 {
		s1[0].Healthy = false
		if !s2[0].Healthy {
			t.Error("Statuses() should return a copy, not a reference")
		}
	}
}
