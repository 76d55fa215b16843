package stake

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/agoralabs/agora/internal/domain"
	"github.com/agoralabs/agora/internal/infra/audit"
	"github.com/agoralabs/agora/internal/infra/sqlite"
)

type fixture struct {
	db  *sqlite.DB
	svc *Service
	now time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db, err := sqlite.Open(t.TempDir())
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	f := &fixture{db: db, now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	auditLog := audit.NewLog(db)
	auditLog.SetClock(func() time.Time { return f.now })
	f.svc = NewService(db, auditLog)
	f.svc.SetClock(func() time.Time { return f.now })

	if err := db.UpsertAgent(domain.Agent{
		ID: "agent-1", Name: "agent-1",
		Status: domain.AgentActive, RegisteredAt: f.now,
	}); err != nil {
		t.Fatal(err)
	}
	return f
}

func TestLockValidations(t *testing.T) {
	f := newFixture(t)

	if _, err := f.svc.Lock("agent-1", decimal.Zero, "USD", domain.MinLockup); !errors.Is(err, domain.ErrNonPositiveAmount) {
		t.Fatalf("zero amount: want ErrNonPositiveAmount, got %v", err)
	}
	if _, err := f.svc.Lock("agent-1", decimal.NewFromInt(100), "USD", 24*time.Hour); !errors.Is(err, domain.ErrLockupTooShort) {
		t.Fatalf("short lockup: want ErrLockupTooShort, got %v", err)
	}
	if _, err := f.svc.Lock("nobody", decimal.NewFromInt(100), "USD", domain.MinLockup); !errors.Is(err, domain.ErrAgentNotFound) {
		t.Fatalf("unknown agent: want ErrAgentNotFound, got %v", err)
	}

	pos, err := f.svc.Lock("agent-1", decimal.NewFromInt(100), "USD", domain.MinLockup)
	if err != nil {
		t.Fatal(err)
	}
	if pos.Status != domain.StakeActive {
		t.Fatalf("status = %s, want ACTIVE", pos.Status)
	}
	if want := f.now.Add(domain.MinLockup); !pos.UnlockableAt.Equal(want) {
		t.Fatalf("unlockable at %s, want %s", pos.UnlockableAt, want)
	}
}

func TestUnlockRespectsLockup(t *testing.T) {
	f := newFixture(t)
	pos, err := f.svc.Lock("agent-1", decimal.NewFromInt(100), "USD", domain.MinLockup)
	if err != nil {
		t.Fatal(err)
	}

	if _, err := f.svc.Unlock(pos.ID); !errors.Is(err, domain.ErrStakeLocked) {
		t.Fatalf("early unlock: want ErrStakeLocked, got %v", err)
	}

	f.now = f.now.Add(domain.MinLockup)
	got, err := f.svc.Unlock(pos.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != domain.StakeWithdrawn {
		t.Fatalf("status = %s, want WITHDRAWN", got.Status)
	}

	if _, err := f.svc.Unlock(pos.ID); !errors.Is(err, domain.ErrInvalidState) {
		t.Fatalf("double unlock: want ErrInvalidState, got %v", err)
	}
}

func TestSlashConsumesOldestFirst(t *testing.T) {
	f := newFixture(t)

	first, err := f.svc.Lock("agent-1", decimal.NewFromInt(100), "USD", domain.MinLockup)
	if err != nil {
		t.Fatal(err)
	}
	f.now = f.now.Add(time.Hour)
	second, err := f.svc.Lock("agent-1", decimal.NewFromInt(200), "USD", domain.MinLockup)
	if err != nil {
		t.Fatal(err)
	}

	burned, err := f.svc.Slash("agent-1", decimal.NewFromInt(150), "sla breach", "task-1")
	if err != nil {
		t.Fatal(err)
	}
	if !burned.Equal(decimal.NewFromInt(150)) {
		t.Fatalf("burned = %s, want 150", burned)
	}

	// Oldest position drains to zero and flips SLASHED.
	p1, err := f.svc.Position(first.ID)
	if err != nil {
		t.Fatal(err)
	}
	if p1.Status != domain.StakeSlashed || !p1.Amount.IsZero() {
		t.Fatalf("first position: %s %s, want SLASHED 0", p1.Status, p1.Amount)
	}
	if len(p1.SlashHistory) != 1 || !p1.SlashHistory[0].Amount.Equal(decimal.NewFromInt(100)) {
		t.Fatalf("first position history: %+v", p1.SlashHistory)
	}

	// Newer position absorbs the remainder and stays ACTIVE.
	p2, err := f.svc.Position(second.ID)
	if err != nil {
		t.Fatal(err)
	}
	if p2.Status != domain.StakeActive || !p2.Amount.Equal(decimal.NewFromInt(150)) {
		t.Fatalf("second position: %s %s, want ACTIVE 150", p2.Status, p2.Amount)
	}

	total, err := f.svc.TotalActive("agent-1")
	if err != nil {
		t.Fatal(err)
	}
	if !total.Equal(decimal.NewFromInt(150)) {
		t.Fatalf("total active = %s, want 150", total)
	}
}

func TestSlashBeyondTotalBurnsWhatExists(t *testing.T) {
	f := newFixture(t)
	if _, err := f.svc.Lock("agent-1", decimal.NewFromInt(100), "USD", domain.MinLockup); err != nil {
		t.Fatal(err)
	}

	burned, err := f.svc.Slash("agent-1", decimal.NewFromInt(500), "fraud", "")
	if err != nil {
		t.Fatal(err)
	}
	if !burned.Equal(decimal.NewFromInt(100)) {
		t.Fatalf("burned = %s, want 100", burned)
	}
	total, err := f.svc.TotalActive("agent-1")
	if err != nil {
		t.Fatal(err)
	}
	if !total.IsZero() {
		t.Fatalf("total active = %s, want 0", total)
	}
}

func TestRequiredStakeTiers(t *testing.T) {
	value := decimal.NewFromInt(2000)
	cases := []struct {
		name     string
		overall  float64
		hasScore bool
		want     string
	}{
		{"top tier", 92, true, "100"},
		{"trusted", 80, true, "200"},
		{"established", 65, true, "300"},
		{"emerging", 45, true, "400"},
		{"poor", 20, true, "500"},
		{"unknown agent", 0, false, "500"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := Required(value, tc.overall, tc.hasScore)
			if !got.Equal(decimal.RequireFromString(tc.want)) {
				t.Fatalf("Required = %s, want %s", got, tc.want)
			}
		})
	}
}
