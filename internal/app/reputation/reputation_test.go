package reputation

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/agoralabs/agora/internal/domain"
	"github.com/agoralabs/agora/internal/infra/audit"
	"github.com/agoralabs/agora/internal/infra/sqlite"
)

// staticVerifier returns a fixed credential trust score.
type staticVerifier struct {
	score float64
	err   error
}

func (v staticVerifier) TrustScore(context.Context, string) (float64, error) {
	return v.score, v.err
}

type fixture struct {
	db     *sqlite.DB
	engine *Engine
	now    time.Time
}

func newFixture(t *testing.T, verifier domain.CredentialVerifier) *fixture {
	t.Helper()
	db, err := sqlite.Open(t.TempDir())
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	f := &fixture{db: db, now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	auditLog := audit.NewLog(db)
	auditLog.SetClock(func() time.Time { return f.now })
	f.engine = NewEngine(db, verifier, auditLog)
	f.engine.SetClock(func() time.Time { return f.now })
	return f
}

func (f *fixture) seedAgent(t *testing.T, id string) {
	t.Helper()
	if err := f.db.UpsertAgent(domain.Agent{
		ID: id, Name: id, Status: domain.AgentActive, RegisteredAt: f.now,
	}); err != nil {
		t.Fatal(err)
	}
}

// seedAssignment records one completed assignment with the given
// timing and rating.
func (f *fixture) seedAssignment(t *testing.T, agentID string, status domain.AssignmentStatus, onTime bool, rating int) {
	t.Helper()
	created := f.now.Add(-10 * 24 * time.Hour)
	due := created.Add(72 * time.Hour)
	completed := due.Add(-time.Hour)
	if !onTime {
		completed = due.Add(24 * time.Hour)
	}

	taskID := uuid.NewString()
	if err := f.db.InsertTask(domain.Task{
		ID: taskID, BuyerID: "buyer-1", Title: "t",
		MaxBudget: decimal.NewFromInt(200), Currency: "USD",
		AuctionType: domain.AuctionDirect, Status: domain.TaskAssigned, CreatedAt: created,
	}); err != nil {
		t.Fatal(err)
	}
	a := domain.TaskAssignment{
		ID: uuid.NewString(), TaskID: taskID, AgentID: agentID, BidID: uuid.NewString(),
		AgreedPrice: decimal.NewFromInt(100), Currency: "USD",
		SLADueAt: due, Status: status, CreatedAt: created, BuyerRating: rating,
	}
	if status != domain.AssignmentActive && status != domain.AssignmentDisputed {
		a.CompletedAt = completed
	}
	if err := f.db.InsertAssignment(a); err != nil {
		t.Fatal(err)
	}
}

func TestNewAgentGetsNeutralBaseline(t *testing.T) {
	f := newFixture(t, staticVerifier{})
	f.seedAgent(t, "agent-1")

	score, err := f.engine.Calculate(context.Background(), "agent-1", domain.PeriodAll)
	if err != nil {
		t.Fatal(err)
	}
	if score.Performance != 50 {
		t.Errorf("performance = %.1f, want neutral 50", score.Performance)
	}
	if score.Compliance != 100 {
		t.Errorf("compliance = %.1f, want clean 100", score.Compliance)
	}
	if score.Stake != 20 {
		t.Errorf("stake = %.1f, want unstaked floor 20", score.Stake)
	}
	if score.Verification != 0 {
		t.Errorf("verification = %.1f, want 0", score.Verification)
	}
	want := 0.30*50 + 0.25*100 + 0.25*20
	if math.Abs(score.Overall-want) > 0.01 {
		t.Errorf("overall = %.2f, want %.2f", score.Overall, want)
	}
}

func TestPerformanceRewardsOnTimeDelivery(t *testing.T) {
	f := newFixture(t, staticVerifier{})
	f.seedAgent(t, "agent-1")
	// Two on-time completions rated 5, one late rated 3.
	f.seedAssignment(t, "agent-1", domain.AssignmentCompleted, true, 5)
	f.seedAssignment(t, "agent-1", domain.AssignmentCompleted, true, 5)
	f.seedAssignment(t, "agent-1", domain.AssignmentCompleted, false, 3)

	score, err := f.engine.Calculate(context.Background(), "agent-1", domain.PeriodAll)
	if err != nil {
		t.Fatal(err)
	}
	// on-time 2/3, completion 3/3, avg rating 13/3.
	want := 40*(2.0/3) + 30*1.0 + 30*((13.0/3-1)/4)
	if math.Abs(score.Performance-want) > 0.01 {
		t.Errorf("performance = %.2f, want %.2f", score.Performance, want)
	}
	if math.Abs(score.Dimensions.Reliability-100*2.0/3) > 0.01 {
		t.Errorf("reliability = %.2f", score.Dimensions.Reliability)
	}
}

func TestComplianceDeductionsAreCapped(t *testing.T) {
	f := newFixture(t, staticVerifier{})
	f.seedAgent(t, "agent-1")

	for i := 0; i < 10; i++ {
		if err := f.db.InsertComplianceEvent(domain.ComplianceEvent{
			ID: uuid.NewString(), AgentID: "agent-1",
			Kind: domain.CompliancePolicyDenial, At: f.now.Add(-time.Hour),
		}); err != nil {
			t.Fatal(err)
		}
	}

	score, err := f.engine.Calculate(context.Background(), "agent-1", domain.PeriodAll)
	if err != nil {
		t.Fatal(err)
	}
	// Ten denials, but the denial deduction caps at 40.
	if score.Compliance != 60 {
		t.Errorf("compliance = %.1f, want 60", score.Compliance)
	}
}

func TestPeriodWindowExcludesOldEvents(t *testing.T) {
	f := newFixture(t, staticVerifier{})
	f.seedAgent(t, "agent-1")
	if err := f.db.InsertComplianceEvent(domain.ComplianceEvent{
		ID: uuid.NewString(), AgentID: "agent-1",
		Kind: domain.CompliancePolicyDenial, At: f.now.Add(-60 * 24 * time.Hour),
	}); err != nil {
		t.Fatal(err)
	}

	recent, err := f.engine.Calculate(context.Background(), "agent-1", domain.Period30d)
	if err != nil {
		t.Fatal(err)
	}
	if recent.Compliance != 100 {
		t.Errorf("30d compliance = %.1f, want 100 (event outside window)", recent.Compliance)
	}

	all, err := f.engine.Calculate(context.Background(), "agent-1", domain.PeriodAll)
	if err != nil {
		t.Fatal(err)
	}
	if all.Compliance != 90 {
		t.Errorf("all-time compliance = %.1f, want 90", all.Compliance)
	}
}

func TestVerificationBlendsCredentialAndAttestations(t *testing.T) {
	f := newFixture(t, staticVerifier{score: 80})
	f.seedAgent(t, "agent-1")
	f.seedAgent(t, "attestor-1")
	// Give the attestor real standing so their weight is non-zero.
	f.seedAssignment(t, "attestor-1", domain.AssignmentCompleted, true, 5)

	if _, err := f.engine.Attest(context.Background(), "attestor-1", "agent-1", "quality", 5); err != nil {
		t.Fatal(err)
	}

	score, err := f.engine.Calculate(context.Background(), "agent-1", domain.PeriodAll)
	if err != nil {
		t.Fatal(err)
	}
	// Fresh attestation, score 5 → value 100; single attestor so the
	// weighted average is 100. 0.6·80 + 0.4·100 = 88.
	if math.Abs(score.Verification-88) > 0.01 {
		t.Errorf("verification = %.2f, want 88", score.Verification)
	}
}

func TestVerifierFailureDegradesToZero(t *testing.T) {
	f := newFixture(t, staticVerifier{err: errors.New("service down")})
	f.seedAgent(t, "agent-1")

	score, err := f.engine.Calculate(context.Background(), "agent-1", domain.PeriodAll)
	if err != nil {
		t.Fatal(err)
	}
	if score.Verification != 0 {
		t.Errorf("verification = %.1f, want 0 on verifier failure", score.Verification)
	}
}

func TestAttestationRules(t *testing.T) {
	f := newFixture(t, staticVerifier{})
	f.seedAgent(t, "agent-1")
	f.seedAgent(t, "attestor-1")
	ctx := context.Background()

	if _, err := f.engine.Attest(ctx, "agent-1", "agent-1", "quality", 5); !errors.Is(err, domain.ErrSelfAttestation) {
		t.Fatalf("self attestation: want ErrSelfAttestation, got %v", err)
	}
	if _, err := f.engine.Attest(ctx, "attestor-1", "agent-1", "quality", 6); !errors.Is(err, domain.ErrInvalidState) {
		t.Fatalf("score 6: want ErrInvalidState, got %v", err)
	}

	a, err := f.engine.Attest(ctx, "attestor-1", "agent-1", "quality", 4)
	if err != nil {
		t.Fatal(err)
	}

	// Inside the grace window: amend and retract work, but only for the
	// original attestor.
	if _, err := f.engine.Amend(ctx, a.ID, "agent-1", "quality", 2); !errors.Is(err, domain.ErrPartyMismatch) {
		t.Fatalf("amend by stranger: want ErrPartyMismatch, got %v", err)
	}
	amended, err := f.engine.Amend(ctx, a.ID, "attestor-1", "quality", 5)
	if err != nil {
		t.Fatal(err)
	}
	if amended.Score != 5 {
		t.Fatalf("score = %d, want 5", amended.Score)
	}

	// Past the grace window everything is frozen.
	f.now = f.now.Add(domain.AttestationGrace + time.Hour)
	if _, err := f.engine.Amend(ctx, a.ID, "attestor-1", "quality", 3); !errors.Is(err, domain.ErrGraceExpired) {
		t.Fatalf("late amend: want ErrGraceExpired, got %v", err)
	}
	if err := f.engine.Retract(ctx, a.ID, "attestor-1"); !errors.Is(err, domain.ErrGraceExpired) {
		t.Fatalf("late retract: want ErrGraceExpired, got %v", err)
	}
}

func TestRecomputeStoresEveryPeriod(t *testing.T) {
	f := newFixture(t, staticVerifier{})
	f.seedAgent(t, "agent-1")

	if err := f.engine.Recompute(context.Background(), "agent-1"); err != nil {
		t.Fatal(err)
	}
	for _, period := range domain.Periods {
		stored, err := f.db.GetReputationScore("agent-1", period)
		if err != nil {
			t.Fatal(err)
		}
		if stored == nil {
			t.Errorf("period %s: no stored score", period)
		}
	}
}

func TestStakeScoreComponents(t *testing.T) {
	f := newFixture(t, staticVerifier{})
	f.seedAgent(t, "agent-1")
	if err := f.db.InsertStakePosition(domain.StakePosition{
		ID: uuid.NewString(), AgentID: "agent-1",
		Amount: decimal.NewFromInt(999), Currency: "USD",
		LockedAt: f.now, UnlockableAt: f.now.Add(365 * 24 * time.Hour),
		Status: domain.StakeActive,
	}); err != nil {
		t.Fatal(err)
	}

	score, err := f.engine.Calculate(context.Background(), "agent-1", domain.PeriodAll)
	if err != nil {
		t.Fatal(err)
	}
	// log10(1000)·12.5 = 37.5 amount points, full 30 lockup points,
	// clean 20 slash points.
	if math.Abs(score.Stake-87.5) > 0.01 {
		t.Errorf("stake = %.2f, want 87.5", score.Stake)
	}
}
