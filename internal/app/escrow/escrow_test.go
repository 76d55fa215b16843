package escrow

import (
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/agoralabs/agora/internal/domain"
	"github.com/agoralabs/agora/internal/infra/audit"
	"github.com/agoralabs/agora/internal/infra/sqlite"
)

type fixture struct {
	db           *sqlite.DB
	svc          *Service
	taskID       string
	assignmentID string
}

func newFixture(t *testing.T, price int64) *fixture {
	t.Helper()
	db, err := sqlite.Open(t.TempDir())
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	auditLog := audit.NewLog(db)
	auditLog.SetClock(func() time.Time { return now })
	svc := NewService(db, auditLog)
	svc.SetClock(func() time.Time { return now })

	f := &fixture{db: db, svc: svc, taskID: uuid.NewString(), assignmentID: uuid.NewString()}
	if err := db.InsertTask(domain.Task{
		ID: f.taskID, BuyerID: "buyer-1", Title: "work",
		MaxBudget: decimal.NewFromInt(price * 2), Currency: "USD",
		AuctionType: domain.AuctionDirect, Status: domain.TaskAssigned,
		CreatedAt: now,
	}); err != nil {
		t.Fatal(err)
	}
	if err := db.InsertAssignment(domain.TaskAssignment{
		ID: f.assignmentID, TaskID: f.taskID, AgentID: "agent-1",
		BidID: uuid.NewString(), AgreedPrice: decimal.NewFromInt(price),
		Currency: "USD", SLADueAt: now.Add(72 * time.Hour),
		Status: domain.AssignmentActive, CreatedAt: now,
	}); err != nil {
		t.Fatal(err)
	}
	return f
}

func (f *fixture) hold(t *testing.T, amount int64) domain.EscrowAccount {
	t.Helper()
	acct, err := f.svc.Hold(f.assignmentID, decimal.NewFromInt(amount), "USD")
	if err != nil {
		t.Fatalf("hold: %v", err)
	}
	return acct
}

func TestReleaseAppliesTieredFee(t *testing.T) {
	f := newFixture(t, 1200)
	acct := f.hold(t, 1200)

	payment, err := f.svc.Release(acct.ID, "agent-1")
	if err != nil {
		t.Fatalf("release: %v", err)
	}
	// 1200 falls in the top bracket: 15% fee.
	if want := decimal.NewFromInt(180); !payment.Fee.Equal(want) {
		t.Fatalf("fee = %s, want %s", payment.Fee, want)
	}
	if want := decimal.NewFromInt(1020); !payment.Net.Equal(want) {
		t.Fatalf("net = %s, want %s", payment.Net, want)
	}
	if payment.Payee != "agent-1" {
		t.Fatalf("payee = %s, want agent-1", payment.Payee)
	}

	got, err := f.svc.Account(acct.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != domain.EscrowReleased {
		t.Fatalf("status = %s, want RELEASED", got.Status)
	}
}

func TestFeeBrackets(t *testing.T) {
	cases := []struct {
		amount, fee string
	}{
		{"100", "25"},   // ≤100: 25%
		{"400", "80"},   // ≤500: 20%
		{"1000", "180"}, // ≤1000: 18%
		{"2000", "300"}, // else: 15%
	}
	for _, tc := range cases {
		fee := domain.PlatformFee(decimal.RequireFromString(tc.amount))
		if !fee.Equal(decimal.RequireFromString(tc.fee)) {
			t.Errorf("PlatformFee(%s) = %s, want %s", tc.amount, fee, tc.fee)
		}
	}
}

func TestReleaseWrongAgent(t *testing.T) {
	f := newFixture(t, 300)
	acct := f.hold(t, 300)
	if _, err := f.svc.Release(acct.ID, "agent-2"); !errors.Is(err, domain.ErrPartyMismatch) {
		t.Fatalf("want ErrPartyMismatch, got %v", err)
	}
}

func TestTerminalStatesAreImmutable(t *testing.T) {
	f := newFixture(t, 300)
	acct := f.hold(t, 300)
	if _, err := f.svc.Release(acct.ID, "agent-1"); err != nil {
		t.Fatal(err)
	}

	if _, err := f.svc.Release(acct.ID, "agent-1"); !errors.Is(err, domain.ErrInvalidState) {
		t.Fatalf("double release: want ErrInvalidState, got %v", err)
	}
	if _, err := f.svc.Refund(acct.ID, "buyer-1"); !errors.Is(err, domain.ErrInvalidState) {
		t.Fatalf("refund after release: want ErrInvalidState, got %v", err)
	}
	if _, _, err := f.svc.Split(acct.ID, decimal.NewFromInt(100), decimal.NewFromInt(200)); !errors.Is(err, domain.ErrInvalidState) {
		t.Fatalf("split after release: want ErrInvalidState, got %v", err)
	}
}

func TestRefundFullNoFee(t *testing.T) {
	f := newFixture(t, 300)
	acct := f.hold(t, 300)

	payment, err := f.svc.Refund(acct.ID, "buyer-1")
	if err != nil {
		t.Fatal(err)
	}
	if !payment.Fee.IsZero() || !payment.Net.Equal(decimal.NewFromInt(300)) {
		t.Fatalf("refund fee=%s net=%s, want 0/300", payment.Fee, payment.Net)
	}
	if payment.Payee != "buyer-1" {
		t.Fatalf("payee = %s, want buyer-1", payment.Payee)
	}

	if _, err := f.svc.Refund(acct.ID, "buyer-2"); !errors.Is(err, domain.ErrInvalidState) {
		t.Fatalf("refund on terminal escrow: want ErrInvalidState, got %v", err)
	}
}

func TestOpenDisputeFreezesEscrow(t *testing.T) {
	f := newFixture(t, 300)
	acct := f.hold(t, 300)

	if err := f.db.InsertDispute(domain.Dispute{
		ID: uuid.NewString(), AssignmentID: f.assignmentID,
		Reason: "deliverable rejected", RaisedBy: domain.PartyBuyer,
		Status: domain.DisputeOpen, CreatedAt: time.Now(),
	}); err != nil {
		t.Fatal(err)
	}

	if _, err := f.svc.Release(acct.ID, "agent-1"); !errors.Is(err, domain.ErrEscrowFrozen) {
		t.Fatalf("release under dispute: want ErrEscrowFrozen, got %v", err)
	}
	if _, err := f.svc.Refund(acct.ID, "buyer-1"); !errors.Is(err, domain.ErrEscrowFrozen) {
		t.Fatalf("refund under dispute: want ErrEscrowFrozen, got %v", err)
	}

	// Still HELD — freeze is procedural, not a status.
	got, err := f.svc.Account(acct.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != domain.EscrowHeld {
		t.Fatalf("status = %s, want HELD", got.Status)
	}
}

func TestSplitExactSum(t *testing.T) {
	f := newFixture(t, 400)
	acct := f.hold(t, 400)

	refund, payout, err := f.svc.Split(acct.ID, decimal.NewFromInt(150), decimal.NewFromInt(250))
	if err != nil {
		t.Fatal(err)
	}
	if refund.Payee != "buyer-1" || !refund.Net.Equal(decimal.NewFromInt(150)) {
		t.Fatalf("refund leg: %s to %s", refund.Net, refund.Payee)
	}
	if payout.Payee != "agent-1" || !payout.Gross.Equal(decimal.NewFromInt(250)) {
		t.Fatalf("payout leg: %s to %s", payout.Gross, payout.Payee)
	}
	// 250 falls in the ≤500 bracket: 20% fee on the payout leg only.
	if want := decimal.NewFromInt(50); !payout.Fee.Equal(want) {
		t.Fatalf("payout fee = %s, want %s", payout.Fee, want)
	}

	got, err := f.svc.Account(acct.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != domain.EscrowSlashed || !got.Amount.Equal(decimal.NewFromInt(250)) {
		t.Fatalf("escrow = %s %s, want SLASHED 250", got.Status, got.Amount)
	}
}

func TestSplitMismatchRejectedWithoutSideEffects(t *testing.T) {
	f := newFixture(t, 400)
	acct := f.hold(t, 400)

	_, _, err := f.svc.Split(acct.ID, decimal.NewFromInt(150), decimal.NewFromInt(300))
	if !errors.Is(err, domain.ErrSplitMismatch) {
		t.Fatalf("want ErrSplitMismatch, got %v", err)
	}

	got, err := f.svc.Account(acct.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != domain.EscrowHeld || !got.Amount.Equal(decimal.NewFromInt(400)) {
		t.Fatalf("escrow changed: %s %s, want HELD 400", got.Status, got.Amount)
	}
	payments, err := f.db.UnsettledPayments(10)
	if err != nil {
		t.Fatal(err)
	}
	if len(payments) != 0 {
		t.Fatalf("rejected split recorded %d payments", len(payments))
	}
}

func TestHoldIsOneTime(t *testing.T) {
	f := newFixture(t, 300)
	f.hold(t, 300)
	if _, err := f.svc.Hold(f.assignmentID, decimal.NewFromInt(300), "USD"); !errors.Is(err, domain.ErrAlreadyExists) {
		t.Fatalf("second hold: want ErrAlreadyExists, got %v", err)
	}
}
