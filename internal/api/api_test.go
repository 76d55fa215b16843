package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/agoralabs/agora/internal/app/auction"
	"github.com/agoralabs/agora/internal/app/dispute"
	"github.com/agoralabs/agora/internal/app/eligibility"
	"github.com/agoralabs/agora/internal/app/escrow"
	"github.com/agoralabs/agora/internal/app/reputation"
	"github.com/agoralabs/agora/internal/app/settlement"
	"github.com/agoralabs/agora/internal/app/stake"
	"github.com/agoralabs/agora/internal/domain"
	"github.com/agoralabs/agora/internal/infra/audit"
	"github.com/agoralabs/agora/internal/infra/registry"
	"github.com/agoralabs/agora/internal/infra/sqlite"
)

type staticVerifier struct{ score float64 }

func (v staticVerifier) TrustScore(context.Context, string) (float64, error) {
	return v.score, nil
}

type fakeRail struct{}

func (fakeRail) Transfer(_ context.Context, p domain.Payment) (string, error) {
	return "tx-" + p.ID, nil
}

type fakeAnchorer struct{}

func (fakeAnchorer) Anchor(_ context.Context, root string) (string, error) {
	return "ref-" + root[:8], nil
}

type harness struct {
	srv *httptest.Server
	db  *sqlite.DB
	now time.Time
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	db, err := sqlite.Open(t.TempDir())
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	h := &harness{db: db, now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	clock := func() time.Time { return h.now }

	auditLog := audit.NewLog(db)
	auditLog.SetClock(clock)
	esc := escrow.NewService(db, auditLog)
	esc.SetClock(clock)
	stakes := stake.NewService(db, auditLog)
	stakes.SetClock(clock)
	elig := eligibility.NewFilter(db, stakes, 2)
	elig.SetClock(clock)
	auctions := auction.NewService(db, auditLog, esc, elig)
	auctions.SetClock(clock)
	disputes := dispute.NewService(db, esc, auditLog)
	disputes.SetClock(clock)
	rep := reputation.NewEngine(db, staticVerifier{}, auditLog)
	rep.SetClock(clock)
	settle := settlement.NewService(db, fakeRail{}, auditLog)
	settle.SetClock(clock)

	agents := registry.NewManager(db)
	agents.SetClock(clock)

	server := NewServer(Services{
		DB: db, Registry: agents, Auctions: auctions, Escrow: esc, Disputes: disputes,
		Stakes: stakes, Reputation: rep, Eligibility: elig,
		Settlement: settle, Audit: auditLog, Anchorer: fakeAnchorer{},
	})
	h.srv = httptest.NewServer(server.Handler())
	t.Cleanup(h.srv.Close)
	return h
}

// do issues a request and decodes the JSON response into out (if non-nil).
func (h *harness) do(t *testing.T, method, path string, body, out any) int {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req, err := http.NewRequest(method, h.srv.URL+path, &buf)
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("%s %s: decode: %v", method, path, err)
		}
	}
	return resp.StatusCode
}

func (h *harness) registerAgent(t *testing.T, id string) {
	t.Helper()
	code := h.do(t, "POST", "/v1/agents", map[string]any{
		"id": id, "name": id, "region": "eu",
	}, nil)
	if code != http.StatusCreated {
		t.Fatalf("register agent: status %d", code)
	}
	code = h.do(t, "POST", "/v1/agents/"+id+"/stake", map[string]any{
		"amount": "10000", "currency": "USD", "lockup": "720h",
	}, nil)
	if code != http.StatusCreated {
		t.Fatalf("lock stake: status %d", code)
	}
}

func (h *harness) openTask(t *testing.T, auctionType string, budget string) string {
	t.Helper()
	var task domain.Task
	code := h.do(t, "POST", "/v1/tasks", map[string]any{
		"buyer_id": "buyer-1", "title": "translate corpus",
		"max_budget": budget, "currency": "USD", "auction_type": auctionType,
	}, &task)
	if code != http.StatusCreated {
		t.Fatalf("create task: status %d", code)
	}
	code = h.do(t, "POST", "/v1/tasks/"+task.ID+"/open", map[string]any{"window": "24h"}, nil)
	if code != http.StatusOK {
		t.Fatalf("open auction: status %d", code)
	}
	return task.ID
}

func TestDirectAuctionLifecycleOverHTTP(t *testing.T) {
	h := newHarness(t)
	h.registerAgent(t, "agent-1")
	h.registerAgent(t, "agent-2")
	taskID := h.openTask(t, "DIRECT", "500")

	for agent, amount := range map[string]string{"agent-1": "300", "agent-2": "250"} {
		code := h.do(t, "POST", "/v1/tasks/"+taskID+"/bids", map[string]any{
			"agent_id": agent, "amount": amount,
		}, nil)
		if code != http.StatusCreated {
			t.Fatalf("bid by %s: status %d", agent, code)
		}
	}

	var closed struct {
		Assignment *domain.TaskAssignment `json:"assignment"`
	}
	if code := h.do(t, "POST", "/v1/tasks/"+taskID+"/close", nil, &closed); code != http.StatusOK {
		t.Fatalf("close: status %d", code)
	}
	if closed.Assignment == nil || closed.Assignment.AgentID != "agent-2" {
		t.Fatalf("assignment = %+v, want agent-2 to win", closed.Assignment)
	}
	if !closed.Assignment.AgreedPrice.Equal(decimalFromString(t, "250")) {
		t.Fatalf("price = %s, want 250", closed.Assignment.AgreedPrice)
	}

	// Complete, then release escrow to the winner.
	if code := h.do(t, "POST", "/v1/assignments/"+closed.Assignment.ID+"/complete",
		map[string]any{"rating": 5}, nil); code != http.StatusOK {
		t.Fatalf("complete: status %d", code)
	}

	acct, err := h.db.GetEscrowByAssignment(closed.Assignment.ID)
	if err != nil || acct == nil {
		t.Fatalf("escrow lookup: %v", err)
	}
	var payment domain.Payment
	if code := h.do(t, "POST", "/v1/escrow/"+acct.ID+"/release",
		map[string]any{"agent_id": "agent-2"}, &payment); code != http.StatusOK {
		t.Fatalf("release: status %d", code)
	}
	if payment.Fee.IsZero() {
		t.Fatal("release payment carries no platform fee")
	}

	// Settlement pays it out.
	var report settlement.Report
	if code := h.do(t, "POST", "/v1/settlement/run", nil, &report); code != http.StatusOK {
		t.Fatalf("settle: status %d", code)
	}
	if report.Settled != 1 {
		t.Fatalf("settled %d payments, want 1", report.Settled)
	}
}

func TestSealedBidsHiddenOverHTTP(t *testing.T) {
	h := newHarness(t)
	h.registerAgent(t, "agent-1")
	taskID := h.openTask(t, "SEALED_BID", "500")

	if code := h.do(t, "POST", "/v1/tasks/"+taskID+"/bids", map[string]any{
		"agent_id": "agent-1", "amount": "321",
	}, nil); code != http.StatusCreated {
		t.Fatalf("bid: status %d", code)
	}

	var resp struct {
		Bids []domain.Bid `json:"bids"`
	}
	if code := h.do(t, "GET", "/v1/tasks/"+taskID+"/bids", nil, &resp); code != http.StatusOK {
		t.Fatalf("list bids: status %d", code)
	}
	if len(resp.Bids) != 1 {
		t.Fatalf("%d bids, want 1", len(resp.Bids))
	}
	if !resp.Bids[0].Amount.IsZero() {
		t.Fatalf("sealed bid amount leaked: %s", resp.Bids[0].Amount)
	}
	if resp.Bids[0].Sealed != nil && resp.Bids[0].Sealed.Ciphertext != "" {
		t.Fatal("sealed ciphertext leaked through the API")
	}

	// Closing before the deadline is refused for sealed auctions.
	if code := h.do(t, "POST", "/v1/tasks/"+taskID+"/close", nil, nil); code != http.StatusConflict {
		t.Fatalf("premature close: status %d, want 409", code)
	}
}

func TestDomainErrorsMapToStatuses(t *testing.T) {
	h := newHarness(t)

	if code := h.do(t, "GET", "/v1/tasks/nope", nil, nil); code != http.StatusNotFound {
		t.Errorf("missing task: status %d, want 404", code)
	}
	if code := h.do(t, "GET", "/v1/agents/nope", nil, nil); code != http.StatusNotFound {
		t.Errorf("missing agent: status %d, want 404", code)
	}

	// Unstaked agent bidding is a 403.
	h.do(t, "POST", "/v1/agents", map[string]any{"id": "pauper", "name": "pauper"}, nil)
	taskID := h.openTask(t, "DIRECT", "500")
	if code := h.do(t, "POST", "/v1/tasks/"+taskID+"/bids", map[string]any{
		"agent_id": "pauper", "amount": "100",
	}, nil); code != http.StatusForbidden {
		t.Errorf("ineligible bid: status %d, want 403", code)
	}

	// Bid over budget is a 422.
	h.registerAgent(t, "agent-1")
	if code := h.do(t, "POST", "/v1/tasks/"+taskID+"/bids", map[string]any{
		"agent_id": "agent-1", "amount": "9999",
	}, nil); code != http.StatusUnprocessableEntity {
		t.Errorf("over-budget bid: status %d, want 422", code)
	}
}

func TestAuditEndpoints(t *testing.T) {
	h := newHarness(t)
	h.registerAgent(t, "agent-1")
	h.openTask(t, "DIRECT", "500") // Generates audit events

	var head struct {
		Head *domain.AuditEvent `json:"head"`
	}
	if code := h.do(t, "GET", "/v1/audit/head", nil, &head); code != http.StatusOK {
		t.Fatalf("head: status %d", code)
	}
	if head.Head == nil || head.Head.Seq == 0 {
		t.Fatal("audit head missing after activity")
	}

	var report domain.ChainReport
	if code := h.do(t, "GET", "/v1/audit/verify", nil, &report); code != http.StatusOK {
		t.Fatalf("verify: status %d", code)
	}
	if !report.Valid {
		t.Fatalf("fresh chain invalid: %+v", report)
	}

	var anchored struct {
		Anchor *domain.MerkleAnchor `json:"anchor"`
	}
	if code := h.do(t, "POST", "/v1/audit/anchor", nil, &anchored); code != http.StatusCreated {
		t.Fatalf("anchor: status %d", code)
	}
	if anchored.Anchor == nil || anchored.Anchor.ToSeq != head.Head.Seq {
		t.Fatalf("anchor = %+v, want coverage through head", anchored.Anchor)
	}

	path := fmt.Sprintf("/v1/audit/events/%d/proof", head.Head.Seq)
	var proof struct {
		Proof  []audit.ProofStep    `json:"proof"`
		Anchor *domain.MerkleAnchor `json:"anchor"`
	}
	if code := h.do(t, "GET", path, nil, &proof); code != http.StatusOK {
		t.Fatalf("proof: status %d", code)
	}
	if proof.Anchor == nil {
		t.Fatal("proof response missing covering anchor")
	}
}

func TestLeaderboardAndReputation(t *testing.T) {
	h := newHarness(t)
	h.registerAgent(t, "agent-1")

	var score domain.ReputationScore
	if code := h.do(t, "GET", "/v1/agents/agent-1/reputation", nil, &score); code != http.StatusOK {
		t.Fatalf("reputation: status %d", code)
	}
	if score.Overall == 0 {
		t.Fatal("staked agent scored zero overall")
	}

	var board struct {
		Leaderboard []domain.ReputationScore `json:"leaderboard"`
	}
	if code := h.do(t, "GET", "/v1/leaderboard", nil, &board); code != http.StatusOK {
		t.Fatalf("leaderboard: status %d", code)
	}
	if len(board.Leaderboard) == 0 {
		t.Fatal("leaderboard empty after recompute")
	}

	if code := h.do(t, "GET", "/v1/leaderboard?period=bogus", nil, nil); code != http.StatusBadRequest {
		t.Errorf("bogus period: status %d, want 400", code)
	}
}

func decimalFromString(t *testing.T, s string) decimal.Decimal {
	t.Helper()
	d, err := decimal.NewFromString(s)
	if err != nil {
		t.Fatal(err)
	}
	return d
}
