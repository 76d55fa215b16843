package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/agoralabs/agora/internal/app/dispute"
	"github.com/agoralabs/agora/internal/domain"
	"github.com/agoralabs/agora/internal/infra/metrics"
)

// ─── Escrow ─────────────────────────────────────────────────────────────────

func (s *Server) handleGetEscrow(w http.ResponseWriter, r *http.Request) {
	acct, err := s.escrow.Account(chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, acct)
}

type releaseRequest struct {
	AgentID string `json:"agent_id"`
}

func (s *Server) handleReleaseEscrow(w http.ResponseWriter, r *http.Request) {
	var req releaseRequest
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	payment, err := s.escrow.Release(chi.URLParam(r, "id"), req.AgentID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	metrics.EscrowClosed.WithLabelValues(string(domain.EscrowReleased)).Inc()
	fee, _ := payment.Fee.Float64()
	metrics.FeesCollected.Add(fee)
	writeJSON(w, http.StatusOK, payment)
}

type refundRequest struct {
	BuyerID string `json:"buyer_id"`
}

func (s *Server) handleRefundEscrow(w http.ResponseWriter, r *http.Request) {
	var req refundRequest
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	payment, err := s.escrow.Refund(chi.URLParam(r, "id"), req.BuyerID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	metrics.EscrowClosed.WithLabelValues(string(domain.EscrowRefunded)).Inc()
	writeJSON(w, http.StatusOK, payment)
}

// ─── Disputes ───────────────────────────────────────────────────────────────

type raiseDisputeRequest struct {
	AssignmentID string `json:"assignment_id"`
	RaisedBy     string `json:"raised_by"` // "buyer" or "agent"
	Reason       string `json:"reason"`
}

func (s *Server) handleRaiseDispute(w http.ResponseWriter, r *http.Request) {
	var req raiseDisputeRequest
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	party := domain.Party(req.RaisedBy)
	if party != domain.PartyBuyer && party != domain.PartyAgent {
		writeError(w, http.StatusBadRequest, "raised_by must be buyer or agent")
		return
	}

	dp, err := s.disputes.Raise(req.AssignmentID, party, req.Reason)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	metrics.DisputesRaised.WithLabelValues(string(party)).Inc()
	writeJSON(w, http.StatusCreated, dp)
}

func (s *Server) handleGetDispute(w http.ResponseWriter, r *http.Request) {
	dp, err := s.disputes.Dispute(chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, dp)
}

type evidenceRequest struct {
	Party       string `json:"party"`
	Description string `json:"description"`
	URI         string `json:"uri"`
}

func (s *Server) handleSubmitEvidence(w http.ResponseWriter, r *http.Request) {
	var req evidenceRequest
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	dp, err := s.disputes.SubmitEvidence(chi.URLParam(r, "id"),
		domain.Party(req.Party), req.Description, req.URI)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, dp)
}

type resolveRequest struct {
	Decision   string `json:"decision"` // buyer, agent, split
	Rationale  string `json:"rationale"`
	Refund     string `json:"refund,omitempty"` // Split only
	Payout     string `json:"payout,omitempty"` // Split only
	ResolvedBy string `json:"resolved_by"`
}

func (s *Server) handleResolveDispute(w http.ResponseWriter, r *http.Request) {
	var req resolveRequest
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	res := dispute.Resolution{
		Decision:   domain.Decision(req.Decision),
		Rationale:  req.Rationale,
		ResolvedBy: req.ResolvedBy,
	}
	if req.Refund != "" {
		refund, err := decimal.NewFromString(req.Refund)
		if err != nil {
			writeError(w, http.StatusBadRequest, "refund is not a number")
			return
		}
		res.Refund = refund
	}
	if req.Payout != "" {
		payout, err := decimal.NewFromString(req.Payout)
		if err != nil {
			writeError(w, http.StatusBadRequest, "payout is not a number")
			return
		}
		res.Payout = payout
	}

	dp, err := s.disputes.Resolve(chi.URLParam(r, "id"), res)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	metrics.DisputesResolved.WithLabelValues(string(dp.Decision)).Inc()
	writeJSON(w, http.StatusOK, dp)
}

// ─── Staking ────────────────────────────────────────────────────────────────

type lockStakeRequest struct {
	Amount   string `json:"amount"`
	Currency string `json:"currency"`
	Lockup   string `json:"lockup"` // Go duration, e.g. "168h"
}

func (s *Server) handleLockStake(w http.ResponseWriter, r *http.Request) {
	var req lockStakeRequest
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, "amount is not a number")
		return
	}
	lockup, err := time.ParseDuration(req.Lockup)
	if err != nil {
		writeError(w, http.StatusBadRequest, "lockup must be a duration")
		return
	}

	pos, err := s.stakes.Lock(chi.URLParam(r, "id"), amount, req.Currency, lockup)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	// Stake feeds the reputation stake sub-score; refresh.
	if err := s.reputation.Recompute(r.Context(), pos.AgentID); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, pos)
}

func (s *Server) handleAgentStake(w http.ResponseWriter, r *http.Request) {
	agentID := chi.URLParam(r, "id")
	total, err := s.stakes.TotalActive(agentID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	positions, err := s.db.ActiveStakePositions(agentID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"total_active": total,
		"positions":    positions,
	})
}

type slashRequest struct {
	Amount string `json:"amount"`
	Reason string `json:"reason"`
	TaskID string `json:"task_id,omitempty"`
}

func (s *Server) handleSlashStake(w http.ResponseWriter, r *http.Request) {
	var req slashRequest
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, "amount is not a number")
		return
	}

	agentID := chi.URLParam(r, "id")
	burned, err := s.stakes.Slash(agentID, amount, req.Reason, req.TaskID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	metrics.StakeSlashes.Inc()

	// A slash reshapes both the stake and compliance sub-scores.
	if err := s.reputation.Recompute(r.Context(), agentID); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"burned": burned})
}

func (s *Server) handleUnlockStake(w http.ResponseWriter, r *http.Request) {
	pos, err := s.stakes.Unlock(chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if err := s.reputation.Recompute(r.Context(), pos.AgentID); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, pos)
}

// ─── Reputation ─────────────────────────────────────────────────────────────

func (s *Server) handleAgentReputation(w http.ResponseWriter, r *http.Request) {
	period := domain.Period(r.URL.Query().Get("period"))
	if period == "" {
		period = domain.PeriodAll
	}
	if !period.Valid() {
		writeError(w, http.StatusBadRequest, "unknown period")
		return
	}

	score, err := s.reputation.Score(r.Context(), chi.URLParam(r, "id"), period)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, score)
}

func (s *Server) handleLeaderboard(w http.ResponseWriter, r *http.Request) {
	period := domain.Period(r.URL.Query().Get("period"))
	if period == "" {
		period = domain.PeriodAll
	}
	if !period.Valid() {
		writeError(w, http.StatusBadRequest, "unknown period")
		return
	}

	scores, err := s.reputation.Leaderboard(period, queryInt(r, "limit", 20))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"leaderboard": scores})
}

// ─── Attestations ───────────────────────────────────────────────────────────

type attestRequest struct {
	AttestorID string `json:"attestor_id"`
	Category   string `json:"category"`
	Score      int    `json:"score"`
}

func (s *Server) handleAttest(w http.ResponseWriter, r *http.Request) {
	var req attestRequest
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	a, err := s.reputation.Attest(r.Context(), req.AttestorID,
		chi.URLParam(r, "id"), req.Category, req.Score)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, a)
}

type amendAttestationRequest struct {
	RequesterID string `json:"requester_id"`
	Category    string `json:"category"`
	Score       int    `json:"score"`
}

func (s *Server) handleAmendAttestation(w http.ResponseWriter, r *http.Request) {
	var req amendAttestationRequest
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	a, err := s.reputation.Amend(r.Context(), chi.URLParam(r, "id"),
		req.RequesterID, req.Category, req.Score)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

func (s *Server) handleRetractAttestation(w http.ResponseWriter, r *http.Request) {
	requester := r.URL.Query().Get("requester_id")
	if requester == "" {
		writeError(w, http.StatusBadRequest, "requester_id is required")
		return
	}
	if err := s.reputation.Retract(r.Context(), chi.URLParam(r, "id"), requester); err != nil {
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ─── Audit Chain ────────────────────────────────────────────────────────────

func (s *Server) handleAuditHead(w http.ResponseWriter, r *http.Request) {
	head, err := s.audit.Head()
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if head == nil {
		writeJSON(w, http.StatusOK, map[string]any{"head": nil})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"head": head})
}

func (s *Server) handleAuditVerify(w http.ResponseWriter, r *http.Request) {
	head, err := s.audit.Head()
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if head == nil {
		writeJSON(w, http.StatusOK, domain.ChainReport{Valid: true})
		return
	}

	from := uint64(queryInt(r, "from", 1))
	to := uint64(queryInt(r, "to", int(head.Seq)))
	report, err := s.audit.VerifyChain(from, to)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) handleAuditEvent(w http.ResponseWriter, r *http.Request) {
	seq, err := strconv.ParseUint(chi.URLParam(r, "seq"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "seq must be a positive integer")
		return
	}
	ev, err := s.audit.Event(seq)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ev)
}

func (s *Server) handleInclusionProof(w http.ResponseWriter, r *http.Request) {
	seq, err := strconv.ParseUint(chi.URLParam(r, "seq"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "seq must be a positive integer")
		return
	}
	proof, anchor, err := s.audit.InclusionProof(seq)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"proof":  proof,
		"anchor": anchor,
	})
}

func (s *Server) handleAnchor(w http.ResponseWriter, r *http.Request) {
	if s.anchorer == nil {
		writeError(w, http.StatusServiceUnavailable, "no anchoring service configured")
		return
	}
	anchor, err := s.audit.BatchAnchor(r.Context(), s.anchorer)
	if err != nil {
		metrics.AnchorFailures.Inc()
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	if anchor == nil {
		writeJSON(w, http.StatusOK, map[string]any{"anchor": nil})
		return
	}
	metrics.AnchorsCreated.Inc()
	writeJSON(w, http.StatusCreated, map[string]any{"anchor": anchor})
}

// ─── Settlement ─────────────────────────────────────────────────────────────

func (s *Server) handleSettlementRun(w http.ResponseWriter, r *http.Request) {
	report, err := s.settlement.Run(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	metrics.PaymentsSettled.WithLabelValues("settled").Add(float64(report.Settled))
	metrics.PaymentsSettled.WithLabelValues("failed").Add(float64(report.Failed))
	writeJSON(w, http.StatusOK, report)
}
