// Package dispute runs the arbitration state machine bridging an
// assignment's escrow and a human decision: OPEN → INVESTIGATING →
// RESOLVED, with the escrow procedurally frozen until resolution.
package dispute

import (
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/agoralabs/agora/internal/app/escrow"
	"github.com/agoralabs/agora/internal/domain"
	"github.com/agoralabs/agora/internal/infra/audit"
	"github.com/agoralabs/agora/internal/infra/sqlite"
)

// Service owns dispute lifecycle and drives escrow on resolution.
type Service struct {
	db     *sqlite.DB
	escrow *escrow.Service
	log    *audit.Log
	now    func() time.Time
}

// NewService creates the dispute service.
func NewService(db *sqlite.DB, esc *escrow.Service, auditLog *audit.Log) *Service {
	return &Service{db: db, escrow: esc, log: auditLog, now: time.Now}
}

// SetClock injects a clock for tests.
func (s *Service) SetClock(now func() time.Time) { s.now = now }

// Raise opens a dispute on an active assignment. At most one unresolved
// dispute per assignment; the assignment moves to DISPUTED and its
// escrow freezes until resolution.
func (s *Service) Raise(assignmentID string, raisedBy domain.Party, reason string) (domain.Dispute, error) {
	assignment, err := s.db.GetAssignment(assignmentID)
	if err != nil {
		return domain.Dispute{}, err
	}
	if assignment == nil {
		return domain.Dispute{}, domain.ErrTaskNotFound
	}
	if assignment.Status != domain.AssignmentActive {
		return domain.Dispute{}, fmt.Errorf("assignment is %s: %w", assignment.Status, domain.ErrInvalidState)
	}
	existing, err := s.db.UnresolvedDisputeForAssignment(assignmentID)
	if err != nil {
		return domain.Dispute{}, err
	}
	if existing != nil {
		return domain.Dispute{}, fmt.Errorf("dispute %s: %w", existing.ID, domain.ErrDisputeOpen)
	}
	if raisedBy != domain.PartyBuyer && raisedBy != domain.PartyAgent {
		return domain.Dispute{}, domain.ErrPartyMismatch
	}

	dp := domain.Dispute{
		ID:           uuid.NewString(),
		AssignmentID: assignmentID,
		Reason:       reason,
		RaisedBy:     raisedBy,
		Status:       domain.DisputeOpen,
		CreatedAt:    s.now().Truncate(time.Second),
	}
	if err := s.db.InsertDispute(dp); err != nil {
		return domain.Dispute{}, err
	}
	if _, err := s.db.TransitionAssignment(assignmentID, domain.AssignmentActive, domain.AssignmentDisputed); err != nil {
		return domain.Dispute{}, err
	}

	s.append(domain.EventDisputeRaised, audit.Refs{Agent: assignment.AgentID, Task: assignment.TaskID}, map[string]any{
		"dispute_id": dp.ID,
		"raised_by":  string(raisedBy),
		"reason":     reason,
	})
	return dp, nil
}

// SubmitEvidence attaches one evidence item. The first submission moves
// an OPEN dispute to INVESTIGATING. Resolved disputes are immutable.
func (s *Service) SubmitEvidence(disputeID string, party domain.Party, description, uri string) (domain.Dispute, error) {
	dp, err := s.get(disputeID)
	if err != nil {
		return domain.Dispute{}, err
	}
	if dp.Status == domain.DisputeResolved {
		return domain.Dispute{}, domain.ErrAlreadyResolved
	}

	ev := domain.Evidence{
		Party:       party,
		Description: description,
		URI:         uri,
		SubmittedAt: s.now().Truncate(time.Second),
	}
	if err := s.db.InsertEvidence(disputeID, ev); err != nil {
		return domain.Dispute{}, err
	}
	if dp.Status == domain.DisputeOpen {
		if err := s.db.UpdateDisputeStatus(disputeID, domain.DisputeInvestigating); err != nil {
			return domain.Dispute{}, err
		}
		dp.Status = domain.DisputeInvestigating
	}
	dp.Evidence = append(dp.Evidence, ev)

	assignment, err := s.db.GetAssignment(dp.AssignmentID)
	if err != nil {
		return domain.Dispute{}, err
	}
	refs := audit.Refs{}
	if assignment != nil {
		refs = audit.Refs{Agent: assignment.AgentID, Task: assignment.TaskID}
	}
	s.append(domain.EventEvidenceAdded, refs, map[string]any{
		"dispute_id": disputeID,
		"party":      string(party),
	})
	return *dp, nil
}

// Resolution is the arbitration verdict handed to Resolve. Refund and
// Payout are read only for split decisions, where they must sum to the
// escrowed amount exactly.
type Resolution struct {
	Decision   domain.Decision
	Rationale  string
	Refund     decimal.Decimal
	Payout     decimal.Decimal
	ResolvedBy string
}

// Resolve closes a dispute and moves money accordingly:
//
//	buyer  full refund, assignment FAILED
//	agent  full release (minus fee), assignment COMPLETED_DISPUTED
//	split  exact refund + payout division, assignment COMPLETED_DISPUTED
//
// All validation happens before the first write — a rejected split
// leaves dispute, escrow, and assignment untouched.
func (s *Service) Resolve(disputeID string, res Resolution) (domain.Dispute, error) {
	dp, err := s.get(disputeID)
	if err != nil {
		return domain.Dispute{}, err
	}
	if dp.Status == domain.DisputeResolved {
		return domain.Dispute{}, domain.ErrAlreadyResolved
	}
	assignment, err := s.db.GetAssignment(dp.AssignmentID)
	if err != nil {
		return domain.Dispute{}, err
	}
	if assignment == nil {
		return domain.Dispute{}, domain.ErrTaskNotFound
	}
	task, err := s.db.GetTask(assignment.TaskID)
	if err != nil {
		return domain.Dispute{}, err
	}
	if task == nil {
		return domain.Dispute{}, domain.ErrTaskNotFound
	}
	acct, err := s.escrow.ByAssignment(dp.AssignmentID)
	if err != nil {
		return domain.Dispute{}, err
	}
	if acct.Status != domain.EscrowHeld {
		return domain.Dispute{}, fmt.Errorf("escrow is %s: %w", acct.Status, domain.ErrInvalidState)
	}

	var refund, payout string
	finalStatus := domain.AssignmentCompletedDisputed
	switch res.Decision {
	case domain.DecisionBuyer:
		finalStatus = domain.AssignmentFailed
	case domain.DecisionAgent:
	case domain.DecisionSplit:
		if res.Refund.IsNegative() || res.Payout.IsNegative() {
			return domain.Dispute{}, domain.ErrNonPositiveAmount
		}
		if !res.Refund.Add(res.Payout).Equal(acct.Amount) {
			return domain.Dispute{}, fmt.Errorf("%w: %s + %s != escrowed %s",
				domain.ErrSplitMismatch, res.Refund, res.Payout, acct.Amount)
		}
		refund = res.Refund.String()
		payout = res.Payout.String()
	default:
		return domain.Dispute{}, fmt.Errorf("decision %q: %w", res.Decision, domain.ErrInvalidState)
	}

	at := s.now().Truncate(time.Second)

	// Marking the dispute resolved is the commit point; it also lifts
	// the escrow freeze for the money movement below.
	ok, err := s.db.ResolveDispute(disputeID, res.Decision, res.Rationale, refund, payout, at)
	if err != nil {
		return domain.Dispute{}, err
	}
	if !ok {
		return domain.Dispute{}, domain.ErrAlreadyResolved
	}

	switch res.Decision {
	case domain.DecisionBuyer:
		if _, err := s.escrow.Refund(acct.ID, task.BuyerID); err != nil {
			return domain.Dispute{}, fmt.Errorf("refund escrow: %w", err)
		}
	case domain.DecisionAgent:
		if _, err := s.escrow.Release(acct.ID, assignment.AgentID); err != nil {
			return domain.Dispute{}, fmt.Errorf("release escrow: %w", err)
		}
	case domain.DecisionSplit:
		if _, _, err := s.escrow.Split(acct.ID, res.Refund, res.Payout); err != nil {
			return domain.Dispute{}, fmt.Errorf("split escrow: %w", err)
		}
	}

	if _, err := s.db.FinishDisputedAssignment(dp.AssignmentID, finalStatus, at); err != nil {
		return domain.Dispute{}, err
	}

	s.append(domain.EventDisputeResolved, audit.Refs{Agent: assignment.AgentID, User: res.ResolvedBy, Task: assignment.TaskID}, map[string]any{
		"dispute_id": disputeID,
		"decision":   string(res.Decision),
		"refund":     refund,
		"payout":     payout,
	})

	dp.Status = domain.DisputeResolved
	dp.Decision = res.Decision
	dp.Resolution = res.Rationale
	dp.RefundAmount = res.Refund
	dp.PayoutAmount = res.Payout
	dp.ResolvedAt = at
	return *dp, nil
}

// Dispute returns one dispute with its evidence bundle.
func (s *Service) Dispute(disputeID string) (domain.Dispute, error) {
	dp, err := s.get(disputeID)
	if err != nil {
		return domain.Dispute{}, err
	}
	return *dp, nil
}

func (s *Service) get(disputeID string) (*domain.Dispute, error) {
	dp, err := s.db.GetDispute(disputeID)
	if err != nil {
		return nil, err
	}
	if dp == nil {
		return nil, domain.ErrDisputeNotFound
	}
	return dp, nil
}

func (s *Service) append(t domain.EventType, refs audit.Refs, payload any) {
	if _, err := s.log.Append(t, refs, payload); err != nil {
		log.Printf("[dispute] audit append failed for %s: %v", t, err)
	}
}
