// Package escrow manages held funds for task assignments: hold on
// award, release with tiered platform fee, refund, and slashing. Money
// flows only through here; the dispute resolver drives this service
// rather than touching balances itself.
package escrow

import (
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/agoralabs/agora/internal/domain"
	"github.com/agoralabs/agora/internal/infra/audit"
	"github.com/agoralabs/agora/internal/infra/sqlite"
)

// Service owns the escrow state machine.
type Service struct {
	db  *sqlite.DB
	log *audit.Log
	now func() time.Time
}

// NewService creates the escrow service.
func NewService(db *sqlite.DB, auditLog *audit.Log) *Service {
	return &Service{db: db, log: auditLog, now: time.Now}
}

// SetClock injects a clock for tests.
func (s *Service) SetClock(now func() time.Time) { s.now = now }

// Hold creates the escrow account for an assignment at the agreed
// price. One escrow per assignment; a second hold fails with
// domain.ErrAlreadyExists.
func (s *Service) Hold(assignmentID string, amount decimal.Decimal, currency string) (domain.EscrowAccount, error) {
	if !amount.IsPositive() {
		return domain.EscrowAccount{}, domain.ErrNonPositiveAmount
	}
	assignment, err := s.db.GetAssignment(assignmentID)
	if err != nil {
		return domain.EscrowAccount{}, err
	}
	if assignment == nil {
		return domain.EscrowAccount{}, fmt.Errorf("assignment %s: %w", assignmentID, domain.ErrInvalidState)
	}

	acct := domain.EscrowAccount{
		ID:           uuid.NewString(),
		AssignmentID: assignmentID,
		Amount:       amount,
		Currency:     currency,
		Status:       domain.EscrowHeld,
		HeldAt:       s.now().Truncate(time.Second),
	}
	if err := s.db.InsertEscrow(acct); err != nil {
		return domain.EscrowAccount{}, err
	}

	s.append(domain.EventEscrowCreated, audit.Refs{Agent: assignment.AgentID, Task: assignment.TaskID}, map[string]any{
		"escrow_id":     acct.ID,
		"assignment_id": assignmentID,
		"amount":        amount.String(),
		"currency":      currency,
	})
	return acct, nil
}

// Release pays the held amount to the agent, minus the tiered platform
// fee. Requires the caller to be the assignment's agent and no
// unresolved dispute on the assignment.
func (s *Service) Release(escrowID, agentID string) (domain.Payment, error) {
	acct, assignment, err := s.loadHeld(escrowID)
	if err != nil {
		return domain.Payment{}, err
	}
	if assignment.AgentID != agentID {
		return domain.Payment{}, domain.ErrPartyMismatch
	}
	if err := s.ensureUnfrozen(assignment.ID); err != nil {
		return domain.Payment{}, err
	}
	return s.payOut(acct, assignment)
}

// payOut performs the fee computation and terminal transition shared by
// Release and the dispute resolver's agent-decision path.
func (s *Service) payOut(acct *domain.EscrowAccount, assignment *domain.TaskAssignment) (domain.Payment, error) {
	at := s.now().Truncate(time.Second)
	ok, err := s.db.CloseEscrow(acct.ID, domain.EscrowReleased, "", at)
	if err != nil {
		return domain.Payment{}, err
	}
	if !ok {
		return domain.Payment{}, domain.ErrInvalidState
	}

	fee := domain.PlatformFee(acct.Amount)
	payment := domain.Payment{
		ID:        uuid.NewString(),
		EscrowID:  acct.ID,
		Payee:     assignment.AgentID,
		Gross:     acct.Amount,
		Fee:       fee,
		Net:       acct.Amount.Sub(fee),
		Currency:  acct.Currency,
		CreatedAt: at,
	}
	if err := s.db.InsertPayment(payment); err != nil {
		return domain.Payment{}, fmt.Errorf("record payment: %w", err)
	}

	s.append(domain.EventEscrowReleased, audit.Refs{Agent: assignment.AgentID, Task: assignment.TaskID}, map[string]any{
		"escrow_id": acct.ID,
		"gross":     payment.Gross.String(),
		"fee":       payment.Fee.String(),
		"net":       payment.Net.String(),
	})
	return payment, nil
}

// Refund returns the full held amount to the buyer. No fee is charged
// on refunds. Requires the caller to be the task's buyer and no
// unresolved dispute.
func (s *Service) Refund(escrowID, buyerID string) (domain.Payment, error) {
	acct, assignment, err := s.loadHeld(escrowID)
	if err != nil {
		return domain.Payment{}, err
	}
	task, err := s.db.GetTask(assignment.TaskID)
	if err != nil {
		return domain.Payment{}, err
	}
	if task == nil || task.BuyerID != buyerID {
		return domain.Payment{}, domain.ErrPartyMismatch
	}
	if err := s.ensureUnfrozen(assignment.ID); err != nil {
		return domain.Payment{}, err
	}
	return s.refundOut(acct, assignment, buyerID)
}

func (s *Service) refundOut(acct *domain.EscrowAccount, assignment *domain.TaskAssignment, buyerID string) (domain.Payment, error) {
	at := s.now().Truncate(time.Second)
	ok, err := s.db.CloseEscrow(acct.ID, domain.EscrowRefunded, "", at)
	if err != nil {
		return domain.Payment{}, err
	}
	if !ok {
		return domain.Payment{}, domain.ErrInvalidState
	}

	payment := domain.Payment{
		ID:        uuid.NewString(),
		EscrowID:  acct.ID,
		Payee:     buyerID,
		Gross:     acct.Amount,
		Fee:       decimal.Zero,
		Net:       acct.Amount,
		Currency:  acct.Currency,
		CreatedAt: at,
	}
	if err := s.db.InsertPayment(payment); err != nil {
		return domain.Payment{}, fmt.Errorf("record refund: %w", err)
	}

	s.append(domain.EventEscrowRefunded, audit.Refs{Agent: assignment.AgentID, User: buyerID, Task: assignment.TaskID}, map[string]any{
		"escrow_id": acct.ID,
		"amount":    acct.Amount.String(),
	})
	return payment, nil
}

// Split divides a held escrow per a dispute resolution: refund to the
// buyer, payout (minus fee) to the agent. The two amounts must sum to
// the held amount exactly — no rounding slack. The account ends
// SLASHED at the payout amount, recording that funds were clawed back.
func (s *Service) Split(escrowID string, refund, payout decimal.Decimal) (refundP, payoutP domain.Payment, err error) {
	acct, assignment, err := s.loadHeld(escrowID)
	if err != nil {
		return domain.Payment{}, domain.Payment{}, err
	}
	if refund.IsNegative() || payout.IsNegative() {
		return domain.Payment{}, domain.Payment{}, domain.ErrNonPositiveAmount
	}
	if !refund.Add(payout).Equal(acct.Amount) {
		return domain.Payment{}, domain.Payment{}, fmt.Errorf(
			"%w: %s + %s != held %s", domain.ErrSplitMismatch, refund, payout, acct.Amount)
	}
	task, err := s.db.GetTask(assignment.TaskID)
	if err != nil {
		return domain.Payment{}, domain.Payment{}, err
	}
	if task == nil {
		return domain.Payment{}, domain.Payment{}, domain.ErrTaskNotFound
	}

	at := s.now().Truncate(time.Second)
	ok, err := s.db.CloseEscrow(acct.ID, domain.EscrowSlashed, payout.String(), at)
	if err != nil {
		return domain.Payment{}, domain.Payment{}, err
	}
	if !ok {
		return domain.Payment{}, domain.Payment{}, domain.ErrInvalidState
	}

	refundP = domain.Payment{
		ID:        uuid.NewString(),
		EscrowID:  acct.ID,
		Payee:     task.BuyerID,
		Gross:     refund,
		Fee:       decimal.Zero,
		Net:       refund,
		Currency:  acct.Currency,
		CreatedAt: at,
	}
	fee := domain.PlatformFee(payout)
	payoutP = domain.Payment{
		ID:        uuid.NewString(),
		EscrowID:  acct.ID,
		Payee:     assignment.AgentID,
		Gross:     payout,
		Fee:       fee,
		Net:       payout.Sub(fee),
		Currency:  acct.Currency,
		CreatedAt: at,
	}
	if err := s.db.InsertPayment(refundP); err != nil {
		return domain.Payment{}, domain.Payment{}, fmt.Errorf("record split refund: %w", err)
	}
	if err := s.db.InsertPayment(payoutP); err != nil {
		return domain.Payment{}, domain.Payment{}, fmt.Errorf("record split payout: %w", err)
	}

	s.append(domain.EventEscrowSlashed, audit.Refs{Agent: assignment.AgentID, User: task.BuyerID, Task: assignment.TaskID}, map[string]any{
		"escrow_id": acct.ID,
		"refund":    refund.String(),
		"payout":    payout.String(),
		"fee":       fee.String(),
	})
	return refundP, payoutP, nil
}

// Account returns one escrow account.
func (s *Service) Account(escrowID string) (domain.EscrowAccount, error) {
	acct, err := s.db.GetEscrow(escrowID)
	if err != nil {
		return domain.EscrowAccount{}, err
	}
	if acct == nil {
		return domain.EscrowAccount{}, domain.ErrEscrowNotFound
	}
	return *acct, nil
}

// ByAssignment returns the escrow account for an assignment.
func (s *Service) ByAssignment(assignmentID string) (domain.EscrowAccount, error) {
	acct, err := s.db.GetEscrowByAssignment(assignmentID)
	if err != nil {
		return domain.EscrowAccount{}, err
	}
	if acct == nil {
		return domain.EscrowAccount{}, domain.ErrEscrowNotFound
	}
	return *acct, nil
}

// ByParty lists escrow accounts for a buyer or agent.
func (s *Service) ByParty(party domain.Party, id string) ([]domain.EscrowAccount, error) {
	return s.db.EscrowsByParty(party, id)
}

// loadHeld fetches an escrow and its assignment, requiring status HELD.
func (s *Service) loadHeld(escrowID string) (*domain.EscrowAccount, *domain.TaskAssignment, error) {
	acct, err := s.db.GetEscrow(escrowID)
	if err != nil {
		return nil, nil, err
	}
	if acct == nil {
		return nil, nil, domain.ErrEscrowNotFound
	}
	if acct.Status != domain.EscrowHeld {
		return nil, nil, domain.ErrInvalidState
	}
	assignment, err := s.db.GetAssignment(acct.AssignmentID)
	if err != nil {
		return nil, nil, err
	}
	if assignment == nil {
		return nil, nil, fmt.Errorf("assignment %s: %w", acct.AssignmentID, domain.ErrInvalidState)
	}
	return acct, assignment, nil
}

// ensureUnfrozen rejects release/refund while a dispute is unresolved.
// The freeze is procedural: status stays HELD, the operation just fails.
func (s *Service) ensureUnfrozen(assignmentID string) error {
	dp, err := s.db.UnresolvedDisputeForAssignment(assignmentID)
	if err != nil {
		return err
	}
	if dp != nil {
		return fmt.Errorf("dispute %s: %w", dp.ID, domain.ErrEscrowFrozen)
	}
	return nil
}

func (s *Service) append(t domain.EventType, refs audit.Refs, payload any) {
	if _, err := s.log.Append(t, refs, payload); err != nil {
		log.Printf("[escrow] audit append failed for %s: %v", t, err)
	}
}
