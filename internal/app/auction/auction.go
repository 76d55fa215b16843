// Package auction runs the task marketplace: auction lifecycle, bid
// intake with eligibility screening, sealed-bid confidentiality, and
// winner resolution with escrow creation on award.
package auction

import (
	"errors"
	"fmt"
	"log"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/agoralabs/agora/internal/app/eligibility"
	"github.com/agoralabs/agora/internal/app/escrow"
	"github.com/agoralabs/agora/internal/domain"
	"github.com/agoralabs/agora/internal/infra/audit"
	"github.com/agoralabs/agora/internal/infra/sqlite"
)

// DefaultSLA is the work deadline granted to the winner, measured from
// award time, when the task does not carry its own.
const DefaultSLA = 7 * 24 * time.Hour

// Service orchestrates auctions from task creation to award.
type Service struct {
	db     *sqlite.DB
	log    *audit.Log
	escrow *escrow.Service
	elig   *eligibility.Filter
	sla    time.Duration
	now    func() time.Time

	mu  sync.Mutex // Guards rnd; tie-breaks are rare
	rnd *rand.Rand
}

// NewService creates the auction service.
func NewService(db *sqlite.DB, auditLog *audit.Log, esc *escrow.Service, elig *eligibility.Filter) *Service {
	return &Service{
		db:     db,
		log:    auditLog,
		escrow: esc,
		elig:   elig,
		sla:    DefaultSLA,
		now:    time.Now,
		rnd:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// SetClock injects a clock for tests.
func (s *Service) SetClock(now func() time.Time) { s.now = now }

// SetTieBreakSeed fixes the random tie-break for tests.
func (s *Service) SetTieBreakSeed(seed int64) { s.rnd = rand.New(rand.NewSource(seed)) }

// SetSLA overrides the default work deadline.
func (s *Service) SetSLA(d time.Duration) { s.sla = d }

// CreateTask registers a new task in DRAFT.
func (s *Service) CreateTask(task domain.Task) (domain.Task, error) {
	if !task.MaxBudget.IsPositive() {
		return domain.Task{}, domain.ErrNonPositiveAmount
	}
	switch task.AuctionType {
	case domain.AuctionDirect, domain.AuctionSealedBid, domain.AuctionVickrey:
	default:
		return domain.Task{}, fmt.Errorf("auction type %q: %w", task.AuctionType, domain.ErrInvalidState)
	}
	if task.ID == "" {
		task.ID = uuid.NewString()
	}
	task.Status = domain.TaskDraft
	task.CreatedAt = s.now().Truncate(time.Second)
	if err := s.db.InsertTask(task); err != nil {
		return domain.Task{}, err
	}
	return task, nil
}

// OpenAuction moves a DRAFT task to OPEN with a bidding deadline.
func (s *Service) OpenAuction(taskID string, window time.Duration) (domain.Task, error) {
	task, err := s.task(taskID)
	if err != nil {
		return domain.Task{}, err
	}
	if window <= 0 {
		return domain.Task{}, fmt.Errorf("auction window %s: %w", window, domain.ErrInvalidState)
	}
	deadline := s.now().Add(window).Truncate(time.Second)
	ok, err := s.db.TransitionTask(taskID, domain.TaskDraft, domain.TaskOpen, deadline)
	if err != nil {
		return domain.Task{}, err
	}
	if !ok {
		return domain.Task{}, fmt.Errorf("task %s is %s: %w", taskID, task.Status, domain.ErrInvalidState)
	}
	task.Status = domain.TaskOpen
	task.Deadline = deadline

	s.append(domain.EventAuctionCreated, audit.Refs{User: task.BuyerID, Task: taskID}, map[string]any{
		"auction_type": string(task.AuctionType),
		"max_budget":   task.MaxBudget.String(),
		"deadline":     deadline.Unix(),
	})
	return *task, nil
}

// SubmitBid places an agent's bid on an open auction. For sealed types
// the amount is encrypted before it touches storage and the recorded
// audit payload carries only the commitment.
func (s *Service) SubmitBid(taskID, agentID string, amount decimal.Decimal) (domain.Bid, error) {
	task, err := s.task(taskID)
	if err != nil {
		return domain.Bid{}, err
	}
	now := s.now()
	if task.Status != domain.TaskOpen || !now.Before(task.Deadline) {
		return domain.Bid{}, domain.ErrAuctionClosed
	}
	if !amount.IsPositive() {
		return domain.Bid{}, domain.ErrNonPositiveAmount
	}
	if amount.GreaterThan(task.MaxBudget) {
		return domain.Bid{}, fmt.Errorf("bid %s over budget %s: %w",
			amount, task.MaxBudget, domain.ErrBudgetExceeded)
	}

	agent, err := s.db.GetAgent(agentID)
	if err != nil {
		return domain.Bid{}, err
	}
	if agent == nil {
		return domain.Bid{}, domain.ErrAgentNotFound
	}
	reasons, err := s.elig.Check(*task, *agent)
	if err != nil {
		return domain.Bid{}, err
	}
	if len(reasons) > 0 {
		return domain.Bid{}, fmt.Errorf("%w: %v", domain.ErrNotEligible, reasons)
	}

	bid := domain.Bid{
		ID:          uuid.NewString(),
		TaskID:      taskID,
		AgentID:     agentID,
		Currency:    task.Currency,
		Status:      domain.BidPending,
		SubmittedAt: now.Truncate(time.Second),
	}
	payload := map[string]any{"bid_id": bid.ID}
	if task.AuctionType.Sealed() {
		sealed, err := sealBid(taskID, amount)
		if err != nil {
			return domain.Bid{}, fmt.Errorf("seal bid: %w", err)
		}
		bid.Sealed = sealed
		payload["commitment"] = sealed.Commitment
	} else {
		bid.Amount = amount
		payload["amount"] = amount.String()
	}

	if err := s.db.InsertBid(bid); err != nil {
		return domain.Bid{}, err
	}
	s.append(domain.EventBidSubmitted, audit.Refs{Agent: agentID, Task: taskID}, payload)
	return bid, nil
}

// CloseAuction resolves an open auction after its deadline: reveals
// sealed bids, picks the winner, creates the assignment and escrow.
// Returns nil with the task CLOSED when no countable bids exist.
func (s *Service) CloseAuction(taskID string) (*domain.TaskAssignment, error) {
	task, err := s.task(taskID)
	if err != nil {
		return nil, err
	}
	if task.Status != domain.TaskOpen {
		return nil, fmt.Errorf("task %s is %s: %w", taskID, task.Status, domain.ErrInvalidState)
	}
	now := s.now()
	if task.AuctionType.Sealed() && now.Before(task.Deadline) {
		// Closing early would force reveal before the deadline.
		return nil, fmt.Errorf("auction open until %s: %w", task.Deadline, domain.ErrPrematureReveal)
	}

	bids, err := s.db.BidsForTask(taskID)
	if err != nil {
		return nil, err
	}
	candidates, err := s.countableBids(task, bids)
	if err != nil {
		return nil, err
	}

	if len(candidates) == 0 {
		if _, err := s.db.TransitionTask(taskID, domain.TaskOpen, domain.TaskClosed, time.Time{}); err != nil {
			return nil, err
		}
		s.append(domain.EventAuctionClosed, audit.Refs{User: task.BuyerID, Task: taskID}, map[string]any{
			"bids":   len(bids),
			"winner": "",
		})
		return nil, nil
	}

	s.mu.Lock()
	result, err := resolve(candidates, task.AuctionType, s.reputationOf, s.rnd)
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}

	// The status flip is the commit point: exactly one closer wins it.
	ok, err := s.db.TransitionTask(taskID, domain.TaskOpen, domain.TaskAssigned, time.Time{})
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("task %s: concurrent close: %w", taskID, domain.ErrInvalidState)
	}

	at := now.Truncate(time.Second)
	assignment := domain.TaskAssignment{
		ID:          uuid.NewString(),
		TaskID:      taskID,
		AgentID:     result.Winner.AgentID,
		BidID:       result.Winner.ID,
		AgreedPrice: result.Price,
		Currency:    task.Currency,
		SLADueAt:    at.Add(s.sla),
		Status:      domain.AssignmentActive,
		CreatedAt:   at,
	}
	if err := s.db.InsertAssignment(assignment); err != nil {
		return nil, fmt.Errorf("create assignment: %w", err)
	}

	for _, b := range bids {
		status := domain.BidLost
		if b.ID == result.Winner.ID {
			status = domain.BidWon
		}
		if err := s.db.UpdateBidStatus(b.ID, status); err != nil {
			return nil, err
		}
	}

	if _, err := s.escrow.Hold(assignment.ID, result.Price, task.Currency); err != nil &&
		!errors.Is(err, domain.ErrAlreadyExists) {
		return nil, fmt.Errorf("hold escrow: %w", err)
	}

	s.append(domain.EventAuctionClosed, audit.Refs{User: task.BuyerID, Task: taskID}, map[string]any{
		"bids":   len(bids),
		"winner": result.Winner.AgentID,
	})
	s.append(domain.EventTaskAwarded, audit.Refs{Agent: result.Winner.AgentID, User: task.BuyerID, Task: taskID}, map[string]any{
		"assignment_id": assignment.ID,
		"bid_id":        result.Winner.ID,
		"agreed_price":  result.Price.String(),
	})
	return &assignment, nil
}

// countableBids reveals sealed bids and filters to those that may enter
// winner resolution. A bid that fails authentication, or that was
// revealed before the deadline, is excluded and logged as a protocol
// violation — never counted, never silently accepted.
func (s *Service) countableBids(task *domain.Task, bids []domain.Bid) ([]domain.Bid, error) {
	var out []domain.Bid
	for _, b := range bids {
		switch {
		case !task.AuctionType.Sealed():
			if b.Status == domain.BidPending {
				out = append(out, b)
			}

		case b.Status == domain.BidPending && b.Sealed != nil:
			amount, err := openBid(task.ID, b.Sealed)
			if err != nil {
				if errors.Is(err, domain.ErrIntegrityViolation) {
					s.violation(task, b, err.Error())
					if uerr := s.db.UpdateBidStatus(b.ID, domain.BidLost); uerr != nil {
						return nil, uerr
					}
					continue
				}
				return nil, err
			}
			at := s.now().Truncate(time.Second)
			if err := s.db.RevealBid(b.ID, amount.String(), at); err != nil {
				return nil, err
			}
			b.Amount = amount
			b.Status = domain.BidRevealed
			b.RevealedAt = at
			s.append(domain.EventBidRevealed, audit.Refs{Agent: b.AgentID, Task: task.ID}, map[string]any{
				"bid_id": b.ID,
				"amount": amount.String(),
			})
			out = append(out, b)

		case b.Status == domain.BidRevealed:
			if b.RevealedAt.Before(task.Deadline) {
				s.violation(task, b, "bid revealed before auction deadline")
				if err := s.db.UpdateBidStatus(b.ID, domain.BidLost); err != nil {
					return nil, err
				}
				continue
			}
			out = append(out, b)
		}
	}
	return out, nil
}

func (s *Service) violation(task *domain.Task, b domain.Bid, detail string) {
	log.Printf("[auction] protocol violation on task %s bid %s: %s", task.ID, b.ID, detail)
	s.append(domain.EventProtocolViolation, audit.Refs{Agent: b.AgentID, Task: task.ID}, map[string]any{
		"bid_id": b.ID,
		"detail": detail,
	})
}

// CancelAuction withdraws an open auction and all its bids. Returns
// false without error when the task exists but is already past OPEN —
// cancellation is idempotent from the caller's view.
func (s *Service) CancelAuction(taskID string) (bool, error) {
	task, err := s.task(taskID)
	if err != nil {
		return false, err
	}
	from := domain.TaskOpen
	if task.Status == domain.TaskDraft {
		from = domain.TaskDraft
	}
	ok, err := s.db.TransitionTask(taskID, from, domain.TaskCancelled, time.Time{})
	if err != nil || !ok {
		return false, err
	}
	if err := s.db.WithdrawBids(taskID); err != nil {
		return false, err
	}
	s.append(domain.EventAuctionCancelled, audit.Refs{User: task.BuyerID, Task: taskID}, nil)
	return true, nil
}

// Complete marks an assignment finished with the buyer's 1-5 rating.
func (s *Service) Complete(assignmentID string, rating int) (domain.TaskAssignment, error) {
	if rating < 1 || rating > 5 {
		return domain.TaskAssignment{}, fmt.Errorf("rating %d: %w", rating, domain.ErrInvalidState)
	}
	assignment, err := s.db.GetAssignment(assignmentID)
	if err != nil {
		return domain.TaskAssignment{}, err
	}
	if assignment == nil {
		return domain.TaskAssignment{}, domain.ErrTaskNotFound
	}
	at := s.now().Truncate(time.Second)
	ok, err := s.db.CompleteAssignment(assignmentID, rating, at)
	if err != nil {
		return domain.TaskAssignment{}, err
	}
	if !ok {
		return domain.TaskAssignment{}, fmt.Errorf("assignment %s is %s: %w",
			assignmentID, assignment.Status, domain.ErrInvalidState)
	}
	assignment.Status = domain.AssignmentCompleted
	assignment.CompletedAt = at
	assignment.BuyerRating = rating
	return *assignment, nil
}

// Task returns a task by ID.
func (s *Service) Task(taskID string) (domain.Task, error) {
	t, err := s.task(taskID)
	if err != nil {
		return domain.Task{}, err
	}
	return *t, nil
}

// Bids returns a task's bids for presentation. While a sealed auction
// is still OPEN the amounts and ciphertexts are stripped — only the
// commitments are visible.
func (s *Service) Bids(taskID string) ([]domain.Bid, error) {
	task, err := s.task(taskID)
	if err != nil {
		return nil, err
	}
	bids, err := s.db.BidsForTask(taskID)
	if err != nil {
		return nil, err
	}
	if task.AuctionType.Sealed() && task.Status == domain.TaskOpen {
		for i := range bids {
			bids[i].Amount = decimal.Zero
			if bids[i].Sealed != nil {
				bids[i].Sealed = &domain.SealedBid{Commitment: bids[i].Sealed.Commitment}
			}
		}
	}
	return bids, nil
}

// Assignment returns an assignment by ID.
func (s *Service) Assignment(assignmentID string) (domain.TaskAssignment, error) {
	a, err := s.db.GetAssignment(assignmentID)
	if err != nil {
		return domain.TaskAssignment{}, err
	}
	if a == nil {
		return domain.TaskAssignment{}, domain.ErrTaskNotFound
	}
	return *a, nil
}

func (s *Service) task(taskID string) (*domain.Task, error) {
	task, err := s.db.GetTask(taskID)
	if err != nil {
		return nil, err
	}
	if task == nil {
		return nil, domain.ErrTaskNotFound
	}
	return task, nil
}

// reputationOf is the tie-break lookup: current all-time overall score.
func (s *Service) reputationOf(agentID string) (float64, bool) {
	score, err := s.db.GetReputationScore(agentID, domain.PeriodAll)
	if err != nil || score == nil {
		return 0, false
	}
	return score.Overall, true
}

func (s *Service) append(t domain.EventType, refs audit.Refs, payload any) {
	if _, err := s.log.Append(t, refs, payload); err != nil {
		log.Printf("[auction] audit append failed for %s: %v", t, err)
	}
}
