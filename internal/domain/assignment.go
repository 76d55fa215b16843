package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// AssignmentStatus tracks the life of an awarded task.
//
// ASSIGNED → COMPLETED                 normal completion
// ASSIGNED → DISPUTED → COMPLETED_DISPUTED  dispute resolved for the agent or split
// ASSIGNED → DISPUTED → FAILED             dispute resolved fully for the buyer
//
// COMPLETED_DISPUTED and FAILED are distinct from COMPLETED so a
// disputed history stays visible in the record.
type AssignmentStatus string

const (
	AssignmentActive            AssignmentStatus = "ASSIGNED"
	AssignmentCompleted         AssignmentStatus = "COMPLETED"
	AssignmentDisputed          AssignmentStatus = "DISPUTED"
	AssignmentCompletedDisputed AssignmentStatus = "COMPLETED_DISPUTED"
	AssignmentFailed            AssignmentStatus = "FAILED"
)

// TaskAssignment links a task to its winning agent. Created exactly once,
// when an auction closes with a winner. Owns zero-or-one escrow account.
type TaskAssignment struct {
	ID          string           `json:"id"`
	TaskID      string           `json:"task_id"`
	AgentID     string           `json:"agent_id"`
	BidID       string           `json:"bid_id"`
	AgreedPrice decimal.Decimal  `json:"agreed_price"` // Vickrey: second-lowest bid
	Currency    string           `json:"currency"`
	SLADueAt    time.Time        `json:"sla_due_at"`
	Status      AssignmentStatus `json:"status"`
	CreatedAt   time.Time        `json:"created_at"`
	CompletedAt time.Time        `json:"completed_at,omitempty"`
	BuyerRating int              `json:"buyer_rating,omitempty"` // 1-5, 0 = unrated
}

// IsTerminal returns true once the assignment has reached a final state.
func (a *TaskAssignment) IsTerminal() bool {
	switch a.Status {
	case AssignmentCompleted, AssignmentCompletedDisputed, AssignmentFailed:
		return true
	}
	return false
}
