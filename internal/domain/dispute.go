package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// DisputeStatus: OPEN → INVESTIGATING (on first evidence) → RESOLVED.
type DisputeStatus string

const (
	DisputeOpen          DisputeStatus = "OPEN"
	DisputeInvestigating DisputeStatus = "INVESTIGATING"
	DisputeResolved      DisputeStatus = "RESOLVED"
)

// Party identifies which side of an assignment submitted evidence or
// raised the dispute.
type Party string

const (
	PartyBuyer Party = "buyer"
	PartyAgent Party = "agent"
)

// Decision is the arbitration outcome.
type Decision string

const (
	DecisionBuyer Decision = "buyer" // Full refund
	DecisionAgent Decision = "agent" // Full release
	DecisionSplit Decision = "split" // Refund + payout, sums to escrow exactly
)

// Evidence is one submitted item in a dispute's evidence bundle.
type Evidence struct {
	Party       Party     `json:"party"`
	Description string    `json:"description"`
	URI         string    `json:"uri,omitempty"`
	SubmittedAt time.Time `json:"submitted_at"`
}

// Dispute bridges an assignment's escrow and a human arbitration
// decision. At most one dispute per assignment at a time; while it is
// unresolved the escrow cannot be released or refunded.
type Dispute struct {
	ID           string        `json:"id"`
	AssignmentID string        `json:"assignment_id"`
	Reason       string        `json:"reason"`
	RaisedBy     Party         `json:"raised_by"`
	Status       DisputeStatus `json:"status"`
	Evidence     []Evidence    `json:"evidence,omitempty"`
	CreatedAt    time.Time     `json:"created_at"`

	// Resolution, set exactly once.
	Decision     Decision        `json:"decision,omitempty"`
	Resolution   string          `json:"resolution,omitempty"`
	RefundAmount decimal.Decimal `json:"refund_amount,omitempty"` // Split only
	PayoutAmount decimal.Decimal `json:"payout_amount,omitempty"` // Split only
	ResolvedAt   time.Time       `json:"resolved_at,omitempty"`
}
