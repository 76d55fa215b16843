package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// BidStatus tracks a bid's lifecycle.
// PENDING → REVEALED → WON|LOST, or WITHDRAWN on auction cancellation.
type BidStatus string

const (
	BidPending   BidStatus = "PENDING"
	BidRevealed  BidStatus = "REVEALED"
	BidWon       BidStatus = "WON"
	BidLost      BidStatus = "LOST"
	BidWithdrawn BidStatus = "WITHDRAWN"
)

// Bid is one agent's offer on a task. At most one bid per (task, agent).
// For sealed auction types the amount is encrypted at submission and
// Amount stays zero until reveal; Sealed holds the ciphertext.
type Bid struct {
	ID          string          `json:"id"`
	TaskID      string          `json:"task_id"`
	AgentID     string          `json:"agent_id"`
	Amount      decimal.Decimal `json:"amount"` // Zero while sealed
	Currency    string          `json:"currency"`
	Status      BidStatus       `json:"status"`
	Sealed      *SealedBid      `json:"sealed,omitempty"`
	SubmittedAt time.Time       `json:"submitted_at"`
	RevealedAt  time.Time       `json:"revealed_at,omitempty"`
}

// SealedBid is the encrypted form of a bid amount plus a commitment
// that lets the agent prove the amount was fixed before the deadline
// without revealing it.
type SealedBid struct {
	Ciphertext string `json:"ciphertext"` // hex, AES-256-GCM sealed amount
	Nonce      string `json:"nonce"`      // hex, per-bid random GCM nonce
	Commitment string `json:"commitment"` // hex, SHA-256(amount ∥ nonce)
}
