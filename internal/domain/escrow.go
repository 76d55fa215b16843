package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// EscrowStatus is the escrow state machine:
// HELD --release--> RELEASED ; HELD --refund--> REFUNDED ;
// HELD --slash--> SLASHED (amount reduced).
// Terminal states are immutable. "Freeze" is procedural — an open
// dispute blocks release/refund while status stays HELD.
type EscrowStatus string

const (
	EscrowHeld     EscrowStatus = "HELD"
	EscrowReleased EscrowStatus = "RELEASED"
	EscrowRefunded EscrowStatus = "REFUNDED"
	EscrowSlashed  EscrowStatus = "SLASHED"
)

// EscrowAccount holds funds for exactly one task assignment.
type EscrowAccount struct {
	ID           string          `json:"id"`
	AssignmentID string          `json:"assignment_id"`
	Amount       decimal.Decimal `json:"amount"`
	Currency     string          `json:"currency"`
	Status       EscrowStatus    `json:"status"`
	HeldAt       time.Time       `json:"held_at"`
	ClosedAt     time.Time       `json:"closed_at,omitempty"` // Release/refund/slash time
}

// Payment records the money movement produced by a release:
// gross escrow amount, tiered platform fee, and net creator earnings.
// SettledAt/SettlementRef are filled by the settlement batch.
type Payment struct {
	ID            string          `json:"id"`
	EscrowID      string          `json:"escrow_id"`
	Payee         string          `json:"payee"` // Agent for releases, buyer for refunds
	Gross         decimal.Decimal `json:"gross"`
	Fee           decimal.Decimal `json:"fee"`
	Net           decimal.Decimal `json:"net"`
	Currency      string          `json:"currency"`
	CreatedAt     time.Time       `json:"created_at"`
	SettledAt     time.Time       `json:"settled_at,omitempty"`
	SettlementRef string          `json:"settlement_ref,omitempty"`
}

// Platform fee brackets by absolute escrow amount. Smaller jobs carry a
// higher fee percentage, mirroring the payment-rail fixed-cost floor.
var (
	feeBracket100  = decimal.NewFromInt(100)
	feeBracket500  = decimal.NewFromInt(500)
	feeBracket1000 = decimal.NewFromInt(1000)

	feeRate25 = decimal.NewFromFloat(0.25)
	feeRate20 = decimal.NewFromFloat(0.20)
	feeRate18 = decimal.NewFromFloat(0.18)
	feeRate15 = decimal.NewFromFloat(0.15)
)

// PlatformFee computes the tiered fee on a released escrow amount:
// ≤100 → 25%, ≤500 → 20%, ≤1000 → 18%, else 15%.
func PlatformFee(amount decimal.Decimal) decimal.Decimal {
	var rate decimal.Decimal
	switch {
	case amount.LessThanOrEqual(feeBracket100):
		rate = feeRate25
	case amount.LessThanOrEqual(feeBracket500):
		rate = feeRate20
	case amount.LessThanOrEqual(feeBracket1000):
		rate = feeRate18
	default:
		rate = feeRate15
	}
	return amount.Mul(rate)
}
