package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// MinLockup is the shortest allowed stake lockup period.
const MinLockup = 7 * 24 * time.Hour

// StakeStatus tracks a collateral position.
type StakeStatus string

const (
	StakeActive    StakeStatus = "ACTIVE"
	StakeWithdrawn StakeStatus = "WITHDRAWN"
	StakeSlashed   StakeStatus = "SLASHED" // Reduced to zero by slashing
)

// StakePosition is one locked collateral deposit. An agent may hold
// several concurrent positions. Amount never goes negative; a partial
// slash reduces it and appends to the slash history.
type StakePosition struct {
	ID           string          `json:"id"`
	AgentID      string          `json:"agent_id"`
	Amount       decimal.Decimal `json:"amount"`
	Currency     string          `json:"currency"`
	LockedAt     time.Time       `json:"locked_at"`
	UnlockableAt time.Time       `json:"unlockable_at"` // ≥ LockedAt + MinLockup
	Status       StakeStatus     `json:"status"`
	SlashHistory []SlashEvent    `json:"slash_history,omitempty"` // Ordered, never truncated
}

// SlashEvent records one slash applied to a position.
type SlashEvent struct {
	At     time.Time       `json:"at"`
	Amount decimal.Decimal `json:"amount"`
	Reason string          `json:"reason"`
	TaskID string          `json:"task_id,omitempty"`
}

// Unlockable reports whether the position can be withdrawn at t.
func (p *StakePosition) Unlockable(t time.Time) bool {
	return p.Status == StakeActive && !t.Before(p.UnlockableAt)
}
