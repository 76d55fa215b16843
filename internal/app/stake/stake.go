// Package stake manages agent collateral: locked positions, lockup
// enforcement, and slashing. Stake is skin in the game — eligibility
// requires a minimum stake proportional to task value, and misbehavior
// burns it oldest-position-first.
package stake

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

// Required-stake tiers: the percentage of task value an agent must have
// locked, by reputation band. Unknown agents pay the worst rate.
var (
	tier90 = decimal.NewFromFloat(0.05)
	tier75 = decimal.NewFromFloat(0.10)
	tier60 = decimal.NewFromFloat(0.15)
	tier40 = decimal.NewFromFloat(0.20)
	tier0  = decimal.NewFromFloat(0.25)
)

// Required returns the minimum total active stake for a task of the
// given value. hasScore is false for agents with no reputation record,
// who are treated as the lowest band.
func Required(taskValue decimal.Decimal, overall float64, hasScore bool) decimal.Decimal {
	rate := tier0
	if hasScore {
		switch {
		case overall >= 90:
			rate = tier90
		case overall >= 75:
			rate = tier75
		case overall >= 60:
			rate = tier60
		case overall >= 40:
			rate = tier40
		}
	}
	return taskValue.Mul(rate)
}

// Service owns stake position lifecycle.
type Service struct {
	db  *sqlite.DB
	log *audit.Log
	now func() time.Time
}

// NewService creates the staking service.
func NewService(db *sqlite.DB, auditLog *audit.Log) *Service {
	return &Service{db: db, log: auditLog, now: time.Now}
}

// SetClock injects a clock for tests.
func (s *Service) SetClock(now func() time.Time) { s.now = now }

// Lock deposits a new stake position for an agent.
func (s *Service) Lock(agentID string, amount decimal.Decimal, currency string, lockup time.Duration) (domain.StakePosition, error) {
	if !amount.IsPositive() {
		return domain.StakePosition{}, domain.ErrNonPositiveAmount
	}
	if lockup < domain.MinLockup {
		return domain.StakePosition{}, domain.ErrLockupTooShort
	}
	agent, err := s.db.GetAgent(agentID)
	if err != nil {
		return domain.StakePosition{}, err
	}
	if agent == nil {
		return domain.StakePosition{}, domain.ErrAgentNotFound
	}

	now := s.now().Truncate(time.Second)
	pos := domain.StakePosition{
		ID:           uuid.NewString(),
		AgentID:      agentID,
		Amount:       amount,
		Currency:     currency,
		LockedAt:     now,
		UnlockableAt: now.Add(lockup),
		Status:       domain.StakeActive,
	}
	if err := s.db.InsertStakePosition(pos); err != nil {
		return domain.StakePosition{}, fmt.Errorf("insert position: %w", err)
	}

	_, err = s.log.Append(domain.EventStakeLocked, audit.Refs{Agent: agentID}, map[string]any{
		"position_id":   pos.ID,
		"amount":        amount.String(),
		"currency":      currency,
		"unlockable_at": pos.UnlockableAt.Unix(),
	})
	if err != nil {
		log.Printf("[stake] audit append failed for lock %s: %v", pos.ID, err)
	}
	return pos, nil
}

// Unlock withdraws a position whose lockup has elapsed.
func (s *Service) Unlock(positionID string) (domain.StakePosition, error) {
	pos, err := s.db.GetStakePosition(positionID)
	if err != nil {
		return domain.StakePosition{}, err
	}
	if pos == nil {
		return domain.StakePosition{}, domain.ErrPositionNotFound
	}
	if pos.Status != domain.StakeActive {
		return domain.StakePosition{}, domain.ErrInvalidState
	}
	if !pos.Unlockable(s.now()) {
		return domain.StakePosition{}, domain.ErrStakeLocked
	}

	if err := s.db.UpdateStakePosition(pos.ID, pos.Amount.String(), domain.StakeWithdrawn); err != nil {
		return domain.StakePosition{}, err
	}
	pos.Status = domain.StakeWithdrawn

	_, err = s.log.Append(domain.EventStakeWithdrawn, audit.Refs{Agent: pos.AgentID}, map[string]any{
		"position_id": pos.ID,
		"amount":      pos.Amount.String(),
	})
	if err != nil {
		log.Printf("[stake] audit append failed for unlock %s: %v", pos.ID, err)
	}
	return *pos, nil
}

// Position returns one position with its slash history.
func (s *Service) Position(positionID string) (domain.StakePosition, error) {
	pos, err := s.db.GetStakePosition(positionID)
	if err != nil {
		return domain.StakePosition{}, err
	}
	if pos == nil {
		return domain.StakePosition{}, domain.ErrPositionNotFound
	}
	return *pos, nil
}

// TotalActive sums an agent's ACTIVE stake.
func (s *Service) TotalActive(agentID string) (decimal.Decimal, error) {
	positions, err := s.db.ActiveStakePositions(agentID)
	if err != nil {
		return decimal.Zero, err
	}
	total := decimal.Zero
	for _, p := range positions {
		total = total.Add(p.Amount)
	}
	return total, nil
}

// Slash burns up to amount from an agent's active positions, oldest
// first. Positions are reduced, never driven negative; a position
// drained to zero flips to SLASHED. Returns the amount actually burned,
// which is less than requested when total stake is insufficient.
func (s *Service) Slash(agentID string, amount decimal.Decimal, reason, taskID string) (decimal.Decimal, error) {
	if !amount.IsPositive() {
		return decimal.Zero, domain.ErrNonPositiveAmount
	}
	positions, err := s.db.ActiveStakePositions(agentID)
	if err != nil {
		return decimal.Zero, err
	}

	at := s.now().Truncate(time.Second)
	remaining := amount
	burned := decimal.Zero

	for _, pos := range positions {
		if !remaining.IsPositive() {
			break
		}
		take := pos.Amount
		if remaining.LessThan(take) {
			take = remaining
		}
		left := pos.Amount.Sub(take)

		status := domain.StakeActive
		if left.IsZero() {
			status = domain.StakeSlashed
		}
		if err := s.db.UpdateStakePosition(pos.ID, left.String(), status); err != nil {
			return burned, fmt.Errorf("update position %s: %w", pos.ID, err)
		}
		ev := domain.SlashEvent{At: at, Amount: take, Reason: reason, TaskID: taskID}
		if err := s.db.AppendSlash(pos.ID, ev); err != nil {
			return burned, fmt.Errorf("record slash on %s: %w", pos.ID, err)
		}

		remaining = remaining.Sub(take)
		burned = burned.Add(take)
	}

	_, err = s.log.Append(domain.EventStakeSlashed, audit.Refs{Agent: agentID, Task: taskID}, map[string]any{
		"requested": amount.String(),
		"burned":    burned.String(),
		"reason":    reason,
	})
	if err != nil {
		log.Printf("[stake] audit append failed for slash of %s: %v", agentID, err)
	}
	if burned.LessThan(amount) {
		log.Printf("[stake] partial slash for %s: requested %s, burned %s", agentID, amount, burned)
	}
	return burned, nil
}
