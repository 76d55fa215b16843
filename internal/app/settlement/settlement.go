// Package settlement executes recorded payments against the external
// payment rail in batches. Payments are created by escrow releases and
// refunds; settlement is the asynchronous step that actually moves
// money. Rail transfers are idempotent on payment ID, so a crashed
// batch re-runs safely.
package settlement

import (
	"context"
	"fmt"
	"log"
	"strconv"
	"time"

	"github.com/agoralabs/agora/internal/domain"
	"github.com/agoralabs/agora/internal/infra/audit"
	"github.com/agoralabs/agora/internal/infra/sqlite"
)

// DefaultBatchSize bounds one settlement run.
const DefaultBatchSize = 500

const lastRunKey = "settlement.last_run"

// Report summarizes one settlement run.
type Report struct {
	Processed int       `json:"processed"`
	Settled   int       `json:"settled"`
	Failed    int       `json:"failed"`
	RanAt     time.Time `json:"ran_at"`
}

// Service runs settlement batches.
type Service struct {
	db    *sqlite.DB
	rail  domain.PaymentRail
	log   *audit.Log
	batch int
	now   func() time.Time
}

// NewService creates the settlement service.
func NewService(db *sqlite.DB, rail domain.PaymentRail, auditLog *audit.Log) *Service {
	return &Service{db: db, rail: rail, log: auditLog, batch: DefaultBatchSize, now: time.Now}
}

// SetClock injects a clock for tests.
func (s *Service) SetClock(now func() time.Time) { s.now = now }

// SetBatchSize overrides the per-run payment cap.
func (s *Service) SetBatchSize(n int) {
	if n > 0 {
		s.batch = n
	}
}

// Run settles up to one batch of pending payments. A failed transfer is
// logged and left unsettled for the next run; it never aborts the batch.
func (s *Service) Run(ctx context.Context) (Report, error) {
	at := s.now().Truncate(time.Second)
	report := Report{RanAt: at}

	payments, err := s.db.UnsettledPayments(s.batch)
	if err != nil {
		return report, fmt.Errorf("list unsettled: %w", err)
	}
	report.Processed = len(payments)

	for _, p := range payments {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		ref, err := s.rail.Transfer(ctx, p)
		if err != nil {
			report.Failed++
			log.Printf("[settlement] transfer failed for payment %s (%s to %s): %v",
				p.ID, p.Net, p.Payee, err)
			continue
		}
		if err := s.db.MarkPaymentSettled(p.ID, ref, s.now().Truncate(time.Second)); err != nil {
			return report, fmt.Errorf("mark settled %s: %w", p.ID, err)
		}
		report.Settled++
	}

	if err := s.db.SetInfo(lastRunKey, strconv.FormatInt(at.Unix(), 10)); err != nil {
		log.Printf("[settlement] record last run: %v", err)
	}
	if _, err := s.log.Append(domain.EventSettlementRun, audit.Refs{}, report); err != nil {
		log.Printf("[settlement] audit append failed: %v", err)
	}
	return report, nil
}

// LastRun returns the time of the most recent run (zero if never).
func (s *Service) LastRun() (time.Time, error) {
	v, err := s.db.GetInfo(lastRunKey)
	if err != nil || v == "" {
		return time.Time{}, err
	}
	ts, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return time.Time{}, err
	}
	return time.Unix(ts, 0), nil
}
