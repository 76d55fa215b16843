// Package reputation derives agent trust scores from marketplace
// history. Scores are always recomputed in full from source events —
// assignments, disputes, compliance records, stake positions,
// credentials, and attestations — never patched incrementally.
//
// Overall = 0.30·performance + 0.25·compliance + 0.25·stake +
// 0.20·verification, each sub-score 0-100, materialized per period
// (30d / 90d / 180d / all-time).
package reputation

import (
	"context"
	"fmt"
	"log"
	"math"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/agoralabs/agora/internal/domain"
	"github.com/agoralabs/agora/internal/infra/audit"
	"github.com/agoralabs/agora/internal/infra/sqlite"
)

// Overall weighting.
const (
	weightPerformance  = 0.30
	weightCompliance   = 0.25
	weightStake        = 0.25
	weightVerification = 0.20
)

// Attestation decay half-life.
const attestationHalfLife = 90 * 24 * time.Hour

// Engine computes and stores reputation scores.
type Engine struct {
	db       *sqlite.DB
	verifier domain.CredentialVerifier
	log      *audit.Log
	now      func() time.Time
}

// NewEngine creates the reputation engine.
func NewEngine(db *sqlite.DB, verifier domain.CredentialVerifier, auditLog *audit.Log) *Engine {
	return &Engine{db: db, verifier: verifier, log: auditLog, now: time.Now}
}

// SetClock injects a clock for tests.
func (e *Engine) SetClock(now func() time.Time) { e.now = now }

// Recompute rebuilds and stores the agent's score for every period.
// Called after any event that feeds a sub-score: task completion,
// dispute, compliance record, stake change, attestation change.
func (e *Engine) Recompute(ctx context.Context, agentID string) error {
	for _, period := range domain.Periods {
		score, err := e.Calculate(ctx, agentID, period)
		if err != nil {
			return fmt.Errorf("period %s: %w", period, err)
		}
		if err := e.db.UpsertReputationScore(score); err != nil {
			return fmt.Errorf("store period %s: %w", period, err)
		}
	}
	if _, err := e.log.Append(domain.EventScoreComputed, audit.Refs{Agent: agentID}, map[string]any{
		"periods": len(domain.Periods),
	}); err != nil {
		log.Printf("[reputation] audit append failed for %s: %v", agentID, err)
	}
	return nil
}

// Calculate derives one (agent, period) score from source events.
func (e *Engine) Calculate(ctx context.Context, agentID string, period domain.Period) (domain.ReputationScore, error) {
	if !period.Valid() {
		return domain.ReputationScore{}, fmt.Errorf("period %q: %w", period, domain.ErrInvalidState)
	}
	now := e.now()
	var since time.Time
	if w := period.Window(); w > 0 {
		since = now.Add(-w)
	}

	perf, dims, err := e.performance(agentID, since)
	if err != nil {
		return domain.ReputationScore{}, err
	}
	compliance, err := e.compliance(agentID, since)
	if err != nil {
		return domain.ReputationScore{}, err
	}
	stakeScore, err := e.stakeScore(agentID, since)
	if err != nil {
		return domain.ReputationScore{}, err
	}
	verification, err := e.verification(ctx, agentID, now)
	if err != nil {
		return domain.ReputationScore{}, err
	}

	score := domain.ReputationScore{
		AgentID:      agentID,
		Period:       period,
		Performance:  perf,
		Compliance:   compliance,
		Stake:        stakeScore,
		Verification: verification,
		Dimensions:   dims,
		ComputedAt:   now.Truncate(time.Second),
	}
	score.Overall = clamp(weightPerformance*perf +
		weightCompliance*compliance +
		weightStake*stakeScore +
		weightVerification*verification)
	return score, nil
}

// ─── Sub-scores ─────────────────────────────────────────────────────────────

// performance scores delivery history: 40 points on-time ratio, 30 on
// completion ratio, 30 on average buyer rating. An agent with no
// assignments in the window sits at a neutral 50.
func (e *Engine) performance(agentID string, since time.Time) (float64, domain.Dimensions, error) {
	dims := domain.Dimensions{Reliability: 50, Speed: 50, CostEfficiency: 50, Communication: 50}

	assignments, err := e.db.AssignmentsByAgent(agentID, since)
	if err != nil {
		return 0, dims, err
	}
	if len(assignments) == 0 {
		return 50, dims, nil
	}

	var completed, onTime int
	var ratingSum, ratingCount float64
	var speedSum, speedCount float64
	var costSum, costCount float64

	for _, a := range assignments {
		switch a.Status {
		case domain.AssignmentCompleted, domain.AssignmentCompletedDisputed:
		default:
			continue
		}
		completed++
		if !a.CompletedAt.After(a.SLADueAt) {
			onTime++
		}
		if a.BuyerRating > 0 {
			ratingSum += float64(a.BuyerRating)
			ratingCount++
		}

		// Speed: elapsed fraction of the SLA window. Instant delivery
		// scores 100, delivery exactly at the deadline 50, 2× over 0.
		if window := a.SLADueAt.Sub(a.CreatedAt); window > 0 && !a.CompletedAt.IsZero() {
			ratio := float64(a.CompletedAt.Sub(a.CreatedAt)) / float64(window)
			speedSum += clamp(100 * (1 - ratio/2))
			speedCount++
		}

		// Cost efficiency: discount of the agreed price against budget.
		if budget, err := e.db.TaskBudget(a.TaskID); err == nil {
			if b, perr := parseFloat(budget); perr == nil && b > 0 {
				price, _ := a.AgreedPrice.Float64()
				costSum += clamp(100 * (1 - price/b))
				costCount++
			}
		}
	}

	onTimeRatio := 0.0
	if completed > 0 {
		onTimeRatio = float64(onTime) / float64(completed)
	}
	completionRatio := float64(completed) / float64(len(assignments))
	ratingScore := 0.0
	if ratingCount > 0 {
		ratingScore = (ratingSum/ratingCount - 1) / 4
	}
	perf := clamp(40*onTimeRatio + 30*completionRatio + 30*ratingScore)

	dims.Reliability = clamp(100 * onTimeRatio)
	if speedCount > 0 {
		dims.Speed = speedSum / speedCount
	}
	if costCount > 0 {
		dims.CostEfficiency = costSum / costCount
	}
	if ratingCount > 0 {
		dims.Communication = clamp((ratingSum/ratingCount - 1) * 25)
	}
	return perf, dims, nil
}

// compliance starts at 100 and loses capped deductions: 10 per policy
// denial (max 40), 15 per dispute raised against the agent (max 30),
// 5 per failed execution (max 30).
func (e *Engine) compliance(agentID string, since time.Time) (float64, error) {
	denials, err := e.db.ComplianceEventCount(agentID, domain.CompliancePolicyDenial, since)
	if err != nil {
		return 0, err
	}
	failures, err := e.db.ComplianceEventCount(agentID, domain.ComplianceExecFailure, since)
	if err != nil {
		return 0, err
	}
	disputes, err := e.db.DisputesByAgent(agentID, since)
	if err != nil {
		return 0, err
	}
	score := 100.0 -
		math.Min(40, float64(denials)*10) -
		math.Min(30, float64(len(disputes))*15) -
		math.Min(30, float64(failures)*5)
	return clamp(score), nil
}

// stakeScore rewards skin in the game: up to 50 points on a log scale
// of total active stake, up to 30 for long lockups, and up to 20 for a
// clean slash record. No active stake floors the score at 20.
func (e *Engine) stakeScore(agentID string, since time.Time) (float64, error) {
	positions, err := e.db.ActiveStakePositions(agentID)
	if err != nil {
		return 0, err
	}
	if len(positions) == 0 {
		return 20, nil
	}

	total := 0.0
	lockupDays := 0.0
	for _, p := range positions {
		amt, _ := p.Amount.Float64()
		total += amt
		lockupDays += p.UnlockableAt.Sub(p.LockedAt).Hours() / 24
	}
	avgLockup := lockupDays / float64(len(positions))

	slashes, err := e.db.SlashCountByAgent(agentID, since)
	if err != nil {
		return 0, err
	}

	amountPoints := math.Min(50, 12.5*math.Log10(1+total))
	lockupPoints := 30 * math.Min(1, avgLockup/365)
	cleanPoints := math.Max(0, 20-5*float64(slashes))
	return clamp(amountPoints + lockupPoints + cleanPoints), nil
}

// verification blends the external credential trust score (60%) with
// decayed, attestor-weighted peer attestations (40%). A verifier
// failure degrades to zero credential score rather than blocking the
// whole recompute.
func (e *Engine) verification(ctx context.Context, agentID string, now time.Time) (float64, error) {
	cred := 0.0
	if e.verifier != nil {
		score, err := e.verifier.TrustScore(ctx, agentID)
		if err != nil {
			log.Printf("[reputation] credential verifier failed for %s: %v", agentID, err)
		} else {
			cred = score
		}
	}

	attestations, err := e.db.AttestationsForAgent(agentID)
	if err != nil {
		return 0, err
	}
	var weightSum, valueSum float64
	for _, a := range attestations {
		at := a.CreatedAt
		if !a.UpdatedAt.IsZero() {
			at = a.UpdatedAt
		}
		age := now.Sub(at)
		if age < 0 {
			age = 0
		}
		decay := math.Exp(-math.Ln2 * float64(age) / float64(attestationHalfLife))

		attestor, err := e.attestorWeight(a.AttestorID)
		if err != nil {
			return 0, err
		}
		w := decay * attestor / 100
		weightSum += w
		valueSum += w * float64(a.Score-1) * 25
	}
	att := 0.0
	if weightSum > 0 {
		att = valueSum / weightSum
	}
	return clamp(0.6*cred + 0.4*att), nil
}

// attestorWeight is the attestor's own standing, from performance and
// compliance only. Verification is deliberately excluded so attestation
// weight cannot feed back into itself.
func (e *Engine) attestorWeight(attestorID string) (float64, error) {
	perf, _, err := e.performance(attestorID, time.Time{})
	if err != nil {
		return 0, err
	}
	compliance, err := e.compliance(attestorID, time.Time{})
	if err != nil {
		return 0, err
	}
	return clamp(0.55*perf + 0.45*compliance), nil
}

// ─── Attestations ───────────────────────────────────────────────────────────

// Attest records a peer endorsement and recomputes the subject's score.
func (e *Engine) Attest(ctx context.Context, attestorID, agentID, category string, score int) (domain.Attestation, error) {
	if score < 1 || score > 5 {
		return domain.Attestation{}, fmt.Errorf("score %d out of 1-5: %w", score, domain.ErrInvalidState)
	}
	if attestorID == agentID {
		return domain.Attestation{}, domain.ErrSelfAttestation
	}
	for _, id := range []string{attestorID, agentID} {
		agent, err := e.db.GetAgent(id)
		if err != nil {
			return domain.Attestation{}, err
		}
		if agent == nil {
			return domain.Attestation{}, fmt.Errorf("agent %s: %w", id, domain.ErrAgentNotFound)
		}
	}

	a := domain.Attestation{
		ID:         uuid.NewString(),
		AgentID:    agentID,
		AttestorID: attestorID,
		Category:   category,
		Score:      score,
		CreatedAt:  e.now().Truncate(time.Second),
	}
	if err := e.db.InsertAttestation(a); err != nil {
		return domain.Attestation{}, err
	}
	return a, e.Recompute(ctx, agentID)
}

// Amend rewrites an attestation inside its grace window.
func (e *Engine) Amend(ctx context.Context, attestationID, requesterID, category string, score int) (domain.Attestation, error) {
	a, err := e.mutableAttestation(attestationID, requesterID)
	if err != nil {
		return domain.Attestation{}, err
	}
	if score < 1 || score > 5 {
		return domain.Attestation{}, fmt.Errorf("score %d out of 1-5: %w", score, domain.ErrInvalidState)
	}
	at := e.now().Truncate(time.Second)
	if err := e.db.UpdateAttestation(attestationID, category, score, at); err != nil {
		return domain.Attestation{}, err
	}
	a.Category = category
	a.Score = score
	a.UpdatedAt = at
	return *a, e.Recompute(ctx, a.AgentID)
}

// Retract deletes an attestation inside its grace window.
func (e *Engine) Retract(ctx context.Context, attestationID, requesterID string) error {
	a, err := e.mutableAttestation(attestationID, requesterID)
	if err != nil {
		return err
	}
	if err := e.db.DeleteAttestation(attestationID); err != nil {
		return err
	}
	return e.Recompute(ctx, a.AgentID)
}

func (e *Engine) mutableAttestation(attestationID, requesterID string) (*domain.Attestation, error) {
	a, err := e.db.GetAttestation(attestationID)
	if err != nil {
		return nil, err
	}
	if a == nil {
		return nil, domain.ErrEventNotFound
	}
	if a.AttestorID != requesterID {
		return nil, domain.ErrPartyMismatch
	}
	if e.now().After(a.CreatedAt.Add(domain.AttestationGrace)) {
		return nil, domain.ErrGraceExpired
	}
	return a, nil
}

// ─── Compliance intake ──────────────────────────────────────────────────────

// RecordViolation stores a compliance event and recomputes the score.
func (e *Engine) RecordViolation(ctx context.Context, agentID string, kind domain.ComplianceKind, taskID string) error {
	ev := domain.ComplianceEvent{
		ID:      uuid.NewString(),
		AgentID: agentID,
		Kind:    kind,
		TaskID:  taskID,
		At:      e.now().Truncate(time.Second),
	}
	if err := e.db.InsertComplianceEvent(ev); err != nil {
		return err
	}
	if _, err := e.log.Append(domain.EventProtocolViolation, audit.Refs{Agent: agentID, Task: taskID}, map[string]any{
		"kind": string(kind),
	}); err != nil {
		log.Printf("[reputation] audit append failed for violation on %s: %v", agentID, err)
	}
	return e.Recompute(ctx, agentID)
}

// ─── Queries ────────────────────────────────────────────────────────────────

// Score returns the stored score for (agent, period), computing and
// storing one on demand if none exists yet.
func (e *Engine) Score(ctx context.Context, agentID string, period domain.Period) (domain.ReputationScore, error) {
	stored, err := e.db.GetReputationScore(agentID, period)
	if err != nil {
		return domain.ReputationScore{}, err
	}
	if stored != nil {
		return *stored, nil
	}
	score, err := e.Calculate(ctx, agentID, period)
	if err != nil {
		return domain.ReputationScore{}, err
	}
	return score, e.db.UpsertReputationScore(score)
}

// Leaderboard returns the top agents by overall score for a period.
func (e *Engine) Leaderboard(period domain.Period, limit int) ([]domain.ReputationScore, error) {
	if !period.Valid() {
		return nil, fmt.Errorf("period %q: %w", period, domain.ErrInvalidState)
	}
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	return e.db.Leaderboard(period, limit)
}

// ─── Helpers ────────────────────────────────────────────────────────────────

func clamp(v float64) float64 {
	return math.Max(0, math.Min(100, v))
}

func parseFloat(s string) (float64, error) {
	return strconv.ParseFloat(s, 64)
}
