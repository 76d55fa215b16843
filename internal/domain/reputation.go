package domain

import "time"

// Period selects the event window a reputation score is derived from.
type Period string

const (
	Period30d  Period = "30d"
	Period90d  Period = "90d"
	Period180d Period = "180d"
	PeriodAll  Period = "all"
)

// Periods lists every score window, in recomputation order.
var Periods = []Period{Period30d, Period90d, Period180d, PeriodAll}

// Window returns the period's duration; 0 means all-time.
func (p Period) Window() time.Duration {
	switch p {
	case Period30d:
		return 30 * 24 * time.Hour
	case Period90d:
		return 90 * 24 * time.Hour
	case Period180d:
		return 180 * 24 * time.Hour
	}
	return 0
}

// Valid reports whether p is a known period.
func (p Period) Valid() bool {
	switch p {
	case Period30d, Period90d, Period180d, PeriodAll:
		return true
	}
	return false
}

// ReputationScore is one row per (agent, period). Always recomputed in
// full from source events, never patched incrementally — incremental
// updates drift.
type ReputationScore struct {
	AgentID      string     `json:"agent_id"`
	Period       Period     `json:"period"`
	Overall      float64    `json:"overall"` // 0.30·perf + 0.25·compliance + 0.25·stake + 0.20·verification
	Performance  float64    `json:"performance"`
	Compliance   float64    `json:"compliance"`
	Stake        float64    `json:"stake"`
	Verification float64    `json:"verification"`
	Dimensions   Dimensions `json:"dimensions"`
	ComputedAt   time.Time  `json:"computed_at"`
}

// Dimensions are auxiliary scores consumed by ranking, each 0-100.
type Dimensions struct {
	Reliability    float64 `json:"reliability"`
	Speed          float64 `json:"speed"`
	CostEfficiency float64 `json:"cost_efficiency"`
	Communication  float64 `json:"communication"`
}

// AttestationGrace is how long after creation an attestation stays mutable.
const AttestationGrace = 24 * time.Hour

// Attestation is a third-party endorsement of an agent, scoped to a
// category. Its contribution to verification decays with age (90-day
// half-life) and is weighted by the attestor's own reputation.
type Attestation struct {
	ID         string    `json:"id"`
	AgentID    string    `json:"agent_id"`
	AttestorID string    `json:"attestor_id"`
	Category   string    `json:"category"`
	Score      int       `json:"score"` // 1-5
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at,omitempty"`
}

// ComplianceKind classifies a recorded compliance event.
type ComplianceKind string

const (
	CompliancePolicyDenial ComplianceKind = "POLICY_DENIAL"
	ComplianceExecFailure  ComplianceKind = "EXEC_FAILURE"
)

// ComplianceEvent is a recorded violation feeding the compliance sub-score.
// Disputes are counted separately from the dispute records themselves.
type ComplianceEvent struct {
	ID      string         `json:"id"`
	AgentID string         `json:"agent_id"`
	Kind    ComplianceKind `json:"kind"`
	TaskID  string         `json:"task_id,omitempty"`
	At      time.Time      `json:"at"`
}
