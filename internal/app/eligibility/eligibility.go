// Package eligibility decides which agents may bid on a task. The
// check is a pure function of persisted state — given the same task,
// agent, and database contents it always returns the same verdict, so
// a rejected agent can be told exactly why.
package eligibility

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/agoralabs/agora/internal/app/stake"
	"github.com/agoralabs/agora/internal/domain"
	"github.com/agoralabs/agora/internal/infra/sqlite"
)

// DefaultMaxOrgDisputes is the organizational blacklist threshold:
// more than this many lost disputes with one buyer organization blocks
// the agent from that organization's tasks.
const DefaultMaxOrgDisputes = 2

// Filter evaluates agents against task requirements.
type Filter struct {
	db             *sqlite.DB
	stakes         *stake.Service
	maxOrgDisputes int
	now            func() time.Time
}

// NewFilter creates an eligibility filter.
func NewFilter(db *sqlite.DB, stakes *stake.Service, maxOrgDisputes int) *Filter {
	if maxOrgDisputes <= 0 {
		maxOrgDisputes = DefaultMaxOrgDisputes
	}
	return &Filter{db: db, stakes: stakes, maxOrgDisputes: maxOrgDisputes, now: time.Now}
}

// SetClock injects a clock for tests (credential expiry checks).
func (f *Filter) SetClock(now func() time.Time) { f.now = now }

// Check returns the list of requirements the agent fails for the task.
// An empty list means eligible. Every failing requirement is reported,
// not just the first.
func (f *Filter) Check(task domain.Task, agent domain.Agent) ([]string, error) {
	var reasons []string
	now := f.now()

	if agent.Status != domain.AgentActive {
		reasons = append(reasons, fmt.Sprintf("agent status is %s", agent.Status))
	}

	// Reputation threshold, against the current all-time score.
	if task.MinReputation > 0 {
		score, err := f.db.GetReputationScore(agent.ID, domain.PeriodAll)
		if err != nil {
			return nil, err
		}
		overall := 0.0
		if score != nil {
			overall = score.Overall
		}
		if overall < task.MinReputation {
			reasons = append(reasons,
				fmt.Sprintf("reputation %.1f below required %.1f", overall, task.MinReputation))
		}
	}

	// Capability superset.
	caps := make(map[string]bool, len(agent.Capabilities))
	for _, c := range agent.Capabilities {
		caps[c] = true
	}
	for _, skill := range task.RequiredSkills {
		if !caps[skill] {
			reasons = append(reasons, "missing capability "+skill)
		}
	}

	// Each data classification needs a matching valid credential.
	for _, class := range task.DataClasses {
		if !agent.HasCredential(class, now) {
			reasons = append(reasons, "not authorized for data class "+class)
		}
	}

	// Explicit compliance credentials.
	for _, cred := range task.RequiredCredentials {
		if !agent.HasCredential(cred, now) {
			reasons = append(reasons, "missing credential "+cred)
		}
	}

	// Region restriction.
	if task.Region != "" && agent.Region != task.Region {
		reasons = append(reasons,
			fmt.Sprintf("region %q does not satisfy restriction %q", agent.Region, task.Region))
	}

	// Minimum stake, tiered by reputation: better agents post less
	// collateral against the same task value.
	required, err := f.RequiredStake(task, agent.ID)
	if err != nil {
		return nil, err
	}
	if required.IsPositive() {
		total, err := f.stakes.TotalActive(agent.ID)
		if err != nil {
			return nil, err
		}
		if total.LessThan(required) {
			reasons = append(reasons,
				fmt.Sprintf("active stake %s below required %s", total, required))
		}
	}

	// Organizational blacklist: repeated lost disputes with this buyer
	// organization shut the door.
	if task.BuyerOrg != "" {
		lost, err := f.db.ResolvedDisputesAgainstAgent(agent.ID, task.BuyerOrg)
		if err != nil {
			return nil, err
		}
		if lost > f.maxOrgDisputes {
			reasons = append(reasons,
				fmt.Sprintf("%d lost disputes with organization %s exceeds limit %d",
					lost, task.BuyerOrg, f.maxOrgDisputes))
		}
	}

	return reasons, nil
}

// RequiredStake returns the minimum active stake the agent must hold to
// bid on the task, from the reputation tier schedule.
func (f *Filter) RequiredStake(task domain.Task, agentID string) (decimal.Decimal, error) {
	score, err := f.db.GetReputationScore(agentID, domain.PeriodAll)
	if err != nil {
		return decimal.Zero, err
	}
	if score == nil {
		return stake.Required(task.MaxBudget, 0, false), nil
	}
	return stake.Required(task.MaxBudget, score.Overall, true), nil
}

// EligibleAgents returns the IDs of every active agent passing the
// task's requirements. Used by auction status views and matching.
func (f *Filter) EligibleAgents(task domain.Task) ([]string, error) {
	agents, err := f.db.ListAgents(domain.AgentActive)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, agent := range agents {
		reasons, err := f.Check(task, agent)
		if err != nil {
			return nil, err
		}
		if len(reasons) == 0 {
			out = append(out, agent.ID)
		}
	}
	return out, nil
}
