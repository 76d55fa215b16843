// Package registry manages the agent roster: registration, status,
// capabilities, and compliance credentials.
package registry

import (
	"fmt"
	"time"

	"github.com/agoralabs/agora/internal/domain"
	"github.com/agoralabs/agora/internal/infra/sqlite"
)

// Manager fronts the agent table. Profile edits go through it so
// suspension and credential state cannot be clobbered by a re-register.
type Manager struct {
	db  *sqlite.DB
	now func() time.Time
}

// NewManager creates a Manager over db.
func NewManager(db *sqlite.DB) *Manager {
	return &Manager{db: db, now: time.Now}
}

// SetClock overrides the time source, for tests.
func (m *Manager) SetClock(now func() time.Time) { m.now = now }

// Register creates an agent, or updates the profile of an existing
// one. Status and registration time survive re-registration; a
// suspended agent does not reactivate itself by re-registering.
func (m *Manager) Register(agent domain.Agent) (domain.Agent, error) {
	if agent.ID == "" || agent.Name == "" {
		return domain.Agent{}, fmt.Errorf("agent id and name are required: %w", domain.ErrInvalidState)
	}

	existing, err := m.db.GetAgent(agent.ID)
	if err != nil {
		return domain.Agent{}, err
	}
	if existing != nil {
		agent.Status = existing.Status
		agent.RegisteredAt = existing.RegisteredAt
	} else {
		agent.Status = domain.AgentActive
		agent.RegisteredAt = m.now().UTC()
	}

	if err := m.db.UpsertAgent(agent); err != nil {
		return domain.Agent{}, err
	}
	return agent, nil
}

// Get returns an agent by ID.
func (m *Manager) Get(id string) (domain.Agent, error) {
	agent, err := m.db.GetAgent(id)
	if err != nil {
		return domain.Agent{}, err
	}
	if agent == nil {
		return domain.Agent{}, domain.ErrAgentNotFound
	}
	return *agent, nil
}

// List returns agents, optionally filtered by status.
func (m *Manager) List(status domain.AgentStatus) ([]domain.Agent, error) {
	return m.db.ListAgents(status)
}

// Suspend bars an agent from auctions. Idempotent.
func (m *Manager) Suspend(id string) (domain.Agent, error) {
	return m.setStatus(id, domain.AgentSuspended)
}

// Reinstate lifts a suspension. Idempotent.
func (m *Manager) Reinstate(id string) (domain.Agent, error) {
	return m.setStatus(id, domain.AgentActive)
}

func (m *Manager) setStatus(id string, status domain.AgentStatus) (domain.Agent, error) {
	agent, err := m.db.GetAgent(id)
	if err != nil {
		return domain.Agent{}, err
	}
	if agent == nil {
		return domain.Agent{}, domain.ErrAgentNotFound
	}
	agent.Status = status
	if err := m.db.UpsertAgent(*agent); err != nil {
		return domain.Agent{}, err
	}
	return *agent, nil
}

// GrantCredential attaches a credential to an agent. A zero expiry
// means the credential never expires.
func (m *Manager) GrantCredential(id string, cred domain.Credential) (domain.Agent, error) {
	agent, err := m.db.GetAgent(id)
	if err != nil {
		return domain.Agent{}, err
	}
	if agent == nil {
		return domain.Agent{}, domain.ErrAgentNotFound
	}
	if cred.Type == "" {
		return domain.Agent{}, fmt.Errorf("credential type is required: %w", domain.ErrInvalidState)
	}
	if cred.IssuedAt.IsZero() {
		cred.IssuedAt = m.now().UTC()
	}

	agent.Credentials = append(agent.Credentials, cred)
	if err := m.db.UpsertAgent(*agent); err != nil {
		return domain.Agent{}, err
	}
	return *agent, nil
}

// RevokeCredential marks every credential of the given type revoked.
// Revocation is permanent; re-authorization needs a fresh grant.
func (m *Manager) RevokeCredential(id, credType string) (domain.Agent, error) {
	agent, err := m.db.GetAgent(id)
	if err != nil {
		return domain.Agent{}, err
	}
	if agent == nil {
		return domain.Agent{}, domain.ErrAgentNotFound
	}

	found := false
	for i := range agent.Credentials {
		if agent.Credentials[i].Type == credType {
			agent.Credentials[i].Revoked = true
			found = true
		}
	}
	if !found {
		return domain.Agent{}, fmt.Errorf("agent %s holds no %s credential: %w",
			id, credType, domain.ErrInvalidState)
	}

	if err := m.db.UpsertAgent(*agent); err != nil {
		return domain.Agent{}, err
	}
	return *agent, nil
}
