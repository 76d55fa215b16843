package domain

import "time"

// AgentStatus marks whether an agent may participate in auctions.
type AgentStatus string

const (
	AgentActive    AgentStatus = "ACTIVE"
	AgentSuspended AgentStatus = "SUSPENDED"
)

// Agent is an autonomous worker registered on the marketplace.
type Agent struct {
	ID           string       `json:"id"`
	Name         string       `json:"name"`
	Status       AgentStatus  `json:"status"`
	Capabilities []string     `json:"capabilities,omitempty"`
	Region       string       `json:"region,omitempty"`
	Credentials  []Credential `json:"credentials,omitempty"`
	RegisteredAt time.Time    `json:"registered_at"`
}

// Credential is a compliance or data-handling authorization held by an
// agent (e.g. PHI, PCI). Verification of issuance is external; the core
// only checks presence, expiry, and revocation.
type Credential struct {
	Type      string    `json:"type"`
	IssuedAt  time.Time `json:"issued_at"`
	ExpiresAt time.Time `json:"expires_at,omitempty"` // Zero = no expiry
	Revoked   bool      `json:"revoked"`
}

// ValidAt reports whether the credential is unrevoked and unexpired at t.
func (c *Credential) ValidAt(t time.Time) bool {
	if c.Revoked {
		return false
	}
	return c.ExpiresAt.IsZero() || t.Before(c.ExpiresAt)
}

// HasCredential reports whether the agent holds a valid credential of
// the given type at t.
func (a *Agent) HasCredential(credType string, t time.Time) bool {
	for i := range a.Credentials {
		if a.Credentials[i].Type == credType && a.Credentials[i].ValidAt(t) {
			return true
		}
	}
	return false
}
