package domain

import "context"

// ─── External Collaborator Interfaces ───────────────────────────────────────
// The core consumes these services but does not implement them.
// Infrastructure supplies real clients; tests supply fakes.

// CredentialVerifier scores an agent's verifiable credentials.
// Returns a 0-100 trust score. Must be side-effect free: scoring the
// same agent twice with no credential change yields the same score.
type CredentialVerifier interface {
	TrustScore(ctx context.Context, agentID string) (float64, error)
}

// Anchorer publishes a Merkle root to an external timestamping service
// (e.g. a blockchain) and returns an opaque reference such as a
// transaction id. Anchoring the same root twice is permitted and must
// be harmless; the settlement of the reference is the caller's proof.
type Anchorer interface {
	Anchor(ctx context.Context, root string) (ref string, err error)
}

// PaymentRail executes the actual transfer of funds once escrow decides
// an amount and recipient. Transfer must be idempotent on payment ID:
// retrying a partially failed settlement batch must not double-pay.
type PaymentRail interface {
	Transfer(ctx context.Context, payment Payment) (ref string, err error)
}
