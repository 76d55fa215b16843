package domain

import "errors"

// ─── Sentinel Errors ────────────────────────────────────────────────────────
// Domain errors are pure — no infrastructure dependency. Services wrap these
// with context via fmt.Errorf("...: %w", err); callers match with errors.Is.

var (
	// Lookup errors
	ErrTaskNotFound     = errors.New("task not found")
	ErrBidNotFound      = errors.New("bid not found")
	ErrAgentNotFound    = errors.New("agent not registered")
	ErrEscrowNotFound   = errors.New("escrow account not found")
	ErrDisputeNotFound  = errors.New("dispute not found")
	ErrPositionNotFound = errors.New("stake position not found")
	ErrAnchorNotFound   = errors.New("merkle anchor not found")
	ErrEventNotFound    = errors.New("audit event not found")

	// State machine errors
	ErrInvalidState = errors.New("operation not allowed in current state")
	ErrAuctionClosed = errors.New("auction is closed to new bids")

	// Auction errors
	ErrBudgetExceeded = errors.New("bid amount exceeds task budget")
	ErrDuplicateBid   = errors.New("agent already bid on this task")
	ErrNotEligible    = errors.New("agent is not eligible to bid")
	ErrNoWinner       = errors.New("auction closed without a winner")

	// Escrow errors
	ErrAlreadyExists  = errors.New("escrow already exists for this assignment")
	ErrPartyMismatch  = errors.New("caller is not a party to this resource")
	ErrSlashExceeds   = errors.New("slash amount exceeds held escrow")

	// Dispute errors
	ErrDisputeOpen     = errors.New("assignment already has an open dispute")
	ErrAlreadyResolved = errors.New("dispute is already resolved")
	ErrSplitMismatch   = errors.New("refund + payout must equal the escrow amount exactly")
	ErrEscrowFrozen    = errors.New("escrow is frozen by an open dispute")

	// Stake errors
	ErrStakeLocked       = errors.New("stake position is still locked")
	ErrLockupTooShort    = errors.New("lockup shorter than the minimum period")
	ErrNonPositiveAmount = errors.New("amount must be positive")

	// Attestation errors
	ErrSelfAttestation = errors.New("cannot attest your own agent")
	ErrGraceExpired    = errors.New("attestation grace window has passed")

	// Integrity errors — never downgraded to a soft failure
	ErrIntegrityViolation = errors.New("integrity violation detected")
	ErrPrematureReveal    = errors.New("sealed bid revealed before the deadline")
)
