package domain

import (
	"encoding/json"
	"time"
)

// EventType labels an audit event. Every consequential state change in
// the core appends exactly one event.
type EventType string

const (
	EventAuctionCreated   EventType = "AUCTION_CREATED"
	EventBidSubmitted     EventType = "BID_SUBMITTED"
	EventBidRevealed      EventType = "BID_REVEALED"
	EventAuctionClosed    EventType = "AUCTION_CLOSED"
	EventAuctionCancelled EventType = "AUCTION_CANCELLED"
	EventTaskAwarded      EventType = "TASK_AWARDED"
	EventEscrowCreated    EventType = "ESCROW_CREATED"
	EventEscrowReleased   EventType = "ESCROW_RELEASED"
	EventEscrowRefunded   EventType = "ESCROW_REFUNDED"
	EventEscrowSlashed    EventType = "ESCROW_SLASHED"
	EventDisputeRaised    EventType = "DISPUTE_RAISED"
	EventEvidenceAdded    EventType = "DISPUTE_EVIDENCE_ADDED"
	EventDisputeResolved  EventType = "DISPUTE_RESOLVED"
	EventStakeLocked      EventType = "STAKE_LOCKED"
	EventStakeWithdrawn   EventType = "STAKE_WITHDRAWN"
	EventStakeSlashed     EventType = "STAKE_SLASHED"
	EventScoreComputed    EventType = "REPUTATION_COMPUTED"
	EventProtocolViolation EventType = "PROTOCOL_VIOLATION"
	EventAnchorCreated    EventType = "MERKLE_ANCHOR_CREATED"
	EventSettlementRun    EventType = "SETTLEMENT_RUN"
)

// AuditEvent is one append-only, hash-chained log entry.
// Hash = SHA-256 over (seq ∥ type ∥ refs ∥ canonical payload ∥ prevHash ∥ ts),
// so the chain from sequence 1 to N is verifiable by any holder of the events.
type AuditEvent struct {
	Seq       uint64          `json:"seq"` // Strictly increasing, gapless
	Type      EventType       `json:"type"`
	AgentID   string          `json:"agent_id,omitempty"`
	UserID    string          `json:"user_id,omitempty"`
	TaskID    string          `json:"task_id,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"` // Canonical JSON, schema-versioned per type
	PrevHash  string          `json:"prev_hash"`         // hex; genesis uses the empty string
	Hash      string          `json:"hash"`              // hex
	Timestamp time.Time       `json:"timestamp"`
}

// MerkleAnchor snapshots a contiguous, non-overlapping range of audit
// events as a Merkle root, anchored externally for independent proof
// the root existed at a point in time.
type MerkleAnchor struct {
	ID          string    `json:"id"`
	FromSeq     uint64    `json:"from_seq"`
	ToSeq       uint64    `json:"to_seq"`
	Root        string    `json:"root"` // hex
	ExternalRef string    `json:"external_ref"`
	AnchoredAt  time.Time `json:"anchored_at"`
}

// ChainReport is the result of verifying a range of the audit chain.
// Every tampered sequence number is reported, not just the first.
type ChainReport struct {
	FromSeq  uint64   `json:"from_seq"`
	ToSeq    uint64   `json:"to_seq"`
	Valid    bool     `json:"valid"`
	Tampered []uint64 `json:"tampered,omitempty"` // Content-hash mismatches
	Broken   []uint64 `json:"broken,omitempty"`   // Link (prev-hash) mismatches
}
