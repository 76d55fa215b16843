// Package domain holds the pure types of the Agora trust core:
// tasks, bids, assignments, escrow, disputes, stake, reputation,
// and the audit chain. No infrastructure dependencies.
package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// TaskStatus tracks the auction lifecycle of a task.
// Transitions are monotonic except CANCELLED, reachable only from DRAFT/OPEN.
type TaskStatus string

const (
	TaskDraft     TaskStatus = "DRAFT"
	TaskOpen      TaskStatus = "OPEN"
	TaskAssigned  TaskStatus = "ASSIGNED"
	TaskClosed    TaskStatus = "CLOSED" // Auction closed with zero bids
	TaskCancelled TaskStatus = "CANCELLED"
)

// AuctionType selects the negotiation mechanism.
type AuctionType string

const (
	AuctionDirect    AuctionType = "DIRECT"     // First price, bids visible
	AuctionSealedBid AuctionType = "SEALED_BID" // First price, bids sealed until close
	AuctionVickrey   AuctionType = "VICKREY"    // Second price, bids sealed until close
)

// Sealed reports whether bid amounts are hidden until reveal.
func (t AuctionType) Sealed() bool {
	return t == AuctionSealedBid || t == AuctionVickrey
}

// Task is a unit of work being auctioned to agents.
// Agents are sellers of labor, so auctions run in reverse: lowest bid wins.
type Task struct {
	ID          string          `json:"id"`
	BuyerID     string          `json:"buyer_id"`
	BuyerOrg    string          `json:"buyer_org,omitempty"`
	Title       string          `json:"title"`
	MaxBudget   decimal.Decimal `json:"max_budget"`
	Currency    string          `json:"currency"`
	AuctionType AuctionType     `json:"auction_type"`
	Status      TaskStatus      `json:"status"`
	Deadline    time.Time       `json:"deadline,omitempty"` // Auction deadline, set when opened
	CreatedAt   time.Time       `json:"created_at"`

	// Eligibility requirements, evaluated by the eligibility filter.
	MinReputation   float64  `json:"min_reputation,omitempty"`  // 0 = no threshold
	RequiredSkills  []string `json:"required_skills,omitempty"` // Agent capabilities must be a superset
	DataClasses     []string `json:"data_classes,omitempty"`    // e.g. PHI, PII, PCI
	Region          string   `json:"region,omitempty"`          // "" = unrestricted
	RequiredCredentials []string `json:"required_credentials,omitempty"`
}

// IsTerminal returns true once the task can no longer change status.
func (t *Task) IsTerminal() bool {
	return t.Status == TaskAssigned || t.Status == TaskClosed || t.Status == TaskCancelled
}
