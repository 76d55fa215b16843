// Package metrics provides Prometheus metrics for Agora: auctions,
// escrow money movement, disputes, staking, reputation, and the audit
// chain.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ─── Auctions ───────────────────────────────────────────────────────────────

// AuctionsOpened tracks auctions opened by type.
var AuctionsOpened = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "agora",
	Name:      "auctions_opened_total",
	Help:      "Total auctions opened, by auction type.",
}, []string{"type"})

// AuctionsClosed tracks auction outcomes.
var AuctionsClosed = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "agora",
	Name:      "auctions_closed_total",
	Help:      "Total auctions closed, by outcome (awarded, no_bids, cancelled).",
}, []string{"outcome"})

// BidsSubmitted tracks accepted bids by auction type.
var BidsSubmitted = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "agora",
	Name:      "bids_submitted_total",
	Help:      "Total accepted bids, by auction type.",
}, []string{"type"})

// BidsRejected tracks rejected bid submissions by reason.
var BidsRejected = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "agora",
	Name:      "bids_rejected_total",
	Help:      "Total rejected bid submissions, by reason.",
}, []string{"reason"})

// ─── Escrow ─────────────────────────────────────────────────────────────────

// EscrowOpened tracks escrow accounts created for won auctions.
var EscrowOpened = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "agora",
	Name:      "escrow_opened_total",
	Help:      "Total escrow accounts opened.",
})

// EscrowClosed tracks escrow terminal transitions.
var EscrowClosed = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "agora",
	Name:      "escrow_closed_total",
	Help:      "Total escrow accounts closed, by terminal status.",
}, []string{"status"})

// FeesCollected tracks platform fee revenue.
var FeesCollected = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "agora",
	Name:      "fees_collected_total",
	Help:      "Total platform fees collected from releases.",
})

// PaymentsSettled tracks settlement batch results.
var PaymentsSettled = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "agora",
	Name:      "payments_settled_total",
	Help:      "Total payments processed by settlement, by result.",
}, []string{"result"})

// ─── Disputes ───────────────────────────────────────────────────────────────

// DisputesRaised tracks new disputes by raising party.
var DisputesRaised = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "agora",
	Name:      "disputes_raised_total",
	Help:      "Total disputes raised, by raising party.",
}, []string{"party"})

// DisputesResolved tracks resolutions by decision.
var DisputesResolved = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "agora",
	Name:      "disputes_resolved_total",
	Help:      "Total disputes resolved, by decision.",
}, []string{"decision"})

// ─── Staking ────────────────────────────────────────────────────────────────

// StakeSlashes tracks slash operations.
var StakeSlashes = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "agora",
	Name:      "stake_slashes_total",
	Help:      "Total stake slash operations.",
})

// ─── Audit Chain ────────────────────────────────────────────────────────────

// AuditChainHeight tracks the current audit chain head sequence.
var AuditChainHeight = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: "agora",
	Name:      "audit_chain_height",
	Help:      "Sequence number of the audit chain head.",
})

// AnchorsCreated tracks Merkle anchor batches.
var AnchorsCreated = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "agora",
	Name:      "anchors_created_total",
	Help:      "Total Merkle anchors published.",
})

// AnchorFailures tracks failed anchoring attempts.
var AnchorFailures = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "agora",
	Name:      "anchor_failures_total",
	Help:      "Total failed external anchoring attempts.",
})

// ─── HTTP ───────────────────────────────────────────────────────────────────

// RequestDuration tracks API request latency by route and status.
var RequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Namespace: "agora",
	Name:      "http_request_duration_seconds",
	Help:      "API request duration in seconds.",
	Buckets:   prometheus.DefBuckets,
}, []string{"route", "status"})

// ─── Health ─────────────────────────────────────────────────────────────────

// HealthCheckStatus tracks health check results (1=healthy, 0=unhealthy).
var HealthCheckStatus = promauto.NewGaugeVec(prometheus.GaugeOpts{
	Namespace: "agora",
	Name:      "health_check_status",
	Help:      "Health check result per component (1=healthy, 0=unhealthy).",
}, []string{"check"})
