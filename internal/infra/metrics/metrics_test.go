package metrics

import (
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

func gatheredNames(t *testing.T) map[string]bool {
	t.Helper()
	families, err := prometheus.DefaultGatherer.Gather()
	if err != nil {
		t.Fatalf("Gather() error: %v", err)
	}
	names := make(map[string]bool)
	for _, f := range families {
		names[f.GetName()] = true
	}
	return names
}

func TestAuctionMetrics(t *testing.T) {
	AuctionsOpened.WithLabelValues("VICKREY").Inc()
	AuctionsClosed.WithLabelValues("awarded").Inc()
	BidsSubmitted.WithLabelValues("sealed").Inc()
	BidsRejected.WithLabelValues("ineligible").Inc()

	names := gatheredNames(t)
	for _, name := range []string{
		"agora_auctions_opened_total",
		"agora_auctions_closed_total",
		"agora_bids_submitted_total",
		"agora_bids_rejected_total",
	} {
		if !names[name] {
			t.Errorf("metric %q not found", name)
		}
	}
}

func TestMoneyMetrics(t *testing.T) {
	EscrowOpened.Inc()
	EscrowClosed.WithLabelValues("RELEASED").Inc()
	FeesCollected.Add(180)
	PaymentsSettled.WithLabelValues("settled").Add(3)

	names := gatheredNames(t)
	for _, name := range []string{
		"agora_escrow_opened_total",
		"agora_escrow_closed_total",
		"agora_fees_collected_total",
		"agora_payments_settled_total",
	} {
		if !names[name] {
			t.Errorf("metric %q not found", name)
		}
	}
}

func TestDisputeAndStakeMetrics(t *testing.T) {
	DisputesRaised.WithLabelValues("buyer").Inc()
	DisputesResolved.WithLabelValues("split").Inc()
	StakeSlashes.Inc()

	names := gatheredNames(t)
	for _, name := range []string{
		"agora_disputes_raised_total",
		"agora_disputes_resolved_total",
		"agora_stake_slashes_total",
	} {
		if !names[name] {
			t.Errorf("metric %q not found", name)
		}
	}
}

func TestAuditMetrics(t *testing.T) {
	AuditChainHeight.Set(42)
	AnchorsCreated.Inc()
	AnchorFailures.Inc()

	names := gatheredNames(t)
	for _, name := range []string{
		"agora_audit_chain_height",
		"agora_anchors_created_total",
		"agora_anchor_failures_total",
	} {
		if !names[name] {
			t.Errorf("metric %q not found", name)
		}
	}
}

func TestHealthAndHTTPMetrics(t *testing.T) {
	HealthCheckStatus.WithLabelValues("sqlite").Set(1)
	HealthCheckStatus.WithLabelValues("audit_chain").Set(0)
	RequestDuration.WithLabelValues("/v1/tasks", "200").Observe(0.02)

	names := gatheredNames(t)
	if !names["agora_health_check_status"] {
		t.Error("agora_health_check_status not found")
	}
	if !names["agora_http_request_duration_seconds"] {
		t.Error("agora_http_request_duration_seconds not found")
	}
}

func TestAllMetricsGatherable(t *testing.T) {
	families, err := prometheus.DefaultGatherer.Gather()
	if err != nil {
		t.Fatalf("Gather() error: %v", err)
	}

	count := 0
	for _, f := range families {
		if strings.HasPrefix(f.GetName(), "agora_") {
			count++
		}
	}
	if count < 12 {
		t.Errorf("expected at least 12 agora_ metric families, got %d", count)
	}
}
