// Package health provides automated health checks for the daemon.
package health

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/agoralabs/agora/internal/infra/audit"
	"github.com/agoralabs/agora/internal/infra/metrics"
	"github.com/agoralabs/agora/internal/infra/sqlite"
)

// Check defines a single health check.
type Check struct {
	Name    string
	CheckFn func(ctx context.Context) error
}

// Status represents the result of a health check.
type Status struct {
	Name      string    `json:"name"`
	Healthy   bool      `json:"healthy"`
	Error     string    `json:"error,omitempty"`
	CheckedAt time.Time `json:"checked_at"`
}

// Checker runs periodic health checks.
type Checker struct {
	mu       sync.RWMutex
	checks   []Check
	statuses []Status
	interval time.Duration
}

// tailWindow is how many trailing audit events each sweep re-verifies.
const tailWindow = 256

// NewChecker creates a health checker with the standard checks:
// database liveness, audit chain integrity over the recent tail, and
// data directory accessibility.
func NewChecker(db *sqlite.DB, auditLog *audit.Log, dataDir string) *Checker {
	return &Checker{
		interval: 60 * time.Second,
		checks: []Check{
			{
				Name: "sqlite",
				CheckFn: func(ctx context.Context) error {
					return db.Ping()
				},
			},
			{
				Name: "audit_chain",
				CheckFn: func(ctx context.Context) error {
					return checkChainTail(auditLog)
				},
			},
			{
				Name: "data_dir",
				CheckFn: func(ctx context.Context) error {
					return checkDataDir(dataDir)
				},
			},
		},
	}
}

// Run starts the health check loop. Call in a goroutine.
func (c *Checker) Run(ctx context.Context) {
	// Run immediately on start
	c.runAll(ctx)

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.runAll(ctx)
		}
	}
}

func (c *Checker) runAll(ctx context.Context) {
	statuses := make([]Status, len(c.checks))
	for i, check := range c.checks {
		s := Status{
			Name:      check.Name,
			CheckedAt: time.Now(),
		}
		if err := check.CheckFn(ctx); err != nil {
			s.Healthy = false
			s.Error = err.Error()
			metrics.HealthCheckStatus.WithLabelValues(check.Name).Set(0)
		} else {
			s.Healthy = true
			metrics.HealthCheckStatus.WithLabelValues(check.Name).Set(1)
		}
		statuses[i] = s
	}

	c.mu.Lock()
	c.statuses = statuses
	c.mu.Unlock()
}

// Statuses returns the latest health check results.
func (c *Checker) Statuses() []Status {
	c.mu.RLock()
	defer c.mu.RUnlock()
	result := make([]Status, len(c.statuses))
	copy(result, c.statuses)
	return result
}

// IsHealthy returns true if all checks pass.
func (c *Checker) IsHealthy() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, s := range c.statuses {
		if !s.Healthy {
			return false
		}
	}
	return true
}

// ─── Check Implementations ──────────────────────────────────────────────────

// checkChainTail re-verifies the trailing window of the audit chain.
// Full sweeps are available on demand through the API; the periodic
// check stays cheap.
func checkChainTail(l *audit.Log) error {
	head, err := l.Head()
	if err != nil {
		return fmt.Errorf("chain head: %w", err)
	}
	if head == nil {
		return nil // Empty chain is healthy
	}
	metrics.AuditChainHeight.Set(float64(head.Seq))

	from := uint64(1)
	if head.Seq > tailWindow {
		from = head.Seq - tailWindow + 1
	}
	report, err := l.VerifyChain(from, head.Seq)
	if err != nil {
		return fmt.Errorf("verify chain: %w", err)
	}
	if !report.Valid {
		return fmt.Errorf("chain integrity: %d tampered, %d broken links",
			len(report.Tampered), len(report.Broken))
	}
	return nil
}

func checkDataDir(dir string) error {
	info, err := os.Stat(dir)
	if err != nil {
		return fmt.Errorf("check data dir: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%s is not a directory", dir)
	}
	return nil
}
