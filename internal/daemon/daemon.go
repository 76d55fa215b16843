package daemon

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/agoralabs/agora/internal/api"
	"github.com/agoralabs/agora/internal/app/auction"
	"github.com/agoralabs/agora/internal/app/dispute"
	"github.com/agoralabs/agora/internal/app/eligibility"
	"github.com/agoralabs/agora/internal/app/escrow"
	"github.com/agoralabs/agora/internal/app/reputation"
	"github.com/agoralabs/agora/internal/app/settlement"
	"github.com/agoralabs/agora/internal/app/stake"
	"github.com/agoralabs/agora/internal/health"
	"github.com/agoralabs/agora/internal/infra/anchor"
	"github.com/agoralabs/agora/internal/infra/audit"
	"github.com/agoralabs/agora/internal/infra/metrics"
	"github.com/agoralabs/agora/internal/infra/rail"
	"github.com/agoralabs/agora/internal/infra/registry"
	"github.com/agoralabs/agora/internal/infra/sqlite"
	"github.com/agoralabs/agora/internal/security"
)

// Daemon is the core Agora runtime. It wires together all services.
type Daemon struct {
	Config Config
	DB     *sqlite.DB
	Audit  *audit.Log
	Server *api.Server
	cancel context.CancelFunc

	Registry    *registry.Manager
	Auctions    *auction.Service
	Escrow      *escrow.Service
	Disputes    *dispute.Service
	Stakes      *stake.Service
	Reputation  *reputation.Engine
	Eligibility *eligibility.Filter
	Settlement  *settlement.Service
	Health      *health.Checker

	Anchorer *anchor.Client
}

// New creates and initializes a Daemon with all services wired.
func New() (*Daemon, error) {
	cfg, err := LoadConfig()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	return NewWithConfig(cfg)
}

// NewWithConfig creates a Daemon with the given configuration.
func NewWithConfig(cfg Config) (*Daemon, error) {
	home := agoraHome()
	if err := os.MkdirAll(home, 0700); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	db, err := sqlite.Open(home)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	d := &Daemon{Config: cfg, DB: db}

	// Audit chain underpins every service; wire it first.
	d.Audit = audit.NewLog(db)

	// Node identity signs anchor submissions.
	keypair, err := security.LoadOrCreateKeypair(home)
	if err != nil {
		return nil, fmt.Errorf("load node identity: %w", err)
	}

	// External services
	d.Anchorer = anchor.NewClient(cfg.Services.AnchorURL)
	d.Anchorer.SetIdentity(keypair)
	verifier := anchor.NewCredentialClient(cfg.Services.CredentialURL)
	payRail := rail.NewClient(cfg.Services.RailURL)

	// Trust core services
	d.Registry = registry.NewManager(db)
	d.Escrow = escrow.NewService(db, d.Audit)
	d.Stakes = stake.NewService(db, d.Audit)
	d.Eligibility = eligibility.NewFilter(db, d.Stakes, cfg.Eligibility.MaxOrgDisputes)
	d.Auctions = auction.NewService(db, d.Audit, d.Escrow, d.Eligibility)
	d.Auctions.SetSLA(parseDuration(cfg.Market.AssignmentSLA, auction.DefaultSLA))
	d.Disputes = dispute.NewService(db, d.Escrow, d.Audit)
	d.Reputation = reputation.NewEngine(db, verifier, d.Audit)
	d.Settlement = settlement.NewService(db, payRail, d.Audit)
	if cfg.Settlement.BatchSize > 0 {
		d.Settlement.SetBatchSize(cfg.Settlement.BatchSize)
	}

	d.Health = health.NewChecker(db, d.Audit, home)

	srv := api.NewServer(api.Services{
		DB:          db,
		Registry:    d.Registry,
		Auctions:    d.Auctions,
		Escrow:      d.Escrow,
		Disputes:    d.Disputes,
		Stakes:      d.Stakes,
		Reputation:  d.Reputation,
		Eligibility: d.Eligibility,
		Settlement:  d.Settlement,
		Audit:       d.Audit,
		Anchorer:    d.Anchorer,
	})
	srv.SetHealth(d.Health)
	srv.EnableMetrics()
	d.Server = srv

	return d, nil
}

// Serve starts the HTTP server and blocks until shutdown.
func (d *Daemon) Serve(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	d.cancel = cancel

	// Background workers
	go d.Health.Run(ctx)
	go d.anchorLoop(ctx)
	go d.settlementLoop(ctx)

	addr := fmt.Sprintf("%s:%d", d.Config.API.Host, d.Config.API.Port)

	httpServer := &http.Server{
		Addr:         addr,
		Handler:      d.Server.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 2 * time.Minute,
		IdleTimeout:  2 * time.Minute,
	}

	// Graceful shutdown on signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		select {
		case <-sigCh:
		case <-ctx.Done():
		}

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()

		_ = httpServer.Shutdown(shutdownCtx)
		_ = d.DB.Close()
	}()

	fmt.Printf("Agora serving on http://%s\n", addr)
	fmt.Printf("  Metrics: http://%s/metrics\n", addr)

	if err := httpServer.ListenAndServe(); err != http.ErrServerClosed {
		return err
	}
	return nil
}

// anchorLoop periodically publishes Merkle anchors for new audit events.
func (d *Daemon) anchorLoop(ctx context.Context) {
	interval := parseDuration(d.Config.Audit.AnchorInterval, time.Hour)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a, err := d.Audit.BatchAnchor(ctx, d.Anchorer)
			if err != nil {
				metrics.AnchorFailures.Inc()
				log.Printf("[daemon] anchor failed: %v", err)
				continue
			}
			if a != nil {
				metrics.AnchorsCreated.Inc()
				log.Printf("[daemon] anchored events [%d, %d] as %s", a.FromSeq, a.ToSeq, a.ExternalRef)
			}
		}
	}
}

// settlementLoop periodically pays out pending escrow releases.
func (d *Daemon) settlementLoop(ctx context.Context) {
	interval := parseDuration(d.Config.Settlement.Interval, 15*time.Minute)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			report, err := d.Settlement.Run(ctx)
			if err != nil {
				log.Printf("[daemon] settlement failed: %v", err)
				continue
			}
			if report.Processed > 0 {
				metrics.PaymentsSettled.WithLabelValues("settled").Add(float64(report.Settled))
				metrics.PaymentsSettled.WithLabelValues("failed").Add(float64(report.Failed))
				log.Printf("[daemon] settlement: %d settled, %d failed", report.Settled, report.Failed)
			}
		}
	}
}

// Close shuts down all daemon resources.
func (d *Daemon) Close() {
	if d.cancel != nil {
		d.cancel()
	}
	if d.DB != nil {
		_ = d.DB.Close()
	}
}
