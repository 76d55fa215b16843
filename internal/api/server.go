// Package api provides the HTTP server for Agora: marketplace,
// escrow, dispute, reputation, and audit endpoints.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/agoralabs/agora/internal/app/auction"
	"github.com/agoralabs/agora/internal/app/dispute"
	"github.com/agoralabs/agora/internal/app/eligibility"
	"github.com/agoralabs/agora/internal/app/escrow"
	"github.com/agoralabs/agora/internal/app/reputation"
	"github.com/agoralabs/agora/internal/app/settlement"
	"github.com/agoralabs/agora/internal/app/stake"
	"github.com/agoralabs/agora/internal/domain"
	"github.com/agoralabs/agora/internal/health"
	"github.com/agoralabs/agora/internal/infra/audit"
	"github.com/agoralabs/agora/internal/infra/metrics"
	"github.com/agoralabs/agora/internal/infra/registry"
	"github.com/agoralabs/agora/internal/infra/sqlite"
)

// Server is the Agora HTTP API server.
type Server struct {
	db          *sqlite.DB
	registry    *registry.Manager
	auctions    *auction.Service
	escrow      *escrow.Service
	disputes    *dispute.Service
	stakes      *stake.Service
	reputation  *reputation.Engine
	eligibility *eligibility.Filter
	settlement  *settlement.Service
	audit       *audit.Log

	anchorer       domain.Anchorer
	health         *health.Checker
	metricsEnabled bool
}

// Services bundles everything the API server fronts.
type Services struct {
	DB          *sqlite.DB
	Registry    *registry.Manager
	Auctions    *auction.Service
	Escrow      *escrow.Service
	Disputes    *dispute.Service
	Stakes      *stake.Service
	Reputation  *reputation.Engine
	Eligibility *eligibility.Filter
	Settlement  *settlement.Service
	Audit       *audit.Log
	Anchorer    domain.Anchorer
}

// NewServer creates a new API server.
func NewServer(s Services) *Server {
	return &Server{
		db:          s.DB,
		registry:    s.Registry,
		auctions:    s.Auctions,
		escrow:      s.Escrow,
		disputes:    s.Disputes,
		stakes:      s.Stakes,
		reputation:  s.Reputation,
		eligibility: s.Eligibility,
		settlement:  s.Settlement,
		audit:       s.Audit,
		anchorer:    s.Anchorer,
	}
}

// EnableMetrics enables the /metrics Prometheus endpoint.
func (s *Server) EnableMetrics() { s.metricsEnabled = true }

// SetHealth sets the health checker backing /health.
func (s *Server) SetHealth(h *health.Checker) { s.health = h }

// Handler returns the chi router with all routes mounted.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(time.Minute))
	r.Use(corsMiddleware)
	r.Use(metricsMiddleware)

	r.Get("/health", s.handleHealth)
	r.Get("/api/version", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"version": "0.1.0"})
	})

	r.Route("/v1", func(r chi.Router) {
		// Agent registry
		r.Post("/agents", s.handleRegisterAgent)
		r.Get("/agents", s.handleListAgents)
		r.Get("/agents/{id}", s.handleGetAgent)
		r.Post("/agents/{id}/suspend", s.handleSuspendAgent)
		r.Post("/agents/{id}/reinstate", s.handleReinstateAgent)
		r.Post("/agents/{id}/credentials", s.handleGrantCredential)
		r.Delete("/agents/{id}/credentials/{type}", s.handleRevokeCredential)
		r.Get("/agents/{id}/reputation", s.handleAgentReputation)
		r.Get("/agents/{id}/stake", s.handleAgentStake)
		r.Post("/agents/{id}/stake", s.handleLockStake)
		r.Post("/agents/{id}/slash", s.handleSlashStake)
		r.Post("/agents/{id}/attestations", s.handleAttest)

		// Tasks and auctions
		r.Post("/tasks", s.handleCreateTask)
		r.Get("/tasks/{id}", s.handleGetTask)
		r.Post("/tasks/{id}/open", s.handleOpenAuction)
		r.Post("/tasks/{id}/bids", s.handleSubmitBid)
		r.Get("/tasks/{id}/bids", s.handleListBids)
		r.Post("/tasks/{id}/close", s.handleCloseAuction)
		r.Post("/tasks/{id}/cancel", s.handleCancelAuction)
		r.Get("/tasks/{id}/eligible", s.handleEligibleAgents)

		// Assignments and escrow
		r.Get("/assignments/{id}", s.handleGetAssignment)
		r.Post("/assignments/{id}/complete", s.handleCompleteAssignment)
		r.Get("/escrow/{id}", s.handleGetEscrow)
		r.Post("/escrow/{id}/release", s.handleReleaseEscrow)
		r.Post("/escrow/{id}/refund", s.handleRefundEscrow)

		// Disputes
		r.Post("/disputes", s.handleRaiseDispute)
		r.Get("/disputes/{id}", s.handleGetDispute)
		r.Post("/disputes/{id}/evidence", s.handleSubmitEvidence)
		r.Post("/disputes/{id}/resolve", s.handleResolveDispute)

		// Staking
		r.Post("/stake/{id}/unlock", s.handleUnlockStake)

		// Attestations
		r.Put("/attestations/{id}", s.handleAmendAttestation)
		r.Delete("/attestations/{id}", s.handleRetractAttestation)

		// Reputation
		r.Get("/leaderboard", s.handleLeaderboard)

		// Audit chain
		r.Get("/audit/head", s.handleAuditHead)
		r.Get("/audit/verify", s.handleAuditVerify)
		r.Get("/audit/events/{seq}", s.handleAuditEvent)
		r.Get("/audit/events/{seq}/proof", s.handleInclusionProof)
		r.Post("/audit/anchor", s.handleAnchor)

		// Settlement
		r.Post("/settlement/run", s.handleSettlementRun)
	})

	// Prometheus metrics endpoint
	if s.metricsEnabled {
		r.Handle("/metrics", promhttp.Handler())
	}

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.health == nil {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		return
	}
	status := http.StatusOK
	if !s.health.IsHealthy() {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, map[string]any{
		"healthy": s.health.IsHealthy(),
		"checks":  s.health.Statuses(),
	})
}

// ─── Response Helpers ───────────────────────────────────────────────────────

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]interface{}{
		"error": map[string]interface{}{
			"message": msg,
			"type":    "error",
		},
	})
}

// writeDomainError maps a domain error to an HTTP status.
func writeDomainError(w http.ResponseWriter, err error) {
	writeError(w, domainStatus(err), err.Error())
}

// domainStatus picks the HTTP status for a domain error.
func domainStatus(err error) int {
	switch {
	case errors.Is(err, domain.ErrTaskNotFound),
		errors.Is(err, domain.ErrBidNotFound),
		errors.Is(err, domain.ErrAgentNotFound),
		errors.Is(err, domain.ErrEscrowNotFound),
		errors.Is(err, domain.ErrDisputeNotFound),
		errors.Is(err, domain.ErrPositionNotFound),
		errors.Is(err, domain.ErrAnchorNotFound),
		errors.Is(err, domain.ErrEventNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrInvalidState),
		errors.Is(err, domain.ErrAuctionClosed),
		errors.Is(err, domain.ErrDuplicateBid),
		errors.Is(err, domain.ErrAlreadyExists),
		errors.Is(err, domain.ErrDisputeOpen),
		errors.Is(err, domain.ErrAlreadyResolved),
		errors.Is(err, domain.ErrEscrowFrozen),
		errors.Is(err, domain.ErrStakeLocked),
		errors.Is(err, domain.ErrGraceExpired),
		errors.Is(err, domain.ErrPrematureReveal):
		return http.StatusConflict
	case errors.Is(err, domain.ErrPartyMismatch),
		errors.Is(err, domain.ErrNotEligible),
		errors.Is(err, domain.ErrSelfAttestation):
		return http.StatusForbidden
	case errors.Is(err, domain.ErrBudgetExceeded),
		errors.Is(err, domain.ErrNonPositiveAmount),
		errors.Is(err, domain.ErrLockupTooShort),
		errors.Is(err, domain.ErrSplitMismatch),
		errors.Is(err, domain.ErrSlashExceeds):
		return http.StatusUnprocessableEntity
	case errors.Is(err, domain.ErrIntegrityViolation):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// decode parses a JSON request body into v.
func decode(r *http.Request, v interface{}) error {
	return json.NewDecoder(r.Body).Decode(v)
}

// queryInt parses an integer query parameter, returning fallback when
// absent or malformed.
func queryInt(r *http.Request, key string, fallback int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return n
}

// metricsMiddleware records per-route request latency.
func metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := chi.RouteContext(r.Context()).RoutePattern()
		if route == "" {
			route = "unmatched"
		}
		metrics.RequestDuration.
			WithLabelValues(route, strconv.Itoa(ww.Status())).
			Observe(time.Since(start).Seconds())
	})
}

// corsMiddleware adds CORS headers for local development.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}
