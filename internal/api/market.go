package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/agoralabs/agora/internal/domain"
	"github.com/agoralabs/agora/internal/infra/metrics"
)

// ─── Agents ─────────────────────────────────────────────────────────────────

type registerAgentRequest struct {
	ID           string              `json:"id"`
	Name         string              `json:"name"`
	Capabilities []string            `json:"capabilities"`
	Region       string              `json:"region"`
	Credentials  []domain.Credential `json:"credentials"`
}

func (s *Server) handleRegisterAgent(w http.ResponseWriter, r *http.Request) {
	var req registerAgentRequest
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.ID == "" || req.Name == "" {
		writeError(w, http.StatusBadRequest, "id and name are required")
		return
	}

	agent, err := s.registry.Register(domain.Agent{
		ID:           req.ID,
		Name:         req.Name,
		Capabilities: req.Capabilities,
		Region:       req.Region,
		Credentials:  req.Credentials,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, agent)
}

func (s *Server) handleListAgents(w http.ResponseWriter, r *http.Request) {
	status := domain.AgentStatus(r.URL.Query().Get("status"))
	agents, err := s.registry.List(status)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"agents": agents})
}

func (s *Server) handleGetAgent(w http.ResponseWriter, r *http.Request) {
	agent, err := s.registry.Get(chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, agent)
}

func (s *Server) handleSuspendAgent(w http.ResponseWriter, r *http.Request) {
	agent, err := s.registry.Suspend(chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, agent)
}

func (s *Server) handleReinstateAgent(w http.ResponseWriter, r *http.Request) {
	agent, err := s.registry.Reinstate(chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, agent)
}

func (s *Server) handleGrantCredential(w http.ResponseWriter, r *http.Request) {
	var cred domain.Credential
	if err := decode(r, &cred); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	agent, err := s.registry.GrantCredential(chi.URLParam(r, "id"), cred)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, agent)
}

func (s *Server) handleRevokeCredential(w http.ResponseWriter, r *http.Request) {
	agent, err := s.registry.RevokeCredential(chi.URLParam(r, "id"), chi.URLParam(r, "type"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, agent)
}

// ─── Tasks and Auctions ─────────────────────────────────────────────────────

type createTaskRequest struct {
	BuyerID             string   `json:"buyer_id"`
	BuyerOrg            string   `json:"buyer_org"`
	Title               string   `json:"title"`
	MaxBudget           string   `json:"max_budget"`
	Currency            string   `json:"currency"`
	AuctionType         string   `json:"auction_type"`
	MinReputation       float64  `json:"min_reputation"`
	RequiredSkills      []string `json:"required_skills"`
	DataClasses         []string `json:"data_classes"`
	Region              string   `json:"region"`
	RequiredCredentials []string `json:"required_credentials"`
}

func (s *Server) handleCreateTask(w http.ResponseWriter, r *http.Request) {
	var req createTaskRequest
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	budget, err := decimal.NewFromString(req.MaxBudget)
	if err != nil {
		writeError(w, http.StatusBadRequest, "max_budget is not a number")
		return
	}

	task, err := s.auctions.CreateTask(domain.Task{
		BuyerID:             req.BuyerID,
		BuyerOrg:            req.BuyerOrg,
		Title:               req.Title,
		MaxBudget:           budget,
		Currency:            req.Currency,
		AuctionType:         domain.AuctionType(req.AuctionType),
		MinReputation:       req.MinReputation,
		RequiredSkills:      req.RequiredSkills,
		DataClasses:         req.DataClasses,
		Region:              req.Region,
		RequiredCredentials: req.RequiredCredentials,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, task)
}

func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	task, err := s.auctions.Task(chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

type openAuctionRequest struct {
	Window string `json:"window"` // Go duration, e.g. "24h"
}

func (s *Server) handleOpenAuction(w http.ResponseWriter, r *http.Request) {
	var req openAuctionRequest
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	window, err := time.ParseDuration(req.Window)
	if err != nil || window <= 0 {
		writeError(w, http.StatusBadRequest, "window must be a positive duration")
		return
	}

	task, err := s.auctions.OpenAuction(chi.URLParam(r, "id"), window)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	metrics.AuctionsOpened.WithLabelValues(string(task.AuctionType)).Inc()
	writeJSON(w, http.StatusOK, task)
}

type submitBidRequest struct {
	AgentID string `json:"agent_id"`
	Amount  string `json:"amount"`
}

func (s *Server) handleSubmitBid(w http.ResponseWriter, r *http.Request) {
	var req submitBidRequest
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, "amount is not a number")
		return
	}

	bid, err := s.auctions.SubmitBid(chi.URLParam(r, "id"), req.AgentID, amount)
	if err != nil {
		metrics.BidsRejected.WithLabelValues(rejectReason(err)).Inc()
		writeDomainError(w, err)
		return
	}
	metrics.BidsSubmitted.WithLabelValues(bidType(bid)).Inc()
	writeJSON(w, http.StatusCreated, bid)
}

func bidType(b domain.Bid) string {
	if b.Sealed != nil {
		return "sealed"
	}
	return "direct"
}

func rejectReason(err error) string {
	switch domainStatus(err) {
	case http.StatusConflict:
		return "closed"
	case http.StatusForbidden:
		return "ineligible"
	case http.StatusUnprocessableEntity:
		return "invalid_amount"
	case http.StatusNotFound:
		return "not_found"
	default:
		return "other"
	}
}

func (s *Server) handleListBids(w http.ResponseWriter, r *http.Request) {
	bids, err := s.auctions.Bids(chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"bids": bids})
}

func (s *Server) handleCloseAuction(w http.ResponseWriter, r *http.Request) {
	assignment, err := s.auctions.CloseAuction(chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if assignment == nil {
		metrics.AuctionsClosed.WithLabelValues("no_bids").Inc()
		writeJSON(w, http.StatusOK, map[string]any{"assignment": nil})
		return
	}
	metrics.AuctionsClosed.WithLabelValues("awarded").Inc()
	metrics.EscrowOpened.Inc()
	writeJSON(w, http.StatusOK, map[string]any{"assignment": assignment})
}

func (s *Server) handleCancelAuction(w http.ResponseWriter, r *http.Request) {
	cancelled, err := s.auctions.CancelAuction(chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if cancelled {
		metrics.AuctionsClosed.WithLabelValues("cancelled").Inc()
	}
	writeJSON(w, http.StatusOK, map[string]any{"cancelled": cancelled})
}

func (s *Server) handleEligibleAgents(w http.ResponseWriter, r *http.Request) {
	task, err := s.auctions.Task(chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	agents, err := s.eligibility.EligibleAgents(task)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"agents": agents})
}

// ─── Assignments ────────────────────────────────────────────────────────────

func (s *Server) handleGetAssignment(w http.ResponseWriter, r *http.Request) {
	assignment, err := s.auctions.Assignment(chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, assignment)
}

type completeRequest struct {
	Rating int `json:"rating"`
}

func (s *Server) handleCompleteAssignment(w http.ResponseWriter, r *http.Request) {
	var req completeRequest
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	assignment, err := s.auctions.Complete(chi.URLParam(r, "id"), req.Rating)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	// Completion moves the agent's performance inputs; refresh scores.
	if err := s.reputation.Recompute(r.Context(), assignment.AgentID); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, assignment)
}
