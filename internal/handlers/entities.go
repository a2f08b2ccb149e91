package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/cvsyn/rin-api/internal/api/middleware"
	"github.com/cvsyn/rin-api/internal/identity"
	"github.com/cvsyn/rin-api/internal/metrics"
	"github.com/cvsyn/rin-api/internal/models"
)

// issueRequest is the body of POST /api/register.
type issueRequest struct {
	AgentType string `json:"agent_type"`
	AgentName string `json:"agent_name"`
}

// issueResponse returns the fresh RIN together with its one-time claim
// token. The token is shown here and never again.
type issueResponse struct {
	RIN        string              `json:"rin"`
	EntityID   string              `json:"entity_id"`
	AgentType  string              `json:"agent_type"`
	AgentName  *string             `json:"agent_name,omitempty"`
	Status     models.EntityStatus `json:"status"`
	IssuedAt   time.Time           `json:"issued_at"`
	ClaimToken string              `json:"claim_token"`
}

// IssueRIN handles POST /api/register: allocate a unique RIN for the
// authenticated agent.
func (h *Handler) IssueRIN(w http.ResponseWriter, r *http.Request) {
	agent := middleware.GetAgentFromContext(r.Context())
	if agent == nil {
		h.Error(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	var req issueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.Error(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}

	agentType := safeTrim(req.AgentType, 40)
	agentName := optional(safeTrim(req.AgentName, 120))

	issued, err := h.svc.Issue(r.Context(), agentType, agentName, &agent.Name)
	if err != nil {
		if errors.Is(err, identity.ErrExhaustedRetries) {
			metrics.IssueRetriesExhausted.Inc()
		}
		h.ServiceError(w, err)
		return
	}

	metrics.RINsIssued.Inc()
	h.JSON(w, http.StatusCreated, issueResponse{
		RIN:        issued.Entity.RIN,
		EntityID:   issued.Entity.EntityID.String(),
		AgentType:  issued.Entity.AgentType,
		AgentName:  issued.Entity.AgentName,
		Status:     issued.Entity.Status,
		IssuedAt:   issued.Entity.IssuedAt,
		ClaimToken: issued.ClaimToken,
	})
}

// claimRequest is the body of POST /api/claim.
type claimRequest struct {
	RIN        string `json:"rin"`
	ClaimedBy  string `json:"claimed_by"`
	ClaimToken string `json:"claim_token"`
}

type claimResponse struct {
	RIN       string              `json:"rin"`
	Status    models.EntityStatus `json:"status"`
	ClaimedBy *string             `json:"claimed_by"`
	ClaimedAt *time.Time          `json:"claimed_at"`
}

// Claim handles POST /api/claim: redeem a one-time claim token.
func (h *Handler) Claim(w http.ResponseWriter, r *http.Request) {
	var req claimRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.Error(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}

	rinCode := safeTrim(req.RIN, 16)
	claimedBy := safeTrim(req.ClaimedBy, 160)
	token := safeTrim(req.ClaimToken, 256)

	entity, err := h.svc.Redeem(r.Context(), rinCode, claimedBy, token)
	if err != nil {
		h.ServiceError(w, err)
		return
	}

	metrics.ClaimsRedeemed.Inc()
	h.JSON(w, http.StatusOK, claimResponse{
		RIN:       entity.RIN,
		Status:    entity.Status,
		ClaimedBy: entity.ClaimedBy,
		ClaimedAt: entity.ClaimedAt,
	})
}

// Lookup handles GET /api/id/{rin}: the public view of an issued RIN.
func (h *Handler) Lookup(w http.ResponseWriter, r *http.Request) {
	rinCode := safeTrim(chi.URLParam(r, "rin"), 16)

	view, err := h.svc.Lookup(r.Context(), rinCode)
	if err != nil {
		h.ServiceError(w, err)
		return
	}
	h.JSON(w, http.StatusOK, view)
}
