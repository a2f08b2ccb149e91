package handlers

import (
	"bytes"
	"encoding/json"
	"net/http"
	"time"

	"github.com/cvsyn/rin-api/internal/api/middleware"
	"github.com/cvsyn/rin-api/internal/identity"
	"github.com/cvsyn/rin-api/internal/metrics"
	"github.com/cvsyn/rin-api/internal/models"
)

// keyWarning accompanies every response that carries a plaintext API
// key. Keys are stored hashed and cannot be recovered later.
const keyWarning = "Save this API key now. It cannot be retrieved again."

type registerAgentRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

type registerAgentResponse struct {
	Name        string    `json:"name"`
	Description *string   `json:"description,omitempty"`
	APIKey      string    `json:"api_key"`
	CreatedAt   time.Time `json:"created_at"`
	Important   string    `json:"important"`
}

// RegisterAgent handles POST /api/v1/agents/register.
func (h *Handler) RegisterAgent(w http.ResponseWriter, r *http.Request) {
	var req registerAgentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.Error(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}

	name := safeTrim(req.Name, 60)
	description := optional(safeTrim(req.Description, 200))

	registered, err := h.svc.RegisterAgent(r.Context(), name, description)
	if err != nil {
		h.ServiceError(w, err)
		return
	}

	metrics.AgentsRegistered.Inc()
	h.JSON(w, http.StatusCreated, registerAgentResponse{
		Name:        registered.Agent.Name,
		Description: registered.Agent.Description,
		APIKey:      registered.APIKey,
		CreatedAt:   registered.Agent.CreatedAt,
		Important:   keyWarning,
	})
}

type agentView struct {
	Name        string            `json:"name"`
	Description *string           `json:"description,omitempty"`
	Bio         *string           `json:"bio,omitempty"`
	AvatarURL   *string           `json:"avatar_url,omitempty"`
	Links       map[string]string `json:"links,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
	LastSeenAt  *time.Time        `json:"last_seen_at,omitempty"`
}

func viewOf(agent *models.Agent) agentView {
	return agentView{
		Name:        agent.Name,
		Description: agent.Description,
		Bio:         agent.Bio,
		AvatarURL:   agent.AvatarURL,
		Links:       agent.Links,
		CreatedAt:   agent.CreatedAt,
		LastSeenAt:  agent.LastSeenAt,
	}
}

// Me handles GET /api/v1/agents/me.
func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	agent := middleware.GetAgentFromContext(r.Context())
	if agent == nil {
		h.Error(w, http.StatusUnauthorized, "Unauthorized")
		return
	}
	h.JSON(w, http.StatusOK, viewOf(agent))
}

// AgentStatus handles GET /api/v1/agents/status: a cheap liveness
// probe for a stored key.
func (h *Handler) AgentStatus(w http.ResponseWriter, r *http.Request) {
	agent := middleware.GetAgentFromContext(r.Context())
	if agent == nil {
		h.Error(w, http.StatusUnauthorized, "Unauthorized")
		return
	}
	h.JSON(w, http.StatusOK, map[string]interface{}{
		"name":         agent.Name,
		"status":       "active",
		"last_seen_at": agent.LastSeenAt,
	})
}

// RotateKey handles POST /api/v1/agents/rotate-key. The old key stops
// working the moment this returns.
func (h *Handler) RotateKey(w http.ResponseWriter, r *http.Request) {
	agent := middleware.GetAgentFromContext(r.Context())
	if agent == nil {
		h.Error(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	key, err := h.svc.RotateKey(r.Context(), agent)
	if err != nil {
		h.ServiceError(w, err)
		return
	}

	metrics.KeysRotated.Inc()
	h.JSON(w, http.StatusOK, map[string]string{
		"api_key":   key,
		"important": keyWarning,
	})
}

// RevokeKey handles POST /api/v1/agents/revoke.
func (h *Handler) RevokeKey(w http.ResponseWriter, r *http.Request) {
	agent := middleware.GetAgentFromContext(r.Context())
	if agent == nil {
		h.Error(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	if err := h.svc.RevokeKey(r.Context(), agent); err != nil {
		h.ServiceError(w, err)
		return
	}

	metrics.KeysRevoked.Inc()
	h.JSON(w, http.StatusOK, map[string]string{"status": "revoked"})
}

// UpdateProfile handles PATCH /api/v1/agents/me/profile. The body is
// decoded field by field so an absent key, an explicit null, and a
// value are three different things: absent leaves the field alone,
// null clears it.
func (h *Handler) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	agent := middleware.GetAgentFromContext(r.Context())
	if agent == nil {
		h.Error(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	var fields map[string]json.RawMessage
	if err := json.NewDecoder(r.Body).Decode(&fields); err != nil {
		h.Error(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}

	var update identity.ProfileUpdate

	if raw, ok := fields["bio"]; ok {
		update.SetBio = true
		if !isNull(raw) {
			var bio string
			if err := json.Unmarshal(raw, &bio); err != nil {
				h.Error(w, http.StatusBadRequest, "bio must be a string or null")
				return
			}
			update.Bio = &bio
		}
	}

	if raw, ok := fields["avatar_url"]; ok {
		update.SetAvatar = true
		if !isNull(raw) {
			var avatarURL string
			if err := json.Unmarshal(raw, &avatarURL); err != nil {
				h.Error(w, http.StatusBadRequest, "avatar_url must be a string or null")
				return
			}
			update.AvatarURL = &avatarURL
		}
	}

	if raw, ok := fields["links"]; ok {
		update.SetLinks = true
		if !isNull(raw) {
			links := make(map[string]string)
			if err := json.Unmarshal(raw, &links); err != nil {
				h.Error(w, http.StatusBadRequest, "links must be an object of string values or null")
				return
			}
			update.Links = links
		}
	}

	profile, err := h.svc.UpdateProfile(r.Context(), agent, update)
	if err != nil {
		h.ServiceError(w, err)
		return
	}
	h.JSON(w, http.StatusOK, profile)
}

func isNull(raw json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}
