package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/cvsyn/rin-api/internal/identity"
	"github.com/cvsyn/rin-api/internal/models"
)

type contextKey string

const AgentContextKey contextKey = "agent"

// AuthMiddleware resolves Bearer API keys on authenticated endpoints.
type AuthMiddleware struct {
	svc *identity.Service
}

// NewAuthMiddleware creates a new auth middleware.
func NewAuthMiddleware(svc *identity.Service) *AuthMiddleware {
	return &AuthMiddleware{svc: svc}
}

// RequireAuth verifies the presented API key and attaches the agent to
// the request context. Authentication also records the agent's
// last_seen_at.
func (m *AuthMiddleware) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth := r.Header.Get("Authorization")
		if !strings.HasPrefix(auth, "Bearer ") {
			jsonError(w, http.StatusUnauthorized, "Unauthorized")
			return
		}

		key := strings.TrimSpace(strings.TrimPrefix(auth, "Bearer "))
		agent, err := m.svc.Authenticate(r.Context(), key)
		if err != nil {
			// A store failure during lookup is not the caller's fault.
			if identity.KindOf(err) == identity.KindAuth {
				jsonError(w, http.StatusUnauthorized, "Unauthorized")
			} else {
				jsonError(w, http.StatusInternalServerError, "Internal server error")
			}
			return
		}

		ctx := context.WithValue(r.Context(), AgentContextKey, agent)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func jsonError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}

// GetAgentFromContext retrieves the authenticated agent from the request context.
func GetAgentFromContext(ctx context.Context) *models.Agent {
	agent, ok := ctx.Value(AgentContextKey).(*models.Agent)
	if !ok {
		return nil
	}
	return agent
}
