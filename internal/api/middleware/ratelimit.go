package middleware

import (
	"net"
	"net/http"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"github.com/cvsyn/rin-api/internal/metrics"
	"github.com/cvsyn/rin-api/internal/ratelimit"
)

// RateLimiter applies the two issuance rate limit tiers: a per-IP
// limit on anonymous endpoints and a per-agent limit on authenticated
// issuance. Limiter backend failures are logged and fail open so a
// Redis outage does not take issuance down with it.
type RateLimiter struct {
	ip     *ratelimit.Limiter
	agent  *ratelimit.Limiter
	logger zerolog.Logger
}

// NewRateLimiter creates a new rate limit middleware.
func NewRateLimiter(ip, agent *ratelimit.Limiter, logger zerolog.Logger) *RateLimiter {
	return &RateLimiter{ip: ip, agent: agent, logger: logger}
}

// LimitByIP enforces the per-IP window and exposes the limiter state
// through X-RateLimit-Remaining and X-RateLimit-Reset.
func (rl *RateLimiter) LimitByIP(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := ClientIP(r)
		decision, err := rl.ip.Check(r.Context(), "ip:"+ip)
		if err != nil {
			rl.logger.Warn().Err(err).Str("ip", ip).Msg("ip rate limit check failed, allowing request")
			next.ServeHTTP(w, r)
			return
		}

		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(decision.Remaining))
		w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(decision.ResetAt.Unix(), 10))

		if !decision.Allowed {
			metrics.RateLimitHits.WithLabelValues("ip").Inc()
			jsonError(w, http.StatusTooManyRequests, "Too many requests")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// LimitByAgent enforces the per-agent window. Must run after RequireAuth.
func (rl *RateLimiter) LimitByAgent(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		agent := GetAgentFromContext(r.Context())
		if agent == nil {
			jsonError(w, http.StatusUnauthorized, "Unauthorized")
			return
		}

		decision, err := rl.agent.Check(r.Context(), "agent:"+agent.Name)
		if err != nil {
			rl.logger.Warn().Err(err).Str("agent", agent.Name).Msg("agent rate limit check failed, allowing request")
			next.ServeHTTP(w, r)
			return
		}

		if !decision.Allowed {
			metrics.RateLimitHits.WithLabelValues("agent").Inc()
			jsonError(w, http.StatusTooManyRequests, "Too many requests")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// ClientIP returns the first address in X-Forwarded-For when present,
// otherwise the connection's remote address.
func ClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		parts := strings.Split(xff, ",")
		if ip := strings.TrimSpace(parts[0]); ip != "" {
			return ip
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
