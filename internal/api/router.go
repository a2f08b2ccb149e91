// Package api assembles the HTTP surface of the RIN service.
package api

import (
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/cvsyn/rin-api/internal/api/middleware"
	"github.com/cvsyn/rin-api/internal/config"
	"github.com/cvsyn/rin-api/internal/handlers"
	"github.com/cvsyn/rin-api/internal/identity"
	"github.com/cvsyn/rin-api/internal/ratelimit"
	"github.com/cvsyn/rin-api/internal/store"
)

// NewRouter creates and configures the HTTP router.
func NewRouter(logger zerolog.Logger, cfg *config.Config, svc *identity.Service, st store.DataStore, ipLimiter, agentLimiter *ratelimit.Limiter) *chi.Mux {
	r := chi.NewRouter()

	// Metrics middleware (first to capture all requests)
	r.Use(middleware.Metrics)

	// Security middleware (order matters!)
	r.Use(middleware.SecurityHeaders)
	r.Use(middleware.MaxBodySize(8 * 1024)) // 8KB max body
	r.Use(middleware.ValidateRequest)

	// Standard middleware
	r.Use(chimw.RequestID)
	r.Use(middleware.Logger(logger))
	r.Use(chimw.Recoverer)

	// CORS: only the configured web origins may make browser calls;
	// non-browser requests carry no Origin and pass through untouched.
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PATCH", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"X-RateLimit-Remaining", "X-RateLimit-Reset"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	h := handlers.NewHandler(svc, st, cfg, logger)
	auth := middleware.NewAuthMiddleware(svc)
	limiter := middleware.NewRateLimiter(ipLimiter, agentLimiter, logger)

	// Metrics endpoint (for Prometheus scraping)
	r.Handle("/metrics", promhttp.Handler())

	// Public routes (no auth required)
	r.Get("/health", h.Health)
	r.Get("/api/id/{rin}", h.Lookup)
	r.With(limiter.LimitByIP).Post("/api/claim", h.Claim)
	r.Post("/api/v1/agents/register", h.RegisterAgent)

	// Admin routes (admin key, optional IP allow-list)
	r.Get("/admin/stats", h.AdminStats)

	// Authenticated routes (require an agent API key)
	r.Group(func(r chi.Router) {
		r.Use(auth.RequireAuth)

		r.With(limiter.LimitByAgent, limiter.LimitByIP).Post("/api/register", h.IssueRIN)

		r.Get("/api/v1/agents/me", h.Me)
		r.Get("/api/v1/agents/status", h.AgentStatus)
		r.Post("/api/v1/agents/rotate-key", h.RotateKey)
		r.Post("/api/v1/agents/revoke", h.RevokeKey)
		r.Patch("/api/v1/agents/me/profile", h.UpdateProfile)
	})

	return r
}
