package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rin_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "rin_http_request_duration_seconds",
			Help:    "HTTP request duration",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"method", "path"},
	)

	// Business metrics
	RINsIssued = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "rin_issued_total",
			Help: "Total RINs issued",
		},
	)

	IssueRetriesExhausted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "rin_issue_retries_exhausted_total",
			Help: "Issuance attempts that ran out of unique-code retries",
		},
	)

	ClaimsRedeemed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "rin_claims_redeemed_total",
			Help: "Total successful claim redemptions",
		},
	)

	AgentsRegistered = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "rin_agents_registered_total",
			Help: "Total agents registered",
		},
	)

	KeysRotated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "rin_keys_rotated_total",
			Help: "Total API key rotations",
		},
	)

	KeysRevoked = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "rin_keys_revoked_total",
			Help: "Total API key revocations",
		},
	)

	// Rate limit metrics
	RateLimitHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rin_rate_limit_hits_total",
			Help: "Total rate limit hits",
		},
		[]string{"tier"}, // "ip" or "agent"
	)
)
