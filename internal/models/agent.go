package models

import (
	"time"
)

// Agent represents a calling principal. The plaintext API key is never
// stored; APIKeyHash is a peppered HMAC of the current credential.
type Agent struct {
	Name        string            `json:"name"`
	Description *string           `json:"description,omitempty"`
	Bio         *string           `json:"bio,omitempty"`
	AvatarURL   *string           `json:"avatar_url,omitempty"`
	Links       map[string]string `json:"links,omitempty"`
	APIKeyHash  string            `json:"-"`
	CreatedAt   time.Time         `json:"created_at"`
	LastSeenAt  *time.Time        `json:"last_seen_at,omitempty"`
	RevokedAt   *time.Time        `json:"revoked_at,omitempty"`
}

// Revoked reports whether the agent's credential has been revoked.
// A revoked agent cannot authenticate until re-registration issues a
// fresh key.
func (a *Agent) Revoked() bool {
	return a.RevokedAt != nil
}
