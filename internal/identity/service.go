// Package identity implements the core of the RIN service: issuance
// with bounded collision retries, one-time claim redemption, and agent
// credential management. It is transport-agnostic; the HTTP layer maps
// its results to the wire.
package identity

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/cvsyn/rin-api/internal/models"
	"github.com/cvsyn/rin-api/internal/rin"
	"github.com/cvsyn/rin-api/internal/store"
	"github.com/cvsyn/rin-api/internal/validate"
)

// maxIssueAttempts bounds the uniqueness-resolution loop. Codes are
// short and collisions are expected at scale; running out of attempts
// is reported rather than retried forever so request latency stays
// bounded.
const maxIssueAttempts = 12

// Config assembles a Service. Peppers are passed explicitly at
// construction, never read from the environment at call time.
type Config struct {
	Store            store.DataStore
	ClaimTokenPepper string
	APIKeyPepper     string
	// Now is the clock; nil means time.Now. Tests inject a fake.
	Now func() time.Time
}

// Service exposes the core operations to the HTTP layer.
type Service struct {
	store       store.DataStore
	claimPepper string
	keyPepper   string
	now         func() time.Time

	// Random sources, injectable so the retry loop is testable with a
	// colliding generator.
	newCode  func() string
	newToken func() string
	newKey   func() string
}

// New creates a Service.
func New(cfg Config) *Service {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Service{
		store:       cfg.Store,
		claimPepper: cfg.ClaimTokenPepper,
		keyPepper:   cfg.APIKeyPepper,
		now:         now,
		newCode:     rin.GenerateCode,
		newToken:    rin.GenerateClaimToken,
		newKey:      rin.NewAPIKey,
	}
}

// IssuedEntity is the result of a successful issuance. ClaimToken is
// the plaintext one-time token; it is never stored and never
// retrievable again.
type IssuedEntity struct {
	Entity     *models.Entity
	ClaimToken string
}

// Issue allocates a unique RIN for the caller. Each attempt generates
// a fresh code and a fresh claim token and races an insert-if-absent
// against the store; a rejected insert means the code was taken and
// the candidate is discarded whole.
func (s *Service) Issue(ctx context.Context, agentType string, agentName, issuedBy *string) (*IssuedEntity, error) {
	if agentType == "" {
		return nil, Invalid("agent_type is required")
	}

	for attempt := 0; attempt < maxIssueAttempts; attempt++ {
		code := s.newCode()
		token := s.newToken()
		tokenHash := rin.HashClaimToken(token, s.claimPepper)
		now := s.now().UTC()

		entity := &models.Entity{
			EntityID:           uuid.Must(uuid.NewV7()),
			RIN:                code,
			AgentType:          agentType,
			AgentName:          agentName,
			Status:             models.StatusUnclaimed,
			IssuedAt:           now,
			ClaimTokenHash:     &tokenHash,
			ClaimTokenIssuedAt: &now,
			IssuedByAgentName:  issuedBy,
		}

		inserted, err := s.store.InsertEntity(ctx, entity)
		if err != nil {
			return nil, err
		}
		if inserted {
			return &IssuedEntity{Entity: entity, ClaimToken: token}, nil
		}
	}
	return nil, ErrExhaustedRetries
}

// Redeem binds claimedBy to an unclaimed RIN, consuming the one-time
// token. The transition and the token invalidation are one conditional
// update; when it matches no row, the entity is re-read to report the
// precise failure: not-found first, then status, then token validity.
func (s *Service) Redeem(ctx context.Context, rinCode, claimedBy, token string) (*models.Entity, error) {
	if rinCode == "" || claimedBy == "" || token == "" {
		return nil, Invalid("rin, claimed_by, and claim_token are required")
	}

	tokenHash := rin.HashClaimToken(token, s.claimPepper)
	claimed, err := s.store.ClaimEntity(ctx, rinCode, tokenHash, claimedBy, s.now().UTC())
	if err != nil {
		return nil, err
	}
	if claimed != nil {
		return claimed, nil
	}

	entity, err := s.store.GetEntity(ctx, rinCode)
	if err != nil {
		return nil, err
	}
	if entity == nil {
		return nil, ErrNotFound
	}
	if entity.Status != models.StatusUnclaimed {
		return nil, ErrAlreadyClaimed
	}
	return nil, ErrInvalidToken
}

// IssuerProfile is the public slice of the issuing agent's profile.
type IssuerProfile struct {
	Bio       *string           `json:"bio,omitempty"`
	AvatarURL *string           `json:"avatar_url,omitempty"`
	Links     map[string]string `json:"links,omitempty"`
}

// PublicEntity is the public view of an issued RIN. ClaimedBy is only
// present once the entity is claimed.
type PublicEntity struct {
	RIN       string              `json:"rin"`
	AgentType string              `json:"agent_type"`
	AgentName *string             `json:"agent_name,omitempty"`
	Status    models.EntityStatus `json:"status"`
	ClaimedBy *string             `json:"claimed_by,omitempty"`
	Profile   *IssuerProfile      `json:"profile,omitempty"`
}

// Lookup returns the public view of a RIN, with the issuing agent's
// profile attached when it has any public fields.
func (s *Service) Lookup(ctx context.Context, rinCode string) (*PublicEntity, error) {
	if rinCode == "" {
		return nil, Invalid("invalid RIN")
	}

	entity, err := s.store.GetEntity(ctx, rinCode)
	if err != nil {
		return nil, err
	}
	if entity == nil {
		return nil, ErrNotFound
	}

	view := &PublicEntity{
		RIN:       entity.RIN,
		AgentType: entity.AgentType,
		AgentName: entity.AgentName,
		Status:    entity.Status,
	}
	if entity.Status == models.StatusClaimed {
		view.ClaimedBy = entity.ClaimedBy
	}

	if entity.IssuedByAgentName != nil {
		issuer, err := s.store.GetAgent(ctx, *entity.IssuedByAgentName)
		if err != nil {
			return nil, err
		}
		if issuer != nil {
			profile := &IssuerProfile{Bio: issuer.Bio, AvatarURL: issuer.AvatarURL, Links: issuer.Links}
			if profile.Bio != nil || profile.AvatarURL != nil || len(profile.Links) > 0 {
				view.Profile = profile
			}
		}
	}
	return view, nil
}

// RegisteredAgent is the result of a registration. APIKey is the
// plaintext credential, shown exactly once.
type RegisteredAgent struct {
	Agent  *models.Agent
	APIKey string
}

// RegisterAgent creates a new agent, or resurrects a revoked one under
// the same name with a fresh key and a cleared profile. An active
// holder of the name wins.
func (s *Service) RegisterAgent(ctx context.Context, name string, description *string) (*RegisteredAgent, error) {
	if name == "" {
		return nil, Invalid("name is required")
	}

	key := s.newKey()
	keyHash := rin.HashAPIKey(key, s.keyPepper)

	existing, err := s.store.GetAgent(ctx, name)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		if !existing.Revoked() {
			return nil, ErrNameTaken
		}
		agent, err := s.store.ReviveAgent(ctx, name, description, keyHash)
		if err != nil {
			return nil, err
		}
		return &RegisteredAgent{Agent: agent, APIKey: key}, nil
	}

	agent, err := s.store.CreateAgent(ctx, name, description, keyHash, s.now().UTC())
	if err != nil {
		// The existence check above races concurrent registrations;
		// the store reports the loser's insert as a duplicate.
		if errors.Is(err, store.ErrDuplicateName) {
			return nil, ErrNameTaken
		}
		return nil, err
	}
	return &RegisteredAgent{Agent: agent, APIKey: key}, nil
}

// Authenticate resolves a presented API key to its active agent and
// records the sighting. Malformed keys are rejected before any store
// lookup.
func (s *Service) Authenticate(ctx context.Context, presentedKey string) (*models.Agent, error) {
	if !strings.HasPrefix(presentedKey, rin.KeyPrefix) {
		return nil, ErrUnauthorized
	}

	keyHash := rin.HashAPIKey(presentedKey, s.keyPepper)
	agent, err := s.store.GetAgentByKeyHash(ctx, keyHash)
	if err != nil {
		return nil, err
	}
	if agent == nil {
		return nil, ErrUnauthorized
	}

	seenAt := s.now().UTC()
	if err := s.store.TouchAgent(ctx, agent.Name, seenAt); err != nil {
		return nil, err
	}
	agent.LastSeenAt = &seenAt
	return agent, nil
}

// RotateKey issues a fresh credential for the agent, invalidating the
// old one immediately and irreversibly.
func (s *Service) RotateKey(ctx context.Context, agent *models.Agent) (string, error) {
	key := s.newKey()
	keyHash := rin.HashAPIKey(key, s.keyPepper)
	if err := s.store.RotateAgentKey(ctx, agent.Name, keyHash); err != nil {
		return "", err
	}
	return key, nil
}

// RevokeKey revokes the agent's credential and scrubs its public
// profile fields so nothing stale stays exposed.
func (s *Service) RevokeKey(ctx context.Context, agent *models.Agent) error {
	return s.store.RevokeAgent(ctx, agent.Name, s.now().UTC())
}

// ProfileUpdate carries a partial profile change. The Set flags
// distinguish "leave unchanged" from "clear": a set field with a nil
// value clears it.
type ProfileUpdate struct {
	SetBio    bool
	Bio       *string
	SetAvatar bool
	AvatarURL *string
	SetLinks  bool
	Links     map[string]string
}

// Profile is the agent's profile after an update.
type Profile struct {
	Bio       *string           `json:"bio"`
	AvatarURL *string           `json:"avatar_url"`
	Links     map[string]string `json:"links"`
}

// UpdateProfile validates and applies a partial profile update for the
// agent, returning the resulting profile.
func (s *Service) UpdateProfile(ctx context.Context, agent *models.Agent, update ProfileUpdate) (*Profile, error) {
	current, err := s.store.GetAgent(ctx, agent.Name)
	if err != nil {
		return nil, err
	}
	if current == nil {
		return nil, ErrUnauthorized
	}

	bio, avatarURL, links := current.Bio, current.AvatarURL, current.Links

	if update.SetBio {
		bio = nil
		if update.Bio != nil {
			trimmed, err := validate.Bio(*update.Bio)
			if err != nil {
				return nil, Invalid(err.Error())
			}
			if trimmed != "" {
				bio = &trimmed
			}
		}
	}

	if update.SetAvatar {
		avatarURL = nil
		if update.AvatarURL != nil {
			normalized, err := validate.AvatarURL(*update.AvatarURL)
			if err != nil {
				return nil, Invalid(err.Error())
			}
			avatarURL = &normalized
		}
	}

	if update.SetLinks {
		links = nil
		if update.Links != nil {
			normalized, err := validate.Links(update.Links)
			if err != nil {
				return nil, Invalid(err.Error())
			}
			links = normalized
		}
	}

	if update.SetBio || update.SetAvatar || update.SetLinks {
		if err := s.store.UpdateAgentProfile(ctx, agent.Name, bio, avatarURL, links); err != nil {
			return nil, err
		}
	}

	return &Profile{Bio: bio, AvatarURL: avatarURL, Links: links}, nil
}
