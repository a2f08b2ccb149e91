package models

import (
	"time"

	"github.com/google/uuid"
)

// EntityStatus tracks the claim lifecycle. The transition is monotonic:
// UNCLAIMED -> CLAIMED, never back.
type EntityStatus string

const (
	StatusUnclaimed EntityStatus = "UNCLAIMED"
	StatusClaimed   EntityStatus = "CLAIMED"
)

// Entity represents one issued RIN. Pointer fields are absent (NULL)
// rather than empty; presence is part of the contract. The claim token
// fields exist only while UNCLAIMED and are cleared at the moment of
// claim, in the same atomic update that sets the claimed fields.
type Entity struct {
	EntityID           uuid.UUID    `json:"entity_id"`
	RIN                string       `json:"rin"`
	AgentType          string       `json:"agent_type"`
	AgentName          *string      `json:"agent_name,omitempty"`
	Status             EntityStatus `json:"status"`
	IssuedAt           time.Time    `json:"issued_at"`
	ClaimTokenHash     *string      `json:"-"`
	ClaimTokenIssuedAt *time.Time   `json:"-"`
	ClaimedBy          *string      `json:"claimed_by,omitempty"`
	ClaimedAt          *time.Time   `json:"claimed_at,omitempty"`
	IssuedByAgentName  *string      `json:"-"`
}
