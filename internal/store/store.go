package store

import (
	"context"
	"errors"
	"time"

	"github.com/cvsyn/rin-api/internal/models"
)

// ErrDuplicateName is returned by CreateAgent when another row already
// holds the name. The service's pre-insert existence check is only
// advisory; two concurrent registrations for the same name race to the
// insert and the loser surfaces this.
var ErrDuplicateName = errors.New("agent name already exists")

// DataStore defines the persistence operations the core depends on.
// Both PostgresStore and SQLiteStore implement this interface.
//
// Lookup methods return (nil, nil) when no row exists. InsertEntity
// and ClaimEntity are the two atomic primitives issuance and claiming
// rely on; they must stay race-free across process instances.
type DataStore interface {
	// Connection management
	Close()
	Ping(ctx context.Context) error

	// Entity operations
	//
	// InsertEntity is insert-if-absent keyed by rin: it reports false
	// without error when the rin is already taken.
	InsertEntity(ctx context.Context, e *models.Entity) (bool, error)
	GetEntity(ctx context.Context, rin string) (*models.Entity, error)
	// ClaimEntity performs the conditional claim update, guarded by
	// status = UNCLAIMED and a matching token hash. It sets the claimed
	// fields, clears the token fields, and returns the updated row, or
	// (nil, nil) when the guard matched no row.
	ClaimEntity(ctx context.Context, rinCode, tokenHash, claimedBy string, claimedAt time.Time) (*models.Entity, error)

	// Agent operations
	GetAgent(ctx context.Context, name string) (*models.Agent, error)
	CreateAgent(ctx context.Context, name string, description *string, keyHash string, createdAt time.Time) (*models.Agent, error)
	// ReviveAgent reuses a revoked agent's row: new key hash, new
	// description, revoked_at and last_seen_at cleared.
	ReviveAgent(ctx context.Context, name string, description *string, keyHash string) (*models.Agent, error)
	// GetAgentByKeyHash returns the active (non-revoked) agent holding
	// the hash, or (nil, nil).
	GetAgentByKeyHash(ctx context.Context, keyHash string) (*models.Agent, error)
	TouchAgent(ctx context.Context, name string, seenAt time.Time) error
	// RotateAgentKey replaces the key hash and clears any revocation.
	RotateAgentKey(ctx context.Context, name, keyHash string) error
	// RevokeAgent sets revoked_at and scrubs bio, avatar_url and links.
	RevokeAgent(ctx context.Context, name string, revokedAt time.Time) error
	UpdateAgentProfile(ctx context.Context, name string, bio, avatarURL *string, links map[string]string) error

	// Stats operations
	CountIssuedBetween(ctx context.Context, start, end time.Time) (int64, error)
	CountClaimedBetween(ctx context.Context, start, end time.Time) (int64, error)
	UpsertDailyStat(ctx context.Context, stat models.DailyStat) error
	RecentDailyStats(ctx context.Context, days int) ([]models.DailyStat, error)
	DailyTotals(ctx context.Context) (models.DailyStat, error)
}
