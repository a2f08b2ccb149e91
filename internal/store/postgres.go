package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cvsyn/rin-api/internal/models"
)

// PostgresStore handles PostgreSQL database operations.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL store with a connection pool.
func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, err
	}

	if err := pool.Ping(ctx); err != nil {
		return nil, err
	}

	return &PostgresStore{pool: pool}, nil
}

// Close closes the database connection pool.
func (s *PostgresStore) Close() {
	s.pool.Close()
}

// Ping checks the database connection.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

const entityColumns = `entity_id, rin, agent_type, agent_name, status, issued_at,
	claim_token_hash, claim_token_issued_at, claimed_by, claimed_at, issued_by_agent_name`

func scanEntity(row pgx.Row) (*models.Entity, error) {
	e := &models.Entity{}
	err := row.Scan(
		&e.EntityID,
		&e.RIN,
		&e.AgentType,
		&e.AgentName,
		&e.Status,
		&e.IssuedAt,
		&e.ClaimTokenHash,
		&e.ClaimTokenIssuedAt,
		&e.ClaimedBy,
		&e.ClaimedAt,
		&e.IssuedByAgentName,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return e, nil
}

// InsertEntity inserts a new entity unless its rin is already taken.
func (s *PostgresStore) InsertEntity(ctx context.Context, e *models.Entity) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO entities (
			entity_id, rin, agent_type, agent_name, status, issued_at,
			claim_token_hash, claim_token_issued_at, issued_by_agent_name
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (rin) DO NOTHING
	`, e.EntityID, e.RIN, e.AgentType, e.AgentName, e.Status, e.IssuedAt,
		e.ClaimTokenHash, e.ClaimTokenIssuedAt, e.IssuedByAgentName)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// GetEntity retrieves an entity by rin.
func (s *PostgresStore) GetEntity(ctx context.Context, rinCode string) (*models.Entity, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+entityColumns+`
		FROM entities WHERE rin = $1
	`, rinCode)
	return scanEntity(row)
}

// ClaimEntity performs the conditional claim update. The guard and the
// update run as one statement so a token can never be redeemed twice.
func (s *PostgresStore) ClaimEntity(ctx context.Context, rinCode, tokenHash, claimedBy string, claimedAt time.Time) (*models.Entity, error) {
	row := s.pool.QueryRow(ctx, `
		UPDATE entities
		SET status = $1,
		    claimed_by = $2,
		    claimed_at = $3,
		    claim_token_hash = NULL,
		    claim_token_issued_at = NULL
		WHERE rin = $4
		  AND status = $5
		  AND claim_token_hash = $6
		RETURNING `+entityColumns+`
	`, models.StatusClaimed, claimedBy, claimedAt, rinCode, models.StatusUnclaimed, tokenHash)
	return scanEntity(row)
}

const agentColumns = `name, description, bio, avatar_url, links, api_key_hash,
	created_at, last_seen_at, revoked_at`

func scanAgent(row pgx.Row) (*models.Agent, error) {
	a := &models.Agent{}
	var links []byte
	err := row.Scan(
		&a.Name,
		&a.Description,
		&a.Bio,
		&a.AvatarURL,
		&links,
		&a.APIKeyHash,
		&a.CreatedAt,
		&a.LastSeenAt,
		&a.RevokedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	if links != nil {
		if err := json.Unmarshal(links, &a.Links); err != nil {
			return nil, err
		}
	}
	return a, nil
}

// GetAgent retrieves an agent by name, revoked or not.
func (s *PostgresStore) GetAgent(ctx context.Context, name string) (*models.Agent, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+agentColumns+`
		FROM agents WHERE name = $1
	`, name)
	return scanAgent(row)
}

// CreateAgent creates a new agent record. A unique violation on the
// name maps to ErrDuplicateName.
func (s *PostgresStore) CreateAgent(ctx context.Context, name string, description *string, keyHash string, createdAt time.Time) (*models.Agent, error) {
	row := s.pool.QueryRow(ctx, `
		INSERT INTO agents (name, description, api_key_hash, created_at)
		VALUES ($1, $2, $3, $4)
		RETURNING `+agentColumns+`
	`, name, description, keyHash, createdAt)
	agent, err := scanAgent(row)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return nil, ErrDuplicateName
		}
		return nil, err
	}
	return agent, nil
}

// ReviveAgent reuses a revoked agent's row for re-registration.
func (s *PostgresStore) ReviveAgent(ctx context.Context, name string, description *string, keyHash string) (*models.Agent, error) {
	row := s.pool.QueryRow(ctx, `
		UPDATE agents
		SET api_key_hash = $1,
		    description = $2,
		    revoked_at = NULL,
		    last_seen_at = NULL
		WHERE name = $3
		RETURNING `+agentColumns+`
	`, keyHash, description, name)
	return scanAgent(row)
}

// GetAgentByKeyHash retrieves the active agent holding the key hash.
func (s *PostgresStore) GetAgentByKeyHash(ctx context.Context, keyHash string) (*models.Agent, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+agentColumns+`
		FROM agents WHERE api_key_hash = $1 AND revoked_at IS NULL
	`, keyHash)
	return scanAgent(row)
}

// TouchAgent updates the agent's last_seen_at timestamp.
func (s *PostgresStore) TouchAgent(ctx context.Context, name string, seenAt time.Time) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE agents SET last_seen_at = $1 WHERE name = $2
	`, seenAt, name)
	return err
}

// RotateAgentKey replaces the key hash and clears any revocation.
func (s *PostgresStore) RotateAgentKey(ctx context.Context, name, keyHash string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE agents
		SET api_key_hash = $1,
		    revoked_at = NULL
		WHERE name = $2
	`, keyHash, name)
	return err
}

// RevokeAgent sets revoked_at and scrubs the public profile fields.
func (s *PostgresStore) RevokeAgent(ctx context.Context, name string, revokedAt time.Time) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE agents
		SET revoked_at = $1,
		    bio = NULL,
		    avatar_url = NULL,
		    links = NULL
		WHERE name = $2
	`, revokedAt, name)
	return err
}

// UpdateAgentProfile replaces the agent's profile fields.
func (s *PostgresStore) UpdateAgentProfile(ctx context.Context, name string, bio, avatarURL *string, links map[string]string) error {
	var linksJSON []byte
	if links != nil {
		var err error
		linksJSON, err = json.Marshal(links)
		if err != nil {
			return err
		}
	}
	_, err := s.pool.Exec(ctx, `
		UPDATE agents
		SET bio = $1,
		    avatar_url = $2,
		    links = $3
		WHERE name = $4
	`, bio, avatarURL, linksJSON, name)
	return err
}

// CountIssuedBetween counts entities issued in [start, end).
func (s *PostgresStore) CountIssuedBetween(ctx context.Context, start, end time.Time) (int64, error) {
	var count int64
	err := s.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM entities
		WHERE issued_at >= $1 AND issued_at < $2
	`, start, end).Scan(&count)
	return count, err
}

// CountClaimedBetween counts entities claimed in [start, end).
func (s *PostgresStore) CountClaimedBetween(ctx context.Context, start, end time.Time) (int64, error) {
	var count int64
	err := s.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM entities
		WHERE claimed_at >= $1 AND claimed_at < $2
	`, start, end).Scan(&count)
	return count, err
}

// UpsertDailyStat writes one day of aggregated counts, replacing any
// previous run for the same day.
func (s *PostgresStore) UpsertDailyStat(ctx context.Context, stat models.DailyStat) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO daily_stats (day, register_count, claim_count)
		VALUES ($1, $2, $3)
		ON CONFLICT (day) DO UPDATE
		SET register_count = EXCLUDED.register_count,
		    claim_count = EXCLUDED.claim_count
	`, stat.Day, stat.RegisterCount, stat.ClaimCount)
	return err
}

// RecentDailyStats returns up to days of stats, newest first.
func (s *PostgresStore) RecentDailyStats(ctx context.Context, days int) ([]models.DailyStat, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT day::text, register_count, claim_count
		FROM daily_stats
		ORDER BY day DESC
		LIMIT $1
	`, days)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var stats []models.DailyStat
	for rows.Next() {
		var st models.DailyStat
		if err := rows.Scan(&st.Day, &st.RegisterCount, &st.ClaimCount); err != nil {
			return nil, err
		}
		stats = append(stats, st)
	}
	return stats, rows.Err()
}

// DailyTotals sums all recorded daily stats.
func (s *PostgresStore) DailyTotals(ctx context.Context) (models.DailyStat, error) {
	var totals models.DailyStat
	err := s.pool.QueryRow(ctx, `
		SELECT COALESCE(SUM(register_count), 0), COALESCE(SUM(claim_count), 0)
		FROM daily_stats
	`).Scan(&totals.RegisterCount, &totals.ClaimCount)
	return totals, err
}
