package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/cvsyn/rin-api/internal/models"
)

// SQLiteStore handles SQLite database operations, for single-node and
// development deployments.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite store.
// If dbPath is empty, defaults to "./data/rin.db"
func NewSQLiteStore(ctx context.Context, dbPath string) (*SQLiteStore, error) {
	if dbPath == "" {
		dbPath = "./data/rin.db"
	}

	// Ensure directory exists
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_foreign_keys=on")
	if err != nil {
		return nil, err
	}

	if err := db.PingContext(ctx); err != nil {
		return nil, err
	}

	s := &SQLiteStore{db: db}

	if err := s.initSchema(ctx); err != nil {
		return nil, err
	}

	return s, nil
}

// initSchema creates tables if they don't exist.
func (s *SQLiteStore) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS entities (
		entity_id TEXT PRIMARY KEY,
		rin TEXT UNIQUE NOT NULL,
		agent_type TEXT NOT NULL,
		agent_name TEXT,
		status TEXT NOT NULL DEFAULT 'UNCLAIMED',
		issued_at DATETIME NOT NULL,
		claim_token_hash TEXT,
		claim_token_issued_at DATETIME,
		claimed_by TEXT,
		claimed_at DATETIME,
		issued_by_agent_name TEXT
	);

	CREATE TABLE IF NOT EXISTS agents (
		name TEXT PRIMARY KEY,
		description TEXT,
		bio TEXT,
		avatar_url TEXT,
		links TEXT,
		api_key_hash TEXT NOT NULL,
		created_at DATETIME NOT NULL,
		last_seen_at DATETIME,
		revoked_at DATETIME
	);

	CREATE TABLE IF NOT EXISTS daily_stats (
		day TEXT PRIMARY KEY,
		register_count INTEGER NOT NULL DEFAULT 0,
		claim_count INTEGER NOT NULL DEFAULT 0
	);

	CREATE INDEX IF NOT EXISTS idx_entities_issued_at ON entities(issued_at);
	CREATE INDEX IF NOT EXISTS idx_entities_claimed_at ON entities(claimed_at);
	CREATE INDEX IF NOT EXISTS idx_agents_api_key_hash ON agents(api_key_hash);
	`

	_, err := s.db.ExecContext(ctx, schema)
	return err
}

// Close closes the database.
func (s *SQLiteStore) Close() {
	s.db.Close()
}

// Ping checks the database connection.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

const sqliteEntityColumns = `entity_id, rin, agent_type, agent_name, status, issued_at,
	claim_token_hash, claim_token_issued_at, claimed_by, claimed_at, issued_by_agent_name`

func (s *SQLiteStore) scanEntity(row *sql.Row) (*models.Entity, error) {
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
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return e, nil
}

// InsertEntity inserts a new entity unless its rin is already taken.
func (s *SQLiteStore) InsertEntity(ctx context.Context, e *models.Entity) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO entities (
			entity_id, rin, agent_type, agent_name, status, issued_at,
			claim_token_hash, claim_token_issued_at, issued_by_agent_name
		)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, e.EntityID.String(), e.RIN, e.AgentType, e.AgentName, e.Status, e.IssuedAt,
		e.ClaimTokenHash, e.ClaimTokenIssuedAt, e.IssuedByAgentName)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// GetEntity retrieves an entity by rin.
func (s *SQLiteStore) GetEntity(ctx context.Context, rinCode string) (*models.Entity, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+sqliteEntityColumns+`
		FROM entities WHERE rin = ?
	`, rinCode)
	return s.scanEntity(row)
}

// ClaimEntity performs the conditional claim update and returns the
// updated row, or (nil, nil) when the guard matched nothing.
func (s *SQLiteStore) ClaimEntity(ctx context.Context, rinCode, tokenHash, claimedBy string, claimedAt time.Time) (*models.Entity, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE entities
		SET status = ?,
		    claimed_by = ?,
		    claimed_at = ?,
		    claim_token_hash = NULL,
		    claim_token_issued_at = NULL
		WHERE rin = ?
		  AND status = ?
		  AND claim_token_hash = ?
	`, models.StatusClaimed, claimedBy, claimedAt, rinCode, models.StatusUnclaimed, tokenHash)
	if err != nil {
		return nil, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, nil
	}
	// The claim transition is terminal, so the re-read cannot race
	// with another writer.
	return s.GetEntity(ctx, rinCode)
}

const sqliteAgentColumns = `name, description, bio, avatar_url, links, api_key_hash,
	created_at, last_seen_at, revoked_at`

func (s *SQLiteStore) scanAgent(row *sql.Row) (*models.Agent, error) {
	a := &models.Agent{}
	var links *string
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
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	if links != nil {
		if err := json.Unmarshal([]byte(*links), &a.Links); err != nil {
			return nil, err
		}
	}
	return a, nil
}

// GetAgent retrieves an agent by name, revoked or not.
func (s *SQLiteStore) GetAgent(ctx context.Context, name string) (*models.Agent, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+sqliteAgentColumns+`
		FROM agents WHERE name = ?
	`, name)
	return s.scanAgent(row)
}

// CreateAgent creates a new agent record. A constraint violation on
// the name maps to ErrDuplicateName.
func (s *SQLiteStore) CreateAgent(ctx context.Context, name string, description *string, keyHash string, createdAt time.Time) (*models.Agent, error) {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO agents (name, description, api_key_hash, created_at)
		VALUES (?, ?, ?, ?)
	`, name, description, keyHash, createdAt)
	if err != nil {
		var sqlErr sqlite3.Error
		if errors.As(err, &sqlErr) && sqlErr.Code == sqlite3.ErrConstraint {
			return nil, ErrDuplicateName
		}
		return nil, err
	}
	return s.GetAgent(ctx, name)
}

// ReviveAgent reuses a revoked agent's row for re-registration.
func (s *SQLiteStore) ReviveAgent(ctx context.Context, name string, description *string, keyHash string) (*models.Agent, error) {
	_, err := s.db.ExecContext(ctx, `
		UPDATE agents
		SET api_key_hash = ?,
		    description = ?,
		    revoked_at = NULL,
		    last_seen_at = NULL
		WHERE name = ?
	`, keyHash, description, name)
	if err != nil {
		return nil, err
	}
	return s.GetAgent(ctx, name)
}

// GetAgentByKeyHash retrieves the active agent holding the key hash.
func (s *SQLiteStore) GetAgentByKeyHash(ctx context.Context, keyHash string) (*models.Agent, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+sqliteAgentColumns+`
		FROM agents WHERE api_key_hash = ? AND revoked_at IS NULL
	`, keyHash)
	return s.scanAgent(row)
}

// TouchAgent updates the agent's last_seen_at timestamp.
func (s *SQLiteStore) TouchAgent(ctx context.Context, name string, seenAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE agents SET last_seen_at = ? WHERE name = ?
	`, seenAt, name)
	return err
}

// RotateAgentKey replaces the key hash and clears any revocation.
func (s *SQLiteStore) RotateAgentKey(ctx context.Context, name, keyHash string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE agents
		SET api_key_hash = ?,
		    revoked_at = NULL
		WHERE name = ?
	`, keyHash, name)
	return err
}

// RevokeAgent sets revoked_at and scrubs the public profile fields.
func (s *SQLiteStore) RevokeAgent(ctx context.Context, name string, revokedAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE agents
		SET revoked_at = ?,
		    bio = NULL,
		    avatar_url = NULL,
		    links = NULL
		WHERE name = ?
	`, revokedAt, name)
	return err
}

// UpdateAgentProfile replaces the agent's profile fields.
func (s *SQLiteStore) UpdateAgentProfile(ctx context.Context, name string, bio, avatarURL *string, links map[string]string) error {
	var linksJSON *string
	if links != nil {
		data, err := json.Marshal(links)
		if err != nil {
			return err
		}
		str := string(data)
		linksJSON = &str
	}
	_, err := s.db.ExecContext(ctx, `
		UPDATE agents
		SET bio = ?,
		    avatar_url = ?,
		    links = ?
		WHERE name = ?
	`, bio, avatarURL, linksJSON, name)
	return err
}

// CountIssuedBetween counts entities issued in [start, end).
func (s *SQLiteStore) CountIssuedBetween(ctx context.Context, start, end time.Time) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM entities
		WHERE issued_at >= ? AND issued_at < ?
	`, start, end).Scan(&count)
	return count, err
}

// CountClaimedBetween counts entities claimed in [start, end).
func (s *SQLiteStore) CountClaimedBetween(ctx context.Context, start, end time.Time) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM entities
		WHERE claimed_at >= ? AND claimed_at < ?
	`, start, end).Scan(&count)
	return count, err
}

// UpsertDailyStat writes one day of aggregated counts.
func (s *SQLiteStore) UpsertDailyStat(ctx context.Context, stat models.DailyStat) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO daily_stats (day, register_count, claim_count)
		VALUES (?, ?, ?)
		ON CONFLICT (day) DO UPDATE
		SET register_count = excluded.register_count,
		    claim_count = excluded.claim_count
	`, stat.Day, stat.RegisterCount, stat.ClaimCount)
	return err
}

// RecentDailyStats returns up to days of stats, newest first.
func (s *SQLiteStore) RecentDailyStats(ctx context.Context, days int) ([]models.DailyStat, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT day, register_count, claim_count
		FROM daily_stats
		ORDER BY day DESC
		LIMIT ?
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
func (s *SQLiteStore) DailyTotals(ctx context.Context) (models.DailyStat, error) {
	var totals models.DailyStat
	err := s.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(register_count), 0), COALESCE(SUM(claim_count), 0)
		FROM daily_stats
	`).Scan(&totals.RegisterCount, &totals.ClaimCount)
	return totals, err
}
