package store

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/snaplinkhq/snaplink/internal/model"
)

// Store is Snaplink's embedded persistence layer, backed by SQLite. It owns
// users, API keys, the capped usage log, and short links. Counter mutations
// (quota, key usage, short link hits) are single UPDATE statements so that
// concurrent requests can never lose an increment.
type Store struct {
	db *sqlx.DB
}

// NewStore opens (or creates) the database under dataDir. Pass an empty
// string for an in-memory database, used by tests.
func NewStore(dataDir string) (*Store, error) {
	var dsn string
	if dataDir == "" {
		dsn = ":memory:?_journal_mode=WAL"
	} else {
		if err := os.MkdirAll(dataDir, 0755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
		dsn = filepath.Join(dataDir, "snaplink.db") + "?_journal_mode=WAL&_busy_timeout=5000"
	}

	db, err := sqlx.Connect("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(1) // SQLite doesn't support concurrent writes

	// Enable foreign keys (off by default in SQLite).
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate database: %w", err)
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping verifies the database connection is alive.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// ---------------------------------------------------------------------------
// Users
// ---------------------------------------------------------------------------

// CreateUser inserts a new user. Returns ErrDuplicate if the username or
// email is already taken (active or deactivated accounts alike). The ID and
// CreatedAt fields are populated after a successful insert.
func (s *Store) CreateUser(ctx context.Context, u *model.User) error {
	u.CreatedAt = time.Now().UTC()

	const q = `INSERT INTO users
		(username, email, password_hash, role, is_active, daily_limit, requests_today, quota_date, created_at)
		VALUES
		(:username, :email, :password_hash, :role, :is_active, :daily_limit, :requests_today, :quota_date, :created_at)`

	result, err := s.db.NamedExecContext(ctx, q, u)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("insert user: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("get user id: %w", err)
	}
	u.ID = id
	return nil
}

// GetUser returns a user by ID.
func (s *Store) GetUser(ctx context.Context, id int64) (*model.User, error) {
	var u model.User
	if err := s.db.GetContext(ctx, &u, "SELECT * FROM users WHERE id = ?", id); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get user: %w", err)
	}
	return &u, nil
}

// GetUserByEmail returns a user by email address.
func (s *Store) GetUserByEmail(ctx context.Context, email string) (*model.User, error) {
	var u model.User
	if err := s.db.GetContext(ctx, &u, "SELECT * FROM users WHERE email = ?", email); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get user by email: %w", err)
	}
	return &u, nil
}

// ListUsers returns all users, active and deactivated.
func (s *Store) ListUsers(ctx context.Context) ([]model.User, error) {
	var users []model.User
	if err := s.db.SelectContext(ctx, &users, "SELECT * FROM users ORDER BY username"); err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	return users, nil
}

// UpdateUserLastLogin stamps last_login_at for a user.
func (s *Store) UpdateUserLastLogin(ctx context.Context, id int64) error {
	result, err := s.db.ExecContext(ctx,
		"UPDATE users SET last_login_at = ? WHERE id = ?", time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("update user last login: %w", err)
	}
	return errIfNoRows(result, "update user last login")
}

// DeactivateUser soft-deletes a user. The row is kept for the audit trail
// and to preserve username/email uniqueness.
func (s *Store) DeactivateUser(ctx context.Context, id int64) error {
	result, err := s.db.ExecContext(ctx,
		"UPDATE users SET is_active = 0 WHERE id = ? AND is_active = 1", id)
	if err != nil {
		return fmt.Errorf("deactivate user: %w", err)
	}
	return errIfNoRows(result, "deactivate user")
}

// IncrementQuota applies one admitted request to a user's daily counter.
// When the stored quota_date differs from today the counter rolls over:
// it resets to 1 and stamps the new day. The whole roll-or-increment is a
// single UPDATE, so two concurrent requests can never both observe the
// pre-increment value and write the same result back.
func (s *Store) IncrementQuota(ctx context.Context, userID int64, today string) error {
	const q = `UPDATE users SET
		requests_today = CASE WHEN quota_date = :today THEN requests_today + 1 ELSE 1 END,
		quota_date = :today
		WHERE id = :id`

	result, err := s.db.NamedExecContext(ctx, q, map[string]interface{}{
		"today": today,
		"id":    userID,
	})
	if err != nil {
		return fmt.Errorf("increment quota: %w", err)
	}
	return errIfNoRows(result, "increment quota")
}

// ---------------------------------------------------------------------------
// API keys
// ---------------------------------------------------------------------------

// CreateAPIKey inserts a new API key record. The key_hash must already be
// set (use HashAPIKey). The ID and CreatedAt fields are populated after a
// successful insert.
func (s *Store) CreateAPIKey(ctx context.Context, key *model.APIKey) error {
	key.CreatedAt = time.Now().UTC()

	const q = `INSERT INTO api_keys
		(user_id, key_hash, key_prefix, name, rate_limit_per_minute, is_active, usage_count, created_at)
		VALUES
		(:user_id, :key_hash, :key_prefix, :name, :rate_limit_per_minute, :is_active, :usage_count, :created_at)`

	result, err := s.db.NamedExecContext(ctx, q, key)
	if err != nil {
		return fmt.Errorf("insert api key: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("get api key id: %w", err)
	}
	key.ID = id
	return nil
}

// GetAPIKeyByHash looks up an API key by its SHA-256 hash. Revoked keys are
// returned too; callers decide how to treat is_active.
func (s *Store) GetAPIKeyByHash(ctx context.Context, hash string) (*model.APIKey, error) {
	var key model.APIKey
	if err := s.db.GetContext(ctx, &key, "SELECT * FROM api_keys WHERE key_hash = ?", hash); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get api key by hash: %w", err)
	}
	return &key, nil
}

// GetAPIKey returns an API key by ID.
func (s *Store) GetAPIKey(ctx context.Context, id int64) (*model.APIKey, error) {
	var key model.APIKey
	if err := s.db.GetContext(ctx, &key, "SELECT * FROM api_keys WHERE id = ?", id); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get api key: %w", err)
	}
	return &key, nil
}

// ListAPIKeysByUser returns all of a user's keys, including revoked ones.
func (s *Store) ListAPIKeysByUser(ctx context.Context, userID int64) ([]model.APIKey, error) {
	var keys []model.APIKey
	if err := s.db.SelectContext(ctx, &keys,
		"SELECT * FROM api_keys WHERE user_id = ? ORDER BY created_at DESC", userID); err != nil {
		return nil, fmt.Errorf("list api keys by user: %w", err)
	}
	return keys, nil
}

// ListAPIKeys returns every key in the system, including revoked ones.
// Administrative listing only.
func (s *Store) ListAPIKeys(ctx context.Context) ([]model.APIKey, error) {
	var keys []model.APIKey
	if err := s.db.SelectContext(ctx, &keys, "SELECT * FROM api_keys ORDER BY created_at DESC"); err != nil {
		return nil, fmt.Errorf("list api keys: %w", err)
	}
	return keys, nil
}

// RevokeAPIKey marks a key inactive and stamps revoked_at, but only when an
// active key with that id belongs to the given user. Returns ErrNotFound
// otherwise; the caller learns nothing about keys it does not own.
func (s *Store) RevokeAPIKey(ctx context.Context, keyID, userID int64) error {
	result, err := s.db.ExecContext(ctx,
		"UPDATE api_keys SET is_active = 0, revoked_at = ? WHERE id = ? AND user_id = ? AND is_active = 1",
		time.Now().UTC(), keyID, userID)
	if err != nil {
		return fmt.Errorf("revoke api key: %w", err)
	}
	return errIfNoRows(result, "revoke api key")
}

// TouchAPIKey stamps last_used_at and bumps the cumulative usage counter in
// one statement. Validation calls this before returning a result, so the
// bookkeeping is durable by the time the caller is admitted.
func (s *Store) TouchAPIKey(ctx context.Context, id int64) error {
	result, err := s.db.ExecContext(ctx,
		"UPDATE api_keys SET last_used_at = ?, usage_count = usage_count + 1 WHERE id = ?",
		time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("touch api key: %w", err)
	}
	return errIfNoRows(result, "touch api key")
}

// ---------------------------------------------------------------------------
// Usage log
// ---------------------------------------------------------------------------

// AppendUsage inserts a usage entry and evicts the oldest rows beyond cap,
// both inside one transaction. The ID and CreatedAt fields are populated
// after a successful insert.
func (s *Store) AppendUsage(ctx context.Context, e *model.UsageEntry, cap int) error {
	e.CreatedAt = time.Now().UTC()

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	const insertQ = `INSERT INTO usage_log
		(api_key_id, key_prefix, endpoint, ip, user_agent, created_at)
		VALUES
		(:api_key_id, :key_prefix, :endpoint, :ip, :user_agent, :created_at)`

	result, err := tx.NamedExecContext(ctx, insertQ, e)
	if err != nil {
		return fmt.Errorf("insert usage entry: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("get usage entry id: %w", err)
	}
	e.ID = id

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM usage_log WHERE id NOT IN (SELECT id FROM usage_log ORDER BY id DESC LIMIT ?)`,
		cap); err != nil {
		return fmt.Errorf("evict usage entries: %w", err)
	}

	return tx.Commit()
}

// ListUsage returns up to limit entries, newest first.
func (s *Store) ListUsage(ctx context.Context, limit int) ([]model.UsageEntry, error) {
	var entries []model.UsageEntry
	if err := s.db.SelectContext(ctx, &entries,
		"SELECT * FROM usage_log ORDER BY id DESC LIMIT ?", limit); err != nil {
		return nil, fmt.Errorf("list usage: %w", err)
	}
	return entries, nil
}

// ListUsageByUser returns up to limit entries for keys owned by the given
// user, newest first.
func (s *Store) ListUsageByUser(ctx context.Context, userID int64, limit int) ([]model.UsageEntry, error) {
	var entries []model.UsageEntry
	const q = `SELECT u.* FROM usage_log u
		JOIN api_keys k ON k.id = u.api_key_id
		WHERE k.user_id = ?
		ORDER BY u.id DESC LIMIT ?`
	if err := s.db.SelectContext(ctx, &entries, q, userID, limit); err != nil {
		return nil, fmt.Errorf("list usage by user: %w", err)
	}
	return entries, nil
}

// CountUsage returns the number of retained usage entries.
func (s *Store) CountUsage(ctx context.Context) (int, error) {
	var count int
	if err := s.db.GetContext(ctx, &count, "SELECT COUNT(*) FROM usage_log"); err != nil {
		return 0, fmt.Errorf("count usage: %w", err)
	}
	return count, nil
}

// PruneUsage trims the log to the cap. AppendUsage already evicts on insert;
// this is the scheduled maintenance pass.
func (s *Store) PruneUsage(ctx context.Context, cap int) (int64, error) {
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM usage_log WHERE id NOT IN (SELECT id FROM usage_log ORDER BY id DESC LIMIT ?)`,
		cap)
	if err != nil {
		return 0, fmt.Errorf("prune usage: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("prune usage rows affected: %w", err)
	}
	return n, nil
}

// ---------------------------------------------------------------------------
// Short links
// ---------------------------------------------------------------------------

// CreateShortLink inserts a new short link. Returns ErrDuplicate when the
// code is taken, so callers can regenerate and retry.
func (s *Store) CreateShortLink(ctx context.Context, link *model.ShortLink) error {
	link.CreatedAt = time.Now().UTC()

	const q = `INSERT INTO short_links (code, target_url, api_key_id, hits, created_at)
		VALUES (:code, :target_url, :api_key_id, :hits, :created_at)`

	result, err := s.db.NamedExecContext(ctx, q, link)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("insert short link: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("get short link id: %w", err)
	}
	link.ID = id
	return nil
}

// ResolveShortLink bumps the hit counter and returns the link for a code.
// The increment is a single UPDATE; its row count doubles as the existence
// check.
func (s *Store) ResolveShortLink(ctx context.Context, code string) (*model.ShortLink, error) {
	result, err := s.db.ExecContext(ctx,
		"UPDATE short_links SET hits = hits + 1 WHERE code = ?", code)
	if err != nil {
		return nil, fmt.Errorf("bump short link hits: %w", err)
	}
	if err := errIfNoRows(result, "bump short link hits"); err != nil {
		return nil, err
	}

	var link model.ShortLink
	if err := s.db.GetContext(ctx, &link, "SELECT * FROM short_links WHERE code = ?", code); err != nil {
		return nil, fmt.Errorf("get short link: %w", err)
	}
	return &link, nil
}

// ---------------------------------------------------------------------------
// Utility
// ---------------------------------------------------------------------------

// HashAPIKey returns the hex-encoded SHA-256 hash of a raw API key string.
// Keys are unpredictable 256-bit secrets, so a fast hash with an indexed
// column is safe here; passwords go through bcrypt instead.
func HashAPIKey(key string) string {
	h := sha256.Sum256([]byte(key))
	return hex.EncodeToString(h[:])
}

// Today returns the current UTC calendar day as YYYY-MM-DD. All quota
// rollover decisions use this single timezone policy.
func Today() string {
	return time.Now().UTC().Format("2006-01-02")
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func errIfNoRows(result sql.Result, op string) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s rows affected: %w", op, err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
