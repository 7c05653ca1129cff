package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// ErrNotFound is returned when a lookup finds no matching row.
var ErrNotFound = errors.New("not found")

// Repository hand-writes every SQL statement against the users,
// sessions, and api_keys tables, following the column-list-constant
// convention pkg/jobs.Repository establishes.
type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

const (
	userColumns = `id, username, email, password_hash, role_id, failed_login_count,
		locked_until, last_login_at, is_active, created_at`

	selectUserByUsernameSQL = `SELECT ` + userColumns + ` FROM users WHERE username = $1 AND deleted_at IS NULL`

	selectUserByIDSQL = `SELECT ` + userColumns + ` FROM users WHERE id = $1 AND deleted_at IS NULL`

	updateLoginSuccessSQL = `
UPDATE users SET failed_login_count = 0, locked_until = NULL, last_login_at = now() WHERE id = $1`

	updateLoginFailureSQL = `
UPDATE users SET failed_login_count = $2, locked_until = $3 WHERE id = $1`

	sessionColumns = `id, user_id, refresh_token_hash, expires_at, revoked_at, user_agent, ip, created_at`

	insertSessionSQL = `
INSERT INTO sessions (user_id, refresh_token_hash, expires_at, user_agent, ip)
VALUES ($1, $2, $3, $4, $5)
RETURNING ` + sessionColumns

	selectSessionByHashSQL = `SELECT ` + sessionColumns + ` FROM sessions WHERE refresh_token_hash = $1`

	revokeSessionSQL = `UPDATE sessions SET revoked_at = now() WHERE id = $1 AND revoked_at IS NULL`

	revokeAllSessionsForUserSQL = `UPDATE sessions SET revoked_at = now() WHERE user_id = $1 AND revoked_at IS NULL`

	deleteStaleSessionsSQL = `
DELETE FROM sessions WHERE (revoked_at IS NOT NULL OR expires_at < now()) AND expires_at < $1`

	apiKeyColumns = `id, name, scope_id, project_id, prefix, key_hash, read_rpm, write_rpm,
		is_active, revoked_at, expires_at, created_by, created_at`

	insertAPIKeySQL = `
INSERT INTO api_keys (name, scope_id, project_id, prefix, key_hash, read_rpm, write_rpm, created_by, expires_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
RETURNING ` + apiKeyColumns

	selectAPIKeyByPrefixSQL = `SELECT ` + apiKeyColumns + ` FROM api_keys WHERE prefix = $1`

	selectAPIKeyByIDSQL = `SELECT ` + apiKeyColumns + ` FROM api_keys WHERE id = $1`

	rotateAPIKeySQL = `
UPDATE api_keys SET prefix = $2, key_hash = $3 WHERE id = $1 AND revoked_at IS NULL
RETURNING ` + apiKeyColumns

	revokeAPIKeySQL = `UPDATE api_keys SET is_active = false, revoked_at = now() WHERE id = $1 AND revoked_at IS NULL`
)

func scanUser(row interface{ Scan(...any) error }) (User, error) {
	var u User
	var lockedUntil, lastLoginAt sql.NullTime
	if err := row.Scan(&u.ID, &u.Username, &u.Email, &u.PasswordHash, &u.Role,
		&u.FailedLoginCount, &lockedUntil, &lastLoginAt, &u.IsActive, &u.CreatedAt); err != nil {
		return User{}, err
	}
	if lockedUntil.Valid {
		u.LockedUntil = &lockedUntil.Time
	}
	if lastLoginAt.Valid {
		u.LastLoginAt = &lastLoginAt.Time
	}
	return u, nil
}

func (r *Repository) UserByUsername(ctx context.Context, username string) (User, error) {
	u, err := scanUser(r.db.QueryRowContext(ctx, selectUserByUsernameSQL, username))
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, ErrNotFound
	}
	if err != nil {
		return User{}, fmt.Errorf("select user by username: %w", err)
	}
	return u, nil
}

func (r *Repository) UserByID(ctx context.Context, id int64) (User, error) {
	u, err := scanUser(r.db.QueryRowContext(ctx, selectUserByIDSQL, id))
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, ErrNotFound
	}
	if err != nil {
		return User{}, fmt.Errorf("select user by id: %w", err)
	}
	return u, nil
}

func (r *Repository) RecordLoginSuccess(ctx context.Context, userID int64) error {
	if _, err := r.db.ExecContext(ctx, updateLoginSuccessSQL, userID); err != nil {
		return fmt.Errorf("record login success: %w", err)
	}
	return nil
}

// RecordLoginFailure bumps the failed-attempt counter and, once it
// reaches maxAttempts, sets locked_until lockFor in the future (spec
// §4.6: 5 attempts locks the account for 15 minutes).
func (r *Repository) RecordLoginFailure(ctx context.Context, u User, maxAttempts int, lockFor time.Duration) error {
	count := u.FailedLoginCount + 1
	var lockedUntil *time.Time
	if count >= maxAttempts {
		t := time.Now().Add(lockFor)
		lockedUntil = &t
	}
	if _, err := r.db.ExecContext(ctx, updateLoginFailureSQL, u.ID, count, lockedUntil); err != nil {
		return fmt.Errorf("record login failure: %w", err)
	}
	return nil
}

func scanSession(row interface{ Scan(...any) error }) (Session, error) {
	var s Session
	var revokedAt sql.NullTime
	if err := row.Scan(&s.ID, &s.UserID, &s.RefreshTokenHash, &s.ExpiresAt,
		&revokedAt, &s.UserAgent, &s.IP, &s.CreatedAt); err != nil {
		return Session{}, err
	}
	if revokedAt.Valid {
		s.RevokedAt = &revokedAt.Time
	}
	return s, nil
}

func (r *Repository) InsertSession(ctx context.Context, userID int64, refreshTokenHash string, expiresAt time.Time, userAgent, ip string) (Session, error) {
	s, err := scanSession(r.db.QueryRowContext(ctx, insertSessionSQL, userID, refreshTokenHash, expiresAt, userAgent, ip))
	if err != nil {
		return Session{}, fmt.Errorf("insert session: %w", err)
	}
	return s, nil
}

func (r *Repository) SessionByRefreshHash(ctx context.Context, hash string) (Session, error) {
	s, err := scanSession(r.db.QueryRowContext(ctx, selectSessionByHashSQL, hash))
	if errors.Is(err, sql.ErrNoRows) {
		return Session{}, ErrNotFound
	}
	if err != nil {
		return Session{}, fmt.Errorf("select session by refresh hash: %w", err)
	}
	return s, nil
}

func (r *Repository) RevokeSession(ctx context.Context, id int64) error {
	if _, err := r.db.ExecContext(ctx, revokeSessionSQL, id); err != nil {
		return fmt.Errorf("revoke session: %w", err)
	}
	return nil
}

// RevokeAllSessionsForUser implements the logout-everywhere semantics
// spec §4.6 describes for explicit logout.
func (r *Repository) RevokeAllSessionsForUser(ctx context.Context, userID int64) error {
	if _, err := r.db.ExecContext(ctx, revokeAllSessionsForUserSQL, userID); err != nil {
		return fmt.Errorf("revoke all sessions for user: %w", err)
	}
	return nil
}

// PurgeStaleSessions permanently deletes revoked or expired session
// rows whose expiry is older than cutoff, returning the count removed.
// A session stays queryable for a grace period past expiry/revocation
// so audit lookups against a recently-used refresh token still resolve.
func (r *Repository) PurgeStaleSessions(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, deleteStaleSessionsSQL, cutoff)
	if err != nil {
		return 0, fmt.Errorf("purge stale sessions older than %s: %w", cutoff, err)
	}
	return res.RowsAffected()
}

func scanAPIKey(row interface{ Scan(...any) error }) (APIKey, error) {
	var k APIKey
	var revokedAt, expiresAt sql.NullTime
	var projectID sql.NullInt64
	if err := row.Scan(&k.ID, &k.Name, &k.Scope, &projectID, &k.Prefix, &k.KeyHash,
		&k.ReadRPM, &k.WriteRPM, &k.IsActive, &revokedAt, &expiresAt, &k.CreatedBy, &k.CreatedAt); err != nil {
		return APIKey{}, err
	}
	if projectID.Valid {
		k.ProjectID = &projectID.Int64
	}
	if revokedAt.Valid {
		k.RevokedAt = &revokedAt.Time
	}
	if expiresAt.Valid {
		k.ExpiresAt = &expiresAt.Time
	}
	return k, nil
}

func (r *Repository) InsertAPIKey(ctx context.Context, name string, scope Scope, projectID *int64, prefix, keyHash string, readRPM, writeRPM int, createdBy int64, expiresAt *time.Time) (APIKey, error) {
	k, err := scanAPIKey(r.db.QueryRowContext(ctx, insertAPIKeySQL, name, scope, projectID, prefix, keyHash, readRPM, writeRPM, createdBy, expiresAt))
	if err != nil {
		return APIKey{}, fmt.Errorf("insert api key: %w", err)
	}
	return k, nil
}

func (r *Repository) APIKeyByPrefix(ctx context.Context, prefix string) (APIKey, error) {
	k, err := scanAPIKey(r.db.QueryRowContext(ctx, selectAPIKeyByPrefixSQL, prefix))
	if errors.Is(err, sql.ErrNoRows) {
		return APIKey{}, ErrNotFound
	}
	if err != nil {
		return APIKey{}, fmt.Errorf("select api key by prefix: %w", err)
	}
	return k, nil
}

func (r *Repository) APIKeyByID(ctx context.Context, id int64) (APIKey, error) {
	k, err := scanAPIKey(r.db.QueryRowContext(ctx, selectAPIKeyByIDSQL, id))
	if errors.Is(err, sql.ErrNoRows) {
		return APIKey{}, ErrNotFound
	}
	if err != nil {
		return APIKey{}, fmt.Errorf("select api key by id: %w", err)
	}
	return k, nil
}

func (r *Repository) RotateAPIKey(ctx context.Context, id int64, newPrefix, newKeyHash string) (APIKey, error) {
	k, err := scanAPIKey(r.db.QueryRowContext(ctx, rotateAPIKeySQL, id, newPrefix, newKeyHash))
	if errors.Is(err, sql.ErrNoRows) {
		return APIKey{}, ErrNotFound
	}
	if err != nil {
		return APIKey{}, fmt.Errorf("rotate api key: %w", err)
	}
	return k, nil
}

func (r *Repository) RevokeAPIKey(ctx context.Context, id int64) error {
	res, err := r.db.ExecContext(ctx, revokeAPIKeySQL, id)
	if err != nil {
		return fmt.Errorf("revoke api key: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("revoke api key rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
