package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/studiocore/control-plane/pkg/apperr"
)

// MaxFailedLogins is the number of consecutive bad passwords spec §4.6
// tolerates before locking the account.
const MaxFailedLogins = 5

// LockoutDuration is how long an account stays locked after tripping
// MaxFailedLogins.
const LockoutDuration = 15 * time.Minute

// refreshTokenBytes is the size of the opaque refresh token before
// hex-encoding (128 bits, per spec §4.6).
const refreshTokenBytes = 16

// apiKeyPlaintextLen is the total length of a minted API key's
// plaintext (spec §4.6: 48 characters, "sk_" marker included).
const apiKeyPlaintextLen = 48

// apiKeyPrefixLen is the length of the leading slice of the plaintext
// stored in the clear and used to look up a key's hash without
// scanning every row (spec §4.6: 8-character prefix).
const apiKeyPrefixLen = 8

// Service implements the credential subsystem: login with lockout,
// refresh-token rotation, logout, and API key lifecycle management.
type Service struct {
	repo     *Repository
	tokens   *TokenIssuer
	limiters *keyLimiters
	log      *slog.Logger

	refreshExpiry time.Duration
}

func NewService(repo *Repository, tokens *TokenIssuer, refreshExpiry time.Duration, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	if refreshExpiry <= 0 {
		refreshExpiry = 7 * 24 * time.Hour
	}
	return &Service{
		repo:          repo,
		tokens:        tokens,
		limiters:      newKeyLimiters(),
		log:           log,
		refreshExpiry: refreshExpiry,
	}
}

// LoginResult is everything a successful login hands back to the caller.
type LoginResult struct {
	AccessToken  string
	AccessExpiry time.Time
	RefreshToken string
	User         User
}

// Login verifies credentials, enforcing the lockout policy, then mints
// a fresh access token and refresh session. userAgent/ip are recorded
// against the new session for audit purposes only.
func (s *Service) Login(ctx context.Context, username, password, userAgent, ip string) (LoginResult, error) {
	u, err := s.repo.UserByUsername(ctx, username)
	if errors.Is(err, ErrNotFound) {
		return LoginResult{}, apperr.Unauthorized("invalid username or password")
	}
	if err != nil {
		return LoginResult{}, apperr.Internal(err)
	}

	if !u.IsActive {
		return LoginResult{}, apperr.Forbidden("account is disabled")
	}
	now := time.Now()
	if u.IsLocked(now) {
		return LoginResult{}, apperr.Forbidden(fmt.Sprintf("account locked until %s", u.LockedUntil.Format(time.RFC3339)))
	}

	if !VerifyPassword(u.PasswordHash, password) {
		if ferr := s.repo.RecordLoginFailure(ctx, u, MaxFailedLogins, LockoutDuration); ferr != nil {
			s.log.Error("record login failure", "user_id", u.ID, "error", ferr)
		}
		return LoginResult{}, apperr.Unauthorized("invalid username or password")
	}

	if err := s.repo.RecordLoginSuccess(ctx, u.ID); err != nil {
		s.log.Error("record login success", "user_id", u.ID, "error", err)
	}

	return s.issueSession(ctx, u, userAgent, ip)
}

func (s *Service) issueSession(ctx context.Context, u User, userAgent, ip string) (LoginResult, error) {
	access, expiresAt, err := s.tokens.Issue(u.ID, u.Role, uuid.NewString())
	if err != nil {
		return LoginResult{}, apperr.Internal(err)
	}

	refreshPlain, refreshHash, err := newRefreshToken()
	if err != nil {
		return LoginResult{}, apperr.Internal(err)
	}
	sessionExpiry := time.Now().Add(s.refreshExpiry)
	if _, err := s.repo.InsertSession(ctx, u.ID, refreshHash, sessionExpiry, userAgent, ip); err != nil {
		return LoginResult{}, apperr.Internal(err)
	}

	return LoginResult{
		AccessToken:  access,
		AccessExpiry: expiresAt,
		RefreshToken: refreshPlain,
		User:         u,
	}, nil
}

// Refresh rotates a presented refresh token: the old session is revoked
// and a new access token plus refresh session are minted, so a stolen
// refresh token is single-use once the legitimate client refreshes
// again.
func (s *Service) Refresh(ctx context.Context, refreshToken, userAgent, ip string) (LoginResult, error) {
	hash := hashRefreshToken(refreshToken)
	sess, err := s.repo.SessionByRefreshHash(ctx, hash)
	if errors.Is(err, ErrNotFound) {
		return LoginResult{}, apperr.Unauthorized("invalid refresh token")
	}
	if err != nil {
		return LoginResult{}, apperr.Internal(err)
	}
	if !sess.IsActive(time.Now()) {
		return LoginResult{}, apperr.Unauthorized("refresh token expired or revoked")
	}

	u, err := s.repo.UserByID(ctx, sess.UserID)
	if errors.Is(err, ErrNotFound) {
		return LoginResult{}, apperr.Unauthorized("invalid refresh token")
	}
	if err != nil {
		return LoginResult{}, apperr.Internal(err)
	}
	if !u.IsActive {
		return LoginResult{}, apperr.Forbidden("account is disabled")
	}

	if err := s.repo.RevokeSession(ctx, sess.ID); err != nil {
		return LoginResult{}, apperr.Internal(err)
	}

	return s.issueSession(ctx, u, userAgent, ip)
}

// Logout revokes every active session for a user, the "logout
// everywhere" semantics spec §4.6 calls for on explicit logout.
func (s *Service) Logout(ctx context.Context, userID int64) error {
	if err := s.repo.RevokeAllSessionsForUser(ctx, userID); err != nil {
		return apperr.Internal(err)
	}
	return nil
}

// VerifyAccessToken validates a bearer token and resolves it to a
// Principal. Middleware calls this on every authenticated request.
func (s *Service) VerifyAccessToken(tokenString string) (Principal, error) {
	claims, err := s.tokens.Verify(tokenString)
	if err != nil {
		return Principal{}, apperr.Unauthorized("invalid or expired access token")
	}
	var userID int64
	if _, err := fmt.Sscanf(claims.Subject, "%d", &userID); err != nil {
		return Principal{}, apperr.Unauthorized("invalid access token subject")
	}
	role := RoleUser
	if claims.Role == RoleAdmin.String() {
		role = RoleAdmin
	}
	return Principal{UserID: userID, Role: role}, nil
}

// IssueAPIKey mints a new API key for scope, returning the plaintext
// value exactly once.
func (s *Service) IssueAPIKey(ctx context.Context, name string, scope Scope, projectID *int64, readRPM, writeRPM int, createdBy int64, expiresAt *time.Time) (APIKeyMinted, error) {
	plaintext, prefix, hash, err := newAPIKey()
	if err != nil {
		return APIKeyMinted{}, apperr.Internal(err)
	}
	k, err := s.repo.InsertAPIKey(ctx, name, scope, projectID, prefix, hash, readRPM, writeRPM, createdBy, expiresAt)
	if err != nil {
		return APIKeyMinted{}, apperr.Internal(err)
	}
	return APIKeyMinted{APIKey: k, Plaintext: plaintext}, nil
}

// AuthenticateAPIKey resolves a plaintext key to its owning Principal
// and enforces its per-minute read/write quota. isWrite selects which
// bucket the request spends from.
func (s *Service) AuthenticateAPIKey(ctx context.Context, plaintext string, isWrite bool) (Principal, error) {
	prefix, ok := apiKeyPrefix(plaintext)
	if !ok {
		return Principal{}, apperr.Unauthorized("malformed api key")
	}
	k, err := s.repo.APIKeyByPrefix(ctx, prefix)
	if errors.Is(err, ErrNotFound) {
		return Principal{}, apperr.Unauthorized("invalid api key")
	}
	if err != nil {
		return Principal{}, apperr.Internal(err)
	}
	if !k.IsUsable(time.Now()) {
		return Principal{}, apperr.Unauthorized("api key revoked or expired")
	}
	if hashAPIKey(plaintext) != k.KeyHash {
		return Principal{}, apperr.Unauthorized("invalid api key")
	}

	var allowed bool
	if isWrite {
		allowed = s.limiters.AllowWrite(k.ID, k.WriteRPM)
	} else {
		allowed = s.limiters.AllowRead(k.ID, k.ReadRPM)
	}
	if !allowed {
		return Principal{}, apperr.New(apperr.KindForbidden, "api key rate limit exceeded").WithDetails(map[string]any{
			"api_key_id": k.ID,
			"write":      isWrite,
		})
	}

	return Principal{
		UserID:    k.CreatedBy,
		Role:      RoleUser,
		Scope:     k.Scope,
		ProjectID: k.ProjectID,
		ViaAPIKey: true,
		APIKeyID:  k.ID,
	}, nil
}

// RotateAPIKey replaces a key's secret material in place, keeping its
// id, scope, and rate limits; the old plaintext stops working
// immediately.
func (s *Service) RotateAPIKey(ctx context.Context, id int64) (APIKeyMinted, error) {
	plaintext, prefix, hash, err := newAPIKey()
	if err != nil {
		return APIKeyMinted{}, apperr.Internal(err)
	}
	k, err := s.repo.RotateAPIKey(ctx, id, prefix, hash)
	if errors.Is(err, ErrNotFound) {
		return APIKeyMinted{}, apperr.NotFound("api key")
	}
	if err != nil {
		return APIKeyMinted{}, apperr.Internal(err)
	}
	s.limiters.Forget(id)
	return APIKeyMinted{APIKey: k, Plaintext: plaintext}, nil
}

// RevokeAPIKey disables a key permanently.
func (s *Service) RevokeAPIKey(ctx context.Context, id int64) error {
	if err := s.repo.RevokeAPIKey(ctx, id); err != nil {
		if errors.Is(err, ErrNotFound) {
			return apperr.NotFound("api key")
		}
		return apperr.Internal(err)
	}
	s.limiters.Forget(id)
	return nil
}

func newRefreshToken() (plaintext, hash string, err error) {
	buf := make([]byte, refreshTokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", "", fmt.Errorf("generate refresh token: %w", err)
	}
	plaintext = hex.EncodeToString(buf)
	return plaintext, hashRefreshToken(plaintext), nil
}

func hashRefreshToken(plaintext string) string {
	sum := sha256.Sum256([]byte(plaintext))
	return hex.EncodeToString(sum[:])
}

// newAPIKey mints a "sk_"-prefixed random plaintext; its leading
// apiKeyPrefixLen characters become the stored lookup key and the
// whole string's SHA-256 hash is what's persisted.
func newAPIKey() (plaintext, prefix, hash string, err error) {
	const marker = "sk_"
	randomLen := apiKeyPlaintextLen - len(marker)
	buf := make([]byte, (randomLen+1)/2+1)
	if _, err := rand.Read(buf); err != nil {
		return "", "", "", fmt.Errorf("generate api key: %w", err)
	}
	plaintext = (marker + hex.EncodeToString(buf))[:apiKeyPlaintextLen]
	return plaintext, plaintext[:apiKeyPrefixLen], hashAPIKey(plaintext), nil
}

func hashAPIKey(plaintext string) string {
	sum := sha256.Sum256([]byte(plaintext))
	return hex.EncodeToString(sum[:])
}

func apiKeyPrefix(plaintext string) (string, bool) {
	if len(plaintext) < apiKeyPrefixLen {
		return "", false
	}
	return plaintext[:apiKeyPrefixLen], true
}
