// Package auth implements the credential subsystem from spec §4.6: password
// verification and lockout, opaque refresh sessions, short-lived signed
// access tokens, and revocable hashed API keys with per-minute rate limits.
package auth

import "time"

// Role is the fixed set of user roles. Values match the surrogate keys
// seeded into the roles lookup table.
type Role int16

const (
	RoleAdmin Role = 1
	RoleUser  Role = 2
)

func (r Role) String() string {
	if r == RoleAdmin {
		return "admin"
	}
	return "user"
}

// MarshalJSON renders a Role as its lowercase name.
func (r Role) MarshalJSON() ([]byte, error) {
	return []byte(`"` + r.String() + `"`), nil
}

// Scope is the fixed set of API-key scopes. Values match the surrogate
// keys seeded into the scopes lookup table.
type Scope int16

const (
	ScopeRead  Scope = 1
	ScopeWrite Scope = 2
	ScopeAdmin Scope = 3
)

func (s Scope) String() string {
	switch s {
	case ScopeRead:
		return "read"
	case ScopeWrite:
		return "write"
	case ScopeAdmin:
		return "admin"
	default:
		return "unknown"
	}
}

// MarshalJSON renders a Scope as its lowercase name.
func (s Scope) MarshalJSON() ([]byte, error) {
	return []byte(`"` + s.String() + `"`), nil
}

// ParseScope maps a scope name to its surrogate key. Returns false for
// any name outside the fixed set (spec §7's bad_request "unknown scope
// name").
func ParseScope(name string) (Scope, bool) {
	switch name {
	case "read":
		return ScopeRead, true
	case "write":
		return ScopeWrite, true
	case "admin":
		return ScopeAdmin, true
	default:
		return 0, false
	}
}

// User is the credential-bearing half of a user row; profile fields
// (username, email) that resource-specific CRUD owns live here only
// because the credential subsystem needs them to answer a login.
type User struct {
	ID               int64      `json:"id"`
	Username         string     `json:"username"`
	Email            string     `json:"email"`
	PasswordHash     string     `json:"-"`
	Role             Role       `json:"role"`
	FailedLoginCount int        `json:"-"`
	LockedUntil      *time.Time `json:"locked_until,omitempty"`
	LastLoginAt      *time.Time `json:"last_login_at,omitempty"`
	IsActive         bool       `json:"is_active"`
	CreatedAt        time.Time  `json:"created_at"`
}

// IsAdmin is a convenience used throughout authorization checks.
func (u User) IsAdmin() bool { return u.Role == RoleAdmin }

// IsLocked reports whether the account is currently inside its lockout
// window.
func (u User) IsLocked(now time.Time) bool {
	return u.LockedUntil != nil && u.LockedUntil.After(now)
}

// Session is one active refresh-token binding (spec §3 Session): the
// plaintext refresh token is returned to the client exactly once at
// mint time and never persisted, only its SHA-256 hash.
type Session struct {
	ID               int64
	UserID           int64
	RefreshTokenHash string
	ExpiresAt        time.Time
	RevokedAt        *time.Time
	UserAgent        string
	IP               string
	CreatedAt        time.Time
}

// IsActive reports whether the session can still be used to refresh.
func (s Session) IsActive(now time.Time) bool {
	return s.RevokedAt == nil && s.ExpiresAt.After(now)
}

// APIKey is a long-lived, hashed credential for machine callers (spec
// §3 API key, §4.6). Only Prefix is ever shown back to a caller after
// creation; Plaintext (on APIKeyMinted) exists exactly once.
type APIKey struct {
	ID        int64      `json:"id"`
	Name      string     `json:"name"`
	Scope     Scope      `json:"scope"`
	ProjectID *int64     `json:"project_id,omitempty"`
	Prefix    string     `json:"prefix"`
	KeyHash   string     `json:"-"`
	ReadRPM   int        `json:"read_rpm"`
	WriteRPM  int        `json:"write_rpm"`
	IsActive  bool       `json:"is_active"`
	RevokedAt *time.Time `json:"revoked_at,omitempty"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
	CreatedBy int64      `json:"created_by"`
	CreatedAt time.Time  `json:"created_at"`
}

// IsUsable reports whether the key may authenticate a request right now.
func (k APIKey) IsUsable(now time.Time) bool {
	if !k.IsActive || k.RevokedAt != nil {
		return false
	}
	if k.ExpiresAt != nil && !k.ExpiresAt.After(now) {
		return false
	}
	return true
}

// APIKeyMinted is returned exactly once, at creation or rotation: the
// plaintext value the caller must store, since the server never keeps
// it.
type APIKeyMinted struct {
	APIKey
	Plaintext string `json:"plaintext"`
}

// Principal identifies the authenticated caller of a request,
// regardless of whether it arrived via bearer access token or API key.
// Handlers and domain services key authorization decisions off this.
type Principal struct {
	UserID    int64
	Role      Role
	Scope     Scope // zero value for a bearer-token principal (no scope concept)
	ProjectID *int64
	ViaAPIKey bool
	APIKeyID  int64
}

func (p Principal) IsAdmin() bool { return p.Role == RoleAdmin }

// HasScope reports whether an API-key principal carries at least the
// requested scope, using the admin > write > read ordering spec §4.6
// implies (an admin-scoped key may do anything a write- or read-scoped
// key may do).
func (p Principal) HasScope(want Scope) bool {
	if !p.ViaAPIKey {
		return true // bearer-token principals are gated by Role, not Scope
	}
	if p.Scope == ScopeAdmin {
		return true
	}
	if want == ScopeRead {
		return p.Scope == ScopeRead || p.Scope == ScopeWrite
	}
	return p.Scope == want
}
