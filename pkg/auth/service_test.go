package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewAPIKeyShapeAndHash(t *testing.T) {
	plaintext, prefix, hash, err := newAPIKey()
	require.NoError(t, err)

	assert.Len(t, plaintext, apiKeyPlaintextLen)
	assert.True(t, len(plaintext) >= len("sk_"))
	assert.Equal(t, "sk_", plaintext[:3])
	assert.Len(t, prefix, apiKeyPrefixLen)
	assert.Equal(t, plaintext[:apiKeyPrefixLen], prefix)
	assert.Len(t, hash, 64) // hex-encoded SHA-256 digest
	assert.Equal(t, hashAPIKey(plaintext), hash)
}

func TestNewAPIKeyIsUnique(t *testing.T) {
	p1, _, _, err := newAPIKey()
	require.NoError(t, err)
	p2, _, _, err := newAPIKey()
	require.NoError(t, err)
	assert.NotEqual(t, p1, p2)
}

func TestAPIKeyPrefix(t *testing.T) {
	tests := []struct {
		name      string
		plaintext string
		wantOK    bool
	}{
		{"full length key", "sk_abcdefghijklmnopqrstuvwxyz0123456789abcdefgh12", true},
		{"exactly prefix length", "sk_short", true},
		{"empty", "", false},
	}

	for _, tt := range tests {
		got, ok := apiKeyPrefix(tt.plaintext)
		assert.Equal(t, tt.wantOK, ok, tt.name)
		if ok {
			assert.Equal(t, tt.plaintext[:apiKeyPrefixLen], got, tt.name)
		}
	}
}

func TestHashAPIKeyDeterministic(t *testing.T) {
	h1 := hashAPIKey("sk_samekey")
	h2 := hashAPIKey("sk_samekey")
	h3 := hashAPIKey("sk_differentkey")
	assert.Equal(t, h1, h2)
	assert.NotEqual(t, h1, h3)
}

func TestNewRefreshTokenShapeAndHash(t *testing.T) {
	plaintext, hash, err := newRefreshToken()
	require.NoError(t, err)

	assert.Len(t, plaintext, refreshTokenBytes*2) // hex doubles byte length
	assert.Equal(t, hashRefreshToken(plaintext), hash)
}

func TestNewRefreshTokenIsUnique(t *testing.T) {
	p1, _, err := newRefreshToken()
	require.NoError(t, err)
	p2, _, err := newRefreshToken()
	require.NoError(t, err)
	assert.NotEqual(t, p1, p2)
}

func TestUserIsLocked(t *testing.T) {
	now := time.Now()
	future := now.Add(time.Minute)
	past := now.Add(-time.Minute)

	assert.True(t, User{LockedUntil: &future}.IsLocked(now))
	assert.False(t, User{LockedUntil: &past}.IsLocked(now))
	assert.False(t, User{}.IsLocked(now))
}

func TestAPIKeyIsUsable(t *testing.T) {
	now := time.Now()
	future := now.Add(time.Hour)
	past := now.Add(-time.Hour)

	assert.True(t, APIKey{IsActive: true}.IsUsable(now))
	assert.False(t, APIKey{IsActive: false}.IsUsable(now))
	assert.False(t, APIKey{IsActive: true, RevokedAt: &past}.IsUsable(now))
	assert.False(t, APIKey{IsActive: true, ExpiresAt: &past}.IsUsable(now))
	assert.True(t, APIKey{IsActive: true, ExpiresAt: &future}.IsUsable(now))
}

func TestPrincipalHasScope(t *testing.T) {
	tests := []struct {
		name string
		p    Principal
		want Scope
		ok   bool
	}{
		{"bearer token always passes", Principal{ViaAPIKey: false}, ScopeAdmin, true},
		{"admin key passes anything", Principal{ViaAPIKey: true, Scope: ScopeAdmin}, ScopeWrite, true},
		{"write key satisfies read", Principal{ViaAPIKey: true, Scope: ScopeWrite}, ScopeRead, true},
		{"read key fails write", Principal{ViaAPIKey: true, Scope: ScopeRead}, ScopeWrite, false},
		{"read key satisfies read", Principal{ViaAPIKey: true, Scope: ScopeRead}, ScopeRead, true},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.ok, tt.p.HasScope(tt.want), tt.name)
	}
}
