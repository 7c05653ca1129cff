package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenIssuerIssueAndVerify(t *testing.T) {
	issuer := NewTokenIssuer("test-secret", time.Minute)

	token, expiresAt, err := issuer.Issue(42, RoleAdmin, "jti-1")
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(time.Minute), expiresAt, 2*time.Second)

	claims, err := issuer.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "42", claims.Subject)
	assert.Equal(t, "admin", claims.Role)
	assert.Equal(t, "jti-1", claims.ID)
}

func TestTokenIssuerVerifyRejectsExpired(t *testing.T) {
	issuer := NewTokenIssuer("test-secret", time.Minute)

	// NewTokenIssuer replaces a non-positive expiry with the 15-minute
	// default, so the expired token is signed by hand.
	claims := AccessClaims{
		Role: RoleUser.String(),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "1",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute)),
			ID:        "jti-2",
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-secret"))
	require.NoError(t, err)

	_, err = issuer.Verify(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestTokenIssuerVerifyRejectsWrongSecret(t *testing.T) {
	issuer := NewTokenIssuer("test-secret", time.Minute)
	other := NewTokenIssuer("other-secret", time.Minute)

	token, _, err := issuer.Issue(1, RoleUser, "jti-3")
	require.NoError(t, err)

	_, err = other.Verify(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestTokenIssuerVerifyRejectsWrongSigningMethod(t *testing.T) {
	issuer := NewTokenIssuer("test-secret", time.Minute)

	claims := AccessClaims{
		Role: RoleUser.String(),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "1",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Minute)),
		},
	}
	// Signed with "none" has no verifiable signature; Verify must reject
	// it rather than trust the unverified header.
	unsigned, err := jwt.NewWithClaims(jwt.SigningMethodNone, claims).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	_, err = issuer.Verify(unsigned)
	assert.ErrorIs(t, err, ErrInvalidToken)
}
