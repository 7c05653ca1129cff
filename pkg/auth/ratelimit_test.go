package auth

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKeyLimitersExhaustsBurst(t *testing.T) {
	limiters := newKeyLimiters()

	// burst size equals rpm, so a 2 rpm bucket allows exactly 2 immediate
	// reads before the third is rejected.
	assert.True(t, limiters.AllowRead(1, 2))
	assert.True(t, limiters.AllowRead(1, 2))
	assert.False(t, limiters.AllowRead(1, 2))
}

func TestKeyLimitersReadAndWriteAreIndependent(t *testing.T) {
	limiters := newKeyLimiters()

	assert.True(t, limiters.AllowRead(1, 1))
	assert.False(t, limiters.AllowRead(1, 1))
	assert.True(t, limiters.AllowWrite(1, 1))
}

func TestKeyLimitersForgetResetsBucket(t *testing.T) {
	limiters := newKeyLimiters()

	assert.True(t, limiters.AllowRead(1, 1))
	assert.False(t, limiters.AllowRead(1, 1))

	limiters.Forget(1)
	assert.True(t, limiters.AllowRead(1, 1))
}

func TestKeyLimitersPerKeyIsolation(t *testing.T) {
	limiters := newKeyLimiters()

	assert.True(t, limiters.AllowRead(1, 1))
	assert.False(t, limiters.AllowRead(1, 1))
	assert.True(t, limiters.AllowRead(2, 1))
}
