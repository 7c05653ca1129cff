package webhook

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSign(t *testing.T) {
	sig := sign("my-secret", []byte(`{"hello":"world"}`))
	assert.Len(t, sig, 64) // hex-encoded SHA-256 digest
	assert.Equal(t, sig, sign("my-secret", []byte(`{"hello":"world"}`)))
	assert.NotEqual(t, sig, sign("other-secret", []byte(`{"hello":"world"}`)))
}

func TestNextRetryDelay(t *testing.T) {
	tests := []struct {
		attemptCount int
		want         time.Duration
	}{
		{1, 2 * time.Second},
		{2, 4 * time.Second},
		{3, 8 * time.Second},
		{12, time.Hour}, // 2^12s would exceed the one-hour ceiling
	}

	for _, tt := range tests {
		got := nextRetryDelay(tt.attemptCount)
		assert.Equal(t, tt.want, got, "attemptCount=%d", tt.attemptCount)
	}
}
