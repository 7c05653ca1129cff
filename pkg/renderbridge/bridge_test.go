package renderbridge

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWSURLRewritesScheme(t *testing.T) {
	tests := []struct {
		name, in, want string
	}{
		{"http", "http://worker1.internal:8188", "ws://worker1.internal:8188/ws"},
		{"https", "https://worker1.internal", "wss://worker1.internal/ws"},
		{"schemeless falls back to appending path", "worker1.internal:8188", "worker1.internal:8188/ws"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, wsURL(tt.in))
		})
	}
}

func TestProgressPercent(t *testing.T) {
	tests := []struct {
		name        string
		value, max  int
		want        int
	}{
		{"half done", 5, 10, 50},
		{"zero max clamps to zero", 5, 0, 0},
		{"negative max clamps to zero", 5, -1, 0},
		{"value equals max", 10, 10, 100},
		{"over max clamps to 100", 15, 10, 100},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, progressPercent(tt.value, tt.max))
		})
	}
}
