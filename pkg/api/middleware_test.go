package api

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBearerToken(t *testing.T) {
	tests := []struct {
		name   string
		header string
		want   string
	}{
		{"well formed", "Bearer abc123", "abc123"},
		{"trims trailing whitespace", "Bearer abc123 ", "abc123"},
		{"missing prefix", "abc123", ""},
		{"wrong scheme", "Basic abc123", ""},
		{"empty header", "", ""},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, bearerToken(tt.header), tt.name)
	}
}
