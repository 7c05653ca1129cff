package config

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExpandEnv(t *testing.T) {
	tests := []struct {
		name  string
		input string
		env   map[string]string
		want  string
	}{
		{
			name:  "braced substitution",
			input: "dsn: ${DATABASE_URL}",
			env:   map[string]string{"DATABASE_URL": "postgres://localhost/studio"},
			want:  "dsn: postgres://localhost/studio",
		},
		{
			name:  "bare substitution",
			input: "dsn: $DATABASE_URL",
			env:   map[string]string{"DATABASE_URL": "postgres://localhost/studio"},
			want:  "dsn: postgres://localhost/studio",
		},
		{
			name:  "missing variable expands to empty string",
			input: "secret: ${MISSING_VAR}",
			env:   map[string]string{},
			want:  "secret: ",
		},
		{
			name:  "multiple substitutions in one line",
			input: "url: ${PROTOCOL}://${HOST}:${PORT}",
			env: map[string]string{
				"PROTOCOL": "https",
				"HOST":     "example.com",
				"PORT":     "8443",
			},
			want: "url: https://example.com:8443",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			// Ensure MISSING_VAR really is unset in this test process.
			if _, ok := tt.env["MISSING_VAR"]; !ok {
				os.Unsetenv("MISSING_VAR")
			}
			got := ExpandEnv([]byte(tt.input))
			assert.Equal(t, tt.want, string(got))
		})
	}
}
