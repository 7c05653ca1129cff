package notify

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSettingsInDNDWindow(t *testing.T) {
	now := time.Date(2026, 7, 31, 12, 0, 0, 0, time.UTC)
	future := now.Add(time.Hour)
	past := now.Add(-time.Hour)

	tests := []struct {
		name     string
		settings Settings
		want     bool
	}{
		{"disabled", Settings{DNDEnabled: false}, false},
		{"enabled indefinite", Settings{DNDEnabled: true}, true},
		{"enabled until future", Settings{DNDEnabled: true, DNDUntil: &future}, true},
		{"enabled until past", Settings{DNDEnabled: true, DNDUntil: &past}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.settings.InDNDWindow(now))
		})
	}
}
