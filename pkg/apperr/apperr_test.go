package apperr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindOf(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected Kind
	}{
		{"validation error", Validation("missing field %q", "name"), KindValidation},
		{"unauthorized error", Unauthorized("bad credentials"), KindUnauthorized},
		{"forbidden error", Forbidden("deactivated"), KindForbidden},
		{"not found error", NotFound("job"), KindNotFound},
		{"conflict error", Conflict("job %s is terminal", "abc"), KindConflict},
		{"bad request error", BadRequest("unknown scope %q", "x"), KindBadRequest},
		{"internal error", Internal(errors.New("db down")), KindInternal},
		{"wrapped app error", fmt.Errorf("wrapped: %w", NotFound("worker")), KindNotFound},
		{"plain error defaults to internal", errors.New("boom"), KindInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, KindOf(tt.err))
		})
	}
}

func TestIs(t *testing.T) {
	err := NotFound("job")
	assert.True(t, Is(err, KindNotFound))
	assert.False(t, Is(err, KindConflict))
}

func TestErrorMessage(t *testing.T) {
	err := NotFound("job")
	assert.Equal(t, "not_found: job not found", err.Error())
}

func TestWrapPreservesCauseForUnwrap(t *testing.T) {
	cause := errors.New("connection refused")
	err := Internal(cause)
	assert.ErrorIs(t, err, cause)
}

func TestWithDetails(t *testing.T) {
	err := Conflict("illegal transition").WithDetails(map[string]any{
		"from": "running",
		"to":   "completed",
	})
	assert.Equal(t, "running", err.Details["from"])
	assert.Equal(t, "completed", err.Details["to"])
}
