package jobs

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/studiocore/control-plane/pkg/apperr"
)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to Status
		want     bool
	}{
		{StatusScheduled, StatusPending, true},
		{StatusScheduled, StatusCancelled, true},
		{StatusScheduled, StatusRunning, false},
		{StatusPending, StatusDispatched, true},
		{StatusPending, StatusPaused, true},
		{StatusPending, StatusCancelled, true},
		{StatusPending, StatusRunning, false},
		{StatusDispatched, StatusRunning, true},
		{StatusDispatched, StatusFailed, true},
		{StatusDispatched, StatusCancelled, true},
		{StatusDispatched, StatusCompleted, false},
		{StatusRunning, StatusCompleted, true},
		{StatusRunning, StatusFailed, true},
		{StatusRunning, StatusCancelled, true},
		{StatusRunning, StatusPaused, true},
		{StatusRunning, StatusPending, false},
		{StatusPaused, StatusPending, true},
		{StatusPaused, StatusCancelled, true},
		{StatusPaused, StatusRunning, false},
		{StatusRetrying, StatusPending, true},
		{StatusRetrying, StatusDispatched, false},
		{StatusCompleted, StatusPending, false},
		{StatusFailed, StatusPending, false},
		{StatusCancelled, StatusPending, false},
	}

	for _, tt := range tests {
		t.Run(tt.from.String()+"->"+tt.to.String(), func(t *testing.T) {
			assert.Equal(t, tt.want, canTransition(tt.from, tt.to))
		})
	}
}

func TestValidateTransitionNamesBothStates(t *testing.T) {
	err := validateTransition(StatusCompleted, StatusRunning)
	assert := assert.New(t)
	assert.Error(err)
	assert.Contains(err.Error(), "completed")
	assert.Contains(err.Error(), "running")
}

func TestValidateTransitionFromTerminalIsConflict(t *testing.T) {
	for _, from := range []Status{StatusCompleted, StatusFailed, StatusCancelled} {
		err := validateTransition(from, StatusPending)
		assert.True(t, apperr.Is(err, apperr.KindConflict), "expected conflict for terminal state %s", from)
	}
}

func TestValidateTransitionFromNonTerminalIllegalEdgeIsValidation(t *testing.T) {
	err := validateTransition(StatusPending, StatusRunning)
	assert.True(t, apperr.Is(err, apperr.KindValidation))
}

func TestValidateTransitionAllowsLegalEdge(t *testing.T) {
	assert.NoError(t, validateTransition(StatusPending, StatusDispatched))
}

func TestStatusIsTerminal(t *testing.T) {
	assert.True(t, StatusCompleted.IsTerminal())
	assert.True(t, StatusFailed.IsTerminal())
	assert.True(t, StatusCancelled.IsTerminal())
	assert.False(t, StatusPending.IsTerminal())
	assert.False(t, StatusRunning.IsTerminal())
	assert.False(t, StatusRetrying.IsTerminal())
}
