package events

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRecorderStagePreservesOrder(t *testing.T) {
	var rec Recorder
	rec.Stage(Event{Type: TypeJobScheduled})
	rec.Stage(Event{Type: TypeJobPending})
	rec.Stage(Event{Type: TypeJobDispatched})

	pending := rec.Pending()
	assert.Len(t, pending, 3)
	assert.Equal(t, TypeJobScheduled, pending[0].Type)
	assert.Equal(t, TypeJobPending, pending[1].Type)
	assert.Equal(t, TypeJobDispatched, pending[2].Type)
}

func TestEventIsCritical(t *testing.T) {
	assert.True(t, Event{Type: TypeSystemAlert}.IsCritical())
	assert.True(t, Event{Type: TypeSystemMaint}.IsCritical())
	assert.False(t, Event{Type: TypeJobCompleted}.IsCritical())
}
