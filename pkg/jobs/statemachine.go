package jobs

import "github.com/studiocore/control-plane/pkg/apperr"

// legalTransitions is the edge table from spec §4.1. A status absent
// from this map (the three terminal ones) has no outgoing edges.
var legalTransitions = map[Status][]Status{
	StatusScheduled:  {StatusPending, StatusCancelled},
	StatusPending:    {StatusDispatched, StatusPaused, StatusCancelled},
	StatusDispatched: {StatusRunning, StatusFailed, StatusCancelled},
	StatusRunning:    {StatusCompleted, StatusFailed, StatusCancelled, StatusPaused},
	StatusPaused:     {StatusPending, StatusCancelled},
	StatusRetrying:   {StatusPending},
}

// canTransition reports whether moving from `from` to `to` is a legal
// edge in the job status graph.
func canTransition(from, to Status) bool {
	for _, candidate := range legalTransitions[from] {
		if candidate == to {
			return true
		}
	}
	return false
}

// validateTransition returns an error naming both states if the edge
// is illegal, nil otherwise. A terminal `from` state always yields a
// conflict (the job is already done), distinct from every other
// illegal edge, which is a validation error.
func validateTransition(from, to Status) error {
	if canTransition(from, to) {
		return nil
	}
	if from.IsTerminal() {
		return apperr.Conflict("job is already %s, cannot transition to %s", from, to)
	}
	return apperr.Validation("illegal job status transition: %s -> %s", from, to)
}
