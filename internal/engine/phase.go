package engine

import (
	apperrors "DefiFlow/internal/errors"
)

// Phase is the coarse execution state.
type Phase string

const (
	PhaseIdle     Phase = "idle"
	PhaseArmed    Phase = "armed"
	PhaseRunning  Phase = "running"
	PhaseComplete Phase = "complete"
	PhaseFailed   Phase = "failed"
)

// transitions enumerates every reachable edge. Running -> Running is the
// step advance; Complete and Failed only leave through a reset.
var transitions = map[Phase][]Phase{
	PhaseIdle:     {PhaseArmed},
	PhaseArmed:    {PhaseIdle, PhaseRunning},
	PhaseRunning:  {PhaseRunning, PhaseComplete, PhaseFailed},
	PhaseComplete: {PhaseIdle},
	PhaseFailed:   {PhaseIdle},
}

// CanTransition reports whether from -> to is an enumerated transition.
func CanTransition(from, to Phase) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

func invalidTransition(from, to Phase) error {
	return apperrors.Newf(apperrors.CodeInvalidTransition, "invalid transition: %s -> %s", from, to)
}

// Terminal reports whether the phase ends a run.
func (p Phase) Terminal() bool {
	return p == PhaseComplete || p == PhaseFailed
}
