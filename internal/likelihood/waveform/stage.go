package waveform

import (
	lerrors "github.com/copyleftdev/hmlike/internal/errors"
)

// State is a position in the staged engine sequence.
type State int

const (
	Constructed State = iota
	AmplitudesReady
	WaveformInterpolated
	ResponseApplied
	ResponseInterpolated
	Combined
)

var stateNames = [...]string{
	Constructed:          "Constructed",
	AmplitudesReady:      "AmplitudesReady",
	WaveformInterpolated: "WaveformInterpolated",
	ResponseApplied:      "ResponseApplied",
	ResponseInterpolated: "ResponseInterpolated",
	Combined:             "Combined",
}

// String returns the state name.
func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "Unknown"
	}
	return stateNames[s]
}

// transitions lists, for every target state, the states it may be entered from.
// Amplitude generation restarts the sequence from anywhere.
var transitions = map[State][]State{
	AmplitudesReady:      {Constructed, AmplitudesReady, WaveformInterpolated, ResponseApplied, ResponseInterpolated, Combined},
	WaveformInterpolated: {AmplitudesReady},
	ResponseApplied:      {WaveformInterpolated},
	ResponseInterpolated: {ResponseApplied},
	Combined:             {ResponseInterpolated},
}

// Stage guards the call order of a staged engine. The zero value is Constructed.
type Stage struct {
	current State
}

// Current returns the current state.
func (s *Stage) Current() State {
	return s.current
}

// Advance moves to next if the transition from the current state is allowed.
func (s *Stage) Advance(op string, next State) error {
	for _, from := range transitions[next] {
		if from == s.current {
			s.current = next
			return nil
		}
	}
	return lerrors.Engine(errOutOfOrder, "%s called in state %s, cannot enter %s", op, s.current, next).
		WithComponent("waveform").WithOperation(op)
}

// Require checks that the engine is in want without moving.
func (s *Stage) Require(op string, want State) error {
	if s.current != want {
		return lerrors.Engine(errOutOfOrder, "%s requires state %s, engine is in %s", op, want, s.current).
			WithComponent("waveform").WithOperation(op)
	}
	return nil
}

// Reset returns to Constructed.
func (s *Stage) Reset() {
	s.current = Constructed
}

type stageError string

func (e stageError) Error() string { return string(e) }

// errOutOfOrder is wrapped by every ordering failure.
const errOutOfOrder = stageError("staged call out of order")

// ErrOutOfOrder reports an out-of-order staged call; match with errors.Is.
var ErrOutOfOrder error = errOutOfOrder
