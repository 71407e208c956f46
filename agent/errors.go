package agent

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidState is returned when a run is requested while the agent is not idle.
	ErrInvalidState = errors.New("cannot run agent from state")
	// ErrInvalidInput is returned for a blank user prompt.
	ErrInvalidInput = errors.New("cannot run agent with empty user prompt")
	// ErrStreamTimeout is reported by Stream.Err when the stream outlived its timeout.
	ErrStreamTimeout = errors.New("agent stream timed out")
	// ErrStreamClosed is returned when emitting into a closed stream.
	ErrStreamClosed = errors.New("agent stream closed")
)

// StepError wraps a failure raised while executing a step.
type StepError struct {
	Step int
	Err  error
}

func (e *StepError) Error() string { return fmt.Sprintf("step %d: %v", e.Step, e.Err) }

func (e *StepError) Unwrap() error { return e.Err }

func invalidState(s State) error { return fmt.Errorf("%w: %s", ErrInvalidState, s) }
