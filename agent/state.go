package agent

import (
	"sync"

	"github.com/hupe1980/agentstep/core"
)

// State is the lifecycle state of an agent.
type State int

const (
	// StateIdle is the initial state; only an idle agent accepts a run.
	StateIdle State = iota
	// StateRunning is set once a run was accepted.
	StateRunning
	// StateFinished marks a run that completed (normally or forced).
	StateFinished
	// StateError marks a run that failed or timed out.
	StateError
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateRunning:
		return "RUNNING"
	case StateFinished:
		return "FINISHED"
	case StateError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool { return s == StateFinished || s == StateError }

// RunState is the mutable record of a single run. The loop owns it; other
// goroutines may observe it. Steppers receive it to read history, append
// messages and request early termination via Finish.
type RunState struct {
	mu          sync.RWMutex
	runID       string
	state       State
	currentStep int
	maxSteps    int
	history     *core.History
}

func newRunState(runID string, maxSteps int) *RunState {
	return &RunState{
		runID:    runID,
		state:    StateIdle,
		maxSteps: maxSteps,
		history:  core.NewHistory(),
	}
}

// RunID returns the identifier of the run.
func (r *RunState) RunID() string { return r.runID }

// State returns the current lifecycle state.
func (r *RunState) State() State {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.state
}

// CurrentStep returns the 1-based index of the step being executed (0 before the first step).
func (r *RunState) CurrentStep() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.currentStep
}

// MaxSteps returns the step ceiling of the run.
func (r *RunState) MaxSteps() int { return r.maxSteps }

// History returns the append-only message log.
func (r *RunState) History() *core.History { return r.history }

// Messages returns a snapshot of the message log.
func (r *RunState) Messages() []core.Content { return r.history.Messages() }

// Append adds messages to the history.
func (r *RunState) Append(msgs ...core.Content) { r.history.Append(msgs...) }

// Finish requests termination after the current step. It only has an
// effect while the run is RUNNING.
func (r *RunState) Finish() bool { return r.transition(StateRunning, StateFinished) }

// transition moves from -> to atomically and reports whether it happened.
func (r *RunState) transition(from, to State) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != from {
		return false
	}
	r.state = to
	return true
}

func (r *RunState) setStep(n int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if n > r.maxSteps {
		n = r.maxSteps
	}
	r.currentStep = n
}
