package testutil

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/hupe1980/agentstep/agent"
)

// ScriptedStepper returns pre-programmed outcomes, one per step. Once the
// script is exhausted the last outcome repeats. It counts steps and cleanups.
type ScriptedStepper struct {
	mu       sync.Mutex
	outcomes []agent.Outcome
	calls    int
	steps    []int
	cleanups atomic.Int32
	// CleanupErr is returned from Cleanup when set.
	CleanupErr error
}

// NewScriptedStepper creates a stepper replaying outcomes in order.
func NewScriptedStepper(outcomes ...agent.Outcome) *ScriptedStepper {
	return &ScriptedStepper{outcomes: outcomes}
}

// Step implements agent.Stepper.
func (s *ScriptedStepper) Step(_ context.Context, run *agent.RunState) agent.Outcome {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.steps = append(s.steps, run.CurrentStep())
	if len(s.outcomes) == 0 {
		return agent.NoAction()
	}
	idx := s.calls
	if idx >= len(s.outcomes) {
		idx = len(s.outcomes) - 1
	}
	s.calls++
	return s.outcomes[idx]
}

// Cleanup implements agent.Cleaner.
func (s *ScriptedStepper) Cleanup(context.Context) error {
	s.cleanups.Add(1)
	return s.CleanupErr
}

// Calls returns how many steps ran.
func (s *ScriptedStepper) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.steps)
}

// Steps returns the step indices observed by the stepper.
func (s *ScriptedStepper) Steps() []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]int, len(s.steps))
	copy(out, s.steps)
	return out
}

// Cleanups returns how many times Cleanup was invoked.
func (s *ScriptedStepper) Cleanups() int { return int(s.cleanups.Load()) }

// BlockingStepper blocks every step until released or until its context is
// done. It is used to exercise timeouts and consumer closure.
type BlockingStepper struct {
	started  chan struct{}
	release  chan struct{}
	once     sync.Once
	relOnce  sync.Once
	cleanups atomic.Int32
	// IgnoreContext keeps the step blocked even after cancellation.
	IgnoreContext bool
}

// NewBlockingStepper creates a BlockingStepper.
func NewBlockingStepper() *BlockingStepper {
	return &BlockingStepper{started: make(chan struct{}), release: make(chan struct{})}
}

// Step implements agent.Stepper.
func (b *BlockingStepper) Step(ctx context.Context, _ *agent.RunState) agent.Outcome {
	b.once.Do(func() { close(b.started) })
	if b.IgnoreContext {
		<-b.release
		return agent.Continue("released")
	}
	select {
	case <-b.release:
		return agent.Continue("released")
	case <-ctx.Done():
		return agent.Failed(ctx.Err())
	}
}

// Started is closed when the first step began.
func (b *BlockingStepper) Started() <-chan struct{} { return b.started }

// Release unblocks pending and future steps.
func (b *BlockingStepper) Release() { b.relOnce.Do(func() { close(b.release) }) }

// Cleanup implements agent.Cleaner.
func (b *BlockingStepper) Cleanup(context.Context) error {
	b.cleanups.Add(1)
	return nil
}

// Cleanups returns how many times Cleanup was invoked.
func (b *BlockingStepper) Cleanups() int { return int(b.cleanups.Load()) }

// ErrScripted is a canned step failure.
var ErrScripted = errors.New("scripted failure")
