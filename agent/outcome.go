package agent

import "context"

// NoActionResult is the step result signalling that nothing actionable
// happened. Streaming runs suppress it and stop after repeated occurrences.
const NoActionResult = "Thinking complete - no action needed"

// OutcomeKind tells the loop how to proceed after a step.
type OutcomeKind int

const (
	// OutcomeContinue records the result and runs the next step.
	OutcomeContinue OutcomeKind = iota
	// OutcomeComplete records the result and finishes the run.
	OutcomeComplete
	// OutcomeFailed moves the run to ERROR.
	OutcomeFailed
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeContinue:
		return "continue"
	case OutcomeComplete:
		return "complete"
	case OutcomeFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Outcome is the result of one step.
type Outcome struct {
	Kind   OutcomeKind
	Result string
	Err    error
}

// Continue returns an outcome that keeps the loop going.
func Continue(result string) Outcome { return Outcome{Kind: OutcomeContinue, Result: result} }

// Complete returns an outcome that ends the run successfully.
func Complete(result string) Outcome { return Outcome{Kind: OutcomeComplete, Result: result} }

// Failed returns an outcome that ends the run with an error.
func Failed(err error) Outcome { return Outcome{Kind: OutcomeFailed, Err: err} }

// NoAction returns the designated no-op outcome.
func NoAction() Outcome { return Continue(NoActionResult) }

// IsNoAction reports whether the outcome is the no-op marker.
func (o Outcome) IsNoAction() bool {
	return o.Kind == OutcomeContinue && o.Result == NoActionResult
}

// Stepper performs one unit of agent work. Implementations may append to
// the run history and call run.Finish to end the run early. Step is called
// at most MaxSteps times per run and never concurrently.
type Stepper interface {
	Step(ctx context.Context, run *RunState) Outcome
}

// StepFunc adapts an ordinary function to the Stepper interface.
type StepFunc func(ctx context.Context, run *RunState) Outcome

// Step implements Stepper.
func (f StepFunc) Step(ctx context.Context, run *RunState) Outcome { return f(ctx, run) }

// Cleaner is implemented by steppers owning resources. Cleanup is invoked
// exactly once per accepted run.
type Cleaner interface {
	Cleanup(ctx context.Context) error
}
