package agent

import "context"

// Reasoner splits a step into a think phase deciding whether to act and an
// act phase performing the action.
type Reasoner interface {
	Think(ctx context.Context, run *RunState) (bool, error)
	Act(ctx context.Context, run *RunState) Outcome
}

type reactStepper struct {
	r Reasoner
}

// ReAct turns a Reasoner into a Stepper. A step whose think phase declines to
// act yields the no-op marker. If r implements Cleaner its Cleanup is used.
func ReAct(r Reasoner) Stepper { return &reactStepper{r: r} }

// Step implements Stepper.
func (s *reactStepper) Step(ctx context.Context, run *RunState) Outcome {
	act, err := s.r.Think(ctx, run)
	if err != nil {
		return Failed(err)
	}
	if !act {
		return NoAction()
	}
	return s.r.Act(ctx, run)
}

// Cleanup implements Cleaner.
func (s *reactStepper) Cleanup(ctx context.Context) error {
	if c, ok := s.r.(Cleaner); ok {
		return c.Cleanup(ctx)
	}
	return nil
}
