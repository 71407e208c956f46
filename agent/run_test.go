package agent_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/hupe1980/agentstep/agent"
	"github.com/hupe1980/agentstep/core"
	"github.com/hupe1980/agentstep/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func withMaxSteps(n int) func(o *agent.Options) {
	return func(o *agent.Options) { o.MaxSteps = n }
}

func TestRun_CompletesOnFirstStep(t *testing.T) {
	stepper := testutil.NewScriptedStepper(agent.Complete("done"))
	a := agent.New(stepper)

	out, err := a.Run(context.Background(), "book a flight")
	require.NoError(t, err)
	assert.Equal(t, "Step 1: done", out)
	assert.Equal(t, agent.StateFinished, a.State())
	assert.Equal(t, 1, a.CurrentStep())
	assert.Equal(t, 1, stepper.Cleanups())
}

func TestRun_MaxStepsSentinel(t *testing.T) {
	stepper := testutil.NewScriptedStepper(agent.Continue("working"))
	a := agent.New(stepper, withMaxSteps(3))

	out, err := a.Run(context.Background(), "loop forever")
	require.NoError(t, err)
	assert.Equal(t, strings.Join([]string{
		"Step 1: working",
		"Step 2: working",
		"Step 3: working",
		"Terminated: Reached max steps (3)",
	}, "\n"), out)
	assert.Equal(t, agent.StateFinished, a.State())
	assert.Equal(t, 3, a.CurrentStep())
	assert.Equal(t, 1, stepper.Cleanups())
}

func TestRun_NoActionIsRecordedInBlockingMode(t *testing.T) {
	stepper := testutil.NewScriptedStepper(agent.NoAction())
	a := agent.New(stepper, withMaxSteps(3))

	out, err := a.Run(context.Background(), "think")
	require.NoError(t, err)

	lines := strings.Split(out, "\n")
	require.Len(t, lines, 4)
	for i := 0; i < 3; i++ {
		assert.Contains(t, lines[i], agent.NoActionResult)
	}
	assert.Equal(t, "Terminated: Reached max steps (3)", lines[3])
	assert.Equal(t, agent.StateFinished, a.State())
	assert.Equal(t, 3, stepper.Calls())
}

func TestRun_StepFailure(t *testing.T) {
	stepper := testutil.NewScriptedStepper(agent.Continue("thinking"), agent.Failed(errors.New("model down")))
	a := agent.New(stepper)

	out, err := a.Run(context.Background(), "go")
	require.NoError(t, err)
	assert.Equal(t, "Execution error: model down", out)
	assert.Equal(t, agent.StateError, a.State())
	assert.Equal(t, 1, stepper.Cleanups())

	var stepErr *agent.StepError
	require.ErrorAs(t, a.Err(), &stepErr)
	assert.Equal(t, 2, stepErr.Step)
	assert.EqualError(t, stepErr.Err, "model down")
}

func TestRun_OutcomeWithErrorIsFailure(t *testing.T) {
	a := agent.New(agent.StepFunc(func(context.Context, *agent.RunState) agent.Outcome {
		return agent.Outcome{Kind: agent.OutcomeContinue, Result: "half", Err: errors.New("tool broke")}
	}))

	out, err := a.Run(context.Background(), "go")
	require.NoError(t, err)
	assert.Equal(t, "Execution error: tool broke", out)
	assert.Equal(t, agent.StateError, a.State())
}

func TestRun_PanicBecomesStepFailure(t *testing.T) {
	cleanups := 0
	a := agent.New(agent.StepFunc(func(context.Context, *agent.RunState) agent.Outcome {
		panic("boom")
	}), func(o *agent.Options) {
		o.OnCleanup = func(context.Context, *agent.RunState) error {
			cleanups++
			return nil
		}
	})

	out, err := a.Run(context.Background(), "go")
	require.NoError(t, err)
	assert.Equal(t, "Execution error: panic: boom", out)
	assert.Equal(t, agent.StateError, a.State())
	assert.Equal(t, 1, cleanups)
}

func TestRun_FailedOutcomeWithoutCause(t *testing.T) {
	stepper := testutil.NewScriptedStepper(agent.Outcome{Kind: agent.OutcomeFailed})
	a := agent.New(stepper)

	out, err := a.Run(context.Background(), "go")
	require.NoError(t, err)
	assert.Equal(t, "Execution error: step failed", out)

	var stepErr *agent.StepError
	require.ErrorAs(t, a.Err(), &stepErr)
	assert.EqualError(t, stepErr.Err, "step failed")
}

func TestRun_RejectsWhenNotIdle(t *testing.T) {
	stepper := testutil.NewScriptedStepper(agent.Complete("done"))
	a := agent.New(stepper)

	_, err := a.Run(context.Background(), "first")
	require.NoError(t, err)

	historyLen := len(a.Messages())
	step := a.CurrentStep()

	_, err = a.Run(context.Background(), "second")
	require.ErrorIs(t, err, agent.ErrInvalidState)
	assert.Contains(t, err.Error(), "FINISHED")
	assert.Len(t, a.Messages(), historyLen)
	assert.Equal(t, step, a.CurrentStep())
	assert.Equal(t, 1, stepper.Calls())
	assert.Equal(t, 1, stepper.Cleanups())
}

func TestRun_RejectsBlankPrompt(t *testing.T) {
	stepper := testutil.NewScriptedStepper(agent.Complete("done"))
	a := agent.New(stepper)

	for _, prompt := range []string{"", "   ", "\n\t"} {
		_, err := a.Run(context.Background(), prompt)
		require.ErrorIs(t, err, agent.ErrInvalidInput)
	}
	assert.Equal(t, agent.StateIdle, a.State())
	assert.Empty(t, a.Messages())
	assert.Zero(t, a.CurrentStep())
	assert.Zero(t, stepper.Cleanups())
}

func TestRun_HistoryStartsWithSystemAndUserPrompt(t *testing.T) {
	var seen []core.Content
	a := agent.New(agent.StepFunc(func(_ context.Context, run *agent.RunState) agent.Outcome {
		seen = run.Messages()
		return agent.Complete("ok")
	}), func(o *agent.Options) {
		o.Instruction = agent.NewInstructionFromText("You are a planner.")
	})

	_, err := a.Run(context.Background(), "plan my trip")
	require.NoError(t, err)
	require.Len(t, seen, 2)
	assert.Equal(t, core.RoleSystem, seen[0].Role)
	assert.Equal(t, "You are a planner.", seen[0].Text())
	assert.Equal(t, core.RoleUser, seen[1].Role)
	assert.Equal(t, "plan my trip", seen[1].Text())
}

func TestRun_InstructionErrorRejectsRun(t *testing.T) {
	a := agent.New(testutil.NewScriptedStepper(), func(o *agent.Options) {
		o.Instruction = agent.NewInstructionFromFunc(func(*agent.RunState) (string, error) {
			return "", errors.New("no template")
		})
	})

	_, err := a.Run(context.Background(), "hi")
	require.Error(t, err)
	assert.Equal(t, agent.StateIdle, a.State())
}

func TestRun_StepperFinishEndsLoop(t *testing.T) {
	a := agent.New(agent.StepFunc(func(_ context.Context, run *agent.RunState) agent.Outcome {
		run.Finish()
		return agent.Continue("terminated by tool")
	}))

	out, err := a.Run(context.Background(), "go")
	require.NoError(t, err)
	assert.Equal(t, "Step 1: terminated by tool", out)
	assert.Equal(t, agent.StateFinished, a.State())
}

func TestRun_CompleteOnLastStepStillAppendsSentinel(t *testing.T) {
	stepper := testutil.NewScriptedStepper(agent.Continue("a"), agent.Complete("b"))
	a := agent.New(stepper, withMaxSteps(2))

	out, err := a.Run(context.Background(), "go")
	require.NoError(t, err)
	assert.Equal(t, "Step 1: a\nStep 2: b\nTerminated: Reached max steps (2)", out)
	assert.Equal(t, agent.StateFinished, a.State())
}

func TestRun_CompleteBeforeLastStepHasNoSentinel(t *testing.T) {
	stepper := testutil.NewScriptedStepper(agent.Continue("a"), agent.Complete("b"))
	a := agent.New(stepper, withMaxSteps(3))

	out, err := a.Run(context.Background(), "go")
	require.NoError(t, err)
	assert.Equal(t, "Step 1: a\nStep 2: b", out)
}

func TestRun_FailureOnLastStepHasNoSentinel(t *testing.T) {
	stepper := testutil.NewScriptedStepper(agent.Continue("a"), agent.Failed(errors.New("boom")))
	a := agent.New(stepper, withMaxSteps(2))

	out, err := a.Run(context.Background(), "go")
	require.NoError(t, err)
	assert.Equal(t, "Execution error: boom", out)
	assert.Equal(t, agent.StateError, a.State())
}

func TestRun_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	stepper := testutil.NewScriptedStepper(agent.Continue("never"))
	a := agent.New(stepper)

	out, err := a.Run(ctx, "go")
	require.NoError(t, err)
	assert.Equal(t, "Execution error: context canceled", out)
	assert.Equal(t, agent.StateError, a.State())
	assert.Zero(t, stepper.Calls())
	assert.Equal(t, 1, stepper.Cleanups())
}

func TestRun_CleanupFailureDoesNotMaskResult(t *testing.T) {
	stepper := testutil.NewScriptedStepper(agent.Failed(errors.New("step broke")))
	stepper.CleanupErr = errors.New("cleanup broke")
	hookCalls := 0
	a := agent.New(stepper, func(o *agent.Options) {
		o.OnCleanup = func(context.Context, *agent.RunState) error {
			hookCalls++
			panic("hook exploded")
		}
	})

	out, err := a.Run(context.Background(), "go")
	require.NoError(t, err)
	assert.Equal(t, "Execution error: step broke", out)
	assert.Equal(t, 1, stepper.Cleanups())
	assert.Equal(t, 1, hookCalls)
}

func TestRun_StepsAreSequentialAndBounded(t *testing.T) {
	stepper := testutil.NewScriptedStepper(agent.Continue("x"))
	a := agent.New(stepper, withMaxSteps(5))

	_, err := a.Run(context.Background(), "go")
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2, 3, 4, 5}, stepper.Steps())
}

func TestNew_Defaults(t *testing.T) {
	a := agent.New(testutil.NewScriptedStepper(), withMaxSteps(-1))
	cfg := a.Config()
	assert.Equal(t, agent.DefaultMaxSteps, cfg.MaxSteps)
	assert.Equal(t, agent.DefaultStreamTimeout, cfg.StreamTimeout)
	assert.Equal(t, agent.DefaultNoActionLimit, cfg.NoActionLimit)
	assert.NotEmpty(t, a.RunID())
	assert.Equal(t, agent.StateIdle, a.State())
}
