package agent_test

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hupe1980/agentstep/agent"
	"github.com/hupe1980/agentstep/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func texts(events []agent.Event) []string {
	out := make([]string, len(events))
	for i, ev := range events {
		out[i] = ev.String()
	}
	return out
}

func waitDone(t *testing.T, s *agent.Stream) {
	t.Helper()
	select {
	case <-s.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("stream did not finish")
	}
}

func TestRunStream_EmitsStepsInOrder(t *testing.T) {
	stepper := testutil.NewScriptedStepper(agent.Continue("search"), agent.Continue("compare"), agent.Complete("book"))
	a := agent.New(stepper)

	s := a.RunStream(context.Background(), "book a flight")
	events := s.Collect()
	waitDone(t, s)

	assert.Equal(t, []string{"Step 1: search", "Step 2: compare", "Step 3: book"}, texts(events))
	for _, ev := range events {
		assert.Equal(t, agent.EventStep, ev.Kind)
		assert.NotEmpty(t, ev.ID)
	}
	assert.NoError(t, s.Err())
	assert.Equal(t, agent.StateFinished, a.State())
	assert.Equal(t, 1, stepper.Cleanups())
}

func TestRunStream_SuppressesNoActionSteps(t *testing.T) {
	stepper := testutil.NewScriptedStepper(
		agent.NoAction(), agent.NoAction(), agent.NoAction(),
		agent.Complete("done: booked flight"),
	)
	a := agent.New(stepper, withMaxSteps(10))

	events := a.RunStream(context.Background(), "book a flight").Collect()

	require.Len(t, events, 1)
	assert.Equal(t, "Step 4: done: booked flight", events[0].Text)
	assert.Equal(t, 4, events[0].Step)
	assert.Equal(t, agent.StateFinished, a.State())
}

func TestRunStream_NoActionCounterResets(t *testing.T) {
	stepper := testutil.NewScriptedStepper(
		agent.NoAction(), agent.NoAction(), agent.NoAction(),
		agent.Continue("done: booked flight"),
		agent.NoAction(), agent.NoAction(), agent.NoAction(),
		agent.Complete("sent confirmation"),
	)
	a := agent.New(stepper, withMaxSteps(10))

	events := a.RunStream(context.Background(), "book a flight").Collect()

	assert.Equal(t, []string{"Step 4: done: booked flight", "Step 8: sent confirmation"}, texts(events))
	assert.Equal(t, agent.StateFinished, a.State())
}

func TestRunStream_NoActionLimitTerminates(t *testing.T) {
	stepper := testutil.NewScriptedStepper(agent.NoAction())
	a := agent.New(stepper, withMaxSteps(10))

	s := a.RunStream(context.Background(), "idle")
	events := s.Collect()
	waitDone(t, s)

	require.Len(t, events, 1)
	assert.Equal(t, agent.EventNoActionLimit, events[0].Kind)
	assert.Equal(t, "Terminated after 3 consecutive no-action steps", events[0].Text)
	assert.Less(t, a.CurrentStep(), 10)
	assert.Equal(t, agent.StateFinished, a.State())
	assert.Equal(t, 1, stepper.Cleanups())
	for _, ev := range events {
		assert.NotContains(t, ev.Text, agent.NoActionResult)
	}
}

func TestRunStream_NoActionLimitDisabled(t *testing.T) {
	stepper := testutil.NewScriptedStepper(agent.NoAction())
	a := agent.New(stepper, withMaxSteps(5), func(o *agent.Options) { o.NoActionLimit = 0 })

	events := a.RunStream(context.Background(), "idle").Collect()

	require.Len(t, events, 1)
	assert.Equal(t, agent.EventMaxSteps, events[0].Kind)
	assert.Equal(t, 5, stepper.Calls())
}

func TestRunStream_MaxSteps(t *testing.T) {
	stepper := testutil.NewScriptedStepper(agent.Continue("working"))
	a := agent.New(stepper, withMaxSteps(2))

	events := a.RunStream(context.Background(), "go").Collect()

	assert.Equal(t, []string{
		"Step 1: working",
		"Step 2: working",
		"Terminated: Reached max steps (2)",
	}, texts(events))
	assert.Equal(t, agent.EventMaxSteps, events[2].Kind)
	assert.Equal(t, agent.StateFinished, a.State())
	assert.Equal(t, 2, a.CurrentStep())
}

func TestRunStream_CompleteOnLastStepStillEmitsSentinel(t *testing.T) {
	stepper := testutil.NewScriptedStepper(agent.Continue("a"), agent.Complete("b"))
	a := agent.New(stepper, withMaxSteps(2))

	events := a.RunStream(context.Background(), "go").Collect()

	assert.Equal(t, []string{
		"Step 1: a",
		"Step 2: b",
		"Terminated: Reached max steps (2)",
	}, texts(events))
	assert.Equal(t, agent.EventMaxSteps, events[2].Kind)
	assert.Equal(t, agent.StateFinished, a.State())
}

func TestRunStream_StepFailure(t *testing.T) {
	stepper := testutil.NewScriptedStepper(agent.Continue("thinking"), agent.Failed(errors.New("boom")))
	a := agent.New(stepper)

	s := a.RunStream(context.Background(), "go")
	events := s.Collect()
	waitDone(t, s)

	require.Len(t, events, 2)
	assert.Equal(t, agent.EventError, events[1].Kind)
	assert.True(t, events[1].IsError())
	assert.Equal(t, "Execution error: boom", events[1].Text)
	assert.NoError(t, s.Err())
	assert.Equal(t, agent.StateError, a.State())
	assert.Equal(t, 1, stepper.Cleanups())
}

func TestRunStream_FailureAfterConsumerCloseKeepsErrNil(t *testing.T) {
	release := make(chan struct{})
	var cleanups atomic.Int32
	a := agent.New(agent.StepFunc(func(context.Context, *agent.RunState) agent.Outcome {
		<-release
		return agent.Failed(errors.New("boom"))
	}), func(o *agent.Options) {
		o.OnCleanup = func(context.Context, *agent.RunState) error {
			cleanups.Add(1)
			return nil
		}
	})

	s := a.RunStream(context.Background(), "go")
	s.Close()
	close(release)
	waitDone(t, s)

	assert.Empty(t, s.Collect())
	assert.NoError(t, s.Err())
	assert.Eventually(t, func() bool { return cleanups.Load() == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, agent.StateFinished, a.State())
}

func TestRunStream_RejectsBlankPrompt(t *testing.T) {
	stepper := testutil.NewScriptedStepper(agent.Complete("done"))
	a := agent.New(stepper)

	s := a.RunStream(context.Background(), " ")
	events := s.Collect()
	waitDone(t, s)

	require.Len(t, events, 1)
	assert.Equal(t, agent.EventRejected, events[0].Kind)
	assert.Equal(t, "Error: cannot run agent with empty user prompt", events[0].Text)
	assert.Equal(t, agent.StateIdle, a.State())
	assert.Empty(t, a.Messages())
	assert.Zero(t, stepper.Calls())
	assert.Zero(t, stepper.Cleanups())
}

func TestRunStream_RejectsWhenNotIdle(t *testing.T) {
	stepper := testutil.NewScriptedStepper(agent.Complete("done"))
	a := agent.New(stepper)
	_ = a.RunStream(context.Background(), "first").Collect()

	historyLen := len(a.Messages())
	events := a.RunStream(context.Background(), "second").Collect()

	require.Len(t, events, 1)
	assert.Equal(t, "Error: cannot run agent from state: FINISHED", events[0].Text)
	assert.Len(t, a.Messages(), historyLen)
	assert.Equal(t, 1, stepper.Calls())
	assert.Equal(t, 1, stepper.Cleanups())
}

func TestRunStream_Timeout(t *testing.T) {
	stepper := testutil.NewBlockingStepper()
	stepper.IgnoreContext = true
	defer stepper.Release()

	a := agent.New(stepper, func(o *agent.Options) { o.StreamTimeout = 50 * time.Millisecond })

	s := a.RunStream(context.Background(), "slow task")
	<-stepper.Started()
	waitDone(t, s)

	assert.ErrorIs(t, s.Err(), agent.ErrStreamTimeout)
	assert.Equal(t, agent.StateError, a.State())
	assert.Equal(t, 1, stepper.Cleanups())
	assert.Empty(t, s.Collect())

	// The step outlives the timeout; its late completion changes nothing.
	stepper.Release()
	assert.Never(t, func() bool {
		return stepper.Cleanups() != 1 || a.State() != agent.StateError
	}, 100*time.Millisecond, 10*time.Millisecond)
}

func TestRunStream_ConsumerClose(t *testing.T) {
	stepper := testutil.NewBlockingStepper()
	a := agent.New(stepper)

	s := a.RunStream(context.Background(), "long task")
	<-stepper.Started()
	s.Close()
	s.Close()
	waitDone(t, s)

	assert.NoError(t, s.Err())
	assert.Equal(t, agent.StateFinished, a.State())
	assert.Equal(t, 1, stepper.Cleanups())
	assert.Empty(t, s.Collect())
}

func TestRunStream_CallerContextCancel(t *testing.T) {
	stepper := testutil.NewBlockingStepper()
	a := agent.New(stepper)

	ctx, cancel := context.WithCancel(context.Background())
	s := a.RunStream(ctx, "long task")
	<-stepper.Started()
	cancel()
	waitDone(t, s)

	assert.Equal(t, agent.StateFinished, a.State())
	assert.Equal(t, 1, stepper.Cleanups())
}

func TestRunStream_ReturnsBeforeLoopRuns(t *testing.T) {
	stepper := testutil.NewBlockingStepper()
	defer stepper.Release()
	a := agent.New(stepper)

	start := time.Now()
	s := a.RunStream(context.Background(), "go")
	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, agent.StateRunning, a.State())
	s.Close()
	waitDone(t, s)
}

func TestRunStream_ManyStepsPreserveOrder(t *testing.T) {
	const n = 50
	a := agent.New(agent.StepFunc(func(_ context.Context, run *agent.RunState) agent.Outcome {
		return agent.Continue(fmt.Sprintf("r%d", run.CurrentStep()))
	}), withMaxSteps(n), func(o *agent.Options) { o.EventBufferSize = 0 })

	events := a.RunStream(context.Background(), "go").Collect()

	require.Len(t, events, n+1)
	for i := 0; i < n; i++ {
		assert.Equal(t, fmt.Sprintf("Step %d: r%d", i+1, i+1), events[i].Text)
	}
	assert.Equal(t, agent.EventMaxSteps, events[n].Kind)
}
