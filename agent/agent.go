package agent

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/hupe1980/agentstep/core"
	"github.com/hupe1980/agentstep/logging"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/hupe1980/agentstep/agent"

// Defaults applied by New.
const (
	DefaultMaxSteps        = 10
	DefaultStreamTimeout   = 5 * time.Minute
	DefaultNoActionLimit   = 3
	DefaultEventBufferSize = 16
)

// Options configures an Agent. Use functional options with New to override defaults.
type Options struct {
	Name string
	// Instruction, when set, is appended as a system message ahead of the user prompt.
	Instruction Instruction
	MaxSteps    int
	// StreamTimeout bounds the lifetime of a streaming run. Zero disables it.
	StreamTimeout time.Duration
	// NoActionLimit is the number of consecutive no-op steps a streaming run
	// tolerates. Zero disables the heuristic.
	NoActionLimit   int
	EventBufferSize int
	Logger          logging.Logger
	Tracer          trace.Tracer
	// OnCleanup runs once per accepted run after the stepper's own Cleanup.
	OnCleanup func(ctx context.Context, run *RunState) error
}

// Config is the immutable configuration of an agent.
type Config struct {
	Name            string
	MaxSteps        int
	StreamTimeout   time.Duration
	NoActionLimit   int
	EventBufferSize int
}

// Agent drives a Stepper through a bounded loop. An Agent serves exactly
// one run; create a fresh instance per task.
type Agent struct {
	cfg         Config
	instruction Instruction
	stepper     Stepper
	run         *RunState
	logger      *logging.RunLogger
	tracer      trace.Tracer
	onCleanup   func(ctx context.Context, run *RunState) error

	cleanupOnce sync.Once
	mu          sync.Mutex
	err         error
}

// New creates an idle agent around stepper.
func New(stepper Stepper, optFns ...func(o *Options)) *Agent {
	opts := Options{
		Name:            "agent",
		MaxSteps:        DefaultMaxSteps,
		StreamTimeout:   DefaultStreamTimeout,
		NoActionLimit:   DefaultNoActionLimit,
		EventBufferSize: DefaultEventBufferSize,
		Logger:          logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.MaxSteps <= 0 {
		opts.MaxSteps = DefaultMaxSteps
	}
	if opts.EventBufferSize < 0 {
		opts.EventBufferSize = 0
	}
	if opts.Tracer == nil {
		opts.Tracer = otel.Tracer(tracerName)
	}

	runID := core.NewID()
	return &Agent{
		cfg: Config{
			Name:            opts.Name,
			MaxSteps:        opts.MaxSteps,
			StreamTimeout:   opts.StreamTimeout,
			NoActionLimit:   opts.NoActionLimit,
			EventBufferSize: opts.EventBufferSize,
		},
		instruction: opts.Instruction,
		stepper:     stepper,
		run:         newRunState(runID, opts.MaxSteps),
		logger:      logging.NewRunLogger(opts.Logger).WithRun(runID, opts.Name),
		tracer:      opts.Tracer,
		onCleanup:   opts.OnCleanup,
	}
}

// Config returns the agent configuration.
func (a *Agent) Config() Config { return a.cfg }

// Name returns the configured agent name.
func (a *Agent) Name() string { return a.cfg.Name }

// RunID returns the identifier of the agent's run.
func (a *Agent) RunID() string { return a.run.RunID() }

// State returns the current lifecycle state.
func (a *Agent) State() State { return a.run.State() }

// CurrentStep returns the step currently (or last) executed.
func (a *Agent) CurrentStep() int { return a.run.CurrentStep() }

// Messages returns a snapshot of the message history.
func (a *Agent) Messages() []core.Content { return a.run.Messages() }

// Err returns the *StepError of a failed run, or nil.
func (a *Agent) Err() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.err
}

// Run executes the loop on the calling goroutine and returns the newline
// joined step records. Rejected runs return ErrInvalidState or
// ErrInvalidInput without touching the agent. Step failures are reported in
// the returned text; Err exposes the underlying *StepError.
func (a *Agent) Run(ctx context.Context, userPrompt string) (string, error) {
	if err := a.accept(userPrompt); err != nil {
		a.logger.Warn("agent.run.rejected", "error", err.Error())
		return "", err
	}

	ctx, span := a.startRunSpan(ctx, "blocking")
	defer span.End()
	defer a.cleanup(ctx)

	a.logger.Info("agent.run.start", "max_steps", a.cfg.MaxSteps)

	results := make([]string, 0, a.cfg.MaxSteps+1)
	for step := 1; step <= a.cfg.MaxSteps && a.run.State() == StateRunning; step++ {
		out := a.executeStep(ctx, step)
		if out.Kind == OutcomeFailed {
			if a.run.transition(StateRunning, StateError) {
				span.RecordError(out.Err)
				span.SetStatus(codes.Error, "step failed")
			}
			return executionError(out.Err), nil
		}
		results = append(results, stepRecord(step, out.Result))
		if out.Kind == OutcomeComplete {
			a.run.Finish()
		}
	}

	if a.reachedMaxSteps() {
		results = append(results, maxStepsRecord(a.cfg.MaxSteps))
		span.AddEvent("agent.max_steps")
	}

	a.logger.Info("agent.run.completed", "steps", a.run.CurrentStep(), "state", a.run.State().String())
	span.SetStatus(codes.Ok, "ok")
	return strings.Join(results, "\n"), nil
}

// reachedMaxSteps forces FINISHED once the step budget is spent, also when
// the stepper completed on the last step. Failed runs keep ERROR.
func (a *Agent) reachedMaxSteps() bool {
	if a.run.CurrentStep() < a.cfg.MaxSteps {
		return false
	}
	a.run.transition(StateRunning, StateFinished)
	return a.run.State() == StateFinished
}

// accept validates preconditions and moves IDLE -> RUNNING. No state is
// mutated when it returns an error.
func (a *Agent) accept(userPrompt string) error {
	if s := a.run.State(); s != StateIdle {
		return invalidState(s)
	}
	if strings.TrimSpace(userPrompt) == "" {
		return ErrInvalidInput
	}

	var system string
	if !a.instruction.IsZero() {
		text, err := a.instruction.Resolve(a.run)
		if err != nil {
			return fmt.Errorf("resolve instruction: %w", err)
		}
		system = text
	}

	if !a.run.transition(StateIdle, StateRunning) {
		return invalidState(a.run.State())
	}

	if system != "" {
		a.run.Append(core.NewSystemContent(system))
	}
	a.run.Append(core.NewUserContent(userPrompt))
	return nil
}

// executeStep runs one step. Panics, returned errors and context
// cancellation are all normalized into OutcomeFailed with a *StepError.
func (a *Agent) executeStep(ctx context.Context, step int) (out Outcome) {
	a.run.setStep(step)

	ctx, span := a.tracer.Start(ctx, "agent.step",
		trace.WithAttributes(
			attribute.Int("agentstep.step", step),
			attribute.Int("agentstep.max_steps", a.cfg.MaxSteps),
		),
	)
	start := time.Now()

	defer func() {
		if r := recover(); r != nil {
			a.logger.Error("agent.step.panic", "step", step, "panic", fmt.Sprint(r), "stack", string(debug.Stack()))
			out = Failed(fmt.Errorf("panic: %v", r))
		}
		if out.Kind == OutcomeFailed || out.Err != nil {
			if out.Err == nil {
				out.Err = errors.New("step failed")
			}
			out = Outcome{Kind: OutcomeFailed, Err: &StepError{Step: step, Err: out.Err}}
			a.setErr(out.Err)
			span.RecordError(out.Err)
			span.SetStatus(codes.Error, "step failed")
		} else {
			span.SetAttributes(
				attribute.String("agentstep.outcome", out.Kind.String()),
				attribute.Bool("agentstep.no_action", out.IsNoAction()),
			)
		}
		a.logger.LogStep(step, a.cfg.MaxSteps, time.Since(start), out.Err)
		span.End()
	}()

	if err := ctx.Err(); err != nil {
		return Failed(err)
	}

	a.logger.Debug("agent.step.start", "step", step, "max_steps", a.cfg.MaxSteps)
	return a.stepper.Step(ctx, a.run)
}

// cleanup invokes the stepper's Cleanup and the OnCleanup hook exactly
// once. Failures are logged and never returned.
func (a *Agent) cleanup(ctx context.Context) {
	a.cleanupOnce.Do(func() {
		ctx = context.WithoutCancel(ctx)
		if c, ok := a.stepper.(Cleaner); ok {
			a.safeCleanup("stepper", func() error { return c.Cleanup(ctx) })
		}
		if a.onCleanup != nil {
			a.safeCleanup("hook", func() error { return a.onCleanup(ctx, a.run) })
		}
		a.logger.Debug("agent.cleanup", "state", a.run.State().String())
	})
}

func (a *Agent) safeCleanup(source string, fn func() error) {
	defer func() {
		if r := recover(); r != nil {
			a.logger.Error("agent.cleanup.panic", "source", source, "panic", fmt.Sprint(r))
		}
	}()
	if err := fn(); err != nil {
		a.logger.Warn("agent.cleanup.failed", "source", source, "error", err.Error())
	}
}

func (a *Agent) setErr(err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.err == nil {
		a.err = err
	}
}

func (a *Agent) startRunSpan(ctx context.Context, mode string) (context.Context, trace.Span) {
	return a.tracer.Start(ctx, "agent.run",
		trace.WithAttributes(
			attribute.String("agentstep.agent", a.cfg.Name),
			attribute.String("agentstep.run_id", a.run.RunID()),
			attribute.String("agentstep.mode", mode),
			attribute.Int("agentstep.max_steps", a.cfg.MaxSteps),
		),
	)
}

func stepRecord(step int, result string) string { return fmt.Sprintf("Step %d: %s", step, result) }

func maxStepsRecord(maxSteps int) string {
	return fmt.Sprintf("Terminated: Reached max steps (%d)", maxSteps)
}

func noActionRecord(n int) string {
	return fmt.Sprintf("Terminated after %d consecutive no-action steps", n)
}

// executionError renders the failure cause, not the step wrapper.
func executionError(err error) string {
	var se *StepError
	if errors.As(err, &se) && se.Err != nil {
		err = se.Err
	}
	return fmt.Sprintf("Execution error: %s", err.Error())
}
