package agent

import (
	"context"
	"sync"
	"time"

	"github.com/hupe1980/agentstep/core"
	"go.opentelemetry.io/otel/codes"
)

// EventKind classifies stream events.
type EventKind int

const (
	// EventStep carries a "Step N: <result>" record.
	EventStep EventKind = iota
	// EventNoActionLimit reports termination after consecutive no-op steps.
	EventNoActionLimit
	// EventMaxSteps reports termination at the step ceiling.
	EventMaxSteps
	// EventError carries an "Execution error: <msg>" record.
	EventError
	// EventRejected is the single event of a stream whose run was not accepted.
	EventRejected
)

func (k EventKind) String() string {
	switch k {
	case EventStep:
		return "step"
	case EventNoActionLimit:
		return "no_action_limit"
	case EventMaxSteps:
		return "max_steps"
	case EventError:
		return "error"
	case EventRejected:
		return "rejected"
	default:
		return "unknown"
	}
}

// Event is one streamed record. Text is the plain text line.
type Event struct {
	ID   string
	Kind EventKind
	Step int
	Text string
}

func (e Event) String() string { return e.Text }

// IsError reports whether the event signals a failed or rejected run.
func (e Event) IsError() bool { return e.Kind == EventError || e.Kind == EventRejected }

func newEvent(kind EventKind, step int, text string) Event {
	return Event{ID: core.NewID(), Kind: kind, Step: step, Text: text}
}

type closeReason int

const (
	closeCompleted closeReason = iota
	closeConsumer
	closeTimeout
)

// Stream delivers the events of a streaming run in order. The loop pushes
// into an internal queue; a single delivery goroutine forwards to Events and
// is the only closer of that channel. Completion, consumer closure and
// timeout all funnel into one finalizer that runs exactly once.
type Stream struct {
	events chan Event
	queue  chan Event
	done   chan struct{}

	once       sync.Once
	mu         sync.Mutex
	err        error
	onFinalize func(closeReason)
	timer      *time.Timer
	stopCtx    func() bool
}

func newStream(queueSize, bufferSize int) *Stream {
	return &Stream{
		events: make(chan Event, bufferSize),
		queue:  make(chan Event, queueSize),
		done:   make(chan struct{}),
	}
}

// rejectedStream returns a completed stream carrying a single rejection event.
func rejectedStream(err error) *Stream {
	s := newStream(1, 1)
	s.queue <- newEvent(EventRejected, 0, "Error: "+err.Error())
	close(s.queue)
	go s.deliver()
	return s
}

// start launches delivery and arms the timeout and caller context watch.
func (s *Stream) start(ctx context.Context, timeout time.Duration) {
	s.mu.Lock()
	if timeout > 0 {
		s.timer = time.AfterFunc(timeout, func() { s.finalize(closeTimeout, ErrStreamTimeout) })
	}
	s.stopCtx = context.AfterFunc(ctx, s.Close)
	s.mu.Unlock()
	go s.deliver()
}

// Events returns the ordered event channel. It is closed once the stream ends.
func (s *Stream) Events() <-chan Event { return s.events }

// Done is closed when the stream has been finalized.
func (s *Stream) Done() <-chan struct{} { return s.done }

// Err returns ErrStreamTimeout when the stream timed out and nil otherwise.
// Step failures are reported as an EventError event, not through Err.
func (s *Stream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Close ends the stream from the consumer side. It is safe to call
// multiple times and from any goroutine.
func (s *Stream) Close() { s.finalize(closeConsumer, nil) }

// Collect drains the stream and returns all delivered events.
func (s *Stream) Collect() []Event {
	var out []Event
	for ev := range s.events {
		out = append(out, ev)
	}
	return out
}

// emit queues an event for delivery. Sending after the stream ended is a
// no-op reported as ErrStreamClosed.
func (s *Stream) emit(ev Event) error {
	select {
	case <-s.done:
		return ErrStreamClosed
	default:
	}
	select {
	case s.queue <- ev:
		return nil
	case <-s.done:
		return ErrStreamClosed
	}
}

// complete is called by the loop once, after its last emit.
func (s *Stream) complete() { close(s.queue) }

func (s *Stream) deliver() {
	defer close(s.events)
	for {
		select {
		case ev, ok := <-s.queue:
			if !ok {
				s.finalize(closeCompleted, nil)
				return
			}
			select {
			case s.events <- ev:
			case <-s.done:
				return
			}
		case <-s.done:
			return
		}
	}
}

func (s *Stream) finalize(reason closeReason, err error) {
	s.once.Do(func() {
		s.mu.Lock()
		s.err = err
		timer, stopCtx, hook := s.timer, s.stopCtx, s.onFinalize
		s.mu.Unlock()

		if timer != nil {
			timer.Stop()
		}
		if stopCtx != nil {
			stopCtx()
		}
		if hook != nil {
			hook(reason)
		}
		close(s.done)
	})
}

// RunStream starts the loop on its own goroutine and returns immediately.
// Rejected runs yield a completed stream with one EventRejected event and
// leave the agent untouched.
func (a *Agent) RunStream(ctx context.Context, userPrompt string) *Stream {
	if err := a.accept(userPrompt); err != nil {
		a.logger.Warn("agent.stream.rejected", "error", err.Error())
		return rejectedStream(err)
	}

	// The loop outlives neither the stream nor the caller: the caller's
	// cancellation closes the stream, which in turn cancels loopCtx.
	loopCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	loopCtx, span := a.startRunSpan(loopCtx, "stream")

	// Every step emits at most one event plus one terminal event.
	s := newStream(a.cfg.MaxSteps+2, a.cfg.EventBufferSize)
	s.onFinalize = func(reason closeReason) {
		switch reason {
		case closeTimeout:
			if a.run.transition(StateRunning, StateError) {
				a.logger.Warn("agent.stream.timeout", "timeout", a.cfg.StreamTimeout, "step", a.run.CurrentStep())
				span.SetStatus(codes.Error, "stream timeout")
			}
		case closeConsumer:
			if a.run.transition(StateRunning, StateFinished) {
				a.logger.Info("agent.stream.closed_by_consumer", "step", a.run.CurrentStep())
			}
		default:
			a.run.transition(StateRunning, StateFinished)
		}
		cancel()
		a.cleanup(loopCtx)
		span.End()
	}
	s.start(ctx, a.cfg.StreamTimeout)

	go a.streamLoop(loopCtx, s)
	return s
}

func (a *Agent) streamLoop(ctx context.Context, s *Stream) {
	defer func() {
		a.cleanup(ctx)
		s.complete()
	}()

	a.logger.Info("agent.stream.start", "max_steps", a.cfg.MaxSteps)

	noAction := 0
	for step := 1; step <= a.cfg.MaxSteps && a.run.State() == StateRunning; step++ {
		out := a.executeStep(ctx, step)

		if out.Kind == OutcomeFailed {
			if !a.run.transition(StateRunning, StateError) {
				return
			}
			_ = s.emit(newEvent(EventError, step, executionError(out.Err)))
			return
		}

		if out.IsNoAction() {
			if a.cfg.NoActionLimit > 0 && noAction >= a.cfg.NoActionLimit {
				if a.run.Finish() {
					_ = s.emit(newEvent(EventNoActionLimit, step, noActionRecord(noAction)))
				}
				return
			}
			noAction++
			continue
		}
		noAction = 0

		_ = s.emit(newEvent(EventStep, step, stepRecord(step, out.Result)))
		if out.Kind == OutcomeComplete {
			a.run.Finish()
		}
	}

	if a.reachedMaxSteps() {
		_ = s.emit(newEvent(EventMaxSteps, a.cfg.MaxSteps, maxStepsRecord(a.cfg.MaxSteps)))
	}
	a.logger.Info("agent.stream.completed", "steps", a.run.CurrentStep(), "state", a.run.State().String())
}
