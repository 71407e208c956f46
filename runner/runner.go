package runner

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/hupe1980/agentstep/agent"
	"github.com/hupe1980/agentstep/logging"
	"golang.org/x/sync/semaphore"
)

var (
	// ErrRunNotFound is returned by Cancel for unknown or finished runs.
	ErrRunNotFound = errors.New("run not found")
	// ErrShutdown is returned once Shutdown was called.
	ErrShutdown = errors.New("runner is shut down")
)

// Factory creates the agent for one task.
type Factory func() (*agent.Agent, error)

// Options holds configuration overrides passed to New.
type Options struct {
	// MaxConcurrentRuns limits concurrently executing runs of both kinds.
	MaxConcurrentRuns int
	Logger            logging.Logger
}

// Runner creates an agent per task and tracks streaming runs. Public methods
// are safe for concurrent use.
type Runner struct {
	factory Factory
	sem     *semaphore.Weighted
	logger  logging.Logger

	mu         sync.Mutex
	closed     bool
	activeRuns map[string]*agent.Stream
	wg         sync.WaitGroup
}

// New constructs a Runner.
func New(factory Factory, optFns ...func(o *Options)) *Runner {
	opts := Options{
		MaxConcurrentRuns: 10,
		Logger:            logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.MaxConcurrentRuns <= 0 {
		opts.MaxConcurrentRuns = 1
	}
	return &Runner{
		factory:    factory,
		sem:        semaphore.NewWeighted(int64(opts.MaxConcurrentRuns)),
		logger:     opts.Logger,
		activeRuns: make(map[string]*agent.Stream),
	}
}

// Run executes a blocking run on a fresh agent and returns its result text.
func (r *Runner) Run(ctx context.Context, prompt string) (string, error) {
	a, err := r.acquire(ctx)
	if err != nil {
		return "", err
	}
	defer r.release()

	r.logger.Info("runner.run.start", "run_id", a.RunID())
	out, err := a.Run(ctx, prompt)
	if err != nil {
		return "", err
	}
	r.logger.Info("runner.run.completed", "run_id", a.RunID(), "state", a.State().String())
	return out, nil
}

// RunStream starts a streaming run on a fresh agent. The run id can be
// passed to Cancel while the stream is active.
func (r *Runner) RunStream(ctx context.Context, prompt string) (string, *agent.Stream, error) {
	a, err := r.acquire(ctx)
	if err != nil {
		return "", nil, err
	}

	runID := a.RunID()
	s := a.RunStream(ctx, prompt)

	r.mu.Lock()
	r.activeRuns[runID] = s
	r.mu.Unlock()

	go func() {
		<-s.Done()
		r.mu.Lock()
		delete(r.activeRuns, runID)
		r.mu.Unlock()
		r.release()
		r.logger.Debug("runner.stream.done", "run_id", runID, "state", a.State().String())
	}()

	r.logger.Info("runner.stream.start", "run_id", runID)
	return runID, s, nil
}

// Cancel closes an active streaming run.
func (r *Runner) Cancel(runID string) error {
	r.mu.Lock()
	s, ok := r.activeRuns[runID]
	r.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	s.Close()
	return nil
}

// Active returns the ids of the streaming runs in flight.
func (r *Runner) Active() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, 0, len(r.activeRuns))
	for id := range r.activeRuns {
		ids = append(ids, id)
	}
	return ids
}

// Shutdown rejects new runs, closes active streams and waits for every run
// to release its slot or for ctx to end.
func (r *Runner) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	r.closed = true
	streams := make([]*agent.Stream, 0, len(r.activeRuns))
	for _, s := range r.activeRuns {
		streams = append(streams, s)
	}
	r.mu.Unlock()

	for _, s := range streams {
		s.Close()
	}

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		r.logger.Info("runner.shutdown.completed", "closed_streams", len(streams))
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Runner) acquire(ctx context.Context) (*agent.Agent, error) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, ErrShutdown
	}
	r.wg.Add(1)
	r.mu.Unlock()

	if err := r.sem.Acquire(ctx, 1); err != nil {
		r.wg.Done()
		return nil, err
	}

	a, err := r.factory()
	if err != nil {
		r.release()
		return nil, fmt.Errorf("create agent: %w", err)
	}
	return a, nil
}

func (r *Runner) release() {
	r.sem.Release(1)
	r.wg.Done()
}
