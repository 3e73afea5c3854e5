// Package dispatch hands a created job to whatever runs its pipeline. Callers
// never wait for the run; its outcome is observed only through the job record.
package dispatch

import (
	"context"
	"errors"
	"sync"

	"storybook/internal/domain"
	"storybook/internal/infra"
)

// ErrClosed is returned once the dispatcher has begun shutting down.
var ErrClosed = errors.New("dispatch: dispatcher is shut down")

// Runner executes one job to a terminal state.
type Runner interface {
	Run(ctx context.Context, jobID string) error
}

// RunnerFunc adapts a function into a Runner.
type RunnerFunc func(ctx context.Context, jobID string) error

func (f RunnerFunc) Run(ctx context.Context, jobID string) error {
	return f(ctx, jobID)
}

// Dispatcher starts a run for jobID and returns without waiting for it.
type Dispatcher interface {
	Dispatch(ctx context.Context, jobID string) error
}

// InProcess runs jobs on goroutines of the current process. Runs do not
// inherit the dispatching request's context; they live until they finish or
// Shutdown gives up waiting for them.
type InProcess struct {
	runner Runner
	logger *infra.Logger

	runCtx    context.Context
	cancelRun context.CancelFunc

	mu     sync.Mutex
	active map[string]struct{}
	closed bool
	wg     sync.WaitGroup
}

func NewInProcess(runner Runner, logger *infra.Logger) *InProcess {
	if logger == nil {
		logger = infra.NopLogger()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &InProcess{
		runner:    runner,
		logger:    logger,
		runCtx:    ctx,
		cancelRun: cancel,
		active:    make(map[string]struct{}),
	}
}

// Dispatch spawns a run for jobID. A job that is already running in this
// process is not started twice.
func (d *InProcess) Dispatch(ctx context.Context, jobID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return ErrClosed
	}
	if _, running := d.active[jobID]; running {
		d.logger.Debug().Str("job_id", jobID).Msg("dispatch: job already running")
		return nil
	}
	d.active[jobID] = struct{}{}
	d.wg.Add(1)
	go d.run(jobID)
	return nil
}

func (d *InProcess) run(jobID string) {
	defer func() {
		d.mu.Lock()
		delete(d.active, jobID)
		d.mu.Unlock()
		d.wg.Done()
	}()
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error().Str("job_id", jobID).Interface("panic", r).Msg("dispatch: run panicked")
		}
	}()
	err := d.runner.Run(d.runCtx, jobID)
	switch {
	case err == nil:
	case errors.Is(err, domain.ErrAlreadyStarted):
		d.logger.Debug().Err(err).Str("job_id", jobID).Msg("dispatch: job claimed by another run")
	default:
		d.logger.Error().Err(err).Str("job_id", jobID).Msg("dispatch: run failed")
	}
}

// Active reports whether jobID is currently running in this process.
func (d *InProcess) Active(jobID string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.active[jobID]
	return ok
}

// Shutdown stops accepting jobs and waits for running ones. When ctx expires
// first, the remaining runs are cancelled so they record themselves failed,
// and Shutdown waits for those writes before returning ctx's error.
func (d *InProcess) Shutdown(ctx context.Context) error {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		d.cancelRun()
		return nil
	case <-ctx.Done():
		d.cancelRun()
		<-done
		return ctx.Err()
	}
}

var _ Dispatcher = (*InProcess)(nil)
