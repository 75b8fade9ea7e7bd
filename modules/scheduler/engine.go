package scheduler

import (
	"context"
	"slices"
	"sync"

	"github.com/Deepreo/jobscheduler/core"
	"github.com/Deepreo/jobscheduler/errors"
)

type engineState int

const (
	stateIdle engineState = iota
	stateRunning
	stateStopping
	stateStopped
)

// Engine is the native coordinator: one goroutine-backed loop per job.
// An Engine is single-use; once stopped it cannot be started again.
type Engine struct {
	opts options

	mu          sync.Mutex
	middlewares []core.SchedulerMiddleware
	state       engineState
	cancel      context.CancelFunc
	jobs        []core.JobConfiguration
	loops       []*loop
	wg          sync.WaitGroup
}

var _ core.Scheduler = (*Engine)(nil)

func NewEngine(opts ...Option) *Engine {
	return &Engine{opts: newOptions(opts)}
}

// Use adds middlewares wrapping every execution. Middlewares registered
// after Start apply from the next engine only.
func (e *Engine) Use(middleware ...core.SchedulerMiddleware) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.middlewares = append(e.middlewares, middleware...)
}

// Start launches one loop per configuration. Cancelling ctx does not stop
// the engine; only Stop does.
func (e *Engine) Start(ctx context.Context, jobs []core.JobConfiguration) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	switch e.state {
	case stateRunning:
		return lifecycleError(ErrAlreadyStarted)
	case stateStopping, stateStopped:
		return lifecycleError(ErrAlreadyStopped)
	}
	if err := validateConfigurations(jobs); err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	d := &dispatcher{
		clock:       e.opts.clock,
		logger:      e.opts.logger,
		middlewares: slices.Clone(e.middlewares),
		observers:   slices.Clone(e.opts.observers),
	}

	e.jobs = slices.Clone(jobs)
	e.loops = make([]*loop, 0, len(jobs))
	for _, cfg := range e.jobs {
		e.loops = append(e.loops, newLoop(cfg, e.opts.clock, d, e.opts.logger))
	}
	e.wg.Add(len(e.loops))
	for _, l := range e.loops {
		go e.runLoop(runCtx, l)
	}

	e.state = stateRunning
	e.cancel = cancel
	e.opts.logger.Info("scheduler: started", "jobs", len(e.loops))
	return nil
}

func (e *Engine) runLoop(ctx context.Context, l *loop) {
	defer e.wg.Done()
	if err := l.run(ctx); err != nil {
		e.opts.logger.Error("scheduler: job loop stopped", "job", l.cfg.Name, "error", err)
	}
}

// Stop cancels every loop, waits for them and their in-flight executions,
// then releases each job once. ctx is handed to the release hooks only;
// Stop does not give up on a job that ignores cancellation.
//
// Stop before Start returns ErrNotStarted. Any later call returns
// ErrAlreadyStopped and releases nothing.
func (e *Engine) Stop(ctx context.Context) error {
	e.mu.Lock()
	switch e.state {
	case stateIdle:
		e.mu.Unlock()
		return lifecycleError(ErrNotStarted)
	case stateStopping, stateStopped:
		e.mu.Unlock()
		return lifecycleError(ErrAlreadyStopped)
	}
	e.state = stateStopping
	cancel := e.cancel
	jobs := e.jobs
	e.mu.Unlock()

	e.opts.logger.Info("scheduler: stop requested")
	cancel()
	e.wg.Wait()
	releaseJobs(ctx, e.opts.logger, jobs)

	e.mu.Lock()
	e.state = stateStopped
	e.mu.Unlock()
	e.opts.logger.Info("scheduler: stopped")
	return nil
}

// Jobs returns the status of every loop in registration order.
func (e *Engine) Jobs() []JobStatus {
	e.mu.Lock()
	loops := e.loops
	e.mu.Unlock()

	out := make([]JobStatus, 0, len(loops))
	for _, l := range loops {
		out = append(out, l.status())
	}
	return out
}

// Err returns the evaluation errors of loops that stopped on their own.
func (e *Engine) Err() error {
	e.mu.Lock()
	loops := e.loops
	e.mu.Unlock()

	var errs []error
	for _, l := range loops {
		if err := l.Err(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
