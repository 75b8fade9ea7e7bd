package scheduler

import (
	"context"
	stderrors "errors"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/Deepreo/jobscheduler/core"
	"github.com/Deepreo/jobscheduler/errors"
)

// dispatcher runs executions. Its fields are fixed at engine start, so one
// dispatcher is shared by every loop without locking.
type dispatcher struct {
	clock       clockwork.Clock
	logger      *slog.Logger
	middlewares []core.SchedulerMiddleware
	observers   []Observer
}

// Dispatch starts one execution of cfg.Job under ctx and returns at once.
// It bumps state's dispatch counter; state must belong to the caller's loop.
// finish, if set, runs after the handle completes and before observers;
// settled, if set, runs once every observer has returned.
func (d *dispatcher) Dispatch(ctx context.Context, cfg core.JobConfiguration, state *loopState, trigger time.Time, finish func(*ExecutionHandle), settled func()) *ExecutionHandle {
	state.dispatched++
	h := newExecutionHandle(ctx, cfg.Name, state.dispatched, trigger, d.clock.Now())
	d.logger.Debug("scheduler: dispatching job",
		"job", cfg.Name,
		"execution", h.ID.String(),
		"sequence", h.Sequence,
		"trigger", trigger,
	)
	go d.run(h, d.chain(cfg.Job), finish, settled)
	return h
}

func (d *dispatcher) chain(job core.Job) core.JobFunc {
	fn := core.JobFunc(job.Execute)
	for i := len(d.middlewares) - 1; i >= 0; i-- {
		fn = d.middlewares[i](fn)
	}
	return fn
}

func (d *dispatcher) run(h *ExecutionHandle, fn core.JobFunc, finish func(*ExecutionHandle), settled func()) {
	if settled != nil {
		defer settled()
	}
	err := invoke(h.ctx, fn)
	status, err := classify(h.ctx, h.Job, err)
	h.complete(status, err, d.clock.Now())

	if finish != nil {
		finish(h)
	}
	// Observers outlive the execution's cancellation so shutdown results
	// still reach them.
	observeCtx := context.WithoutCancel(h.ctx)
	for _, o := range d.observers {
		d.observe(observeCtx, o, h)
	}
}

func (d *dispatcher) observe(ctx context.Context, o Observer, h *ExecutionHandle) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("scheduler: observer panicked",
				"job", h.Job,
				"execution", h.ID.String(),
				"panic", r,
			)
		}
	}()
	o.Observe(ctx, h)
}

// invoke isolates the work unit: a panic becomes a PanicError instead of
// taking the process down.
func invoke(ctx context.Context, fn core.JobFunc) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{Value: r, Stack: debug.Stack()}
		}
	}()
	return fn(ctx)
}

func classify(ctx context.Context, job string, err error) (ExecutionStatus, error) {
	switch {
	case err == nil:
		return StatusSucceeded, nil
	case ctx.Err() != nil && stderrors.Is(err, context.Canceled):
		return StatusCancelled, err
	default:
		return StatusFailed, errors.JobExecutionFailure(err).WithMetadata("job", job)
	}
}
