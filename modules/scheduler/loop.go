package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/Deepreo/jobscheduler/core"
	"github.com/Deepreo/jobscheduler/errors"
)

type Phase int32

const (
	PhaseIdle Phase = iota
	PhaseWaiting
	PhaseDispatching
	PhaseStopped
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseWaiting:
		return "waiting"
	case PhaseDispatching:
		return "dispatching"
	case PhaseStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// loopState is only read and written by the loop's own goroutine.
type loopState struct {
	lastTrigger time.Time
	dispatched  uint64
	skipped     uint64
	cancelled   bool
}

// loop drives one job: Idle -> Waiting -> Dispatching -> Waiting ... -> Stopped.
type loop struct {
	cfg        core.JobConfiguration
	clock      clockwork.Clock
	dispatcher *dispatcher
	logger     *slog.Logger

	state loopState

	// Published copies of state for Jobs(); written by the loop only.
	phase      atomic.Int32
	dispatched atomic.Uint64
	skipped    atomic.Uint64
	next       atomic.Int64
	running    atomic.Int64

	errMu sync.Mutex
	err   error

	inflight sync.WaitGroup
}

func newLoop(cfg core.JobConfiguration, clock clockwork.Clock, d *dispatcher, logger *slog.Logger) *loop {
	return &loop{
		cfg:        cfg,
		clock:      clock,
		dispatcher: d,
		logger:     logger.With("job", cfg.Name),
	}
}

// run returns once ctx is cancelled and every execution it started has
// returned, or earlier with an evaluation error.
func (l *loop) run(ctx context.Context) (err error) {
	defer l.phase.Store(int32(PhaseStopped))
	defer l.inflight.Wait()
	defer func() {
		if r := recover(); r != nil {
			err = errors.EvaluationError(fmt.Errorf("scheduler: loop panicked: %v", r)).WithCode("LOOP_PANIC")
		}
		if err != nil {
			l.setErr(err)
		}
	}()

	for {
		now := l.clock.Now()
		next, err := l.cfg.Schedule.Next(now)
		if err != nil {
			return errors.EvaluationError(err).WithMetadata("job", l.cfg.Name)
		}
		if !next.After(now) {
			return errors.EvaluationError(fmt.Errorf("scheduler: schedule %s returned %s, not after %s", l.cfg.Schedule, next, now)).
				WithCode("STALLED_SCHEDULE")
		}
		l.state.lastTrigger = next
		l.next.Store(next.UnixNano())
		l.phase.Store(int32(PhaseWaiting))

		if !l.wait(ctx, next.Sub(now)) {
			l.state.cancelled = true
			l.next.Store(0)
			return nil
		}

		l.phase.Store(int32(PhaseDispatching))
		l.dispatch(ctx, next)
	}
}

// wait is the loop's only suspension point.
func (l *loop) wait(ctx context.Context, d time.Duration) bool {
	timer := l.clock.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.Chan():
		// Both may be ready; a trigger racing Stop is dropped.
		return ctx.Err() == nil
	}
}

func (l *loop) dispatch(ctx context.Context, trigger time.Time) {
	if l.cfg.Overlap == core.OverlapSkipIfRunning && l.running.Load() > 0 {
		l.state.skipped++
		l.skipped.Store(l.state.skipped)
		l.logger.Warn("scheduler: job still running, skipping trigger", "trigger", trigger)
		return
	}

	l.running.Add(1)
	l.inflight.Add(1)
	l.dispatcher.Dispatch(ctx, l.cfg, &l.state, trigger, func(*ExecutionHandle) {
		l.running.Add(-1)
	}, l.inflight.Done)
	l.dispatched.Store(l.state.dispatched)
}

func (l *loop) setErr(err error) {
	l.errMu.Lock()
	l.err = err
	l.errMu.Unlock()
}

func (l *loop) Err() error {
	l.errMu.Lock()
	defer l.errMu.Unlock()
	return l.err
}

func (l *loop) status() JobStatus {
	st := JobStatus{
		Name:       l.cfg.Name,
		Expression: l.cfg.Expression,
		Overlap:    l.cfg.Overlap.String(),
		Phase:      Phase(l.phase.Load()).String(),
		Dispatched: l.dispatched.Load(),
		Skipped:    l.skipped.Load(),
		InFlight:   l.running.Load(),
	}
	if next := l.next.Load(); next != 0 {
		st.NextTrigger = time.Unix(0, next)
	}
	if err := l.Err(); err != nil {
		st.Error = err.Error()
	}
	return st
}
