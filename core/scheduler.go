package core

import (
	"context"
	"time"
)

// Job is the unit of work a scheduler runs at every trigger instant.
// Execute must observe ctx cooperatively; the scheduler never interrupts it.
type Job interface {
	Execute(ctx context.Context) error
}

// JobFunc is the function signature for scheduled jobs.
type JobFunc func(ctx context.Context) error

// Execute implements Job.
func (f JobFunc) Execute(ctx context.Context) error {
	return f(ctx)
}

// Releaser is implemented by jobs holding resources. Release is called at
// most once, after the job's loop has fully stopped.
type Releaser interface {
	Release(ctx context.Context) error
}

// ReleaseFunc adapts a plain function to Releaser.
type ReleaseFunc func(ctx context.Context) error

func (f ReleaseFunc) Release(ctx context.Context) error {
	return f(ctx)
}

// SchedulerMiddleware wraps a JobFunc to add cross-cutting concerns.
type SchedulerMiddleware func(next JobFunc) JobFunc

// Schedule yields the next trigger instant strictly after ref.
type Schedule interface {
	Next(ref time.Time) (time.Time, error)
	String() string
}

// OverlapPolicy decides whether a job may run again while a previous
// execution is still in flight.
type OverlapPolicy int

const (
	OverlapAllow OverlapPolicy = iota
	OverlapSkipIfRunning
)

func (p OverlapPolicy) String() string {
	switch p {
	case OverlapAllow:
		return "allow"
	case OverlapSkipIfRunning:
		return "skip"
	default:
		return "unknown"
	}
}

// JobConfiguration binds a job to its parsed schedule. It is built once at
// registration and treated as immutable afterwards.
type JobConfiguration struct {
	Name       string
	Job        Job
	Expression string
	Schedule   Schedule
	Overlap    OverlapPolicy
}

// Scheduler is the coordinator contract driven by the process lifecycle.
type Scheduler interface {
	Start(ctx context.Context, jobs []JobConfiguration) error
	Stop(ctx context.Context) error
	Use(middleware ...SchedulerMiddleware)
}
