package scheduler

import (
	"context"
	"log/slog"
	"time"

	"github.com/Deepreo/jobscheduler/core"
)

// Observer receives every completed execution. It is how job failures reach
// the application's own error channel; the engine itself does not act on them.
type Observer interface {
	Observe(ctx context.Context, h *ExecutionHandle)
}

type ObserverFunc func(ctx context.Context, h *ExecutionHandle)

func (f ObserverFunc) Observe(ctx context.Context, h *ExecutionHandle) {
	f(ctx, h)
}

// LogObserver logs failed executions at error level, cancelled ones at warn
// level and successful ones at debug level.
func LogObserver(logger *slog.Logger) Observer {
	if logger == nil {
		logger = slog.Default()
	}
	return ObserverFunc(func(ctx context.Context, h *ExecutionHandle) {
		attrs := []any{
			"job", h.Job,
			"execution", h.ID.String(),
			"sequence", h.Sequence,
			"duration", h.Duration(),
		}
		switch h.Status() {
		case StatusFailed:
			logger.ErrorContext(ctx, "scheduler: job failed", append(attrs, "error", h.Err())...)
		case StatusCancelled:
			logger.WarnContext(ctx, "scheduler: job cancelled", attrs...)
		default:
			logger.DebugContext(ctx, "scheduler: job completed", attrs...)
		}
	})
}

// JobExecuted is published on the event bus for every completed execution.
type JobExecuted struct {
	ID         string    `json:"id"`
	Job        string    `json:"job"`
	Sequence   uint64    `json:"sequence"`
	Trigger    time.Time `json:"trigger"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	Status     string    `json:"status"`
	Error      string    `json:"error,omitempty"`
}

const JobExecutedEventName = "scheduler.job_executed"

func (e JobExecuted) EventID() string       { return e.ID }
func (e JobExecuted) EventName() string     { return JobExecutedEventName }
func (e JobExecuted) OccurredOn() time.Time { return e.FinishedAt }

// NewJobExecuted snapshots a completed handle.
func NewJobExecuted(h *ExecutionHandle) *JobExecuted {
	evt := &JobExecuted{
		ID:         h.ID.String(),
		Job:        h.Job,
		Sequence:   h.Sequence,
		Trigger:    h.Trigger,
		StartedAt:  h.StartedAt,
		FinishedAt: h.FinishedAt(),
		Status:     h.Status().String(),
	}
	if err := h.Err(); err != nil {
		evt.Error = err.Error()
	}
	return evt
}

// EventObserver publishes a JobExecuted event per execution. Publish errors
// are logged and otherwise dropped.
func EventObserver(bus core.EventBus, logger *slog.Logger) Observer {
	if logger == nil {
		logger = slog.Default()
	}
	return ObserverFunc(func(ctx context.Context, h *ExecutionHandle) {
		if err := bus.Publish(ctx, NewJobExecuted(h)); err != nil {
			logger.ErrorContext(ctx, "scheduler: publish execution event failed",
				"job", h.Job,
				"execution", h.ID.String(),
				"error", err,
			)
		}
	})
}
