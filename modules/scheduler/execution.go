package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

type ExecutionStatus int32

const (
	StatusRunning ExecutionStatus = iota
	StatusSucceeded
	StatusFailed
	StatusCancelled
)

func (s ExecutionStatus) String() string {
	switch s {
	case StatusRunning:
		return "running"
	case StatusSucceeded:
		return "succeeded"
	case StatusFailed:
		return "failed"
	case StatusCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// ExecutionHandle tracks one dispatched execution of a job.
type ExecutionHandle struct {
	ID        uuid.UUID
	Job       string
	Sequence  uint64
	Trigger   time.Time
	StartedAt time.Time

	ctx  context.Context
	done chan struct{}

	mu         sync.Mutex
	status     ExecutionStatus
	err        error
	finishedAt time.Time
}

func newExecutionHandle(ctx context.Context, job string, seq uint64, trigger, started time.Time) *ExecutionHandle {
	h := &ExecutionHandle{
		ID:        uuid.New(),
		Job:       job,
		Sequence:  seq,
		Trigger:   trigger,
		StartedAt: started,
		done:      make(chan struct{}),
		status:    StatusRunning,
	}
	h.ctx = context.WithValue(ctx, executionKey{}, h)
	return h
}

// Context is the cancellation signal handed to the work unit.
func (h *ExecutionHandle) Context() context.Context {
	return h.ctx
}

// Done is closed once the work unit has returned.
func (h *ExecutionHandle) Done() <-chan struct{} {
	return h.done
}

// Wait blocks until the execution completes or ctx is done.
func (h *ExecutionHandle) Wait(ctx context.Context) (ExecutionStatus, error) {
	select {
	case <-h.done:
		return h.Status(), h.Err()
	case <-ctx.Done():
		return StatusRunning, ctx.Err()
	}
}

func (h *ExecutionHandle) Status() ExecutionStatus {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.status
}

// Err is the job's failure, nil unless the status is failed or cancelled.
func (h *ExecutionHandle) Err() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.err
}

func (h *ExecutionHandle) FinishedAt() time.Time {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.finishedAt
}

func (h *ExecutionHandle) Duration() time.Duration {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.finishedAt.IsZero() {
		return 0
	}
	return h.finishedAt.Sub(h.StartedAt)
}

func (h *ExecutionHandle) complete(status ExecutionStatus, err error, finished time.Time) {
	h.mu.Lock()
	h.status = status
	h.err = err
	h.finishedAt = finished
	h.mu.Unlock()
	close(h.done)
}

type executionKey struct{}

// ExecutionFromContext returns the handle of the execution ctx belongs to.
func ExecutionFromContext(ctx context.Context) (*ExecutionHandle, bool) {
	h, ok := ctx.Value(executionKey{}).(*ExecutionHandle)
	return h, ok
}
