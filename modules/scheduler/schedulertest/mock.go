// Package schedulertest provides test doubles for the scheduler package.
package schedulertest

import (
	"context"
	"sync"
	"time"

	"github.com/Deepreo/jobscheduler/core"
	"github.com/Deepreo/jobscheduler/modules/scheduler"
)

// MockJob is a configurable test double for core.Job and core.Releaser.
type MockJob struct {
	ExecuteFunc func(ctx context.Context) error
	ReleaseFunc func(ctx context.Context) error

	mu       sync.Mutex
	calls    int
	starts   []time.Time
	releases int
}

var (
	_ core.Job      = (*MockJob)(nil)
	_ core.Releaser = (*MockJob)(nil)
)

// Execute records the execution's start instant, then runs ExecuteFunc.
func (m *MockJob) Execute(ctx context.Context) error {
	m.mu.Lock()
	m.calls++
	if h, ok := scheduler.ExecutionFromContext(ctx); ok {
		m.starts = append(m.starts, h.StartedAt)
	}
	m.mu.Unlock()

	if m.ExecuteFunc != nil {
		return m.ExecuteFunc(ctx)
	}
	return nil
}

// Release implements core.Releaser and counts calls.
func (m *MockJob) Release(ctx context.Context) error {
	m.mu.Lock()
	m.releases++
	m.mu.Unlock()

	if m.ReleaseFunc != nil {
		return m.ReleaseFunc(ctx)
	}
	return nil
}

// CallCount returns the number of times Execute was called.
func (m *MockJob) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// Starts returns the start instants of every recorded execution.
func (m *MockJob) Starts() []time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]time.Time, len(m.starts))
	copy(out, m.starts)
	return out
}

// ReleaseCount returns the number of times Release was called.
func (m *MockJob) ReleaseCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.releases
}

// Recorder is an Observer collecting every completed execution.
type Recorder struct {
	mu      sync.Mutex
	handles []*scheduler.ExecutionHandle
}

var _ scheduler.Observer = (*Recorder)(nil)

func (r *Recorder) Observe(_ context.Context, h *scheduler.ExecutionHandle) {
	r.mu.Lock()
	r.handles = append(r.handles, h)
	r.mu.Unlock()
}

func (r *Recorder) Handles() []*scheduler.ExecutionHandle {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*scheduler.ExecutionHandle, len(r.handles))
	copy(out, r.handles)
	return out
}

func (r *Recorder) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.handles)
}
