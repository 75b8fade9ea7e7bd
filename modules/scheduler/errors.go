package scheduler

import (
	"fmt"

	"github.com/Deepreo/jobscheduler/errors"
)

var (
	ErrAlreadyStarted = errors.New("scheduler: already started")
	ErrAlreadyStopped = errors.New("scheduler: already stopped")
	ErrNotStarted     = errors.New("scheduler: not started")
)

func lifecycleError(err error) error {
	return errors.LifecycleError(err).WithCode("LIFECYCLE")
}

// PanicError is recorded when a work unit panics.
type PanicError struct {
	Value any
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("scheduler: job panicked: %v", e.Value)
}
