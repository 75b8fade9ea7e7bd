package scheduler

import (
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"
)

const DefaultStopTimeout = 30 * time.Second

type options struct {
	clock       clockwork.Clock
	logger      *slog.Logger
	observers   []Observer
	location    *time.Location
	stopTimeout time.Duration
}

type Option func(*options)

// WithClock replaces the real clock, typically with a clockwork.FakeClock.
func WithClock(clock clockwork.Clock) Option {
	return func(o *options) {
		o.clock = clock
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithObserver adds observers notified after every execution.
func WithObserver(observers ...Observer) Option {
	return func(o *options) {
		o.observers = append(o.observers, observers...)
	}
}

// WithSchedulerLocation sets the gocron scheduler's location. The native
// engine evaluates each job in the location given at registration.
func WithSchedulerLocation(loc *time.Location) Option {
	return func(o *options) {
		o.location = loc
	}
}

// WithStopTimeout bounds how long the gocron backend waits for running jobs
// on Stop. The native engine always waits for them.
func WithStopTimeout(d time.Duration) Option {
	return func(o *options) {
		o.stopTimeout = d
	}
}

func newOptions(opts []Option) options {
	o := options{stopTimeout: DefaultStopTimeout}
	for _, opt := range opts {
		opt(&o)
	}
	if o.clock == nil {
		o.clock = clockwork.NewRealClock()
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	if o.location == nil {
		o.location = time.Local
	}
	return o
}
