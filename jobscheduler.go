// Package jobscheduler wires the scheduling engine into a host process: it
// collects job registrations, owns the engine's Start and Stop calls and ties
// them to the process lifecycle.
package jobscheduler

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"slices"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/Deepreo/jobscheduler/core"
	"github.com/Deepreo/jobscheduler/errors"
	"github.com/Deepreo/jobscheduler/modules/event"
	"github.com/Deepreo/jobscheduler/modules/history"
	"github.com/Deepreo/jobscheduler/modules/scheduler"
	"github.com/Deepreo/jobscheduler/modules/servers"
)

type Application struct {
	scheduler       core.Scheduler
	server          core.Server
	eventBus        core.EventBus
	logger          *slog.Logger
	config          *Config
	location        *time.Location
	shutdownTimeout time.Duration
	closers         []io.Closer

	mu        sync.Mutex
	jobs      []core.JobConfiguration
	started   bool
	stopped   bool
	busCancel context.CancelFunc
	busDone   chan struct{}
	serverErr chan error
}

type Option func(*Application)

func WithServer(server core.Server) Option {
	return func(app *Application) {
		app.server = server
	}
}

// WithEventBus runs bus alongside the scheduler. Subscribe before Start.
func WithEventBus(bus core.EventBus) Option {
	return func(app *Application) {
		app.eventBus = bus
	}
}

// WithConfig supplies the job table used by AddConfiguredJob.
func WithConfig(cfg *Config) Option {
	return func(app *Application) {
		app.config = cfg
	}
}

// WithLocation is the default evaluation location of registered jobs.
func WithLocation(loc *time.Location) Option {
	return func(app *Application) {
		app.location = loc
	}
}

func WithShutdownTimeout(d time.Duration) Option {
	return func(app *Application) {
		app.shutdownTimeout = d
	}
}

// WithCloser adds resources closed after the scheduler stopped.
func WithCloser(c io.Closer) Option {
	return func(app *Application) {
		app.closers = append(app.closers, c)
	}
}

func New(sched core.Scheduler, logger *slog.Logger, opts ...Option) *Application {
	if logger == nil {
		logger = slog.Default()
	}
	app := &Application{
		scheduler:       sched,
		logger:          logger,
		shutdownTimeout: DefaultShutdownTimeout,
	}
	for _, opt := range opts {
		opt(app)
	}
	return app
}

// NewFromConfig builds the backend named in cfg with a LogObserver, an
// event bus publishing JobExecuted events and, when enabled, Redis history
// and the status server.
func NewFromConfig(ctx context.Context, cfg *Config, logger *slog.Logger) (*Application, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}

	bus, err := event.NewInMemory(logger)
	if err != nil {
		return nil, err
	}
	closers := []io.Closer{bus}
	fail := func(err error) (*Application, error) {
		for _, c := range closers {
			_ = c.Close()
		}
		return nil, err
	}

	schedOpts := []scheduler.Option{
		scheduler.WithLogger(logger),
		scheduler.WithSchedulerLocation(loc),
		scheduler.WithObserver(
			scheduler.LogObserver(logger),
			scheduler.EventObserver(bus, logger),
		),
	}
	if cfg.Scheduler.StopTimeout > 0 {
		schedOpts = append(schedOpts, scheduler.WithStopTimeout(cfg.Scheduler.StopTimeout))
	}

	var store *history.Store
	if cfg.History.Enabled {
		store, err = history.New(ctx, &cfg.History, logger)
		if err != nil {
			return fail(err)
		}
		closers = append(closers, store)
		schedOpts = append(schedOpts, scheduler.WithObserver(store))
	}

	var sched interface {
		core.Scheduler
		servers.StatusSource
	}
	var statusOpts []servers.Option
	switch strings.ToLower(cfg.Scheduler.Backend) {
	case BackendGocron:
		sched = scheduler.NewGocronScheduler(schedOpts...)
	default:
		engine := scheduler.NewEngine(schedOpts...)
		statusOpts = append(statusOpts, servers.WithErrSource(engine))
		sched = engine
	}

	opts := []Option{
		WithConfig(cfg),
		WithLocation(loc),
		WithEventBus(bus),
	}
	if cfg.ShutdownTimeout > 0 {
		opts = append(opts, WithShutdownTimeout(cfg.ShutdownTimeout))
	}
	if cfg.Status.Enabled {
		if store != nil {
			statusOpts = append(statusOpts, servers.WithHistory(store))
		}
		srv, err := servers.NewStatusServer(&cfg.Status, sched, statusOpts...)
		if err != nil {
			return fail(err)
		}
		opts = append(opts, WithServer(srv))
	}
	for _, c := range closers {
		opts = append(opts, WithCloser(c))
	}
	return New(sched, logger, opts...), nil
}

// Scheduler returns the scheduler the application drives.
func (app *Application) Scheduler() core.Scheduler {
	return app.scheduler
}

func (app *Application) EventBus() core.EventBus {
	return app.eventBus
}

// Use forwards middlewares to the scheduler.
func (app *Application) Use(middleware ...core.SchedulerMiddleware) {
	app.scheduler.Use(middleware...)
}

// AddJob validates expr and queues the job for Start. A malformed expression
// fails here and the job is not registered.
func (app *Application) AddJob(job core.Job, expr string, opts ...scheduler.JobOption) error {
	if app.location != nil {
		opts = append([]scheduler.JobOption{scheduler.WithLocation(app.location)}, opts...)
	}
	cfg, err := scheduler.NewJobConfiguration(job, expr, opts...)
	if err != nil {
		return err
	}
	return app.Add(cfg)
}

// AddConfiguredJob registers job under name with the cron expression and
// overlap policy found in the config's scheduler.jobs table.
func (app *Application) AddConfiguredJob(name string, job core.Job, opts ...scheduler.JobOption) error {
	if app.config == nil {
		return errors.ValidationError(fmt.Errorf("jobscheduler: no config to look up job %s", name)).WithCode("CONFIG")
	}
	jc, ok := app.config.Job(name)
	if !ok {
		return errors.ValidationError(fmt.Errorf("jobscheduler: job %s is not configured", name)).
			WithCode("JOB_NOT_CONFIGURED")
	}
	overlap, err := scheduler.ParseOverlapPolicy(jc.Overlap)
	if err != nil {
		return err
	}
	opts = append([]scheduler.JobOption{scheduler.WithName(name), scheduler.WithOverlap(overlap)}, opts...)
	return app.AddJob(job, jc.Cron, opts...)
}

// Add queues already built configurations.
func (app *Application) Add(cfgs ...core.JobConfiguration) error {
	app.mu.Lock()
	defer app.mu.Unlock()
	if app.started {
		return errors.LifecycleError(fmt.Errorf("jobscheduler: %w", scheduler.ErrAlreadyStarted)).WithCode("LIFECYCLE")
	}
	app.jobs = append(app.jobs, cfgs...)
	return nil
}

// Jobs returns the registered configurations.
func (app *Application) Jobs() []core.JobConfiguration {
	app.mu.Lock()
	defer app.mu.Unlock()
	return slices.Clone(app.jobs)
}

// Start runs the event bus, starts the scheduler with every registered job
// and serves the status server in the background.
func (app *Application) Start(ctx context.Context) error {
	app.mu.Lock()
	defer app.mu.Unlock()
	if app.started {
		return errors.LifecycleError(fmt.Errorf("jobscheduler: %w", scheduler.ErrAlreadyStarted)).WithCode("LIFECYCLE")
	}
	if app.stopped {
		return errors.LifecycleError(fmt.Errorf("jobscheduler: %w", scheduler.ErrAlreadyStopped)).WithCode("LIFECYCLE")
	}

	if app.eventBus != nil {
		busCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
		app.busCancel = cancel
		app.busDone = make(chan struct{})
		go func() {
			defer close(app.busDone)
			if err := app.eventBus.Run(busCtx); err != nil {
				app.logger.Error("jobscheduler: event bus failed", "error", err)
			}
		}()
		if r, ok := app.eventBus.(interface{ Running() chan struct{} }); ok {
			select {
			case <-r.Running():
			case <-app.busDone:
			case <-ctx.Done():
			}
		}
	}

	if err := app.scheduler.Start(ctx, app.jobs); err != nil {
		app.stopBus()
		return err
	}
	app.started = true

	app.serverErr = make(chan error, 1)
	if app.server != nil {
		go func() {
			if err := app.server.Run(); err != nil {
				app.serverErr <- errors.InfraError(fmt.Errorf("jobscheduler: server: %w", err))
			}
		}()
	}
	app.logger.Info("jobscheduler: started", "jobs", len(app.jobs))
	return nil
}

func (app *Application) stopBus() {
	if app.busCancel == nil {
		return
	}
	app.busCancel()
	<-app.busDone
	app.busCancel = nil
}

// Shutdown stops the server, then the scheduler (waiting for in-flight
// executions), then the event bus and the remaining resources. Calling it
// again is a no-op.
func (app *Application) Shutdown(ctx context.Context) error {
	app.mu.Lock()
	defer app.mu.Unlock()
	if app.stopped {
		return nil
	}
	app.stopped = true

	var errs []error
	if app.started {
		if app.server != nil {
			if err := app.server.Shutdown(ctx); err != nil {
				errs = append(errs, errors.InfraError(fmt.Errorf("jobscheduler: server shutdown: %w", err)))
			}
		}
		if err := app.scheduler.Stop(ctx); err != nil && !stderrors.Is(err, scheduler.ErrAlreadyStopped) {
			errs = append(errs, err)
		}
	}
	app.stopBus()
	for _, c := range app.closers {
		if err := c.Close(); err != nil {
			errs = append(errs, errors.InfraError(err))
		}
	}
	app.logger.Info("jobscheduler: stopped")
	return errors.Join(errs...)
}

// Run starts the application and blocks until ctx is cancelled, SIGINT or
// SIGTERM arrives, or the server fails. Shutdown is then bounded by the
// shutdown timeout for the server and release hooks; the scheduler itself
// still waits for running jobs.
func (app *Application) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := app.Start(ctx); err != nil {
		return err
	}

	var runErr error
	select {
	case <-ctx.Done():
		app.logger.Info("jobscheduler: shutdown requested")
	case runErr = <-app.serverErr:
		app.logger.Error("jobscheduler: server stopped unexpectedly", "error", runErr)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), app.shutdownTimeout)
	defer cancel()
	return errors.Join(runErr, app.Shutdown(shutdownCtx))
}
