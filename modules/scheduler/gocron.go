package scheduler

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/go-co-op/gocron/v2"

	"github.com/Deepreo/jobscheduler/core"
	"github.com/Deepreo/jobscheduler/errors"
)

// GocronScheduler satisfies core.Scheduler on top of gocron. Unlike Engine,
// its Stop gives up waiting for running jobs after the stop timeout. Jobs
// still running at that point are not released.
type GocronScheduler struct {
	opts options

	mu          sync.Mutex
	scheduler   gocron.Scheduler
	middlewares []core.SchedulerMiddleware
	entries     []*gocronEntry
	jobs        []core.JobConfiguration
	state       engineState
	cancel      context.CancelFunc
}

type gocronEntry struct {
	cfg core.JobConfiguration
	job gocron.Job

	// gocron may run an OverlapAllow job concurrently with itself.
	mu      sync.Mutex
	state   loopState
	running int64
	// active counts executions until their observers are done.
	active int
}

var _ core.Scheduler = (*GocronScheduler)(nil)

func NewGocronScheduler(opts ...Option) *GocronScheduler {
	return &GocronScheduler{opts: newOptions(opts)}
}

func (s *GocronScheduler) Use(middleware ...core.SchedulerMiddleware) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.middlewares = append(s.middlewares, middleware...)
}

func (s *GocronScheduler) Start(ctx context.Context, jobs []core.JobConfiguration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case stateRunning:
		return lifecycleError(ErrAlreadyStarted)
	case stateStopping, stateStopped:
		return lifecycleError(ErrAlreadyStopped)
	}
	if err := validateConfigurations(jobs); err != nil {
		return err
	}

	sched, err := gocron.NewScheduler(
		gocron.WithClock(s.opts.clock),
		gocron.WithLocation(s.opts.location),
		gocron.WithLogger(s.opts.logger),
		gocron.WithStopTimeout(s.opts.stopTimeout),
	)
	if err != nil {
		return errors.InfraError(fmt.Errorf("scheduler: create gocron scheduler: %w", err))
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	d := &dispatcher{
		clock:       s.opts.clock,
		logger:      s.opts.logger,
		middlewares: slices.Clone(s.middlewares),
		observers:   slices.Clone(s.opts.observers),
	}

	entries := make([]*gocronEntry, 0, len(jobs))
	for _, cfg := range jobs {
		entry := &gocronEntry{cfg: cfg}
		jobOpts := []gocron.JobOption{gocron.WithName(cfg.Name)}
		if cfg.Overlap == core.OverlapSkipIfRunning {
			jobOpts = append(jobOpts, gocron.WithSingletonMode(gocron.LimitModeReschedule))
		}

		job, err := sched.NewJob(
			gocron.CronJob(crontab(cfg), true),
			gocron.NewTask(func() {
				s.execute(runCtx, d, entry)
			}),
			jobOpts...,
		)
		if err != nil {
			cancel()
			_ = sched.Shutdown()
			return errors.ScheduleParseError(fmt.Errorf("scheduler: register %s with gocron: %w", cfg.Name, err)).
				WithCode("SCHEDULE_PARSE")
		}
		entry.job = job
		entries = append(entries, entry)
	}

	sched.Start()
	s.scheduler = sched
	s.entries = entries
	s.jobs = slices.Clone(jobs)
	s.cancel = cancel
	s.state = stateRunning
	s.opts.logger.Info("scheduler: started", "backend", "gocron", "jobs", len(entries))
	return nil
}

// execute blocks until the execution and its observers are done so
// gocron's singleton mode sees the job as running.
func (s *GocronScheduler) execute(ctx context.Context, d *dispatcher, entry *gocronEntry) {
	entry.mu.Lock()
	if ctx.Err() != nil {
		entry.mu.Unlock()
		return
	}
	entry.running++
	entry.active++
	settled := make(chan struct{})
	d.Dispatch(ctx, entry.cfg, &entry.state, d.clock.Now(), func(*ExecutionHandle) {
		entry.mu.Lock()
		entry.running--
		entry.mu.Unlock()
	}, func() {
		entry.mu.Lock()
		entry.active--
		entry.mu.Unlock()
		close(settled)
	})
	entry.mu.Unlock()
	<-settled
}

// crontab carries a per-job location into gocron, which otherwise evaluates
// every job in the scheduler location.
func crontab(cfg core.JobConfiguration) string {
	expr := strings.TrimSpace(cfg.Expression)
	if strings.HasPrefix(expr, "TZ=") || strings.HasPrefix(expr, "CRON_TZ=") {
		return expr
	}
	located, ok := cfg.Schedule.(interface{ Location() *time.Location })
	if !ok {
		return expr
	}
	if loc := located.Location(); loc != nil {
		return "CRON_TZ=" + loc.String() + " " + expr
	}
	return expr
}

func (s *GocronScheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	switch s.state {
	case stateIdle:
		s.mu.Unlock()
		return lifecycleError(ErrNotStarted)
	case stateStopping, stateStopped:
		s.mu.Unlock()
		return lifecycleError(ErrAlreadyStopped)
	}
	s.state = stateStopping
	sched, cancel, jobs, entries := s.scheduler, s.cancel, s.jobs, s.entries
	s.mu.Unlock()

	start := time.Now()
	s.opts.logger.Info("scheduler: stop requested", "backend", "gocron")
	for _, entry := range entries {
		// execute checks the run context under entry.mu, so no execution
		// becomes active once cancel returns.
		entry.mu.Lock()
	}
	cancel()
	for _, entry := range entries {
		entry.mu.Unlock()
	}
	if err := sched.Shutdown(); err != nil {
		s.opts.logger.Warn("scheduler: gocron shutdown incomplete", "error", err)
	}

	busy := busyJobs(entries)
	if len(busy) > 0 {
		s.opts.logger.Warn("scheduler: jobs still running after stop timeout, not released",
			"jobs", busy, "stop_timeout", s.opts.stopTimeout)
	}
	releaseJobs(ctx, s.opts.logger, idleJobs(jobs, entries))

	s.mu.Lock()
	s.state = stateStopped
	s.mu.Unlock()
	s.opts.logger.Info("scheduler: stopped", "backend", "gocron", "took", time.Since(start))
	if len(busy) > 0 {
		return errors.LifecycleError(fmt.Errorf("scheduler: jobs still running after %s: %s",
			s.opts.stopTimeout, strings.Join(busy, ", "))).WithCode("STOP_TIMEOUT")
	}
	return nil
}

func busyJobs(entries []*gocronEntry) []string {
	var names []string
	for _, entry := range entries {
		entry.mu.Lock()
		if entry.active > 0 {
			names = append(names, entry.cfg.Name)
		}
		entry.mu.Unlock()
	}
	return names
}

// idleJobs drops the configurations of busy entries and every other
// configuration sharing a job value with them. entries parallels jobs.
func idleJobs(jobs []core.JobConfiguration, entries []*gocronEntry) []core.JobConfiguration {
	busy := make(map[core.Releaser]struct{})
	skip := make([]bool, len(entries))
	for i, entry := range entries {
		entry.mu.Lock()
		skip[i] = entry.active > 0
		entry.mu.Unlock()
		if r, ok := entry.cfg.Job.(core.Releaser); ok && skip[i] {
			firstSighting(busy, r)
		}
	}

	out := make([]core.JobConfiguration, 0, len(jobs))
	for i, cfg := range jobs {
		if i < len(skip) && skip[i] {
			continue
		}
		if r, ok := cfg.Job.(core.Releaser); ok && len(busy) > 0 && !firstSighting(busy, r) {
			continue
		}
		out = append(out, cfg)
	}
	return out
}
