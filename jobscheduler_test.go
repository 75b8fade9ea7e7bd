package jobscheduler_test

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Deepreo/jobscheduler"
	"github.com/Deepreo/jobscheduler/core"
	"github.com/Deepreo/jobscheduler/errors"
	"github.com/Deepreo/jobscheduler/modules/scheduler"
	"github.com/Deepreo/jobscheduler/modules/scheduler/schedulertest"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

type closerFunc func() error

func (f closerFunc) Close() error { return f() }

func TestApplication_RunsRegisteredJobs(t *testing.T) {
	clock := clockwork.NewFakeClockAt(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	engine := scheduler.NewEngine(scheduler.WithClock(clock), scheduler.WithLogger(discard))
	var closed int
	app := jobscheduler.New(engine, discard, jobscheduler.WithCloser(closerFunc(func() error {
		closed++
		return nil
	})))
	first := &schedulertest.MockJob{}
	second := &schedulertest.MockJob{}
	ctx := context.Background()

	require.NoError(t, app.AddJob(first, "*/1 * * * * *", scheduler.WithName("first")))
	require.NoError(t, app.AddJob(second, "*/2 * * * * *", scheduler.WithName("second")))
	require.Len(t, app.Jobs(), 2)
	require.NoError(t, app.Start(ctx))

	for range 2 {
		blockCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		require.NoError(t, clock.BlockUntilContext(blockCtx, 2))
		cancel()
		clock.Advance(time.Second)
	}
	blockCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	require.NoError(t, clock.BlockUntilContext(blockCtx, 2))

	require.NoError(t, app.Shutdown(ctx))
	assert.Equal(t, 2, first.CallCount())
	assert.Equal(t, 1, second.CallCount())
	assert.Equal(t, 1, first.ReleaseCount())
	assert.Equal(t, 1, second.ReleaseCount())
	assert.Equal(t, 1, closed)

	require.NoError(t, app.Shutdown(ctx), "second shutdown is a no-op")
	assert.Equal(t, 1, first.ReleaseCount())
	assert.Equal(t, 1, closed)
}

func TestApplication_MalformedCronIsNotRegistered(t *testing.T) {
	app := jobscheduler.New(scheduler.NewEngine(scheduler.WithLogger(discard)), discard)

	err := app.AddJob(&schedulertest.MockJob{}, "every minute")

	require.Error(t, err)
	assert.True(t, errors.IsScheduleParseError(err))
	assert.Empty(t, app.Jobs())
}

func TestApplication_Lifecycle(t *testing.T) {
	ctx := context.Background()
	app := jobscheduler.New(scheduler.NewEngine(scheduler.WithLogger(discard)), discard)
	require.NoError(t, app.Start(ctx))

	err := app.AddJob(&schedulertest.MockJob{}, "* * * * * *")
	assert.ErrorIs(t, err, scheduler.ErrAlreadyStarted)
	assert.True(t, errors.IsLifecycleError(err))
	assert.ErrorIs(t, app.Start(ctx), scheduler.ErrAlreadyStarted)

	require.NoError(t, app.Shutdown(ctx))
	assert.ErrorIs(t, app.Start(ctx), scheduler.ErrAlreadyStarted)

	idle := jobscheduler.New(scheduler.NewEngine(scheduler.WithLogger(discard)), discard)
	require.NoError(t, idle.Shutdown(ctx), "shutdown without start")
	assert.ErrorIs(t, idle.Start(ctx), scheduler.ErrAlreadyStopped)
}

func TestApplication_Run(t *testing.T) {
	clock := clockwork.NewFakeClockAt(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	engine := scheduler.NewEngine(scheduler.WithClock(clock), scheduler.WithLogger(discard))
	app := jobscheduler.New(engine, discard, jobscheduler.WithShutdownTimeout(time.Second))
	job := &schedulertest.MockJob{ExecuteFunc: func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}}
	require.NoError(t, app.AddJob(job, "* * * * * *"))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- app.Run(ctx) }()

	blockCtx, blockCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer blockCancel()
	require.NoError(t, clock.BlockUntilContext(blockCtx, 1))
	clock.Advance(time.Second)
	require.Eventually(t, func() bool { return job.CallCount() == 1 }, 2*time.Second, time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("Run did not return after cancellation")
	}
	assert.Equal(t, 1, job.ReleaseCount())
}

func TestApplication_AddConfiguredJob(t *testing.T) {
	cfg, err := jobscheduler.LoadConfigFromReader(strings.NewReader(sampleConfig), "yaml")
	require.NoError(t, err)
	cfg.Status.Enabled = false

	app, err := jobscheduler.NewFromConfig(context.Background(), cfg, discard)
	require.NoError(t, err)

	require.NoError(t, app.AddConfiguredJob("cleanup", &schedulertest.MockJob{}))
	require.NoError(t, app.AddConfiguredJob("Report", &schedulertest.MockJob{}))

	err = app.AddConfiguredJob("unknown", &schedulertest.MockJob{})
	assert.True(t, errors.IsValidationError(err))

	jobs := app.Jobs()
	require.Len(t, jobs, 2)
	assert.Equal(t, "cleanup", jobs[0].Name)
	assert.Equal(t, core.OverlapSkipIfRunning, jobs[0].Overlap)
	assert.Equal(t, "Report", jobs[1].Name)
	assert.Equal(t, core.OverlapAllow, jobs[1].Overlap)

	ist, err := time.LoadLocation("Europe/Istanbul")
	require.NoError(t, err)
	next, err := jobs[1].Schedule.Next(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.True(t, next.Equal(time.Date(2024, 1, 1, 9, 0, 0, 0, ist)), "got %s", next)

	require.NoError(t, app.Shutdown(context.Background()))
}

func TestApplication_AddConfiguredJobWithoutConfig(t *testing.T) {
	app := jobscheduler.New(scheduler.NewEngine(scheduler.WithLogger(discard)), discard)
	err := app.AddConfiguredJob("cleanup", &schedulertest.MockJob{})
	assert.True(t, errors.IsValidationError(err))
}

func TestNewFromConfig_Backends(t *testing.T) {
	for _, backend := range []string{jobscheduler.BackendNative, jobscheduler.BackendGocron} {
		t.Run(backend, func(t *testing.T) {
			cfg, err := jobscheduler.LoadConfig("")
			require.NoError(t, err)
			cfg.Scheduler.Backend = backend

			app, err := jobscheduler.NewFromConfig(context.Background(), cfg, discard)
			require.NoError(t, err)
			require.NotNil(t, app.EventBus())

			switch backend {
			case jobscheduler.BackendGocron:
				assert.IsType(t, &scheduler.GocronScheduler{}, app.Scheduler())
			default:
				assert.IsType(t, &scheduler.Engine{}, app.Scheduler())
			}
			require.NoError(t, app.Start(context.Background()))
			require.NoError(t, app.Shutdown(context.Background()))
		})
	}

	cfg, err := jobscheduler.LoadConfig("")
	require.NoError(t, err)
	cfg.Scheduler.Backend = "quartz"
	_, err = jobscheduler.NewFromConfig(context.Background(), cfg, discard)
	assert.True(t, errors.IsValidationError(err))
}

func TestApplication_ShutdownWithoutSubscribers(t *testing.T) {
	cfg, err := jobscheduler.LoadConfig("")
	require.NoError(t, err)
	app, err := jobscheduler.NewFromConfig(context.Background(), cfg, discard)
	require.NoError(t, err)
	require.NoError(t, app.AddJob(&schedulertest.MockJob{}, "0 0 0 1 1 *"))

	done := make(chan error, 1)
	go func() {
		if err := app.Start(context.Background()); err != nil {
			done <- err
			return
		}
		done <- app.Shutdown(context.Background())
	}()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Start/Shutdown did not return with an idle event bus")
	}
}

func TestNewFromConfig_PublishesExecutions(t *testing.T) {
	cfg, err := jobscheduler.LoadConfig("")
	require.NoError(t, err)
	app, err := jobscheduler.NewFromConfig(context.Background(), cfg, discard)
	require.NoError(t, err)

	events := make(chan *scheduler.JobExecuted, 8)
	require.NoError(t, core.SubscribeEvent[*scheduler.JobExecuted](app.EventBus(), executedHandler(events)))
	require.NoError(t, app.AddJob(&schedulertest.MockJob{}, "* * * * * *", scheduler.WithName("tick")))
	require.NoError(t, app.Start(context.Background()))
	defer app.Shutdown(context.Background())

	select {
	case evt := <-events:
		assert.Equal(t, "tick", evt.Job)
		assert.Equal(t, scheduler.StatusSucceeded.String(), evt.Status)
	case <-time.After(3 * time.Second):
		t.Fatal("Timeout waiting for execution event")
	}
}

type executedHandler chan *scheduler.JobExecuted

func (h executedHandler) Handle(_ context.Context, evt *scheduler.JobExecuted) error {
	select {
	case h <- evt:
	default:
	}
	return nil
}
