package scheduler_test

import (
	"context"
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Deepreo/jobscheduler/core"
	"github.com/Deepreo/jobscheduler/errors"
	"github.com/Deepreo/jobscheduler/modules/scheduler"
	"github.com/Deepreo/jobscheduler/modules/scheduler/schedulertest"
)

func TestNewJobConfiguration(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		cfg, err := scheduler.NewJobConfiguration(&schedulertest.MockJob{}, "  0 */5 * * * *  ")
		require.NoError(t, err)
		assert.Equal(t, "*schedulertest.MockJob", cfg.Name)
		assert.Equal(t, "0 */5 * * * *", cfg.Expression)
		assert.Equal(t, core.OverlapAllow, cfg.Overlap)
		require.NotNil(t, cfg.Schedule)
	})

	t.Run("options", func(t *testing.T) {
		tokyo, err := time.LoadLocation("Asia/Tokyo")
		require.NoError(t, err)

		cfg, err := scheduler.NewJobConfiguration(&schedulertest.MockJob{}, "0 0 9 * * *",
			scheduler.WithName("morning"),
			scheduler.WithOverlap(core.OverlapSkipIfRunning),
			scheduler.WithLocation(tokyo),
		)
		require.NoError(t, err)
		assert.Equal(t, "morning", cfg.Name)
		assert.Equal(t, core.OverlapSkipIfRunning, cfg.Overlap)

		ref := time.Date(2023, 12, 31, 23, 0, 0, 0, time.UTC)
		next, err := cfg.Schedule.Next(ref)
		require.NoError(t, err)
		assert.True(t, next.Equal(time.Date(2024, 1, 1, 9, 0, 0, 0, tokyo)), "got %s", next)

		// A reference exactly on the trigger moves to the next day.
		next, err = cfg.Schedule.Next(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
		require.NoError(t, err)
		assert.True(t, next.Equal(time.Date(2024, 1, 2, 9, 0, 0, 0, tokyo)), "got %s", next)
	})

	t.Run("nil job", func(t *testing.T) {
		_, err := scheduler.NewJobConfiguration(nil, "* * * * * *")
		assert.True(t, errors.IsValidationError(err))
	})

	t.Run("unknown overlap", func(t *testing.T) {
		_, err := scheduler.NewJobConfiguration(&schedulertest.MockJob{}, "* * * * * *", scheduler.WithOverlap(core.OverlapPolicy(7)))
		assert.True(t, errors.IsValidationError(err))
	})

	t.Run("malformed expression", func(t *testing.T) {
		for _, expr := range []string{"", "* * * * *", "61 * * * * *", "@hourly", "a b c d e f"} {
			_, err := scheduler.NewJobConfiguration(&schedulertest.MockJob{}, expr)
			assert.True(t, errors.IsScheduleParseError(err), "expression %q", expr)
		}
	})

	t.Run("job func", func(t *testing.T) {
		cfg, err := scheduler.NewJobConfiguration(core.JobFunc(func(context.Context) error { return nil }), "* * * * * *")
		require.NoError(t, err)
		assert.Equal(t, "core.JobFunc", cfg.Name)
	})
}

func TestParseOverlapPolicy(t *testing.T) {
	tests := []struct {
		in   string
		want core.OverlapPolicy
	}{
		{"", core.OverlapAllow},
		{"allow", core.OverlapAllow},
		{"ALLOW", core.OverlapAllow},
		{"skip", core.OverlapSkipIfRunning},
		{" skip_if_running ", core.OverlapSkipIfRunning},
	}
	for _, tt := range tests {
		got, err := scheduler.ParseOverlapPolicy(tt.in)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}

	_, err := scheduler.ParseOverlapPolicy("queue")
	assert.True(t, errors.IsValidationError(err))
}
