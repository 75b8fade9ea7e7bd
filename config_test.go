package jobscheduler_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Deepreo/jobscheduler"
	"github.com/Deepreo/jobscheduler/errors"
)

const sampleConfig = `
scheduler:
  backend: native
  timezone: Europe/Istanbul
  stop_timeout: 10s
  jobs:
    Cleanup:
      cron: "0 */5 * * * *"
      overlap: skip
    report:
      cron: "0 0 9 * * 1-5"
status:
  enabled: true
  port: "9090"
history:
  enabled: false
  size: 50
shutdown_timeout: 15s
`

func TestLoadConfigFromReader(t *testing.T) {
	cfg, err := jobscheduler.LoadConfigFromReader(strings.NewReader(sampleConfig), "yaml")
	require.NoError(t, err)

	assert.Equal(t, jobscheduler.BackendNative, cfg.Scheduler.Backend)
	assert.Equal(t, 10*time.Second, cfg.Scheduler.StopTimeout)
	assert.Equal(t, 15*time.Second, cfg.ShutdownTimeout)
	assert.True(t, cfg.Status.Enabled)
	assert.Equal(t, "9090", cfg.Status.Port)
	assert.Equal(t, "localhost", cfg.Status.Host)
	assert.EqualValues(t, 50, cfg.History.Size)
	assert.Equal(t, "6379", cfg.History.Port)

	loc, err := cfg.Location()
	require.NoError(t, err)
	assert.Equal(t, "Europe/Istanbul", loc.String())

	job, ok := cfg.Job("CLEANUP")
	require.True(t, ok)
	assert.Equal(t, "0 */5 * * * *", job.Cron)
	assert.Equal(t, "skip", job.Overlap)

	_, ok = cfg.Job("missing")
	assert.False(t, ok)
}

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := jobscheduler.LoadConfig("")
	require.NoError(t, err)

	assert.Equal(t, jobscheduler.BackendNative, cfg.Scheduler.Backend)
	assert.Equal(t, "UTC", cfg.Scheduler.Timezone)
	assert.Equal(t, jobscheduler.DefaultShutdownTimeout, cfg.ShutdownTimeout)
	assert.False(t, cfg.Status.Enabled)
	assert.False(t, cfg.History.Enabled)
}

func TestLoadConfig_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "jobscheduler.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sampleConfig), 0o600))

	cfg, err := jobscheduler.LoadConfig(path)
	require.NoError(t, err)
	assert.Len(t, cfg.Scheduler.Jobs, 2)
}

func TestLoadConfig_EnvOverride(t *testing.T) {
	t.Setenv("JOBSCHEDULER_SCHEDULER_BACKEND", "gocron")
	t.Setenv("JOBSCHEDULER_STATUS_PORT", "7070")

	cfg, err := jobscheduler.LoadConfigFromReader(strings.NewReader(sampleConfig), "yaml")
	require.NoError(t, err)
	assert.Equal(t, jobscheduler.BackendGocron, cfg.Scheduler.Backend)
	assert.Equal(t, "7070", cfg.Status.Port)
}

func TestLoadConfig_Invalid(t *testing.T) {
	tests := map[string]string{
		"backend":  "scheduler:\n  backend: quartz\n",
		"timezone": "scheduler:\n  timezone: Mars/Olympus\n",
		"overlap":  "scheduler:\n  jobs:\n    a:\n      cron: \"* * * * * *\"\n      overlap: queue\n",
		"cron":     "scheduler:\n  jobs:\n    a:\n      overlap: skip\n",
	}
	for name, raw := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := jobscheduler.LoadConfigFromReader(strings.NewReader(raw), "yaml")
			require.Error(t, err)
			assert.True(t, errors.IsValidationError(err))
		})
	}

	_, err := jobscheduler.LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.True(t, errors.IsValidationError(err))
}
