package jobscheduler

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/Deepreo/jobscheduler/errors"
	"github.com/Deepreo/jobscheduler/modules/history"
	"github.com/Deepreo/jobscheduler/modules/scheduler"
	"github.com/Deepreo/jobscheduler/modules/servers"
)

const (
	EnvPrefix              = "JOBSCHEDULER"
	BackendNative          = "native"
	BackendGocron          = "gocron"
	DefaultShutdownTimeout = 30 * time.Second
)

type Config struct {
	Scheduler       SchedulerConfig `mapstructure:"scheduler"`
	Status          servers.Config  `mapstructure:"status"`
	History         history.Config  `mapstructure:"history"`
	ShutdownTimeout time.Duration   `mapstructure:"shutdown_timeout"`
}

type SchedulerConfig struct {
	Backend     string               `mapstructure:"backend"`
	Timezone    string               `mapstructure:"timezone"`
	StopTimeout time.Duration        `mapstructure:"stop_timeout"`
	Jobs        map[string]JobConfig `mapstructure:"jobs"`
}

// JobConfig binds a job registered with AddConfiguredJob to its schedule.
type JobConfig struct {
	Cron    string `mapstructure:"cron"`
	Overlap string `mapstructure:"overlap"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("scheduler.backend", BackendNative)
	v.SetDefault("scheduler.timezone", "UTC")
	v.SetDefault("scheduler.stop_timeout", scheduler.DefaultStopTimeout)
	v.SetDefault("status.enabled", false)
	v.SetDefault("status.host", servers.DefaultHost)
	v.SetDefault("status.port", servers.DefaultPort)
	v.SetDefault("history.enabled", false)
	v.SetDefault("history.host", "localhost")
	v.SetDefault("history.port", "6379")
	v.SetDefault("history.prefix", history.DefaultPrefix)
	v.SetDefault("history.size", history.DefaultSize)
	v.SetDefault("shutdown_timeout", DefaultShutdownTimeout)
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)
	return v
}

// LoadConfig reads the file at path. An empty path yields the defaults plus
// JOBSCHEDULER_* environment overrides.
func LoadConfig(path string) (*Config, error) {
	v := newViper()
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.ValidationError(fmt.Errorf("config: read %s: %w", path, err)).WithCode("CONFIG")
		}
	}
	return decode(v)
}

// LoadConfigFromReader reads config of the given type ("yaml", "json", ...).
func LoadConfigFromReader(r io.Reader, configType string) (*Config, error) {
	v := newViper()
	v.SetConfigType(configType)
	if err := v.ReadConfig(r); err != nil {
		return nil, errors.ValidationError(fmt.Errorf("config: read: %w", err)).WithCode("CONFIG")
	}
	return decode(v)
}

func decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errors.ValidationError(fmt.Errorf("config: decode: %w", err)).WithCode("CONFIG")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	switch strings.ToLower(c.Scheduler.Backend) {
	case "", BackendNative, BackendGocron:
	default:
		return errors.ValidationError(fmt.Errorf("config: unknown scheduler backend %q", c.Scheduler.Backend)).WithCode("CONFIG")
	}
	if _, err := c.Location(); err != nil {
		return err
	}
	for name, job := range c.Scheduler.Jobs {
		if strings.TrimSpace(job.Cron) == "" {
			return errors.ValidationError(fmt.Errorf("config: job %s has no cron expression", name)).WithCode("CONFIG")
		}
		if _, err := scheduler.ParseOverlapPolicy(job.Overlap); err != nil {
			return err
		}
	}
	return nil
}

// Location resolves scheduler.timezone; empty means UTC.
func (c *Config) Location() (*time.Location, error) {
	if c.Scheduler.Timezone == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(c.Scheduler.Timezone)
	if err != nil {
		return nil, errors.ValidationError(fmt.Errorf("config: timezone %q: %w", c.Scheduler.Timezone, err)).WithCode("CONFIG")
	}
	return loc, nil
}

// Job looks a job up by name. Names are case-insensitive.
func (c *Config) Job(name string) (JobConfig, bool) {
	job, ok := c.Scheduler.Jobs[strings.ToLower(name)]
	return job, ok
}
